package tool

import "github.com/flowmind/orchestrator/internal/llm"

// Definitions converts catalog entries into the JSON Schema shape the LLM
// Gateway sends to a provider as tool definitions.
func Definitions(infos []Info) []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(infos))
	for _, info := range infos {
		properties := make(map[string]interface{}, len(info.Parameters))
		var required []string
		for _, p := range info.Parameters {
			properties[p.Name] = map[string]interface{}{"type": p.Type, "description": p.Description}
			if p.Required {
				required = append(required, p.Name)
			}
		}
		schema := map[string]interface{}{"type": "object", "properties": properties}
		if len(required) > 0 {
			schema["required"] = required
		}
		defs = append(defs, llm.ToolDefinition{Name: info.Name, Description: info.Description, Parameters: schema})
	}
	return defs
}
