// Package workspace implements the Google Workspace tool source (Gmail,
// Calendar, Drive, Docs, Sheets, Slides read/write tools named in
// SPEC_FULL.md's C1 domain stack), grounded on the teacher's
// tools/local.go tool-construction pattern.
package workspace

import (
	"context"
	"fmt"

	"github.com/flowmind/orchestrator/internal/tool"
	"github.com/flowmind/orchestrator/internal/tool/httpapi"
)

// Source discovers the Google Workspace tool set against a single
// backend base URL (a thin API gateway; no vendor SDK per the Non-goals
// boundary — see DESIGN.md).
type Source struct {
	client *httpapi.Client
}

// New builds a Source talking to the workspace API gateway at baseURL.
func New(baseURL string, headers map[string]string) *Source {
	return &Source{client: httpapi.New(httpapi.Config{BaseURL: baseURL, Headers: headers})}
}

func (s *Source) Name() string { return "google-workspace" }

func (s *Source) Discover(ctx context.Context) ([]tool.Tool, error) {
	return []tool.Tool{
		&apiTool{client: s.client, repository: s.Name(), path: "/gmail/search", info: tool.Info{
			Name: "gmail_search", Description: "Search the user's Gmail messages by query.",
			Parameters: []tool.Parameter{
				{Name: "query", Type: "string", Description: "Gmail search query", Required: true},
				{Name: "max_results", Type: "integer", Description: "Maximum messages to return"},
			},
		}},
		&apiTool{client: s.client, repository: s.Name(), path: "/gmail/send", info: tool.Info{
			Name: "gmail_send", Description: "Send an email on behalf of the user.",
			RequiresApproval: true,
			Parameters: []tool.Parameter{
				{Name: "to", Type: "string", Description: "Recipient address", Required: true},
				{Name: "subject", Type: "string", Description: "Subject line", Required: true},
				{Name: "body", Type: "string", Description: "Message body", Required: true},
			},
		}},
		&apiTool{client: s.client, repository: s.Name(), path: "/calendar/events", info: tool.Info{
			Name: "calendar_list_events", Description: "List upcoming calendar events.",
			Parameters: []tool.Parameter{
				{Name: "start", Type: "string", Description: "RFC3339 range start"},
				{Name: "end", Type: "string", Description: "RFC3339 range end"},
			},
		}},
		&apiTool{client: s.client, repository: s.Name(), path: "/calendar/events/create", info: tool.Info{
			Name: "calendar_create_event", Description: "Create a new calendar event.",
			RequiresApproval: true,
			Parameters: []tool.Parameter{
				{Name: "title", Type: "string", Required: true},
				{Name: "start", Type: "string", Required: true},
				{Name: "end", Type: "string", Required: true},
				{Name: "attendees", Type: "array"},
			},
		}},
		&apiTool{client: s.client, repository: s.Name(), path: "/drive/search", info: tool.Info{
			Name: "drive_search", Description: "Search Drive files by name or content.",
			Parameters: []tool.Parameter{
				{Name: "query", Type: "string", Required: true},
			},
		}},
		&apiTool{client: s.client, repository: s.Name(), path: "/docs/append", info: tool.Info{
			Name: "docs_append", Description: "Append text to a Google Doc.",
			RequiresApproval: true,
			Parameters: []tool.Parameter{
				{Name: "document_id", Type: "string", Required: true},
				{Name: "text", Type: "string", Required: true},
			},
		}},
		&apiTool{client: s.client, repository: s.Name(), path: "/sheets/append_row", info: tool.Info{
			Name: "sheets_append_row", Description: "Append a row to a Google Sheet.",
			RequiresApproval: true,
			Parameters: []tool.Parameter{
				{Name: "spreadsheet_id", Type: "string", Required: true},
				{Name: "range", Type: "string", Required: true},
				{Name: "values", Type: "array", Required: true},
			},
		}},
		&apiTool{client: s.client, repository: s.Name(), path: "/slides/add_slide", info: tool.Info{
			Name: "slides_add_slide", Description: "Append a slide to a Google Slides presentation.",
			RequiresApproval: true,
			Parameters: []tool.Parameter{
				{Name: "presentation_id", Type: "string", Required: true},
				{Name: "title", Type: "string", Required: true},
				{Name: "body", Type: "string"},
			},
		}},
	}, nil
}

// apiTool is a generic HTTP-backed tool: POST args to path, decode the
// JSON response as the result content.
type apiTool struct {
	client     *httpapi.Client
	repository string
	path       string
	info       tool.Info
}

func (t *apiTool) Info() tool.Info { return t.info }

func (t *apiTool) Execute(ctx context.Context, args map[string]interface{}) (tool.Result, error) {
	var raw map[string]interface{}
	if err := t.client.Do(ctx, "POST", t.path, args, &raw); err != nil {
		return tool.Result{}, fmt.Errorf("workspace: %s: %w", t.info.Name, err)
	}
	content, _ := raw["summary"].(string)
	if content == "" {
		content = fmt.Sprintf("%v", raw)
	}
	return tool.Result{Content: content, Metadata: raw}, nil
}
