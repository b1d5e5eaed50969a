// Package bizdata implements the 1C OData business-data tool source,
// grounded on the teacher's tools/search.go request-building style.
package bizdata

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/flowmind/orchestrator/internal/tool"
	"github.com/flowmind/orchestrator/internal/tool/httpapi"
)

// Source discovers the business-data query tool against a single 1C
// OData service root.
type Source struct {
	client *httpapi.Client
}

func New(baseURL string, headers map[string]string) *Source {
	return &Source{client: httpapi.New(httpapi.Config{BaseURL: baseURL, Headers: headers})}
}

func (s *Source) Name() string { return "business-data" }

func (s *Source) Discover(ctx context.Context) ([]tool.Tool, error) {
	return []tool.Tool{
		&queryTool{client: s.client},
		&entityTool{client: s.client},
	}, nil
}

// queryTool runs a filtered OData query against a named entity set.
type queryTool struct {
	client *httpapi.Client
}

func (t *queryTool) Info() tool.Info {
	return tool.Info{
		Name:        "bizdata_query",
		Description: "Query a 1C OData entity set with an optional $filter and $top.",
		Repository:  "business-data",
		Parameters: []tool.Parameter{
			{Name: "entity_set", Type: "string", Description: "OData entity set name, e.g. Catalog_Контрагенты", Required: true},
			{Name: "filter", Type: "string", Description: "OData $filter expression"},
			{Name: "top", Type: "integer", Description: "Max rows to return"},
		},
	}
}

func (t *queryTool) Execute(ctx context.Context, args map[string]interface{}) (tool.Result, error) {
	entitySet, _ := args["entity_set"].(string)
	if entitySet == "" {
		return tool.Result{}, fmt.Errorf("bizdata_query: entity_set is required")
	}

	q := url.Values{}
	if filter, ok := args["filter"].(string); ok && filter != "" {
		q.Set("$filter", filter)
	}
	if top, ok := args["top"]; ok {
		q.Set("$top", fmt.Sprintf("%v", top))
	}
	q.Set("$format", "json")

	path := "/" + strings.TrimPrefix(entitySet, "/")
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}

	var raw struct {
		Value []map[string]interface{} `json:"value"`
	}
	if err := t.client.Do(ctx, "GET", path, nil, &raw); err != nil {
		return tool.Result{}, fmt.Errorf("bizdata_query: %w", err)
	}

	return tool.Result{
		Content:  fmt.Sprintf("%d row(s) returned from %s", len(raw.Value), entitySet),
		Metadata: map[string]interface{}{"rows": raw.Value},
	}, nil
}

// entityTool fetches a single entity by key.
type entityTool struct {
	client *httpapi.Client
}

func (t *entityTool) Info() tool.Info {
	return tool.Info{
		Name:        "bizdata_get_entity",
		Description: "Fetch a single 1C OData entity by its GUID key.",
		Repository:  "business-data",
		Parameters: []tool.Parameter{
			{Name: "entity_set", Type: "string", Required: true},
			{Name: "key", Type: "string", Required: true},
		},
	}
}

func (t *entityTool) Execute(ctx context.Context, args map[string]interface{}) (tool.Result, error) {
	entitySet, _ := args["entity_set"].(string)
	key, _ := args["key"].(string)
	if entitySet == "" || key == "" {
		return tool.Result{}, fmt.Errorf("bizdata_get_entity: entity_set and key are required")
	}

	path := fmt.Sprintf("/%s(guid'%s')?$format=json", strings.TrimPrefix(entitySet, "/"), key)
	var raw map[string]interface{}
	if err := t.client.Do(ctx, "GET", path, nil, &raw); err != nil {
		return tool.Result{}, fmt.Errorf("bizdata_get_entity: %w", err)
	}
	return tool.Result{Content: fmt.Sprintf("%v", raw), Metadata: raw}, nil
}
