// Package projectlad implements the Project Lad HTTP API business-data
// tool source (spec.md §1 "the 1C OData endpoint, the Project Lad HTTP
// API"), grounded on the teacher's tools/search.go request-building
// style and on the original implementation's
// src/mcp_tools/projectlad_tools.py tool surface (list_projects,
// get_project, get_project_works, get_milestones, get_indicators,
// get_indicator_analytics).
package projectlad

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/flowmind/orchestrator/internal/tool"
	"github.com/flowmind/orchestrator/internal/tool/httpapi"
)

// Source discovers the six Project Lad project-management tools against
// a single Project Lad HTTP API root.
type Source struct {
	client *httpapi.Client
}

func New(baseURL string, headers map[string]string) *Source {
	return &Source{client: httpapi.New(httpapi.Config{BaseURL: baseURL, Headers: headers})}
}

func (s *Source) Name() string { return "project-lad" }

func (s *Source) Discover(ctx context.Context) ([]tool.Tool, error) {
	return []tool.Tool{
		&listProjectsTool{client: s.client},
		&getProjectTool{client: s.client},
		&getProjectWorksTool{client: s.client},
		&getMilestonesTool{client: s.client},
		&getIndicatorsTool{client: s.client},
		&getIndicatorAnalyticsTool{client: s.client},
	}, nil
}

type listProjectsTool struct{ client *httpapi.Client }

func (t *listProjectsTool) Info() tool.Info {
	return tool.Info{
		Name:        "projectlad_list_projects",
		Description: "Get the list of available projects from Project Lad.",
		Repository:  "project-lad",
		Parameters: []tool.Parameter{
			{Name: "permission_filter", Type: "string", Description: "Optional permission filter"},
			{Name: "with_groups", Type: "boolean", Description: "Include project groups"},
		},
	}
}

func (t *listProjectsTool) Execute(ctx context.Context, args map[string]interface{}) (tool.Result, error) {
	q := url.Values{}
	if f, ok := args["permission_filter"].(string); ok && f != "" {
		q.Set("permission_filter", f)
	}
	if withGroups, ok := args["with_groups"].(bool); ok && withGroups {
		q.Set("with_groups", "true")
	}
	path := "/projects"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}

	var raw struct {
		Projects []map[string]interface{} `json:"projects"`
	}
	if err := t.client.Do(ctx, "GET", path, nil, &raw); err != nil {
		return tool.Result{}, fmt.Errorf("projectlad_list_projects: %w", err)
	}
	if len(raw.Projects) == 0 {
		return tool.Result{Content: "No projects found."}, nil
	}
	return tool.Result{
		Content:  fmt.Sprintf("Found %d project(s)", len(raw.Projects)),
		Metadata: map[string]interface{}{"projects": raw.Projects},
	}, nil
}

type getProjectTool struct{ client *httpapi.Client }

func (t *getProjectTool) Info() tool.Info {
	return tool.Info{
		Name:        "projectlad_get_project",
		Description: "Get project details by ID from Project Lad.",
		Repository:  "project-lad",
		Parameters: []tool.Parameter{
			{Name: "project_id", Type: "string", Description: "Project ID", Required: true},
		},
	}
}

func (t *getProjectTool) Execute(ctx context.Context, args map[string]interface{}) (tool.Result, error) {
	projectID, _ := args["project_id"].(string)
	if projectID == "" {
		return tool.Result{}, fmt.Errorf("projectlad_get_project: project_id is required")
	}

	var raw map[string]interface{}
	path := fmt.Sprintf("/projects/%s", url.PathEscape(projectID))
	if err := t.client.Do(ctx, "GET", path, nil, &raw); err != nil {
		return tool.Result{}, fmt.Errorf("projectlad_get_project: %w", err)
	}
	return tool.Result{Content: fmt.Sprintf("Project %s", projectID), Metadata: raw}, nil
}

type getProjectWorksTool struct{ client *httpapi.Client }

func (t *getProjectWorksTool) Info() tool.Info {
	return tool.Info{
		Name:        "projectlad_get_project_works",
		Description: "Get the list of works (items) for a project version from Project Lad.",
		Repository:  "project-lad",
		Parameters: []tool.Parameter{
			{Name: "project_id", Type: "string", Description: "Project ID", Required: true},
			{Name: "project_version_id", Type: "string", Description: "Project version ID (optional, uses latest if not provided)"},
		},
	}
}

func (t *getProjectWorksTool) Execute(ctx context.Context, args map[string]interface{}) (tool.Result, error) {
	projectID, _ := args["project_id"].(string)
	if projectID == "" {
		return tool.Result{}, fmt.Errorf("projectlad_get_project_works: project_id is required")
	}

	q := url.Values{}
	if v, ok := args["project_version_id"].(string); ok && v != "" {
		q.Set("project_version_id", v)
	}
	path := fmt.Sprintf("/projects/%s/works", url.PathEscape(projectID))
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}

	var raw struct {
		Works []map[string]interface{} `json:"works"`
	}
	if err := t.client.Do(ctx, "GET", path, nil, &raw); err != nil {
		return tool.Result{}, fmt.Errorf("projectlad_get_project_works: %w", err)
	}
	if len(raw.Works) == 0 {
		return tool.Result{Content: fmt.Sprintf("No works found for project %s.", projectID)}, nil
	}
	return tool.Result{
		Content:  fmt.Sprintf("Found %d work(s) for project %s", len(raw.Works), projectID),
		Metadata: map[string]interface{}{"works": raw.Works},
	}, nil
}

type getMilestonesTool struct{ client *httpapi.Client }

func (t *getMilestonesTool) Info() tool.Info {
	return tool.Info{
		Name:        "projectlad_get_milestones",
		Description: "Get milestones and their deadlines for a project from Project Lad.",
		Repository:  "project-lad",
		Parameters: []tool.Parameter{
			{Name: "project_id", Type: "string", Description: "Project ID", Required: true},
			{Name: "project_version_id", Type: "string", Description: "Project version ID (optional)"},
		},
	}
}

func (t *getMilestonesTool) Execute(ctx context.Context, args map[string]interface{}) (tool.Result, error) {
	projectID, _ := args["project_id"].(string)
	if projectID == "" {
		return tool.Result{}, fmt.Errorf("projectlad_get_milestones: project_id is required")
	}

	q := url.Values{}
	if v, ok := args["project_version_id"].(string); ok && v != "" {
		q.Set("project_version_id", v)
	}
	path := fmt.Sprintf("/projects/%s/milestones", url.PathEscape(projectID))
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}

	var raw struct {
		Milestones []map[string]interface{} `json:"milestones"`
	}
	if err := t.client.Do(ctx, "GET", path, nil, &raw); err != nil {
		return tool.Result{}, fmt.Errorf("projectlad_get_milestones: %w", err)
	}
	if len(raw.Milestones) == 0 {
		return tool.Result{Content: fmt.Sprintf("No milestones found for project %s.", projectID)}, nil
	}
	return tool.Result{
		Content:  fmt.Sprintf("Found %d milestone(s) for project %s", len(raw.Milestones), projectID),
		Metadata: map[string]interface{}{"milestones": raw.Milestones},
	}, nil
}

type getIndicatorsTool struct{ client *httpapi.Client }

func (t *getIndicatorsTool) Info() tool.Info {
	return tool.Info{
		Name:        "projectlad_get_indicators",
		Description: "Get indicator values for a project with period filtering from Project Lad.",
		Repository:  "project-lad",
		Parameters: []tool.Parameter{
			{Name: "project_id", Type: "string", Description: "Project ID", Required: true},
			{Name: "project_version_id", Type: "string", Description: "Project version ID (optional)"},
			{Name: "from_date", Type: "string", Description: "Start date (ISO 8601 format: YYYY-MM-DD)"},
			{Name: "to_date", Type: "string", Description: "End date (ISO 8601 format: YYYY-MM-DD)"},
		},
	}
}

func (t *getIndicatorsTool) Execute(ctx context.Context, args map[string]interface{}) (tool.Result, error) {
	projectID, _ := args["project_id"].(string)
	if projectID == "" {
		return tool.Result{}, fmt.Errorf("projectlad_get_indicators: project_id is required")
	}

	fromDate, _ := args["from_date"].(string)
	toDate, _ := args["to_date"].(string)
	if err := validateDateRange(fromDate, toDate); err != nil {
		return tool.Result{}, fmt.Errorf("projectlad_get_indicators: %w", err)
	}

	q := url.Values{}
	if v, ok := args["project_version_id"].(string); ok && v != "" {
		q.Set("project_version_id", v)
	}
	if fromDate != "" {
		q.Set("from_date", fromDate)
	}
	if toDate != "" {
		q.Set("to_date", toDate)
	}
	path := fmt.Sprintf("/projects/%s/indicators", url.PathEscape(projectID))
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}

	var raw struct {
		Indicators []map[string]interface{} `json:"indicators"`
	}
	if err := t.client.Do(ctx, "GET", path, nil, &raw); err != nil {
		return tool.Result{}, fmt.Errorf("projectlad_get_indicators: %w", err)
	}
	if len(raw.Indicators) == 0 {
		return tool.Result{Content: fmt.Sprintf("No indicators found for project %s.", projectID)}, nil
	}
	return tool.Result{
		Content:  fmt.Sprintf("Found %d indicator value(s) for project %s", len(raw.Indicators), projectID),
		Metadata: map[string]interface{}{"indicators": raw.Indicators},
	}, nil
}

type getIndicatorAnalyticsTool struct{ client *httpapi.Client }

func (t *getIndicatorAnalyticsTool) Info() tool.Info {
	return tool.Info{
		Name:        "projectlad_get_indicator_analytics",
		Description: "Get indicator analytics with various data slices by period from Project Lad.",
		Repository:  "project-lad",
		Parameters: []tool.Parameter{
			{Name: "project_id", Type: "string", Description: "Project ID", Required: true},
			{Name: "from_date", Type: "string", Description: "Start date (ISO 8601 format: YYYY-MM-DD)", Required: true},
			{Name: "to_date", Type: "string", Description: "End date (ISO 8601 format: YYYY-MM-DD)", Required: true},
			{Name: "project_version_id", Type: "string", Description: "Project version ID (optional)"},
		},
	}
}

func (t *getIndicatorAnalyticsTool) Execute(ctx context.Context, args map[string]interface{}) (tool.Result, error) {
	projectID, _ := args["project_id"].(string)
	fromDate, _ := args["from_date"].(string)
	toDate, _ := args["to_date"].(string)
	if projectID == "" || fromDate == "" || toDate == "" {
		return tool.Result{}, fmt.Errorf("projectlad_get_indicator_analytics: project_id, from_date and to_date are required")
	}
	if err := validateDateRange(fromDate, toDate); err != nil {
		return tool.Result{}, fmt.Errorf("projectlad_get_indicator_analytics: %w", err)
	}

	q := url.Values{"from_date": {fromDate}, "to_date": {toDate}}
	if v, ok := args["project_version_id"].(string); ok && v != "" {
		q.Set("project_version_id", v)
	}
	path := fmt.Sprintf("/projects/%s/indicator-analytics?%s", url.PathEscape(projectID), q.Encode())

	var raw map[string]interface{}
	if err := t.client.Do(ctx, "GET", path, nil, &raw); err != nil {
		return tool.Result{}, fmt.Errorf("projectlad_get_indicator_analytics: %w", err)
	}
	return tool.Result{
		Content:  fmt.Sprintf("Indicator analytics for project %s (%s to %s)", projectID, fromDate, toDate),
		Metadata: raw,
	}, nil
}

func validateDateRange(fromDate, toDate string) error {
	if fromDate != "" {
		if _, err := time.Parse("2006-01-02", fromDate); err != nil {
			return fmt.Errorf("invalid from_date %q, use YYYY-MM-DD: %w", fromDate, err)
		}
	}
	if toDate != "" {
		if _, err := time.Parse("2006-01-02", toDate); err != nil {
			return fmt.Errorf("invalid to_date %q, use YYYY-MM-DD: %w", toDate, err)
		}
	}
	return nil
}
