// Package tools exposes the gateway as MCP tools: one tool per Firefly III
// resource category plus batch, search and maintenance tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/fivetwenty-io/firefly-mcp/internal/constants"
	"github.com/fivetwenty-io/firefly-mcp/pkg/firefly"
	"github.com/fivetwenty-io/firefly-mcp/pkg/fireflyclient"
)

// Gateway is the subset of the gateway client the tools call.
type Gateway interface {
	Execute(ctx context.Context, resource, action string, params map[string]any) (*firefly.Result, error)
	ExecuteBatch(ctx context.Context, operations []firefly.BatchOperation, options firefly.BatchOptions) (*firefly.BatchResponse, error)
	Search(ctx context.Context, query firefly.SearchQuery) (*firefly.SearchResult, error)
	TestConnection(ctx context.Context) (json.RawMessage, error)
	ClearCache(ctx context.Context, category string) error
	Stats() fireflyclient.Stats
}

// Toolset builds the MCP tools for a gateway.
type Toolset struct {
	gateway  Gateway
	registry *firefly.Registry
	logger   firefly.Logger
}

// New creates a toolset. A nil registry uses the default categories.
func New(gateway Gateway, registry *firefly.Registry, logger firefly.Logger) *Toolset {
	if registry == nil {
		registry = firefly.DefaultRegistry()
	}

	if logger == nil {
		logger = firefly.NopLogger()
	}

	return &Toolset{gateway: gateway, registry: registry, logger: logger}
}

// NewServer creates an MCP server with every tool registered.
func (t *Toolset) NewServer(version string) *server.MCPServer {
	mcpServer := server.NewMCPServer(constants.ServiceName, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	mcpServer.AddTools(t.Tools()...)

	return mcpServer
}

// Tools returns every tool with its handler.
func (t *Toolset) Tools() []server.ServerTool {
	resources := t.registry.All()
	tools := make([]server.ServerTool, 0, len(resources)+6)

	for _, resource := range resources {
		tools = append(tools, server.ServerTool{Tool: resourceTool(resource), Handler: t.handleResource(resource.Name)})
	}

	return append(tools,
		server.ServerTool{Tool: batchTool(), Handler: t.handleBatch},
		server.ServerTool{Tool: searchTool(), Handler: t.handleSearch},
		server.ServerTool{Tool: healthCheckTool(), Handler: t.handleHealthCheck},
		server.ServerTool{Tool: testConnectionTool(), Handler: t.handleTestConnection},
		server.ServerTool{Tool: statsTool(), Handler: t.handleStats},
		server.ServerTool{Tool: clearCacheTool(t.registry.Names()), Handler: t.handleClearCache},
	)
}

func actionNames(resource *firefly.Resource) []string {
	return actionKindNames(resource.Actions())
}

func actionKindNames(actions []firefly.ActionKind) []string {
	names := make([]string, 0, len(actions))

	for _, action := range actions {
		names = append(names, string(action))
	}

	return names
}

func resourceTool(resource *firefly.Resource) mcp.Tool {
	if resource.Report != nil {
		return reportTool(resource)
	}

	description := fmt.Sprintf("%s. Actions: get, list, create, update, delete on %s. "+
		"get/update/delete need id; list accepts page, limit and all_pages; "+
		"any other field is sent as a query parameter (get, list) or in the request body (create, update).",
		resource.Description, resource.Path)

	return mcp.NewTool(resource.Name,
		mcp.WithDescription(description),
		mcp.WithString(argAction, mcp.Required(), mcp.Enum(actionNames(resource)...),
			mcp.Description("Action to perform")),
		mcp.WithString(firefly.ParamID, mcp.Description("Instance id for get, update and delete")),
		mcp.WithNumber(firefly.ParamPage, mcp.Description("Page number for list, starting at 1")),
		mcp.WithNumber(firefly.ParamLimit, mcp.Description("Page size for list (1-500)")),
		mcp.WithBoolean(firefly.ParamAllPages, mcp.Description("Fetch every page for list")),
		mcp.WithObject(argParams, mcp.Description("Additional fields for the request")),
	)
}

func reportTool(resource *firefly.Resource) mcp.Tool {
	description := fmt.Sprintf("%s. Read-only report under %s: the only action is get; "+
		"any other field is sent as a query parameter.", resource.Description, resource.Path)

	pathOptions := []mcp.PropertyOption{mcp.Description("Report below " + resource.Path + ", e.g. expense/total")}
	if resource.Report.PathRequired {
		pathOptions = append(pathOptions, mcp.Required())
	}

	return mcp.NewTool(resource.Name,
		mcp.WithDescription(description),
		mcp.WithString(argAction, mcp.Required(), mcp.Enum(actionNames(resource)...),
			mcp.Description("Action to perform")),
		mcp.WithString(firefly.ParamPath, pathOptions...),
		mcp.WithObject(argParams, mcp.Description("Additional query parameters, e.g. start and end dates")),
	)
}

func batchTool() mcp.Tool {
	return mcp.NewTool("batch_operations",
		mcp.WithDescription(fmt.Sprintf("Run up to %d resource operations in order. Each operation is "+
			"{resource, action, params, id?}; one result is returned per operation.", constants.MaxBatchOperations)),
		mcp.WithArray(argOperations, mcp.Required(),
			mcp.Description("Operations to run in order"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":       map[string]any{"type": "string"},
					"resource": map[string]any{"type": "string"},
					"action":   map[string]any{"type": "string", "enum": actionKindNames(firefly.AllActions())},
					"params":   map[string]any{"type": "object"},
				},
				"required": []string{"resource", "action"},
			})),
		mcp.WithBoolean(argContinueOnError,
			mcp.Description("Keep going after a failed operation (default true); when false later operations are skipped")),
	)
}

func searchTool() mcp.Tool {
	return mcp.NewTool("search",
		mcp.WithDescription("Search across resource categories. Results are grouped by category; "+
			"a failing category is reported under errors without hiding the others."),
		mcp.WithString("query", mcp.Description("Free-text query")),
		mcp.WithArray("resources", mcp.Description("Categories to search: "+strings.Join(firefly.SearchableResources(), ", ")),
			mcp.WithStringItems()),
		mcp.WithString("date_from", mcp.Description("Transactions on or after this date (YYYY-MM-DD)")),
		mcp.WithString("date_to", mcp.Description("Transactions on or before this date (YYYY-MM-DD)")),
		mcp.WithNumber("amount_min", mcp.Description("Minimum transaction amount")),
		mcp.WithNumber("amount_max", mcp.Description("Maximum transaction amount")),
		mcp.WithArray("tags", mcp.Description("Transaction tags"), mcp.WithStringItems()),
		mcp.WithArray("categories", mcp.Description("Transaction categories"), mcp.WithStringItems()),
		mcp.WithArray("accounts", mcp.Description("Transaction accounts"), mcp.WithStringItems()),
		mcp.WithNumber("limit", mcp.Description("Maximum results per category")),
	)
}

func healthCheckTool() mcp.Tool {
	return mcp.NewTool("health_check", mcp.WithDescription("Report that the gateway is running"))
}

func testConnectionTool() mcp.Tool {
	return mcp.NewTool("test_connection",
		mcp.WithDescription("Check the Firefly III URL and token by calling /api/v1/about"))
}

func statsTool() mcp.Tool {
	return mcp.NewTool("gateway_stats", mcp.WithDescription("Cache statistics and per-endpoint request metrics"))
}

func clearCacheTool(categories []string) mcp.Tool {
	return mcp.NewTool("clear_cache",
		mcp.WithDescription("Invalidate cached reads for one category, or for all categories when none is given"),
		mcp.WithString(argCategory, mcp.Enum(categories...), mcp.Description("Category to invalidate")),
	)
}

func (t *Toolset) handleResource(resource string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		action, params, err := resourceCall(request.GetArguments())
		if err != nil {
			return t.errorResult(ctx, resource, err), nil
		}

		result, err := t.gateway.Execute(ctx, resource, action, params)
		if err != nil {
			return t.errorResult(ctx, resource, err), nil
		}

		return textResult(result.Data), nil
	}
}

func (t *Toolset) handleBatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	operations, options, err := batchCall(request.GetArguments())
	if err != nil {
		return t.errorResult(ctx, "batch_operations", err), nil
	}

	response, err := t.gateway.ExecuteBatch(ctx, operations, options)
	if err != nil {
		return t.errorResult(ctx, "batch_operations", err), nil
	}

	return jsonResult(map[string]any{
		"results": response.Results,
		"summary": response.Summary(),
	})
}

func (t *Toolset) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := searchCall(request.GetArguments())
	if err != nil {
		return t.errorResult(ctx, "search", err), nil
	}

	result, err := t.gateway.Search(ctx, query)
	if err != nil {
		return t.errorResult(ctx, "search", err), nil
	}

	return jsonResult(result)
}

func (t *Toolset) handleHealthCheck(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]string{"status": "ok", "service": constants.ServiceName})
}

func (t *Toolset) handleTestConnection(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := t.gateway.TestConnection(ctx)
	if err != nil {
		return t.errorResult(ctx, "test_connection", err), nil
	}

	return textResult(data), nil
}

func (t *Toolset) handleStats(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(t.gateway.Stats())
}

func (t *Toolset) handleClearCache(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	category, _ := request.GetArguments()[argCategory].(string)

	err := t.gateway.ClearCache(ctx, category)
	if err != nil {
		return t.errorResult(ctx, "clear_cache", err), nil
	}

	cleared := category
	if cleared == "" {
		cleared = "all"
	}

	return jsonResult(map[string]any{"success": true, "cleared": cleared})
}

// errorResult reports err as an IsError tool result carrying the error
// descriptor.
func (t *Toolset) errorResult(ctx context.Context, tool string, err error) *mcp.CallToolResult {
	descriptor := firefly.AsError(err)

	firefly.LoggerWithContext(ctx, t.logger).Warn("Tool call failed", map[string]interface{}{
		"tool":       tool,
		"error_kind": string(descriptor.Kind),
		"status":     descriptor.Status,
	})

	encoded, marshalErr := json.Marshal(descriptor)
	if marshalErr != nil {
		return mcp.NewToolResultError(descriptor.Message)
	}

	return mcp.NewToolResultError(string(encoded))
}

func textResult(data json.RawMessage) *mcp.CallToolResult {
	return mcp.NewToolResultText(string(data))
}

func jsonResult(value any) (*mcp.CallToolResult, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encoding tool result: %w", err)
	}

	return mcp.NewToolResultText(string(encoded)), nil
}
