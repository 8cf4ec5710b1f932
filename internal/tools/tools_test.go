package tools_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fivetwenty-io/firefly-mcp/internal/tools"
	"github.com/fivetwenty-io/firefly-mcp/pkg/firefly"
	"github.com/fivetwenty-io/firefly-mcp/pkg/fireflyclient"
)

// MockGateway is a mock implementation of tools.Gateway.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Execute(ctx context.Context, resource, action string, params map[string]any) (*firefly.Result, error) {
	args := m.Called(ctx, resource, action, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*firefly.Result), args.Error(1)
}

func (m *MockGateway) ExecuteBatch(
	ctx context.Context, operations []firefly.BatchOperation, options firefly.BatchOptions,
) (*firefly.BatchResponse, error) {
	args := m.Called(ctx, operations, options)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*firefly.BatchResponse), args.Error(1)
}

func (m *MockGateway) Search(ctx context.Context, query firefly.SearchQuery) (*firefly.SearchResult, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*firefly.SearchResult), args.Error(1)
}

func (m *MockGateway) TestConnection(ctx context.Context) (json.RawMessage, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(json.RawMessage), args.Error(1)
}

func (m *MockGateway) ClearCache(ctx context.Context, category string) error {
	return m.Called(ctx, category).Error(0)
}

func (m *MockGateway) Stats() fireflyclient.Stats {
	return m.Called().Get(0).(fireflyclient.Stats)
}

func findTool(t *testing.T, toolset *tools.Toolset, name string) server.ServerTool {
	t.Helper()

	for _, tool := range toolset.Tools() {
		if tool.Tool.Name == name {
			return tool
		}
	}

	require.FailNow(t, "tool not registered", name)

	return server.ServerTool{}
}

func call(t *testing.T, toolset *tools.Toolset, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()

	request := mcp.CallToolRequest{}
	request.Params.Name = name
	request.Params.Arguments = args

	result, err := findTool(t, toolset, name).Handler(context.Background(), request)
	require.NoError(t, err)
	require.NotNil(t, result)

	return result
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()

	require.Len(t, result.Content, 1)

	content, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")

	return content.Text
}

func errorDescriptor(t *testing.T, result *mcp.CallToolResult) firefly.Error {
	t.Helper()

	require.True(t, result.IsError)

	var descriptor firefly.Error
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &descriptor))

	return descriptor
}

func TestToolset_Tools(t *testing.T) {
	t.Parallel()

	toolset := tools.New(&MockGateway{}, nil, nil)

	names := make(map[string]mcp.Tool)
	for _, tool := range toolset.Tools() {
		names[tool.Tool.Name] = tool.Tool
	}

	for _, name := range firefly.DefaultRegistry().Names() {
		assert.Contains(t, names, name)
	}

	for _, name := range []string{"batch_operations", "search", "health_check", "test_connection", "gateway_stats", "clear_cache"} {
		assert.Contains(t, names, name)
	}

	accounts := names["accounts"]
	assert.Contains(t, accounts.InputSchema.Required, "action")
	assert.Contains(t, accounts.InputSchema.Properties, "id")
	assert.Contains(t, accounts.InputSchema.Properties, "all_pages")
	assert.Contains(t, names["batch_operations"].InputSchema.Required, "operations")

	insight := names["insight"]
	assert.ElementsMatch(t, []string{"action", "path"}, insight.InputSchema.Required)
	assert.NotContains(t, insight.InputSchema.Properties, "id")

	action, ok := insight.InputSchema.Properties["action"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{"get"}, action["enum"])

	about := names["about"]
	assert.Contains(t, about.InputSchema.Properties, "path")
	assert.NotContains(t, about.InputSchema.Required, "path")
}

func TestToolset_Resource(t *testing.T) {
	t.Parallel()

	t.Run("merges params under top-level arguments", func(t *testing.T) {
		t.Parallel()

		gateway := &MockGateway{}
		gateway.On("Execute", mock.Anything, "accounts", "list", map[string]any{
			"type":  "asset",
			"limit": float64(10),
			"page":  float64(2),
		}).Return(&firefly.Result{Data: json.RawMessage(`{"items":[],"count":0,"has_more":false}`)}, nil)

		result := call(t, tools.New(gateway, nil, nil), "accounts", map[string]any{
			"action": "list",
			"page":   float64(2),
			"limit":  float64(10),
			"params": map[string]any{"type": "asset", "limit": float64(50)},
		})

		assert.False(t, result.IsError)
		assert.JSONEq(t, `{"items":[],"count":0,"has_more":false}`, resultText(t, result))
		gateway.AssertExpectations(t)
	})

	t.Run("params must be an object", func(t *testing.T) {
		t.Parallel()

		gateway := &MockGateway{}

		result := call(t, tools.New(gateway, nil, nil), "accounts", map[string]any{
			"action": "create",
			"params": "name=Checking",
		})

		descriptor := errorDescriptor(t, result)
		assert.Equal(t, firefly.KindValidation, descriptor.Kind)
		gateway.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("gateway errors become descriptors", func(t *testing.T) {
		t.Parallel()

		gateway := &MockGateway{}
		gateway.On("Execute", mock.Anything, "bills", "get", map[string]any{"id": "9"}).
			Return(nil, firefly.NewError(firefly.KindNotFound, "Resource not found", http.StatusNotFound))

		result := call(t, tools.New(gateway, nil, nil), "bills", map[string]any{"action": "get", "id": "9"})

		descriptor := errorDescriptor(t, result)
		assert.Equal(t, firefly.KindNotFound, descriptor.Kind)
		assert.Equal(t, http.StatusNotFound, descriptor.Status)
		assert.Equal(t, "Resource not found", descriptor.Message)
	})
}

//nolint:funlen // Test functions can be longer for comprehensive testing
func TestToolset_Batch(t *testing.T) {
	t.Parallel()

	t.Run("decodes operations and options", func(t *testing.T) {
		t.Parallel()

		operations := []firefly.BatchOperation{
			{ID: "a", Resource: "accounts", Action: "get", Params: map[string]any{"id": "1"}},
			{Resource: "tags", Action: "list"},
		}

		response := &firefly.BatchResponse{Results: []firefly.BatchResult{
			{Index: 0, ID: "a", Success: true, Data: json.RawMessage(`{"id":"1"}`)},
			{Index: 1, ID: "1", Error: firefly.NewError(firefly.KindSkipped, "skipped", 0)},
		}}

		gateway := &MockGateway{}
		gateway.On("ExecuteBatch", mock.Anything, operations, firefly.BatchOptions{ContinueOnError: false}).
			Return(response, nil)

		result := call(t, tools.New(gateway, nil, nil), "batch_operations", map[string]any{
			"operations": []any{
				map[string]any{"id": "a", "resource": "accounts", "action": "get", "params": map[string]any{"id": "1"}},
				map[string]any{"resource": "tags", "action": "list"},
			},
			"continue_on_error": false,
		})

		require.False(t, result.IsError)

		var body struct {
			Results []firefly.BatchResult `json:"results"`
			Summary firefly.BatchSummary  `json:"summary"`
		}
		require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &body))
		assert.Len(t, body.Results, 2)
		assert.Equal(t, firefly.BatchSummary{Total: 2, Succeeded: 1, Skipped: 1}, body.Summary)
		gateway.AssertExpectations(t)
	})

	t.Run("continue on error defaults to true", func(t *testing.T) {
		t.Parallel()

		gateway := &MockGateway{}
		gateway.On("ExecuteBatch", mock.Anything, mock.Anything, firefly.DefaultBatchOptions()).
			Return(&firefly.BatchResponse{}, nil)

		result := call(t, tools.New(gateway, nil, nil), "batch_operations", map[string]any{
			"operations": []any{map[string]any{"resource": "tags", "action": "list"}},
		})

		assert.False(t, result.IsError)
		gateway.AssertExpectations(t)
	})

	t.Run("rejects malformed arguments", func(t *testing.T) {
		t.Parallel()

		gateway := &MockGateway{}
		toolset := tools.New(gateway, nil, nil)

		result := call(t, toolset, "batch_operations", map[string]any{"operations": "all"})
		assert.Equal(t, firefly.KindValidation, errorDescriptor(t, result).Kind)

		result = call(t, toolset, "batch_operations", map[string]any{
			"operations":        []any{},
			"continue_on_error": "yes",
		})
		assert.Equal(t, firefly.KindValidation, errorDescriptor(t, result).Kind)

		gateway.AssertNotCalled(t, "ExecuteBatch", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestToolset_Search(t *testing.T) {
	t.Parallel()

	minimum := 10.0
	query := firefly.SearchQuery{
		Query:     "groceries",
		Resources: []string{"transactions"},
		AmountMin: &minimum,
		Tags:      []string{"food"},
		Limit:     5,
	}

	gateway := &MockGateway{}
	gateway.On("Search", mock.Anything, query).Return(&firefly.SearchResult{
		Query:   "groceries",
		Results: map[string][]json.RawMessage{"transactions": {json.RawMessage(`{"id":"7"}`)}},
		Counts:  map[string]int{"transactions": 1},
		Total:   1,
	}, nil)

	result := call(t, tools.New(gateway, nil, nil), "search", map[string]any{
		"query":      "groceries",
		"resources":  []any{"transactions"},
		"amount_min": float64(10),
		"tags":       []any{"food"},
		"limit":      float64(5),
	})

	require.False(t, result.IsError)
	assert.JSONEq(t, `{"query":"groceries","results":{"transactions":[{"id":"7"}]},"counts":{"transactions":1},"total":1}`,
		resultText(t, result))
	gateway.AssertExpectations(t)
}

func TestToolset_Maintenance(t *testing.T) {
	t.Parallel()

	t.Run("health check", func(t *testing.T) {
		t.Parallel()

		result := call(t, tools.New(&MockGateway{}, nil, nil), "health_check", nil)
		assert.JSONEq(t, `{"status":"ok","service":"firefly-mcp"}`, resultText(t, result))
	})

	t.Run("clear cache", func(t *testing.T) {
		t.Parallel()

		gateway := &MockGateway{}
		gateway.On("ClearCache", mock.Anything, "").Return(nil)
		gateway.On("ClearCache", mock.Anything, "tags").Return(nil)
		gateway.On("ClearCache", mock.Anything, "nope").
			Return(firefly.NewError(firefly.KindValidation, `unknown resource category "nope"`, 0))

		toolset := tools.New(gateway, nil, nil)

		assert.JSONEq(t, `{"success":true,"cleared":"all"}`, resultText(t, call(t, toolset, "clear_cache", nil)))
		assert.JSONEq(t, `{"success":true,"cleared":"tags"}`,
			resultText(t, call(t, toolset, "clear_cache", map[string]any{"category": "tags"})))
		assert.Equal(t, firefly.KindValidation,
			errorDescriptor(t, call(t, toolset, "clear_cache", map[string]any{"category": "nope"})).Kind)
	})

	t.Run("stats", func(t *testing.T) {
		t.Parallel()

		gateway := &MockGateway{}
		gateway.On("Stats").Return(fireflyclient.Stats{CacheBackend: string(firefly.CacheTypeMemory), HitRate: 0.5})

		var stats fireflyclient.Stats
		require.NoError(t, json.Unmarshal([]byte(resultText(t, call(t, tools.New(gateway, nil, nil), "gateway_stats", nil))), &stats))
		assert.Equal(t, "memory", stats.CacheBackend)
		assert.InDelta(t, 0.5, stats.HitRate, 0.0001)
	})
}

func TestToolset_AgainstServer(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")

		switch request.URL.Path {
		case "/api/v1/about":
			_, _ = writer.Write([]byte(`{"data":{"version":"6.1.0"}}`))
		case "/api/v1/tags/4":
			_, _ = writer.Write([]byte(`{"data":{"type":"tags","id":"4","attributes":{"tag":"food"}}}`))
		default:
			writer.WriteHeader(http.StatusNotFound)
			_, _ = writer.Write([]byte(`{"message":"Resource not found"}`))
		}
	}))
	t.Cleanup(backend.Close)

	client, err := fireflyclient.New(context.Background(), &fireflyclient.Config{
		BaseURL:       backend.URL,
		Token:         "pat-test",
		AllowInsecure: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	toolset := tools.New(client, client.Router().Registry(), nil)

	assert.JSONEq(t, `{"version":"6.1.0"}`, resultText(t, call(t, toolset, "test_connection", nil)))

	result := call(t, toolset, "tags", map[string]any{"action": "get", "id": float64(4)})
	require.False(t, result.IsError)
	assert.JSONEq(t, `{"type":"tags","id":"4","attributes":{"tag":"food"}}`, resultText(t, result))

	result = call(t, toolset, "tags", map[string]any{"action": "get", "id": "5"})
	assert.Equal(t, firefly.KindNotFound, errorDescriptor(t, result).Kind)

	result = call(t, toolset, "tags", map[string]any{"action": "archive"})
	assert.Equal(t, firefly.KindInvalidAction, errorDescriptor(t, result).Kind)

	assert.NotNil(t, toolset.NewServer("test"))
}
