package firefly_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fivetwenty-io/firefly-mcp/pkg/firefly"
)

func newTestRouter(doer firefly.Doer, opts ...firefly.RouterOption) *firefly.Router {
	cache := firefly.NewCacheManager(firefly.NewMemoryCache(100), nil)

	return firefly.NewRouter(doer, firefly.DefaultRegistry(), cache, opts...)
}

//nolint:funlen // Test functions can be longer for comprehensive testing
func TestRouter_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		resource string
		action   string
		params   map[string]any
		kind     firefly.ErrorKind
	}{
		{name: "unknown action", resource: "accounts", action: "archive", kind: firefly.KindInvalidAction},
		{name: "unknown resource", resource: "wallets", action: "list", kind: firefly.KindValidation},
		{name: "get without id", resource: "accounts", action: "get", kind: firefly.KindValidation},
		{name: "delete without id", resource: "tags", action: "delete", params: map[string]any{"tag": "x"}, kind: firefly.KindValidation},
		{name: "bad limit", resource: "accounts", action: "list", params: map[string]any{"limit": 0}, kind: firefly.KindValidation},
		{name: "dot id", resource: "accounts", action: "get", params: map[string]any{"id": "."}, kind: firefly.KindValidation},
		{name: "parent id on delete", resource: "accounts", action: "delete", params: map[string]any{"id": ".."}, kind: firefly.KindValidation},
		{name: "parent id on update", resource: "tags", action: "update", params: map[string]any{"id": " .. ", "tag": "x"}, kind: firefly.KindValidation},
		{name: "backslash id", resource: "accounts", action: "delete", params: map[string]any{"id": `..\x`}, kind: firefly.KindValidation},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			doer := &MockDoer{}
			router := newTestRouter(doer)

			result, err := router.Execute(context.Background(), testCase.resource, testCase.action, testCase.params)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.Equal(t, testCase.kind, firefly.AsError(err).Kind)
			doer.AssertNotCalled(t, "Do", mock.Anything, mock.Anything)
		})
	}
}

func TestRouter_Get(t *testing.T) {
	t.Parallel()

	doer := &MockDoer{}
	doer.On("Do", mock.Anything, mock.MatchedBy(func(req *firefly.Request) bool {
		return req.Method == http.MethodGet && req.Path == "/api/v1/accounts/42"
	})).Return(rawResponse(http.StatusOK, `{"data":{"type":"accounts","id":"42","attributes":{"name":"Checking","current_balance":"10.50"}}}`), nil).Once()

	router := newTestRouter(doer)
	ctx := context.Background()

	first, err := router.Execute(ctx, "accounts", "get", map[string]any{"id": float64(42)})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.JSONEq(t, `{"type":"accounts","id":"42","attributes":{"name":"Checking","current_balance":"10.50"}}`, string(first.Data))

	second, err := router.Execute(ctx, "accounts", "get", map[string]any{"id": "42"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Data, second.Data)

	doer.AssertNumberOfCalls(t, "Do", 1)
}

func TestRouter_UncachedResourceAlwaysFetches(t *testing.T) {
	t.Parallel()

	doer := newFakeDoer(func(*firefly.Request) (*firefly.Response, error) {
		return listPage(1, 2, 1, 50, 1, 2), nil
	})
	router := newTestRouter(doer)

	for range 3 {
		result, err := router.Execute(context.Background(), "transactions", "list", nil)
		require.NoError(t, err)
		assert.False(t, result.Cached)
	}

	assert.Equal(t, 3, doer.Calls())
}

func TestRouter_TTLExpiry(t *testing.T) {
	t.Parallel()

	doer := newFakeDoer(func(*firefly.Request) (*firefly.Response, error) {
		return listPage(1, 1, 1, 50, 1, 1), nil
	})

	policy := firefly.DefaultCachingPolicy()
	policy.TTLOverrides = map[string]time.Duration{"accounts": 50 * time.Millisecond}
	router := newTestRouter(doer, firefly.WithCachingPolicy(policy))
	ctx := context.Background()

	_, err := router.Execute(ctx, "accounts", "list", nil)
	require.NoError(t, err)

	cached, err := router.Execute(ctx, "accounts", "list", nil)
	require.NoError(t, err)
	assert.True(t, cached.Cached)
	assert.Equal(t, 1, doer.Calls())

	time.Sleep(100 * time.Millisecond)

	expired, err := router.Execute(ctx, "accounts", "list", nil)
	require.NoError(t, err)
	assert.False(t, expired.Cached)
	assert.Equal(t, 2, doer.Calls())
}

func TestRouter_WriteInvalidatesCache(t *testing.T) {
	t.Parallel()

	var created atomic.Bool

	doer := newFakeDoer(func(req *firefly.Request) (*firefly.Response, error) {
		switch req.Method {
		case http.MethodPost:
			created.Store(true)

			return rawResponse(http.StatusOK, `{"data":{"type":"accounts","id":"2","attributes":{"name":"Savings"}}}`), nil
		default:
			if created.Load() {
				return listPage(1, 2, 1, 50, 1, 2), nil
			}

			return listPage(1, 1, 1, 50, 1, 1), nil
		}
	})

	router := newTestRouter(doer)
	ctx := context.Background()

	before, err := router.Execute(ctx, "accounts", "list", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, before.List.Count)

	_, err = router.Execute(ctx, "accounts", "create", map[string]any{"name": "Savings", "type": "asset"})
	require.NoError(t, err)

	after, err := router.Execute(ctx, "accounts", "list", nil)
	require.NoError(t, err)
	assert.False(t, after.Cached)
	assert.Equal(t, 2, after.List.Count)
}

func TestRouter_TransactionWriteInvalidatesBalances(t *testing.T) {
	t.Parallel()

	doer := newFakeDoer(func(req *firefly.Request) (*firefly.Response, error) {
		if req.Method == http.MethodPost {
			return rawResponse(http.StatusOK, `{"data":{"id":"9"}}`), nil
		}

		return listPage(1, 1, 1, 50, 1, 1), nil
	})

	router := newTestRouter(doer)
	ctx := context.Background()

	_, err := router.Execute(ctx, "budgets", "list", nil)
	require.NoError(t, err)

	_, err = router.Execute(ctx, "transactions", "create", map[string]any{"transactions": []any{}})
	require.NoError(t, err)

	result, err := router.Execute(ctx, "budgets", "list", nil)
	require.NoError(t, err)
	assert.False(t, result.Cached)
}

func TestRouter_FailedWrites(t *testing.T) {
	t.Parallel()

	t.Run("rejected write keeps the cache", func(t *testing.T) {
		t.Parallel()

		doer := newFakeDoer(func(req *firefly.Request) (*firefly.Response, error) {
			if req.Method == http.MethodPost {
				return rawResponse(http.StatusUnprocessableEntity, `{"errors":{"name":["The name field is required."]}}`), nil
			}

			return listPage(1, 1, 1, 50, 1, 1), nil
		})
		router := newTestRouter(doer)
		ctx := context.Background()

		_, err := router.Execute(ctx, "tags", "list", nil)
		require.NoError(t, err)

		_, err = router.Execute(ctx, "tags", "create", map[string]any{})
		require.ErrorIs(t, err, firefly.ErrValidation)
		assert.Equal(t, "name: The name field is required.", firefly.AsError(err).Message)

		result, err := router.Execute(ctx, "tags", "list", nil)
		require.NoError(t, err)
		assert.True(t, result.Cached)
	})

	t.Run("server error invalidates", func(t *testing.T) {
		t.Parallel()

		doer := newFakeDoer(func(req *firefly.Request) (*firefly.Response, error) {
			if req.Method == http.MethodPut {
				return rawResponse(http.StatusBadGateway, ``), nil
			}

			return listPage(1, 1, 1, 50, 1, 1), nil
		})
		router := newTestRouter(doer)
		ctx := context.Background()

		_, err := router.Execute(ctx, "tags", "list", nil)
		require.NoError(t, err)

		_, err = router.Execute(ctx, "tags", "update", map[string]any{"id": "groceries", "description": "x"})
		require.ErrorIs(t, err, firefly.ErrServer)

		result, err := router.Execute(ctx, "tags", "list", nil)
		require.NoError(t, err)
		assert.False(t, result.Cached)
	})
}

func TestRouter_Delete(t *testing.T) {
	t.Parallel()

	doer := newFakeDoer(func(req *firefly.Request) (*firefly.Response, error) {
		assert.Equal(t, http.MethodDelete, req.Method)
		assert.Equal(t, "/api/v1/bills/5", req.Path)

		return rawResponse(http.StatusNoContent, ``), nil
	})

	result, err := newTestRouter(doer).Execute(context.Background(), "bills", "delete", map[string]any{"id": 5})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true}`, string(result.Data))
}

//nolint:funlen // Test functions can be longer for comprehensive testing
func TestRouter_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		response *firefly.Response
		err      error
		kind     firefly.ErrorKind
		status   int
	}{
		{name: "401", response: rawResponse(http.StatusUnauthorized, `{"message":"Unauthenticated."}`), kind: firefly.KindAuth, status: 401},
		{name: "404", response: rawResponse(http.StatusNotFound, `{"message":"No query results"}`), kind: firefly.KindNotFound, status: 404},
		{name: "422", response: rawResponse(http.StatusUnprocessableEntity, `{"errors":{"id":["bad"]}}`), kind: firefly.KindValidation, status: 422},
		{name: "429", response: rawResponse(http.StatusTooManyRequests, ``), kind: firefly.KindRateLimit, status: 429},
		{name: "500", response: rawResponse(http.StatusInternalServerError, `{"message":"SQLSTATE secret detail"}`), kind: firefly.KindServer, status: 500},
		{
			name: "timeout",
			err:  firefly.NewTransportError(context.DeadlineExceeded),
			kind: firefly.KindConnectivity,
		},
		{
			name: "refused",
			err:  firefly.NewTransportError(errors.New("dial tcp: connection refused")),
			kind: firefly.KindConnectivity,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			doer := newFakeDoer(func(*firefly.Request) (*firefly.Response, error) {
				return testCase.response, testCase.err
			})

			_, err := newTestRouter(doer).Execute(context.Background(), "attachments", "get", map[string]any{"id": "1"})
			require.Error(t, err)

			fireflyErr := firefly.AsError(err)
			assert.Equal(t, testCase.kind, fireflyErr.Kind)
			assert.Equal(t, testCase.status, fireflyErr.Status)
			assert.NotContains(t, fireflyErr.Message, "Bearer")
		})
	}
}

func TestRouter_ListAllPages(t *testing.T) {
	t.Parallel()

	doer := pagedSource(50, 3)
	router := newTestRouter(doer)

	result, err := router.Execute(context.Background(), "transactions", "list", map[string]any{"all_pages": true, "limit": 50})
	require.NoError(t, err)
	require.NotNil(t, result.List)
	assert.True(t, result.List.AllPages)
	assert.Equal(t, 150, result.List.Count)
	assert.Equal(t, "1", itemID(t, result.List.Items[0]))
	assert.Equal(t, "150", itemID(t, result.List.Items[149]))

	var payload map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(result.Data, &payload))
	assert.Contains(t, payload, "items")
	assert.JSONEq(t, `true`, string(payload["all_pages"]))
}

func TestRouter_ListAllPagesLimit(t *testing.T) {
	t.Parallel()

	doer := pagedSource(10, -1)
	router := newTestRouter(doer, firefly.WithPaginationOptions(&firefly.PaginationOptions{PageSize: 10, MaxPages: 3}))

	_, err := router.Execute(context.Background(), "transactions", "list", map[string]any{"all_pages": true})
	require.ErrorIs(t, err, firefly.ErrPaginationLimit)
	assert.Equal(t, 3, doer.Calls())
}

func TestRouter_ListSinglePage(t *testing.T) {
	t.Parallel()

	doer := pagedSource(20, 4)
	router := newTestRouter(doer)

	result, err := router.Execute(context.Background(), "accounts", "list", map[string]any{"page": 2, "limit": 20, "type": "asset"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.List.Page)
	assert.Equal(t, 20, result.List.Limit)
	assert.True(t, result.List.HasMore)
	require.NotNil(t, result.List.Total)
	assert.Equal(t, 80, *result.List.Total)

	requests := doer.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "asset", requests[0].Query.Get("type"))
	assert.Equal(t, "accounts", requests[0].Metadata[firefly.MetadataResource])
}

func TestRouter_InvalidateCategory(t *testing.T) {
	t.Parallel()

	doer := newFakeDoer(func(*firefly.Request) (*firefly.Response, error) {
		return listPage(1, 1, 1, 50, 1, 1), nil
	})
	router := newTestRouter(doer)
	ctx := context.Background()

	_, err := router.Execute(ctx, "currencies", "list", nil)
	require.NoError(t, err)

	require.NoError(t, router.InvalidateCategory(ctx, "currencies"))
	require.ErrorIs(t, router.InvalidateCategory(ctx, "wallets"), firefly.ErrValidation)

	result, err := router.Execute(ctx, "currencies", "list", nil)
	require.NoError(t, err)
	assert.False(t, result.Cached)

	require.NoError(t, router.InvalidateCategory(ctx, ""))

	result, err = router.Execute(ctx, "currencies", "list", nil)
	require.NoError(t, err)
	assert.False(t, result.Cached)
}

//nolint:funlen // Test functions can be longer for comprehensive testing
func TestRouter_Reports(t *testing.T) {
	t.Parallel()

	newReportDoer := func(t *testing.T) *fakeDoer {
		t.Helper()

		return newFakeDoer(func(req *firefly.Request) (*firefly.Response, error) {
			switch req.Path {
			case "/api/v1/about":
				return rawResponse(http.StatusOK, `{"data":{"version":"6.1.0","api_version":"2.1.0","php_version":"8.3.4","os":"Linux","driver":"mysql"}}`), nil
			case "/api/v1/about/user":
				return rawResponse(http.StatusOK, `{"data":{"type":"users","id":"1","attributes":{"email":"me@example.com","role":"owner"}}}`), nil
			case "/api/v1/insight/expense/total":
				return rawResponse(http.StatusOK, `[{"difference":"-123.45","difference_float":-123.45,"currency_id":"1","currency_code":"EUR"}]`), nil
			case "/api/v1/summary/basic":
				return rawResponse(http.StatusOK, `{"balance-in-EUR":{"key":"balance-in-EUR","title":"Balance (€)","monetary_value":"1000.00","currency_code":"EUR"}}`), nil
			default:
				return rawResponse(http.StatusNotFound, `{"message":"Resource not found"}`), nil
			}
		})
	}

	t.Run("about object is returned and cached", func(t *testing.T) {
		t.Parallel()

		doer := newReportDoer(t)
		router := newTestRouter(doer)
		ctx := context.Background()

		first, err := router.Execute(ctx, "about", "get", nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{"version":"6.1.0","api_version":"2.1.0","php_version":"8.3.4","os":"Linux","driver":"mysql"}`, string(first.Data))

		second, err := router.Execute(ctx, "about", "get", nil)
		require.NoError(t, err)
		assert.True(t, second.Cached)

		user, err := router.Execute(ctx, "about", "get", map[string]any{"path": "user"})
		require.NoError(t, err)
		assert.False(t, user.Cached)
		assert.Contains(t, string(user.Data), "me@example.com")
		assert.Equal(t, 2, doer.Calls())
	})

	t.Run("insight report with dates", func(t *testing.T) {
		t.Parallel()

		doer := newReportDoer(t)

		result, err := newTestRouter(doer).Execute(context.Background(), "insight", "get", map[string]any{
			"path":  "/expense/total/",
			"start": "2026-01-01",
			"end":   "2026-01-31",
		})
		require.NoError(t, err)
		assert.JSONEq(t, `[{"difference":"-123.45","difference_float":-123.45,"currency_id":"1","currency_code":"EUR"}]`, string(result.Data))

		requests := doer.Requests()
		require.Len(t, requests, 1)
		assert.Equal(t, http.MethodGet, requests[0].Method)
		assert.Equal(t, "2026-01-01", requests[0].Query.Get("start"))
		assert.Equal(t, "2026-01-31", requests[0].Query.Get("end"))
		assert.Empty(t, requests[0].Query.Get("path"))
	})

	t.Run("summary defaults to the basic report", func(t *testing.T) {
		t.Parallel()

		doer := newReportDoer(t)

		result, err := newTestRouter(doer).Execute(context.Background(), "summary", "get", map[string]any{
			"start": "2026-01-01",
			"end":   "2026-01-31",
		})
		require.NoError(t, err)
		assert.Contains(t, string(result.Data), `"balance-in-EUR"`)
		assert.Equal(t, "/api/v1/summary/basic", doer.Requests()[0].Path)
	})

	rejected := []struct {
		name     string
		resource string
		action   string
		params   map[string]any
		kind     firefly.ErrorKind
	}{
		{name: "about list", resource: "about", action: "list", kind: firefly.KindInvalidAction},
		{name: "insight list", resource: "insight", action: "list", kind: firefly.KindInvalidAction},
		{name: "summary delete", resource: "summary", action: "delete", params: map[string]any{"id": "1"}, kind: firefly.KindInvalidAction},
		{name: "insight without path", resource: "insight", action: "get", kind: firefly.KindValidation},
		{name: "insight parent segment", resource: "insight", action: "get", params: map[string]any{"path": "../accounts"}, kind: firefly.KindValidation},
		{name: "insight query in path", resource: "insight", action: "get", params: map[string]any{"path": "expense/total?x=1"}, kind: firefly.KindValidation},
		{name: "insight numeric path", resource: "insight", action: "get", params: map[string]any{"path": float64(3)}, kind: firefly.KindValidation},
		{name: "about with id", resource: "about", action: "get", params: map[string]any{"id": "1"}, kind: firefly.KindValidation},
	}

	for _, testCase := range rejected {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			doer := newReportDoer(t)

			_, err := newTestRouter(doer).Execute(context.Background(), testCase.resource, testCase.action, testCase.params)
			require.Error(t, err)
			assert.Equal(t, testCase.kind, firefly.AsError(err).Kind)
			assert.Zero(t, doer.Calls())
		})
	}
}
