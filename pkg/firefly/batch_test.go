package firefly_test

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fivetwenty-io/firefly-mcp/pkg/firefly"
)

// batchDoer answers GETs on /api/v1/tags/<name>: "missing" is 404, anything
// else 200.
func batchDoer() *fakeDoer {
	return newFakeDoer(func(req *firefly.Request) (*firefly.Response, error) {
		if strings.HasSuffix(req.Path, "/missing") {
			return rawResponse(http.StatusNotFound, `{"message":"Resource not found"}`), nil
		}

		return rawResponse(http.StatusOK, `{"data":{"id":"1","type":"tags"}}`), nil
	})
}

func threeOperations() []firefly.BatchOperation {
	return firefly.NewBatchBuilder().
		AddGet("A", "tags", "groceries").
		AddGet("B", "tags", "missing").
		AddGet("C", "tags", "rent").
		Build()
}

func TestBatchExecutor_ContinueOnError(t *testing.T) {
	t.Parallel()

	doer := batchDoer()
	executor := firefly.NewBatchExecutor(newTestRouter(doer), nil)

	response := executor.Execute(context.Background(), threeOperations(), firefly.DefaultBatchOptions())
	require.Len(t, response.Results, 3)

	assert.True(t, response.Results[0].Success)
	assert.False(t, response.Results[1].Success)
	assert.Equal(t, firefly.KindNotFound, response.Results[1].Error.Kind)
	assert.True(t, response.Results[2].Success)
	assert.Equal(t, 3, doer.Calls())

	for i, id := range []string{"A", "B", "C"} {
		assert.Equal(t, i, response.Results[i].Index)
		assert.Equal(t, id, response.Results[i].ID)
	}

	assert.Equal(t, firefly.BatchSummary{Total: 3, Succeeded: 2, Failed: 1}, response.Summary())
}

func TestBatchExecutor_StopOnError(t *testing.T) {
	t.Parallel()

	doer := batchDoer()
	executor := firefly.NewBatchExecutor(newTestRouter(doer), nil)

	response := executor.Execute(context.Background(), threeOperations(), firefly.BatchOptions{ContinueOnError: false})
	require.Len(t, response.Results, 3)

	assert.True(t, response.Results[0].Success)
	assert.Equal(t, firefly.KindNotFound, response.Results[1].Error.Kind)
	assert.True(t, response.Results[2].Skipped())
	assert.Equal(t, firefly.KindSkipped, response.Results[2].Error.Kind)
	assert.Equal(t, "C", response.Results[2].ID)

	for _, req := range doer.Requests() {
		assert.NotEqual(t, "/api/v1/tags/rent", req.Path, "skipped operation must not be sent")
	}

	assert.Equal(t, 2, doer.Calls())
	assert.Equal(t, firefly.BatchSummary{Total: 3, Succeeded: 1, Failed: 1, Skipped: 1}, response.Summary())
}

func TestBatchExecutor_AssignsIDsAndCallbacks(t *testing.T) {
	t.Parallel()

	var seen []string

	operations := []firefly.BatchOperation{
		{Resource: "tags", Action: "get", Params: map[string]any{"id": "x"}, Callback: func(result *firefly.BatchResult) {
			seen = append(seen, result.ID)
		}},
		{Resource: "tags", Action: "explode", Callback: func(result *firefly.BatchResult) {
			seen = append(seen, result.ID)
		}},
	}

	executor := firefly.NewBatchExecutor(newTestRouter(batchDoer()), nil)
	response := executor.Execute(context.Background(), operations, firefly.DefaultBatchOptions())

	require.Len(t, seen, 2)
	assert.NotEmpty(t, response.Results[0].ID)
	assert.NotEqual(t, response.Results[0].ID, response.Results[1].ID)
	assert.Equal(t, seen[0], response.Results[0].ID)
	assert.Equal(t, firefly.KindInvalidAction, response.Results[1].Error.Kind)
}

func TestBatchExecutor_RecoversPanics(t *testing.T) {
	t.Parallel()

	doer := newFakeDoer(func(*firefly.Request) (*firefly.Response, error) {
		panic("doer exploded")
	})

	executor := firefly.NewBatchExecutor(newTestRouter(doer), nil)
	response := executor.Execute(context.Background(), firefly.NewBatchBuilder().AddGet("A", "tags", "x").Build(), firefly.DefaultBatchOptions())

	require.Len(t, response.Results, 1)
	assert.False(t, response.Results[0].Success)
	assert.Equal(t, firefly.KindUnknown, response.Results[0].Error.Kind)
}

func TestValidateBatch(t *testing.T) {
	t.Parallel()

	require.NoError(t, firefly.ValidateBatch(threeOperations()))

	err := firefly.ValidateBatch(nil)
	require.ErrorIs(t, err, firefly.ErrValidation)
	assert.Contains(t, err.Error(), "at least 1 operation")

	err = firefly.ValidateBatch([]firefly.BatchOperation{{Resource: "tags", Action: "get"}, {Action: "list"}})
	require.ErrorIs(t, err, firefly.ErrValidation)
	assert.Contains(t, err.Error(), "operations[1].resource: required")

	tooMany := make([]firefly.BatchOperation, 101)
	for i := range tooMany {
		tooMany[i] = firefly.BatchOperation{Resource: "tags", Action: "list"}
	}

	err = firefly.ValidateBatch(tooMany)
	require.ErrorIs(t, err, firefly.ErrValidation)
	assert.Contains(t, err.Error(), "at most 100 operations")
}

func TestBatchTransaction_RollsBackCreates(t *testing.T) {
	t.Parallel()

	doer := newFakeDoer(func(req *firefly.Request) (*firefly.Response, error) {
		switch {
		case req.Method == http.MethodPost && req.Path == "/api/v1/tags":
			return rawResponse(http.StatusOK, `{"data":{"id":"11","type":"tags"}}`), nil
		case req.Method == http.MethodPost:
			return rawResponse(http.StatusUnprocessableEntity, `{"errors":{"name":["taken"]}}`), nil
		default:
			return rawResponse(http.StatusNoContent, ``), nil
		}
	})

	executor := firefly.NewBatchExecutor(newTestRouter(doer), nil)
	transaction := firefly.NewBatchTransaction(executor)

	for _, operation := range firefly.NewBatchBuilder().
		AddCreate("tag", "tags", map[string]any{"tag": "holiday"}).
		AddCreate("category", "categories", map[string]any{"name": "Travel"}).
		AddCreate("bill", "bills", map[string]any{"name": "Rent"}).
		Build() {
		transaction.Add(operation)
	}

	response, err := transaction.Execute(context.Background())
	require.ErrorIs(t, err, firefly.ErrTransactionFailed)
	assert.Contains(t, err.Error(), "category")
	assert.True(t, response.Results[2].Skipped())

	rollback := transaction.RollbackResults()
	require.Len(t, rollback, 1)
	assert.True(t, rollback[0].Success)
	assert.Equal(t, "rollback_tag", rollback[0].ID)

	requests := doer.Requests()
	last := requests[len(requests)-1]
	assert.Equal(t, http.MethodDelete, last.Method)
	assert.Equal(t, "/api/v1/tags/11", last.Path)
}

func TestBatchTransaction_Success(t *testing.T) {
	t.Parallel()

	executor := firefly.NewBatchExecutor(newTestRouter(batchDoer()), nil)
	transaction := firefly.NewBatchTransaction(executor).SetRollback(false)
	transaction.Add(firefly.BatchOperation{ID: "one", Resource: "tags", Action: "get", Params: map[string]any{"id": "a"}})

	response, err := transaction.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, response.Summary().Succeeded)
	assert.Empty(t, transaction.RollbackResults())
}
