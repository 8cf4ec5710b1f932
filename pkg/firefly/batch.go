package firefly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fivetwenty-io/firefly-mcp/internal/constants"
)

// Static errors for err113 compliance.
var (
	ErrTransactionFailed = errors.New("transaction failed")
)

// BatchOperation represents a single operation in a batch.
type BatchOperation struct {
	ID       string                    `json:"id,omitempty"`
	Resource string                    `json:"resource"         validate:"required"`
	Action   string                    `json:"action"           validate:"required"`
	Params   map[string]any            `json:"params,omitempty"`
	Callback func(result *BatchResult) `json:"-"`
}

// BatchResult represents the result of a batch operation.
type BatchResult struct {
	Index    int             `json:"index"`
	ID       string          `json:"id"`
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    *Error          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration_ns"`
}

// Skipped reports whether the operation was never sent.
func (r *BatchResult) Skipped() bool {
	return r.Error != nil && r.Error.Kind == KindSkipped
}

// BatchSummary counts batch outcomes.
type BatchSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// BatchResponse holds one result per operation, in submission order.
type BatchResponse struct {
	Results []BatchResult `json:"results"`
}

// Summary counts the results.
func (r *BatchResponse) Summary() BatchSummary {
	summary := BatchSummary{Total: len(r.Results)}

	for i := range r.Results {
		switch {
		case r.Results[i].Success:
			summary.Succeeded++
		case r.Results[i].Skipped():
			summary.Skipped++
		default:
			summary.Failed++
		}
	}

	return summary
}

// BatchOptions controls batch execution.
type BatchOptions struct {
	// ContinueOnError keeps running after a failed operation. When false the
	// operations after the first failure are reported as skipped.
	ContinueOnError bool
}

// DefaultBatchOptions returns the default batch options.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{ContinueOnError: true}
}

type batchRequest struct {
	Operations []BatchOperation `validate:"min=1,max=100,dive"`
}

var batchValidator = validator.New()

// ValidateBatch checks the shape of a batch before anything is sent.
func ValidateBatch(operations []BatchOperation) error {
	err := batchValidator.Struct(batchRequest{Operations: operations})
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return newValidationError("invalid batch: %s", err.Error())
	}

	messages := make([]string, 0, len(fieldErrors))

	for _, fieldError := range fieldErrors {
		messages = append(messages, describeFieldError(fieldError))
	}

	sort.Strings(messages)

	return newValidationError("invalid batch: %s", strings.Join(messages, "; "))
}

func describeFieldError(fieldError validator.FieldError) string {
	// "batchRequest.Operations[1].Resource" -> "operations[1].resource"
	namespace := fieldError.Namespace()
	if _, rest, found := strings.Cut(namespace, "."); found {
		namespace = rest
	}

	namespace = strings.ToLower(namespace)

	switch fieldError.Tag() {
	case "min":
		return fmt.Sprintf("%s: at least %s operation required", namespace, fieldError.Param())
	case "max":
		return fmt.Sprintf("%s: at most %d operations allowed", namespace, constants.MaxBatchOperations)
	default:
		return namespace + ": " + fieldError.Tag()
	}
}

// BatchExecutor runs operations through a router one at a time, in order.
type BatchExecutor struct {
	router *Router
	logger Logger
}

// NewBatchExecutor creates a new batch executor.
func NewBatchExecutor(router *Router, logger Logger) *BatchExecutor {
	return &BatchExecutor{
		router: router,
		logger: loggerOrNop(logger),
	}
}

// Execute runs a batch of operations. Every operation gets a result; a
// failure never aborts the batch as a whole.
func (b *BatchExecutor) Execute(ctx context.Context, operations []BatchOperation, options BatchOptions) *BatchResponse {
	response := &BatchResponse{Results: make([]BatchResult, len(operations))}
	halted := false

	for index, operation := range operations {
		id := operation.ID
		if id == "" {
			id = uuid.NewString()
		}

		var result *BatchResult

		if halted {
			result = &BatchResult{
				Index: index,
				ID:    id,
				Error: NewError(KindSkipped, "not executed: an earlier operation failed", 0),
			}
		} else {
			start := time.Now()
			result = b.executeOperation(ctx, operation)
			result.Index = index
			result.ID = id
			result.Duration = time.Since(start)

			if !result.Success && !options.ContinueOnError {
				halted = true
			}
		}

		response.Results[index] = *result

		if operation.Callback != nil {
			operation.Callback(result)
		}
	}

	summary := response.Summary()
	LoggerWithContext(ctx, b.logger).Debug("Batch finished", map[string]interface{}{
		"total":     summary.Total,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"skipped":   summary.Skipped,
	})

	return response
}

// executeOperation executes a single operation.
func (b *BatchExecutor) executeOperation(ctx context.Context, operation BatchOperation) (result *BatchResult) {
	result = &BatchResult{}

	defer func() {
		if recovered := recover(); recovered != nil {
			result.Success = false
			result.Data = nil
			result.Error = NewError(KindUnknown, fmt.Sprintf("operation panicked: %v", recovered), 0)
		}
	}()

	routed, err := b.router.Execute(ctx, operation.Resource, operation.Action, operation.Params)
	if err != nil {
		result.Error = AsError(err)

		return result
	}

	result.Success = true
	result.Data = routed.Data

	return result
}

// BatchBuilder helps build batch operations.
type BatchBuilder struct {
	operations []BatchOperation
}

// NewBatchBuilder creates a new batch builder.
func NewBatchBuilder() *BatchBuilder {
	return &BatchBuilder{
		operations: make([]BatchOperation, 0),
	}
}

// AddGet adds a get operation.
func (b *BatchBuilder) AddGet(id, resource string, resourceID any) *BatchBuilder {
	return b.add(id, resource, ActionGet, map[string]any{ParamID: resourceID})
}

// AddList adds a list operation.
func (b *BatchBuilder) AddList(id, resource string, params map[string]any) *BatchBuilder {
	return b.add(id, resource, ActionList, params)
}

// AddCreate adds a create operation.
func (b *BatchBuilder) AddCreate(id, resource string, body map[string]any) *BatchBuilder {
	return b.add(id, resource, ActionCreate, body)
}

// AddUpdate adds an update operation.
func (b *BatchBuilder) AddUpdate(id, resource string, resourceID any, body map[string]any) *BatchBuilder {
	params := copyParams(body)
	params[ParamID] = resourceID

	return b.add(id, resource, ActionUpdate, params)
}

// AddDelete adds a delete operation.
func (b *BatchBuilder) AddDelete(id, resource string, resourceID any) *BatchBuilder {
	return b.add(id, resource, ActionDelete, map[string]any{ParamID: resourceID})
}

// AddOperation adds a custom operation.
func (b *BatchBuilder) AddOperation(operation BatchOperation) *BatchBuilder {
	b.operations = append(b.operations, operation)

	return b
}

// Build returns the built operations.
func (b *BatchBuilder) Build() []BatchOperation {
	return b.operations
}

func (b *BatchBuilder) add(id, resource string, action ActionKind, params map[string]any) *BatchBuilder {
	b.operations = append(b.operations, BatchOperation{
		ID:       id,
		Resource: resource,
		Action:   string(action),
		Params:   params,
	})

	return b
}

// BatchTransaction runs operations until the first failure and then
// deletes whatever the successful creates produced, newest first.
type BatchTransaction struct {
	operations      []BatchOperation
	executor        *BatchExecutor
	rollback        bool
	rollbackResults []BatchResult
}

// NewBatchTransaction creates a new batch transaction.
func NewBatchTransaction(executor *BatchExecutor) *BatchTransaction {
	return &BatchTransaction{
		executor:   executor,
		operations: make([]BatchOperation, 0),
		rollback:   true,
	}
}

// Add adds an operation to the transaction.
func (t *BatchTransaction) Add(operation BatchOperation) *BatchTransaction {
	t.operations = append(t.operations, operation)

	return t
}

// SetRollback sets whether to rollback on failure.
func (t *BatchTransaction) SetRollback(rollback bool) *BatchTransaction {
	t.rollback = rollback

	return t
}

// RollbackResults returns the outcome of the compensating deletes of the
// last Execute.
func (t *BatchTransaction) RollbackResults() []BatchResult {
	return t.rollbackResults
}

// Execute executes the transaction.
func (t *BatchTransaction) Execute(ctx context.Context) (*BatchResponse, error) {
	err := ValidateBatch(t.operations)
	if err != nil {
		return nil, err
	}

	response := t.executor.Execute(ctx, t.operations, BatchOptions{ContinueOnError: false})
	t.rollbackResults = nil

	var failedOps []string

	for _, result := range response.Results {
		if !result.Success && !result.Skipped() {
			failedOps = append(failedOps, result.ID)
		}
	}

	if len(failedOps) == 0 {
		return response, nil
	}

	if t.rollback {
		t.performRollback(ctx, response)
	}

	return response, fmt.Errorf("%w, %d operations failed: %v", ErrTransactionFailed, len(failedOps), failedOps)
}

// performRollback deletes resources created by successful operations.
// Updates and deletes cannot be reverted and are left as they are.
func (t *BatchTransaction) performRollback(ctx context.Context, response *BatchResponse) {
	var rollbackOps []BatchOperation

	for i := len(response.Results) - 1; i >= 0; i-- {
		result := response.Results[i]
		original := t.operations[i]

		if !result.Success || original.Action != string(ActionCreate) {
			continue
		}

		createdID := createdResourceID(result.Data)
		if createdID == "" {
			LoggerWithContext(ctx, t.executor.logger).Warn("Cannot roll back create without an id", map[string]interface{}{
				"operation": result.ID,
				"resource":  original.Resource,
			})

			continue
		}

		rollbackOps = append(rollbackOps, BatchOperation{
			ID:       "rollback_" + result.ID,
			Resource: original.Resource,
			Action:   string(ActionDelete),
			Params:   map[string]any{ParamID: createdID},
		})
	}

	if len(rollbackOps) > 0 {
		t.rollbackResults = t.executor.Execute(ctx, rollbackOps, DefaultBatchOptions()).Results
	}
}

// createdResourceID reads the "id" of a created resource.
func createdResourceID(data json.RawMessage) string {
	var created struct {
		ID json.RawMessage `json:"id"`
	}

	if json.Unmarshal(data, &created) != nil || len(created.ID) == 0 {
		return ""
	}

	var id string
	if json.Unmarshal(created.ID, &id) == nil {
		return id
	}

	var number json.Number
	if json.Unmarshal(created.ID, &number) == nil {
		return number.String()
	}

	return ""
}
