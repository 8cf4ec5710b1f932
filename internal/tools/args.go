package tools

import (
	"encoding/json"
	"fmt"

	"github.com/fivetwenty-io/firefly-mcp/pkg/firefly"
)

// Argument names.
const (
	argAction          = "action"
	argParams          = "params"
	argOperations      = "operations"
	argContinueOnError = "continue_on_error"
	argCategory        = "category"
)

// resourceCall splits resource tool arguments into the action and the
// router parameters. Fields nested under "params" are merged first so
// top-level fields win.
func resourceCall(args map[string]any) (string, map[string]any, error) {
	action, _ := args[argAction].(string)
	params := make(map[string]any, len(args))

	if nested, ok := args[argParams]; ok && nested != nil {
		fields, ok := nested.(map[string]any)
		if !ok {
			return "", nil, firefly.NewError(firefly.KindValidation, "params must be an object", 0)
		}

		for key, value := range fields {
			params[key] = value
		}
	}

	for key, value := range args {
		if key == argAction || key == argParams {
			continue
		}

		params[key] = value
	}

	return action, params, nil
}

// batchCall decodes the batch_operations arguments.
func batchCall(args map[string]any) ([]firefly.BatchOperation, firefly.BatchOptions, error) {
	options := firefly.DefaultBatchOptions()

	if value, ok := args[argContinueOnError]; ok && value != nil {
		continueOnError, ok := value.(bool)
		if !ok {
			return nil, options, firefly.NewError(firefly.KindValidation, "continue_on_error must be a boolean", 0)
		}

		options.ContinueOnError = continueOnError
	}

	var operations []firefly.BatchOperation

	err := decode(args[argOperations], &operations)
	if err != nil {
		return nil, options, firefly.NewError(firefly.KindValidation, "operations: "+err.Error(), 0)
	}

	return operations, options, nil
}

// searchCall decodes the search arguments.
func searchCall(args map[string]any) (firefly.SearchQuery, error) {
	var query firefly.SearchQuery

	err := decode(args, &query)
	if err != nil {
		return query, firefly.NewError(firefly.KindValidation, "invalid search arguments: "+err.Error(), 0)
	}

	return query, nil
}

// decode converts loosely typed tool arguments into target.
func decode(value any, target any) error {
	if value == nil {
		return nil
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding arguments: %w", err)
	}

	err = json.Unmarshal(encoded, target)
	if err != nil {
		return fmt.Errorf("decoding arguments: %w", err)
	}

	return nil
}
