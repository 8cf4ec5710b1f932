package commands

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fivetwenty-io/firefly-mcp/internal/constants"
	"github.com/fivetwenty-io/firefly-mcp/pkg/firefly"
)

// batchFile is the on-disk batch format. JSON files parse as YAML too.
type batchFile struct {
	Operations []batchFileOperation `yaml:"operations"`
}

type batchFileOperation struct {
	ID       string         `yaml:"id"`
	Resource string         `yaml:"resource"`
	Action   string         `yaml:"action"`
	Params   map[string]any `yaml:"params"`
}

// parseBatchFile accepts either {operations: [...]} or a bare list.
func parseBatchFile(data []byte) ([]firefly.BatchOperation, error) {
	var file batchFile

	listErr := yaml.Unmarshal(data, &file.Operations)
	if listErr != nil {
		err := yaml.Unmarshal(data, &file)
		if err != nil {
			return nil, fmt.Errorf("failed to parse batch file: %w", err)
		}
	}

	if len(file.Operations) == 0 {
		return nil, constants.ErrNoOperations
	}

	operations := make([]firefly.BatchOperation, 0, len(file.Operations))
	for _, operation := range file.Operations {
		operations = append(operations, firefly.BatchOperation{
			ID:       operation.ID,
			Resource: operation.Resource,
			Action:   operation.Action,
			Params:   operation.Params,
		})
	}

	return operations, nil
}

// NewBatchCommand creates the batch command.
func NewBatchCommand() *cobra.Command {
	var stopOnError bool

	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Run a batch of resource actions from a file",
		Long: `Run the operations listed in a YAML or JSON file in order.

The file holds either a list of operations or a mapping with an
"operations" key. Each operation has resource, action, optional params and
an optional id.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInputFile(args[0])
			if err != nil {
				return err
			}

			operations, err := parseBatchFile(data)
			if err != nil {
				return err
			}

			gw, err := newGateway(cmd)
			if err != nil {
				return err
			}

			defer func() { _ = gw.client.Close() }()

			response, err := gw.client.ExecuteBatch(commandContext(cmd), operations,
				firefly.BatchOptions{ContinueOnError: !stopOnError})
			if err != nil {
				return err
			}

			summary := response.Summary()

			handled, err := writeStructured(cmd.OutOrStdout(), map[string]any{
				"results": response.Results,
				"summary": summary,
			})
			if err != nil {
				return err
			}

			if !handled {
				err = renderBatchTable(cmd.OutOrStdout(), response, summary)
				if err != nil {
					return err
				}
			}

			if summary.Failed > 0 || summary.Skipped > 0 {
				return constants.ErrBatchHadFailures
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&stopOnError, "stop-on-error", false, "skip the remaining operations after the first failure")

	return cmd
}

func renderBatchTable(w io.Writer, response *firefly.BatchResponse, summary firefly.BatchSummary) error {
	table := tablewriter.NewWriter(w)
	table.Header("#", "ID", "Status", "Duration", "Error")

	for _, result := range response.Results {
		status := constants.CheckMarkSymbol
		message := ""

		switch {
		case result.Skipped():
			status = "skipped"
		case !result.Success:
			status = constants.CrossMarkSymbol
		}

		if result.Error != nil && !result.Skipped() {
			message = string(result.Error.Kind) + ": " + result.Error.Message
		}

		_ = table.Append(strconv.Itoa(result.Index), result.ID, status,
			result.Duration.Round(time.Millisecond).String(), message)
	}

	err := table.Render()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	_, _ = fmt.Fprintf(w, "\nTotal: %d, succeeded: %d, failed: %d, skipped: %d\n",
		summary.Total, summary.Succeeded, summary.Failed, summary.Skipped)

	return nil
}
