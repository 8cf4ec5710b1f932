package commands

import (
	"github.com/spf13/cobra"

	"github.com/fivetwenty-io/firefly-mcp/pkg/firefly"
)

// NewCallCommand creates the call command.
func NewCallCommand() *cobra.Command {
	var (
		id       string
		page     int
		limit    int
		allPages bool
		params   []string
	)

	cmd := &cobra.Command{
		Use:   "call RESOURCE ACTION",
		Short: "Run one resource action",
		Long: `Run a get, list, create, update or delete action on a Firefly III resource
category, exactly as the MCP tool of the same name would.`,
		Example: `  firefly-mcp call accounts list --param type=asset --all-pages
  firefly-mcp call tags create --param tag=groceries
  firefly-mcp call bills get --id 3`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			callParams, err := parseParams(params)
			if err != nil {
				return err
			}

			if id != "" {
				callParams[firefly.ParamID] = id
			}

			if page > 0 {
				callParams[firefly.ParamPage] = page
			}

			if limit > 0 {
				callParams[firefly.ParamLimit] = limit
			}

			if allPages {
				callParams[firefly.ParamAllPages] = true
			}

			gw, err := newGateway(cmd)
			if err != nil {
				return err
			}

			defer func() { _ = gw.client.Close() }()

			result, err := gw.client.Execute(commandContext(cmd), args[0], args[1], callParams)
			if err != nil {
				return err
			}

			return renderJSON(cmd.OutOrStdout(), result.Data)
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "instance id for get, update and delete")
	cmd.Flags().IntVar(&page, "page", 0, "page number for list")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size for list")
	cmd.Flags().BoolVar(&allPages, "all-pages", false, "fetch every page for list")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "additional field as key=value (repeatable)")

	return cmd
}
