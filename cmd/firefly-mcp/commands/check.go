package commands

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fivetwenty-io/firefly-mcp/internal/constants"
)

// NewCheckCommand creates the check command.
func NewCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Test the Firefly III connection",
		Long:  "Verify the configured URL and personal access token by calling /api/v1/about",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := newGateway(cmd)
			if err != nil {
				return err
			}

			defer func() { _ = gw.client.Close() }()

			out := cmd.OutOrStdout()

			about, err := gw.client.TestConnection(commandContext(cmd))
			if err != nil {
				_, _ = fmt.Fprintf(out, "%s %s\n", color.RedString(constants.CrossMarkSymbol),
					color.RedString("Connection to %s failed", gw.client.BaseURL()))

				return fmt.Errorf("%w: %w", constants.ErrConnectionFailed, err)
			}

			var info map[string]any

			_ = json.Unmarshal(about, &info)

			handled, err := writeStructured(out, map[string]any{
				"status":   "ok",
				"base_url": gw.client.BaseURL(),
				"about":    info,
			})
			if handled || err != nil {
				return err
			}

			_, _ = fmt.Fprintf(out, "%s Connected to %s\n", color.GreenString(constants.CheckMarkSymbol), gw.client.BaseURL())

			properties := make(map[string]string, len(info))
			for key, value := range info {
				properties[key] = fmt.Sprint(value)
			}

			return renderProperties(out, properties)
		},
	}
}
