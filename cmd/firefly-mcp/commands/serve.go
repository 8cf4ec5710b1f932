package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fivetwenty-io/firefly-mcp/internal/config"
	"github.com/fivetwenty-io/firefly-mcp/internal/constants"
	"github.com/fivetwenty-io/firefly-mcp/internal/server"
	"github.com/fivetwenty-io/firefly-mcp/internal/telemetry"
	"github.com/fivetwenty-io/firefly-mcp/internal/tools"
)

// NewServeCommand creates the serve command.
func NewServeCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server",
		Long: `Run the Firefly III MCP gateway.

With --transport stdio (the default) the server speaks MCP on stdin/stdout.
With --transport http it serves streamable HTTP on /mcp, plus /healthz and
/stats, at --addr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, err := newGateway(cmd)
			if err != nil {
				return err
			}

			defer func() { _ = gw.client.Close() }()

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown, err := telemetry.Init(ctx, constants.ServiceName, version, gw.config.TelemetrySettings())
			if err != nil {
				return fmt.Errorf("initializing telemetry: %w", err)
			}

			defer func() { _ = shutdown(commandContext(cmd)) }()

			toolset := tools.New(gw.client, gw.client.Router().Registry(), gw.logger)
			mcpServer := toolset.NewServer(version)

			gw.logger.Info("Starting MCP server", map[string]interface{}{
				"transport": gw.config.Server.Transport,
				"base_url":  gw.client.BaseURL(),
				"cache":     gw.config.Cache.Backend,
			})

			switch gw.config.Server.Transport {
			case constants.TransportStdio:
				err = mcpserver.ServeStdio(mcpServer)
				if err != nil {
					return fmt.Errorf("serving stdio: %w", err)
				}

				return nil
			case constants.TransportHTTP:
				return server.New(mcpServer, gw.client, version, gw.logger).ListenAndServe(ctx, gw.config.Server.Addr)
			default:
				return fmt.Errorf("%w: %s", constants.ErrUnknownTransport, gw.config.Server.Transport)
			}
		},
	}

	cmd.Flags().String("transport", constants.TransportStdio, "MCP transport (stdio, http)")
	cmd.Flags().String("addr", constants.DefaultHTTPAddr, "listen address for the http transport")

	_ = viper.BindPFlag(config.KeyServerTransport, cmd.Flags().Lookup("transport"))
	_ = viper.BindPFlag(config.KeyServerAddr, cmd.Flags().Lookup("addr"))

	return cmd
}
