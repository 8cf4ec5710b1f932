package commands

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fivetwenty-io/firefly-mcp/internal/config"
	"github.com/fivetwenty-io/firefly-mcp/internal/constants"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long:  "Inspect the effective gateway configuration from flags, FIREFLY_ environment variables and the config file",
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigPathCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long:  "Display the effective configuration with the token masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Decode(viper.GetViper())
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}

			redacted := cfg.Redacted()

			handled, err := writeStructured(cmd.OutOrStdout(), redacted)
			if handled || err != nil {
				return err
			}

			properties := map[string]string{
				config.KeyBaseURL:           valueOrNA(redacted.BaseURL),
				config.KeyToken:             valueOrNA(redacted.Token),
				config.KeyCacheEnabled:      fmt.Sprint(redacted.Cache.Enabled),
				config.KeyCacheBackend:      redacted.Cache.Backend,
				config.KeyCacheDefaultTTL:   redacted.Cache.DefaultTTL.String(),
				config.KeyCacheMaxSize:      fmt.Sprint(redacted.Cache.MaxSize),
				config.KeyPageSize:          fmt.Sprint(redacted.Pagination.PageSize),
				config.KeyMaxPages:          fmt.Sprint(redacted.Pagination.MaxPages),
				config.KeyHTTPTimeout:       redacted.HTTP.Timeout.String(),
				config.KeyLogLevel:          redacted.Log.Level,
				config.KeyTelemetryExporter: redacted.Telemetry.Exporter,
				config.KeyServerTransport:   redacted.Server.Transport,
				config.KeyServerAddr:        redacted.Server.Addr,
			}

			if redacted.Cache.NATS.URL != "" {
				properties[config.KeyCacheNATSURL] = redacted.Cache.NATS.URL
			}

			categories := make([]string, 0, len(redacted.Cache.TTL))
			for category := range redacted.Cache.TTL {
				categories = append(categories, category)
			}

			sort.Strings(categories)

			for _, category := range categories {
				properties[config.KeyCacheTTL+"."+category] = redacted.Cache.TTL[category].String()
			}

			return renderProperties(cmd.OutOrStdout(), properties)
		},
	}
}

func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.ConfigFileUsed()
			if path == "" {
				dir, err := config.DefaultDir()
				if err != nil {
					return err
				}

				path = filepath.Join(dir, "config.yml") + " (not found)"
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), path)

			return nil
		},
	}
}

func valueOrNA(value string) string {
	if strings.TrimSpace(value) == "" {
		return constants.NotAvailable
	}

	return value
}
