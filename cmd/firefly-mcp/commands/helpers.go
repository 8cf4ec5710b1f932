package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/fivetwenty-io/firefly-mcp/internal/config"
	"github.com/fivetwenty-io/firefly-mcp/internal/constants"
	"github.com/fivetwenty-io/firefly-mcp/internal/telemetry"
	"github.com/fivetwenty-io/firefly-mcp/pkg/firefly"
	"github.com/fivetwenty-io/firefly-mcp/pkg/fireflyclient"
)

// loadConfig decodes the global viper settings, prompts for a missing token
// when stdin is a terminal, then validates.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Decode(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	if cfg.Token == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), "Firefly III personal access token: ")

		tokenBytes, readErr := term.ReadPassword(int(os.Stdin.Fd()))
		_, _ = fmt.Fprintln(cmd.ErrOrStderr())

		if readErr != nil {
			return nil, fmt.Errorf("failed to read token: %w", readErr)
		}

		cfg.Token = strings.TrimSpace(string(tokenBytes))
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// newLogger builds the process logger. Logs always go to stderr.
func newLogger(cfg *config.Config) firefly.Logger {
	return firefly.NewSlogLogger(telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format))
}

// gateway is a configured client with the settings and logger it was
// built from.
type gateway struct {
	client *fireflyclient.Client
	config *config.Config
	logger firefly.Logger
}

// newGateway loads configuration and builds a gateway client.
func newGateway(cmd *cobra.Command) (*gateway, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg)

	client, err := fireflyclient.New(commandContext(cmd), cfg.ClientConfig(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &gateway{client: client, config: cfg, logger: logger}, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}

	return context.Background()
}

func outputFormat() string {
	return strings.ToLower(viper.GetString(config.KeyOutput))
}

// writeStructured writes value as JSON or YAML. It reports false for the
// table format so the caller can render its own table.
func writeStructured(w io.Writer, value any) (bool, error) {
	switch outputFormat() {
	case constants.FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", strings.Repeat(" ", constants.JSONIndentSize))

		return true, encoder.Encode(value)
	case constants.FormatYAML:
		encoder := yaml.NewEncoder(w)
		defer func() { _ = encoder.Close() }()

		return true, encoder.Encode(toYAMLValue(value))
	default:
		return false, nil
	}
}

// toYAMLValue round-trips value through JSON so YAML output uses the JSON
// field names and shows raw JSON payloads as fields.
func toYAMLValue(value any) any {
	encoded, err := json.Marshal(value)
	if err != nil {
		return value
	}

	var decoded any

	err = json.Unmarshal(encoded, &decoded)
	if err != nil {
		return value
	}

	return decoded
}

// renderJSON prints raw JSON in the selected format; the table format
// falls back to indented JSON.
func renderJSON(w io.Writer, data json.RawMessage) error {
	handled, err := writeStructured(w, data)
	if handled || err != nil {
		return err
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", strings.Repeat(" ", constants.JSONIndentSize))

	return encoder.Encode(data)
}

// renderProperties prints a two-column table of sorted properties.
func renderProperties(w io.Writer, properties map[string]string) error {
	keys := make([]string, 0, len(properties))
	for key := range properties {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	table := tablewriter.NewWriter(w)
	table.Header("Property", "Value")

	for _, key := range keys {
		_ = table.Append(title(key), properties[key])
	}

	err := table.Render()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	return nil
}

// title turns snake_case keys into table headings.
func title(key string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(key, "_", " "))
}

// parseParams parses key=value pairs. Values that parse as JSON keep their
// JSON type; anything else is a string.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))

	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", constants.KeyValueSplitParts)
		if len(parts) != constants.KeyValueSplitParts || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("%q: %w", pair, constants.ErrInvalidParamFormat)
		}

		var value any

		err := json.Unmarshal([]byte(parts[1]), &value)
		if err != nil {
			value = parts[1]
		}

		params[strings.TrimSpace(parts[0])] = value
	}

	return params, nil
}

// readInputFile reads a file named on the command line.
func readInputFile(path string) ([]byte, error) {
	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(path) && strings.HasPrefix(cleanPath, "..") {
		return nil, constants.ErrDirectoryTraversalDetected
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("file not accessible: %w", err)
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", path, constants.ErrNotRegularFile)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return data, nil
}
