//go:build integration

package integration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/fivetwenty-io/firefly-mcp/pkg/firefly"
	"github.com/fivetwenty-io/firefly-mcp/pkg/fireflyclient"
)

// TestConfig holds configuration for integration tests.
type TestConfig struct {
	BaseURL    string
	Token      string
	BinaryPath string
	Verbose    bool
}

// LoadTestConfig loads configuration from environment variables.
func LoadTestConfig() *TestConfig {
	return &TestConfig{
		BaseURL:    os.Getenv("FIREFLY_URL"),
		Token:      os.Getenv("FIREFLY_TOKEN"),
		BinaryPath: getBinaryPath(),
		Verbose:    os.Getenv("FIREFLY_MCP_VERBOSE") == "true",
	}
}

// getBinaryPath determines the path to the firefly-mcp binary.
func getBinaryPath() string {
	if path := os.Getenv("FIREFLY_MCP_BINARY_PATH"); path != "" {
		return path
	}

	candidates := []string{
		"../../firefly-mcp",
		"./firefly-mcp",
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "firefly-mcp"
}

// SkipIfMissingConfig skips the test when no Firefly III instance is configured.
func (config *TestConfig) SkipIfMissingConfig(t *testing.T) {
	t.Helper()

	if config.BaseURL == "" || config.Token == "" {
		t.Skip("FIREFLY_URL and FIREFLY_TOKEN not set, skipping integration test")
	}
}

// NewClient creates a gateway client for the configured instance.
func (config *TestConfig) NewClient(ctx context.Context) (*fireflyclient.Client, error) {
	client, err := fireflyclient.New(ctx, &fireflyclient.Config{
		BaseURL:       config.BaseURL,
		Token:         config.Token,
		AllowInsecure: strings.HasPrefix(config.BaseURL, "http://"),
		Debug:         config.Verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}

	return client, nil
}

// CommandRunner runs the firefly-mcp binary.
type CommandRunner struct {
	config *TestConfig
	t      *testing.T
}

// NewCommandRunner creates a new command runner.
func NewCommandRunner(config *TestConfig, t *testing.T) *CommandRunner {
	return &CommandRunner{
		config: config,
		t:      t,
	}
}

// Available reports whether the binary can be found.
func (runner *CommandRunner) Available() bool {
	_, err := exec.LookPath(runner.config.BinaryPath)

	return err == nil
}

// Run executes a firefly-mcp command and returns its output.
func (runner *CommandRunner) Run(args ...string) (stdout, stderr string, err error) {
	cmd := exec.Command(runner.config.BinaryPath, args...)
	cmd.Env = append(os.Environ(),
		"FIREFLY_URL="+runner.config.BaseURL,
		"FIREFLY_TOKEN="+runner.config.Token,
	)

	var stdoutBuf, stderrBuf bytes.Buffer

	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	if runner.config.Verbose {
		runner.t.Logf("Running: %s %s", runner.config.BinaryPath, strings.Join(args, " "))
	}

	err = cmd.Run()
	stdout = stdoutBuf.String()
	stderr = stderrBuf.String()

	if runner.config.Verbose && err != nil {
		runner.t.Logf("Command failed: %v\nStdout: %s\nStderr: %s", err, stdout, stderr)
	}

	return stdout, stderr, err
}

// GenerateTestName creates a unique test resource name.
func GenerateTestName(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// CleanupResource deletes a test resource, logging failures.
func CleanupResource(t *testing.T, client *fireflyclient.Client, resource, id string) {
	t.Helper()

	_, err := client.Execute(context.Background(), resource, "delete", map[string]any{firefly.ParamID: id})
	if err != nil && !firefly.IsNotFound(err) {
		t.Logf("Cleanup warning for %s %s: %v", resource, id, err)
	}
}
