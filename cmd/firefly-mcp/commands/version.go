package commands

import (
	"runtime"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cobra"
)

// VersionInfo is the version command output.
type VersionInfo struct {
	Version     string `json:"version"      yaml:"version"`
	Commit      string `json:"commit"       yaml:"commit"`
	Built       string `json:"built"        yaml:"built"`
	GoVersion   string `json:"go_version"   yaml:"go_version"`
	MCPProtocol string `json:"mcp_protocol" yaml:"mcp_protocol"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand(version, commit, date string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display version information",
		Long:  "Display detailed version information about the Firefly III MCP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := VersionInfo{
				Version:     version,
				Commit:      commit,
				Built:       date,
				GoVersion:   runtime.Version(),
				MCPProtocol: mcp.LATEST_PROTOCOL_VERSION,
			}

			handled, err := writeStructured(cmd.OutOrStdout(), info)
			if handled || err != nil {
				return err
			}

			return renderProperties(cmd.OutOrStdout(), map[string]string{
				"version":      info.Version,
				"commit":       info.Commit,
				"built":        info.Built,
				"go_version":   info.GoVersion,
				"mcp_protocol": info.MCPProtocol,
			})
		},
	}
}
