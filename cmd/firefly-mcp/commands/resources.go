package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/fivetwenty-io/firefly-mcp/internal/constants"
	"github.com/fivetwenty-io/firefly-mcp/pkg/firefly"
)

// ResourceInfo describes a resource category for output.
type ResourceInfo struct {
	Name        string   `json:"name"        yaml:"name"`
	Path        string   `json:"path"        yaml:"path"`
	Description string   `json:"description" yaml:"description"`
	Actions     []string `json:"actions"     yaml:"actions"`
	Cacheable   bool     `json:"cacheable"   yaml:"cacheable"`
	TTL         string   `json:"ttl"         yaml:"ttl"`
}

// NewResourcesCommand creates the resources command.
func NewResourcesCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "resources",
		Aliases: []string{"resource", "res"},
		Short:   "List resource categories",
		Long:    "List the Firefly III resource categories exposed as MCP tools",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resources := firefly.DefaultRegistry().All()

			infos := make([]ResourceInfo, 0, len(resources))
			for _, resource := range resources {
				ttl := constants.NotAvailable
				if resource.Cacheable {
					ttl = constants.DefaultCacheTTL.String()
					if resource.TTL > 0 {
						ttl = resource.TTL.String()
					}
				}

				actions := make([]string, 0, len(resource.Actions()))
				for _, action := range resource.Actions() {
					actions = append(actions, string(action))
				}

				infos = append(infos, ResourceInfo{
					Name:        resource.Name,
					Path:        resource.Path,
					Description: resource.Description,
					Actions:     actions,
					Cacheable:   resource.Cacheable,
					TTL:         ttl,
				})
			}

			handled, err := writeStructured(cmd.OutOrStdout(), infos)
			if handled || err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header(title("name"), title("path"), title("actions"), title("cacheable"), title("cache_ttl"), title("description"))

			for _, info := range infos {
				_ = table.Append(info.Name, info.Path, strings.Join(info.Actions, ","), strconv.FormatBool(info.Cacheable), info.TTL, info.Description)
			}

			err = table.Render()
			if err != nil {
				return fmt.Errorf("failed to render table: %w", err)
			}

			return nil
		},
	}
}
