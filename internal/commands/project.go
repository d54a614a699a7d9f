package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"evalgo.org/deployer/internal/metrics"
)

var (
	projectHost    string
	projectService string
	routerPort     int
	routerTemplate string
)

var projectServerCmd = &cobra.Command{
	Use:     "project-server",
	Aliases: []string{"ps"},
	Short:   "Manage per-project front servers",
	Long: `Manage the shared front HTTP server of a project.

Examples:
  deployer project-server ensure p-42 --host docs.example.com
  deployer project-server repair p-42 --service docs
  deployer project-server router add p-42 docs --host docs.example.com
  deployer project-server router remove p-42 docs`,
}

var projectEnsureCmd = &cobra.Command{
	Use:   "ensure <project-id>",
	Short: "Create the front server or converge it to the expected state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine) error {
			ps, err := eng.servers.EnsureProjectServerForProject(ctx, args[0], projectHost)
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				return writeJSON(cmd.OutOrStdout(), ps)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is running (%s)\n", ps.ContainerName, shortIDs([]string{ps.ContainerID})[0])
			return nil
		})
	},
}

var projectRepairCmd = &cobra.Command{
	Use:   "repair <project-id>",
	Short: "Converge the front server and a service's vhost",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, eng *engine) error {
			if !eng.servers.EnsureProjectServerHealth(ctx, args[0], projectHost, projectService) {
				return fmt.Errorf("project server for %s is unhealthy", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ project server for %s is healthy\n", args[0])
			return nil
		})
	},
}

var routerCmd = &cobra.Command{
	Use:   "router",
	Short: "Manage proxy routers of a project's services",
}

var routerAddCmd = &cobra.Command{
	Use:   "add <project-id> <service>",
	Short: "Write the proxy router of a service",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if projectHost == "" {
			return fmt.Errorf("--host is required")
		}
		tmpl := ""
		if routerTemplate != "" {
			data, err := os.ReadFile(routerTemplate)
			if err != nil {
				return fmt.Errorf("failed to read template: %w", err)
			}
			tmpl = string(data)
		}
		return withEngine(cmd, func(_ context.Context, eng *engine) error {
			file, err := eng.servers.AddServiceRouter(args[0], args[1], projectHost, routerPort, tmpl)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", file)
			return nil
		})
	},
}

var routerRemoveCmd = &cobra.Command{
	Use:   "remove <project-id> <service>",
	Short: "Delete the proxy router of a service",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(_ context.Context, eng *engine) error {
			if err := eng.servers.RemoveServiceRouter(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed router of %s\n", args[1])
			return nil
		})
	},
}

func init() {
	projectServerCmd.AddCommand(projectEnsureCmd)
	projectServerCmd.AddCommand(projectRepairCmd)
	projectServerCmd.AddCommand(routerCmd)
	routerCmd.AddCommand(routerAddCmd)
	routerCmd.AddCommand(routerRemoveCmd)

	projectServerCmd.PersistentFlags().StringVar(&projectHost, "host", "", "public host name routed to the server")
	projectEnsureCmd.Flags().StringVar(&outputFormat, "format", "table", "output format (table, json)")
	projectRepairCmd.Flags().StringVar(&projectService, "service", "", "service whose vhost is repaired")
	routerAddCmd.Flags().IntVar(&routerPort, "port", 80, "port the front server listens on")
	routerAddCmd.Flags().StringVar(&routerTemplate, "template", "", "router template file (default: built-in)")
}

func withEngine(cmd *cobra.Command, fn func(context.Context, *engine) error) error {
	eng, err := newEngine(cfg, metrics.New(), nil, logger)
	if err != nil {
		return err
	}
	defer eng.Close()
	return fn(cmd.Context(), eng)
}
