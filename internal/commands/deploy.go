package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"evalgo.org/deployer/internal/metrics"
	"evalgo.org/deployer/internal/orchestration"
	"evalgo.org/deployer/models"
	"evalgo.org/deployer/pkg/deployer/client"
)

var (
	deployID         string
	deployName       string
	deployPort       int
	deployHealthPath string
	deployEnv        map[string]string
	deployMemory     string
	deployCPU        string
	deployServer     string

	bpLanguage string
	bpVersion  string
	bpInstall  string
	bpBuild    string
	bpStart    string

	composeFile     string
	composeProject  string
	composeServices []string

	staticProject   string
	staticDomain    string
	staticSubdomain string
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a source directory on the local Docker host",
	Long: `Deploy a source directory with one of the build strategies.

Examples:
  # Detect the language, build an image and run it
  deployer deploy buildpack ./my-app --port 8080

  # Bring up a compose project
  deployer deploy compose ./stack --file compose.prod.yml

  # Publish a static site under docs.example.com
  deployer deploy static ./public --project p-42 --domain example.com --subdomain docs`,
}

var deployBuildpackCmd = &cobra.Command{
	Use:   "buildpack <source-dir>",
	Short: "Build an image from detected sources and run it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bc := baseBuilderConfig(args[0])
		lang, err := models.ParseLanguage(bpLanguage)
		if err != nil {
			return err
		}
		if lang != "" || bpVersion != "" || bpInstall != "" || bpBuild != "" || bpStart != "" {
			bc.Buildpack = &models.BuildpackOptions{
				Language:       lang,
				Version:        bpVersion,
				InstallCommand: bpInstall,
				BuildCommand:   bpBuild,
				StartCommand:   bpStart,
			}
		}
		return runDeploy(cmd, models.BuildTypeBuildpack, bc)
	},
}

var deployComposeCmd = &cobra.Command{
	Use:   "compose <source-dir>",
	Short: "Bring up a Docker Compose project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bc := baseBuilderConfig(args[0])
		bc.Compose = composeOptions()
		return runDeploy(cmd, models.BuildTypeCompose, bc)
	},
}

var deployStaticCmd = &cobra.Command{
	Use:   "static <source-dir>",
	Short: "Publish a directory through the project front server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bc := baseBuilderConfig(args[0])
		bc.Static = staticOptions()
		return runDeploy(cmd, models.BuildTypeStatic, bc)
	},
}

var teardownCmd = &cobra.Command{
	Use:   "teardown <compose|static> <source-dir>",
	Short: "Remove a compose stack or a static site's router",
	Long: `Remove a deployment.

Compose stacks are taken down with their volumes. Static sites lose their
proxy router; released files stay on the shared volume.

Examples:
  deployer teardown compose ./stack --name shop
  deployer teardown static ./public --name docs --project p-42`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		bc := baseBuilderConfig(args[1])
		bt := models.BuildType(args[0])
		switch bt {
		case models.BuildTypeCompose:
			bc.Compose = composeOptions()
		case models.BuildTypeStatic:
			bc.Static = staticOptions()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if deployServer != "" {
			c, err := client.New(deployServer)
			if err != nil {
				return err
			}
			if err := c.Teardown(ctx, client.RequestFromConfig(bt, bc)); err != nil {
				return err
			}
		} else {
			eng, err := newEngine(cfg, metrics.New(), nil, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.deployer.Teardown(ctx, bt, bc); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed %s deployment %s\n", bt, bc.ServiceName)
		return nil
	},
}

func init() {
	deployCmd.AddCommand(deployBuildpackCmd)
	deployCmd.AddCommand(deployComposeCmd)
	deployCmd.AddCommand(deployStaticCmd)

	pf := deployCmd.PersistentFlags()
	pf.StringVar(&deployID, "id", "", "deployment id (default: generated)")
	pf.StringVar(&deployName, "name", "", "service name (default: source directory name)")
	pf.IntVar(&deployPort, "port", 0, "container port (default: detected)")
	pf.StringVar(&deployHealthPath, "health-path", "", "health check path (default: /health)")
	pf.StringToStringVarP(&deployEnv, "env", "e", nil, "environment variables (KEY=VALUE)")
	pf.StringVar(&deployMemory, "memory", "", "memory limit, e.g. 512m")
	pf.StringVar(&deployCPU, "cpu", "", "cpu limit, e.g. 0.5")
	pf.StringVar(&outputFormat, "format", "table", "output format (table, json)")
	pf.StringVar(&deployServer, "server", "", "deploy through a running API server (source paths are resolved on the server)")

	deployBuildpackCmd.Flags().StringVar(&bpLanguage, "language", "", "skip detection (nodejs, python, ruby, go)")
	deployBuildpackCmd.Flags().StringVar(&bpVersion, "runtime-version", "", "language runtime version")
	deployBuildpackCmd.Flags().StringVar(&bpInstall, "install-command", "", "dependency install command")
	deployBuildpackCmd.Flags().StringVar(&bpBuild, "build-command", "", "build command")
	deployBuildpackCmd.Flags().StringVar(&bpStart, "start-command", "", "start command")

	addComposeFlags(deployComposeCmd)
	addStaticFlags(deployStaticCmd)

	teardownCmd.Flags().StringVar(&deployName, "name", "", "service name (default: source directory name)")
	teardownCmd.Flags().StringVar(&deployServer, "server", "", "tear down through a running API server")
	addComposeFlags(teardownCmd)
	addStaticFlags(teardownCmd)
}

func addComposeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&composeFile, "file", "f", "", "compose file relative to the source (default: docker-compose.yml)")
	cmd.Flags().StringVar(&composeProject, "project-name", "", "compose project name (default: service name)")
	if cmd != teardownCmd {
		cmd.Flags().StringSliceVar(&composeServices, "services", nil, "subset of services to start")
	}
}

func addStaticFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&staticProject, "project", "", "project id owning the front server")
	cmd.Flags().StringVar(&staticDomain, "domain", "", "domain serving the site (default: routing.base_domain)")
	cmd.Flags().StringVar(&staticSubdomain, "subdomain", "", "subdomain of the site (default: service name)")
}

func baseBuilderConfig(source string) *models.BuilderConfig {
	abs, err := filepath.Abs(source)
	if err != nil {
		abs = source
	}
	name := deployName
	if name == "" {
		name = filepath.Base(abs)
	}
	return &models.BuilderConfig{
		DeploymentID:         deployID,
		ServiceName:          name,
		SourcePath:           abs,
		EnvironmentVariables: deployEnv,
		Port:                 deployPort,
		HealthCheckPath:      deployHealthPath,
		ResourceLimits:       models.ResourceLimits{Memory: deployMemory, CPU: deployCPU},
	}
}

func composeOptions() *models.ComposeOptions {
	return &models.ComposeOptions{ComposeFile: composeFile, ProjectName: composeProject, Services: composeServices}
}

func staticOptions() *models.StaticOptions {
	return &models.StaticOptions{ProjectID: staticProject, Domain: staticDomain, Subdomain: staticSubdomain}
}

func runDeploy(cmd *cobra.Command, bt models.BuildType, bc *models.BuilderConfig) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	asJSON := outputFormat == "json"
	out := cmd.OutOrStdout()

	var res *models.BuilderResult
	var err error
	if deployServer != "" {
		res, err = deployRemote(ctx, bt, bc)
	} else {
		res, err = deployLocal(ctx, bt, bc, progressPrinter(out, asJSON))
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("deployment interrupted: %w", err)
		}
		return err
	}

	if asJSON {
		if err := writeJSON(out, res); err != nil {
			return err
		}
	} else {
		printResult(out, res)
	}

	if res.Status == models.StatusFailed {
		return fmt.Errorf("deployment %s failed: %s", res.DeploymentID, res.Message)
	}
	return nil
}

func deployLocal(ctx context.Context, bt models.BuildType, bc *models.BuilderConfig, progress orchestration.Publisher) (*models.BuilderResult, error) {
	eng, err := newEngine(cfg, metrics.New(), progress, logger)
	if err != nil {
		return nil, err
	}
	defer eng.Close()
	return eng.deployer.Deploy(ctx, bt, bc)
}

func deployRemote(ctx context.Context, bt models.BuildType, bc *models.BuilderConfig) (*models.BuilderResult, error) {
	c, err := client.New(deployServer)
	if err != nil {
		return nil, err
	}
	return c.Deploy(ctx, client.RequestFromConfig(bt, bc))
}
