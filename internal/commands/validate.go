package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"evalgo.org/deployer/internal/api"
	"evalgo.org/deployer/internal/validation"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a deployment request document",
	Long: `Validate a JSON deployment request as accepted by POST /api/v1/deployments.

Examples:
  deployer validate deploy-web.json`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	// Read file
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var req api.DeployRequest
	result := validation.New().ValidateDocument(data, &req)

	// Print results
	out := cmd.OutOrStdout()
	if result.Valid {
		fmt.Fprintf(out, "✓ Document is valid (%s deployment of %s)\n", req.BuildType, req.ServiceName)
		return nil
	}

	fmt.Fprintln(out, "✗ Validation failed:")
	for _, e := range result.Errors {
		if e.Value != nil {
			fmt.Fprintf(out, "  - %s: %s (value: %v)\n", e.Field, e.Message, e.Value)
		} else {
			fmt.Fprintf(out, "  - %s: %s\n", e.Field, e.Message)
		}
	}

	return fmt.Errorf("validation failed")
}
