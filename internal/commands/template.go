package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"evalgo.org/deployer/internal/routing"
)

var templateVars map[string]string

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Work with proxy router templates",
	Long: `Work with proxy router templates.

Templates are YAML documents with ~##name##~ placeholders.

Examples:
  deployer template default > router.yml
  deployer template validate router.yml
  deployer template validate router.yml --var host=docs.example.com --var routerName=p1-docs`,
}

var templateDefaultCmd = &cobra.Command{
	Use:   "default",
	Short: "Print the built-in router template",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := fmt.Fprint(cmd.OutOrStdout(), routing.DefaultRouterTemplate)
		return err
	},
}

var templateValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a template and optionally render it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		tmpl := string(data)
		out := cmd.OutOrStdout()

		v := routing.ValidateTemplate(tmpl)
		for _, w := range v.Warnings {
			fmt.Fprintf(out, "  ! %s\n", w)
		}
		if !v.Valid() {
			fmt.Fprintln(out, "✗ Template is invalid:")
			for _, e := range v.Errors {
				fmt.Fprintf(out, "  - %s\n", e)
			}
			return fmt.Errorf("validation failed")
		}

		if len(templateVars) == 0 {
			fmt.Fprintf(out, "✓ Template is valid (%d variable(s))\n", len(v.Variables))
			return nil
		}

		rendered, err := routing.Render(tmpl, templateVars)
		if errors.Is(err, routing.ErrUnresolvedVariables) {
			fmt.Fprintln(out, "✗ Unresolved variables:")
			for _, name := range routing.UnresolvedVariables(routing.ParseTemplate(tmpl, templateVars)) {
				fmt.Fprintf(out, "  - %s\n", name)
			}
			return fmt.Errorf("validation failed")
		}
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(out, rendered)
		return err
	},
}

func init() {
	templateCmd.AddCommand(templateDefaultCmd)
	templateCmd.AddCommand(templateValidateCmd)
	templateValidateCmd.Flags().StringToStringVar(&templateVars, "var", nil, "variable values (name=value); renders the template")
}
