package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"evalgo.org/deployer/internal/domains"
	"evalgo.org/deployer/internal/metrics"
	"evalgo.org/deployer/internal/routing"
	"evalgo.org/deployer/internal/storage"
	"evalgo.org/deployer/models"
)

var (
	domainOrg     string
	domainMethod  string
	domainStatus  string
	subdomainPath string
	subdomainSkip string
)

var domainCmd = &cobra.Command{
	Use:   "domain",
	Short: "Manage custom domains",
	Long: `Register custom domains and verify their ownership over DNS.

Examples:
  deployer domain add example.com --org acme --method txt
  deployer domain instructions 4f0c...
  deployer domain verify 4f0c...
  deployer domain sweep`,
}

var domainAddCmd = &cobra.Command{
	Use:   "add <domain>",
	Short: "Register a domain pending verification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		method, err := parseMethod(domainMethod)
		if err != nil {
			return err
		}
		return withStore(cmd, func(ctx context.Context, store storage.Store) error {
			d := &models.OrganizationDomain{
				OrganizationID:     domainOrg,
				Domain:             strings.ToLower(strings.TrimSpace(args[0])),
				VerificationMethod: method,
				VerificationToken:  domains.GenerateVerificationToken(),
			}
			if err := store.CreateOrganizationDomain(ctx, d); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Registered %s (ID: %s)\n\n", d.Domain, d.ID)
			return printInstructions(cmd.OutOrStdout(), domains.Instructions(*d, cfg.Domains.VerificationHost))
		})
	},
}

var domainListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered domains",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, store storage.Store) error {
			list, err := store.ListOrganizationDomains(ctx, models.VerificationStatus(domainStatus))
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			defer tw.Flush()
			fmt.Fprintln(tw, "ID\tDOMAIN\tMETHOD\tSTATUS\tCREATED")
			for _, d := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Domain, d.VerificationMethod, d.VerificationStatus, d.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		})
	},
}

var domainVerifyCmd = &cobra.Command{
	Use:   "verify <domain-id>",
	Short: "Check a domain's verification record now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVerifier(cmd, func(ctx context.Context, v *domains.Verifier) error {
			res, err := v.VerifyDomain(ctx, args[0])
			if err != nil {
				return err
			}
			return printVerification(cmd.OutOrStdout(), res)
		})
	},
}

var domainRetryCmd = &cobra.Command{
	Use:   "retry <domain-id>",
	Short: "Reset a failed domain to pending and check it again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVerifier(cmd, func(ctx context.Context, v *domains.Verifier) error {
			res, err := v.RetryVerification(ctx, args[0])
			if err != nil {
				return err
			}
			return printVerification(cmd.OutOrStdout(), res)
		})
	},
}

var domainInstructionsCmd = &cobra.Command{
	Use:   "instructions <domain-id>",
	Short: "Show the DNS record proving ownership of a domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVerifier(cmd, func(ctx context.Context, v *domains.Verifier) error {
			ins, err := v.Instructions(ctx, args[0])
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				return writeJSON(cmd.OutOrStdout(), ins)
			}
			return printInstructions(cmd.OutOrStdout(), *ins)
		})
	},
}

var domainSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Verify every pending domain once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, store storage.Store) error {
			v := newVerifier(cfg, store, metrics.New(), logger)
			report := domains.NewSweeper(v, store, cfg.Domains.SweepInterval, logger).RunOnce(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "Checked %d domain(s): %d verified, %d failed, %d error(s)\n",
				report.Checked, report.Verified, report.Failed, report.Errors)
			return nil
		})
	},
}

var subdomainCmd = &cobra.Command{
	Use:   "subdomain",
	Short: "Inspect service routes under project domains",
}

var subdomainCheckCmd = &cobra.Command{
	Use:   "check <project-domain-id> <subdomain>",
	Short: "Check whether a subdomain and base path are free",
	Long: `Check whether a subdomain and base path are free under a project domain.
Use "@" for the apex domain.

Examples:
  deployer subdomain check pd-1 api
  deployer subdomain check pd-1 api --base-path /v2`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, store storage.Store) error {
			res, err := routing.NewChecker(store).CheckSubdomainAvailability(ctx, args[0], args[1], subdomainPath, subdomainSkip)
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			mark := "✓"
			if !res.Available {
				mark = "✗"
			}
			fmt.Fprintf(out, "%s %s\n", mark, res.Message)
			for _, m := range res.Conflicts {
				fmt.Fprintf(out, "  conflict: %s (service %s)\n", m.FullURL(), m.ServiceID)
			}
			if len(res.Suggestions) > 0 {
				fmt.Fprintf(out, "  try: %s\n", strings.Join(res.Suggestions, ", "))
			}
			return nil
		})
	},
}

func init() {
	domainCmd.AddCommand(domainAddCmd)
	domainCmd.AddCommand(domainListCmd)
	domainCmd.AddCommand(domainVerifyCmd)
	domainCmd.AddCommand(domainRetryCmd)
	domainCmd.AddCommand(domainInstructionsCmd)
	domainCmd.AddCommand(domainSweepCmd)

	domainAddCmd.Flags().StringVar(&domainOrg, "org", "", "owning organization id")
	domainAddCmd.Flags().StringVar(&domainMethod, "method", "txt", "verification method (txt, cname)")
	domainListCmd.Flags().StringVar(&domainStatus, "status", "", "filter by status (pending, verified, failed)")
	domainCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format (table, json)")

	subdomainCmd.AddCommand(subdomainCheckCmd)
	subdomainCheckCmd.Flags().StringVar(&subdomainPath, "base-path", "", "base path of the route")
	subdomainCheckCmd.Flags().StringVar(&subdomainSkip, "exclude-service", "", "ignore routes owned by this service")
	subdomainCheckCmd.Flags().StringVar(&outputFormat, "format", "table", "output format (table, json)")
}

func parseMethod(s string) (models.VerificationMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "txt", string(models.VerificationTXT):
		return models.VerificationTXT, nil
	case "cname", string(models.VerificationCNAME):
		return models.VerificationCNAME, nil
	default:
		return "", fmt.Errorf("unknown verification method %q (use txt or cname)", s)
	}
}

func withStore(cmd *cobra.Command, fn func(context.Context, storage.Store) error) error {
	ctx := cmd.Context()
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()
	return fn(ctx, store)
}

func withVerifier(cmd *cobra.Command, fn func(context.Context, *domains.Verifier) error) error {
	return withStore(cmd, func(ctx context.Context, store storage.Store) error {
		return fn(ctx, newVerifier(cfg, store, metrics.New(), logger))
	})
}

func printVerification(w io.Writer, res *domains.VerificationResult) error {
	if outputFormat == "json" {
		return writeJSON(w, res)
	}
	if res.Verified {
		fmt.Fprintf(w, "✓ %s is verified\n", res.Domain)
		return nil
	}
	fmt.Fprintf(w, "✗ %s is %s: %s\n", res.Domain, res.Status, res.Reason)
	return nil
}

func printInstructions(w io.Writer, ins domains.VerificationInstructions) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintf(tw, "TYPE\t%s\n", ins.RecordType)
	fmt.Fprintf(tw, "NAME\t%s\n", ins.RecordName)
	fmt.Fprintf(tw, "VALUE\t%s\n", ins.RecordValue)
	if ins.Description != "" {
		fmt.Fprintf(tw, "\n%s\n", ins.Description)
	}
	return nil
}
