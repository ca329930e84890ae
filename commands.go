package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/anirudhbiyani/aws-mcp/pkg/awsmcp"
	"github.com/anirudhbiyani/aws-mcp/pkg/config"
	"github.com/anirudhbiyani/aws-mcp/pkg/mcpserver"
	awsprovider "github.com/anirudhbiyani/aws-mcp/pkg/providers/aws"
	"github.com/anirudhbiyani/aws-mcp/pkg/telemetry"
	"github.com/anirudhbiyani/aws-mcp/pkg/tools"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "aws-mcp",
		Short: "Multi-account AWS tools for MCP clients",
		Long: `aws-mcp serves AWS operations as Model Context Protocol tools.

Every tool accepts an optional "account" argument selecting one of the
configured accounts. Accounts, regions and cost policy are configured
through AWS_* environment variables and an optional YAML accounts file
(AWS_MCP_ACCOUNTS_FILE).`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newValidateCmd(),
		newToolsCmd(),
		newCostsCmd(),
		newVersionCmd(),
	)
	return root
}

func newServeCmd() *cobra.Command {
	var transport, httpAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve tools over stdio or streamable HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if transport != "" {
				cfg.Transport = transport
			}
			if httpAddr != "" {
				cfg.HTTPAddr = httpAddr
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "", "transport: stdio or http (overrides AWS_MCP_TRANSPORT)")
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "listen address for the http transport (overrides AWS_MCP_HTTP_ADDR)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(os.Stderr, cfg.LogLevel)

	shutdown, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: mcpserver.ServerName,
		Version:     Version,
		Endpoint:    cfg.OTelEndpoint,
		Enabled:     cfg.OTelEnabled,
	})
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	a, err := newApp(cfg, logger, awsprovider.New(awsprovider.WithLogger(logger)))
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}()

	server, err := mcpserver.New(a.dispatcher, mcpserver.WithLogger(logger), mcpserver.WithVersion(Version))
	if err != nil {
		return err
	}

	logger.Info("aws-mcp starting",
		"version", Version,
		"transport", cfg.Transport,
		"default_account", cfg.DefaultAccount,
		"accounts", cfg.Names(),
	)

	switch cfg.Transport {
	case config.TransportHTTP:
		return server.ServeHTTP(ctx, cfg.HTTPAddr)
	default:
		return server.ServeStdio(ctx)
	}
}

func newValidateCmd() *cobra.Command {
	var (
		account string
		offline bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run pre-flight checks against the configured accounts",
		Long: `Run pre-flight checks for every configured account: identity, regions
and cost policy, plus live checks (STS caller identity, IAM role) unless
--offline is given. Exits with status 2 when any account is invalid.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)

			validators := awsmcp.StandardValidators()
			if !offline {
				validators = append(validators, awsprovider.LiveValidators()...)
			}

			names := cfg.Names()
			if account != "" {
				if !slices.Contains(names, account) {
					return fmt.Errorf("unknown account: %s", account)
				}
				names = []string{account}
			}

			reports := validateAccounts(cmd.Context(), cfg, names, validators,
				awsprovider.New(awsprovider.WithLogger(logger)), logger)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(reports); err != nil {
					return err
				}
			} else {
				for _, r := range reports {
					printReport(out, cfg, r)
				}
			}

			for _, r := range reports {
				if !r.IsValid() {
					return &exitCodeError{code: exitValidationError}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "validate only this account")
	cmd.Flags().BoolVar(&offline, "offline", false, "skip checks that call AWS")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print reports as JSON")
	return cmd
}

// validateAccounts runs validators for each account. An invalid default
// account is reported like any other instead of aborting.
func validateAccounts(ctx context.Context, cfg *config.Config, names []string, validators []awsmcp.Validator, provider *awsprovider.Provider, logger *slog.Logger) []*awsmcp.ValidationReport {
	reports := make([]*awsmcp.ValidationReport, 0, len(names))
	for _, name := range names {
		reg := awsmcp.NewClientRegistry(cfg.Accounts[name].Binding(name),
			awsmcp.NewCredentialResolver(provider, provider, logger.With("account", name)),
			provider, logger)
		reports = append(reports, awsmcp.RunValidation(ctx, reg, validators))
	}
	return reports
}

func printReport(w io.Writer, cfg *config.Config, r *awsmcp.ValidationReport) {
	label := r.Account
	if r.Account == cfg.DefaultAccount {
		label += " (default)"
	}
	settings := cfg.Accounts[r.Account]

	fmt.Fprintf(w, "\n=== Account: %s ===\n", label)
	fmt.Fprintf(w, "Regions: %s (default %s, failover %t)\n",
		strings.Join(settings.EnabledRegions, ", "), settings.DefaultRegion, settings.RegionFailover)
	fmt.Fprintf(w, "Valid: %t\n", r.IsValid())
	fmt.Fprintf(w, "Checks: %d passed, %d failed, %d skipped\n",
		r.Summary.PassedChecks, r.Summary.FailedChecks, r.Summary.SkippedChecks)

	for _, check := range r.Checks {
		status := "✓"
		switch check.Status {
		case awsmcp.CheckStatusFailed:
			status = "✗"
		case awsmcp.CheckStatusSkipped:
			status = "○"
		}

		fmt.Fprintf(w, "%s %s [%s]\n", status, check.Name, check.Severity)
		if check.Status == awsmcp.CheckStatusFailed && check.Remediation != "" {
			fmt.Fprintf(w, "  Remediation: %s\n", check.Remediation)
		}
	}
}

func newToolsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the available tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := awsmcp.NewToolRegistry()
			if err := tools.Register(reg); err != nil {
				return err
			}
			specs := reg.Specs()
			out := cmd.OutOrStdout()

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(specs)
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSERVICE\tMUTATING\tDESCRIPTION")
			for _, s := range specs {
				mutating := "no"
				if s.Mutating {
					mutating = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, s.Service, mutating, s.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print tool specs, including input schemas, as JSON")
	return cmd
}

func newCostsCmd() *cobra.Command {
	var (
		file    string
		account string
		day     string
	)

	cmd := &cobra.Command{
		Use:   "costs",
		Short: "Show estimated costs recorded in the cost ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := file
			if path == "" {
				path = os.Getenv("AWS_COST_LEDGER_FILE")
			}
			if path == "" {
				path = awsmcp.DefaultLedgerPath()
			}
			ledger, err := awsmcp.NewFileLedger(path)
			if err != nil {
				return err
			}

			filter := awsmcp.LedgerFilter{Account: account}
			if day != "" {
				if _, err := time.Parse(time.DateOnly, day); err != nil {
					return fmt.Errorf("invalid --day %q: want YYYY-MM-DD", day)
				}
				filter.Day = day
			}
			records, err := ledger.List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No cost records.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tACCOUNT\tTOOL\tCLASS\tMONTHLY ESTIMATE")
			var total float64
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t$%.2f\n",
					r.RecordedAt.UTC().Format(time.RFC3339), r.Account, r.Tool, r.ResourceClass, r.Estimate)
				total += r.Estimate
			}
			fmt.Fprintf(tw, "\t\t\tTOTAL\t$%.2f\n", total)
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "ledger file (default AWS_COST_LEDGER_FILE or ~/.aws-mcp/costs.json)")
	cmd.Flags().StringVar(&account, "account", "", "only this account")
	cmd.Flags().StringVar(&day, "day", "", "only this UTC day (YYYY-MM-DD)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "aws-mcp version %s\n", Version)
			fmt.Fprintf(out, "  Tools: %d\n", len(tools.All()))
			fmt.Fprintf(out, "  Services: %s\n", strings.Join(awsprovider.Services, ", "))
		},
	}
}
