package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/garyjia/invoice-approval/internal/domain/policy"
	"github.com/garyjia/invoice-approval/pkg/utils"
)

// -- export --

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export invoices with their latest approval to an xlsx file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		out, _ := cmd.Flags().GetString("out")
		if dir := filepath.Dir(out); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}
		}

		c, err := openStorage(ctx)
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck

		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("create %s: %w", out, err)
		}

		rows, err := c.Services().Invoice.Export(ctx, f)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(out)
			return fmt.Errorf("export: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d invoices to %s\n", rows, out)
		return nil
	},
}

// -- clear-db --

var clearDBCmd = &cobra.Command{
	Use:   "clear-db",
	Short: "Delete every invoice and approval",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("refusing to clear the database without --yes")
		}

		c, err := openStorage(ctx)
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck

		result, err := c.Services().Invoice.Clear(ctx)
		if err != nil {
			return fmt.Errorf("clear-db: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d invoices and %d approvals\n", result.Invoices, result.Approvals)
		return nil
	},
}

// -- migrate --

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := openStorage(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck

		fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migrations to %s\n", c.MigrationsApplied(), cfg.Database.Path)
		return nil
	},
}

// -- policy check --

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Work with approval policy files",
}

var policyCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate a policy file and print its rules",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := policy.LoadFile(args[0])
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Policy %s is valid\n", args[0])
		if p.Version != "" {
			fmt.Fprintf(w, "  version:              %s\n", p.Version)
		}
		fmt.Fprintf(w, "  auto-approve ceiling: %s\n", p.AutoApproveCeiling)
		fmt.Fprintf(w, "  max invoice age:      %d days\n", p.MaxInvoiceAgeDays)
		fmt.Fprintf(w, "  required fields:      %v\n", p.RequiredFields)
		fmt.Fprintf(w, "  disallowed keywords:  %d\n", len(p.DisallowedKeywords))
		for _, b := range p.TierBoundaries {
			bound := "unbounded"
			if b.UpperBound != nil {
				bound = "up to " + b.UpperBound.String()
			}
			fmt.Fprintf(w, "  tier %-16s %s\n", b.Tier, bound)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().String("out", "invoices.xlsx", "output file path")
	clearDBCmd.Flags().Bool("yes", false, "confirm deleting all data")

	policyCmd.AddCommand(policyCheckCmd)

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(clearDBCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(policyCmd)
}

func ellipsize(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return utils.Truncate(s, n-3) + "..."
}
