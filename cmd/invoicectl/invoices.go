package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/garyjia/invoice-approval/internal/application/service"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
)

var invoicesCmd = &cobra.Command{
	Use:   "invoices",
	Short: "Inspect submitted invoices",
}

// -- invoices list --

var invoicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List invoices, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		c, err := openStorage(ctx)
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		invoices, err := c.Services().Invoice.List(ctx, limit, offset)
		if err != nil {
			return fmt.Errorf("invoices list: %w", err)
		}

		if len(invoices) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No invoices found.")
			return nil
		}

		formatInvoicesList(cmd.OutOrStdout(), invoices)
		return nil
	},
}

// -- invoices get --

var invoicesGetCmd = &cobra.Command{
	Use:   "get <invoice-id>",
	Short: "Show an invoice as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid invoice id %q", args[0])
		}

		c, err := openStorage(ctx)
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck

		invoice, err := c.Services().Invoice.Get(ctx, id)
		if errors.Is(err, service.ErrNotFound) {
			return fmt.Errorf("invoice %d not found", id)
		}
		if err != nil {
			return fmt.Errorf("invoices get: %w", err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(invoice)
	},
}

func init() {
	invoicesListCmd.Flags().Int("limit", service.DefaultListLimit, "max number of invoices to display")
	invoicesListCmd.Flags().Int("offset", 0, "number of invoices to skip")

	invoicesCmd.AddCommand(invoicesListCmd)
	invoicesCmd.AddCommand(invoicesGetCmd)
	rootCmd.AddCommand(invoicesCmd)
}

func formatInvoicesList(w io.Writer, invoices []*entity.Invoice) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNUMBER\tSUPPLIER\tTOTAL\tSTATUS\tDUPLICATE OF\tSUBMITTED")
	for _, inv := range invoices {
		total := "-"
		if inv.Extraction.TotalAmount != nil {
			total = inv.Extraction.TotalAmount.String()
			if cur := entity.StringValue(inv.Extraction.Currency); cur != "" {
				total += " " + cur
			}
		}
		dup := "-"
		if inv.DuplicateOf != nil {
			dup = strconv.FormatInt(*inv.DuplicateOf, 10)
		}
		supplier := entity.StringValue(inv.Extraction.SupplierName)
		if supplier == "" {
			supplier = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			inv.ID,
			inv.DisplayNumber(),
			supplier,
			total,
			inv.ApprovalStatus,
			dup,
			inv.CreatedAt.UTC().Format("2006-01-02 15:04"),
		)
	}
	tw.Flush()
}
