package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/garyjia/invoice-approval/internal/application/service"
	"github.com/garyjia/invoice-approval/internal/domain/entity"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Inspect routing decisions",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List approvals, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		c, err := openStorage(ctx)
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		approvals, err := c.Repositories().Approval.List(ctx, port.ApprovalFilter{
			Status: status,
			Limit:  service.ClampLimit(limit),
			Offset: offset,
		})
		if err != nil {
			return fmt.Errorf("approvals list: %w", err)
		}

		if len(approvals) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No approvals found.")
			return nil
		}

		formatApprovalsList(cmd.OutOrStdout(), approvals)
		return nil
	},
}

func init() {
	approvalsListCmd.Flags().String("status", "", "filter by status (auto_approved, pending_manager, approved, declined, ...)")
	approvalsListCmd.Flags().Int("limit", service.DefaultListLimit, "max number of approvals to display")
	approvalsListCmd.Flags().Int("offset", 0, "number of approvals to skip")

	approvalsCmd.AddCommand(approvalsListCmd)
	rootCmd.AddCommand(approvalsCmd)
}

func formatApprovalsList(w io.Writer, approvals []*entity.Approval) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tINVOICE\tSTATUS\tTIER\tDECIDED BY\tREASON")
	for _, a := range approvals {
		tier := a.ApproverTier
		if tier == "" {
			tier = "-"
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\n",
			a.ID, a.InvoiceID, a.Status, tier, a.DecidedBy, ellipsize(a.Reason, 60))
	}
	tw.Flush()
}
