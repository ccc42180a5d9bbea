package main

import (
	"fmt"
	"strings"

	"github.com/rpattn/shopwindow/internal/domain"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newBatchCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Inspect and manage import batches",
	}
	cmd.AddCommand(
		newBatchShowCmd(root),
		newBatchListCmd(root),
		newBatchCancelCmd(root),
		newBatchApproveCmd(root),
	)
	return cmd
}

func parseBatchID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, withCode(exitUsage, fmt.Errorf("invalid batch id %q: %w", raw, err))
	}
	return id, nil
}

func newBatchShowCmd(root *rootOptions) *cobra.Command {
	var history bool

	cmd := &cobra.Command{
		Use:   "show <batch-id>",
		Short: "Show a batch with its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBatchID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := root.openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			b, err := a.batches.Get(ctx, id)
			if err != nil {
				return err
			}
			out := struct {
				Batch   domain.Batch        `json:"batch"`
				Summary domain.BatchSummary `json:"summary"`
				History []domain.AuditEntry `json:"history,omitempty"`
			}{Batch: b, Summary: b.Summary()}
			if history {
				if out.History, err = a.batches.History(ctx, id); err != nil {
					return err
				}
			}
			return printJSON(root.out, out)
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "Include the audit trail")
	return cmd
}

func newBatchListCmd(root *rootOptions) *cobra.Command {
	var (
		days     int
		statuses []string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent batches, or batches in the given statuses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := root.openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			var list []domain.Batch
			if len(statuses) > 0 {
				wanted := make([]domain.BatchStatus, len(statuses))
				for i, s := range statuses {
					wanted[i] = domain.BatchStatus(strings.ToUpper(strings.TrimSpace(s)))
				}
				list, err = a.batches.ListByStatus(ctx, wanted...)
			} else {
				list, err = a.batches.Recent(ctx, days)
			}
			if err != nil {
				return err
			}
			for _, b := range list {
				fmt.Fprintf(root.out, "%s  %s  %.2f%%\n", b.ID, b, b.SuccessRate())
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "Batches created within this many days")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only batches in these statuses, e.g. PROCESSING,REVIEW")
	return cmd
}

func newBatchCancelCmd(root *rootOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <batch-id>",
		Short: "Cancel a batch that has not finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBatchID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := root.openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			b, err := a.batches.Cancel(ctx, id, reason)
			if err != nil {
				return err
			}
			fmt.Fprintln(root.out, b)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason written to the batch error log")
	return cmd
}

func newBatchApproveCmd(root *rootOptions) *cobra.Command {
	var reviewer string

	cmd := &cobra.Command{
		Use:   "approve <batch-id>",
		Short: "Approve a batch held for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBatchID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := root.openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			b, err := a.batches.Approve(ctx, id, reviewer)
			if err != nil {
				return err
			}
			fmt.Fprintln(root.out, b)
			return nil
		},
	}
	cmd.Flags().StringVar(&reviewer, "by", "", "Reviewer (required)")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}
