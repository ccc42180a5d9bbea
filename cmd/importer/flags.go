package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/rpattn/shopwindow/internal/domain"
	"github.com/rpattn/shopwindow/internal/quality"
	"github.com/rpattn/shopwindow/internal/repository"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newFlagsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flags",
		Short: "List and resolve data quality flags",
	}
	cmd.AddCommand(newFlagsListCmd(root), newFlagsResolveCmd(root))
	return cmd
}

type flagListOptions struct {
	unresolved  bool
	minSeverity int
	flagType    string
	batchID     string
	limit       int
	asJSON      bool
}

func newFlagsListCmd(root *rootOptions) *cobra.Command {
	var opts flagListOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List quality flags, most severe first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := opts.filter()
			if err != nil {
				return withCode(exitUsage, err)
			}

			ctx := cmd.Context()
			a, err := root.openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			flags, err := a.flags.List(ctx, filter)
			if err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(root.out, flags)
			}

			var (
				resolved []any
				errs     []error
			)
			if len(flags) > 0 {
				targets := make([]domain.Target, len(flags))
				for i, f := range flags {
					targets[i] = f.Target
				}
				resolved, errs = quality.NewTargetLoader(a.store).LoadAll(ctx, targets)
			}

			w := tabwriter.NewWriter(root.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSEVERITY\tTYPE\tTARGET\tFIELD\tMESSAGE")
			for i, f := range flags {
				var target any
				if i < len(resolved) && (len(errs) <= i || errs[i] == nil) {
					target = resolved[i]
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					f.ID, f.Severity.Label(), f.FlagType, quality.Describe(f.Target, target), f.FieldName, f.Message)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&opts.unresolved, "unresolved", false, "Only unresolved flags")
	cmd.Flags().IntVar(&opts.minSeverity, "min-severity", 0, "Minimum severity, 1 to 5")
	cmd.Flags().StringVar(&opts.flagType, "type", "", "Flag type, e.g. MISSING")
	cmd.Flags().StringVar(&opts.batchID, "batch", "", "Only flags raised by this batch")
	cmd.Flags().IntVar(&opts.limit, "limit", 100, "Maximum flags to list")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func (o flagListOptions) filter() (repository.FlagFilter, error) {
	filter := repository.FlagFilter{Limit: o.limit}
	if o.unresolved {
		resolved := false
		filter.Resolved = &resolved
	}
	if o.minSeverity != 0 {
		severity := domain.Severity(o.minSeverity)
		if !severity.Valid() {
			return filter, fmt.Errorf("%w: got %d", domain.ErrInvalidSeverity, o.minSeverity)
		}
		filter.MinSeverity = severity
	}
	if o.flagType != "" {
		t, err := domain.ParseFlagType(o.flagType)
		if err != nil {
			return filter, err
		}
		filter.FlagType = t
	}
	if o.batchID != "" {
		id, err := uuid.Parse(strings.TrimSpace(o.batchID))
		if err != nil {
			return filter, fmt.Errorf("invalid --batch: %w", err)
		}
		filter.BatchID = &id
	}
	return filter, nil
}

func newFlagsResolveCmd(root *rootOptions) *cobra.Command {
	var by, notes string

	cmd := &cobra.Command{
		Use:   "resolve <flag-id>...",
		Short: "Mark flags resolved",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]uuid.UUID, len(args))
			for i, raw := range args {
				id, err := uuid.Parse(raw)
				if err != nil {
					return withCode(exitUsage, fmt.Errorf("invalid flag id %q: %w", raw, err))
				}
				ids[i] = id
			}

			ctx := cmd.Context()
			a, err := root.openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			targets := quality.NewTargetResolver(a.store)
			for _, id := range ids {
				flag, err := a.flags.Resolve(ctx, id, by, notes)
				if err != nil {
					return fmt.Errorf("flag %s: %w", id, err)
				}
				target, err := targets.Describe(ctx, flag.Target)
				if err != nil {
					return fmt.Errorf("flag %s: %w", id, err)
				}
				fmt.Fprintf(root.out, "resolved %s (%s on %s) by %s\n", flag.ID, flag.FlagType, target, flag.Resolution.ResolvedBy)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "Who resolved the flags (required)")
	cmd.Flags().StringVar(&notes, "notes", "", "Resolution notes")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}
