package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/rpattn/shopwindow/internal/domain"

	"github.com/spf13/cobra"
)

func newMappingCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "Manage stored column mappings",
	}
	cmd.AddCommand(newMappingLoadCmd(root), newMappingListCmd(root))
	return cmd
}

func newMappingLoadCmd(root *rootOptions) *cobra.Command {
	var createdBy string

	cmd := &cobra.Command{
		Use:   "load <file.yaml>",
		Short: "Create or update mappings from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := loadMappingFile(args[0])
			if err != nil {
				return withCode(exitUsage, err)
			}

			ctx := cmd.Context()
			a, err := root.openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			var by *string
			if createdBy = strings.TrimSpace(createdBy); createdBy != "" {
				by = &createdBy
			}
			result, err := a.mappings.Load(ctx, defs, by)
			if err != nil {
				return err
			}
			for _, m := range result.Created {
				fmt.Fprintf(root.out, "created %s\n", m)
			}
			for _, m := range result.Updated {
				fmt.Fprintf(root.out, "updated %s\n", m)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&createdBy, "created-by", "", "Owner recorded on new mappings")
	return cmd
}

func newMappingListCmd(root *rootOptions) *cobra.Command {
	var importType string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List mappings, most recently used first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var t domain.ImportType
			if importType != "" {
				parsed, err := domain.ParseImportType(importType)
				if err != nil {
					return withCode(exitUsage, err)
				}
				t = parsed
			}

			ctx := cmd.Context()
			a, err := root.openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.mappings.List(ctx, t)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(root.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tCOLUMNS\tUSED\tLAST USED")
			for _, m := range list {
				lastUsed := "never"
				if m.LastUsedAt != nil {
					lastUsed = m.LastUsedAt.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", m.Name, m.ImportType, len(m.ColumnMapping), m.UsageCount, lastUsed)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&importType, "type", "", "Only mappings for this import type")
	return cmd
}
