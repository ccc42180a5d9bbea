package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rpattn/shopwindow/internal/domain"
	"github.com/rpattn/shopwindow/internal/ingestion"

	"github.com/spf13/cobra"
)

func newPreviewCmd(root *rootOptions) *cobra.Command {
	var (
		mappingFile string
		mappingName string
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "preview <file>",
		Short: "Show how a file would be mapped and which rows would be flagged",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return withCode(exitUsage, fmt.Errorf("failed to read %s: %w", path, err))
			}
			records, err := ingestion.ReadRecords(path, data)
			if err != nil {
				return withCode(exitUsage, err)
			}

			var cfg *domain.MappingConfig
			if mappingFile != "" {
				defs, err := loadMappingFile(mappingFile)
				if err != nil {
					return withCode(exitUsage, err)
				}
				cfg, err = pickMapping(defs, mappingName)
				if err != nil {
					return withCode(exitUsage, err)
				}
			}
			result, err := ingestion.Preview(records, cfg, limit, time.Now())
			if err != nil {
				return withCode(exitUsage, err)
			}
			return printJSON(root.out, result)
		},
	}

	cmd.Flags().StringVar(&mappingFile, "mapping-file", "", "YAML mapping definitions")
	cmd.Flags().StringVar(&mappingName, "mapping", "", "Mapping to use from --mapping-file (default: the only one)")
	cmd.Flags().IntVar(&limit, "limit", 10, "Sample rows to show")
	return cmd
}

func pickMapping(defs []domain.MappingConfig, name string) (*domain.MappingConfig, error) {
	if name == "" {
		if len(defs) != 1 {
			return nil, fmt.Errorf("mapping file holds %d mappings; choose one with --mapping", len(defs))
		}
		return &defs[0], nil
	}
	for i := range defs {
		if defs[i].Name == name {
			return &defs[i], nil
		}
	}
	return nil, fmt.Errorf("mapping %q: %w", name, domain.ErrNotFound)
}
