package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/rpattn/shopwindow/internal/batch"
	"github.com/rpattn/shopwindow/internal/domain"
	"github.com/rpattn/shopwindow/internal/ingestion"
	"github.com/rpattn/shopwindow/internal/mapping"

	"github.com/spf13/cobra"
)

type importOptions struct {
	importType  string
	mappingName string
	mappingFile string
	createdBy   string
	notes       string
	dryRun      bool
	allowRepeat bool
}

func newImportCmd(root *rootOptions) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a CSV or Excel file of shopping centers and tenants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), root, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.importType, "type", "", "Import type (default: from the file extension)")
	cmd.Flags().StringVar(&opts.mappingName, "mapping", "", "Name of the stored column mapping to apply")
	cmd.Flags().StringVar(&opts.mappingFile, "mapping-file", "", "YAML mapping definitions to load before importing")
	cmd.Flags().StringVar(&opts.createdBy, "created-by", "", "Who started the import")
	cmd.Flags().StringVar(&opts.notes, "notes", "", "Processing notes stored on the batch")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Run against an in-memory store; nothing is written")
	cmd.Flags().BoolVar(&opts.allowRepeat, "allow-repeat", false, "Import a file whose content was imported before")
	return cmd
}

func runImport(ctx context.Context, root *rootOptions, opts importOptions, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return withCode(exitUsage, fmt.Errorf("failed to read %s: %w", path, err))
	}

	importType, err := resolveImportType(opts.importType, path)
	if err != nil {
		return withCode(exitUsage, err)
	}
	records, err := ingestion.ReadRecords(path, data)
	if err != nil {
		return withCode(exitUsage, err)
	}
	meta := ingestion.FileMetadataFor(path, data)

	a, err := root.openApp(ctx, opts.dryRun)
	if err != nil {
		return err
	}
	defer a.Close()

	if !opts.allowRepeat {
		previous, err := a.batches.FindByHash(ctx, meta.Hash)
		if err != nil {
			return err
		}
		for _, b := range previous {
			if b.Status == domain.BatchStatusCompleted || b.Status == domain.BatchStatusPartial {
				return withCode(exitUsage, fmt.Errorf("%s was already imported by batch %s; pass --allow-repeat to import it again", meta.Name, b.ID))
			}
		}
	}

	cfg, err := resolveMapping(ctx, a, opts, importType)
	if err != nil {
		return err
	}

	req := batch.OpenRequest{
		ImportType: importType,
		File:       &meta,
		Config:     map[string]any{"dry_run": opts.dryRun},
		Notes:      opts.notes,
	}
	if cfg != nil {
		req.Config["mapping"] = cfg.Name
	}
	if by := strings.TrimSpace(opts.createdBy); by != "" {
		req.CreatedBy = &by
	}
	opened, err := a.batches.Open(ctx, req)
	if err != nil {
		return err
	}
	if cfg != nil {
		if _, err := a.mappings.MarkUsed(ctx, cfg.ID); err != nil {
			a.logger.Warn("failed to mark mapping used", slog.String("mapping_id", cfg.ID.String()), slog.String("error", err.Error()))
		}
	}

	finished, runErr := a.orchestrator.Run(ctx, ingestion.RunRequest{
		BatchID: opened.ID,
		Records: records,
		Mapping: cfg,
	})
	if finished.ID != opened.ID {
		return runErr
	}

	if err := printJSON(root.out, struct {
		Batch   domain.Batch        `json:"batch"`
		Summary domain.BatchSummary `json:"summary"`
	}{finished, finished.Summary()}); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	if finished.Status == domain.BatchStatusFailed {
		return errors.New("import failed")
	}
	return nil
}

func resolveImportType(flag, path string) (domain.ImportType, error) {
	if strings.TrimSpace(flag) != "" {
		return domain.ParseImportType(flag)
	}
	return ingestion.ImportTypeFor(path)
}

// resolveMapping loads --mapping-file when given and returns the mapping to apply.
// A file holding a single definition for importType is used even without --mapping.
func resolveMapping(ctx context.Context, a *app, opts importOptions, importType domain.ImportType) (*domain.MappingConfig, error) {
	name := opts.mappingName
	if opts.mappingFile != "" {
		defs, err := loadMappingFile(opts.mappingFile)
		if err != nil {
			return nil, withCode(exitUsage, err)
		}
		var createdBy *string
		if opts.createdBy != "" {
			createdBy = &opts.createdBy
		}
		if _, err := a.mappings.Load(ctx, defs, createdBy); err != nil {
			return nil, err
		}
		if name == "" {
			var candidates []string
			for _, d := range defs {
				if d.ImportType == importType {
					candidates = append(candidates, d.Name)
				}
			}
			if len(candidates) == 1 {
				name = candidates[0]
			}
		}
	}

	cfg, err := a.mappings.Resolve(ctx, name, importType)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, withCode(exitUsage, err)
	}
	return cfg, err
}

func loadMappingFile(path string) ([]domain.MappingConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mapping file: %w", err)
	}
	defer f.Close()
	return mapping.ParseYAML(f)
}
