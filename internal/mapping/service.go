// Package mapping stores reusable column mappings, keyed by name and import type.
package mapping

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rpattn/shopwindow/internal/domain"
	"github.com/rpattn/shopwindow/internal/ingestion"
	"github.com/rpattn/shopwindow/internal/repository"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Service stores column mapping configs.
type Service struct {
	store  repository.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds a mapping service.
func NewService(store repository.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger.With(slog.String("component", "mapping")),
		now:    time.Now,
	}
}

// CreateRequest describes a new mapping config.
type CreateRequest struct {
	Name            string
	Description     string
	ImportType      domain.ImportType
	ColumnMapping   map[string]string
	DefaultValues   map[string]any
	ValidationRules map[string]any
	CreatedBy       *string
}

// Create stores a mapping config. The (name, import type) pair must be unused.
func (s *Service) Create(ctx context.Context, req CreateRequest) (domain.MappingConfig, error) {
	cfg, err := domain.NewMappingConfig(req.Name, req.ImportType, req.ColumnMapping, s.now())
	if err != nil {
		return domain.MappingConfig{}, err
	}
	cfg.Description = strings.TrimSpace(req.Description)
	cfg.CreatedBy = req.CreatedBy
	if req.DefaultValues != nil {
		cfg.DefaultValues = req.DefaultValues
	}
	if req.ValidationRules != nil {
		if _, err := ingestion.ParseRules(req.ValidationRules); err != nil {
			return domain.MappingConfig{}, err
		}
		cfg.ValidationRules = req.ValidationRules
	}

	created, err := s.store.Mappings().Create(ctx, cfg)
	if err != nil {
		return domain.MappingConfig{}, err
	}
	s.logger.Info("mapping config created", slog.String("mapping_id", created.ID.String()), slog.String("name", created.String()))
	return created, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (domain.MappingConfig, error) {
	return s.store.Mappings().GetByID(ctx, id)
}

// Get looks a mapping up by name and import type.
func (s *Service) Get(ctx context.Context, name string, importType domain.ImportType) (domain.MappingConfig, error) {
	return s.store.Mappings().GetByName(ctx, strings.TrimSpace(name), importType)
}

// List returns the mappings of importType, or of every type when it is empty,
// most recently used first.
func (s *Service) List(ctx context.Context, importType domain.ImportType) ([]domain.MappingConfig, error) {
	return s.store.Mappings().List(ctx, importType)
}

// Update replaces the editable fields of a mapping config.
func (s *Service) Update(ctx context.Context, cfg domain.MappingConfig) (domain.MappingConfig, error) {
	cfg.Name = strings.TrimSpace(cfg.Name)
	if err := cfg.Validate(); err != nil {
		return domain.MappingConfig{}, err
	}
	if _, err := ingestion.ParseRules(cfg.ValidationRules); err != nil {
		return domain.MappingConfig{}, err
	}
	cfg.UpdatedAt = s.now().UTC()
	return s.store.Mappings().Update(ctx, cfg)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.store.Mappings().Delete(ctx, id)
}

// MarkUsed bumps the usage counter and last-used time of a mapping.
func (s *Service) MarkUsed(ctx context.Context, id uuid.UUID) (domain.MappingConfig, error) {
	return s.store.Mappings().MarkUsed(ctx, id, s.now())
}

// Resolve returns the mapping to use for an import: the one named for importType,
// or nil when name is empty.
func (s *Service) Resolve(ctx context.Context, name string, importType domain.ImportType) (*domain.MappingConfig, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil
	}
	cfg, err := s.Get(ctx, name, importType)
	if err != nil {
		return nil, fmt.Errorf("mapping %q for %s: %w", name, importType, err)
	}
	return &cfg, nil
}

type mappingFile struct {
	Mappings []domain.MappingConfig `yaml:"mappings"`
}

// ParseYAML reads mapping definitions. A document is either a single mapping or a
// list under a top-level "mappings" key.
func ParseYAML(r io.Reader) ([]domain.MappingConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping file: %w", err)
	}

	var out []domain.MappingConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var node yaml.Node
		if err := dec.Decode(&node); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to parse mapping file: %w", err)
		}

		var file mappingFile
		if err := node.Decode(&file); err == nil && len(file.Mappings) > 0 {
			out = append(out, file.Mappings...)
			continue
		}
		var single domain.MappingConfig
		if err := node.Decode(&single); err != nil {
			return nil, fmt.Errorf("failed to decode mapping: %w", err)
		}
		out = append(out, single)
	}

	for i := range out {
		out[i].Name = strings.TrimSpace(out[i].Name)
		out[i].ImportType = domain.ImportType(strings.ToUpper(string(out[i].ImportType)))
		if err := out[i].Validate(); err != nil {
			return nil, fmt.Errorf("mapping %d: %w", i+1, err)
		}
		if _, err := ingestion.ParseRules(out[i].ValidationRules); err != nil {
			return nil, fmt.Errorf("mapping %d: %w", i+1, err)
		}
	}
	return out, nil
}

// LoadResult reports what Load did with each definition.
type LoadResult struct {
	Created []domain.MappingConfig
	Updated []domain.MappingConfig
}

// Load upserts mapping definitions by name and import type. Usage counters of
// existing mappings are kept.
func (s *Service) Load(ctx context.Context, defs []domain.MappingConfig, createdBy *string) (LoadResult, error) {
	var result LoadResult
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		for _, def := range defs {
			existing, err := tx.Mappings().GetByName(ctx, def.Name, def.ImportType)
			switch {
			case errors.Is(err, domain.ErrNotFound):
				cfg, err := domain.NewMappingConfig(def.Name, def.ImportType, def.ColumnMapping, s.now())
				if err != nil {
					return err
				}
				cfg.Description = def.Description
				cfg.CreatedBy = createdBy
				if def.DefaultValues != nil {
					cfg.DefaultValues = def.DefaultValues
				}
				if def.ValidationRules != nil {
					cfg.ValidationRules = def.ValidationRules
				}
				created, err := tx.Mappings().Create(ctx, cfg)
				if err != nil {
					return err
				}
				result.Created = append(result.Created, created)
			case err != nil:
				return err
			default:
				existing.Description = def.Description
				existing.ColumnMapping = def.ColumnMapping
				existing.DefaultValues = def.DefaultValues
				existing.ValidationRules = def.ValidationRules
				existing.UpdatedAt = s.now().UTC()
				updated, err := tx.Mappings().Update(ctx, existing)
				if err != nil {
					return err
				}
				result.Updated = append(result.Updated, updated)
			}
		}
		return nil
	})
	if err != nil {
		return LoadResult{}, err
	}
	s.logger.Info("mapping configs loaded", slog.Int("created", len(result.Created)), slog.Int("updated", len(result.Updated)))
	return result, nil
}
