// Package quality records and triages data quality flags.
//
// A flag is advisory. Raising one never blocks the write that detected the problem,
// and a flag outlives the record it points at.
package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rpattn/shopwindow/internal/domain"
	"github.com/rpattn/shopwindow/internal/metrics"
	"github.com/rpattn/shopwindow/internal/repository"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const defaultWorkers = 4

// Audit actions written for flags.
const (
	ActionRaised   = "raised"
	ActionResolved = "resolved"
)

// Service raises, resolves and queries data quality flags.
type Service struct {
	store   repository.Store
	logger  *slog.Logger
	metrics *metrics.Recorder
	workers int
	now     func() time.Time
}

// NewService builds a flag service. workers bounds the parallelism of RaiseAll.
func NewService(store repository.Store, logger *slog.Logger, recorder *metrics.Recorder, workers int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Service{
		store:   store,
		logger:  logger.With(slog.String("component", "quality")),
		metrics: recorder,
		workers: workers,
		now:     time.Now,
	}
}

// Raise records a new unresolved flag against spec.Target.
func (s *Service) Raise(ctx context.Context, spec domain.FlagSpec) (domain.QualityFlag, error) {
	flag, err := domain.NewQualityFlag(spec, s.now())
	if err != nil {
		return domain.QualityFlag{}, err
	}

	var created domain.QualityFlag
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		if created, err = tx.Flags().Create(ctx, flag); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, domain.NewAuditEntry(domain.AuditSubjectFlag, flag.ID.String(), ActionRaised, map[string]any{
			"import_batch_id": flag.BatchID.String(),
			"flag_type":       string(flag.FlagType),
			"severity":        int(flag.Severity),
			"content_type":    string(flag.Target.ContentType()),
			"object_id":       flag.Target.ObjectID(),
		}, s.now()))
	})
	if err != nil {
		return domain.QualityFlag{}, fmt.Errorf("failed to raise %s flag: %w", flag.FlagType, err)
	}

	s.metrics.FlagRaised(string(created.FlagType))
	s.logger.Debug("flag raised",
		slog.String("flag_id", created.ID.String()),
		slog.String("batch_id", created.BatchID.String()),
		slog.String("flag_type", string(created.FlagType)),
		slog.Int("severity", int(created.Severity)),
	)
	return created, nil
}

// RaiseAll raises every spec independently and in parallel. It returns the flags
// that were written, in input order, and the joined errors of those that were not.
func (s *Service) RaiseAll(ctx context.Context, specs []domain.FlagSpec) ([]domain.QualityFlag, error) {
	if len(specs) == 0 {
		return []domain.QualityFlag{}, nil
	}

	created := make([]*domain.QualityFlag, len(specs))
	errs := make([]error, len(specs))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, spec := range specs {
		g.Go(func() error {
			flag, err := s.Raise(ctx, spec)
			if err != nil {
				errs[i] = err
				s.logger.Warn("failed to raise flag",
					slog.String("batch_id", spec.BatchID.String()),
					slog.String("flag_type", string(spec.FlagType)),
					slog.String("error", err.Error()),
				)
				return nil
			}
			created[i] = &flag
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.QualityFlag, 0, len(specs))
	for _, f := range created {
		if f != nil {
			out = append(out, *f)
		}
	}
	return out, errors.Join(errs...)
}

// Resolve closes a flag. Resolving twice fails with ErrAlreadyResolved and keeps the
// first resolution.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, actor, notes string) (domain.QualityFlag, error) {
	var resolved domain.QualityFlag
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		current, err := tx.Flags().GetByID(ctx, id)
		if err != nil {
			return err
		}
		next, err := current.Resolve(actor, notes, s.now())
		if err != nil {
			return err
		}
		ok, err := tx.Flags().Resolve(ctx, id, *next.Resolution)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrAlreadyResolved
		}
		resolved = next
		return tx.Audit().Record(ctx, domain.NewAuditEntry(domain.AuditSubjectFlag, id.String(), ActionResolved, map[string]any{
			"resolved_by": actor,
			"notes":       notes,
		}, s.now()))
	})
	if err != nil {
		s.logger.Warn("flag resolution rejected", slog.String("flag_id", id.String()), slog.String("error", err.Error()))
		return domain.QualityFlag{}, err
	}
	s.logger.Info("flag resolved", slog.String("flag_id", id.String()), slog.String("resolved_by", actor))
	return resolved, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.QualityFlag, error) {
	return s.store.Flags().GetByID(ctx, id)
}

// List returns flags matching filter, most severe first.
func (s *Service) List(ctx context.Context, filter repository.FlagFilter) ([]domain.QualityFlag, error) {
	return s.store.Flags().List(ctx, filter)
}

func (s *Service) Unresolved(ctx context.Context) ([]domain.QualityFlag, error) {
	resolved := false
	return s.List(ctx, repository.FlagFilter{Resolved: &resolved})
}

// AtOrAboveSeverity returns flags with severity >= minSeverity.
func (s *Service) AtOrAboveSeverity(ctx context.Context, minSeverity domain.Severity, unresolvedOnly bool) ([]domain.QualityFlag, error) {
	if !minSeverity.Valid() {
		return nil, fmt.Errorf("%w: got %d", domain.ErrInvalidSeverity, minSeverity)
	}
	filter := repository.FlagFilter{MinSeverity: minSeverity}
	if unresolvedOnly {
		resolved := false
		filter.Resolved = &resolved
	}
	return s.List(ctx, filter)
}

// HighSeverity returns unresolved flags at or above domain.HighSeverityThreshold.
func (s *Service) HighSeverity(ctx context.Context) ([]domain.QualityFlag, error) {
	return s.AtOrAboveSeverity(ctx, domain.HighSeverityThreshold, true)
}

func (s *Service) ByType(ctx context.Context, flagType domain.FlagType) ([]domain.QualityFlag, error) {
	if !flagType.Valid() {
		return nil, domain.NewValidationError("flag_type", fmt.Sprintf("unknown flag type %q", flagType))
	}
	return s.List(ctx, repository.FlagFilter{FlagType: flagType})
}

func (s *Service) ForTarget(ctx context.Context, target domain.Target) ([]domain.QualityFlag, error) {
	if target == nil {
		return nil, domain.NewValidationError("target", "is required")
	}
	return s.List(ctx, repository.FlagFilter{Target: target})
}

// ForBatch returns the flags of a batch, optionally narrowed to one type.
func (s *Service) ForBatch(ctx context.Context, batchID uuid.UUID, flagType domain.FlagType) ([]domain.QualityFlag, error) {
	return s.List(ctx, repository.FlagFilter{BatchID: &batchID, FlagType: flagType})
}
