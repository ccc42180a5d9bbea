// Package batch owns the import batch lifecycle: opening batches, moving them through
// their statuses, accumulating processing counters and reporting on them.
//
// Status changes are compare-and-set against the stored status, so two callers racing
// on the same batch cannot both win. Every change is audited in the same transaction.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rpattn/shopwindow/internal/domain"
	"github.com/rpattn/shopwindow/internal/metrics"
	"github.com/rpattn/shopwindow/internal/repository"

	"github.com/google/uuid"
)

const maxTransitionAttempts = 3

var errLostRace = errors.New("batch status changed concurrently")

// Audit actions written for batches.
const (
	ActionOpened    = "opened"
	ActionStarted   = "started"
	ActionCompleted = "completed"
	ActionCancelled = "cancelled"
	ActionReview    = "review"
	ActionApproved  = "approved"
	ActionDeleted   = "deleted"
)

// ErrorTypeCancelled is the error log type written by Cancel.
const ErrorTypeCancelled = "cancelled"

// Service drives the import batch lifecycle and its counters.
type Service struct {
	store   repository.Store
	logger  *slog.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

// NewService builds a batch service. A nil logger or recorder is allowed.
func NewService(store repository.Store, logger *slog.Logger, recorder *metrics.Recorder) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		logger:  logger.With(slog.String("component", "batch")),
		metrics: recorder,
		now:     time.Now,
	}
}

// OpenRequest describes a new batch.
type OpenRequest struct {
	ImportType domain.ImportType
	File       *domain.FileMetadata
	Config     map[string]any
	CreatedBy  *string
	Notes      string
}

// Open creates a PENDING batch with zeroed counters.
func (s *Service) Open(ctx context.Context, req OpenRequest) (domain.Batch, error) {
	batch, err := domain.NewBatch(req.ImportType, req.File, req.Config, req.CreatedBy, s.now())
	if err != nil {
		return domain.Batch{}, err
	}
	batch = batch.WithNote(req.Notes)

	var created domain.Batch
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		if created, err = tx.Batches().Create(ctx, batch); err != nil {
			return err
		}
		detail := map[string]any{"import_type": string(batch.ImportType)}
		if batch.File != nil {
			detail["file_name"] = batch.File.Name
			detail["file_hash"] = batch.File.Hash
		}
		return s.audit(ctx, tx, batch.ID, ActionOpened, detail)
	})
	if err != nil {
		s.logger.Error("failed to open batch", slog.String("error", err.Error()))
		return domain.Batch{}, err
	}

	s.metrics.BatchOpened(string(created.ImportType))
	s.logger.Info("batch opened",
		slog.String("batch_id", created.ID.String()),
		slog.String("import_type", string(created.ImportType)),
	)
	return created, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Batch, error) {
	return s.store.Batches().GetByID(ctx, id)
}

// FindByHash returns the batches that imported a file with the given SHA-256.
func (s *Service) FindByHash(ctx context.Context, hash string) ([]domain.Batch, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if hash == "" {
		return []domain.Batch{}, nil
	}
	return s.store.Batches().List(ctx, repository.BatchFilter{FileHash: hash})
}

// MarkStarted moves a PENDING or APPROVED batch to PROCESSING.
func (s *Service) MarkStarted(ctx context.Context, id uuid.UUID) (domain.Batch, error) {
	now := s.now()
	return s.transition(ctx, id, ActionStarted, func(b domain.Batch) (domain.Batch, error) {
		return b.Start(now)
	}, nil)
}

// MarkCompleted finishes a PROCESSING batch as COMPLETED, PARTIAL or FAILED.
func (s *Service) MarkCompleted(ctx context.Context, id uuid.UUID, success bool) (domain.Batch, error) {
	now := s.now()
	batch, err := s.transition(ctx, id, ActionCompleted, func(b domain.Batch) (domain.Batch, error) {
		return b.Complete(success, now)
	}, map[string]any{"success": success})
	if err != nil {
		return batch, err
	}
	s.metrics.BatchFinished(string(batch.Status), batch.Duration())
	return batch, nil
}

// Cancel marks a non-terminal batch CANCELLED and logs reason to its error log.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (domain.Batch, error) {
	now := s.now()
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled"
	}
	entry := domain.NewErrorEntry(ErrorTypeCancelled, reason, nil, now)

	batch, err := s.transition(ctx, id, ActionCancelled, func(b domain.Batch) (domain.Batch, error) {
		next, err := b.Cancel(now)
		if err != nil {
			return next, err
		}
		return next.WithError(entry), nil
	}, map[string]any{"reason": reason}, func(tx repository.Store) error {
		return tx.Batches().AppendError(ctx, id, entry)
	})
	if err != nil {
		return batch, err
	}
	s.metrics.BatchFinished(string(batch.Status), batch.Duration())
	return batch, nil
}

// MarkReview holds a PENDING batch for review.
func (s *Service) MarkReview(ctx context.Context, id uuid.UUID) (domain.Batch, error) {
	now := s.now()
	return s.transition(ctx, id, ActionReview, func(b domain.Batch) (domain.Batch, error) {
		return b.MarkReview(now)
	}, nil)
}

// Approve releases a batch under REVIEW, recording the reviewer.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, reviewer string) (domain.Batch, error) {
	now := s.now()
	return s.transition(ctx, id, ActionApproved, func(b domain.Batch) (domain.Batch, error) {
		return b.Approve(strings.TrimSpace(reviewer), now)
	}, map[string]any{"reviewed_by": reviewer})
}

// transition applies a domain lifecycle change with compare-and-set semantics. When
// the stored status moves underneath us the batch is reloaded and the change is
// re-evaluated, so the caller sees the error the new status warrants.
func (s *Service) transition(
	ctx context.Context,
	id uuid.UUID,
	action string,
	apply func(domain.Batch) (domain.Batch, error),
	detail map[string]any,
	extra ...func(tx repository.Store) error,
) (domain.Batch, error) {
	log := s.logger.With(slog.String("batch_id", id.String()), slog.String("action", action))

	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		var result domain.Batch
		err := s.store.WithTx(ctx, func(tx repository.Store) error {
			current, err := tx.Batches().GetByID(ctx, id)
			if err != nil {
				return err
			}
			next, err := apply(current)
			if err != nil {
				result = current
				return err
			}
			swapped, err := tx.Batches().CompareAndSetStatus(ctx, next, current.Status)
			if err != nil {
				return err
			}
			if !swapped {
				return errLostRace
			}
			for _, fn := range extra {
				if err := fn(tx); err != nil {
					return err
				}
			}

			auditDetail := map[string]any{"from": string(current.Status), "to": string(next.Status)}
			for k, v := range detail {
				auditDetail[k] = v
			}
			if err := s.audit(ctx, tx, id, action, auditDetail); err != nil {
				return err
			}
			result = next
			return nil
		})

		switch {
		case err == nil:
			log.Info("batch transitioned", slog.String("status", string(result.Status)))
			return result, nil
		case errors.Is(err, errLostRace):
			log.Debug("batch status changed concurrently, retrying", slog.Int("attempt", attempt+1))
			continue
		case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrAlreadyTerminal),
			errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNotFound):
			log.Warn("batch transition rejected", slog.String("status", string(result.Status)), slog.String("error", err.Error()))
			return result, err
		default:
			log.Error("batch transition failed", slog.String("error", err.Error()))
			return result, err
		}
	}
	return domain.Batch{}, fmt.Errorf("failed to %s batch %s: %w", action, id, errLostRace)
}

// RecordOutcome adds processing counters to a batch. A non-empty RecordKey makes the
// call idempotent: a second delta with the same key is rejected and nothing applies.
func (s *Service) RecordOutcome(ctx context.Context, id uuid.UUID, delta domain.OutcomeDelta) (domain.Batch, error) {
	if err := delta.BatchCounters.Validate(); err != nil {
		return domain.Batch{}, err
	}

	var updated domain.Batch
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		if delta.RecordKey != "" {
			claimed, err := tx.Batches().ClaimRecordKey(ctx, id, delta.RecordKey)
			if err != nil {
				return err
			}
			if !claimed {
				return fmt.Errorf("%w: %s", domain.ErrDuplicateOutcome, delta.RecordKey)
			}
		}
		var err error
		updated, err = tx.Batches().AddCounters(ctx, id, delta.BatchCounters)
		return err
	})
	if err != nil {
		s.logger.Warn("outcome rejected",
			slog.String("batch_id", id.String()),
			slog.String("record_key", delta.RecordKey),
			slog.String("error", err.Error()),
		)
		return domain.Batch{}, err
	}

	s.metrics.RecordsProcessed(delta.Successful, delta.Failed, delta.Skipped)
	return updated, nil
}

// AppendError adds an entry to the batch error log regardless of status.
func (s *Service) AppendError(ctx context.Context, id uuid.UUID, errorType, message string, details map[string]any) error {
	entry := domain.NewErrorEntry(errorType, message, details, s.now())
	if err := s.store.Batches().AppendError(ctx, id, entry); err != nil {
		s.logger.Error("failed to append batch error",
			slog.String("batch_id", id.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// AddNote appends a line to the batch processing notes.
func (s *Service) AddNote(ctx context.Context, id uuid.UUID, note string) error {
	if strings.TrimSpace(note) == "" {
		return nil
	}
	return s.store.Batches().AppendNote(ctx, id, note)
}

// Delete removes a batch together with its quality flags.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		batch, err := tx.Batches().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.Batches().Delete(ctx, id); err != nil {
			return err
		}
		return s.audit(ctx, tx, id, ActionDeleted, map[string]any{"status": string(batch.Status)})
	})
	if err != nil {
		return err
	}
	s.logger.Info("batch deleted", slog.String("batch_id", id.String()))
	return nil
}

// ListByStatus returns batches in any of statuses, newest first.
func (s *Service) ListByStatus(ctx context.Context, statuses ...domain.BatchStatus) ([]domain.Batch, error) {
	return s.store.Batches().List(ctx, repository.BatchFilter{Statuses: statuses})
}

// Recent returns batches created within the last days days, newest first.
func (s *Service) Recent(ctx context.Context, days int) ([]domain.Batch, error) {
	if days <= 0 {
		days = 7
	}
	since := s.now().UTC().AddDate(0, 0, -days)
	return s.store.Batches().List(ctx, repository.BatchFilter{CreatedSince: &since})
}

// ByCreator returns the batches opened by actor, newest first.
func (s *Service) ByCreator(ctx context.Context, actor string) ([]domain.Batch, error) {
	return s.store.Batches().List(ctx, repository.BatchFilter{CreatedBy: actor})
}

// History returns the audit trail of a batch, oldest first.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]domain.AuditEntry, error) {
	return s.store.Audit().List(ctx, domain.AuditSubjectBatch, id.String(), 0)
}

// Statistics rolls up batches created since the start of the day windowDays ago.
// Flag counts are not windowed.
func (s *Service) Statistics(ctx context.Context, windowDays int) (domain.ImportStatistics, error) {
	if windowDays < 0 {
		windowDays = 0
	}
	agg, err := s.store.Batches().Aggregate(ctx, domain.WindowStart(s.now(), windowDays))
	if err != nil {
		return domain.ImportStatistics{}, err
	}

	unresolved := false
	flags := s.store.Flags()
	open, err := flags.Count(ctx, repository.FlagFilter{Resolved: &unresolved})
	if err != nil {
		return domain.ImportStatistics{}, err
	}
	high, err := flags.Count(ctx, repository.FlagFilter{Resolved: &unresolved, MinSeverity: domain.HighSeverityThreshold})
	if err != nil {
		return domain.ImportStatistics{}, err
	}
	return domain.NewImportStatistics(windowDays, agg, open, high), nil
}

func (s *Service) audit(ctx context.Context, tx repository.Store, id uuid.UUID, action string, detail map[string]any) error {
	return tx.Audit().Record(ctx, domain.NewAuditEntry(domain.AuditSubjectBatch, id.String(), action, detail, s.now()))
}
