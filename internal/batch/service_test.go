package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rpattn/shopwindow/internal/domain"
	"github.com/rpattn/shopwindow/internal/repository"
	"github.com/rpattn/shopwindow/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) (*Service, *memory.Store, *fixedClock) {
	t.Helper()
	store := memory.NewStore()
	clock := &fixedClock{now: time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)}
	svc := NewService(store, nil, nil)
	svc.now = clock.Now
	return svc, store, clock
}

func openCSV(t *testing.T, svc *Service) domain.Batch {
	t.Helper()
	batch, err := svc.Open(context.Background(), OpenRequest{
		ImportType: domain.ImportTypeCSV,
		File: &domain.FileMetadata{
			Name: "centers.csv",
			Size: 3 * 1024 * 1024,
			Hash: "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		},
	})
	require.NoError(t, err)
	return batch
}

func TestPartialBatchScenario(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t)

	batch := openCSV(t, svc)
	assert.Equal(t, domain.BatchStatusPending, batch.Status)
	assert.True(t, batch.Counters.IsZero())

	_, err := svc.MarkStarted(ctx, batch.ID)
	require.NoError(t, err)

	_, err = svc.RecordOutcome(ctx, batch.ID, domain.OutcomeDelta{
		BatchCounters: domain.BatchCounters{Total: 10, Successful: 8, Failed: 2},
	})
	require.NoError(t, err)

	clock.Advance(90 * time.Second)
	done, err := svc.MarkCompleted(ctx, batch.ID, true)
	require.NoError(t, err)

	assert.Equal(t, domain.BatchStatusPartial, done.Status)
	assert.Equal(t, 80.0, done.SuccessRate())
	require.NotNil(t, done.Duration())
	assert.Equal(t, 90*time.Second, *done.Duration())
	require.NotNil(t, done.FileSizeMB())
	assert.Equal(t, 3.0, *done.FileSizeMB())
}

func TestCompletedWithoutFailures(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	batch := openCSV(t, svc)

	_, err := svc.MarkStarted(ctx, batch.ID)
	require.NoError(t, err)
	_, err = svc.RecordOutcome(ctx, batch.ID, domain.OutcomeDelta{
		BatchCounters: domain.BatchCounters{Total: 3, Successful: 2, Skipped: 1},
	})
	require.NoError(t, err)

	done, err := svc.MarkCompleted(ctx, batch.ID, true)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, done.Status)

	failed := openCSV(t, svc)
	_, err = svc.MarkStarted(ctx, failed.ID)
	require.NoError(t, err)
	done, err = svc.MarkCompleted(ctx, failed.ID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusFailed, done.Status)
}

func TestMarkCompletedTwiceIsAlreadyTerminal(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	batch := openCSV(t, svc)

	_, err := svc.MarkStarted(ctx, batch.ID)
	require.NoError(t, err)
	_, err = svc.MarkCompleted(ctx, batch.ID, true)
	require.NoError(t, err)

	for _, success := range []bool{true, false} {
		_, err = svc.MarkCompleted(ctx, batch.ID, success)
		assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)
	}

	stored, err := svc.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, stored.Status)
}

func TestMarkStartedOutsidePendingIsRejected(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	batch := openCSV(t, svc)

	_, err := svc.MarkStarted(ctx, batch.ID)
	require.NoError(t, err)

	_, err = svc.MarkStarted(ctx, batch.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	var transitionErr *domain.TransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, domain.BatchStatusProcessing, transitionErr.From)

	stored, err := svc.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusProcessing, stored.Status)
}

func TestConcurrentStartHasOneWinner(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	batch := openCSV(t, svc)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		rejected int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.MarkStarted(ctx, batch.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if assert.ErrorIs(t, err, domain.ErrInvalidTransition) {
				rejected++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 9, rejected)
}

func TestReviewApproveThenStart(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	batch := openCSV(t, svc)

	_, err := svc.Approve(ctx, batch.ID, "dana")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = svc.MarkReview(ctx, batch.ID)
	require.NoError(t, err)
	approved, err := svc.Approve(ctx, batch.ID, "dana")
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusApproved, approved.Status)
	require.NotNil(t, approved.ReviewedBy)
	assert.Equal(t, "dana", *approved.ReviewedBy)

	started, err := svc.MarkStarted(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusProcessing, started.Status)
}

func TestCancelKeepsTimestampsConsistent(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	pending := openCSV(t, svc)
	cancelled, err := svc.Cancel(ctx, pending.ID, "operator abort")
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.CompletedAt, "never started, so never completed")

	stored, err := svc.Get(ctx, pending.ID)
	require.NoError(t, err)
	require.Len(t, stored.ErrorLog, 1)
	assert.Equal(t, ErrorTypeCancelled, stored.ErrorLog[0].Type)
	assert.Equal(t, "operator abort", stored.ErrorLog[0].Message)

	running := openCSV(t, svc)
	_, err = svc.MarkStarted(ctx, running.ID)
	require.NoError(t, err)
	cancelled, err = svc.Cancel(ctx, running.ID, "")
	require.NoError(t, err)
	assert.NotNil(t, cancelled.CompletedAt)

	_, err = svc.Cancel(ctx, running.ID, "again")
	assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)
}

func TestRecordOutcomeGuards(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	batch := openCSV(t, svc)
	_, err := svc.MarkStarted(ctx, batch.ID)
	require.NoError(t, err)

	_, err = svc.RecordOutcome(ctx, batch.ID, domain.OutcomeDelta{
		BatchCounters: domain.BatchCounters{Total: 1, Successful: 2},
	})
	assert.ErrorIs(t, err, domain.ErrCounterInvariant)

	_, err = svc.RecordOutcome(ctx, batch.ID, domain.OutcomeDelta{
		BatchCounters: domain.BatchCounters{Total: -1},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidDelta)

	delta := domain.OutcomeDelta{
		BatchCounters: domain.BatchCounters{Total: 1, Successful: 1, CentersCreated: 1},
		RecordKey:     "row:2",
	}
	_, err = svc.RecordOutcome(ctx, batch.ID, delta)
	require.NoError(t, err)
	_, err = svc.RecordOutcome(ctx, batch.ID, delta)
	assert.ErrorIs(t, err, domain.ErrDuplicateOutcome)

	stored, err := svc.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Counters.Total)
	assert.Equal(t, 1, stored.Counters.Successful)
	assert.Equal(t, 1, stored.Counters.CentersCreated)

	_, err = svc.MarkCompleted(ctx, batch.ID, true)
	require.NoError(t, err)
	_, err = svc.RecordOutcome(ctx, batch.ID, domain.OutcomeDelta{
		BatchCounters: domain.BatchCounters{Total: 1},
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)
}

func TestCountersStayConsistentUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	batch := openCSV(t, svc)
	_, err := svc.MarkStarted(ctx, batch.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			delta := domain.BatchCounters{Total: 1, Successful: 1}
			if i%5 == 0 {
				delta = domain.BatchCounters{Total: 1, Failed: 1}
			}
			_, err := svc.RecordOutcome(ctx, batch.ID, domain.OutcomeDelta{BatchCounters: delta})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, err := svc.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, stored.Counters.Total)
	assert.Equal(t, 40, stored.Counters.Successful)
	assert.Equal(t, 10, stored.Counters.Failed)
	assert.True(t, stored.Counters.Consistent())
}

func TestEmptyBatchSuccessRateIsZero(t *testing.T) {
	svc, _, _ := newTestService(t)
	batch := openCSV(t, svc)
	assert.Equal(t, 0.0, batch.SuccessRate())
	assert.Nil(t, batch.Duration())
}

func TestAppendErrorInAnyStatus(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	batch := openCSV(t, svc)
	_, err := svc.MarkStarted(ctx, batch.ID)
	require.NoError(t, err)
	_, err = svc.MarkCompleted(ctx, batch.ID, false)
	require.NoError(t, err)

	require.NoError(t, svc.AppendError(ctx, batch.ID, "parse", "bad row", map[string]any{"row": 7}))
	require.NoError(t, svc.AddNote(ctx, batch.ID, "re-run scheduled"))

	stored, err := svc.Get(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, stored.ErrorLog, 1)
	assert.Equal(t, "parse", stored.ErrorLog[0].Type)
	assert.Equal(t, "re-run scheduled", stored.ProcessingNotes)
}

func TestTransitionsAreAudited(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	batch := openCSV(t, svc)

	_, err := svc.MarkStarted(ctx, batch.ID)
	require.NoError(t, err)
	_, err = svc.MarkCompleted(ctx, batch.ID, true)
	require.NoError(t, err)
	_, err = svc.MarkStarted(ctx, batch.ID)
	require.Error(t, err)

	history, err := svc.History(ctx, batch.ID)
	require.NoError(t, err)
	actions := make([]string, len(history))
	for i, entry := range history {
		actions[i] = entry.Action
	}
	assert.Equal(t, []string{ActionOpened, ActionStarted, ActionCompleted}, actions)
	assert.Equal(t, "PROCESSING", history[2].Detail["from"])
}

func TestStatisticsWindow(t *testing.T) {
	ctx := context.Background()
	svc, store, clock := newTestService(t)

	old := openCSV(t, svc)
	_, err := svc.MarkStarted(ctx, old.ID)
	require.NoError(t, err)

	clock.Advance(10 * 24 * time.Hour)

	recent := openCSV(t, svc)
	_, err = svc.MarkStarted(ctx, recent.ID)
	require.NoError(t, err)
	_, err = svc.RecordOutcome(ctx, recent.ID, domain.OutcomeDelta{
		BatchCounters: domain.BatchCounters{Total: 4, Successful: 3, Failed: 1},
	})
	require.NoError(t, err)
	_, err = svc.MarkCompleted(ctx, recent.ID, true)
	require.NoError(t, err)

	for _, severity := range []domain.Severity{domain.SeverityLow, domain.SeverityCritical} {
		flag, err := domain.NewQualityFlag(domain.FlagSpec{
			BatchID:  old.ID,
			Target:   domain.ImportRecordRef{Row: 2},
			FlagType: domain.FlagTypeMissing,
			Severity: severity,
			Message:  "missing",
		}, clock.Now())
		require.NoError(t, err)
		_, err = store.Flags().Create(ctx, flag)
		require.NoError(t, err)
	}

	stats, err := svc.Statistics(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, stats.WindowDays)
	assert.EqualValues(t, 1, stats.TotalBatches)
	assert.EqualValues(t, 1, stats.CompletedBatches)
	assert.EqualValues(t, 0, stats.ProcessingBatches)
	assert.EqualValues(t, 4, stats.TotalRecordsProcessed)
	assert.Equal(t, 75.0, stats.OverallSuccessRate)
	assert.EqualValues(t, 2, stats.UnresolvedFlagCount, "flag counts are not windowed")
	assert.EqualValues(t, 1, stats.HighSeverityUnresolvedCount)

	stats, err = svc.Statistics(ctx, 30)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalBatches)
	assert.EqualValues(t, 1, stats.ProcessingBatches)
}

func TestDeleteRemovesFlags(t *testing.T) {
	ctx := context.Background()
	svc, store, clock := newTestService(t)
	batch := openCSV(t, svc)
	other := openCSV(t, svc)

	for _, owner := range []domain.Batch{batch, batch, other} {
		flag, err := domain.NewQualityFlag(domain.FlagSpec{
			BatchID:  owner.ID,
			Target:   domain.ShoppingCenterRef{ID: 1},
			FlagType: domain.FlagTypeSuspicious,
			Message:  "odd GLA",
		}, clock.Now())
		require.NoError(t, err)
		_, err = store.Flags().Create(ctx, flag)
		require.NoError(t, err)
	}

	require.NoError(t, svc.Delete(ctx, batch.ID))

	remaining, err := store.Flags().List(ctx, repository.FlagFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, other.ID, remaining[0].BatchID)

	_, err = svc.Get(ctx, batch.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFindByHashAndListings(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	actor := "importer-bot"

	first := openCSV(t, svc)
	_, err := svc.Open(ctx, OpenRequest{ImportType: domain.ImportTypeManual, CreatedBy: &actor})
	require.NoError(t, err)

	byHash, err := svc.FindByHash(ctx, first.File.Hash)
	require.NoError(t, err)
	require.Len(t, byHash, 1)
	assert.Equal(t, first.ID, byHash[0].ID)

	mine, err := svc.ByCreator(ctx, actor)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	pending, err := svc.ListByStatus(ctx, domain.BatchStatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	recent, err := svc.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	_, err = svc.Open(ctx, OpenRequest{ImportType: "XML"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
