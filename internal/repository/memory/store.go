// Package memory is an in-process repository.Store. It backs dry-run imports and the
// service tests, and keeps the same guarantees the Postgres store gets from its schema:
// conditional status updates, cascading deletes, unique names and transactional rollback.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rpattn/shopwindow/internal/domain"
	"github.com/rpattn/shopwindow/internal/repository"

	"github.com/google/uuid"
)

type state struct {
	batches      map[uuid.UUID]domain.Batch
	outcomeKeys  map[uuid.UUID]map[string]struct{}
	flags        map[uuid.UUID]domain.QualityFlag
	mappings     map[uuid.UUID]domain.MappingConfig
	centers      map[int64]domain.ShoppingCenter
	tenants      map[int64]domain.Tenant
	audit        []domain.AuditEntry
	nextCenterID int64
	nextTenantID int64
}

func newState() *state {
	return &state{
		batches:     map[uuid.UUID]domain.Batch{},
		outcomeKeys: map[uuid.UUID]map[string]struct{}{},
		flags:       map[uuid.UUID]domain.QualityFlag{},
		mappings:    map[uuid.UUID]domain.MappingConfig{},
		centers:     map[int64]domain.ShoppingCenter{},
		tenants:     map[int64]domain.Tenant{},
	}
}

func (s *state) clone() *state {
	keys := make(map[uuid.UUID]map[string]struct{}, len(s.outcomeKeys))
	for id, set := range s.outcomeKeys {
		keys[id] = maps.Clone(set)
	}
	return &state{
		batches:      maps.Clone(s.batches),
		outcomeKeys:  keys,
		flags:        maps.Clone(s.flags),
		mappings:     maps.Clone(s.mappings),
		centers:      maps.Clone(s.centers),
		tenants:      maps.Clone(s.tenants),
		audit:        slices.Clone(s.audit),
		nextCenterID: s.nextCenterID,
		nextTenantID: s.nextTenantID,
	}
}

// Store is a repository.Store held in memory. Transactions are serialised: WithTx
// holds the store lock until fn returns and restores a snapshot when fn fails.
type Store struct {
	mu    *sync.Mutex
	data  **state
	inTx  bool
	clock func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	data := newState()
	return &Store{mu: &sync.Mutex{}, data: &data, clock: time.Now}
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) state() *state {
	return *s.data
}

func (s *Store) Batches() repository.BatchRepository { return batchRepository{s} }
func (s *Store) Flags() repository.FlagRepository { return flagRepository{s} }
func (s *Store) Mappings() repository.MappingConfigRepository { return mappingRepository{s} }
func (s *Store) Centers() repository.ShoppingCenterRepository { return centerRepository{s} }
func (s *Store) Tenants() repository.TenantRepository { return tenantRepository{s} }
func (s *Store) Audit() repository.AuditRepository { return auditRepository{s} }

func (s *Store) WithTx(ctx context.Context, fn func(repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := (*s.data).clone()
	tx := &Store{mu: s.mu, data: s.data, inTx: true, clock: s.clock}
	if err := fn(tx); err != nil {
		*s.data = snapshot
		return err
	}
	return nil
}

// AuditEntries returns every audit entry in insertion order.
func (s *Store) AuditEntries() []domain.AuditEntry {
	defer s.lock()()
	return slices.Clone(s.state().audit)
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit <= 0 {
		limit = 200
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

type batchRepository struct{ s *Store }

func (r batchRepository) Create(_ context.Context, batch domain.Batch) (domain.Batch, error) {
	defer r.s.lock()()
	st := r.s.state()
	if _, exists := st.batches[batch.ID]; exists {
		return domain.Batch{}, fmt.Errorf("failed to create batch: duplicate id %s", batch.ID)
	}
	if batch.ErrorLog == nil {
		batch.ErrorLog = []domain.ErrorEntry{}
	}
	if batch.ImportConfig == nil {
		batch.ImportConfig = map[string]any{}
	}
	st.batches[batch.ID] = batch
	return batch, nil
}

func (r batchRepository) GetByID(_ context.Context, id uuid.UUID) (domain.Batch, error) {
	defer r.s.lock()()
	batch, ok := r.s.state().batches[id]
	if !ok {
		return domain.Batch{}, fmt.Errorf("batch %s: %w", id, domain.ErrNotFound)
	}
	return batch, nil
}

func (r batchRepository) List(_ context.Context, filter repository.BatchFilter) ([]domain.Batch, error) {
	defer r.s.lock()()
	out := []domain.Batch{}
	for _, b := range r.s.state().batches {
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, b.Status) {
			continue
		}
		if filter.ImportType != "" && b.ImportType != filter.ImportType {
			continue
		}
		if filter.CreatedBy != "" && (b.CreatedBy == nil || *b.CreatedBy != filter.CreatedBy) {
			continue
		}
		if filter.FileHash != "" && (b.File == nil || b.File.Hash != filter.FileHash) {
			continue
		}
		if filter.CreatedSince != nil && b.CreatedAt.Before(*filter.CreatedSince) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, filter.Limit, filter.Offset), nil
}

func (r batchRepository) CompareAndSetStatus(_ context.Context, batch domain.Batch, from domain.BatchStatus) (bool, error) {
	defer r.s.lock()()
	st := r.s.state()
	current, ok := st.batches[batch.ID]
	if !ok || current.Status != from {
		return false, nil
	}
	current.Status = batch.Status
	current.StartedAt = batch.StartedAt
	current.CompletedAt = batch.CompletedAt
	current.ReviewedBy = batch.ReviewedBy
	current.UpdatedAt = batch.UpdatedAt
	st.batches[batch.ID] = current
	return true, nil
}

func (r batchRepository) AddCounters(_ context.Context, id uuid.UUID, delta domain.BatchCounters) (domain.Batch, error) {
	defer r.s.lock()()
	st := r.s.state()
	current, ok := st.batches[id]
	if !ok {
		return domain.Batch{}, fmt.Errorf("batch %s: %w", id, domain.ErrNotFound)
	}
	updated, err := current.ApplyOutcome(delta, r.s.clock())
	if err != nil {
		return current, err
	}
	st.batches[id] = updated
	return updated, nil
}

func (r batchRepository) ClaimRecordKey(_ context.Context, id uuid.UUID, key string) (bool, error) {
	defer r.s.lock()()
	st := r.s.state()
	if _, ok := st.batches[id]; !ok {
		return false, fmt.Errorf("batch %s: %w", id, domain.ErrNotFound)
	}
	set, ok := st.outcomeKeys[id]
	if !ok {
		set = map[string]struct{}{}
		st.outcomeKeys[id] = set
	}
	if _, seen := set[key]; seen {
		return false, nil
	}
	set[key] = struct{}{}
	return true, nil
}

func (r batchRepository) AppendError(_ context.Context, id uuid.UUID, entry domain.ErrorEntry) error {
	defer r.s.lock()()
	st := r.s.state()
	current, ok := st.batches[id]
	if !ok {
		return fmt.Errorf("batch %s: %w", id, domain.ErrNotFound)
	}
	current = current.WithError(entry)
	current.UpdatedAt = r.s.clock().UTC()
	st.batches[id] = current
	return nil
}

func (r batchRepository) AppendNote(_ context.Context, id uuid.UUID, note string) error {
	defer r.s.lock()()
	st := r.s.state()
	current, ok := st.batches[id]
	if !ok {
		return fmt.Errorf("batch %s: %w", id, domain.ErrNotFound)
	}
	current = current.WithNote(note)
	current.UpdatedAt = r.s.clock().UTC()
	st.batches[id] = current
	return nil
}

func (r batchRepository) Delete(_ context.Context, id uuid.UUID) error {
	defer r.s.lock()()
	st := r.s.state()
	if _, ok := st.batches[id]; !ok {
		return fmt.Errorf("batch %s: %w", id, domain.ErrNotFound)
	}
	delete(st.batches, id)
	delete(st.outcomeKeys, id)
	for fid, f := range st.flags {
		if f.BatchID == id {
			delete(st.flags, fid)
		}
	}
	for cid, c := range st.centers {
		if c.ImportBatchID != nil && *c.ImportBatchID == id {
			c.ImportBatchID = nil
			st.centers[cid] = c
		}
	}
	for tid, t := range st.tenants {
		if t.ImportBatchID != nil && *t.ImportBatchID == id {
			t.ImportBatchID = nil
			st.tenants[tid] = t
		}
	}
	return nil
}

func (r batchRepository) Aggregate(_ context.Context, since time.Time) (domain.BatchAggregate, error) {
	defer r.s.lock()()
	var agg domain.BatchAggregate
	for _, b := range r.s.state().batches {
		if b.CreatedAt.Before(since) {
			continue
		}
		agg.TotalBatches++
		switch b.Status {
		case domain.BatchStatusCompleted, domain.BatchStatusPartial:
			agg.CompletedBatches++
		case domain.BatchStatusFailed:
			agg.FailedBatches++
		case domain.BatchStatusProcessing:
			agg.ProcessingBatches++
		}
		agg.TotalRecords += int64(b.Counters.Total)
		agg.SuccessfulRecords += int64(b.Counters.Successful)
	}
	return agg, nil
}

type flagRepository struct{ s *Store }

func (r flagRepository) Create(_ context.Context, flag domain.QualityFlag) (domain.QualityFlag, error) {
	defer r.s.lock()()
	st := r.s.state()
	if _, ok := st.batches[flag.BatchID]; !ok {
		return domain.QualityFlag{}, fmt.Errorf("batch %s: %w", flag.BatchID, domain.ErrNotFound)
	}
	st.flags[flag.ID] = flag
	return flag, nil
}

func (r flagRepository) GetByID(_ context.Context, id uuid.UUID) (domain.QualityFlag, error) {
	defer r.s.lock()()
	flag, ok := r.s.state().flags[id]
	if !ok {
		return domain.QualityFlag{}, fmt.Errorf("flag %s: %w", id, domain.ErrNotFound)
	}
	return flag, nil
}

func (r flagRepository) matching(filter repository.FlagFilter) []domain.QualityFlag {
	out := []domain.QualityFlag{}
	for _, f := range r.s.state().flags {
		if filter.BatchID != nil && f.BatchID != *filter.BatchID {
			continue
		}
		if filter.FlagType != "" && f.FlagType != filter.FlagType {
			continue
		}
		if filter.MinSeverity > 0 && f.Severity < filter.MinSeverity {
			continue
		}
		if filter.Resolved != nil && f.IsResolved() != *filter.Resolved {
			continue
		}
		if filter.Target != nil && (f.Target.ContentType() != filter.Target.ContentType() ||
			f.Target.ObjectID() != filter.Target.ObjectID()) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (r flagRepository) List(_ context.Context, filter repository.FlagFilter) ([]domain.QualityFlag, error) {
	defer r.s.lock()()
	out := r.matching(filter)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity > out[j].Severity
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, filter.Limit, filter.Offset), nil
}

func (r flagRepository) Count(_ context.Context, filter repository.FlagFilter) (int64, error) {
	defer r.s.lock()()
	return int64(len(r.matching(filter))), nil
}

func (r flagRepository) Resolve(_ context.Context, id uuid.UUID, resolution domain.Resolution) (bool, error) {
	defer r.s.lock()()
	st := r.s.state()
	flag, ok := st.flags[id]
	if !ok || flag.IsResolved() {
		return false, nil
	}
	res := resolution
	flag.Resolution = &res
	flag.UpdatedAt = resolution.ResolvedAt
	st.flags[id] = flag
	return true, nil
}

type mappingRepository struct{ s *Store }

func (r mappingRepository) taken(cfg domain.MappingConfig) bool {
	for id, m := range r.s.state().mappings {
		if id != cfg.ID && m.Name == cfg.Name && m.ImportType == cfg.ImportType {
			return true
		}
	}
	return false
}

func (r mappingRepository) Create(_ context.Context, cfg domain.MappingConfig) (domain.MappingConfig, error) {
	defer r.s.lock()()
	if r.taken(cfg) {
		return domain.MappingConfig{}, fmt.Errorf("%s: %w", cfg, domain.ErrDuplicateMapping)
	}
	r.s.state().mappings[cfg.ID] = cfg
	return cfg, nil
}

func (r mappingRepository) GetByID(_ context.Context, id uuid.UUID) (domain.MappingConfig, error) {
	defer r.s.lock()()
	cfg, ok := r.s.state().mappings[id]
	if !ok {
		return domain.MappingConfig{}, fmt.Errorf("mapping config %s: %w", id, domain.ErrNotFound)
	}
	return cfg, nil
}

func (r mappingRepository) GetByName(_ context.Context, name string, importType domain.ImportType) (domain.MappingConfig, error) {
	defer r.s.lock()()
	for _, cfg := range r.s.state().mappings {
		if cfg.Name == name && cfg.ImportType == importType {
			return cfg, nil
		}
	}
	return domain.MappingConfig{}, fmt.Errorf("mapping config %s: %w", name, domain.ErrNotFound)
}

func (r mappingRepository) List(_ context.Context, importType domain.ImportType) ([]domain.MappingConfig, error) {
	defer r.s.lock()()
	out := []domain.MappingConfig{}
	for _, cfg := range r.s.state().mappings {
		if importType == "" || cfg.ImportType == importType {
			out = append(out, cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastUsedAt, out[j].LastUsedAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (r mappingRepository) Update(_ context.Context, cfg domain.MappingConfig) (domain.MappingConfig, error) {
	defer r.s.lock()()
	st := r.s.state()
	current, ok := st.mappings[cfg.ID]
	if !ok {
		return domain.MappingConfig{}, fmt.Errorf("mapping config %s: %w", cfg.ID, domain.ErrNotFound)
	}
	if r.taken(cfg) {
		return domain.MappingConfig{}, fmt.Errorf("%s: %w", cfg, domain.ErrDuplicateMapping)
	}
	cfg.CreatedAt = current.CreatedAt
	cfg.CreatedBy = current.CreatedBy
	cfg.UsageCount = current.UsageCount
	cfg.LastUsedAt = current.LastUsedAt
	st.mappings[cfg.ID] = cfg
	return cfg, nil
}

func (r mappingRepository) MarkUsed(_ context.Context, id uuid.UUID, at time.Time) (domain.MappingConfig, error) {
	defer r.s.lock()()
	st := r.s.state()
	cfg, ok := st.mappings[id]
	if !ok {
		return domain.MappingConfig{}, fmt.Errorf("mapping config %s: %w", id, domain.ErrNotFound)
	}
	cfg = cfg.WithUsage(at)
	st.mappings[id] = cfg
	return cfg, nil
}

func (r mappingRepository) Delete(_ context.Context, id uuid.UUID) error {
	defer r.s.lock()()
	st := r.s.state()
	if _, ok := st.mappings[id]; !ok {
		return fmt.Errorf("mapping config %s: %w", id, domain.ErrNotFound)
	}
	delete(st.mappings, id)
	return nil
}

type centerRepository struct{ s *Store }

func (r centerRepository) nameTaken(name string, excludeID int64) bool {
	for id, c := range r.s.state().centers {
		if id != excludeID && strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}

func (r centerRepository) Create(_ context.Context, center domain.ShoppingCenter) (domain.ShoppingCenter, error) {
	defer r.s.lock()()
	st := r.s.state()
	if r.nameTaken(center.Name, 0) {
		return domain.ShoppingCenter{}, fmt.Errorf("%q: %w", center.Name, domain.ErrDuplicateName)
	}
	st.nextCenterID++
	center.ID = st.nextCenterID
	st.centers[center.ID] = center
	return center, nil
}

func (r centerRepository) GetByID(_ context.Context, id int64) (domain.ShoppingCenter, error) {
	defer r.s.lock()()
	center, ok := r.s.state().centers[id]
	if !ok {
		return domain.ShoppingCenter{}, fmt.Errorf("shopping center %d: %w", id, domain.ErrNotFound)
	}
	return center, nil
}

func (r centerRepository) GetForUpdate(ctx context.Context, id int64) (domain.ShoppingCenter, error) {
	return r.GetByID(ctx, id)
}

func (r centerRepository) GetByIDs(_ context.Context, ids []int64) ([]domain.ShoppingCenter, error) {
	defer r.s.lock()()
	out := []domain.ShoppingCenter{}
	for _, id := range ids {
		if c, ok := r.s.state().centers[id]; ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r centerRepository) GetByName(_ context.Context, name string) (domain.ShoppingCenter, error) {
	defer r.s.lock()()
	for _, c := range r.s.state().centers {
		if strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			return c, nil
		}
	}
	return domain.ShoppingCenter{}, fmt.Errorf("shopping center %q: %w", name, domain.ErrNotFound)
}

func (r centerRepository) NameTaken(_ context.Context, name string, excludeID int64) (bool, error) {
	defer r.s.lock()()
	return r.nameTaken(name, excludeID), nil
}

func (r centerRepository) Update(_ context.Context, center domain.ShoppingCenter) (domain.ShoppingCenter, error) {
	defer r.s.lock()()
	st := r.s.state()
	current, ok := st.centers[center.ID]
	if !ok {
		return domain.ShoppingCenter{}, fmt.Errorf("shopping center %d: %w", center.ID, domain.ErrNotFound)
	}
	if r.nameTaken(center.Name, center.ID) {
		return domain.ShoppingCenter{}, fmt.Errorf("%q: %w", center.Name, domain.ErrDuplicateName)
	}
	center.CreatedAt = current.CreatedAt
	st.centers[center.ID] = center
	return center, nil
}

func (r centerRepository) Delete(_ context.Context, id int64) error {
	defer r.s.lock()()
	st := r.s.state()
	if _, ok := st.centers[id]; !ok {
		return fmt.Errorf("shopping center %d: %w", id, domain.ErrNotFound)
	}
	delete(st.centers, id)
	for tid, t := range st.tenants {
		if t.ShoppingCenterID == id {
			delete(st.tenants, tid)
		}
	}
	return nil
}

func (r centerRepository) Count(context.Context) (int64, error) {
	defer r.s.lock()()
	return int64(len(r.s.state().centers)), nil
}

type tenantRepository struct{ s *Store }

func (r tenantRepository) Create(_ context.Context, tenant domain.Tenant) (domain.Tenant, error) {
	defer r.s.lock()()
	st := r.s.state()
	if _, ok := st.centers[tenant.ShoppingCenterID]; !ok {
		return domain.Tenant{}, fmt.Errorf("shopping center %d: %w", tenant.ShoppingCenterID, domain.ErrNotFound)
	}
	st.nextTenantID++
	tenant.ID = st.nextTenantID
	st.tenants[tenant.ID] = tenant
	return tenant, nil
}

func (r tenantRepository) GetByID(_ context.Context, id int64) (domain.Tenant, error) {
	defer r.s.lock()()
	tenant, ok := r.s.state().tenants[id]
	if !ok {
		return domain.Tenant{}, fmt.Errorf("tenant %d: %w", id, domain.ErrNotFound)
	}
	return tenant, nil
}

func (r tenantRepository) GetForUpdate(ctx context.Context, id int64) (domain.Tenant, error) {
	return r.GetByID(ctx, id)
}

func (r tenantRepository) GetByIDs(_ context.Context, ids []int64) ([]domain.Tenant, error) {
	defer r.s.lock()()
	out := []domain.Tenant{}
	for _, id := range ids {
		if t, ok := r.s.state().tenants[id]; ok {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r tenantRepository) FindInCenter(_ context.Context, centerID int64, suiteNumber, name string) (domain.Tenant, error) {
	defer r.s.lock()()
	suite := strings.TrimSpace(suiteNumber)
	var found *domain.Tenant
	for _, t := range r.s.state().tenants {
		if t.ShoppingCenterID != centerID {
			continue
		}
		var match bool
		if suite != "" {
			match = t.SuiteNumber == suite
		} else {
			match = strings.EqualFold(t.Name, strings.TrimSpace(name))
		}
		if match && (found == nil || t.ID < found.ID) {
			found = &t
		}
	}
	if found == nil {
		return domain.Tenant{}, fmt.Errorf("tenant in center %d: %w", centerID, domain.ErrNotFound)
	}
	return *found, nil
}

func (r tenantRepository) ListByCenter(_ context.Context, centerID int64) ([]domain.Tenant, error) {
	defer r.s.lock()()
	out := []domain.Tenant{}
	for _, t := range r.s.state().tenants {
		if t.ShoppingCenterID == centerID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SuiteNumber != out[j].SuiteNumber {
			return out[i].SuiteNumber < out[j].SuiteNumber
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r tenantRepository) Update(_ context.Context, tenant domain.Tenant) (domain.Tenant, error) {
	defer r.s.lock()()
	st := r.s.state()
	current, ok := st.tenants[tenant.ID]
	if !ok {
		return domain.Tenant{}, fmt.Errorf("tenant %d: %w", tenant.ID, domain.ErrNotFound)
	}
	tenant.CreatedAt = current.CreatedAt
	st.tenants[tenant.ID] = tenant
	return tenant, nil
}

func (r tenantRepository) Delete(_ context.Context, id int64) error {
	defer r.s.lock()()
	st := r.s.state()
	if _, ok := st.tenants[id]; !ok {
		return fmt.Errorf("tenant %d: %w", id, domain.ErrNotFound)
	}
	delete(st.tenants, id)
	return nil
}

type auditRepository struct{ s *Store }

func (r auditRepository) Record(_ context.Context, entry domain.AuditEntry) error {
	defer r.s.lock()()
	st := r.s.state()
	st.audit = append(st.audit, entry)
	return nil
}

func (r auditRepository) List(_ context.Context, subjectKind, subjectID string, limit int) ([]domain.AuditEntry, error) {
	defer r.s.lock()()
	out := []domain.AuditEntry{}
	for _, e := range r.s.state().audit {
		if e.SubjectKind == subjectKind && e.SubjectID == subjectID {
			out = append(out, e)
		}
	}
	return page(out, limit, 0), nil
}
