package repository

import (
	"context"
	"time"

	"github.com/rpattn/shopwindow/internal/domain"

	"github.com/google/uuid"
)

// Store groups the repositories and scopes them to a transaction.
type Store interface {
	Batches() BatchRepository
	Flags() FlagRepository
	Mappings() MappingConfigRepository
	Centers() ShoppingCenterRepository
	Tenants() TenantRepository
	Audit() AuditRepository

	// WithTx runs fn against a Store bound to a single transaction. Nested calls
	// reuse the outer transaction.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// BatchFilter narrows batch listings. Zero values mean "any".
type BatchFilter struct {
	Statuses     []domain.BatchStatus
	ImportType   domain.ImportType
	CreatedBy    string
	FileHash     string
	CreatedSince *time.Time
	Limit        int
	Offset       int
}

// BatchRepository persists batch records.
type BatchRepository interface {
	Create(ctx context.Context, batch domain.Batch) (domain.Batch, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Batch, error)
	List(ctx context.Context, filter BatchFilter) ([]domain.Batch, error)
	// CompareAndSetStatus writes the lifecycle fields of batch (status, timestamps,
	// reviewer) only if the stored status still equals from.
	CompareAndSetStatus(ctx context.Context, batch domain.Batch, from domain.BatchStatus) (bool, error)
	// AddCounters increments counters atomically. It fails with ErrAlreadyTerminal,
	// ErrCounterInvariant or ErrNotFound without applying anything.
	AddCounters(ctx context.Context, id uuid.UUID, delta domain.BatchCounters) (domain.Batch, error)
	// ClaimRecordKey returns false when key was already claimed for the batch.
	ClaimRecordKey(ctx context.Context, id uuid.UUID, key string) (bool, error)
	AppendError(ctx context.Context, id uuid.UUID, entry domain.ErrorEntry) error
	AppendNote(ctx context.Context, id uuid.UUID, note string) error
	// Delete removes the batch and, by cascade, its quality flags.
	Delete(ctx context.Context, id uuid.UUID) error
	Aggregate(ctx context.Context, since time.Time) (domain.BatchAggregate, error)
}

// FlagFilter narrows flag listings. Zero values mean "any".
type FlagFilter struct {
	BatchID     *uuid.UUID
	FlagType    domain.FlagType
	MinSeverity domain.Severity
	Resolved    *bool
	Target      domain.Target
	Limit       int
	Offset      int
}

// FlagRepository persists quality flags.
type FlagRepository interface {
	Create(ctx context.Context, flag domain.QualityFlag) (domain.QualityFlag, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.QualityFlag, error)
	List(ctx context.Context, filter FlagFilter) ([]domain.QualityFlag, error)
	Count(ctx context.Context, filter FlagFilter) (int64, error)
	// Resolve stores resolution only if the flag is still unresolved.
	Resolve(ctx context.Context, id uuid.UUID, resolution domain.Resolution) (bool, error)
}

// MappingConfigRepository persists mapping configurations.
type MappingConfigRepository interface {
	Create(ctx context.Context, cfg domain.MappingConfig) (domain.MappingConfig, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.MappingConfig, error)
	GetByName(ctx context.Context, name string, importType domain.ImportType) (domain.MappingConfig, error)
	List(ctx context.Context, importType domain.ImportType) ([]domain.MappingConfig, error)
	Update(ctx context.Context, cfg domain.MappingConfig) (domain.MappingConfig, error)
	MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) (domain.MappingConfig, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ShoppingCenterRepository is the entity store for shopping centers.
type ShoppingCenterRepository interface {
	Create(ctx context.Context, center domain.ShoppingCenter) (domain.ShoppingCenter, error)
	GetByID(ctx context.Context, id int64) (domain.ShoppingCenter, error)
	GetByIDs(ctx context.Context, ids []int64) ([]domain.ShoppingCenter, error)
	// GetForUpdate loads the center and locks it until the transaction ends.
	GetForUpdate(ctx context.Context, id int64) (domain.ShoppingCenter, error)
	// GetByName matches case-insensitively.
	GetByName(ctx context.Context, name string) (domain.ShoppingCenter, error)
	NameTaken(ctx context.Context, name string, excludeID int64) (bool, error)
	Update(ctx context.Context, center domain.ShoppingCenter) (domain.ShoppingCenter, error)
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int64, error)
}

// TenantRepository is the entity store for tenants.
type TenantRepository interface {
	Create(ctx context.Context, tenant domain.Tenant) (domain.Tenant, error)
	GetByID(ctx context.Context, id int64) (domain.Tenant, error)
	GetByIDs(ctx context.Context, ids []int64) ([]domain.Tenant, error)
	GetForUpdate(ctx context.Context, id int64) (domain.Tenant, error)
	// FindInCenter matches by suite number when given, otherwise by name.
	FindInCenter(ctx context.Context, centerID int64, suiteNumber, name string) (domain.Tenant, error)
	ListByCenter(ctx context.Context, centerID int64) ([]domain.Tenant, error)
	Update(ctx context.Context, tenant domain.Tenant) (domain.Tenant, error)
	Delete(ctx context.Context, id int64) error
}

// AuditRepository stores the durable audit trail.
type AuditRepository interface {
	Record(ctx context.Context, entry domain.AuditEntry) error
	List(ctx context.Context, subjectKind, subjectID string, limit int) ([]domain.AuditEntry, error)
}
