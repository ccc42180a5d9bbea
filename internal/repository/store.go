package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/shopwindow/internal/db"
	"github.com/rpattn/shopwindow/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type pgStore struct {
	pool *pgxpool.Pool
	db   db.DBTX
	inTx bool
}

// NewStore wires a Store backed by pgxpool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool, db: pool}
}

func (s *pgStore) Batches() BatchRepository { return &batchRepository{db: s.db} }
func (s *pgStore) Flags() FlagRepository { return &flagRepository{db: s.db} }
func (s *pgStore) Mappings() MappingConfigRepository { return &mappingConfigRepository{db: s.db} }
func (s *pgStore) Centers() ShoppingCenterRepository { return &shoppingCenterRepository{db: s.db} }
func (s *pgStore) Tenants() TenantRepository { return &tenantRepository{db: s.db} }
func (s *pgStore) Audit() AuditRepository { return &auditRepository{db: s.db} }

func (s *pgStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if s.pool == nil {
		return fmt.Errorf("store not initialized")
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgStore{pool: s.pool, db: tx, inTx: true})
	})
}

// notFound maps pgx.ErrNoRows onto domain.ErrNotFound.
func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 200
	}
	return limit
}
