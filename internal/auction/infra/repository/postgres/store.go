package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/cristianortiz/timedAuction/internal/shared/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

const pgUniqueViolation = "23505"

// Store implements domain.Store on a pgx pool. Conditional writes are plain
// UPDATE ... WHERE statements or short transactions with row locks.
type Store struct {
	pool *pgxpool.Pool
}

var _ domain.Store = (*Store)(nil)

// NewStore creates a new instance of Store
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// withTx runs fn in a transaction, committed when fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapErr(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error("Failed to rollback transaction", zap.Error(rbErr))
			}
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return mapErr(err, "failed to commit transaction")
	}
	return nil
}

// mapErr translates driver errors into the domain taxonomy at the source.
func mapErr(err error, reason string) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.WrapError(domain.KindNotFound, err, reason)
	}
	var pgErr *pgconn.PgError
	// duplicate ids are a bug, not a race worth retrying. Inserts with a
	// meaningful unique key (whitelist) handle the violation themselves.
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return domain.WrapError(domain.KindInternal, err, fmt.Sprintf("%s: duplicate %s", reason, pgErr.ConstraintName))
	}
	return domain.WrapError(domain.KindTransient, err, reason)
}
