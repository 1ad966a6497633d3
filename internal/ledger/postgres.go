package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/cristianortiz/timedAuction/internal/shared/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// PostgresLedger keeps wallets and their holds/deductions in postgres. Every
// operation locks the wallet row so concurrent holds cannot overdraw it.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

var _ domain.Ledger = (*PostgresLedger)(nil)

func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

func (l *PostgresLedger) inTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error("Ledger rollback failed", zap.Error(rbErr))
			}
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Credit adds funds to a wallet, creating it when missing.
func (l *PostgresLedger) Credit(ctx context.Context, participantID uuid.UUID, amount decimal.Decimal) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO wallets (participant_id, balance) VALUES ($1, $2)
		ON CONFLICT (participant_id) DO UPDATE
		SET balance = wallets.balance + EXCLUDED.balance, updated_at = NOW()`,
		participantID, amount,
	)
	if err != nil {
		return fmt.Errorf("ledger: credit: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Hold(ctx context.Context, req domain.LedgerRequest) (domain.LedgerResult, error) {
	return l.record(ctx, req, TxHold)
}

func (l *PostgresLedger) Deduct(ctx context.Context, req domain.LedgerRequest) (domain.LedgerResult, error) {
	return l.record(ctx, req, TxDeduct)
}

func (l *PostgresLedger) record(ctx context.Context, req domain.LedgerRequest, kind TxKind) (domain.LedgerResult, error) {
	if req.Amount.IsNegative() {
		return domain.LedgerResult{Code: domain.LedgerRejected, Reason: "amount must not be negative"}, nil
	}
	var res domain.LedgerResult
	err := l.inTx(ctx, func(tx pgx.Tx) error {
		available, err := lockAvailable(ctx, tx, req.ParticipantID)
		if errors.Is(err, pgx.ErrNoRows) {
			res = domain.LedgerResult{Code: domain.LedgerAccountNotFound, Reason: "wallet not found"}
			return nil
		}
		if err != nil {
			return err
		}
		if available.LessThan(req.Amount) {
			res = domain.LedgerResult{Code: domain.LedgerInsufficientBalance, Reason: "insufficient balance"}
			return nil
		}

		state := TxPending
		if kind == TxDeduct {
			state = TxSettled
			if _, err := tx.Exec(ctx,
				`UPDATE wallets SET balance = balance - $2, updated_at = NOW() WHERE participant_id = $1`,
				req.ParticipantID, req.Amount,
			); err != nil {
				return fmt.Errorf("ledger: debit wallet: %w", err)
			}
		}
		ref := uuid.NewString()
		metadata := req.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO ledger_transactions
				(ref, participant_id, kind, state, amount, category, memo, ref_id, ref_type, metadata, settled_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, CASE WHEN $4 = 'settled' THEN NOW() END)`,
			ref, req.ParticipantID, kind, state, req.Amount, req.Category, req.Memo, req.RefID, req.RefType, metadata,
		)
		if err != nil {
			return fmt.Errorf("ledger: insert transaction: %w", err)
		}
		res = domain.LedgerResult{Success: true, TransactionRef: ref}
		return nil
	})
	if err != nil {
		return domain.LedgerResult{}, err
	}
	return res, nil
}

// lockAvailable locks the wallet row and returns balance minus pending holds.
func lockAvailable(ctx context.Context, tx pgx.Tx, participantID uuid.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRow(ctx, `SELECT balance FROM wallets WHERE participant_id = $1 FOR UPDATE`, participantID).Scan(&balance)
	if err != nil {
		return decimal.Zero, err
	}
	var held decimal.Decimal
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM ledger_transactions
		WHERE participant_id = $1 AND kind = 'hold' AND state = 'pending'`,
		participantID,
	).Scan(&held)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: sum holds: %w", err)
	}
	return balance.Sub(held), nil
}

type lockedTx struct {
	participantID uuid.UUID
	kind          TxKind
	state         TxState
	amount        decimal.Decimal
}

func lockTransaction(ctx context.Context, tx pgx.Tx, ref string) (*lockedTx, error) {
	t := &lockedTx{}
	err := tx.QueryRow(ctx,
		`SELECT participant_id, kind, state, amount FROM ledger_transactions WHERE ref = $1 FOR UPDATE`, ref,
	).Scan(&t.participantID, &t.kind, &t.state, &t.amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ledger: transaction %s not found", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: lock transaction: %w", err)
	}
	return t, nil
}

func (l *PostgresLedger) Release(ctx context.Context, ref string) error {
	return l.inTx(ctx, func(tx pgx.Tx) error {
		t, err := lockTransaction(ctx, tx, ref)
		if err != nil {
			return err
		}
		var next TxState
		switch {
		case t.kind == TxHold && t.state == TxPending:
			next = TxReleased
		case t.kind == TxDeduct && t.state == TxSettled:
			if _, err := tx.Exec(ctx,
				`UPDATE wallets SET balance = balance + $2, updated_at = NOW() WHERE participant_id = $1`,
				t.participantID, t.amount,
			); err != nil {
				return fmt.Errorf("ledger: refund wallet: %w", err)
			}
			next = TxRefunded
		case t.state == TxReleased || t.state == TxRefunded:
			return nil
		default:
			return fmt.Errorf("ledger: transaction %s cannot be released from %s", ref, t.state)
		}
		_, err = tx.Exec(ctx, `UPDATE ledger_transactions SET state = $2, settled_at = NOW() WHERE ref = $1`, ref, next)
		return err
	})
}

func (l *PostgresLedger) Capture(ctx context.Context, ref string) error {
	return l.inTx(ctx, func(tx pgx.Tx) error {
		t, err := lockTransaction(ctx, tx, ref)
		if err != nil {
			return err
		}
		if t.state == TxSettled {
			return nil
		}
		if t.kind != TxHold || t.state != TxPending {
			return fmt.Errorf("ledger: transaction %s cannot be captured from %s", ref, t.state)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE wallets SET balance = balance - $2, updated_at = NOW() WHERE participant_id = $1`,
			t.participantID, t.amount,
		); err != nil {
			return fmt.Errorf("ledger: debit wallet: %w", err)
		}
		_, err = tx.Exec(ctx, `UPDATE ledger_transactions SET state = $2, settled_at = NOW() WHERE ref = $1`, ref, TxSettled)
		return err
	})
}

// Balance returns the spendable balance, zero for unknown wallets.
func (l *PostgresLedger) Balance(ctx context.Context, participantID uuid.UUID) (decimal.Decimal, error) {
	var available decimal.Decimal
	err := l.pool.QueryRow(ctx, `
		SELECT w.balance - COALESCE((
			SELECT SUM(t.amount) FROM ledger_transactions t
			WHERE t.participant_id = w.participant_id AND t.kind = 'hold' AND t.state = 'pending'
		), 0)
		FROM wallets w WHERE w.participant_id = $1`,
		participantID,
	).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: balance: %w", err)
	}
	return available, nil
}
