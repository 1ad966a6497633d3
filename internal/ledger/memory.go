package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryLedger is an in-process domain.Ledger for development and tests.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[uuid.UUID]decimal.Decimal
	txs      map[string]*Transaction
	now      func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[uuid.UUID]decimal.Decimal),
		txs:      make(map[string]*Transaction),
		now:      time.Now,
	}
}

// Credit adds funds to a participant's wallet.
func (l *MemoryLedger) Credit(participantID uuid.UUID, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[participantID] = l.balances[participantID].Add(amount)
}

// Transaction returns a copy of the transaction identified by ref.
func (l *MemoryLedger) Transaction(ref string) (Transaction, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.txs[ref]
	if !ok {
		return Transaction{}, false
	}
	return *tx, true
}

// available is the wallet balance minus pending holds. Caller holds mu.
func (l *MemoryLedger) available(participantID uuid.UUID) decimal.Decimal {
	avail := l.balances[participantID]
	for _, tx := range l.txs {
		if tx.ParticipantID == participantID && tx.Kind == TxHold && tx.State == TxPending {
			avail = avail.Sub(tx.Amount)
		}
	}
	return avail
}

func (l *MemoryLedger) Hold(ctx context.Context, req domain.LedgerRequest) (domain.LedgerResult, error) {
	return l.record(ctx, req, TxHold)
}

func (l *MemoryLedger) Deduct(ctx context.Context, req domain.LedgerRequest) (domain.LedgerResult, error) {
	return l.record(ctx, req, TxDeduct)
}

func (l *MemoryLedger) record(ctx context.Context, req domain.LedgerRequest, kind TxKind) (domain.LedgerResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.LedgerResult{}, err
	}
	if req.Amount.IsNegative() {
		return domain.LedgerResult{Code: domain.LedgerRejected, Reason: "amount must not be negative"}, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.balances[req.ParticipantID]; !ok {
		return domain.LedgerResult{Code: domain.LedgerAccountNotFound, Reason: "wallet not found"}, nil
	}
	if l.available(req.ParticipantID).LessThan(req.Amount) {
		return domain.LedgerResult{Code: domain.LedgerInsufficientBalance, Reason: "insufficient balance"}, nil
	}

	now := l.now()
	tx := &Transaction{
		Ref:           uuid.NewString(),
		ParticipantID: req.ParticipantID,
		Kind:          kind,
		State:         TxPending,
		Amount:        req.Amount,
		Category:      req.Category,
		Memo:          req.Memo,
		RefID:         req.RefID,
		RefType:       req.RefType,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if kind == TxDeduct {
		l.balances[req.ParticipantID] = l.balances[req.ParticipantID].Sub(req.Amount)
		tx.State = TxSettled
	}
	l.txs[tx.Ref] = tx
	return domain.LedgerResult{Success: true, TransactionRef: tx.Ref}, nil
}

func (l *MemoryLedger) Release(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.txs[ref]
	if !ok {
		return fmt.Errorf("ledger: transaction %s not found", ref)
	}
	switch {
	case tx.Kind == TxHold && tx.State == TxPending:
		tx.State = TxReleased
	case tx.Kind == TxDeduct && tx.State == TxSettled:
		l.balances[tx.ParticipantID] = l.balances[tx.ParticipantID].Add(tx.Amount)
		tx.State = TxRefunded
	case tx.State == TxReleased || tx.State == TxRefunded:
		return nil
	default:
		return fmt.Errorf("ledger: transaction %s cannot be released from %s", ref, tx.State)
	}
	tx.UpdatedAt = l.now()
	return nil
}

func (l *MemoryLedger) Capture(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.txs[ref]
	if !ok {
		return fmt.Errorf("ledger: transaction %s not found", ref)
	}
	if tx.State == TxSettled {
		return nil
	}
	if tx.Kind != TxHold || tx.State != TxPending {
		return fmt.Errorf("ledger: transaction %s cannot be captured from %s", ref, tx.State)
	}
	l.balances[tx.ParticipantID] = l.balances[tx.ParticipantID].Sub(tx.Amount)
	tx.State = TxSettled
	tx.UpdatedAt = l.now()
	return nil
}

// Balance returns the spendable balance: wallet funds minus pending holds.
func (l *MemoryLedger) Balance(ctx context.Context, participantID uuid.UUID) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.balances[participantID]; !ok {
		return decimal.Zero, nil
	}
	return l.available(participantID), nil
}
