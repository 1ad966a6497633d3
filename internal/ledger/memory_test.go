package ledger

import (
	"context"
	"testing"

	"github.com/cristianortiz/timedAuction/internal/auction/domain"
	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func request(p uuid.UUID, amount string) domain.LedgerRequest {
	return domain.LedgerRequest{ParticipantID: p, Amount: dec(amount), Category: "auction_bid", RefType: "auction"}
}

func balance(t *testing.T, l *MemoryLedger, p uuid.UUID) string {
	t.Helper()
	b, err := l.Balance(context.Background(), p)
	assert.NoError(t, err)
	return b.String()
}

func TestMemoryLedger_HoldReleaseCapture(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	p := uuid.New()
	l.Credit(p, dec("100"))

	first, err := l.Hold(ctx, request(p, "60"))
	assert.NoError(t, err)
	assert.True(t, first.Success)
	check.Equal(t, "40", balance(t, l, p))

	refused, err := l.Hold(ctx, request(p, "50"))
	assert.NoError(t, err)
	check.False(t, refused.Success)
	check.Equal(t, domain.LedgerInsufficientBalance, refused.Code)

	assert.NoError(t, l.Release(ctx, first.TransactionRef))
	check.Equal(t, "100", balance(t, l, p))
	// releasing twice is a no-op
	assert.NoError(t, l.Release(ctx, first.TransactionRef))
	check.Equal(t, "100", balance(t, l, p))

	second, err := l.Hold(ctx, request(p, "70"))
	assert.NoError(t, err)
	assert.NoError(t, l.Capture(ctx, second.TransactionRef))
	assert.NoError(t, l.Capture(ctx, second.TransactionRef))
	check.Equal(t, "30", balance(t, l, p))

	tx, ok := l.Transaction(second.TransactionRef)
	assert.True(t, ok)
	check.Equal(t, TxSettled, tx.State)
	check.Equal(t, "auction_bid", tx.Category)

	// a captured hold cannot be released, nor a released one captured
	check.Error(t, l.Release(ctx, second.TransactionRef))
	check.Error(t, l.Capture(ctx, first.TransactionRef))
	check.Error(t, l.Release(ctx, "missing"))
}

func TestMemoryLedger_DeductAndRefund(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	p := uuid.New()
	l.Credit(p, dec("10"))

	res, err := l.Deduct(ctx, request(p, "4"))
	assert.NoError(t, err)
	assert.True(t, res.Success)
	check.Equal(t, "6", balance(t, l, p))
	tx, _ := l.Transaction(res.TransactionRef)
	check.Equal(t, TxDeduct, tx.Kind)
	check.Equal(t, TxSettled, tx.State)

	assert.NoError(t, l.Release(ctx, res.TransactionRef))
	check.Equal(t, "10", balance(t, l, p))
	tx, _ = l.Transaction(res.TransactionRef)
	check.Equal(t, TxRefunded, tx.State)
}

func TestMemoryLedger_Refusals(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	res, err := l.Hold(ctx, request(uuid.New(), "1"))
	assert.NoError(t, err)
	check.Equal(t, domain.LedgerAccountNotFound, res.Code)

	p := uuid.New()
	l.Credit(p, dec("1"))
	res, err = l.Deduct(ctx, request(p, "-1"))
	assert.NoError(t, err)
	check.Equal(t, domain.LedgerRejected, res.Code)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = l.Hold(cancelled, request(p, "1"))
	check.Error(t, err)
}
