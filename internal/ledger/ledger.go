// Package ledger provides the wallet collaborator used by the auction engine:
// funds holds for bids, deductions for whitelist entry fees, and the
// release/capture calls that settle them.
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TxKind is the type of a ledger transaction.
type TxKind string

const (
	TxHold   TxKind = "hold"
	TxDeduct TxKind = "deduct"
)

// TxState tracks a transaction through settlement.
type TxState string

const (
	TxPending  TxState = "pending"
	TxSettled  TxState = "settled"
	TxReleased TxState = "released"
	TxRefunded TxState = "refunded"
)

// Transaction is one hold or deduction recorded by a ledger implementation.
type Transaction struct {
	Ref           string
	ParticipantID uuid.UUID
	Kind          TxKind
	State         TxState
	Amount        decimal.Decimal
	Category      string
	Memo          string
	RefID         string
	RefType       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
