package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the auction module can report.
// Retry decisions are taken on the kind, never on the message text.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindNotFound
	KindInvalidInput
	KindInvalidState
	KindWindowNotActive
	KindCapacityExceeded
	KindDuplicateRegistration
	KindItemUnavailable
	KindBidTooLow
	KindReserveNotMet
	KindBuyNowMismatch
	KindNotWhitelisted
	KindSelfOutbid
	KindInsufficientFunds
	KindLedgerFailure
	KindRateLimited
	KindConflict
	KindTransient
)

var kindNames = map[ErrorKind]string{
	KindInternal:              "internal",
	KindNotFound:              "not_found",
	KindInvalidInput:          "invalid_input",
	KindInvalidState:          "invalid_state",
	KindWindowNotActive:       "window_not_active",
	KindCapacityExceeded:      "capacity_exceeded",
	KindDuplicateRegistration: "duplicate_registration",
	KindItemUnavailable:       "item_unavailable",
	KindBidTooLow:             "bid_too_low",
	KindReserveNotMet:         "reserve_not_met",
	KindBuyNowMismatch:        "buy_now_mismatch",
	KindNotWhitelisted:        "not_whitelisted",
	KindSelfOutbid:            "self_outbid",
	KindInsufficientFunds:     "insufficient_funds",
	KindLedgerFailure:         "ledger_failure",
	KindRateLimited:           "rate_limited",
	KindConflict:              "conflict",
	KindTransient:             "transient",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the typed failure returned by the auction module.
type Error struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below can be used
// with errors.Is regardless of the reason text.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound           = &Error{Kind: KindNotFound, Reason: "not found"}
	ErrAuctionNotFound    = &Error{Kind: KindNotFound, Reason: "auction not found"}
	ErrInvalidInput       = &Error{Kind: KindInvalidInput, Reason: "invalid input"}
	ErrInvalidState       = &Error{Kind: KindInvalidState, Reason: "auction is not in the required state"}
	ErrWindowNotActive    = &Error{Kind: KindWindowNotActive, Reason: "time window is not active"}
	ErrWhitelistFull      = &Error{Kind: KindCapacityExceeded, Reason: "whitelist is full"}
	ErrAlreadyWhitelisted = &Error{Kind: KindDuplicateRegistration, Reason: "participant already whitelisted"}
	ErrItemUnavailable    = &Error{Kind: KindItemUnavailable, Reason: "item is not available for auction"}
	ErrBidTooLow          = &Error{Kind: KindBidTooLow, Reason: "bid amount too low"}
	ErrReserveNotMet      = &Error{Kind: KindReserveNotMet, Reason: "reserve price not met"}
	ErrBuyNowMismatch     = &Error{Kind: KindBuyNowMismatch, Reason: "buy now amount mismatch"}
	ErrNotWhitelisted     = &Error{Kind: KindNotWhitelisted, Reason: "participant is not whitelisted"}
	ErrSelfOutbid         = &Error{Kind: KindSelfOutbid, Reason: "participant already holds the highest bid"}
	ErrInsufficientFunds  = &Error{Kind: KindInsufficientFunds, Reason: "insufficient balance"}
	ErrLedgerFailure      = &Error{Kind: KindLedgerFailure, Reason: "ledger operation failed"}
	ErrRateLimited        = &Error{Kind: KindRateLimited, Reason: "rate limit exceeded"}
	ErrConflict           = &Error{Kind: KindConflict, Reason: "concurrent modification"}
	ErrTransient          = &Error{Kind: KindTransient, Reason: "temporary failure"}
	ErrInternal           = &Error{Kind: KindInternal, Reason: "internal error"}
)

// NewError builds a typed error with a formatted reason.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind and reason to a lower level cause.
func WrapError(kind ErrorKind, err error, reason string) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf reports the kind of err. Deadlines are transient, anything
// unclassified is internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindInternal
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindInternal
}

// IsTransient is true for failures that are safe to retry as-is.
func IsTransient(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

// IsConflict is true for failures caused by a concurrent bid changing the
// auction between validation and write.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	k := KindOf(err)
	return k == KindConflict || k == KindBidTooLow
}

// Reason returns the human readable reason of err.
func Reason(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
