package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := NewError(KindBidTooLow, "bid amount too low, minimum is %s", "130")
	check.True(t, errors.Is(err, ErrBidTooLow))
	check.False(t, errors.Is(err, ErrConflict))
	check.Equal(t, "bid amount too low, minimum is 130", err.Error())

	wrapped := fmt.Errorf("place bid: %w", err)
	check.True(t, errors.Is(wrapped, ErrBidTooLow))
	check.Equal(t, KindBidTooLow, KindOf(wrapped))
	check.Equal(t, "bid amount too low, minimum is 130", Reason(wrapped))
}

func TestWrapErrorKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapError(KindTransient, cause, "failed to load auction")
	check.True(t, errors.Is(err, cause))
	check.True(t, IsTransient(err))
	check.Equal(t, "failed to load auction: connection reset", err.Error())
}

func TestKindOf(t *testing.T) {
	check.Equal(t, KindTransient, KindOf(context.DeadlineExceeded))
	check.Equal(t, KindInternal, KindOf(errors.New("boom")))
	check.Equal(t, "capacity_exceeded", KindOf(ErrWhitelistFull).String())
}

func TestIsConflict(t *testing.T) {
	check.True(t, IsConflict(ErrConflict))
	check.True(t, IsConflict(NewError(KindBidTooLow, "too low")))
	check.False(t, IsConflict(ErrSelfOutbid))
	check.False(t, IsConflict(nil))
	check.False(t, IsTransient(ErrConflict))
}
