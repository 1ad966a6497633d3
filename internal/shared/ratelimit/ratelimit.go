// Package ratelimit provides fixed-window counters keyed by an arbitrary
// string, in process or shared through Redis.
package ratelimit

import (
	"context"
	"time"

	"github.com/cristianortiz/timedAuction/internal/shared/logger"
)

var log = logger.GetLogger()

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Count     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts attempts per key inside fixed windows.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

func decide(count, limit int, resetAt time.Time) Decision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= limit,
		Count:     count,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
