// Package rate provides the Redis-backed fixed-window limiter guarding the
// authentication endpoints. Counters are atomic per key (INCR + conditional
// EXPIRE on the first hit in a window), so the limiter needs no process-local
// state and scales horizontally.
package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRateLimited is returned when the caller exhausted the window budget.
	ErrRateLimited = errors.New("rate: too many attempts")
	// ErrUnavailable wraps Redis failures. Callers treat it as "allow":
	// the limiter is a shield, not a correctness dependency.
	ErrUnavailable = errors.New("rate: limiter unavailable")
)

// Scopes keep per-endpoint budgets independent.
const (
	ScopeLogin    = "login"
	ScopeRegister = "register"
	ScopeRefresh  = "refresh"
)

// Config holds limiter tuning parameters.
type Config struct {
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
}

// Limiter enforces per-key budgets within fixed windows.
type Limiter struct {
	rdb    redis.UniversalClient
	config Config
}

func New(rdb redis.UniversalClient, cfg Config) *Limiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 30
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Limiter{rdb: rdb, config: cfg}
}

// Allow records one attempt for key within scope and reports whether the
// budget still holds. A disabled or nil limiter always allows.
func (l *Limiter) Allow(ctx context.Context, scope, key string) error {
	if l == nil || !l.config.Enabled || key == "" {
		return nil
	}

	counterKey := fmt.Sprintf("rl:%s:%s", scope, key)
	count, err := l.rdb.Incr(ctx, counterKey).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, counterKey, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	if count > int64(l.config.MaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the budget for key within scope, e.g. after a successful
// login.
func (l *Limiter) Reset(ctx context.Context, scope, key string) error {
	if l == nil || !l.config.Enabled || key == "" {
		return nil
	}
	if err := l.rdb.Del(ctx, fmt.Sprintf("rl:%s:%s", scope, key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
