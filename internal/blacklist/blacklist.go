// Package blacklist is the durable set of consumed and revoked refresh
// tokens. Insert is the serialization point for refresh rotation: under
// concurrent rotation of the same token, exactly one caller wins the insert
// and every other caller observes ErrDuplicate.
package blacklist

import (
	"context"
	"errors"
	"time"
)

// Revocation reasons recorded on entries. Free text; these are the values
// the authority writes.
const (
	ReasonRotation  = "rotation"
	ReasonLogout    = "logout"
	ReasonLogoutAll = "logout-all"
)

var (
	// ErrDuplicate is returned by Insert when the token value is already
	// present. Rotation treats it as losing the first-writer race.
	ErrDuplicate = errors.New("blacklist: token already present")
	// ErrUnavailable wraps transient store failures. The authority retries
	// the hot-path existence check once and then fails closed.
	ErrUnavailable = errors.New("blacklist: store unavailable")
)

// Entry is one revoked token. Entries are never updated after creation; they
// leave the store either through DeleteByUser or the expiry sweep.
type Entry struct {
	Token         string
	UserID        int64
	BlacklistedAt time.Time
	ExpiresAt     time.Time
	Reason        string
}

// Store is the revocation set. All operations must be safe under concurrent
// callers; Insert must be atomic per token value.
type Store interface {
	Insert(ctx context.Context, entry Entry) error
	Exists(ctx context.Context, tokenValue string) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	DeleteByUser(ctx context.Context, userID int64) (int64, error)
}
