// Package identity owns the principal model and its persistence interface.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Role is the coarse authorization level carried in token claims.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Principal is an authenticated identity. Tokens reference principals by
// email subject; they never own them.
type Principal struct {
	ID           int64
	Name         string
	Email        string
	PhoneNumber  string
	Role         Role
	PasswordHash string
	Enabled      bool
	CreatedAt    time.Time
}

var (
	// ErrNotFound is returned when no principal matches the lookup.
	ErrNotFound = errors.New("identity: principal not found")
	// ErrEmailExists is returned by Save when the email is already registered.
	ErrEmailExists = errors.New("identity: email already registered")
)

// Store is the identity persistence collaborator. Emails are unique and
// case-normalized; implementations must compare them case-insensitively.
type Store interface {
	FindByEmail(ctx context.Context, email string) (*Principal, error)
	FindByID(ctx context.Context, id int64) (*Principal, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Save(ctx context.Context, p *Principal) (*Principal, error)
	Update(ctx context.Context, p *Principal) (*Principal, error)
}

// NormalizeEmail is the canonical email form used for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
