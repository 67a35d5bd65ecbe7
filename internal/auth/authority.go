// Package auth implements the session authority: token pair issuance,
// validation against signature/expiry/blacklist, single-use refresh rotation,
// and cross-session invalidation.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bloomkart/backend/internal/audit"
	"github.com/bloomkart/backend/internal/blacklist"
	"github.com/bloomkart/backend/internal/identity"
	"github.com/bloomkart/backend/internal/metrics"
	"github.com/bloomkart/backend/internal/password"
	"github.com/bloomkart/backend/internal/token"
)

// Config holds token lifetimes. The defaults match the deployed application
// values: day-scale access tokens, week-scale refresh tokens.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

const (
	DefaultAccessTTL  = 24 * time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour

	// One retry with a short pause on a flaky blacklist read: a false
	// "not blacklisted" is the dangerous direction, so after the retry
	// the caller fails closed.
	existsRetryDelay = 200 * time.Millisecond
)

// Authority is the token lifecycle state machine. A refresh token is LIVE
// until it is either consumed (rotation or logout moves it into the
// blacklist) or expires; both end states are terminal.
type Authority struct {
	codec      *token.Codec
	identities identity.Store
	revoked    blacklist.Store
	hasher     password.Hasher
	config     Config
	log        logrus.FieldLogger
	metrics    *metrics.Metrics
	audit      *audit.Dispatcher
}

// Options carries the optional collaborators; zero values are safe.
type Options struct {
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics
	Audit   *audit.Dispatcher
}

// NewAuthority wires the authority. The codec, identity store, blacklist
// store and hasher are mandatory.
func NewAuthority(
	codec *token.Codec,
	identities identity.Store,
	revoked blacklist.Store,
	hasher password.Hasher,
	cfg Config,
	opts Options,
) (*Authority, error) {
	if codec == nil || identities == nil || revoked == nil || hasher == nil {
		return nil, errors.New("auth: missing authority dependency")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	log := opts.Logger
	if log == nil {
		logger := logrus.New()
		logger.SetLevel(logrus.WarnLevel)
		log = logger
	}

	return &Authority{
		codec:      codec,
		identities: identities,
		revoked:    revoked,
		hasher:     hasher,
		config:     cfg,
		log:        log.WithField("component", "auth"),
		metrics:    opts.Metrics,
		audit:      opts.Audit,
	}, nil
}

// TokenPair is the issued credential set returned by login, register and
// refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// RegisterInput is the new-account request.
type RegisterInput struct {
	Name        string
	Email       string
	Password    string
	PhoneNumber string
}

// Login verifies credentials and issues a fresh token pair. Unknown email
// and wrong password both surface as ErrInvalidCredentials; the distinction
// is logged server-side only.
func (a *Authority) Login(ctx context.Context, email, plaintext string) (*TokenPair, *identity.Principal, error) {
	principal, err := a.identities.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			a.metrics.Inc(metrics.LoginFailure)
			a.emit(audit.Event{Action: audit.ActionLogin, Email: identity.NormalizeEmail(email), Error: "unknown email"})
			a.log.WithField("email", identity.NormalizeEmail(email)).Debug("login: unknown email")
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	ok, err := a.hasher.Verify(plaintext, principal.PasswordHash)
	if err != nil || !ok || !principal.Enabled {
		a.metrics.Inc(metrics.LoginFailure)
		a.emit(audit.Event{Action: audit.ActionLogin, UserID: principal.ID, Email: principal.Email, Error: "credential mismatch"})
		a.log.WithField("user_id", principal.ID).Debug("login: credential mismatch or disabled account")
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := a.issuePair(principal)
	if err != nil {
		return nil, nil, err
	}

	a.metrics.Inc(metrics.LoginSuccess)
	a.emit(audit.Event{Action: audit.ActionLogin, UserID: principal.ID, Email: principal.Email, Success: true})
	return pair, principal, nil
}

// Register creates a principal with role USER and issues a pair exactly as
// login does.
func (a *Authority) Register(ctx context.Context, input RegisterInput) (*TokenPair, *identity.Principal, error) {
	email := identity.NormalizeEmail(input.Email)

	taken, err := a.identities.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if taken {
		a.metrics.Inc(metrics.RegisterDuplicate)
		a.emit(audit.Event{Action: audit.ActionRegister, Email: email, Error: "email taken"})
		return nil, nil, ErrEmailTaken
	}

	hash, err := a.hasher.Hash(input.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("auth: hash password: %w", err)
	}

	principal, err := a.identities.Save(ctx, &identity.Principal{
		Name:         input.Name,
		Email:        email,
		PhoneNumber:  input.PhoneNumber,
		Role:         identity.RoleUser,
		PasswordHash: hash,
		Enabled:      true,
	})
	if err != nil {
		// Concurrent registration can lose the race between the existence
		// check and the unique constraint.
		if errors.Is(err, identity.ErrEmailExists) {
			a.metrics.Inc(metrics.RegisterDuplicate)
			return nil, nil, ErrEmailTaken
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	pair, err := a.issuePair(principal)
	if err != nil {
		return nil, nil, err
	}

	a.metrics.Inc(metrics.RegisterSuccess)
	a.emit(audit.Event{Action: audit.ActionRegister, UserID: principal.ID, Email: principal.Email, Success: true})
	return pair, principal, nil
}

// Refresh rotates a live refresh token: the old token moves into the
// blacklist and a brand-new pair is issued. Under concurrent rotation of the
// same token the blacklist insert is the serialization point — exactly one
// caller wins; the rest get ErrTokenRevoked and must re-authenticate.
func (a *Authority) Refresh(ctx context.Context, refreshToken string) (*TokenPair, *identity.Principal, error) {
	gone, err := a.existsWithRetry(ctx, refreshToken)
	if err != nil {
		a.metrics.Inc(metrics.RefreshFailure)
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if gone {
		a.metrics.Inc(metrics.RefreshReuseDetected)
		a.emit(audit.Event{Action: audit.ActionRefreshReplay, Error: "blacklisted token presented"})
		a.log.Warn("refresh: blacklisted token presented")
		return nil, nil, ErrTokenRevoked
	}

	claims, err := a.codec.Decode(refreshToken)
	if err != nil {
		a.metrics.Inc(metrics.RefreshFailure)
		return nil, nil, classifyDecode(err)
	}
	if claims.Kind != token.KindRefresh {
		a.metrics.Inc(metrics.RefreshFailure)
		return nil, nil, fmt.Errorf("%w: not a refresh token", ErrInvalidToken)
	}

	principal, err := a.identities.FindByEmail(ctx, claims.Subject)
	if err != nil {
		a.metrics.Inc(metrics.RefreshFailure)
		if errors.Is(err, identity.ErrNotFound) {
			return nil, nil, ErrPrincipalNotFound
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// First writer wins. A concurrent rotation that already consumed this
	// token surfaces here as a duplicate insert.
	err = a.revoked.Insert(ctx, blacklist.Entry{
		Token:     refreshToken,
		UserID:    principal.ID,
		ExpiresAt: claims.ExpiresAt,
		Reason:    blacklist.ReasonRotation,
	})
	if err != nil {
		a.metrics.Inc(metrics.RefreshFailure)
		if errors.Is(err, blacklist.ErrDuplicate) {
			a.metrics.Inc(metrics.RefreshReuseDetected)
			a.emit(audit.Event{Action: audit.ActionRefreshReplay, UserID: principal.ID, Error: "lost rotation race"})
			return nil, nil, ErrTokenRevoked
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	pair, err := a.issuePair(principal)
	if err != nil {
		return nil, nil, err
	}

	a.metrics.Inc(metrics.RefreshSuccess)
	a.emit(audit.Event{Action: audit.ActionRefresh, UserID: principal.ID, Email: principal.Email, Success: true})
	return pair, principal, nil
}

// Logout blacklists a valid refresh token with reason "logout". Best-effort:
// an invalid, expired or already-revoked token is silently ignored, so the
// operation is idempotent from the caller's perspective.
func (a *Authority) Logout(ctx context.Context, refreshToken string) {
	claims, err := a.codec.Decode(refreshToken)
	if err != nil || claims.Kind != token.KindRefresh {
		a.log.Debug("logout: ignoring invalid refresh token")
		return
	}

	err = a.revoked.Insert(ctx, blacklist.Entry{
		Token:     refreshToken,
		UserID:    claims.UserID,
		ExpiresAt: claims.ExpiresAt,
		Reason:    blacklist.ReasonLogout,
	})
	switch {
	case err == nil:
		a.metrics.Inc(metrics.Logout)
		a.emit(audit.Event{Action: audit.ActionLogout, UserID: claims.UserID, Email: claims.Subject, Success: true})
	case errors.Is(err, blacklist.ErrDuplicate):
		// Already consumed; nothing to do.
	default:
		a.log.WithError(err).Warn("logout: blacklist insert failed")
	}
}

// LogoutAll deletes every blacklist row for the user. Note the asymmetry:
// this removes revocation history rather than revoking outstanding tokens,
// so still-live refresh tokens issued earlier stay valid until natural
// expiry. Access tokens are unaffected either way and age out on their own.
func (a *Authority) LogoutAll(ctx context.Context, userID int64) (int64, error) {
	removed, err := a.revoked.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	a.metrics.Inc(metrics.LogoutAll)
	a.emit(audit.Event{
		Action:   audit.ActionLogoutAll,
		UserID:   userID,
		Success:  true,
		Metadata: map[string]string{"rows_removed": fmt.Sprintf("%d", removed)},
	})
	return removed, nil
}

// IsBlacklisted reports whether the token value is in the revocation set.
// A flaky read is retried once; if the store stays unavailable the error
// propagates and callers must fail closed.
func (a *Authority) IsBlacklisted(ctx context.Context, tokenValue string) (bool, error) {
	return a.existsWithRetry(ctx, tokenValue)
}

// ActiveSessionCount reports the number of live sessions for the user.
// Sessions are not individually tracked, so the count is the floor value:
// the session that made the request.
func (a *Authority) ActiveSessionCount(_ context.Context, _ int64) (int64, error) {
	return 1, nil
}

// Profile resolves the principal behind a token subject.
func (a *Authority) Profile(ctx context.Context, email string) (*identity.Principal, error) {
	principal, err := a.identities.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return principal, nil
}

// UpdateProfile changes the mutable principal fields (name, phone).
func (a *Authority) UpdateProfile(ctx context.Context, userID int64, name, phoneNumber string) (*identity.Principal, error) {
	principal, err := a.identities.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	principal.Name = name
	principal.PhoneNumber = phoneNumber
	updated, err := a.identities.Update(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	a.emit(audit.Event{Action: audit.ActionProfileUpdated, UserID: userID, Success: true})
	return updated, nil
}

// DecodeAccess validates an access token's signature and expiry and returns
// its claims. Used by the request gate; kind REFRESH is rejected so refresh
// tokens can never be replayed as access credentials.
func (a *Authority) DecodeAccess(tokenValue string) (token.Claims, error) {
	claims, err := a.codec.Decode(tokenValue)
	if err != nil {
		return token.Claims{}, classifyDecode(err)
	}
	if claims.Kind != token.KindAccess {
		return token.Claims{}, fmt.Errorf("%w: not an access token", ErrInvalidToken)
	}
	return claims, nil
}

func (a *Authority) issuePair(principal *identity.Principal) (*TokenPair, error) {
	access, err := a.codec.Issue(token.Claims{
		Subject: principal.Email,
		UserID:  principal.ID,
		Name:    principal.Name,
		Role:    string(principal.Role),
		Kind:    token.KindAccess,
	}, a.config.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("auth: issue access token: %w", err)
	}

	refresh, err := a.codec.Issue(token.Claims{
		Subject: principal.Email,
		UserID:  principal.ID,
		Kind:    token.KindRefresh,
	}, a.config.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("auth: issue refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    a.config.AccessTTL,
	}, nil
}

func (a *Authority) existsWithRetry(ctx context.Context, tokenValue string) (bool, error) {
	gone, err := a.revoked.Exists(ctx, tokenValue)
	if err == nil {
		return gone, nil
	}
	if !errors.Is(err, blacklist.ErrUnavailable) {
		return false, err
	}

	a.metrics.Inc(metrics.StoreRetried)
	a.log.WithError(err).Warn("blacklist read failed; retrying once")

	select {
	case <-time.After(existsRetryDelay):
	case <-ctx.Done():
		return false, ctx.Err()
	}
	return a.revoked.Exists(ctx, tokenValue)
}

func (a *Authority) emit(event audit.Event) {
	if a.audit == nil {
		return
	}
	event.Timestamp = time.Now()
	a.audit.Emit(event)
}

func classifyDecode(err error) error {
	if errors.Is(err, token.ErrExpired) {
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	}
	return fmt.Errorf("%w: %v", ErrInvalidToken, err)
}
