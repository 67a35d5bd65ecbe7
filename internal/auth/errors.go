package auth

import "errors"

// Failure taxonomy of the session authority. The HTTP layer collapses the
// token-shaped failures into one generic 401 so clients never get a
// signature oracle; the distinctions exist for logs, metrics and audit.
var (
	// ErrInvalidCredentials covers unknown email and wrong password alike.
	// The two cases are deliberately indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrEmailTaken is returned by Register for an already-registered email.
	ErrEmailTaken = errors.New("auth: email already registered")
	// ErrTokenRevoked marks a refresh token that was already consumed or
	// explicitly logged out.
	ErrTokenRevoked = errors.New("auth: token revoked")
	// ErrInvalidToken covers malformed, tampered, unsupported and
	// wrong-kind tokens.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrTokenExpired marks a structurally valid token past its expiry.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrPrincipalNotFound is returned when a token's subject no longer
	// resolves to a principal (user deleted after issuance).
	ErrPrincipalNotFound = errors.New("auth: principal not found")
	// ErrStoreUnavailable is a transient infrastructure failure. Retry-safe;
	// never reported as a token validity verdict.
	ErrStoreUnavailable = errors.New("auth: store unavailable")
)
