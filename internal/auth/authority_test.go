package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/bloomkart/backend/internal/blacklist"
	"github.com/bloomkart/backend/internal/identity"
	"github.com/bloomkart/backend/internal/password"
	"github.com/bloomkart/backend/internal/token"
)

type testEnv struct {
	authority  *Authority
	codec      *token.Codec
	identities *identity.MemoryStore
	revoked    *blacklist.MemoryStore
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	codec, err := token.NewCodec(token.Config{
		SecretKey: []byte("0123456789abcdef0123456789abcdef"),
		Issuer:    "bloomkart",
	})
	require.NoError(t, err)

	identities := identity.NewMemoryStore()
	revoked := blacklist.NewMemoryStore()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	authority, err := NewAuthority(codec, identities, revoked, password.NewArgon2(), cfg, Options{Logger: logger})
	require.NoError(t, err)

	return &testEnv{authority: authority, codec: codec, identities: identities, revoked: revoked}
}

func (e *testEnv) register(t *testing.T, email string) (*TokenPair, *identity.Principal) {
	t.Helper()
	pair, principal, err := e.authority.Register(context.Background(), RegisterInput{
		Name:     "Test User",
		Email:    email,
		Password: "pw-sufficiently-long",
	})
	require.NoError(t, err)
	return pair, principal
}

func TestLoginRefreshRotationScenario(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	env.register(t, "a@x.com")

	first, principal, err := env.authority.Login(ctx, "a@x.com", "pw-sufficiently-long")
	require.NoError(t, err)
	require.Equal(t, identity.RoleUser, principal.Role)
	require.NotEmpty(t, first.AccessToken)
	require.NotEmpty(t, first.RefreshToken)

	second, _, err := env.authority.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, _, err = env.authority.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRevoked)
}

func TestLoginConflatesUnknownEmailAndWrongPassword(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	env.register(t, "a@x.com")

	_, _, errUnknown := env.authority.Login(ctx, "nobody@x.com", "whatever-password")
	_, _, errWrong := env.authority.Login(ctx, "a@x.com", "wrong-password!!")

	require.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	require.ErrorIs(t, errWrong, ErrInvalidCredentials)
}

func TestDisabledPrincipalCannotLogin(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	_, principal := env.register(t, "a@x.com")

	principal.Enabled = false
	_, err := env.identities.Update(ctx, principal)
	require.NoError(t, err)

	_, _, err = env.authority.Login(ctx, "a@x.com", "pw-sufficiently-long")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterDuplicateEmailIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	env.register(t, "a@x.com")

	_, _, err := env.authority.Register(ctx, RegisterInput{
		Name:     "Again",
		Email:    "A@X.COM",
		Password: "pw-sufficiently-long",
	})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestConcurrentRefreshHasExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	pair, _ := env.register(t, "a@x.com")

	const workers = 16
	start := make(chan struct{})
	results := make(chan error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			_, _, err := env.authority.Refresh(ctx, pair.RefreshToken)
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	winners := 0
	for err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrTokenRevoked):
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	require.Equal(t, 1, winners, "single-use rotation must admit exactly one winner")
}

func TestExpiredRefreshFailsRegardlessOfBlacklistState(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{RefreshTTL: 10 * time.Millisecond})
	pair, _ := env.register(t, "a@x.com")

	time.Sleep(30 * time.Millisecond)

	// Not blacklisted — still rejected, by expiry alone.
	gone, err := env.authority.IsBlacklisted(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.False(t, gone)

	_, _, err = env.authority.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestRotationProducesFreshMaterial(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	pair, _ := env.register(t, "a@x.com")

	rotated, _, err := env.authority.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	gone, err := env.authority.IsBlacklisted(ctx, rotated.RefreshToken)
	require.NoError(t, err)
	require.False(t, gone, "a freshly rotated token must never start out blacklisted")

	gone, err = env.authority.IsBlacklisted(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.True(t, gone, "the consumed token must be in the blacklist")
}

func TestLogoutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	pair, _ := env.register(t, "a@x.com")

	env.authority.Logout(ctx, pair.RefreshToken)
	env.authority.Logout(ctx, pair.RefreshToken)

	gone, err := env.authority.IsBlacklisted(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.True(t, gone)

	// Garbage never enters the blacklist and never errors the caller.
	env.authority.Logout(ctx, "not-a-token")
	env.authority.Logout(ctx, "not-a-token")
	gone, err = env.authority.IsBlacklisted(ctx, "not-a-token")
	require.NoError(t, err)
	require.False(t, gone)

	// Access tokens are not refresh tokens; logout ignores them.
	env.authority.Logout(ctx, pair.AccessToken)
	gone, err = env.authority.IsBlacklisted(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.False(t, gone)
}

func TestLogoutAllRemovesOnlyThatUsersRows(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	pairA, principalA := env.register(t, "a@x.com")
	pairB, _ := env.register(t, "b@x.com")

	env.authority.Logout(ctx, pairA.RefreshToken)
	env.authority.Logout(ctx, pairB.RefreshToken)

	removed, err := env.authority.LogoutAll(ctx, principalA.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	gone, err := env.authority.IsBlacklisted(ctx, pairB.RefreshToken)
	require.NoError(t, err)
	require.True(t, gone, "other users' rows stay untouched")
}

// Logout-all deletes revocation history instead of revoking outstanding
// tokens. Consequence, preserved deliberately: a consumed-but-unexpired
// refresh token becomes usable again once its blacklist row is removed.
func TestLogoutAllResurrectsUnexpiredRevokedTokens(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	pair, principal := env.register(t, "a@x.com")

	env.authority.Logout(ctx, pair.RefreshToken)
	_, _, err := env.authority.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRevoked)

	_, err = env.authority.LogoutAll(ctx, principal.ID)
	require.NoError(t, err)

	_, _, err = env.authority.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err, "history deletion makes the old token live again until expiry")
}

func TestRefreshRejectsAccessTokens(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	pair, _ := env.register(t, "a@x.com")

	_, _, err := env.authority.Refresh(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshForDeletedPrincipal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})

	// A structurally valid refresh token whose subject no longer exists.
	orphan, err := env.codec.Issue(token.Claims{
		Subject: "ghost@x.com",
		UserID:  999,
		Kind:    token.KindRefresh,
	}, time.Hour)
	require.NoError(t, err)

	_, _, err = env.authority.Refresh(ctx, orphan)
	require.ErrorIs(t, err, ErrPrincipalNotFound)
}

func TestDecodeAccessRejectsRefreshTokens(t *testing.T) {
	env := newTestEnv(t, Config{})
	pair, _ := env.register(t, "a@x.com")

	claims, err := env.authority.DecodeAccess(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "a@x.com", claims.Subject)

	_, err = env.authority.DecodeAccess(pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

// flakyStore fails Exists a configured number of times before delegating.
type flakyStore struct {
	blacklist.Store
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) Exists(ctx context.Context, tokenValue string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return false, blacklist.ErrUnavailable
	}
	return s.Store.Exists(ctx, tokenValue)
}

func newFlakyEnv(t *testing.T, failures int) (*Authority, *TokenPair) {
	t.Helper()
	env := newTestEnv(t, Config{})
	pair, _ := env.register(t, "a@x.com")

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	authority, err := NewAuthority(
		env.codec,
		env.identities,
		&flakyStore{Store: env.revoked, failures: failures},
		password.NewArgon2(),
		Config{},
		Options{Logger: logger},
	)
	require.NoError(t, err)
	return authority, pair
}

func TestBlacklistReadRetriesOnceThenFailsClosed(t *testing.T) {
	ctx := context.Background()

	// One transient failure: the retry succeeds and rotation goes through.
	authority, pair := newFlakyEnv(t, 1)
	_, _, err := authority.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	// Persistent failure: the request fails closed, not as a token verdict.
	authority, pair = newFlakyEnv(t, 2)
	_, _, err = authority.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.NotErrorIs(t, err, ErrInvalidToken)
}

func TestActiveSessionCountFloor(t *testing.T) {
	env := newTestEnv(t, Config{})
	_, principal := env.register(t, "a@x.com")

	n, err := env.authority.ActiveSessionCount(context.Background(), principal.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestProfileUpdate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})
	_, principal := env.register(t, "a@x.com")

	updated, err := env.authority.UpdateProfile(ctx, principal.ID, "New Name", "+15550100")
	require.NoError(t, err)
	require.Equal(t, "New Name", updated.Name)
	require.Equal(t, "+15550100", updated.PhoneNumber)

	fetched, err := env.authority.Profile(ctx, "a@x.com")
	require.NoError(t, err)
	require.Equal(t, "New Name", fetched.Name)

	_, err = env.authority.Profile(ctx, "ghost@x.com")
	require.ErrorIs(t, err, ErrPrincipalNotFound)
}
