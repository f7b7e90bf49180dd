package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emberwallet/ember/internal/storage"
	"github.com/emberwallet/ember/internal/vault"
	"github.com/emberwallet/ember/internal/wallet"
	"github.com/emberwallet/ember/internal/walleterr"
)

const guardPassword = "Correct#123"

// guardFixture builds a guard over one stored wallet and returns a clock
// handle that tests can advance.
func guardFixture(t *testing.T, factors ...Factor) (*Guard, *wallet.Wallet, *time.Time) {
	t.Helper()

	db := storage.NewMemory()
	wallets := wallet.NewStore(db)

	w := wallet.New("main", wallet.TypeHD, 1)
	ev, err := vault.Encrypt([]byte("seed"), []byte(guardPassword), vault.KDFParams{Memory: 64, Iterations: 1, Parallelism: 1})
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	hash, err := vault.HashPassword([]byte(guardPassword))
	if err != nil {
		t.Fatalf("HashPassword() error: %v", err)
	}
	if err := wallets.Create(w, ev, hash); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	g := NewGuard(wallets, db, factors...)
	now := time.Now()
	g.now = func() time.Time { return now }
	return g, w, &now
}

func TestAuthenticate_Success(t *testing.T) {
	g, w, _ := guardFixture(t)

	sess, err := g.Authenticate(context.Background(), w.ID, []byte(guardPassword), "device-1")
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}

	if sess.WalletID != w.ID {
		t.Errorf("session wallet = %s, want %s", sess.WalletID, w.ID)
	}
	if sess.Token == "" || sess.RefreshToken == "" {
		t.Error("session should carry token and refresh token")
	}
	if sess.ExpiresAt.Sub(sess.CreatedAt) != w.Security.SessionTimeout {
		t.Errorf("session lifetime = %v, want %v", sess.ExpiresAt.Sub(sess.CreatedAt), w.Security.SessionTimeout)
	}
	if g.State() != StateActive {
		t.Errorf("state = %s, want active", g.State())
	}
}

func TestAuthenticate_WrongPassword(t *testing.T) {
	g, w, _ := guardFixture(t)

	_, err := g.Authenticate(context.Background(), w.ID, []byte("wrong"), "device-1")
	if !errors.Is(err, walleterr.Authentication("")) {
		t.Fatalf("Authenticate(wrong) = %v, want authentication error", err)
	}
	if g.State() != StateLoggedOut {
		t.Errorf("state = %s, want logged_out", g.State())
	}
}

func TestAuthenticate_LockoutAfterThreshold(t *testing.T) {
	g, w, _ := guardFixture(t)
	ctx := context.Background()

	// Five consecutive failures (the default threshold).
	for i := 0; i < w.Security.MaxFailedAttempts; i++ {
		_, err := g.Authenticate(ctx, w.ID, []byte("wrong"), "d")
		if err == nil {
			t.Fatalf("attempt %d should fail", i+1)
		}
	}

	// Sixth attempt with the CORRECT password must still be rejected,
	// with a positive retry-after and no password check.
	_, err := g.Authenticate(ctx, w.ID, []byte(guardPassword), "d")
	if !errors.Is(err, walleterr.AccountLocked(0)) {
		t.Fatalf("Authenticate(locked) = %v, want account locked", err)
	}
	if ra := walleterr.RetryAfterOf(err); ra <= 0 {
		t.Errorf("retry-after = %v, want > 0", ra)
	}
	if g.State() != StateLocked {
		t.Errorf("state = %s, want locked", g.State())
	}
}

func TestAuthenticate_LockoutExpires(t *testing.T) {
	g, w, now := guardFixture(t)
	ctx := context.Background()

	for i := 0; i < w.Security.MaxFailedAttempts; i++ {
		g.Authenticate(ctx, w.ID, []byte("wrong"), "d")
	}
	if _, err := g.Authenticate(ctx, w.ID, []byte(guardPassword), "d"); err == nil {
		t.Fatal("authentication during lockout should fail")
	}

	// Advance past the lockout window; the correct password works again.
	*now = now.Add(w.Security.LockoutDuration + time.Second)

	sess, err := g.Authenticate(ctx, w.ID, []byte(guardPassword), "d")
	if err != nil {
		t.Fatalf("Authenticate() after lockout elapsed error: %v", err)
	}
	if sess == nil {
		t.Fatal("expected a session after lockout elapsed")
	}
}

func TestAuthenticate_SuccessResetsLockoutCounter(t *testing.T) {
	g, w, _ := guardFixture(t)
	ctx := context.Background()

	// Fail a few times, then succeed.
	for i := 0; i < w.Security.MaxFailedAttempts-1; i++ {
		g.Authenticate(ctx, w.ID, []byte("wrong"), "d")
	}
	if _, err := g.Authenticate(ctx, w.ID, []byte(guardPassword), "d"); err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}

	// The counter is reset: the next failures start from zero and one
	// more failure does not lock the account.
	if _, err := g.Authenticate(ctx, w.ID, []byte("wrong"), "d"); !errors.Is(err, walleterr.Authentication("")) {
		t.Errorf("post-reset failure = %v, want plain authentication error", err)
	}
}

func TestAuthenticate_FactorGate(t *testing.T) {
	denied := Factor(func(context.Context, string) (bool, error) { return false, nil })
	g, w, _ := guardFixture(t, denied)

	_, err := g.Authenticate(context.Background(), w.ID, []byte(guardPassword), "d")
	if !errors.Is(err, walleterr.Authentication("")) {
		t.Errorf("Authenticate(factor denied) = %v, want authentication error", err)
	}
}

func TestValidate(t *testing.T) {
	g, w, now := guardFixture(t)

	sess, err := g.Authenticate(context.Background(), w.ID, []byte(guardPassword), "d")
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}

	// Valid token refreshes last-activity.
	*now = now.Add(time.Minute)
	got, err := g.Validate(sess.Token)
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if !got.LastActivity.Equal(*now) {
		t.Errorf("last activity = %v, want %v", got.LastActivity, *now)
	}

	// Unknown token.
	if _, err := g.Validate("not-a-token"); !errors.Is(err, walleterr.SessionExpired("")) {
		t.Errorf("Validate(unknown) = %v, want session expired", err)
	}

	// Expired token is deleted and reported expired.
	*now = now.Add(w.Security.SessionTimeout + time.Minute)
	if _, err := g.Validate(sess.Token); !errors.Is(err, walleterr.SessionExpired("")) {
		t.Errorf("Validate(expired) = %v, want session expired", err)
	}
	if g.State() != StateExpired {
		t.Errorf("state = %s, want expired", g.State())
	}
	// A second validation of the same token finds nothing.
	if _, err := g.Validate(sess.Token); !errors.Is(err, walleterr.SessionExpired("")) {
		t.Errorf("Validate(deleted) = %v, want session expired", err)
	}
}

func TestRefresh_RotatesSession(t *testing.T) {
	g, w, _ := guardFixture(t)

	sess, err := g.Authenticate(context.Background(), w.ID, []byte(guardPassword), "d")
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}

	renewed, err := g.Refresh(sess.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	if renewed.Token == sess.Token {
		t.Error("refresh should issue a new token")
	}

	// The old session and refresh token are invalidated.
	if _, err := g.Validate(sess.Token); !errors.Is(err, walleterr.SessionExpired("")) {
		t.Errorf("old token after refresh = %v, want session expired", err)
	}
	if _, err := g.Refresh(sess.RefreshToken); !errors.Is(err, walleterr.SessionExpired("")) {
		t.Errorf("old refresh token reuse = %v, want session expired", err)
	}

	// The new session validates.
	if _, err := g.Validate(renewed.Token); err != nil {
		t.Errorf("Validate(renewed) error: %v", err)
	}
}

func TestRefresh_ExpiredSession(t *testing.T) {
	g, w, now := guardFixture(t)

	sess, err := g.Authenticate(context.Background(), w.ID, []byte(guardPassword), "d")
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}

	// Once the session lapses, its refresh token must not mint a fresh
	// session behind the user's back.
	*now = now.Add(w.Security.SessionTimeout + time.Minute)
	if _, err := g.Refresh(sess.RefreshToken); !errors.Is(err, walleterr.SessionExpired("")) {
		t.Fatalf("Refresh(expired) = %v, want session expired", err)
	}

	// The expired session is gone: a second refresh attempt fails too.
	if _, err := g.Refresh(sess.RefreshToken); !errors.Is(err, walleterr.SessionExpired("")) {
		t.Errorf("Refresh(swept) = %v, want session expired", err)
	}
}

func TestPeek(t *testing.T) {
	g, w, now := guardFixture(t)

	sess, err := g.Authenticate(context.Background(), w.ID, []byte(guardPassword), "d")
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}
	if !g.Peek(sess.Token) {
		t.Error("Peek(live) = false, want true")
	}
	if g.Peek("bogus") {
		t.Error("Peek(unknown) = true, want false")
	}

	*now = now.Add(w.Security.SessionTimeout + time.Minute)
	if g.Peek(sess.Token) {
		t.Error("Peek(expired) = true, want false")
	}
}

func TestRefresh_UnknownToken(t *testing.T) {
	g, _, _ := guardFixture(t)
	if _, err := g.Refresh("bogus"); !errors.Is(err, walleterr.SessionExpired("")) {
		t.Errorf("Refresh(bogus) = %v, want session expired", err)
	}
}

func TestLogout_Idempotent(t *testing.T) {
	g, w, _ := guardFixture(t)

	sess, err := g.Authenticate(context.Background(), w.ID, []byte(guardPassword), "d")
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}

	if err := g.Logout(); err != nil {
		t.Fatalf("Logout() error: %v", err)
	}
	if g.State() != StateLoggedOut {
		t.Errorf("state = %s, want logged_out", g.State())
	}
	if _, err := g.Validate(sess.Token); !errors.Is(err, walleterr.SessionExpired("")) {
		t.Errorf("Validate after logout = %v, want session expired", err)
	}

	// Second logout is a no-op.
	if err := g.Logout(); err != nil {
		t.Errorf("second Logout() error: %v", err)
	}
}

func TestInvalidateWallet(t *testing.T) {
	g, w, _ := guardFixture(t)

	s1, err := g.Authenticate(context.Background(), w.ID, []byte(guardPassword), "d1")
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}
	s2, err := g.Authenticate(context.Background(), w.ID, []byte(guardPassword), "d2")
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}

	if err := g.InvalidateWallet(w.ID); err != nil {
		t.Fatalf("InvalidateWallet() error: %v", err)
	}

	for _, token := range []string{s1.Token, s2.Token} {
		if _, err := g.Validate(token); !errors.Is(err, walleterr.SessionExpired("")) {
			t.Errorf("Validate after invalidation = %v, want session expired", err)
		}
	}
}

func TestSweep(t *testing.T) {
	g, w, now := guardFixture(t)

	if _, err := g.Authenticate(context.Background(), w.ID, []byte(guardPassword), "d"); err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}

	// Nothing expired yet.
	n, err := g.Sweep()
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if n != 0 {
		t.Errorf("Sweep() = %d, want 0", n)
	}

	*now = now.Add(w.Security.SessionTimeout + time.Minute)
	n, err = g.Sweep()
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
}
