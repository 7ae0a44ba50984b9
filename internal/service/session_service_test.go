package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/asklp/asklp/internal/domain"
	"github.com/asklp/asklp/internal/repository"

	"golang.org/x/oauth2"
)

type sessionServiceFixture struct {
	svc      *SessionService
	sessions *inMemorySessionRepo
	users    *inMemoryUserRepo
	provider *testOAuthProvider
}

func newSessionServiceFixture(t *testing.T, provider *testOAuthProvider, opts SessionOptions) *sessionServiceFixture {
	t.Helper()
	c := newTestCipher(t)
	sessions := newInMemorySessionRepo()
	users := newInMemoryUserRepo(domain.User{ID: "u1", Username: "nbols"})
	svc := NewSessionService(sessions, users, NewTokenRefresher(provider, c, time.Second), c, nil, opts)
	return &sessionServiceFixture{svc: svc, sessions: sessions, users: users, provider: provider}
}

func (f *sessionServiceFixture) seed(t *testing.T, id string, expiresAt time.Time) *domain.Session {
	t.Helper()
	s := sealedSession(t, f.svc.cipher, id, "u1", "refresh-"+id, expiresAt)
	f.sessions.put(s)
	return s
}

func TestSessionServiceResolveValidSessionHasNoSideEffects(t *testing.T) {
	f := newSessionServiceFixture(t, &testOAuthProvider{}, SessionOptions{})
	seeded := f.seed(t, "sid", time.Now().Add(time.Hour))

	got, err := f.svc.Resolve(context.Background(), "sid")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if *got != *seeded {
		t.Fatalf("expected session unchanged, got %+v", got)
	}
	if f.provider.refreshes.Load() != 0 {
		t.Fatal("valid session must not be refreshed")
	}
	if updates, deletes := f.sessions.counts(); updates != 0 || deletes != 0 {
		t.Fatalf("expected no writes, got updates=%d deletes=%d", updates, deletes)
	}
}

func TestSessionServiceResolveUnknownAndEmpty(t *testing.T) {
	f := newSessionServiceFixture(t, &testOAuthProvider{}, SessionOptions{})
	for _, id := range []string{"", "missing"} {
		if _, err := f.svc.Resolve(context.Background(), id); !errors.Is(err, repository.ErrSessionNotFound) {
			t.Fatalf("resolve(%q): expected ErrSessionNotFound, got %v", id, err)
		}
	}
}

func TestSessionServiceResolveStorageErrorPropagates(t *testing.T) {
	f := newSessionServiceFixture(t, &testOAuthProvider{}, SessionOptions{})
	storageErr := errors.New("database is locked")
	f.sessions.findErr = storageErr
	if _, err := f.svc.Resolve(context.Background(), "sid"); !errors.Is(err, storageErr) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestSessionServiceResolveExpiredRefreshes(t *testing.T) {
	f := newSessionServiceFixture(t, &testOAuthProvider{}, SessionOptions{})
	old := f.seed(t, "sid", time.Now().Add(-time.Minute))

	got, err := f.svc.Resolve(context.Background(), "sid")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if f.provider.refreshes.Load() != 1 {
		t.Fatalf("expected exactly one refresh, got %d", f.provider.refreshes.Load())
	}
	if !got.Valid(time.Now()) || got.ID != "sid" || got.UserID != "u1" {
		t.Fatalf("unexpected refreshed session %+v", got)
	}
	stored, ok := f.sessions.get("sid")
	if !ok {
		t.Fatal("refreshed session must remain stored")
	}
	if stored.AccessToken == old.AccessToken || stored.RefreshTokenNonce == old.RefreshTokenNonce {
		t.Fatal("stored token material was not replaced")
	}
	if stored != *got {
		t.Fatalf("stored row differs from returned session:\n%+v\n%+v", stored, *got)
	}
	refresh, err := f.svc.cipher.Decrypt(stored.RefreshToken, stored.RefreshTokenNonce)
	if err != nil || refresh != "refresh-sid-next" {
		t.Fatalf("stored refresh token does not decrypt: %q %v", refresh, err)
	}
}

func TestSessionServiceResolveRefreshFailureRevokes(t *testing.T) {
	provider := &testOAuthProvider{refreshFn: func(context.Context, string) (*oauth2.Token, error) {
		return nil, errors.New("invalid_grant")
	}}
	f := newSessionServiceFixture(t, provider, SessionOptions{})
	f.seed(t, "sid", time.Now().Add(-time.Minute))

	if _, err := f.svc.Resolve(context.Background(), "sid"); !errors.Is(err, repository.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, ok := f.sessions.get("sid"); ok {
		t.Fatal("session must be deleted after failed refresh")
	}
	if provider.refreshes.Load() != 1 {
		t.Fatalf("expected a single attempt by default, got %d", provider.refreshes.Load())
	}
}

func TestSessionServiceResolveCanceledCallerKeepsSession(t *testing.T) {
	release := make(chan struct{})
	provider := &testOAuthProvider{refreshFn: func(_ context.Context, rt string) (*oauth2.Token, error) {
		<-release
		return &oauth2.Token{AccessToken: "a", RefreshToken: rt + "-next"}, nil
	}}
	f := newSessionServiceFixture(t, provider, SessionOptions{})
	f.seed(t, "sid", time.Now().Add(-time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Resolve(ctx, "sid")
		done <- err
	}()
	waitForRefreshes(t, provider, 1)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("canceled caller kept waiting on the refresh")
	}
	if _, ok := f.sessions.get("sid"); !ok {
		t.Fatal("a disconnected caller must not revoke the session")
	}

	close(release)
	deadline := time.Now().Add(time.Second)
	for {
		if updates, _ := f.sessions.counts(); updates == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("refresh started by a canceled caller was not persisted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionServiceSharedRefreshSurvivesFirstCallerCancel(t *testing.T) {
	release := make(chan struct{})
	provider := &testOAuthProvider{refreshFn: func(ctx context.Context, rt string) (*oauth2.Token, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &oauth2.Token{AccessToken: "a", RefreshToken: rt + "-next"}, nil
	}}
	f := newSessionServiceFixture(t, provider, SessionOptions{})
	f.seed(t, "sid", time.Now().Add(-time.Minute))

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := f.svc.Resolve(ctxA, "sid")
		errA <- err
	}()
	waitForRefreshes(t, provider, 1)

	type result struct {
		session *domain.Session
		err     error
	}
	resB := make(chan result, 1)
	go func() {
		s, err := f.svc.Resolve(context.Background(), "sid")
		resB <- result{s, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected first caller to see its own cancellation, got %v", err)
	}
	close(release)

	select {
	case got := <-resB:
		if got.err != nil {
			t.Fatalf("second caller failed after first caller canceled: %v", got.err)
		}
		if !got.session.Valid(time.Now()) {
			t.Fatalf("expected a refreshed session, got expiry %v", got.session.ExpiresAt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never resolved")
	}
	if n := provider.refreshes.Load(); n != 1 {
		t.Fatalf("expected one shared refresh, got %d", n)
	}
	if _, ok := f.sessions.get("sid"); !ok {
		t.Fatal("refreshed session must remain stored")
	}
}

func TestSessionServiceFlightTimeoutLeavesRow(t *testing.T) {
	provider := &testOAuthProvider{refreshFn: func(ctx context.Context, _ string) (*oauth2.Token, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	f := newSessionServiceFixture(t, provider, SessionOptions{FlightTimeout: 20 * time.Millisecond})
	f.seed(t, "sid", time.Now().Add(-time.Minute))

	if _, err := f.svc.Resolve(context.Background(), "sid"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if _, ok := f.sessions.get("sid"); !ok {
		t.Fatal("a refresh cut short by its own bound must not revoke the session")
	}
}

func waitForRefreshes(t *testing.T, provider *testOAuthProvider, n int32) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for provider.refreshes.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("refresh count stayed at %d, want %d", provider.refreshes.Load(), n)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSessionServiceResolveRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	provider := &testOAuthProvider{refreshFn: func(_ context.Context, rt string) (*oauth2.Token, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("connection reset by peer")
		}
		return &oauth2.Token{AccessToken: "a", RefreshToken: rt + "-next"}, nil
	}}
	f := newSessionServiceFixture(t, provider, SessionOptions{MaxRefreshAttempts: 3, RetryBackoff: time.Millisecond})
	f.seed(t, "sid", time.Now().Add(-time.Minute))

	if _, err := f.svc.Resolve(context.Background(), "sid"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestSessionServiceResolveDoesNotRetryPermanentFailures(t *testing.T) {
	provider := &testOAuthProvider{refreshFn: func(context.Context, string) (*oauth2.Token, error) {
		return &oauth2.Token{AccessToken: "a"}, nil
	}}
	f := newSessionServiceFixture(t, provider, SessionOptions{MaxRefreshAttempts: 5, RetryBackoff: time.Millisecond})
	f.seed(t, "sid", time.Now().Add(-time.Minute))

	if _, err := f.svc.Resolve(context.Background(), "sid"); !errors.Is(err, repository.ErrSessionNotFound) {
		t.Fatalf("expected revoked session, got %v", err)
	}
	if provider.refreshes.Load() != 1 {
		t.Fatalf("permanent failure must not be retried, got %d attempts", provider.refreshes.Load())
	}
}

func TestSessionServiceConcurrentResolveLeavesConsistentRow(t *testing.T) {
	release := make(chan struct{})
	provider := &testOAuthProvider{refreshFn: func(_ context.Context, rt string) (*oauth2.Token, error) {
		<-release
		return &oauth2.Token{AccessToken: "a", RefreshToken: rt + "-next"}, nil
	}}
	f := newSessionServiceFixture(t, provider, SessionOptions{})
	f.seed(t, "sid", time.Now().Add(-time.Minute))

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Resolve(context.Background(), "sid")
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
	}

	stored, ok := f.sessions.get("sid")
	if !ok {
		t.Fatal("expected refreshed row to remain")
	}
	if _, err := f.svc.cipher.Decrypt(stored.AccessToken, stored.AccessTokenNonce); err != nil {
		t.Fatalf("access ciphertext/nonce pairing broken: %v", err)
	}
	if _, err := f.svc.cipher.Decrypt(stored.RefreshToken, stored.RefreshTokenNonce); err != nil {
		t.Fatalf("refresh ciphertext/nonce pairing broken: %v", err)
	}
	if n := provider.refreshes.Load(); n < 1 || n > callers {
		t.Fatalf("unexpected refresh count %d", n)
	}
}

func TestSessionServiceResolveUser(t *testing.T) {
	f := newSessionServiceFixture(t, &testOAuthProvider{}, SessionOptions{})
	f.seed(t, "sid", time.Now().Add(time.Hour))

	user, session, err := f.svc.ResolveUser(context.Background(), "sid")
	if err != nil {
		t.Fatalf("resolve user: %v", err)
	}
	if user.ID != "u1" || session.ID != "sid" {
		t.Fatalf("unexpected identity %+v %+v", user, session)
	}

	orphan := sealedSession(t, f.svc.cipher, "orphan", "ghost", "r", time.Now().Add(time.Hour))
	f.sessions.put(orphan)
	if _, _, err := f.svc.ResolveUser(context.Background(), "orphan"); !errors.Is(err, repository.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestSessionServiceIssueSessionReplacesPrevious(t *testing.T) {
	f := newSessionServiceFixture(t, &testOAuthProvider{}, SessionOptions{})
	first := f.seed(t, "first", time.Now().Add(time.Hour))

	issued, err := f.svc.IssueSession(context.Background(), "u1", &oauth2.Token{AccessToken: "a", RefreshToken: "r"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.ID == "" || issued.ID == first.ID {
		t.Fatalf("expected a fresh session id, got %q", issued.ID)
	}
	if _, ok := f.sessions.get(first.ID); ok {
		t.Fatal("previous session must be replaced")
	}
	if d := time.Until(issued.ExpiresAt); d < 59*time.Minute || d > time.Hour {
		t.Fatalf("expected default one hour lifetime, got %v", d)
	}

	if _, err := f.svc.IssueSession(context.Background(), "u1", &oauth2.Token{AccessToken: "a"}); !errors.Is(err, ErrMissingRefreshToken) {
		t.Fatalf("expected ErrMissingRefreshToken, got %v", err)
	}
}

func TestSessionServiceSweepAndLogout(t *testing.T) {
	f := newSessionServiceFixture(t, &testOAuthProvider{}, SessionOptions{})
	f.seed(t, "expired-1", time.Now().Add(-time.Minute))
	f.seed(t, "expired-2", time.Now().Add(-time.Hour))
	f.seed(t, "live", time.Now().Add(time.Hour))

	removed, err := f.svc.Sweep(context.Background())
	if err != nil || removed != 2 {
		t.Fatalf("expected 2 removed, got %d (%v)", removed, err)
	}
	views, err := f.svc.ListActiveSessions(context.Background(), 10)
	if err != nil || len(views) != 1 || views[0].ID != "live" {
		t.Fatalf("unexpected active sessions %+v (%v)", views, err)
	}
	if err := f.svc.Logout(context.Background(), "live"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := f.svc.Logout(context.Background(), "live"); err != nil {
		t.Fatalf("repeated logout must be a no-op: %v", err)
	}
}

func TestSessionServiceRunSweeperStopsOnCancel(t *testing.T) {
	f := newSessionServiceFixture(t, &testOAuthProvider{}, SessionOptions{})
	f.seed(t, "expired", time.Now().Add(-time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.svc.RunSweeper(ctx, 5*time.Millisecond) }()

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := f.sessions.get("expired"); !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sweeper did not remove expired session")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("sweeper returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}

	if err := f.svc.RunSweeper(context.Background(), 0); err == nil {
		t.Fatal("expected error for non-positive interval")
	}
}
