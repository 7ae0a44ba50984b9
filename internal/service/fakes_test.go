package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/asklp/asklp/internal/domain"
	"github.com/asklp/asklp/internal/repository"
	"github.com/asklp/asklp/internal/security"

	"golang.org/x/oauth2"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestCipher(t *testing.T) *security.Cipher {
	t.Helper()
	key, err := security.ParseEncryptionKey(testKeyHex)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	c, err := security.NewCipher(key)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	return c
}

type inMemorySessionRepo struct {
	mu      sync.Mutex
	byID    map[string]domain.Session
	updates int
	deletes int
	findErr error
}

func newInMemorySessionRepo() *inMemorySessionRepo {
	return &inMemorySessionRepo{byID: map[string]domain.Session{}}
}

func (r *inMemorySessionRepo) put(s *domain.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[s.ID] = *s
}

func (r *inMemorySessionRepo) get(id string) (domain.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	return s, ok
}

func (r *inMemorySessionRepo) counts() (updates, deletes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates, r.deletes
}

func (r *inMemorySessionRepo) FindByID(_ context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	s, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	return &s, nil
}

func (r *inMemorySessionRepo) FindActiveByUserID(_ context.Context, userID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byID {
		if s.UserID == userID && s.Valid(time.Now()) {
			cp := s
			return &cp, nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (r *inMemorySessionRepo) ListActive(_ context.Context, _ int) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Session, 0, len(r.byID))
	for _, s := range r.byID {
		if s.Valid(time.Now()) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.After(out[j].ExpiresAt) })
	return out, nil
}

func (r *inMemorySessionRepo) Create(_ context.Context, s *domain.Session) error {
	r.put(s)
	return nil
}

func (r *inMemorySessionRepo) ReplaceForUser(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.byID {
		if existing.UserID == s.UserID {
			delete(r.byID, id)
		}
	}
	r.byID[s.ID] = *s
	return nil
}

func (r *inMemorySessionRepo) Update(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.byID[s.ID]
	if !ok {
		return repository.ErrSessionNotFound
	}
	r.updates++
	existing.AccessToken, existing.AccessTokenNonce = s.AccessToken, s.AccessTokenNonce
	existing.RefreshToken, existing.RefreshTokenNonce = s.RefreshToken, s.RefreshTokenNonce
	existing.ExpiresAt = s.ExpiresAt
	r.byID[s.ID] = existing
	return nil
}

func (r *inMemorySessionRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes++
	delete(r.byID, id)
	return nil
}

func (r *inMemorySessionRepo) DeleteByUserID(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.byID {
		if s.UserID == userID {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

func (r *inMemorySessionRepo) CleanupExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := time.Now()
	for id, s := range r.byID {
		if !s.ExpiresAt.After(now) {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

type inMemoryUserRepo struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func newInMemoryUserRepo(users ...domain.User) *inMemoryUserRepo {
	r := &inMemoryUserRepo{users: map[string]domain.User{}}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *inMemoryUserRepo) FindByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return &u, nil
}

func (r *inMemoryUserRepo) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; ok {
		return errors.New("UNIQUE constraint failed: users.id")
	}
	r.users[u.ID] = *u
	return nil
}

func (r *inMemoryUserRepo) CreateIfAbsent(_ context.Context, u *domain.User) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.users[u.ID]; ok {
		*u = existing
		return false, nil
	}
	r.users[u.ID] = *u
	return true, nil
}

// staleUserRepo never finds a user, like a lookup that lost a race with a
// concurrent insert.
type staleUserRepo struct {
	*inMemoryUserRepo
}

func (staleUserRepo) FindByID(context.Context, string) (*domain.User, error) {
	return nil, repository.ErrUserNotFound
}

func (r *inMemoryUserRepo) List(_ context.Context) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type testOAuthProvider struct {
	exchangeFn func(ctx context.Context, code string) (*oauth2.Token, error)
	refreshFn  func(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	userinfoFn func(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error)
	refreshes  atomic.Int32
}

func (p *testOAuthProvider) AuthCodeURL(state string) string {
	return "https://discord.test/authorize?state=" + state
}

func (p *testOAuthProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if p.exchangeFn != nil {
		return p.exchangeFn(ctx, code)
	}
	return &oauth2.Token{AccessToken: "access-" + code, RefreshToken: "refresh-" + code}, nil
}

func (p *testOAuthProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	p.refreshes.Add(1)
	if p.refreshFn != nil {
		return p.refreshFn(ctx, refreshToken)
	}
	return &oauth2.Token{AccessToken: "access-next", RefreshToken: refreshToken + "-next"}, nil
}

func (p *testOAuthProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error) {
	if p.userinfoFn != nil {
		return p.userinfoFn(ctx, token)
	}
	return &OAuthUserInfo{ID: "1001", Username: "nbols", Discriminator: "0"}, nil
}

// sealedSession builds a session whose token fields decrypt with c.
func sealedSession(t *testing.T, c *security.Cipher, id, userID, refreshToken string, expiresAt time.Time) *domain.Session {
	t.Helper()
	s, err := sealSession(c, id, userID, &oauth2.Token{AccessToken: "access-" + id, RefreshToken: refreshToken, Expiry: expiresAt}, time.Now())
	if err != nil {
		t.Fatalf("seal session: %v", err)
	}
	return s
}
