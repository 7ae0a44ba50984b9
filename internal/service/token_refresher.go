package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/asklp/asklp/internal/domain"
	"github.com/asklp/asklp/internal/security"

	"golang.org/x/oauth2"
)

const DefaultTokenLifetime = 3600 * time.Second

var (
	ErrRefreshFailed       = errors.New("oauth token refresh failed")
	ErrMissingRefreshToken = errors.New("provider response missing refresh token")
)

type TokenRefresher struct {
	provider OAuthProvider
	cipher   *security.Cipher
	timeout  time.Duration
	now      func() time.Time
}

func NewTokenRefresher(provider OAuthProvider, cipher *security.Cipher, timeout time.Duration) *TokenRefresher {
	return &TokenRefresher{provider: provider, cipher: cipher, timeout: timeout, now: time.Now}
}

// Refresh exchanges the stored refresh token for a new pair and returns a new
// session value with the same id and owner. Persisting it is the caller's job.
// Every error wraps ErrRefreshFailed.
func (r *TokenRefresher) Refresh(ctx context.Context, session *domain.Session) (*domain.Session, error) {
	refreshToken, err := r.cipher.Decrypt(session.RefreshToken, session.RefreshTokenNonce)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt refresh token: %w", ErrRefreshFailed, err)
	}

	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	tok, err := r.provider.Refresh(callCtx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, ErrMissingRefreshToken)
	}

	next, err := sealSession(r.cipher, session.ID, session.UserID, tok, r.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	return next, nil
}

// sealSession encrypts both tokens with fresh nonces. A token without an
// expiry is given DefaultTokenLifetime.
func sealSession(cipher *security.Cipher, id, userID string, tok *oauth2.Token, now time.Time) (*domain.Session, error) {
	access, accessNonce, err := cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	refresh, refreshNonce, err := cipher.Encrypt(tok.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt refresh token: %w", err)
	}
	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = now.Add(DefaultTokenLifetime)
	}
	return &domain.Session{
		ID:                id,
		UserID:            userID,
		AccessToken:       access,
		AccessTokenNonce:  accessNonce,
		RefreshToken:      refresh,
		RefreshTokenNonce: refreshNonce,
		ExpiresAt:         expiresAt.UTC(),
	}, nil
}

// isPermanentRefreshError reports failures that another attempt cannot fix.
func isPermanentRefreshError(err error) bool {
	switch {
	case errors.Is(err, ErrMissingRefreshToken),
		errors.Is(err, security.ErrDecryptFailed),
		errors.Is(err, security.ErrMalformedCiphertext):
		return true
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		code := retrieveErr.Response.StatusCode
		return code >= http.StatusBadRequest && code < http.StatusInternalServerError && code != http.StatusTooManyRequests
	}
	return false
}
