package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/asklp/asklp/internal/security"

	"golang.org/x/oauth2"
)

var ErrInvalidUserInfo = errors.New("missing required userinfo fields")

// UserInfoStatusError reports a non-200 answer from the userinfo endpoint.
type UserInfoStatusError struct {
	StatusCode int
}

func (e *UserInfoStatusError) Error() string {
	return fmt.Sprintf("userinfo status: %d", e.StatusCode)
}

type OAuthUserInfo struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	Avatar        string `json:"avatar"`
	Email         string `json:"email"`
}

type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error)
}

type DiscordProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Timeout      time.Duration
}

type DiscordProvider struct {
	oauth       *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

func NewDiscordProvider(cfg DiscordProviderConfig) *DiscordProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DiscordProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{"identify", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: cfg.UserInfoURL,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (p *DiscordProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

func (p *DiscordProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.oauth.Exchange(p.clientContext(ctx), code)
}

// Refresh runs the refresh_token grant. The oauth2 package carries the old
// refresh token forward when the provider omits one; that is undone here so
// callers can tell a rotated token from a missing one.
func (p *DiscordProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := p.oauth.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, err
	}
	out := *tok
	if rt, _ := tok.Extra("refresh_token").(string); rt == "" {
		out.RefreshToken = ""
	}
	return &out, nil
}

func (p *DiscordProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error) {
	client := p.oauth.Client(p.clientContext(ctx), token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &UserInfoStatusError{StatusCode: resp.StatusCode}
	}
	var info OAuthUserInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if info.ID == "" || info.Username == "" {
		return nil, ErrInvalidUserInfo
	}
	return &info, nil
}

func (p *DiscordProvider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func classifyOAuthError(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, context.Canceled) {
		return "context_canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, ErrMissingRefreshToken) {
		return "missing_refresh_token"
	}
	var (
		retrieveErr *oauth2.RetrieveError
		statusErr   *UserInfoStatusError
	)
	switch {
	case errors.As(err, &retrieveErr):
		return "token_endpoint"
	case errors.As(err, &statusErr):
		return "userinfo_status"
	case errors.Is(err, ErrInvalidUserInfo):
		return "invalid_userinfo"
	case errors.Is(err, security.ErrDecryptFailed), errors.Is(err, security.ErrMalformedCiphertext):
		return "crypto"
	case strings.HasPrefix(err.Error(), "oauth2:"):
		// x/oauth2 reports transport and parse failures as plain "oauth2: ..." errors.
		return "oauth2_exchange"
	default:
		return "unknown"
	}
}
