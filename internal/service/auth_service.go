package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/asklp/asklp/internal/domain"
	"github.com/asklp/asklp/internal/observability"
	"github.com/asklp/asklp/internal/repository"
	"github.com/asklp/asklp/internal/security"
)

const discordProvider = "discord"

type LoginResult struct {
	User    *domain.User
	Session *domain.Session
	Created bool
}

type AuthOptions struct {
	StateTTL           time.Duration
	AdminDiscordID     string
	DailyQuestionLimit int
}

type AuthService struct {
	provider OAuthProvider
	userRepo repository.UserRepository
	sessions *SessionService
	states   *security.StateSigner
	logger   *slog.Logger
	opts     AuthOptions
	now      func() time.Time
}

func NewAuthService(
	provider OAuthProvider,
	userRepo repository.UserRepository,
	sessions *SessionService,
	states *security.StateSigner,
	logger *slog.Logger,
	opts AuthOptions,
) *AuthService {
	if opts.StateTTL <= 0 {
		opts.StateTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		provider: provider,
		userRepo: userRepo,
		sessions: sessions,
		states:   states,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// LoginURL returns the provider authorization URL and the signed state the
// caller must pin to the browser.
func (s *AuthService) LoginURL() (authURL, state string, err error) {
	state, err = s.states.Sign(s.opts.StateTTL)
	if err != nil {
		return "", "", fmt.Errorf("sign oauth state: %w", err)
	}
	return s.provider.AuthCodeURL(state), state, nil
}

func (s *AuthService) StateTTL() time.Duration {
	return s.opts.StateTTL
}

// VerifyState checks that the state echoed by the provider matches the pinned
// cookie and carries a valid signature.
func (s *AuthService) VerifyState(cookieState, queryState string) error {
	if cookieState == "" || queryState == "" {
		return security.ErrInvalidOAuthState
	}
	if subtle.ConstantTimeCompare([]byte(cookieState), []byte(queryState)) != 1 {
		return security.ErrInvalidOAuthState
	}
	_, err := s.states.Verify(queryState)
	return err
}

// CompleteLogin exchanges the code, creates the user on first login and
// issues a session that replaces any previous one.
func (s *AuthService) CompleteLogin(ctx context.Context, code string) (*LoginResult, error) {
	res, err := s.completeLogin(ctx, code)
	if err != nil {
		observability.RecordAuthLogin(ctx, discordProvider, classifyOAuthError(err))
		return nil, err
	}
	observability.RecordAuthLogin(ctx, discordProvider, "success")
	return res, nil
}

func (s *AuthService) completeLogin(ctx context.Context, code string) (*LoginResult, error) {
	if code == "" {
		return nil, errors.New("missing authorization code")
	}
	tok, err := s.provider.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	info, err := s.provider.FetchUserInfo(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}

	created := false
	user, err := s.userRepo.FindByID(ctx, info.ID)
	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		user = &domain.User{
			ID:             info.ID,
			Username:       info.Username,
			Discriminator:  info.Discriminator,
			Avatar:         info.Avatar,
			IsAdmin:        s.opts.AdminDiscordID != "" && info.ID == s.opts.AdminDiscordID,
			JoinedAt:       s.now().UTC(),
			DailyQuestions: s.opts.DailyQuestionLimit,
		}
		// A concurrent first login may insert the row between the lookup
		// and here; that login's row wins.
		created, err = s.userRepo.CreateIfAbsent(ctx, user)
		if err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		if created {
			s.logger.InfoContext(ctx, "user registered", "user_id", user.ID, "is_admin", user.IsAdmin)
		}
	case err != nil:
		return nil, err
	}

	session, err := s.sessions.IssueSession(ctx, user.ID, tok)
	if err != nil {
		return nil, err
	}
	return &LoginResult{User: user, Session: session, Created: created}, nil
}

func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	if err := s.sessions.Logout(ctx, sessionID); err != nil {
		observability.RecordAuthLogout(ctx, "error")
		return err
	}
	observability.RecordAuthLogout(ctx, "success")
	return nil
}
