package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/asklp/asklp/internal/domain"
	"github.com/asklp/asklp/internal/observability"
	"github.com/asklp/asklp/internal/repository"
	"github.com/asklp/asklp/internal/security"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

type SessionRefresher interface {
	Refresh(ctx context.Context, session *domain.Session) (*domain.Session, error)
}

// SessionView is the operator-facing projection of a session. It never
// carries token material.
type SessionView struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type SessionOptions struct {
	MaxRefreshAttempts int
	RetryBackoff       time.Duration
	// FlightTimeout bounds a shared refresh, which runs detached from the
	// request that started it.
	FlightTimeout time.Duration
}

const defaultFlightTimeout = 30 * time.Second

type SessionService struct {
	sessionRepo repository.SessionRepository
	userRepo    repository.UserRepository
	refresher   SessionRefresher
	cipher      *security.Cipher
	logger      *slog.Logger
	opts        SessionOptions
	flights     singleflight.Group
	now         func() time.Time
}

func NewSessionService(
	sessionRepo repository.SessionRepository,
	userRepo repository.UserRepository,
	refresher SessionRefresher,
	cipher *security.Cipher,
	logger *slog.Logger,
	opts SessionOptions,
) *SessionService {
	if opts.MaxRefreshAttempts < 1 {
		opts.MaxRefreshAttempts = 1
	}
	if opts.FlightTimeout <= 0 {
		opts.FlightTimeout = defaultFlightTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{
		sessionRepo: sessionRepo,
		userRepo:    userRepo,
		refresher:   refresher,
		cipher:      cipher,
		logger:      logger,
		opts:        opts,
		now:         time.Now,
	}
}

// Resolve returns a currently valid session for id. An expired session is
// refreshed and persisted; if the refresh fails the row is deleted and
// repository.ErrSessionNotFound is returned. Storage errors pass through.
func (s *SessionService) Resolve(ctx context.Context, id string) (*domain.Session, error) {
	if id == "" {
		observability.RecordSessionResolution(ctx, "anonymous")
		return nil, repository.ErrSessionNotFound
	}
	session, err := s.sessionRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			observability.RecordSessionResolution(ctx, "not_found")
		} else {
			observability.RecordSessionResolution(ctx, "error")
		}
		return nil, err
	}
	if session.Valid(s.now()) {
		observability.RecordSessionResolution(ctx, "valid")
		return session, nil
	}

	// The flight outlives any single caller; each caller only stops waiting
	// on its own cancellation.
	detached := context.WithoutCancel(ctx)
	ch := s.flights.DoChan(id, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(detached, s.opts.FlightTimeout)
		defer cancel()
		return s.refreshOrRevoke(flightCtx, session)
	})
	select {
	case <-ctx.Done():
		observability.RecordSessionResolution(ctx, "canceled")
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		// Shared flight results are copied so concurrent callers never alias.
		refreshed := *res.Val.(*domain.Session)
		return &refreshed, nil
	}
}

// ResolveUser resolves the session and loads its owner.
func (s *SessionService) ResolveUser(ctx context.Context, id string) (*domain.User, *domain.Session, error) {
	session, err := s.Resolve(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, nil, err
	}
	return user, session, nil
}

func (s *SessionService) refreshOrRevoke(ctx context.Context, session *domain.Session) (*domain.Session, error) {
	refreshed, err := s.refreshWithRetry(ctx, session)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			// The flight ran out of time; leave the row for the next request.
			observability.RecordSessionRefresh(ctx, "timeout")
			return nil, ctxErr
		}
		observability.RecordSessionRefresh(ctx, classifyOAuthError(err))
		observability.RecordSessionResolution(ctx, "refresh_failed")
		s.logger.WarnContext(ctx, "session refresh failed, revoking", "user_id", session.UserID, "reason", classifyOAuthError(err), "error", err)
		if delErr := s.sessionRepo.Delete(ctx, session.ID); delErr != nil {
			return nil, fmt.Errorf("revoke session: %w", delErr)
		}
		return nil, repository.ErrSessionNotFound
	}
	if err := s.sessionRepo.Update(ctx, refreshed); err != nil {
		observability.RecordSessionRefresh(ctx, "persist_failed")
		return nil, err
	}
	observability.RecordSessionRefresh(ctx, "success")
	observability.RecordSessionResolution(ctx, "refreshed")
	return refreshed, nil
}

func (s *SessionService) refreshWithRetry(ctx context.Context, session *domain.Session) (*domain.Session, error) {
	if s.opts.MaxRefreshAttempts == 1 {
		return s.refresher.Refresh(ctx, session)
	}
	var policy backoff.BackOff = &backoff.ZeroBackOff{}
	if s.opts.RetryBackoff > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = s.opts.RetryBackoff
		policy = exp
	}
	return backoff.Retry(ctx, func() (*domain.Session, error) {
		next, err := s.refresher.Refresh(ctx, session)
		if err != nil && isPermanentRefreshError(err) {
			return nil, backoff.Permanent(err)
		}
		return next, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(s.opts.MaxRefreshAttempts)),
	)
}

// IssueSession stores a fresh session for userID, replacing any session the
// user already had.
func (s *SessionService) IssueSession(ctx context.Context, userID string, tok *oauth2.Token) (*domain.Session, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, errors.New("issue session: empty access token")
	}
	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("issue session: %w", ErrMissingRefreshToken)
	}
	session, err := sealSession(s.cipher, uuid.NewString(), userID, tok, s.now())
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}
	if err := s.sessionRepo.ReplaceForUser(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SessionService) Logout(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return s.sessionRepo.Delete(ctx, id)
}

func (s *SessionService) RevokeUserSessions(ctx context.Context, userID string) (int64, error) {
	return s.sessionRepo.DeleteByUserID(ctx, userID)
}

// ActiveSessionForUser returns the user's valid session with the latest
// expiry, pruning expired ones on the way.
func (s *SessionService) ActiveSessionForUser(ctx context.Context, userID string) (*SessionView, error) {
	session, err := s.sessionRepo.FindActiveByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &SessionView{ID: session.ID, UserID: session.UserID, ExpiresAt: session.ExpiresAt}, nil
}

func (s *SessionService) ListActiveSessions(ctx context.Context, limit int) ([]SessionView, error) {
	sessions, err := s.sessionRepo.ListActive(ctx, limit)
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, SessionView{
			ID:        session.ID,
			UserID:    session.UserID,
			ExpiresAt: session.ExpiresAt,
		})
	}
	return views, nil
}

// Sweep deletes every session whose expiry has passed.
func (s *SessionService) Sweep(ctx context.Context) (int64, error) {
	removed, err := s.sessionRepo.CleanupExpired(ctx)
	if err != nil {
		observability.RecordSessionSweep(ctx, "error", 0)
		return 0, err
	}
	observability.RecordSessionSweep(ctx, "success", removed)
	return removed, nil
}

// RunSweeper calls Sweep every interval until ctx is done. Sweep errors are
// logged and do not stop the loop.
func (s *SessionService) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := s.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.ErrorContext(ctx, "session sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				s.logger.InfoContext(ctx, "session sweep completed", "removed", removed)
			}
		}
	}
}
