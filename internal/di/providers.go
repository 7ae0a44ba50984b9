package di

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"gorm.io/gorm"

	"github.com/asklp/asklp/internal/app"
	"github.com/asklp/asklp/internal/config"
	"github.com/asklp/asklp/internal/database"
	"github.com/asklp/asklp/internal/health"
	"github.com/asklp/asklp/internal/http/handler"
	"github.com/asklp/asklp/internal/http/middleware"
	"github.com/asklp/asklp/internal/http/router"
	"github.com/asklp/asklp/internal/observability"
	"github.com/asklp/asklp/internal/repository"
	"github.com/asklp/asklp/internal/security"
	"github.com/asklp/asklp/internal/service"
)

const stateSignerIssuer = "asklp"

type Logging struct {
	Logger   *slog.Logger
	Provider *sdklog.LoggerProvider
}

// SessionAdmin is the object graph behind the operator session commands. It
// has no HTTP surface.
type SessionAdmin struct {
	Config   *config.Config
	Logger   *slog.Logger
	Sessions *service.SessionService
}

func provideConfig() (*config.Config, error) {
	return config.Load()
}

func provideLogging(ctx context.Context, cfg *config.Config) (*Logging, error) {
	logger, lp, err := observability.NewLogger(ctx, cfg, os.Stdout)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return &Logging{Logger: logger, Provider: lp}, nil
}

func provideLogger(l *Logging) *slog.Logger {
	return l.Logger
}

func provideObservability(ctx context.Context, cfg *config.Config, l *Logging) (*observability.Runtime, error) {
	return observability.InitRuntime(ctx, cfg, l.Logger, l.Provider)
}

func provideDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gorm.DB, func(), error) {
	db, dialect, err := database.Open(database.Options{URL: cfg.DatabaseURL, Token: cfg.DatabaseToken, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if err := database.Migrate(ctx, db, dialect, logger); err != nil {
		cleanup()
		return nil, nil, err
	}
	return db, cleanup, nil
}

// provideRedis returns nil when no address is configured; only the
// distributed rate limiter and its readiness probe need Redis.
func provideRedis(cfg *config.Config) (redis.UniversalClient, func()) {
	if cfg.RedisAddr == "" {
		return nil, func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return client, func() { _ = client.Close() }
}

func provideCipher(cfg *config.Config) (*security.Cipher, error) {
	return security.NewCipher(cfg.EncryptionKey)
}

func provideStateSigner(cfg *config.Config) (*security.StateSigner, error) {
	key, err := security.DeriveKey(cfg.EncryptionKey, "oauth-state", 32)
	if err != nil {
		return nil, err
	}
	return security.NewStateSigner(stateSignerIssuer, key), nil
}

func provideOAuthProvider(cfg *config.Config) service.OAuthProvider {
	return service.NewDiscordProvider(service.DiscordProviderConfig{
		ClientID:     cfg.DiscordClientID,
		ClientSecret: cfg.DiscordClientSecret,
		RedirectURI:  cfg.DiscordRedirectURI,
		AuthURL:      cfg.DiscordAuthURL,
		TokenURL:     cfg.DiscordTokenURL,
		UserInfoURL:  cfg.DiscordUserInfoURL,
		Timeout:      cfg.OAuthHTTPTimeout,
	})
}

func provideTokenRefresher(provider service.OAuthProvider, cipher *security.Cipher, cfg *config.Config) *service.TokenRefresher {
	return service.NewTokenRefresher(provider, cipher, cfg.RefreshTimeout)
}

func provideSessionService(
	sessionRepo repository.SessionRepository,
	userRepo repository.UserRepository,
	refresher *service.TokenRefresher,
	cipher *security.Cipher,
	logger *slog.Logger,
	cfg *config.Config,
) *service.SessionService {
	return service.NewSessionService(sessionRepo, userRepo, refresher, cipher, logger, service.SessionOptions{
		MaxRefreshAttempts: cfg.RefreshMaxAttempts,
		RetryBackoff:       cfg.RefreshRetryBackoff,
		FlightTimeout:      time.Duration(max(cfg.RefreshMaxAttempts, 1)) * 2 * cfg.RefreshTimeout,
	})
}

func provideAuthService(
	provider service.OAuthProvider,
	userRepo repository.UserRepository,
	sessions *service.SessionService,
	states *security.StateSigner,
	logger *slog.Logger,
	cfg *config.Config,
) *service.AuthService {
	return service.NewAuthService(provider, userRepo, sessions, states, logger, service.AuthOptions{
		StateTTL:           cfg.OAuthStateTTL,
		AdminDiscordID:     cfg.AdminDiscordID,
		DailyQuestionLimit: cfg.DailyQuestionLimit,
	})
}

func provideLimiter(cfg *config.Config, client redis.UniversalClient) middleware.Limiter {
	policy := middleware.RateLimitPolicy{RatePerSecond: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst}
	if cfg.RateLimitBackend == "redis" && client != nil {
		return middleware.NewRedisTokenBucketLimiter(client, policy, "")
	}
	return middleware.NewLocalTokenBucketLimiter(policy, middleware.LocalLimiterOptions{
		IdleTTL: cfg.RateLimitIdleTTL,
		MaxKeys: cfg.RateLimitMaxKeys,
	})
}

func provideRateLimitMiddleware(cfg *config.Config, limiter middleware.Limiter) func(http.Handler) http.Handler {
	return middleware.NewRateLimiter(limiter, middleware.FailureMode(cfg.RateLimitFailureMode), "global").Middleware()
}

func provideReadiness(db *gorm.DB, client redis.UniversalClient) *health.ProbeRunner {
	checkers := []health.Checker{health.NewDBChecker(db)}
	if client != nil {
		checkers = append(checkers, health.NewRedisChecker(client))
	}
	return health.NewProbeRunner(0, checkers...)
}

func provideAuthHandler(authSvc *service.AuthService, cfg *config.Config) *handler.AuthHandler {
	return handler.NewAuthHandler(authSvc, cfg.SessionCookieSecure)
}

func provideAppHandler(userSvc *service.UserService) *handler.AppHandler {
	return handler.NewAppHandler(userSvc)
}

func provideQuestionService(repo repository.QuestionRepository, cfg *config.Config, logger *slog.Logger) *service.QuestionService {
	return service.NewQuestionService(repo, cfg.QuestionDayLocation, logger)
}

func provideQuestionHandler(svc *service.QuestionService) *handler.QuestionHandler {
	return handler.NewQuestionHandler(svc)
}

func provideRouter(
	cfg *config.Config,
	authHandler *handler.AuthHandler,
	appHandler *handler.AppHandler,
	questionHandler *handler.QuestionHandler,
	sessions *service.SessionService,
	rateLimit func(http.Handler) http.Handler,
	readiness *health.ProbeRunner,
) http.Handler {
	return router.NewRouter(router.Dependencies{
		AuthHandler:     authHandler,
		AppHandler:      appHandler,
		QuestionHandler: questionHandler,
		SessionResolver: sessions,
		RateLimiter:     rateLimit,
		GateRoutes:      middleware.DefaultGateRoutes,
		SecureCookies:   cfg.SessionCookieSecure,
		Readiness:       readiness,
		EnableOTelHTTP:  cfg.EnableOTelHTTP,
	})
}

func provideServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func provideBackgroundTasks(cfg *config.Config, sessions *service.SessionService) []app.BackgroundTask {
	return []app.BackgroundTask{
		func(ctx context.Context) error { return sessions.RunSweeper(ctx, cfg.SessionSweepInterval) },
	}
}

func provideApp(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	readiness *health.ProbeRunner,
	tasks []app.BackgroundTask,
) *app.App {
	return app.New(cfg, logger, server, runtime, readiness, tasks)
}

func provideSessionAdmin(cfg *config.Config, logger *slog.Logger, sessions *service.SessionService) *SessionAdmin {
	return &SessionAdmin{Config: cfg, Logger: logger, Sessions: sessions}
}
