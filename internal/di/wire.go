//go:build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"github.com/asklp/asklp/internal/app"
	"github.com/asklp/asklp/internal/repository"
	"github.com/asklp/asklp/internal/service"
)

var coreSet = wire.NewSet(
	provideConfig,
	provideLogging,
	provideLogger,
	provideDatabase,
	provideCipher,
	provideOAuthProvider,
	provideTokenRefresher,
	repository.NewSessionRepository,
	repository.NewUserRepository,
	provideSessionService,
)

func InitializeApp(ctx context.Context) (*app.App, func(), error) {
	wire.Build(
		coreSet,
		provideObservability,
		provideRedis,
		provideStateSigner,
		provideAuthService,
		service.NewUserService,
		provideLimiter,
		provideRateLimitMiddleware,
		provideReadiness,
		provideAuthHandler,
		provideAppHandler,
		repository.NewQuestionRepository,
		provideQuestionService,
		provideQuestionHandler,
		provideRouter,
		provideServer,
		provideBackgroundTasks,
		provideApp,
	)
	return nil, nil, nil
}

func InitializeSessionAdmin(ctx context.Context) (*SessionAdmin, func(), error) {
	wire.Build(coreSet, provideSessionAdmin)
	return nil, nil, nil
}
