package di

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/asklp/asklp/internal/config"
	"github.com/asklp/asklp/internal/http/middleware"
	"github.com/asklp/asklp/internal/security"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestProvideLimiterSelectsBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{RateLimitBackend: "redis", RedisAddr: mr.Addr(), RateLimitRPS: 1, RateLimitBurst: 2}
	client, cleanup := provideRedis(cfg)
	t.Cleanup(cleanup)
	require.NotNil(t, client)

	_, ok := provideLimiter(cfg, client).(*middleware.RedisTokenBucketLimiter)
	require.True(t, ok, "expected redis limiter")

	cfg.RateLimitBackend = "local"
	_, ok = provideLimiter(cfg, client).(*middleware.LocalTokenBucketLimiter)
	require.True(t, ok, "expected local limiter")
}

func TestProvideRedisDisabledWithoutAddr(t *testing.T) {
	client, cleanup := provideRedis(&config.Config{})
	cleanup()
	require.Nil(t, client)
}

func TestProvideDatabaseMigratesSQLite(t *testing.T) {
	cfg := &config.Config{DatabaseURL: "file:di_test?mode=memory&cache=shared"}
	db, cleanup, err := provideDatabase(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	require.True(t, db.Migrator().HasTable("sessions"))
	require.True(t, db.Migrator().HasTable("users"))
}

func TestProvideStateSignerFromEncryptionKey(t *testing.T) {
	key, err := security.ParseEncryptionKey(testKeyHex)
	require.NoError(t, err)
	signer, err := provideStateSigner(&config.Config{EncryptionKey: key})
	require.NoError(t, err)
	state, err := signer.Sign(time.Minute)
	require.NoError(t, err)
	_, err = signer.Verify(state)
	require.NoError(t, err)

	_, err = provideStateSigner(&config.Config{})
	require.Error(t, err)
}
