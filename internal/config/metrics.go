package config

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// loadEvents is resolved lazily so the global meter provider installed after
// startup still receives later reloads.
var loadEvents = sync.OnceValue(func() metric.Int64Counter {
	counter, err := otel.Meter("asklp").Int64Counter("config.load.events")
	if err != nil {
		return nil
	}
	return counter
})

func recordLoadOutcome(ctx context.Context, profile string, err error) {
	counter := loadEvents()
	if counter == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	attrs := []attribute.KeyValue{
		attribute.String("profile", normalizeConfigProfile(profile)),
		attribute.String("outcome", outcome),
		attribute.String("error_class", classifyConfigLoadError(err)),
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		attrs = append(attrs, attribute.Int("problems", len(verr.Problems)))
	}
	counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func normalizeConfigProfile(profile string) string {
	v := strings.TrimSpace(strings.ToLower(profile))
	if v == "" {
		return "unknown"
	}
	return v
}

func classifyConfigLoadError(err error) string {
	var (
		envErr   *EnvFileError
		parseErr *ParseError
		valErr   *ValidationError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &envErr):
		return "env_file"
	case errors.As(err, &parseErr):
		return "parse"
	case errors.As(err, &valErr):
		return "validation"
	default:
		return "load"
	}
}
