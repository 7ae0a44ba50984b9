package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/asklp/asklp/internal/http/response"
	"github.com/asklp/asklp/internal/observability"

	"golang.org/x/time/rate"
)

type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type RateLimitPolicy struct {
	RatePerSecond float64
	Burst         int
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

func normalizePolicy(policy RateLimitPolicy) RateLimitPolicy {
	if policy.Burst <= 0 {
		policy.Burst = 1
	}
	if policy.RatePerSecond <= 0 {
		policy.RatePerSecond = 1
	}
	return policy
}

type LocalLimiterOptions struct {
	IdleTTL time.Duration
	MaxKeys int
}

type bucketEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalTokenBucketLimiter keeps one token bucket per key in process memory.
// Entries idle for longer than IdleTTL are reclaimed; when MaxKeys is reached
// the least recently seen entries are evicted first.
type LocalTokenBucketLimiter struct {
	policy    RateLimitPolicy
	idleTTL   time.Duration
	maxKeys   int
	mu        sync.Mutex
	buckets   map[string]*bucketEntry
	nextSweep time.Time
	now       func() time.Time
}

func NewLocalTokenBucketLimiter(policy RateLimitPolicy, opts LocalLimiterOptions) *LocalTokenBucketLimiter {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 10 * time.Minute
	}
	if opts.MaxKeys <= 0 {
		opts.MaxKeys = 100000
	}
	return &LocalTokenBucketLimiter{
		policy:  normalizePolicy(policy),
		idleTTL: opts.IdleTTL,
		maxKeys: opts.MaxKeys,
		buckets: make(map[string]*bucketEntry),
		now:     time.Now,
	}
}

func (l *LocalTokenBucketLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.nextSweep) {
		l.evictIdle(now)
		l.nextSweep = now.Add(l.idleTTL)
	}
	entry, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.maxKeys {
			l.evictIdle(now)
			l.evictOldest(len(l.buckets) - l.maxKeys + 1)
		}
		entry = &bucketEntry{limiter: rate.NewLimiter(rate.Limit(l.policy.RatePerSecond), l.policy.Burst)}
		l.buckets[key] = entry
	}
	entry.lastSeen = now

	decision := Decision{Limit: l.policy.Burst}
	reservation := entry.limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		decision.RetryAfter = delay
	} else {
		decision.Allowed = true
	}
	decision.Remaining = max(int(math.Floor(entry.limiter.TokensAt(now))), 0)
	return decision, nil
}

// Len reports the number of tracked keys.
func (l *LocalTokenBucketLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *LocalTokenBucketLimiter) evictIdle(now time.Time) {
	for k, e := range l.buckets {
		if now.Sub(e.lastSeen) >= l.idleTTL {
			delete(l.buckets, k)
		}
	}
}

func (l *LocalTokenBucketLimiter) evictOldest(n int) {
	for ; n > 0 && len(l.buckets) > 0; n-- {
		var (
			oldestKey string
			oldest    time.Time
		)
		for k, e := range l.buckets {
			if oldestKey == "" || e.lastSeen.Before(oldest) {
				oldestKey, oldest = k, e.lastSeen
			}
		}
		delete(l.buckets, oldestKey)
	}
}

type RateLimiter struct {
	limiter Limiter
	mode    FailureMode
	scope   string
	keyFunc func(r *http.Request) string
}

func NewRateLimiter(limiter Limiter, mode FailureMode, scope string) *RateLimiter {
	if scope == "" {
		scope = "global"
	}
	return &RateLimiter{limiter: limiter, mode: mode, scope: scope, keyFunc: clientIPKey}
}

// Middleware admits or rejects each request before anything else in the
// pipeline runs. The key is the peer address of the connection.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyFunc(r)
			if key == "" {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "missing_key")
				slog.WarnContext(r.Context(), "rate limiter could not determine client address", "remote_addr", r.RemoteAddr)
				response.Error(w, r, http.StatusBadRequest, "CLIENT_IDENTITY_MISSING", "client address unavailable", nil)
				return
			}
			decision, err := rl.limiter.Allow(r.Context(), key)
			if err != nil {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "backend_error")
				if rl.mode == FailOpen {
					slog.WarnContext(r.Context(), "rate limiter backend unavailable, allowing request",
						"scope", rl.scope,
						"mode", string(rl.mode),
						"error", err.Error(),
					)
					next.ServeHTTP(w, r)
					return
				}
				w.Header().Set("Retry-After", retryAfterHeader(time.Second))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			writeRateLimitHeaders(w.Header(), decision)
			if !decision.Allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny")
				w.Header().Set("Retry-After", retryAfterHeader(decision.RetryAfter))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow")
			next.ServeHTTP(w, r)
		})
	}
}

// clientIPKey uses only the connection's peer address. Forwarded headers are
// client controlled and are ignored. Zones are dropped so a link-local peer
// keys the same bucket whichever interface it arrived on.
func clientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return ""
	}
	return addr.WithZone("").Unmap().String()
}

func retryAfterHeader(d time.Duration) string {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds <= 0 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func writeRateLimitHeaders(h http.Header, d Decision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(max(d.Limit, 0)))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))
}
