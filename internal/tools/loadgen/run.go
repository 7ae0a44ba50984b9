package loadgen

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         float64
	Concurrency int
	Seed        int64
	// SessionCookie, when set, is sent as the asklp_session cookie so the
	// gate profile can exercise authenticated paths.
	SessionCookie string
}

type Result struct {
	TotalRequests int
	Failures      int
	StatusClasses map[string]int
	Elapsed       time.Duration
}

var profiles = map[string][]string{
	"burst": {"/ping"},
	"gate":  {"/", "/app", "/app/users"},
	"mixed": {"/ping", "/", "/app", "/health/live"},
}

func normalizeProfile(p string) string {
	v := strings.ToLower(strings.TrimSpace(p))
	if v == "" {
		return "mixed"
	}
	return v
}

func classifyStatusClass(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "429"
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

// Run issues paced requests against cfg.BaseURL until cfg.Duration elapses or
// ctx is canceled. Redirects are recorded, not followed, so gate decisions
// show up as 3xx.
func Run(ctx context.Context, cfg Config) (Result, error) {
	profile := normalizeProfile(cfg.Profile)
	paths, ok := profiles[profile]
	if !ok {
		return Result{}, fmt.Errorf("unknown profile %q", cfg.Profile)
	}
	if cfg.BaseURL == "" {
		return Result{}, errors.New("base url is required")
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	base := strings.TrimRight(cfg.BaseURL, "/")

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	client := &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	pacer := rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	rng := rand.New(rand.NewSource(cfg.Seed))
	var rngMu sync.Mutex
	nextPath := func() string {
		rngMu.Lock()
		defer rngMu.Unlock()
		return paths[rng.Intn(len(paths))]
	}

	var mu sync.Mutex
	res := Result{StatusClasses: map[string]int{}}
	record := func(class string) {
		mu.Lock()
		defer mu.Unlock()
		res.TotalRequests++
		res.StatusClasses[class]++
		if class == "5xx" || class == "error" {
			res.Failures++
		}
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Concurrency; i++ {
		g.Go(func() error {
			for {
				if err := pacer.Wait(gctx); err != nil {
					return nil
				}
				req, err := http.NewRequestWithContext(gctx, http.MethodGet, base+nextPath(), nil)
				if err != nil {
					return err
				}
				if cfg.SessionCookie != "" {
					req.AddCookie(&http.Cookie{Name: "asklp_session", Value: cfg.SessionCookie})
				}
				resp, err := client.Do(req)
				if err != nil {
					if gctx.Err() != nil {
						return nil
					}
					record("error")
					continue
				}
				_ = resp.Body.Close()
				record(classifyStatusClass(resp.StatusCode))
			}
		})
	}
	err := g.Wait()
	res.Elapsed = time.Since(start)
	return res, err
}

// Summary renders the status class counts in a stable order.
func (r Result) Summary() []string {
	classes := make([]string, 0, len(r.StatusClasses))
	for c := range r.StatusClasses {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	lines := []string{fmt.Sprintf("total=%d failures=%d elapsed=%s", r.TotalRequests, r.Failures, r.Elapsed.Truncate(time.Millisecond))}
	for _, c := range classes {
		lines = append(lines, fmt.Sprintf("%s=%d", c, r.StatusClasses[c]))
	}
	return lines
}
