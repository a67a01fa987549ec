package llm

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// RetryConfig bounds retries of a guidance call. When the budget runs out
// the caller falls back to template tips.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	InitialWait time.Duration `yaml:"initial_wait"`
	MaxWait     time.Duration `yaml:"max_wait"`
	// RequestsPerSecond throttles calls across goroutines; zero disables.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type retrying struct {
	inner   Provider
	cfg     RetryConfig
	limiter *rate.Limiter
	sleep   func(context.Context, time.Duration) error
}

// WithRetry retries retryable *Error failures with jittered exponential
// backoff. An invalid response is retried once at most; rate limits honour
// RetryAfter when the provider sent one.
func WithRetry(p Provider, cfg RetryConfig) Provider {
	r := &retrying{inner: p, cfg: cfg, sleep: sleepCtx}
	if cfg.MaxAttempts < 1 {
		r.cfg.MaxAttempts = 1
	}
	if cfg.RequestsPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return r
}

func (r *retrying) ModelID() string { return r.inner.ModelID() }

func (r *retrying) Generate(ctx context.Context, p Prompt) (*Completion, error) {
	var err error
	invalidSeen := false
	for attempt := range r.cfg.MaxAttempts {
		if r.limiter != nil {
			if werr := r.limiter.Wait(ctx); werr != nil {
				return nil, werr
			}
		}
		var c *Completion
		if c, err = r.inner.Generate(ctx, p); err == nil {
			return c, nil
		}

		var e *Error
		if !errors.As(err, &e) || !e.Retryable() {
			return nil, err
		}
		if e.Kind == KindInvalid {
			if invalidSeen {
				return nil, err
			}
			invalidSeen = true
		}
		if attempt == r.cfg.MaxAttempts-1 {
			break
		}
		if serr := r.sleep(ctx, r.wait(attempt, e)); serr != nil {
			return nil, serr
		}
	}
	return nil, err
}

func (r *retrying) wait(attempt int, e *Error) time.Duration {
	if e.Kind == KindRateLimited && e.RetryAfter > 0 {
		return e.RetryAfter
	}
	d := r.cfg.InitialWait << attempt
	if r.cfg.MaxWait > 0 && (d > r.cfg.MaxWait || d <= 0) {
		d = r.cfg.MaxWait
	}
	// Jitter over the upper half.
	return d/2 + time.Duration(rand.Int64N(int64(d/2)+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
