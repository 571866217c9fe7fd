package generation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/HendryAvila/specgate/internal/governance"
	"github.com/HendryAvila/specgate/internal/metrics"
)

// RetryConfig bounds retries of a single generation call.
type RetryConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// Timeout applies to each attempt; zero means no per-attempt timeout.
	Timeout time.Duration
}

// DefaultRetryConfig returns the retry bounds used when none are configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BackoffBase: 500 * time.Millisecond,
		BackoffMax:  10 * time.Second,
		Timeout:     60 * time.Second,
	}
}

// Client wraps a Generator with rate limiting, bounded retries and
// output schema checks. Retries re-run only the single failed call.
type Client struct {
	gen     Generator
	retry   RetryConfig
	limiter *rate.Limiter
	log     *slog.Logger
	metrics *metrics.Metrics
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// WithRetry sets the retry bounds.
func WithRetry(r RetryConfig) ClientOption {
	return func(c *Client) {
		if r.MaxAttempts < 1 {
			r.MaxAttempts = 1
		}
		c.retry = r
	}
}

// WithRateLimit caps calls per second. Zero or negative disables the cap.
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			c.limiter = nil
		}
	}
}

// WithMetrics records attempts on m.
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient wraps gen.
func NewClient(gen Generator, opts ...ClientOption) *Client {
	if gen == nil {
		gen = Unavailable
	}
	c := &Client{gen: gen, retry: DefaultRetryConfig(), log: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Generate calls the generator until it returns schema-valid output or
// the attempt budget is spent. The last attempt's error is returned:
// SchemaMismatch when the output never matched, GenerationError
// otherwise.
func (c *Client) Generate(ctx context.Context, req Request) (json.RawMessage, error) {
	const op = "generation.generate"

	exp := backoff.NewExponentialBackOff()
	if c.retry.BackoffBase > 0 {
		exp.InitialInterval = c.retry.BackoffBase
	}
	if c.retry.BackoffMax > 0 {
		exp.MaxInterval = c.retry.BackoffMax
	}
	exp.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.retry.MaxAttempts-1)), ctx)

	attempt := 0
	var out json.RawMessage
	operation := func() error {
		attempt++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(governance.Wrap(governance.GenerationError, op, err))
			}
		}

		callCtx := ctx
		if c.retry.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.retry.Timeout)
			defer cancel()
		}

		raw, err := c.gen.Generate(callCtx, req)
		if err != nil {
			c.metrics.ObserveGeneration(string(req.Task), "error")
			if ctx.Err() != nil {
				return backoff.Permanent(governance.Wrap(governance.GenerationError, op, ctx.Err()))
			}
			if errors.Is(err, ErrNotConfigured) {
				return backoff.Permanent(err)
			}
			if governance.KindOf(err) == "" {
				err = governance.Wrap(governance.GenerationError, op, err)
			}
			return err
		}
		if req.Schema != "" {
			if err := CheckSchema(req.SchemaName, req.Schema, raw); err != nil {
				c.metrics.ObserveGeneration(string(req.Task), "schema_mismatch")
				return err
			}
		}
		c.metrics.ObserveGeneration(string(req.Task), "ok")
		out = raw
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.log.Warn("generation attempt failed, retrying",
			"task", req.Task, "attempt", attempt, "max_attempts", c.retry.MaxAttempts,
			"wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(operation, bo, notify); err != nil {
		var ge *governance.Error
		if !errors.As(err, &ge) {
			err = governance.Wrap(governance.GenerationError, op, err)
		}
		c.log.Error("generation failed", "task", req.Task, "attempts", attempt, "error", err)
		return nil, err
	}
	return out, nil
}
