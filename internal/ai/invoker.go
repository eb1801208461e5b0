package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spigell/resume-ranker/internal/candidate"
	"github.com/spigell/resume-ranker/internal/logger"
	"github.com/spigell/resume-ranker/internal/utils"
)

const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = time.Second
	DefaultMaxLogLength = 200
)

// RetryConfig bounds the number of attempts and the delay between them.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxLogLength int
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.MaxLogLength <= 0 {
		c.MaxLogLength = DefaultMaxLogLength
	}
	return c
}

// DefaultRetryConfig returns three retries starting at one second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: DefaultInitialDelay,
		MaxLogLength: DefaultMaxLogLength,
	}
}

// Invoker calls a Generator until it returns a parseable batch of candidates.
type Invoker struct {
	gen     Generator
	cfg     RetryConfig
	logger  *zap.Logger
	limiter *rate.Limiter
	wait    func(context.Context, time.Duration) error
}

type InvokerOption func(*Invoker)

// WithRateLimiter makes every attempt wait for a token from limiter first.
// The limiter may be shared between invokers.
func WithRateLimiter(limiter *rate.Limiter) InvokerOption {
	return func(i *Invoker) {
		i.limiter = limiter
	}
}

// WithWaitFunc replaces the function used to sleep between attempts.
func WithWaitFunc(wait func(context.Context, time.Duration) error) InvokerOption {
	return func(i *Invoker) {
		if wait != nil {
			i.wait = wait
		}
	}
}

func NewInvoker(gen Generator, cfg RetryConfig, log *zap.Logger, opts ...InvokerOption) *Invoker {
	model := ""
	if gen != nil {
		model = gen.Model()
	}

	inv := &Invoker{
		gen:    gen,
		cfg:    cfg.withDefaults(),
		logger: logger.WithFields(log, logger.CommonFields("", model)...),
		wait:   utils.WaitFor,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Backoff returns the delay before retry number retry (1-based):
// initial * 2^(retry-1).
func Backoff(initial time.Duration, retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	return initial << (retry - 1)
}

// Invoke sends prompt to the generator and parses the answer. It makes at most
// 1+MaxRetries sequential attempts, stops early on permanent errors and on
// context cancellation, and returns an *InvocationError when it gives up.
func (i *Invoker) Invoke(ctx context.Context, prompt string, schema map[string]any) (candidate.Batch, error) {
	if i == nil || i.gen == nil {
		return candidate.Batch{}, &InvocationError{Err: Permanent(ErrNoBackend)}
	}
	if strings.TrimSpace(prompt) == "" {
		return candidate.Batch{}, &InvocationError{Err: Permanent(errors.New("prompt must not be empty"))}
	}

	maxAttempts := i.cfg.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := Backoff(i.cfg.InitialDelay, attempt-1)
			var hinted *RetryAfterError
			if errors.As(lastErr, &hinted) && hinted.After > delay {
				delay = hinted.After
			}

			i.logger.Warn("retrying model invocation",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", maxAttempts),
				zap.Duration("backoff", delay),
				zap.Error(lastErr),
			)

			if err := i.wait(ctx, delay); err != nil {
				return candidate.Batch{}, &InvocationError{Attempts: attempt - 1, Err: errors.Join(err, lastErr)}
			}
		}

		if i.limiter != nil {
			if err := i.limiter.Wait(ctx); err != nil {
				return candidate.Batch{}, &InvocationError{Attempts: attempt - 1, Err: errors.Join(err, lastErr)}
			}
		}

		batch, err := i.attempt(ctx, prompt, schema)
		if err == nil {
			return batch, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return candidate.Batch{}, &InvocationError{Attempts: attempt, Err: errors.Join(ctxErr, lastErr)}
		}
		if IsPermanent(err) {
			i.logger.Error("model invocation failed permanently", zap.Int("attempt", attempt), zap.Error(err))
			return candidate.Batch{}, &InvocationError{Attempts: attempt, Err: err}
		}
	}

	i.logger.Error("model invocation retries exhausted", zap.Int("attempts", maxAttempts), zap.Error(lastErr))
	return candidate.Batch{}, &InvocationError{Attempts: maxAttempts, Err: lastErr}
}

func (i *Invoker) attempt(ctx context.Context, prompt string, schema map[string]any) (candidate.Batch, error) {
	i.logger.Debug("sending prompt",
		zap.Int("prompt_length", len(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, i.cfg.MaxLogLength)),
	)

	raw, err := i.gen.Generate(ctx, prompt, schema)
	if err != nil {
		return candidate.Batch{}, fmt.Errorf("generate: %w", err)
	}

	i.logger.Debug("received response",
		zap.Int("response_length", len(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, i.cfg.MaxLogLength)),
	)

	batch, dropped, err := ParseBatch(raw)
	if err != nil {
		return candidate.Batch{}, err
	}
	for _, d := range dropped {
		i.logger.Warn("dropping invalid candidate record", zap.Error(d))
	}

	return batch, nil
}
