package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

// StateObserver is notified when a named breaker changes state.
type StateObserver func(operation string, from, to gobreaker.State)

type profile struct {
	prefix string
	cfg    Config
}

// Executor guards calls to external backends (model server, vector store,
// broker) with bounded retries and one circuit breaker per operation name.
// Operations matching a registered prefix use that prefix's Config.
type Executor struct {
	base     Config
	profiles []profile
	observer StateObserver

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func NewExecutor(cfg Config) *Executor {
	return &Executor{
		base:     cfg.normalize(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// WithProfile applies cfg to every operation named prefix or starting with
// it. The longest matching prefix wins. Breakers already created keep their
// settings.
func (e *Executor) WithProfile(prefix string, cfg Config) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profiles = append(e.profiles, profile{prefix: prefix, cfg: cfg.normalize()})
	return e
}

// WithStateObserver registers fn for breakers created after the call.
func (e *Executor) WithStateObserver(fn StateObserver) *Executor {
	e.mu.Lock()
	e.observer = fn
	e.mu.Unlock()
	return e
}

func (e *Executor) configFor(operation string) Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	best, bestLen := e.base, -1
	for _, p := range e.profiles {
		if strings.HasPrefix(operation, p.prefix) && len(p.prefix) > bestLen {
			best, bestLen = p.cfg, len(p.prefix)
		}
	}
	return best
}

// Call runs fn through the executor and returns its value. A nil executor
// calls fn directly.
func Call[T any](
	ctx context.Context,
	e *Executor,
	operation string,
	fn func(context.Context) (T, error),
	classifier ErrorClassifier,
) (T, error) {
	var out T
	if e == nil {
		return fn(ctx)
	}
	err := e.Execute(ctx, operation, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, classifier)
	return out, err
}

func (e *Executor) Execute(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classifier == nil {
		classifier = recordEveryFailure
	}

	cfg := e.configFor(op)
	if !cfg.BreakerEnabled {
		return retry(ctx, op, cfg, fn, classifier)
	}

	breaker := e.breaker(op, cfg, classifier)
	_, err := breaker.Execute(func() (any, error) {
		return nil, retry(ctx, op, cfg, fn, classifier)
	})
	return err
}

func retry(
	ctx context.Context,
	operation string,
	cfg Config,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	wait := cfg.RetryInitialBackoff
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= cfg.RetryMaxAttempts || !classifier(err).Retryable {
			return err
		}

		slog.Warn("retry_attempt",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", cfg.RetryMaxAttempts,
			"backoff_ms", wait.Milliseconds(),
			"error", err,
		)
		if !sleep(ctx, wait) {
			return err
		}
		wait = min(time.Duration(float64(wait)*cfg.RetryMultiplier), cfg.RetryMaxBackoff)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Executor) breaker(operation string, cfg Config, classifier ErrorClassifier) *gobreaker.CircuitBreaker[any] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[operation]; ok {
		return cb
	}
	observer := e.observer

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        operation,
		MaxRequests: cfg.BreakerHalfOpenMaxCalls,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classifier(err).RecordFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
			if observer != nil {
				observer(name, from, to)
			}
		},
	})
	e.breakers[operation] = cb
	return cb
}

// IsCircuitOpen reports whether err was produced by an open or saturated
// half-open breaker rather than by the backend itself.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func recordEveryFailure(error) ErrorClassification {
	return ErrorClassification{RecordFailure: true}
}
