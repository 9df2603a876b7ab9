package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"realtime-core/pkg/clock"
	"realtime-core/pkg/logger"
	"realtime-core/pkg/metrics"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState string

const (
	CircuitBreakerClosed   CircuitBreakerState = "closed"
	CircuitBreakerHalfOpen CircuitBreakerState = "half_open"
	CircuitBreakerOpen     CircuitBreakerState = "open"
)

// ErrCircuitOpen is returned without calling the operation while the breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds retry and circuit breaker settings
type Config struct {
	FailureThreshold int           // consecutive failures that open the circuit
	OpenTimeout      time.Duration // how long the circuit stays open before probing
	HalfOpenProbes   int           // concurrent probes allowed while half-open
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	CallTimeout      time.Duration // per attempt
}

// DefaultConfig returns default settings
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		OpenTimeout:      10 * time.Second,
		HalfOpenProbes:   1,
		MaxAttempts:      3,
		InitialBackoff:   100 * time.Millisecond,
		MaxBackoff:       2 * time.Second,
		CallTimeout:      10 * time.Second,
	}
}

// Breaker wraps calls to an external dependency with retry, per-attempt timeout and a circuit breaker
type Breaker struct {
	name  string
	cfg   Config
	clock clock.Clock

	mu                  sync.Mutex
	state               CircuitBreakerState
	consecutiveFailures int
	openedAt            time.Time
	probes              int
}

// NewBreaker creates a closed breaker
func NewBreaker(name string, cfg Config, clk clock.Clock) *Breaker {
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.HalfOpenProbes < 1 {
		cfg.HalfOpenProbes = 1
	}
	b := &Breaker{
		name:  name,
		cfg:   cfg,
		clock: clk,
		state: CircuitBreakerClosed,
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	return b
}

// Execute runs fn until it succeeds, attempts run out, ctx ends or the circuit opens
func (b *Breaker) Execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= b.cfg.MaxAttempts; attempt++ {
		if err := b.acquire(); err != nil {
			metrics.CircuitBreakerRequestsTotal.WithLabelValues(b.name, operation, "rejected").Inc()
			if lastErr != nil {
				return fmt.Errorf("%s %s: %w (last error: %v)", b.name, operation, err, lastErr)
			}
			return fmt.Errorf("%s %s: %w", b.name, operation, err)
		}

		if attempt > 1 {
			logger.Warn("Retrying operation",
				zap.String("breaker", b.name),
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
		}

		err := b.call(ctx, fn)
		if err == nil {
			b.onSuccess()
			metrics.CircuitBreakerRequestsTotal.WithLabelValues(b.name, operation, "success").Inc()
			return nil
		}
		lastErr = err

		// the caller gave up, which says nothing about the dependency's health
		if ctx.Err() != nil {
			b.release()
			return ctx.Err()
		}

		b.onFailure(operation, err)
		metrics.CircuitBreakerRequestsTotal.WithLabelValues(b.name, operation, "failure").Inc()

		if attempt == b.cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.backoff(attempt)):
		}
	}

	return fmt.Errorf("%s %s failed after %d attempts (%s): %w",
		b.name, operation, b.cfg.MaxAttempts, classifyError(lastErr), lastErr)
}

// State returns the current circuit breaker state
func (b *Breaker) State() CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

func (b *Breaker) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if b.cfg.CallTimeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()
	return fn(callCtx)
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpen()
	switch b.state {
	case CircuitBreakerOpen:
		return ErrCircuitOpen
	case CircuitBreakerHalfOpen:
		if b.probes >= b.cfg.HalfOpenProbes {
			return ErrCircuitOpen
		}
		b.probes++
	}
	return nil
}

func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitBreakerHalfOpen && b.probes > 0 {
		b.probes--
	}
}

// maybeHalfOpen must be called with mu held
func (b *Breaker) maybeHalfOpen() {
	if b.state == CircuitBreakerOpen && b.clock.Now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		b.setState(CircuitBreakerHalfOpen)
		b.probes = 0
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.probes = 0
	if b.state != CircuitBreakerClosed {
		b.setState(CircuitBreakerClosed)
		logger.Info("Circuit breaker closed", zap.String("breaker", b.name))
	}
}

func (b *Breaker) onFailure(operation string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	if b.state == CircuitBreakerHalfOpen || b.consecutiveFailures >= b.cfg.FailureThreshold {
		if b.state != CircuitBreakerOpen {
			logger.Error("Circuit breaker opened",
				zap.String("breaker", b.name),
				zap.String("operation", operation),
				zap.Int("consecutive_failures", b.consecutiveFailures),
				zap.Error(err),
			)
		}
		b.setState(CircuitBreakerOpen)
		b.openedAt = b.clock.Now()
		b.probes = 0
	}
}

// setState must be called with mu held
func (b *Breaker) setState(state CircuitBreakerState) {
	b.state = state
	var v float64
	switch state {
	case CircuitBreakerHalfOpen:
		v = 1
	case CircuitBreakerOpen:
		v = 2
	}
	metrics.CircuitBreakerState.WithLabelValues(b.name).Set(v)
}

func (b *Breaker) backoff(attempt int) time.Duration {
	d := b.cfg.InitialBackoff << (attempt - 1)
	if b.cfg.MaxBackoff > 0 && d > b.cfg.MaxBackoff {
		d = b.cfg.MaxBackoff
	}
	return d
}

// classifyError classifies errors for logs
func classifyError(err error) string {
	if err == nil {
		return "none"
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(errMsg, "timeout"):
		return "timeout"
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "network unreachable"):
		return "network"
	case strings.Contains(errMsg, "no such host") || strings.Contains(errMsg, "dns"):
		return "dns"
	case strings.Contains(errMsg, "permission denied") || strings.Contains(errMsg, "access denied"):
		return "permission"
	default:
		return "unknown"
	}
}
