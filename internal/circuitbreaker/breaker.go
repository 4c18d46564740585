// Package circuitbreaker gates calls to failing dependencies.
// Breakers are keyed by fault domain ("imageGeneration:openai", "aiService", "database")
// and live in a Registry owned by the caller, so independent keys never affect each other.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/davidbz/kiln/internal/observability"
)

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config controls when a breaker trips and how long it stays open.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int

	// Timeout is how long the circuit stays open before a trial call is allowed.
	Timeout time.Duration
}

func (c Config) isZero() bool {
	return c.FailureThreshold == 0 && c.Timeout == 0
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Timeout:          60 * time.Second,
	}
}

// ErrOpen is matched by every OpenError via errors.Is.
var ErrOpen = errors.New("circuit breaker is open")

// OpenError is returned without calling the wrapped function while a circuit is open.
type OpenError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s, retry after %ds", e.Service, e.RetryAfterSeconds())
}

// Is makes errors.Is(err, ErrOpen) true.
func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// RetryAfterSeconds rounds the remaining open time up to whole seconds.
func (e *OpenError) RetryAfterSeconds() int {
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

// Snapshot is a point-in-time copy of a breaker's state.
type Snapshot struct {
	State           State
	FailureCount    int
	LastFailureTime time.Time
	NextRetryTime   time.Time
}

// breaker is the per-key state machine. All fields are guarded by mu.
type breaker struct {
	key    string
	config Config

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
	nextRetryTime   time.Time
	trialInFlight   bool
}

type transition struct {
	from, to State
}

// allow decides whether a call may proceed. The returned transition is non-nil when state changed.
func (b *breaker) allow(now time.Time) (*transition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil, nil

	case StateOpen:
		if now.Before(b.nextRetryTime) {
			return nil, &OpenError{Service: b.key, RetryAfter: b.nextRetryTime.Sub(now)}
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		return &transition{from: StateOpen, to: StateHalfOpen}, nil

	case StateHalfOpen:
		if b.trialInFlight {
			return nil, &OpenError{Service: b.key, RetryAfter: time.Second}
		}
		b.trialInFlight = true
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown breaker state %d", b.state)
	}
}

// record applies the outcome of a call that was allowed through.
func (b *breaker) record(now time.Time, err error) *transition {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasTrial := b.state == StateHalfOpen
	if wasTrial {
		b.trialInFlight = false
	}

	if err == nil {
		b.failureCount = 0
		if b.state != StateClosed {
			from := b.state
			b.state = StateClosed
			return &transition{from: from, to: StateClosed}
		}
		return nil
	}

	if isNeutral(err) {
		return nil
	}

	b.failureCount++
	b.lastFailureTime = now

	switch {
	case wasTrial:
		b.state = StateOpen
		b.nextRetryTime = now.Add(b.config.Timeout)
		return &transition{from: StateHalfOpen, to: StateOpen}
	case b.state == StateClosed && b.failureCount >= b.config.FailureThreshold:
		b.state = StateOpen
		b.nextRetryTime = now.Add(b.config.Timeout)
		return &transition{from: StateClosed, to: StateOpen}
	default:
		return nil
	}
}

func (b *breaker) snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		State:           b.state,
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailureTime,
		NextRetryTime:   b.nextRetryTime,
	}
}

// isNeutral reports failures that say nothing about the dependency's health:
// caller cancellation and errors that declare themselves neutral.
func isNeutral(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	var neutral interface{ BreakerNeutral() bool }
	if errors.As(err, &neutral) {
		return neutral.BreakerNeutral()
	}
	return false
}

func logTransition(ctx context.Context, key string, t *transition, snap Snapshot) {
	logger := observability.FromContext(ctx).With(
		observability.String("breaker", key),
		observability.String("from", t.from.String()),
		observability.String("to", t.to.String()),
		observability.Int("failure_count", snap.FailureCount),
	)

	if t.to == StateOpen {
		logger.Warn("circuit breaker opened", observability.Time("next_retry", snap.NextRetryTime))
		return
	}
	logger.Info("circuit breaker state changed")
}
