package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Recorder receives breaker events. *observability.Metrics implements it.
type Recorder interface {
	BreakerTransition(key, from, to string)
	BreakerRejected(key string)
}

// Option configures a Registry.
type Option func(*Registry)

// WithRecorder emits transitions and rejections to the recorder.
func WithRecorder(recorder Recorder) Option {
	return func(r *Registry) {
		r.recorder = recorder
	}
}

// WithClock replaces time.Now. Used by tests to step through timeouts.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithKeyConfig sets the configuration used for a specific key.
func WithKeyConfig(key string, cfg Config) Option {
	return func(r *Registry) {
		r.overrides[key] = cfg
	}
}

// Registry owns one breaker per key.
type Registry struct {
	mu        sync.Mutex
	breakers  map[string]*breaker
	defaults  Config
	overrides map[string]Config
	recorder  Recorder
	now       func() time.Time
}

// NewRegistry creates a breaker registry.
func NewRegistry(defaults Config, opts ...Option) *Registry {
	if defaults.FailureThreshold <= 0 {
		defaults.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if defaults.Timeout <= 0 {
		defaults.Timeout = DefaultConfig().Timeout
	}

	r := &Registry{
		breakers:  make(map[string]*breaker),
		defaults:  defaults,
		overrides: make(map[string]Config),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// get returns the breaker for key, creating it with cfg on first use.
// A zero cfg selects the key override or the registry defaults.
func (r *Registry) get(key string, cfg Config) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[key]; ok {
		return b
	}

	if cfg.isZero() {
		if override, ok := r.overrides[key]; ok {
			cfg = override
		} else {
			cfg = r.defaults
		}
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = r.defaults.FailureThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = r.defaults.Timeout
	}

	b := &breaker{key: key, config: cfg, state: StateClosed}
	r.breakers[key] = b
	return b
}

// Execute runs fn through the breaker for key using the key's configuration.
func (r *Registry) Execute(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	_, err := Execute(ctx, r, key, Config{}, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// State returns a snapshot of the breaker for key. Unknown keys report closed.
func (r *Registry) State(key string) Snapshot {
	r.mu.Lock()
	b, ok := r.breakers[key]
	r.mu.Unlock()

	if !ok {
		return Snapshot{State: StateClosed}
	}
	return b.snapshot()
}

// Reset forces the breaker for key back to closed.
func (r *Registry) Reset(key string) {
	r.mu.Lock()
	b, ok := r.breakers[key]
	r.mu.Unlock()

	if !ok {
		return
	}

	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failureCount = 0
	b.trialInFlight = false
	b.mu.Unlock()

	if from != StateClosed {
		r.emit(context.Background(), key, &transition{from: from, to: StateClosed}, b.snapshot())
	}
}

func (r *Registry) emit(ctx context.Context, key string, t *transition, snap Snapshot) {
	if t == nil {
		return
	}
	if r.recorder != nil {
		r.recorder.BreakerTransition(key, t.from.String(), t.to.String())
	}
	logTransition(ctx, key, t, snap)
}

// Execute runs fn through the breaker for key.
// While the circuit is open it returns *OpenError without calling fn.
// cfg is applied when the breaker is first created; pass Config{} for the registry default.
func Execute[T any](
	ctx context.Context,
	r *Registry,
	key string,
	cfg Config,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	b := r.get(key, cfg)

	t, err := b.allow(r.now())
	if err != nil {
		if r.recorder != nil {
			r.recorder.BreakerRejected(key)
		}
		return zero, err
	}
	r.emit(ctx, key, t, b.snapshot())

	var (
		result  T
		callErr error
	)
	func() {
		defer func() {
			if p := recover(); p != nil {
				r.emit(ctx, key, b.record(r.now(), fmt.Errorf("panic in %s: %v", key, p)), b.snapshot())
				panic(p)
			}
		}()
		result, callErr = fn(ctx)
	}()

	r.emit(ctx, key, b.record(r.now(), callErr), b.snapshot())

	if callErr != nil {
		return zero, callErr
	}
	return result, nil
}
