// Package breaker guards calls to a failing dependency with a
// closed / open / half-open circuit.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without invoking the operation while the
// circuit is open, or while another caller holds the half-open probe.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the circuit state.
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
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state as its string form in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses the form produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "closed":
		*s = StateClosed
	case "open":
		*s = StateOpen
	case "half_open":
		*s = StateHalfOpen
	default:
		return fmt.Errorf("breaker: unknown state %q", text)
	}
	return nil
}

// Config holds circuit breaker tuning. It is immutable after New.
type Config struct {
	// FailureThreshold is the number of failures recorded since the circuit last
	// closed that opens it. Successes in Closed do not clear the count.
	FailureThreshold int // default: 3

	// Timeout is the budget for a single guarded unit of work. The breaker
	// itself does not enforce it; callers read it through Config().
	Timeout time.Duration // default: 60s

	// ResetTimeout is how long the circuit stays open before a probe is allowed.
	ResetTimeout time.Duration // default: 30s

	// ConcurrentProbes lets every caller that observes half-open invoke the
	// operation. When false only one probe is in flight at a time and the
	// other callers fail fast with ErrCircuitOpen.
	ConcurrentProbes bool

	// IsFailure classifies an operation error. Errors it rejects are neutral:
	// they neither count as failures nor close a half-open circuit.
	// default: every non-nil error is a failure.
	IsFailure func(err error) bool

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(from, to State)
}

// DefaultConfig returns the defaults used for zero-valued fields.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		Timeout:          60 * time.Second,
		ResetTimeout:     30 * time.Second,
	}
}

// Info is a point-in-time view of the breaker.
type Info struct {
	State           State      `json:"state"`
	FailureCount    int        `json:"failure_count"`
	LastFailureTime *time.Time `json:"last_failure_time"`
	ShouldReset     bool       `json:"should_reset"`
}

type transition struct {
	from, to State
}

// CircuitBreaker is safe for concurrent use. The guarded operation always
// runs outside the internal lock.
type CircuitBreaker struct {
	cfg Config
	now func() time.Time

	mu           sync.Mutex
	state        State
	failureCount int
	lastFailure  time.Time
	probing      bool
}

// New creates a closed CircuitBreaker.
func New(cfg Config) *CircuitBreaker {
	def := DefaultConfig()
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	return &CircuitBreaker{
		cfg:   cfg,
		now:   time.Now,
		state: StateClosed,
	}
}

// Config returns the effective configuration.
func (cb *CircuitBreaker) Config() Config {
	return cb.cfg
}

// Call runs op under circuit protection. While open it returns
// ErrCircuitOpen and op is not invoked. Errors from op are returned as is.
func (cb *CircuitBreaker) Call(ctx context.Context, op func(ctx context.Context) error) (err error) {
	probe, tr, err := cb.before()
	cb.notify(tr)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.notify(cb.after(probe, fmt.Errorf("breaker: operation panicked: %v", r)))
			panic(r)
		}
	}()

	err = op(ctx)
	cb.notify(cb.after(probe, err))
	return err
}

// Do is Call for operations that produce a value.
func Do[T any](ctx context.Context, cb *CircuitBreaker, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := cb.Call(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// before decides whether the call may proceed. probe reports whether the
// caller holds the half-open probe token.
func (cb *CircuitBreaker) before() (probe bool, tr *transition, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if !cb.shouldAttemptResetLocked() {
			return false, nil, ErrCircuitOpen
		}
		tr = cb.setStateLocked(StateHalfOpen)
		cb.probing = true
		return true, tr, nil
	case StateHalfOpen:
		if cb.cfg.ConcurrentProbes {
			return true, nil, nil
		}
		if cb.probing {
			return false, nil, ErrCircuitOpen
		}
		cb.probing = true
		return true, nil, nil
	default:
		return false, nil, nil
	}
}

// after records the outcome of an invoked operation.
func (cb *CircuitBreaker) after(probe bool, err error) *transition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
	}

	if err == nil {
		// Failures accumulate in Closed; only a half-open success clears them.
		if cb.state == StateHalfOpen {
			return cb.resetLocked()
		}
		return nil
	}
	if !cb.isFailure(err) {
		return nil
	}

	cb.failureCount++
	cb.lastFailure = cb.now()
	if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.failureCount >= cb.cfg.FailureThreshold) {
		return cb.setStateLocked(StateOpen)
	}
	return nil
}

func (cb *CircuitBreaker) isFailure(err error) bool {
	if cb.cfg.IsFailure == nil {
		return true
	}
	return cb.cfg.IsFailure(err)
}

// shouldAttemptResetLocked reports whether the open period has elapsed.
// Caller must hold cb.mu.
func (cb *CircuitBreaker) shouldAttemptResetLocked() bool {
	if cb.lastFailure.IsZero() {
		return true
	}
	return cb.now().Sub(cb.lastFailure) > cb.cfg.ResetTimeout
}

// setStateLocked changes state and returns the transition to report.
// Caller must hold cb.mu.
func (cb *CircuitBreaker) setStateLocked(to State) *transition {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	return &transition{from: from, to: to}
}

// resetLocked closes the circuit and clears failure history.
// Caller must hold cb.mu.
func (cb *CircuitBreaker) resetLocked() *transition {
	cb.failureCount = 0
	cb.lastFailure = time.Time{}
	cb.probing = false
	return cb.setStateLocked(StateClosed)
}

func (cb *CircuitBreaker) notify(tr *transition) {
	if tr == nil || cb.cfg.OnStateChange == nil {
		return
	}
	cb.cfg.OnStateChange(tr.from, tr.to)
}

// State returns the current state without triggering a transition.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Info returns the current state information.
func (cb *CircuitBreaker) Info() Info {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	info := Info{
		State:        cb.state,
		FailureCount: cb.failureCount,
		ShouldReset:  cb.shouldAttemptResetLocked(),
	}
	if !cb.lastFailure.IsZero() {
		t := cb.lastFailure
		info.LastFailureTime = &t
	}
	return info
}

// Reset forces the circuit closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	tr := cb.resetLocked()
	cb.mu.Unlock()
	cb.notify(tr)
}
