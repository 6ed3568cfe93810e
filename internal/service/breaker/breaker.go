// Package breaker provides a circuit breaker for outbound calls to the human channel.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by Allow while the circuit is open.
var ErrOpen = errors.New("circuit open")

// State represents the state of the circuit breaker
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets a single trial call through.
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

// Breaker opens after MaxFailures consecutive failures and lets one trial call through after Cooldown.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
	onChange    func(name string, s State)

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool
}

// Option customizes a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(b *Breaker) { b.now = now } }

// WithStateHook is called, under the breaker lock, on every transition.
func WithStateHook(fn func(name string, s State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// New creates a breaker. maxFailures <= 0 disables it.
func New(name string, maxFailures int, cooldown time.Duration, opts ...Option) *Breaker {
	b := &Breaker{name: name, maxFailures: maxFailures, cooldown: cooldown, now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Allow reports whether a call may proceed. A nil breaker always allows.
func (b *Breaker) Allow() error {
	if b == nil || b.maxFailures <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrOpen
		}
		b.setState(StateHalfOpen)
		b.trial = true
		return nil
	case StateHalfOpen:
		if b.trial {
			return ErrOpen
		}
		b.trial = true
		return nil
	default:
		return nil
	}
}

// Record feeds the result of an allowed call back into the breaker.
func (b *Breaker) Record(err error) {
	if b == nil || b.maxFailures <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trial = false
	if err == nil {
		b.failures = 0
		if b.state != StateClosed {
			b.setState(StateClosed)
		}
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		b.openedAt = b.now()
		if b.state != StateOpen {
			b.setState(StateOpen)
		}
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	if b == nil {
		return StateClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) setState(s State) {
	prev := b.state
	b.state = s
	lvl := slog.LevelInfo
	if s == StateOpen {
		lvl = slog.LevelWarn
	}
	slog.Log(context.Background(), lvl, "circuit breaker state changed",
		slog.String("breaker", b.name),
		slog.String("from", prev.String()),
		slog.String("to", s.String()),
		slog.Int("failures", b.failures))
	if b.onChange != nil {
		b.onChange(b.name, s)
	}
}
