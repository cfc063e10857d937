// Package resilience guards calls to remote speech services with a circuit
// breaker, so an unreachable provider fails /speak quickly instead of making
// every request wait for its own timeout.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the cooldown ends.
	StateOpen

	// StateHalfOpen lets a single probe call through. Its outcome closes or
	// re-opens the breaker.
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

// BreakerConfig configures a [Breaker].
type BreakerConfig struct {
	// Name labels log messages.
	Name string

	// MaxFailures is the number of consecutive failures that open the
	// breaker. Default: 3.
	MaxFailures int

	// Cooldown is how long the breaker stays open before a probe is
	// allowed. Default: 30s.
	Cooldown time.Duration

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Do runs fn unless the breaker is open. Errors caused by the caller
// cancelling its context are returned but not counted as failures.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.acquire()
	if err != nil {
		return err
	}
	err = fn()
	b.release(probe, err)
	return err
}

// State returns the current state. An open breaker whose cooldown has
// elapsed reports [StateHalfOpen].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cooledDown() {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) acquire() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if !b.cooledDown() {
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		slog.Info("resilience: probing after cooldown", "name", b.cfg.Name)
		fallthrough
	case StateHalfOpen:
		if b.probing {
			return false, ErrCircuitOpen
		}
		b.probing = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) release(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}
	if errors.Is(err, context.Canceled) {
		return
	}

	if err == nil {
		if b.state != StateClosed {
			slog.Info("resilience: circuit closed", "name", b.cfg.Name)
		}
		b.state = StateClosed
		b.failures = 0
		return
	}

	b.failures++
	if probe || b.failures >= b.cfg.MaxFailures {
		if b.state != StateOpen {
			slog.Warn("resilience: circuit opened",
				"name", b.cfg.Name,
				"consecutive_failures", b.failures,
				"err", err)
		}
		b.state = StateOpen
		b.openedAt = b.cfg.Now()
	}
}

// cooledDown must be called with b.mu held.
func (b *Breaker) cooledDown() bool {
	return b.cfg.Now().Sub(b.openedAt) >= b.cfg.Cooldown
}
