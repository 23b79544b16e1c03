// Package breaker implements a named circuit breaker protecting calls to
// external dependencies. Breakers trip when the rolling-window failure
// percentage crosses a threshold, short-circuit to a fallback while open,
// and probe with a single trial call after the reset timeout.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/locolabs/fleetwatch/internal/metrics"
)

// State of a circuit breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// ErrOpen is returned by Execute when the breaker is open and no fallback
// is configured.
var ErrOpen = errors.New("breaker: circuit open")

// Operation is a protected call.
type Operation func(ctx context.Context) (any, error)

// Fallback produces a degraded result while the breaker is open. It may
// return a cached last-known value instead of an error.
type Fallback func(ctx context.Context) (any, error)

// Config tunes a breaker.
type Config struct {
	ErrorThresholdPercent float64       // trip when failure % >= this, default 50
	ResetTimeout          time.Duration // open -> half-open delay, default 30s
	MinSamples            int           // minimum window size before tripping
	CallTimeout           time.Duration // per-call timeout, counts as failure
	Window                time.Duration // rolling window span
}

func (c Config) withDefaults() Config {
	if c.ErrorThresholdPercent == 0 {
		c.ErrorThresholdPercent = 50
	}
	if c.ResetTimeout == 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.MinSamples == 0 {
		c.MinSamples = 2
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.Window == 0 {
		c.Window = 60 * time.Second
	}
	return c
}

type outcome struct {
	at      time.Time
	success bool
}

// Counts holds a point-in-time view of a breaker's rolling window.
type Counts struct {
	State     State     `json:"state"`
	Successes int       `json:"successes"`
	Failures  int       `json:"failures"`
	OpenedAt  time.Time `json:"opened_at,omitempty"`
}

// Breaker guards a single named operation. All state is mutex-guarded;
// readers always observe a fully-formed state.
type Breaker struct {
	name     string
	cfg      Config
	fallback Fallback

	mu            sync.Mutex
	state         State
	window        []outcome
	openedAt      time.Time
	trialInFlight bool
	now           func() time.Time

	log *slog.Logger
}

// New creates a breaker. Prefer Registry.GetOrCreate for shared instances.
func New(name string, cfg Config, fallback Fallback) *Breaker {
	return &Breaker{
		name:     name,
		cfg:      cfg.withDefaults(),
		fallback: fallback,
		state:    StateClosed,
		now:      time.Now,
		log:      slog.Default().With("breaker", name),
	}
}

// Execute runs op through the breaker. While open it returns the fallback
// result (or ErrOpen) without invoking op. Timeouts count as failures.
func (b *Breaker) Execute(ctx context.Context, op Operation) (any, error) {
	if !b.allow() {
		if b.fallback != nil {
			return b.fallback(ctx)
		}
		return nil, ErrOpen
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	result, err := op(callCtx)
	if err == nil && callCtx.Err() != nil {
		err = callCtx.Err()
	}
	b.record(err == nil)

	if err != nil {
		return nil, fmt.Errorf("breaker %s: %w", b.name, err)
	}
	return result, nil
}

// allow reports whether a call may proceed, moving OPEN to HALF_OPEN once
// the reset timeout has elapsed. The transition is evaluated lazily; there
// is no background timer.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		// One trial call at a time; concurrent callers short-circuit
		// until the trial's outcome is recorded.
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	default: // StateOpen
		if b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
			b.transition(StateHalfOpen)
			b.trialInFlight = true
			return true
		}
		return false
	}
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.window = append(b.window, outcome{at: now, success: success})
	b.prune(now)

	switch b.state {
	case StateHalfOpen:
		b.trialInFlight = false
		if success {
			b.window = nil
			b.transition(StateClosed)
		} else {
			b.openedAt = now
			b.transition(StateOpen)
		}
	case StateClosed:
		if !success && b.tripped() {
			b.openedAt = now
			b.transition(StateOpen)
		}
	}
}

func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	kept := b.window[:0]
	for _, o := range b.window {
		if o.at.After(cutoff) {
			kept = append(kept, o)
		}
	}
	b.window = kept
}

func (b *Breaker) tripped() bool {
	total := len(b.window)
	if total < b.cfg.MinSamples {
		return false
	}
	failures := 0
	for _, o := range b.window {
		if !o.success {
			failures++
		}
	}
	pct := float64(failures) / float64(total) * 100
	return pct >= b.cfg.ErrorThresholdPercent
}

// transition must be called with the mutex held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to

	metrics.BreakerTransitionsTotal.WithLabelValues(b.name, string(to)).Inc()
	openGauge := 0.0
	if to == StateOpen {
		openGauge = 1.0
	}
	metrics.BreakerOpen.WithLabelValues(b.name).Set(openGauge)
	b.log.Info("Breaker state changed", "from", from, "to", to)
}

// State returns the current state, applying the lazy OPEN -> HALF_OPEN
// evaluation first.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		b.transition(StateHalfOpen)
	}
	return b.state
}

// IsOpen reports whether calls would currently short-circuit.
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// Reset forces the breaker closed and clears the window.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window = nil
	b.trialInFlight = false
	b.transition(StateClosed)
}

// Counts returns a snapshot of the rolling window.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.prune(b.now())
	counts := Counts{State: b.state}
	for _, o := range b.window {
		if o.success {
			counts.Successes++
		} else {
			counts.Failures++
		}
	}
	if b.state == StateOpen {
		counts.OpenedAt = b.openedAt
	}
	return counts
}

// Name returns the breaker's registered name.
func (b *Breaker) Name() string {
	return b.name
}
