// Package reconnect implements spec.md §4.3 Reconnection Manager: a
// state machine with exponential-backoff-with-jitter retry scheduling,
// generalized from the state-enum/callback-on-transition pattern spread
// across the teacher's internal/upstream/manager.go and internal/upstream/state.go.
package reconnect

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is one of the five reconnection states spec.md §4.3 names.
type State string

const (
	StateIdle       State = "idle"
	StateWaiting    State = "waiting"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateFailed     State = "failed"
)

// Params configures backoff. Defaults match spec.md §4.3's defaults exactly:
// 10 attempts, 1s initial delay, 2x multiplier, 60s cap, 25% jitter.
type Params struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
	Jitter            float64
}

// DefaultParams returns spec.md §4.3's defaults.
func DefaultParams() Params {
	return Params{
		MaxAttempts:       10,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          60 * time.Second,
		Jitter:            0.25,
	}
}

// Manager runs one server's reconnection state machine. It is not safe for
// concurrent use by multiple servers; callers own one Manager per upstream.
type Manager struct {
	mu       sync.Mutex
	params   Params
	state    State
	attempts int
	timer    *time.Timer
	canceled bool

	onMaxAttempts func()
	logger        *zap.Logger

	// randFloat is overridable by tests to make jitter deterministic.
	randFloat func() float64
}

func New(params Params, onMaxAttempts func(), logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		params:        params,
		state:         StateIdle,
		onMaxAttempts: onMaxAttempts,
		logger:        logger.Named("reconnect"),
		randFloat:     rand.Float64,
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Delay computes the nominal-to-jittered delay for the attempts-th retry
// (0-indexed), per spec.md §4.3's formula:
//
//	delay = min(initialDelay * multiplier^attempt, maxDelay) * (1 ± jitter)
func Delay(p Params, attempt int, jitterSample float64) time.Duration {
	nominal := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if max := float64(p.MaxDelay); nominal > max {
		nominal = max
	}
	// jitterSample in [0,1) maps to a factor in [1-jitter, 1+jitter].
	factor := 1 - p.Jitter + 2*p.Jitter*jitterSample
	d := time.Duration(nominal * factor)
	if d < 0 {
		d = 0
	}
	if cap := p.MaxDelay; d > cap {
		d = cap
	}
	return d
}

// ScheduleReconnection arms attemptFn to run after the next backoff delay.
// attemptFn is invoked on its own goroutine; it must call Reset on success or
// let the manager reach StateFailed on repeated failure (the caller reports
// failure by calling ScheduleReconnection again).
func (m *Manager) ScheduleReconnection(attemptFn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.canceled {
		m.logger.Warn("scheduleReconnection called after cancel without an intervening reset")
		return
	}
	if m.state == StateFailed {
		return
	}

	if m.attempts >= m.params.MaxAttempts {
		m.state = StateFailed
		cb := m.onMaxAttempts
		m.mu.Unlock()
		if cb != nil {
			cb()
		}
		m.mu.Lock()
		return
	}

	delay := Delay(m.params, m.attempts, m.randFloat())
	m.attempts++
	m.state = StateWaiting

	m.cancelTimerLocked()
	m.timer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.canceled {
			m.mu.Unlock()
			return
		}
		m.state = StateConnecting
		m.mu.Unlock()

		attemptFn()
	})
}

// Reset returns the manager to idle with attempts zeroed. Safe to call from
// any state, including after Cancel.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimerLocked()
	m.state = StateIdle
	m.attempts = 0
	m.canceled = false
}

// MarkConnected transitions to connected after a successful attempt, without
// resetting the attempt counter's history for observability purposes — call
// Reset separately if a fresh attempt budget is desired.
func (m *Manager) MarkConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimerLocked()
	m.state = StateConnected
}

// Cancel clears any pending timer and transitions to idle. Scheduling after
// Cancel requires a prior Reset.
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimerLocked()
	m.state = StateIdle
	m.canceled = true
}

func (m *Manager) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
