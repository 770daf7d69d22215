package recovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"cryptoAutoPilot/internal/domain"
	"cryptoAutoPilot/internal/ports"
)

// SystemState is the recovery manager's view of whether the system may keep
// trading.
type SystemState string

const (
	StateNormal      SystemState = "NORMAL"
	StateCoolingDown SystemState = "COOLING_DOWN"
	StateHalted      SystemState = "HALTED"
)

const (
	defaultMaxConsecutiveErrors = 5
	defaultCooldown             = 300 * time.Second
	defaultErrorWindow          = time.Hour

	maxErrorHistory = 1000
)

// Config tunes the recovery thresholds. Zero values fall back to defaults.
type Config struct {
	MaxConsecutiveErrors int
	Cooldown             time.Duration
	ErrorWindow          time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = defaultMaxConsecutiveErrors
	}
	if c.Cooldown <= 0 {
		c.Cooldown = defaultCooldown
	}
	if c.ErrorWindow <= 0 {
		c.ErrorWindow = defaultErrorWindow
	}
}

// Statistics summarizes the manager's recent history for health reporting.
type Statistics struct {
	State             SystemState
	ConsecutiveErrors int
	TotalErrors       int
	ErrorsByCategory  map[domain.ErrorCategory]int
	ErrorRatePerHour  float64
	PauseRemaining    time.Duration
}

// Manager classifies collaborator errors and decides whether the system
// should continue, pause, or stop. A run of consecutive errors or a rate
// limit triggers a cooldown; a fatal error halts permanently. HALTED is
// terminal.
type Manager struct {
	cfg    Config
	logger ports.Logger
	sink   ports.ErrorRecordRepository // optional audit sink, may be nil
	now    func() time.Time

	mu          sync.Mutex
	state       SystemState
	consecutive int
	pauseUntil  time.Time
	history     []domain.ErrorRecord
}

// NewManager creates an error-recovery manager. The repository sink is
// optional; pass nil to keep the history in memory only.
func NewManager(cfg Config, logger ports.Logger, sink ports.ErrorRecordRepository) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:    cfg,
		logger: logger,
		sink:   sink,
		now:    time.Now,
		state:  StateNormal,
	}
}

// Classify maps an error to its recovery category. Configuration,
// authentication and balance failures are fatal; rate limits get their own
// category; everything else is transient.
func Classify(err error) domain.ErrorCategory {
	switch {
	case errors.Is(err, ports.ErrConfigurationError),
		errors.Is(err, ports.ErrAuthenticationFailed),
		errors.Is(err, ports.ErrInsufficientFunds):
		return domain.CategoryFatal
	case errors.Is(err, ports.ErrRateLimited):
		return domain.CategoryRateLimit
	default:
		return domain.CategoryTransient
	}
}

// Record books an error and returns the action the caller must take. FATAL
// errors halt the system; rate limits and runs of consecutive transient
// errors start a cooldown.
func (m *Manager) Record(ctx context.Context, err error) domain.RecoveryAction {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateHalted {
		return domain.ActionStop
	}

	category := Classify(err)
	m.consecutive++

	var action domain.RecoveryAction
	switch {
	case category == domain.CategoryFatal:
		m.state = StateHalted
		action = domain.ActionStop
	case category == domain.CategoryRateLimit:
		m.startCooldownLocked()
		action = domain.ActionPause
	case m.consecutive >= m.cfg.MaxConsecutiveErrors:
		m.startCooldownLocked()
		action = domain.ActionPause
	default:
		action = domain.ActionContinue
	}

	rec := domain.ErrorRecord{
		Timestamp:   m.now(),
		Category:    category,
		Message:     err.Error(),
		ActionTaken: action,
	}
	m.appendLocked(rec)

	m.logger.Warn(ctx, "Error recorded by recovery manager", map[string]interface{}{
		"category":    string(category),
		"action":      string(action),
		"consecutive": m.consecutive,
		"state":       string(m.state),
		"error":       err.Error(),
	})

	if m.sink != nil {
		if sinkErr := m.sink.CreateErrorRecord(ctx, &rec); sinkErr != nil {
			m.logger.Error(ctx, sinkErr, "Failed to persist error record")
		}
	}
	return action
}

// RecordSuccess resets the consecutive-error counter and, if a cooldown has
// elapsed, returns the system to NORMAL. HALTED is never left.
func (m *Manager) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consecutive = 0
	if m.state == StateCoolingDown && !m.now().Before(m.pauseUntil) {
		m.state = StateNormal
		m.pauseUntil = time.Time{}
	}
}

// ShouldPause reports whether trading must stay paused right now. An elapsed
// cooldown flips the state back to NORMAL on the way out.
func (m *Manager) ShouldPause() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateHalted:
		return true
	case StateCoolingDown:
		if m.now().Before(m.pauseUntil) {
			return true
		}
		m.state = StateNormal
		m.pauseUntil = time.Time{}
		return false
	default:
		return false
	}
}

// PauseRemaining returns how much cooldown is left, zero when not paused.
func (m *Manager) PauseRemaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateCoolingDown {
		return 0
	}
	remaining := m.pauseUntil.Sub(m.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ErrorRate returns errors per hour over the configured window.
func (m *Manager) ErrorRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errorRateLocked()
}

// State returns the current system state.
func (m *Manager) State() SystemState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Statistics returns a snapshot of the manager's counters.
func (m *Manager) Statistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Statistics{
		State:             m.state,
		ConsecutiveErrors: m.consecutive,
		TotalErrors:       len(m.history),
		ErrorsByCategory:  make(map[domain.ErrorCategory]int),
		ErrorRatePerHour:  m.errorRateLocked(),
	}
	for _, rec := range m.history {
		stats.ErrorsByCategory[rec.Category]++
	}
	if m.state == StateCoolingDown {
		if remaining := m.pauseUntil.Sub(m.now()); remaining > 0 {
			stats.PauseRemaining = remaining
		}
	}
	return stats
}

func (m *Manager) startCooldownLocked() {
	m.state = StateCoolingDown
	m.pauseUntil = m.now().Add(m.cfg.Cooldown)
	m.consecutive = 0
}

func (m *Manager) appendLocked(rec domain.ErrorRecord) {
	m.history = append(m.history, rec)
	if len(m.history) > maxErrorHistory {
		m.history = m.history[len(m.history)-maxErrorHistory:]
	}
}

func (m *Manager) errorRateLocked() float64 {
	cutoff := m.now().Add(-m.cfg.ErrorWindow)
	var recent int
	for _, rec := range m.history {
		if rec.Timestamp.After(cutoff) {
			recent++
		}
	}
	return float64(recent) / m.cfg.ErrorWindow.Hours()
}
