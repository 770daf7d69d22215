package recovery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoAutoPilot/internal/domain"
	"cryptoAutoPilot/internal/ports"
)

type noopLogger struct{}

func (noopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (noopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (noopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (noopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// fakeClock lets tests advance time deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(cfg Config) (*Manager, *fakeClock) {
	m := NewManager(cfg, noopLogger{}, nil)
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	m.now = clock.now
	return m, clock
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.ErrorCategory
	}{
		{"configuration error is fatal", ports.ErrConfigurationError, domain.CategoryFatal},
		{"authentication failure is fatal", fmt.Errorf("login: %w", ports.ErrAuthenticationFailed), domain.CategoryFatal},
		{"insufficient funds is fatal", ports.ErrInsufficientFunds, domain.CategoryFatal},
		{"rate limit", fmt.Errorf("api: %w", ports.ErrRateLimited), domain.CategoryRateLimit},
		{"connection failure is transient", ports.ErrConnectionFailed, domain.CategoryTransient},
		{"unknown error is transient", errors.New("boom"), domain.CategoryTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestConsecutiveTransientErrorsTriggerPause(t *testing.T) {
	m, clock := newTestManager(Config{})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		action := m.Record(ctx, ports.ErrConnectionFailed)
		require.Equal(t, domain.ActionContinue, action, "error %d should not pause yet", i+1)
		assert.False(t, m.ShouldPause())
	}

	action := m.Record(ctx, ports.ErrConnectionFailed)
	assert.Equal(t, domain.ActionPause, action)
	assert.True(t, m.ShouldPause())
	assert.Equal(t, StateCoolingDown, m.State())
	assert.InDelta(t, (300 * time.Second).Seconds(), m.PauseRemaining().Seconds(), 1)

	// Cooldown elapses; the next check resumes automatically.
	clock.advance(301 * time.Second)
	assert.False(t, m.ShouldPause())
	assert.Equal(t, StateNormal, m.State())
}

func TestSuccessResetsConsecutiveCount(t *testing.T) {
	m, _ := newTestManager(Config{})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		m.Record(ctx, ports.ErrConnectionFailed)
	}
	m.RecordSuccess()

	// The run was broken, so four more transient errors still continue.
	for i := 0; i < 4; i++ {
		action := m.Record(ctx, ports.ErrTimeout)
		assert.Equal(t, domain.ActionContinue, action)
	}
}

func TestRateLimitPausesImmediately(t *testing.T) {
	m, clock := newTestManager(Config{Cooldown: 60 * time.Second})
	ctx := context.Background()

	action := m.Record(ctx, ports.ErrRateLimited)
	assert.Equal(t, domain.ActionPause, action)
	assert.True(t, m.ShouldPause())

	clock.advance(59 * time.Second)
	assert.True(t, m.ShouldPause())
	clock.advance(2 * time.Second)
	assert.False(t, m.ShouldPause())
}

func TestFatalErrorHaltsPermanently(t *testing.T) {
	m, clock := newTestManager(Config{})
	ctx := context.Background()

	action := m.Record(ctx, ports.ErrAuthenticationFailed)
	assert.Equal(t, domain.ActionStop, action)
	assert.Equal(t, StateHalted, m.State())
	assert.True(t, m.ShouldPause())

	// Neither time nor successes leave HALTED.
	clock.advance(24 * time.Hour)
	m.RecordSuccess()
	assert.True(t, m.ShouldPause())
	assert.Equal(t, StateHalted, m.State())
	assert.Equal(t, domain.ActionStop, m.Record(ctx, ports.ErrTimeout))
}

func TestErrorRateAndStatistics(t *testing.T) {
	m, clock := newTestManager(Config{ErrorWindow: time.Hour})
	ctx := context.Background()

	m.Record(ctx, ports.ErrTimeout)
	m.Record(ctx, ports.ErrConnectionFailed)
	clock.advance(2 * time.Hour)
	m.Record(ctx, ports.ErrTimeout)

	// Only the error inside the window counts toward the rate.
	assert.InDelta(t, 1.0, m.ErrorRate(), 0.001)

	stats := m.Statistics()
	assert.Equal(t, 3, stats.TotalErrors)
	assert.Equal(t, 3, stats.ErrorsByCategory[domain.CategoryTransient])
	assert.Equal(t, StateNormal, stats.State)
	assert.Equal(t, 3, stats.ConsecutiveErrors)
}
