package replay

import (
	"errors"
	"fmt"
	"time"

	"github.com/321barney/ai-trader-ts-sub000/internal/domain"
	"github.com/321barney/ai-trader-ts-sub000/internal/modules/portfolio"
)

// Status is the lifecycle state of a replay session
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether the status accepts no further transitions
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Config is the immutable configuration of a replay session, fixed at
// creation time.
type Config struct {
	Symbols        []string           `json:"symbols"`
	StartDate      time.Time          `json:"start_date"`
	EndDate        time.Time          `json:"end_date"`
	Granularity    domain.Granularity `json:"granularity"`
	Speed          float64            `json:"speed"`     // playback multiplier for auto-play
	AutoPlay       bool               `json:"auto_play"` // timer-driven stepping vs explicit advance
	InitialCapital float64            `json:"initial_capital"`
	CommissionRate float64            `json:"commission_rate"`
	Strategy       string             `json:"strategy"` // decision function name, defaults to "threshold"
}

// Validate checks config invariants and fills defaults
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if c.StartDate.IsZero() || c.EndDate.IsZero() {
		return fmt.Errorf("start and end dates are required")
	}
	if !c.StartDate.Before(c.EndDate) {
		return fmt.Errorf("start date %s must be before end date %s",
			c.StartDate.Format(time.RFC3339), c.EndDate.Format(time.RFC3339))
	}
	if c.Granularity == "" {
		c.Granularity = domain.GranularityDaily
	}
	if !c.Granularity.Valid() {
		return fmt.Errorf("unknown granularity %q", c.Granularity)
	}
	if c.Speed == 0 {
		c.Speed = 1
	}
	if c.Speed < 0 {
		return fmt.Errorf("speed must be positive, got %v", c.Speed)
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive, got %v", c.InitialCapital)
	}
	if c.CommissionRate < 0 || c.CommissionRate >= 1 {
		return fmt.Errorf("commission rate must be in [0, 1), got %v", c.CommissionRate)
	}
	if c.Strategy == "" {
		c.Strategy = "threshold"
	}
	return nil
}

// Session-level error taxonomy. Validation failures are returned to the
// immediate caller as these sentinel values; only unexpected faults during a
// tick mark a session FAILED.
var (
	// ErrSessionNotFound reports an unknown session id
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidTransition reports an operation that is not legal in the
	// session's current state. No mutation occurs.
	ErrInvalidTransition = errors.New("operation not valid for session state")

	// ErrAdvanceInFlight reports a second concurrent advance on one session.
	// The caller retries after the in-flight advance finishes.
	ErrAdvanceInFlight = errors.New("advance already in flight for session")
)

// EquityPoint is one sample of the per-step equity curve
type EquityPoint struct {
	Step      int       `json:"step"`
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// SessionView is the read-only snapshot of a session returned to callers.
type SessionView struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	Config      Config          `json:"config"`
	Status      Status          `json:"status"`
	CurrentTime time.Time       `json:"current_time"`
	StepCount   int             `json:"step_count"`
	DayCount    int             `json:"day_count"`
	Portfolio   portfolio.State `json:"portfolio"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// AdvanceResult reports the outcome of an explicit advance call
type AdvanceResult struct {
	StepsApplied int       `json:"steps_applied"`
	CurrentTime  time.Time `json:"current_time"`
	Status       Status    `json:"status"`
	Equity       float64   `json:"equity"`
}

// StepEvent is published to stream subscribers after each applied step
type StepEvent struct {
	SessionID   string    `json:"session_id"`
	Step        int       `json:"step"`
	CurrentTime time.Time `json:"current_time"`
	Equity      float64   `json:"equity"`
	Cash        float64   `json:"cash"`
	Status      Status    `json:"status"`
}
