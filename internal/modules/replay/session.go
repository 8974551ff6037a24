package replay

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/321barney/ai-trader-ts-sub000/internal/modules/indicators"
	"github.com/321barney/ai-trader-ts-sub000/internal/modules/marketdata"
	"github.com/321barney/ai-trader-ts-sub000/internal/modules/portfolio"
	"github.com/321barney/ai-trader-ts-sub000/internal/modules/strategy"
)

// lookbackBars is how much causal history each decision call sees. It covers
// the longest indicator warmup (26-period slow EMA plus 9-period signal) with
// room for swing-level detection.
const lookbackBars = 60

// Session is one replay run: a clock walking from start to end date, a
// temporal gate over preloaded candles, a simulated portfolio, and a decision
// function driving trades.
//
// All mutating methods serialize on a single mutex. Advance acquires it with
// TryLock so a second concurrent advance is rejected instead of queued.
type Session struct {
	ID        string
	OwnerID   string
	Config    Config
	CreatedAt time.Time

	mu          sync.Mutex
	status      Status
	currentTime time.Time
	stepCount   int
	lastError   string

	gate     *marketdata.TemporalGate
	sim      *portfolio.Simulator
	decision strategy.Decision
	equity   []EquityPoint

	// onStep is invoked after each applied step, while the session lock is
	// held. The manager installs it to fan events out to stream subscribers;
	// it must not block.
	onStep func(StepEvent)

	log zerolog.Logger
}

func newSession(id, ownerID string, cfg Config, gate *marketdata.TemporalGate, sim *portfolio.Simulator, decision strategy.Decision, log zerolog.Logger) *Session {
	return &Session{
		ID:          id,
		OwnerID:     ownerID,
		Config:      cfg,
		CreatedAt:   time.Now().UTC(),
		status:      StatusPending,
		currentTime: cfg.StartDate,
		gate:        gate,
		sim:         sim,
		decision:    decision,
		log:         log.With().Str("session_id", id).Logger(),
	}
}

// Start moves a PENDING session to RUNNING
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPending {
		return fmt.Errorf("%w: cannot start session in state %s", ErrInvalidTransition, s.status)
	}
	s.status = StatusRunning
	s.log.Info().Time("start", s.Config.StartDate).Time("end", s.Config.EndDate).Msg("session started")
	return nil
}

// Pause moves a RUNNING session to PAUSED. If a tick is in flight the call
// blocks until its side effects are fully applied.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning {
		return fmt.Errorf("%w: cannot pause session in state %s", ErrInvalidTransition, s.status)
	}
	s.status = StatusPaused
	s.log.Info().Time("current", s.currentTime).Msg("session paused")
	return nil
}

// Resume moves a PAUSED session back to RUNNING
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPaused {
		return fmt.Errorf("%w: cannot resume session in state %s", ErrInvalidTransition, s.status)
	}
	s.status = StatusRunning
	s.log.Info().Time("current", s.currentTime).Msg("session resumed")
	return nil
}

// Stop ends a RUNNING or PAUSED session early: all open positions are closed
// at their last known prices and the session transitions to COMPLETED.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning && s.status != StatusPaused {
		return fmt.Errorf("%w: cannot stop session in state %s", ErrInvalidTransition, s.status)
	}
	closed := s.sim.CloseAll(s.currentMarks(), s.currentTime, "session stopped")
	s.finishLocked()
	s.log.Info().Int("positions_closed", len(closed)).Float64("final_equity", s.sim.Equity()).Msg("session stopped")
	return nil
}

// Advance applies up to steps ticks of simulated time. It returns
// ErrAdvanceInFlight if another advance holds the session, and
// ErrInvalidTransition if the session is not RUNNING. Fewer steps than
// requested are applied when the end date is reached first.
func (s *Session) Advance(steps int) (AdvanceResult, error) {
	if steps < 1 {
		steps = 1
	}
	if !s.mu.TryLock() {
		return AdvanceResult{}, ErrAdvanceInFlight
	}
	defer s.mu.Unlock()

	if s.status != StatusRunning {
		return AdvanceResult{}, fmt.Errorf("%w: cannot advance session in state %s", ErrInvalidTransition, s.status)
	}

	applied := 0
	var stepErr error
	for i := 0; i < steps && s.status == StatusRunning; i++ {
		advanced, err := s.stepLocked()
		if err != nil {
			stepErr = err
			s.failLocked(err)
			break
		}
		if advanced {
			applied++
		}
	}

	res := AdvanceResult{
		StepsApplied: applied,
		CurrentTime:  s.currentTime,
		Status:       s.status,
		Equity:       s.sim.Equity(),
	}
	return res, stepErr
}

// stepLocked advances simulated time by one granularity step, marks the
// portfolio, and runs the decision function for every symbol with a fresh
// bar. A symbol with no bar at the new time is a data gap and is skipped;
// a decision error skips that symbol for this tick. Only an unexpected fault
// fails the session. advanced reports whether the clock actually moved.
func (s *Session) stepLocked() (advanced bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during tick at %s: %v", s.currentTime.Format(time.RFC3339), r)
		}
	}()

	prev := s.currentTime
	next := prev.Add(s.Config.Granularity.Step())
	if next.After(s.Config.EndDate) {
		s.finishLocked()
		return false, nil
	}
	s.currentTime = next

	// Mark every position first so decisions see current equity. Symbols
	// with no bar yet keep their last mark.
	s.sim.MarkToMarket(s.currentMarks())

	for _, symbol := range s.gate.Symbols() {
		candle, ok := s.gate.DataAt(symbol, next)
		if !ok || !candle.Timestamp.After(prev) {
			// no new bar this step
			continue
		}
		s.decideLocked(symbol, candle, next)
	}

	equity := s.sim.MarkToMarket(s.currentMarks())
	s.stepCount++
	s.equity = append(s.equity, EquityPoint{Step: s.stepCount, Timestamp: next, Equity: equity})

	if s.currentTime.Equal(s.Config.EndDate) {
		s.finishLocked()
	}
	if s.onStep != nil {
		s.onStep(StepEvent{
			SessionID:   s.ID,
			Step:        s.stepCount,
			CurrentTime: next,
			Equity:      equity,
			Cash:        s.sim.Cash(),
			Status:      s.status,
		})
	}
	return true, nil
}

// decideLocked runs the decision function for one symbol and applies the
// resulting order. Decision failures, including panics inside the strategy,
// never touch portfolio state.
func (s *Session) decideLocked(symbol string, candle marketdata.Candle, at time.Time) {
	intent, err := s.safeDecide(symbol, candle, at)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Time("at", at).Msg("decision failed, skipping symbol this tick")
		return
	}
	if intent.Action == strategy.ActionHold || intent.Quantity <= 0 {
		return
	}
	result := s.sim.ExecuteTrade(symbol, intent.Action.Side(), intent.Quantity, candle.Close, at, intent.Reasoning)
	if !result.Accepted {
		s.log.Debug().Str("symbol", symbol).Str("reason", string(result.Reason)).Msg("order rejected")
	}
}

func (s *Session) safeDecide(symbol string, candle marketdata.Candle, at time.Time) (intent strategy.Intent, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decision %s panicked: %v", s.decision.Name(), r)
		}
	}()
	history := s.gate.HistoryRange(symbol, at, lookbackBars)
	var held float64
	if pos, ok := s.sim.Position(symbol); ok {
		held = pos.Quantity
	}
	return s.decision.Decide(strategy.Context{
		Symbol:     symbol,
		Candle:     candle,
		History:    history,
		Indicators: indicators.Compute(history),
		Cash:       s.sim.Cash(),
		Equity:     s.sim.Equity(),
		Held:       held,
	})
}

// currentMarks returns the latest known close for every symbol, as visible
// at the session's current time.
func (s *Session) currentMarks() map[string]float64 {
	marks := make(map[string]float64)
	for _, symbol := range s.gate.Symbols() {
		if candle, ok := s.gate.DataAt(symbol, s.currentTime); ok {
			marks[symbol] = candle.Close
		}
	}
	return marks
}

func (s *Session) finishLocked() {
	s.status = StatusCompleted
	if len(s.equity) == 0 || s.equity[len(s.equity)-1].Equity != s.sim.Equity() {
		s.equity = append(s.equity, EquityPoint{Step: s.stepCount, Timestamp: s.currentTime, Equity: s.sim.Equity()})
	}
	s.log.Info().Int("steps", s.stepCount).Float64("final_equity", s.sim.Equity()).Msg("session completed")
}

func (s *Session) failLocked(err error) {
	s.status = StatusFailed
	s.lastError = fmt.Sprintf("at %s: %v", s.currentTime.Format(time.RFC3339), err)
	s.log.Error().Err(err).Time("last_good", s.currentTime).Msg("session failed")
}

// View returns a consistent read-only snapshot of the session
func (s *Session) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() SessionView {
	return SessionView{
		ID:          s.ID,
		OwnerID:     s.OwnerID,
		Config:      s.Config,
		Status:      s.status,
		CurrentTime: s.currentTime,
		StepCount:   s.stepCount,
		DayCount:    int(s.currentTime.Sub(s.Config.StartDate) / (24 * time.Hour)),
		Portfolio:   s.sim.Snapshot(),
		LastError:   s.lastError,
		CreatedAt:   s.CreatedAt,
	}
}

// Status returns the session's lifecycle state
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// EquityCurve returns a copy of the per-step equity samples
func (s *Session) EquityCurve() []EquityPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EquityPoint, len(s.equity))
	copy(out, s.equity)
	return out
}

// Trades returns a copy of the trade log
func (s *Session) Trades() []portfolio.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sim.Trades()
}

func (s *Session) equityValues() []float64 {
	vals := make([]float64, 0, len(s.equity)+1)
	vals = append(vals, s.sim.InitialCapital())
	for _, p := range s.equity {
		vals = append(vals, p.Equity)
	}
	return vals
}

// restoreProgress rehydrates clock, counters, and equity history from a
// checkpoint. Used only during crash recovery, before the session is exposed.
func (s *Session) restoreProgress(status Status, currentTime time.Time, stepCount int, lastError string, createdAt time.Time, equity []EquityPoint) {
	s.status = status
	s.currentTime = currentTime
	s.stepCount = stepCount
	s.lastError = lastError
	if !createdAt.IsZero() {
		s.CreatedAt = createdAt
	}
	s.equity = equity
}
