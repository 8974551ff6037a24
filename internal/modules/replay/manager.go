package replay

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/321barney/ai-trader-ts-sub000/internal/events"
	"github.com/321barney/ai-trader-ts-sub000/internal/modules/marketdata"
	"github.com/321barney/ai-trader-ts-sub000/internal/modules/portfolio"
	"github.com/321barney/ai-trader-ts-sub000/internal/modules/stats"
	"github.com/321barney/ai-trader-ts-sub000/internal/modules/strategy"
)

// CreateRequest is the input for opening a new replay session
type CreateRequest struct {
	OwnerID string `json:"owner_id"`
	Config  Config `json:"config"`
}

// Manager owns all live replay sessions: it creates them, drives auto-play
// ticker loops, checkpoints state to storage, and re-attaches interrupted
// sessions after a restart.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	loops    map[string]context.CancelFunc

	subMu sync.Mutex
	subs  map[string]map[chan StepEvent]struct{}

	provider     marketdata.HistoryProvider
	sessionRepo  *SessionRepository
	tradeRepo    *TradeRepository
	equityRepo   *EquityRepository
	events       *events.Manager
	baseInterval time.Duration

	wg  sync.WaitGroup
	log zerolog.Logger
}

// NewManager creates a session manager. baseInterval is the wall-clock time
// one simulated step takes at speed 1 during auto-play.
func NewManager(provider marketdata.HistoryProvider, sessionRepo *SessionRepository, tradeRepo *TradeRepository, equityRepo *EquityRepository, ev *events.Manager, baseInterval time.Duration, log zerolog.Logger) *Manager {
	if baseInterval <= 0 {
		baseInterval = time.Second
	}
	return &Manager{
		sessions:     make(map[string]*Session),
		loops:        make(map[string]context.CancelFunc),
		subs:         make(map[string]map[chan StepEvent]struct{}),
		provider:     provider,
		sessionRepo:  sessionRepo,
		tradeRepo:    tradeRepo,
		equityRepo:   equityRepo,
		events:       ev,
		baseInterval: baseInterval,
		log:          log.With().Str("service", "replay_manager").Logger(),
	}
}

// CreateSession validates the config, loads the candle history through the
// temporal gate, and registers a PENDING session.
func (m *Manager) CreateSession(ctx context.Context, req CreateRequest) (SessionView, error) {
	cfg := req.Config
	if err := cfg.Validate(); err != nil {
		return SessionView{}, fmt.Errorf("invalid session config: %w", err)
	}
	decision, err := decisionFor(cfg.Strategy)
	if err != nil {
		return SessionView{}, err
	}

	history, err := m.provider.LoadHistory(ctx, cfg.Symbols, cfg.StartDate, cfg.EndDate)
	if err != nil {
		return SessionView{}, fmt.Errorf("load history: %w", err)
	}
	bars := 0
	for _, series := range history {
		bars += len(series)
	}
	if bars == 0 {
		return SessionView{}, fmt.Errorf("invalid session config: no candle data for %v between %s and %s",
			cfg.Symbols, cfg.StartDate.Format(time.RFC3339), cfg.EndDate.Format(time.RFC3339))
	}
	gate, err := marketdata.NewTemporalGate(history)
	if err != nil {
		return SessionView{}, fmt.Errorf("build temporal gate: %w", err)
	}
	m.events.Emit(events.MarketDataLoaded, "replay", map[string]interface{}{
		"symbols": cfg.Symbols,
		"bars":    bars,
	})

	id := uuid.New().String()
	sim := portfolio.NewSimulator(id, cfg.InitialCapital, cfg.CommissionRate, m.log)
	session := newSession(id, req.OwnerID, cfg, gate, sim, decision, m.log)
	session.onStep = func(ev StepEvent) { m.publish(ev) }

	view := session.View()
	if err := m.sessionRepo.Save(ctx, view); err != nil {
		return SessionView{}, fmt.Errorf("persist session: %w", err)
	}

	m.mu.Lock()
	m.sessions[id] = session
	m.mu.Unlock()

	m.events.Emit(events.SessionCreated, "replay", map[string]interface{}{
		"session_id": id,
		"owner_id":   req.OwnerID,
		"strategy":   cfg.Strategy,
	})
	return view, nil
}

func decisionFor(name string) (strategy.Decision, error) {
	switch name {
	case "threshold":
		return strategy.NewThresholdStrategy(), nil
	case "hold":
		return strategy.NewHoldStrategy(), nil
	default:
		return nil, fmt.Errorf("invalid session config: unknown strategy %q", name)
	}
}

// Start begins a PENDING session and arms its auto-play loop if configured
func (m *Manager) Start(ctx context.Context, id string) (SessionView, error) {
	session, err := m.get(id)
	if err != nil {
		return SessionView{}, err
	}
	if err := session.Start(); err != nil {
		return SessionView{}, err
	}
	if session.Config.AutoPlay {
		m.startLoop(session)
	}
	m.checkpoint(ctx, session)
	m.events.Emit(events.SessionStarted, "replay", map[string]interface{}{"session_id": id})
	return session.View(), nil
}

// Pause halts a RUNNING session. Its pending auto-play tick is cancelled and
// any in-flight tick finishes before the pause takes effect.
func (m *Manager) Pause(ctx context.Context, id string) (SessionView, error) {
	session, err := m.get(id)
	if err != nil {
		return SessionView{}, err
	}
	m.stopLoop(id)
	if err := session.Pause(); err != nil {
		return SessionView{}, err
	}
	m.checkpoint(ctx, session)
	m.events.Emit(events.SessionPaused, "replay", map[string]interface{}{"session_id": id})
	return session.View(), nil
}

// Resume continues a PAUSED session
func (m *Manager) Resume(ctx context.Context, id string) (SessionView, error) {
	session, err := m.get(id)
	if err != nil {
		return SessionView{}, err
	}
	if err := session.Resume(); err != nil {
		return SessionView{}, err
	}
	if session.Config.AutoPlay {
		m.startLoop(session)
	}
	m.checkpoint(ctx, session)
	m.events.Emit(events.SessionResumed, "replay", map[string]interface{}{"session_id": id})
	return session.View(), nil
}

// Stop ends a session early, closing all open positions
func (m *Manager) Stop(ctx context.Context, id string) (SessionView, error) {
	session, err := m.get(id)
	if err != nil {
		return SessionView{}, err
	}
	m.stopLoop(id)
	if err := session.Stop(); err != nil {
		return SessionView{}, err
	}
	m.checkpoint(ctx, session)
	m.events.Emit(events.SessionStopped, "replay", map[string]interface{}{
		"session_id":   id,
		"final_equity": session.View().Portfolio.Equity,
	})
	return session.View(), nil
}

// Advance applies explicit steps to a RUNNING session. A concurrent advance
// on the same session is rejected with ErrAdvanceInFlight.
func (m *Manager) Advance(ctx context.Context, id string, steps int) (AdvanceResult, error) {
	session, err := m.get(id)
	if err != nil {
		return AdvanceResult{}, err
	}
	result, advErr := session.Advance(steps)
	if advErr != nil && result.StepsApplied == 0 && result.Status == "" {
		// advance never ran, nothing to persist
		return AdvanceResult{}, advErr
	}
	if result.Status.Terminal() {
		m.stopLoop(id)
		m.checkpoint(ctx, session)
		m.emitTerminal(session)
	}
	return result, advErr
}

// GetState returns a session snapshot
func (m *Manager) GetState(id string) (SessionView, error) {
	session, err := m.get(id)
	if err != nil {
		return SessionView{}, err
	}
	return session.View(), nil
}

// List returns snapshots of all registered sessions, newest first
func (m *Manager) List() []SessionView {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, s.View())
	}
	sort.Slice(views, func(i, j int) bool { return views[i].CreatedAt.After(views[j].CreatedAt) })
	return views
}

// GetStatistics computes the performance summary for a session
func (m *Manager) GetStatistics(id string) (stats.Summary, error) {
	session, err := m.get(id)
	if err != nil {
		return stats.Summary{}, err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	return stats.Summarize(
		session.sim.InitialCapital(),
		session.sim.Snapshot(),
		session.equityValues(),
		session.Config.Granularity.PeriodsPerYear(),
	), nil
}

// Trades returns a session's trade log
func (m *Manager) Trades(id string) ([]portfolio.Trade, error) {
	session, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return session.Trades(), nil
}

// EquityCurve returns a session's per-step equity samples
func (m *Manager) EquityCurve(id string) ([]EquityPoint, error) {
	session, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return session.EquityCurve(), nil
}

// Subscribe registers a stream consumer for one session's step events. The
// returned cancel func must be called when the consumer goes away. Slow
// consumers drop events rather than stall the simulation.
func (m *Manager) Subscribe(id string) (<-chan StepEvent, func(), error) {
	if _, err := m.get(id); err != nil {
		return nil, nil, err
	}
	ch := make(chan StepEvent, 64)
	m.subMu.Lock()
	if m.subs[id] == nil {
		m.subs[id] = make(map[chan StepEvent]struct{})
	}
	m.subs[id][ch] = struct{}{}
	m.subMu.Unlock()

	cancel := func() {
		m.subMu.Lock()
		if set, ok := m.subs[id]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(m.subs, id)
			}
		}
		m.subMu.Unlock()
	}
	return ch, cancel, nil
}

func (m *Manager) publish(ev StepEvent) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// startLoop arms the auto-play ticker for a session. One simulated step fires
// every baseInterval divided by the session's speed multiplier.
func (m *Manager) startLoop(session *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, running := m.loops[session.ID]; running {
		return
	}
	interval := time.Duration(float64(m.baseInterval) / session.Config.Speed)
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.loops[session.ID] = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				result, err := session.Advance(1)
				if err == ErrAdvanceInFlight {
					// an explicit advance holds the session, skip this tick
					continue
				}
				if err != nil || result.Status != StatusRunning {
					m.detachLoop(session.ID)
					if result.Status.Terminal() {
						m.checkpoint(context.Background(), session)
						m.emitTerminal(session)
					}
					return
				}
			}
		}
	}()
}

// stopLoop cancels a session's auto-play goroutine if one is armed
func (m *Manager) stopLoop(id string) {
	m.mu.Lock()
	cancel, ok := m.loops[id]
	if ok {
		delete(m.loops, id)
	}
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

// detachLoop removes the loop registration from inside the loop goroutine
func (m *Manager) detachLoop(id string) {
	m.mu.Lock()
	if cancel, ok := m.loops[id]; ok {
		delete(m.loops, id)
		defer cancel()
	}
	m.mu.Unlock()
}

func (m *Manager) emitTerminal(session *Session) {
	view := session.View()
	eventType := events.SessionCompleted
	if view.Status == StatusFailed {
		eventType = events.SessionFailed
	}
	m.events.Emit(eventType, "replay", map[string]interface{}{
		"session_id":   view.ID,
		"status":       string(view.Status),
		"steps":        view.StepCount,
		"final_equity": view.Portfolio.Equity,
		"last_error":   view.LastError,
	})
}

// checkpoint persists a session's full state: the checkpoint row, any new
// trades, and any new equity samples. Failures are logged, not returned; a
// missed checkpoint only widens the recovery window.
func (m *Manager) checkpoint(ctx context.Context, session *Session) {
	view := session.View()
	if err := m.sessionRepo.Save(ctx, view); err != nil {
		m.log.Error().Err(err).Str("session_id", session.ID).Msg("session checkpoint failed")
		return
	}
	if err := m.tradeRepo.SaveAll(ctx, session.Trades()); err != nil {
		m.log.Error().Err(err).Str("session_id", session.ID).Msg("trade checkpoint failed")
	}
	if err := m.equityRepo.SaveAll(ctx, session.ID, session.EquityCurve()); err != nil {
		m.log.Error().Err(err).Str("session_id", session.ID).Msg("equity checkpoint failed")
	}
}

// CheckpointAll persists every non-terminal session. Wired to the recurring
// checkpoint job.
func (m *Manager) CheckpointAll(ctx context.Context) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	saved := 0
	for _, s := range sessions {
		if s.Status().Terminal() {
			continue
		}
		m.checkpoint(ctx, s)
		saved++
	}
	if saved > 0 {
		m.events.Emit(events.CheckpointSaved, "replay", map[string]interface{}{"sessions": saved})
	}
}

// CleanupFinished evicts terminal sessions older than the retention window
// from both memory and storage. Returns the number of sessions removed.
func (m *Manager) CleanupFinished(ctx context.Context, retention time.Duration) int {
	cutoff := time.Now().UTC().Add(-retention)
	removed, err := m.sessionRepo.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		m.log.Error().Err(err).Msg("session cleanup failed")
		return 0
	}

	m.mu.Lock()
	for id, s := range m.sessions {
		view := s.View()
		if view.Status.Terminal() && view.CreatedAt.Before(cutoff) {
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	if removed > 0 {
		m.events.Emit(events.SessionsCleaned, "replay", map[string]interface{}{"removed": removed})
	}
	return removed
}

// RecoverInterrupted reloads sessions that were RUNNING or PAUSED when the
// process died, rebuilds their gates and portfolios from checkpoints, and
// re-arms auto-play loops for the running ones. A session whose history can
// no longer be loaded is marked FAILED rather than dropped.
func (m *Manager) RecoverInterrupted(ctx context.Context) error {
	var records []*SessionRecord
	for _, status := range []Status{StatusRunning, StatusPaused} {
		batch, err := m.sessionRepo.ListByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("load interrupted sessions: %w", err)
		}
		records = append(records, batch...)
	}

	for _, rec := range records {
		session, err := m.rebuild(ctx, rec)
		if err != nil {
			m.log.Error().Err(err).Str("session_id", rec.ID).Msg("session recovery failed")
			rec.Status = StatusFailed
			rec.LastError = fmt.Sprintf("recovery failed: %v", err)
			m.persistRecord(ctx, rec)
			continue
		}

		m.mu.Lock()
		m.sessions[rec.ID] = session
		m.mu.Unlock()

		if session.Status() == StatusRunning && session.Config.AutoPlay {
			m.startLoop(session)
		}
		m.events.Emit(events.SessionRecovered, "replay", map[string]interface{}{
			"session_id": rec.ID,
			"status":     string(rec.Status),
			"step_count": rec.StepCount,
		})
		m.log.Info().Str("session_id", rec.ID).Str("status", string(rec.Status)).
			Time("resume_from", rec.CurrentTime).Msg("session recovered")
	}
	return nil
}

// rebuild reconstructs a live session from its checkpoint
func (m *Manager) rebuild(ctx context.Context, rec *SessionRecord) (*Session, error) {
	decision, err := decisionFor(rec.Config.Strategy)
	if err != nil {
		return nil, err
	}
	history, err := m.provider.LoadHistory(ctx, rec.Config.Symbols, rec.Config.StartDate, rec.Config.EndDate)
	if err != nil {
		return nil, fmt.Errorf("reload history: %w", err)
	}
	gate, err := marketdata.NewTemporalGate(history)
	if err != nil {
		return nil, fmt.Errorf("rebuild temporal gate: %w", err)
	}
	trades, err := m.tradeRepo.ListBySession(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("reload trades: %w", err)
	}
	equity, err := m.equityRepo.Curve(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("reload equity curve: %w", err)
	}

	sim := portfolio.Restore(rec.ID, rec.Config.InitialCapital, rec.Config.CommissionRate, rec.Portfolio, trades, m.log)
	session := newSession(rec.ID, rec.OwnerID, rec.Config, gate, sim, decision, m.log)
	session.onStep = func(ev StepEvent) { m.publish(ev) }
	session.restoreProgress(rec.Status, rec.CurrentTime, rec.StepCount, rec.LastError, rec.CreatedAt, equity)
	return session, nil
}

func (m *Manager) persistRecord(ctx context.Context, rec *SessionRecord) {
	view := SessionView{
		ID:          rec.ID,
		OwnerID:     rec.OwnerID,
		Config:      rec.Config,
		Status:      rec.Status,
		CurrentTime: rec.CurrentTime,
		StepCount:   rec.StepCount,
		Portfolio:   rec.Portfolio,
		LastError:   rec.LastError,
		CreatedAt:   rec.CreatedAt,
	}
	if err := m.sessionRepo.Save(ctx, view); err != nil {
		m.log.Error().Err(err).Str("session_id", rec.ID).Msg("persist recovery status failed")
	}
}

// Shutdown cancels all auto-play loops, waits for in-flight ticks, and takes
// a final checkpoint of every live session.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	for id, cancel := range m.loops {
		cancel()
		delete(m.loops, id)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.log.Warn().Msg("shutdown deadline reached before all session loops drained")
	}

	m.CheckpointAll(ctx)
	m.log.Info().Msg("replay manager shut down")
}

// Count returns live session totals by status, for the system status endpoint
func (m *Manager) Count() map[Status]int {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	counts := make(map[Status]int)
	for _, s := range sessions {
		counts[s.Status()]++
	}
	return counts
}

func (m *Manager) get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}
