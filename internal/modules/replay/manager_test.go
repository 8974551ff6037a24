package replay

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/321barney/ai-trader-ts-sub000/internal/database"
	"github.com/321barney/ai-trader-ts-sub000/internal/events"
	"github.com/321barney/ai-trader-ts-sub000/internal/modules/marketdata"
)

// testFixture wires a manager against an in-memory database preloaded with
// twenty days of candles.
type testFixture struct {
	db      *database.DB
	manager *Manager
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()

	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, marketdata.InitSchema(db.Conn()))
	require.NoError(t, InitSchema(db.Conn()))

	candleRepo := marketdata.NewCandleRepository(db.Conn(), zerolog.Nop())
	require.NoError(t, candleRepo.SaveCandles(context.Background(),
		dailySeries(t, "BTC-EUR", testStart,
			100, 101, 102, 103, 104, 105, 106, 107, 108, 109,
			110, 111, 112, 113, 114, 115, 116, 117, 118, 119)))

	manager := newManagerOn(db)
	return &testFixture{db: db, manager: manager}
}

// newManagerOn builds a manager over an existing database, so recovery tests
// can spin up a second manager against the same storage.
func newManagerOn(db *database.DB) *Manager {
	log := zerolog.Nop()
	return NewManager(
		marketdata.NewCandleRepository(db.Conn(), log),
		NewSessionRepository(db.Conn(), log),
		NewTradeRepository(db.Conn(), log),
		NewEquityRepository(db.Conn(), log),
		events.NewManager(log),
		10*time.Millisecond,
		log,
	)
}

func testConfig() Config {
	return Config{
		Symbols:        []string{"BTC-EUR"},
		StartDate:      testStart,
		EndDate:        testStart.Add(19 * 24 * time.Hour),
		InitialCapital: 10000,
		Strategy:       "hold",
	}
}

func TestManager_CreateSessionValidation(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.InitialCapital = -5
	_, err := f.manager.CreateSession(ctx, CreateRequest{OwnerID: "u1", Config: cfg})
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Strategy = "does-not-exist"
	_, err = f.manager.CreateSession(ctx, CreateRequest{OwnerID: "u1", Config: cfg})
	assert.Error(t, err)

	// A date range with no candles is rejected up front
	cfg = testConfig()
	cfg.StartDate = testStart.Add(365 * 24 * time.Hour)
	cfg.EndDate = cfg.StartDate.Add(48 * time.Hour)
	_, err = f.manager.CreateSession(ctx, CreateRequest{OwnerID: "u1", Config: cfg})
	assert.Error(t, err)
}

func TestManager_UnknownSessionIsNotFound(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	_, err := f.manager.GetState("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.manager.Start(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.manager.Advance(ctx, "nope", 1)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, _, err = f.manager.Subscribe("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_FullLifecycle(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	created, err := f.manager.CreateSession(ctx, CreateRequest{OwnerID: "u1", Config: testConfig()})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, created.Status)
	assert.Equal(t, 10000.0, created.Portfolio.Cash)

	started, err := f.manager.Start(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, started.Status)

	result, err := f.manager.Advance(ctx, created.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, result.StepsApplied)

	paused, err := f.manager.Pause(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status)

	_, err = f.manager.Advance(ctx, created.ID, 1)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	resumed, err := f.manager.Resume(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, resumed.Status)

	summary, err := f.manager.GetStatistics(created.ID)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, summary.InitialCapital)
	assert.Equal(t, 0.0, summary.TotalReturn, "hold strategy never trades")

	curve, err := f.manager.EquityCurve(created.ID)
	require.NoError(t, err)
	assert.Len(t, curve, 5)

	stopped, err := f.manager.Stop(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stopped.Status)

	views := f.manager.List()
	require.Len(t, views, 1)
	assert.Equal(t, created.ID, views[0].ID)

	counts := f.manager.Count()
	assert.Equal(t, 1, counts[StatusCompleted])
}

func TestManager_SubscribeReceivesStepEvents(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	created, err := f.manager.CreateSession(ctx, CreateRequest{OwnerID: "u1", Config: testConfig()})
	require.NoError(t, err)
	_, err = f.manager.Start(ctx, created.ID)
	require.NoError(t, err)

	ch, cancel, err := f.manager.Subscribe(created.ID)
	require.NoError(t, err)
	defer cancel()

	_, err = f.manager.Advance(ctx, created.ID, 2)
	require.NoError(t, err)

	var got []StepEvent
	for len(got) < 2 {
		select {
		case ev := <-ch:
			got = append(got, ev)
		case <-time.After(time.Second):
			t.Fatalf("expected 2 step events, got %d", len(got))
		}
	}
	assert.Equal(t, created.ID, got[0].SessionID)
	assert.Equal(t, 1, got[0].Step)
	assert.Equal(t, 2, got[1].Step)
	assert.True(t, got[1].CurrentTime.After(got[0].CurrentTime))
}

func TestManager_AutoPlayDrivesSessionToCompletion(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.EndDate = testStart.Add(5 * 24 * time.Hour)
	cfg.AutoPlay = true
	cfg.Speed = 10 // one step per millisecond at the 10ms test base interval

	created, err := f.manager.CreateSession(ctx, CreateRequest{OwnerID: "u1", Config: cfg})
	require.NoError(t, err)
	_, err = f.manager.Start(ctx, created.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		view, err := f.manager.GetState(created.ID)
		return err == nil && view.Status == StatusCompleted
	}, 5*time.Second, 5*time.Millisecond, "auto-play should walk the session to its end date")

	view, err := f.manager.GetState(created.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, view.StepCount)
}

func TestManager_CrashRecovery(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	created, err := f.manager.CreateSession(ctx, CreateRequest{OwnerID: "u1", Config: testConfig()})
	require.NoError(t, err)
	_, err = f.manager.Start(ctx, created.ID)
	require.NoError(t, err)
	_, err = f.manager.Advance(ctx, created.ID, 4)
	require.NoError(t, err)

	// Persist and simulate a crash: a fresh manager over the same storage
	f.manager.CheckpointAll(ctx)
	reborn := newManagerOn(f.db)
	require.NoError(t, reborn.RecoverInterrupted(ctx))

	view, err := reborn.GetState(created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, view.Status)
	assert.Equal(t, 4, view.StepCount)
	assert.Equal(t, testStart.Add(4*24*time.Hour), view.CurrentTime)
	assert.Equal(t, 10000.0, view.Portfolio.Cash)

	curve, err := reborn.EquityCurve(created.ID)
	require.NoError(t, err)
	assert.Len(t, curve, 4)

	// The recovered session picks up exactly where the checkpoint left off
	result, err := reborn.Advance(ctx, created.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, testStart.Add(5*24*time.Hour), result.CurrentTime)
}

func TestManager_CleanupEvictsFinishedSessions(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	created, err := f.manager.CreateSession(ctx, CreateRequest{OwnerID: "u1", Config: testConfig()})
	require.NoError(t, err)
	_, err = f.manager.Start(ctx, created.ID)
	require.NoError(t, err)
	_, err = f.manager.Stop(ctx, created.ID)
	require.NoError(t, err)

	// A generous retention keeps the fresh session around
	assert.Equal(t, 0, f.manager.CleanupFinished(ctx, 24*time.Hour))
	_, err = f.manager.GetState(created.ID)
	assert.NoError(t, err)

	// A negative retention places the cutoff in the future, evicting it
	assert.Equal(t, 1, f.manager.CleanupFinished(ctx, -time.Minute))
	_, err = f.manager.GetState(created.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_ShutdownCheckpointsSessions(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	created, err := f.manager.CreateSession(ctx, CreateRequest{OwnerID: "u1", Config: testConfig()})
	require.NoError(t, err)
	_, err = f.manager.Start(ctx, created.ID)
	require.NoError(t, err)
	_, err = f.manager.Advance(ctx, created.ID, 3)
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	f.manager.Shutdown(shutdownCtx)

	repo := NewSessionRepository(f.db.Conn(), zerolog.Nop())
	rec, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.Equal(t, 3, rec.StepCount)
}
