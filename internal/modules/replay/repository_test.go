package replay

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/321barney/ai-trader-ts-sub000/internal/database"
	"github.com/321barney/ai-trader-ts-sub000/internal/domain"
	"github.com/321barney/ai-trader-ts-sub000/internal/modules/portfolio"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, InitSchema(db.Conn()))
	return db
}

func sampleView(id string) SessionView {
	return SessionView{
		ID:      id,
		OwnerID: "owner-1",
		Config: Config{
			Symbols:        []string{"BTC-EUR", "ETH-EUR"},
			StartDate:      testStart,
			EndDate:        testStart.Add(10 * 24 * time.Hour),
			Granularity:    domain.GranularityDaily,
			Speed:          2,
			InitialCapital: 10000,
			CommissionRate: 0.001,
			Strategy:       "threshold",
		},
		Status:      StatusRunning,
		CurrentTime: testStart.Add(3 * 24 * time.Hour),
		StepCount:   3,
		Portfolio: portfolio.State{
			Cash:          9000,
			Equity:        10050,
			RealizedPnL:   25,
			HighWaterMark: 10100,
			MaxDrawdown:   0.02,
			WinningTrades: 2,
			LosingTrades:  1,
			TotalTrades:   5,
			Positions: []portfolio.Position{
				{Symbol: "BTC-EUR", Quantity: 0.5, EntryPrice: 2000, CurrentPrice: 2100, UnrealizedPnL: 50},
			},
		},
		CreatedAt: testStart,
	}
}

func TestSessionRepository_SaveAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := NewSessionRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	view := sampleView("s1")
	require.NoError(t, repo.Save(ctx, view))

	rec, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, view.OwnerID, rec.OwnerID)
	assert.Equal(t, view.Config, rec.Config)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.Equal(t, view.CurrentTime, rec.CurrentTime)
	assert.Equal(t, 3, rec.StepCount)
	assert.Equal(t, view.Portfolio, rec.Portfolio)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionRepository_SaveIsUpsert(t *testing.T) {
	db := newTestDB(t)
	repo := NewSessionRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	view := sampleView("s1")
	require.NoError(t, repo.Save(ctx, view))

	view.Status = StatusCompleted
	view.StepCount = 10
	view.Portfolio.Positions = nil
	require.NoError(t, repo.Save(ctx, view))

	rec, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, 10, rec.StepCount)
	assert.Empty(t, rec.Portfolio.Positions)
}

func TestSessionRepository_ListByStatus(t *testing.T) {
	db := newTestDB(t)
	repo := NewSessionRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	running := sampleView("s1")
	require.NoError(t, repo.Save(ctx, running))

	done := sampleView("s2")
	done.Status = StatusCompleted
	require.NoError(t, repo.Save(ctx, done))

	records, err := repo.ListByStatus(ctx, StatusRunning)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "s1", records[0].ID)

	records, err = repo.ListByStatus(ctx, StatusFailed)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestTradeRepository_SaveAllIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	sessions := NewSessionRepository(db.Conn(), zerolog.Nop())
	repo := NewTradeRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, sessions.Save(ctx, sampleView("s1")))

	trades := []portfolio.Trade{
		{ID: "t1", SessionID: "s1", Symbol: "BTC-EUR", Side: domain.SideBuy,
			Quantity: 1, Price: 100, Commission: 0.1, ExecutedAt: testStart.Add(24 * time.Hour), Reasoning: "entry"},
		{ID: "t2", SessionID: "s1", Symbol: "BTC-EUR", Side: domain.SideSell,
			Quantity: 1, Price: 110, Commission: 0.11, RealizedPnL: 10, ExecutedAt: testStart.Add(48 * time.Hour)},
	}
	require.NoError(t, repo.SaveAll(ctx, trades))
	// A checkpoint re-inserting the full log must not duplicate rows
	require.NoError(t, repo.SaveAll(ctx, trades))

	got, err := repo.ListBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, trades[0], got[0])
	assert.Equal(t, trades[1], got[1])
}

func TestEquityRepository_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	sessions := NewSessionRepository(db.Conn(), zerolog.Nop())
	repo := NewEquityRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, sessions.Save(ctx, sampleView("s1")))

	points := []EquityPoint{
		{Step: 1, Timestamp: testStart.Add(24 * time.Hour), Equity: 10000},
		{Step: 2, Timestamp: testStart.Add(48 * time.Hour), Equity: 10100},
		{Step: 3, Timestamp: testStart.Add(72 * time.Hour), Equity: 10050},
	}
	require.NoError(t, repo.SaveAll(ctx, "s1", points[:2]))
	// Later checkpoint carries the full curve; earlier steps are ignored
	require.NoError(t, repo.SaveAll(ctx, "s1", points))

	got, err := repo.Curve(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, points, got)
}
