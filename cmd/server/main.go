package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/321barney/ai-trader-ts-sub000/internal/config"
	"github.com/321barney/ai-trader-ts-sub000/internal/database"
	"github.com/321barney/ai-trader-ts-sub000/internal/events"
	"github.com/321barney/ai-trader-ts-sub000/internal/modules/marketdata"
	"github.com/321barney/ai-trader-ts-sub000/internal/modules/replay"
	"github.com/321barney/ai-trader-ts-sub000/internal/scheduler"
	"github.com/321barney/ai-trader-ts-sub000/internal/server"
	"github.com/321barney/ai-trader-ts-sub000/pkg/logger"
)

func main() {
	// Load configuration first so the logger honors LOG_LEVEL
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New(logger.Config{Level: "info", Pretty: true})
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting replay engine")

	// Initialize database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	if err := marketdata.InitSchema(db.Conn()); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize market data schema")
	}
	if err := replay.InitSchema(db.Conn()); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize replay schema")
	}

	// Wire the session manager
	eventBus := events.NewManager(log)
	candleRepo := marketdata.NewCandleRepository(db.Conn(), log)
	sessionRepo := replay.NewSessionRepository(db.Conn(), log)
	tradeRepo := replay.NewTradeRepository(db.Conn(), log)
	equityRepo := replay.NewEquityRepository(db.Conn(), log)

	manager := replay.NewManager(candleRepo, sessionRepo, tradeRepo, equityRepo,
		eventBus, cfg.BaseTickInterval, log)

	// Re-attach sessions interrupted by the last shutdown or crash
	recoverCtx, cancelRecover := context.WithTimeout(context.Background(), 30*time.Second)
	if err := manager.RecoverInterrupted(recoverCtx); err != nil {
		log.Error().Err(err).Msg("Session recovery incomplete")
	}
	cancelRecover()

	// Background jobs
	sched := scheduler.New(log)
	if err := sched.AddJob(cfg.CheckpointSchedule, scheduler.NewCheckpointJob(manager, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register checkpoint job")
	}
	if err := sched.AddJob("@hourly", scheduler.NewCleanupJob(manager, cfg.SessionRetention, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register cleanup job")
	}
	sched.Start()
	defer sched.Stop()

	// Initialize HTTP server
	srv := server.New(server.Config{
		Port:           cfg.Port,
		Log:            log,
		DB:             db,
		Config:         cfg,
		ReplayHandlers: replay.NewHandlers(manager, log),
		Manager:        manager,
		DevMode:        cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Final checkpoint so no session progress is lost
	manager.Shutdown(ctx)

	log.Info().Msg("Server stopped")
}
