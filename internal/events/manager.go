package events

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents different event types
type EventType string

const (
	ErrorOccurred EventType = "ERROR_OCCURRED"

	// Session lifecycle events
	SessionCreated   EventType = "SESSION_CREATED"
	SessionStarted   EventType = "SESSION_STARTED"
	SessionPaused    EventType = "SESSION_PAUSED"
	SessionResumed   EventType = "SESSION_RESUMED"
	SessionStopped   EventType = "SESSION_STOPPED"
	SessionCompleted EventType = "SESSION_COMPLETED"
	SessionFailed    EventType = "SESSION_FAILED"
	SessionRecovered EventType = "SESSION_RECOVERED"

	// Simulation events
	TradeExecuted    EventType = "TRADE_EXECUTED"
	CheckpointSaved  EventType = "CHECKPOINT_SAVED"
	SessionsCleaned  EventType = "SESSIONS_CLEANED"
	MarketDataLoaded EventType = "MARKET_DATA_LOADED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// Manager handles event emission and logging
type Manager struct {
	log zerolog.Logger
}

// NewManager creates a new event manager
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log: log.With().Str("service", "events").Logger(),
	}
}

// Emit emits an event
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Module:    module,
	}

	eventJSON, _ := json.Marshal(event)
	m.log.Info().
		Str("event_type", string(eventType)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("Event emitted")
}

// EmitError emits an error event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	data := map[string]interface{}{
		"error":   err.Error(),
		"context": context,
	}
	m.Emit(ErrorOccurred, module, data)
}
