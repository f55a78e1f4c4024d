package domain

import "time"

// ---------------------------------------------------------------------------
// Event vocabulary. Every transition in the system is announced on the bus
// ---------------------------------------------------------------------------

// EventType classifies events for routing and filtering.
type EventType string

// Prefixes keep event names globally unique per pipeline context.
const (
	// Daily pipeline stages
	EventDailyStarted          EventType = "daily.started"
	EventDailyDataRead         EventType = "daily.data_read"
	EventDailyScoresCalculated EventType = "daily.scores_calculated"
	EventDailyPromptReady      EventType = "daily.prompt_ready"
	EventDailyAnalysisDone     EventType = "daily.analysis_done"
	EventDailySaved            EventType = "daily.saved"
	EventDailyCompleted        EventType = "daily.completed"
	EventDailyFailed           EventType = "daily.failed"

	// Weekly pipeline stages
	EventWeeklyStarted          EventType = "weekly.started"
	EventWeeklyDataCollected    EventType = "weekly.data_collected"
	EventWeeklyScoresAggregated EventType = "weekly.scores_aggregated"
	EventWeeklyPromptReady      EventType = "weekly.prompt_ready"
	EventWeeklyAnalysisReceived EventType = "weekly.analysis_received"
	EventWeeklyCompleted        EventType = "weekly.completed"
	EventWeeklyFailed           EventType = "weekly.failed"

	// Gateway audit events
	EventAPICallSuccess EventType = "api.call.success"
	EventAPICallFailed  EventType = "api.call.failed"

	// System-level events
	EventErrorOccurred EventType = "error.occurred"
	EventSchemaDrift   EventType = "schema.drift.detected"
	EventTriggerFired  EventType = "trigger.fired"
)

// Event is an immutable (type, payload, timestamp) tuple. Once published it
// is never mutated; audit-log readers receive copies.
type Event struct {
	Type      EventType `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent stamps a new event with the current UTC time.
func NewEvent(eventType EventType, payload any) Event {
	return Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}
