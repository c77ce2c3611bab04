package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of audit event
type EventType string

const (
	// Conversation events
	EventConversationStarted   EventType = "conversation.started"
	EventConversationSuspended EventType = "conversation.suspended"
	EventConversationResumed   EventType = "conversation.resumed"
	EventConversationCompleted EventType = "conversation.completed"
	EventConversationFallback  EventType = "conversation.fallback"
	EventConversationDiscarded EventType = "conversation.discarded"
	EventConversationEvicted   EventType = "conversation.evicted"

	// Tool events
	EventToolExecuted EventType = "tool.executed"
	EventToolFailed   EventType = "tool.failed"

	// Bridge events
	EventBridgeDispatched EventType = "bridge.dispatched"
	EventBridgeResolved   EventType = "bridge.resolved"
	EventBridgeDuplicate  EventType = "bridge.duplicate"

	// Session events
	EventSessionCreated EventType = "session.created"
	EventSessionDeleted EventType = "session.deleted"

	// System events
	EventServerStarted  EventType = "system.server_started"
	EventServerShutdown EventType = "system.server_shutdown"
	EventConfigLoaded   EventType = "config.loaded"
)

// Result represents the outcome of an audited action
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultPending Result = "pending"
)

// Event represents a single audit event
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	EventType     EventType `json:"event_type"`
	Result        Result    `json:"result"`

	// Subject information
	SessionID string `json:"session_id,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Tool      string `json:"tool,omitempty"`

	// Detail
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Error       string                 `json:"error,omitempty"`
	DurationMs  int64                  `json:"duration_ms,omitempty"`
}

// NewEvent creates a new audit event with default values
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultPending,
		Metadata:  make(map[string]interface{}),
	}
}

// WithCorrelationID sets the correlation ID for event tracking
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithSession sets the session the event belongs to
func (e *Event) WithSession(sessionID string) *Event {
	e.SessionID = sessionID
	return e
}

// WithCall sets the bridged call id the event refers to
func (e *Event) WithCall(callID string) *Event {
	e.CallID = callID
	return e
}

// WithTool sets the tool name the event refers to
func (e *Event) WithTool(tool string) *Event {
	e.Tool = tool
	return e
}

// WithDescription sets a human-readable description
func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

// WithResult sets the result of the event
func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

// WithError records an error and marks the event failed
func (e *Event) WithError(err error) *Event {
	if err != nil {
		e.Error = err.Error()
		e.Result = ResultFailure
	}
	return e
}

// WithDuration records how long the audited action took
func (e *Event) WithDuration(d time.Duration) *Event {
	e.DurationMs = d.Milliseconds()
	return e
}

// WithMetadata attaches one metadata key
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	e.Metadata[key] = value
	return e
}

// GenerateCorrelationID returns a fresh correlation id for a request.
func GenerateCorrelationID() string {
	return uuid.New().String()
}
