package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one inventory or workflow lifecycle change.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// EndpointID is the associated endpoint, if applicable.
	EndpointID string `json:"endpoint_id,omitempty"`

	// BladeDn is the associated blade, if applicable.
	BladeDn string `json:"blade_dn,omitempty"`

	// JobID is the associated workflow job, if applicable.
	JobID string `json:"job_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`
}

// EventType constants for common event types.
const (
	EventTypeEndpointAdded        = "endpoint.added"
	EventTypeEndpointRemoved      = "endpoint.removed"
	EventTypeSyncCompleted        = "inventory.synced"
	EventTypeSyncFailed           = "inventory.sync_failed"
	EventTypeBladeDiscovered      = "blade.discovered"
	EventTypeBladeDecommissioned  = "blade.decommissioned"
	EventTypeWorkflowStarted      = "workflow.started"
	EventTypeWorkflowConverged    = "workflow.converged"
	EventTypeWorkflowFailed       = "workflow.failed"
	EventTypeWorkflowTimedOut     = "workflow.timed_out"
	EventTypePolicyViolation      = "policy.violation"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventPublisher fans events out to subscribers and keeps a bounded
// history for inspection.
type EventPublisher struct {
	config      EventsConfig
	mu          sync.RWMutex
	subscribers []EventSubscriber
	history     []Event
}

// NewEventPublisher creates a new event publisher with the given
// configuration.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	return &EventPublisher{config: cfg}
}

// Subscribe registers a subscriber for all future events.
func (ep *EventPublisher) Subscribe(sub EventSubscriber) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, sub)
}

// Publish delivers an event to all subscribers. Subscribers run on the
// publisher's goroutine and must not block.
func (ep *EventPublisher) Publish(event Event) {
	if !ep.config.Enabled {
		return
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	ep.mu.Lock()
	ep.history = append(ep.history, event)
	if max := ep.config.HistorySize; max > 0 && len(ep.history) > max {
		ep.history = ep.history[len(ep.history)-max:]
	}
	subs := make([]EventSubscriber, len(ep.subscribers))
	copy(subs, ep.subscribers)
	ep.mu.Unlock()

	for _, sub := range subs {
		sub(event)
	}
}

// History returns a copy of the retained events, oldest first.
func (ep *EventPublisher) History() []Event {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	out := make([]Event, len(ep.history))
	copy(out, ep.history)
	return out
}
