package entities

import "time"

// EventKind names a lifecycle event published by the manager.
type EventKind string

const (
	// EventExtensionLoaded is published after a successful load.
	EventExtensionLoaded EventKind = "extension.loaded"

	// EventExtensionUnloaded is published after an unload.
	EventExtensionUnloaded EventKind = "extension.unloaded"

	// EventExtensionFailed is published when a restart budget is
	// exhausted. It fires once per incident, not per subsequent call.
	EventExtensionFailed EventKind = "extension.failed"

	// EventExtensionRestarted is published after a successful restart.
	EventExtensionRestarted EventKind = "extension.restarted"
)

// Event is a lifecycle notification. Subscribers must not block; slow
// sinks drop events rather than stalling the manager.
type Event struct {
	Kind      EventKind      `json:"kind"`
	Extension string         `json:"extension"`
	ID        ExtensionID    `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// NewEvent creates an Event stamped with the current time.
func NewEvent(kind EventKind, name string, id ExtensionID) Event {
	return Event{
		Kind:      kind,
		Extension: name,
		ID:        id,
		Timestamp: time.Now(),
	}
}

// WithDetail returns a copy of the Event with one detail entry added.
func (e Event) WithDetail(key string, value any) Event {
	detail := make(map[string]any, len(e.Detail)+1)
	for k, v := range e.Detail {
		detail[k] = v
	}
	detail[key] = value
	e.Detail = detail
	return e
}
