package ports

import "github.com/gantry-dev/gantry/domain/entities"

// EventSink receives lifecycle events published by the manager. Publish must
// not block; implementations drop events rather than stalling the caller.
type EventSink interface {
	Publish(event entities.Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(event entities.Event)

// Publish implements EventSink.
func (f EventSinkFunc) Publish(event entities.Event) {
	f(event)
}
