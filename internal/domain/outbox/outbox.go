// Package outbox declares the event publishing contracts the payment
// lifecycle emits through. Implementations live under infrastructure.
package outbox

import "context"

// Event is a domain event identified by name, e.g. "payment.captured".
type Event interface {
	EventName() string
}

// Handler consumes one published event. A returned error is reported by the
// bus but does not stop delivery to other handlers.
type Handler func(ctx context.Context, e Event) error

// Publisher delivers events to whoever subscribed to their name.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Subscriber registers a handler for one event name.
type Subscriber interface {
	Subscribe(eventName string, h Handler)
}
