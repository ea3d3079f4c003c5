// Package outbox declares the ports of the post-commit side-effect queue.
package outbox

import "context"

type Event interface {
	EventName() string
}

// Keyed is implemented by events that belong to one aggregate, such as an order or a product.
type Keyed interface {
	AggregateID() string
}

// AggregateID returns the aggregate of e, or "" when e is not Keyed.
func AggregateID(e Event) string {
	if k, ok := e.(Keyed); ok {
		return k.AggregateID()
	}
	return ""
}

type Handler func(ctx context.Context, e Event) error

// Publisher enqueues an event. It must only be called once the state change the event describes
// has been committed.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Subscriber registers handlers by event name. Each handler is retried on its own.
type Subscriber interface {
	Subscribe(eventName string, h Handler)
}
