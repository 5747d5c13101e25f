package changefeed

import "context"

// Status is a subscription lifecycle signal delivered to a Sink.
type Status string

const (
	StatusSubscribed   Status = "SUBSCRIBED"
	StatusChannelError Status = "CHANNEL_ERROR"
	StatusTimedOut     Status = "TIMED_OUT"
	StatusClosed       Status = "CLOSED"
)

// Sink receives events and lifecycle signals for one subscription.
// Calls for a single subscription are never concurrent.
type Sink interface {
	HandleEvent(event Event)
	HandleStatus(status Status, err error)
}

// Subscription is a live registration on a Bus.
type Subscription interface {
	// Unsubscribe releases the subscription. It is safe to call more than once
	// and after the transport has already dropped.
	Unsubscribe()
}

// Bus hands out per-conversation subscriptions.
type Bus interface {
	Subscribe(ctx context.Context, conversationID string, sink Sink) (Subscription, error)
}

// Publisher accepts committed changes for fan-out. Publish must not block on subscribers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event Event) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}
