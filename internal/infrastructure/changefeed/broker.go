// Package changefeed delivers committed message changes to per-conversation
// subscribers, sourced from Postgres LISTEN/NOTIFY or a redis relay.
package changefeed

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	domain "jan-server/services/dm-api/internal/domain/changefeed"
	"jan-server/services/dm-api/internal/domain/conversation"
	"jan-server/services/dm-api/internal/infrastructure/metrics"
)

const sourceBroker = "broker"

// ErrBrokerClosed is returned by Subscribe after Close.
var ErrBrokerClosed = errors.New("change broker closed")

// Broker is the in-process bus. Each subscriber owns a bounded buffer and a
// delivery goroutine, so Publish never waits on a slow sink.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]map[uint64]*subscriber
	nextID uint64
	closed bool
	buffer int
	wg     sync.WaitGroup
	log    zerolog.Logger
}

var (
	_ domain.Bus       = (*Broker)(nil)
	_ domain.Publisher = (*Broker)(nil)
)

// NewBroker creates a broker whose subscribers buffer up to buffer events.
func NewBroker(buffer int, log zerolog.Logger) *Broker {
	if buffer <= 0 {
		buffer = 1
	}
	return &Broker{
		subs:   make(map[string]map[uint64]*subscriber),
		buffer: buffer,
		log:    log.With().Str("component", "change-broker").Logger(),
	}
}

// Subscribe implements changefeed.Bus. SUBSCRIBED is delivered asynchronously.
func (b *Broker) Subscribe(ctx context.Context, conversationID string, sink domain.Sink) (domain.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, conversation.NewSubscriptionError(ctx, conversationID, "subscribe cancelled", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, conversation.NewSubscriptionError(ctx, conversationID, "subscribe failed", ErrBrokerClosed)
	}

	b.nextID++
	sub := &subscriber{
		id:             b.nextID,
		conversationID: conversationID,
		sink:           sink,
		events:         make(chan domain.Event, b.buffer),
		done:           make(chan struct{}),
		broker:         b,
	}
	if b.subs[conversationID] == nil {
		b.subs[conversationID] = make(map[uint64]*subscriber)
	}
	b.subs[conversationID][sub.id] = sub
	metrics.RecordSubscriptionOpened()

	b.wg.Add(1)
	go sub.run(&b.wg)

	b.log.Debug().Str("conversation_id", conversationID).Uint64("subscriber", sub.id).Msg("subscriber registered")
	return sub, nil
}

// Publish implements changefeed.Publisher. A subscriber whose buffer is full
// is failed with CHANNEL_ERROR and released; the others are unaffected.
func (b *Broker) Publish(ctx context.Context, event domain.Event) error {
	conversationID := event.Row.ConversationID

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}
	metrics.RecordEventPublished(sourceBroker, string(event.Type))

	for id, sub := range b.subs[conversationID] {
		select {
		case sub.events <- event:
		default:
			b.removeLocked(sub)
			metrics.RecordEventDropped(sourceBroker, "overflow")
			b.log.Warn().
				Str("conversation_id", conversationID).
				Uint64("subscriber", id).
				Msg("subscriber buffer full, dropping subscription")
			sub.stop(domain.StatusChannelError, conversation.NewSubscriptionError(ctx, conversationID, "subscriber buffer overflow", nil))
		}
	}
	return nil
}

// Fail terminates every subscription with CHANNEL_ERROR. It is used when the
// upstream feed lost events, so viewers must reopen and backfill.
func (b *Broker) Fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := 0
	for _, byID := range b.subs {
		for _, sub := range byID {
			b.removeLocked(sub)
			sub.stop(domain.StatusChannelError, conversation.NewSubscriptionError(context.Background(), sub.conversationID, "change feed interrupted", err))
			count++
		}
	}
	if count > 0 {
		b.log.Warn().Err(err).Int("subscribers", count).Msg("failed all subscriptions")
	}
}

// SubscriberCount returns the live subscribers of a conversation.
func (b *Broker) SubscriberCount(conversationID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[conversationID])
}

// Close stops every subscription with CLOSED and waits for delivery goroutines.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, byID := range b.subs {
		for _, sub := range byID {
			b.removeLocked(sub)
			sub.stop(domain.StatusClosed, nil)
		}
	}
	b.mu.Unlock()

	b.wg.Wait()
	b.log.Info().Msg("change broker closed")
}

func (b *Broker) removeLocked(sub *subscriber) {
	byID, ok := b.subs[sub.conversationID]
	if !ok {
		return
	}
	if _, ok := byID[sub.id]; !ok {
		return
	}
	delete(byID, sub.id)
	if len(byID) == 0 {
		delete(b.subs, sub.conversationID)
	}
	metrics.RecordSubscriptionClosed()
}

func (b *Broker) unsubscribe(sub *subscriber) {
	b.mu.Lock()
	b.removeLocked(sub)
	b.mu.Unlock()
	sub.stop(domain.StatusClosed, nil)
}

type subscriber struct {
	id             uint64
	conversationID string
	sink           domain.Sink
	events         chan domain.Event
	done           chan struct{}
	broker         *Broker

	stopOnce  sync.Once
	endStatus domain.Status
	endErr    error
}

// Unsubscribe implements changefeed.Subscription.
func (s *subscriber) Unsubscribe() {
	s.broker.unsubscribe(s)
}

func (s *subscriber) stop(status domain.Status, err error) {
	s.stopOnce.Do(func() {
		s.endStatus = status
		s.endErr = err
		close(s.done)
	})
}

func (s *subscriber) run(wg *sync.WaitGroup) {
	defer wg.Done()

	s.sink.HandleStatus(domain.StatusSubscribed, nil)
	for {
		select {
		case <-s.done:
			s.sink.HandleStatus(s.endStatus, s.endErr)
			return
		case event := <-s.events:
			select {
			case <-s.done:
				s.sink.HandleStatus(s.endStatus, s.endErr)
				return
			default:
			}
			s.sink.HandleEvent(event)
		}
	}
}
