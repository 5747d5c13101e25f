package changefeed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	domain "jan-server/services/dm-api/internal/domain/changefeed"
	"jan-server/services/dm-api/internal/infrastructure/metrics"
)

const (
	sourceRedis = "redis"
	// gapSuffix names the control channel used to announce lost notifications.
	gapSuffix = "!gap"

	minReceiveBackoff = 50 * time.Millisecond
	maxReceiveBackoff = 2 * time.Second
)

// RedisFanout relays change events between instances over redis pub/sub.
// Publish sends to prefix+conversationID; the receive loop pattern-subscribes
// to prefix+"*" and hands each event to the local publisher.
type RedisFanout struct {
	client redis.UniversalClient
	prefix string
	local  domain.Publisher
	onGap  func(error)
	log    zerolog.Logger

	pubsub    *redis.PubSub
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	closeOnce sync.Once
}

var _ domain.Publisher = (*RedisFanout)(nil)

// NewRedisFanout creates a relay that delivers received events to local.
// onGap is called on every instance when a relay announces lost notifications,
// and locally when this instance's own subscription drops or is restored. It may be nil.
func NewRedisFanout(client redis.UniversalClient, prefix string, local domain.Publisher, onGap func(error), log zerolog.Logger) *RedisFanout {
	return &RedisFanout{
		client: client,
		prefix: prefix,
		local:  local,
		onGap:  onGap,
		log:    log.With().Str("component", "redis-fanout").Logger(),
		done:   make(chan struct{}),
	}
}

// PublishGap tells every instance that notifications may have been lost.
func (f *RedisFanout) PublishGap(ctx context.Context, reason string) {
	if err := f.client.Publish(ctx, f.prefix+gapSuffix, reason).Err(); err != nil {
		f.log.Warn().Err(err).Str("reason", reason).Msg("failed to announce change feed gap")
	}
}

// Publish implements changefeed.Publisher.
func (f *RedisFanout) Publish(ctx context.Context, event domain.Event) error {
	payload, err := domain.Encode(event)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel(event.Row.ConversationID), payload).Err(); err != nil {
		metrics.RecordEventDropped(sourceRedis, "publish_failed")
		return fmt.Errorf("publish change event: %w", err)
	}
	metrics.RecordEventPublished(sourceRedis, string(event.Type))
	return nil
}

// Start subscribes and waits for the subscription to be confirmed before
// running the receive loop. Only the first call has an effect.
func (f *RedisFanout) Start(ctx context.Context) error {
	var err error
	f.startOnce.Do(func() {
		f.pubsub = f.client.PSubscribe(ctx, f.prefix+"*")
		if _, err = f.pubsub.Receive(ctx); err != nil {
			f.closePubSub()
			err = fmt.Errorf("subscribe to %s*: %w", f.prefix, err)
			return
		}
		f.wg.Add(2)
		go f.run(ctx)
		go f.closeOnCancel(ctx)
		f.log.Info().Str("pattern", f.prefix+"*").Msg("redis fan-out started")
	})
	return err
}

// Stop closes the subscription and waits for the loop to exit.
func (f *RedisFanout) Stop() {
	f.stopOnce.Do(func() {
		close(f.done)
		if f.pubsub != nil {
			f.closePubSub()
		}
		f.wg.Wait()
		f.log.Info().Msg("redis fan-out stopped")
	})
}

func (f *RedisFanout) closePubSub() {
	f.closeOnce.Do(func() {
		if err := f.pubsub.Close(); err != nil {
			f.log.Warn().Err(err).Msg("failed to close redis subscription")
		}
	})
}

// closeOnCancel unblocks Receive when ctx ends before Stop is called.
func (f *RedisFanout) closeOnCancel(ctx context.Context) {
	defer f.wg.Done()
	select {
	case <-ctx.Done():
		f.closePubSub()
	case <-f.done:
	}
}

// run reads the subscription directly so connection loss is visible. go-redis
// resubscribes on the next Receive after a failure; anything published in
// between is gone, so both the drop and the renewed confirmation count as gaps.
// The second one fails subscribers that joined during the outage.
func (f *RedisFanout) run(ctx context.Context) {
	defer f.wg.Done()

	lost := false
	backoff := minReceiveBackoff
	for {
		msg, err := f.pubsub.Receive(ctx)
		if err != nil {
			if f.stopping(ctx) || errors.Is(err, redis.ErrClosed) {
				return
			}
			if !lost {
				lost = true
				metrics.FeedReconnects.WithLabelValues(sourceRedis).Inc()
				f.log.Warn().Err(err).Msg("redis subscription lost")
				f.reportGap(fmt.Errorf("redis subscription lost: %w", err))
			}
			select {
			case <-ctx.Done():
				return
			case <-f.done:
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxReceiveBackoff)
			continue
		}

		switch m := msg.(type) {
		case *redis.Subscription:
			lost = false
			backoff = minReceiveBackoff
			f.log.Info().Str("pattern", m.Channel).Msg("redis subscription restored")
			f.reportGap(errors.New("redis subscription restored after a disconnect"))
		case *redis.Message:
			f.handleMessage(ctx, m.Channel, m.Payload)
		}
	}
}

func (f *RedisFanout) stopping(ctx context.Context) bool {
	select {
	case <-f.done:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (f *RedisFanout) reportGap(err error) {
	if f.onGap != nil {
		f.onGap(err)
	}
}

func (f *RedisFanout) handleMessage(ctx context.Context, channel, payload string) {
	if channel == f.prefix+gapSuffix {
		f.log.Warn().Str("reason", payload).Msg("relay announced a change feed gap")
		f.reportGap(errors.New("change feed gap: " + payload))
		return
	}

	event, err := domain.Decode([]byte(payload))
	if err != nil {
		metrics.RecordEventDropped(sourceRedis, "malformed")
		f.log.Warn().Err(err).Str("channel", channel).Msg("dropping malformed relayed event")
		return
	}
	if strings.TrimPrefix(channel, f.prefix) != event.Row.ConversationID {
		metrics.RecordEventDropped(sourceRedis, "channel_mismatch")
		f.log.Warn().Str("channel", channel).Str("conversation_id", event.Row.ConversationID).Msg("dropping event relayed on the wrong channel")
		return
	}
	if err := f.local.Publish(ctx, event); err != nil {
		f.log.Warn().Err(err).Str("conversation_id", event.Row.ConversationID).Msg("failed to deliver relayed event")
	}
}

func (f *RedisFanout) channel(conversationID string) string {
	return f.prefix + conversationID
}
