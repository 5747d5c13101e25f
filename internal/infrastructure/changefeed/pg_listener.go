package changefeed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	domain "jan-server/services/dm-api/internal/domain/changefeed"
	"jan-server/services/dm-api/internal/domain/conversation"
	"jan-server/services/dm-api/internal/infrastructure/metrics"
)

const (
	sourcePostgres = "postgres"
	pingInterval   = 90 * time.Second
)

// MessageLoader reloads a row whose notification payload was truncated.
type MessageLoader interface {
	FindMessageByID(ctx context.Context, id string) (*conversation.Message, error)
}

// PGListener consumes the messages trigger over LISTEN/NOTIFY and hands every
// decoded change to a publisher. A dropped connection may lose notifications,
// so it reports the gap through onDisconnect.
type PGListener struct {
	dsn          string
	channel      string
	minReconnect time.Duration
	maxReconnect time.Duration
	publisher    domain.Publisher
	loader       MessageLoader
	onDisconnect func(error)
	log          zerolog.Logger

	listener  *pq.Listener
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// PGListenerConfig configures a PGListener.
type PGListenerConfig struct {
	DSN          string
	Channel      string
	MinReconnect time.Duration
	MaxReconnect time.Duration
}

// NewPGListener creates a listener. onDisconnect may be nil.
func NewPGListener(
	cfg PGListenerConfig,
	publisher domain.Publisher,
	loader MessageLoader,
	onDisconnect func(error),
	log zerolog.Logger,
) *PGListener {
	return &PGListener{
		dsn:          cfg.DSN,
		channel:      cfg.Channel,
		minReconnect: cfg.MinReconnect,
		maxReconnect: cfg.MaxReconnect,
		publisher:    publisher,
		loader:       loader,
		onDisconnect: onDisconnect,
		log:          log.With().Str("component", "pg-change-listener").Str("channel", cfg.Channel).Logger(),
		done:         make(chan struct{}),
	}
}

// Start connects, subscribes to the channel and begins the receive loop.
// Only the first call has an effect.
func (l *PGListener) Start(ctx context.Context) error {
	var err error
	l.startOnce.Do(func() {
		l.listener = pq.NewListener(l.dsn, l.minReconnect, l.maxReconnect, l.handleListenerEvent)
		if err = l.listener.Listen(l.channel); err != nil {
			_ = l.listener.Close()
			return
		}
		l.wg.Add(1)
		go l.run(ctx)
		l.log.Info().Msg("change listener started")
	})
	return err
}

// Stop closes the connection and waits for the loop to exit.
func (l *PGListener) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
		if l.listener != nil {
			if err := l.listener.Close(); err != nil {
				l.log.Warn().Err(err).Msg("failed to close listener")
			}
		}
		l.log.Info().Msg("change listener stopped")
	})
}

func (l *PGListener) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Debug().Msg("context cancelled, shutting down change listener")
			return
		case <-l.done:
			l.log.Debug().Msg("done signal received, shutting down change listener")
			return
		case n, ok := <-l.listener.Notify:
			if !ok {
				return
			}
			// A nil notification marks a re-established connection.
			if n == nil {
				continue
			}
			l.handleNotification(ctx, n.Extra)
		case <-ticker.C:
			go func() {
				if err := l.listener.Ping(); err != nil {
					l.log.Warn().Err(err).Msg("listener ping failed")
				}
			}()
		}
	}
}

func (l *PGListener) handleListenerEvent(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventConnected:
		l.log.Info().Msg("listener connected")
	case pq.ListenerEventDisconnected:
		metrics.FeedReconnects.WithLabelValues(sourcePostgres).Inc()
		l.log.Warn().Err(err).Msg("listener disconnected")
		if l.onDisconnect != nil {
			if err == nil {
				err = errors.New("listener disconnected")
			}
			l.onDisconnect(err)
		}
	case pq.ListenerEventReconnected:
		l.log.Info().Msg("listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		l.log.Warn().Err(err).Msg("listener connection attempt failed")
	}
}

// handleNotification decodes one payload, reloads truncated rows and publishes.
func (l *PGListener) handleNotification(ctx context.Context, payload string) {
	event, err := domain.Decode([]byte(payload))
	if err != nil {
		metrics.RecordEventDropped(sourcePostgres, "malformed")
		l.log.Warn().Err(err).Int("payload_bytes", len(payload)).Msg("dropping malformed change payload")
		return
	}

	if event.Truncated && event.Type != domain.EventDelete {
		msg, err := l.loader.FindMessageByID(ctx, event.Row.ID)
		if err != nil {
			metrics.RecordEventDropped(sourcePostgres, "reload_failed")
			l.log.Warn().Err(err).Str("message_id", event.Row.ID).Msg("failed to reload truncated change")
			return
		}
		event.Row = *msg
		event.Truncated = false
	}

	metrics.RecordEventPublished(sourcePostgres, string(event.Type))
	if err := l.publisher.Publish(ctx, event); err != nil {
		metrics.RecordEventDropped(sourcePostgres, "publish_failed")
		l.log.Warn().Err(err).Str("message_id", event.Row.ID).Msg("failed to publish change")
	}
}
