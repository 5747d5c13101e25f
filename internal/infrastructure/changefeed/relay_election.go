package changefeed

import (
	"context"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"jan-server/services/dm-api/internal/utils/idgen"
)

// RelayLockName is the redis key guarding the single active relay.
const RelayLockName = "dm:changefeed:relay"

// Relay is a feed source that can be started and stopped once.
type Relay interface {
	Start(ctx context.Context) error
	Stop()
}

// RelayElector runs at most one relay across instances. The instance holding
// the redsync mutex runs a fresh relay per term and stops it when the lock
// cannot be extended.
type RelayElector struct {
	mutex    *redsync.Mutex
	ttl      time.Duration
	newRelay func() Relay
	// onElected runs after a relay starts; notifications committed during the
	// handover were not relayed by anyone.
	onElected func(ctx context.Context)
	nodeID    string
	log       zerolog.Logger

	mu      sync.Mutex
	current Relay

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewRelayElector creates an elector that builds relays with newRelay. onElected may be nil.
func NewRelayElector(
	client redis.UniversalClient,
	ttl time.Duration,
	newRelay func() Relay,
	onElected func(ctx context.Context),
	log zerolog.Logger,
) *RelayElector {
	rs := redsync.New(goredis.NewPool(client))
	nodeID, err := idgen.GenerateSecureID("relay", 12)
	if err != nil {
		nodeID = "relay_unknown"
	}
	return &RelayElector{
		mutex:     rs.NewMutex(RelayLockName, redsync.WithExpiry(ttl), redsync.WithTries(1)),
		ttl:       ttl,
		newRelay:  newRelay,
		onElected: onElected,
		nodeID:    nodeID,
		log:       log.With().Str("component", "relay-elector").Str("node_id", nodeID).Logger(),
		done:      make(chan struct{}),
	}
}

// Start begins campaigning in the background.
func (e *RelayElector) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		e.wg.Add(1)
		go e.run(ctx)
		e.log.Info().Dur("ttl", e.ttl).Msg("relay elector started")
	})
}

// Stop steps down, releasing the lock if held.
func (e *RelayElector) Stop() {
	e.stopOnce.Do(func() {
		close(e.done)
		e.wg.Wait()
		e.log.Info().Msg("relay elector stopped")
	})
}

// Leading reports whether this instance currently runs the relay.
func (e *RelayElector) Leading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

func (e *RelayElector) run(ctx context.Context) {
	defer e.wg.Done()
	defer e.stepDown(true)

	ticker := time.NewTicker(e.ttl / 3)
	defer ticker.Stop()

	e.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *RelayElector) tick(ctx context.Context) {
	if e.Leading() {
		ok, err := e.mutex.ExtendContext(ctx)
		if err != nil || !ok {
			e.log.Warn().Err(err).Msg("lost relay lock")
			e.stepDown(false)
		}
		return
	}

	if err := e.mutex.TryLockContext(ctx); err != nil {
		e.log.Debug().Err(err).Msg("relay lock held elsewhere")
		return
	}

	relay := e.newRelay()
	if err := relay.Start(ctx); err != nil {
		e.log.Error().Err(err).Msg("failed to start relay")
		if _, unlockErr := e.mutex.UnlockContext(ctx); unlockErr != nil {
			e.log.Warn().Err(unlockErr).Msg("failed to release relay lock")
		}
		return
	}

	e.mu.Lock()
	e.current = relay
	e.mu.Unlock()
	e.log.Info().Msg("acquired relay lock")

	if e.onElected != nil {
		e.onElected(ctx)
	}
}

func (e *RelayElector) stepDown(release bool) {
	e.mu.Lock()
	relay := e.current
	e.current = nil
	e.mu.Unlock()

	if relay == nil {
		return
	}
	relay.Stop()
	if release {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := e.mutex.UnlockContext(ctx); err != nil {
			e.log.Warn().Err(err).Msg("failed to release relay lock")
		}
	}
	e.log.Info().Msg("stepped down as relay")
}
