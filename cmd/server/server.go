// @title           DM API
// @version         1.0
// @description     Direct messaging between two users.
// @description     Provides conversations, message ingest and a live change feed per conversation.

// @contact.name   Jan Team
// @contact.url    https://github.com/janhq/jan-server

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8190
// @BasePath  /v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token from Keycloak

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"jan-server/services/dm-api/internal/config"
	"jan-server/services/dm-api/internal/domain/changefeed"
	"jan-server/services/dm-api/internal/domain/conversation"
	"jan-server/services/dm-api/internal/domain/directory"
	"jan-server/services/dm-api/internal/domain/ingest"
	"jan-server/services/dm-api/internal/infrastructure/auth"
	feed "jan-server/services/dm-api/internal/infrastructure/changefeed"
	"jan-server/services/dm-api/internal/infrastructure/database"
	"jan-server/services/dm-api/internal/infrastructure/logger"
	"jan-server/services/dm-api/internal/infrastructure/observability"
	"jan-server/services/dm-api/internal/infrastructure/redisclient"
	"jan-server/services/dm-api/internal/infrastructure/repository/conversationrepo"
	"jan-server/services/dm-api/internal/interfaces/httpserver"
	"jan-server/services/dm-api/internal/interfaces/httpserver/handlers"
)

// Worker is a background component with a start/stop lifecycle.
type Worker interface {
	Start(ctx context.Context) error
	Stop()
}

// Application holds the main application components.
type Application struct {
	httpServer *httpserver.HTTPServer
	broker     *feed.Broker
	workers    []Worker
	cleanup    []func()
	log        zerolog.Logger
}

// NewApplication creates a new application instance.
func NewApplication(httpServer *httpserver.HTTPServer, broker *feed.Broker, workers []Worker, log zerolog.Logger) *Application {
	return &Application{
		httpServer: httpServer,
		broker:     broker,
		workers:    workers,
		log:        log,
	}
}

// Start runs the change feed workers and the HTTP server until ctx is cancelled.
func (a *Application) Start(ctx context.Context) error {
	defer func() {
		for i := len(a.cleanup) - 1; i >= 0; i-- {
			a.cleanup[i]()
		}
	}()

	started := make([]Worker, 0, len(a.workers))
	defer func() {
		for i := len(started) - 1; i >= 0; i-- {
			started[i].Stop()
		}
		a.broker.Close()
	}()
	for _, w := range a.workers {
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start change feed: %w", err)
		}
		started = append(started, w)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.httpServer.Run(gctx)
	})
	return g.Wait()
}

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Setup(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize observability")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown telemetry")
		}
	}()

	authValidator, err := auth.NewValidator(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize auth validator")
	}
	defer authValidator.Close()

	app, err := buildApplication(ctx, cfg, authValidator, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build application")
	}

	log.Info().
		Str("service", cfg.ServiceName).
		Int("port", cfg.HTTPPort).
		Str("environment", cfg.Environment).
		Str("store", cfg.StoreDriver).
		Str("fanout", cfg.FanoutDriver).
		Msg("starting application")

	if err := app.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("application stopped with error")
	}

	log.Info().Msg("application exited cleanly")
}

// Storage is the selected store with the change feed workers that serve it.
type Storage struct {
	Store   conversation.Store
	Workers []Worker
	Checks  []httpserver.ReadinessCheck
	Cleanup func()
}

func buildApplication(ctx context.Context, cfg *config.Config, authValidator *auth.Validator, log zerolog.Logger) (*Application, error) {
	broker := ProvideBroker(cfg, log)
	storage, err := ProvideStorage(ctx, cfg, broker, log)
	if err != nil {
		return nil, err
	}
	ingestService, err := ProvideIngestService(storage, cfg, log)
	if err != nil {
		return nil, err
	}
	directoryService := ProvideDirectoryService(storage, log)

	handlerProvider := handlers.NewProvider(
		handlers.NewConversationHandler(directoryService),
		handlers.NewMessageHandler(directoryService, ingestService),
		handlers.NewStreamHandler(directoryService, ProvideBus(broker), cfg, log),
	)
	httpServer := httpserver.New(cfg, log, handlerProvider, authValidator, ProvideReadiness(storage))
	return ProvideApplication(httpServer, broker, storage, log), nil
}

// ProvideBroker provides the in-process change feed broker.
func ProvideBroker(cfg *config.Config, log zerolog.Logger) *feed.Broker {
	return feed.NewBroker(cfg.SubscriberBuffer, log)
}

// ProvideBus exposes the broker to view sessions.
func ProvideBus(broker *feed.Broker) changefeed.Bus {
	return broker
}

// ProvideStorage selects the store and wires its change feed into broker.
func ProvideStorage(ctx context.Context, cfg *config.Config, broker *feed.Broker, log zerolog.Logger) (*Storage, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		if cfg.FanoutDriver == config.FanoutDriverRedis {
			log.Warn().Msg("memory store is process local, ignoring redis fan-out")
		}
		return &Storage{Store: conversationrepo.NewMemoryRepository(broker, log), Cleanup: func() {}}, nil
	}

	db, err := database.Connect(database.Config{
		DSN:             cfg.DatabaseURL,
		ReadDSN:         cfg.ReadReplicaURL,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
	}, log)
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(ctx, db, cfg.ChangefeedChannel, log); err != nil {
		return nil, err
	}
	repo := conversationrepo.NewPostgresRepository(db)

	workers, checks, closeFeed, err := buildChangefeed(ctx, cfg, broker, repo, log)
	if err != nil {
		return nil, err
	}
	checks = append([]httpserver.ReadinessCheck{func(context.Context) error { return database.Ping(db) }}, checks...)
	return &Storage{Store: repo, Workers: workers, Checks: checks, Cleanup: closeFeed}, nil
}

// ProvideIngestService provides ingest over the participant cache when enabled.
func ProvideIngestService(storage *Storage, cfg *config.Config, log zerolog.Logger) (ingest.Service, error) {
	store := storage.Store
	if cfg.ParticipantCacheSize > 0 {
		cached, err := conversationrepo.NewCachedStore(store, cfg.ParticipantCacheSize)
		if err != nil {
			return nil, err
		}
		store = cached
	}
	return ingest.NewService(store, log), nil
}

// ProvideDirectoryService provides the conversation directory.
func ProvideDirectoryService(storage *Storage, log zerolog.Logger) directory.Service {
	return directory.NewService(storage.Store, log)
}

// ProvideReadiness combines the storage checks.
func ProvideReadiness(storage *Storage) httpserver.ReadinessCheck {
	return readiness(storage.Checks)
}

// ProvideApplication assembles the application.
func ProvideApplication(httpServer *httpserver.HTTPServer, broker *feed.Broker, storage *Storage, log zerolog.Logger) *Application {
	app := NewApplication(httpServer, broker, storage.Workers, log)
	app.cleanup = append(app.cleanup, storage.Cleanup)
	return app
}

// buildChangefeed wires the Postgres change listener into the local broker,
// directly or through the redis fan-out with an elected relay.
func buildChangefeed(
	ctx context.Context,
	cfg *config.Config,
	broker *feed.Broker,
	loader feed.MessageLoader,
	log zerolog.Logger,
) ([]Worker, []httpserver.ReadinessCheck, func(), error) {
	listenerCfg := feed.PGListenerConfig{
		DSN:          cfg.DatabaseURL,
		Channel:      cfg.ChangefeedChannel,
		MinReconnect: cfg.ChangefeedMinReconnect,
		MaxReconnect: cfg.ChangefeedMaxReconnect,
	}

	if cfg.FanoutDriver == config.FanoutDriverLocal {
		listener := feed.NewPGListener(listenerCfg, broker, loader, broker.Fail, log)
		return []Worker{listener}, nil, func() {}, nil
	}

	client, err := redisclient.New(ctx, redisclient.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, log)
	if err != nil {
		return nil, nil, nil, err
	}
	closeClient := func() {
		if err := client.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	check := func(ctx context.Context) error { return client.Ping(ctx).Err() }

	fanout := feed.NewRedisFanout(client, cfg.RedisChannelPrefix, broker, broker.Fail, log)
	workers := []Worker{fanout}

	if cfg.ChangefeedRelay {
		announceGap := func(err error) {
			fanout.PublishGap(context.Background(), err.Error())
		}
		newRelay := func() feed.Relay {
			return feed.NewPGListener(listenerCfg, changefeed.Publisher(fanout), loader, announceGap, log)
		}
		onElected := func(ctx context.Context) {
			fanout.PublishGap(ctx, "relay handover")
		}
		workers = append(workers, electorWorker{feed.NewRelayElector(client, cfg.RelayLockTTL, newRelay, onElected, log)})
	}

	return workers, []httpserver.ReadinessCheck{check}, closeClient, nil
}

type electorWorker struct {
	*feed.RelayElector
}

func (w electorWorker) Start(ctx context.Context) error {
	w.RelayElector.Start(ctx)
	return nil
}

func readiness(checks []httpserver.ReadinessCheck) httpserver.ReadinessCheck {
	return func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func loadEnvFiles() {
	paths := []string{".env", "../.env", "../../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
