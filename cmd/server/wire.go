//go:build wireinject
// +build wireinject

package main

import (
	"context"

	"github.com/google/wire"
	"github.com/rs/zerolog"

	"jan-server/services/dm-api/internal/config"
	"jan-server/services/dm-api/internal/infrastructure/auth"
	"jan-server/services/dm-api/internal/interfaces/httpserver"
	"jan-server/services/dm-api/internal/interfaces/httpserver/handlers"
)

// ProviderSet is the wire provider set for the application.
var ProviderSet = wire.NewSet(
	// Infrastructure providers
	ProvideBroker,
	ProvideBus,
	ProvideStorage,
	ProvideReadiness,

	// Domain providers
	ProvideIngestService,
	ProvideDirectoryService,

	// Interface providers
	handlers.HandlerProvider,
	httpserver.New,

	// Application
	ProvideApplication,
)

// CreateApplication creates the application with all dependencies wired.
func CreateApplication(
	ctx context.Context,
	cfg *config.Config,
	authValidator *auth.Validator,
	log zerolog.Logger,
) (*Application, error) {
	wire.Build(ProviderSet)
	return nil, nil
}
