//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"chatgraph/infrastructure/config"
)

// InfrastructureSet provides clients, storage and observability
var InfrastructureSet = wire.NewSet(
	ProvideLogger,
	ProvideDomainConfig,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideEventBridgeClient,
	ProvideCloudWatchClient,
	ProvideDynamoDBStore,
	ProvideStore,
	ProvideChatLocker,
	ProvideEventPublisher,
	ProvideOutboxProcessor,
	ProvideCache,
	ProvideCollector,
	ProvideMetrics,
	ProvideTracer,
)

// ApplicationSet provides the service and the buses
var ApplicationSet = wire.NewSet(
	ProvideChatAuthorizer,
	ProvideConversationService,
	ProvideCommandBus,
	ProvideQueryBus,
)

// InterfaceSet provides the HTTP surface
var InterfaceSet = wire.NewSet(
	ProvideErrorHandler,
	ProvideJWTValidator,
	ProvideRateLimiters,
	ProvideAuthenticator,
	ProvideChatHandler,
	ProvideConversationHandler,
	ProvideRouter,
	ProvideHTTPHandler,
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	InfrastructureSet,
	ApplicationSet,
	InterfaceSet,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container. The returned cleanup
// releases the store and the cache.
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil
}
