//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"chronicle/application/ports"
	"chronicle/infrastructure/config"
	"chronicle/infrastructure/persistence/dynamodb"
)

// SuperSet wires the DynamoDB deployment. The memory backend is only
// for local runs and tests, so NewContainer handles that by hand.
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideEventBridgeClient,
	ProvideCodec,
	ProvideDynamoEventStore,
	wire.Bind(new(ports.EventStore), new(*dynamodb.DynamoDBEventStore)),
	ProvideEventPublisher,
	ProvideDistributedLock,
	wire.Bind(new(ports.Locker), new(*dynamodb.DistributedLock)),
	ProvideOutboxProcessor,
	ProvideRateLimiters,
	ProvideJWTValidator,
	ProvideHookManager,
	ProvideProjectRepository,
	ProvideCommandBus,
	ProvideQueryBus,
	ProvideInMemoryCache,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	wire.Build(SuperSet)
	return nil, nil // Wire will replace this
}
