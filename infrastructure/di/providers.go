package di

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"

	"chronicle/application/commands/bus"
	"chronicle/application/ports"
	"chronicle/application/queries"
	querybus "chronicle/application/queries/bus"
	"chronicle/application/repository"
	"chronicle/domain/aggregate"
	"chronicle/domain/events"
	"chronicle/domain/projectboard"
	"chronicle/infrastructure/config"
	"chronicle/infrastructure/messaging/eventbridge"
	"chronicle/infrastructure/persistence/dynamodb"
	"chronicle/infrastructure/persistence/memory"
	"chronicle/pkg/auth"
	"chronicle/pkg/extensions"
)

// Container holds all application dependencies
type Container struct {
	Config      *config.Config
	Logger      *zap.Logger
	Codec       *events.Codec
	EventStore  ports.EventStore
	Publisher   ports.EventPublisher
	Locker      ports.Locker
	Hooks       *extensions.HookManager
	Projects    *repository.AggregateRepository
	CommandBus  *bus.CommandBus
	QueryBus    *querybus.QueryBus
	Cache       ports.Cache
	Validator   *auth.JWTValidator
	IPLimiter   *auth.IPRateLimiter
	UserLimiter *auth.UserRateLimiter
	Outbox      *dynamodb.OutboxProcessor
}

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideCodec creates the event codec with every known event type
func ProvideCodec() (*events.Codec, error) {
	codec := events.NewCodec()
	if err := projectboard.RegisterCodec(codec); err != nil {
		return nil, err
	}
	return codec, nil
}

// ProvideDynamoEventStore creates the DynamoDB-backed event store
func ProvideDynamoEventStore(client *awsdynamodb.Client, cfg *config.Config, codec *events.Codec) *dynamodb.DynamoDBEventStore {
	return dynamodb.NewDynamoDBEventStore(client, cfg.DynamoDBTable, codec, projectboard.DecodeState)
}

// ProvideEventPublisher creates the EventBridge publisher
func ProvideEventPublisher(client *awseventbridge.Client, cfg *config.Config, logger *zap.Logger) ports.EventPublisher {
	return eventbridge.NewEventBridgePublisher(client, cfg.EventBusName, cfg.EventSource, logger)
}

// ProvideOutboxProcessor creates the outbox processor draining pending
// events to the publisher
func ProvideOutboxProcessor(store *dynamodb.DynamoDBEventStore, publisher ports.EventPublisher, logger *zap.Logger) *dynamodb.OutboxProcessor {
	return dynamodb.NewOutboxProcessor(store, publisher, logger)
}

// ProvideDistributedLock creates the cross-process dispatch lock
func ProvideDistributedLock(client *awsdynamodb.Client, cfg *config.Config, logger *zap.Logger) *dynamodb.DistributedLock {
	return dynamodb.NewDistributedLock(client, cfg.DynamoDBTable, logger)
}

// ProvideRateLimiters creates DynamoDB-backed rate limiters so limits
// hold across server instances
func ProvideRateLimiters(client *awsdynamodb.Client, cfg *config.Config) (*auth.IPRateLimiter, *auth.UserRateLimiter) {
	return auth.NewIPRateLimiterWith(auth.NewDistributedRateLimiter(client, cfg.DynamoDBTable, 100, time.Minute)),
		auth.NewUserRateLimiterWith(auth.NewDistributedRateLimiter(client, cfg.DynamoDBTable, 200, time.Minute))
}

// ProvideJWTValidator creates the token validator guarding the API
func ProvideJWTValidator(cfg *config.Config) (*auth.JWTValidator, error) {
	secret := cfg.JWTSecret
	if secret == "" {
		// Production validation rejects an empty secret before this point
		secret = "development-secret-change-in-production"
	}

	return auth.NewJWTValidator(auth.JWTConfig{
		SigningMethod: "HS256",
		SecretKey:     secret,
		Issuer:        cfg.JWTIssuer,
	})
}

// ProvideHookManager creates the dispatch lifecycle hook registry
func ProvideHookManager() *extensions.HookManager {
	return extensions.NewHookManager()
}

// ProvideProjectRepository creates the aggregate repository for projects
func ProvideProjectRepository(
	cfg *config.Config,
	store ports.EventStore,
	publisher ports.EventPublisher,
	locker ports.Locker,
	hooks *extensions.HookManager,
	logger *zap.Logger,
) (*repository.AggregateRepository, error) {
	factory, err := projectboard.Factory()
	if err != nil {
		return nil, err
	}

	return repository.New(repository.Options{
		AggregateType:   projectboard.AggregateType,
		Factory:         factory,
		Store:           store,
		Publisher:       publisher,
		Locker:          locker,
		Hooks:           hooks,
		Logger:          logger,
		SnapshotTrigger: cfg.SnapshotTrigger,
	})
}

// ProvideCommandBus creates the command bus with every project command
// routed into the repository
func ProvideCommandBus(projects *repository.AggregateRepository, logger *zap.Logger) (*bus.CommandBus, error) {
	commandBus := bus.NewCommandBus()

	pipeline := bus.NewPipeline(
		bus.LoggingMiddleware(logger),
	)
	handler := pipeline.Execute(bus.RepositoryHandler(projects))

	for _, cmd := range []aggregate.Command{
		projectboard.CreateProject{},
		projectboard.AddTask{},
		projectboard.ArchiveProject{},
	} {
		if err := commandBus.Register(cmd, handler); err != nil {
			return nil, err
		}
	}

	return commandBus, nil
}

// ProvideQueryBus creates the query bus with every known query
// registered behind the caching middleware
func ProvideQueryBus(
	cfg *config.Config,
	projects *repository.AggregateRepository,
	cache ports.Cache,
) (*querybus.QueryBus, error) {
	queryBus := querybus.NewQueryBus()
	caching := querybus.NewCachingMiddleware(cache, cfg.QueryCacheTTL)

	getProject := caching.Wrap(queries.NewGetProjectHandler(projects))
	if err := queryBus.Register(queries.GetProjectQuery{}, getProject); err != nil {
		return nil, err
	}

	return queryBus, nil
}

// ProvideInMemoryCache creates the TTL cache backing query middleware
func ProvideInMemoryCache() ports.Cache {
	return NewInMemoryCache()
}

// NewContainer wires the application by hand, selecting the event store
// backend from configuration
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	logger, err := ProvideLogger(cfg)
	if err != nil {
		return nil, err
	}

	codec, err := ProvideCodec()
	if err != nil {
		return nil, err
	}

	var (
		store       ports.EventStore
		publisher   ports.EventPublisher
		locker      ports.Locker
		outbox      *dynamodb.OutboxProcessor
		ipLimiter   *auth.IPRateLimiter
		userLimiter *auth.UserRateLimiter
	)

	switch cfg.StoreBackend {
	case config.StoreDynamoDB:
		awsCfg, err := ProvideAWSConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		client := ProvideDynamoDBClient(awsCfg)

		dynamoStore := ProvideDynamoEventStore(client, cfg, codec)
		store = dynamoStore

		publisher = ProvideEventPublisher(ProvideEventBridgeClient(awsCfg), cfg, logger)
		locker = ProvideDistributedLock(client, cfg, logger)

		if cfg.OutboxEnabled {
			outbox = ProvideOutboxProcessor(dynamoStore, publisher, logger)
		}

		ipLimiter, userLimiter = ProvideRateLimiters(client, cfg)

	default:
		store = memory.NewMemoryEventStore()
	}

	hooks := ProvideHookManager()

	projects, err := ProvideProjectRepository(cfg, store, publisher, locker, hooks, logger)
	if err != nil {
		return nil, err
	}

	commandBus, err := ProvideCommandBus(projects, logger)
	if err != nil {
		return nil, err
	}

	cache := ProvideInMemoryCache()
	queryBus, err := ProvideQueryBus(cfg, projects, cache)
	if err != nil {
		return nil, err
	}

	validator, err := ProvideJWTValidator(cfg)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:      cfg,
		Logger:      logger,
		Codec:       codec,
		EventStore:  store,
		Publisher:   publisher,
		Locker:      locker,
		Hooks:       hooks,
		Projects:    projects,
		CommandBus:  commandBus,
		QueryBus:    queryBus,
		Cache:       cache,
		Validator:   validator,
		IPLimiter:   ipLimiter,
		UserLimiter: userLimiter,
		Outbox:      outbox,
	}, nil
}
