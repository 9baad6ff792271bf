package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscloudwatch "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"chatgraph/application/commands/bus"
	commandhandlers "chatgraph/application/commands/handlers"
	"chatgraph/application/ports"
	querybus "chatgraph/application/queries/bus"
	queryhandlers "chatgraph/application/queries/handlers"
	"chatgraph/application/services"
	domainconfig "chatgraph/domain/config"
	"chatgraph/infrastructure/cache"
	"chatgraph/infrastructure/config"
	"chatgraph/infrastructure/messaging/eventbridge"
	"chatgraph/infrastructure/persistence/dynamodb"
	"chatgraph/infrastructure/persistence/memory"
	"chatgraph/infrastructure/persistence/resilient"
	"chatgraph/infrastructure/persistence/sqlite"
	"chatgraph/interfaces/http/rest"
	"chatgraph/interfaces/http/rest/handlers"
	"chatgraph/interfaces/http/rest/middleware"
	"chatgraph/pkg/auth"
	pkgerrors "chatgraph/pkg/errors"
	"chatgraph/pkg/observability"
)

const serviceName = "chatgraph"

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}

	var zapCfg zap.Config
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", serviceName)), nil
}

// ProvideDomainConfig loads the environment's domain rules. LOCK_TIMEOUT,
// when set, overrides the lock wait.
func ProvideDomainConfig(cfg *config.Config) (*domainconfig.DomainConfig, error) {
	dc := domainconfig.LoadDomainConfig(cfg.Environment)
	if cfg.LockTimeout > 0 {
		dc.LockWaitTimeout = cfg.LockTimeout
	}
	if err := dc.Validate(); err != nil {
		return nil, err
	}
	return dc, nil
}

// ProvideAWSConfig creates AWS configuration. Loading resolves credentials
// lazily, so it is safe when no AWS-backed component is enabled.
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

// ProvideCloudWatchClient creates a CloudWatch client
func ProvideCloudWatchClient(awsCfg aws.Config) *awscloudwatch.Client {
	return awscloudwatch.NewFromConfig(awsCfg)
}

// ProvideDynamoDBStore creates the DynamoDB store. It is nil unless
// STORE_DRIVER selects dynamodb.
func ProvideDynamoDBStore(cfg *config.Config, client *awsdynamodb.Client, logger *zap.Logger) *dynamodb.Store {
	if cfg.StoreDriver != config.StoreDynamoDB {
		return nil
	}
	var opts []dynamodb.Option
	if cfg.EnableOutbox {
		opts = append(opts, dynamodb.WithOutbox())
	}
	return dynamodb.NewStore(client, cfg.DynamoDBTable, logger, opts...)
}

// ProvideStore selects the storage engine and puts the circuit breaker in front of it
func ProvideStore(cfg *config.Config, dynamoStore *dynamodb.Store, logger *zap.Logger) (ports.Store, func(), error) {
	var (
		store   ports.Store
		cleanup = func() {}
	)

	switch cfg.StoreDriver {
	case config.StoreMemory:
		store = memory.NewStore()
	case config.StoreSQLite:
		s, err := sqlite.Open(cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		store = s
		cleanup = func() {
			if err := s.Close(); err != nil {
				logger.Warn("Failed to close sqlite store", zap.Error(err))
			}
		}
	case config.StoreDynamoDB:
		store = dynamoStore
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	logger.Info("Store selected",
		zap.String("driver", cfg.StoreDriver),
		zap.Bool("breaker", cfg.BreakerEnabled),
	)

	if !cfg.BreakerEnabled {
		return store, cleanup, nil
	}
	breaker := resilient.DefaultBreakerConfig(serviceName + "-" + cfg.StoreDriver)
	breaker.Timeout = cfg.BreakerTimeout
	breaker.FailureThreshold = cfg.BreakerFailureThreshold
	breaker.MinRequests = uint32(cfg.BreakerMinRequests)
	return resilient.NewStore(store, breaker, logger), cleanup, nil
}

// ProvideChatLocker creates the per-chat lock. With DISTRIBUTED_LOCKS the
// exclusive section also holds a lease in the DynamoDB table.
func ProvideChatLocker(cfg *config.Config, dc *domainconfig.DomainConfig, client *awsdynamodb.Client, logger *zap.Logger) ports.ChatLocker {
	local := services.NewChatLocks(dc.LockWaitTimeout)
	if !cfg.DistributedLocks {
		return local
	}
	return dynamodb.NewDistributedChatLock(local, client, cfg.DynamoDBTable, cfg.LockLease, dc.LockWaitTimeout, logger)
}

// ProvideEventPublisher creates the EventBridge publisher used by the
// service. It is nil when events are disabled or delivered via the outbox.
func ProvideEventPublisher(cfg *config.Config, client *awseventbridge.Client, logger *zap.Logger) ports.EventPublisher {
	if !cfg.EnableEvents || cfg.EnableOutbox {
		return nil
	}
	return eventbridge.NewPublisher(client, cfg.EventBusName, logger)
}

// ProvideOutboxProcessor creates the outbox relay. It is nil unless the outbox is enabled.
func ProvideOutboxProcessor(cfg *config.Config, store *dynamodb.Store, client *awseventbridge.Client, logger *zap.Logger) *dynamodb.OutboxProcessor {
	if !cfg.EnableOutbox || store == nil {
		return nil
	}
	publisher := eventbridge.NewPublisher(client, cfg.EventBusName, logger)
	return dynamodb.NewOutboxProcessor(store, publisher, cfg.OutboxInterval, logger)
}

// ProvideCache creates the in-memory message cache
func ProvideCache(cfg *config.Config) (ports.Cache, func()) {
	c := cache.NewMemoryCache(cfg.CacheCapacity, time.Minute)
	return c, c.Close
}

// ProvideCollector creates the Prometheus collector served on /metrics
func ProvideCollector() *observability.Collector {
	return observability.NewCollector(serviceName)
}

// ProvideMetrics fans operation metrics out to Prometheus and, with
// ENABLE_METRICS, to CloudWatch.
func ProvideMetrics(cfg *config.Config, collector *observability.Collector, client *awscloudwatch.Client, logger *zap.Logger) ports.Metrics {
	recorders := observability.Recorders{collector}
	if cfg.EnableMetrics {
		namespace := fmt.Sprintf("ChatGraph/%s", cfg.Environment)
		recorders = append(recorders, observability.NewMetrics(namespace, client, logger))
	}
	return recorders
}

// ProvideTracer creates the X-Ray tracer
func ProvideTracer(cfg *config.Config) *observability.Tracer {
	return observability.NewTracer(serviceName, cfg.EnableTracing)
}

// ProvideChatAuthorizer creates the ownership check
func ProvideChatAuthorizer(store ports.Store, logger *zap.Logger) ports.ChatAuthorizer {
	return services.NewOwnershipAuthorizer(store, logger)
}

// ProvideConversationService creates the conversation service
func ProvideConversationService(
	store ports.Store,
	authz ports.ChatAuthorizer,
	locker ports.ChatLocker,
	publisher ports.EventPublisher,
	c ports.Cache,
	metrics ports.Metrics,
	tracer *observability.Tracer,
	dc *domainconfig.DomainConfig,
	logger *zap.Logger,
) *services.ConversationService {
	return services.NewConversationService(store, authz, locker, publisher, c, metrics, tracer, dc, logger)
}

// ProvideCommandBus creates a command bus with registered handlers
func ProvideCommandBus(
	service *services.ConversationService,
	metrics ports.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) (*bus.CommandBus, error) {
	commandBus := bus.NewCommandBus(
		bus.LoggingMiddleware(logger),
		bus.MetricsMiddleware(metrics),
		bus.TimeoutMiddleware(cfg.RequestTimeout),
	)
	if err := commandhandlers.NewConversationCommandHandlers(service, logger).Register(commandBus); err != nil {
		return nil, err
	}
	return commandBus, nil
}

// ProvideQueryBus creates a query bus with registered handlers
func ProvideQueryBus(service *services.ConversationService, metrics ports.Metrics, logger *zap.Logger) (*querybus.QueryBus, error) {
	queryBus := querybus.NewQueryBus(
		querybus.LoggingMiddleware(logger),
		querybus.MetricsMiddleware(metrics),
	)
	if err := queryhandlers.NewConversationQueryHandlers(service).Register(queryBus); err != nil {
		return nil, err
	}
	return queryBus, nil
}

// ProvideErrorHandler creates the HTTP error mapper. Details are exposed outside production.
func ProvideErrorHandler(cfg *config.Config, logger *zap.Logger) *pkgerrors.ErrorHandler {
	return pkgerrors.NewErrorHandler(logger, !cfg.IsProduction())
}

// ProvideJWTValidator creates the HS256 validator. Without JWT_SECRET it is
// nil and only gateway-authorized requests get through.
func ProvideJWTValidator(cfg *config.Config) (*auth.JWTValidator, error) {
	if cfg.JWTSecret == "" {
		return nil, nil
	}
	return auth.NewJWTValidator(auth.JWTConfig{
		SigningMethod: "HS256",
		SecretKey:     cfg.JWTSecret,
		Issuer:        cfg.JWTIssuer,
		Audience:      cfg.JWTAudience,
	})
}

// RateLimiters groups the two request limiters
type RateLimiters struct {
	IP   auth.RateLimiter
	User auth.RateLimiter
}

// ProvideRateLimiters keeps windows in DynamoDB when it is the store, so
// limits hold across instances; otherwise windows are per process.
func ProvideRateLimiters(cfg *config.Config, client *awsdynamodb.Client) RateLimiters {
	build := func(limit int) auth.RateLimiter {
		if cfg.StoreDriver == config.StoreDynamoDB {
			return auth.NewDistributedRateLimiter(client, cfg.DynamoDBTable, limit, time.Minute)
		}
		return auth.NewPerMinuteLimiter(limit)
	}

	var limiters RateLimiters
	if cfg.IPRateLimit > 0 {
		limiters.IP = auth.NewIPRateLimiter(build(cfg.IPRateLimit))
	}
	if cfg.UserRateLimit > 0 {
		limiters.User = auth.NewUserRateLimiter(build(cfg.UserRateLimit))
	}
	return limiters
}

// ProvideAuthenticator creates the authentication middleware
func ProvideAuthenticator(
	validator *auth.JWTValidator,
	limiters RateLimiters,
	cfg *config.Config,
	errHandler *pkgerrors.ErrorHandler,
	logger *zap.Logger,
) *middleware.Authenticator {
	return middleware.NewAuthenticator(validator, limiters.IP, limiters.User, cfg.TrustGateway, errHandler, logger)
}

// ProvideChatHandler creates the chat endpoints
func ProvideChatHandler(commandBus *bus.CommandBus, queryBus *querybus.QueryBus, errHandler *pkgerrors.ErrorHandler, logger *zap.Logger) *handlers.ChatHandler {
	return handlers.NewChatHandler(commandBus, queryBus, errHandler, logger)
}

// ProvideConversationHandler creates the conversation endpoints
func ProvideConversationHandler(commandBus *bus.CommandBus, queryBus *querybus.QueryBus, errHandler *pkgerrors.ErrorHandler, logger *zap.Logger) *handlers.ConversationHandler {
	return handlers.NewConversationHandler(commandBus, queryBus, errHandler, logger)
}

// ProvideRouter creates the HTTP router. The store answers /ready.
func ProvideRouter(
	chats *handlers.ChatHandler,
	conversations *handlers.ConversationHandler,
	authenticator *middleware.Authenticator,
	errHandler *pkgerrors.ErrorHandler,
	collector *observability.Collector,
	store ports.Store,
	cfg *config.Config,
	logger *zap.Logger,
) *rest.Router {
	return rest.NewRouter(chats, conversations, authenticator, errHandler, collector, store, rest.RouterConfig{
		EnableCORS:     cfg.EnableCORS,
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: cfg.RequestTimeout,
	}, logger)
}

// ProvideHTTPHandler builds the routes
func ProvideHTTPHandler(router *rest.Router) http.Handler {
	return router.Setup()
}
