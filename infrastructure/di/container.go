package di

import (
	"net/http"

	"go.uber.org/zap"

	"chatgraph/application/commands/bus"
	"chatgraph/application/ports"
	querybus "chatgraph/application/queries/bus"
	"chatgraph/application/services"
	"chatgraph/infrastructure/config"
	"chatgraph/infrastructure/persistence/dynamodb"
)

// Container holds all application dependencies
type Container struct {
	Config     *config.Config
	Logger     *zap.Logger
	Store      ports.Store
	Service    *services.ConversationService
	CommandBus *bus.CommandBus
	QueryBus   *querybus.QueryBus
	Handler    http.Handler

	// Outbox is nil unless ENABLE_OUTBOX is set
	Outbox *dynamodb.OutboxProcessor
}
