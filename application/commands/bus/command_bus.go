package bus

import (
	"context"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatgraph/application/ports"
	pkgerrors "chatgraph/pkg/errors"
)

// Command represents a command that changes state
type Command interface {
	Validate() error
}

// CommandHandler handles a specific command type and returns what it produced
type CommandHandler interface {
	Handle(ctx context.Context, cmd Command) (interface{}, error)
}

// CommandBus dispatches commands to their handlers
type CommandBus struct {
	handlers    map[reflect.Type]CommandHandler
	middlewares []Middleware
	mu          sync.RWMutex
}

// NewCommandBus creates a new command bus
func NewCommandBus(middlewares ...Middleware) *CommandBus {
	return &CommandBus{
		handlers:    make(map[reflect.Type]CommandHandler),
		middlewares: middlewares,
	}
}

// Register registers a handler for a command type. The bus middleware is
// applied once, at registration.
func (b *CommandBus) Register(cmdType Command, handler CommandHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := reflect.TypeOf(cmdType)
	if _, exists := b.handlers[t]; exists {
		return pkgerrors.NewInternalError("handler already registered for command type " + t.Name())
	}

	b.handlers[t] = NewPipeline(b.middlewares...).Execute(handler)
	return nil
}

// Send validates a command and dispatches it to its handler
func (b *CommandBus) Send(ctx context.Context, cmd Command) (interface{}, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	handler, exists := b.handlers[reflect.TypeOf(cmd)]
	b.mu.RUnlock()

	if !exists {
		return nil, pkgerrors.NewInternalError("no handler registered for command type " + reflect.TypeOf(cmd).Name())
	}

	return handler.Handle(ctx, cmd)
}

// Middleware defines command middleware
type Middleware func(next CommandHandler) CommandHandler

// CommandHandlerFunc is an adapter to allow functions to be used as handlers
type CommandHandlerFunc func(ctx context.Context, cmd Command) (interface{}, error)

// Handle implements CommandHandler
func (f CommandHandlerFunc) Handle(ctx context.Context, cmd Command) (interface{}, error) {
	return f(ctx, cmd)
}

// LoggingMiddleware logs command execution
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next CommandHandler) CommandHandler {
		return CommandHandlerFunc(func(ctx context.Context, cmd Command) (interface{}, error) {
			cmdType := reflect.TypeOf(cmd).Name()
			start := time.Now()

			result, err := next.Handle(ctx, cmd)
			if err != nil {
				level := logger.Warn
				if appErr := pkgerrors.GetAppError(err); appErr == nil || appErr.HTTPStatus >= 500 {
					level = logger.Error
				}
				level("Command failed",
					zap.String("type", cmdType),
					zap.Duration("duration", time.Since(start)),
					zap.Error(err),
				)
				return nil, err
			}

			logger.Debug("Command succeeded",
				zap.String("type", cmdType),
				zap.Duration("duration", time.Since(start)),
			)
			return result, nil
		})
	}
}

// MetricsMiddleware records one operation per command, named command.<Type>
func MetricsMiddleware(metrics ports.Metrics) Middleware {
	return func(next CommandHandler) CommandHandler {
		return CommandHandlerFunc(func(ctx context.Context, cmd Command) (interface{}, error) {
			start := time.Now()
			result, err := next.Handle(ctx, cmd)
			metrics.RecordOperation(ctx, "command."+reflect.TypeOf(cmd).Name(), time.Since(start), err)
			return result, err
		})
	}
}

// TimeoutMiddleware bounds how long a single command may run
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next CommandHandler) CommandHandler {
		return CommandHandlerFunc(func(ctx context.Context, cmd Command) (interface{}, error) {
			if timeout <= 0 {
				return next.Handle(ctx, cmd)
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next.Handle(ctx, cmd)
		})
	}
}

// Pipeline chains multiple middleware together
type Pipeline struct {
	middlewares []Middleware
}

// NewPipeline creates a new middleware pipeline
func NewPipeline(middlewares ...Middleware) *Pipeline {
	return &Pipeline{
		middlewares: middlewares,
	}
}

// Execute wraps handler so the first middleware runs outermost
func (p *Pipeline) Execute(handler CommandHandler) CommandHandler {
	for i := len(p.middlewares) - 1; i >= 0; i-- {
		handler = p.middlewares[i](handler)
	}
	return handler
}
