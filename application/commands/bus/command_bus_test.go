package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	pkgerrors "chatgraph/pkg/errors"
	"chatgraph/tests/mocks"
)

type pingCommand struct{ Name string }

func (c pingCommand) Validate() error {
	if c.Name == "" {
		return pkgerrors.NewValidationError("name is required")
	}
	return nil
}

type otherCommand struct{}

func (otherCommand) Validate() error { return nil }

func echo(_ context.Context, cmd Command) (interface{}, error) {
	return "pong " + cmd.(pingCommand).Name, nil
}

func TestCommandBus_Send(t *testing.T) {
	b := NewCommandBus()
	require.NoError(t, b.Register(pingCommand{}, CommandHandlerFunc(echo)))

	result, err := b.Send(context.Background(), pingCommand{Name: "a"})
	require.NoError(t, err)
	assert.Equal(t, "pong a", result)

	_, err = b.Send(context.Background(), pingCommand{})
	assert.True(t, pkgerrors.IsValidation(err))

	_, err = b.Send(context.Background(), otherCommand{})
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeInternal))

	assert.Error(t, b.Register(pingCommand{}, CommandHandlerFunc(echo)), "duplicate registration")
}

func TestCommandBus_MiddlewareOrder(t *testing.T) {
	var order []string
	trace := func(name string) Middleware {
		return func(next CommandHandler) CommandHandler {
			return CommandHandlerFunc(func(ctx context.Context, cmd Command) (interface{}, error) {
				order = append(order, name)
				return next.Handle(ctx, cmd)
			})
		}
	}

	b := NewCommandBus(trace("outer"), trace("inner"))
	require.NoError(t, b.Register(pingCommand{}, CommandHandlerFunc(echo)))

	_, err := b.Send(context.Background(), pingCommand{Name: "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestCommandBus_LoggingAndMetrics(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	metrics := new(mocks.MockMetrics)
	metrics.On("RecordOperation", mock.Anything, "command.pingCommand", mock.Anything, mock.Anything).Return()

	failure := errors.New("disk on fire")
	b := NewCommandBus(LoggingMiddleware(zap.New(core)), MetricsMiddleware(metrics))
	require.NoError(t, b.Register(pingCommand{}, CommandHandlerFunc(func(context.Context, Command) (interface{}, error) {
		return nil, failure
	})))

	_, err := b.Send(context.Background(), pingCommand{Name: "a"})
	assert.ErrorIs(t, err, failure)

	entries := logs.FilterMessage("Command failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.ErrorLevel, entries[0].Level)
	metrics.AssertNumberOfCalls(t, "RecordOperation", 1)
}

func TestTimeoutMiddleware(t *testing.T) {
	b := NewCommandBus(TimeoutMiddleware(10 * time.Millisecond))
	require.NoError(t, b.Register(pingCommand{}, CommandHandlerFunc(func(ctx context.Context, _ Command) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})))

	_, err := b.Send(context.Background(), pingCommand{Name: "a"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
