package resilient

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"chatgraph/application/ports"
	"chatgraph/domain/core/aggregates"
	"chatgraph/domain/core/entities"
	"chatgraph/domain/core/valueobjects"
	pkgerrors "chatgraph/pkg/errors"
)

// BreakerConfig holds configuration for the store circuit breaker
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns the default breaker configuration
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// Store decorates a ports.Store with a circuit breaker. Only infrastructure
// failures count against the breaker; domain outcomes such as a missing chat
// or a stale commit are answers, not faults. While the breaker is open every
// call fails fast with UNAVAILABLE.
type Store struct {
	next   ports.Store
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

// NewStore wraps next
func NewStore(next ports.Store, cfg BreakerConfig, logger *zap.Logger) *Store {
	s := &Store{next: next, logger: logger}
	s.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Store circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: isSuccessful,
	})
	return s
}

var _ ports.Store = (*Store)(nil)

// State reports the breaker state
func (s *Store) State() gobreaker.State {
	return s.cb.State()
}

func isSuccessful(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	appErr := pkgerrors.GetAppError(err)
	if appErr == nil {
		return false
	}
	switch appErr.Type {
	case pkgerrors.ErrorTypeDatabase, pkgerrors.ErrorTypeUnavailable, pkgerrors.ErrorTypeInternal, pkgerrors.ErrorTypeExternal:
		return false
	default:
		return true
	}
}

func (s *Store) execute(op string, fn func() (interface{}, error)) (interface{}, error) {
	result, err := s.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		s.logger.Debug("Store call rejected by circuit breaker",
			zap.String("operation", op),
			zap.String("state", s.cb.State().String()),
		)
		return nil, pkgerrors.NewUnavailableError("store").
			WithDetail("operation", op).
			WithCause(err)
	}
	return result, err
}

func (s *Store) run(op string, fn func() error) error {
	_, err := s.execute(op, func() (interface{}, error) { return nil, fn() })
	return err
}

// Ping implements ports.Store
func (s *Store) Ping(ctx context.Context) error {
	return s.run("Ping", func() error { return s.next.Ping(ctx) })
}

// CreateChat implements ports.Store
func (s *Store) CreateChat(ctx context.Context, chat *entities.Chat) error {
	return s.run("CreateChat", func() error { return s.next.CreateChat(ctx, chat) })
}

// GetChat implements ports.Store
func (s *Store) GetChat(ctx context.Context, id valueobjects.ChatID) (*entities.Chat, error) {
	result, err := s.execute("GetChat", func() (interface{}, error) { return s.next.GetChat(ctx, id) })
	if err != nil {
		return nil, err
	}
	return result.(*entities.Chat), nil
}

// ListChatsByOwner implements ports.Store
func (s *Store) ListChatsByOwner(ctx context.Context, ownerID string) ([]*entities.Chat, error) {
	result, err := s.execute("ListChatsByOwner", func() (interface{}, error) { return s.next.ListChatsByOwner(ctx, ownerID) })
	if err != nil {
		return nil, err
	}
	return result.([]*entities.Chat), nil
}

// UpdateChat implements ports.Store
func (s *Store) UpdateChat(ctx context.Context, chat *entities.Chat) error {
	return s.run("UpdateChat", func() error { return s.next.UpdateChat(ctx, chat) })
}

// DeleteChat implements ports.Store
func (s *Store) DeleteChat(ctx context.Context, id valueobjects.ChatID) error {
	return s.run("DeleteChat", func() error { return s.next.DeleteChat(ctx, id) })
}

// CreateProject implements ports.Store
func (s *Store) CreateProject(ctx context.Context, project *entities.Project) error {
	return s.run("CreateProject", func() error { return s.next.CreateProject(ctx, project) })
}

// GetProject implements ports.Store
func (s *Store) GetProject(ctx context.Context, id valueobjects.ProjectID) (*entities.Project, error) {
	result, err := s.execute("GetProject", func() (interface{}, error) { return s.next.GetProject(ctx, id) })
	if err != nil {
		return nil, err
	}
	return result.(*entities.Project), nil
}

// ListProjectsByOwner implements ports.Store
func (s *Store) ListProjectsByOwner(ctx context.Context, ownerID string) ([]*entities.Project, error) {
	result, err := s.execute("ListProjectsByOwner", func() (interface{}, error) { return s.next.ListProjectsByOwner(ctx, ownerID) })
	if err != nil {
		return nil, err
	}
	return result.([]*entities.Project), nil
}

// ListChatsInProject implements ports.Store
func (s *Store) ListChatsInProject(ctx context.Context, ownerID string, projectID valueobjects.ProjectID) ([]*entities.Chat, error) {
	result, err := s.execute("ListChatsInProject", func() (interface{}, error) {
		return s.next.ListChatsInProject(ctx, ownerID, projectID)
	})
	if err != nil {
		return nil, err
	}
	return result.([]*entities.Chat), nil
}

// UpdateProject implements ports.Store
func (s *Store) UpdateProject(ctx context.Context, project *entities.Project) error {
	return s.run("UpdateProject", func() error { return s.next.UpdateProject(ctx, project) })
}

// DeleteProject implements ports.Store
func (s *Store) DeleteProject(ctx context.Context, id valueobjects.ProjectID) error {
	return s.run("DeleteProject", func() error { return s.next.DeleteProject(ctx, id) })
}

// LoadConversation implements ports.Store
func (s *Store) LoadConversation(ctx context.Context, chatID valueobjects.ChatID) (*ports.ConversationState, error) {
	result, err := s.execute("LoadConversation", func() (interface{}, error) { return s.next.LoadConversation(ctx, chatID) })
	if err != nil {
		return nil, err
	}
	return result.(*ports.ConversationState), nil
}

// CommitConversation implements ports.Store
func (s *Store) CommitConversation(ctx context.Context, cs aggregates.Changeset) error {
	return s.run("CommitConversation", func() error { return s.next.CommitConversation(ctx, cs) })
}

// GetMessage implements ports.Store
func (s *Store) GetMessage(ctx context.Context, chatID valueobjects.ChatID, id valueobjects.MessageID) (*entities.Message, error) {
	result, err := s.execute("GetMessage", func() (interface{}, error) { return s.next.GetMessage(ctx, chatID, id) })
	if err != nil {
		return nil, err
	}
	return result.(*entities.Message), nil
}

// GetMessages implements ports.Store
func (s *Store) GetMessages(ctx context.Context, chatID valueobjects.ChatID, ids []valueobjects.MessageID) (map[valueobjects.MessageID]*entities.Message, error) {
	result, err := s.execute("GetMessages", func() (interface{}, error) { return s.next.GetMessages(ctx, chatID, ids) })
	if err != nil {
		return nil, err
	}
	return result.(map[valueobjects.MessageID]*entities.Message), nil
}

// ListMessages implements ports.Store
func (s *Store) ListMessages(ctx context.Context, chatID valueobjects.ChatID) ([]*entities.Message, error) {
	result, err := s.execute("ListMessages", func() (interface{}, error) { return s.next.ListMessages(ctx, chatID) })
	if err != nil {
		return nil, err
	}
	return result.([]*entities.Message), nil
}
