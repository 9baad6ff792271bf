package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"chatgraph/application/ports"
	"chatgraph/domain/config"
	"chatgraph/domain/core/aggregates"
	"chatgraph/domain/core/entities"
	"chatgraph/domain/core/validators"
	"chatgraph/domain/core/valueobjects"
	"chatgraph/domain/events"
	pkgerrors "chatgraph/pkg/errors"
	"chatgraph/pkg/observability"
)

// messageCacheTTL is in seconds. Messages never change, so the TTL only bounds memory.
const messageCacheTTL = 3600

// ConversationService runs every operation on a chat's conversation graph.
// Mutations hold the chat's exclusive section from load to commit; reads hold
// the shared side so they always see a committed snapshot.
type ConversationService struct {
	store     ports.Store
	authz     ports.ChatAuthorizer
	locker    ports.ChatLocker
	publisher ports.EventPublisher
	cache     ports.Cache
	metrics   ports.Metrics
	tracer    *observability.Tracer
	cfg       *config.DomainConfig
	validator *validators.MessageValidator
	logger    *zap.Logger

	loads singleflight.Group
	clock func() time.Time
}

// NewConversationService creates the service. publisher, cache, metrics and
// tracer are optional and may be nil.
func NewConversationService(
	store ports.Store,
	authz ports.ChatAuthorizer,
	locker ports.ChatLocker,
	publisher ports.EventPublisher,
	cache ports.Cache,
	metrics ports.Metrics,
	tracer *observability.Tracer,
	cfg *config.DomainConfig,
	logger *zap.Logger,
) *ConversationService {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &ConversationService{
		store:     store,
		authz:     authz,
		locker:    locker,
		publisher: publisher,
		cache:     cache,
		metrics:   metrics,
		tracer:    tracer,
		cfg:       cfg,
		validator: validators.NewMessageValidator(cfg),
		logger:    logger,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// Chats

// CreateChat creates an empty chat owned by in.UserID, optionally inside one of their projects
func (s *ConversationService) CreateChat(ctx context.Context, in CreateChatInput) (*entities.Chat, error) {
	var chat *entities.Chat
	err := s.observe(ctx, "CreateChat", func(ctx context.Context) error {
		if err := s.validator.ValidateChatName(in.Name); err != nil {
			return err
		}
		if in.ProjectID != nil {
			if _, err := s.resolveOwnedProject(ctx, in.UserID, *in.ProjectID); err != nil {
				return err
			}
		}
		c, err := entities.NewChat(in.UserID, entities.ChatDetails{
			Name:        in.Name,
			Description: in.Description,
			ProjectID:   in.ProjectID,
		}, s.cfg, s.clock())
		if err != nil {
			return err
		}
		if err := s.store.CreateChat(ctx, c); err != nil {
			return err
		}
		s.publish(ctx, []events.DomainEvent{events.NewChatCreated(c.ID(), in.UserID, c.Name(), c.CreatedAt())})
		chat = c
		return nil
	})
	return chat, err
}

// GetChat returns a chat owned by userID
func (s *ConversationService) GetChat(ctx context.Context, userID string, chatID valueobjects.ChatID) (*entities.Chat, error) {
	return s.authz.ResolveOwnedChat(ctx, userID, chatID)
}

// ListChats returns userID's chats. A non-nil projectID restricts the list to
// that project, which must belong to userID.
func (s *ConversationService) ListChats(ctx context.Context, userID string, projectID *valueobjects.ProjectID) ([]*entities.Chat, error) {
	if userID == "" {
		return nil, pkgerrors.NewUnauthorizedError("user is required")
	}
	if projectID == nil {
		return s.store.ListChatsByOwner(ctx, userID)
	}
	if _, err := s.resolveOwnedProject(ctx, userID, *projectID); err != nil {
		return nil, err
	}
	return s.store.ListChatsInProject(ctx, userID, *projectID)
}

// RenameChat replaces a chat's name and, when given, its description
func (s *ConversationService) RenameChat(ctx context.Context, in RenameChatInput) (*entities.Chat, error) {
	var chat *entities.Chat
	err := s.observe(ctx, "RenameChat", func(ctx context.Context) error {
		if err := s.validator.ValidateChatName(in.Name); err != nil {
			return err
		}
		release, err := s.locker.Acquire(ctx, in.ChatID, true)
		if err != nil {
			return err
		}
		defer release()

		c, err := s.authz.ResolveOwnedChat(ctx, in.UserID, in.ChatID)
		if err != nil {
			return err
		}
		now := s.clock()
		if err := c.Rename(in.Name, in.Description, s.cfg, now); err != nil {
			return err
		}
		if err := s.store.UpdateChat(ctx, c); err != nil {
			return err
		}
		s.publish(ctx, []events.DomainEvent{events.NewChatRenamed(c.ID(), c.Name(), c.Description(), now)})
		chat = c
		return nil
	})
	return chat, err
}

// ArchiveChat makes a chat read-only
func (s *ConversationService) ArchiveChat(ctx context.Context, userID string, chatID valueobjects.ChatID) (*entities.Chat, error) {
	return s.changeStatus(ctx, "ArchiveChat", userID, chatID, (*entities.Chat).Archive)
}

// ActivateChat reopens an archived chat
func (s *ConversationService) ActivateChat(ctx context.Context, userID string, chatID valueobjects.ChatID) (*entities.Chat, error) {
	return s.changeStatus(ctx, "ActivateChat", userID, chatID, (*entities.Chat).Activate)
}

func (s *ConversationService) changeStatus(
	ctx context.Context,
	op, userID string,
	chatID valueobjects.ChatID,
	apply func(*entities.Chat, time.Time) error,
) (*entities.Chat, error) {
	var chat *entities.Chat
	err := s.observe(ctx, op, func(ctx context.Context) error {
		release, err := s.locker.Acquire(ctx, chatID, true)
		if err != nil {
			return err
		}
		defer release()

		c, err := s.authz.ResolveOwnedChat(ctx, userID, chatID)
		if err != nil {
			return err
		}
		now := s.clock()
		if err := apply(c, now); err != nil {
			return err
		}
		if err := s.store.UpdateChat(ctx, c); err != nil {
			return err
		}
		s.publish(ctx, []events.DomainEvent{events.NewChatStatusChanged(chatID, string(c.Status()), now)})
		chat = c
		return nil
	})
	return chat, err
}

// DeleteChat removes a chat with its messages, graph, branches and edits
func (s *ConversationService) DeleteChat(ctx context.Context, userID string, chatID valueobjects.ChatID) error {
	return s.observe(ctx, "DeleteChat", func(ctx context.Context) error {
		release, err := s.locker.Acquire(ctx, chatID, true)
		if err != nil {
			return err
		}
		defer release()

		chat, err := s.authz.ResolveOwnedChat(ctx, userID, chatID)
		if err != nil {
			return err
		}
		if err := s.store.DeleteChat(ctx, chatID); err != nil {
			return err
		}
		s.publish(ctx, []events.DomainEvent{events.NewChatDeleted(chatID, chat.OwnerID(), s.clock())})
		return nil
	})
}

// Mutations

// Append adds a message to a chat. See AppendInput for the parent contract.
func (s *ConversationService) Append(ctx context.Context, in AppendInput) (*AppendResult, error) {
	var result *AppendResult
	err := s.observe(ctx, "Append", func(ctx context.Context) error {
		if err := s.validator.ValidateNewMessage(in.Role, in.Content); err != nil {
			return err
		}
		role, err := valueobjects.ParseRole(in.Role)
		if err != nil {
			return err
		}
		content, err := valueobjects.NewMessageContentWithConfig(in.Content, s.cfg)
		if err != nil {
			return err
		}

		return s.mutate(ctx, in.UserID, in.ChatID, func(conv *aggregates.Conversation, now time.Time) error {
			msg, err := entities.NewMessage(in.ChatID, role, content, now)
			if err != nil {
				return err
			}
			out, err := conv.Append(msg, in.ParentID, now)
			if err != nil {
				return err
			}
			result = &AppendResult{
				Message:       out.Message,
				Branch:        out.Branch,
				BranchCreated: out.BranchCreated,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Message appended",
		zap.String("chatID", in.ChatID.String()),
		zap.String("messageID", result.Message.ID().String()),
		zap.String("branchID", result.Branch.ID.String()),
		zap.Bool("branchCreated", result.BranchCreated),
	)
	return result, nil
}

// EditWithBranch forks a user message with new content onto a new branch.
// The message, graph change, branch and edit record commit together or not at all.
func (s *ConversationService) EditWithBranch(ctx context.Context, in EditInput) (*EditResult, error) {
	var result *EditResult
	err := s.observe(ctx, "EditWithBranch", func(ctx context.Context) error {
		if err := s.validator.ValidateEditContent(in.NewContent); err != nil {
			return err
		}
		content, err := valueobjects.NewMessageContentWithConfig(in.NewContent, s.cfg)
		if err != nil {
			return err
		}

		return s.mutate(ctx, in.UserID, in.ChatID, func(conv *aggregates.Conversation, now time.Time) error {
			if !conv.Graph().Has(in.OriginalMessageID) {
				return pkgerrors.NewUnknownMessageError(in.OriginalMessageID.String())
			}
			original, err := s.store.GetMessage(ctx, in.ChatID, in.OriginalMessageID)
			if err != nil {
				return err
			}

			edited := entities.NewEditedMessage(original, content, now)
			out, err := conv.EditWithBranch(original, edited, now)
			if err != nil {
				return err
			}

			// Built before commit so a resolution failure leaves nothing persisted.
			comparison, err := s.editComparison(ctx, conv, original, out)
			if err != nil {
				return err
			}

			result = &EditResult{
				NewMessage:   out.NewMessage,
				NewBranch:    out.NewBranch,
				Edit:         out.Edit,
				UpdatedGraph: conv.Graph(),
				Comparison:   comparison,
				AllBranches:  summarize(conv, out.NewBranch.ID),
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Message edited into new branch",
		zap.String("chatID", in.ChatID.String()),
		zap.String("originalMessageID", in.OriginalMessageID.String()),
		zap.String("newMessageID", result.NewMessage.ID().String()),
		zap.String("branchID", result.NewBranch.ID.String()),
	)
	return result, nil
}

// RetargetBranch points a branch at an existing message and makes it active
func (s *ConversationService) RetargetBranch(ctx context.Context, userID string, chatID valueobjects.ChatID, branchID valueobjects.BranchID, head valueobjects.MessageID) (entities.Branch, error) {
	var branch entities.Branch
	err := s.observe(ctx, "RetargetBranch", func(ctx context.Context) error {
		return s.mutate(ctx, userID, chatID, func(conv *aggregates.Conversation, now time.Time) error {
			b, err := conv.RetargetBranch(branchID, head, now)
			branch = b
			return err
		})
	})
	return branch, err
}

// Reads

// Heads returns the tips of the chat's graph
func (s *ConversationService) Heads(ctx context.Context, userID string, chatID valueobjects.ChatID) ([]valueobjects.MessageID, error) {
	var heads []valueobjects.MessageID
	err := s.observe(ctx, "Heads", func(ctx context.Context) error {
		return s.read(ctx, userID, chatID, func(conv *aggregates.Conversation) error {
			heads = conv.Heads()
			return nil
		})
	})
	return heads, err
}

// AncestorChain returns the root-to-head path ending at headID with its messages
func (s *ConversationService) AncestorChain(ctx context.Context, userID string, chatID valueobjects.ChatID, headID valueobjects.MessageID) (*ChainResult, error) {
	var result *ChainResult
	err := s.observe(ctx, "AncestorChain", func(ctx context.Context) error {
		return s.read(ctx, userID, chatID, func(conv *aggregates.Conversation) error {
			chain, err := conv.AncestorChain(headID)
			if err != nil {
				return err
			}
			msgs, err := s.resolveMessages(ctx, chatID, chain, nil)
			if err != nil {
				return err
			}
			result = &ChainResult{Chain: chain, Messages: msgs}
			return nil
		})
	})
	return result, err
}

// Siblings returns the alternatives at a message's position, itself included
func (s *ConversationService) Siblings(ctx context.Context, userID string, chatID valueobjects.ChatID, messageID valueobjects.MessageID) ([]*entities.Message, error) {
	var msgs []*entities.Message
	err := s.observe(ctx, "Siblings", func(ctx context.Context) error {
		return s.read(ctx, userID, chatID, func(conv *aggregates.Conversation) error {
			ids, err := conv.Siblings(messageID)
			if err != nil {
				return err
			}
			msgs, err = s.resolveMessages(ctx, chatID, ids, nil)
			return err
		})
	})
	return msgs, err
}

// ListBranches returns a chat's branches oldest first
func (s *ConversationService) ListBranches(ctx context.Context, userID string, chatID valueobjects.ChatID) ([]BranchSummary, error) {
	var branches []BranchSummary
	err := s.observe(ctx, "ListBranches", func(ctx context.Context) error {
		return s.read(ctx, userID, chatID, func(conv *aggregates.Conversation) error {
			branches = summarize(conv, "")
			return nil
		})
	})
	return branches, err
}

// ListEdits returns a chat's edit ledger oldest first
func (s *ConversationService) ListEdits(ctx context.Context, userID string, chatID valueobjects.ChatID) ([]entities.Edit, error) {
	var edits []entities.Edit
	err := s.observe(ctx, "ListEdits", func(ctx context.Context) error {
		return s.read(ctx, userID, chatID, func(conv *aggregates.Conversation) error {
			edits = conv.Edits()
			return nil
		})
	})
	return edits, err
}

// GetGraph returns the chat's graph snapshot
func (s *ConversationService) GetGraph(ctx context.Context, userID string, chatID valueobjects.ChatID) (*aggregates.Graph, error) {
	var graph *aggregates.Graph
	err := s.observe(ctx, "GetGraph", func(ctx context.Context) error {
		return s.read(ctx, userID, chatID, func(conv *aggregates.Conversation) error {
			graph = conv.Graph()
			return nil
		})
	})
	return graph, err
}

// ListMessages returns every message of a chat in creation order
func (s *ConversationService) ListMessages(ctx context.Context, userID string, chatID valueobjects.ChatID) ([]*entities.Message, error) {
	var msgs []*entities.Message
	err := s.observe(ctx, "ListMessages", func(ctx context.Context) error {
		if _, err := s.authz.ResolveOwnedChat(ctx, userID, chatID); err != nil {
			return err
		}
		release, err := s.locker.Acquire(ctx, chatID, false)
		if err != nil {
			return err
		}
		defer release()

		msgs, err = s.store.ListMessages(ctx, chatID)
		return err
	})
	return msgs, err
}

// CompareBranches resolves the chains ending at two heads and reports where they diverge
func (s *ConversationService) CompareBranches(ctx context.Context, userID string, chatID valueobjects.ChatID, leftHead, rightHead valueobjects.MessageID) (*BranchComparison, error) {
	var result *BranchComparison
	err := s.observe(ctx, "CompareBranches", func(ctx context.Context) error {
		return s.read(ctx, userID, chatID, func(conv *aggregates.Conversation) error {
			cmp, err := aggregates.CompareChains(conv.Graph(), leftHead, rightHead)
			if err != nil {
				return err
			}
			left, err := s.branchView(ctx, conv, leftHead, cmp.Left, nil)
			if err != nil {
				return err
			}
			right, err := s.branchView(ctx, conv, rightHead, cmp.Right, nil)
			if err != nil {
				return err
			}
			result = &BranchComparison{Left: left, Right: right, DivergenceIndex: cmp.DivergenceIndex}
			return nil
		})
	})
	return result, err
}

// internals

// mutate runs fn on a freshly loaded conversation inside the chat's exclusive
// section and commits the resulting changeset in one store call.
func (s *ConversationService) mutate(
	ctx context.Context,
	userID string,
	chatID valueobjects.ChatID,
	fn func(conv *aggregates.Conversation, now time.Time) error,
) error {
	release, err := s.locker.Acquire(ctx, chatID, true)
	if err != nil {
		return err
	}
	defer release()

	// Status is read inside the section so a concurrent archive cannot slip in.
	chat, err := s.authz.ResolveOwnedChat(ctx, userID, chatID)
	if err != nil {
		return err
	}
	if err := chat.EnsureWritable(); err != nil {
		return err
	}

	conv, err := s.loadConversation(ctx, chatID)
	if err != nil {
		return err
	}

	if err := fn(conv, s.clock()); err != nil {
		return err
	}

	cs := conv.Changes()
	if cs.IsEmpty() {
		return nil
	}
	if err := s.store.CommitConversation(ctx, cs); err != nil {
		if pkgerrors.IsConcurrencyConflict(err) {
			s.logger.Warn("Conversation changed underneath commit",
				zap.String("chatID", chatID.String()),
				zap.Int64("expectedVersion", cs.ExpectedVersion),
			)
		}
		return err
	}
	conv.MarkCommitted()

	for _, m := range cs.Messages {
		s.cacheMessage(ctx, m)
	}
	s.publish(ctx, cs.Events)
	return nil
}

// read runs fn against a committed snapshot under the chat's shared section.
// Concurrent readers of one chat share a single store load.
func (s *ConversationService) read(
	ctx context.Context,
	userID string,
	chatID valueobjects.ChatID,
	fn func(conv *aggregates.Conversation) error,
) error {
	if _, err := s.authz.ResolveOwnedChat(ctx, userID, chatID); err != nil {
		return err
	}

	release, err := s.locker.Acquire(ctx, chatID, false)
	if err != nil {
		return err
	}
	defer release()

	// The shared load must outlive any single caller's cancellation.
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := s.loads.Do(chatID.String(), func() (interface{}, error) {
		return s.loadConversation(loadCtx, chatID)
	})
	if err != nil {
		return err
	}
	return fn(v.(*aggregates.Conversation))
}

func (s *ConversationService) loadConversation(ctx context.Context, chatID valueobjects.ChatID) (*aggregates.Conversation, error) {
	state, err := s.store.LoadConversation(ctx, chatID)
	if err != nil {
		return nil, err
	}
	conv, err := aggregates.ReconstructConversation(
		chatID, state.Graph, state.Branches, state.ActiveBranchID, state.Edits, state.Version, s.cfg,
	)
	if err != nil {
		if pkgerrors.IsGraphCorrupt(err) {
			s.logger.Error("Stored conversation violates graph invariants",
				zap.String("chatID", chatID.String()),
				zap.Error(err),
			)
		}
		return nil, err
	}
	return conv, nil
}

func (s *ConversationService) editComparison(
	ctx context.Context,
	conv *aggregates.Conversation,
	original *entities.Message,
	out aggregates.EditOutcome,
) (EditComparison, error) {
	pending := map[valueobjects.MessageID]*entities.Message{
		out.NewMessage.ID(): out.NewMessage,
		original.ID():       original,
	}

	originalHead := original.ID()
	if out.OriginalBranch != nil && out.OriginalBranch.HeadMessageID != nil {
		originalHead = *out.OriginalBranch.HeadMessageID
	}
	originalChain, err := conv.AncestorChain(originalHead)
	if err != nil {
		return EditComparison{}, err
	}
	newChain, err := conv.AncestorChain(out.NewMessage.ID())
	if err != nil {
		return EditComparison{}, err
	}

	originalView, err := s.branchView(ctx, conv, originalHead, originalChain, pending)
	if err != nil {
		return EditComparison{}, err
	}
	newView, err := s.branchView(ctx, conv, out.NewMessage.ID(), newChain, pending)
	if err != nil {
		return EditComparison{}, err
	}
	newView.BranchID = out.NewBranch.ID

	return EditComparison{
		OriginalBranch: originalView,
		NewBranch:      newView,
		Differences: EditDifferences{
			ChangedMessageID: original.ID(),
			OriginalContent:  original.Content().Text(),
			NewContent:       out.NewMessage.Content().Text(),
			DivergenceIndex:  aggregates.DivergenceIndex(originalChain, newChain),
		},
	}, nil
}

func (s *ConversationService) branchView(
	ctx context.Context,
	conv *aggregates.Conversation,
	head valueobjects.MessageID,
	chain []valueobjects.MessageID,
	pending map[valueobjects.MessageID]*entities.Message,
) (BranchView, error) {
	msgs, err := s.resolveMessages(ctx, conv.ChatID(), chain, pending)
	if err != nil {
		return BranchView{}, err
	}
	view := BranchView{HeadMessageID: head, Chain: chain, Messages: msgs}
	for _, b := range conv.Branches() {
		if b.HasHead(head) {
			view.BranchID = b.ID
			break
		}
	}
	return view, nil
}

// resolveMessages maps ids to messages in order. pending holds messages not
// yet committed; ids with no record, such as placeholder parents, are skipped.
func (s *ConversationService) resolveMessages(
	ctx context.Context,
	chatID valueobjects.ChatID,
	ids []valueobjects.MessageID,
	pending map[valueobjects.MessageID]*entities.Message,
) ([]*entities.Message, error) {
	found := make(map[valueobjects.MessageID]*entities.Message, len(ids))
	var missing []valueobjects.MessageID
	for _, id := range ids {
		if m, ok := pending[id]; ok {
			found[id] = m
			continue
		}
		if m, ok := s.cachedMessage(ctx, chatID, id); ok {
			found[id] = m
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		loaded, err := s.store.GetMessages(ctx, chatID, missing)
		if err != nil {
			return nil, err
		}
		for id, m := range loaded {
			found[id] = m
			s.cacheMessage(ctx, m)
		}
	}

	out := make([]*entities.Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := found[id]; ok {
			out = append(out, m)
		} else {
			s.logger.Warn("Graph node has no message record",
				zap.String("chatID", chatID.String()),
				zap.String("messageID", id.String()),
			)
		}
	}
	return out, nil
}

func messageCacheKey(chatID valueobjects.ChatID, id valueobjects.MessageID) string {
	return fmt.Sprintf("msg:%s:%s", chatID, id)
}

func (s *ConversationService) cachedMessage(ctx context.Context, chatID valueobjects.ChatID, id valueobjects.MessageID) (*entities.Message, bool) {
	if s.cache == nil {
		return nil, false
	}
	v, ok := s.cache.Get(ctx, messageCacheKey(chatID, id))
	if !ok {
		return nil, false
	}
	m, ok := v.(*entities.Message)
	return m, ok
}

func (s *ConversationService) cacheMessage(ctx context.Context, m *entities.Message) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, messageCacheKey(m.ChatID(), m.ID()), m, messageCacheTTL); err != nil {
		s.logger.Debug("Failed to cache message", zap.Error(err))
	}
}

// publish sends events after a successful commit. Delivery failures are
// logged; the committed state is authoritative.
func (s *ConversationService) publish(ctx context.Context, evts []events.DomainEvent) {
	if s.publisher == nil || len(evts) == 0 {
		return
	}
	if err := s.publisher.PublishBatch(ctx, evts); err != nil {
		s.logger.Error("Failed to publish domain events",
			zap.Int("count", len(evts)),
			zap.Error(err),
		)
	}
}

// observe wraps an operation with tracing and metrics
func (s *ConversationService) observe(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	err := s.tracer.TraceFunction(ctx, "ConversationService."+op, fn)
	if s.metrics != nil {
		s.metrics.RecordOperation(ctx, op, time.Since(start), err)
	}
	return err
}

func summarize(conv *aggregates.Conversation, newBranchID valueobjects.BranchID) []BranchSummary {
	activeID := valueobjects.BranchID("")
	if active, ok := conv.ActiveBranch(); ok {
		activeID = active.ID
	}
	branches := conv.Branches()
	out := make([]BranchSummary, 0, len(branches))
	for _, b := range branches {
		out = append(out, BranchSummary{
			BranchID:      b.ID,
			HeadMessageID: b.HeadMessageID,
			IsActive:      b.ID == activeID,
			IsNewBranch:   newBranchID != "" && b.ID == newBranchID,
		})
	}
	return out
}
