package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"chatgraph/application/ports"
	"chatgraph/domain/core/aggregates"
	"chatgraph/domain/core/entities"
	"chatgraph/domain/core/valueobjects"
	pkgerrors "chatgraph/pkg/errors"
)

type chatRecord struct {
	chat     *entities.Chat
	graph    []byte
	version  int64
	activeID valueobjects.BranchID
	branches map[valueobjects.BranchID]entities.Branch
	edits    []entities.Edit
	messages map[valueobjects.MessageID]*entities.Message
	order    []valueobjects.MessageID
}

// Store provides an in-memory implementation of ports.Store. The graph is
// kept in its encoded form so callers never share a live structure with it.
type Store struct {
	mu       sync.RWMutex
	chats    map[valueobjects.ChatID]*chatRecord
	projects map[valueobjects.ProjectID]*entities.Project
	clock    func() time.Time
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		chats:    make(map[valueobjects.ChatID]*chatRecord),
		projects: make(map[valueobjects.ProjectID]*entities.Project),
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

var _ ports.Store = (*Store)(nil)

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// CreateChat stores a new chat with an empty conversation
func (s *Store) CreateChat(ctx context.Context, chat *entities.Chat) error {
	graph, err := aggregates.EncodeGraph(aggregates.NewGraph())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.chats[chat.ID()]; exists {
		return pkgerrors.NewConcurrencyConflictError("chat already exists").
			WithDetail("chat_id", chat.ID().String())
	}
	if pid := chat.ProjectID(); pid != nil {
		if _, ok := s.projects[*pid]; !ok {
			return pkgerrors.NewUnknownProjectError(pid.String())
		}
	}
	s.chats[chat.ID()] = &chatRecord{
		chat:     copyChat(chat),
		graph:    graph,
		branches: make(map[valueobjects.BranchID]entities.Branch),
		messages: make(map[valueobjects.MessageID]*entities.Message),
	}
	return nil
}

// GetChat retrieves a chat
func (s *Store) GetChat(ctx context.Context, id valueobjects.ChatID) (*entities.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.chats[id]
	if !ok {
		return nil, pkgerrors.NewUnknownChatError(id.String())
	}
	return copyChat(rec.chat), nil
}

// ListChatsByOwner returns a user's chats, most recently updated first
func (s *Store) ListChatsByOwner(ctx context.Context, ownerID string) ([]*entities.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectChats(func(c *entities.Chat) bool { return c.IsOwnedBy(ownerID) }), nil
}

// collectChats copies the chats matching keep, most recently updated first.
// Callers hold s.mu.
func (s *Store) collectChats(keep func(*entities.Chat) bool) []*entities.Chat {
	var out []*entities.Chat
	for _, rec := range s.chats {
		if keep(rec.chat) {
			out = append(out, copyChat(rec.chat))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt().Equal(out[j].UpdatedAt()) {
			return out[i].ID() < out[j].ID()
		}
		return out[i].UpdatedAt().After(out[j].UpdatedAt())
	})
	return out
}

// UpdateChat replaces chat metadata
func (s *Store) UpdateChat(ctx context.Context, chat *entities.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.chats[chat.ID()]
	if !ok {
		return pkgerrors.NewUnknownChatError(chat.ID().String())
	}
	rec.chat = copyChat(chat)
	return nil
}

// DeleteChat removes a chat and everything under it
func (s *Store) DeleteChat(ctx context.Context, id valueobjects.ChatID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[id]; !ok {
		return pkgerrors.NewUnknownChatError(id.String())
	}
	delete(s.chats, id)
	return nil
}

// CreateProject stores a new project
func (s *Store) CreateProject(ctx context.Context, project *entities.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.projects[project.ID()]; exists {
		return pkgerrors.NewConcurrencyConflictError("project already exists").
			WithDetail("project_id", project.ID().String())
	}
	s.projects[project.ID()] = copyProject(project)
	return nil
}

// GetProject retrieves a project
func (s *Store) GetProject(ctx context.Context, id valueobjects.ProjectID) (*entities.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, pkgerrors.NewUnknownProjectError(id.String())
	}
	return copyProject(p), nil
}

// ListProjectsByOwner returns a user's projects, most recently updated first
func (s *Store) ListProjectsByOwner(ctx context.Context, ownerID string) ([]*entities.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entities.Project
	for _, p := range s.projects {
		if p.IsOwnedBy(ownerID) {
			out = append(out, copyProject(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt().Equal(out[j].UpdatedAt()) {
			return out[i].ID() < out[j].ID()
		}
		return out[i].UpdatedAt().After(out[j].UpdatedAt())
	})
	return out, nil
}

// ListChatsInProject returns the owner's chats placed in projectID
func (s *Store) ListChatsInProject(ctx context.Context, ownerID string, projectID valueobjects.ProjectID) ([]*entities.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectChats(func(c *entities.Chat) bool {
		return c.IsOwnedBy(ownerID) && c.InProject(projectID)
	}), nil
}

// UpdateProject replaces project metadata
func (s *Store) UpdateProject(ctx context.Context, project *entities.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[project.ID()]; !ok {
		return pkgerrors.NewUnknownProjectError(project.ID().String())
	}
	s.projects[project.ID()] = copyProject(project)
	return nil
}

// DeleteProject removes a project and the chats placed in it
func (s *Store) DeleteProject(ctx context.Context, id valueobjects.ProjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[id]; !ok {
		return pkgerrors.NewUnknownProjectError(id.String())
	}
	for chatID, rec := range s.chats {
		if rec.chat.InProject(id) {
			delete(s.chats, chatID)
		}
	}
	delete(s.projects, id)
	return nil
}

// LoadConversation reads the structural state of a chat
func (s *Store) LoadConversation(ctx context.Context, chatID valueobjects.ChatID) (*ports.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.chats[chatID]
	if !ok {
		return nil, pkgerrors.NewUnknownChatError(chatID.String())
	}

	graph, err := aggregates.DecodeGraph(rec.graph)
	if err != nil {
		return nil, pkgerrors.NewGraphCorruptError("stored graph is unreadable").WithCause(err)
	}
	branches := make([]entities.Branch, 0, len(rec.branches))
	for _, b := range rec.branches {
		branches = append(branches, b)
	}
	sort.Slice(branches, func(i, j int) bool { return branches[i].Seq < branches[j].Seq })

	return &ports.ConversationState{
		Graph:          graph,
		Branches:       branches,
		ActiveBranchID: rec.activeID,
		Edits:          append([]entities.Edit(nil), rec.edits...),
		Version:        rec.version,
	}, nil
}

// CommitConversation applies a changeset atomically under the store lock
func (s *Store) CommitConversation(ctx context.Context, cs aggregates.Changeset) error {
	graph, err := aggregates.EncodeGraph(cs.Graph)
	if err != nil {
		return pkgerrors.NewInternalError("failed to encode graph").WithCause(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.chats[cs.ChatID]
	if !ok {
		return pkgerrors.NewUnknownChatError(cs.ChatID.String())
	}
	if rec.version != cs.ExpectedVersion {
		return pkgerrors.NewConcurrencyConflictError("conversation was modified concurrently").
			WithDetail("expected_version", cs.ExpectedVersion).
			WithDetail("actual_version", rec.version)
	}
	for _, m := range cs.Messages {
		if _, exists := rec.messages[m.ID()]; exists {
			return pkgerrors.NewInvalidReferenceError("message id already stored: " + m.ID().String())
		}
	}

	rec.graph = graph
	rec.version = cs.Version
	rec.activeID = cs.ActiveBranchID
	for _, m := range cs.Messages {
		rec.messages[m.ID()] = m
		rec.order = append(rec.order, m.ID())
	}
	for _, b := range cs.Branches {
		rec.branches[b.ID] = b
	}
	rec.edits = append(rec.edits, cs.Edits...)

	updated := copyChat(rec.chat)
	updated.Touch(s.clock())
	rec.chat = updated
	return nil
}

// GetMessage retrieves one message of a chat
func (s *Store) GetMessage(ctx context.Context, chatID valueobjects.ChatID, id valueobjects.MessageID) (*entities.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.chats[chatID]
	if !ok {
		return nil, pkgerrors.NewUnknownChatError(chatID.String())
	}
	m, ok := rec.messages[id]
	if !ok {
		return nil, pkgerrors.NewUnknownMessageError(id.String())
	}
	return m, nil
}

// GetMessages resolves ids; ids without a record are omitted
func (s *Store) GetMessages(ctx context.Context, chatID valueobjects.ChatID, ids []valueobjects.MessageID) (map[valueobjects.MessageID]*entities.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.chats[chatID]
	if !ok {
		return nil, pkgerrors.NewUnknownChatError(chatID.String())
	}
	out := make(map[valueobjects.MessageID]*entities.Message, len(ids))
	for _, id := range ids {
		if m, ok := rec.messages[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

// ListMessages returns every message of a chat in creation order
func (s *Store) ListMessages(ctx context.Context, chatID valueobjects.ChatID) ([]*entities.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.chats[chatID]
	if !ok {
		return nil, pkgerrors.NewUnknownChatError(chatID.String())
	}
	out := make([]*entities.Message, 0, len(rec.order))
	for _, id := range rec.order {
		out = append(out, rec.messages[id])
	}
	return out, nil
}

// Messages are immutable, chats are not; chats are copied on the way in and out.
func copyChat(c *entities.Chat) *entities.Chat {
	return entities.ReconstructChat(c.ID(), c.OwnerID(), c.ProjectID(), c.Name(), c.Description(), c.Status(), c.CreatedAt(), c.UpdatedAt())
}

func copyProject(p *entities.Project) *entities.Project {
	return entities.ReconstructProject(p.ID(), p.OwnerID(), p.Name(), p.Description(), p.CreatedAt(), p.UpdatedAt())
}
