package aggregates

import (
	"fmt"
	"time"

	"chatgraph/domain/config"
	"chatgraph/domain/core/entities"
	"chatgraph/domain/core/valueobjects"
	"chatgraph/domain/events"
	pkgerrors "chatgraph/pkg/errors"
)

// Conversation is the consistency domain of one chat: its graph, branch
// pointers and edit ledger change together or not at all. Every mutating
// method validates fully before it touches any state.
type Conversation struct {
	chatID   valueobjects.ChatID
	graph    *Graph
	branches *BranchRegistry
	edits    *EditLedger
	version  int64
	cfg      *config.DomainConfig

	pendingMessages []*entities.Message
	pendingBranches []valueobjects.BranchID
	pendingEdits    []entities.Edit
	events          []events.DomainEvent
}

// Changeset is everything a store must persist, in one transaction, to commit
// the pending mutations of a Conversation.
type Changeset struct {
	ChatID          valueobjects.ChatID
	ExpectedVersion int64
	Version         int64
	Graph           *Graph
	ActiveBranchID  valueobjects.BranchID
	Messages        []*entities.Message
	Branches        []entities.Branch
	Edits           []entities.Edit
	Events          []events.DomainEvent
}

// IsEmpty reports whether there is nothing to commit
func (cs Changeset) IsEmpty() bool {
	return len(cs.Messages) == 0 && len(cs.Branches) == 0 && len(cs.Edits) == 0 && cs.Version == cs.ExpectedVersion
}

// AppendOutcome describes the effect of an append
type AppendOutcome struct {
	Message       *entities.Message
	ParentID      *valueobjects.MessageID
	Branch        entities.Branch
	BranchCreated bool
}

// EditOutcome describes the effect of an edit-with-branch
type EditOutcome struct {
	NewMessage     *entities.Message
	NewBranch      entities.Branch
	Edit           entities.Edit
	OriginalBranch *entities.Branch
}

// NewConversation creates the empty conversation of a new chat
func NewConversation(chatID valueobjects.ChatID, cfg *config.DomainConfig) *Conversation {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	return &Conversation{
		chatID:   chatID,
		graph:    NewGraph(),
		branches: NewBranchRegistry(chatID),
		edits:    NewEditLedger(chatID),
		cfg:      cfg,
	}
}

// ReconstructConversation rebuilds a conversation from stored state. When the
// domain config asks for it, the graph and branch heads are checked and a
// violation is reported as GraphCorrupt.
func ReconstructConversation(
	chatID valueobjects.ChatID,
	graph *Graph,
	branches []entities.Branch,
	activeBranchID valueobjects.BranchID,
	edits []entities.Edit,
	version int64,
	cfg *config.DomainConfig,
) (*Conversation, error) {
	if cfg == nil {
		cfg = config.DefaultDomainConfig()
	}
	if graph == nil {
		graph = NewGraph()
	}

	if cfg.ValidateGraphOnLoad {
		if err := Validate(graph); err != nil {
			return nil, err
		}
		for _, b := range branches {
			if b.HeadMessageID != nil && !graph.Has(*b.HeadMessageID) {
				return nil, pkgerrors.NewGraphCorruptError(
					fmt.Sprintf("branch %s points at missing message %s", b.ID, *b.HeadMessageID))
			}
		}
	}

	return &Conversation{
		chatID:   chatID,
		graph:    graph,
		branches: ReconstructBranchRegistry(chatID, branches, activeBranchID),
		edits:    ReconstructEditLedger(chatID, edits),
		version:  version,
		cfg:      cfg,
	}, nil
}

// ChatID returns the owning chat
func (c *Conversation) ChatID() valueobjects.ChatID { return c.chatID }

// Graph returns the current graph snapshot. Graphs are never modified in place,
// so the snapshot stays valid after later mutations.
func (c *Conversation) Graph() *Graph { return c.graph }

// Version returns the committed version this conversation was loaded at
func (c *Conversation) Version() int64 { return c.version }

// Branches returns all branches oldest first
func (c *Conversation) Branches() []entities.Branch { return c.branches.ListForChat() }

// ActiveBranch returns the branch appends follow by default
func (c *Conversation) ActiveBranch() (entities.Branch, bool) { return c.branches.Active() }

// Branch returns a branch by id
func (c *Conversation) Branch(id valueobjects.BranchID) (entities.Branch, bool) {
	return c.branches.Get(id)
}

// Edits returns the edit ledger oldest first
func (c *Conversation) Edits() []entities.Edit { return c.edits.ListForChat() }

// Heads returns the graph's tips
func (c *Conversation) Heads() []valueobjects.MessageID { return Heads(c.graph) }

// AncestorChain returns root-to-head message ids
func (c *Conversation) AncestorChain(head valueobjects.MessageID) ([]valueobjects.MessageID, error) {
	return AncestorChain(c.graph, head)
}

// Siblings returns the alternatives at a message's position
func (c *Conversation) Siblings(id valueobjects.MessageID) ([]valueobjects.MessageID, error) {
	return Siblings(c.graph, id)
}

// Append inserts msg into the graph. With no parentID the message continues the
// active branch, or starts a root when the chat is empty. Afterwards the branch
// whose head was the parent advances; when none was, a new branch is created.
// Either way the affected branch becomes active.
func (c *Conversation) Append(msg *entities.Message, parentID *valueobjects.MessageID, now time.Time) (AppendOutcome, error) {
	if msg.ChatID() != c.chatID {
		return AppendOutcome{}, pkgerrors.NewInvalidReferenceError(
			fmt.Sprintf("message belongs to chat %s, not %s", msg.ChatID(), c.chatID))
	}
	if c.graph.Len() >= c.cfg.MaxMessagesPerChat {
		return AppendOutcome{}, pkgerrors.NewValidationError(
			fmt.Sprintf("chat has reached the maximum of %d messages", c.cfg.MaxMessagesPerChat))
	}

	parent := parentID
	if parent == nil {
		if active, ok := c.branches.Active(); ok && active.HeadMessageID != nil {
			parent = active.HeadMessageID
		}
	} else if !c.graph.Has(*parent) {
		return AppendOutcome{}, pkgerrors.NewUnknownMessageError(parent.String())
	}

	next, err := Insert(c.graph, msg.ID(), parent)
	if err != nil {
		return AppendOutcome{}, err
	}

	var advancing *entities.Branch
	if parent != nil {
		if b, ok := c.branches.FindByHead(*parent); ok {
			advancing = &b
		}
	}
	if advancing == nil && c.branches.Len() >= c.cfg.MaxBranchesPerChat {
		return AppendOutcome{}, pkgerrors.NewValidationError(
			fmt.Sprintf("chat has reached the maximum of %d branches", c.cfg.MaxBranchesPerChat))
	}

	// Nothing below can fail.
	c.graph = next
	out := AppendOutcome{Message: msg, ParentID: parent}
	if advancing != nil {
		oldHead := advancing.HeadMessageID
		out.Branch, _ = c.branches.Retarget(advancing.ID, msg.ID())
		_ = c.branches.SetActive(advancing.ID)
		c.addEvent(events.NewBranchRetargeted(c.chatID, out.Branch.ID, oldHead, msg.ID(), c.nextVersion(), now))
	} else {
		out.Branch = c.branches.CreateBranch(msg.ID(), now)
		out.BranchCreated = true
		c.addEvent(events.NewBranchCreated(c.chatID, out.Branch.ID, msg.ID(), c.nextVersion(), now))
	}

	c.pendingMessages = append(c.pendingMessages, msg)
	c.markBranch(out.Branch.ID)
	c.addEvent(events.NewMessageAppended(c.chatID, msg.ID(), parent, msg.Role().String(), out.Branch.ID, c.nextVersion(), now))
	return out, nil
}

// EditWithBranch forks edited as a sibling of original, opens a new active
// branch at edited and records the edit. The original message and its
// descendants are left exactly as they were.
func (c *Conversation) EditWithBranch(original, edited *entities.Message, now time.Time) (EditOutcome, error) {
	if !c.graph.Has(original.ID()) {
		return EditOutcome{}, pkgerrors.NewUnknownMessageError(original.ID().String())
	}
	if original.ChatID() != c.chatID || edited.ChatID() != c.chatID {
		return EditOutcome{}, pkgerrors.NewInvalidReferenceError("edited message belongs to another chat")
	}
	if !c.cfg.IsEditableRole(original.Role().String()) {
		return EditOutcome{}, pkgerrors.NewNotEditableError(original.ID().String(), original.Role().String())
	}
	if c.graph.Len() >= c.cfg.MaxMessagesPerChat {
		return EditOutcome{}, pkgerrors.NewValidationError(
			fmt.Sprintf("chat has reached the maximum of %d messages", c.cfg.MaxMessagesPerChat))
	}
	if c.branches.Len() >= c.cfg.MaxBranchesPerChat {
		return EditOutcome{}, pkgerrors.NewValidationError(
			fmt.Sprintf("chat has reached the maximum of %d branches", c.cfg.MaxBranchesPerChat))
	}

	originalBranch, err := c.BranchContaining(original.ID())
	if err != nil {
		return EditOutcome{}, err
	}

	next, err := ForkEdit(c.graph, edited.ID(), original.ID())
	if err != nil {
		return EditOutcome{}, err
	}

	// Nothing below can fail.
	c.graph = next
	branch := c.branches.CreateBranch(edited.ID(), now)
	edit := c.edits.Record(branch.ID, original.ID(), edited.ID(), edited.ID(), now)

	c.pendingMessages = append(c.pendingMessages, edited)
	c.markBranch(branch.ID)
	c.pendingEdits = append(c.pendingEdits, edit)
	c.addEvent(events.NewBranchCreated(c.chatID, branch.ID, edited.ID(), c.nextVersion(), now))
	c.addEvent(events.NewMessageEdited(c.chatID, edit.ID, original.ID(), edited.ID(), branch.ID, c.nextVersion(), now))

	return EditOutcome{
		NewMessage:     edited,
		NewBranch:      branch,
		Edit:           edit,
		OriginalBranch: originalBranch,
	}, nil
}

// RetargetBranch points a branch at an existing message and makes it active
func (c *Conversation) RetargetBranch(branchID valueobjects.BranchID, head valueobjects.MessageID, now time.Time) (entities.Branch, error) {
	current, ok := c.branches.Get(branchID)
	if !ok {
		return entities.Branch{}, pkgerrors.NewUnknownBranchError(branchID.String())
	}
	if !c.graph.Has(head) {
		return entities.Branch{}, pkgerrors.NewUnknownMessageError(head.String())
	}

	b, _ := c.branches.Retarget(branchID, head)
	_ = c.branches.SetActive(branchID)
	c.markBranch(branchID)
	c.addEvent(events.NewBranchRetargeted(c.chatID, branchID, current.HeadMessageID, head, c.nextVersion(), now))
	return b, nil
}

// BranchContaining finds the branch whose ancestor chain passes through id.
// The active branch is preferred, then the oldest. Nil when no branch does.
func (c *Conversation) BranchContaining(id valueobjects.MessageID) (*entities.Branch, error) {
	candidates := c.branches.ListForChat()
	if active, ok := c.branches.Active(); ok {
		candidates = append([]entities.Branch{active}, candidates...)
	}
	for _, b := range candidates {
		if b.HeadMessageID == nil {
			continue
		}
		chain, err := AncestorChain(c.graph, *b.HeadMessageID)
		if err != nil {
			return nil, err
		}
		if Contains(chain, id) {
			found := b
			return &found, nil
		}
	}
	return nil, nil
}

// Changes returns the pending mutations as a changeset
func (c *Conversation) Changes() Changeset {
	cs := Changeset{
		ChatID:          c.chatID,
		ExpectedVersion: c.version,
		Version:         c.version,
		Graph:           c.graph,
		ActiveBranchID:  c.branches.ActiveID(),
		Messages:        append([]*entities.Message(nil), c.pendingMessages...),
		Edits:           append([]entities.Edit(nil), c.pendingEdits...),
		Events:          append([]events.DomainEvent(nil), c.events...),
	}
	for _, id := range c.pendingBranches {
		if b, ok := c.branches.Get(id); ok {
			cs.Branches = append(cs.Branches, b)
		}
	}
	if c.isDirty() {
		cs.Version = c.version + 1
	}
	return cs
}

// MarkCommitted clears pending state after a successful store commit
func (c *Conversation) MarkCommitted() {
	if c.isDirty() {
		c.version++
	}
	c.pendingMessages = nil
	c.pendingBranches = nil
	c.pendingEdits = nil
	c.events = nil
}

// GetUncommittedEvents returns events raised since the last commit
func (c *Conversation) GetUncommittedEvents() []events.DomainEvent {
	return c.events
}

func (c *Conversation) isDirty() bool {
	return len(c.pendingMessages) > 0 || len(c.pendingBranches) > 0 || len(c.pendingEdits) > 0
}

func (c *Conversation) nextVersion() int {
	return int(c.version + 1)
}

func (c *Conversation) markBranch(id valueobjects.BranchID) {
	for _, existing := range c.pendingBranches {
		if existing == id {
			return
		}
	}
	c.pendingBranches = append(c.pendingBranches, id)
}

func (c *Conversation) addEvent(event events.DomainEvent) {
	c.events = append(c.events, event)
}
