package dynamodb

import (
	"fmt"
	"time"

	"chatgraph/domain/core/aggregates"
	"chatgraph/domain/core/entities"
	"chatgraph/domain/core/valueobjects"
)

// Single-table layout. Everything about a chat lives in the CHAT#<id> partition:
//
//	SK META              chat metadata, version, active branch
//	SK MSG#<id>          one message with its parent id and insertion ordinal
//	SK BRANCH#<id>       one branch pointer
//	SK EDIT#<seq>#<id>   one edit record, zero-padded seq keeps ledger order
//
// A project is a single PROJECT#<id> / META item. GSI1 (GSI1PK = USER#<owner>,
// GSI1SK = CHAT#<id> or PROJECT#<id>) lists a user's chats and projects.
//
// The graph is never stored as one value. LoadConversation rebuilds it from
// the (MessageID, ParentID, Ordinal) projection of the MSG# items, so no
// single item grows with the conversation.
const (
	entityChat    = "CHAT"
	entityMessage = "MESSAGE"
	entityBranch  = "BRANCH"
	entityEdit    = "EDIT"
	entityProject = "PROJECT"

	skMeta        = "META"
	skMessagePfx  = "MSG#"
	skBranchPfx   = "BRANCH#"
	skEditPfx     = "EDIT#"
	gsiChatPfx    = "CHAT#"
	gsiProjectPfx = "PROJECT#"
	gsiOwnerIndex = "GSI1"
	timeLayout    = time.RFC3339Nano
)

func chatPK(id valueobjects.ChatID) string       { return gsiChatPfx + id.String() }
func projectPK(id valueobjects.ProjectID) string { return gsiProjectPfx + id.String() }
func ownerPK(owner string) string                { return "USER#" + owner }

func messageSK(id valueobjects.MessageID) string { return skMessagePfx + id.String() }
func branchSK(id valueobjects.BranchID) string   { return skBranchPfx + id.String() }
func editSK(seq int64, id valueobjects.EditID) string {
	return fmt.Sprintf("%s%012d#%s", skEditPfx, seq, id)
}

// chatItem is the META item of a chat partition
type chatItem struct {
	PK             string `dynamodbav:"PK"`
	SK             string `dynamodbav:"SK"`
	GSI1PK         string `dynamodbav:"GSI1PK"`
	GSI1SK         string `dynamodbav:"GSI1SK"`
	EntityType     string `dynamodbav:"EntityType"`
	ChatID         string `dynamodbav:"ChatID"`
	OwnerID        string `dynamodbav:"OwnerID"`
	ProjectID      string `dynamodbav:"ProjectID,omitempty"`
	Name           string `dynamodbav:"Name"`
	Description    string `dynamodbav:"Description"`
	Status         string `dynamodbav:"Status"`
	Version        int64  `dynamodbav:"Version"`
	ActiveBranchID string `dynamodbav:"ActiveBranchID"`
	CreatedAt      string `dynamodbav:"CreatedAt"`
	UpdatedAt      string `dynamodbav:"UpdatedAt"`
}

type messageItem struct {
	PK                string `dynamodbav:"PK"`
	SK                string `dynamodbav:"SK"`
	EntityType        string `dynamodbav:"EntityType"`
	MessageID         string `dynamodbav:"MessageID"`
	ChatID            string `dynamodbav:"ChatID"`
	Role              string `dynamodbav:"Role"`
	Content           string `dynamodbav:"Content"`
	Status            string `dynamodbav:"Status"`
	OriginalMessageID string `dynamodbav:"OriginalMessageID,omitempty"`
	ParentID          string `dynamodbav:"ParentID,omitempty"`
	Ordinal           int    `dynamodbav:"Ordinal"`
	CreatedAt         string `dynamodbav:"CreatedAt"`
}

type branchItem struct {
	PK            string `dynamodbav:"PK"`
	SK            string `dynamodbav:"SK"`
	EntityType    string `dynamodbav:"EntityType"`
	BranchID      string `dynamodbav:"BranchID"`
	ChatID        string `dynamodbav:"ChatID"`
	HeadMessageID string `dynamodbav:"HeadMessageID,omitempty"`
	Seq           int64  `dynamodbav:"Seq"`
	CreatedAt     string `dynamodbav:"CreatedAt"`
}

type editItem struct {
	PK            string `dynamodbav:"PK"`
	SK            string `dynamodbav:"SK"`
	EntityType    string `dynamodbav:"EntityType"`
	EditID        string `dynamodbav:"EditID"`
	ChatID        string `dynamodbav:"ChatID"`
	BranchID      string `dynamodbav:"BranchID"`
	PrevMessageID string `dynamodbav:"PrevMessageID"`
	NewMessageID  string `dynamodbav:"NewMessageID"`
	NewHeadID     string `dynamodbav:"NewHeadID"`
	Seq           int64  `dynamodbav:"Seq"`
	CreatedAt     string `dynamodbav:"CreatedAt"`
}

func newChatItem(chat *entities.Chat) chatItem {
	item := chatItem{
		PK:          chatPK(chat.ID()),
		SK:          skMeta,
		GSI1PK:      ownerPK(chat.OwnerID()),
		GSI1SK:      chatPK(chat.ID()),
		EntityType:  entityChat,
		ChatID:      chat.ID().String(),
		OwnerID:     chat.OwnerID(),
		Name:        chat.Name(),
		Description: chat.Description(),
		Status:      string(chat.Status()),
		CreatedAt:   chat.CreatedAt().Format(timeLayout),
		UpdatedAt:   chat.UpdatedAt().Format(timeLayout),
	}
	if pid := chat.ProjectID(); pid != nil {
		item.ProjectID = pid.String()
	}
	return item
}

func (i chatItem) toEntity() *entities.Chat {
	var projectID *valueobjects.ProjectID
	if i.ProjectID != "" {
		p := valueobjects.ProjectID(i.ProjectID)
		projectID = &p
	}
	return entities.ReconstructChat(
		valueobjects.ChatID(i.ChatID), i.OwnerID, projectID, i.Name, i.Description, entities.ChatStatus(i.Status),
		parseTime(i.CreatedAt), parseTime(i.UpdatedAt),
	)
}

// projectItem is the only item of a project partition
type projectItem struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	GSI1PK      string `dynamodbav:"GSI1PK"`
	GSI1SK      string `dynamodbav:"GSI1SK"`
	EntityType  string `dynamodbav:"EntityType"`
	ProjectID   string `dynamodbav:"ProjectID"`
	OwnerID     string `dynamodbav:"OwnerID"`
	Name        string `dynamodbav:"Name"`
	Description string `dynamodbav:"Description"`
	CreatedAt   string `dynamodbav:"CreatedAt"`
	UpdatedAt   string `dynamodbav:"UpdatedAt"`
}

func newProjectItem(p *entities.Project) projectItem {
	return projectItem{
		PK:          projectPK(p.ID()),
		SK:          skMeta,
		GSI1PK:      ownerPK(p.OwnerID()),
		GSI1SK:      projectPK(p.ID()),
		EntityType:  entityProject,
		ProjectID:   p.ID().String(),
		OwnerID:     p.OwnerID(),
		Name:        p.Name(),
		Description: p.Description(),
		CreatedAt:   p.CreatedAt().Format(timeLayout),
		UpdatedAt:   p.UpdatedAt().Format(timeLayout),
	}
}

func (i projectItem) toEntity() *entities.Project {
	return entities.ReconstructProject(
		valueobjects.ProjectID(i.ProjectID), i.OwnerID, i.Name, i.Description,
		parseTime(i.CreatedAt), parseTime(i.UpdatedAt),
	)
}

func newMessageItem(m *entities.Message, parent *valueobjects.MessageID, ordinal int) messageItem {
	item := messageItem{
		PK:         chatPK(m.ChatID()),
		SK:         messageSK(m.ID()),
		EntityType: entityMessage,
		MessageID:  m.ID().String(),
		ChatID:     m.ChatID().String(),
		Role:       m.Role().String(),
		Content:    m.Content().Text(),
		Status:     string(m.Status()),
		Ordinal:    ordinal,
		CreatedAt:  m.CreatedAt().Format(timeLayout),
	}
	if o := m.OriginalMessageID(); o != nil {
		item.OriginalMessageID = o.String()
	}
	if parent != nil {
		item.ParentID = parent.String()
	}
	return item
}

// link is the adjacency row this message contributes to the graph
func (i messageItem) link() aggregates.ParentLink {
	l := aggregates.ParentLink{ID: valueobjects.MessageID(i.MessageID)}
	if i.ParentID != "" {
		l.Parent = valueobjects.MessageID(i.ParentID).Ptr()
	}
	return l
}

func (i messageItem) toEntity() *entities.Message {
	var original *valueobjects.MessageID
	if i.OriginalMessageID != "" {
		original = valueobjects.MessageID(i.OriginalMessageID).Ptr()
	}
	return entities.ReconstructMessage(
		valueobjects.MessageID(i.MessageID),
		valueobjects.ChatID(i.ChatID),
		valueobjects.Role(i.Role),
		valueobjects.RestoreMessageContent(i.Content),
		entities.MessageStatus(i.Status),
		original,
		parseTime(i.CreatedAt),
	)
}

func newBranchItem(b entities.Branch) branchItem {
	item := branchItem{
		PK:         chatPK(b.ChatID),
		SK:         branchSK(b.ID),
		EntityType: entityBranch,
		BranchID:   b.ID.String(),
		ChatID:     b.ChatID.String(),
		Seq:        b.Seq,
		CreatedAt:  b.CreatedAt.Format(timeLayout),
	}
	if b.HeadMessageID != nil {
		item.HeadMessageID = b.HeadMessageID.String()
	}
	return item
}

func (i branchItem) toEntity() entities.Branch {
	b := entities.Branch{
		ID:        valueobjects.BranchID(i.BranchID),
		ChatID:    valueobjects.ChatID(i.ChatID),
		Seq:       i.Seq,
		CreatedAt: parseTime(i.CreatedAt),
	}
	if i.HeadMessageID != "" {
		b.HeadMessageID = valueobjects.MessageID(i.HeadMessageID).Ptr()
	}
	return b
}

func newEditItem(e entities.Edit) editItem {
	return editItem{
		PK:            chatPK(e.ChatID),
		SK:            editSK(e.Seq, e.ID),
		EntityType:    entityEdit,
		EditID:        e.ID.String(),
		ChatID:        e.ChatID.String(),
		BranchID:      e.BranchID.String(),
		PrevMessageID: e.PrevMessageID.String(),
		NewMessageID:  e.NewMessageID.String(),
		NewHeadID:     e.NewHeadID.String(),
		Seq:           e.Seq,
		CreatedAt:     e.CreatedAt.Format(timeLayout),
	}
}

func (i editItem) toEntity() entities.Edit {
	return entities.Edit{
		ID:            valueobjects.EditID(i.EditID),
		ChatID:        valueobjects.ChatID(i.ChatID),
		BranchID:      valueobjects.BranchID(i.BranchID),
		PrevMessageID: valueobjects.MessageID(i.PrevMessageID),
		NewMessageID:  valueobjects.MessageID(i.NewMessageID),
		NewHeadID:     valueobjects.MessageID(i.NewHeadID),
		Seq:           i.Seq,
		CreatedAt:     parseTime(i.CreatedAt),
	}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
