package handlers

import (
	"chatgraph/application/services"
	"chatgraph/domain/core/entities"
	"chatgraph/domain/core/valueobjects"
	"chatgraph/pkg/utils"
)

// Request bodies

// CreateChatRequest is the body of POST /chats and POST /projects/{projectID}/chats
type CreateChatRequest struct {
	Name        string `json:"name" validate:"max=200"`
	Description string `json:"description" validate:"max=10000"`
	ProjectID   string `json:"project_id,omitempty" validate:"omitempty,uuid"`
}

// RenameRequest is the body of PATCH /chats/{chatID} and PATCH /projects/{projectID}.
// An absent description is left unchanged.
type RenameRequest struct {
	Name        string  `json:"name" validate:"required,max=255"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=10000"`
}

// CreateProjectRequest is the body of POST /projects
type CreateProjectRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=10000"`
}

// AppendMessageRequest is the body of POST /chats/{chatID}/messages
type AppendMessageRequest struct {
	Role     string `json:"role" validate:"required,oneof=user assistant system"`
	Content  string `json:"content"`
	ParentID string `json:"parent_id,omitempty" validate:"omitempty,uuid"`
}

// EditMessageRequest is the body of POST /chats/{chatID}/messages/{messageID}/edit
type EditMessageRequest struct {
	NewContent string `json:"new_content"`
}

// RetargetBranchRequest is the body of PUT /chats/{chatID}/branches/{branchID}
type RetargetBranchRequest struct {
	HeadMessageID string `json:"head_message_id" validate:"required,uuid"`
}

// Responses

// ChatResponse is the wire form of a chat
type ChatResponse struct {
	ID          string  `json:"id"`
	OwnerID     string  `json:"owner_id"`
	ProjectID   *string `json:"project_id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// ProjectResponse is the wire form of a project
type ProjectResponse struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// MessageResponse is the wire form of a message
type MessageResponse struct {
	ID                string  `json:"id"`
	ChatID            string  `json:"chat_id"`
	Role              string  `json:"role"`
	Content           string  `json:"content"`
	Status            string  `json:"status"`
	OriginalMessageID *string `json:"original_message_id"`
	CreatedAt         string  `json:"created_at"`
}

// BranchResponse is the wire form of a branch pointer
type BranchResponse struct {
	ID            string  `json:"branch_id"`
	ChatID        string  `json:"chat_id"`
	HeadMessageID *string `json:"head_message_id"`
	CreatedAt     string  `json:"created_at"`
}

// BranchSummaryResponse is one entry of a branch listing
type BranchSummaryResponse struct {
	BranchID      string  `json:"branch_id"`
	HeadMessageID *string `json:"head_message_id"`
	IsActive      bool    `json:"is_active"`
	IsNewBranch   bool    `json:"is_new_branch"`
}

// EditRecordResponse is one entry of the edit ledger
type EditRecordResponse struct {
	EditID        string `json:"edit_id"`
	BranchID      string `json:"branch_id"`
	PrevMessageID string `json:"prev_message_id"`
	NewMessageID  string `json:"new_message_id"`
	NewHeadID     string `json:"new_head_id"`
	CreatedAt     string `json:"created_at"`
}

// AppendMessageResponse is returned by POST /chats/{chatID}/messages
type AppendMessageResponse struct {
	Message       MessageResponse `json:"message"`
	Branch        BranchResponse  `json:"branch"`
	BranchCreated bool            `json:"branch_created"`
}

// BranchViewResponse is a branch resolved to its messages
type BranchViewResponse struct {
	BranchID      string            `json:"branch_id,omitempty"`
	HeadMessageID string            `json:"head_message_id"`
	MessageCount  int               `json:"message_count"`
	Chain         []string          `json:"chain"`
	Messages      []MessageResponse `json:"messages"`
}

// DifferencesResponse describes what an edit changed
type DifferencesResponse struct {
	ChangedMessageID string `json:"changed_message_id"`
	OriginalContent  string `json:"original_content"`
	NewContent       string `json:"new_content"`
	DivergenceIndex  int    `json:"divergence_index"`
}

// ComparisonResponse places the original branch next to the new one
type ComparisonResponse struct {
	OriginalBranch BranchViewResponse  `json:"original_branch"`
	NewBranch      BranchViewResponse  `json:"new_branch"`
	Differences    DifferencesResponse `json:"differences"`
}

// EditMessageResponse is returned by the edit endpoint
type EditMessageResponse struct {
	NewMessage   MessageResponse         `json:"new_message"`
	NewBranch    BranchResponse          `json:"new_branch"`
	Edit         EditRecordResponse      `json:"edit"`
	UpdatedGraph interface{}             `json:"updated_graph"`
	Comparison   ComparisonResponse      `json:"comparison"`
	AllBranches  []BranchSummaryResponse `json:"all_branches"`
}

// HeadsResponse is returned by GET /chats/{chatID}/heads
type HeadsResponse struct {
	Heads []string `json:"heads"`
}

// SiblingsResponse is returned by GET /chats/{chatID}/siblings
type SiblingsResponse struct {
	Siblings []MessageResponse `json:"siblings"`
}

// ChainResponse is an ancestor chain with its messages
type ChainResponse struct {
	Chain    []string          `json:"chain"`
	Messages []MessageResponse `json:"messages"`
}

// CompareResponse is returned by GET /chats/{chatID}/compare
type CompareResponse struct {
	Left            BranchViewResponse `json:"left"`
	Right           BranchViewResponse `json:"right"`
	DivergenceIndex int                `json:"divergence_index"`
}

func toChatResponse(c *entities.Chat) ChatResponse {
	out := ChatResponse{
		ID:          c.ID().String(),
		OwnerID:     c.OwnerID(),
		Name:        c.Name(),
		Description: c.Description(),
		Status:      string(c.Status()),
		CreatedAt:   utils.FormatTime(c.CreatedAt()),
		UpdatedAt:   utils.FormatTime(c.UpdatedAt()),
	}
	if pid := c.ProjectID(); pid != nil {
		s := pid.String()
		out.ProjectID = &s
	}
	return out
}

func toProjectResponse(p *entities.Project) ProjectResponse {
	return ProjectResponse{
		ID:          p.ID().String(),
		OwnerID:     p.OwnerID(),
		Name:        p.Name(),
		Description: p.Description(),
		CreatedAt:   utils.FormatTime(p.CreatedAt()),
		UpdatedAt:   utils.FormatTime(p.UpdatedAt()),
	}
}

func toProjectResponses(projects []*entities.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(projects))
	for _, p := range projects {
		out = append(out, toProjectResponse(p))
	}
	return out
}

func toChatResponses(chats []*entities.Chat) []ChatResponse {
	out := make([]ChatResponse, 0, len(chats))
	for _, c := range chats {
		out = append(out, toChatResponse(c))
	}
	return out
}

func toMessageResponse(m *entities.Message) MessageResponse {
	return MessageResponse{
		ID:                m.ID().String(),
		ChatID:            m.ChatID().String(),
		Role:              m.Role().String(),
		Content:           m.Content().Text(),
		Status:            string(m.Status()),
		OriginalMessageID: idString(m.OriginalMessageID()),
		CreatedAt:         utils.FormatTime(m.CreatedAt()),
	}
}

func toMessageResponses(msgs []*entities.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	return out
}

func toBranchResponse(b entities.Branch) BranchResponse {
	return BranchResponse{
		ID:            b.ID.String(),
		ChatID:        b.ChatID.String(),
		HeadMessageID: idString(b.HeadMessageID),
		CreatedAt:     utils.FormatTime(b.CreatedAt),
	}
}

func toBranchSummaries(branches []services.BranchSummary) []BranchSummaryResponse {
	out := make([]BranchSummaryResponse, 0, len(branches))
	for _, b := range branches {
		out = append(out, BranchSummaryResponse{
			BranchID:      b.BranchID.String(),
			HeadMessageID: idString(b.HeadMessageID),
			IsActive:      b.IsActive,
			IsNewBranch:   b.IsNewBranch,
		})
	}
	return out
}

func toEditRecord(e entities.Edit) EditRecordResponse {
	return EditRecordResponse{
		EditID:        e.ID.String(),
		BranchID:      e.BranchID.String(),
		PrevMessageID: e.PrevMessageID.String(),
		NewMessageID:  e.NewMessageID.String(),
		NewHeadID:     e.NewHeadID.String(),
		CreatedAt:     utils.FormatTime(e.CreatedAt),
	}
}

func toEditRecords(edits []entities.Edit) []EditRecordResponse {
	out := make([]EditRecordResponse, 0, len(edits))
	for _, e := range edits {
		out = append(out, toEditRecord(e))
	}
	return out
}

func toBranchView(v services.BranchView) BranchViewResponse {
	return BranchViewResponse{
		BranchID:      v.BranchID.String(),
		HeadMessageID: v.HeadMessageID.String(),
		MessageCount:  v.MessageCount(),
		Chain:         idStrings(v.Chain),
		Messages:      toMessageResponses(v.Messages),
	}
}

func toEditResponse(res *services.EditResult) EditMessageResponse {
	return EditMessageResponse{
		NewMessage:   toMessageResponse(res.NewMessage),
		NewBranch:    toBranchResponse(res.NewBranch),
		Edit:         toEditRecord(res.Edit),
		UpdatedGraph: res.UpdatedGraph,
		Comparison: ComparisonResponse{
			OriginalBranch: toBranchView(res.Comparison.OriginalBranch),
			NewBranch:      toBranchView(res.Comparison.NewBranch),
			Differences: DifferencesResponse{
				ChangedMessageID: res.Comparison.Differences.ChangedMessageID.String(),
				OriginalContent:  res.Comparison.Differences.OriginalContent,
				NewContent:       res.Comparison.Differences.NewContent,
				DivergenceIndex:  res.Comparison.Differences.DivergenceIndex,
			},
		},
		AllBranches: toBranchSummaries(res.AllBranches),
	}
}

func idString(id *valueobjects.MessageID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func idStrings(ids []valueobjects.MessageID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
