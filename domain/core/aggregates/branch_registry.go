package aggregates

import (
	"sort"
	"time"

	"chatgraph/domain/core/entities"
	"chatgraph/domain/core/valueobjects"
	pkgerrors "chatgraph/pkg/errors"
)

// BranchRegistry tracks the branch pointers of one chat. It does not consult
// the graph; Conversation enforces that every head exists before calling in.
type BranchRegistry struct {
	chatID   valueobjects.ChatID
	branches []entities.Branch
	index    map[valueobjects.BranchID]int
	nextSeq  int64
	activeID valueobjects.BranchID
}

// NewBranchRegistry creates an empty registry for chatID
func NewBranchRegistry(chatID valueobjects.ChatID) *BranchRegistry {
	return &BranchRegistry{
		chatID:  chatID,
		index:   make(map[valueobjects.BranchID]int),
		nextSeq: 1,
	}
}

// ReconstructBranchRegistry rebuilds a registry from stored branches. Order is
// recovered from each branch's sequence number.
func ReconstructBranchRegistry(chatID valueobjects.ChatID, branches []entities.Branch, activeID valueobjects.BranchID) *BranchRegistry {
	r := NewBranchRegistry(chatID)
	sorted := make([]entities.Branch, len(branches))
	copy(sorted, branches)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	for _, b := range sorted {
		r.index[b.ID] = len(r.branches)
		r.branches = append(r.branches, b)
		if b.Seq >= r.nextSeq {
			r.nextSeq = b.Seq + 1
		}
	}
	if _, ok := r.index[activeID]; ok {
		r.activeID = activeID
	}
	return r
}

// CreateBranch allocates a new branch pointing at head and makes it active
func (r *BranchRegistry) CreateBranch(head valueobjects.MessageID, now time.Time) entities.Branch {
	h := head
	b := entities.Branch{
		ID:            valueobjects.NewBranchID(),
		ChatID:        r.chatID,
		HeadMessageID: &h,
		Seq:           r.nextSeq,
		CreatedAt:     now,
	}
	r.nextSeq++
	r.index[b.ID] = len(r.branches)
	r.branches = append(r.branches, b)
	r.activeID = b.ID
	return b
}

// Retarget moves a branch head. The caller must have verified newHead exists
// in the chat's graph.
func (r *BranchRegistry) Retarget(branchID valueobjects.BranchID, newHead valueobjects.MessageID) (entities.Branch, error) {
	i, ok := r.index[branchID]
	if !ok {
		return entities.Branch{}, pkgerrors.NewUnknownBranchError(branchID.String())
	}
	h := newHead
	r.branches[i].HeadMessageID = &h
	return r.branches[i], nil
}

// SetActive marks a branch as the one appends follow by default
func (r *BranchRegistry) SetActive(branchID valueobjects.BranchID) error {
	if _, ok := r.index[branchID]; !ok {
		return pkgerrors.NewUnknownBranchError(branchID.String())
	}
	r.activeID = branchID
	return nil
}

// Get returns a branch by id
func (r *BranchRegistry) Get(branchID valueobjects.BranchID) (entities.Branch, bool) {
	i, ok := r.index[branchID]
	if !ok {
		return entities.Branch{}, false
	}
	return r.branches[i], true
}

// Active returns the active branch, if any
func (r *BranchRegistry) Active() (entities.Branch, bool) {
	if r.activeID == "" {
		return entities.Branch{}, false
	}
	return r.Get(r.activeID)
}

// ActiveID returns the active branch id, empty when none is set
func (r *BranchRegistry) ActiveID() valueobjects.BranchID {
	return r.activeID
}

// FindByHead returns the branch pointing at head. When several do, the active
// branch wins, then the oldest.
func (r *BranchRegistry) FindByHead(head valueobjects.MessageID) (entities.Branch, bool) {
	if active, ok := r.Active(); ok && active.HasHead(head) {
		return active, true
	}
	for _, b := range r.branches {
		if b.HasHead(head) {
			return b, true
		}
	}
	return entities.Branch{}, false
}

// ListForChat returns all branches, oldest-created first
func (r *BranchRegistry) ListForChat() []entities.Branch {
	out := make([]entities.Branch, len(r.branches))
	copy(out, r.branches)
	return out
}

// Len returns the number of branches
func (r *BranchRegistry) Len() int {
	return len(r.branches)
}

// Clone returns an independent copy
func (r *BranchRegistry) Clone() *BranchRegistry {
	return ReconstructBranchRegistry(r.chatID, r.branches, r.activeID)
}
