package aggregates

import (
	"sort"
	"time"

	"chatgraph/domain/core/entities"
	"chatgraph/domain/core/valueobjects"
)

// EditLedger is the append-only edit history of one chat
type EditLedger struct {
	chatID  valueobjects.ChatID
	edits   []entities.Edit
	nextSeq int64
}

// NewEditLedger creates an empty ledger
func NewEditLedger(chatID valueobjects.ChatID) *EditLedger {
	return &EditLedger{chatID: chatID, nextSeq: 1}
}

// ReconstructEditLedger rebuilds a ledger from stored records
func ReconstructEditLedger(chatID valueobjects.ChatID, edits []entities.Edit) *EditLedger {
	l := NewEditLedger(chatID)
	l.edits = make([]entities.Edit, len(edits))
	copy(l.edits, edits)
	sort.SliceStable(l.edits, func(i, j int) bool { return l.edits[i].Seq < l.edits[j].Seq })
	for _, e := range l.edits {
		if e.Seq >= l.nextSeq {
			l.nextSeq = e.Seq + 1
		}
	}
	return l
}

// Record appends one immutable edit record
func (l *EditLedger) Record(
	branchID valueobjects.BranchID,
	prevMessageID, newMessageID, newHeadID valueobjects.MessageID,
	now time.Time,
) entities.Edit {
	e := entities.Edit{
		ID:            valueobjects.NewEditID(),
		ChatID:        l.chatID,
		BranchID:      branchID,
		PrevMessageID: prevMessageID,
		NewMessageID:  newMessageID,
		NewHeadID:     newHeadID,
		Seq:           l.nextSeq,
		CreatedAt:     now,
	}
	l.nextSeq++
	l.edits = append(l.edits, e)
	return e
}

// ListForChat returns all edits, oldest first
func (l *EditLedger) ListForChat() []entities.Edit {
	out := make([]entities.Edit, len(l.edits))
	copy(out, l.edits)
	return out
}

// Len returns the number of edits
func (l *EditLedger) Len() int {
	return len(l.edits)
}
