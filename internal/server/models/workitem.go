package models

import "time"

type WorkItemStatus string

const (
	WorkItemActive   WorkItemStatus = "active"
	WorkItemUploaded WorkItemStatus = "uploaded"
	WorkItemSkipped  WorkItemStatus = "skipped"
)

// WorkItem is one sentence assigned to a contributor. A text id is assigned
// to the same contributor at most once, across all statuses and batches.
type WorkItem struct {
	ID            string
	ContributorID string
	Language      string
	BatchID       string
	Position      int
	TextID        string
	Text          string
	Hash          string
	Status        WorkItemStatus
	DiscardedAt   *time.Time
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

// Unresolved reports whether the item still waits for a recording.
func (w *WorkItem) Unresolved() bool {
	return w.Status == WorkItemActive && w.DiscardedAt == nil
}

// Sentence is a candidate text received from the corpus service.
type Sentence struct {
	TextID string `json:"textId"`
	Text   string `json:"text"`
	Hash   string `json:"hash"`
}

// Batch is the result of one allocation.
type Batch struct {
	ID        string
	Language  string
	Requested int
	Items     []*WorkItem
}

// ItemState pairs a work item with the status of its attempt, if any.
// AttemptStatus is "" when nothing was recorded yet.
type ItemState struct {
	Item          WorkItem
	AttemptStatus AttemptStatus
	AttemptError  string
}
