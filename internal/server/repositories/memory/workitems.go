package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Adriatogi/common-voice-offline/internal/common"
	"github.com/Adriatogi/common-voice-offline/internal/server/models"
)

type workItemRepo struct {
	s *Store
}

func (r *workItemRepo) SeenTextIDs(_ context.Context, contributorID, language string) (map[string]struct{}, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, w := range r.s.d.items {
		if w.ContributorID == contributorID && w.Language == language {
			seen[w.TextID] = struct{}{}
		}
	}
	return seen, nil
}

// InsertBatch enforces the same unique keys as the SQL schema and inserts
// nothing when one of them would be violated.
func (r *workItemRepo) InsertBatch(_ context.Context, items []*models.WorkItem) error {
	defer r.s.lockWrite()()

	type posKey struct {
		contributor, batch string
		position           int
	}
	texts := make(map[[2]string]struct{})
	positions := make(map[posKey]struct{})
	for _, w := range r.s.d.items {
		texts[[2]string{w.ContributorID, w.TextID}] = struct{}{}
		positions[posKey{w.ContributorID, w.BatchID, w.Position}] = struct{}{}
	}
	for _, it := range items {
		tk := [2]string{it.ContributorID, it.TextID}
		pk := posKey{it.ContributorID, it.BatchID, it.Position}
		if _, dup := texts[tk]; dup {
			return fmt.Errorf("db error: duplicate text %s for contributor %s", it.TextID, it.ContributorID)
		}
		if _, dup := positions[pk]; dup {
			return fmt.Errorf("db error: duplicate position %d in batch %s", it.Position, it.BatchID)
		}
		texts[tk] = struct{}{}
		positions[pk] = struct{}{}
	}

	now := r.s.now()
	for _, it := range items {
		it.CreatedAt = now
		r.s.d.items[it.ID] = *it
	}
	return nil
}

func (r *workItemRepo) ListBatch(_ context.Context, contributorID, batchID string) ([]*models.ItemState, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.ItemState
	for _, w := range r.s.d.items {
		if w.ContributorID != contributorID || w.BatchID != batchID {
			continue
		}
		st := &models.ItemState{Item: w}
		if a, ok := r.s.d.attempts[w.ID]; ok {
			st.AttemptStatus = a.Status
			st.AttemptError = a.ErrorMessage
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item.Position < out[j].Item.Position })
	return out, nil
}

func (r *workItemRepo) GetActiveByPosition(_ context.Context, contributorID, batchID string, position int) (*models.WorkItem, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, w := range r.s.d.items {
		if w.ContributorID == contributorID && w.BatchID == batchID && w.Position == position && w.Unresolved() {
			return &w, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *workItemRepo) CountUnresolved(_ context.Context, contributorID, batchID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	n := 0
	for _, w := range r.s.d.items {
		if w.ContributorID == contributorID && w.BatchID == batchID && w.Unresolved() {
			n++
		}
	}
	return n, nil
}

func (r *workItemRepo) DiscardUnresolved(_ context.Context, contributorID, batchID string, at time.Time) (int64, error) {
	defer r.s.lockWrite()()

	var n int64
	for id, w := range r.s.d.items {
		if w.ContributorID == contributorID && w.BatchID == batchID && w.Unresolved() {
			t := at
			w.DiscardedAt = &t
			r.s.d.items[id] = w
			n++
		}
	}
	return n, nil
}

func (r *workItemRepo) MarkSkipped(_ context.Context, id string, at time.Time) error {
	return r.resolve(id, models.WorkItemSkipped, at)
}

func (r *workItemRepo) MarkUploaded(_ context.Context, id string, at time.Time) error {
	return r.resolve(id, models.WorkItemUploaded, at)
}

func (r *workItemRepo) resolve(id string, status models.WorkItemStatus, at time.Time) error {
	defer r.s.lockWrite()()

	w, ok := r.s.d.items[id]
	if !ok || w.Status != models.WorkItemActive {
		return common.ErrorNotFound
	}
	t := at
	w.Status = status
	w.ResolvedAt = &t
	r.s.d.items[id] = w
	return nil
}
