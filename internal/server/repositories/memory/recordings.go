package memory

import (
	"context"
	"sort"
	"time"

	"github.com/Adriatogi/common-voice-offline/internal/common"
	"github.com/Adriatogi/common-voice-offline/internal/server/models"
	"github.com/google/uuid"
)

type recordingRepo struct {
	s *Store
}

func (r *recordingRepo) Upsert(_ context.Context, a *models.RecordingAttempt) (*models.RecordingAttempt, error) {
	defer r.s.lockWrite()()

	if _, ok := r.s.d.items[a.WorkItemID]; !ok {
		return nil, common.ErrorNotFound
	}

	now := r.s.now()
	cur, exists := r.s.d.attempts[a.WorkItemID]
	if !exists {
		cur = models.RecordingAttempt{ID: uuid.NewString(), WorkItemID: a.WorkItemID, CreatedAt: now}
	}
	cur.ArtifactRef = a.ArtifactRef
	cur.BackupPath = a.BackupPath
	cur.BackupError = a.BackupError
	cur.Status = models.AttemptPending
	cur.ErrorMessage = ""
	cur.UploadedAt = nil
	cur.UpdatedAt = now
	r.s.d.attempts[a.WorkItemID] = cur

	out := cur
	return &out, nil
}

func (r *recordingRepo) GetByWorkItem(_ context.Context, workItemID string) (*models.RecordingAttempt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	a, ok := r.s.d.attempts[workItemID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &a, nil
}

func (r *recordingRepo) DeleteNotUploaded(_ context.Context, workItemID string) error {
	defer r.s.lockWrite()()

	if a, ok := r.s.d.attempts[workItemID]; ok && a.Status != models.AttemptUploaded {
		delete(r.s.d.attempts, workItemID)
	}
	return nil
}

// pendingUnresolved must be called with the lock held.
func (r *recordingRepo) pendingUnresolved(contributorID, batchID string) []string {
	var ids []string
	for wid, a := range r.s.d.attempts {
		w := r.s.d.items[wid]
		if a.Status == models.AttemptPending && w.ContributorID == contributorID && w.BatchID == batchID && w.Unresolved() {
			ids = append(ids, wid)
		}
	}
	return ids
}

func (r *recordingRepo) DeletePendingInBatch(_ context.Context, contributorID, batchID string) (int64, error) {
	defer r.s.lockWrite()()

	ids := r.pendingUnresolved(contributorID, batchID)
	for _, wid := range ids {
		delete(r.s.d.attempts, wid)
	}
	return int64(len(ids)), nil
}

func (r *recordingRepo) CountPendingInBatch(_ context.Context, contributorID, batchID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return len(r.pendingUnresolved(contributorID, batchID)), nil
}

func (r *recordingRepo) CountPending(_ context.Context, contributorID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	n := 0
	for wid, a := range r.s.d.attempts {
		if a.Status == models.AttemptPending && r.s.d.items[wid].ContributorID == contributorID {
			n++
		}
	}
	return n, nil
}

func (r *recordingRepo) ListPending(_ context.Context, contributorID string) ([]*models.PendingUpload, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.PendingUpload
	for wid, a := range r.s.d.attempts {
		w := r.s.d.items[wid]
		if a.Status == models.AttemptPending && w.ContributorID == contributorID && w.Unresolved() {
			out = append(out, &models.PendingUpload{Attempt: a, Item: w})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item.Position < out[j].Item.Position })
	return out, nil
}

func (r *recordingRepo) ContributorsWithPending(_ context.Context) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	set := make(map[string]struct{})
	for wid, a := range r.s.d.attempts {
		if a.Status == models.AttemptPending {
			set[r.s.d.items[wid].ContributorID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *recordingRepo) RetryFailed(_ context.Context, contributorID string) (int64, error) {
	defer r.s.lockWrite()()

	var n int64
	for wid, a := range r.s.d.attempts {
		w := r.s.d.items[wid]
		if a.Status == models.AttemptFailed && w.ContributorID == contributorID && w.Unresolved() {
			a.Status = models.AttemptPending
			a.ErrorMessage = ""
			a.UpdatedAt = r.s.now()
			r.s.d.attempts[wid] = a
			n++
		}
	}
	return n, nil
}

func (r *recordingRepo) IncrementSubmitCount(_ context.Context, id string) error {
	defer r.s.lockWrite()()

	for wid, a := range r.s.d.attempts {
		if a.ID == id {
			a.SubmitCount++
			r.s.d.attempts[wid] = a
			return nil
		}
	}
	return nil
}

func (r *recordingRepo) MarkUploaded(_ context.Context, id, artifactRef string, at time.Time) (bool, error) {
	return r.transition(id, artifactRef, func(a *models.RecordingAttempt) {
		t := at
		a.Status = models.AttemptUploaded
		a.UploadedAt = &t
		a.ErrorMessage = ""
	})
}

func (r *recordingRepo) MarkFailed(_ context.Context, id, artifactRef, reason string) (bool, error) {
	return r.transition(id, artifactRef, func(a *models.RecordingAttempt) {
		a.Status = models.AttemptFailed
		a.ErrorMessage = reason
	})
}

func (r *recordingRepo) transition(id, artifactRef string, fn func(a *models.RecordingAttempt)) (bool, error) {
	defer r.s.lockWrite()()

	for wid, a := range r.s.d.attempts {
		if a.ID != id {
			continue
		}
		if a.Status != models.AttemptPending || a.ArtifactRef != artifactRef {
			return false, nil
		}
		fn(&a)
		a.UpdatedAt = r.s.now()
		r.s.d.attempts[wid] = a
		return true, nil
	}
	return false, nil
}
