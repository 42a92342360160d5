package memory

import (
	"context"
	"sort"

	"github.com/Adriatogi/common-voice-offline/internal/server/models"
)

type statsRepo struct {
	s *Store
}

func (r *statsRepo) ContributorStats(_ context.Context, contributorID, batchID string) (*models.ContributorStats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var st models.ContributorStats
	for wid, w := range r.s.d.items {
		if w.ContributorID != contributorID {
			continue
		}
		switch w.Status {
		case models.WorkItemUploaded:
			st.LifetimeUploaded++
		case models.WorkItemSkipped:
			st.LifetimeSkipped++
		}
		if batchID == "" || w.BatchID != batchID {
			continue
		}
		switch w.Status {
		case models.WorkItemUploaded:
			st.Uploaded++
		case models.WorkItemSkipped:
			st.Skipped++
		}
		if w.DiscardedAt != nil {
			continue
		}
		st.Assigned++
		if w.Status != models.WorkItemActive {
			continue
		}
		a, ok := r.s.d.attempts[wid]
		switch {
		case !ok:
			st.Unrecorded++
		case a.Status == models.AttemptPending:
			st.Pending++
		case a.Status == models.AttemptFailed:
			st.Failed++
		}
	}
	return &st, nil
}

func (r *statsRepo) LanguageStats(context.Context) ([]models.LanguageStats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	type agg struct {
		contributors map[string]struct{}
		uploaded     int
	}
	by := make(map[string]*agg)
	for wid, w := range r.s.d.items {
		a := by[w.Language]
		if a == nil {
			a = &agg{contributors: make(map[string]struct{})}
			by[w.Language] = a
		}
		a.contributors[w.ContributorID] = struct{}{}
		if att, ok := r.s.d.attempts[wid]; ok && att.Status == models.AttemptUploaded {
			a.uploaded++
		}
	}

	out := make([]models.LanguageStats, 0, len(by))
	for lang, a := range by {
		out = append(out, models.LanguageStats{Language: lang, Contributors: len(a.contributors), RecordingsUploaded: a.uploaded})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Language < out[j].Language })
	return out, nil
}
