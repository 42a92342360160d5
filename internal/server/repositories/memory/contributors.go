package memory

import (
	"context"
	"strings"
	"time"

	"github.com/Adriatogi/common-voice-offline/internal/common"
	"github.com/Adriatogi/common-voice-offline/internal/server/models"
	"github.com/google/uuid"
)

type contributorRepo struct {
	s *Store
}

func (r *contributorRepo) Create(_ context.Context, c *models.Contributor) (*models.Contributor, error) {
	defer r.s.lockWrite()()

	for _, existing := range r.s.d.contributors {
		if existing.CorpusUserID == c.CorpusUserID {
			return nil, common.ErrDuplicateIdentity
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := r.s.now()
	c.CreatedAt, c.UpdatedAt = now, now
	r.s.d.contributors[c.ID] = *c
	out := *c
	return &out, nil
}

func (r *contributorRepo) GetByID(_ context.Context, id string) (*models.Contributor, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	c, ok := r.s.d.contributors[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &c, nil
}

func (r *contributorRepo) GetByEmail(_ context.Context, email string) (*models.Contributor, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var found *models.Contributor
	for _, c := range r.s.d.contributors {
		if !strings.EqualFold(c.Email, email) {
			continue
		}
		if found == nil || c.CreatedAt.Before(found.CreatedAt) {
			c := c
			found = &c
		}
	}
	if found == nil {
		return nil, common.ErrorNotFound
	}
	return found, nil
}

func (r *contributorRepo) GetByChat(ctx context.Context, chatID string) (*models.Contributor, error) {
	r.s.mu.RLock()
	b, ok := r.s.d.bindings[chatID]
	r.s.mu.RUnlock()
	if !ok {
		return nil, common.ErrorNotFound
	}
	return r.GetByID(ctx, b.ContributorID)
}

func (r *contributorRepo) update(id string, fn func(c *models.Contributor)) error {
	defer r.s.lockWrite()()

	c, ok := r.s.d.contributors[id]
	if !ok {
		return common.ErrorNotFound
	}
	fn(&c)
	c.UpdatedAt = r.s.now()
	r.s.d.contributors[id] = c
	return nil
}

func (r *contributorRepo) UpdateFacets(_ context.Context, id, age, gender string) error {
	return r.update(id, func(c *models.Contributor) { c.Age, c.Gender = age, gender })
}

func (r *contributorRepo) SetLanguage(_ context.Context, id, language string) error {
	return r.update(id, func(c *models.Contributor) { c.CurrentLanguage = language })
}

func (r *contributorRepo) SetCurrentBatch(_ context.Context, id, batchID, language string) error {
	return r.update(id, func(c *models.Contributor) {
		c.CurrentBatchID = batchID
		c.CurrentLanguage = language
	})
}

func (r *contributorRepo) SaveCredential(_ context.Context, id string, sealedAccess []byte, expires *time.Time, sealedRefresh []byte) error {
	return r.update(id, func(c *models.Contributor) {
		c.SealedAccessToken = sealedAccess
		c.AccessTokenExpires = expires
		if sealedRefresh != nil {
			c.SealedRefreshToken = sealedRefresh
		}
		c.CredentialFailures = 0
		c.CredentialError = ""
	})
}

func (r *contributorRepo) RecordCredentialFailure(_ context.Context, id, reason string) error {
	return r.update(id, func(c *models.Contributor) {
		c.CredentialFailures++
		c.CredentialError = reason
	})
}

// Delete cascades like the foreign keys do in Postgres.
func (r *contributorRepo) Delete(_ context.Context, id string) error {
	defer r.s.lockWrite()()

	if _, ok := r.s.d.contributors[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.s.d.contributors, id)
	for chat, b := range r.s.d.bindings {
		if b.ContributorID == id {
			delete(r.s.d.bindings, chat)
		}
	}
	for wid, w := range r.s.d.items {
		if w.ContributorID == id {
			delete(r.s.d.items, wid)
			delete(r.s.d.attempts, wid)
		}
	}
	return nil
}

func (r *contributorRepo) BindChat(_ context.Context, chatID, contributorID string) error {
	defer r.s.lockWrite()()

	if _, ok := r.s.d.contributors[contributorID]; !ok {
		return common.ErrorNotFound
	}
	r.s.d.bindings[chatID] = models.ChatBinding{ChatID: chatID, ContributorID: contributorID, BoundAt: r.s.now()}
	return nil
}

func (r *contributorRepo) UnbindChat(_ context.Context, chatID string) error {
	defer r.s.lockWrite()()

	delete(r.s.d.bindings, chatID)
	return nil
}
