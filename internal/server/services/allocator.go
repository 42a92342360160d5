package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Adriatogi/common-voice-offline/internal/common"
	"github.com/Adriatogi/common-voice-offline/internal/dbx"
	"github.com/Adriatogi/common-voice-offline/internal/logging"
	"github.com/Adriatogi/common-voice-offline/internal/server/config"
	"github.com/Adriatogi/common-voice-offline/internal/server/corpus"
	"github.com/Adriatogi/common-voice-offline/internal/server/credentials"
	"github.com/Adriatogi/common-voice-offline/internal/server/locks"
	"github.com/Adriatogi/common-voice-offline/internal/server/metrics"
	"github.com/Adriatogi/common-voice-offline/internal/server/models"
	"github.com/Adriatogi/common-voice-offline/internal/server/repositories/repomanager"
)

// Allocator hands out batches of sentences a contributor has never seen.
type Allocator struct {
	runner      dbx.Runner
	repomanager repomanager.RepositoryManager
	cfg         *config.Config
	corpus      corpus.Service
	creds       *credentials.Manager
	locks       *locks.Keyed
	metrics     *metrics.Metrics
	logger      logging.Logger
	now         func() time.Time
}

func NewAllocator(runner dbx.Runner, m repomanager.RepositoryManager, cfg *config.Config, svc corpus.Service,
	creds *credentials.Manager, lk *locks.Keyed, mt *metrics.Metrics, logger logging.Logger) *Allocator {
	return &Allocator{
		runner:      runner,
		repomanager: m,
		cfg:         cfg,
		corpus:      svc,
		creds:       creds,
		locks:       lk,
		metrics:     mt,
		logger:      logger.With("module", "allocator"),
		now:         time.Now,
	}
}

// Allocate assigns up to n unseen sentences in language as a new batch.
// It refuses while the current batch still has unresolved items.
func (a *Allocator) Allocate(ctx context.Context, contributorID, language string, n int) (*models.Batch, error) {
	if n < 1 || n > a.cfg.MaxSentences {
		return nil, common.ErrInvalidCount
	}
	if !a.cfg.SupportsLanguage(language) {
		return nil, common.ErrUnsupportedLanguage
	}

	unlock, err := a.locks.Lock(ctx, contributorID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := a.contributor(ctx, contributorID)
	if err != nil {
		return nil, err
	}
	if c.CurrentBatchID != "" {
		open, err := a.repomanager.WorkItems(a.runner.DB()).CountUnresolved(ctx, c.ID, c.CurrentBatchID)
		if err != nil {
			return nil, fmt.Errorf("error counting unresolved items: %w", err)
		}
		if open > 0 {
			return nil, common.ErrBatchInProgress
		}
	}

	candidates, err := a.candidates(ctx, c.ID, language, n)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, common.ErrNoSentencesAvailable
	}

	batch := &models.Batch{ID: uuid.NewString(), Language: language, Requested: n}
	for i, s := range candidates {
		batch.Items = append(batch.Items, &models.WorkItem{
			ID:            uuid.NewString(),
			ContributorID: c.ID,
			Language:      language,
			BatchID:       batch.ID,
			Position:      i + 1,
			TextID:        s.TextID,
			Text:          s.Text,
			Hash:          s.Hash,
			Status:        models.WorkItemActive,
		})
	}

	err = a.runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := a.repomanager.WorkItems(tx).InsertBatch(ctx, batch.Items); err != nil {
			return fmt.Errorf("error inserting batch: %w", err)
		}
		if err := a.repomanager.Contributors(tx).SetCurrentBatch(ctx, c.ID, batch.ID, language); err != nil {
			return fmt.Errorf("error setting current batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.metrics.RecordBatch(len(batch.Items))
	a.logger.Info(ctx, "batch allocated", "contributor", c.ID, "batch", batch.ID, "language", language,
		"requested", n, "assigned", len(batch.Items))
	return batch, nil
}

// candidates pages through the corpus until n unseen sentences are found,
// a short page comes back or the page limit is reached. The corpus cannot
// exclude ids server-side, so the limit grows by the pages the
// contributor's history can fill.
func (a *Allocator) candidates(ctx context.Context, contributorID, language string, n int) ([]models.Sentence, error) {
	seen, err := a.repomanager.WorkItems(a.runner.DB()).SeenTextIDs(ctx, contributorID, language)
	if err != nil {
		return nil, fmt.Errorf("error loading history: %w", err)
	}

	token, err := a.creds.ServiceToken(ctx)
	if err != nil {
		return nil, err
	}

	size := a.cfg.AllocatorPageSize
	maxPages := a.cfg.AllocatorMaxPages + (len(seen)+size-1)/size
	var out []models.Sentence
	for page := 0; page < maxPages && len(out) < n; page++ {
		sentences, err := a.corpus.FetchSentences(ctx, token, language, size, page*size)
		if err != nil {
			if errors.Is(err, common.ErrTransient) {
				return nil, fmt.Errorf("error fetching sentences: %w", err)
			}
			return nil, fmt.Errorf("%w: error fetching sentences: %v", common.ErrTransient, err)
		}
		for _, s := range sentences {
			if _, dup := seen[s.TextID]; dup || s.TextID == "" {
				continue
			}
			seen[s.TextID] = struct{}{}
			out = append(out, s)
			if len(out) == n {
				break
			}
		}
		if len(sentences) < size {
			break
		}
	}
	return out, nil
}

// Clear discards the unresolved items of the current batch. Pending
// recordings block it unless force is set, in which case they are dropped.
func (a *Allocator) Clear(ctx context.Context, contributorID string, force bool) (int64, error) {
	unlock, err := a.locks.Lock(ctx, contributorID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	c, err := a.contributor(ctx, contributorID)
	if err != nil {
		return 0, err
	}
	if c.CurrentBatchID == "" {
		return 0, common.ErrNoActiveBatch
	}

	var discarded int64
	err = a.runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		recs := a.repomanager.Recordings(tx)
		pending, err := recs.CountPendingInBatch(ctx, c.ID, c.CurrentBatchID)
		if err != nil {
			return fmt.Errorf("error counting pending uploads: %w", err)
		}
		if pending > 0 {
			if !force {
				return common.ErrPendingUploads
			}
			if _, err := recs.DeletePendingInBatch(ctx, c.ID, c.CurrentBatchID); err != nil {
				return fmt.Errorf("error dropping pending uploads: %w", err)
			}
		}
		discarded, err = a.repomanager.WorkItems(tx).DiscardUnresolved(ctx, c.ID, c.CurrentBatchID, a.now())
		if err != nil {
			return fmt.Errorf("error discarding items: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	a.logger.Info(ctx, "batch cleared", "contributor", c.ID, "batch", c.CurrentBatchID, "discarded", discarded, "force", force)
	return discarded, nil
}

// Skip resolves the current batch item at position as skipped and drops
// its recording if it was not uploaded.
func (a *Allocator) Skip(ctx context.Context, contributorID string, position int) (*models.WorkItem, error) {
	unlock, err := a.locks.Lock(ctx, contributorID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := a.contributor(ctx, contributorID)
	if err != nil {
		return nil, err
	}
	if c.CurrentBatchID == "" {
		return nil, common.ErrNoActiveBatch
	}

	var item *models.WorkItem
	err = a.runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		items := a.repomanager.WorkItems(tx)
		var err error
		item, err = items.GetActiveByPosition(ctx, c.ID, c.CurrentBatchID, position)
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrUnknownPosition
		}
		if err != nil {
			return fmt.Errorf("error loading item: %w", err)
		}
		if err := a.repomanager.Recordings(tx).DeleteNotUploaded(ctx, item.ID); err != nil {
			return fmt.Errorf("error dropping recording: %w", err)
		}
		if err := items.MarkSkipped(ctx, item.ID, a.now()); err != nil {
			return fmt.Errorf("error skipping item: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Current lists the current batch with the state of each item.
func (a *Allocator) Current(ctx context.Context, contributorID string) ([]*models.ItemState, error) {
	c, err := a.contributor(ctx, contributorID)
	if err != nil {
		return nil, err
	}
	if c.CurrentBatchID == "" {
		return nil, common.ErrNoActiveBatch
	}
	return a.repomanager.WorkItems(a.runner.DB()).ListBatch(ctx, c.ID, c.CurrentBatchID)
}

// Item returns the unresolved current batch item at position.
func (a *Allocator) Item(ctx context.Context, contributorID string, position int) (*models.WorkItem, error) {
	c, err := a.contributor(ctx, contributorID)
	if err != nil {
		return nil, err
	}
	if c.CurrentBatchID == "" {
		return nil, common.ErrNoActiveBatch
	}
	item, err := a.repomanager.WorkItems(a.runner.DB()).GetActiveByPosition(ctx, c.ID, c.CurrentBatchID, position)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrUnknownPosition
	}
	return item, err
}

func (a *Allocator) contributor(ctx context.Context, id string) (*models.Contributor, error) {
	c, err := a.repomanager.Contributors(a.runner.DB()).GetByID(ctx, id)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrNotRegistered
	}
	if err != nil {
		return nil, fmt.Errorf("error loading contributor: %w", err)
	}
	return c, nil
}
