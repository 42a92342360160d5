package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Adriatogi/common-voice-offline/internal/common"
	"github.com/Adriatogi/common-voice-offline/internal/dbx"
	"github.com/Adriatogi/common-voice-offline/internal/logging"
	"github.com/Adriatogi/common-voice-offline/internal/server/backup"
	"github.com/Adriatogi/common-voice-offline/internal/server/locks"
	"github.com/Adriatogi/common-voice-offline/internal/server/metrics"
	"github.com/Adriatogi/common-voice-offline/internal/server/models"
	"github.com/Adriatogi/common-voice-offline/internal/server/repositories/repomanager"
)

// ArtifactFetcher downloads recorded audio by its messaging platform
// reference. Fetch wraps common.ErrArtifactUnavailable when the platform
// will never serve ref again.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

type CaptureService struct {
	runner      dbx.Runner
	repomanager repomanager.RepositoryManager
	locks       *locks.Keyed
	fetcher     ArtifactFetcher
	sink        backup.Sink
	metrics     *metrics.Metrics
	logger      logging.Logger
}

// NewCaptureService builds the capture service. sink may be nil when no
// backup is configured.
func NewCaptureService(runner dbx.Runner, m repomanager.RepositoryManager, lk *locks.Keyed, fetcher ArtifactFetcher,
	sink backup.Sink, mt *metrics.Metrics, logger logging.Logger) *CaptureService {
	return &CaptureService{
		runner:      runner,
		repomanager: m,
		locks:       lk,
		fetcher:     fetcher,
		sink:        sink,
		metrics:     mt,
		logger:      logger.With("module", "capture"),
	}
}

// Capture binds artifactRef to the unresolved current batch item at
// position, replacing any earlier recording that was not uploaded yet.
func (s *CaptureService) Capture(ctx context.Context, contributorID string, position int, artifactRef string) (*models.RecordingAttempt, error) {
	unlock, err := s.locks.Lock(ctx, contributorID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := s.repomanager.Contributors(s.runner.DB()).GetByID(ctx, contributorID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrNotRegistered
	}
	if err != nil {
		return nil, fmt.Errorf("error loading contributor: %w", err)
	}
	if c.CurrentBatchID == "" {
		return nil, common.ErrUnknownPosition
	}

	item, err := s.repomanager.WorkItems(s.runner.DB()).GetActiveByPosition(ctx, c.ID, c.CurrentBatchID, position)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrUnknownPosition
	}
	if err != nil {
		return nil, fmt.Errorf("error loading item: %w", err)
	}

	attempt := &models.RecordingAttempt{WorkItemID: item.ID, ArtifactRef: artifactRef, Status: models.AttemptPending}
	if s.sink != nil {
		attempt.BackupPath, err = s.backup(ctx, item, artifactRef)
		if err != nil {
			attempt.BackupError = err.Error()
			s.logger.Warn(ctx, "backup failed", "contributor", c.ID, "item", item.ID, "error", err)
		}
	}

	var saved *models.RecordingAttempt
	err = s.runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		// re-check inside the transaction: the item must still be open
		if _, err := s.repomanager.WorkItems(tx).GetActiveByPosition(ctx, c.ID, c.CurrentBatchID, position); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrUnknownPosition
			}
			return fmt.Errorf("error loading item: %w", err)
		}
		var err error
		saved, err = s.repomanager.Recordings(tx).Upsert(ctx, attempt)
		if err != nil {
			return fmt.Errorf("error saving recording: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordCapture(attempt.BackupError != "")
	s.logger.Info(ctx, "recording captured", "contributor", c.ID, "item", item.ID, "position", position)
	return saved, nil
}

func (s *CaptureService) backup(ctx context.Context, item *models.WorkItem, ref string) (string, error) {
	data, err := s.fetcher.Fetch(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("fetch artifact: %w", err)
	}
	return s.sink.Store(ctx, backup.Key(item.ContributorID, item.BatchID, item.Position, item.TextID), data)
}
