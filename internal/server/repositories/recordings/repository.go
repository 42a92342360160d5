package recordings

import (
	"context"
	"time"

	"github.com/Adriatogi/common-voice-offline/internal/server/models"
)

type Repository interface {
	// Upsert creates the attempt for a work item or replaces the existing
	// one: new artifact, status pending, error and upload time cleared.
	Upsert(ctx context.Context, a *models.RecordingAttempt) (*models.RecordingAttempt, error)
	GetByWorkItem(ctx context.Context, workItemID string) (*models.RecordingAttempt, error)
	DeleteNotUploaded(ctx context.Context, workItemID string) error
	DeletePendingInBatch(ctx context.Context, contributorID, batchID string) (int64, error)
	CountPendingInBatch(ctx context.Context, contributorID, batchID string) (int, error)
	CountPending(ctx context.Context, contributorID string) (int, error)

	ListPending(ctx context.Context, contributorID string) ([]*models.PendingUpload, error)
	ContributorsWithPending(ctx context.Context) ([]string, error)
	RetryFailed(ctx context.Context, contributorID string) (int64, error)
	IncrementSubmitCount(ctx context.Context, id string) error

	// MarkUploaded and MarkFailed only transition a pending attempt that
	// still carries artifactRef; false means the row moved on meanwhile.
	MarkUploaded(ctx context.Context, id, artifactRef string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id, artifactRef, reason string) (bool, error)
}
