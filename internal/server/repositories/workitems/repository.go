package workitems

import (
	"context"
	"time"

	"github.com/Adriatogi/common-voice-offline/internal/server/models"
)

type Repository interface {
	// SeenTextIDs returns every text id ever assigned to the contributor in
	// language, whatever its status or batch.
	SeenTextIDs(ctx context.Context, contributorID, language string) (map[string]struct{}, error)
	InsertBatch(ctx context.Context, items []*models.WorkItem) error
	ListBatch(ctx context.Context, contributorID, batchID string) ([]*models.ItemState, error)
	GetActiveByPosition(ctx context.Context, contributorID, batchID string, position int) (*models.WorkItem, error)
	CountUnresolved(ctx context.Context, contributorID, batchID string) (int, error)
	DiscardUnresolved(ctx context.Context, contributorID, batchID string, at time.Time) (int64, error)
	MarkSkipped(ctx context.Context, id string, at time.Time) error
	MarkUploaded(ctx context.Context, id string, at time.Time) error
}
