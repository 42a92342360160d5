package stats

import (
	"context"

	"github.com/Adriatogi/common-voice-offline/internal/server/models"
)

type Repository interface {
	ContributorStats(ctx context.Context, contributorID, batchID string) (*models.ContributorStats, error)
	LanguageStats(ctx context.Context) ([]models.LanguageStats, error)
}
