package contributors

import (
	"context"
	"time"

	"github.com/Adriatogi/common-voice-offline/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, c *models.Contributor) (*models.Contributor, error)
	GetByID(ctx context.Context, id string) (*models.Contributor, error)
	GetByEmail(ctx context.Context, email string) (*models.Contributor, error)
	UpdateFacets(ctx context.Context, id, age, gender string) error
	SetLanguage(ctx context.Context, id, language string) error
	SetCurrentBatch(ctx context.Context, id, batchID, language string) error
	SaveCredential(ctx context.Context, id string, sealedAccess []byte, expires *time.Time, sealedRefresh []byte) error
	RecordCredentialFailure(ctx context.Context, id, reason string) error
	Delete(ctx context.Context, id string) error

	BindChat(ctx context.Context, chatID, contributorID string) error
	GetByChat(ctx context.Context, chatID string) (*models.Contributor, error)
	UnbindChat(ctx context.Context, chatID string) error
}
