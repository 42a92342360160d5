package repomanager

import (
	"context"
	"database/sql"

	"github.com/Adriatogi/common-voice-offline/internal/dbx"
	"github.com/Adriatogi/common-voice-offline/internal/server/repositories/contributors"
	"github.com/Adriatogi/common-voice-offline/internal/server/repositories/recordings"
	"github.com/Adriatogi/common-voice-offline/internal/server/repositories/stats"
	"github.com/Adriatogi/common-voice-offline/internal/server/repositories/workitems"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Contributors(db dbx.DBTX) contributors.Repository
	WorkItems(db dbx.DBTX) workitems.Repository
	Recordings(db dbx.DBTX) recordings.Repository
	Stats(db dbx.DBTX) stats.Repository
}
