// Package stats reads progress counters. Every method is a single statement
// so the result is one consistent snapshot.
package stats

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Adriatogi/common-voice-offline/internal/dbx"
	"github.com/Adriatogi/common-voice-offline/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ContributorStats(ctx context.Context, contributorID, batchID string) (*models.ContributorStats, error) {
	query :=
		`SELECT
		   COUNT(*) FILTER (WHERE w.batch_id = $2 AND w.discarded_at IS NULL),
		   COUNT(*) FILTER (WHERE w.batch_id = $2 AND w.discarded_at IS NULL AND w.status = 'active' AND r.status = 'pending'),
		   COUNT(*) FILTER (WHERE w.batch_id = $2 AND w.status = 'uploaded'),
		   COUNT(*) FILTER (WHERE w.batch_id = $2 AND w.discarded_at IS NULL AND w.status = 'active' AND r.status = 'failed'),
		   COUNT(*) FILTER (WHERE w.batch_id = $2 AND w.status = 'skipped'),
		   COUNT(*) FILTER (WHERE w.batch_id = $2 AND w.discarded_at IS NULL AND w.status = 'active' AND r.id IS NULL),
		   COUNT(*) FILTER (WHERE w.status = 'uploaded'),
		   COUNT(*) FILTER (WHERE w.status = 'skipped')
		 FROM work_items w
		 LEFT JOIN recording_attempts r ON r.work_item_id = w.id
		 WHERE w.contributor_id = $1
		 `

	var s models.ContributorStats
	batch := sql.NullString{String: batchID, Valid: batchID != ""}
	err := r.db.QueryRowContext(ctx, query, contributorID, batch).Scan(
		&s.Assigned, &s.Pending, &s.Uploaded, &s.Failed, &s.Skipped, &s.Unrecorded,
		&s.LifetimeUploaded, &s.LifetimeSkipped)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &s, nil
}

func (r *PostgresRepository) LanguageStats(ctx context.Context) ([]models.LanguageStats, error) {
	query :=
		`SELECT language, contributors, recordings_uploaded
		 FROM stats_by_language
		 ORDER BY language
		 `

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.LanguageStats
	for rows.Next() {
		var ls models.LanguageStats
		if err := rows.Scan(&ls.Language, &ls.Contributors, &ls.RecordingsUploaded); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, ls)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
