// Package workitems persists sentences assigned to contributors.
package workitems

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Adriatogi/common-voice-offline/internal/common"
	"github.com/Adriatogi/common-voice-offline/internal/dbx"
	"github.com/Adriatogi/common-voice-offline/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) SeenTextIDs(ctx context.Context, contributorID, language string) (map[string]struct{}, error) {
	query :=
		`SELECT text_id FROM work_items
		 WHERE contributor_id = $1 AND language = $2
		 `

	rows, err := r.db.QueryContext(ctx, query, contributorID, language)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		seen[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return seen, nil
}

func (r *PostgresRepository) InsertBatch(ctx context.Context, items []*models.WorkItem) error {
	query :=
		`INSERT INTO work_items (id, contributor_id, language, batch_id, position, text_id, text, hash, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING created_at
		 `

	for _, it := range items {
		err := r.db.QueryRowContext(ctx, query,
			it.ID, it.ContributorID, it.Language, it.BatchID, it.Position,
			it.TextID, it.Text, it.Hash, string(it.Status)).Scan(&it.CreatedAt)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) ListBatch(ctx context.Context, contributorID, batchID string) ([]*models.ItemState, error) {
	query :=
		`SELECT w.id, w.contributor_id, w.language, w.batch_id, w.position, w.text_id, w.text, w.hash,
		        w.status, w.discarded_at, w.created_at, w.resolved_at,
		        r.status, r.error_message
		 FROM work_items w
		 LEFT JOIN recording_attempts r ON r.work_item_id = w.id
		 WHERE w.contributor_id = $1 AND w.batch_id = $2
		 ORDER BY w.position
		 `

	rows, err := r.db.QueryContext(ctx, query, contributorID, batchID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.ItemState
	for rows.Next() {
		var (
			st                      models.ItemState
			status                  string
			discarded, resolved     sql.NullTime
			attemptStatus, attemptE sql.NullString
		)
		w := &st.Item
		if err := rows.Scan(&w.ID, &w.ContributorID, &w.Language, &w.BatchID, &w.Position, &w.TextID, &w.Text, &w.Hash,
			&status, &discarded, &w.CreatedAt, &resolved, &attemptStatus, &attemptE); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		w.Status = models.WorkItemStatus(status)
		w.DiscardedAt = timePtr(discarded)
		w.ResolvedAt = timePtr(resolved)
		st.AttemptStatus = models.AttemptStatus(attemptStatus.String)
		st.AttemptError = attemptE.String
		out = append(out, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) GetActiveByPosition(ctx context.Context, contributorID, batchID string, position int) (*models.WorkItem, error) {
	query :=
		`SELECT id, contributor_id, language, batch_id, position, text_id, text, hash, status, created_at
		 FROM work_items
		 WHERE contributor_id = $1 AND batch_id = $2 AND position = $3
		   AND status = 'active' AND discarded_at IS NULL
		 `

	var (
		w      models.WorkItem
		status string
	)
	err := r.db.QueryRowContext(ctx, query, contributorID, batchID, position).
		Scan(&w.ID, &w.ContributorID, &w.Language, &w.BatchID, &w.Position, &w.TextID, &w.Text, &w.Hash, &status, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	w.Status = models.WorkItemStatus(status)
	return &w, nil
}

func (r *PostgresRepository) CountUnresolved(ctx context.Context, contributorID, batchID string) (int, error) {
	query :=
		`SELECT COUNT(*) FROM work_items
		 WHERE contributor_id = $1 AND batch_id = $2 AND status = 'active' AND discarded_at IS NULL
		 `

	var n int
	if err := r.db.QueryRowContext(ctx, query, contributorID, batchID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) DiscardUnresolved(ctx context.Context, contributorID, batchID string, at time.Time) (int64, error) {
	query :=
		`UPDATE work_items SET discarded_at = $3
		 WHERE contributor_id = $1 AND batch_id = $2 AND status = 'active' AND discarded_at IS NULL
		 `

	res, err := r.db.ExecContext(ctx, query, contributorID, batchID, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) MarkSkipped(ctx context.Context, id string, at time.Time) error {
	return r.resolve(ctx, id, models.WorkItemSkipped, at)
}

func (r *PostgresRepository) MarkUploaded(ctx context.Context, id string, at time.Time) error {
	return r.resolve(ctx, id, models.WorkItemUploaded, at)
}

// resolve moves an active item to a terminal status. Items that are no longer
// active report ErrorNotFound so callers can tell a lost race.
func (r *PostgresRepository) resolve(ctx context.Context, id string, status models.WorkItemStatus, at time.Time) error {
	query :=
		`UPDATE work_items SET status = $2, resolved_at = $3
		 WHERE id = $1 AND status = 'active'
		 `

	res, err := r.db.ExecContext(ctx, query, id, string(status), at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
