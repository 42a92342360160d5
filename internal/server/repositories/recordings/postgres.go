// Package recordings persists the recording attempt bound to each work item.
package recordings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Adriatogi/common-voice-offline/internal/common"
	"github.com/Adriatogi/common-voice-offline/internal/dbx"
	"github.com/Adriatogi/common-voice-offline/internal/server/models"
	"github.com/google/uuid"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, a *models.RecordingAttempt) (*models.RecordingAttempt, error) {
	query :=
		`INSERT INTO recording_attempts (id, work_item_id, artifact_ref, backup_path, backup_error, status)
		 VALUES ($1, $2, $3, $4, $5, 'pending')
		 ON CONFLICT (work_item_id) DO UPDATE
		 SET artifact_ref = EXCLUDED.artifact_ref,
		     backup_path = EXCLUDED.backup_path,
		     backup_error = EXCLUDED.backup_error,
		     status = 'pending',
		     error_message = NULL,
		     uploaded_at = NULL,
		     updated_at = now()
		 RETURNING id, submit_count, created_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		uuid.NewString(), a.WorkItemID, a.ArtifactRef, nullString(a.BackupPath), nullString(a.BackupError)).
		Scan(&a.ID, &a.SubmitCount, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	a.Status = models.AttemptPending
	a.ErrorMessage = ""
	a.UploadedAt = nil
	return a, nil
}

func (r *PostgresRepository) GetByWorkItem(ctx context.Context, workItemID string) (*models.RecordingAttempt, error) {
	query :=
		`SELECT id, work_item_id, artifact_ref, backup_path, backup_error, status, error_message,
		        submit_count, created_at, updated_at, uploaded_at
		 FROM recording_attempts
		 WHERE work_item_id = $1
		 `

	var (
		a                        models.RecordingAttempt
		status                   string
		backupPath, backupErr, e sql.NullString
		uploadedAt               sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, workItemID).Scan(&a.ID, &a.WorkItemID, &a.ArtifactRef,
		&backupPath, &backupErr, &status, &e, &a.SubmitCount, &a.CreatedAt, &a.UpdatedAt, &uploadedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	a.Status = models.AttemptStatus(status)
	a.BackupPath = backupPath.String
	a.BackupError = backupErr.String
	a.ErrorMessage = e.String
	if uploadedAt.Valid {
		t := uploadedAt.Time
		a.UploadedAt = &t
	}
	return &a, nil
}

func (r *PostgresRepository) DeleteNotUploaded(ctx context.Context, workItemID string) error {
	query :=
		`DELETE FROM recording_attempts
		 WHERE work_item_id = $1 AND status <> 'uploaded'
		 `
	if _, err := r.db.ExecContext(ctx, query, workItemID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// unresolvedInBatch selects pending attempts whose work item still waits
// for a recording in the given batch.
const unresolvedInBatch = `r.status = 'pending'
		   AND w.contributor_id = $1 AND w.batch_id = $2
		   AND w.status = 'active' AND w.discarded_at IS NULL`

func (r *PostgresRepository) DeletePendingInBatch(ctx context.Context, contributorID, batchID string) (int64, error) {
	query :=
		`DELETE FROM recording_attempts r
		 USING work_items w
		 WHERE r.work_item_id = w.id AND ` + unresolvedInBatch

	res, err := r.db.ExecContext(ctx, query, contributorID, batchID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) CountPendingInBatch(ctx context.Context, contributorID, batchID string) (int, error) {
	query :=
		`SELECT COUNT(*) FROM recording_attempts r
		 JOIN work_items w ON w.id = r.work_item_id
		 WHERE ` + unresolvedInBatch

	var n int
	if err := r.db.QueryRowContext(ctx, query, contributorID, batchID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) CountPending(ctx context.Context, contributorID string) (int, error) {
	query :=
		`SELECT COUNT(*) FROM recording_attempts r
		 JOIN work_items w ON w.id = r.work_item_id
		 WHERE w.contributor_id = $1 AND r.status = 'pending'
		 `

	var n int
	if err := r.db.QueryRowContext(ctx, query, contributorID).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) ListPending(ctx context.Context, contributorID string) ([]*models.PendingUpload, error) {
	query :=
		`SELECT r.id, r.work_item_id, r.artifact_ref, r.submit_count, r.created_at,
		        w.id, w.contributor_id, w.language, w.batch_id, w.position, w.text_id, w.text, w.hash, w.status
		 FROM recording_attempts r
		 JOIN work_items w ON w.id = r.work_item_id
		 WHERE w.contributor_id = $1 AND r.status = 'pending'
		   AND w.status = 'active' AND w.discarded_at IS NULL
		 ORDER BY w.position
		 `

	rows, err := r.db.QueryContext(ctx, query, contributorID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.PendingUpload
	for rows.Next() {
		var (
			p      models.PendingUpload
			status string
		)
		a, w := &p.Attempt, &p.Item
		if err := rows.Scan(&a.ID, &a.WorkItemID, &a.ArtifactRef, &a.SubmitCount, &a.CreatedAt,
			&w.ID, &w.ContributorID, &w.Language, &w.BatchID, &w.Position, &w.TextID, &w.Text, &w.Hash, &status); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		a.Status = models.AttemptPending
		w.Status = models.WorkItemStatus(status)
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) ContributorsWithPending(ctx context.Context) ([]string, error) {
	query :=
		`SELECT DISTINCT w.contributor_id
		 FROM recording_attempts r
		 JOIN work_items w ON w.id = r.work_item_id
		 WHERE r.status = 'pending'
		 ORDER BY w.contributor_id
		 `

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return ids, nil
}

func (r *PostgresRepository) RetryFailed(ctx context.Context, contributorID string) (int64, error) {
	query :=
		`UPDATE recording_attempts r
		 SET status = 'pending', error_message = NULL, updated_at = now()
		 FROM work_items w
		 WHERE r.work_item_id = w.id AND w.contributor_id = $1
		   AND r.status = 'failed' AND w.status = 'active' AND w.discarded_at IS NULL
		 `

	res, err := r.db.ExecContext(ctx, query, contributorID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) IncrementSubmitCount(ctx context.Context, id string) error {
	query := `UPDATE recording_attempts SET submit_count = submit_count + 1 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkUploaded(ctx context.Context, id, artifactRef string, at time.Time) (bool, error) {
	query :=
		`UPDATE recording_attempts
		 SET status = 'uploaded', uploaded_at = $3, error_message = NULL, updated_at = now()
		 WHERE id = $1 AND artifact_ref = $2 AND status = 'pending'
		 `
	return r.transition(ctx, query, id, artifactRef, at)
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, id, artifactRef, reason string) (bool, error) {
	query :=
		`UPDATE recording_attempts
		 SET status = 'failed', error_message = $3, updated_at = now()
		 WHERE id = $1 AND artifact_ref = $2 AND status = 'pending'
		 `
	return r.transition(ctx, query, id, artifactRef, reason)
}

func (r *PostgresRepository) transition(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
