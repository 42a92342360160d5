package recordings

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/Adriatogi/common-voice-offline/internal/common"
	"github.com/Adriatogi/common-voice-offline/internal/server/models"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestUpsert_ResetsToPending(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+recording_attempts.*ON\s+CONFLICT\s+\(work_item_id\)\s+DO\s+UPDATE.*status\s*=\s*'pending',\s*error_message\s*=\s*NULL,\s*uploaded_at\s*=\s*NULL.*RETURNING\s+id,\s*submit_count,\s*created_at,\s*updated_at\s*$`

	created := time.Now().Add(-time.Hour)
	updated := time.Now()
	mock.ExpectQuery(q).
		WithArgs(sqlmock.AnyArg(), "w2", "file-new", nil, "disk full").
		WillReturnRows(sqlmock.NewRows([]string{"id", "submit_count", "created_at", "updated_at"}).
			AddRow("a-1", 1, created, updated))

	got, err := repo.Upsert(context.Background(), &models.RecordingAttempt{
		WorkItemID: "w2", ArtifactRef: "file-new", BackupError: "disk full",
		Status: models.AttemptFailed, ErrorMessage: "old",
	})
	require.NoError(t, err)
	assert.Equal(t, "a-1", got.ID, "existing row id is kept")
	assert.Equal(t, models.AttemptPending, got.Status)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, created, got.CreatedAt)
	assert.Equal(t, 1, got.SubmitCount)
}

func TestUpsert_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^INSERT\s+INTO\s+recording_attempts`).WillReturnError(errors.New("db down"))

	_, err := repo.Upsert(context.Background(), &models.RecordingAttempt{WorkItemID: "w1"})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestGetByWorkItem(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+id,\s*work_item_id.*FROM\s+recording_attempts\s+WHERE\s+work_item_id\s*=\s*\$1\s*$`
	cols := []string{"id", "work_item_id", "artifact_ref", "backup_path", "backup_error", "status", "error_message",
		"submit_count", "created_at", "updated_at", "uploaded_at"}

	now := time.Now()
	mock.ExpectQuery(q).
		WithArgs("w1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("a-1", "w1", "file-1", "/b/a-1.ogg", nil, "uploaded", nil, 1, now, now, now))

	got, err := repo.GetByWorkItem(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, models.AttemptUploaded, got.Status)
	assert.Equal(t, "/b/a-1.ogg", got.BackupPath)
	require.NotNil(t, got.UploadedAt)

	mock.ExpectQuery(q).WithArgs("w9").WillReturnError(sql.ErrNoRows)
	_, err = repo.GetByWorkItem(context.Background(), "w9")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestDeleteNotUploaded(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+recording_attempts\s+WHERE\s+work_item_id\s*=\s*\$1\s+AND\s+status\s*<>\s*'uploaded'\s*$`).
		WithArgs("w1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.DeleteNotUploaded(context.Background(), "w1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingInBatch_CountAndDelete(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT\s+COUNT\(\*\)\s+FROM\s+recording_attempts\s+r\s+JOIN\s+work_items\s+w.*r\.status\s*=\s*'pending'.*w\.batch_id\s*=\s*\$2`).
		WithArgs("c-1", "b-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := repo.CountPendingInBatch(context.Background(), "c-1", "b-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+recording_attempts\s+r\s+USING\s+work_items\s+w`).
		WithArgs("c-1", "b-1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	deleted, err := repo.DeletePendingInBatch(context.Background(), "c-1", "b-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)
}

func TestListPending_PositionOrder(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+r\.id.*FROM\s+recording_attempts\s+r\s+JOIN\s+work_items\s+w.*r\.status\s*=\s*'pending'.*ORDER\s+BY\s+w\.position\s*$`
	cols := []string{"id", "work_item_id", "artifact_ref", "submit_count", "created_at",
		"w_id", "contributor_id", "language", "batch_id", "position", "text_id", "text", "hash", "status"}

	now := time.Now()
	mock.ExpectQuery(q).
		WithArgs("c-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("a-1", "w1", "f1", 0, now, "w1", "c-1", "en", "b-1", 1, "t1", "one", "h1", "active").
			AddRow("a-3", "w3", "f3", 2, now, "w3", "c-1", "en", "b-1", 3, "t3", "three", "h3", "active"))

	got, err := repo.ListPending(context.Background(), "c-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Item.Position)
	assert.Equal(t, "f3", got[1].Attempt.ArtifactRef)
	assert.Equal(t, 2, got[1].Attempt.SubmitCount)
	assert.Equal(t, models.AttemptPending, got[1].Attempt.Status)
}

func TestContributorsWithPending(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT\s+DISTINCT\s+w\.contributor_id`).
		WillReturnRows(sqlmock.NewRows([]string{"contributor_id"}).AddRow("c-1").AddRow("c-2"))

	ids, err := repo.ContributorsWithPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"c-1", "c-2"}, ids)
}

func TestRetryFailed(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^UPDATE\s+recording_attempts\s+r\s+SET\s+status\s*=\s*'pending'.*r\.status\s*=\s*'failed'`).
		WithArgs("c-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.RetryFailed(context.Background(), "c-1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestMarkUploaded_ConditionalOnPendingAndArtifact(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+recording_attempts\s+SET\s+status\s*=\s*'uploaded'.*WHERE\s+id\s*=\s*\$1\s+AND\s+artifact_ref\s*=\s*\$2\s+AND\s+status\s*=\s*'pending'\s*$`
	at := time.Now()

	mock.ExpectExec(q).WithArgs("a-1", "f1", at).WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.MarkUploaded(context.Background(), "a-1", "f1", at)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(q).WithArgs("a-1", "f-old", at).WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = repo.MarkUploaded(context.Background(), "a-1", "f-old", at)
	require.NoError(t, err)
	assert.False(t, ok, "a replaced artifact must not be marked uploaded")
}

func TestMarkFailed(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+recording_attempts\s+SET\s+status\s*=\s*'failed',\s*error_message\s*=\s*\$3`

	mock.ExpectExec(q).WithArgs("a-1", "f1", "audio too short").WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.MarkFailed(context.Background(), "a-1", "f1", "audio too short")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(q).WithArgs("a-1", "f1", "x").WillReturnError(errors.New("db down"))
	_, err = repo.MarkFailed(context.Background(), "a-1", "f1", "x")
	require.Error(t, err)
}

func TestIncrementSubmitCount(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^UPDATE\s+recording_attempts\s+SET\s+submit_count\s*=\s*submit_count\s*\+\s*1\s+WHERE\s+id\s*=\s*\$1$`).
		WithArgs("a-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.IncrementSubmitCount(context.Background(), "a-1"))
}
