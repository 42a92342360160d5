package workitems

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

func TestSeenTextIDs(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+text_id\s+FROM\s+work_items\s+WHERE\s+contributor_id\s*=\s*\$1\s+AND\s+language\s*=\s*\$2\s*$`
	mock.ExpectQuery(q).
		WithArgs("c-1", "en").
		WillReturnRows(sqlmock.NewRows([]string{"text_id"}).AddRow("t1").AddRow("t2"))

	seen, err := repo.SeenTextIDs(context.Background(), "c-1", "en")
	require.NoError(t, err)
	assert.Len(t, seen, 2)
	assert.Contains(t, seen, "t1")
	assert.Contains(t, seen, "t2")
}

func TestSeenTextIDs_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT\s+text_id`).WillReturnError(errors.New("db down"))

	_, err := repo.SeenTextIDs(context.Background(), "c-1", "en")
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestInsertBatch(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+work_items\s*\(id,\s*contributor_id,\s*language,\s*batch_id,\s*position,\s*text_id,\s*text,\s*hash,\s*status\)\s*VALUES.*RETURNING\s+created_at\s*$`

	now := time.Now()
	items := []*models.WorkItem{
		{ID: "w1", ContributorID: "c-1", Language: "en", BatchID: "b-1", Position: 1, TextID: "t1", Text: "one", Hash: "h1", Status: models.WorkItemActive},
		{ID: "w2", ContributorID: "c-1", Language: "en", BatchID: "b-1", Position: 2, TextID: "t2", Text: "two", Hash: "h2", Status: models.WorkItemActive},
	}
	for _, it := range items {
		mock.ExpectQuery(q).
			WithArgs(it.ID, "c-1", "en", "b-1", it.Position, it.TextID, it.Text, it.Hash, "active").
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
	}

	require.NoError(t, repo.InsertBatch(context.Background(), items))
	assert.Equal(t, now, items[1].CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatch_StopsOnError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^INSERT\s+INTO\s+work_items`).WillReturnError(errors.New("dup"))

	err := repo.InsertBatch(context.Background(), []*models.WorkItem{{ID: "w1"}, {ID: "w2"}})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet(), "second insert must not be attempted")
}

func TestListBatch_JoinsAttemptStatus(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+w\.id.*FROM\s+work_items\s+w\s+LEFT\s+JOIN\s+recording_attempts\s+r\s+ON\s+r\.work_item_id\s*=\s*w\.id.*ORDER\s+BY\s+w\.position\s*$`

	now := time.Now()
	cols := []string{"id", "contributor_id", "language", "batch_id", "position", "text_id", "text", "hash",
		"status", "discarded_at", "created_at", "resolved_at", "r_status", "error_message"}
	mock.ExpectQuery(q).
		WithArgs("c-1", "b-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("w1", "c-1", "en", "b-1", 1, "t1", "one", "h1", "active", nil, now, nil, nil, nil).
			AddRow("w2", "c-1", "en", "b-1", 2, "t2", "two", "h2", "uploaded", nil, now, now, "uploaded", nil).
			AddRow("w3", "c-1", "en", "b-1", 3, "t3", "three", "h3", "active", nil, now, nil, "failed", "too short"))

	got, err := repo.ListBatch(context.Background(), "c-1", "b-1")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, models.AttemptStatus(""), got[0].AttemptStatus)
	assert.Equal(t, models.WorkItemUploaded, got[1].Item.Status)
	require.NotNil(t, got[1].Item.ResolvedAt)
	assert.Equal(t, models.AttemptFailed, got[2].AttemptStatus)
	assert.Equal(t, "too short", got[2].AttemptError)
}

func TestGetActiveByPosition(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT.*FROM\s+work_items\s+WHERE\s+contributor_id\s*=\s*\$1\s+AND\s+batch_id\s*=\s*\$2\s+AND\s+position\s*=\s*\$3\s+AND\s+status\s*=\s*'active'\s+AND\s+discarded_at\s+IS\s+NULL\s*$`

	now := time.Now()
	mock.ExpectQuery(q).
		WithArgs("c-1", "b-1", 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "contributor_id", "language", "batch_id", "position", "text_id", "text", "hash", "status", "created_at"}).
			AddRow("w2", "c-1", "en", "b-1", 2, "t2", "two", "h2", "active", now))

	got, err := repo.GetActiveByPosition(context.Background(), "c-1", "b-1", 2)
	require.NoError(t, err)
	assert.Equal(t, "w2", got.ID)
	assert.Equal(t, models.WorkItemActive, got.Status)

	mock.ExpectQuery(q).WithArgs("c-1", "b-1", 9).WillReturnError(sql.ErrNoRows)
	_, err = repo.GetActiveByPosition(context.Background(), "c-1", "b-1", 9)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestCountUnresolved(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT\s+COUNT\(\*\)\s+FROM\s+work_items.*discarded_at\s+IS\s+NULL`).
		WithArgs("c-1", "b-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.CountUnresolved(context.Background(), "c-1", "b-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDiscardUnresolved(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	at := time.Now()
	mock.ExpectExec(`(?s)^UPDATE\s+work_items\s+SET\s+discarded_at\s*=\s*\$3`).
		WithArgs("c-1", "b-1", at).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.DiscardUnresolved(context.Background(), "c-1", "b-1", at)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
}

func TestResolve_OnlyFromActive(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+work_items\s+SET\s+status\s*=\s*\$2,\s*resolved_at\s*=\s*\$3\s+WHERE\s+id\s*=\s*\$1\s+AND\s+status\s*=\s*'active'\s*$`
	at := time.Now()

	mock.ExpectExec(q).WithArgs("w1", "uploaded", at).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkUploaded(context.Background(), "w1", at))

	mock.ExpectExec(q).WithArgs("w1", "skipped", at).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.MarkSkipped(context.Background(), "w1", at), common.ErrorNotFound)

	mock.ExpectExec(q).WithArgs("w2", "skipped", at).WillReturnError(errors.New("db down"))
	err := repo.MarkSkipped(context.Background(), "w2", at)
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrorNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}
