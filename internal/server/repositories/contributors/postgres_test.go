package contributors

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
	"github.com/jackc/pgx/v5/pgconn"
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

var columns = []string{
	"id", "corpus_user_id", "email", "username", "current_language", "age", "gender",
	"access_token", "access_token_expires", "refresh_token",
	"credential_failures", "credential_error", "current_batch_id",
	"created_at", "updated_at",
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+contributors\s*\(id,\s*corpus_user_id,\s*email,\s*username,\s*age,\s*gender\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6\)\s*RETURNING\s+created_at,\s*updated_at\s*$`

	now := time.Now()
	mock.ExpectQuery(q).
		WithArgs(sqlmock.AnyArg(), "cv-1", "a@b.io", "alice", "30", nil).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	got, err := repo.Create(context.Background(), &models.Contributor{
		CorpusUserID: "cv-1", Email: "a@b.io", Username: "alice", Age: "30",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, now, got.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_UniqueViolation(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^INSERT\s+INTO\s+contributors`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := repo.Create(context.Background(), &models.Contributor{ID: "c-1", CorpusUserID: "cv-1"})
	assert.ErrorIs(t, err, common.ErrDuplicateIdentity)
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^INSERT\s+INTO\s+contributors`).
		WillReturnError(errors.New("db down"))

	_, err := repo.Create(context.Background(), &models.Contributor{ID: "c-1"})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestGetByID_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+id,\s*corpus_user_id.*FROM\s+contributors\s+WHERE\s+id\s*=\s*\$1\s*$`

	now := time.Now()
	expires := now.Add(time.Hour)
	mock.ExpectQuery(q).
		WithArgs("c-1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"c-1", "cv-1", "a@b.io", "alice", "en", nil, "female",
			[]byte("sealed"), expires, nil,
			2, "boom", "b-1",
			now, now,
		))

	got, err := repo.GetByID(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "en", got.CurrentLanguage)
	assert.Empty(t, got.Age)
	assert.Equal(t, "female", got.Gender)
	assert.Equal(t, []byte("sealed"), got.SealedAccessToken)
	require.NotNil(t, got.AccessTokenExpires)
	assert.Equal(t, expires, *got.AccessTokenExpires)
	assert.Nil(t, got.SealedRefreshToken)
	assert.Equal(t, 2, got.CredentialFailures)
	assert.Equal(t, "boom", got.CredentialError)
	assert.Equal(t, "b-1", got.CurrentBatchID)
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT.*FROM\s+contributors\s+WHERE\s+id`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "ghost")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestGetByChat_UsesBindingTable(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT.*FROM\s+contributors\s+WHERE\s+id\s*=\s*\(SELECT\s+contributor_id\s+FROM\s+chat_bindings\s+WHERE\s+chat_id\s*=\s*\$1\)\s*$`

	now := time.Now()
	mock.ExpectQuery(q).
		WithArgs("chat-9").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"c-1", "cv-1", "a@b.io", "alice", nil, nil, nil,
			nil, nil, nil,
			0, nil, nil,
			now, now,
		))

	got, err := repo.GetByChat(context.Background(), "chat-9")
	require.NoError(t, err)
	assert.Equal(t, "c-1", got.ID)
	assert.Empty(t, got.CurrentLanguage)
	assert.Empty(t, got.CurrentBatchID)
	assert.Nil(t, got.AccessTokenExpires)
}

func TestGetByEmail_CaseInsensitive(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT.*WHERE\s+lower\(email\)\s*=\s*lower\(\$1\)`).
		WithArgs("A@B.io").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByEmail(context.Background(), "A@B.io")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestSetCurrentBatch(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+contributors\s+SET\s+current_batch_id\s*=\s*\$2,\s*current_language\s*=\s*\$3`

	mock.ExpectExec(q).WithArgs("c-1", "b-1", "en").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SetCurrentBatch(context.Background(), "c-1", "b-1", "en"))

	mock.ExpectExec(q).WithArgs("ghost", "b-1", "en").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.SetCurrentBatch(context.Background(), "ghost", "b-1", "en"), common.ErrorNotFound)
}

func TestSaveCredential_ResetsFailures(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+contributors\s+SET\s+access_token\s*=\s*\$2.*refresh_token\s*=\s*COALESCE\(\$4,\s*refresh_token\).*credential_failures\s*=\s*0`

	exp := time.Now().Add(time.Hour)
	mock.ExpectExec(q).
		WithArgs("c-1", []byte("a"), exp, []byte("r")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SaveCredential(context.Background(), "c-1", []byte("a"), &exp, []byte("r")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordCredentialFailure(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^UPDATE\s+contributors\s+SET\s+credential_failures\s*=\s*credential_failures\s*\+\s*1`).
		WithArgs("c-1", "401 from token endpoint").
		WillReturnError(errors.New("db down"))

	err := repo.RecordCredentialFailure(context.Background(), "c-1", "401 from token endpoint")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db error")
}

func TestBindChat_Upserts(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+chat_bindings.*ON\s+CONFLICT\s+\(chat_id\)\s+DO\s+UPDATE`
	mock.ExpectExec(q).WithArgs("chat-1", "c-2").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.BindChat(context.Background(), "chat-1", "c-2"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnbindAndDelete(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+chat_bindings\s+WHERE\s+chat_id\s*=\s*\$1$`).
		WithArgs("chat-1").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, repo.UnbindChat(context.Background(), "chat-1"), "unbinding an unbound chat is fine")

	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+contributors\s+WHERE\s+id\s*=\s*\$1$`).
		WithArgs("c-1").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), "c-1"))

	require.NoError(t, mock.ExpectationsWereMet())
}
