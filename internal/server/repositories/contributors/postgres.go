// Package contributors persists contributors and the chat identities bound
// to them.
package contributors

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

const selectColumns = `id, corpus_user_id, email, username, current_language, age, gender,
		        access_token, access_token_expires, refresh_token,
		        credential_failures, credential_error, current_batch_id,
		        created_at, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, c *models.Contributor) (*models.Contributor, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	query :=
		`INSERT INTO contributors (id, corpus_user_id, email, username, age, gender)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		c.ID, c.CorpusUserID, c.Email, c.Username, nullString(c.Age), nullString(c.Gender)).
		Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrDuplicateIdentity
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return c, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Contributor, error) {
	query := `SELECT ` + selectColumns + ` FROM contributors WHERE id = $1`
	return scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.Contributor, error) {
	query := `SELECT ` + selectColumns + ` FROM contributors WHERE lower(email) = lower($1)
		 ORDER BY created_at LIMIT 1`
	return scanOne(r.db.QueryRowContext(ctx, query, email))
}

func (r *PostgresRepository) GetByChat(ctx context.Context, chatID string) (*models.Contributor, error) {
	query := `SELECT ` + selectColumns + ` FROM contributors
		 WHERE id = (SELECT contributor_id FROM chat_bindings WHERE chat_id = $1)`
	return scanOne(r.db.QueryRowContext(ctx, query, chatID))
}

func (r *PostgresRepository) UpdateFacets(ctx context.Context, id, age, gender string) error {
	query :=
		`UPDATE contributors SET age = $2, gender = $3, updated_at = now()
		 WHERE id = $1
		 `
	return r.execOne(ctx, query, id, nullString(age), nullString(gender))
}

func (r *PostgresRepository) SetLanguage(ctx context.Context, id, language string) error {
	query :=
		`UPDATE contributors SET current_language = $2, updated_at = now()
		 WHERE id = $1
		 `
	return r.execOne(ctx, query, id, language)
}

func (r *PostgresRepository) SetCurrentBatch(ctx context.Context, id, batchID, language string) error {
	query :=
		`UPDATE contributors SET current_batch_id = $2, current_language = $3, updated_at = now()
		 WHERE id = $1
		 `
	return r.execOne(ctx, query, id, batchID, language)
}

func (r *PostgresRepository) SaveCredential(ctx context.Context, id string, sealedAccess []byte, expires *time.Time, sealedRefresh []byte) error {
	query :=
		`UPDATE contributors
		 SET access_token = $2, access_token_expires = $3,
		     refresh_token = COALESCE($4, refresh_token),
		     credential_failures = 0, credential_error = NULL, updated_at = now()
		 WHERE id = $1
		 `
	return r.execOne(ctx, query, id, sealedAccess, expires, sealedRefresh)
}

func (r *PostgresRepository) RecordCredentialFailure(ctx context.Context, id, reason string) error {
	query :=
		`UPDATE contributors
		 SET credential_failures = credential_failures + 1, credential_error = $2, updated_at = now()
		 WHERE id = $1
		 `
	return r.execOne(ctx, query, id, reason)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	return r.execOne(ctx, `DELETE FROM contributors WHERE id = $1`, id)
}

func (r *PostgresRepository) BindChat(ctx context.Context, chatID, contributorID string) error {
	query :=
		`INSERT INTO chat_bindings (chat_id, contributor_id)
		 VALUES ($1, $2)
		 ON CONFLICT (chat_id) DO UPDATE SET contributor_id = EXCLUDED.contributor_id, bound_at = now()
		 `
	if _, err := r.db.ExecContext(ctx, query, chatID, contributorID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UnbindChat(ctx context.Context, chatID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM chat_bindings WHERE chat_id = $1`, chatID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
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

func scanOne(row *sql.Row) (*models.Contributor, error) {
	var (
		c                          models.Contributor
		lang, age, gender, credErr sql.NullString
		batchID                    sql.NullString
		expires                    sql.NullTime
	)

	err := row.Scan(&c.ID, &c.CorpusUserID, &c.Email, &c.Username, &lang, &age, &gender,
		&c.SealedAccessToken, &expires, &c.SealedRefreshToken,
		&c.CredentialFailures, &credErr, &batchID,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	c.CurrentLanguage = lang.String
	c.Age = age.String
	c.Gender = gender.String
	c.CredentialError = credErr.String
	c.CurrentBatchID = batchID.String
	if expires.Valid {
		t := expires.Time
		c.AccessTokenExpires = &t
	}
	return &c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
