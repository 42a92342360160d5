package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Adriatogi/common-voice-offline/internal/common"
	"github.com/Adriatogi/common-voice-offline/internal/dbx"
	"github.com/Adriatogi/common-voice-offline/internal/logging"
	"github.com/Adriatogi/common-voice-offline/internal/server/config"
	"github.com/Adriatogi/common-voice-offline/internal/server/corpus"
	"github.com/Adriatogi/common-voice-offline/internal/server/credentials"
	"github.com/Adriatogi/common-voice-offline/internal/server/locks"
	"github.com/Adriatogi/common-voice-offline/internal/server/models"
	"github.com/Adriatogi/common-voice-offline/internal/server/repositories/repomanager"
)

// ContributorService binds chat identities to corpus accounts and manages
// per-contributor settings.
type ContributorService struct {
	runner      dbx.Runner
	repomanager repomanager.RepositoryManager
	cfg         *config.Config
	corpus      corpus.Service
	creds       *credentials.Manager
	locks       *locks.Keyed
	sessions    *Sessions
	logger      logging.Logger
}

func NewContributorService(runner dbx.Runner, m repomanager.RepositoryManager, cfg *config.Config, svc corpus.Service,
	creds *credentials.Manager, lk *locks.Keyed, sessions *Sessions, logger logging.Logger) *ContributorService {
	return &ContributorService{
		runner:      runner,
		repomanager: m,
		cfg:         cfg,
		corpus:      svc,
		creds:       creds,
		locks:       lk,
		sessions:    sessions,
		logger:      logger.With("module", "contributors"),
	}
}

func (s *ContributorService) Sessions() *Sessions { return s.sessions }

// ValidateEmail is deliberately loose: the corpus service has the final say.
func ValidateEmail(email string) error {
	at := strings.Index(email, "@")
	if at < 1 || !strings.Contains(email[at+1:], ".") || strings.ContainsAny(email, " \t") {
		return common.ErrInvalidEmail
	}
	return nil
}

func ValidateUsername(username string) error {
	if utf8.RuneCountInString(strings.TrimSpace(username)) < 2 {
		return common.ErrInvalidUsername
	}
	return nil
}

// Registration is the input of Register.
type Registration struct {
	ChatID   string
	Email    string
	Username string
	Age      string
	Gender   string
}

// Register binds the chat to the contributor with that email, creating the
// corpus account first when the email is unknown locally. The bool result
// is true when an existing contributor was rebound.
func (s *ContributorService) Register(ctx context.Context, r Registration) (*models.Contributor, bool, error) {
	if err := ValidateEmail(r.Email); err != nil {
		return nil, false, err
	}
	if err := ValidateUsername(r.Username); err != nil {
		return nil, false, err
	}

	repo := s.repomanager.Contributors(s.runner.DB())
	existing, err := repo.GetByEmail(ctx, r.Email)
	switch {
	case err == nil:
		if err := s.rebind(ctx, r, existing); err != nil {
			return nil, false, err
		}
		c, err := repo.GetByID(ctx, existing.ID)
		if err != nil {
			return nil, false, fmt.Errorf("error loading contributor: %w", err)
		}
		s.logger.Info(ctx, "contributor rebound", "contributor", c.ID)
		return c, true, nil
	case !errors.Is(err, common.ErrorNotFound):
		return nil, false, fmt.Errorf("error searching contributor: %w", err)
	}

	token, err := s.creds.ServiceToken(ctx)
	if err != nil {
		return nil, false, err
	}
	acc, err := s.corpus.CreateAccount(ctx, token, r.Email, r.Username)
	if err != nil {
		return nil, false, fmt.Errorf("error creating corpus account: %w", err)
	}

	var sealedRefresh []byte
	if acc.RefreshToken != "" {
		if sealedRefresh, err = s.creds.SealRefreshToken(acc.RefreshToken); err != nil {
			return nil, false, fmt.Errorf("error sealing refresh token: %w", err)
		}
	}

	var created *models.Contributor
	err = s.runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		txRepo := s.repomanager.Contributors(tx)
		c, err := txRepo.Create(ctx, &models.Contributor{
			CorpusUserID:       acc.UserID,
			Email:              r.Email,
			Username:           r.Username,
			Age:                r.Age,
			Gender:             r.Gender,
			SealedRefreshToken: sealedRefresh,
		})
		if err != nil {
			return fmt.Errorf("error creating contributor: %w", err)
		}
		if err := txRepo.BindChat(ctx, r.ChatID, c.ID); err != nil {
			return fmt.Errorf("error binding chat: %w", err)
		}
		created = c
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	s.sessions.Drop(r.ChatID)
	s.logger.Info(ctx, "contributor registered", "contributor", created.ID)
	return created, false, nil
}

func (s *ContributorService) rebind(ctx context.Context, r Registration, c *models.Contributor) error {
	unlock, err := s.locks.Lock(ctx, c.ID)
	if err != nil {
		return err
	}
	defer unlock()

	err = s.runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		txRepo := s.repomanager.Contributors(tx)
		if r.Age != "" || r.Gender != "" {
			age, gender := c.Age, c.Gender
			if r.Age != "" {
				age = r.Age
			}
			if r.Gender != "" {
				gender = r.Gender
			}
			if err := txRepo.UpdateFacets(ctx, c.ID, age, gender); err != nil {
				return fmt.Errorf("error updating facets: %w", err)
			}
		}
		if err := txRepo.BindChat(ctx, r.ChatID, c.ID); err != nil {
			return fmt.Errorf("error binding chat: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.sessions.Drop(r.ChatID)
	return nil
}

// ByChat returns the contributor bound to chatID or common.ErrNotRegistered.
func (s *ContributorService) ByChat(ctx context.Context, chatID string) (*models.Contributor, error) {
	c, err := s.repomanager.Contributors(s.runner.DB()).GetByChat(ctx, chatID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrNotRegistered
	}
	if err != nil {
		return nil, fmt.Errorf("error loading contributor: %w", err)
	}
	return c, nil
}

func (s *ContributorService) SetLanguage(ctx context.Context, contributorID, language string) error {
	if !s.cfg.SupportsLanguage(language) {
		return common.ErrUnsupportedLanguage
	}
	return s.repomanager.Contributors(s.runner.DB()).SetLanguage(ctx, contributorID, language)
}

// Logout unbinds the chat. With uploads still pending the first call only
// arms a confirmation and returns common.ErrPendingUploads together with
// the pending count; a second call logs out. Pending uploads are kept and
// still reconciled in the background.
func (s *ContributorService) Logout(ctx context.Context, chatID string) (int, error) {
	c, err := s.ByChat(ctx, chatID)
	if err != nil {
		return 0, err
	}

	unlock, err := s.locks.Lock(ctx, c.ID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	pending, err := s.repomanager.Recordings(s.runner.DB()).CountPending(ctx, c.ID)
	if err != nil {
		return 0, fmt.Errorf("error counting pending uploads: %w", err)
	}
	if pending > 0 && !s.sessions.Get(chatID).ConfirmLogout {
		s.sessions.Update(chatID, func(sess *Session) { sess.ConfirmLogout = true })
		return pending, common.ErrPendingUploads
	}

	if err := s.repomanager.Contributors(s.runner.DB()).UnbindChat(ctx, chatID); err != nil {
		return pending, fmt.Errorf("error unbinding chat: %w", err)
	}
	s.sessions.Drop(chatID)
	s.logger.Info(ctx, "contributor logged out", "contributor", c.ID, "pending", pending)
	return pending, nil
}

// DeleteAccount removes the contributor bound to chatID together with all
// of its work items, attempts and chat bindings.
func (s *ContributorService) DeleteAccount(ctx context.Context, chatID string) error {
	c, err := s.ByChat(ctx, chatID)
	if err != nil {
		return err
	}

	unlock, err := s.locks.Lock(ctx, c.ID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.repomanager.Contributors(s.runner.DB()).Delete(ctx, c.ID); err != nil {
		return fmt.Errorf("error deleting contributor: %w", err)
	}
	s.sessions.Drop(chatID)
	s.logger.Info(ctx, "contributor deleted", "contributor", c.ID)
	return nil
}
