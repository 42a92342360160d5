// Package credentials keeps a valid corpus bearer token at hand for every
// contributor and for the bot itself. Tokens are stored sealed on the
// contributor row and refreshed at most once at a time per owner.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adriatogi/common-voice-offline/internal/common"
	"github.com/Adriatogi/common-voice-offline/internal/cryptox"
	"github.com/Adriatogi/common-voice-offline/internal/dbx"
	"github.com/Adriatogi/common-voice-offline/internal/logging"
	"github.com/Adriatogi/common-voice-offline/internal/server/corpus"
	"github.com/Adriatogi/common-voice-offline/internal/server/metrics"
	"github.com/Adriatogi/common-voice-offline/internal/server/models"
	"github.com/Adriatogi/common-voice-offline/internal/server/repositories/repomanager"
)

// serviceKey is the single-flight key of the bot's own client token.
const serviceKey = ""

type Manager struct {
	runner      dbx.Runner
	repomanager repomanager.RepositoryManager
	corpus      corpus.Service
	sealer      *cryptox.Sealer
	buffer      time.Duration
	timeout     time.Duration
	metrics     *metrics.Metrics
	logger      logging.Logger
	now         func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	service *corpus.Credential
}

// NewManager builds a Manager. Tokens within buffer of expiry are refreshed;
// a refresh is bounded by timeout regardless of the callers waiting on it.
func NewManager(runner dbx.Runner, m repomanager.RepositoryManager, svc corpus.Service, sealer *cryptox.Sealer,
	buffer, timeout time.Duration, mt *metrics.Metrics, logger logging.Logger) *Manager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Manager{
		runner:      runner,
		repomanager: m,
		corpus:      svc,
		sealer:      sealer,
		buffer:      buffer,
		timeout:     timeout,
		metrics:     mt,
		logger:      logger.With("module", "credentials"),
		now:         time.Now,
	}
}

func (m *Manager) fresh(expires time.Time) bool {
	return m.now().Add(m.buffer).Before(expires)
}

// Token returns a bearer token for contributorID, refreshing it first when
// it is missing, expired or within the expiry buffer. Refresh failures are
// recorded on the contributor and returned wrapped in common.ErrTransient.
func (m *Manager) Token(ctx context.Context, contributorID string) (string, error) {
	c, err := m.repomanager.Contributors(m.runner.DB()).GetByID(ctx, contributorID)
	if err != nil {
		return "", fmt.Errorf("error loading contributor: %w", err)
	}
	if tok, ok := m.cached(c); ok {
		return tok, nil
	}

	return m.flight(ctx, contributorID, func(ctx context.Context) (string, error) {
		return m.refresh(ctx, contributorID)
	})
}

// flight runs fn once per key for all concurrent callers. fn does not
// inherit the first caller's cancellation; a caller that gives up returns
// early and leaves the flight to the others.
func (m *Manager) flight(ctx context.Context, key string, fn func(ctx context.Context) (string, error)) (string, error) {
	ch := m.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()
		return fn(fctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: waiting for credential: %v", common.ErrTransient, ctx.Err())
	}
}

func (m *Manager) cached(c *models.Contributor) (string, bool) {
	if len(c.SealedAccessToken) == 0 || c.AccessTokenExpires == nil || !m.fresh(*c.AccessTokenExpires) {
		return "", false
	}
	tok, err := m.sealer.Open(c.SealedAccessToken)
	if err != nil {
		return "", false
	}
	return tok, true
}

func (m *Manager) refresh(ctx context.Context, contributorID string) (string, error) {
	repo := m.repomanager.Contributors(m.runner.DB())

	// Another caller may have refreshed while we waited for the flight.
	c, err := repo.GetByID(ctx, contributorID)
	if err != nil {
		return "", fmt.Errorf("error loading contributor: %w", err)
	}
	if tok, ok := m.cached(c); ok {
		return tok, nil
	}

	refreshToken, err := m.sealer.Open(c.SealedRefreshToken)
	if err != nil {
		m.logger.Warn(ctx, "sealed refresh token unreadable, falling back to client grant", "contributor", contributorID, "error", err)
		refreshToken = ""
	}

	cred, err := m.corpus.RefreshCredential(ctx, refreshToken)
	if err != nil {
		m.metrics.RecordRefresh(false)
		if rerr := repo.RecordCredentialFailure(ctx, contributorID, err.Error()); rerr != nil {
			m.logger.Error(ctx, "error recording credential failure", "contributor", contributorID, "error", rerr)
		}
		m.logger.Warn(ctx, "credential refresh failed", "contributor", contributorID, "error", err)
		return "", fmt.Errorf("%w: refresh credential: %v", common.ErrTransient, err)
	}
	m.metrics.RecordRefresh(true)

	sealedAccess, err := m.sealer.Seal(cred.AccessToken)
	if err != nil {
		return "", fmt.Errorf("error sealing access token: %w", err)
	}
	var sealedRefresh []byte
	if cred.RefreshToken != "" && cred.RefreshToken != refreshToken {
		if sealedRefresh, err = m.sealer.Seal(cred.RefreshToken); err != nil {
			return "", fmt.Errorf("error sealing refresh token: %w", err)
		}
	}
	expires := cred.ExpiresAt
	if err := repo.SaveCredential(ctx, contributorID, sealedAccess, &expires, sealedRefresh); err != nil {
		return "", fmt.Errorf("error saving credential: %w", err)
	}

	m.logger.Debug(ctx, "credential refreshed", "contributor", contributorID, "expires", expires)
	return cred.AccessToken, nil
}

// Invalidate drops the stored access token so the next Token call
// refreshes. Used after the corpus answers 401.
func (m *Manager) Invalidate(ctx context.Context, contributorID string) error {
	err := m.repomanager.Contributors(m.runner.DB()).SaveCredential(ctx, contributorID, nil, nil, nil)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return fmt.Errorf("error invalidating credential: %w", err)
	}
	return nil
}

// ServiceToken returns the bot's own client-credentials token, kept in
// memory only. It is used for reads and account creation.
func (m *Manager) ServiceToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.service != nil && m.fresh(m.service.ExpiresAt) {
		tok := m.service.AccessToken
		m.mu.Unlock()
		return tok, nil
	}
	m.mu.Unlock()

	return m.flight(ctx, serviceKey, func(ctx context.Context) (string, error) {
		cred, err := m.corpus.RefreshCredential(ctx, "")
		if err != nil {
			m.metrics.RecordRefresh(false)
			return "", fmt.Errorf("%w: service credential: %v", common.ErrTransient, err)
		}
		m.metrics.RecordRefresh(true)
		m.mu.Lock()
		m.service = cred
		m.mu.Unlock()
		return cred.AccessToken, nil
	})
}

// SealRefreshToken seals a refresh token handed out at account creation.
func (m *Manager) SealRefreshToken(token string) ([]byte, error) {
	return m.sealer.Seal(token)
}
