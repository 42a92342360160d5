package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adriatogi/common-voice-offline/internal/common"
	"github.com/Adriatogi/common-voice-offline/internal/dbx"
	"github.com/Adriatogi/common-voice-offline/internal/logging"
	"github.com/Adriatogi/common-voice-offline/internal/server/config"
	"github.com/Adriatogi/common-voice-offline/internal/server/corpus"
	"github.com/Adriatogi/common-voice-offline/internal/server/credentials"
	"github.com/Adriatogi/common-voice-offline/internal/server/locks"
	"github.com/Adriatogi/common-voice-offline/internal/server/metrics"
	"github.com/Adriatogi/common-voice-offline/internal/server/models"
	"github.com/Adriatogi/common-voice-offline/internal/server/repositories/repomanager"
)

// commitTimeout bounds the bookkeeping that follows a finished submission.
// It runs detached from the pass context so a late cancellation cannot
// lose an upload the corpus already accepted.
const commitTimeout = 10 * time.Second

type ReconcileOptions struct {
	// RetryFailed moves failed attempts back to pending first. Only manual
	// passes set it.
	RetryFailed bool
}

// Summary reports what one pass did for one contributor.
type Summary struct {
	Retried    int64
	Uploaded   int
	Failed     int
	Superseded int
	// Remaining counts attempts still pending when the pass ended.
	Remaining int
}

type backoffState struct {
	failures int
	until    time.Time
}

// Reconciler pushes pending recordings to the corpus service. One pass per
// contributor runs at a time, under the contributor lock.
type Reconciler struct {
	runner      dbx.Runner
	repomanager repomanager.RepositoryManager
	cfg         *config.Config
	corpus      corpus.Service
	creds       *credentials.Manager
	locks       *locks.Keyed
	fetcher     ArtifactFetcher
	metrics     *metrics.Metrics
	logger      logging.Logger
	now         func() time.Time

	mu      sync.Mutex
	backoff map[string]backoffState

	wg sync.WaitGroup
}

func NewReconciler(runner dbx.Runner, m repomanager.RepositoryManager, cfg *config.Config, svc corpus.Service,
	creds *credentials.Manager, lk *locks.Keyed, fetcher ArtifactFetcher, mt *metrics.Metrics, logger logging.Logger) *Reconciler {
	return &Reconciler{
		runner:      runner,
		repomanager: m,
		cfg:         cfg,
		corpus:      svc,
		creds:       creds,
		locks:       lk,
		fetcher:     fetcher,
		metrics:     mt,
		logger:      logger.With("module", "reconciler"),
		now:         time.Now,
		backoff:     make(map[string]backoffState),
	}
}

// ReconcileContributor runs one pass for contributorID. A transient
// failure stops the pass, leaves the remaining attempts pending, puts the
// contributor on backoff and is returned wrapped in common.ErrTransient
// alongside the partial summary.
func (r *Reconciler) ReconcileContributor(ctx context.Context, contributorID string, opts ReconcileOptions) (Summary, error) {
	var sum Summary

	ctx, cancel := context.WithTimeout(ctx, r.cfg.ReconcileTimeout)
	defer cancel()

	unlock, err := r.locks.Lock(ctx, contributorID)
	if err != nil {
		return sum, fmt.Errorf("%w: waiting for contributor lock: %v", common.ErrTransient, err)
	}
	defer unlock()

	start := r.now()
	defer func() { r.metrics.RecordPass(r.now().Sub(start)) }()

	c, err := r.repomanager.Contributors(r.runner.DB()).GetByID(ctx, contributorID)
	if errors.Is(err, common.ErrorNotFound) {
		return sum, common.ErrNotRegistered
	}
	if err != nil {
		return sum, fmt.Errorf("error loading contributor: %w", err)
	}

	recs := r.repomanager.Recordings(r.runner.DB())
	if opts.RetryFailed {
		if sum.Retried, err = recs.RetryFailed(ctx, c.ID); err != nil {
			return sum, fmt.Errorf("error retrying failed uploads: %w", err)
		}
	}

	pending, err := recs.ListPending(ctx, c.ID)
	if err != nil {
		return sum, fmt.Errorf("error listing pending uploads: %w", err)
	}
	sum.Remaining = len(pending)
	if len(pending) == 0 {
		r.clearBackoff(c.ID)
		return sum, nil
	}

	token, err := r.creds.Token(ctx, c.ID)
	if err != nil {
		r.delay(c.ID, 0)
		return sum, err
	}

	for _, p := range pending {
		outcome, err := r.submit(ctx, c, token, p)
		if err != nil {
			var te *corpus.TransientError
			var retryAfter time.Duration
			if errors.As(err, &te) {
				retryAfter = te.RetryAfter
				if te.StatusCode == 401 {
					if ierr := r.creds.Invalidate(context.WithoutCancel(ctx), c.ID); ierr != nil {
						r.logger.Warn(ctx, "error invalidating credential", "contributor", c.ID, "error", ierr)
					}
				}
			}
			r.metrics.RecordUpload(metrics.OutcomeTransient)
			r.delay(c.ID, retryAfter)
			r.logger.Warn(ctx, "upload deferred", "contributor", c.ID, "item", p.Item.ID, "error", err)
			return sum, err
		}

		r.metrics.RecordUpload(outcome)
		sum.Remaining--
		switch outcome {
		case metrics.OutcomeUploaded:
			sum.Uploaded++
		case metrics.OutcomeRejected:
			sum.Failed++
		case metrics.OutcomeSuperseded:
			sum.Superseded++
		}
	}

	r.clearBackoff(c.ID)
	r.logger.Info(ctx, "reconcile pass done", "contributor", c.ID, "uploaded", sum.Uploaded, "failed", sum.Failed)
	return sum, nil
}

// submit sends one attempt and commits its outcome. A non-nil error means
// the outcome is unknown or temporary and the attempt stays pending.
func (r *Reconciler) submit(ctx context.Context, c *models.Contributor, token string, p *models.PendingUpload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrTransient, err)
	}

	audio, err := r.fetcher.Fetch(ctx, p.Attempt.ArtifactRef)
	if errors.Is(err, common.ErrArtifactUnavailable) {
		return r.commitFailed(ctx, p, "recording is no longer available: "+err.Error())
	}
	if err != nil {
		return "", fmt.Errorf("%w: fetch artifact: %v", common.ErrTransient, err)
	}

	if err := r.repomanager.Recordings(r.runner.DB()).IncrementSubmitCount(ctx, p.Attempt.ID); err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrTransient, err)
	}

	subCtx, cancel := context.WithTimeout(ctx, r.cfg.CorpusTimeout)
	defer cancel()
	err = r.corpus.SubmitRecording(subCtx, token, &corpus.Submission{
		UserID:   c.CorpusUserID,
		Language: p.Item.Language,
		TextID:   p.Item.TextID,
		Text:     p.Item.Text,
		Hash:     p.Item.Hash,
		Age:      c.Age,
		Gender:   c.Gender,
		Audio:    audio,
	})

	if rej, ok := corpus.IsRejected(err); ok {
		reason := rej.Detail
		if reason == "" {
			reason = rej.Error()
		}
		return r.commitFailed(ctx, p, reason)
	}
	if err != nil {
		if errors.Is(err, common.ErrTransient) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", common.ErrTransient, err)
	}
	return r.commitUploaded(ctx, p)
}

func (r *Reconciler) commitUploaded(ctx context.Context, p *models.PendingUpload) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	outcome := metrics.OutcomeUploaded
	err := r.runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		now := r.now()
		ok, err := r.repomanager.Recordings(tx).MarkUploaded(ctx, p.Attempt.ID, p.Attempt.ArtifactRef, now)
		if err != nil {
			return err
		}
		if !ok {
			outcome = metrics.OutcomeSuperseded
			return nil
		}
		return r.repomanager.WorkItems(tx).MarkUploaded(ctx, p.Item.ID, now)
	})
	if err != nil {
		return "", fmt.Errorf("%w: commit upload: %v", common.ErrTransient, err)
	}
	return outcome, nil
}

func (r *Reconciler) commitFailed(ctx context.Context, p *models.PendingUpload, reason string) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()

	ok, err := r.repomanager.Recordings(r.runner.DB()).MarkFailed(ctx, p.Attempt.ID, p.Attempt.ArtifactRef, reason)
	if err != nil {
		return "", fmt.Errorf("%w: commit rejection: %v", common.ErrTransient, err)
	}
	if !ok {
		return metrics.OutcomeSuperseded, nil
	}
	r.logger.Warn(ctx, "upload rejected", "item", p.Item.ID, "reason", reason)
	return metrics.OutcomeRejected, nil
}

// delay puts id on capped exponential backoff, or longer when the corpus
// asked for it.
func (r *Reconciler) delay(id string, atLeast time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.backoff[id]
	st.failures++
	d := r.cfg.BackoffBase
	for i := 1; i < st.failures && d < r.cfg.BackoffMax; i++ {
		d *= 2
	}
	if d > r.cfg.BackoffMax {
		d = r.cfg.BackoffMax
	}
	if atLeast > d {
		d = atLeast
	}
	st.until = r.now().Add(d)
	r.backoff[id] = st
	r.metrics.SetBackedOff(len(r.backoff))
}

func (r *Reconciler) clearBackoff(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.backoff, id)
	r.metrics.SetBackedOff(len(r.backoff))
}

// BackoffUntil reports when id becomes eligible for a background pass.
func (r *Reconciler) BackoffUntil(id string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.backoff[id]
	return st.until, ok
}

func (r *Reconciler) due(id string) bool {
	until, ok := r.BackoffUntil(id)
	return !ok || !r.now().Before(until)
}

// RunOnce reconciles every contributor with pending uploads that is not
// backing off, at most cfg.ReconcileWorkers at a time.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	ids, err := r.repomanager.Recordings(r.runner.DB()).ContributorsWithPending(ctx)
	if err != nil {
		return fmt.Errorf("error listing contributors: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(r.cfg.ReconcileWorkers)
	for _, id := range ids {
		if !r.due(id) {
			continue
		}
		g.Go(func() error {
			if _, err := r.ReconcileContributor(ctx, id, ReconcileOptions{}); err != nil && !errors.Is(err, common.ErrTransient) {
				r.logger.Error(ctx, "reconcile pass failed", "contributor", id, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Run repeats RunOnce every cfg.ReconcileInterval until ctx is done.
// Passes started by Trigger may still be running when it returns; use Wait.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		if err := r.RunOnce(ctx); err != nil {
			r.logger.Error(ctx, "background reconcile failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Trigger starts a pass for contributorID in the background, for example
// right after a capture. Wait blocks until triggered passes finish.
func (r *Reconciler) Trigger(ctx context.Context, contributorID string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.ReconcileContributor(ctx, contributorID, ReconcileOptions{}); err != nil && !errors.Is(err, common.ErrTransient) {
			r.logger.Error(ctx, "triggered reconcile failed", "contributor", contributorID, "error", err)
		}
	}()
}

func (r *Reconciler) Wait() { r.wg.Wait() }
