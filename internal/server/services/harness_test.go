package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Adriatogi/common-voice-offline/internal/common"
	"github.com/Adriatogi/common-voice-offline/internal/cryptox"
	"github.com/Adriatogi/common-voice-offline/internal/logging"
	"github.com/Adriatogi/common-voice-offline/internal/server/backup"
	"github.com/Adriatogi/common-voice-offline/internal/server/config"
	"github.com/Adriatogi/common-voice-offline/internal/server/corpus/corpustest"
	"github.com/Adriatogi/common-voice-offline/internal/server/credentials"
	"github.com/Adriatogi/common-voice-offline/internal/server/locks"
	"github.com/Adriatogi/common-voice-offline/internal/server/metrics"
	"github.com/Adriatogi/common-voice-offline/internal/server/models"
	"github.com/Adriatogi/common-voice-offline/internal/server/repositories/memory"
)

type fakeFetcher struct {
	mu    sync.Mutex
	audio map[string][]byte
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, ref string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.audio[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, common.ErrArtifactUnavailable)
	}
	return data, nil
}

func (f *fakeFetcher) put(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio[ref] = []byte("OggS-" + ref)
}

type harness struct {
	cfg      *config.Config
	store    *memory.Store
	corpus   *corpustest.Fake
	fetcher  *fakeFetcher
	metrics  *metrics.Metrics
	sessions *Sessions

	contributors *ContributorService
	allocator    *Allocator
	capture      *CaptureService
	reconciler   *Reconciler
	stats        *StatsService
}

func newHarness(t *testing.T, sink backup.Sink) *harness {
	t.Helper()

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.Languages = map[string]string{"en": "English", "fr": "French"}
	cfg.AllocatorPageSize = 4
	cfg.CorpusTimeout = 2 * time.Second
	cfg.ReconcileTimeout = 5 * time.Second
	cfg.ReconcileWorkers = 2
	cfg.BackoffBase = time.Second
	cfg.BackoffMax = 8 * time.Second

	store := memory.NewStore()
	fake := corpustest.New()
	fetcher := &fakeFetcher{audio: make(map[string][]byte)}
	mt := metrics.New()
	log := logging.Discard()
	lk := locks.NewKeyed()
	sessions := NewSessions()

	sealer, err := cryptox.NewSealer([]byte(cfg.SecretKey), []byte("test-salt-16byte"))
	require.NoError(t, err)
	creds := credentials.NewManager(store, store, fake, sealer, cfg.TokenExpiryBuffer, cfg.CorpusTimeout, mt, log)

	return &harness{
		cfg:          cfg,
		store:        store,
		corpus:       fake,
		fetcher:      fetcher,
		metrics:      mt,
		sessions:     sessions,
		contributors: NewContributorService(store, store, cfg, fake, creds, lk, sessions, log),
		allocator:    NewAllocator(store, store, cfg, fake, creds, lk, mt, log),
		capture:      NewCaptureService(store, store, lk, fetcher, sink, mt, log),
		reconciler:   NewReconciler(store, store, cfg, fake, creds, lk, fetcher, mt, log),
		stats:        NewStatsService(store, store),
	}
}

// register creates a contributor bound to chatID.
func (h *harness) register(t *testing.T, chatID, email, username string) *models.Contributor {
	t.Helper()
	c, rebound, err := h.contributors.Register(context.Background(), Registration{
		ChatID: chatID, Email: email, Username: username,
	})
	require.NoError(t, err)
	require.False(t, rebound)
	return c
}

// captureAt records a fresh artifact for position and returns its ref.
func (h *harness) captureAt(t *testing.T, contributorID string, position int, ref string) *models.RecordingAttempt {
	t.Helper()
	h.fetcher.put(ref)
	a, err := h.capture.Capture(context.Background(), contributorID, position, ref)
	require.NoError(t, err)
	return a
}

func (h *harness) item(t *testing.T, contributorID string, position int) *models.ItemState {
	t.Helper()
	items, err := h.allocator.Current(context.Background(), contributorID)
	require.NoError(t, err)
	for _, it := range items {
		if it.Item.Position == position {
			return it
		}
	}
	t.Fatalf("no item at position %d", position)
	return nil
}
