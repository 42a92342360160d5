// Package memory is an in-process RepositoryManager and dbx.Runner used by
// service tests and local dry runs. A transaction works on a private copy of
// the data that replaces the shared state only on commit; writes outside a
// transaction are serialized with transactions.
package memory

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/Adriatogi/common-voice-offline/internal/dbx"
	"github.com/Adriatogi/common-voice-offline/internal/server/models"
	"github.com/Adriatogi/common-voice-offline/internal/server/repositories/contributors"
	"github.com/Adriatogi/common-voice-offline/internal/server/repositories/recordings"
	"github.com/Adriatogi/common-voice-offline/internal/server/repositories/stats"
	"github.com/Adriatogi/common-voice-offline/internal/server/repositories/workitems"
)

type data struct {
	contributors map[string]models.Contributor
	bindings     map[string]models.ChatBinding
	items        map[string]models.WorkItem
	// keyed by work item id
	attempts map[string]models.RecordingAttempt
}

func newData() data {
	return data{
		contributors: make(map[string]models.Contributor),
		bindings:     make(map[string]models.ChatBinding),
		items:        make(map[string]models.WorkItem),
		attempts:     make(map[string]models.RecordingAttempt),
	}
}

func (d data) clone() data {
	c := newData()
	for k, v := range d.contributors {
		c.contributors[k] = v
	}
	for k, v := range d.bindings {
		c.bindings[k] = v
	}
	for k, v := range d.items {
		c.items[k] = v
	}
	for k, v := range d.attempts {
		c.attempts[k] = v
	}
	return c
}

type Store struct {
	// txMu orders transactions and writes on the shared store.
	txMu sync.Mutex
	mu   sync.RWMutex
	d    data
	now  func() time.Time
	// shared is false for a transaction's working copy.
	shared bool
}

func NewStore() *Store {
	return &Store{d: newData(), now: time.Now, shared: true}
}

// txHandle is the dbx.DBTX handed to WithTx callbacks. Repositories bound
// to it use the transaction's working copy.
type txHandle struct {
	dbx.DBTX
	work *Store
}

func (s *Store) bind(db dbx.DBTX) *Store {
	if h, ok := db.(*txHandle); ok && h != nil {
		return h.work
	}
	return s
}

// lockWrite takes the locks a write needs and returns their release.
func (s *Store) lockWrite() func() {
	if s.shared {
		s.txMu.Lock()
	}
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		if s.shared {
			s.txMu.Unlock()
		}
	}
}

// SetClock overrides the time source. Not safe to call concurrently.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) RunMigrations(context.Context, *sql.DB) error { return nil }

func (s *Store) Contributors(db dbx.DBTX) contributors.Repository {
	return &contributorRepo{s: s.bind(db)}
}
func (s *Store) WorkItems(db dbx.DBTX) workitems.Repository   { return &workItemRepo{s: s.bind(db)} }
func (s *Store) Recordings(db dbx.DBTX) recordings.Repository { return &recordingRepo{s: s.bind(db)} }
func (s *Store) Stats(db dbx.DBTX) stats.Repository           { return &statsRepo{s: s.bind(db)} }

// DB returns nil; memory repositories ignore the handle.
func (s *Store) DB() dbx.DBTX { return nil }

// WithTx runs fn on a copy of the store. The copy becomes the shared state
// only if fn returns nil; an error or panic discards it.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := &Store{d: s.d.clone(), now: s.now}
	s.mu.RUnlock()

	if err := fn(ctx, &txHandle{work: work}); err != nil {
		return err
	}

	s.mu.Lock()
	s.d = work.d
	s.mu.Unlock()
	return nil
}
