// Package corpustest provides an in-process corpus.Service that counts
// calls and lets tests script failures.
package corpustest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Adriatogi/common-voice-offline/internal/common"
	"github.com/Adriatogi/common-voice-offline/internal/server/corpus"
	"github.com/Adriatogi/common-voice-offline/internal/server/models"
)

type Fake struct {
	mu sync.Mutex

	// Sentences per language, served page by page.
	Sentences map[string][]models.Sentence
	// TTL of issued tokens; one hour when zero.
	TTL time.Duration
	// RefreshDelay slows RefreshCredential down, for single-flight tests.
	RefreshDelay time.Duration

	FetchErr   error
	RefreshErr error
	// SubmitFunc decides the outcome of a submission; nil accepts all.
	SubmitFunc func(s *corpus.Submission) error

	FetchCalls   int
	RefreshCalls int
	CreateCalls  int
	Submissions  []corpus.Submission
	Tokens       []string

	accounts map[string]string
}

var _ corpus.Service = (*Fake)(nil)

func New() *Fake {
	return &Fake{Sentences: make(map[string][]models.Sentence), accounts: make(map[string]string)}
}

// AddSentences appends n sentences to language with ids prefix-1..prefix-n.
func (f *Fake) AddSentences(language, prefix string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("%s-%d", prefix, i)
		f.Sentences[language] = append(f.Sentences[language], models.Sentence{
			TextID: id, Text: "Sentence " + id + ".", Hash: "h" + id,
		})
	}
}

func (f *Fake) FetchSentences(_ context.Context, _ string, language string, limit, offset int) ([]models.Sentence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FetchCalls++
	if f.FetchErr != nil {
		return nil, f.FetchErr
	}
	all := f.Sentences[language]
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return append([]models.Sentence(nil), all[offset:end]...), nil
}

func (f *Fake) CreateAccount(_ context.Context, _ string, email, username string) (*corpus.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateCalls++
	if f.accounts == nil {
		f.accounts = make(map[string]string)
	}
	for _, key := range []string{"e:" + strings.ToLower(email), "u:" + username} {
		if _, ok := f.accounts[key]; ok {
			return nil, fmt.Errorf("%w: %s", common.ErrDuplicateIdentity, key)
		}
	}
	id := fmt.Sprintf("cv-user-%d", f.CreateCalls)
	f.accounts["e:"+strings.ToLower(email)] = id
	f.accounts["u:"+username] = id
	return &corpus.Account{UserID: id, RefreshToken: "refresh-" + id}, nil
}

func (f *Fake) RefreshCredential(ctx context.Context, refreshToken string) (*corpus.Credential, error) {
	if f.RefreshDelay > 0 {
		select {
		case <-time.After(f.RefreshDelay):
		case <-ctx.Done():
			return nil, &corpus.TransientError{Err: ctx.Err()}
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RefreshCalls++
	if f.RefreshErr != nil {
		return nil, f.RefreshErr
	}
	ttl := f.TTL
	if ttl == 0 {
		ttl = time.Hour
	}
	tok := fmt.Sprintf("token-%d", f.RefreshCalls)
	f.Tokens = append(f.Tokens, tok)
	return &corpus.Credential{AccessToken: tok, RefreshToken: refreshToken, ExpiresAt: time.Now().Add(ttl)}, nil
}

func (f *Fake) SubmitRecording(ctx context.Context, _ string, s *corpus.Submission) error {
	if err := ctx.Err(); err != nil {
		return &corpus.TransientError{Err: err}
	}
	f.mu.Lock()
	fn := f.SubmitFunc
	f.mu.Unlock()

	var err error
	if fn != nil {
		err = fn(s)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	cp.Audio = append([]byte(nil), s.Audio...)
	f.Submissions = append(f.Submissions, cp)
	return err
}

// SubmitCount reports how many submissions carried textID.
func (f *Fake) SubmitCount(textID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.Submissions {
		if s.TextID == textID {
			n++
		}
	}
	return n
}

// Counts returns fetch, refresh and submit call counts.
func (f *Fake) Counts() (fetch, refresh, submit int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.FetchCalls, f.RefreshCalls, len(f.Submissions)
}

func (f *Fake) SetSubmitFunc(fn func(s *corpus.Submission) error) {
	f.mu.Lock()
	f.SubmitFunc = fn
	f.mu.Unlock()
}
