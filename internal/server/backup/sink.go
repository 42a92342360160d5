// Package backup keeps a copy of every captured recording outside the
// messaging platform, either in a local directory or in an S3 bucket.
package backup

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/Adriatogi/common-voice-offline/internal/filex"
)

// Sink stores a recording under key and returns where it ended up.
type Sink interface {
	Store(ctx context.Context, key string, data []byte) (string, error)
}

// Key builds a stable, collision free object key for one capture.
func Key(contributorID, batchID string, position int, textID string) string {
	return path.Join(contributorID, batchID, fmt.Sprintf("%03d-%s-%s.ogg", position, sanitize(textID), uuid.NewString()[:8]))
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

type LocalSink struct {
	dir string
}

func NewLocalSink(dir string) (*LocalSink, error) {
	abs, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, fmt.Errorf("backup dir: %w", err)
	}
	return &LocalSink{dir: abs}, nil
}

func (s *LocalSink) Store(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p := filepath.Join(s.dir, filepath.FromSlash(key))
	if _, err := filex.EnsureDir(filepath.Dir(p)); err != nil {
		return "", err
	}
	if err := filex.WriteFileAtomic(p, data, 0o600); err != nil {
		return "", err
	}
	return p, nil
}
