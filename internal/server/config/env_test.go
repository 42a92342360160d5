package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDotEnv_ExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CV_CLIENT_ID=from-dotenv\n"), 0o600))

	t.Setenv("CV_CLIENT_ID", "")
	require.NoError(t, os.Unsetenv("CV_CLIENT_ID"))

	require.NoError(t, loadDotEnv(path))
	t.Cleanup(func() { _ = os.Unsetenv("CV_CLIENT_ID") })

	var cfg Config
	applyEnv(&cfg)
	assert.Equal(t, "from-dotenv", cfg.CorpusClientID)
}

func TestLoadDotEnv_MissingExplicitFile(t *testing.T) {
	require.Error(t, loadDotEnv(filepath.Join(t.TempDir(), "none.env")))
}

func TestApplyEnv_EmptyKeepsValues(t *testing.T) {
	t.Setenv("DATABASE_DSN", "")
	cfg := Config{DatabaseDSN: "keep"}
	applyEnv(&cfg)
	assert.Equal(t, "keep", cfg.DatabaseDSN)
}
