package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		expected *Config
		name     string
		args     []string
		wantErr  bool
	}{
		{
			name: "all flags",
			args: []string{
				"-d", "db", "-s", "secret", "-u", "http://cv", "-g", ":6000", "-m", ":6001",
				"-b", "/backups", "-k", "/run/cv.lock", "-w", "8", "-i", "45s", "-l", "debug", "-f", "text",
			},
			expected: &Config{
				DatabaseDSN:       "db",
				SecretKey:         "secret",
				CorpusBaseURL:     "http://cv",
				HealthAddrGRPC:    ":6000",
				MetricsAddr:       ":6001",
				BackupDir:         "/backups",
				LockFile:          "/run/cv.lock",
				ReconcileWorkers:  8,
				ReconcileInterval: 45 * time.Second,
				LogLevel:          "debug",
				LogFormat:         "text",
			},
		},
		{
			name:     "config file flags are skipped",
			args:     []string{"-c", "cfg.yaml", "-e", ".env", "-d", "db"},
			expected: &Config{DatabaseDSN: "db"},
		},
		{
			name:    "bad duration",
			args:    []string{"-i", "soon"},
			wantErr: true,
		},
		{
			name:    "bad int",
			args:    []string{"-w", "many"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{}
			err := parseFlags(config, tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.expected, config); diff != "" {
				t.Errorf("config mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
