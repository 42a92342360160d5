package config

import (
	"flag"
	"fmt"
	"io"

	"github.com/Adriatogi/common-voice-offline/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string     PostgreSQL DSN
//	-s string     secret key for sealing stored credentials
//	-u string     corpus service base URL
//	-g string     gRPC health bind address ("" disables)
//	-m string     metrics bind address ("" disables)
//	-b string     local backup directory
//	-k string     lock file path
//	-w int        background reconcile workers
//	-i duration   background reconcile interval (e.g. "1m")
//	-l string     log level (debug, info, warn, error)
//	-f string     log format (json, text)
//
// The args are first filtered with flagx.FilterArgs so that -c/-e (handled
// earlier) do not trip the flag set.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-d", "-s", "-u", "-g", "-m", "-b", "-k", "-w", "-i", "-l", "-f"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN (\"memory\" for an in-process store)")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.CorpusBaseURL, "u", config.CorpusBaseURL, "corpus service base URL")
	fs.StringVar(&config.HealthAddrGRPC, "g", config.HealthAddrGRPC, "gRPC health address")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "metrics address")
	fs.StringVar(&config.BackupDir, "b", config.BackupDir, "backup directory")
	fs.StringVar(&config.LockFile, "k", config.LockFile, "lock file")
	fs.IntVar(&config.ReconcileWorkers, "w", config.ReconcileWorkers, "reconcile workers")
	fs.DurationVar(&config.ReconcileInterval, "i", config.ReconcileInterval, "reconcile interval")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.LogFormat, "f", config.LogFormat, "log format")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	return nil
}
