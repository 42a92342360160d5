package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// loadDotEnv reads KEY=VALUE pairs into the process environment without
// overriding variables that are already set. With no explicit path a
// missing ./.env is not an error.
func loadDotEnv(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// applyEnv lets secrets come from the environment so they never need to sit
// in the config file.
func applyEnv(config *Config) {
	setString(&config.DatabaseDSN, os.Getenv("DATABASE_DSN"))
	setString(&config.SecretKey, os.Getenv("SECRET_KEY"))
	setString(&config.CorpusClientID, os.Getenv("CV_CLIENT_ID"))
	setString(&config.CorpusClientSecret, os.Getenv("CV_CLIENT_SECRET"))
	setString(&config.S3RootPassword, os.Getenv("S3_ROOT_PASSWORD"))
}
