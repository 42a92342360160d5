package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Adriatogi/common-voice-offline/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape of the config file. It is decoded from
// JSON or YAML depending on the file extension and then overlaid on Config;
// zero values leave the current setting untouched.
type FileConfig struct {
	DatabaseDSN string `json:"database_dsn" yaml:"database_dsn"`
	SecretKey   string `json:"secret_key" yaml:"secret_key"`

	CVAPI struct {
		BaseURL                  string         `json:"base_url" yaml:"base_url"`
		ClientID                 string         `json:"client_id" yaml:"client_id"`
		ClientSecret             string         `json:"client_secret" yaml:"client_secret"`
		Timeout                  timex.Duration `json:"timeout" yaml:"timeout"`
		TokenExpiryBufferSeconds int            `json:"token_expiry_buffer_seconds" yaml:"token_expiry_buffer_seconds"`
	} `json:"cv_api" yaml:"cv_api"`

	Languages map[string]string `json:"languages" yaml:"languages"`

	Sentences struct {
		Max      int `json:"max" yaml:"max"`
		Default  int `json:"default" yaml:"default"`
		PageSize int `json:"page_size" yaml:"page_size"`
		MaxPages int `json:"max_pages" yaml:"max_pages"`
	} `json:"sentences" yaml:"sentences"`

	Reconcile struct {
		Interval    timex.Duration `json:"interval" yaml:"interval"`
		Timeout     timex.Duration `json:"timeout" yaml:"timeout"`
		Workers     int            `json:"workers" yaml:"workers"`
		BackoffBase timex.Duration `json:"backoff_base" yaml:"backoff_base"`
		BackoffMax  timex.Duration `json:"backoff_max" yaml:"backoff_max"`
	} `json:"reconcile" yaml:"reconcile"`

	Backup struct {
		Dir            string `json:"dir" yaml:"dir"`
		S3RootUser     string `json:"s3_root_user" yaml:"s3_root_user"`
		S3RootPassword string `json:"s3_root_password" yaml:"s3_root_password"`
		S3Bucket       string `json:"s3_bucket" yaml:"s3_bucket"`
		S3Region       string `json:"s3_region" yaml:"s3_region"`
		S3BaseEndpoint string `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
	} `json:"backup" yaml:"backup"`

	HealthAddrGRPC string `json:"health_addr_grpc" yaml:"health_addr_grpc"`
	MetricsAddr    string `json:"metrics_addr" yaml:"metrics_addr"`
	LockFile       string `json:"lock_file" yaml:"lock_file"`

	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"`
}

// parseFile loads path (if non-empty) and overlays its values on config.
// Files ending in .yaml or .yml are decoded as YAML, anything else as JSON.
func parseFile(config *Config, path string) error {
	if path == "" {
		return nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	c := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, c)
	default:
		err = json.Unmarshal(b, c)
	}
	if err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}

	c.apply(config)
	return nil
}

func (c *FileConfig) apply(config *Config) {
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)

	setString(&config.CorpusBaseURL, c.CVAPI.BaseURL)
	setString(&config.CorpusClientID, c.CVAPI.ClientID)
	setString(&config.CorpusClientSecret, c.CVAPI.ClientSecret)
	setDuration(&config.CorpusTimeout, c.CVAPI.Timeout)
	if c.CVAPI.TokenExpiryBufferSeconds > 0 {
		config.TokenExpiryBuffer = time.Duration(c.CVAPI.TokenExpiryBufferSeconds) * time.Second
	}

	if len(c.Languages) > 0 {
		config.Languages = c.Languages
	}

	setInt(&config.MaxSentences, c.Sentences.Max)
	setInt(&config.DefaultSentences, c.Sentences.Default)
	setInt(&config.AllocatorPageSize, c.Sentences.PageSize)
	setInt(&config.AllocatorMaxPages, c.Sentences.MaxPages)

	setDuration(&config.ReconcileInterval, c.Reconcile.Interval)
	setDuration(&config.ReconcileTimeout, c.Reconcile.Timeout)
	setInt(&config.ReconcileWorkers, c.Reconcile.Workers)
	setDuration(&config.BackoffBase, c.Reconcile.BackoffBase)
	setDuration(&config.BackoffMax, c.Reconcile.BackoffMax)

	setString(&config.BackupDir, c.Backup.Dir)
	setString(&config.S3RootUser, c.Backup.S3RootUser)
	setString(&config.S3RootPassword, c.Backup.S3RootPassword)
	setString(&config.S3Bucket, c.Backup.S3Bucket)
	setString(&config.S3Region, c.Backup.S3Region)
	setString(&config.S3BaseEndpoint, c.Backup.S3BaseEndpoint)

	setString(&config.HealthAddrGRPC, c.HealthAddrGRPC)
	setString(&config.MetricsAddr, c.MetricsAddr)
	setString(&config.LockFile, c.LockFile)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.LogFormat, c.LogFormat)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
