package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxConcurrency  = 1
	DefaultBatchRecordSize = 500
	DefaultBatchTimeout    = 30 * time.Second
	DefaultMaxAttempts     = 1
	DefaultRetryInitial    = 500 * time.Millisecond
	DefaultRetryMax        = 30 * time.Second
)

// Validator : implemented by source and target configs
type Validator interface {
	Validate() error
}

// Retry : automatic retry policy for retryable failures. MaxAttempts of 1 disables it.
type Retry struct {
	MaxAttempts       int `json:"max_attempts" yaml:"max_attempts"`
	InitialIntervalMS int `json:"initial_interval_ms" yaml:"initial_interval_ms"`
	MaxIntervalMS     int `json:"max_interval_ms" yaml:"max_interval_ms"`
}

func (r Retry) InitialInterval() time.Duration {
	return time.Duration(r.InitialIntervalMS) * time.Millisecond
}

func (r Retry) MaxInterval() time.Duration {
	return time.Duration(r.MaxIntervalMS) * time.Millisecond
}

// Archive : where finished session snapshots go
type Archive struct {
	Dir      string `json:"dir" yaml:"dir"`
	S3Bucket string `json:"s3_bucket" yaml:"s3_bucket"`
	S3Prefix string `json:"s3_prefix" yaml:"s3_prefix"`
}

// Config : configuration for the job
type Config[S any, T any] struct {
	MaxConcurrency  int     `json:"max_concurrency" yaml:"max_concurrency"`
	BatchRecordSize int     `json:"max_batch_record_size" yaml:"max_batch_record_size"`
	BatchTimeoutSec int     `json:"batch_timeout_sec" yaml:"batch_timeout_sec"`
	Retry           Retry   `json:"retry" yaml:"retry"`
	Archive         Archive `json:"archive" yaml:"archive"`
	Listen          string  `json:"listen" yaml:"listen"`
	Debug           bool    `json:"debug" yaml:"debug"`
	SourceConfig    S       `json:"source" yaml:"source"`
	Target          T       `json:"target" yaml:"target"`
}

// BatchTimeout : per batch deadline
func (c *Config[S, T]) BatchTimeout() time.Duration {
	return time.Duration(c.BatchTimeoutSec) * time.Second
}

// WithDefaults : fills anything left unset
func (c *Config[S, T]) WithDefaults() *Config[S, T] {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.BatchRecordSize <= 0 {
		c.BatchRecordSize = DefaultBatchRecordSize
	}
	if c.BatchTimeoutSec <= 0 {
		c.BatchTimeoutSec = int(DefaultBatchTimeout / time.Second)
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if c.Retry.InitialIntervalMS <= 0 {
		c.Retry.InitialIntervalMS = int(DefaultRetryInitial / time.Millisecond)
	}
	if c.Retry.MaxIntervalMS <= 0 {
		c.Retry.MaxIntervalMS = int(DefaultRetryMax / time.Millisecond)
	}
	return c
}

// Validate : checks the job and both ends, reporting every problem at once
func (c *Config[S, T]) Validate() error {
	var finalErr error
	if c.MaxConcurrency < 1 {
		finalErr = multierror.Append(finalErr, fmt.Errorf("max_concurrency must be at least 1, got %d", c.MaxConcurrency))
	}
	if c.BatchRecordSize < 1 {
		finalErr = multierror.Append(finalErr, fmt.Errorf("max_batch_record_size must be at least 1, got %d", c.BatchRecordSize))
	}
	if v, ok := any(&c.SourceConfig).(Validator); ok {
		if err := v.Validate(); err != nil {
			finalErr = multierror.Append(finalErr, err)
		}
	}
	if v, ok := any(&c.Target).(Validator); ok {
		if err := v.Validate(); err != nil {
			finalErr = multierror.Append(finalErr, err)
		}
	}
	return finalErr
}

// Load : reads a job file (json, or yaml by extension), applies defaults and validates it
func Load[S any, T any](fs afero.Fs, path string) (*Config[S, T], error) {
	var cfg Config[S, T]
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading %s : %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	default:
		err = json.Unmarshal(b, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s : %w", path, err)
	}
	cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job config %s : %w", path, err)
	}
	return &cfg, nil
}
