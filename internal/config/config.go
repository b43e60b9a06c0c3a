// Package config loads the frame-sync TOML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/yourorg/frame-sync/internal/assign"
	"github.com/yourorg/frame-sync/internal/executor"
	"github.com/yourorg/frame-sync/internal/frame"
	"github.com/yourorg/frame-sync/internal/sheet"
)

type Config struct {
	// Bucket is the S3 bucket holding both the source stamps tree and the
	// ML tree being reconciled.
	Bucket string `toml:"bucket"`

	Layout   Layout   `toml:"layout"`
	Sheet    Sheet    `toml:"sheet"`
	Assign   Assign   `toml:"assign"`
	Executor Executor `toml:"executor"`
	Run      Run      `toml:"run"`
	Temporal Temporal `toml:"temporal"`
	Log      Log      `toml:"log"`
}

type Layout struct {
	RootPrefix string `toml:"root_prefix"`
	Extension  string `toml:"extension"`
}

type Sheet struct {
	// URITemplate locates a unit's exported sheet; {unit} -> "S01E02",
	// {unit_lower} -> "s01e02".
	URITemplate  string   `toml:"uri_template"`
	FrameColumn  string   `toml:"frame_column"`
	ClassColumns []string `toml:"class_columns"`
}

type Assign struct {
	Sticky bool `toml:"sticky"`
	// Dir is the badger store path for sticky assignments.
	Dir          string             `toml:"dir"`
	Distribution map[string]float64 `toml:"distribution"`
}

type Executor struct {
	BatchSize   int `toml:"batch_size"`
	Concurrency int `toml:"concurrency"`
	MaxAttempts int `toml:"max_attempts"`
	RetryBaseMS int `toml:"retry_base_ms"`
}

type Run struct {
	// UnitConcurrency bounds how many units reconcile at once in direct mode.
	UnitConcurrency int `toml:"unit_concurrency"`
	// ReportURITemplate, when set, is where each unit's run report lands.
	ReportURITemplate string `toml:"report_uri_template"`
	ScratchDir        string `toml:"scratch_dir"`
}

type Temporal struct {
	HostPort  string `toml:"host_port"`
	Namespace string `toml:"namespace"`
	TaskQueue string `toml:"task_queue"`
}

type Log struct {
	Level string `toml:"level"`
}

// Default returns the baseline configuration; Load overlays a file on it.
func Default() Config {
	return Config{
		Layout: Layout{RootPrefix: "tuttle_twins", Extension: ".jpg"},
		Sheet: Sheet{
			FrameColumn: "FRAME NUMBER",
			ClassColumns: []string{
				"JONNY's RECLASSIFICATION",
				"SUPERVISED CLASSIFICATION",
				"UNSUPERVISED CLASSIFICATION",
			},
		},
		Assign: Assign{
			Sticky: true,
			Dir:    "/var/frame-sync/assignments",
			Distribution: map[string]float64{
				"train":    0.7,
				"validate": 0.2,
				"test":     0.1,
			},
		},
		Executor: Executor{BatchSize: 500, Concurrency: 4, MaxAttempts: 3, RetryBaseMS: 500},
		Run:      Run{UnitConcurrency: 2, ScratchDir: "/var/frame-sync"},
		Temporal: Temporal{HostPort: "localhost:7233", Namespace: "default", TaskQueue: "frame-sync"},
		Log:      Log{Level: "info"},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if v := os.Getenv("FRAME_SYNC_BUCKET"); v != "" {
		cfg.Bucket = v
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("config: bucket is required")
	}
	if c.Sheet.URITemplate == "" {
		return errors.New("config: sheet.uri_template is required")
	}
	if c.Sheet.FrameColumn == "" || len(c.Sheet.ClassColumns) == 0 {
		return errors.New("config: sheet columns are required")
	}
	if _, err := c.Distribution(); err != nil {
		return err
	}
	if c.Assign.Sticky && c.Assign.Dir == "" {
		return errors.New("config: assign.dir is required when assign.sticky")
	}
	return nil
}

// Distribution converts the configured split into assigner weights, in
// canonical bucket order.
func (c Config) Distribution() ([]assign.Weighted, error) {
	var dist []assign.Weighted
	seen := 0
	for _, b := range frame.Buckets {
		if w, ok := c.Assign.Distribution[string(b)]; ok {
			if w <= 0 {
				return nil, fmt.Errorf("config: bucket %s weight must be positive", b)
			}
			dist = append(dist, assign.Weighted{Bucket: b, Weight: w})
			seen++
		}
	}
	if seen != len(c.Assign.Distribution) {
		return nil, errors.New("config: distribution names an unknown bucket")
	}
	if len(dist) == 0 {
		return nil, errors.New("config: empty distribution")
	}
	return dist, nil
}

// FrameLayout returns the key layout in use.
func (c Config) FrameLayout() frame.Layout {
	return frame.Layout{RootPrefix: c.Layout.RootPrefix, Ext: c.Layout.Extension}
}

// SheetConfig returns the provider configuration.
func (c Config) SheetConfig() sheet.Config {
	return sheet.Config{
		URITemplate:  c.Sheet.URITemplate,
		FrameColumn:  c.Sheet.FrameColumn,
		ClassColumns: c.Sheet.ClassColumns,
	}
}

// ExecutorConfig returns the executor tuning for the configured bucket.
func (c Config) ExecutorConfig() executor.Config {
	return executor.Config{
		Bucket:      c.Bucket,
		BatchSize:   c.Executor.BatchSize,
		Concurrency: c.Executor.Concurrency,
		MaxAttempts: c.Executor.MaxAttempts,
		RetryBase:   time.Duration(c.Executor.RetryBaseMS) * time.Millisecond,
	}
}
