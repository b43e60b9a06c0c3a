package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/yourorg/frame-sync/internal/frame"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "frame-sync.toml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadOverlaysDefaults(t *testing.T) {
	p := writeConfig(t, `
bucket = "media.example.com"

[sheet]
uri_template = "s3://media.example.com/tuttle_twins/sheets/{unit}.csv"

[executor]
concurrency = 8
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bucket != "media.example.com" {
		t.Fatalf("bucket: %q", cfg.Bucket)
	}
	if cfg.Executor.Concurrency != 8 {
		t.Fatalf("override lost: %+v", cfg.Executor)
	}
	// defaults survive
	if cfg.Executor.BatchSize != 500 {
		t.Fatalf("default lost: %+v", cfg.Executor)
	}
	if cfg.Layout.RootPrefix != "tuttle_twins" || cfg.FrameLayout().Ext != ".jpg" {
		t.Fatalf("layout default: %+v", cfg.Layout)
	}
	if cfg.Sheet.FrameColumn != "FRAME NUMBER" || len(cfg.Sheet.ClassColumns) != 3 {
		t.Fatalf("sheet defaults: %+v", cfg.Sheet)
	}
}

func TestLoadRequiresBucketAndSheet(t *testing.T) {
	if _, err := Load(writeConfig(t, ``)); err == nil {
		t.Fatal("missing bucket must fail")
	}
	if _, err := Load(writeConfig(t, `bucket = "b"`)); err == nil {
		t.Fatal("missing sheet template must fail")
	}
}

func TestDistributionOrderAndValidation(t *testing.T) {
	p := writeConfig(t, `
bucket = "b"
[sheet]
uri_template = "file:///sheets/{unit}.csv"
[assign]
sticky = false
[assign.distribution]
test = 0.1
train = 0.7
validate = 0.2
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dist, err := cfg.Distribution()
	if err != nil {
		t.Fatalf("distribution: %v", err)
	}
	want := []frame.Bucket{frame.Train, frame.Validate, frame.Test}
	for i, w := range dist {
		if w.Bucket != want[i] {
			t.Fatalf("order: got %v", dist)
		}
	}
}

func TestDistributionRejectsUnknownBucket(t *testing.T) {
	p := writeConfig(t, `
bucket = "b"
[sheet]
uri_template = "file:///sheets/{unit}.csv"
[assign]
sticky = false
[assign.distribution]
holdout = 1.0
`)
	if _, err := Load(p); err == nil {
		t.Fatal("unknown bucket must fail validation")
	}
}

func TestStickyRequiresDir(t *testing.T) {
	p := writeConfig(t, `
bucket = "b"
[sheet]
uri_template = "file:///sheets/{unit}.csv"
[assign]
sticky = true
dir = ""
`)
	if _, err := Load(p); err == nil {
		t.Fatal("sticky without dir must fail")
	}
}
