package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"strings"
	"time"

	tactivity "go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/yourorg/frame-sync/internal/activities"
	"github.com/yourorg/frame-sync/internal/assign"
	"github.com/yourorg/frame-sync/internal/config"
	"github.com/yourorg/frame-sync/internal/executor"
	fsmetrics "github.com/yourorg/frame-sync/internal/metrics"
	"github.com/yourorg/frame-sync/internal/scan"
	"github.com/yourorg/frame-sync/internal/sheet"
	"github.com/yourorg/frame-sync/internal/storage"
	"github.com/yourorg/frame-sync/internal/workflow"
)

func main() {
	cfgPath := flag.String("config", getenv("FRAME_SYNC_CONFIG", ""), "path to frame-sync.toml")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal("config:", err)
	}

	// Support both TEMPORAL_TARGET_HOST and TEMPORAL_ADDRESS for compatibility
	taddr := getenv("TEMPORAL_TARGET_HOST", getenv("TEMPORAL_ADDRESS", cfg.Temporal.HostPort))
	ns := getenv("TEMPORAL_NAMESPACE", cfg.Temporal.Namespace)
	q := getenv("TEMPORAL_TASK_QUEUE", cfg.Temporal.TaskQueue)
	scratch := getenv("FRAME_SYNC_SCRATCH", cfg.Run.ScratchDir)
	_ = os.MkdirAll(scratch, 0o777)

	zl := newZap(getenv("LOG_LEVEL", cfg.Log.Level))
	defer zl.Sync()

	fsmetrics.Init()
	go func() {
		addr := fsmetrics.AddrFromEnv()
		_ = fsmetrics.Serve(addr)
	}()

	store, err := storage.NewS3(context.Background())
	if err != nil {
		log.Fatal("s3 client:", err)
	}

	dist, err := cfg.Distribution()
	if err != nil {
		log.Fatal("config:", err)
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var assigner *assign.Assigner
	if cfg.Assign.Sticky {
		assigner, err = assign.Open(cfg.Assign.Dir, dist, rng)
	} else {
		assigner, err = assign.New(dist, rng)
	}
	if err != nil {
		log.Fatal("assigner:", err)
	}
	defer assigner.Close()

	layout := cfg.FrameLayout()
	provider := sheet.NewProvider(cfg.SheetConfig(), layout, assigner, zl)
	deps := activities.Deps{
		Layout:   layout,
		Provider: provider,
		ProviderFor: func(uriTemplate string) sheet.Provider {
			sc := cfg.SheetConfig()
			sc.URITemplate = uriTemplate
			return sheet.NewProvider(sc, layout, assigner, zl)
		},
		Scanner: scan.New(store, cfg.Bucket, layout, zl),
		Exec:    executor.New(store, cfg.ExecutorConfig(), zl),
		Log:     zl,
	}

	c, err := client.Dial(client.Options{HostPort: taddr, Namespace: ns})
	if err != nil {
		log.Fatal("temporal client:", err)
	}
	defer c.Close()

	w := worker.New(c, q, worker.Options{})
	acts := activities.New(activities.Config{ScratchDir: scratch}, deps)
	// Register activities with explicit names matching workflow.ExecuteActivity calls
	w.RegisterActivityWithOptions(acts.BuildPlan, tactivity.RegisterOptions{Name: "Activities.BuildPlan"})
	w.RegisterActivityWithOptions(acts.ExecutePlan, tactivity.RegisterOptions{Name: "Activities.ExecutePlan"})
	w.RegisterActivityWithOptions(acts.VerifyUnit, tactivity.RegisterOptions{Name: "Activities.VerifyUnit"})
	w.RegisterActivityWithOptions(acts.CleanupScratch, tactivity.RegisterOptions{Name: "Activities.CleanupScratch"})
	w.RegisterWorkflow(workflow.ReconcileEpisodeWorkflow)

	zl.Info("worker started",
		zap.String("namespace", ns),
		zap.String("taskQueue", q),
		zap.String("bucket", cfg.Bucket),
		zap.String("scratch", scratch))
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatal("worker failed:", err)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func newZap(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
