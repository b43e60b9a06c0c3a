// Command sync reconciles episodes against their classification sheets.
//
// Direct mode runs the whole cycle in-process; submit mode hands each
// episode to a Temporal worker and waits for its report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/yourorg/frame-sync/internal/assign"
	"github.com/yourorg/frame-sync/internal/config"
	"github.com/yourorg/frame-sync/internal/engine"
	"github.com/yourorg/frame-sync/internal/executor"
	"github.com/yourorg/frame-sync/internal/frame"
	fsmetrics "github.com/yourorg/frame-sync/internal/metrics"
	"github.com/yourorg/frame-sync/internal/reconcile"
	"github.com/yourorg/frame-sync/internal/scan"
	"github.com/yourorg/frame-sync/internal/sheet"
	"github.com/yourorg/frame-sync/internal/storage"
	"github.com/yourorg/frame-sync/internal/types"
	"github.com/yourorg/frame-sync/internal/workflow"
)

func main() {
	cfgPath := flag.String("config", getenv("FRAME_SYNC_CONFIG", ""), "path to frame-sync.toml")
	unitsArg := flag.String("units", "", "comma-separated episode ids, e.g. S01E02,S01E03")
	mode := flag.String("mode", "direct", "direct | submit")
	sheetURI := flag.String("sheet", "", "override the sheet URI template for this run")
	keepScratch := flag.Bool("keep-scratch", false, "submit mode: keep the run's scratch artifacts")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal("config:", err)
	}
	if *sheetURI != "" {
		cfg.Sheet.URITemplate = *sheetURI
	}

	units, err := parseUnits(*unitsArg)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reports []types.RunReport
	switch *mode {
	case "direct":
		reports, err = runDirect(ctx, cfg, units)
	case "submit":
		reports, err = runSubmit(ctx, cfg, units, *sheetURI, *keepScratch)
	default:
		log.Fatalf("unknown mode %q", *mode)
	}
	if err != nil {
		log.Fatal(err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(reports)

	for _, rep := range reports {
		if rep.Error != "" || rep.Verify.Status == string(reconcile.StatusIntegrityError) {
			os.Exit(1)
		}
	}
}

func parseUnits(arg string) ([]frame.UnitCode, error) {
	if arg == "" {
		return nil, fmt.Errorf("-units is required")
	}
	var units []frame.UnitCode
	for _, s := range strings.Split(arg, ",") {
		u, err := frame.ParseUnit(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

func runDirect(ctx context.Context, cfg config.Config, units []frame.UnitCode) ([]types.RunReport, error) {
	zl := newZap(getenv("LOG_LEVEL", cfg.Log.Level))
	defer zl.Sync()
	fsmetrics.Init()

	store, err := storage.NewS3(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}

	dist, err := cfg.Distribution()
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var assigner *assign.Assigner
	if cfg.Assign.Sticky {
		assigner, err = assign.Open(cfg.Assign.Dir, dist, rng)
	} else {
		assigner, err = assign.New(dist, rng)
	}
	if err != nil {
		return nil, fmt.Errorf("assigner: %w", err)
	}
	defer assigner.Close()

	layout := cfg.FrameLayout()
	eng := engine.New(engine.Options{
		Layout:            layout,
		Provider:          sheet.NewProvider(cfg.SheetConfig(), layout, assigner, zl),
		Scanner:           scan.New(store, cfg.Bucket, layout, zl),
		Exec:              executor.New(store, cfg.ExecutorConfig(), zl),
		Log:               zl,
		UnitConcurrency:   cfg.Run.UnitConcurrency,
		ReportURITemplate: cfg.Run.ReportURITemplate,
	})
	return eng.Run(ctx, units)
}

func runSubmit(ctx context.Context, cfg config.Config, units []frame.UnitCode, sheetURI string, keepScratch bool) ([]types.RunReport, error) {
	taddr := getenv("TEMPORAL_TARGET_HOST", getenv("TEMPORAL_ADDRESS", cfg.Temporal.HostPort))
	c, err := client.Dial(client.Options{
		HostPort:  taddr,
		Namespace: getenv("TEMPORAL_NAMESPACE", cfg.Temporal.Namespace),
	})
	if err != nil {
		return nil, fmt.Errorf("temporal client: %w", err)
	}
	defer c.Close()

	queue := getenv("TEMPORAL_TASK_QUEUE", cfg.Temporal.TaskQueue)
	runs := make([]client.WorkflowRun, len(units))
	for i, u := range units {
		opts := client.StartWorkflowOptions{
			// One live run per episode; a second submit joins the first.
			ID:        "frame-sync-" + u.Lower(),
			TaskQueue: queue,
		}
		p := types.ReconcileParams{Unit: u.String(), SheetURI: sheetURI, KeepScratch: keepScratch}
		run, err := c.ExecuteWorkflow(ctx, opts, workflow.ReconcileEpisodeWorkflow, p)
		if err != nil {
			return nil, fmt.Errorf("submit %s: %w", u, err)
		}
		runs[i] = run
	}

	reports := make([]types.RunReport, len(units))
	for i, run := range runs {
		if err := run.Get(ctx, &reports[i]); err != nil {
			reports[i] = types.RunReport{Unit: units[i].String(), Error: err.Error()}
		}
	}
	return reports, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func newZap(level string) *zap.Logger {
	zc := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zc.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zc.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
