// Package engine runs complete reconciliation cycles without a workflow
// server: plan, execute, re-scan, verify, report. Units are independent and
// fan out on a bounded group; the three phases within a unit are strictly
// sequential.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/frame-sync/internal/executor"
	"github.com/yourorg/frame-sync/internal/frame"
	"github.com/yourorg/frame-sync/internal/iopkg"
	"github.com/yourorg/frame-sync/internal/metrics"
	"github.com/yourorg/frame-sync/internal/reconcile"
	"github.com/yourorg/frame-sync/internal/scan"
	"github.com/yourorg/frame-sync/internal/sheet"
	"github.com/yourorg/frame-sync/internal/types"
)

type Options struct {
	Layout   frame.Layout
	Provider sheet.Provider
	Scanner  *scan.Scanner
	Exec     *executor.Executor
	Log      *zap.Logger

	// UnitConcurrency bounds concurrent units; at most one run per unit may
	// be in flight, which is the caller's scheduling responsibility.
	UnitConcurrency int
	// ReportURITemplate, when set, receives each unit's JSON report;
	// {unit} expands to the episode id.
	ReportURITemplate string
}

type Engine struct {
	opts Options
	log  *zap.Logger
}

func New(opts Options) *Engine {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.UnitConcurrency <= 0 {
		opts.UnitConcurrency = 1
	}
	return &Engine{opts: opts, log: opts.Log}
}

// Run reconciles the given units. A unit that aborts (bad sheet, corrupt
// keys) is reported with its error and does not stop the others; only
// context cancellation stops the run.
func (e *Engine) Run(ctx context.Context, units []frame.UnitCode) ([]types.RunReport, error) {
	reports := make([]types.RunReport, len(units))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.UnitConcurrency)
	for i, unit := range units {
		i, unit := i, unit
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rep, err := e.RunUnit(ctx, unit)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				e.log.Error("unit aborted", zap.String("unit", unit.String()), zap.Error(err))
				rep = types.RunReport{Unit: unit.String(), Error: err.Error()}
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, nil
}

// RunUnit reconciles one unit end to end. Input errors return before any
// store mutation.
func (e *Engine) RunUnit(ctx context.Context, unit frame.UnitCode) (types.RunReport, error) {
	start := time.Now()
	log := e.log.With(zap.String("unit", unit.String()))

	// Plan. Desired and actual observation are independent reads.
	var desired []frame.DesiredRecord
	var actual []frame.ActualRecord
	obs, obsCtx := errgroup.WithContext(ctx)
	obs.Go(func() error {
		var err error
		desired, err = e.opts.Provider.LoadDesired(obsCtx, unit)
		return err
	})
	obs.Go(func() error {
		var err error
		actual, err = e.opts.Scanner.Scan(obsCtx, unit)
		return err
	})
	if err := obs.Wait(); err != nil {
		return types.RunReport{}, err
	}

	plan, err := reconcile.Diff(e.opts.Layout, unit, desired, actual)
	if err != nil {
		return types.RunReport{}, err
	}
	creates, moves, deletes, noops := plan.Counts()
	metrics.PlannedCreates.Add(float64(creates))
	metrics.PlannedMoves.Add(float64(moves))
	metrics.PlannedDeletes.Add(float64(deletes))
	metrics.PlannedNoops.Add(float64(noops))
	for _, w := range plan.Warnings {
		log.Warn("plan warning", zap.String("warning", w))
	}
	log.Info("plan built",
		zap.Int("desired", len(desired)),
		zap.Int("actual", len(actual)),
		zap.Int("creates", creates),
		zap.Int("moves", moves),
		zap.Int("deletes", deletes),
		zap.Int("noops", noops))

	// Execute.
	execRes, err := e.opts.Exec.Apply(ctx, plan)
	if err != nil {
		return types.RunReport{}, err
	}

	// Verify against a fresh scan and the planning-time desired snapshot.
	rescan, err := e.opts.Scanner.Scan(ctx, unit)
	if err != nil {
		return types.RunReport{}, fmt.Errorf("verification scan: %w", err)
	}
	outcome := reconcile.Verify(e.opts.Layout, unit, plan.Desired, rescan, execRes.Failed)
	if outcome.Status == reconcile.StatusIntegrityError {
		metrics.VerifyIntegrityErrors.Inc()
		log.Error("verification failed", zap.Strings("problems", outcome.Problems))
	}
	metrics.UnitsReconciled.Inc()

	rep := buildReport(unit, plan, execRes, outcome, time.Since(start))
	e.writeReport(rep, log)
	log.Info("unit reconciled",
		zap.String("verify", string(outcome.Status)),
		zap.Int("failed", rep.Failed),
		zap.Float64("elapsed_sec", rep.ElapsedSec))
	return rep, nil
}

func buildReport(unit frame.UnitCode, plan reconcile.Plan, execRes executor.Result, outcome reconcile.Outcome, elapsed time.Duration) types.RunReport {
	_, _, _, noops := plan.Counts()
	rep := types.RunReport{
		Unit:       unit.String(),
		Created:    execRes.Created,
		Moved:      execRes.Moved,
		Deleted:    execRes.Deleted,
		Noops:      noops,
		Failed:     len(execRes.Failed),
		Warnings:   plan.Warnings,
		ElapsedSec: elapsed.Seconds(),
		Verify: types.VerifyResult{
			Status:   string(outcome.Status),
			Problems: outcome.Problems,
		},
	}
	for code := range execRes.Failed {
		rep.FailedList = append(rep.FailedList, code)
	}
	sort.Strings(rep.FailedList)
	for _, f := range outcome.Drifted {
		rep.Verify.Drifted = append(rep.Verify.Drifted, f.String())
	}
	return rep
}

var reportMu sync.Mutex

func (e *Engine) writeReport(rep types.RunReport, log *zap.Logger) {
	if e.opts.ReportURITemplate == "" {
		return
	}
	uri := strings.ReplaceAll(e.opts.ReportURITemplate, "{unit}", rep.Unit)
	b, _ := json.MarshalIndent(rep, "", "  ")
	reportMu.Lock()
	defer reportMu.Unlock()
	w, c, err := iopkg.CreateWriter(uri)
	if err != nil {
		log.Warn("report write failed", zap.String("uri", uri), zap.Error(err))
		return
	}
	_, _ = w.Write(b)
	if err := c.Close(); err != nil {
		log.Warn("report write failed", zap.String("uri", uri), zap.Error(err))
	}
}
