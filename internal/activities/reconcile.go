// Package activities holds the Temporal activity implementations behind the
// episode reconciliation workflow. Planning, execution, and verification are
// separate activities so each retries independently; the plan itself travels
// between them as a JSON artifact in scratch space, not through workflow
// history.
package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/yourorg/frame-sync/internal/executor"
	"github.com/yourorg/frame-sync/internal/frame"
	"github.com/yourorg/frame-sync/internal/iopkg"
	"github.com/yourorg/frame-sync/internal/metrics"
	"github.com/yourorg/frame-sync/internal/reconcile"
	"github.com/yourorg/frame-sync/internal/scan"
	"github.com/yourorg/frame-sync/internal/sheet"
	"github.com/yourorg/frame-sync/internal/types"
)

type Config struct {
	ScratchDir string
}

// Deps are the wired collaborators. ProviderFor is optional; when set it
// serves runs that override the configured sheet URI.
type Deps struct {
	Layout      frame.Layout
	Provider    sheet.Provider
	ProviderFor func(uriTemplate string) sheet.Provider
	Scanner     *scan.Scanner
	Exec        *executor.Executor
	Log         *zap.Logger
}

type Activities struct {
	cfg  Config
	deps Deps
}

func New(cfg Config, deps Deps) *Activities {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &Activities{cfg: cfg, deps: deps}
}

// BuildPlan loads desired and actual state for one unit, diffs them, and
// writes the plan (desired snapshot included) to scratch. Input errors are
// returned non-retryable: a malformed sheet will not fix itself on retry.
func (a *Activities) BuildPlan(ctx context.Context, p types.ReconcileParams) (types.PlanSummary, error) {
	unit, err := frame.ParseUnit(p.Unit)
	if err != nil {
		return types.PlanSummary{}, nonRetryable(err)
	}

	provider := a.deps.Provider
	if p.SheetURI != "" {
		if a.deps.ProviderFor == nil {
			return types.PlanSummary{}, nonRetryable(errors.New("sheet uri override not supported by this worker"))
		}
		provider = a.deps.ProviderFor(p.SheetURI)
	}

	desired, err := provider.LoadDesired(ctx, unit)
	if err != nil {
		return types.PlanSummary{}, classify(err)
	}
	if activity.IsActivity(ctx) {
		activity.RecordHeartbeat(ctx, map[string]any{"stage": "desired", "frames": len(desired)})
	}

	actual, err := a.deps.Scanner.Scan(ctx, unit)
	if err != nil {
		return types.PlanSummary{}, classify(err)
	}
	if activity.IsActivity(ctx) {
		activity.RecordHeartbeat(ctx, map[string]any{"stage": "scanned", "objects": len(actual)})
	}

	plan, err := reconcile.Diff(a.deps.Layout, unit, desired, actual)
	if err != nil {
		return types.PlanSummary{}, classify(err)
	}
	creates, moves, deletes, noops := plan.Counts()
	metrics.PlannedCreates.Add(float64(creates))
	metrics.PlannedMoves.Add(float64(moves))
	metrics.PlannedDeletes.Add(float64(deletes))
	metrics.PlannedNoops.Add(float64(noops))

	uri, err := a.writePlan(p.ScratchSubdir, unit, plan)
	if err != nil {
		return types.PlanSummary{}, err
	}
	a.deps.Log.Info("plan built",
		zap.String("unit", unit.String()),
		zap.String("plan", uri),
		zap.Int("creates", creates),
		zap.Int("moves", moves),
		zap.Int("deletes", deletes),
		zap.Int("noops", noops))
	return types.PlanSummary{
		PlanURI:  uri,
		Creates:  creates,
		Moves:    moves,
		Deletes:  deletes,
		Noops:    noops,
		Warnings: plan.Warnings,
	}, nil
}

// ExecutePlan applies a stored plan. Per-frame failures are data, not
// activity errors; only losing the plan artifact or the context fails the
// activity itself.
func (a *Activities) ExecutePlan(ctx context.Context, p types.ExecuteParams) (types.ExecResult, error) {
	plan, err := readPlan(p.PlanURI)
	if err != nil {
		return types.ExecResult{}, nonRetryable(err)
	}

	// The executor has no safe heartbeat point mid-batch; beat on a ticker
	// instead so slow S3 phases don't trip the heartbeat timeout.
	hbCtx, stopHB := context.WithCancel(ctx)
	defer stopHB()
	go func() {
		t := time.NewTicker(15 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-t.C:
				if activity.IsActivity(ctx) {
					activity.RecordHeartbeat(ctx, map[string]any{"stage": "executing"})
				}
			}
		}
	}()

	res, err := a.deps.Exec.Apply(ctx, plan)
	if err != nil {
		return types.ExecResult{}, err
	}
	out := types.ExecResult{
		Created:    res.Created,
		Moved:      res.Moved,
		Deleted:    res.Deleted,
		ElapsedSec: res.Elapsed.Seconds(),
	}
	if len(res.Failed) > 0 {
		out.Failed = make(map[string]string, len(res.Failed))
		for code, ferr := range res.Failed {
			out.Failed[code] = ferr.Error()
		}
	}
	return out, nil
}

// VerifyUnit re-scans the unit and diffs against the plan's desired
// snapshot. Discrepancies explained by the executor's reported failures are
// drift; anything else is an integrity error.
func (a *Activities) VerifyUnit(ctx context.Context, p types.VerifyParams) (types.VerifyResult, error) {
	plan, err := readPlan(p.PlanURI)
	if err != nil {
		return types.VerifyResult{}, nonRetryable(err)
	}
	rescan, err := a.deps.Scanner.Scan(ctx, plan.Unit)
	if err != nil {
		return types.VerifyResult{}, classify(err)
	}

	failed := make(map[string]error, len(p.Failed))
	for code, msg := range p.Failed {
		failed[code] = errors.New(msg)
	}
	outcome := reconcile.Verify(a.deps.Layout, plan.Unit, plan.Desired, rescan, failed)
	if outcome.Status == reconcile.StatusIntegrityError {
		metrics.VerifyIntegrityErrors.Inc()
	}
	metrics.UnitsReconciled.Inc()

	out := types.VerifyResult{Status: string(outcome.Status), Problems: outcome.Problems}
	for _, f := range outcome.Drifted {
		out.Drifted = append(out.Drifted, f.String())
	}
	return out, nil
}

// CleanupScratch removes a run's scratch subdirectory. Safe to call when the
// directory is already gone.
func (a *Activities) CleanupScratch(ctx context.Context, p types.CleanupParams) error {
	sub := filepath.Clean(p.ScratchSubdir)
	if sub == "." || sub == "" || sub == ".." || filepath.IsAbs(sub) ||
		strings.HasPrefix(sub, ".."+string(filepath.Separator)) {
		// Never delete the scratch root or anything above it.
		return errors.New("invalid scratch subdir for cleanup")
	}
	return os.RemoveAll(filepath.Join(a.cfg.ScratchDir, sub))
}

// classify turns input errors into non-retryable activity failures; a bad
// sheet or corrupt key layout will not fix itself on retry. Everything else
// (store hiccups, sheet fetch failures) stays retryable under the workflow's
// retry policy.
func classify(err error) error {
	var inputErr *reconcile.InputError
	var malformed *sheet.MalformedError
	var parseErr *frame.ParseError
	if errors.As(err, &inputErr) || errors.As(err, &malformed) || errors.As(err, &parseErr) {
		return nonRetryable(err)
	}
	return err
}

func nonRetryable(err error) error {
	return temporal.NewNonRetryableApplicationError(err.Error(), "InputError", err)
}

func (a *Activities) writePlan(sub string, unit frame.UnitCode, plan reconcile.Plan) (string, error) {
	if sub == "" {
		sub = unit.Lower()
	}
	dir := filepath.Join(a.cfg.ScratchDir, filepath.Clean(sub))
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "plan-"+unit.Lower()+".json")
	b, err := json.Marshal(plan)
	if err != nil {
		return "", err
	}
	w, c, err := iopkg.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := w.Write(b); err != nil {
		_ = c.Close()
		return "", err
	}
	if err := c.Close(); err != nil {
		return "", err
	}
	return "file://" + path, nil
}

func readPlan(uri string) (reconcile.Plan, error) {
	rc, err := iopkg.OpenReader(uri)
	if err != nil {
		return reconcile.Plan{}, fmt.Errorf("open plan %s: %w", uri, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return reconcile.Plan{}, fmt.Errorf("read plan %s: %w", uri, err)
	}
	var plan reconcile.Plan
	if err := json.Unmarshal(b, &plan); err != nil {
		return reconcile.Plan{}, fmt.Errorf("decode plan %s: %w", uri, err)
	}
	return plan, nil
}
