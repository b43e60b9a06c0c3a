package workflow

import (
	"sort"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/yourorg/frame-sync/internal/types"
)

// ReconcileEpisodeWorkflow drives one unit through plan, execute, verify,
// and scratch cleanup. Each stage is its own activity so a worker crash
// mid-execution resumes from the stored plan instead of replanning against
// a half-mutated tree.
func ReconcileEpisodeWorkflow(ctx workflow.Context, p types.ReconcileParams) (types.RunReport, error) {
	start := workflow.Now(ctx)
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 1 * time.Hour,
		HeartbeatTimeout:    1 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	// Execution can sit in long store calls between heartbeats.
	execAO := ao
	execAO.StartToCloseTimeout = 4 * time.Hour
	execAO.HeartbeatTimeout = 5 * time.Minute
	execCtx := workflow.WithActivityOptions(ctx, execAO)

	if p.ScratchSubdir == "" {
		p.ScratchSubdir = "run-" + workflow.GetInfo(ctx).WorkflowExecution.RunID
	}
	if !p.KeepScratch {
		defer func() {
			// Cleanup runs on a fresh context so it still happens after a
			// stage failure or cancellation.
			dctx, cancel := workflow.NewDisconnectedContext(ctx)
			defer cancel()
			dctx = workflow.WithActivityOptions(dctx, ao)
			cp := types.CleanupParams{ScratchSubdir: p.ScratchSubdir}
			_ = workflow.ExecuteActivity(dctx, "Activities.CleanupScratch", cp).Get(dctx, nil)
		}()
	}

	var summary types.PlanSummary
	if err := workflow.ExecuteActivity(ctx, "Activities.BuildPlan", p).Get(ctx, &summary); err != nil {
		return types.RunReport{}, err
	}

	var exec types.ExecResult
	ep := types.ExecuteParams{PlanURI: summary.PlanURI}
	if err := workflow.ExecuteActivity(execCtx, "Activities.ExecutePlan", ep).Get(ctx, &exec); err != nil {
		return types.RunReport{}, err
	}

	var verify types.VerifyResult
	vp := types.VerifyParams{PlanURI: summary.PlanURI, Failed: exec.Failed}
	if err := workflow.ExecuteActivity(ctx, "Activities.VerifyUnit", vp).Get(ctx, &verify); err != nil {
		return types.RunReport{}, err
	}

	rep := types.RunReport{
		Unit:       p.Unit,
		Created:    exec.Created,
		Moved:      exec.Moved,
		Deleted:    exec.Deleted,
		Noops:      summary.Noops,
		Failed:     len(exec.Failed),
		Warnings:   summary.Warnings,
		Verify:     verify,
		ElapsedSec: workflow.Now(ctx).Sub(start).Seconds(),
	}
	for code := range exec.Failed {
		rep.FailedList = append(rep.FailedList, code)
	}
	// Keep the report replay-deterministic.
	sort.Strings(rep.FailedList)
	return rep, nil
}
