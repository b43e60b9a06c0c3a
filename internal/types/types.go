package types

// ReconcileParams is the input for reconciling one unit (episode).
type ReconcileParams struct {
	Unit string `json:"unit"` // episode id, e.g. "S01E02"
	// SheetURI overrides the configured sheet URI template when set.
	SheetURI string `json:"sheet_uri,omitempty"`
	// Optional relative subdirectory under scratch root where this run writes
	// its plan snapshot. If empty, activities derive one from the run.
	ScratchSubdir string `json:"scratch_subdir,omitempty"`
	// If true, the workflow will skip cleaning up the scratch subdir after
	// completion/failure.
	KeepScratch bool `json:"keep_scratch,omitempty"`
}

// PlanSummary is what planning hands to execution: the plan artifact's
// location plus counts for reporting. The artifact carries the desired
// snapshot so verification sees exactly what planning saw.
type PlanSummary struct {
	PlanURI  string   `json:"plan_uri"`
	Creates  int      `json:"creates"`
	Moves    int      `json:"moves"`
	Deletes  int      `json:"deletes"`
	Noops    int      `json:"noops"`
	Warnings []string `json:"warnings,omitempty"`
}

// ExecuteParams points the executor activity at a stored plan.
type ExecuteParams struct {
	PlanURI string `json:"plan_uri"`
}

// ExecResult reports plan execution. Failed maps frame code to the error
// message that exhausted its retries.
type ExecResult struct {
	Created    int               `json:"created"`
	Moved      int               `json:"moved"`
	Deleted    int               `json:"deleted"`
	Failed     map[string]string `json:"failed,omitempty"`
	ElapsedSec float64           `json:"elapsed_sec"`
}

// VerifyParams drives the post-execution verification pass.
type VerifyParams struct {
	PlanURI string `json:"plan_uri"`
	// Failed carries the executor's known failures; discrepancies they
	// explain count as drift, everything else is an integrity error.
	Failed map[string]string `json:"failed,omitempty"`
}

// VerifyResult mirrors reconcile.Outcome across the activity boundary.
type VerifyResult struct {
	Status   string   `json:"status"` // converged | drifted | integrity_error
	Drifted  []string `json:"drifted,omitempty"`
	Problems []string `json:"problems,omitempty"`
}

// RunReport is the operator-facing summary for one unit.
type RunReport struct {
	Unit       string       `json:"unit"`
	Created    int          `json:"created"`
	Moved      int          `json:"moved"`
	Deleted    int          `json:"deleted"`
	Noops      int          `json:"noops"`
	Failed     int          `json:"failed"`
	FailedList []string     `json:"failed_frames,omitempty"`
	Warnings   []string     `json:"warnings,omitempty"`
	Verify     VerifyResult `json:"verify"`
	ElapsedSec float64      `json:"elapsed_sec"`
	// Error is set when the unit aborted before execution (bad input,
	// unavailable sheet). Empty on normal runs, converged or not.
	Error string `json:"error,omitempty"`
}

// CleanupParams instructs the cleanup activity which subdir to remove.
type CleanupParams struct {
	ScratchSubdir string `json:"scratch_subdir"`
}
