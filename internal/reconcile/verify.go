package reconcile

import (
	"fmt"

	"github.com/yourorg/frame-sync/internal/frame"
)

// Status is the verification verdict for one unit.
type Status string

const (
	// StatusConverged: actual state exactly matches the desired snapshot.
	StatusConverged Status = "converged"
	// StatusDrifted: every residual difference is explained by a frame the
	// executor already reported as failed; the next run will re-attempt.
	StatusDrifted Status = "drifted"
	// StatusIntegrityError: a difference exists that known failures do not
	// explain. Either something mutated the store mid-run or the executor
	// misbehaved. Never auto-corrected.
	StatusIntegrityError Status = "integrity_error"
)

// Outcome is the verification result reported per unit.
type Outcome struct {
	Status   Status     `json:"status"`
	Drifted  []frame.ID `json:"drifted,omitempty"`
	Problems []string   `json:"problems,omitempty"`
}

// Verify recomputes the diff of the planning-time desired snapshot against a
// fresh post-execution scan. The expected residue is no-ops plus the known
// failed frames; anything else is an integrity error.
func Verify(layout frame.Layout, unit frame.UnitCode, desired []frame.DesiredRecord, rescan []frame.ActualRecord, failed map[string]error) Outcome {
	plan, err := Diff(layout, unit, desired, rescan)
	if err != nil {
		return Outcome{Status: StatusIntegrityError, Problems: []string{err.Error()}}
	}

	out := Outcome{Status: StatusConverged}
	drifted := make(map[frame.ID]bool)
	drift := func(f frame.ID) {
		if !drifted[f] {
			drifted[f] = true
			out.Drifted = append(out.Drifted, f)
		}
	}

	// A frame still present under two placements is what a move leaves behind
	// when its copy landed but the source delete failed. With the frame in
	// failed that is ordinary drift; without it, corruption.
	seen := make(map[frame.ID]string, len(rescan))
	for _, a := range rescan {
		if prev, dup := seen[a.Frame]; dup {
			if _, known := failed[a.Frame.String()]; known {
				drift(a.Frame)
			} else {
				out.Problems = append(out.Problems,
					fmt.Sprintf("frame %s present at both %s and %s", a.Frame, prev, a.Key))
			}
		}
		seen[a.Frame] = a.Key
	}

	for _, a := range plan.Actions {
		if a.Op == OpNoOp {
			continue
		}
		if _, known := failed[a.Frame.String()]; known {
			drift(a.Frame)
			continue
		}
		out.Problems = append(out.Problems, fmt.Sprintf("frame %s still needs %s after execution", a.Frame, a.Op))
	}

	switch {
	case len(out.Problems) > 0:
		out.Status = StatusIntegrityError
	case len(out.Drifted) > 0:
		out.Status = StatusDrifted
	}
	return out
}
