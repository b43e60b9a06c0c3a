// Package reconcile computes the ordered operation plan that converges a
// unit's actual storage state to its desired state, and verifies the result
// after execution.
package reconcile

import (
	"fmt"
	"sort"

	"github.com/yourorg/frame-sync/internal/frame"
)

// Op classifies the action planned for one frame.
type Op int

const (
	OpNoOp Op = iota
	OpCreate
	OpMove
	OpDelete
)

func (op Op) String() string {
	switch op {
	case OpNoOp:
		return "noop"
	case OpCreate:
		return "create"
	case OpMove:
		return "move"
	case OpDelete:
		return "delete"
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// Action is one planned operation. Exactly one action exists per frame.
//
//	Create: copy SrcKey -> DstKey
//	Move:   copy SrcKey -> DstKey, then delete SrcKey (never a rename)
//	Delete: delete SrcKey
type Action struct {
	Op     Op       `json:"op"`
	Frame  frame.ID `json:"frame"`
	SrcKey string   `json:"src_key,omitempty"`
	DstKey string   `json:"dst_key,omitempty"`
}

// Plan is the ordered action list for one unit: deletes first, then moves,
// then creates, then no-ops. Deleting before copying bounds the storage
// footprint and clears stale objects from move destinations.
type Plan struct {
	Unit     frame.UnitCode        `json:"unit"`
	Actions  []Action              `json:"actions"`
	Warnings []string              `json:"warnings,omitempty"`
	Desired  []frame.DesiredRecord `json:"desired"`
}

// Counts returns the number of planned actions per op.
func (p Plan) Counts() (creates, moves, deletes, noops int) {
	for _, a := range p.Actions {
		switch a.Op {
		case OpCreate:
			creates++
		case OpMove:
			moves++
		case OpDelete:
			deletes++
		case OpNoOp:
			noops++
		}
	}
	return
}

// InputError reports malformed reconciliation input. It is fatal to the
// unit: no plan is produced and nothing is executed.
type InputError struct {
	Unit   frame.UnitCode
	Detail string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("unit %s: bad input: %s", e.Unit, e.Detail)
}

// Diff joins desired against actual on frame id and classifies every frame
// into exactly one action.
//
// A duplicate frame in desired is an InputError. The same frame observed
// under two placements at once is a consistency warning; the last listed
// record wins, since the store guarantees uniqueness only per key.
func Diff(layout frame.Layout, unit frame.UnitCode, desired []frame.DesiredRecord, actual []frame.ActualRecord) (Plan, error) {
	plan := Plan{Unit: unit, Desired: desired}

	want := make(map[frame.ID]frame.DesiredRecord, len(desired))
	for _, d := range desired {
		if d.Frame.Unit != unit {
			return Plan{}, &InputError{Unit: unit, Detail: fmt.Sprintf("desired frame %s belongs to %s", d.Frame, d.Frame.Unit)}
		}
		if _, dup := want[d.Frame]; dup {
			return Plan{}, &InputError{Unit: unit, Detail: "duplicate desired frame " + d.Frame.String()}
		}
		want[d.Frame] = d
	}

	have := make(map[frame.ID]frame.ActualRecord, len(actual))
	for _, a := range actual {
		if prev, dup := have[a.Frame]; dup {
			plan.Warnings = append(plan.Warnings,
				fmt.Sprintf("frame %s present at both %s and %s; treating %s as canonical",
					a.Frame, prev.Key, a.Key, a.Key))
		}
		have[a.Frame] = a
	}

	var deletes, moves, creates, noops []Action
	for id, a := range have {
		d, ok := want[id]
		switch {
		case !ok:
			deletes = append(deletes, Action{Op: OpDelete, Frame: id, SrcKey: a.Key})
		case !a.Placement.Equal(d.Placement):
			moves = append(moves, Action{Op: OpMove, Frame: id, SrcKey: a.Key, DstKey: layout.Key(id, d.Placement)})
		default:
			noops = append(noops, Action{Op: OpNoOp, Frame: id})
		}
	}
	for id, d := range want {
		if _, ok := have[id]; !ok {
			creates = append(creates, Action{Op: OpCreate, Frame: id, SrcKey: d.SrcKey, DstKey: layout.Key(id, d.Placement)})
		}
	}

	for _, group := range [][]Action{deletes, moves, creates, noops} {
		sort.Slice(group, func(i, j int) bool { return group[i].Frame.String() < group[j].Frame.String() })
		plan.Actions = append(plan.Actions, group...)
	}
	return plan, nil
}
