package reconcile

import (
	"errors"
	"testing"

	"github.com/yourorg/frame-sync/internal/frame"
)

func TestVerifyConverged(t *testing.T) {
	ds := []frame.DesiredRecord{
		desired("00-00-01-01", frame.Train, "Common"),
		desired("00-00-02-02", frame.Validate, "Rare"),
	}
	var rescan []frame.ActualRecord
	for _, d := range ds {
		rescan = append(rescan, frame.ActualRecord{Frame: d.Frame, Key: layout.Key(d.Frame, d.Placement), Placement: d.Placement})
	}
	out := Verify(layout, unit, ds, rescan, nil)
	if out.Status != StatusConverged {
		t.Fatalf("want converged, got %+v", out)
	}
}

func TestVerifyDriftedOnKnownFailure(t *testing.T) {
	ds := []frame.DesiredRecord{desired("00-00-01-01", frame.Train, "Common")}
	failed := map[string]error{fid("00-00-01-01").String(): errors.New("copy: SlowDown")}
	out := Verify(layout, unit, ds, nil, failed)
	if out.Status != StatusDrifted {
		t.Fatalf("want drifted, got %+v", out)
	}
	if len(out.Drifted) != 1 || out.Drifted[0] != fid("00-00-01-01") {
		t.Fatalf("drifted frames: %v", out.Drifted)
	}
}

func TestVerifyIntegrityErrorOnUnexplainedMissing(t *testing.T) {
	ds := []frame.DesiredRecord{desired("00-00-01-01", frame.Train, "Common")}
	out := Verify(layout, unit, ds, nil, nil)
	if out.Status != StatusIntegrityError {
		t.Fatalf("want integrity error, got %+v", out)
	}
	if len(out.Problems) == 0 {
		t.Fatal("integrity error must carry detail")
	}
}

func TestVerifyIntegrityErrorOnUnexpectedFrame(t *testing.T) {
	// nothing desired, nothing failed, yet a frame appeared
	rescan := []frame.ActualRecord{actual("00-00-07-07", frame.Train, "Common")}
	out := Verify(layout, unit, nil, rescan, nil)
	if out.Status != StatusIntegrityError {
		t.Fatalf("want integrity error, got %+v", out)
	}
}

func TestVerifyDriftedOnHalfMovedFrame(t *testing.T) {
	// Move whose copy landed but whose source delete exhausted retries: the
	// frame sits under both placements and the executor reported it failed.
	ds := []frame.DesiredRecord{desired("00-00-01-01", frame.Validate, "Rare")}
	stale := actual("00-00-01-01", frame.Train, "Common")
	moved := actual("00-00-01-01", frame.Validate, "Rare")
	failed := map[string]error{fid("00-00-01-01").String(): errors.New("delete 1 keys: retries exhausted")}

	for _, rescan := range [][]frame.ActualRecord{{stale, moved}, {moved, stale}} {
		out := Verify(layout, unit, ds, rescan, failed)
		if out.Status != StatusDrifted {
			t.Fatalf("want drifted, got %+v", out)
		}
		if len(out.Drifted) != 1 || out.Drifted[0] != fid("00-00-01-01") {
			t.Fatalf("drifted frames: %v", out.Drifted)
		}
		if len(out.Problems) != 0 {
			t.Fatalf("explained duplicate must not be a problem: %+v", out)
		}
	}
}

func TestVerifyIntegrityErrorOnUnexplainedDuplicate(t *testing.T) {
	// Same two placements, but no reported failure explains them.
	ds := []frame.DesiredRecord{desired("00-00-01-01", frame.Validate, "Rare")}
	rescan := []frame.ActualRecord{
		actual("00-00-01-01", frame.Train, "Common"),
		actual("00-00-01-01", frame.Validate, "Rare"),
	}
	out := Verify(layout, unit, ds, rescan, nil)
	if out.Status != StatusIntegrityError {
		t.Fatalf("want integrity error, got %+v", out)
	}
	if len(out.Problems) == 0 {
		t.Fatal("unexplained duplicate must carry detail")
	}
}

func TestVerifyDriftDoesNotMaskIntegrityError(t *testing.T) {
	ds := []frame.DesiredRecord{
		desired("00-00-01-01", frame.Train, "Common"),
		desired("00-00-02-02", frame.Validate, "Rare"),
	}
	failed := map[string]error{fid("00-00-01-01").String(): errors.New("retries exhausted")}
	// frame 2 also missing, but nothing failed for it
	out := Verify(layout, unit, ds, nil, failed)
	if out.Status != StatusIntegrityError {
		t.Fatalf("want integrity error, got %+v", out)
	}
	if len(out.Drifted) != 1 {
		t.Fatalf("known failure should still be reported as drift: %+v", out)
	}
}
