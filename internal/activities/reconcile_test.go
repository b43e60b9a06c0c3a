package activities

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/yourorg/frame-sync/internal/executor"
	"github.com/yourorg/frame-sync/internal/frame"
	"github.com/yourorg/frame-sync/internal/reconcile"
	"github.com/yourorg/frame-sync/internal/scan"
	"github.com/yourorg/frame-sync/internal/storage"
	"github.com/yourorg/frame-sync/internal/types"
)

var (
	layout = frame.DefaultLayout
	unit   = frame.UnitCode{Season: 1, Episode: 2}
)

func fid(offset string) frame.ID {
	return frame.ID{Unit: unit, Offset: offset}
}

type memStore struct {
	mu      sync.Mutex
	objects map[string]struct{}
}

func newMemStore(keys ...string) *memStore {
	s := &memStore{objects: map[string]struct{}{}}
	for _, k := range keys {
		s.objects[k] = struct{}{}
	}
	return s
}

func (s *memStore) List(_ context.Context, _ string, prefix string) ([]storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.ObjectInfo
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, storage.ObjectInfo{Key: k})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *memStore) Copy(_ context.Context, _, srcKey, _, dstKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[srcKey]; !ok {
		return errors.New("NoSuchKey: " + srcKey)
	}
	s.objects[dstKey] = struct{}{}
	return nil
}

func (s *memStore) Delete(_ context.Context, _ string, keys []string) (map[string]error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.objects, k)
	}
	return nil, nil
}

type staticProvider struct {
	desired []frame.DesiredRecord
	err     error
}

func (p staticProvider) LoadDesired(context.Context, frame.UnitCode) ([]frame.DesiredRecord, error) {
	return p.desired, p.err
}

func srcKey(f frame.ID) string {
	return "tuttle_twins/" + f.Unit.Lower() + "/stamps/" + f.String() + ".jpg"
}

func newActs(t *testing.T, store *memStore, provider staticProvider) *Activities {
	t.Helper()
	return New(Config{ScratchDir: t.TempDir()}, Deps{
		Layout:   layout,
		Provider: provider,
		Scanner:  scan.New(store, "media.example.com", layout, nil),
		Exec:     executor.New(store, executor.Config{Bucket: "media.example.com", Concurrency: 1, MaxAttempts: 1}, nil),
	})
}

func TestPlanExecuteVerifyRoundTrip(t *testing.T) {
	ctx := context.Background()
	create := fid("00-00-01-01")
	stray := fid("00-00-02-02")
	store := newMemStore(
		srcKey(create),
		layout.Key(stray, frame.Placement{Bucket: frame.Train, Class: "Common"}),
	)
	provider := staticProvider{desired: []frame.DesiredRecord{{
		Frame:     create,
		SrcKey:    srcKey(create),
		Placement: frame.Placement{Bucket: frame.Test, Class: "Rare"},
	}}}
	acts := newActs(t, store, provider)

	summary, err := acts.BuildPlan(ctx, types.ReconcileParams{Unit: "S01E02", ScratchSubdir: "run-1"})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if summary.Creates != 1 || summary.Deletes != 1 || summary.Moves != 0 {
		t.Fatalf("summary: %+v", summary)
	}
	if !strings.HasPrefix(summary.PlanURI, "file://") {
		t.Fatalf("plan uri: %q", summary.PlanURI)
	}

	// The stored artifact must round-trip, desired snapshot included.
	plan, err := readPlan(summary.PlanURI)
	if err != nil {
		t.Fatalf("readPlan: %v", err)
	}
	if plan.Unit != unit || len(plan.Desired) != 1 || len(plan.Actions) != 2 {
		t.Fatalf("plan: %+v", plan)
	}

	exec, err := acts.ExecutePlan(ctx, types.ExecuteParams{PlanURI: summary.PlanURI})
	if err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	if exec.Created != 1 || exec.Deleted != 1 || len(exec.Failed) != 0 {
		t.Fatalf("exec: %+v", exec)
	}

	verify, err := acts.VerifyUnit(ctx, types.VerifyParams{PlanURI: summary.PlanURI, Failed: exec.Failed})
	if err != nil {
		t.Fatalf("VerifyUnit: %v", err)
	}
	if verify.Status != string(reconcile.StatusConverged) {
		t.Fatalf("verify: %+v", verify)
	}
}

func TestVerifyCountsReportedFailuresAsDrift(t *testing.T) {
	ctx := context.Background()
	missing := fid("00-00-01-01")
	store := newMemStore(srcKey(missing))
	provider := staticProvider{desired: []frame.DesiredRecord{{
		Frame:     missing,
		SrcKey:    srcKey(missing),
		Placement: frame.Placement{Bucket: frame.Train, Class: "Common"},
	}}}
	acts := newActs(t, store, provider)

	summary, err := acts.BuildPlan(ctx, types.ReconcileParams{Unit: "S01E02", ScratchSubdir: "run-1"})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}

	// Frame never landed; the executor reported it failed.
	failed := map[string]string{missing.String(): "retries exhausted"}
	verify, err := acts.VerifyUnit(ctx, types.VerifyParams{PlanURI: summary.PlanURI, Failed: failed})
	if err != nil {
		t.Fatalf("VerifyUnit: %v", err)
	}
	if verify.Status != string(reconcile.StatusDrifted) {
		t.Fatalf("want drifted: %+v", verify)
	}
	if len(verify.Drifted) != 1 || verify.Drifted[0] != missing.String() {
		t.Fatalf("drifted frames: %+v", verify)
	}

	// Same gap with no reported failure is an integrity error.
	verify, err = acts.VerifyUnit(ctx, types.VerifyParams{PlanURI: summary.PlanURI})
	if err != nil {
		t.Fatalf("VerifyUnit: %v", err)
	}
	if verify.Status != string(reconcile.StatusIntegrityError) {
		t.Fatalf("want integrity error: %+v", verify)
	}
}

func TestBuildPlanRejectsBadUnit(t *testing.T) {
	acts := newActs(t, newMemStore(), staticProvider{})
	if _, err := acts.BuildPlan(context.Background(), types.ReconcileParams{Unit: "episode 2"}); err == nil {
		t.Fatal("bad unit code must fail")
	}
}

func TestCleanupScratch(t *testing.T) {
	dir := t.TempDir()
	acts := New(Config{ScratchDir: dir}, Deps{Layout: layout})

	if err := os.MkdirAll(filepath.Join(dir, "run-1"), 0o777); err != nil {
		t.Fatal(err)
	}
	if err := acts.CleanupScratch(context.Background(), types.CleanupParams{ScratchSubdir: "run-1"}); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "run-1")); !os.IsNotExist(err) {
		t.Fatal("subdir should be gone")
	}
	// second call is a no-op
	if err := acts.CleanupScratch(context.Background(), types.CleanupParams{ScratchSubdir: "run-1"}); err != nil {
		t.Fatalf("cleanup again: %v", err)
	}

	for _, bad := range []string{"", ".", "/", "..", "../other"} {
		if err := acts.CleanupScratch(context.Background(), types.CleanupParams{ScratchSubdir: bad}); err == nil {
			t.Fatalf("subdir %q must be rejected", bad)
		}
	}
}
