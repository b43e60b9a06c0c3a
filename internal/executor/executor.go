// Package executor applies a reconciliation plan against the object store:
// deletes first, then moves, then creates, batched and retried.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/frame-sync/internal/metrics"
	"github.com/yourorg/frame-sync/internal/reconcile"
	"github.com/yourorg/frame-sync/internal/storage"
)

// Config tunes batching and retry behavior.
type Config struct {
	Bucket      string
	BatchSize   int           // actions per batch; S3 DeleteObjects caps at 1000
	Concurrency int           // concurrent batches per phase
	MaxAttempts int           // attempts per operation, transient errors only
	RetryBase   time.Duration // first backoff; doubles per attempt
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 || c.BatchSize > 1000 {
		c.BatchSize = 500
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	return c
}

// Result accounts for one plan execution. Failed maps frame code to the
// error that exhausted its retries; those frames are left for the next run.
type Result struct {
	Created int
	Moved   int
	Deleted int
	Failed  map[string]error
	Elapsed time.Duration
}

type Executor struct {
	store storage.Store
	cfg   Config
	log   *zap.Logger
}

func New(store storage.Store, cfg Config, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{store: store, cfg: cfg.withDefaults(), log: log}
}

// Apply executes the plan's phases in order. A failed batch marks its member
// frames and moves on; only context cancellation aborts the unit.
func (e *Executor) Apply(ctx context.Context, plan reconcile.Plan) (Result, error) {
	start := time.Now()
	res := Result{Failed: make(map[string]error)}

	var deletes, moves, creates []reconcile.Action
	for _, a := range plan.Actions {
		switch a.Op {
		case reconcile.OpDelete:
			deletes = append(deletes, a)
		case reconcile.OpMove:
			moves = append(moves, a)
		case reconcile.OpCreate:
			creates = append(creates, a)
		}
	}

	var mu sync.Mutex
	fail := func(a reconcile.Action, err error) {
		mu.Lock()
		res.Failed[a.Frame.String()] = err
		mu.Unlock()
		metrics.FramesFailed.Inc()
		e.log.Warn("frame failed",
			zap.String("unit", plan.Unit.String()),
			zap.String("frame", a.Frame.String()),
			zap.String("op", a.Op.String()),
			zap.Error(err))
	}

	// Phase 1: deletes. Destructive but independent; batches run concurrently.
	if err := e.eachBatch(ctx, deletes, func(batch []reconcile.Action) {
		n := e.deleteBatch(ctx, batch, fail)
		mu.Lock()
		res.Deleted += n
		mu.Unlock()
	}); err != nil {
		return res, err
	}

	// Phase 2: moves. Copy must be acknowledged before the paired source
	// delete is issued; a half-moved frame keeps both copies, never neither.
	if err := e.eachBatch(ctx, moves, func(batch []reconcile.Action) {
		copied := make([]reconcile.Action, 0, len(batch))
		for _, a := range batch {
			if err := e.copy(ctx, a.SrcKey, a.DstKey); err != nil {
				fail(a, err)
				continue
			}
			copied = append(copied, a)
		}
		n := e.deleteBatch(ctx, copied, fail)
		mu.Lock()
		res.Moved += n
		mu.Unlock()
	}); err != nil {
		return res, err
	}

	// Phase 3: creates.
	if err := e.eachBatch(ctx, creates, func(batch []reconcile.Action) {
		for _, a := range batch {
			if err := e.copy(ctx, a.SrcKey, a.DstKey); err != nil {
				fail(a, err)
				continue
			}
			mu.Lock()
			res.Created++
			mu.Unlock()
		}
	}); err != nil {
		return res, err
	}

	res.Elapsed = time.Since(start)
	e.log.Info("plan executed",
		zap.String("unit", plan.Unit.String()),
		zap.Int("created", res.Created),
		zap.Int("moved", res.Moved),
		zap.Int("deleted", res.Deleted),
		zap.Int("failed", len(res.Failed)),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

// eachBatch fans batches out on a bounded group. Worker funcs record their
// own failures; the group only surfaces context cancellation.
func (e *Executor) eachBatch(ctx context.Context, actions []reconcile.Action, work func([]reconcile.Action)) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i := 0; i < len(actions); i += e.cfg.BatchSize {
		end := min(i+e.cfg.BatchSize, len(actions))
		batch := actions[i:end]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			work(batch)
			return nil
		})
	}
	return g.Wait()
}

// deleteBatch issues one DeleteObjects call (with retry) and returns how
// many of the batch's keys were removed.
func (e *Executor) deleteBatch(ctx context.Context, batch []reconcile.Action, fail func(reconcile.Action, error)) int {
	if len(batch) == 0 {
		return 0
	}
	keys := make([]string, len(batch))
	for i, a := range batch {
		keys[i] = a.SrcKey
	}
	var perKey map[string]error
	err := e.retry(ctx, fmt.Sprintf("delete %d keys", len(keys)), func() error {
		var derr error
		perKey, derr = e.store.Delete(ctx, e.cfg.Bucket, keys)
		return derr
	})
	if err != nil {
		for _, a := range batch {
			fail(a, err)
		}
		return 0
	}
	ok := 0
	for _, a := range batch {
		if kerr, bad := perKey[a.SrcKey]; bad {
			fail(a, kerr)
			continue
		}
		ok++
	}
	metrics.ObjectsDeleted.Add(float64(ok))
	return ok
}

func (e *Executor) copy(ctx context.Context, srcKey, dstKey string) error {
	err := e.retry(ctx, "copy "+srcKey, func() error {
		return e.store.Copy(ctx, e.cfg.Bucket, srcKey, e.cfg.Bucket, dstKey)
	})
	if err == nil {
		metrics.ObjectsCopied.Inc()
	}
	return err
}

// retry runs fn up to MaxAttempts times with doubling backoff. Only
// transient store errors are retried.
func (e *Executor) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := e.cfg.RetryBase << (attempt - 2)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		e.log.Debug("transient store error", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
	}
	return fmt.Errorf("%s: retries exhausted: %w", op, err)
}
