// Package assign picks the destination bucket for each frame by weighted
// sampling over a fixed distribution. In sticky mode the first assignment is
// persisted per frame and reused on later runs, so re-running reconciliation
// does not reshuffle frames that already landed.
package assign

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/yourorg/frame-sync/internal/frame"
)

// Weighted is one entry of the bucket distribution.
type Weighted struct {
	Bucket frame.Bucket
	Weight float64
}

// DefaultDistribution is the production train/validate/test split.
var DefaultDistribution = []Weighted{
	{Bucket: frame.Train, Weight: 0.7},
	{Bucket: frame.Validate, Weight: 0.2},
	{Bucket: frame.Test, Weight: 0.1},
}

// Assigner hands out buckets. Safe for concurrent use.
type Assigner struct {
	dist  []Weighted
	total float64

	mu  sync.Mutex
	rng *rand.Rand

	db *badger.DB // nil when assignments are not sticky
}

// New returns a non-sticky assigner that resamples on every call. rng may be
// nil; tests pass a seeded source for determinism.
func New(dist []Weighted, rng *rand.Rand) (*Assigner, error) {
	if len(dist) == 0 {
		return nil, errors.New("empty bucket distribution")
	}
	var total float64
	for _, w := range dist {
		if w.Weight <= 0 {
			return nil, fmt.Errorf("bucket %s has non-positive weight %v", w.Bucket, w.Weight)
		}
		if _, ok := frame.ParseBucket(string(w.Bucket)); !ok {
			return nil, fmt.Errorf("unknown bucket %q in distribution", w.Bucket)
		}
		total += w.Weight
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Assigner{dist: dist, total: total, rng: rng}, nil
}

// Open returns a sticky assigner backed by a badger store at path.
func Open(path string, dist []Weighted, rng *rand.Rand) (*Assigner, error) {
	a, err := New(dist, rng)
	if err != nil {
		return nil, err
	}
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open assignment store %s: %w", path, err)
	}
	a.db = db
	return a, nil
}

// Close releases the assignment store, if any.
func (a *Assigner) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Bucket returns the bucket for f. Sticky assigners return the stored value
// when present and persist a fresh sample otherwise.
func (a *Assigner) Bucket(f frame.ID) (frame.Bucket, error) {
	if a.db == nil {
		return a.sample(), nil
	}
	var out frame.Bucket
	key := []byte(f.String())
	err := a.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == nil {
			return item.Value(func(val []byte) error {
				b, ok := frame.ParseBucket(string(val))
				if !ok {
					return fmt.Errorf("stored assignment for %s is corrupt: %q", f, val)
				}
				out = b
				return nil
			})
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		out = a.sample()
		return txn.Set(key, []byte(out))
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

func (a *Assigner) sample() frame.Bucket {
	a.mu.Lock()
	r := a.rng.Float64() * a.total
	a.mu.Unlock()
	for _, w := range a.dist {
		if r < w.Weight {
			return w.Bucket
		}
		r -= w.Weight
	}
	return a.dist[len(a.dist)-1].Bucket
}
