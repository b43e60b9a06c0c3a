// Package scan observes a unit's actual placement state by listing its ML
// prefix and decoding every key back into a frame + placement.
package scan

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yourorg/frame-sync/internal/frame"
	"github.com/yourorg/frame-sync/internal/storage"
)

// Scanner lists and decodes the actual state of one unit at a time. Two
// scans without intervening writes return identical results, which is what
// lets the verifier re-scan after execution and trust the comparison.
type Scanner struct {
	store  storage.Store
	bucket string
	layout frame.Layout
	log    *zap.Logger
}

func New(store storage.Store, bucket string, layout frame.Layout, log *zap.Logger) *Scanner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scanner{store: store, bucket: bucket, layout: layout, log: log}
}

// Scan returns every stored frame of the unit. A key under the unit prefix
// that does not decode is corruption and fails the whole scan; dropping it
// silently would later be mistaken for a missing frame and re-created.
func (s *Scanner) Scan(ctx context.Context, unit frame.UnitCode) ([]frame.ActualRecord, error) {
	prefix := s.layout.UnitPrefix(unit)
	objs, err := s.store.List(ctx, s.bucket, prefix)
	if err != nil {
		return nil, err
	}
	records := make([]frame.ActualRecord, 0, len(objs))
	for _, obj := range objs {
		rec, err := s.layout.ParseKey(unit, obj.Key)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", unit, err)
		}
		records = append(records, rec)
	}
	s.log.Debug("scanned unit",
		zap.String("unit", unit.String()),
		zap.String("prefix", prefix),
		zap.Int("objects", len(records)))
	return records, nil
}
