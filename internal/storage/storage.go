package storage

import (
	"context"
	"time"
)

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store defines the object-store operations the reconciler needs. All
// operations address objects by bucket + key; no server-side versioning or
// atomic rename is assumed.
type Store interface {
	// List returns every object under prefix, in listing order.
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	// Copy duplicates a single object.
	Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error
	// Delete removes up to one service page of keys in a single call and
	// returns per-key failures keyed by object key.
	Delete(ctx context.Context, bucket string, keys []string) (map[string]error, error)
}
