package service

import (
	"context"
	"sync"
	"time"

	dErrors "expedients/pkg/domain-errors"
)

// Load-mutate-save sequences on one expedient run under a per-id lock so two
// use cases never interleave on the same record. Ids are spread over a fixed
// set of shards.
const numShards = 128

const defaultLockTimeout = 5 * time.Second

// Locker serialises work per expedient id.
type Locker interface {
	RunLocked(ctx context.Context, id string, fn func(ctx context.Context) error) error
}

type shardedLocker struct {
	shards  [numShards]sync.Mutex
	timeout time.Duration
}

// NewShardedLocker returns the in-process Locker.
func NewShardedLocker(timeout time.Duration) Locker {
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}
	return &shardedLocker{timeout: timeout}
}

func (l *shardedLocker) RunLocked(ctx context.Context, id string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "operation aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	shard := hashID(id) % numShards
	l.shards[shard].Lock()
	defer l.shards[shard].Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "operation aborted: context cancelled")
	}
	return fn(ctx)
}

// hashID is FNV-1a.
func hashID(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
