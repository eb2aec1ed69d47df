package checkpoint

import (
	"context"
	"iter"
)

// Store persists checkpoints. Implementations are safe for concurrent use.
type Store interface {
	// Put durably stores a new checkpoint. It returns only after the write is
	// committed; a cancelled or failed Put leaves nothing visible.
	Put(ctx context.Context, cp Checkpoint) error

	// GetLatest returns the checkpoint with the greatest id in the thread.
	GetLatest(ctx context.Context, threadID string) (Checkpoint, error)

	// Get returns one checkpoint by id.
	Get(ctx context.Context, threadID, checkpointID string) (Checkpoint, error)

	// List yields the thread's checkpoints in ascending id order. Each range
	// over the returned sequence reads the store again.
	List(ctx context.Context, threadID string) iter.Seq2[Checkpoint, error]

	// Threads returns every thread that has at least one checkpoint.
	Threads(ctx context.Context) ([]ThreadInfo, error)

	// Prune removes all but the newest keep checkpoints of a thread and
	// returns how many were removed. keep below 1 is treated as 1.
	Prune(ctx context.Context, threadID string, keep int) (int, error)

	// Delete removes every checkpoint of a thread.
	Delete(ctx context.Context, threadID string) error

	// Close releases the store. It is idempotent.
	Close() error
}

func clampKeep(keep int) int {
	if keep < 1 {
		return 1
	}
	return keep
}
