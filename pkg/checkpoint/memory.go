package checkpoint

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps checkpoints in process memory. It follows the Store
// contract except for durability.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]Checkpoint // sorted by CheckpointID
	closed  bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string][]Checkpoint)}
}

func compareID(cp Checkpoint, id string) int {
	return cmp.Compare(cp.CheckpointID, id)
}

func (m *MemoryStore) Put(ctx context.Context, cp Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cp.Validate(); err != nil {
		return err
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}

	list := m.threads[cp.ThreadID]
	i, found := slices.BinarySearchFunc(list, cp.CheckpointID, compareID)
	if found {
		return fmt.Errorf("%w: %s/%s", ErrCheckpointExists, cp.ThreadID, cp.CheckpointID)
	}
	m.threads[cp.ThreadID] = slices.Insert(list, i, cp.clone())
	return nil
}

func (m *MemoryStore) GetLatest(ctx context.Context, threadID string) (Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Checkpoint{}, ErrStoreClosed
	}

	list := m.threads[threadID]
	if len(list) == 0 {
		return Checkpoint{}, fmt.Errorf("%w: thread %s", ErrNotFound, threadID)
	}
	return list[len(list)-1].clone(), nil
}

func (m *MemoryStore) Get(ctx context.Context, threadID, checkpointID string) (Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Checkpoint{}, ErrStoreClosed
	}

	list := m.threads[threadID]
	i, found := slices.BinarySearchFunc(list, checkpointID, compareID)
	if !found {
		return Checkpoint{}, fmt.Errorf("%w: %s/%s", ErrNotFound, threadID, checkpointID)
	}
	return list[i].clone(), nil
}

// List snapshots the thread when iteration starts.
func (m *MemoryStore) List(ctx context.Context, threadID string) iter.Seq2[Checkpoint, error] {
	return func(yield func(Checkpoint, error) bool) {
		m.mu.RLock()
		if m.closed {
			m.mu.RUnlock()
			yield(Checkpoint{}, ErrStoreClosed)
			return
		}
		snapshot := slices.Clone(m.threads[threadID])
		m.mu.RUnlock()

		for _, cp := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(Checkpoint{}, err)
				return
			}
			if !yield(cp.clone(), nil) {
				return
			}
		}
	}
}

func (m *MemoryStore) Threads(ctx context.Context) ([]ThreadInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}

	threads := make([]ThreadInfo, 0, len(m.threads))
	for id, list := range m.threads {
		if len(list) == 0 {
			continue
		}
		info := ThreadInfo{ThreadID: id, Count: len(list), LatestID: list[len(list)-1].CheckpointID}
		for _, cp := range list {
			if cp.CreatedAt.After(info.LastModified) {
				info.LastModified = cp.CreatedAt
			}
		}
		threads = append(threads, info)
	}
	sort.Slice(threads, func(i, j int) bool { return threads[i].ThreadID < threads[j].ThreadID })
	return threads, nil
}

func (m *MemoryStore) Prune(ctx context.Context, threadID string, keep int) (int, error) {
	keep = clampKeep(keep)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrStoreClosed
	}

	list := m.threads[threadID]
	if len(list) <= keep {
		return 0, nil
	}
	removed := len(list) - keep
	m.threads[threadID] = slices.Clone(list[removed:])
	return removed, nil
}

func (m *MemoryStore) Delete(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	delete(m.threads, threadID)
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.threads = nil
	return nil
}
