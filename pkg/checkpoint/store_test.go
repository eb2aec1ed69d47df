package checkpoint

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactories runs contract tests against every Store implementation.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"sqlite": func(t *testing.T) Store {
			s := openTestStore(t, filepath.Join(t.TempDir(), "cp.db"))
			return s
		},
		"memory": func(t *testing.T) Store {
			s := NewMemoryStore()
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func openTestStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: path, PageSize: 3})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustPut(t *testing.T, s Store, thread, id, parent string) {
	t.Helper()
	require.NoError(t, s.Put(context.Background(), Checkpoint{
		ThreadID:           thread,
		CheckpointID:       id,
		ParentCheckpointID: parent,
		Codec:              "json/v1",
		State:              []byte(`{"step":"` + id + `"}`),
	}))
}

func collect(t *testing.T, s Store, thread string) []string {
	t.Helper()
	var ids []string
	for cp, err := range s.List(context.Background(), thread) {
		require.NoError(t, err)
		ids = append(ids, cp.CheckpointID)
	}
	return ids
}

func TestStoreLatestAfterEachPut(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			greatest := ""
			parent := ""
			for _, id := range []string{"0003", "0001", "0007", "0005", "0010"} {
				mustPut(t, s, "t1", id, parent)
				parent = id
				if id > greatest {
					greatest = id
				}
				latest, err := s.GetLatest(ctx, "t1")
				require.NoError(t, err)
				assert.Equal(t, greatest, latest.CheckpointID)
			}
		})
	}
}

func TestStoreGetLatestRoundTrip(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()
			created := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)

			want := Checkpoint{
				ThreadID:     "t1",
				CheckpointID: "a",
				Codec:        "json/v1",
				State:        []byte("state"),
				Metadata:     []byte("meta"),
				CreatedAt:    created,
			}
			require.NoError(t, s.Put(ctx, want))

			got, err := s.GetLatest(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, want, got)

			got, err = s.Get(ctx, "t1", "a")
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestStoreNotFound(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			_, err := s.GetLatest(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			mustPut(t, s, "t1", "a", "")
			_, err = s.Get(ctx, "t1", "b")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreRejectsInvalid(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			assert.ErrorIs(t, s.Put(ctx, Checkpoint{CheckpointID: "a"}), ErrInvalidCheckpoint)
			assert.ErrorIs(t, s.Put(ctx, Checkpoint{ThreadID: "t"}), ErrInvalidCheckpoint)
			assert.ErrorIs(t, s.Put(ctx, Checkpoint{ThreadID: "t", CheckpointID: "a", ParentCheckpointID: "a"}), ErrInvalidCheckpoint)
		})
	}
}

func TestStoreDuplicate(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			mustPut(t, s, "t1", "a", "")

			err := s.Put(context.Background(), Checkpoint{ThreadID: "t1", CheckpointID: "a", State: []byte("other")})
			assert.ErrorIs(t, err, ErrCheckpointExists)

			got, err := s.Get(context.Background(), "t1", "a")
			require.NoError(t, err)
			assert.Equal(t, `{"step":"a"}`, string(got.State))
		})
	}
}

func TestStoreMissingParentTolerated(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			mustPut(t, s, "t1", "b", "a")

			got, err := s.GetLatest(context.Background(), "t1")
			require.NoError(t, err)
			assert.Equal(t, "a", got.ParentCheckpointID)
		})
	}
}

func TestStoreListOrderedAndRestartable(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			for _, id := range []string{"e", "a", "c", "b", "g", "d", "f"} {
				mustPut(t, s, "t1", id, "")
			}
			mustPut(t, s, "t2", "z", "")

			want := []string{"a", "b", "c", "d", "e", "f", "g"}
			assert.Equal(t, want, collect(t, s, "t1"))

			mustPut(t, s, "t1", "h", "")
			assert.Equal(t, append(want, "h"), collect(t, s, "t1"))
			assert.Empty(t, collect(t, s, "none"))
		})
	}
}

func TestStoreListEarlyBreak(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			for i := 0; i < 10; i++ {
				mustPut(t, s, "t1", fmt.Sprintf("%02d", i), "")
			}

			var seen []string
			for cp, err := range s.List(context.Background(), "t1") {
				require.NoError(t, err)
				seen = append(seen, cp.CheckpointID)
				if len(seen) == 4 {
					break
				}
			}
			assert.Equal(t, []string{"00", "01", "02", "03"}, seen)
		})
	}
}

func TestStoreThreads(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			mustPut(t, s, "beta", "1", "")
			mustPut(t, s, "alpha", "1", "")
			mustPut(t, s, "alpha", "2", "1")

			threads, err := s.Threads(context.Background())
			require.NoError(t, err)
			require.Len(t, threads, 2)
			assert.Equal(t, "alpha", threads[0].ThreadID)
			assert.Equal(t, 2, threads[0].Count)
			assert.Equal(t, "2", threads[0].LatestID)
			assert.False(t, threads[0].LastModified.IsZero())
			assert.Equal(t, "beta", threads[1].ThreadID)
		})
	}
}

func TestStorePruneKeepsLatest(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()
			for _, id := range []string{"1", "2", "3", "4", "5"} {
				mustPut(t, s, "t1", id, "")
			}

			removed, err := s.Prune(ctx, "t1", 2)
			require.NoError(t, err)
			assert.Equal(t, 3, removed)
			assert.Equal(t, []string{"4", "5"}, collect(t, s, "t1"))

			removed, err = s.Prune(ctx, "t1", 0)
			require.NoError(t, err)
			assert.Equal(t, 1, removed)

			latest, err := s.GetLatest(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, "5", latest.CheckpointID)
		})
	}
}

func TestStoreDelete(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()
			mustPut(t, s, "t1", "a", "")
			mustPut(t, s, "t2", "a", "")

			require.NoError(t, s.Delete(ctx, "t1"))
			require.NoError(t, s.Delete(ctx, "unknown"))

			_, err := s.GetLatest(ctx, "t1")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.GetLatest(ctx, "t2")
			assert.NoError(t, err)
		})
	}
}

func TestStoreCloseIdempotent(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()
			mustPut(t, s, "t1", "a", "")

			require.NoError(t, s.Close())
			require.NoError(t, s.Close())

			assert.ErrorIs(t, s.Put(ctx, Checkpoint{ThreadID: "t1", CheckpointID: "b"}), ErrStoreClosed)
			_, err := s.GetLatest(ctx, "t1")
			assert.ErrorIs(t, err, ErrStoreClosed)
			_, err = s.Threads(ctx)
			assert.ErrorIs(t, err, ErrStoreClosed)
			assert.ErrorIs(t, s.Delete(ctx, "t1"), ErrStoreClosed)

			for _, err := range s.List(ctx, "t1") {
				assert.ErrorIs(t, err, ErrStoreClosed)
			}
		})
	}
}

func TestStoreConcurrentPutsSameThread(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					assert.NoError(t, s.Put(ctx, Checkpoint{ThreadID: "t1", CheckpointID: fmt.Sprintf("%03d", i)}))
				}(i)
			}
			wg.Wait()

			assert.Len(t, collect(t, s, "t1"), 20)
			latest, err := s.GetLatest(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, "019", latest.CheckpointID)
		})
	}
}

func TestStoreCancelledPutLeavesNothing(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			err := s.Put(ctx, Checkpoint{ThreadID: "t1", CheckpointID: "a"})
			require.Error(t, err)
			assert.ErrorIs(t, err, context.Canceled)

			_, err = s.GetLatest(context.Background(), "t1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestNewIDIsTimeOrdered(t *testing.T) {
	prev := ""
	for i := 0; i < 200; i++ {
		id, err := NewID()
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		prev = id
	}
}
