package workspace

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
)

// createTempWorkspace creates a directory holding files, keyed by slash path.
func createTempWorkspace(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatalf("Failed to create directory for %s: %v", rel, err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write file %s: %v", rel, err)
		}
	}
	return root
}

// countingFs records every call made through it.
type countingFs struct {
	afero.Fs
	calls atomic.Int64
}

func newCountingFs(inner afero.Fs) *countingFs {
	return &countingFs{Fs: inner}
}

func (c *countingFs) Count() int64 { return c.calls.Load() }

func (c *countingFs) Create(name string) (afero.File, error) {
	c.calls.Add(1)
	return c.Fs.Create(name)
}

func (c *countingFs) Mkdir(name string, perm os.FileMode) error {
	c.calls.Add(1)
	return c.Fs.Mkdir(name, perm)
}

func (c *countingFs) MkdirAll(path string, perm os.FileMode) error {
	c.calls.Add(1)
	return c.Fs.MkdirAll(path, perm)
}

func (c *countingFs) Open(name string) (afero.File, error) {
	c.calls.Add(1)
	return c.Fs.Open(name)
}

func (c *countingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	c.calls.Add(1)
	return c.Fs.OpenFile(name, flag, perm)
}

func (c *countingFs) Remove(name string) error {
	c.calls.Add(1)
	return c.Fs.Remove(name)
}

func (c *countingFs) RemoveAll(path string) error {
	c.calls.Add(1)
	return c.Fs.RemoveAll(path)
}

func (c *countingFs) Rename(oldname, newname string) error {
	c.calls.Add(1)
	return c.Fs.Rename(oldname, newname)
}

func (c *countingFs) Stat(name string) (os.FileInfo, error) {
	c.calls.Add(1)
	return c.Fs.Stat(name)
}

func (c *countingFs) Chmod(name string, mode os.FileMode) error {
	c.calls.Add(1)
	return c.Fs.Chmod(name, mode)
}

func (c *countingFs) Chown(name string, uid, gid int) error {
	c.calls.Add(1)
	return c.Fs.Chown(name, uid, gid)
}

func (c *countingFs) Chtimes(name string, atime, mtime time.Time) error {
	c.calls.Add(1)
	return c.Fs.Chtimes(name, atime, mtime)
}

// toggleFs fails every mutating call while broken is set.
type toggleFs struct {
	afero.Fs
	broken atomic.Bool
}

func (f *toggleFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if f.broken.Load() && flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE) != 0 {
		return nil, os.ErrPermission
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func (f *toggleFs) Remove(name string) error {
	if f.broken.Load() {
		return os.ErrPermission
	}
	return f.Fs.Remove(name)
}

func (f *toggleFs) Rename(oldname, newname string) error {
	if f.broken.Load() {
		return os.ErrPermission
	}
	return f.Fs.Rename(oldname, newname)
}

// changeRecorder collects watcher callbacks.
type changeRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *changeRecorder) record(rel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, rel)
}

func (r *changeRecorder) seen(rel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.paths {
		if p == rel {
			return true
		}
	}
	return false
}

func (r *changeRecorder) count(rel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.paths {
		if p == rel {
			n++
		}
	}
	return n
}
