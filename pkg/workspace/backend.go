// Package workspace mirrors the agent's in-memory virtual file namespace to a
// real directory.
//
// A Backend starts unconfigured. Configure("") selects memory mode, where no
// filesystem call is ever made. Configure(root) selects disk mode: writes go
// to memory first and then through to root atomically, reads lazily load from
// root, and Reconcile resolves divergence between the two by modification
// time (last writer wins).
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/deepagent/internal/observability"
	"github.com/harun/deepagent/internal/tracing"
)

const tracerName = "deepagent.workspace"

// Mode is the lifecycle state of a Backend
type Mode int

const (
	ModeUnconfigured Mode = iota
	ModeMemory
	ModeDisk
	ModeClosed
)

func (m Mode) String() string {
	switch m {
	case ModeMemory:
		return "memory"
	case ModeDisk:
		return "disk"
	case ModeClosed:
		return "closed"
	default:
		return "unconfigured"
	}
}

type entry struct {
	data []byte
	// writtenAt is when the agent's last write returned; zero when the
	// content came from disk.
	writtenAt time.Time
	// diskMtime is the modification time last observed on disk for this
	// content; zero when the disk copy is unknown.
	diskMtime time.Time
	// pending marks content that has not reached disk.
	pending bool
}

// Option configures a Backend
type Option func(*Backend)

// WithFs sets the filesystem disk mode operates on. Defaults to the OS.
func WithFs(fsys afero.Fs) Option {
	return func(b *Backend) { b.base = fsys }
}

// WithLogger sets the backend logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Backend) { b.logger = logger }
}

// WithIgnore replaces DefaultIgnore. Patterns use doublestar syntax against
// slash paths relative to the root.
func WithIgnore(patterns ...string) Option {
	return func(b *Backend) {
		b.ignore = append(slices.Clone(patterns), "**/"+tempPattern)
	}
}

// WithMaxFileSize rejects writes and lazy loads larger than n bytes. Zero disables the limit.
func WithMaxFileSize(n int64) Option {
	return func(b *Backend) { b.maxFileSize = n }
}

// WithWarningHandler is called for every SyncWarning the backend produces.
func WithWarningHandler(fn func(*SyncWarning)) Option {
	return func(b *Backend) { b.onWarning = fn }
}

// WithRetryDelay sets the pause before the single retry of a failed disk operation.
func WithRetryDelay(d time.Duration) Option {
	return func(b *Backend) { b.retryDelay = d }
}

// Backend is the synced workspace. All methods are safe for concurrent use;
// operations on one backend are serialized.
type Backend struct {
	mu   sync.Mutex
	mode Mode
	root string
	base afero.Fs
	fs   afero.Fs // rooted at root in disk mode

	files      map[string]*entry
	tombstones map[string]struct{} // deleted in memory, still on disk

	ignore      []string
	maxFileSize int64
	retryDelay  time.Duration
	onWarning   func(*SyncWarning)
	logger      zerolog.Logger
}

// New returns an unconfigured backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		files:      make(map[string]*entry),
		tombstones: make(map[string]struct{}),
		ignore:     slices.Clone(DefaultIgnore),
		retryDelay: 20 * time.Millisecond,
		logger:     log.Logger.With().Str("component", "workspace").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Configure selects memory mode for an empty root and disk mode otherwise.
// The root directory is created if missing. It may be called once.
func (b *Backend) Configure(root string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.mode {
	case ModeClosed:
		return ErrBackendClosed
	case ModeMemory, ModeDisk:
		return ErrAlreadyConfigured
	}

	if root == "" {
		b.mode = ModeMemory
		b.logger.Debug().Msg("Workspace configured in memory mode")
		observability.SetWorkspaceFiles(ModeMemory.String(), len(b.files))
		return nil
	}

	if b.base == nil {
		b.base = afero.NewOsFs()
	}

	info, err := b.base.Stat(root)
	switch {
	case err == nil && !info.IsDir():
		return fmt.Errorf("workspace root %s is not a directory", root)
	case errors.Is(err, fs.ErrNotExist):
		if err := b.base.MkdirAll(root, 0755); err != nil {
			return fmt.Errorf("failed to create workspace root: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to stat workspace root: %w", err)
	}

	b.root = root
	b.fs = afero.NewBasePathFs(b.base, root)
	b.mode = ModeDisk
	b.logger = b.logger.With().Str("root", root).Logger()
	b.logger.Info().Msg("Workspace configured")
	observability.SetWorkspaceFiles(ModeDisk.String(), len(b.files))
	return nil
}

// Mode returns the current lifecycle state.
func (b *Backend) Mode() Mode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

// Root returns the disk root, or "" in memory mode.
func (b *Backend) Root() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.root
}

// Ignored reports whether rel matches the backend's ignore patterns.
func (b *Backend) Ignored(rel string) bool {
	return matchesAny(b.ignore, rel)
}

// ready must be called with mu held.
func (b *Backend) ready() error {
	switch b.mode {
	case ModeUnconfigured:
		return ErrNotConfigured
	case ModeClosed:
		return ErrBackendClosed
	}
	return nil
}

func (b *Backend) warn(op, p string, err error) *SyncWarning {
	w := &SyncWarning{Op: op, Path: p, Err: err}
	observability.RecordSyncWarning(op)
	b.logger.Warn().Err(err).Str("op", op).Str("path", p).Msg("Workspace sync failed, keeping memory state")
	if b.onWarning != nil {
		b.onWarning(w)
	}
	return w
}

func (b *Backend) updateGauge() {
	observability.SetWorkspaceFiles(b.mode.String(), len(b.files))
}

// ReadFile returns the content at p. Memory wins; in disk mode a missing
// entry is loaded from the root unless it was deleted in memory.
func (b *Backend) ReadFile(ctx context.Context, p string) ([]byte, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "workspace.read", attribute.String("path", p))
	defer span.End()

	rel, err := Normalize(p)
	if err != nil {
		return nil, tracing.Fail(span, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ready(); err != nil {
		return nil, tracing.Fail(span, err)
	}

	if e, ok := b.files[rel]; ok {
		return slices.Clone(e.data), nil
	}
	if b.mode == ModeMemory {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, rel)
	}
	if _, deleted := b.tombstones[rel]; deleted {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, rel)
	}

	data, mtime, err := b.load(rel)
	if err != nil {
		return nil, tracing.Fail(span, err)
	}

	b.files[rel] = &entry{data: data, diskMtime: mtime}
	b.updateGauge()
	logger := tracing.LoggerFromContext(ctx, b.logger)
	logger.Debug().Str("path", rel).Int("bytes", len(data)).Msg("Loaded file from disk")
	return slices.Clone(data), nil
}

func (b *Backend) load(rel string) ([]byte, time.Time, error) {
	info, err := b.fs.Stat(rel)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, time.Time{}, fmt.Errorf("%w: %s", ErrFileNotFound, rel)
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to stat %s: %w", rel, err)
	}
	if info.IsDir() {
		return nil, time.Time{}, fmt.Errorf("%w: %s is a directory", ErrFileNotFound, rel)
	}
	if b.maxFileSize > 0 && info.Size() > b.maxFileSize {
		return nil, time.Time{}, fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, rel, info.Size())
	}

	data, err := afero.ReadFile(b.fs, rel)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to read %s: %w", rel, err)
	}
	return data, info.ModTime(), nil
}

// WriteFile stores data at p. The write is visible in memory immediately. In
// disk mode a failed write-through is retried once; if it still fails, the
// write is kept in memory and a *SyncWarning is returned.
func (b *Backend) WriteFile(ctx context.Context, p string, data []byte) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "workspace.write",
		attribute.String("path", p),
		attribute.Int("bytes", len(data)),
	)
	defer span.End()

	rel, err := Normalize(p)
	if err != nil {
		return tracing.Fail(span, err)
	}
	if b.maxFileSize > 0 && int64(len(data)) > b.maxFileSize {
		return tracing.Fail(span, fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, rel, len(data)))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ready(); err != nil {
		return tracing.Fail(span, err)
	}

	e, ok := b.files[rel]
	if !ok {
		e = &entry{}
		b.files[rel] = e
	}
	e.data = slices.Clone(data)
	delete(b.tombstones, rel)
	b.updateGauge()

	if b.mode == ModeMemory {
		e.writtenAt = time.Now()
		return nil
	}

	if err := b.writeThrough(ctx, rel, e); err != nil {
		return tracing.Fail(span, b.warn("write", rel, err))
	}
	return nil
}

// writeThrough persists e to disk and updates its sync bookkeeping.
func (b *Backend) writeThrough(ctx context.Context, rel string, e *entry) error {
	start := time.Now()
	defer func() {
		observability.RecordWriteThrough(time.Since(start))
	}()

	err := b.withRetry(ctx, func() error { return b.atomicWrite(rel, e.data) })
	e.writtenAt = time.Now()
	if err != nil {
		e.pending = true
		return err
	}

	e.pending = false
	info, err := b.fs.Stat(rel)
	if err != nil {
		e.diskMtime = time.Time{}
		return nil
	}
	e.diskMtime = info.ModTime()
	return nil
}

// atomicWrite writes data to a temp file beside rel and renames it into place.
func (b *Backend) atomicWrite(rel string, data []byte) error {
	dir := path.Dir(rel)
	if dir != "." {
		if err := b.fs.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	tmp, err := afero.TempFile(b.fs, dir, tempPattern)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = b.fs.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := b.fs.Chmod(tmpName, 0644); err != nil {
		cleanup()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := b.fs.Rename(tmpName, rel); err != nil {
		cleanup()
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (b *Backend) withRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}

	timer := time.NewTimer(b.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return err
	case <-timer.C:
	}
	return fn()
}

// DeleteFile removes p from memory and disk. Deleting a missing path is a
// no-op. If the disk removal fails the path stays hidden and a *SyncWarning is
// returned.
func (b *Backend) DeleteFile(ctx context.Context, p string) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "workspace.delete", attribute.String("path", p))
	defer span.End()

	rel, err := Normalize(p)
	if err != nil {
		return tracing.Fail(span, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ready(); err != nil {
		return tracing.Fail(span, err)
	}

	delete(b.files, rel)
	b.updateGauge()
	if b.mode == ModeMemory {
		return nil
	}

	if err := b.withRetry(ctx, func() error { return b.removeFromDisk(rel) }); err != nil {
		b.tombstones[rel] = struct{}{}
		return tracing.Fail(span, b.warn("delete", rel, err))
	}
	delete(b.tombstones, rel)
	return nil
}

func (b *Backend) removeFromDisk(rel string) error {
	err := b.fs.Remove(rel)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to remove: %w", err)
}

// ListFiles yields the paths under prefix: memory entries first in sorted
// order, then files found only on disk. Ignore patterns filter the disk walk.
func (b *Backend) ListFiles(ctx context.Context, prefix string) iter.Seq2[string, error] {
	prefix = normalizePrefix(prefix)

	return func(yield func(string, error) bool) {
		b.mu.Lock()
		if err := b.ready(); err != nil {
			b.mu.Unlock()
			yield("", err)
			return
		}
		memory := make([]string, 0, len(b.files))
		for rel := range b.files {
			if strings.HasPrefix(rel, prefix) {
				memory = append(memory, rel)
			}
		}
		hidden := make(map[string]struct{}, len(b.tombstones))
		for rel := range b.tombstones {
			hidden[rel] = struct{}{}
		}
		fsys := b.fs
		disk := b.mode == ModeDisk
		b.mu.Unlock()

		sort.Strings(memory)
		seen := make(map[string]struct{}, len(memory))
		for _, rel := range memory {
			seen[rel] = struct{}{}
			if !yield(rel, nil) {
				return
			}
		}
		if !disk {
			return
		}

		stopped := false
		err := afero.Walk(fsys, ".", func(walkPath string, info os.FileInfo, err error) error {
			if err != nil {
				if walkPath == "." {
					return err
				}
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			rel := path.Clean(strings.ReplaceAll(walkPath, "\\", "/"))
			if rel == "." {
				return nil
			}
			if info.IsDir() {
				if b.Ignored(rel) || !dirMayContain(rel, prefix) {
					return fs.SkipDir
				}
				return nil
			}
			if !strings.HasPrefix(rel, prefix) || b.Ignored(rel) {
				return nil
			}
			if _, ok := seen[rel]; ok {
				return nil
			}
			if _, ok := hidden[rel]; ok {
				return nil
			}
			seen[rel] = struct{}{}
			if !yield(rel, nil) {
				stopped = true
				return fs.SkipAll
			}
			return nil
		})
		if err != nil && !stopped {
			yield("", fmt.Errorf("failed to list workspace: %w", err))
		}
	}
}

// Reconcile is the synchronization point between memory and disk. It
// retries pending writes and deletes, then applies the conflict policy to
// the named paths, or to every memory entry when none are named.
//
// Conflict policy: if the disk mtime differs from the one last observed and
// is strictly newer than the agent's last write, the disk content replaces
// memory. Otherwise memory is written back. A synced entry whose file was
// removed externally is dropped from memory.
func (b *Backend) Reconcile(ctx context.Context, paths ...string) ([]*SyncWarning, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "workspace.reconcile", attribute.Int("paths", len(paths)))
	defer span.End()

	start := time.Now()
	defer func() {
		observability.RecordReconcile(time.Since(start))
	}()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ready(); err != nil {
		return nil, tracing.Fail(span, err)
	}
	if b.mode == ModeMemory {
		return nil, nil
	}

	var targets []string
	if len(paths) == 0 {
		for rel := range b.files {
			targets = append(targets, rel)
		}
		for rel := range b.tombstones {
			targets = append(targets, rel)
		}
		sort.Strings(targets)
	} else {
		for _, p := range paths {
			rel, err := Normalize(p)
			if err != nil {
				return nil, tracing.Fail(span, err)
			}
			targets = append(targets, rel)
		}
	}

	var warnings []*SyncWarning
	for _, rel := range targets {
		if err := ctx.Err(); err != nil {
			return warnings, tracing.Fail(span, err)
		}
		if w := b.reconcileOne(ctx, rel); w != nil {
			warnings = append(warnings, w)
		}
	}
	b.updateGauge()
	return warnings, nil
}

func (b *Backend) reconcileOne(ctx context.Context, rel string) *SyncWarning {
	logger := tracing.LoggerFromContext(ctx, b.logger).With().Str("path", rel).Logger()

	if _, deleted := b.tombstones[rel]; deleted {
		if err := b.withRetry(ctx, func() error { return b.removeFromDisk(rel) }); err != nil {
			return b.warn("delete", rel, err)
		}
		delete(b.tombstones, rel)
		return nil
	}

	e, ok := b.files[rel]
	if !ok {
		return nil
	}

	if e.pending {
		if err := b.writeThrough(ctx, rel, e); err != nil {
			return b.warn("write", rel, err)
		}
		logger.Debug().Msg("Pending write flushed")
		return nil
	}

	info, err := b.fs.Stat(rel)
	if errors.Is(err, fs.ErrNotExist) {
		delete(b.files, rel)
		logger.Debug().Msg("File removed externally, dropped from memory")
		return nil
	}
	if err != nil {
		return b.warn("reconcile", rel, err)
	}

	mtime := info.ModTime()
	if mtime.Equal(e.diskMtime) {
		return nil
	}

	if mtime.After(e.writtenAt) {
		data, mtime, err := b.load(rel)
		if err != nil {
			return b.warn("reconcile", rel, err)
		}
		e.data = data
		e.diskMtime = mtime
		e.writtenAt = time.Time{}
		observability.RecordConflict("disk")
		logger.Info().Time("disk_mtime", mtime).Msg("Disk change is newer, adopted into memory")
		return nil
	}

	if err := b.writeThrough(ctx, rel, e); err != nil {
		return b.warn("write", rel, err)
	}
	observability.RecordConflict("memory")
	logger.Info().Time("disk_mtime", mtime).Msg("Disk change is older than the last write, memory written back")
	return nil
}

// Flush retries every pending write and delete.
func (b *Backend) Flush(ctx context.Context) ([]*SyncWarning, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "workspace.flush")
	defer span.End()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ready(); err != nil {
		return nil, tracing.Fail(span, err)
	}
	return b.flushLocked(ctx), nil
}

func (b *Backend) flushLocked(ctx context.Context) []*SyncWarning {
	if b.mode != ModeDisk {
		return nil
	}

	var pending []string
	for rel, e := range b.files {
		if e.pending {
			pending = append(pending, rel)
		}
	}
	for rel := range b.tombstones {
		pending = append(pending, rel)
	}
	sort.Strings(pending)

	var warnings []*SyncWarning
	for _, rel := range pending {
		if _, deleted := b.tombstones[rel]; deleted {
			if err := b.withRetry(ctx, func() error { return b.removeFromDisk(rel) }); err != nil {
				warnings = append(warnings, b.warn("delete", rel, err))
				continue
			}
			delete(b.tombstones, rel)
			continue
		}
		if err := b.writeThrough(ctx, rel, b.files[rel]); err != nil {
			warnings = append(warnings, b.warn("write", rel, err))
		}
	}
	return warnings
}

// Close flushes pending disk work and moves the backend to Closed. Writes
// that still cannot be flushed are reported as joined *SyncWarning errors.
// Close is idempotent.
func (b *Backend) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mode == ModeClosed {
		return nil
	}

	warnings := b.flushLocked(ctx)
	b.mode = ModeClosed
	b.files = make(map[string]*entry)
	b.tombstones = make(map[string]struct{})
	b.logger.Debug().Int("unflushed", len(warnings)).Msg("Workspace closed")

	if len(warnings) == 0 {
		return nil
	}
	errs := make([]error, len(warnings))
	for i, w := range warnings {
		errs[i] = w
	}
	return errors.Join(errs...)
}
