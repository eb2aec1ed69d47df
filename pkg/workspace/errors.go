package workspace

import (
	"errors"
	"fmt"
)

var (
	ErrNotConfigured     = errors.New("workspace backend not configured")
	ErrAlreadyConfigured = errors.New("workspace backend already configured")
	ErrBackendClosed     = errors.New("workspace backend closed")
	ErrFileNotFound      = errors.New("file not found")
	ErrInvalidPath       = errors.New("invalid workspace path")
	ErrFileTooLarge      = errors.New("file exceeds maximum size")
)

// SyncWarning reports a disk synchronization failure that did not lose the
// in-memory state. The operation that returned it took effect in memory.
type SyncWarning struct {
	Op   string // write, delete, reconcile
	Path string
	Err  error
}

func (w *SyncWarning) Error() string {
	return fmt.Sprintf("workspace sync %s %s: %v", w.Op, w.Path, w.Err)
}

func (w *SyncWarning) Unwrap() error {
	return w.Err
}

// IsSyncWarning reports whether err is, or wraps, a *SyncWarning.
func IsSyncWarning(err error) bool {
	var w *SyncWarning
	return errors.As(err, &w)
}
