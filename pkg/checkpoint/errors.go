package checkpoint

import "errors"

var (
	// ErrStorageInit is returned when the store cannot be opened or migrated
	ErrStorageInit = errors.New("checkpoint storage init failed")
	// ErrStorageIO wraps read/write failures against the backing database
	ErrStorageIO = errors.New("checkpoint storage I/O failed")
	// ErrStoreClosed is returned by every operation after Close
	ErrStoreClosed = errors.New("checkpoint store closed")

	ErrNotFound           = errors.New("checkpoint not found")
	ErrInvalidCheckpoint  = errors.New("invalid checkpoint")
	ErrCheckpointExists   = errors.New("checkpoint already exists")
	ErrIncompatibleSchema = errors.New("checkpoint schema is newer than this binary supports")
	ErrUnknownCodec       = errors.New("unknown checkpoint codec")
)
