// Package checkpoint provides durable, resumable conversation checkpoints keyed
// by thread id.
//
// Checkpoints are immutable. Within a thread they are totally ordered by
// byte-wise comparison of CheckpointID and GetLatest returns the greatest one.
// NewID produces ids whose text form sorts by creation time.
package checkpoint

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Checkpoint is one persisted snapshot of a conversation thread
type Checkpoint struct {
	ThreadID           string
	CheckpointID       string
	ParentCheckpointID string // empty for the first checkpoint of a thread
	Codec              string
	State              []byte
	Metadata           []byte
	CreatedAt          time.Time
}

// ThreadInfo summarizes one thread for inspection
type ThreadInfo struct {
	ThreadID     string
	Count        int
	LatestID     string
	LastModified time.Time
}

// NewID returns a time-ordered checkpoint id (UUIDv7).
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate checkpoint id: %w", err)
	}
	return id.String(), nil
}

// Validate checks the required identity fields.
func (c Checkpoint) Validate() error {
	if c.ThreadID == "" {
		return fmt.Errorf("%w: thread id is required", ErrInvalidCheckpoint)
	}
	if c.CheckpointID == "" {
		return fmt.Errorf("%w: checkpoint id is required", ErrInvalidCheckpoint)
	}
	if c.ParentCheckpointID == c.CheckpointID {
		return fmt.Errorf("%w: checkpoint %s is its own parent", ErrInvalidCheckpoint, c.CheckpointID)
	}
	return nil
}

func (c Checkpoint) clone() Checkpoint {
	out := c
	if c.State != nil {
		out.State = append([]byte(nil), c.State...)
	}
	if c.Metadata != nil {
		out.Metadata = append([]byte(nil), c.Metadata...)
	}
	return out
}
