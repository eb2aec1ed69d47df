package checkpoint

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Serializer turns engine state into the opaque blobs a checkpoint carries
type Serializer interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONSerializer is the default json/v1 codec
type JSONSerializer struct{}

func (JSONSerializer) Name() string                       { return "json/v1" }
func (JSONSerializer) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONSerializer) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Serializers is a registry of codecs by name
type Serializers struct {
	mu    sync.RWMutex
	byKey map[string]Serializer
}

// NewSerializers returns a registry holding the json/v1 codec.
func NewSerializers() *Serializers {
	s := &Serializers{byKey: make(map[string]Serializer)}
	s.Register(JSONSerializer{})
	return s
}

// Register adds or replaces a codec.
func (s *Serializers) Register(ser Serializer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[ser.Name()] = ser
}

// Lookup returns the codec for name or ErrUnknownCodec.
func (s *Serializers) Lookup(name string) (Serializer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ser, ok := s.byKey[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return ser, nil
}

// Encode serializes state and metadata into cp and stamps the codec name.
// A nil metadata value leaves Metadata empty.
func Encode(ser Serializer, cp *Checkpoint, state, metadata any) error {
	data, err := ser.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	cp.State = data
	cp.Metadata = nil
	if metadata != nil {
		meta, err := ser.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		cp.Metadata = meta
	}
	cp.Codec = ser.Name()
	return nil
}

// Decode deserializes cp's blobs with the codec it was written with.
// Either target may be nil to skip it.
func (s *Serializers) Decode(cp Checkpoint, state, metadata any) error {
	ser, err := s.Lookup(cp.Codec)
	if err != nil {
		return err
	}
	if state != nil && len(cp.State) > 0 {
		if err := ser.Unmarshal(cp.State, state); err != nil {
			return fmt.Errorf("failed to decode state of %s/%s: %w", cp.ThreadID, cp.CheckpointID, err)
		}
	}
	if metadata != nil && len(cp.Metadata) > 0 {
		if err := ser.Unmarshal(cp.Metadata, metadata); err != nil {
			return fmt.Errorf("failed to decode metadata of %s/%s: %w", cp.ThreadID, cp.CheckpointID, err)
		}
	}
	return nil
}
