package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewID returns "<prefix>_<unixms>_<rand8>". The timestamp keeps ids
// roughly sortable by creation; the uuid suffix keeps them unique when two
// records are created in the same millisecond.
func NewID(prefix string) string {
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), uuid.NewString()[:8])
}

// NewThreadID returns a fresh thread id
func NewThreadID() string { return NewID("thread") }

// NewBridgeID returns a fresh bridge id
func NewBridgeID() string { return NewID("bridge") }

// NewMessageID returns a fresh message id
func NewMessageID() string { return NewID("msg") }
