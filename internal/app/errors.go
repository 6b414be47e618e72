package app

import (
	"errors"
	"fmt"

	"github.com/voxlab/botserve/internal/domain"
)

var (
	// ErrNotFound is returned by liveness probes for unknown worker ids.
	ErrNotFound = errors.New("bot not found")

	// ErrDuplicateWorker guards against registering the same worker id twice.
	// Process ids are unique at a point in time, so hitting this is a
	// programming error rather than a user-facing fault.
	ErrDuplicateWorker = errors.New("worker id already registered")
)

// CapacityError reports that a room already holds the maximum number of live
// bots. It is a structured, retryable outcome rather than a server fault.
type CapacityError struct {
	Room domain.RoomURL
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("Max bot limit reached for room: %s", e.Room)
}
