// Package pool manages the surfaces and bitstream buffers shared with the
// accelerator. Both pools are index-addressed arenas; a slot is handed out
// only when it is Free on our side and idle on the accelerator side.
// Pools are not safe for concurrent use.
package pool

import "errors"

var (
	ErrUnsupportedFormat = errors.New("pool: unsupported surface format")
	ErrNotConfigured     = errors.New("pool: surface format not set")
	ErrForeignSlot       = errors.New("pool: slot does not belong to this pool")
	ErrBitstreamOverflow = errors.New("pool: bitstream buffer overflow")
	ErrInvalidCapacity   = errors.New("pool: invalid buffer capacity")
)

// State is the pipeline-side state of a slot.
type State uint8

const (
	StateFree     State = iota // Available for Acquire
	StateClaimed               // Handed out for a submission
	StateInFlight              // Holds a pending result
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateClaimed:
		return "claimed"
	case StateInFlight:
		return "in-flight"
	default:
		return "unknown"
	}
}
