package accel

import (
	"sync/atomic"

	"github.com/thesyncim/libgoqsv/pkg/codec"
)

// Surface is a semi-planar picture buffer shared with the accelerator.
type Surface struct {
	ID    int // Slot index in the owning pool
	Info  FrameInfo
	Y     []byte
	UV    []byte
	Pitch int // Bytes per row for both planes

	// PTS travels with the picture. PTSValid is set by accelerators that
	// carry timestamps through decode.
	PTS      int64
	PTSValid bool

	// Native holds accelerator specific state bound to this surface.
	Native any

	locks atomic.Int32
}

// Lock records one accelerator reference.
func (s *Surface) Lock() { s.locks.Add(1) }

// Unlock drops one accelerator reference.
func (s *Surface) Unlock() {
	if s.locks.Add(-1) < 0 {
		s.locks.Store(0)
	}
}

// SetLockCount mirrors a lock count kept by the accelerator.
func (s *Surface) SetLockCount(n int32) { s.locks.Store(n) }

// Locked reports whether the accelerator still references the surface memory.
func (s *Surface) Locked() bool { return s.locks.Load() > 0 }

// Bitstream is a fixed-capacity compressed data buffer.
type Bitstream struct {
	Data   []byte // Full backing storage; its length is the capacity
	Offset int    // First valid byte
	Length int    // Valid bytes from Offset

	PTS       int64
	DTS       int64
	FrameType codec.FrameType

	Token SyncPoint // Pending completion, zero when idle
}

// Bytes returns the valid region.
func (b *Bitstream) Bytes() []byte {
	return b.Data[b.Offset : b.Offset+b.Length]
}

// Capacity returns the fixed buffer size.
func (b *Bitstream) Capacity() int { return len(b.Data) }

// Free returns the bytes available after the valid region.
func (b *Bitstream) Free() []byte {
	return b.Data[b.Offset+b.Length:]
}

// Reset clears contents and the pending token.
func (b *Bitstream) Reset() {
	b.Offset = 0
	b.Length = 0
	b.PTS = 0
	b.DTS = 0
	b.FrameType = codec.FrameUnknown
	b.Token = 0
}
