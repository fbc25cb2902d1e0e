package codec

import "time"

// Pipeline defaults.
const (
	DefaultAsyncDepth        = 4
	DefaultSyncWait          = 1000 * time.Millisecond
	DefaultFallbackSurfaces  = 10
	DefaultBitstreamCapacity = 10 << 20
	DefaultInputBufferSize   = 20 << 20
)

// Surface storage is aligned to 32 on decode and 16 on encode.
const (
	DecodeAlignment = 32
	EncodeAlignment = 16
)

// Align rounds v up to a multiple of a (a power of two).
func Align(v, a int) int {
	return (v + a - 1) &^ (a - 1)
}
