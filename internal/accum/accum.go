// Package accum holds compressed input until the decoder consumes it.
package accum

// Buffer is a growable byte queue. Unconsumed bytes always start at index 0.
// Buffer is not safe for concurrent use.
type Buffer struct {
	buf []byte
	n   int
}

// New returns a buffer with the given initial capacity (minimum 1).
func New(initialCap int) *Buffer {
	if initialCap < 1 {
		initialCap = 1
	}
	return &Buffer{buf: make([]byte, initialCap)}
}

// Append copies b after the available bytes, doubling capacity until it fits.
func (a *Buffer) Append(b []byte) {
	need := a.n + len(b)
	if need > len(a.buf) {
		size := len(a.buf)
		for size < need {
			size *= 2
		}
		grown := make([]byte, size)
		copy(grown, a.buf[:a.n])
		a.buf = grown
	}
	copy(a.buf[a.n:], b)
	a.n = need
}

// Consume drops the first n bytes and moves the rest to the front.
func (a *Buffer) Consume(n int) {
	if n <= 0 {
		return
	}
	if n >= a.n {
		a.n = 0
		return
	}
	copy(a.buf, a.buf[n:a.n])
	a.n -= n
}

// Bytes returns the available bytes. The slice is valid until the next
// Append or Consume.
func (a *Buffer) Bytes() []byte { return a.buf[:a.n] }

// Len returns the number of available bytes.
func (a *Buffer) Len() int { return a.n }

// Cap returns the current capacity.
func (a *Buffer) Cap() int { return len(a.buf) }

// Reset drops all available bytes and keeps the capacity.
func (a *Buffer) Reset() { a.n = 0 }
