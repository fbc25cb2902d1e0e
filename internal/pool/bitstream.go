package pool

import (
	"fmt"

	"github.com/thesyncim/libgoqsv/pkg/accel"
)

type bitstreamSlot struct {
	bs    *accel.Bitstream
	state State
}

// BitstreamPool owns fixed-capacity output buffers for one encode session.
type BitstreamPool struct {
	capacity int
	slots    []bitstreamSlot
}

// NewBitstreamPool returns an empty pool whose buffers hold capacity bytes.
func NewBitstreamPool(capacity int) (*BitstreamPool, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	return &BitstreamPool{capacity: capacity}, nil
}

// Capacity returns the per-buffer size.
func (p *BitstreamPool) Capacity() int { return p.capacity }

// Grow makes the pool hold at least n buffers.
func (p *BitstreamPool) Grow(n int) {
	for len(p.slots) < n {
		p.add()
	}
}

func (p *BitstreamPool) add() int {
	p.slots = append(p.slots, bitstreamSlot{bs: &accel.Bitstream{Data: make([]byte, p.capacity)}})
	return len(p.slots) - 1
}

// Acquire claims the first buffer with no pending completion, allocating a
// new one when none is available.
func (p *BitstreamPool) Acquire() *accel.Bitstream {
	for i := range p.slots {
		sl := &p.slots[i]
		if sl.state == StateFree && sl.bs.Token == 0 {
			sl.state = StateClaimed
			return sl.bs
		}
	}
	idx := p.add()
	p.slots[idx].state = StateClaimed
	return p.slots[idx].bs
}

func (p *BitstreamPool) slot(b *accel.Bitstream) (*bitstreamSlot, error) {
	for i := range p.slots {
		if p.slots[i].bs == b {
			return &p.slots[i], nil
		}
	}
	return nil, ErrForeignSlot
}

// MarkInFlight records that b is bound to a pending completion.
func (p *BitstreamPool) MarkInFlight(b *accel.Bitstream, sp accel.SyncPoint) error {
	sl, err := p.slot(b)
	if err != nil {
		return err
	}
	b.Token = sp
	sl.state = StateInFlight
	return nil
}

// Release clears b's contents and token and returns it to the free state.
func (p *BitstreamPool) Release(b *accel.Bitstream) error {
	sl, err := p.slot(b)
	if err != nil {
		return err
	}
	b.Reset()
	sl.state = StateFree
	return nil
}

// CheckFits reports ErrBitstreamOverflow when b claims more bytes than it holds.
func CheckFits(b *accel.Bitstream) error {
	if b.Offset < 0 || b.Length < 0 || b.Offset+b.Length > len(b.Data) {
		return fmt.Errorf("%w: %d bytes at offset %d, capacity %d",
			ErrBitstreamOverflow, b.Length, b.Offset, len(b.Data))
	}
	return nil
}

// ReleaseAll drops every buffer.
func (p *BitstreamPool) ReleaseAll() {
	p.slots = nil
}

// Len returns the number of buffers.
func (p *BitstreamPool) Len() int { return len(p.slots) }

// FreeCount returns how many buffers are available.
func (p *BitstreamPool) FreeCount() int {
	n := 0
	for _, sl := range p.slots {
		if sl.state == StateFree && sl.bs.Token == 0 {
			n++
		}
	}
	return n
}
