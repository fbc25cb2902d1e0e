package pool

import (
	"fmt"

	"github.com/thesyncim/libgoqsv/pkg/accel"
	"github.com/thesyncim/libgoqsv/pkg/codec"
)

type surfaceSlot struct {
	surface *accel.Surface
	state   State
	y, uv   []byte // Owned storage, restored on Release
	pitch   int
}

// SurfacePool owns working surfaces for one session.
type SurfacePool struct {
	info      accel.FrameInfo
	slots     []surfaceSlot
	onRelease func(*accel.Surface)
}

// NewSurfacePool returns an empty pool. Call Grow before Acquire.
func NewSurfacePool() *SurfacePool {
	return &SurfacePool{}
}

// OnRelease registers fn to run for every surface dropped by ReleaseAll.
func (p *SurfacePool) OnRelease(fn func(*accel.Surface)) {
	p.onRelease = fn
}

// Info returns the current surface format.
func (p *SurfacePool) Info() accel.FrameInfo { return p.info }

// SurfaceLayout returns the pitch and total storage size for info.
// Storage is aligned to 32 in both directions.
func SurfaceLayout(info accel.FrameInfo) (pitch, size int, err error) {
	bps := info.FourCC.BytesPerSample()
	if bps == 0 {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnsupportedFormat, info.FourCC)
	}
	if info.Width <= 0 || info.Height <= 0 {
		return 0, 0, fmt.Errorf("%w: %dx%d", ErrUnsupportedFormat, info.Width, info.Height)
	}
	w := codec.Align(info.Width, codec.DecodeAlignment)
	h := codec.Align(info.Height, codec.DecodeAlignment)
	pitch = w * bps
	return pitch, pitch * h * 3 / 2, nil
}

// Grow makes the pool hold at least n surfaces of format info. A format
// change drops every existing surface first.
func (p *SurfacePool) Grow(info accel.FrameInfo, n int) error {
	if _, _, err := SurfaceLayout(info); err != nil {
		return err
	}
	if len(p.slots) > 0 && !sameLayout(p.info, info) {
		p.ReleaseAll()
	}
	p.info = info
	for len(p.slots) < n {
		if _, err := p.add(); err != nil {
			return err
		}
	}
	return nil
}

func sameLayout(a, b accel.FrameInfo) bool {
	return a.FourCC == b.FourCC && a.Width == b.Width && a.Height == b.Height
}

func (p *SurfacePool) add() (int, error) {
	pitch, size, err := SurfaceLayout(p.info)
	if err != nil {
		return 0, err
	}
	h := codec.Align(p.info.Height, codec.DecodeAlignment)
	buf := make([]byte, size)
	idx := len(p.slots)
	s := &accel.Surface{
		ID:    idx,
		Info:  p.info,
		Y:     buf[:pitch*h],
		UV:    buf[pitch*h:],
		Pitch: pitch,
	}
	p.slots = append(p.slots, surfaceSlot{surface: s, y: s.Y, uv: s.UV, pitch: pitch})
	return idx, nil
}

// Acquire claims the first surface that is free and not locked by the
// accelerator, allocating a new one when none is available. The surface
// timestamp is cleared.
func (p *SurfacePool) Acquire() (*accel.Surface, error) {
	if p.info.FourCC == accel.FourCCNone {
		return nil, ErrNotConfigured
	}
	for i := range p.slots {
		sl := &p.slots[i]
		if sl.state == StateFree && !sl.surface.Locked() {
			sl.state = StateClaimed
			sl.surface.PTS, sl.surface.PTSValid = 0, false
			return sl.surface, nil
		}
	}
	idx, err := p.add()
	if err != nil {
		return nil, err
	}
	p.slots[idx].state = StateClaimed
	return p.slots[idx].surface, nil
}

func (p *SurfacePool) slot(s *accel.Surface) (*surfaceSlot, error) {
	if s == nil || s.ID < 0 || s.ID >= len(p.slots) || p.slots[s.ID].surface != s {
		return nil, ErrForeignSlot
	}
	return &p.slots[s.ID], nil
}

// MarkInFlight records that s holds a result awaiting synchronization.
func (p *SurfacePool) MarkInFlight(s *accel.Surface) error {
	sl, err := p.slot(s)
	if err != nil {
		return err
	}
	sl.state = StateInFlight
	return nil
}

// Release returns s to the free state and restores its own storage if a
// caller buffer was bound to it. The accelerator lock and the timestamp are
// left untouched: a locked surface may still come back as a decode output.
func (p *SurfacePool) Release(s *accel.Surface) error {
	sl, err := p.slot(s)
	if err != nil {
		return err
	}
	sl.state = StateFree
	s.Y, s.UV, s.Pitch = sl.y, sl.uv, sl.pitch
	return nil
}

// State returns the pipeline-side state of s.
func (p *SurfacePool) State(s *accel.Surface) State {
	sl, err := p.slot(s)
	if err != nil {
		return StateFree
	}
	return sl.state
}

// ReleaseAll drops every surface.
func (p *SurfacePool) ReleaseAll() {
	if p.onRelease != nil {
		for _, sl := range p.slots {
			p.onRelease(sl.surface)
		}
	}
	p.slots = nil
}

// Len returns the number of surfaces.
func (p *SurfacePool) Len() int { return len(p.slots) }

// FreeCount returns how many surfaces Acquire could hand out without allocating.
func (p *SurfacePool) FreeCount() int {
	n := 0
	for _, sl := range p.slots {
		if sl.state == StateFree && !sl.surface.Locked() {
			n++
		}
	}
	return n
}

// InFlightCount returns how many surfaces hold pending results.
func (p *SurfacePool) InFlightCount() int {
	n := 0
	for _, sl := range p.slots {
		if sl.state == StateInFlight {
			n++
		}
	}
	return n
}
