// Package depacketizer reassembles RTP packets into Annex B access units
// ready for the decoder.
package depacketizer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/thesyncim/libgoqsv/internal/annexb"
	"github.com/thesyncim/libgoqsv/pkg/codec"
)

// Errors
var (
	ErrDepacketizerClosed = errors.New("depacketizer is closed")
	ErrNeedMoreData       = errors.New("need more data")
	ErrBufferTooSmall     = errors.New("buffer too small")
	ErrUnsupportedCodec   = errors.New("depacketizer: unsupported codec")
	ErrMalformedPacket    = errors.New("depacketizer: malformed packet")
)

// AccessUnit is one reassembled picture.
type AccessUnit struct {
	Data       []byte // Annex B
	Timestamp  int64  // RTP timestamp unwrapped past 32 bits
	IsKeyframe bool
}

// FrameInfo contains metadata about a unit popped with PopInto.
type FrameInfo struct {
	Size       int
	Timestamp  int64
	IsKeyframe bool
}

// Stats are depacketizer counters.
type Stats struct {
	Packets   uint64
	Units     uint64
	Lost      uint64 // Packets missing from the sequence
	Discarded uint64 // Fragments dropped after loss
}

// Depacketizer reassembles one RTP stream. An access unit completes on the
// marker bit or when the timestamp changes.
type Depacketizer struct {
	codec  codec.Type
	closed atomic.Bool
	mu     sync.Mutex

	avc  codecs.H264Packet
	hevc hevcAssembler

	cur      []byte
	curTS    uint32
	curKey   bool
	inUnit   bool
	ready    []AccessUnit
	ts       unwrapper
	lastSeq  uint16
	seqValid bool
	stats    Stats
}

// New creates a depacketizer for AVC or HEVC.
func New(c codec.Type) (*Depacketizer, error) {
	if c != codec.AVC && c != codec.HEVC {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedCodec, c)
	}
	return &Depacketizer{codec: c}, nil
}

// Push adds one RTP packet.
func (d *Depacketizer) Push(pkt *rtp.Packet) error {
	if d.closed.Load() {
		return ErrDepacketizerClosed
	}
	if pkt == nil || len(pkt.Payload) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats.Packets++
	d.trackSequence(pkt.SequenceNumber)

	if d.inUnit && pkt.Timestamp != d.curTS {
		d.complete()
	}
	if !d.inUnit {
		d.inUnit = true
		d.curTS = pkt.Timestamp
	}

	nals, err := d.unmarshal(pkt.Payload)
	if err != nil {
		return err
	}
	for _, nal := range nals {
		d.curKey = d.curKey || d.isKeyframeNAL(nal)
	}
	d.cur = append(d.cur, annexb.Join(nals)...)

	if pkt.Marker {
		d.complete()
	}
	return nil
}

// PushRaw parses and adds one marshaled RTP packet.
func (d *Depacketizer) PushRaw(packet []byte) error {
	if len(packet) == 0 {
		return nil
	}
	var pkt rtp.Packet
	if err := pkt.Unmarshal(packet); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedPacket, err)
	}
	return d.Push(&pkt)
}

// Pop returns the oldest complete access unit, or ErrNeedMoreData.
func (d *Depacketizer) Pop() (AccessUnit, error) {
	if d.closed.Load() {
		return AccessUnit{}, ErrDepacketizerClosed
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.ready) == 0 {
		return AccessUnit{}, ErrNeedMoreData
	}
	au := d.ready[0]
	d.ready = d.ready[1:]
	return au, nil
}

// PopInto copies the oldest complete access unit into dst.
func (d *Depacketizer) PopInto(dst []byte) (FrameInfo, error) {
	if d.closed.Load() {
		return FrameInfo{}, ErrDepacketizerClosed
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.ready) == 0 {
		return FrameInfo{}, ErrNeedMoreData
	}
	au := d.ready[0]
	if len(dst) < len(au.Data) {
		return FrameInfo{}, ErrBufferTooSmall
	}
	d.ready = d.ready[1:]
	return FrameInfo{
		Size:       copy(dst, au.Data),
		Timestamp:  au.Timestamp,
		IsKeyframe: au.IsKeyframe,
	}, nil
}

// Flush completes the unit in progress, for streams whose last packet lost
// its marker bit.
func (d *Depacketizer) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inUnit {
		d.complete()
	}
}

// Stats returns a snapshot of the counters.
func (d *Depacketizer) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Close releases buffered units.
func (d *Depacketizer) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cur, d.ready = nil, nil
	return nil
}

func (d *Depacketizer) trackSequence(seq uint16) {
	if d.seqValid {
		if gap := seq - d.lastSeq - 1; gap > 0 && gap < 0x8000 {
			d.stats.Lost += uint64(gap)
			if d.hevc.reset() {
				d.stats.Discarded++
			}
			d.avc = codecs.H264Packet{}
		}
	}
	d.lastSeq = seq
	d.seqValid = true
}

func (d *Depacketizer) unmarshal(payload []byte) ([][]byte, error) {
	if d.codec == codec.HEVC {
		return d.hevc.unmarshal(payload)
	}
	out, err := d.avc.Unmarshal(payload)
	if err != nil {
		d.avc = codecs.H264Packet{}
		return nil, fmt.Errorf("%w: %w", ErrMalformedPacket, err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return annexb.Split(out), nil
}

func (d *Depacketizer) isKeyframeNAL(nal []byte) bool {
	if len(nal) == 0 {
		return false
	}
	if d.codec == codec.AVC {
		return nal[0]&0x1f == 5
	}
	t := (nal[0] >> 1) & 0x3f
	return t >= 16 && t <= 21
}

func (d *Depacketizer) complete() {
	if len(d.cur) > 0 {
		d.ready = append(d.ready, AccessUnit{
			Data:       d.cur,
			Timestamp:  d.ts.unwrap(d.curTS),
			IsKeyframe: d.curKey,
		})
		d.stats.Units++
	}
	d.cur = nil
	d.curKey = false
	d.inUnit = false
}

// unwrapper extends 32-bit RTP timestamps to int64, tolerating reordering
// within half the range.
type unwrapper struct {
	last    uint32
	value   int64
	started bool
}

func (u *unwrapper) unwrap(ts uint32) int64 {
	if !u.started {
		u.started = true
		u.last = ts
		u.value = int64(ts)
		return u.value
	}
	u.value += int64(int32(ts - u.last))
	u.last = ts
	return u.value
}
