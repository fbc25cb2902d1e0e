package testutil

import (
	"bytes"
	"sync"
	"time"

	"github.com/thesyncim/libgoqsv/pkg/accel"
	"github.com/thesyncim/libgoqsv/pkg/codec"
)

// Options tunes the fake accelerator.
type Options struct {
	SuggestedSurfaces   int  // Reported by surface queries (0 = 4)
	DeclineSurfaceQuery bool // Surface queries fail
	FailInit            bool // InitDecoder/InitEncoder fail

	Delay        int  // Decoded pictures held before output, smallest order first
	EncodeDelay  int  // Input surfaces held before the encoder emits
	NoTimestamps bool // Do not carry PTS through decoded surfaces

	BusyFirst        int   // First N submissions report DeviceBusy
	AlwaysBusy       bool  // Every submission reports DeviceBusy
	InExecutionPolls int   // Polls answered with InExecution per sync point
	Hang             bool  // Sync never completes
	FailSyncAt       []int // 1-based sync completions that report DeviceFailed

	NoSyncPoint bool // Decoded pictures come back as the work surface without a sync point
}

// Accelerator is an in-process accel.Device.
type Accelerator struct {
	Opts     Options
	FailOpen error

	mu       sync.Mutex
	sessions []*Session
}

// NewAccelerator returns a fake device.
func NewAccelerator(opts Options) *Accelerator {
	return &Accelerator{Opts: opts}
}

// NewSession implements accel.Device.
func (a *Accelerator) NewSession(kind codec.Type) (accel.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailOpen != nil {
		return nil, a.FailOpen
	}
	s := &Session{
		kind:     kind,
		opts:     a.Opts,
		busyLeft: a.Opts.BusyFirst,
		tokens:   make(map[accel.SyncPoint]*pendingOp),
	}
	a.sessions = append(a.sessions, s)
	return s, nil
}

// LastSession returns the most recently opened session.
func (a *Accelerator) LastSession() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sessions) == 0 {
		return nil
	}
	return a.sessions[len(a.sessions)-1]
}

type pendingOp struct {
	surface *accel.Surface
	polls   int
}

type heldPicture struct {
	surface *accel.Surface
	order   int
}

type encodeEntry struct {
	surface *accel.Surface
	pic     Picture
	pts     int64
}

// Session is the fake accel.Session.
type Session struct {
	mu   sync.Mutex
	kind codec.Type
	opts Options

	dec *accel.VideoParam
	enc *accel.VideoParam

	nextSP     accel.SyncPoint
	tokens     map[accel.SyncPoint]*pendingOp
	held       []heldPicture
	encQueue   []encodeEntry
	encOrder   int
	lastInput  []byte
	sentHeader bool

	busyLeft       int
	submits        int
	syncs          int
	completed      int
	maxOutstanding int
	closed         bool
}

// DecodeHeader implements accel.Session.
func (s *Session) DecodeHeader(bs *accel.Bitstream) (accel.VideoParam, accel.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := bs.Bytes()
	idx := bytes.Index(data, []byte{0, 0, 1, headerCode})
	if idx < 0 {
		return accel.VideoParam{}, accel.StatusMoreData
	}
	h, ok := parseHeader(data[idx:])
	if !ok {
		return accel.VideoParam{}, accel.StatusMoreData
	}
	if h.BitDepth != 8 && h.BitDepth != 10 {
		return accel.VideoParam{}, accel.StatusUnsupported
	}
	return accel.VideoParam{
		Codec: s.kind,
		Frame: accel.FrameInfo{
			FourCC:     accel.FourCCForDepth(h.BitDepth),
			Width:      codec.Align(h.Width, codec.EncodeAlignment),
			Height:     codec.Align(h.Height, codec.EncodeAlignment),
			CropW:      h.Width,
			CropH:      h.Height,
			BitDepth:   h.BitDepth,
			Shift:      h.BitDepth > 8,
			FrameRateN: 30,
			FrameRateD: 1,
			PicStruct:  accel.PicStructProgressive,
		},
	}, accel.StatusOK
}

// InitDecoder implements accel.Session.
func (s *Session) InitDecoder(params *accel.VideoParam) accel.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opts.FailInit {
		return accel.StatusInvalidVideoParam
	}
	p := *params
	s.dec = &p
	return accel.StatusOK
}

// QueryDecodeSurfaces implements accel.Session.
func (s *Session) QueryDecodeSurfaces(*accel.VideoParam) (int, accel.Status) {
	return s.querySurfaces()
}

// QueryEncodeSurfaces implements accel.Session.
func (s *Session) QueryEncodeSurfaces(*accel.VideoParam) (int, accel.Status) {
	return s.querySurfaces()
}

func (s *Session) querySurfaces() (int, accel.Status) {
	if s.opts.DeclineSurfaceQuery {
		return 0, accel.StatusUnsupported
	}
	if s.opts.SuggestedSurfaces > 0 {
		return s.opts.SuggestedSurfaces, accel.StatusOK
	}
	return 4, accel.StatusOK
}

func (s *Session) busy() bool {
	if s.opts.AlwaysBusy {
		return true
	}
	if s.busyLeft > 0 {
		s.busyLeft--
		return true
	}
	return false
}

// DecodeFrameAsync implements accel.Session.
func (s *Session) DecodeFrameAsync(bs *accel.Bitstream, work *accel.Surface) (*accel.Surface, accel.SyncPoint, accel.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits++

	if s.dec == nil {
		return nil, 0, accel.StatusNotInitialized
	}
	if s.busy() {
		return nil, 0, accel.StatusDeviceBusy
	}
	if bs == nil {
		if len(s.held) == 0 {
			return nil, 0, accel.StatusMoreData
		}
		return s.emitHeld()
	}

	for isUnit(bs.Bytes(), headerCode) && bs.Length >= HeaderSize {
		consume(bs, HeaderSize)
	}
	data := bs.Bytes()
	if len(data) < PictureSize {
		return nil, 0, accel.StatusMoreData
	}
	pic, ok := parsePicture(data)
	if !ok {
		return nil, 0, accel.StatusUndefinedBehavior
	}
	consume(bs, PictureSize)

	fillSurface(work, pic)
	if s.opts.NoSyncPoint {
		return work, 0, accel.StatusOK
	}
	work.Lock()
	work.PTS = bs.PTS
	work.PTSValid = !s.opts.NoTimestamps
	s.held = append(s.held, heldPicture{surface: work, order: pic.Order})

	if len(s.held) <= s.opts.Delay {
		if bs.Length > 0 {
			return nil, 0, accel.StatusMoreSurface
		}
		return nil, 0, accel.StatusMoreData
	}
	return s.emitHeld()
}

func (s *Session) emitHeld() (*accel.Surface, accel.SyncPoint, accel.Status) {
	best := 0
	for i, h := range s.held {
		if h.order < s.held[best].order {
			best = i
		}
	}
	out := s.held[best].surface
	s.held = append(s.held[:best], s.held[best+1:]...)
	return out, s.newToken(out), accel.StatusOK
}

func (s *Session) newToken(surf *accel.Surface) accel.SyncPoint {
	s.nextSP++
	s.tokens[s.nextSP] = &pendingOp{surface: surf}
	if len(s.tokens) > s.maxOutstanding {
		s.maxOutstanding = len(s.tokens)
	}
	return s.nextSP
}

// InitEncoder implements accel.Session.
func (s *Session) InitEncoder(params *accel.VideoParam) (accel.VideoParam, accel.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opts.FailInit {
		return accel.VideoParam{}, accel.StatusInvalidVideoParam
	}
	if params.Frame.FourCC.BytesPerSample() == 0 {
		return accel.VideoParam{}, accel.StatusUnsupported
	}
	p := *params
	s.enc = &p
	return p, accel.StatusOK
}

// EncodeFrameAsync implements accel.Session.
func (s *Session) EncodeFrameAsync(surf *accel.Surface, bs *accel.Bitstream) (accel.SyncPoint, accel.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits++

	if s.enc == nil {
		return 0, accel.StatusNotInitialized
	}
	if s.busy() {
		return 0, accel.StatusDeviceBusy
	}
	if surf != nil {
		depth := s.enc.Frame.BitDepth
		bps := surf.Info.FourCC.BytesPerSample()
		surf.Lock()
		s.lastInput = surf.Y
		s.encQueue = append(s.encQueue, encodeEntry{
			surface: surf,
			pic: Picture{
				Order: s.encOrder,
				Y:     PlaneSample(surf.Y, depth, 0),
				U:     PlaneSample(surf.UV, depth, 0),
				V:     PlaneSample(surf.UV[bps:], depth, 0),
			},
			pts: surf.PTS,
		})
		s.encOrder++
		if len(s.encQueue) <= s.opts.EncodeDelay {
			return 0, accel.StatusMoreData
		}
	}
	if len(s.encQueue) == 0 {
		return 0, accel.StatusMoreData
	}

	e := s.encQueue[0]
	size := PictureSize
	if !s.sentHeader {
		size += HeaderSize
	}
	if len(bs.Free()) < size {
		if surf != nil {
			// Rejected submissions are not retained.
			s.encQueue = s.encQueue[:len(s.encQueue)-1]
			s.encOrder--
			surf.Unlock()
		}
		return 0, accel.StatusNotEnoughBuffer
	}
	s.encQueue = s.encQueue[1:]

	out := bs.Free()[:0]
	if !s.sentHeader {
		out = append(out, StreamHeader{
			Width:    s.enc.Frame.CropW,
			Height:   s.enc.Frame.CropH,
			BitDepth: s.enc.Frame.BitDepth,
		}.Marshal()...)
		s.sentHeader = true
	}
	e.pic.Type = codec.FrameP
	if gop := s.enc.GopPicSize; e.pic.Order == 0 || (gop > 0 && e.pic.Order%gop == 0) {
		e.pic.Type = codec.FrameIDR
	}
	out = append(out, e.pic.Marshal()...)
	bs.Length += len(out)
	bs.PTS = e.pts
	bs.DTS = e.pts
	bs.FrameType = e.pic.Type

	return s.newToken(e.surface), accel.StatusOK
}

// SyncOperation implements accel.Session.
func (s *Session) SyncOperation(sp accel.SyncPoint, _ time.Duration) accel.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncs++

	op, ok := s.tokens[sp]
	if !ok {
		return accel.StatusNotFound
	}
	if s.opts.Hang || op.polls < s.opts.InExecutionPolls {
		op.polls++
		return accel.StatusInExecution
	}
	delete(s.tokens, sp)
	op.surface.Unlock()
	s.completed++
	for _, n := range s.opts.FailSyncAt {
		if n == s.completed {
			return accel.StatusDeviceFailed
		}
	}
	return accel.StatusOK
}

// Close implements accel.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Outstanding returns the number of unsynchronized sync points.
func (s *Session) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// MaxOutstanding returns the peak number of unsynchronized sync points.
func (s *Session) MaxOutstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxOutstanding
}

// Submits returns the number of DecodeFrameAsync/EncodeFrameAsync calls.
func (s *Session) Submits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits
}

// Syncs returns the number of SyncOperation calls.
func (s *Session) Syncs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncs
}

// DecodeParams returns the params given to InitDecoder.
func (s *Session) DecodeParams() *accel.VideoParam {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dec
}

// LastEncodeInput returns the Y plane of the last surface submitted for
// encoding.
func (s *Session) LastEncodeInput() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInput
}

// EncodeParams returns the params given to InitEncoder.
func (s *Session) EncodeParams() *accel.VideoParam {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc
}

func consume(bs *accel.Bitstream, n int) {
	bs.Offset += n
	bs.Length -= n
}

func fillSurface(surf *accel.Surface, p Picture) {
	y, u, v := p.Y, p.U, p.V
	if surf.Info.Shift {
		y, u, v = y<<6, u<<6, v<<6
	}
	bps := surf.Info.FourCC.BytesPerSample()
	depth := 8 * bps
	fillPlane(surf.Y, depth, y)
	for i := 0; i+2*bps <= len(surf.UV); i += 2 * bps {
		putSample(surf.UV[i:], depth, u)
		putSample(surf.UV[i+bps:], depth, v)
	}
}
