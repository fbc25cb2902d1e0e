// Package encoder compresses raw frames into AVC/HEVC bitstreams on a
// hardware accelerator.
//
// Every EncodeSync call claims a surface and a bitstream buffer, submits the
// picture and waits for its completion before returning, so an Encoder never
// has more than one picture in flight on the caller's side. Encoders that
// reorder (B-frames) may hold input internally; those calls report
// ErrNeedMoreData and the output appears on later calls or on Flush.
package encoder

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thesyncim/libgoqsv/internal/pool"
	"github.com/thesyncim/libgoqsv/internal/retry"
	"github.com/thesyncim/libgoqsv/pkg/accel"
	"github.com/thesyncim/libgoqsv/pkg/codec"
	"github.com/thesyncim/libgoqsv/pkg/frame"
)

// Common errors
var (
	ErrEncoderClosed     = errors.New("encoder: closed")
	ErrNoDevice          = errors.New("encoder: no accelerator device")
	ErrInvalidConfig     = errors.New("encoder: invalid config")
	ErrInvalidFrame      = errors.New("encoder: invalid frame")
	ErrUnsupportedFormat = errors.New("encoder: unsupported pixel format")
	ErrInitialization    = errors.New("encoder: initialization failed")
	ErrNeedMoreData      = errors.New("encoder: input buffered, no output yet")
	ErrBufferTooSmall    = errors.New("encoder: destination buffer too small")
	ErrBitstreamOverflow = errors.New("encoder: compressed picture exceeds bitstream buffer")
	ErrEncodeFailed      = errors.New("encoder: encode failed")
	ErrDeviceBusy        = errors.New("encoder: device busy")
	ErrDeviceFailed      = errors.New("encoder: device failed")
	ErrSyncTimeout       = errors.New("encoder: sync timed out")
)

// EncodeResult contains the result of an EncodeInto call.
type EncodeResult struct {
	// N is the number of bytes written to the destination buffer.
	N int
	// PTS and DTS of the compressed picture.
	PTS, DTS int64
	// FrameType reported by the accelerator.
	FrameType codec.FrameType
}

// IsKeyframe indicates if the encoded picture is a keyframe.
func (r EncodeResult) IsKeyframe() bool { return r.FrameType.IsKeyframe() }

// CompressedUnit is one encoded picture.
type CompressedUnit struct {
	Data      []byte
	PTS, DTS  int64
	FrameType codec.FrameType
}

// IsKeyframe indicates if the unit starts a decodable sequence.
func (u *CompressedUnit) IsKeyframe() bool { return u.FrameType.IsKeyframe() }

// Config configures an Encoder.
type Config struct {
	Params            codec.VideoParams
	AsyncDepth        int
	SyncWait          time.Duration
	BitstreamCapacity int // Fixed size of every bitstream buffer
	FallbackSurfaces  int // Used when the accelerator declines the surface query
	TargetUsage       accel.TargetUsage
	BusyRetry         retry.Policy
	SyncRetry         retry.Policy
	Logger            *slog.Logger
}

// DefaultConfig returns the config for params.
func DefaultConfig(params codec.VideoParams) Config {
	return Config{
		Params:            params,
		AsyncDepth:        codec.DefaultAsyncDepth,
		SyncWait:          codec.DefaultSyncWait,
		BitstreamCapacity: codec.DefaultBitstreamCapacity,
		FallbackSurfaces:  codec.DefaultFallbackSurfaces,
		TargetUsage:       accel.TargetUsageBestSpeed,
		BusyRetry:         retry.BusyPolicy(),
		SyncRetry:         retry.SyncPolicy(),
	}
}

func validateConfig(cfg Config) error {
	if err := cfg.Params.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.AsyncDepth < 1 {
		return fmt.Errorf("%w: async depth %d", ErrInvalidConfig, cfg.AsyncDepth)
	}
	if cfg.SyncWait <= 0 {
		return fmt.Errorf("%w: sync wait %v", ErrInvalidConfig, cfg.SyncWait)
	}
	if cfg.BitstreamCapacity < 1 || cfg.FallbackSurfaces < 1 {
		return fmt.Errorf("%w: bitstream %d surfaces %d", ErrInvalidConfig, cfg.BitstreamCapacity, cfg.FallbackSurfaces)
	}
	return nil
}

// Stats are cumulative encoder counters.
type Stats struct {
	Encoded    uint64 // Compressed pictures returned
	Bytes      uint64
	Keyframes  uint64
	Buffered   uint64 // Submissions that produced no output
	Surfaces   int
	Bitstreams int
}

// Encoder is the encode pipeline. Methods are safe for concurrent use but
// serialize on one lock.
type Encoder struct {
	cfg     Config
	log     *slog.Logger
	session accel.Session

	mu     sync.Mutex
	closed atomic.Bool

	params     accel.VideoParam
	surfaces   *pool.SurfacePool
	bitstreams *pool.BitstreamPool
	stats      Stats

	// Native frames are bound only after a submission came back as its own
	// picture, and never again once the accelerator has held an input.
	bindNative bool
	holdsInput bool
}

// New opens a session on dev and initializes the encoder. dev stays owned
// by the caller.
func New(dev accel.Device, cfg Config) (*Encoder, error) {
	if dev == nil {
		return nil, ErrNoDevice
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "encoder", "codec", cfg.Params.Codec.String())

	bitstreams, err := pool.NewBitstreamPool(cfg.BitstreamCapacity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	session, err := dev.NewSession(cfg.Params.Codec)
	if err != nil {
		return nil, fmt.Errorf("%w: open session: %w", ErrInitialization, err)
	}

	e := &Encoder{
		cfg:        cfg,
		log:        log,
		session:    session,
		surfaces:   pool.NewSurfacePool(),
		bitstreams: bitstreams,
	}
	if err := e.init(); err != nil {
		_ = session.Close()
		return nil, err
	}
	return e, nil
}

// videoParam builds the accelerator parameter block: surfaces aligned to 16,
// crop set to the requested size, VBR rate control and system memory input.
func videoParam(cfg Config) accel.VideoParam {
	p := cfg.Params
	target, peak, buffer := p.RateControl()
	return accel.VideoParam{
		Codec: p.Codec,
		Frame: accel.FrameInfo{
			FourCC:     accel.FourCCForDepth(p.BitDepth),
			Width:      codec.Align(p.Width, codec.EncodeAlignment),
			Height:     codec.Align(p.Height, codec.EncodeAlignment),
			CropW:      p.Width,
			CropH:      p.Height,
			BitDepth:   p.BitDepth,
			FrameRateN: p.FrameRateNum,
			FrameRateD: p.FrameRateDen,
			PicStruct:  accel.PicStructProgressive,
		},
		AsyncDepth:  cfg.AsyncDepth,
		IOPattern:   accel.IOPatternInSystemMemory,
		TargetUsage: cfg.TargetUsage,
		RateControl: accel.RateControlVBR,
		TargetKbps:  target,
		MaxKbps:     peak,
		BufferKB:    buffer,
		GopPicSize:  p.GOPSize,
		GopRefDist:  p.BFrames + 1,
	}
}

func (e *Encoder) init() error {
	want := videoParam(e.cfg)
	params, st := e.session.InitEncoder(&want)
	if st.IsError() {
		return fmt.Errorf("%w: init encoder: %w", ErrInitialization, st.Err())
	}
	if st.IsWarning() {
		e.log.Warn("encoder params adjusted", "status", st)
	}

	n, st := e.session.QueryEncodeSurfaces(&params)
	if st.IsError() || n <= 0 {
		e.log.Warn("surface query declined, using fallback", "status", st, "surfaces", e.cfg.FallbackSurfaces)
		n = e.cfg.FallbackSurfaces
	}
	if err := e.surfaces.Grow(params.Frame, n); err != nil {
		return fmt.Errorf("%w: %w", ErrInitialization, err)
	}
	e.bitstreams.Grow(n)

	e.params = params
	e.log.Info("encoder initialized",
		"width", params.Frame.CropW, "height", params.Frame.CropH,
		"fourcc", params.Frame.FourCC.String(), "target_kbps", params.TargetKbps,
		"gop", params.GopPicSize, "ref_dist", params.GopRefDist, "surfaces", n)
	return nil
}

// Params returns the parameters the accelerator applied.
func (e *Encoder) Params() accel.VideoParam {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// Codec returns the codec type of this encoder.
func (e *Encoder) Codec() codec.Type { return e.cfg.Params.Codec }

// MaxEncodedSize returns the largest picture EncodeInto can produce.
func (e *Encoder) MaxEncodedSize() int { return e.bitstreams.Capacity() }

// Stats returns a snapshot of the counters.
func (e *Encoder) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.Surfaces = e.surfaces.Len()
	s.Bitstreams = e.bitstreams.Len()
	return s
}

// PoolsIdle reports whether every surface and bitstream buffer is free.
func (e *Encoder) PoolsIdle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.surfaces.FreeCount() == e.surfaces.Len() && e.bitstreams.FreeCount() == e.bitstreams.Len()
}

// EncodeSync encodes src and returns the compressed picture.
// Planar frames are converted into a surface. NV12/P010 frames matching the
// session layout are handed to the accelerator without copying when the
// encoder neither reorders nor holds inputs, and must stay untouched until
// EncodeSync returns. The first frame is always copied; a session that
// answers ErrNeedMoreData copies every frame from then on.
func (e *Encoder) EncodeSync(src *frame.VideoFrame) (*CompressedUnit, error) {
	if e.closed.Load() {
		return nil, ErrEncoderClosed
	}
	if src == nil {
		return nil, ErrInvalidFrame
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return nil, ErrEncoderClosed
	}
	bs, err := e.encodeFrame(src)
	if err != nil {
		return nil, err
	}
	defer func() { _ = e.bitstreams.Release(bs) }()
	return unitFrom(bs), nil
}

// EncodeInto encodes src into dst without allocating.
// dst must hold at least MaxEncodedSize bytes.
func (e *Encoder) EncodeInto(src *frame.VideoFrame, dst []byte) (EncodeResult, error) {
	if e.closed.Load() {
		return EncodeResult{}, ErrEncoderClosed
	}
	if src == nil {
		return EncodeResult{}, ErrInvalidFrame
	}
	if len(dst) < e.MaxEncodedSize() {
		return EncodeResult{}, ErrBufferTooSmall
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return EncodeResult{}, ErrEncoderClosed
	}
	bs, err := e.encodeFrame(src)
	if err != nil {
		return EncodeResult{}, err
	}
	defer func() { _ = e.bitstreams.Release(bs) }()

	n := copy(dst, bs.Bytes())
	return EncodeResult{N: n, PTS: bs.PTS, DTS: bs.DTS, FrameType: bs.FrameType}, nil
}

// Flush drains pictures held inside the accelerator.
func (e *Encoder) Flush() ([]*CompressedUnit, error) {
	if e.closed.Load() {
		return nil, ErrEncoderClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var units []*CompressedUnit
	for {
		bs := e.bitstreams.Acquire()
		out, err := e.submit(nil, bs)
		if errors.Is(err, ErrNeedMoreData) {
			return units, nil
		}
		if err != nil {
			return units, err
		}
		units = append(units, unitFrom(out))
		_ = e.bitstreams.Release(out)
	}
}

// Close releases the session and every buffer.
func (e *Encoder) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.session.Close()
	e.surfaces.ReleaseAll()
	e.bitstreams.ReleaseAll()
	e.log.Debug("closed", "encoded", e.stats.Encoded, "bytes", e.stats.Bytes)
	return err
}

func unitFrom(bs *accel.Bitstream) *CompressedUnit {
	data := make([]byte, bs.Length)
	copy(data, bs.Bytes())
	return &CompressedUnit{Data: data, PTS: bs.PTS, DTS: bs.DTS, FrameType: bs.FrameType}
}

func (e *Encoder) encodeFrame(src *frame.VideoFrame) (*accel.Bitstream, error) {
	surf, err := e.surfaces.Acquire()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodeFailed, err)
	}
	if err := e.load(surf, src); err != nil {
		_ = e.surfaces.Release(surf)
		return nil, err
	}
	surf.PTS = src.PTS

	return e.submit(surf, e.bitstreams.Acquire())
}

// load places src into surf, either by conversion, copy or binding.
func (e *Encoder) load(surf *accel.Surface, src *frame.VideoFrame) error {
	info := surf.Info
	if src.Width != info.CropW || src.Height != info.CropH {
		return fmt.Errorf("%w: %dx%d, session is %dx%d", ErrInvalidFrame, src.Width, src.Height, info.CropW, info.CropH)
	}
	if src.Format.BitDepth() != info.BitDepth {
		return fmt.Errorf("%w: %v into %d-bit session", ErrUnsupportedFormat, src.Format, info.BitDepth)
	}

	var shift uint
	if info.Shift {
		shift = frame.Shift10Bit
	}

	switch {
	case src.Format.IsPlanar():
		if err := frame.PlanarToSemiPlanar(src, surf.Y, surf.UV, surf.Pitch, shift); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidFrame, err)
		}
		return nil
	case src.Format.IsSemiPlanar():
		if err := checkNative(src); err != nil {
			return err
		}
		if e.bindNative && e.cfg.Params.BFrames == 0 && shift == 0 {
			surf.Y, surf.UV, surf.Pitch = src.Data[0], src.Data[1], src.Stride[0]
			return nil
		}
		copySemiPlanar(surf, src, shift)
		return nil
	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, src.Format)
	}
}

func checkNative(src *frame.VideoFrame) error {
	if len(src.Data) < 2 || len(src.Stride) < 2 || src.Stride[0] != src.Stride[1] {
		return fmt.Errorf("%w: semi-planar frame needs equal Y and UV strides", ErrInvalidFrame)
	}
	pitch := src.Stride[0]
	rowBytes := src.Width * src.Format.BytesPerSample()
	if pitch < rowBytes || len(src.Data[0]) < pitch*src.Height || len(src.Data[1]) < pitch*src.Height/2 {
		return fmt.Errorf("%w: planes smaller than %d rows of %d bytes", ErrInvalidFrame, src.Height, pitch)
	}
	return nil
}

// copySemiPlanar copies a native frame row by row, shifting 16-bit samples
// into the MSB when the session expects that layout.
func copySemiPlanar(surf *accel.Surface, src *frame.VideoFrame, shift uint) {
	rowBytes := src.Width * src.Format.BytesPerSample()
	copyRows := func(dst, s []byte, rows int) {
		for r := 0; r < rows; r++ {
			d := dst[r*surf.Pitch : r*surf.Pitch+rowBytes]
			copy(d, s[r*src.Stride[0]:r*src.Stride[0]+rowBytes])
			if shift == 0 {
				continue
			}
			for i := 0; i+1 < len(d); i += 2 {
				v := (uint16(d[i]) | uint16(d[i+1])<<8) << shift
				d[i], d[i+1] = byte(v), byte(v>>8)
			}
		}
	}
	copyRows(surf.Y, src.Data[0], src.Height)
	copyRows(surf.UV, src.Data[1], src.Height/2)
}

// submit runs one picture (or a drain request when surf is nil) through the
// accelerator and waits for it. On success the caller owns bs until it
// releases it; on every error path both slots are already released.
func (e *Encoder) submit(surf *accel.Surface, bs *accel.Bitstream) (*accel.Bitstream, error) {
	releaseSurface := func() {
		if surf != nil {
			_ = e.surfaces.Release(surf)
		}
	}

	var (
		sp accel.SyncPoint
		st accel.Status
	)
	err := e.cfg.BusyRetry.Do(func() error {
		sp, st = e.session.EncodeFrameAsync(surf, bs)
		if st == accel.StatusDeviceBusy {
			return retry.Again(accel.ErrDeviceBusy)
		}
		return nil
	})
	if err != nil {
		releaseSurface()
		_ = e.bitstreams.Release(bs)
		return nil, fmt.Errorf("%w: %w", ErrDeviceBusy, err)
	}

	switch {
	case st == accel.StatusMoreData || (!st.IsError() && sp == 0):
		releaseSurface()
		_ = e.bitstreams.Release(bs)
		if surf != nil {
			e.stats.Buffered++
			if !e.holdsInput {
				e.log.Debug("accelerator holds input, copying native frames")
			}
			e.holdsInput, e.bindNative = true, false
		}
		return nil, ErrNeedMoreData
	case st == accel.StatusNotEnoughBuffer:
		releaseSurface()
		_ = e.bitstreams.Release(bs)
		e.log.Error("bitstream buffer too small", "capacity", bs.Capacity())
		return nil, fmt.Errorf("%w: capacity %d: %w", ErrBitstreamOverflow, bs.Capacity(), pool.ErrBitstreamOverflow)
	case errors.Is(st.Err(), accel.ErrDeviceFailed):
		releaseSurface()
		_ = e.bitstreams.Release(bs)
		e.log.Error("submission failed", "status", st)
		return nil, fmt.Errorf("%w: %w", ErrDeviceFailed, st.Err())
	case st.IsError():
		releaseSurface()
		_ = e.bitstreams.Release(bs)
		e.log.Error("submission failed", "status", st)
		return nil, fmt.Errorf("%w: %w", ErrEncodeFailed, st.Err())
	}

	_ = e.bitstreams.MarkInFlight(bs, sp)
	err = e.cfg.SyncRetry.Do(func() error {
		st = e.session.SyncOperation(sp, e.cfg.SyncWait)
		if st == accel.StatusInExecution {
			return retry.Again(accel.ErrInExecution)
		}
		return nil
	})
	releaseSurface()

	if err != nil {
		_ = e.bitstreams.Release(bs)
		e.log.Error("sync timed out", "sync_point", uint64(sp), "error", err)
		return nil, fmt.Errorf("%w: %w", ErrSyncTimeout, err)
	}
	if st.IsError() {
		_ = e.bitstreams.Release(bs)
		e.log.Error("sync failed", "sync_point", uint64(sp), "status", st)
		return nil, fmt.Errorf("%w: %w", ErrDeviceFailed, st.Err())
	}
	if err := pool.CheckFits(bs); err != nil {
		_ = e.bitstreams.Release(bs)
		return nil, fmt.Errorf("%w: %w", ErrBitstreamOverflow, err)
	}

	if surf != nil && !e.holdsInput {
		e.bindNative = true
	}
	e.stats.Encoded++
	e.stats.Bytes += uint64(bs.Length)
	if bs.FrameType.IsKeyframe() {
		e.stats.Keyframes++
	}
	return bs, nil
}
