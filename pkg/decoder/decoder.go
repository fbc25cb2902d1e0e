// Package decoder runs AVC/HEVC elementary streams through a hardware
// accelerator and delivers planar frames to a callback.
//
// A Decoder accumulates input until the accelerator has seen the stream
// headers, then keeps up to AsyncDepth pictures in flight and synchronizes
// the oldest one whenever that limit is reached. Frames are delivered in
// completion order on the goroutine that calls SubmitInput or Flush.
package decoder

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thesyncim/libgoqsv/internal/accum"
	"github.com/thesyncim/libgoqsv/internal/annexb"
	"github.com/thesyncim/libgoqsv/internal/pool"
	"github.com/thesyncim/libgoqsv/internal/retry"
	"github.com/thesyncim/libgoqsv/pkg/accel"
	"github.com/thesyncim/libgoqsv/pkg/codec"
	"github.com/thesyncim/libgoqsv/pkg/frame"
)

// Common errors
var (
	ErrDecoderClosed     = errors.New("decoder: closed")
	ErrNoDevice          = errors.New("decoder: no accelerator device")
	ErrInvalidConfig     = errors.New("decoder: invalid config")
	ErrInvalidData       = errors.New("decoder: empty input")
	ErrNeedMoreData      = errors.New("decoder: need more data to parse stream headers")
	ErrNotInitialized    = errors.New("decoder: stream headers not parsed yet")
	ErrDraining          = errors.New("decoder: flushed, no further input accepted")
	ErrInitialization    = errors.New("decoder: initialization failed")
	ErrUnsupportedFormat = errors.New("decoder: unsupported surface format")
	ErrDecodeFailed      = errors.New("decoder: decode failed")
	ErrDeviceBusy        = errors.New("decoder: device busy")
	ErrDeviceFailed      = errors.New("decoder: device failed")
	ErrSyncTimeout       = errors.New("decoder: sync timed out")
)

// State is the pipeline lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateAwaitingParameters
	StateStreaming
	StateDraining
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAwaitingParameters:
		return "awaiting-parameters"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// FrameCallback receives decoded frames. The frame and its planes are reused
// for the next delivery; Clone it to keep it. The callback must not call back
// into the Decoder.
type FrameCallback func(f *frame.VideoFrame)

// TimestampMode selects where a frame's timestamp comes from.
type TimestampMode int

const (
	// TimestampAuto uses the timestamp carried on the surface when the
	// accelerator reports one, and the submission FIFO otherwise.
	TimestampAuto TimestampMode = iota
	// TimestampFIFO pops submission timestamps in order. Only correct for
	// streams without B-frames.
	TimestampFIFO
	// TimestampSurface always uses the surface timestamp.
	TimestampSurface
)

// Config configures a Decoder.
type Config struct {
	Codec            codec.Type
	AsyncDepth       int           // Pictures in flight before the oldest is synchronized
	SyncWait         time.Duration // Per-poll wait inside the accelerator
	InputBufferSize  int           // Initial accumulator capacity
	FallbackSurfaces int           // Used when the accelerator declines the surface query
	BusyRetry        retry.Policy
	SyncRetry        retry.Policy
	Timestamps       TimestampMode
	LengthPrefixed   bool // Input uses 4-byte NAL length prefixes instead of start codes
	Logger           *slog.Logger
}

// DefaultConfig returns the config used for codec kind.
func DefaultConfig(kind codec.Type) Config {
	return Config{
		Codec:            kind,
		AsyncDepth:       codec.DefaultAsyncDepth,
		SyncWait:         codec.DefaultSyncWait,
		InputBufferSize:  codec.DefaultInputBufferSize,
		FallbackSurfaces: codec.DefaultFallbackSurfaces,
		BusyRetry:        retry.BusyPolicy(),
		SyncRetry:        retry.SyncPolicy(),
	}
}

func validateConfig(cfg Config) error {
	if !cfg.Codec.Valid() {
		return fmt.Errorf("%w: codec %v", ErrInvalidConfig, cfg.Codec)
	}
	if cfg.AsyncDepth < 1 {
		return fmt.Errorf("%w: async depth %d", ErrInvalidConfig, cfg.AsyncDepth)
	}
	if cfg.SyncWait <= 0 {
		return fmt.Errorf("%w: sync wait %v", ErrInvalidConfig, cfg.SyncWait)
	}
	if cfg.InputBufferSize < 1 || cfg.FallbackSurfaces < 1 {
		return fmt.Errorf("%w: buffer %d surfaces %d", ErrInvalidConfig, cfg.InputBufferSize, cfg.FallbackSurfaces)
	}
	return nil
}

// Stats are cumulative decoder counters.
type Stats struct {
	Submitted    uint64 // SubmitInput calls accepted
	Decoded      uint64 // Pictures returned by the accelerator
	Delivered    uint64 // Frames handed to the callback
	SyncFailures uint64
	Discarded    uint64 // Trailing input bytes dropped by Flush
	Surfaces     int
	Pending      int
}

type pendingFrame struct {
	surface *accel.Surface
	sp      accel.SyncPoint
}

// Decoder is the decode pipeline. Methods are safe for concurrent use but
// serialize on one lock.
type Decoder struct {
	cfg     Config
	log     *slog.Logger
	session accel.Session

	mu     sync.Mutex
	closed atomic.Bool
	state  atomic.Int32

	callback FrameCallback
	params   accel.VideoParam
	surfaces *pool.SurfacePool
	input    *accum.Buffer
	bs       accel.Bitstream
	ts       timestamps
	pending  []pendingFrame
	out      *frame.VideoFrame
	stats    Stats
}

// New opens a session on dev and returns a decoder waiting for stream headers.
// dev stays owned by the caller.
func New(dev accel.Device, cfg Config) (*Decoder, error) {
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
	log = log.With("component", "decoder", "codec", cfg.Codec.String())

	session, err := dev.NewSession(cfg.Codec)
	if err != nil {
		return nil, fmt.Errorf("%w: open session: %w", ErrInitialization, err)
	}

	d := &Decoder{
		cfg:      cfg,
		log:      log,
		session:  session,
		surfaces: pool.NewSurfacePool(),
		input:    accum.New(cfg.InputBufferSize),
	}
	d.state.Store(int32(StateAwaitingParameters))
	return d, nil
}

// SetFrameCallback installs the frame receiver. User context is captured by
// the closure.
func (d *Decoder) SetFrameCallback(cb FrameCallback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callback = cb
}

// State returns the lifecycle state.
func (d *Decoder) State() State {
	return State(d.state.Load())
}

// Params returns the parameters negotiated from the stream headers.
func (d *Decoder) Params() (accel.VideoParam, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.State() == StateAwaitingParameters {
		return accel.VideoParam{}, ErrNotInitialized
	}
	return d.params, nil
}

// Stats returns a snapshot of the counters.
func (d *Decoder) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.Surfaces = d.surfaces.Len()
	s.Pending = len(d.pending)
	return s
}

// SubmitInput appends one chunk of compressed data and its timestamp, then
// decodes as much as the accelerator accepts. With LengthPrefixed set, the
// chunk is converted to Annex B first. Before the stream headers are complete it returns
// ErrNeedMoreData and keeps the bytes for the next call.
func (d *Decoder) SubmitInput(data []byte, pts int64) error {
	if d.closed.Load() {
		return ErrDecoderClosed
	}
	if len(data) == 0 {
		return ErrInvalidData
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.State() {
	case StateClosed:
		return ErrDecoderClosed
	case StateDraining:
		return ErrDraining
	}

	if d.cfg.LengthPrefixed {
		data = annexb.Ensure(data)
	}
	d.input.Append(data)
	d.ts.push(len(data), pts)
	d.stats.Submitted++

	if d.State() == StateAwaitingParameters {
		if err := d.initCodec(); err != nil {
			return err
		}
	}
	return d.decode(false)
}

// Flush submits the remaining input, drains pictures held by the
// accelerator and synchronizes every in-flight picture. No input is
// accepted afterwards.
func (d *Decoder) Flush() error {
	if d.closed.Load() {
		return ErrDecoderClosed
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.State() {
	case StateAwaitingParameters:
		return ErrNotInitialized
	case StateDraining:
		return nil
	case StateClosed:
		return ErrDecoderClosed
	}

	d.state.Store(int32(StateDraining))
	err := d.decode(true)
	d.log.Debug("flushed", "delivered", d.stats.Delivered, "sync_failures", d.stats.SyncFailures)
	return err
}

// Close releases the session and every buffer. Pending pictures are dropped
// and no callback runs afterwards.
func (d *Decoder) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.state.Store(int32(StateClosed))
	dropped := len(d.pending)
	d.pending = nil
	err := d.session.Close()
	d.surfaces.ReleaseAll()
	d.input.Reset()
	d.ts.reset()
	d.callback = nil
	d.log.Debug("closed", "dropped", dropped)
	return err
}

func (d *Decoder) initCodec() error {
	hdr := accel.Bitstream{Data: d.input.Bytes(), Length: d.input.Len()}
	params, st := d.session.DecodeHeader(&hdr)
	if st == accel.StatusMoreData {
		return ErrNeedMoreData
	}
	if st.IsError() {
		return fmt.Errorf("%w: decode header: %w", ErrInitialization, st.Err())
	}

	switch params.Frame.FourCC {
	case accel.FourCCNV12, accel.FourCCP010:
	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, params.Frame.FourCC)
	}

	params.AsyncDepth = d.cfg.AsyncDepth
	params.IOPattern = accel.IOPatternOutSystemMemory
	if st := d.session.InitDecoder(&params); st.IsError() {
		return fmt.Errorf("%w: init decoder: %w", ErrInitialization, st.Err())
	}

	n, st := d.session.QueryDecodeSurfaces(&params)
	if st.IsError() || n <= 0 {
		d.log.Warn("surface query declined, using fallback", "status", st, "surfaces", d.cfg.FallbackSurfaces)
		n = d.cfg.FallbackSurfaces
	}
	if err := d.surfaces.Grow(params.Frame, n); err != nil {
		return fmt.Errorf("%w: %w", ErrInitialization, err)
	}

	w, h := params.Frame.VisibleSize()
	format := frame.PixelFormatI420
	if params.Frame.FourCC == accel.FourCCP010 {
		format = frame.PixelFormatI420P10
	}
	out, err := frame.NewFrame(w&^1, h&^1, format)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitialization, err)
	}

	d.out = out
	d.params = params
	d.state.Store(int32(StateStreaming))
	d.log.Info("stream parameters discovered",
		"width", w, "height", h, "fourcc", params.Frame.FourCC.String(),
		"bit_depth", params.Frame.BitDepth, "surfaces", n)
	return nil
}

// decode submits the accumulated input until the accelerator wants more
// data. With drain set it also pulls buffered pictures and synchronizes
// everything in flight.
func (d *Decoder) decode(drain bool) error {
	var errs []error

	for {
		work, err := d.surfaces.Acquire()
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrDecodeFailed, err))
			return errors.Join(errs...)
		}

		var bs *accel.Bitstream
		if d.input.Len() > 0 || !drain {
			d.bs = accel.Bitstream{Data: d.input.Bytes(), Length: d.input.Len()}
			d.bs.PTS, _ = d.ts.current()
			bs = &d.bs
		}
		before := d.input.Len()

		var (
			out *accel.Surface
			sp  accel.SyncPoint
			st  accel.Status
		)
		err = d.cfg.BusyRetry.Do(func() error {
			out, sp, st = d.session.DecodeFrameAsync(bs, work)
			if st != accel.StatusDeviceBusy {
				return nil
			}
			if len(d.pending) > 0 {
				if err := d.syncOldest(); err != nil {
					errs = append(errs, err)
				}
			}
			return retry.Again(accel.ErrDeviceBusy)
		})

		if bs != nil {
			if used := before - bs.Length; used > 0 {
				d.input.Consume(used)
				d.ts.consume(used)
			}
		}
		if out != nil && sp != 0 {
			if err := d.surfaces.MarkInFlight(out); err != nil {
				d.log.Error("accelerator returned a foreign surface", "error", err)
				errs = append(errs, fmt.Errorf("%w: %w", ErrDecodeFailed, err))
				return errors.Join(errs...)
			}
			d.pending = append(d.pending, pendingFrame{surface: out, sp: sp})
			d.stats.Decoded++
		}
		if out != work || sp == 0 {
			_ = d.surfaces.Release(work)
		}

		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrDeviceBusy, err))
			return errors.Join(errs...)
		}

		switch {
		case st == accel.StatusOK, st.IsWarning():
		case st == accel.StatusMoreData, st == accel.StatusMoreSurface:
		case errors.Is(st.Err(), accel.ErrDeviceFailed):
			d.log.Error("submission failed", "status", st)
			errs = append(errs, fmt.Errorf("%w: %w", ErrDeviceFailed, st.Err()))
			return errors.Join(errs...)
		default:
			d.log.Error("submission failed", "status", st)
			errs = append(errs, fmt.Errorf("%w: %w", ErrDecodeFailed, st.Err()))
			return errors.Join(errs...)
		}

		if len(d.pending) >= d.cfg.AsyncDepth {
			if err := d.syncOldest(); err != nil {
				errs = append(errs, err)
			}
		}

		if st == accel.StatusMoreSurface {
			continue
		}
		stalled := out == nil && (bs == nil || bs.Length == before)
		if st == accel.StatusMoreData || stalled {
			if drain && bs != nil {
				// Trailing bytes that never form a picture are dropped so
				// the nil submissions can pull what the accelerator holds.
				d.discardInput()
				continue
			}
			break
		}
		if !drain && d.input.Len() == 0 {
			break
		}
	}

	if drain {
		for len(d.pending) > 0 {
			if err := d.syncOldest(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (d *Decoder) discardInput() {
	n := d.input.Len()
	if n == 0 {
		return
	}
	d.input.Consume(n)
	d.ts.consume(n)
	d.stats.Discarded += uint64(n)
	d.log.Warn("discarding incomplete input at flush", "bytes", n)
}

// syncOldest waits for the oldest in-flight picture, delivers it on success
// and always dequeues it and releases its surface.
func (d *Decoder) syncOldest() error {
	p := d.pending[0]
	d.pending = d.pending[1:]
	if len(d.pending) == 0 {
		d.pending = d.pending[:0:0]
	}
	defer func() { _ = d.surfaces.Release(p.surface) }()

	var st accel.Status
	err := d.cfg.SyncRetry.Do(func() error {
		st = d.session.SyncOperation(p.sp, d.cfg.SyncWait)
		if st == accel.StatusInExecution {
			return retry.Again(accel.ErrInExecution)
		}
		return nil
	})
	if err != nil {
		d.stats.SyncFailures++
		d.ts.pop()
		d.log.Error("sync timed out", "sync_point", uint64(p.sp), "error", err)
		return fmt.Errorf("%w: %w", ErrSyncTimeout, err)
	}
	if st.IsError() {
		d.stats.SyncFailures++
		d.ts.pop()
		d.log.Error("sync failed", "sync_point", uint64(p.sp), "status", st)
		return fmt.Errorf("%w: %w", ErrDeviceFailed, st.Err())
	}
	return d.deliver(p.surface)
}

func (d *Decoder) deliver(s *accel.Surface) error {
	pts := d.frameTimestamp(s)
	if d.callback == nil {
		return nil
	}

	var shift uint
	if s.Info.FourCC == accel.FourCCP010 && s.Info.Shift {
		shift = frame.Shift10Bit
	}
	if err := frame.SemiPlanarToPlanar(d.out, s.Y, s.UV, s.Pitch, shift); err != nil {
		return fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}
	d.out.PTS = pts
	d.stats.Delivered++
	d.callback(d.out)
	return nil
}

func (d *Decoder) frameTimestamp(s *accel.Surface) int64 {
	queued, ok := d.ts.pop()
	switch d.cfg.Timestamps {
	case TimestampSurface:
		return s.PTS
	case TimestampFIFO:
		return queued
	default:
		if s.PTSValid {
			return s.PTS
		}
		if ok {
			return queued
		}
		return 0
	}
}
