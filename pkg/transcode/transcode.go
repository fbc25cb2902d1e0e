// Package transcode chains a Decoder into an Encoder on one accelerator.
//
// Compressed input goes in through Submit. Decoded frames are rescaled when
// the output size differs, re-encoded synchronously and handed to a Sink in
// presentation order as the encoder emits them.
package transcode

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thesyncim/libgoqsv/pkg/accel"
	"github.com/thesyncim/libgoqsv/pkg/decoder"
	"github.com/thesyncim/libgoqsv/pkg/encoder"
	"github.com/thesyncim/libgoqsv/pkg/frame"
	"github.com/thesyncim/libgoqsv/pkg/track"
)

// Errors
var (
	ErrTranscoderClosed = errors.New("transcode: closed")
	ErrNoDevice         = errors.New("transcode: no accelerator device")
	ErrNoSink           = errors.New("transcode: no sink")
	ErrInvalidConfig    = errors.New("transcode: invalid config")
	ErrDepthMismatch    = errors.New("transcode: output bit depth differs from input")
	ErrSink             = errors.New("transcode: sink failed")
)

// Sink receives encoded units. The unit is owned by the sink.
type Sink interface {
	WriteUnit(unit *encoder.CompressedUnit) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(unit *encoder.CompressedUnit) error

// WriteUnit calls f(unit).
func (f SinkFunc) WriteUnit(unit *encoder.CompressedUnit) error { return f(unit) }

// TrackSink forwards units to a WebRTC sample track, each lasting d.
func TrackSink(t *track.SampleTrack, d time.Duration) Sink {
	return SinkFunc(func(unit *encoder.CompressedUnit) error {
		return t.WriteUnit(unit, d)
	})
}

// Config configures a Transcoder.
//
// Encoder.Params.Width, Height and BitDepth may be left zero; they are then
// taken from the decoded stream once its headers are parsed.
type Config struct {
	Decoder decoder.Config
	Encoder encoder.Config
	Logger  *slog.Logger
}

// DefaultConfig returns a config with default pipelines for dec and enc.
func DefaultConfig(dec decoder.Config, enc encoder.Config) Config {
	return Config{Decoder: dec, Encoder: enc}
}

// Stats are cumulative transcoder counters.
type Stats struct {
	Decoded uint64 // Frames taken from the decoder
	Scaled  uint64 // Frames resized before encoding
	Emitted uint64 // Units handed to the sink
	Decoder decoder.Stats
	Encoder encoder.Stats
}

// Transcoder owns one decode and one encode session. Methods are safe for
// concurrent use but serialize on one lock.
type Transcoder struct {
	dev  accel.Device
	cfg  Config
	log  *slog.Logger
	sink Sink

	mu     sync.Mutex
	closed atomic.Bool

	dec    *decoder.Decoder
	enc    *encoder.Encoder
	scaled *frame.VideoFrame
	err    error // First failure raised inside the frame callback
	stats  Stats
}

// New creates the decoder. The encoder is created when the first frame is
// decoded. dev stays owned by the caller.
func New(dev accel.Device, cfg Config, sink Sink) (*Transcoder, error) {
	if dev == nil {
		return nil, ErrNoDevice
	}
	if sink == nil {
		return nil, ErrNoSink
	}
	if !cfg.Encoder.Params.Codec.Valid() {
		return nil, fmt.Errorf("%w: output codec %v", ErrInvalidConfig, cfg.Encoder.Params.Codec)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "transcode",
		"from", cfg.Decoder.Codec.String(), "to", cfg.Encoder.Params.Codec.String())
	if cfg.Decoder.Logger == nil {
		cfg.Decoder.Logger = log
	}
	if cfg.Encoder.Logger == nil {
		cfg.Encoder.Logger = log
	}

	dec, err := decoder.New(dev, cfg.Decoder)
	if err != nil {
		return nil, err
	}
	t := &Transcoder{
		dev:  dev,
		cfg:  cfg,
		log:  log,
		sink: sink,
		dec:  dec,
	}
	dec.SetFrameCallback(t.onFrame)
	return t, nil
}

// Submit feeds compressed input with its presentation timestamp. Units the
// encoder produces are written to the sink before Submit returns.
func (t *Transcoder) Submit(data []byte, pts int64) error {
	if t.closed.Load() {
		return ErrTranscoderClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.dec.SubmitInput(data, pts); err != nil && !errors.Is(err, decoder.ErrNeedMoreData) {
		return err
	}
	return t.takeErr()
}

// Flush drains both pipelines and writes every remaining unit to the sink.
func (t *Transcoder) Flush() error {
	if t.closed.Load() {
		return ErrTranscoderClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.dec.Flush(); err != nil {
		return err
	}
	if err := t.takeErr(); err != nil {
		return err
	}
	if t.enc == nil {
		return nil
	}
	units, err := t.enc.Flush()
	for _, u := range units {
		if werr := t.emit(u); werr != nil {
			return werr
		}
	}
	t.log.Debug("flushed", "decoded", t.stats.Decoded, "emitted", t.stats.Emitted)
	return err
}

// Stats returns a snapshot of the counters.
func (t *Transcoder) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats
	s.Decoder = t.dec.Stats()
	if t.enc != nil {
		s.Encoder = t.enc.Stats()
	}
	return s
}

// Close releases both sessions.
func (t *Transcoder) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	err := t.dec.Close()
	if t.enc != nil {
		err = errors.Join(err, t.enc.Close())
		t.enc = nil
	}
	return err
}

// onFrame runs under the decoder lock with t.mu held by Submit or Flush.
func (t *Transcoder) onFrame(f *frame.VideoFrame) {
	if t.err != nil {
		return
	}
	t.stats.Decoded++
	if t.enc == nil {
		if err := t.openEncoder(f); err != nil {
			t.err = err
			return
		}
	}

	src := f
	if t.scaled != nil {
		if err := frame.Scale(t.scaled, f); err != nil {
			t.err = err
			return
		}
		t.stats.Scaled++
		src = t.scaled
	}

	unit, err := t.enc.EncodeSync(src)
	if errors.Is(err, encoder.ErrNeedMoreData) {
		return
	}
	if err != nil {
		t.err = err
		return
	}
	t.err = t.emit(unit)
}

func (t *Transcoder) openEncoder(f *frame.VideoFrame) error {
	cfg := t.cfg.Encoder
	p := &cfg.Params
	if p.Width == 0 || p.Height == 0 {
		p.Width, p.Height = f.Width, f.Height
	}
	depth := f.Format.BitDepth()
	if p.BitDepth == 0 {
		p.BitDepth = depth
	}
	if p.BitDepth != depth {
		return fmt.Errorf("%w: %d to %d", ErrDepthMismatch, depth, p.BitDepth)
	}

	enc, err := encoder.New(t.dev, cfg)
	if err != nil {
		return err
	}
	if p.Width != f.Width || p.Height != f.Height {
		scaled, err := frame.NewFrame(p.Width, p.Height, f.Format)
		if err != nil {
			_ = enc.Close()
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		t.scaled = scaled
	}
	t.enc = enc
	t.log.Info("encoder opened",
		"in_width", f.Width, "in_height", f.Height,
		"out_width", p.Width, "out_height", p.Height, "bit_depth", depth)
	return nil
}

func (t *Transcoder) emit(unit *encoder.CompressedUnit) error {
	if err := t.sink.WriteUnit(unit); err != nil {
		return fmt.Errorf("%w: %w", ErrSink, err)
	}
	t.stats.Emitted++
	return nil
}

func (t *Transcoder) takeErr() error {
	err := t.err
	t.err = nil
	return err
}
