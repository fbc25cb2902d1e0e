// Package track provides Pion-compatible TrackLocal implementations fed by
// the hardware encoder.
package track

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/thesyncim/libgoqsv/pkg/accel"
	"github.com/thesyncim/libgoqsv/pkg/codec"
	"github.com/thesyncim/libgoqsv/pkg/encoder"
	"github.com/thesyncim/libgoqsv/pkg/frame"
	"github.com/thesyncim/libgoqsv/pkg/packetizer"
)

// Errors
var (
	ErrTrackClosed   = errors.New("track is closed")
	ErrNotBound      = errors.New("track not bound")
	ErrAlreadyBound  = errors.New("track already bound")
	ErrEncodeFailed  = errors.New("encode failed")
	ErrInvalidConfig = errors.New("invalid config")
)

// VideoTrackConfig configures a video track.
type VideoTrackConfig struct {
	ID       string
	StreamID string
	Device   accel.Device
	Encoder  encoder.Config
	MTU      uint16 // RTP MTU (default 1200)
	Logger   *slog.Logger
}

// VideoTrack implements webrtc.TrackLocal on top of the hardware encoder.
// The encoder is created when the track is bound. Call WriteFrame to encode
// raw video and send RTP packets.
type VideoTrack struct {
	id       string
	streamID string
	codec    codec.Type
	config   VideoTrackConfig
	log      *slog.Logger

	enc *encoder.Encoder
	pkt *packetizer.Packetizer

	// Bound state
	writer      webrtc.TrackLocalWriter
	codecParams webrtc.RTPCodecParameters
	ssrc        webrtc.SSRC
	samples     uint32 // RTP ticks per frame

	// Pre-allocated buffers for allocation-free encoding
	encBuf     []byte
	packetBuf  []byte
	packetInfo []packetizer.PacketInfo

	mu     sync.Mutex
	closed atomic.Bool
	bound  atomic.Bool
}

var _ webrtc.TrackLocal = (*VideoTrack)(nil)

// NewVideoTrack validates cfg and returns an unbound track.
func NewVideoTrack(cfg VideoTrackConfig) (*VideoTrack, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidConfig)
	}
	if cfg.Device == nil {
		return nil, fmt.Errorf("%w: no device", ErrInvalidConfig)
	}
	if err := cfg.Encoder.Params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.StreamID == "" {
		cfg.StreamID = cfg.ID
	}
	if cfg.MTU == 0 {
		cfg.MTU = packetizer.DefaultMTU
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	p := cfg.Encoder.Params
	return &VideoTrack{
		id:       cfg.ID,
		streamID: cfg.StreamID,
		codec:    p.Codec,
		config:   cfg,
		log:      log.With("component", "track", "track_id", cfg.ID),
		samples:  uint32(int64(p.Codec.ClockRate()) * int64(p.FrameRateDen) / int64(p.FrameRateNum)),
	}, nil
}

// ID returns the track ID.
func (t *VideoTrack) ID() string { return t.id }

// RID returns the RTP stream ID (empty for non-simulcast).
func (t *VideoTrack) RID() string { return "" }

// StreamID returns the stream ID.
func (t *VideoTrack) StreamID() string { return t.streamID }

// Kind returns webrtc.RTPCodecTypeVideo.
func (t *VideoTrack) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeVideo }

// Codec returns the negotiated codec parameters once bound.
func (t *VideoTrack) Codec() webrtc.RTPCodecParameters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.codecParams
}

// Bind is called by Pion when the track is added to a PeerConnection.
func (t *VideoTrack) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return t.bind(ctx.CodecParameters(), ctx.SSRC(), ctx.WriteStream())
}

func (t *VideoTrack) bind(offered []webrtc.RTPCodecParameters, ssrc webrtc.SSRC, w webrtc.TrackLocalWriter) (webrtc.RTPCodecParameters, error) {
	if t.closed.Load() {
		return webrtc.RTPCodecParameters{}, ErrTrackClosed
	}
	if t.bound.Load() {
		return webrtc.RTPCodecParameters{}, ErrAlreadyBound
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	selected := selectCodec(offered, t.codec)

	cfg := t.config.Encoder
	if cfg.Logger == nil {
		cfg.Logger = t.log
	}
	enc, err := encoder.New(t.config.Device, cfg)
	if err != nil {
		return webrtc.RTPCodecParameters{}, fmt.Errorf("%w: %w", ErrEncodeFailed, err)
	}

	pkt, err := packetizer.New(packetizer.Config{
		Codec:       t.codec,
		SSRC:        uint32(ssrc),
		PayloadType: uint8(selected.PayloadType),
		MTU:         t.config.MTU,
		ClockRate:   t.codec.ClockRate(),
	})
	if err != nil {
		_ = enc.Close()
		return webrtc.RTPCodecParameters{}, err
	}

	t.encBuf = make([]byte, enc.MaxEncodedSize())
	maxPackets := pkt.MaxPackets(enc.MaxEncodedSize())
	t.packetBuf = make([]byte, maxPackets*pkt.MaxPacketSize())
	t.packetInfo = make([]packetizer.PacketInfo, maxPackets)

	t.enc = enc
	t.pkt = pkt
	t.writer = w
	t.codecParams = selected
	t.ssrc = ssrc
	t.bound.Store(true)

	t.log.Info("track bound", "mime", selected.MimeType, "payload_type", selected.PayloadType, "ssrc", uint32(ssrc))
	return t.codecParams, nil
}

// selectCodec picks the first offered codec with our MIME type, or a bare
// capability when nothing was negotiated.
func selectCodec(offered []webrtc.RTPCodecParameters, c codec.Type) webrtc.RTPCodecParameters {
	for _, p := range offered {
		if p.MimeType == c.MimeType() {
			return p
		}
	}
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  c.MimeType(),
			ClockRate: c.ClockRate(),
		},
	}
}

// Unbind is called when the track is removed from the PeerConnection.
func (t *VideoTrack) Unbind(webrtc.TrackLocalContext) error {
	if !t.bound.CompareAndSwap(true, false) {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.release()
	return nil
}

func (t *VideoTrack) release() {
	if t.enc != nil {
		_ = t.enc.Close()
		t.enc = nil
	}
	if t.pkt != nil {
		_ = t.pkt.Close()
		t.pkt = nil
	}
	t.writer = nil
}

// WriteFrame encodes a video frame and writes its RTP packets. Frames the
// encoder buffers produce no packets until a later call.
func (t *VideoTrack) WriteFrame(f *frame.VideoFrame) error {
	if t.closed.Load() {
		return ErrTrackClosed
	}
	if !t.bound.Load() {
		return ErrNotBound
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.enc == nil || t.pkt == nil || t.writer == nil {
		return ErrNotBound
	}

	result, err := t.enc.EncodeInto(f, t.encBuf)
	if errors.Is(err, encoder.ErrNeedMoreData) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncodeFailed, err)
	}
	return t.writeLocked(t.encBuf[:result.N])
}

// WriteEncodedData writes an already encoded Annex B unit as RTP packets.
func (t *VideoTrack) WriteEncodedData(data []byte) error {
	if t.closed.Load() {
		return ErrTrackClosed
	}
	if !t.bound.Load() {
		return ErrNotBound
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pkt == nil || t.writer == nil {
		return ErrNotBound
	}
	return t.writeLocked(data)
}

func (t *VideoTrack) writeLocked(data []byte) error {
	n, err := t.pkt.PacketizeInto(data, t.samples, t.packetBuf, t.packetInfo)
	if err != nil {
		return err
	}
	for _, info := range t.packetInfo[:n] {
		if _, err := t.writer.Write(t.packetBuf[info.Offset : info.Offset+info.Size]); err != nil {
			return err
		}
	}
	return nil
}

// WriteRTP writes an already-formed RTP packet.
func (t *VideoTrack) WriteRTP(pkt *rtp.Packet) error {
	if t.closed.Load() {
		return ErrTrackClosed
	}
	if !t.bound.Load() {
		return ErrNotBound
	}

	t.mu.Lock()
	writer := t.writer
	t.mu.Unlock()

	if writer == nil {
		return ErrNotBound
	}
	_, err := writer.WriteRTP(&pkt.Header, pkt.Payload)
	return err
}

// Stats returns the encoder counters, or zero values when unbound.
func (t *VideoTrack) Stats() encoder.Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enc == nil {
		return encoder.Stats{}
	}
	return t.enc.Stats()
}

// Close releases all resources.
func (t *VideoTrack) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.release()
	t.bound.Store(false)
	return nil
}
