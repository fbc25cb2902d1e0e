package track

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/thesyncim/libgoqsv/internal/testutil"
	"github.com/thesyncim/libgoqsv/pkg/codec"
	"github.com/thesyncim/libgoqsv/pkg/encoder"
)

type recordingWriter struct {
	packets []*rtp.Packet
	headers []rtp.Header
}

func (w *recordingWriter) WriteRTP(h *rtp.Header, payload []byte) (int, error) {
	w.headers = append(w.headers, *h)
	return len(payload), nil
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(b); err != nil {
		return 0, err
	}
	w.packets = append(w.packets, &pkt)
	return len(b), nil
}

func testTrackConfig(opts testutil.Options) VideoTrackConfig {
	params := codec.DefaultVideoParams(codec.HEVC, 64, 48)
	enc := encoder.DefaultConfig(params)
	enc.BitstreamCapacity = 1024
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	enc.Logger = quiet
	return VideoTrackConfig{
		ID:      "video-0",
		Device:  testutil.NewAccelerator(opts),
		Encoder: enc,
		Logger:  quiet,
	}
}

var offered = []webrtc.RTPCodecParameters{
	{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000}, PayloadType: 102},
	{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH265, ClockRate: 90000}, PayloadType: 49},
}

func TestNewVideoTrackValidation(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*VideoTrackConfig)
	}{
		{"empty id", func(c *VideoTrackConfig) { c.ID = "" }},
		{"no device", func(c *VideoTrackConfig) { c.Device = nil }},
		{"bad params", func(c *VideoTrackConfig) { c.Encoder.Params.Width = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testTrackConfig(testutil.Options{})
			tt.mod(&cfg)
			if _, err := NewVideoTrack(cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("NewVideoTrack() error = %v, want %v", err, ErrInvalidConfig)
			}
		})
	}
}

func TestVideoTrackDefaults(t *testing.T) {
	vt, err := NewVideoTrack(testTrackConfig(testutil.Options{}))
	if err != nil {
		t.Fatalf("NewVideoTrack: %v", err)
	}
	if vt.StreamID() != "video-0" || vt.RID() != "" || vt.Kind() != webrtc.RTPCodecTypeVideo {
		t.Errorf("identity = %q %q %v", vt.StreamID(), vt.RID(), vt.Kind())
	}
	if vt.samples != 3000 {
		t.Errorf("samples per frame = %d, want 3000", vt.samples)
	}
}

func TestSelectCodec(t *testing.T) {
	if got := selectCodec(offered, codec.HEVC); got.PayloadType != 49 {
		t.Errorf("selectCodec(HEVC).PayloadType = %d, want 49", got.PayloadType)
	}
	got := selectCodec(nil, codec.AVC)
	if got.MimeType != webrtc.MimeTypeH264 || got.ClockRate != 90000 {
		t.Errorf("selectCodec(nil, AVC) = %+v", got.RTPCodecCapability)
	}
}

func TestWriteFrame(t *testing.T) {
	vt, err := NewVideoTrack(testTrackConfig(testutil.Options{}))
	if err != nil {
		t.Fatalf("NewVideoTrack: %v", err)
	}
	defer vt.Close()

	f := testutil.CreateSolidFrame(64, 48, 8, 20, 90, 160)
	if err := vt.WriteFrame(f); !errors.Is(err, ErrNotBound) {
		t.Errorf("WriteFrame before Bind error = %v, want %v", err, ErrNotBound)
	}

	w := &recordingWriter{}
	params, err := vt.bind(offered, 1234, w)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if params.PayloadType != 49 {
		t.Errorf("bound payload type = %d, want 49", params.PayloadType)
	}
	if _, err := vt.bind(offered, 1234, w); !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("second bind error = %v, want %v", err, ErrAlreadyBound)
	}

	for i := 0; i < 3; i++ {
		if err := vt.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame #%d: %v", i, err)
		}
	}
	if len(w.packets) < 3 {
		t.Fatalf("packets = %d, want at least 3", len(w.packets))
	}
	var markers int
	first := w.packets[0]
	for _, pkt := range w.packets {
		if pkt.SSRC != 1234 || pkt.PayloadType != 49 {
			t.Errorf("packet header = %+v", pkt.Header)
		}
		if pkt.Marker {
			markers++
		}
	}
	if markers != 3 {
		t.Errorf("marked packets = %d, want 3", markers)
	}
	last := w.packets[len(w.packets)-1]
	if got := last.Timestamp - first.Timestamp; got != 6000 {
		t.Errorf("timestamp span = %d, want 6000", got)
	}
	if s := vt.Stats(); s.Encoded != 3 {
		t.Errorf("Stats().Encoded = %d, want 3", s.Encoded)
	}
}

func TestWriteFrameBuffering(t *testing.T) {
	vt, err := NewVideoTrack(testTrackConfig(testutil.Options{EncodeDelay: 1}))
	if err != nil {
		t.Fatalf("NewVideoTrack: %v", err)
	}
	defer vt.Close()

	w := &recordingWriter{}
	if _, err := vt.bind(offered, 1, w); err != nil {
		t.Fatalf("bind: %v", err)
	}
	f := testutil.CreateSolidFrame(64, 48, 8, 1, 2, 3)
	if err := vt.WriteFrame(f); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if len(w.packets) != 0 {
		t.Errorf("packets = %d after buffered frame, want 0", len(w.packets))
	}
	if err := vt.WriteFrame(f); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if len(w.packets) == 0 {
		t.Error("no packets after the encoder released a unit")
	}
}

func TestWriteRTPAndClose(t *testing.T) {
	vt, err := NewVideoTrack(testTrackConfig(testutil.Options{}))
	if err != nil {
		t.Fatalf("NewVideoTrack: %v", err)
	}
	w := &recordingWriter{}
	if _, err := vt.bind(nil, 5, w); err != nil {
		t.Fatalf("bind: %v", err)
	}

	pkt := &rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: 9}, Payload: []byte{1}}
	if err := vt.WriteRTP(pkt); err != nil {
		t.Fatalf("WriteRTP: %v", err)
	}
	if len(w.headers) != 1 || w.headers[0].SequenceNumber != 9 {
		t.Errorf("headers = %+v", w.headers)
	}

	if err := vt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := vt.WriteEncodedData([]byte{0, 0, 0, 1, 2, 1, 3}); !errors.Is(err, ErrTrackClosed) {
		t.Errorf("WriteEncodedData after Close error = %v, want %v", err, ErrTrackClosed)
	}
	if _, err := vt.bind(nil, 5, w); !errors.Is(err, ErrTrackClosed) {
		t.Errorf("bind after Close error = %v, want %v", err, ErrTrackClosed)
	}
}

func TestSampleTrack(t *testing.T) {
	if _, err := NewSampleTrack(codec.None, "v", ""); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewSampleTrack(None) error = %v, want %v", err, ErrInvalidConfig)
	}
	if _, err := NewSampleTrack(codec.HEVC, "", ""); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewSampleTrack(no id) error = %v, want %v", err, ErrInvalidConfig)
	}

	st, err := NewSampleTrack(codec.HEVC, "video-1", "")
	if err != nil {
		t.Fatalf("NewSampleTrack: %v", err)
	}
	tr := st.Track()
	if tr.ID() != "video-1" || tr.StreamID() != "video-1" || tr.Kind() != webrtc.RTPCodecTypeVideo {
		t.Errorf("track = %q %q %v", tr.ID(), tr.StreamID(), tr.Kind())
	}
	if st.Codec() != codec.HEVC {
		t.Errorf("Codec() = %v, want HEVC", st.Codec())
	}
	unit := &encoder.CompressedUnit{Data: []byte{0, 0, 0, 1, 0x26, 0x01, 0xAA}}
	if err := st.WriteUnit(unit, 33*time.Millisecond); err != nil {
		t.Errorf("WriteUnit on unbound track: %v", err)
	}
	if err := st.WriteUnit(nil, 0); err != nil {
		t.Errorf("WriteUnit(nil): %v", err)
	}
}
