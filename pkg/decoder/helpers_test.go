package decoder

import (
	"io"
	"log/slog"
	"testing"

	"github.com/thesyncim/libgoqsv/internal/retry"
	"github.com/thesyncim/libgoqsv/internal/testutil"
	"github.com/thesyncim/libgoqsv/pkg/codec"
	"github.com/thesyncim/libgoqsv/pkg/frame"
)

const (
	testWidth  = 64
	testHeight = 48
)

type gotFrame struct {
	pts     int64
	format  frame.PixelFormat
	w, h    int
	y, u, v uint16
	uniform bool
}

type recorder struct {
	frames []gotFrame
}

func (r *recorder) callback() FrameCallback {
	return func(f *frame.VideoFrame) {
		depth := f.Format.BitDepth()
		y := testutil.PlaneSample(f.Data[0], depth, 0)
		u := testutil.PlaneSample(f.Data[1], depth, 0)
		v := testutil.PlaneSample(f.Data[2], depth, 0)
		r.frames = append(r.frames, gotFrame{
			pts:    f.PTS,
			format: f.Format,
			w:      f.Width,
			h:      f.Height,
			y:      y, u: u, v: v,
			uniform: testutil.UniformPlane(f.Data[0], depth, y) &&
				testutil.UniformPlane(f.Data[1], depth, u) &&
				testutil.UniformPlane(f.Data[2], depth, v),
		})
	}
}

func (r *recorder) pts() []int64 {
	out := make([]int64, len(r.frames))
	for i, f := range r.frames {
		out[i] = f.pts
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig(codec.HEVC)
	cfg.InputBufferSize = 64
	cfg.BusyRetry = retry.Policy{MaxAttempts: 100}
	cfg.Logger = quietLogger()
	return cfg
}

func newTestDecoder(t *testing.T, opts testutil.Options, mod func(*Config)) (*Decoder, *testutil.Accelerator, *recorder) {
	t.Helper()

	dev := testutil.NewAccelerator(opts)
	cfg := testConfig()
	if mod != nil {
		mod(&cfg)
	}
	dec, err := New(dev, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = dec.Close() })

	rec := &recorder{}
	dec.SetFrameCallback(rec.callback())
	return dec, dev, rec
}

type submission struct {
	data []byte
	pts  int64
}

// packets returns one submission per picture; the first also carries the header.
func packets(depth int, pics ...testutil.Picture) []submission {
	hdr := testutil.StreamHeader{Width: testWidth, Height: testHeight, BitDepth: depth}
	var out []submission
	for i, p := range pics {
		data := p.Marshal()
		if i == 0 {
			data = append(hdr.Marshal(), data...)
		}
		out = append(out, submission{data: data, pts: int64(p.Order) * 3000})
	}
	return out
}

func submitAll(t *testing.T, dec *Decoder, subs []submission) {
	t.Helper()
	for i, s := range subs {
		if err := dec.SubmitInput(s.data, s.pts); err != nil {
			t.Fatalf("SubmitInput #%d: %v", i, err)
		}
	}
}

func sequential(n int) []testutil.Picture {
	pics := make([]testutil.Picture, n)
	for i := range pics {
		pics[i] = testutil.Picture{Type: codec.FrameP, Order: i, Y: uint16(16 + i), U: uint16(100 + i), V: uint16(200 - i)}
	}
	pics[0].Type = codec.FrameIDR
	return pics
}
