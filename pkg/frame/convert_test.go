package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
)

func fillPlanar8(f *VideoFrame) {
	for i := range f.Data[0] {
		f.Data[0][i] = byte(i * 7)
	}
	for i := range f.Data[1] {
		f.Data[1][i] = byte(i*3 + 1)
		f.Data[2][i] = byte(255 - i)
	}
}

func fillPlanar10(f *VideoFrame) {
	for p := 0; p < 3; p++ {
		plane := f.Data[p]
		for i := 0; i < len(plane)/2; i++ {
			binary.LittleEndian.PutUint16(plane[2*i:], uint16((i*37+p*101)%1024))
		}
	}
}

func TestSemiPlanarToPlanarNV12(t *testing.T) {
	const w, h, pitch = 4, 2, 8

	// Y rows padded to the pitch, UV interleaved U0 V0 U1 V1.
	y := []byte{
		1, 2, 3, 4, 0xEE, 0xEE, 0xEE, 0xEE,
		5, 6, 7, 8, 0xEE, 0xEE, 0xEE, 0xEE,
	}
	uv := []byte{10, 20, 11, 21, 0xEE, 0xEE, 0xEE, 0xEE}

	dst := NewI420Frame(w, h)
	if err := SemiPlanarToPlanar(dst, y, uv, pitch, 0); err != nil {
		t.Fatalf("SemiPlanarToPlanar: %v", err)
	}

	wantY := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	for i, v := range wantY {
		if dst.Data[0][i] != v {
			t.Errorf("Y[%d] = %d, want %d", i, dst.Data[0][i], v)
		}
	}
	if dst.Data[1][0] != 10 || dst.Data[1][1] != 11 {
		t.Errorf("U = %v, want [10 11]", dst.Data[1])
	}
	if dst.Data[2][0] != 20 || dst.Data[2][1] != 21 {
		t.Errorf("V = %v, want [20 21]", dst.Data[2])
	}
}

func TestSemiPlanarToPlanarP010Shift(t *testing.T) {
	const w, h = 2, 2
	pitch := w * 2

	y := make([]byte, pitch*h)
	uv := make([]byte, pitch*h/2)
	for i, v := range []uint16{1023, 512, 1, 0} {
		binary.LittleEndian.PutUint16(y[2*i:], v<<Shift10Bit)
	}
	binary.LittleEndian.PutUint16(uv[0:], 300<<Shift10Bit)
	binary.LittleEndian.PutUint16(uv[2:], 700<<Shift10Bit)

	dst := NewI420P10Frame(w, h)
	if err := SemiPlanarToPlanar(dst, y, uv, pitch, Shift10Bit); err != nil {
		t.Fatalf("SemiPlanarToPlanar: %v", err)
	}

	for i, want := range []uint16{1023, 512, 1, 0} {
		if got := binary.LittleEndian.Uint16(dst.Data[0][2*i:]); got != want {
			t.Errorf("Y[%d] = %d, want %d", i, got, want)
		}
	}
	if got := binary.LittleEndian.Uint16(dst.Data[1]); got != 300 {
		t.Errorf("U[0] = %d, want 300", got)
	}
	if got := binary.LittleEndian.Uint16(dst.Data[2]); got != 700 {
		t.Errorf("V[0] = %d, want 700", got)
	}
}

func TestRoundTrip8Bit(t *testing.T) {
	sizes := []struct{ w, h int }{{2, 2}, {16, 8}, {64, 36}, {320, 240}}
	for _, sz := range sizes {
		src := NewI420Frame(sz.w, sz.h)
		fillPlanar8(src)

		// Padded destination pitch exercises the stride paths.
		pitch := sz.w + 32
		y := make([]byte, pitch*sz.h)
		uv := make([]byte, pitch*sz.h/2)
		if err := PlanarToSemiPlanar(src, y, uv, pitch, 0); err != nil {
			t.Fatalf("%dx%d PlanarToSemiPlanar: %v", sz.w, sz.h, err)
		}

		back := NewI420Frame(sz.w, sz.h)
		if err := SemiPlanarToPlanar(back, y, uv, pitch, 0); err != nil {
			t.Fatalf("%dx%d SemiPlanarToPlanar: %v", sz.w, sz.h, err)
		}
		for p := 0; p < 3; p++ {
			if string(back.Data[p]) != string(src.Data[p]) {
				t.Errorf("%dx%d plane %d differs after round trip", sz.w, sz.h, p)
			}
		}
	}
}

func TestRoundTrip10Bit(t *testing.T) {
	for _, shift := range []uint{0, Shift10Bit} {
		src := NewI420P10Frame(32, 16)
		fillPlanar10(src)

		sp := NewP010Frame(32, 16)
		if err := ToSemiPlanar(sp, src, shift); err != nil {
			t.Fatalf("shift %d ToSemiPlanar: %v", shift, err)
		}
		if shift != 0 {
			msb := binary.LittleEndian.Uint16(sp.Data[0][2:])
			if msb&(1<<Shift10Bit-1) != 0 {
				t.Errorf("shift %d: low bits set in %#x", shift, msb)
			}
		}

		back := NewI420P10Frame(32, 16)
		if err := ToPlanar(back, sp, shift); err != nil {
			t.Fatalf("shift %d ToPlanar: %v", shift, err)
		}
		for p := 0; p < 3; p++ {
			if string(back.Data[p]) != string(src.Data[p]) {
				t.Errorf("shift %d plane %d differs after round trip", shift, p)
			}
		}
	}
}

func TestConvertErrors(t *testing.T) {
	i420 := NewI420Frame(16, 16)
	nv12 := NewNV12Frame(16, 16)
	p010 := NewP010Frame(16, 16)

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"semi-planar destination", SemiPlanarToPlanar(nv12, nv12.Data[0], nv12.Data[1], 16, 0), ErrUnsupportedFormat},
		{"short uv plane", SemiPlanarToPlanar(i420, nv12.Data[0], nv12.Data[1][:10], 16, 0), ErrBufferTooSmall},
		{"pitch below width", SemiPlanarToPlanar(i420, nv12.Data[0], nv12.Data[1], 8, 0), ErrBufferTooSmall},
		{"shift too wide", SemiPlanarToPlanar(i420, nv12.Data[0], nv12.Data[1], 16, 8), ErrUnsupportedFormat},
		{"depth mismatch", ToSemiPlanar(p010, i420, 0), ErrUnsupportedFormat},
		{"size mismatch", ToSemiPlanar(NewNV12Frame(32, 16), i420, 0), ErrInvalidDimensions},
		{"planar source required", PlanarToSemiPlanar(nv12, nv12.Data[0], nv12.Data[1], 16, 0), ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("err = %v, want %v", tt.err, tt.want)
			}
		})
	}

	odd := &VideoFrame{Width: 3, Height: 2, Format: PixelFormatI420,
		Data: [][]byte{make([]byte, 6), make([]byte, 2), make([]byte, 2)}, Stride: []int{3, 2, 2}}
	if err := SemiPlanarToPlanar(odd, make([]byte, 8), make([]byte, 4), 4, 0); !errors.Is(err, ErrInvalidDimensions) {
		t.Errorf("odd width: err = %v, want %v", err, ErrInvalidDimensions)
	}
}

func BenchmarkSemiPlanarToPlanar1080p(b *testing.B) {
	src := NewNV12Frame(1920, 1080)
	dst := NewI420Frame(1920, 1080)
	b.SetBytes(int64(len(src.Data[0]) + len(src.Data[1])))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = SemiPlanarToPlanar(dst, src.Data[0], src.Data[1], src.Stride[0], 0)
	}
}

func solidPlanar(w, h, depth int, y, u, v uint16) *VideoFrame {
	f := NewI420Frame(w, h)
	if depth > 8 {
		f = NewI420P10Frame(w, h)
	}
	for p, val := range []uint16{y, u, v} {
		for i := 0; i < len(f.Data[p])/f.Format.BytesPerSample(); i++ {
			putSample(f.Data[p], depth, i, val)
		}
	}
	return f
}

func putSample(plane []byte, depth, i int, v uint16) {
	if depth > 8 {
		binary.LittleEndian.PutUint16(plane[2*i:], v)
		return
	}
	plane[i] = byte(v)
}

func getSample(plane []byte, depth, i int) uint16 {
	if depth > 8 {
		return binary.LittleEndian.Uint16(plane[2*i:])
	}
	return uint16(plane[i])
}

func TestScale(t *testing.T) {
	for _, depth := range []int{8, 10} {
		t.Run(fmt.Sprintf("%d-bit", depth), func(t *testing.T) {
			src := solidPlanar(64, 48, depth, 100, 60, 200)
			src.PTS = 7
			for row := 0; row < 48; row++ {
				putSample(src.Data[0], depth, row*64, 200)
			}

			dst := solidPlanar(32, 24, depth, 0, 0, 0)
			if err := Scale(dst, src); err != nil {
				t.Fatalf("Scale: %v", err)
			}
			if dst.PTS != 7 {
				t.Errorf("PTS = %d, want 7", dst.PTS)
			}
			if got := getSample(dst.Data[0], depth, 0); got != 150 {
				t.Errorf("Y[0] = %d, want box average 150", got)
			}
			if got := getSample(dst.Data[0], depth, 1); got != 100 {
				t.Errorf("Y[1] = %d, want 100", got)
			}
			if got := getSample(dst.Data[1], depth, 5); got != 60 {
				t.Errorf("U = %d, want 60", got)
			}
			if got := getSample(dst.Data[2], depth, 5); got != 200 {
				t.Errorf("V = %d, want 200", got)
			}
		})
	}
}

func TestScaleUpAndErrors(t *testing.T) {
	src := solidPlanar(16, 16, 8, 42, 43, 44)
	dst := NewI420Frame(48, 32)
	if err := Scale(dst, src); err != nil {
		t.Fatalf("Scale: %v", err)
	}
	for i := range dst.Data[0] {
		if dst.Data[0][i] != 42 {
			t.Fatalf("Y[%d] = %d, want 42", i, dst.Data[0][i])
		}
	}
	for i := range dst.Data[2] {
		if dst.Data[2][i] != 44 {
			t.Fatalf("V[%d] = %d, want 44", i, dst.Data[2][i])
		}
	}

	if err := Scale(NewNV12Frame(16, 16), src); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Scale(NV12) error = %v, want %v", err, ErrUnsupportedFormat)
	}
}

func TestSamples16LittleEndian(t *testing.T) {
	b := []byte{0x34, 0x12, 0xff, 0x03}
	w := samples16(b)
	if len(w) != 2 || w[0] != 0x1234 || w[1] != 0x03ff {
		t.Fatalf("samples16 = %#x, want [0x1234 0x3ff]", w)
	}

	w[0] = 0xabcd
	store16(b, w)
	if b[0] != 0xcd || b[1] != 0xab {
		t.Errorf("bytes after store16 = %#x, want cd ab", b[:2])
	}
}
