// Package frame provides raw video frame types and 4:2:0 pixel format conversion.
package frame

import "errors"

var (
	ErrUnsupportedFormat = errors.New("frame: unsupported pixel format")
	ErrBufferTooSmall    = errors.New("frame: buffer too small")
	ErrInvalidDimensions = errors.New("frame: invalid dimensions")
)

// PixelFormat represents the pixel format of a video frame.
type PixelFormat int

const (
	// PixelFormatI420 is YUV 4:2:0 planar with 8-bit samples.
	// Y plane followed by U plane followed by V plane.
	PixelFormatI420 PixelFormat = iota

	// PixelFormatI420P10 is YUV 4:2:0 planar with 10-bit samples stored
	// little-endian in the low bits of 16-bit words.
	PixelFormatI420P10

	// PixelFormatNV12 is YUV 4:2:0 semi-planar with 8-bit samples.
	// Y plane followed by interleaved UV plane.
	PixelFormatNV12

	// PixelFormatP010 is YUV 4:2:0 semi-planar with 16-bit little-endian words.
	PixelFormatP010
)

// String returns the string representation of the pixel format.
func (f PixelFormat) String() string {
	switch f {
	case PixelFormatI420:
		return "I420"
	case PixelFormatI420P10:
		return "I420P10"
	case PixelFormatNV12:
		return "NV12"
	case PixelFormatP010:
		return "P010"
	default:
		return "Unknown"
	}
}

// PlaneCount returns the number of planes the format carries.
func (f PixelFormat) PlaneCount() int {
	switch f {
	case PixelFormatI420, PixelFormatI420P10:
		return 3
	case PixelFormatNV12, PixelFormatP010:
		return 2
	default:
		return 0
	}
}

// BytesPerSample returns 1 for 8-bit formats and 2 for 16-bit storage.
func (f PixelFormat) BytesPerSample() int {
	switch f {
	case PixelFormatI420P10, PixelFormatP010:
		return 2
	case PixelFormatI420, PixelFormatNV12:
		return 1
	default:
		return 0
	}
}

// BitDepth returns the significant bits per sample.
func (f PixelFormat) BitDepth() int {
	switch f {
	case PixelFormatI420P10, PixelFormatP010:
		return 10
	case PixelFormatI420, PixelFormatNV12:
		return 8
	default:
		return 0
	}
}

// IsPlanar returns true for three-plane formats.
func (f PixelFormat) IsPlanar() bool {
	return f == PixelFormatI420 || f == PixelFormatI420P10
}

// IsSemiPlanar returns true for formats with an interleaved chroma plane.
func (f PixelFormat) IsSemiPlanar() bool {
	return f == PixelFormatNV12 || f == PixelFormatP010
}

// SemiPlanar returns the semi-planar counterpart of a planar format.
func (f PixelFormat) SemiPlanar() (PixelFormat, bool) {
	switch f {
	case PixelFormatI420:
		return PixelFormatNV12, true
	case PixelFormatI420P10:
		return PixelFormatP010, true
	default:
		return f, false
	}
}

// Planar returns the planar counterpart of a semi-planar format.
func (f PixelFormat) Planar() (PixelFormat, bool) {
	switch f {
	case PixelFormatNV12:
		return PixelFormatI420, true
	case PixelFormatP010:
		return PixelFormatI420P10, true
	default:
		return f, false
	}
}

// VideoFrame is a raw picture.
type VideoFrame struct {
	// Width of the frame in pixels.
	Width int

	// Height of the frame in pixels.
	Height int

	// Format specifies the pixel format.
	Format PixelFormat

	// Data contains the pixel data.
	// For I420/I420P10: [Y, U, V] planes
	// For NV12/P010: [Y, UV] planes
	Data [][]byte

	// Stride is the number of bytes per row for each plane.
	Stride []int

	// PTS is the presentation timestamp in stream clock units.
	PTS int64
}

// Clone creates a deep copy of the frame.
func (f *VideoFrame) Clone() *VideoFrame {
	clone := &VideoFrame{
		Width:  f.Width,
		Height: f.Height,
		Format: f.Format,
		PTS:    f.PTS,
		Data:   make([][]byte, len(f.Data)),
		Stride: make([]int, len(f.Stride)),
	}

	for i, plane := range f.Data {
		clone.Data[i] = make([]byte, len(plane))
		copy(clone.Data[i], plane)
	}
	copy(clone.Stride, f.Stride)

	return clone
}

// YPlane returns the luma plane.
func (f *VideoFrame) YPlane() []byte {
	if len(f.Data) > 0 {
		return f.Data[0]
	}
	return nil
}

// UPlane returns the U plane for planar formats.
func (f *VideoFrame) UPlane() []byte {
	if f.Format.IsPlanar() && len(f.Data) > 1 {
		return f.Data[1]
	}
	return nil
}

// VPlane returns the V plane for planar formats.
func (f *VideoFrame) VPlane() []byte {
	if f.Format.IsPlanar() && len(f.Data) > 2 {
		return f.Data[2]
	}
	return nil
}

// UVPlane returns the interleaved chroma plane for semi-planar formats.
func (f *VideoFrame) UVPlane() []byte {
	if f.Format.IsSemiPlanar() && len(f.Data) > 1 {
		return f.Data[1]
	}
	return nil
}

// PlanarSize returns the byte size of a tightly packed planar frame.
func PlanarSize(width, height int, format PixelFormat) int {
	bps := format.BytesPerSample()
	return (width*height + 2*((width/2)*(height/2))) * bps
}

// NewI420Frame creates a new 8-bit planar frame with allocated buffers.
func NewI420Frame(width, height int) *VideoFrame {
	return newPlanar(width, height, PixelFormatI420)
}

// NewI420P10Frame creates a new 10-bit planar frame with allocated buffers.
func NewI420P10Frame(width, height int) *VideoFrame {
	return newPlanar(width, height, PixelFormatI420P10)
}

// NewNV12Frame creates a new 8-bit semi-planar frame with allocated buffers.
func NewNV12Frame(width, height int) *VideoFrame {
	return newSemiPlanar(width, height, PixelFormatNV12)
}

// NewP010Frame creates a new 16-bit semi-planar frame with allocated buffers.
func NewP010Frame(width, height int) *VideoFrame {
	return newSemiPlanar(width, height, PixelFormatP010)
}

// NewFrame allocates a frame of any supported format.
func NewFrame(width, height int, format PixelFormat) (*VideoFrame, error) {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return nil, ErrInvalidDimensions
	}
	switch {
	case format.IsPlanar():
		return newPlanar(width, height, format), nil
	case format.IsSemiPlanar():
		return newSemiPlanar(width, height, format), nil
	default:
		return nil, ErrUnsupportedFormat
	}
}

func newPlanar(width, height int, format PixelFormat) *VideoFrame {
	bps := format.BytesPerSample()
	uvWidth := (width + 1) / 2
	uvHeight := (height + 1) / 2

	return &VideoFrame{
		Width:  width,
		Height: height,
		Format: format,
		Data: [][]byte{
			make([]byte, width*height*bps),
			make([]byte, uvWidth*uvHeight*bps),
			make([]byte, uvWidth*uvHeight*bps),
		},
		Stride: []int{width * bps, uvWidth * bps, uvWidth * bps},
	}
}

func newSemiPlanar(width, height int, format PixelFormat) *VideoFrame {
	bps := format.BytesPerSample()
	uvWidth := (width + 1) / 2
	uvHeight := (height + 1) / 2
	pitch := uvWidth * 2 * bps // UV pitch equals luma pitch for even widths

	return &VideoFrame{
		Width:  width,
		Height: height,
		Format: format,
		Data: [][]byte{
			make([]byte, width*height*bps),
			make([]byte, pitch*uvHeight),
		},
		Stride: []int{width * bps, pitch},
	}
}
