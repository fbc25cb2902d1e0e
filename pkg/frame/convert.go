package frame

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// Shift10Bit moves 10-bit samples between the low and high bits of a 16-bit word.
const Shift10Bit = 6

type sample interface {
	~uint8 | ~uint16
}

// SemiPlanarToPlanar splits a semi-planar picture into the planes of dst.
// pitch is the source row length in bytes for both the Y and UV planes.
// Every sample is shifted right by shift, which is 0 for 8-bit surfaces and
// Shift10Bit for MSB-aligned 10-bit surfaces. dst must be I420 or I420P10.
func SemiPlanarToPlanar(dst *VideoFrame, srcY, srcUV []byte, pitch int, shift uint) error {
	if dst == nil || !dst.Format.IsPlanar() {
		return ErrUnsupportedFormat
	}
	bps := dst.Format.BytesPerSample()
	if err := checkGeometry(dst, bps, shift); err != nil {
		return err
	}
	if err := checkSemiPlanar(srcY, srcUV, pitch, dst.Width, dst.Height, bps); err != nil {
		return err
	}
	w, h := dst.Width, dst.Height

	if bps == 1 {
		deinterleave(dst.Data[0], dst.Data[1], dst.Data[2],
			dst.Stride[0], dst.Stride[1], dst.Stride[2],
			srcY, srcUV, pitch, w, h, shift)
		return nil
	}
	dy, du, dv := samples16(dst.Data[0]), samples16(dst.Data[1]), samples16(dst.Data[2])
	deinterleave(dy, du, dv,
		dst.Stride[0]/2, dst.Stride[1]/2, dst.Stride[2]/2,
		samples16(srcY), samples16(srcUV), pitch/2, w, h, shift)
	store16(dst.Data[0], dy)
	store16(dst.Data[1], du)
	store16(dst.Data[2], dv)
	return nil
}

// PlanarToSemiPlanar interleaves the planes of src into dstY and dstUV.
// pitch is the destination row length in bytes. Every sample is shifted
// left by shift. src must be I420 or I420P10.
func PlanarToSemiPlanar(src *VideoFrame, dstY, dstUV []byte, pitch int, shift uint) error {
	if src == nil || !src.Format.IsPlanar() {
		return ErrUnsupportedFormat
	}
	bps := src.Format.BytesPerSample()
	if err := checkGeometry(src, bps, shift); err != nil {
		return err
	}
	if err := checkSemiPlanar(dstY, dstUV, pitch, src.Width, src.Height, bps); err != nil {
		return err
	}
	w, h := src.Width, src.Height

	if bps == 1 {
		interleave(dstY, dstUV, pitch,
			src.Data[0], src.Data[1], src.Data[2],
			src.Stride[0], src.Stride[1], src.Stride[2], w, h, shift)
		return nil
	}
	dy, duv := samples16(dstY), samples16(dstUV)
	interleave(dy, duv, pitch/2,
		samples16(src.Data[0]), samples16(src.Data[1]), samples16(src.Data[2]),
		src.Stride[0]/2, src.Stride[1]/2, src.Stride[2]/2, w, h, shift)
	store16(dstY, dy)
	store16(dstUV, duv)
	return nil
}

// ToPlanar converts a semi-planar frame into a planar one of the same depth.
func ToPlanar(dst, src *VideoFrame, shift uint) error {
	if src == nil || dst == nil {
		return ErrUnsupportedFormat
	}
	want, ok := src.Format.Planar()
	if !ok || dst.Format != want {
		return fmt.Errorf("%w: %v to %v", ErrUnsupportedFormat, src.Format, dst.Format)
	}
	if dst.Width != src.Width || dst.Height != src.Height {
		return ErrInvalidDimensions
	}
	if len(src.Data) < 2 || len(src.Stride) < 2 || src.Stride[0] != src.Stride[1] {
		return ErrBufferTooSmall
	}
	if err := SemiPlanarToPlanar(dst, src.Data[0], src.Data[1], src.Stride[0], shift); err != nil {
		return err
	}
	dst.PTS = src.PTS
	return nil
}

// ToSemiPlanar converts a planar frame into a semi-planar one of the same depth.
func ToSemiPlanar(dst, src *VideoFrame, shift uint) error {
	if src == nil || dst == nil {
		return ErrUnsupportedFormat
	}
	want, ok := src.Format.SemiPlanar()
	if !ok || dst.Format != want {
		return fmt.Errorf("%w: %v to %v", ErrUnsupportedFormat, src.Format, dst.Format)
	}
	if dst.Width != src.Width || dst.Height != src.Height {
		return ErrInvalidDimensions
	}
	if len(dst.Data) < 2 || len(dst.Stride) < 2 || dst.Stride[0] != dst.Stride[1] {
		return ErrBufferTooSmall
	}
	if err := PlanarToSemiPlanar(src, dst.Data[0], dst.Data[1], dst.Stride[0], shift); err != nil {
		return err
	}
	dst.PTS = src.PTS
	return nil
}

func checkGeometry(f *VideoFrame, bps int, shift uint) error {
	if f.Width <= 0 || f.Height <= 0 || f.Width%2 != 0 || f.Height%2 != 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, f.Width, f.Height)
	}
	if shift >= uint(8*bps) {
		return fmt.Errorf("%w: shift %d for %d-byte samples", ErrUnsupportedFormat, shift, bps)
	}
	if len(f.Data) < 3 || len(f.Stride) < 3 {
		return ErrBufferTooSmall
	}
	cw, ch := f.Width/2, f.Height/2
	if f.Stride[0] < f.Width*bps || f.Stride[1] < cw*bps || f.Stride[2] < cw*bps {
		return ErrBufferTooSmall
	}
	if f.Stride[0]%bps != 0 || f.Stride[1]%bps != 0 || f.Stride[2]%bps != 0 {
		return ErrBufferTooSmall
	}
	if len(f.Data[0]) < planeLen(f.Stride[0], f.Width*bps, f.Height) ||
		len(f.Data[1]) < planeLen(f.Stride[1], cw*bps, ch) ||
		len(f.Data[2]) < planeLen(f.Stride[2], cw*bps, ch) {
		return ErrBufferTooSmall
	}
	return nil
}

func checkSemiPlanar(y, uv []byte, pitch, width, height, bps int) error {
	if pitch < width*bps || pitch%bps != 0 {
		return fmt.Errorf("%w: pitch %d for width %d", ErrBufferTooSmall, pitch, width)
	}
	if len(y) < planeLen(pitch, width*bps, height) || len(uv) < planeLen(pitch, width*bps, height/2) {
		return ErrBufferTooSmall
	}
	return nil
}

// planeLen is the minimum length of a plane whose last row is not padded.
func planeLen(stride, rowBytes, rows int) int {
	if rows == 0 {
		return 0
	}
	return stride*(rows-1) + rowBytes
}

var littleEndianHost = binary.NativeEndian.Uint16([]byte{1, 0}) == 1

// samples16 returns the little-endian 16-bit words of b. On little-endian
// hosts the result aliases b; elsewhere it is a decoded copy that store16
// writes back.
func samples16(b []byte) []uint16 {
	if len(b) < 2 {
		return nil
	}
	if littleEndianHost {
		return unsafe.Slice((*uint16)(unsafe.Pointer(&b[0])), len(b)/2)
	}
	w := make([]uint16, len(b)/2)
	for i := range w {
		w[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	return w
}

// store16 writes words obtained from samples16(b) back into b.
func store16(b []byte, w []uint16) {
	if littleEndianHost {
		return
	}
	for i, v := range w {
		binary.LittleEndian.PutUint16(b[2*i:], v)
	}
}

// Strides and pitches below are in samples, not bytes.

func deinterleave[T sample](dstY, dstU, dstV []T, yStride, uStride, vStride int,
	srcY, srcUV []T, pitch, width, height int, shift uint) {
	for row := 0; row < height; row++ {
		s := srcY[row*pitch : row*pitch+width]
		d := dstY[row*yStride : row*yStride+width]
		if shift == 0 {
			copy(d, s)
			continue
		}
		for i, v := range s {
			d[i] = v >> shift
		}
	}

	cw, ch := width/2, height/2
	for row := 0; row < ch; row++ {
		s := srcUV[row*pitch : row*pitch+2*cw]
		u := dstU[row*uStride : row*uStride+cw]
		v := dstV[row*vStride : row*vStride+cw]
		for i := range u {
			u[i] = s[2*i] >> shift
			v[i] = s[2*i+1] >> shift
		}
	}
}

func interleave[T sample](dstY, dstUV []T, pitch int,
	srcY, srcU, srcV []T, yStride, uStride, vStride, width, height int, shift uint) {
	for row := 0; row < height; row++ {
		s := srcY[row*yStride : row*yStride+width]
		d := dstY[row*pitch : row*pitch+width]
		if shift == 0 {
			copy(d, s)
			continue
		}
		for i, v := range s {
			d[i] = v << shift
		}
	}

	cw, ch := width/2, height/2
	for row := 0; row < ch; row++ {
		u := srcU[row*uStride : row*uStride+cw]
		v := srcV[row*vStride : row*vStride+cw]
		d := dstUV[row*pitch : row*pitch+2*cw]
		for i := range u {
			d[2*i] = u[i] << shift
			d[2*i+1] = v[i] << shift
		}
	}
}
