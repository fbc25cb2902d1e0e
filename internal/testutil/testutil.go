// Package testutil provides shared test utilities for libgoqsv tests.
package testutil

import (
	"encoding/binary"

	"github.com/thesyncim/libgoqsv/pkg/frame"
)

// CreateTestVideoFrame creates an I420 video frame with a gradient pattern.
// The pattern allows visual verification and is recognizable when decoded.
func CreateTestVideoFrame(width, height int) *frame.VideoFrame {
	f := frame.NewI420Frame(width, height)

	for i := range f.Data[0] {
		y := i / width
		x := i % width
		f.Data[0][i] = byte((x + y) % 256)
	}
	for i := range f.Data[1] {
		f.Data[1][i] = 128
		f.Data[2][i] = 128
	}

	return f
}

// CreateSolidFrame creates a planar frame with every sample of each plane
// set to y, u and v. 10-bit depths use little-endian 16-bit samples.
func CreateSolidFrame(width, height, bitDepth int, y, u, v uint16) *frame.VideoFrame {
	var f *frame.VideoFrame
	if bitDepth > 8 {
		f = frame.NewI420P10Frame(width, height)
	} else {
		f = frame.NewI420Frame(width, height)
	}
	fillPlane(f.Data[0], bitDepth, y)
	fillPlane(f.Data[1], bitDepth, u)
	fillPlane(f.Data[2], bitDepth, v)
	return f
}

// CreateSolidSemiPlanarFrame is CreateSolidFrame for NV12/P010.
// P010 samples are stored as given, without shifting.
func CreateSolidSemiPlanarFrame(width, height, bitDepth int, y, u, v uint16) *frame.VideoFrame {
	var f *frame.VideoFrame
	if bitDepth > 8 {
		f = frame.NewP010Frame(width, height)
	} else {
		f = frame.NewNV12Frame(width, height)
	}
	fillPlane(f.Data[0], bitDepth, y)
	bps := f.Format.BytesPerSample()
	uv := f.Data[1]
	for i := 0; i+2*bps <= len(uv); i += 2 * bps {
		putSample(uv[i:], bitDepth, u)
		putSample(uv[i+bps:], bitDepth, v)
	}
	return f
}

// PlaneSample returns sample i of a plane.
func PlaneSample(plane []byte, bitDepth, i int) uint16 {
	if bitDepth > 8 {
		return binary.LittleEndian.Uint16(plane[2*i:])
	}
	return uint16(plane[i])
}

// UniformPlane reports whether every sample of plane equals want.
func UniformPlane(plane []byte, bitDepth int, want uint16) bool {
	bps := 1
	if bitDepth > 8 {
		bps = 2
	}
	for i := 0; i < len(plane)/bps; i++ {
		if PlaneSample(plane, bitDepth, i) != want {
			return false
		}
	}
	return true
}

func fillPlane(plane []byte, bitDepth int, v uint16) {
	if bitDepth > 8 {
		for i := 0; i+2 <= len(plane); i += 2 {
			binary.LittleEndian.PutUint16(plane[i:], v)
		}
		return
	}
	for i := range plane {
		plane[i] = byte(v)
	}
}

func putSample(b []byte, bitDepth int, v uint16) {
	if bitDepth > 8 {
		binary.LittleEndian.PutUint16(b, v)
		return
	}
	b[0] = byte(v)
}
