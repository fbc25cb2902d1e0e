// Package accel defines the contract between the pipelines and a hardware
// codec accelerator.
//
// A Device is the caller-owned accelerator context (an opened render node).
// Pipelines borrow it to open one Session each and never close it.
// Sessions are not safe for concurrent use; each pipeline drives its session
// from a single goroutine.
package accel

import (
	"time"

	"github.com/thesyncim/libgoqsv/pkg/codec"
)

// FourCC identifies a surface memory layout.
type FourCC uint32

const (
	FourCCNone FourCC = 0
	FourCCNV12 FourCC = 'N' | 'V'<<8 | '1'<<16 | '2'<<24
	FourCCP010 FourCC = 'P' | '0'<<8 | '1'<<16 | '0'<<24
)

// String returns the four character code.
func (f FourCC) String() string {
	if f == FourCCNone {
		return "none"
	}
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}

// BytesPerSample returns the storage width of one sample.
func (f FourCC) BytesPerSample() int {
	switch f {
	case FourCCNV12:
		return 1
	case FourCCP010:
		return 2
	default:
		return 0
	}
}

// FourCCForDepth returns the semi-planar layout used for the bit depth.
func FourCCForDepth(bitDepth int) FourCC {
	if bitDepth > 8 {
		return FourCCP010
	}
	return FourCCNV12
}

// PicStruct describes field layout.
type PicStruct uint16

const (
	PicStructUnknown     PicStruct = 0x00
	PicStructProgressive PicStruct = 0x01
)

// IOPattern selects where surface memory lives.
type IOPattern uint16

const (
	IOPatternInSystemMemory  IOPattern = 0x02
	IOPatternOutSystemMemory IOPattern = 0x20
)

// TargetUsage trades quality for speed (1 best quality, 7 best speed).
type TargetUsage uint16

const (
	TargetUsageBestQuality TargetUsage = 1
	TargetUsageBalanced    TargetUsage = 4
	TargetUsageBestSpeed   TargetUsage = 7
)

// RateControlMethod selects the encoder rate control.
type RateControlMethod uint16

const (
	RateControlCBR RateControlMethod = 1
	RateControlVBR RateControlMethod = 2
	RateControlCQP RateControlMethod = 3
)

// FrameInfo describes surface geometry and layout.
type FrameInfo struct {
	FourCC     FourCC
	Width      int // Allocated width, aligned
	Height     int // Allocated height, aligned
	CropW      int // Visible width
	CropH      int // Visible height
	BitDepth   int
	Shift      bool // Samples are MSB-aligned in 16-bit words
	FrameRateN int
	FrameRateD int
	PicStruct  PicStruct
}

// VisibleSize returns the crop rectangle, falling back to the allocated size.
func (fi FrameInfo) VisibleSize() (int, int) {
	w, h := fi.CropW, fi.CropH
	if w <= 0 || h <= 0 {
		w, h = fi.Width, fi.Height
	}
	return w, h
}

// VideoParam is the parameter block negotiated with the accelerator.
type VideoParam struct {
	Codec       codec.Type
	Frame       FrameInfo
	AsyncDepth  int
	IOPattern   IOPattern
	TargetUsage TargetUsage
	RateControl RateControlMethod
	TargetKbps  int
	MaxKbps     int
	BufferKB    int
	GopPicSize  int
	GopRefDist  int
	IdrInterval int
}

// SyncPoint is an opaque completion token. Zero means no pending work.
type SyncPoint uint64

// Device is an opened accelerator context.
type Device interface {
	// NewSession creates a codec session bound to this device.
	NewSession(kind codec.Type) (Session, error)
}

// Session is one accelerator codec session.
type Session interface {
	// DecodeHeader parses stream headers from bs without consuming it.
	// StatusMoreData means the headers are not complete yet.
	DecodeHeader(bs *Bitstream) (VideoParam, Status)

	// InitDecoder starts decoding with params from DecodeHeader.
	InitDecoder(params *VideoParam) Status

	// QueryDecodeSurfaces returns the suggested working surface count.
	QueryDecodeSurfaces(params *VideoParam) (int, Status)

	// DecodeFrameAsync submits bs and a free work surface. A nil bs drains
	// pictures the decoder still holds. The accelerator advances bs.Offset and
	// bs.Length by the bytes it consumed. When a picture is ready, out is one of
	// the surfaces previously passed as work and sp identifies its completion.
	DecodeFrameAsync(bs *Bitstream, work *Surface) (out *Surface, sp SyncPoint, st Status)

	// InitEncoder starts encoding and returns the params actually applied.
	InitEncoder(params *VideoParam) (VideoParam, Status)

	// QueryEncodeSurfaces returns the suggested input surface count.
	QueryEncodeSurfaces(params *VideoParam) (int, Status)

	// EncodeFrameAsync submits surf for encoding into bs. A nil surf drains
	// pictures the encoder still holds.
	EncodeFrameAsync(surf *Surface, bs *Bitstream) (sp SyncPoint, st Status)

	// SyncOperation waits up to wait for sp to complete.
	// StatusInExecution means the work is still running.
	SyncOperation(sp SyncPoint, wait time.Duration) Status

	// Close releases the session.
	Close() error
}
