package ffi

import (
	"github.com/thesyncim/libgoqsv/pkg/accel"
	"github.com/thesyncim/libgoqsv/pkg/codec"
)

// Codec identifiers of the media runtime.
const (
	codecIDAVC  uint32 = 'A' | 'V'<<8 | 'C'<<16 | ' '<<24
	codecIDHEVC uint32 = 'H' | 'E'<<8 | 'V'<<16 | 'C'<<24
)

// Frame type bits reported in encoded bitstreams.
const (
	frameTypeI   = 0x0001
	frameTypeP   = 0x0002
	frameTypeB   = 0x0004
	frameTypeIDR = 0x0080
)

// shimFrameInfo matches QsvFrameInfo in qsv_shim.h.
type shimFrameInfo struct {
	FourCC     uint32
	Width      int32
	Height     int32
	CropW      int32
	CropH      int32
	BitDepth   int32
	Shift      int32
	FrameRateN uint32
	FrameRateD uint32
	PicStruct  int32
}

// shimVideoParam matches QsvVideoParam in qsv_shim.h.
type shimVideoParam struct {
	Codec       uint32
	Frame       shimFrameInfo
	AsyncDepth  int32
	IOPattern   int32
	TargetUsage int32
	RateControl int32
	TargetKbps  int32
	MaxKbps     int32
	BufferKB    int32
	GopPicSize  int32
	GopRefDist  int32
	IdrInterval int32
}

// shimSurface matches QsvSurface in qsv_shim.h. Locked is written by the
// runtime while the surface is referenced.
type shimSurface struct {
	Info     shimFrameInfo
	Y        uintptr
	UV       uintptr
	Pitch    int32
	Locked   int32
	PTS      int64
	PTSValid int32
	ID       int32
}

// shimBitstream matches QsvBitstream in qsv_shim.h.
type shimBitstream struct {
	Data      uintptr
	Offset    uint32
	Length    uint32
	MaxLength uint32
	FrameType uint32
	PTS       int64
	DTS       int64
}

func codecID(c codec.Type) (uint32, bool) {
	switch c {
	case codec.AVC:
		return codecIDAVC, true
	case codec.HEVC:
		return codecIDHEVC, true
	default:
		return 0, false
	}
}

func codecFromID(id uint32) codec.Type {
	switch id {
	case codecIDAVC:
		return codec.AVC
	case codecIDHEVC:
		return codec.HEVC
	default:
		return codec.None
	}
}

func frameTypeFromBits(bits uint32) codec.FrameType {
	switch {
	case bits&frameTypeIDR != 0:
		return codec.FrameIDR
	case bits&frameTypeI != 0:
		return codec.FrameI
	case bits&frameTypeP != 0:
		return codec.FrameP
	case bits&frameTypeB != 0:
		return codec.FrameB
	default:
		return codec.FrameUnknown
	}
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func toShimFrameInfo(fi accel.FrameInfo) shimFrameInfo {
	return shimFrameInfo{
		FourCC:     uint32(fi.FourCC),
		Width:      int32(fi.Width),
		Height:     int32(fi.Height),
		CropW:      int32(fi.CropW),
		CropH:      int32(fi.CropH),
		BitDepth:   int32(fi.BitDepth),
		Shift:      boolInt(fi.Shift),
		FrameRateN: uint32(fi.FrameRateN),
		FrameRateD: uint32(fi.FrameRateD),
		PicStruct:  int32(fi.PicStruct),
	}
}

func fromShimFrameInfo(fi shimFrameInfo) accel.FrameInfo {
	return accel.FrameInfo{
		FourCC:     accel.FourCC(fi.FourCC),
		Width:      int(fi.Width),
		Height:     int(fi.Height),
		CropW:      int(fi.CropW),
		CropH:      int(fi.CropH),
		BitDepth:   int(fi.BitDepth),
		Shift:      fi.Shift != 0,
		FrameRateN: int(fi.FrameRateN),
		FrameRateD: int(fi.FrameRateD),
		PicStruct:  accel.PicStruct(fi.PicStruct),
	}
}

func toShimParam(p *accel.VideoParam) shimVideoParam {
	id, _ := codecID(p.Codec)
	return shimVideoParam{
		Codec:       id,
		Frame:       toShimFrameInfo(p.Frame),
		AsyncDepth:  int32(p.AsyncDepth),
		IOPattern:   int32(p.IOPattern),
		TargetUsage: int32(p.TargetUsage),
		RateControl: int32(p.RateControl),
		TargetKbps:  int32(p.TargetKbps),
		MaxKbps:     int32(p.MaxKbps),
		BufferKB:    int32(p.BufferKB),
		GopPicSize:  int32(p.GopPicSize),
		GopRefDist:  int32(p.GopRefDist),
		IdrInterval: int32(p.IdrInterval),
	}
}

func fromShimParam(p shimVideoParam) accel.VideoParam {
	return accel.VideoParam{
		Codec:       codecFromID(p.Codec),
		Frame:       fromShimFrameInfo(p.Frame),
		AsyncDepth:  int(p.AsyncDepth),
		IOPattern:   accel.IOPattern(p.IOPattern),
		TargetUsage: accel.TargetUsage(p.TargetUsage),
		RateControl: accel.RateControlMethod(p.RateControl),
		TargetKbps:  int(p.TargetKbps),
		MaxKbps:     int(p.MaxKbps),
		BufferKB:    int(p.BufferKB),
		GopPicSize:  int(p.GopPicSize),
		GopRefDist:  int(p.GopRefDist),
		IdrInterval: int(p.IdrInterval),
	}
}
