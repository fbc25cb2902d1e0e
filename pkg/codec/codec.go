// Package codec defines codec kinds and stream parameters for libgoqsv.
package codec

import (
	"errors"
	"fmt"
	"time"
)

// Type represents a compressed video codec kind.
type Type int

const (
	None Type = iota
	AVC       // H.264
	HEVC      // H.265
)

var (
	ErrInvalidParams    = errors.New("codec: invalid video params")
	ErrUnsupportedCodec = errors.New("codec: unsupported codec")
)

// String returns the string representation of the codec type.
func (t Type) String() string {
	switch t {
	case AVC:
		return "AVC"
	case HEVC:
		return "HEVC"
	default:
		return "Unknown"
	}
}

// MimeType returns the RTP/WebRTC MIME type for the codec.
func (t Type) MimeType() string {
	switch t {
	case AVC:
		return "video/H264"
	case HEVC:
		return "video/H265"
	default:
		return ""
	}
}

// ClockRate returns the RTP clock rate for the codec.
func (t Type) ClockRate() uint32 {
	switch t {
	case AVC, HEVC:
		return 90000
	default:
		return 0
	}
}

// Valid reports whether t names a supported codec.
func (t Type) Valid() bool {
	return t == AVC || t == HEVC
}

// FrameType classifies an encoded picture.
type FrameType int

const (
	FrameUnknown FrameType = iota
	FrameI
	FrameP
	FrameB
	FrameIDR
)

// String returns the string representation of the frame type.
func (f FrameType) String() string {
	switch f {
	case FrameI:
		return "I"
	case FrameP:
		return "P"
	case FrameB:
		return "B"
	case FrameIDR:
		return "IDR"
	default:
		return "unknown"
	}
}

// IsKeyframe returns true for pictures a decoder can start from.
func (f FrameType) IsKeyframe() bool {
	return f == FrameI || f == FrameIDR
}

// VideoParams describes an encode session.
type VideoParams struct {
	Codec        Type
	Width        int
	Height       int
	FrameRateNum int
	FrameRateDen int
	GOPSize      int // Pictures per GOP (0 = accelerator default)
	BFrames      int // Reference distance; 0 disables B-frames
	BitrateKbps  int // Target bitrate
	BitDepth     int // 8 or 10
}

// DefaultVideoParams returns params for an 8-bit, 30 fps stream without B-frames.
func DefaultVideoParams(codec Type, width, height int) VideoParams {
	return VideoParams{
		Codec:        codec,
		Width:        width,
		Height:       height,
		FrameRateNum: 30,
		FrameRateDen: 1,
		GOPSize:      60,
		BitrateKbps:  EstimateBitrateKbps(width, height),
		BitDepth:     8,
	}
}

// EstimateBitrateKbps picks a target bitrate from the picture area.
func EstimateBitrateKbps(width, height int) int {
	pixels := width * height
	switch {
	case pixels >= 3840*2160:
		return 16000
	case pixels >= 1920*1080:
		return 4000
	case pixels >= 1280*720:
		return 2500
	case pixels >= 640*480:
		return 1000
	default:
		return 500
	}
}

// Validate checks the params for an encode session.
func (p VideoParams) Validate() error {
	if !p.Codec.Valid() {
		return fmt.Errorf("%w: %v", ErrUnsupportedCodec, p.Codec)
	}
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidParams, p.Width, p.Height)
	}
	if p.Width%2 != 0 || p.Height%2 != 0 {
		return fmt.Errorf("%w: 4:2:0 needs even size, got %dx%d", ErrInvalidParams, p.Width, p.Height)
	}
	if p.FrameRateNum <= 0 || p.FrameRateDen <= 0 {
		return fmt.Errorf("%w: frame rate %d/%d", ErrInvalidParams, p.FrameRateNum, p.FrameRateDen)
	}
	if p.BitrateKbps <= 0 {
		return fmt.Errorf("%w: bitrate %d", ErrInvalidParams, p.BitrateKbps)
	}
	if p.BitDepth != 8 && p.BitDepth != 10 {
		return fmt.Errorf("%w: bit depth %d", ErrInvalidParams, p.BitDepth)
	}
	if p.GOPSize < 0 || p.BFrames < 0 {
		return fmt.Errorf("%w: gop %d bframes %d", ErrInvalidParams, p.GOPSize, p.BFrames)
	}
	return nil
}

// FrameRate returns the frame rate as a float.
func (p VideoParams) FrameRate() float64 {
	if p.FrameRateDen == 0 {
		return 0
	}
	return float64(p.FrameRateNum) / float64(p.FrameRateDen)
}

// FrameDuration returns the display time of one frame.
func (p VideoParams) FrameDuration() time.Duration {
	if p.FrameRateNum <= 0 || p.FrameRateDen <= 0 {
		return 0
	}
	return time.Duration(int64(time.Second) * int64(p.FrameRateDen) / int64(p.FrameRateNum))
}

// RateControl returns the VBR settings for the target bitrate.
// The peak is twice the target and the HRD buffer holds two seconds at target rate.
func (p VideoParams) RateControl() (targetKbps, maxKbps, bufferKB int) {
	targetKbps = p.BitrateKbps
	maxKbps = 2 * targetKbps
	bufferKB = 2 * targetKbps / 8
	return targetKbps, maxKbps, bufferKB
}
