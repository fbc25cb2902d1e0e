package testutil

import (
	"encoding/binary"
	"errors"

	"github.com/thesyncim/libgoqsv/pkg/codec"
)

// The fake accelerator speaks a toy elementary stream made of two unit kinds:
//
//	header:  00 00 01 B0 | width u16 | height u16 | depth u8
//	picture: 00 00 01 B6 | type u8 | order u8 | y u16 | u u16 | v u16
//
// A picture decodes to a surface filled with its y, u and v samples.
// order is the display index used to emulate reordering.

const (
	HeaderSize  = 9
	PictureSize = 12

	headerCode  = 0xB0
	pictureCode = 0xB6
)

var ErrMalformedStream = errors.New("testutil: malformed stream")

// StreamHeader describes the sequence header unit.
type StreamHeader struct {
	Width, Height int
	BitDepth      int
}

// Picture is one picture unit.
type Picture struct {
	Type    codec.FrameType
	Order   int
	Y, U, V uint16
}

// Marshal encodes the header unit.
func (h StreamHeader) Marshal() []byte {
	b := []byte{0, 0, 1, headerCode, 0, 0, 0, 0, byte(h.BitDepth)}
	binary.BigEndian.PutUint16(b[4:], uint16(h.Width))
	binary.BigEndian.PutUint16(b[6:], uint16(h.Height))
	return b
}

// Marshal encodes the picture unit.
func (p Picture) Marshal() []byte {
	b := []byte{0, 0, 1, pictureCode, byte(p.Type), byte(p.Order), 0, 0, 0, 0, 0, 0}
	binary.BigEndian.PutUint16(b[6:], p.Y)
	binary.BigEndian.PutUint16(b[8:], p.U)
	binary.BigEndian.PutUint16(b[10:], p.V)
	return b
}

// BuildStream concatenates a header with pictures in decode order.
func BuildStream(h StreamHeader, pics ...Picture) []byte {
	out := h.Marshal()
	for _, p := range pics {
		out = append(out, p.Marshal()...)
	}
	return out
}

// ParseStream decodes every unit in data.
func ParseStream(data []byte) (hdr *StreamHeader, pics []Picture, err error) {
	for len(data) > 0 {
		if len(data) < 4 || data[0] != 0 || data[1] != 0 || data[2] != 1 {
			return hdr, pics, ErrMalformedStream
		}
		switch data[3] {
		case headerCode:
			h, ok := parseHeader(data)
			if !ok {
				return hdr, pics, ErrMalformedStream
			}
			hdr = &h
			data = data[HeaderSize:]
		case pictureCode:
			p, ok := parsePicture(data)
			if !ok {
				return hdr, pics, ErrMalformedStream
			}
			pics = append(pics, p)
			data = data[PictureSize:]
		default:
			return hdr, pics, ErrMalformedStream
		}
	}
	return hdr, pics, nil
}

func parseHeader(b []byte) (StreamHeader, bool) {
	if len(b) < HeaderSize || b[3] != headerCode {
		return StreamHeader{}, false
	}
	return StreamHeader{
		Width:    int(binary.BigEndian.Uint16(b[4:])),
		Height:   int(binary.BigEndian.Uint16(b[6:])),
		BitDepth: int(b[8]),
	}, true
}

func parsePicture(b []byte) (Picture, bool) {
	if len(b) < PictureSize || b[3] != pictureCode {
		return Picture{}, false
	}
	return Picture{
		Type:  codec.FrameType(b[4]),
		Order: int(b[5]),
		Y:     binary.BigEndian.Uint16(b[6:]),
		U:     binary.BigEndian.Uint16(b[8:]),
		V:     binary.BigEndian.Uint16(b[10:]),
	}, true
}

func isUnit(b []byte, code byte) bool {
	return len(b) >= 4 && b[0] == 0 && b[1] == 0 && b[2] == 1 && b[3] == code
}
