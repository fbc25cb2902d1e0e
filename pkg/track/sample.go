package track

import (
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/thesyncim/libgoqsv/pkg/codec"
	"github.com/thesyncim/libgoqsv/pkg/encoder"
)

// SampleTrack forwards already encoded units to Pion, which packetizes them
// per binding.
type SampleTrack struct {
	codec codec.Type
	track *webrtc.TrackLocalStaticSample
}

// NewSampleTrack creates a sample track for AVC or HEVC units.
func NewSampleTrack(c codec.Type, id, streamID string) (*SampleTrack, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: codec %v", ErrInvalidConfig, c)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidConfig)
	}
	if streamID == "" {
		streamID = id
	}
	tr, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  c.MimeType(),
		ClockRate: c.ClockRate(),
	}, id, streamID)
	if err != nil {
		return nil, err
	}
	return &SampleTrack{codec: c, track: tr}, nil
}

// Track returns the Pion track to add to a PeerConnection.
func (s *SampleTrack) Track() webrtc.TrackLocal { return s.track }

// Codec returns the codec of the units this track carries.
func (s *SampleTrack) Codec() codec.Type { return s.codec }

// WriteUnit sends one compressed unit lasting duration.
func (s *SampleTrack) WriteUnit(unit *encoder.CompressedUnit, duration time.Duration) error {
	if unit == nil || len(unit.Data) == 0 {
		return nil
	}
	return s.track.WriteSample(media.Sample{Data: unit.Data, Duration: duration})
}
