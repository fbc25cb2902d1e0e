// Package packetizer splits compressed AVC/HEVC access units into RTP packets.
package packetizer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/thesyncim/libgoqsv/pkg/codec"
)

// Errors
var (
	ErrPacketizerClosed = errors.New("packetizer is closed")
	ErrBufferTooSmall   = errors.New("buffer too small")
	ErrInvalidData      = errors.New("invalid data")
	ErrUnsupportedCodec = errors.New("packetizer: unsupported codec")
)

// DefaultMTU leaves room for SRTP and tunnel overhead.
const DefaultMTU = 1200

// Config configures an RTP packetizer.
type Config struct {
	Codec       codec.Type
	SSRC        uint32
	PayloadType uint8
	MTU         uint16 // Maximum RTP packet size (default 1200)
	ClockRate   uint32 // RTP clock rate (default 90000)
}

// PacketInfo describes a single RTP packet in the output buffer.
type PacketInfo struct {
	Offset int // Offset into the buffer where this packet starts
	Size   int // Size of this packet
}

// Packetizer converts Annex B access units into RTP packets.
type Packetizer struct {
	config Config
	rtp    rtp.Packetizer
	closed atomic.Bool
	mu     sync.Mutex

	lastSeq uint16
}

// New creates a new RTP packetizer with a random initial sequence number.
func New(cfg Config) (*Packetizer, error) {
	if cfg.MTU == 0 {
		cfg.MTU = DefaultMTU
	}
	if cfg.ClockRate == 0 {
		cfg.ClockRate = cfg.Codec.ClockRate()
	}
	if cfg.MTU <= rtpHeaderSize+fuHeaderSize {
		return nil, fmt.Errorf("%w: mtu %d", ErrInvalidData, cfg.MTU)
	}

	var payloader rtp.Payloader
	switch cfg.Codec {
	case codec.AVC:
		payloader = &codecs.H264Payloader{}
	case codec.HEVC:
		payloader = &HEVCPayloader{}
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedCodec, cfg.Codec)
	}

	return &Packetizer{
		config: cfg,
		rtp: rtp.NewPacketizer(cfg.MTU, cfg.PayloadType, cfg.SSRC,
			payloader, rtp.NewRandomSequencer(), cfg.ClockRate),
	}, nil
}

// Packetize splits unit into packets. samples is the unit's duration in RTP
// clock ticks and advances the timestamp of the next unit. The last packet
// carries the marker bit.
func (p *Packetizer) Packetize(unit []byte, samples uint32) ([]*rtp.Packet, error) {
	if p.closed.Load() {
		return nil, ErrPacketizerClosed
	}
	if len(unit) == 0 {
		return nil, ErrInvalidData
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	packets := p.rtp.Packetize(unit, samples)
	if len(packets) == 0 {
		return nil, ErrInvalidData
	}
	p.lastSeq = packets[len(packets)-1].SequenceNumber
	return packets, nil
}

// PacketizeInto marshals the packets of unit contiguously into dst and
// records their placement in packets. Returns the number of packets written.
func (p *Packetizer) PacketizeInto(unit []byte, samples uint32, dst []byte, packets []PacketInfo) (int, error) {
	pkts, err := p.Packetize(unit, samples)
	if err != nil {
		return 0, err
	}
	if len(pkts) > len(packets) {
		return 0, fmt.Errorf("%w: %d packets, room for %d", ErrBufferTooSmall, len(pkts), len(packets))
	}

	off := 0
	for i, pkt := range pkts {
		n, err := pkt.MarshalTo(dst[off:])
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrBufferTooSmall, err)
		}
		packets[i] = PacketInfo{Offset: off, Size: n}
		off += n
	}
	return len(pkts), nil
}

// MaxPackets returns an upper bound on the packets a unit of frameSize
// bytes produces.
func (p *Packetizer) MaxPackets(frameSize int) int {
	payload := int(p.config.MTU) - rtpHeaderSize - fuHeaderSize
	// Every NAL may start a new packet; bounded by one extra per 4 bytes.
	return (frameSize+payload-1)/payload + frameSize/4 + 1
}

// MaxPacketSize returns the maximum size of a single RTP packet.
func (p *Packetizer) MaxPacketSize() int {
	return int(p.config.MTU)
}

// SequenceNumber returns the sequence number of the last packet produced.
func (p *Packetizer) SequenceNumber() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeq
}

// Config returns the effective configuration.
func (p *Packetizer) Config() Config { return p.config }

// Close marks the packetizer closed.
func (p *Packetizer) Close() error {
	p.closed.Store(true)
	return nil
}
