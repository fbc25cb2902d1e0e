package depacketizer

import (
	"encoding/binary"
	"fmt"
)

const (
	hevcTypeAP   = 48
	hevcTypeFU   = 49
	hevcTypePACI = 50
)

// hevcAssembler unpacks RFC 7798 payloads. DONL fields are not supported,
// so senders must use sprop-max-don-diff=0.
type hevcAssembler struct {
	fu       []byte
	fuActive bool
}

// reset drops a partial fragmentation unit and reports whether one existed.
func (h *hevcAssembler) reset() bool {
	had := h.fuActive
	h.fu = h.fu[:0]
	h.fuActive = false
	return had
}

func (h *hevcAssembler) unmarshal(payload []byte) ([][]byte, error) {
	if len(payload) < 3 {
		return nil, fmt.Errorf("%w: %d byte payload", ErrMalformedPacket, len(payload))
	}

	switch typ := (payload[0] >> 1) & 0x3f; typ {
	case hevcTypeAP:
		var nals [][]byte
		for rest := payload[2:]; len(rest) > 0; {
			if len(rest) < 2 {
				return nil, fmt.Errorf("%w: truncated aggregation size", ErrMalformedPacket)
			}
			n := int(binary.BigEndian.Uint16(rest))
			rest = rest[2:]
			if n == 0 || n > len(rest) {
				return nil, fmt.Errorf("%w: aggregated unit of %d bytes", ErrMalformedPacket, n)
			}
			nals = append(nals, rest[:n])
			rest = rest[n:]
		}
		return nals, nil

	case hevcTypeFU:
		fu := payload[2]
		if fu&0x80 != 0 {
			h.fu = append(h.fu[:0], (payload[0]&0x81)|(fu&0x3f)<<1, payload[1])
			h.fuActive = true
		} else if !h.fuActive {
			return nil, nil
		}
		h.fu = append(h.fu, payload[3:]...)
		if fu&0x40 == 0 {
			return nil, nil
		}
		nal := append([]byte(nil), h.fu...)
		h.reset()
		return [][]byte{nal}, nil

	case hevcTypePACI:
		return nil, fmt.Errorf("%w: PACI packets are not supported", ErrMalformedPacket)

	default:
		return [][]byte{payload}, nil
	}
}
