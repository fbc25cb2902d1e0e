package packetizer

import "github.com/thesyncim/libgoqsv/internal/annexb"

const (
	rtpHeaderSize  = 12
	hevcHeaderSize = 2
	fuHeaderSize   = 3 // Payload header + FU header

	hevcTypeFU = 49
)

// HEVCPayloader implements rtp.Payloader for H.265 (RFC 7798). NAL units
// that fit in one packet are sent as single NAL unit packets, larger ones as
// fragmentation units.
type HEVCPayloader struct{}

// Payload fragments an Annex B access unit across packets of at most mtu
// bytes of payload.
func (p *HEVCPayloader) Payload(mtu uint16, payload []byte) [][]byte {
	if mtu <= fuHeaderSize {
		return nil
	}
	limit := int(mtu)

	var out [][]byte
	for _, nal := range annexb.Split(payload) {
		if len(nal) <= hevcHeaderSize {
			continue
		}
		if len(nal) <= limit {
			out = append(out, append([]byte(nil), nal...))
			continue
		}

		nalType := (nal[0] >> 1) & 0x3f
		hdr0 := (nal[0] & 0x81) | hevcTypeFU<<1
		hdr1 := nal[1]
		body := nal[hevcHeaderSize:]
		chunk := limit - fuHeaderSize

		for first := true; len(body) > 0; first = false {
			n := min(chunk, len(body))
			fu := nalType
			if first {
				fu |= 0x80
			}
			if n == len(body) {
				fu |= 0x40
			}
			pkt := make([]byte, 0, fuHeaderSize+n)
			pkt = append(pkt, hdr0, hdr1, fu)
			pkt = append(pkt, body[:n]...)
			out = append(out, pkt)
			body = body[n:]
		}
	}
	return out
}
