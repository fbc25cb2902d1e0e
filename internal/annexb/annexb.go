// Package annexb converts between length-prefixed and start-code framed
// AVC/HEVC NAL unit streams.
package annexb

// StartCode is the 4-byte Annex B start code.
var StartCode = []byte{0, 0, 0, 1}

// IsAnnexB checks if the data starts with an Annex B start code.
func IsAnnexB(data []byte) bool {
	if len(data) >= 4 && data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1 {
		return true
	}
	return len(data) >= 3 && data[0] == 0 && data[1] == 0 && data[2] == 1
}

// Ensure converts AVCC/HVCC (4-byte big-endian length prefixes) to Annex B.
// Data that already starts with a start code, or does not parse as length
// prefixed, is returned unchanged.
func Ensure(data []byte) []byte {
	if len(data) < 5 || IsAnnexB(data) {
		return data
	}

	result := make([]byte, 0, len(data)+16)
	pos := 0
	for pos+4 <= len(data) {
		nalLen := int(data[pos])<<24 | int(data[pos+1])<<16 | int(data[pos+2])<<8 | int(data[pos+3])
		pos += 4
		if nalLen <= 0 || pos+nalLen > len(data) {
			return data
		}
		result = append(result, StartCode...)
		result = append(result, data[pos:pos+nalLen]...)
		pos += nalLen
	}
	if pos != len(data) {
		return data
	}
	return result
}

// Split returns the NAL units of an Annex B stream without start codes.
// Data without any start code is returned as a single unit.
func Split(data []byte) [][]byte {
	var nalus [][]byte
	start := -1
	i := 0
	for i+3 <= len(data) {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			if start >= 0 {
				nalus = appendUnit(nalus, data[start:i])
			}
			i += 3
			start = i
			continue
		}
		i++
	}
	if start < 0 {
		if len(data) > 0 {
			return [][]byte{data}
		}
		return nil
	}
	return appendUnit(nalus, data[start:])
}

// appendUnit drops trailing zero bytes, which belong to the next 4-byte start code.
func appendUnit(nalus [][]byte, nal []byte) [][]byte {
	for len(nal) > 0 && nal[len(nal)-1] == 0 {
		nal = nal[:len(nal)-1]
	}
	if len(nal) == 0 {
		return nalus
	}
	return append(nalus, nal)
}

// Join frames NAL units with 4-byte start codes.
func Join(nalus [][]byte) []byte {
	size := 0
	for _, n := range nalus {
		size += len(StartCode) + len(n)
	}
	out := make([]byte, 0, size)
	for _, n := range nalus {
		out = append(out, StartCode...)
		out = append(out, n...)
	}
	return out
}
