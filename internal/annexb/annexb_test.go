package annexb

import (
	"bytes"
	"testing"
)

func TestIsAnnexB(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"4-byte", []byte{0, 0, 0, 1, 0x67}, true},
		{"3-byte", []byte{0, 0, 1, 0x67}, true},
		{"length prefixed", []byte{0, 0, 0, 5, 0x67}, false},
		{"short", []byte{0, 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAnnexB(tt.data); got != tt.want {
				t.Errorf("IsAnnexB() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnsure(t *testing.T) {
	avcc := []byte{0, 0, 0, 2, 0x67, 0x42, 0, 0, 0, 1, 0x68}
	want := []byte{0, 0, 0, 1, 0x67, 0x42, 0, 0, 0, 1, 0x68}
	if got := Ensure(avcc); !bytes.Equal(got, want) {
		t.Errorf("Ensure(avcc) = %v, want %v", got, want)
	}

	annexB := []byte{0, 0, 1, 0x65, 0x88}
	if got := Ensure(annexB); !bytes.Equal(got, annexB) {
		t.Errorf("Ensure(annexB) changed data: %v", got)
	}

	bogus := []byte{0, 0, 0, 9, 0x65, 0x88}
	if got := Ensure(bogus); !bytes.Equal(got, bogus) {
		t.Errorf("Ensure(bogus) = %v, want input unchanged", got)
	}
}

func TestSplitJoin(t *testing.T) {
	data := []byte{0, 0, 0, 1, 0x67, 1, 2, 0, 0, 1, 0x68, 3, 0, 0, 0, 1, 0x65, 4, 5}
	nalus := Split(data)
	want := [][]byte{{0x67, 1, 2}, {0x68, 3}, {0x65, 4, 5}}
	if len(nalus) != len(want) {
		t.Fatalf("Split() returned %d units, want %d", len(nalus), len(want))
	}
	for i := range want {
		if !bytes.Equal(nalus[i], want[i]) {
			t.Errorf("unit %d = %v, want %v", i, nalus[i], want[i])
		}
	}

	joined := Join(nalus)
	again := Split(joined)
	if len(again) != 3 || !bytes.Equal(again[2], want[2]) {
		t.Errorf("Split(Join()) = %v", again)
	}

	if got := Split([]byte{0x65, 1}); len(got) != 1 {
		t.Errorf("Split(raw) = %v, want one unit", got)
	}
	if got := Split(nil); got != nil {
		t.Errorf("Split(nil) = %v, want nil", got)
	}
}
