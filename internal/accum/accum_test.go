package accum

import (
	"bytes"
	"testing"
)

func TestAppendConsume(t *testing.T) {
	a := New(4)
	a.Append([]byte("abc"))
	a.Append([]byte("defgh"))

	if got := string(a.Bytes()); got != "abcdefgh" {
		t.Fatalf("Bytes() = %q, want %q", got, "abcdefgh")
	}
	if a.Cap() != 8 {
		t.Errorf("Cap() = %d, want 8", a.Cap())
	}

	a.Consume(3)
	if got := string(a.Bytes()); got != "defgh" {
		t.Errorf("after Consume(3): %q, want %q", got, "defgh")
	}
	a.Consume(10)
	if a.Len() != 0 {
		t.Errorf("Len() = %d after over-consume, want 0", a.Len())
	}
}

func TestGrowthDoubles(t *testing.T) {
	tests := []struct {
		initial int
		appends []int
		wantCap int
	}{
		{4, []int{4}, 4},
		{4, []int{5}, 8},
		{4, []int{3, 3, 3}, 16},
		{1, []int{100}, 128},
		{0, []int{2}, 2},
	}
	for _, tt := range tests {
		a := New(tt.initial)
		for _, n := range tt.appends {
			a.Append(make([]byte, n))
		}
		if a.Cap() != tt.wantCap {
			t.Errorf("New(%d) appends %v: Cap() = %d, want %d", tt.initial, tt.appends, a.Cap(), tt.wantCap)
		}
	}
}

// Appending then consuming in arbitrary chunks yields the concatenation in order.
func TestStreamOrder(t *testing.T) {
	var want bytes.Buffer
	var got []byte
	a := New(3)

	chunks := []int{1, 7, 2, 13, 5, 0, 31, 4}
	consume := []int{2, 3, 0, 11, 6, 1, 20, 100}

	next := byte(0)
	for i, n := range chunks {
		chunk := make([]byte, n)
		for j := range chunk {
			chunk[j] = next
			next++
		}
		want.Write(chunk)
		a.Append(chunk)

		c := consume[i]
		if c > a.Len() {
			c = a.Len()
		}
		got = append(got, a.Bytes()[:c]...)
		a.Consume(c)
	}
	got = append(got, a.Bytes()...)

	if !bytes.Equal(got, want.Bytes()) {
		t.Errorf("stream mismatch:\n got %v\nwant %v", got, want.Bytes())
	}
}

func TestReset(t *testing.T) {
	a := New(8)
	a.Append([]byte("hello"))
	a.Reset()
	if a.Len() != 0 || a.Cap() != 8 {
		t.Errorf("after Reset: Len %d Cap %d", a.Len(), a.Cap())
	}
}
