package pool

import (
	"errors"
	"testing"

	"github.com/thesyncim/libgoqsv/pkg/accel"
)

func TestBitstreamPool(t *testing.T) {
	if _, err := NewBitstreamPool(0); !errors.Is(err, ErrInvalidCapacity) {
		t.Fatalf("NewBitstreamPool(0) err = %v", err)
	}

	p, err := NewBitstreamPool(1024)
	if err != nil {
		t.Fatal(err)
	}
	p.Grow(2)
	if p.Len() != 2 || p.FreeCount() != 2 {
		t.Errorf("Len %d FreeCount %d, want 2 2", p.Len(), p.FreeCount())
	}

	a := p.Acquire()
	if a.Capacity() != 1024 {
		t.Errorf("Capacity() = %d, want 1024", a.Capacity())
	}
	if err := p.MarkInFlight(a, 42); err != nil {
		t.Fatal(err)
	}
	b := p.Acquire()
	if a == b {
		t.Fatal("in-flight buffer handed out twice")
	}
	c := p.Acquire()
	if p.Len() != 3 || c == a || c == b {
		t.Errorf("expected a new buffer, Len = %d", p.Len())
	}

	a.Length = 100
	if err := p.Release(a); err != nil {
		t.Fatal(err)
	}
	if a.Token != 0 || a.Length != 0 {
		t.Errorf("Release left token %d length %d", a.Token, a.Length)
	}
	if got := p.Acquire(); got != a {
		t.Error("released buffer should be reused first")
	}

	if err := p.Release(&accel.Bitstream{}); !errors.Is(err, ErrForeignSlot) {
		t.Errorf("Release(foreign) = %v, want %v", err, ErrForeignSlot)
	}
	p.ReleaseAll()
	if p.Len() != 0 {
		t.Errorf("Len = %d after ReleaseAll", p.Len())
	}
}

func TestCheckFits(t *testing.T) {
	b := &accel.Bitstream{Data: make([]byte, 8)}
	b.Length = 8
	if err := CheckFits(b); err != nil {
		t.Errorf("CheckFits(full) = %v", err)
	}
	b.Offset = 1
	if err := CheckFits(b); !errors.Is(err, ErrBitstreamOverflow) {
		t.Errorf("CheckFits(overflow) = %v, want %v", err, ErrBitstreamOverflow)
	}
}
