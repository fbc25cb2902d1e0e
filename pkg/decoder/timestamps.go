package decoder

// packetMark records where a submitted chunk starts in the input stream.
type packetMark struct {
	start int64
	pts   int64
}

// timestamps tracks submission timestamps two ways: a FIFO popped once per
// delivered frame, and byte marks that name the chunk owning the first
// unconsumed input byte.
type timestamps struct {
	fifo     []int64
	marks    []packetMark
	appended int64
	consumed int64
}

func (t *timestamps) push(n int, pts int64) {
	t.fifo = append(t.fifo, pts)
	t.marks = append(t.marks, packetMark{start: t.appended, pts: pts})
	t.appended += int64(n)
}

func (t *timestamps) consume(n int) {
	t.consumed += int64(n)
	for len(t.marks) > 1 && t.marks[1].start <= t.consumed {
		t.marks = t.marks[1:]
	}
	if t.consumed >= t.appended {
		t.marks = t.marks[:0]
	}
}

// current returns the timestamp of the chunk holding the next input byte.
func (t *timestamps) current() (int64, bool) {
	if len(t.marks) == 0 {
		return 0, false
	}
	return t.marks[0].pts, true
}

// pop returns the oldest submission timestamp.
func (t *timestamps) pop() (int64, bool) {
	if len(t.fifo) == 0 {
		return 0, false
	}
	pts := t.fifo[0]
	t.fifo = t.fifo[1:]
	if len(t.fifo) == 0 {
		t.fifo = t.fifo[:0:0]
	}
	return pts, true
}

func (t *timestamps) queued() int { return len(t.fifo) }

func (t *timestamps) reset() {
	*t = timestamps{}
}
