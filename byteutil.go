package datalevin

// buf is a fixed-capacity scratch region with an explicit write offset,
// staging one encoded key or value for a single engine call. It is mutated
// in place and never shared across concurrent callers; reset between
// logical operations.
type buf struct {
	b   []byte // len(b) is the capacity
	off int
}

func newBuf(capacity int) *buf {
	return &buf{b: make([]byte, capacity)}
}

func (b *buf) reset() {
	b.off = 0
}

// data returns the written portion of the buffer.
func (b *buf) data() []byte {
	return b.b[:b.off]
}

func (b *buf) capacity() int {
	return len(b.b)
}

// writable reserves n bytes at the write offset, advancing it. Overflowing
// the capacity yields an OverflowError carrying the required size so the
// caller can reallocate and retry.
func (b *buf) writable(n int) ([]byte, error) {
	if b.off+n > len(b.b) {
		return nil, &OverflowError{Capacity: len(b.b), Required: b.off + n}
	}
	w := b.b[b.off : b.off+n]
	b.off += n
	return w, nil
}

func (b *buf) writeByte(v byte) error {
	w, err := b.writable(1)
	if err != nil {
		return err
	}
	w[0] = v
	return nil
}

func (b *buf) write(chunk []byte) error {
	w, err := b.writable(len(chunk))
	if err != nil {
		return err
	}
	copy(w, chunk)
	return nil
}

// reallocate replaces the backing array with one of at least minCap bytes
// and clears the offset. Used by the write-side value buffer after an
// overflow.
func (b *buf) reallocate(minCap int) {
	c := len(b.b)
	if c < 16 {
		c = 16
	}
	for minCap > c {
		c <<= 1
	}
	b.b = make([]byte, c)
	b.off = 0
}

// inc treats data as a big-endian integer and increments it in place.
// Returns false on overflow (all 0xFF).
func inc(data []byte) bool {
	n := len(data)
	for i := n - 1; i >= 0; i-- {
		if data[i] != 0xFF {
			for j := i; j < n; j++ {
				data[j]++
			}
			return true
		}
	}
	return false
}

// prefixSuccessor returns a key greater than every key with the given
// prefix, usable as an exclusive upper bound, or nil if no such key
// exists (all-0xFF prefix).
func prefixSuccessor(prefix []byte) []byte {
	succ := append([]byte(nil), prefix...)
	if inc(succ) {
		return succ
	}
	return nil
}
