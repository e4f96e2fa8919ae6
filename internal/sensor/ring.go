package sensor

import "fmt"

const (
	minBufferSize = 2
	maxBufferSize = 65536
)

// ring is a fixed-capacity FIFO of samples. Power-of-two sizing keeps the
// index math to a mask. It is not synchronized; every access happens inside
// the engine's exclusion domain. A push against a full ring is refused, not
// blocked and not evicting: the caller counts the drop and moves on.
type ring struct {
	buf  []Sample
	mask uint64
	head uint64
	tail uint64
}

func newRing(size int) (*ring, error) {
	if size < minBufferSize || size > maxBufferSize || size&(size-1) != 0 {
		return nil, fmt.Errorf("%w: %d (want a power of two in [%d, %d])",
			ErrInvalidBufferSize, size, minBufferSize, maxBufferSize)
	}

	return &ring{
		buf:  make([]Sample, size),
		mask: uint64(size - 1),
	}, nil
}

func (r *ring) push(s Sample) bool {
	if r.tail-r.head == uint64(len(r.buf)) {
		return false
	}
	r.buf[r.tail&r.mask] = s
	r.tail++

	return true
}

func (r *ring) pop() (Sample, bool) {
	if r.head == r.tail {
		return Sample{}, false
	}
	s := r.buf[r.head&r.mask]
	r.head++

	return s, true
}

func (r *ring) len() int {
	return int(r.tail - r.head)
}

func (r *ring) empty() bool {
	return r.head == r.tail
}

func (r *ring) full() bool {
	return r.len() == len(r.buf)
}
