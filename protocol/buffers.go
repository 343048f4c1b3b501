package protocol

// ByteRing is a fixed-size byte queue between the USB reader and the line
// assembler. Writes past capacity are refused, never overwritten.
type ByteRing struct {
	buf   []byte
	head  int // next byte to read
	count int
}

// NewByteRing returns an empty ring holding up to capacity bytes.
func NewByteRing(capacity int) *ByteRing {
	if capacity < 1 {
		capacity = 1
	}
	return &ByteRing{buf: make([]byte, capacity)}
}

// Write queues as much of data as fits and returns how many bytes it took.
func (r *ByteRing) Write(data []byte) int {
	n := 0
	for _, b := range data {
		if r.count == len(r.buf) {
			break
		}
		r.buf[(r.head+r.count)%len(r.buf)] = b
		r.count++
		n++
	}
	return n
}

// Pop removes the oldest byte. ok is false when the ring is empty.
func (r *ByteRing) Pop() (b byte, ok bool) {
	if r.count == 0 {
		return 0, false
	}
	b = r.buf[r.head]
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return b, true
}

// Len returns the number of queued bytes.
func (r *ByteRing) Len() int { return r.count }

// Free returns how many more bytes fit.
func (r *ByteRing) Free() int { return len(r.buf) - r.count }

// Reset drops everything queued.
func (r *ByteRing) Reset() {
	r.head = 0
	r.count = 0
}
