package protocol

import "sync"

// MaxLine is the longest command line accepted. Longer lines are dropped.
const MaxLine = 160

// LineReader assembles newline-terminated command lines from a byte stream.
// Feed may be called from a reader goroutine while another goroutine calls
// Next.
type LineReader struct {
	mu       sync.Mutex
	ring     *ByteRing
	line     []byte
	overflow bool
	dropped  int
}

// NewLineReader creates a LineReader buffering up to capacity bytes.
func NewLineReader(capacity int) *LineReader {
	return &LineReader{
		ring: NewByteRing(capacity),
		line: make([]byte, 0, MaxLine),
	}
}

// Feed queues raw input and returns how many bytes fit.
func (r *LineReader) Feed(data []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ring.Write(data)
}

// Next returns the next complete, non-empty line without its terminator.
// CR, LF and CRLF all end a line.
func (r *LineReader) Next() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		c, ok := r.ring.Pop()
		if !ok {
			break
		}
		if c != '\n' && c != '\r' {
			if len(r.line) >= MaxLine {
				r.overflow = true
				continue
			}
			r.line = append(r.line, c)
			continue
		}

		if r.overflow {
			r.overflow = false
			r.line = r.line[:0]
			r.dropped++
			continue
		}
		line := trimSpace(r.line)
		r.line = r.line[:0]
		if len(line) > 0 {
			return string(line), true
		}
	}
	return "", false
}

// Dropped returns the number of overlong lines discarded.
func (r *LineReader) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func trimSpace(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}
