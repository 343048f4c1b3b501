package protocol

import "testing"

func TestByteRing(t *testing.T) {
	r := NewByteRing(4)

	if r.Len() != 0 || r.Free() != 4 {
		t.Errorf("new ring: len %d free %d", r.Len(), r.Free())
	}

	if n := r.Write([]byte("abc")); n != 3 {
		t.Errorf("expected to write 3 bytes, wrote %d", n)
	}
	for _, want := range []byte("ab") {
		b, ok := r.Pop()
		if !ok || b != want {
			t.Errorf("Pop = %q, %v; want %q", b, ok, want)
		}
	}

	// Wraps around the end of the backing array.
	if n := r.Write([]byte("defg")); n != 3 {
		t.Errorf("expected 3 bytes to fit, wrote %d", n)
	}
	if r.Free() != 0 {
		t.Errorf("ring should be full, free %d", r.Free())
	}

	var got []byte
	for {
		b, ok := r.Pop()
		if !ok {
			break
		}
		got = append(got, b)
	}
	if string(got) != "cdef" {
		t.Errorf("drained %q, want %q", got, "cdef")
	}
}

func TestByteRingReset(t *testing.T) {
	r := NewByteRing(8)
	r.Write([]byte("setaz 1"))
	r.Reset()

	if r.Len() != 0 {
		t.Errorf("after reset len %d", r.Len())
	}
	if _, ok := r.Pop(); ok {
		t.Error("Pop on empty ring should fail")
	}
	if n := r.Write([]byte("0123456789")); n != 8 {
		t.Errorf("expected to fill all 8 bytes, wrote %d", n)
	}
}

func TestByteRingMinimumCapacity(t *testing.T) {
	r := NewByteRing(0)
	if n := r.Write([]byte("xy")); n != 1 {
		t.Errorf("zero capacity ring should hold one byte, wrote %d", n)
	}
}
