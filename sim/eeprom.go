package sim

import (
	"errors"
	"sync"
)

var errNoDevice = errors.New("i2c: no device at address")

// EEPROM is an AT24Cxx with two-byte addressing on a simulated I2C bus. It
// implements drivers.I2C.
type EEPROM struct {
	mu       sync.Mutex
	addr     uint16
	mem      []byte
	pointer  int
	failRead bool
	failNext int
	writes   int
}

// NewEEPROM returns an erased chip of size bytes answering at addr.
func NewEEPROM(addr uint16, size int) *EEPROM {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &EEPROM{addr: addr, mem: mem}
}

// Tx handles a write of [addrHi, addrLo, data...] and a sequential read
// from the address pointer.
func (e *EEPROM) Tx(addr uint16, w, r []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if addr != e.addr {
		return errNoDevice
	}
	if e.failNext > 0 {
		e.failNext--
		return errBusFault
	}
	if len(w) >= 2 {
		e.pointer = (int(w[0])<<8 | int(w[1])) % len(e.mem)
		if data := w[2:]; len(data) > 0 {
			for _, b := range data {
				e.mem[e.pointer] = b
				e.pointer = (e.pointer + 1) % len(e.mem)
			}
			e.writes++
		}
	}
	if len(r) > 0 {
		if e.failRead {
			return errBusFault
		}
		for i := range r {
			r[i] = e.mem[e.pointer]
			e.pointer = (e.pointer + 1) % len(e.mem)
		}
	}
	return nil
}

// ReadRegister reads from an 8-bit register address.
func (e *EEPROM) ReadRegister(addr uint8, r uint8, buf []byte) error {
	return e.Tx(uint16(addr), []byte{0, r}, buf)
}

// WriteRegister writes at an 8-bit register address.
func (e *EEPROM) WriteRegister(addr uint8, r uint8, buf []byte) error {
	return e.Tx(uint16(addr), append([]byte{0, r}, buf...), nil)
}

// Bytes returns a copy of n bytes at off.
func (e *EEPROM) Bytes(off, n int) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]byte, n)
	copy(out, e.mem[off:])
	return out
}

// Poke overwrites memory directly.
func (e *EEPROM) Poke(off int, data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	copy(e.mem[off:], data)
}

// FailNext makes the next n transactions fail.
func (e *EEPROM) FailNext(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failNext = n
}

// FailReads makes every read fail until cleared.
func (e *EEPROM) FailReads(fail bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failRead = fail
}

// Writes counts write transactions carrying data.
func (e *EEPROM) Writes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writes
}
