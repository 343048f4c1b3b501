//go:build rp2040

package main

import (
	"errors"
	"machine"
	"sync"
	"time"

	"antboard/config"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

// PIO program for the command chain.
// Each chunk is two FIFO words:
//
//	word 0: bit count - 1 (1..32 bits)
//	word 1: the bits, first bit in the MSB
//
// The program clocks the bits out (data on the OUT pin, clock on the SET
// pin) and pushes a word to the RX FIFO when the chunk is done. The latch is
// pulsed from the CPU once every chunk has been acknowledged.
func buildShiftProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		// .wrap_target
		asm.Pull(false, true).Encode(),                   // 0: pull block (count)
		asm.Out(rp2pio.OutDestX, 32).Encode(),            // 1: out x, 32
		asm.Pull(false, true).Encode(),                   // 2: pull block (bits)
		asm.Out(rp2pio.OutDestPins, 1).Encode(),          // 3: out pins, 1
		asm.Set(rp2pio.SetDestPins, 1).Delay(1).Encode(), // 4: set pins, 1 [1]
		asm.Set(rp2pio.SetDestPins, 0).Encode(),          // 5: set pins, 0
		asm.Jmp(3, rp2pio.JmpXNZeroDec).Encode(),         // 6: jmp x--, 3
		asm.Push(false, true).Encode(),                   // 7: push block (done)
		// .wrap
	}
}

const shiftPIOOrigin = 0

// chunkTimeout bounds the wait for one chunk acknowledgement.
const chunkTimeout = 5 * time.Millisecond

// PIOShifter drives the CPLD chain from a PIO state machine. Reads fall back
// to bit-banging the same pins, since they are rare and must also sample
// the readback line.
type PIOShifter struct {
	mu       sync.Mutex
	pio      *rp2pio.PIO
	sm       rp2pio.StateMachine
	offset   uint8
	data     machine.Pin
	clock    machine.Pin
	latch    machine.Pin
	readback machine.Pin
	oe       machine.Pin
}

// NewPIOShifter claims PIO0 state machine 0 for the chain in cfg.
func NewPIOShifter(cfg config.CPLDConfig) (*PIOShifter, error) {
	s := &PIOShifter{
		pio:      rp2pio.PIO0,
		data:     machine.Pin(cfg.Data),
		clock:    machine.Pin(cfg.Clock),
		latch:    machine.Pin(cfg.Latch),
		readback: machine.Pin(cfg.Readback),
		oe:       machine.Pin(cfg.OutputEnable),
	}
	s.sm = s.pio.StateMachine(0)
	if !s.sm.TryClaim() {
		return nil, errors.New("pio0 sm0 busy")
	}

	program := buildShiftProgram()
	offset, err := s.pio.AddProgram(program, shiftPIOOrigin)
	if err != nil {
		return nil, err
	}
	s.offset = offset

	s.latch.Configure(machine.PinConfig{Mode: machine.PinOutput})
	s.latch.Low()
	s.oe.Configure(machine.PinConfig{Mode: machine.PinOutput})
	s.oe.Low()
	s.readback.Configure(machine.PinConfig{Mode: machine.PinInputPulldown})

	s.attach()
	return s, nil
}

// attach hands the data and clock pins to the state machine and starts it.
func (s *PIOShifter) attach() {
	s.data.Configure(machine.PinConfig{Mode: s.pio.PinMode()})
	s.clock.Configure(machine.PinConfig{Mode: s.pio.PinMode()})

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetOutPins(s.data, 1)
	cfg.SetSetPins(s.clock, 1)
	// Shift left so the MSB goes out first; explicit pulls only.
	cfg.SetOutShift(false, false, 32)
	cfg.SetWrap(s.offset+uint8(len(buildShiftProgram()))-1, s.offset)
	// 125 MHz / 62 puts the chain clock near 500 kHz.
	cfg.SetClkDivIntFrac(62, 0)

	s.sm.Init(s.offset, cfg)
	s.sm.SetPindirsConsecutive(s.data, 1, true)
	s.sm.SetPindirsConsecutive(s.clock, 1, true)
	s.sm.SetPinsConsecutive(s.data, 1, false)
	s.sm.SetPinsConsecutive(s.clock, 1, false)
	s.sm.SetEnabled(true)
}

// detach stops the state machine and returns data and clock to the CPU.
func (s *PIOShifter) detach() {
	s.sm.SetEnabled(false)
	s.sm.ClearFIFOs()
	s.data.Configure(machine.PinConfig{Mode: machine.PinOutput})
	s.clock.Configure(machine.PinConfig{Mode: machine.PinOutput})
	s.clock.Low()
}

func (s *PIOShifter) ShiftOut(bits []bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for start := 0; start < len(bits); start += 32 {
		end := start + 32
		if end > len(bits) {
			end = len(bits)
		}
		var word uint32
		for i, b := range bits[start:end] {
			if b {
				word |= 1 << (31 - i)
			}
		}
		if err := s.chunk(uint32(end-start-1), word); err != nil {
			s.sm.Restart()
			return err
		}
	}
	s.latch.High()
	s.latch.Low()
	return nil
}

func (s *PIOShifter) chunk(count, word uint32) error {
	for s.sm.IsTxFIFOFull() {
	}
	s.sm.TxPut(count)
	for s.sm.IsTxFIFOFull() {
	}
	s.sm.TxPut(word)

	deadline := time.Now().Add(chunkTimeout)
	for s.sm.IsRxFIFOEmpty() {
		if time.Now().After(deadline) {
			return errors.New("pio shift timed out")
		}
	}
	s.sm.RxGet()
	return nil
}

func (s *PIOShifter) ShiftIn(n int) ([]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.detach()
	defer s.attach()

	s.latch.High()
	s.latch.Low()
	bits := make([]bool, n)
	for i := range bits {
		bits[i] = s.readback.Get()
		s.clock.High()
		s.clock.Low()
	}
	return bits, nil
}
