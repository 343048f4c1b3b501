//go:build rp2040

package main

import (
	"context"
	_ "embed"
	"machine"
	"sync"
	"time"

	"antboard/config"
	"antboard/core"
	"antboard/protocol"
	"antboard/storage"
)

// boardJSON overrides the production defaults for this build.
//
//go:embed board.json
var boardJSON []byte

var (
	board *core.Board
	lines *protocol.LineReader
	log   *core.WriterLogger

	// usbMu keeps log lines and responses from interleaving.
	usbMu sync.Mutex

	// Debug counters
	linesHandled uint32
	msgerrors    uint32
)

func main() {
	// Disable the watchdog left armed by a previous reset.
	err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})
	if err != nil {
		return
	}

	InitUSB()

	log = core.NewWriterLogger(writeLine)
	log.StartAsync(16)

	cfg, err := config.Parse(boardJSON)
	if err != nil {
		log.Errorf("board.json: %v, using defaults", err)
		cfg = config.DefaultBoardConfig()
	}

	hw := core.Hardware{
		GPIO: NewRPGPIODriver(),
		ADC:  NewRPAdcDriver(),
		PWM:  NewRP2040PWMDriver(),
		Log:  log,
	}
	hw.PotBus, err = ConfigurePotBus(cfg.Pot)
	if err != nil {
		halt("pot bus: " + err.Error())
	}
	if cfg.EEPROM.Enabled {
		bus, err := ConfigureEEPROMBus(cfg.EEPROM)
		if err != nil {
			log.Warnf("eeprom bus: %v, calibration kept in RAM", err)
		} else {
			hw.Store = storage.NewEEPROMStore(bus, storage.EEPROMConfig{
				Address:  cfg.EEPROM.Address,
				PageSize: cfg.EEPROM.PageSize,
				Size:     cfg.EEPROM.Size,
			})
		}
	}
	if cfg.CPLD.UsePIO {
		shifter, err := NewPIOShifter(cfg.CPLD)
		if err != nil {
			log.Warnf("pio shifter: %v, using gpio", err)
		} else {
			hw.CPLD = shifter
		}
	}

	board, err = core.NewBoard(cfg, hw)
	if err != nil {
		halt("board: " + err.Error())
	}
	if err := board.Init(); err != nil {
		halt("init: " + err.Error())
	}
	board.Start(context.Background())

	lines = protocol.NewLineReader(512)
	go usbReaderLoop()

	for {
		// Recover from panics in the main loop to prevent a firmware crash
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
				}
			}()
			for {
				line, ok := lines.Next()
				if !ok {
					return
				}
				linesHandled++
				if resp := board.Execute(line); resp != "" {
					writeLine(resp)
				}
			}
		}()

		time.Sleep(time.Millisecond)
	}
}

// usbReaderLoop runs in a goroutine to continuously read USB data
func usbReaderLoop() {
	// Recover from panics to prevent a firmware crash
	defer func() {
		if r := recover(); r != nil {
			msgerrors++
			time.Sleep(100 * time.Millisecond)
			go usbReaderLoop()
		}
	}()

	var buf [64]byte
	for {
		n := 0
		for n < len(buf) && USBAvailable() > 0 {
			c, err := USBRead()
			if err != nil {
				msgerrors++
				break
			}
			buf[n] = c
			n++
		}
		if n > 0 && lines.Feed(buf[:n]) < n {
			// Input overrun; the partial line is dropped by the reader.
			msgerrors++
		}
		// Yield to avoid a busy loop
		time.Sleep(100 * time.Microsecond)
	}
}

func writeLine(s string) {
	usbMu.Lock()
	defer usbMu.Unlock()
	data := []byte(s + "\r\n")
	for written := 0; written < len(data); {
		n, err := USBWriteBytes(data[written:])
		if err != nil || n == 0 {
			msgerrors++
			return
		}
		written += n
	}
}

// halt reports a fatal startup error forever, so a host that connects late
// still sees it.
func halt(msg string) {
	for {
		writeLine("Error: " + msg)
		time.Sleep(2 * time.Second)
	}
}
