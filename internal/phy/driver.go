// Package phy drives the LoRa modem over a UART using AT-style command
// lines, implementing the state machine of §4.1: a TX worker that owns the
// write half of the port, an RX worker that owns the read half, and the
// can-send/listening handshake between them.
package phy

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"strconv"
	"sync"

	"github.com/jacobsa/go-serial/serial"

	"github.com/loramac/lora-root/internal/mac"
)

// Driver is a *phy.Driver satisfying mac.PhyLayer.
type Driver struct {
	cfg  Config
	port io.ReadWriteCloser

	cmdQueue chan command
	canSend  chan struct{}

	mu        sync.Mutex
	listening bool
	lastCmd   command

	rxQueue chan mac.Frame
}

// New creates a driver for cfg. Call Init to open the port and start it.
func New(cfg Config) *Driver {
	return &Driver{
		cfg:      cfg,
		cmdQueue: make(chan command, cfg.TxBufSize),
		canSend:  make(chan struct{}, 1),
		rxQueue:  make(chan mac.Frame, cfg.RxBufSize),
	}
}

// Init opens the serial port, enqueues the startup configuration burst and
// starts the TX/RX workers. Port-open failure is fatal, per §4.1.
func (d *Driver) Init() error {
	options := serial.OpenOptions{
		PortName:        d.cfg.Port,
		BaudRate:        d.cfg.BaudRate,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	}
	port, err := serial.Open(options)
	if err != nil {
		return fmt.Errorf("phy: open %s: %w", d.cfg.Port, err)
	}
	d.start(port)
	return nil
}

// start wires up an already-open port and begins the startup burst and the
// TX/RX workers. Split out of Init so tests can supply an in-memory port in
// place of jacobsa/go-serial's connection.
func (d *Driver) start(port io.ReadWriteCloser) {
	d.port = port

	d.canSend <- struct{}{} // the port starts idle: nothing outstanding

	d.enqueue(macPauseCmd())
	d.enqueue(radioSetCmd("mod", "lora"))
	d.enqueue(radioSetCmd("freq", strconv.FormatUint(uint64(d.cfg.Frequency), 10)))
	d.enqueue(radioSetCmd("bw", strconv.Itoa(d.cfg.Bandwidth)))
	d.enqueue(radioSetCmd("cr", d.cfg.CodingRate))
	d.enqueue(radioSetCmd("pwr", strconv.Itoa(d.cfg.Power)))
	d.enqueue(radioSetCmd("sf", d.cfg.SpreadingFactor))

	go d.txWorker()
	go d.rxWorker()

	log.Printf("phy: init on %s at %d baud, %d Hz", d.cfg.Port, d.cfg.BaudRate, d.cfg.Frequency)
}

func (d *Driver) enqueue(c command) {
	d.cmdQueue <- c
}

// txWorker is the single-threaded TX loop: wait for permission, pop the
// next command, write it, and let the RX worker hand permission back once
// it observes a terminal response.
func (d *Driver) txWorker() {
	for {
		<-d.canSend
		c := <-d.cmdQueue

		d.mu.Lock()
		d.lastCmd = c
		d.mu.Unlock()

		if _, err := io.WriteString(d.port, c.line+"\r\n"); err != nil {
			log.Printf("phy: write %q: %v", c.line, err)
		}
	}
}

// rxWorker is the single-threaded RX loop: read one line at a time,
// decode MAC frames, and release can-send when the current outstanding
// command's terminal response is observed.
func (d *Driver) rxWorker() {
	scanner := bufio.NewScanner(d.port)
	scanner.Split(scanCRLF)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		if isRadioRx(line) || isRadioErr(line) {
			d.mu.Lock()
			d.listening = false
			d.mu.Unlock()
		}

		if isRadioRx(line) {
			d.deliverFrame(line)
		}

		d.mu.Lock()
		last := d.lastCmd
		d.mu.Unlock()

		if last.matches(line) {
			d.canSend <- struct{}{}
		} else {
			log.Printf("phy: unsolicited/unmatched line %q", line)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("phy: serial read error: %v", err)
	}
}

func (d *Driver) deliverFrame(line string) {
	if len(line) < len(radioRxPrefix) {
		log.Printf("phy: malformed radio_rx line %q", line)
		return
	}
	frame, err := mac.DecodeFrame(line[len(radioRxPrefix):])
	if err != nil {
		log.Printf("phy: decode frame: %v", err)
		return
	}
	select {
	case d.rxQueue <- frame:
	default:
		log.Println("phy: RX queue full, dropping frame")
	}
}

// SendFrame serialises f and enqueues a "radio tx" command.
func (d *Driver) SendFrame(f mac.Frame) error {
	select {
	case d.cmdQueue <- radioTxCmd(f.Encode()):
		return nil
	default:
		return fmt.Errorf("phy: TX queue full")
	}
}

// SetWatchdog enqueues "radio set wdt".
func (d *Driver) SetWatchdog(ms int) error {
	select {
	case d.cmdQueue <- radioSetWdtCmd(ms):
		return nil
	default:
		return fmt.Errorf("phy: TX queue full")
	}
}

// RxEnable atomically marks the driver as listening and enqueues
// "radio rx 0".
func (d *Driver) RxEnable() {
	d.mu.Lock()
	d.listening = true
	d.mu.Unlock()
	d.enqueue(radioRxCmd())
}

// Listening reports whether a "radio rx" is currently in flight.
func (d *Driver) Listening() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listening
}

// TakeFrame blocks until the RX queue yields a decoded frame.
func (d *Driver) TakeFrame() mac.Frame {
	return <-d.rxQueue
}

// scanCRLF is a bufio.SplitFunc that splits on "\r\n", the modem's line
// terminator.
func scanCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i := 0; i < len(data)-1; i++ {
		if data[i] == '\r' && data[i+1] == '\n' {
			return i + 2, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
