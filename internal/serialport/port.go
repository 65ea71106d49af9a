package serialport

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// Config holds connection settings for a physical serial port.
type Config struct {
	Path       string // e.g. /dev/ttyUSB0
	BaudRate   int    // UART speed, not the CAN bit rate
	BufferSize int    // receive ring size in bytes
}

func (c *Config) setDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = 115200
	}
	if c.BufferSize < 1 {
		c.BufferSize = DefaultBufferSize
	}
}

const readTimeout = 50 * time.Millisecond

// Port is a Channel backed by go.bug.st/serial. A reader goroutine copies
// incoming bytes into the receive buffer until Close.
type Port struct {
	path    string
	port    serial.Port
	rx      *rxBuffer
	closing atomic.Bool
	done    chan struct{}
}

// Open opens the port 8N1 and starts the reader goroutine.
func Open(cfg Config) (*Port, error) {
	cfg.setDefaults()
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("serialport: failed to open %s: %w", cfg.Path, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("serialport: failed to set timeout: %w", err)
	}
	// Stale bytes from before we opened would only desync the first frame.
	if err := port.ResetInputBuffer(); err != nil {
		log.Printf("[serial] reset input buffer on %s: %v", cfg.Path, err)
	}

	p := &Port{
		path: cfg.Path,
		port: port,
		rx:   newRxBuffer(cfg.BufferSize),
		done: make(chan struct{}),
	}
	go p.readLoop()

	log.Printf("[serial] opened %s at %d baud (rx buffer %d bytes)", cfg.Path, cfg.BaudRate, cfg.BufferSize)
	return p, nil
}

func (p *Port) readLoop() {
	defer close(p.done)
	buf := make([]byte, 64)
	for {
		n, err := p.port.Read(buf)
		if err != nil {
			if !p.closing.Load() {
				log.Printf("[serial] read %s failed: %v", p.path, err)
			}
			return
		}
		if n > 0 {
			p.rx.put(buf[:n])
		}
		if p.closing.Load() {
			return
		}
	}
}

func (p *Port) Write(b []byte) (int, error) {
	n, err := writeFull(p.port, b)
	if err != nil {
		return n, fmt.Errorf("serialport: write %s: %w", p.path, err)
	}
	return n, nil
}

func (p *Port) ReceiveBuffer() []byte { return p.rx.buffer() }
func (p *Port) ReceiveCursor() int    { return p.rx.index() }

// Close stops the reader and closes the port.
func (p *Port) Close() error {
	if p.closing.Swap(true) {
		return nil
	}
	err := p.port.Close()
	<-p.done
	log.Printf("[serial] closed %s", p.path)
	return err
}
