package serialport

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"

	tarm "github.com/tarm/serial"
)

// TarmPort is a Channel backed by github.com/tarm/serial, for hosts where
// go.bug.st/serial cannot configure the adapter.
type TarmPort struct {
	path    string
	port    *tarm.Port
	rx      *rxBuffer
	closing atomic.Bool
	done    chan struct{}
}

// OpenTarm opens the port 8N1 and starts the reader goroutine.
func OpenTarm(cfg Config) (*TarmPort, error) {
	cfg.setDefaults()
	port, err := tarm.OpenPort(&tarm.Config{
		Name:        cfg.Path,
		Baud:        cfg.BaudRate,
		Parity:      tarm.ParityNone,
		StopBits:    tarm.Stop1,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("serialport: failed to open %s: %w", cfg.Path, err)
	}
	if err := port.Flush(); err != nil {
		log.Printf("[serial] flush %s: %v", cfg.Path, err)
	}

	p := &TarmPort{
		path: cfg.Path,
		port: port,
		rx:   newRxBuffer(cfg.BufferSize),
		done: make(chan struct{}),
	}
	go p.readLoop()

	log.Printf("[serial] opened %s at %d baud via tarm (rx buffer %d bytes)", cfg.Path, cfg.BaudRate, cfg.BufferSize)
	return p, nil
}

func (p *TarmPort) readLoop() {
	defer close(p.done)
	buf := make([]byte, 64)
	for !p.closing.Load() {
		n, err := p.port.Read(buf)
		if n > 0 {
			p.rx.put(buf[:n])
		}
		if err == nil || errors.Is(err, io.EOF) {
			// tarm reports a read timeout as io.EOF on some platforms.
			continue
		}
		if !p.closing.Load() {
			log.Printf("[serial] read %s failed: %v", p.path, err)
		}
		return
	}
}

func (p *TarmPort) Write(b []byte) (int, error) {
	n, err := writeFull(p.port, b)
	if err != nil {
		return n, fmt.Errorf("serialport: write %s: %w", p.path, err)
	}
	return n, nil
}

func (p *TarmPort) ReceiveBuffer() []byte { return p.rx.buffer() }
func (p *TarmPort) ReceiveCursor() int    { return p.rx.index() }

// Close stops the reader and closes the port.
func (p *TarmPort) Close() error {
	if p.closing.Swap(true) {
		return nil
	}
	err := p.port.Close()
	<-p.done
	log.Printf("[serial] closed %s", p.path)
	return err
}
