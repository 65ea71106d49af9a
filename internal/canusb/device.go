// Package canusb drives a Lawicel CANUSB adapter through a serial channel.
//
// A Device wraps one adapter. It hands out at most one BusManager, which
// configures and opens the bus, and at most one Transceiver, which sends
// frames and collects received ones into a ring buffer:
//
//	dev := canusb.New(port)
//	mgr, _ := dev.AcquireBusManager()
//	mgr.SetBaudRate(500000)
//	mgr.BusOn()
//	tx, _ := dev.AcquireTransceiver(32)
//	tx.Send(msg)
//	cursor := tx.ReceiveCursor()
//
// Nothing in this package blocks, spawns goroutines or locks. A Device and
// the facades it issues must be driven from one goroutine at a time;
// concurrent calls without external synchronization are unsafe.
//
// Received serial bytes are only decoded when ReceiveBuffer or ReceiveCursor
// is called. Poll often enough that the serial channel's receive buffer does
// not wrap between calls, or bytes are lost below this layer.
//
// Limitations of the protocol: it has no acceptance filter, so SetFilterMode
// has no effect, and it reports no bus-off condition, so a registered bus-off
// handler is never called. There is no bus-off command either; once BusOn
// succeeds the device stays open.
package canusb

import (
	"errors"
	"fmt"

	"github.com/shaunagostinho/canusb/internal/serialport"
)

// DefaultBaudRate is the CAN bit rate assumed before SetBaudRate is called.
const DefaultBaudRate = 125000

var (
	// ErrResourceBusy is returned when a bus manager or transceiver is
	// requested while another one is still live.
	ErrResourceBusy = errors.New("canusb: device or resource busy")
	// ErrOperationNotSupported is returned for sends on a closed bus and for
	// bit rates the adapter has no preset for.
	ErrOperationNotSupported = errors.New("canusb: operation not supported")
	// ErrOperationNotPermitted is returned when the bit rate is changed after
	// the bus was opened.
	ErrOperationNotPermitted = errors.New("canusb: operation not permitted")
	// ErrReleased is returned by facades used after Close.
	ErrReleased = errors.New("canusb: released")
	// ErrInvalidBufferSize is returned for receive buffers smaller than one.
	ErrInvalidBufferSize = errors.New("canusb: invalid receive buffer size")
)

// Device is the state shared by the bus manager and the transceiver of one
// adapter.
type Device struct {
	serial   serialport.Channel
	isOpen   bool
	baudRate uint32

	busManagerAcquired  bool
	transceiverAcquired bool
}

// New wraps an adapter reachable through ch.
func New(ch serialport.Channel) *Device {
	return &Device{
		serial:   ch,
		baudRate: DefaultBaudRate,
	}
}

// IsOpen reports whether BusOn has been issued.
func (d *Device) IsOpen() bool { return d.isOpen }

// BaudRate returns the configured CAN bit rate in Hz.
func (d *Device) BaudRate() uint32 { return d.baudRate }

// AcquireBusManager returns the device's bus manager. It fails with
// ErrResourceBusy until the previous one is closed.
func (d *Device) AcquireBusManager() (*BusManager, error) {
	if d.busManagerAcquired {
		return nil, fmt.Errorf("canusb: acquire bus manager: %w", ErrResourceBusy)
	}
	d.busManagerAcquired = true
	return &BusManager{dev: d}, nil
}

// AcquireTransceiver returns the device's transceiver with a receive ring of
// bufferSize messages. It fails with ErrResourceBusy until the previous one
// is closed.
func (d *Device) AcquireTransceiver(bufferSize int) (*Transceiver, error) {
	if bufferSize < 1 {
		return nil, fmt.Errorf("canusb: acquire transceiver with %d slots: %w", bufferSize, ErrInvalidBufferSize)
	}
	if d.transceiverAcquired {
		return nil, fmt.Errorf("canusb: acquire transceiver: %w", ErrResourceBusy)
	}
	d.transceiverAcquired = true
	return newTransceiver(d, bufferSize), nil
}

func (d *Device) write(p []byte) error {
	if _, err := d.serial.Write(p); err != nil {
		return fmt.Errorf("canusb: write %q: %w", p, err)
	}
	return nil
}
