package canusb

import (
	"fmt"

	"github.com/shaunagostinho/canusb/internal/can"
	"github.com/shaunagostinho/canusb/internal/lawicel"
	"github.com/shaunagostinho/canusb/internal/ring"
)

var _ can.Transceiver = (*Transceiver)(nil)

// Transceiver sends frames and decodes received ones into a ring buffer.
// Obtain one with Device.AcquireTransceiver and Close it to let another be
// acquired.
type Transceiver struct {
	dev      *Device
	rx       *ring.Buffer[can.Message]
	released bool

	lastSerialCursor int

	// accumulator for the frame currently being received
	parse    [lawicel.MaxFrameSize]byte
	parseLen int
}

func newTransceiver(d *Device, bufferSize int) *Transceiver {
	return &Transceiver{
		dev:              d,
		rx:               ring.New[can.Message](bufferSize),
		lastSerialCursor: d.serial.ReceiveCursor(),
	}
}

// BaudRate returns the device's CAN bit rate in Hz.
func (t *Transceiver) BaudRate() uint32 { return t.dev.baudRate }

// Send encodes m and writes it to the adapter. It fails with
// ErrOperationNotSupported while the bus is closed. Write errors are
// returned as is, wrapped; there is no retry.
func (t *Transceiver) Send(m can.Message) error {
	if t.released {
		return ErrReleased
	}
	if !t.dev.isOpen {
		return fmt.Errorf("canusb: send on closed bus: %w", ErrOperationNotSupported)
	}
	cmd := lawicel.Encode(m)
	return t.dev.write(cmd.Bytes())
}

// ReceiveBuffer decodes any newly arrived serial bytes and returns the
// receive ring in slot order. The slice stays valid and is updated in place
// by later calls.
func (t *Transceiver) ReceiveBuffer() []can.Message {
	if t.released {
		return nil
	}
	t.drain()
	return t.rx.Data()
}

// ReceiveCursor decodes any newly arrived serial bytes and returns the number
// of messages received so far.
func (t *Transceiver) ReceiveCursor() uint64 {
	if t.released {
		return t.rx.Cursor()
	}
	t.drain()
	return t.rx.Cursor()
}

// Close releases the transceiver so another can be acquired.
func (t *Transceiver) Close() error {
	if t.released {
		return nil
	}
	t.released = true
	t.dev.transceiverAcquired = false
	return nil
}

// drain feeds every byte received since the last call through the frame
// accumulator and pushes each decoded frame into the ring.
func (t *Transceiver) drain() {
	buf := t.dev.serial.ReceiveBuffer()
	size := len(buf)
	if size == 0 {
		return
	}
	current := t.dev.serial.ReceiveCursor()

	received := (current - t.lastSerialCursor + size) % size
	if received == 0 {
		return
	}

	for i := 0; i < received; i++ {
		b := buf[(t.lastSerialCursor+i)%size]

		// Overlong garbage is truncated; it can never decode anyway.
		if t.parseLen < len(t.parse) {
			t.parse[t.parseLen] = b
			t.parseLen++
		}

		if b == lawicel.Terminator {
			if m, ok := lawicel.Decode(t.parse[:t.parseLen]); ok {
				t.rx.Push(m)
			}
			t.parseLen = 0
		}
	}

	t.lastSerialCursor = current
}
