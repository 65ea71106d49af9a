package canusb

import (
	"fmt"

	"github.com/shaunagostinho/canusb/internal/can"
	"github.com/shaunagostinho/canusb/internal/lawicel"
)

var _ can.BusManager = (*BusManager)(nil)

// BusManager configures and opens the bus. Obtain one with
// Device.AcquireBusManager and Close it to let another be acquired.
type BusManager struct {
	dev      *Device
	busOff   can.BusOffHandler
	released bool
}

// SetBaudRate sends the setup command for hz. It is only allowed before
// BusOn and only for the adapter's preset rates (10k, 20k, 50k, 100k, 125k,
// 250k, 500k, 800k and 1M).
func (m *BusManager) SetBaudRate(hz uint32) error {
	if m.released {
		return ErrReleased
	}
	if m.dev.isOpen {
		return fmt.Errorf("canusb: set baud rate %d on open bus: %w", hz, ErrOperationNotPermitted)
	}
	code, ok := lawicel.BaudRateCode(hz)
	if !ok {
		return fmt.Errorf("canusb: baud rate %d: %w", hz, ErrOperationNotSupported)
	}
	cmd := lawicel.SetupCommand(code)
	if err := m.dev.write(cmd[:]); err != nil {
		return err
	}
	m.dev.baudRate = hz
	return nil
}

// SetFilterMode is accepted for interface compatibility but does nothing:
// the adapter has no filter command and always accepts every frame.
func (m *BusManager) SetFilterMode(can.Accept) error {
	if m.released {
		return ErrReleased
	}
	return nil
}

// OnBusOff stores handler. The protocol never reports bus-off, so it is
// never called.
func (m *BusManager) OnBusOff(handler can.BusOffHandler) error {
	if m.released {
		return ErrReleased
	}
	m.busOff = handler
	return nil
}

// BusOn opens the bus. It does nothing if the bus is already open.
func (m *BusManager) BusOn() error {
	if m.released {
		return ErrReleased
	}
	if m.dev.isOpen {
		return nil
	}
	cmd := lawicel.OpenCommand()
	if err := m.dev.write(cmd[:]); err != nil {
		return err
	}
	m.dev.isOpen = true
	return nil
}

// Close releases the bus manager so another can be acquired. The bus stays
// open.
func (m *BusManager) Close() error {
	if m.released {
		return nil
	}
	m.released = true
	m.dev.busManagerAcquired = false
	return nil
}
