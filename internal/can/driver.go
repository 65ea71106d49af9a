package can

// Accept selects which messages a bus manager lets through to transceivers.
type Accept int

const (
	AcceptAll Accept = iota
	AcceptNone
)

func (a Accept) String() string {
	switch a {
	case AcceptAll:
		return "all"
	case AcceptNone:
		return "none"
	default:
		return "unknown"
	}
}

// ParseAccept maps a config string ("all", "none") to an Accept value.
func ParseAccept(s string) (Accept, bool) {
	switch s {
	case "", "all":
		return AcceptAll, true
	case "none":
		return AcceptNone, true
	default:
		return AcceptAll, false
	}
}

// BusOffHandler is called when a controller leaves the bus.
type BusOffHandler func()

// BusManager configures a CAN bus. Baud rate and filter changes only make
// sense before BusOn.
type BusManager interface {
	SetBaudRate(hz uint32) error
	SetFilterMode(accept Accept) error
	OnBusOff(handler BusOffHandler) error
	BusOn() error
}

// Transceiver sends messages and exposes received ones through a circular
// buffer and a write cursor.
//
// ReceiveBuffer returns the backing storage in slot order, not arrival order.
// ReceiveCursor counts every message ever stored; the slot of the message
// with cursor value c is c % len(ReceiveBuffer()).
type Transceiver interface {
	BaudRate() uint32
	Send(m Message) error
	ReceiveBuffer() []Message
	ReceiveCursor() uint64
}
