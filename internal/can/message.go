package can

import (
	"errors"
	"fmt"
	"strings"
)

// Identifier and length limits for classical CAN (2.0A/2.0B).
const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
	MaxLength     = 8
)

var (
	ErrInvalidID     = errors.New("can: invalid identifier")
	ErrInvalidLength = errors.New("can: invalid data length")
)

// Message is a single classical CAN frame.
//
// Only the first Length bytes of Payload are significant. A remote request
// carries a Length (the requested DLC) but no payload.
type Message struct {
	ID            uint32 // 11-bit (standard) or 29-bit (extended)
	Extended      bool
	RemoteRequest bool
	Length        uint8 // 0..8
	Payload       [8]byte
}

// Validate reports whether the identifier fits the frame format and the
// length is within 0..8.
func (m Message) Validate() error {
	if m.Length > MaxLength {
		return ErrInvalidLength
	}
	limit := uint32(MaxStandardID)
	if m.Extended {
		limit = MaxExtendedID
	}
	if m.ID > limit {
		return ErrInvalidID
	}
	return nil
}

// Data returns the significant payload bytes. Remote requests return nil.
func (m Message) Data() []byte {
	if m.RemoteRequest {
		return nil
	}
	n := int(m.Length)
	if n > MaxLength {
		n = MaxLength
	}
	return m.Payload[:n]
}

// String formats the message like candump: "123#DEADBEEF", "1ABCDEFF#R".
func (m Message) String() string {
	var b strings.Builder
	if m.Extended {
		fmt.Fprintf(&b, "%08X#", m.ID)
	} else {
		fmt.Fprintf(&b, "%03X#", m.ID)
	}
	if m.RemoteRequest {
		b.WriteByte('R')
		if m.Length > 0 {
			fmt.Fprintf(&b, "%d", m.Length)
		}
		return b.String()
	}
	for _, v := range m.Data() {
		fmt.Fprintf(&b, "%02X", v)
	}
	return b.String()
}

// NewMessage builds a data frame from id and data, selecting the extended
// format when id does not fit in 11 bits.
func NewMessage(id uint32, data []byte) (Message, error) {
	var m Message
	if len(data) > MaxLength {
		return m, ErrInvalidLength
	}
	m.ID = id
	m.Extended = id > MaxStandardID
	m.Length = uint8(len(data))
	copy(m.Payload[:], data)
	return m, m.Validate()
}
