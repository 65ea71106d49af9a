// Package lawicel encodes and decodes the Lawicel/CANUSB ASCII protocol.
//
// Every command is terminated by a carriage return. Data frames look like
//
//	t<iii><l><dd..>\r        standard data frame
//	T<iiiiiiii><l><dd..>\r   extended data frame
//	r<iii><l>\r              standard remote request
//	R<iiiiiiii><l>\r         extended remote request
//
// with uppercase, zero-padded hex identifiers and one hex byte pair per
// payload byte. Nothing in this package allocates or performs I/O.
package lawicel

import (
	"github.com/shaunagostinho/canusb/internal/can"
)

// Terminator ends every command on the wire.
const Terminator = '\r'

// MaxFrameSize is the longest encoded frame: 'T' + 8 id digits + length
// digit + 16 data digits + terminator = 27 bytes, rounded up.
const MaxFrameSize = 28

const (
	standardIDDigits = 3
	extendedIDDigits = 8
)

const hexDigits = "0123456789ABCDEF"

// Command holds one encoded command in a fixed buffer.
type Command struct {
	buf [MaxFrameSize]byte
	n   int
}

func (c *Command) push(b byte) {
	if c.n < len(c.buf) {
		c.buf[c.n] = b
		c.n++
	}
}

func (c *Command) pushHex(v uint32, digits int) {
	for shift := (digits - 1) * 4; shift >= 0; shift -= 4 {
		c.push(hexDigits[(v>>uint(shift))&0xF])
	}
}

// Bytes returns the encoded command. The slice aliases c.
func (c *Command) Bytes() []byte { return c.buf[:c.n] }

// Len returns the encoded size in bytes.
func (c *Command) Len() int { return c.n }

func (c *Command) String() string { return string(c.buf[:c.n]) }

// Encode renders m in wire format. Identifiers wider than the frame format
// keep their low digits and lengths above 8 are clamped to 8; call
// m.Validate first when that matters.
func Encode(m can.Message) Command {
	var c Command

	length := m.Length
	if length > can.MaxLength {
		length = can.MaxLength
	}

	if m.Extended {
		if m.RemoteRequest {
			c.push('R')
		} else {
			c.push('T')
		}
		c.pushHex(m.ID, extendedIDDigits)
	} else {
		if m.RemoteRequest {
			c.push('r')
		} else {
			c.push('t')
		}
		c.pushHex(m.ID, standardIDDigits)
	}

	c.push('0' + length)

	if !m.RemoteRequest {
		for i := uint8(0); i < length; i++ {
			c.pushHex(uint32(m.Payload[i]), 2)
		}
	}

	c.push(Terminator)
	return c
}

// Decode parses one complete frame, terminator included. It reports false
// for anything that is not a well-formed t, T, r or R frame: unknown command
// byte, short input, length digit outside 0..8, wrong byte count or bad hex.
// A failed decode returns the zero Message. Decode never panics.
//
// Identifier digits beyond the frame format (above 0x7FF for t/r, above
// 0x1FFFFFFF for T/R) are masked off. Remote requests may omit the data
// section or carry length*2 digits of it; those digits are checked and
// dropped, since a remote request has no payload.
func Decode(b []byte) (can.Message, bool) {
	if len(b) == 0 {
		return can.Message{}, false
	}

	var m can.Message
	var idDigits int
	idMask := uint32(can.MaxStandardID)
	switch b[0] {
	case 't', 'r':
		idDigits = standardIDDigits
	case 'T', 'R':
		idDigits = extendedIDDigits
		idMask = can.MaxExtendedID
		m.Extended = true
	default:
		return can.Message{}, false
	}
	m.RemoteRequest = b[0] == 'r' || b[0] == 'R'

	// command + id + length digit + terminator
	if len(b) < idDigits+3 {
		return can.Message{}, false
	}

	id, ok := parseHex(b[1 : 1+idDigits])
	if !ok {
		return can.Message{}, false
	}

	lengthDigit := b[1+idDigits]
	if lengthDigit < '0' || lengthDigit > '0'+can.MaxLength {
		return can.Message{}, false
	}
	length := lengthDigit - '0'

	rest := b[2+idDigits:]
	dataDigits := int(length) * 2
	switch {
	case len(rest)-1 == dataDigits:
	case m.RemoteRequest && len(rest) == 1:
		dataDigits = 0
	default:
		return can.Message{}, false
	}
	if rest[len(rest)-1] != Terminator {
		return can.Message{}, false
	}

	for i := 0; i < dataDigits/2; i++ {
		v, ok := parseHex(rest[i*2 : i*2+2])
		if !ok {
			return can.Message{}, false
		}
		if !m.RemoteRequest {
			m.Payload[i] = byte(v)
		}
	}

	m.ID = id & idMask
	m.Length = length
	return m, true
}

// parseHex parses up to eight hex digits, either case.
func parseHex(b []byte) (uint32, bool) {
	if len(b) == 0 || len(b) > 8 {
		return 0, false
	}
	var v uint32
	for _, c := range b {
		var d byte
		switch {
		case c >= '0' && c <= '9':
			d = c - '0'
		case c >= 'A' && c <= 'F':
			d = c - 'A' + 10
		case c >= 'a' && c <= 'f':
			d = c - 'a' + 10
		default:
			return 0, false
		}
		v = v<<4 | uint32(d)
	}
	return v, true
}
