// Package serialport provides byte channels that look like a UART driver:
// a write path plus a fixed circular receive buffer filled in the background
// and a cursor marking the next byte to be written into it.
package serialport

import (
	"fmt"
	"io"
	"sync/atomic"
)

// DefaultBufferSize is the receive buffer size used when none is configured.
const DefaultBufferSize = 1024

// Channel is a duplex serial byte channel.
//
// ReceiveBuffer returns the whole circular receive buffer; it must be treated
// as read-only. ReceiveCursor is the index of the slot the next received byte
// will land in. Readers keep their own cursor and consume the bytes between
// the two, wrapping at len(ReceiveBuffer()). Bytes are lost if a reader falls
// more than one buffer behind.
type Channel interface {
	io.Writer
	ReceiveBuffer() []byte
	ReceiveCursor() int
}

// rxBuffer is the circular receive buffer shared by all channels. One
// goroutine calls put; any goroutine may read the cursor. Bytes behind the
// published cursor are stable until the writer laps them.
type rxBuffer struct {
	data   []byte
	cursor atomic.Int64
}

func newRxBuffer(size int) *rxBuffer {
	if size < 1 {
		size = DefaultBufferSize
	}
	return &rxBuffer{data: make([]byte, size)}
}

func (r *rxBuffer) put(p []byte) {
	c := int(r.cursor.Load())
	for _, b := range p {
		r.data[c] = b
		c++
		if c == len(r.data) {
			c = 0
		}
	}
	r.cursor.Store(int64(c))
}

func (r *rxBuffer) buffer() []byte { return r.data }

func (r *rxBuffer) index() int { return int(r.cursor.Load()) }

// writeFull writes all of p, looping over short writes.
func writeFull(w io.Writer, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := w.Write(p[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("serialport: %w", io.ErrShortWrite)
		}
	}
	return total, nil
}
