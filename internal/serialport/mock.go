package serialport

import "sync"

// Mock is an in-memory Channel for tests. Bytes passed to Inject show up in
// the receive buffer; everything written is kept for inspection.
type Mock struct {
	rx *rxBuffer

	mu       sync.Mutex
	written  []byte
	writeErr error
}

// NewMock creates a mock with a receive buffer of size bytes.
func NewMock(size int) *Mock {
	return &Mock{rx: newRxBuffer(size)}
}

func (m *Mock) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	m.written = append(m.written, p...)
	return len(p), nil
}

// Inject simulates bytes arriving from the adapter.
func (m *Mock) Inject(p []byte) { m.rx.put(p) }

// Written returns a copy of everything written so far.
func (m *Mock) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.written...)
}

// ResetWritten clears the write log.
func (m *Mock) ResetWritten() {
	m.mu.Lock()
	m.written = nil
	m.mu.Unlock()
}

// FailWrites makes every following Write return err. Pass nil to recover.
func (m *Mock) FailWrites(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

func (m *Mock) ReceiveBuffer() []byte { return m.rx.buffer() }
func (m *Mock) ReceiveCursor() int    { return m.rx.index() }
