package canusb

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/canusb/internal/can"
	"github.com/shaunagostinho/canusb/internal/ring"
	"github.com/shaunagostinho/canusb/internal/serialport"
)

func openBus(t *testing.T, mock *serialport.Mock) *Device {
	t.Helper()
	dev := New(mock)
	mgr, err := dev.AcquireBusManager()
	require.NoError(t, err)
	require.NoError(t, mgr.BusOn())
	mock.ResetWritten()
	return dev
}

func TestEndToEnd(t *testing.T) {
	mock := serialport.NewMock(256)
	dev := New(mock)

	mgr, err := dev.AcquireBusManager()
	require.NoError(t, err)

	require.NoError(t, mgr.SetBaudRate(1000000))
	assert.Equal(t, "S8\r", string(mock.Written()))
	assert.Equal(t, uint32(1000000), dev.BaudRate())

	mock.ResetWritten()
	require.NoError(t, mgr.BusOn())
	assert.Equal(t, "O\r", string(mock.Written()))
	assert.True(t, dev.IsOpen())

	tx, err := dev.AcquireTransceiver(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(1000000), tx.BaudRate())

	mock.ResetWritten()
	require.NoError(t, tx.Send(can.Message{
		ID:      0x111,
		Length:  3,
		Payload: [8]byte{0xAB, 0xCD, 0xEF},
	}))
	assert.Equal(t, "t1113ABCDEF\r", string(mock.Written()))

	before := tx.ReceiveCursor()
	mock.Inject([]byte("t2225AABBCCDDEE\r"))
	buf := tx.ReceiveBuffer()
	cursor := tx.ReceiveCursor()
	require.Equal(t, before+1, cursor)
	require.Len(t, buf, 4)

	got, lost := ring.Since(buf, before, cursor)
	assert.Zero(t, lost)
	require.Len(t, got, 1)
	assert.Equal(t, can.Message{
		ID:      0x222,
		Length:  5,
		Payload: [8]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE},
	}, got[0])
}

func TestAcquisitionIsExclusive(t *testing.T) {
	dev := New(serialport.NewMock(64))

	mgr, err := dev.AcquireBusManager()
	require.NoError(t, err)
	_, err = dev.AcquireBusManager()
	assert.ErrorIs(t, err, ErrResourceBusy)

	tx, err := dev.AcquireTransceiver(8)
	require.NoError(t, err)
	_, err = dev.AcquireTransceiver(8)
	assert.ErrorIs(t, err, ErrResourceBusy)

	require.NoError(t, mgr.Close())
	require.NoError(t, mgr.Close())
	mgr2, err := dev.AcquireBusManager()
	require.NoError(t, err)
	assert.NotSame(t, mgr, mgr2)

	require.NoError(t, tx.Close())
	_, err = dev.AcquireTransceiver(8)
	require.NoError(t, err)
}

func TestReleasedFacadesRefuseWork(t *testing.T) {
	mock := serialport.NewMock(64)
	dev := New(mock)

	mgr, err := dev.AcquireBusManager()
	require.NoError(t, err)
	require.NoError(t, mgr.Close())
	assert.ErrorIs(t, mgr.SetBaudRate(500000), ErrReleased)
	assert.ErrorIs(t, mgr.BusOn(), ErrReleased)
	assert.ErrorIs(t, mgr.SetFilterMode(can.AcceptAll), ErrReleased)
	assert.ErrorIs(t, mgr.OnBusOff(func() {}), ErrReleased)
	assert.Empty(t, mock.Written())

	tx, err := dev.AcquireTransceiver(2)
	require.NoError(t, err)
	require.NoError(t, tx.Close())
	assert.ErrorIs(t, tx.Send(can.Message{}), ErrReleased)
	assert.Nil(t, tx.ReceiveBuffer())
	assert.Zero(t, tx.ReceiveCursor())
}

func TestAcquireTransceiverRejectsEmptyBuffer(t *testing.T) {
	dev := New(serialport.NewMock(64))
	_, err := dev.AcquireTransceiver(0)
	assert.ErrorIs(t, err, ErrInvalidBufferSize)

	// a failed acquisition does not hold the slot
	_, err = dev.AcquireTransceiver(1)
	assert.NoError(t, err)
}

func TestBaudRateGating(t *testing.T) {
	mock := serialport.NewMock(64)
	dev := New(mock)
	mgr, err := dev.AcquireBusManager()
	require.NoError(t, err)

	assert.Equal(t, uint32(DefaultBaudRate), dev.BaudRate())
	assert.ErrorIs(t, mgr.SetBaudRate(123456), ErrOperationNotSupported)
	assert.Empty(t, mock.Written())

	require.NoError(t, mgr.SetBaudRate(500000))
	assert.Equal(t, "S6\r", string(mock.Written()))
	require.NoError(t, mgr.BusOn())

	mock.ResetWritten()
	assert.ErrorIs(t, mgr.SetBaudRate(500000), ErrOperationNotPermitted)
	assert.ErrorIs(t, mgr.SetBaudRate(250000), ErrOperationNotPermitted)
	assert.Empty(t, mock.Written())
	assert.Equal(t, uint32(500000), dev.BaudRate())

	// an unmapped rate on an open bus trips the open check first
	assert.Error(t, mgr.SetBaudRate(123456))
}

func TestBusOnIsIdempotent(t *testing.T) {
	mock := serialport.NewMock(64)
	dev := New(mock)
	mgr, err := dev.AcquireBusManager()
	require.NoError(t, err)

	require.NoError(t, mgr.BusOn())
	require.NoError(t, mgr.BusOn())
	assert.Equal(t, "O\r", string(mock.Written()))

	// the bus stays open across manager releases
	require.NoError(t, mgr.Close())
	assert.True(t, dev.IsOpen())
}

func TestFilterAndBusOffAreAcceptedButInert(t *testing.T) {
	mock := serialport.NewMock(64)
	dev := New(mock)
	mgr, err := dev.AcquireBusManager()
	require.NoError(t, err)

	called := false
	require.NoError(t, mgr.SetFilterMode(can.AcceptNone))
	require.NoError(t, mgr.OnBusOff(func() { called = true }))
	require.NoError(t, mgr.BusOn())
	assert.Equal(t, "O\r", string(mock.Written()))

	// accept-none has no effect: frames still arrive
	tx, err := dev.AcquireTransceiver(4)
	require.NoError(t, err)
	mock.Inject([]byte("t1230\r"))
	assert.Equal(t, uint64(1), tx.ReceiveCursor())
	assert.False(t, called)
}

func TestSendRequiresOpenBus(t *testing.T) {
	mock := serialport.NewMock(64)
	dev := New(mock)
	tx, err := dev.AcquireTransceiver(4)
	require.NoError(t, err)

	err = tx.Send(can.Message{ID: 1})
	assert.ErrorIs(t, err, ErrOperationNotSupported)
	assert.Empty(t, mock.Written())
}

func TestSendPropagatesWriteErrors(t *testing.T) {
	mock := serialport.NewMock(64)
	dev := openBus(t, mock)
	tx, err := dev.AcquireTransceiver(4)
	require.NoError(t, err)

	boom := errors.New("usb unplugged")
	mock.FailWrites(boom)
	assert.ErrorIs(t, tx.Send(can.Message{ID: 1}), boom)
}

func TestBaudRateWriteFailureKeepsOldRate(t *testing.T) {
	mock := serialport.NewMock(64)
	dev := New(mock)
	mgr, err := dev.AcquireBusManager()
	require.NoError(t, err)

	mock.FailWrites(errors.New("boom"))
	assert.Error(t, mgr.SetBaudRate(1000000))
	assert.Equal(t, uint32(DefaultBaudRate), dev.BaudRate())
	assert.Error(t, mgr.BusOn())
	assert.False(t, dev.IsOpen())
}

func TestReceiveHandlesTornFrames(t *testing.T) {
	mock := serialport.NewMock(64)
	dev := openBus(t, mock)
	tx, err := dev.AcquireTransceiver(4)
	require.NoError(t, err)

	mock.Inject([]byte("t12"))
	assert.Zero(t, tx.ReceiveCursor())
	mock.Inject([]byte("32AB"))
	assert.Zero(t, tx.ReceiveCursor())
	mock.Inject([]byte("CD\rT0000"))
	assert.Equal(t, uint64(1), tx.ReceiveCursor())
	mock.Inject([]byte("00010\r"))
	assert.Equal(t, uint64(2), tx.ReceiveCursor())

	buf := tx.ReceiveBuffer()
	assert.Equal(t, can.Message{ID: 0x123, Length: 2, Payload: [8]byte{0xAB, 0xCD}}, buf[0])
	assert.Equal(t, can.Message{ID: 0x1, Extended: true}, buf[1])
}

func TestReceiveIsIdempotentWithoutNewData(t *testing.T) {
	mock := serialport.NewMock(64)
	dev := openBus(t, mock)
	tx, err := dev.AcquireTransceiver(4)
	require.NoError(t, err)

	mock.Inject([]byte("t1230\r"))
	first := tx.ReceiveBuffer()
	c1 := tx.ReceiveCursor()
	c2 := tx.ReceiveCursor()
	second := tx.ReceiveBuffer()
	assert.Equal(t, uint64(1), c1)
	assert.Equal(t, c1, c2)
	assert.Equal(t, first, second)
}

func TestReceiveDropsNoiseAndAcks(t *testing.T) {
	mock := serialport.NewMock(256)
	dev := openBus(t, mock)
	tx, err := dev.AcquireTransceiver(8)
	require.NoError(t, err)

	// adapter acks, a BEL, a transmit ack, bad hex, a frame too long for
	// its length digit, then one good frame
	mock.Inject([]byte("\r\a\rz\rt12G0\rt1231AABB\rt4561FF\r"))
	cursor := tx.ReceiveCursor()
	require.Equal(t, uint64(1), cursor)
	assert.Equal(t, can.Message{ID: 0x456, Length: 1, Payload: [8]byte{0xFF}}, tx.ReceiveBuffer()[0])
}

func TestReceiveDiscardsOverlongLines(t *testing.T) {
	mock := serialport.NewMock(256)
	dev := openBus(t, mock)
	tx, err := dev.AcquireTransceiver(4)
	require.NoError(t, err)

	// a valid-looking prefix followed by far more data than fits
	mock.Inject([]byte("T1234567880011223344556677" + strings.Repeat("88", 20) + "\r"))
	assert.Zero(t, tx.ReceiveCursor())

	// the accumulator recovers at the next terminator
	mock.Inject([]byte("t7FF0\r"))
	assert.Equal(t, uint64(1), tx.ReceiveCursor())
	assert.Equal(t, can.Message{ID: 0x7FF}, tx.ReceiveBuffer()[0])
}

func TestReceiveAcrossSerialWrap(t *testing.T) {
	mock := serialport.NewMock(16)
	dev := openBus(t, mock)
	tx, err := dev.AcquireTransceiver(8)
	require.NoError(t, err)

	var prev uint64
	for i := 0; i < 10; i++ {
		// 12 bytes per frame in a 16 byte serial buffer wraps every call
		mock.Inject([]byte("t3213010203\r"))
		cursor := tx.ReceiveCursor()
		require.Equal(t, prev+1, cursor, "frame %d", i)
		got, lost := ring.Since(tx.ReceiveBuffer(), prev, cursor)
		require.Zero(t, lost)
		require.Len(t, got, 1)
		assert.Equal(t, can.Message{ID: 0x321, Length: 3, Payload: [8]byte{1, 2, 3}}, got[0])
		prev = cursor
	}
}

func TestRingOverwriteThroughTransceiver(t *testing.T) {
	mock := serialport.NewMock(512)
	dev := openBus(t, mock)
	tx, err := dev.AcquireTransceiver(3)
	require.NoError(t, err)

	for _, id := range []string{"001", "002", "003", "004", "005"} {
		mock.Inject([]byte("t" + id + "0\r"))
	}
	cursor := tx.ReceiveCursor()
	require.Equal(t, uint64(5), cursor)

	got, lost := ring.Since(tx.ReceiveBuffer(), 0, cursor)
	assert.Equal(t, uint64(2), lost)
	require.Len(t, got, 3)
	for i, m := range got {
		assert.Equal(t, uint32(3+i), m.ID)
	}
}

func TestTransceiverIgnoresBytesFromBeforeAcquisition(t *testing.T) {
	mock := serialport.NewMock(64)
	dev := openBus(t, mock)

	tx, err := dev.AcquireTransceiver(4)
	require.NoError(t, err)
	mock.Inject([]byte("t1110\r"))
	require.Equal(t, uint64(1), tx.ReceiveCursor())
	require.NoError(t, tx.Close())

	// a new transceiver does not replay what the old one consumed
	tx2, err := dev.AcquireTransceiver(4)
	require.NoError(t, err)
	assert.Zero(t, tx2.ReceiveCursor())
	mock.Inject([]byte("t2220\r"))
	assert.Equal(t, uint64(1), tx2.ReceiveCursor())
	assert.Equal(t, uint32(0x222), tx2.ReceiveBuffer()[0].ID)
}

func TestFacadesSatisfyDriverInterfaces(t *testing.T) {
	dev := New(serialport.NewMock(8))
	mgr, err := dev.AcquireBusManager()
	require.NoError(t, err)
	tx, err := dev.AcquireTransceiver(1)
	require.NoError(t, err)

	var bm can.BusManager = mgr
	var tr can.Transceiver = tx
	assert.NotNil(t, bm)
	assert.NotNil(t, tr)
}
