package serialport

import (
	"encoding/binary"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shaunagostinho/canusb/internal/can"
	"github.com/shaunagostinho/canusb/internal/lawicel"
)

// bell is what a Lawicel adapter answers to a command it rejects.
const bell = 0x07

// SimConfig configures the simulated adapter.
type SimConfig struct {
	BufferSize int
	Interval   time.Duration // time between generated frame bursts
}

// Sim is a Channel that behaves like a CANUSB adapter attached to a busy
// bus. It answers setup commands the way the adapter does ("\r" for OK, BEL
// for errors, "z\r"/"Z\r" after a transmit) and, once the bus is opened,
// produces a stream of engine-like frames. Frames are written into the
// receive buffer in two pieces so readers see torn frames.
type Sim struct {
	rx       *rxBuffer
	interval time.Duration

	mu      sync.Mutex
	written []byte
	pending []byte
	outbox  []byte
	open    bool

	t    float64 // virtual time accumulator
	rand *rand.Rand
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewSim starts a simulated adapter.
func NewSim(cfg SimConfig) *Sim {
	if cfg.Interval <= 0 {
		cfg.Interval = 50 * time.Millisecond
	}
	s := &Sim{
		rx:       newRxBuffer(cfg.BufferSize),
		interval: cfg.Interval,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	log.Printf("[serial] simulated adapter running (burst every %v)", cfg.Interval)
	return s
}

func (s *Sim) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, p...)
	for _, b := range p {
		if b != lawicel.Terminator {
			s.pending = append(s.pending, b)
			continue
		}
		s.outbox = append(s.outbox, s.reply(s.pending)...)
		s.pending = s.pending[:0]
	}
	return len(p), nil
}

// reply returns the adapter's answer to one command. Caller holds s.mu.
func (s *Sim) reply(cmd []byte) []byte {
	if len(cmd) == 0 {
		return []byte{lawicel.Terminator}
	}
	switch cmd[0] {
	case 'S':
		if s.open || len(cmd) != 2 {
			return []byte{bell}
		}
		if cmd[1] < '0' || cmd[1] > '8' {
			return []byte{bell}
		}
		return []byte{lawicel.Terminator}
	case 'O':
		if s.open {
			return []byte{bell}
		}
		s.open = true
		return []byte{lawicel.Terminator}
	case 'C':
		s.open = false
		return []byte{lawicel.Terminator}
	case 't', 'r':
		if !s.open {
			return []byte{bell}
		}
		return []byte{'z', lawicel.Terminator}
	case 'T', 'R':
		if !s.open {
			return []byte{bell}
		}
		return []byte{'Z', lawicel.Terminator}
	default:
		return []byte{bell}
	}
}

// Written returns a copy of everything written to the adapter.
func (s *Sim) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.written...)
}

func (s *Sim) ReceiveBuffer() []byte { return s.rx.buffer() }
func (s *Sim) ReceiveCursor() int    { return s.rx.index() }

// Close stops the generator.
func (s *Sim) Close() error {
	s.once.Do(func() {
		close(s.stop)
		<-s.done
	})
	return nil
}

func (s *Sim) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick flushes pending replies and, when the bus is open, emits one burst.
func (s *Sim) tick() {
	s.mu.Lock()
	out := s.outbox
	s.outbox = nil
	open := s.open
	s.mu.Unlock()

	if len(out) > 0 {
		s.rx.put(out)
	}
	if !open {
		return
	}

	for _, m := range s.burst() {
		cmd := lawicel.Encode(m)
		b := cmd.Bytes()
		split := 1 + s.rand.Intn(len(b)-1)
		s.rx.put(b[:split])
		s.rx.put(b[split:])
	}
}

// burst generates one round of simulated traffic.
func (s *Sim) burst() []can.Message {
	s.t += s.interval.Seconds()

	// Engine speed cycling between idle and revving
	rpm := 850 + 4000*math.Pow(math.Sin(s.t*0.3), 2) + s.rand.Float64()*50
	throttle := (rpm - 850) / (4850 - 850) * 100
	coolant := 85 + s.rand.Float64()*5

	engine := can.Message{ID: 0x100, Length: 4}
	binary.BigEndian.PutUint16(engine.Payload[0:2], uint16(rpm))
	engine.Payload[2] = uint8(throttle)
	engine.Payload[3] = uint8(coolant + 40)

	// J1939 CCVS wheel-based vehicle speed, 1/256 km/h per bit
	speed := throttle / 100 * 220
	ccvs := can.Message{ID: 0x18FEF100, Extended: true, Length: 8}
	binary.LittleEndian.PutUint16(ccvs.Payload[1:3], uint16(speed*256))

	out := []can.Message{engine, ccvs}
	if s.rand.Intn(20) == 0 {
		out = append(out, can.Message{ID: 0x7DF, RemoteRequest: true, Length: 8})
	}
	return out
}
