// Package server serves a browser monitor for one CAN transceiver and
// loads the bridge configuration.
package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shaunagostinho/canusb/internal/can"
	"github.com/shaunagostinho/canusb/internal/canusb"
	"github.com/shaunagostinho/canusb/internal/capture"
	"github.com/shaunagostinho/canusb/internal/ring"
)

// sendTimeout bounds how long an HTTP or websocket transmit waits for the
// poll loop to pick it up.
const sendTimeout = 2 * time.Second

// Server drains the transceiver and broadcasts received frames to WebSocket
// clients.
//
// The device and its transceiver are only touched from the poll loop; HTTP
// handlers hand transmit requests to it over sendCh.
type Server struct {
	cfg      *Config
	dev      *canusb.Device
	tx       can.Transceiver
	webFS    fs.FS
	recorder *capture.Recorder

	sendCh       chan sendRequest
	pollInterval time.Duration

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	statsMu sync.Mutex
	stats   Status
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

type sendRequest struct {
	msg    can.Message
	result chan error
}

// Update is the JSON structure sent to all WebSocket clients.
type Update struct {
	Frames []FrameJSON `json:"frames,omitempty"`
	Lost   uint64      `json:"lost,omitempty"` // frames overwritten before the poll saw them
	Status *Status     `json:"status,omitempty"`
	Error  string      `json:"error,omitempty"`
	Stamp  int64       `json:"stamp"` // Unix ms
}

// FrameJSON is a CAN message as clients see it.
type FrameJSON struct {
	ID       uint32 `json:"id"`
	Extended bool   `json:"extended"`
	Remote   bool   `json:"remote"`
	Length   uint8  `json:"length"`
	Data     string `json:"data"` // hex
	Text     string `json:"text"` // candump style
}

// Status summarizes the bridge for /api/status and new clients.
type Status struct {
	Open     bool   `json:"open"`
	BaudRate uint32 `json:"baudRate"`
	Cursor   uint64 `json:"cursor"`
	Received uint64 `json:"received"`
	Sent     uint64 `json:"sent"`
	Lost     uint64 `json:"lost"`
	Clients  int    `json:"clients"`
}

// TxRequest is the body of /api/send and of websocket messages from clients.
type TxRequest struct {
	ID       uint32 `json:"id"`
	Extended bool   `json:"extended"`
	Remote   bool   `json:"remote"`
	Length   uint8  `json:"length"` // requested DLC for remote frames
	Data     string `json:"data"`   // hex payload for data frames
}

// Message validates the request and converts it to a CAN message. Ids that
// do not fit 11 bits select the extended format.
func (r TxRequest) Message() (can.Message, error) {
	m := can.Message{
		ID:            r.ID,
		Extended:      r.Extended || r.ID > can.MaxStandardID,
		RemoteRequest: r.Remote,
	}
	if r.Remote {
		m.Length = r.Length
	} else {
		data, err := hex.DecodeString(r.Data)
		if err != nil {
			return m, fmt.Errorf("data: %w", err)
		}
		if len(data) > can.MaxLength {
			return m, can.ErrInvalidLength
		}
		m.Length = uint8(len(data))
		copy(m.Payload[:], data)
	}
	return m, m.Validate()
}

func toFrameJSON(m can.Message) FrameJSON {
	return FrameJSON{
		ID:       m.ID,
		Extended: m.Extended,
		Remote:   m.RemoteRequest,
		Length:   m.Length,
		Data:     hex.EncodeToString(m.Data()),
		Text:     m.String(),
	}
}

// New creates a new Server. The bus must already be configured and tx freshly
// acquired; tx must not be used by anyone else once Run is called.
func New(cfg *Config, dev *canusb.Device, tx can.Transceiver, webFS fs.FS) *Server {
	hz := cfg.Monitor.PollHz
	if hz <= 0 {
		hz = 50
	}
	return &Server{
		cfg:          cfg,
		dev:          dev,
		tx:           tx,
		webFS:        webFS,
		recorder:     capture.New(cfg.Capture),
		sendCh:       make(chan sendRequest),
		pollInterval: time.Second / time.Duration(hz),
		clients:      make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		stats: Status{
			Open:     dev.IsOpen(),
			BaudRate: dev.BaudRate(),
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Serve embedded web files
	if s.webFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.webFS)))
	}

	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/send", s.handleSend)
	mux.HandleFunc("/api/config", s.handleConfig)
	return mux
}

// Run starts the HTTP server and the poll loop.
func (s *Server) Run(ctx context.Context) error {
	go s.pollLoop(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", n)

	// Send initial status
	status := s.status()
	if data, err := json.Marshal(Update{Status: &status, Stamp: time.Now().UnixMilli()}); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine: transmit requests from the client
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			log.Printf("[ws] client disconnected (%d total)", n)
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			// r.Context() ends when the handler returns, not with the socket.
			if err := s.sendJSON(context.Background(), data); err != nil {
				reply, _ := json.Marshal(Update{Error: err.Error(), Stamp: time.Now().UnixMilli()})
				select {
				case client.send <- reply:
				default:
				}
			}
		}
	}()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	data, err := json.Marshal(s.status())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", 400)
		return
	}
	if err := s.sendJSON(r.Context(), body); err != nil {
		http.Error(w, err.Error(), sendErrorStatus(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// errBadRequest marks client errors in transmit requests.
var errBadRequest = errors.New("bad request")

func sendErrorStatus(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return 400
	case errors.Is(err, canusb.ErrOperationNotSupported), errors.Is(err, canusb.ErrReleased):
		return 409
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return 503
	default:
		return 502
	}
}

func (s *Server) sendJSON(ctx context.Context, body []byte) error {
	var req TxRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	m, err := req.Message()
	if err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return s.submit(ctx, m)
}

// submit hands m to the poll loop and waits for the result.
func (s *Server) submit(ctx context.Context, m can.Message) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req := sendRequest{msg: m, result: make(chan error, 1)}
	select {
	case s.sendCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		// Capture can be toggled live; bus settings apply on restart.
		s.recorder.SetEnabled(s.cfg.captureEnabled())

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func (c *Config) captureEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Capture.Enabled
}

// pollLoop owns the transceiver: it drains it at the configured rate,
// broadcasts new frames and performs queued transmits.
func (s *Server) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	// Start from zero rather than ReceiveCursor: that call drains, and frames
	// already waiting would be skipped.
	var prev uint64

	for {
		select {
		case <-ctx.Done():
			s.recorder.Close()
			return

		case req := <-s.sendCh:
			err := s.tx.Send(req.msg)
			if err != nil {
				log.Printf("[canusb] send %s failed: %v", req.msg, err)
			} else {
				s.statsMu.Lock()
				s.stats.Sent++
				s.statsMu.Unlock()
			}
			req.result <- err

		case <-ticker.C:
			buf := s.tx.ReceiveBuffer()
			cursor := s.tx.ReceiveCursor()
			frames, lost := ring.Since(buf, prev, cursor)
			prev = cursor

			s.statsMu.Lock()
			s.stats.Open = s.dev.IsOpen()
			s.stats.BaudRate = s.tx.BaudRate()
			s.stats.Cursor = cursor
			s.stats.Received += uint64(len(frames))
			s.stats.Lost += lost
			s.statsMu.Unlock()

			if len(frames) == 0 && lost == 0 {
				continue
			}
			if lost > 0 {
				log.Printf("[canusb] %d frames overwritten before they were read; raise can.buffer_size or poll_hz", lost)
			}

			now := time.Now()
			s.recorder.Record(now, frames)

			out := make([]FrameJSON, len(frames))
			for i, m := range frames {
				out[i] = toFrameJSON(m)
			}
			s.broadcast(Update{Frames: out, Lost: lost, Stamp: now.UnixMilli()})
		}
	}
}

func (s *Server) status() Status {
	s.statsMu.Lock()
	st := s.stats
	s.statsMu.Unlock()

	s.clientsMu.RLock()
	st.Clients = len(s.clients)
	s.clientsMu.RUnlock()
	return st
}

func (s *Server) broadcast(u Update) {
	data, err := json.Marshal(u)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
