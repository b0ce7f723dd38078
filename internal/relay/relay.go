// Package relay exposes a connected lamp to local out-of-process front
// ends over HTTP.
//
// Routes:
//
//	GET  /api/v1/status    connection state and queue length
//	POST /api/v1/commands  enqueue commands and start sending them
//	GET  /api/v1/events    WebSocket stream of client events
package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gion86/SmartLamp/internal/ble"
	"github.com/gion86/SmartLamp/internal/ble/protocol"
)

// Controller is the subset of *ble.Client the relay drives.
type Controller interface {
	Enqueue(cmd string) error
	SendAll()
	State() ble.ConnState
	Address() string
	QueueLen() int
	RegisterListener(fn func(ble.Event)) (unregister func())
}

const (
	pingInterval = 20 * time.Second
	writeWait    = 5 * time.Second
	// Events buffered per WebSocket client before it is considered stalled.
	clientBuffer = 64
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Front ends run on the same machine from file:// or localhost pages.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// Server serves the relay routes for one Controller.
type Server struct {
	ctrl Controller
}

// New returns a relay for ctrl.
func New(ctrl Controller) *Server {
	return &Server{ctrl: ctrl}
}

// Handler wires all /api/v1/* routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", s.status)
	mux.HandleFunc("POST /api/v1/commands", s.commands)
	mux.HandleFunc("GET /api/v1/events", s.eventStream)
	return withLogging(mux)
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("[relay] listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("relay: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("relay: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay: %w", err)
	}
	return nil
}

type statusResponse struct {
	State   string `json:"state"`
	Address string `json:"address"`
	Queued  int    `json:"queued"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		State:   s.ctrl.State().String(),
		Address: s.ctrl.Address(),
		Queued:  s.ctrl.QueueLen(),
	})
}

type commandsRequest struct {
	Commands []string `json:"commands"`
}

type commandsResponse struct {
	Queued int    `json:"queued"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) commands(w http.ResponseWriter, r *http.Request) {
	var req commandsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if len(req.Commands) == 0 {
		http.Error(w, "commands must not be empty", http.StatusBadRequest)
		return
	}

	cmds := make([]string, 0, len(req.Commands))
	for i, text := range req.Commands {
		cmd, err := protocol.Raw(text)
		if err != nil {
			http.Error(w, fmt.Sprintf("commands[%d]: %v", i, err), http.StatusBadRequest)
			return
		}
		cmds = append(cmds, cmd)
	}

	queued := 0
	for _, cmd := range cmds {
		if err := s.ctrl.Enqueue(cmd); err != nil {
			slog.Warn("[relay] enqueue rejected", "command", strings.TrimSpace(cmd), "error", err)
			code := http.StatusInternalServerError
			if errors.Is(err, ble.ErrQueueFull) || errors.Is(err, ble.ErrClosed) {
				code = http.StatusServiceUnavailable
			}
			// Whatever made it into the queue still goes out.
			if queued > 0 {
				s.ctrl.SendAll()
			}
			writeJSON(w, code, commandsResponse{Queued: queued, Error: err.Error()})
			return
		}
		queued++
	}
	s.ctrl.SendAll()
	writeJSON(w, http.StatusAccepted, commandsResponse{Queued: queued})
}

// eventMessage is the JSON form of a ble.Event.
type eventMessage struct {
	Type    string `json:"type"`
	Address string `json:"address,omitempty"`
	Command string `json:"command,omitempty"`
	Line    string `json:"line,omitempty"`
	Error   string `json:"error,omitempty"`
	Status  int    `json:"status"`
	Time    string `json:"time"`
}

func newEventMessage(e ble.Event) eventMessage {
	msg := eventMessage{
		Type:    e.Type.String(),
		Address: e.Address,
		Command: e.Command,
		Line:    e.Line,
		Status:  int(e.Status()),
		Time:    e.Time.UTC().Format(time.RFC3339Nano),
	}
	if e.Err != nil {
		msg.Error = e.Err.Error()
	}
	return msg
}

func (s *Server) eventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[relay] ws upgrade", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := make(chan eventMessage, clientBuffer)
	unregister := s.ctrl.RegisterListener(func(e ble.Event) {
		select {
		case ch <- newEventMessage(e):
		default:
			// Listeners must not block the client's event delivery.
			slog.Warn("[relay] ws client stalled, dropping event", "type", e.Type)
		}
	})
	defer unregister()

	// Reading is needed to process pings and to notice the peer closing.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case msg := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				slog.Debug("[relay] ws write", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rw, r)
		slog.Debug("[relay] request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.code,
			"duration", time.Since(start),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	code int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.code = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("relay: response writer does not support hijacking")
	}
	rw.code = http.StatusSwitchingProtocols
	return h.Hijack()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
