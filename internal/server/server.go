// Package server exposes a tinysql database over WebSocket.
//
// Clients connect to /ws and send one JSON message per statement:
//
//	{"id": "q1", "sql": "SELECT * FROM users"}
//
// The server answers with a columns message (queries only), one row
// message per result row, and a done message carrying the number of rows
// inserted. A failed statement produces a single error message instead.
// Every reply echoes the request id.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/FocuswithJustin/tinysql/core/db"
	"github.com/FocuswithJustin/tinysql/internal/logging"
)

// Message types sent to clients
const (
	TypeColumns = "columns"
	TypeRow     = "row"
	TypeDone    = "done"
	TypeError   = "error"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Request is a client message.
type Request struct {
	ID  string `json:"id,omitempty"`
	SQL string `json:"sql"`
}

// Response is a server message.
type Response struct {
	Type         string   `json:"type"`
	ID           string   `json:"id,omitempty"`
	Columns      []string `json:"columns,omitempty"`
	Values       []any    `json:"values,omitempty"`
	Changes      *int64   `json:"changes,omitempty"`
	LastInsertID int64    `json:"last_insert_id,omitempty"`
	Message      string   `json:"message,omitempty"`
}

// Config holds connection limits.
type Config struct {
	// AllowedOrigins lists accepted Origin headers. "*" accepts any origin
	// and "*.example.com" any subdomain. Requests without an Origin header
	// (non-browser clients) are always accepted.
	AllowedOrigins []string

	// MaxMessageSize is the largest accepted client message in bytes.
	MaxMessageSize int64

	// MaxMessageRate is the sustained number of statements per second a
	// client may send, with bursts of twice that.
	MaxMessageRate int
}

// DefaultConfig returns limits suitable for local use.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
		MaxMessageSize: 64 * 1024,
		MaxMessageRate: 50,
	}
}

// Server serves one database to any number of WebSocket clients.
// Statements from all clients run one at a time.
type Server struct {
	db       *db.DB
	cfg      Config
	upgrader websocket.Upgrader

	stmtMu sync.Mutex

	mu      sync.Mutex
	clients map[*client]struct{}
}

// New returns a server for d.
func New(d *db.DB, cfg Config) *Server {
	s := &Server{
		db:      d,
		cfg:     cfg,
		clients: make(map[*client]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the HTTP handler: /ws for statements and /healthz for
// liveness checks, wrapped in request logging and security headers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "ok", "clients": s.Clients()})
	})
	return logging.CombinedMiddleware(securityHeaders(mux))
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logging.ServerStartup("websocket", addr, "db", s.db.Path())
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		switch {
		case allowed == "*", allowed == origin:
			return true
		case strings.HasPrefix(allowed, "*.") && strings.HasSuffix(origin, allowed[1:]):
			return true
		}
	}
	logging.Warn("websocket origin rejected", "origin", origin)
	return false
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	if s.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}

	ctx := logging.WithSessionID(r.Context(), uuid.NewString())
	c := &client{
		server:  s,
		conn:    conn,
		send:    make(chan Response, 256),
		done:    make(chan struct{}),
		limiter: newRateBucket(s.cfg.MaxMessageRate),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	logging.WebSocketEvent(ctx, "client_connected", n, "remote_addr", r.RemoteAddr)

	go c.writePump()
	c.readPump(ctx)

	s.mu.Lock()
	delete(s.clients, c)
	n = len(s.clients)
	s.mu.Unlock()
	logging.WebSocketEvent(ctx, "client_disconnected", n)
}

// execute runs one statement and streams its responses to c.
func (s *Server) execute(ctx context.Context, c *client, req Request) {
	s.stmtMu.Lock()
	defer s.stmtMu.Unlock()

	rows, err := s.db.Query(ctx, req.SQL)
	if err != nil {
		c.fail(ctx, req, err)
		return
	}
	defer rows.Close()

	if cols := rows.Columns(); len(cols) > 0 {
		if !c.emit(Response{Type: TypeColumns, ID: req.ID, Columns: cols}) {
			return
		}
	}
	for row, err := range rows.All(ctx) {
		if err != nil {
			c.fail(ctx, req, err)
			return
		}
		if !c.emit(Response{Type: TypeRow, ID: req.ID, Values: row}) {
			return
		}
	}
	changes := rows.Changes()
	c.emit(Response{Type: TypeDone, ID: req.ID, Changes: &changes, LastInsertID: rows.LastInsertID()})
}
