package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/runbox-io/runbox/config"
	"github.com/runbox-io/runbox/supervisor"
)

// Server is the WebSocket transport in front of the supervisor.
//
// Each connection can run any number of executions, concurrently if the
// client interleaves execute commands; every session's events are relayed
// in order as they are produced. Commands and events for different sessions
// share one socket, so writes are serialized per connection.
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *supervisor.Registry
	upgrader websocket.Upgrader

	httpServer *http.Server

	mu    sync.Mutex
	conns int
}

// New creates the WebSocket server.
func New(cfg *config.Config, logger *zap.Logger, registry *supervisor.Registry) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The service carries no credentials; origin policy is left to
			// the deployment's reverse proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws/python", s.handleWS)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.WSPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the HTTP handler, used by tests to run the server on an
// ephemeral port.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving and blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info("starting websocket server", zap.Int("port", s.cfg.Server.WSPort))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"message":"Python sandbox is running"}`))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.conns++
	total := s.conns
	s.mu.Unlock()
	s.logger.Info("websocket connected", zap.Int("total_connections", total))

	c := &clientConn{conn: conn}
	s.readLoop(c)

	s.mu.Lock()
	s.conns--
	total = s.conns
	s.mu.Unlock()
	s.logger.Info("websocket disconnected", zap.Int("total_connections", total))
}

// clientConn wraps a websocket connection with a write lock. gorilla permits
// only one concurrent writer, and every in-flight session has its own
// forwarding goroutine.
type clientConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *clientConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// readLoop processes inbound commands until the client disconnects. The
// returned closed channel stops all event forwarding for this connection.
func (s *Server) readLoop(c *clientConn) {
	closed := make(chan struct{})
	defer close(closed)
	defer c.conn.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			_ = c.writeJSON(errorMessage("Invalid JSON format. Please send properly formatted JSON data."))
			continue
		}

		switch cmd.Type {
		case commandExecute:
			s.handleExecute(c, cmd, closed)
		case commandStop:
			s.handleStop(c, cmd)
		default:
			_ = c.writeJSON(errorMessage("Message format is invalid. Please send JSON with 'type' and 'code' fields."))
		}
	}
}

func (s *Server) handleExecute(c *clientConn, cmd command, closed <-chan struct{}) {
	req := supervisor.Request{
		Code:            cmd.Code,
		TimeoutOverride: time.Duration(cmd.TimeoutOverride * float64(time.Second)),
	}

	id, err := s.registry.Create(req)
	if err != nil {
		_ = c.writeJSON(errorMessage(requestErrorText(err)))
		return
	}

	sess, err := s.registry.Lookup(id)
	if err != nil {
		// Terminal and evicted before we could attach; nothing to relay.
		_ = c.writeJSON(errorMessage(requestErrorText(err)))
		return
	}

	go s.forwardEvents(c, sess, closed)
}

// forwardEvents relays one session's event sequence to the client, then
// acknowledges the session so the registry can evict it.
func (s *Server) forwardEvents(c *clientConn, sess *supervisor.Session, closed <-chan struct{}) {
	for ev := range sess.Subscribe(closed) {
		if err := c.writeJSON(eventMessage(sess.ID(), ev, sess.Policy())); err != nil {
			s.logger.Warn("event write failed, dropping subscriber",
				zap.String("session_id", sess.ID()), zap.Error(err))
			break
		}
	}

	select {
	case <-closed:
		// The client is gone; let the retention window evict the session so
		// its result stays observable through the registry for a while.
	default:
		if err := s.registry.Acknowledge(sess.ID()); err != nil {
			s.logger.Debug("acknowledge failed", zap.String("session_id", sess.ID()), zap.Error(err))
		}
	}
}

func (s *Server) handleStop(c *clientConn, cmd command) {
	if cmd.ID == "" {
		_ = c.writeJSON(errorMessage("Stop requires a session 'id'."))
		return
	}
	if err := s.registry.Cancel(cmd.ID); err != nil {
		_ = c.writeJSON(errorMessage(requestErrorText(err)))
	}
}

// requestErrorText maps supervisor errors onto client-facing text.
func requestErrorText(err error) string {
	switch {
	case errors.Is(err, supervisor.ErrInvalidRequest):
		return fmt.Sprintf("Request rejected: %v.", err)
	case errors.Is(err, supervisor.ErrCapacityExceeded):
		return "Server is at capacity. Please try again in a moment."
	case errors.Is(err, supervisor.ErrNotFound):
		return "Unknown session id."
	case errors.Is(err, supervisor.ErrRegistryClosed):
		return "Server is shutting down."
	default:
		return fmt.Sprintf("Server error occurred: %v. Please try again.", err)
	}
}
