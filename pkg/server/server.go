package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/burrowd/burrow/pkg/broker"
	"github.com/burrowd/burrow/pkg/dispatcher"
	"github.com/burrowd/burrow/pkg/errdefs"
	"github.com/burrowd/burrow/pkg/eventlog"
	"github.com/burrowd/burrow/pkg/log"
	"github.com/burrowd/burrow/pkg/observation"
	"github.com/burrowd/burrow/pkg/registry"
	"github.com/burrowd/burrow/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maxFrameBytes bounds a single request line. Larger frames disconnect the
// client rather than grow the read buffer without limit.
const maxFrameBytes = 1 << 20

// writeTimeout bounds a single frame write. A client whose socket buffer
// stays full this long is treated as gone, which feeds the broker's
// push-failure unsubscribe path.
const writeTimeout = 10 * time.Second

// Emitter appends a client-emitted event to the canonical log and runs
// plugin dispatch over it, returning the first handler response if any
// handler produced one. Implemented by the daemon.
type Emitter interface {
	Emit(ctx context.Context, event *types.Event) (*dispatcher.Response, uint64, error)
}

// Config holds configuration for creating a Server
type Config struct {
	// SocketPath is the unix-domain socket the server listens on.
	SocketPath string
}

// Deps are the subsystems the server routes requests to.
type Deps struct {
	Emitter     Emitter
	Registry    *registry.Registry
	Broker      *broker.Broker
	Observation *observation.Manager
	Log         *eventlog.Log
}

// Server accepts client connections on a unix-domain socket and speaks
// newline-delimited JSON frames. Each connection doubles as a push
// transport for the broker and the observation manager.
type Server struct {
	cfg  Config
	deps Deps

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]*conn
	closed   bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	routes map[string]routeFunc
	logger zerolog.Logger
}

// New creates a new Server
func New(cfg Config, deps Deps) (*Server, error) {
	if cfg.SocketPath == "" {
		return nil, errdefs.Validationf("socket path is empty")
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		conns:  make(map[string]*conn),
		logger: log.WithComponent("server"),
	}
	s.routes = s.routeTable()
	return s, nil
}

// Start binds the socket and begins accepting connections. A stale socket
// file from a previous process is removed first.
func (s *Server) Start(ctx context.Context) error {
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.cfg.SocketPath, 0o600); err != nil {
		listener.Close()
		return err
	}

	s.baseCtx, s.baseCancel = context.WithCancel(ctx)
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info().Str("socket", s.cfg.SocketPath).Msg("server listening")

	s.wg.Add(1)
	go s.acceptLoop(listener)
	return nil
}

// Stop closes the listener and all live connections, then waits for the
// per-connection goroutines to drain.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	listener := s.listener
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if s.baseCancel != nil {
		s.baseCancel()
	}
	if listener != nil {
		listener.Close()
	}
	for _, c := range conns {
		c.close()
	}
	s.wg.Wait()

	os.Remove(s.cfg.SocketPath)
	s.logger.Info().Msg("server stopped")
}

// Healthy reports whether the server is accepting connections.
func (s *Server) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener != nil && !s.closed
}

// ConnCount returns the number of live client connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()

	for {
		netConn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn().Err(err).Msg("accept failed")
			continue
		}

		c := &conn{
			id:      uuid.New().String(),
			netConn: netConn,
			server:  s,
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			netConn.Close()
			return
		}
		s.conns[c.id] = c
		s.mu.Unlock()

		s.logger.Debug().Str("client_id", c.id).Msg("client connected")
		s.wg.Add(1)
		go c.serve()
	}
}

// request is one inbound frame. Payload fields the daemon does not know are
// carried through Data untouched.
type request struct {
	ID    string                 `json:"id,omitempty"`
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type responseFrame struct {
	ID    string                 `json:"id,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`
	Error *wireError             `json:"error,omitempty"`
}

// eventFrame is a pushed event, distinguished from responses by its event
// field and absent id.
type eventFrame struct {
	Event     string                 `json:"event"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Seq       uint64                 `json:"seq"`
	Timestamp time.Time              `json:"timestamp"`
	Origin    string                 `json:"origin,omitempty"`
}

// conn is one client connection. It satisfies broker.Transport so the
// broker and observation manager can push events straight down the wire.
type conn struct {
	id      string
	netConn net.Conn
	server  *Server

	// writeMu keeps frames atomic: responses and pushed events from
	// concurrent goroutines never interleave on the wire.
	writeMu sync.Mutex
	dead    bool
}

// ID implements broker.Transport.
func (c *conn) ID() string { return c.id }

// Push implements broker.Transport: one event frame down the wire. An error
// return makes the broker drop this subscriber.
func (c *conn) Push(event *types.Event) error {
	frame := eventFrame{
		Event:     event.Name,
		Data:      event.Data,
		Seq:       event.Sequence,
		Timestamp: event.Timestamp,
		Origin:    event.Origin,
	}
	if err := c.writeFrame(frame); err != nil {
		return errdefs.ErrTransport
	}
	return nil
}

func (c *conn) writeFrame(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.dead {
		return errdefs.ErrTransport
	}
	c.netConn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.netConn.Write(payload); err != nil {
		c.dead = true
		return err
	}
	return nil
}

func (c *conn) serve() {
	defer c.server.wg.Done()
	defer c.cleanup()

	scanner := bufio.NewScanner(c.netConn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			c.writeError("", "", errdefs.Validationf("malformed frame: %v", err))
			continue
		}
		c.server.handle(c, &req)
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.server.logger.Debug().Err(err).Str("client_id", c.id).Msg("read loop ended")
	}
}

// cleanup tears down everything this client registered: broker
// subscriptions, observation registrations, and the connection itself.
func (c *conn) cleanup() {
	c.server.deps.Broker.Unsubscribe(c.id)
	c.server.deps.Observation.Unsubscribe(c.id, "")

	c.server.mu.Lock()
	delete(c.server.conns, c.id)
	c.server.mu.Unlock()

	c.close()
	c.server.logger.Debug().Str("client_id", c.id).Msg("client disconnected")
}

func (c *conn) close() {
	c.writeMu.Lock()
	c.dead = true
	c.writeMu.Unlock()
	c.netConn.Close()
}

func (c *conn) writeResult(id string, data map[string]interface{}) {
	if err := c.writeFrame(responseFrame{ID: id, Data: data}); err != nil {
		c.server.logger.Warn().Err(err).Str("client_id", c.id).Msg("response write failed")
	}
}

func (c *conn) writeError(id, event string, err error) {
	code := errdefs.Code(err)
	msg := err.Error()
	if code == "internal" {
		// Internal details stay in the log, not on the wire.
		c.server.logger.Error().Err(err).Str("event", event).Msg("internal error")
		msg = "internal error"
	}
	if werr := c.writeFrame(responseFrame{ID: id, Error: &wireError{Code: code, Message: msg}}); werr != nil {
		c.server.logger.Warn().Err(werr).Str("client_id", c.id).Msg("error write failed")
	}
}
