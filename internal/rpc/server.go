// Package rpc is the daemon's local surface: JSON-RPC 2.0 over a Unix
// socket or loopback TCP, with per-connection framing negotiated by the
// first client frame and bearer-token authentication from the lock
// file.
package rpc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/ghostkellz/zeke/internal/analyzer"
	"github.com/ghostkellz/zeke/internal/credentials"
	"github.com/ghostkellz/zeke/internal/jsonrpc"
	"github.com/ghostkellz/zeke/internal/router"
	"github.com/ghostkellz/zeke/internal/routingdb"
	"github.com/ghostkellz/zeke/internal/tools"
)

// Deps are the subsystems the server dispatches into. All are
// constructed at daemon startup and injected here; tests swap fakes.
type Deps struct {
	Router    *router.Router
	Tools     *tools.Registry
	Approvals *tools.Approvals
	Analyzer  *analyzer.Analyzer
	Store     *credentials.Store
	DB        *routingdb.DB
	Version   string
}

// Server accepts connections and serves the method set.
type Server struct {
	deps      Deps
	authToken string

	mu       sync.Mutex
	conns    map[*conn]struct{}
	inflight int
}

// NewServer builds a server with a fresh auth token.
func NewServer(deps Deps) *Server {
	return &Server{
		deps:      deps,
		authToken: uuid.NewString(),
		conns:     make(map[*conn]struct{}),
	}
}

// AuthToken returns the token to persist in the lock file.
func (s *Server) AuthToken() string { return s.authToken }

// InFlight reports the number of requests currently executing.
func (s *Server) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

// Serve runs the accept loop until the listener closes or ctx is
// cancelled.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	for {
		nc, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, nc)
	}
}

// conn is one client session: its framing, id-keyed cancel functions,
// and approval session id.
type conn struct {
	framing   jsonrpc.Framing
	netConn   net.Conn
	sessionID string

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func (c *conn) trackCancel(id string, cancel context.CancelFunc) {
	c.mu.Lock()
	c.cancels[id] = cancel
	c.mu.Unlock()
}

func (c *conn) dropCancel(id string) {
	c.mu.Lock()
	delete(c.cancels, id)
	c.mu.Unlock()
}

func (c *conn) cancelRequest(id string) bool {
	c.mu.Lock()
	cancel, ok := c.cancels[id]
	c.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	defer nc.Close()

	framing, err := jsonrpc.Detect(nc, nc)
	if err != nil {
		return
	}
	c := &conn{
		framing:   framing,
		netConn:   nc,
		sessionID: uuid.NewString(),
		cancels:   make(map[string]context.CancelFunc),
	}

	// The first frame must be auth.hello with the lock-file token;
	// anything else closes the socket.
	first, err := framing.ReadMessage()
	if err != nil {
		return
	}
	if !s.authenticate(first) {
		resp := jsonrpc.NewError(first.ID, jsonrpc.CodeInvalidRequest, "authentication failed")
		framing.WriteMessage(resp)
		return
	}
	if ok, err := jsonrpc.NewResult(first.ID, map[string]any{"ok": true, "session": c.sessionID}); err == nil {
		framing.WriteMessage(ok)
	}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		s.deps.Approvals.DropSession(c.sessionID)
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		msg, err := framing.ReadMessage()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Debug("rpc read failed", "err", err)
			}
			return
		}

		// request.cancel is handled inline so it can reach an in-flight
		// request without queueing behind it.
		if msg.Method == "request.cancel" {
			var params struct {
				ID string `json:"id"`
			}
			_ = json.Unmarshal(msg.Params, &params)
			c.cancelRequest(params.ID)
			if msg.ID != nil {
				if resp, err := jsonrpc.NewResult(msg.ID, map[string]any{"cancelled": true}); err == nil {
					framing.WriteMessage(resp)
				}
			}
			continue
		}
		if !msg.IsRequest() {
			continue
		}

		// Requests are dispatched in arrival order; execution proceeds
		// concurrently so a stream does not block cancellation frames.
		reqCtx, cancel := context.WithCancel(ctx)
		c.trackCancel(msg.ID.String(), cancel)
		s.mu.Lock()
		s.inflight++
		s.mu.Unlock()
		wg.Add(1)
		go func(msg *jsonrpc.Message) {
			defer wg.Done()
			defer cancel()
			defer c.dropCancel(msg.ID.String())
			defer func() {
				s.mu.Lock()
				s.inflight--
				s.mu.Unlock()
			}()
			resp := s.dispatch(reqCtx, c, msg)
			if resp != nil {
				if err := c.framing.WriteMessage(resp); err != nil {
					slog.Debug("rpc write failed", "err", err)
				}
			}
		}(msg)
	}
}

func (s *Server) authenticate(msg *jsonrpc.Message) bool {
	if msg.Method != "auth.hello" {
		return false
	}
	var params struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(params.Token), []byte(s.authToken)) == 1
}

// ServeFraming serves a single pre-authenticated session over an
// arbitrary framing, used by the CLI's --rpc stdin/stdout mode where
// the parent process owns both pipes.
func (s *Server) ServeFraming(ctx context.Context, framing jsonrpc.Framing) error {
	c := &conn{
		framing:   framing,
		sessionID: uuid.NewString(),
		cancels:   make(map[string]context.CancelFunc),
	}
	defer s.deps.Approvals.DropSession(c.sessionID)

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		msg, err := framing.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if msg.Method == "request.cancel" {
			var params struct {
				ID string `json:"id"`
			}
			_ = json.Unmarshal(msg.Params, &params)
			c.cancelRequest(params.ID)
			continue
		}
		if !msg.IsRequest() {
			continue
		}
		reqCtx, cancel := context.WithCancel(ctx)
		c.trackCancel(msg.ID.String(), cancel)
		wg.Add(1)
		go func(msg *jsonrpc.Message) {
			defer wg.Done()
			defer cancel()
			defer c.dropCancel(msg.ID.String())
			if resp := s.dispatch(reqCtx, c, msg); resp != nil {
				_ = framing.WriteMessage(resp)
			}
		}(msg)
	}
}

// Listen opens the configured transport: a Unix socket path, or
// loopback TCP when port is non-zero.
func Listen(socketPath string, port int) (net.Listener, string, error) {
	if port > 0 {
		addr := fmt.Sprintf("127.0.0.1:%d", port)
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, "", err
		}
		return l, addr, nil
	}
	// Re-listen after a stale socket file.
	if _, err := net.Dial("unix", socketPath); err == nil {
		return nil, "", fmt.Errorf("daemon already listening on %s", socketPath)
	}
	_ = removeIfSocket(socketPath)
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, "", err
	}
	return l, socketPath, nil
}
