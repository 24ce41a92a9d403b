// Package ws exposes chat streaming over RFC 6455 for editor plugins
// that prefer WebSocket to the raw socket. Authentication reuses the
// lock-file bearer token.
package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ghostkellz/zeke/internal/llm"
	"github.com/ghostkellz/zeke/internal/router"
	"github.com/ghostkellz/zeke/internal/routingdb"
)

// Frame types exchanged with clients.
const (
	frameChatStart = "chat_start"
	frameChatDelta = "chat_delta"
	frameStreamEnd = "stream_end"
	frameError     = "error"
	framePing      = "ping"
	framePong      = "pong"
)

// pingInterval is the server heartbeat period; two missed pongs close
// the connection.
const (
	pingInterval   = 30 * time.Second
	maxMissedPongs = 2
	writeDeadline  = 10 * time.Second
)

// Frame is the JSON envelope for every message in both directions.
type Frame struct {
	Type        string          `json:"type"`
	ID          string          `json:"id,omitempty"`
	Model       string          `json:"model,omitempty"`
	Provider    string          `json:"provider,omitempty"`
	Delta       string          `json:"delta,omitempty"`
	Finished    bool            `json:"finished,omitempty"`
	TotalTokens int             `json:"total_tokens,omitempty"`
	Error       string          `json:"error,omitempty"`
	Code        string          `json:"code,omitempty"`
	TS          int64           `json:"ts,omitempty"`
	Request     json.RawMessage `json:"request,omitempty"`
}

// Server upgrades HTTP connections and streams chat frames.
type Server struct {
	router    *router.Router
	authToken string
	upgrader  websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewServer builds the websocket endpoint.
func NewServer(rt *router.Router, authToken string) *Server {
	return &Server{
		router:    rt,
		authToken: authToken,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Local daemon: editor plugins connect from file:// or
			// plugin origins, so the origin header is not meaningful.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

type client struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	missed  int
}

func (c *client) send(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return c.conn.WriteJSON(f)
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) authorized(r *http.Request) bool {
	token := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) == 1
}

// ServeHTTP upgrades and serves one client connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.heartbeat(ctx, c)

	defer func() {
		cancel()
		conn.Close()
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
	}()

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Type {
		case framePong:
			c.writeMu.Lock()
			c.missed = 0
			c.writeMu.Unlock()
		case framePing:
			c.send(Frame{Type: framePong, TS: frame.TS})
		case "chat":
			var req llm.ChatRequest
			if len(frame.Request) > 0 {
				if err := json.Unmarshal(frame.Request, &req); err != nil {
					c.send(Frame{Type: frameError, ID: frame.ID, Error: "malformed chat request", Code: "invalid_argument"})
					continue
				}
			}
			// One stream at a time per incoming frame; concurrent chats
			// arrive as separate frames and run independently.
			go s.stream(ctx, c, frame.ID, req)
		}
	}
}

// heartbeat sends ping frames and closes the connection after two
// consecutive missed pongs. The clients map lock is never held across
// a write.
func (s *Server) heartbeat(ctx context.Context, c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			missed := c.missed
			c.missed++
			c.writeMu.Unlock()
			if missed >= maxMissedPongs {
				c.conn.Close()
				return
			}
			if err := c.send(Frame{Type: framePing, TS: time.Now().Unix()}); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

// stream runs one chat request, forwarding deltas in order and closing
// with stream_end (or error) as the last frame for the id.
func (s *Server) stream(ctx context.Context, c *client, id string, req llm.ChatRequest) {
	project := "ws"
	if req.Tags.Project != "" {
		project = routingdb.ProjectID(req.Tags.Project)
	}
	stream, plan, err := s.router.StreamChat(ctx, req, project)
	if err != nil {
		c.send(Frame{Type: frameError, ID: id, Error: err.Error(), Code: string(llm.KindOf(err))})
		return
	}
	defer stream.Close()

	if id == "" {
		id = plan.RequestID
	}
	first := true
	var totalTokens int
	for {
		delta, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			c.send(Frame{Type: frameError, ID: id, Error: err.Error(), Code: string(llm.KindOf(err))})
			return
		}
		if first {
			c.send(Frame{Type: frameChatStart, ID: id, Model: req.Model, Provider: plan.Primary()})
			first = false
		}
		if delta.TokensOut > 0 {
			totalTokens = delta.TokensIn + delta.TokensOut
		}
		if delta.Text != "" || delta.Finished {
			if err := c.send(Frame{Type: frameChatDelta, ID: id, Delta: delta.Text, Finished: delta.Finished}); err != nil {
				slog.Debug("ws write failed", "err", err)
				return
			}
		}
		if delta.Finished {
			break
		}
	}
	c.send(Frame{Type: frameStreamEnd, ID: id, TotalTokens: totalTokens})
}
