package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ghostkellz/zeke/internal/jsonrpc"
	"github.com/ghostkellz/zeke/internal/llm"
)

// schemaToMap renders any schema value back into a plain map for the
// transport-independent ToolSpec.
func schemaToMap(schema any) (map[string]any, bool) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return m, true
}

// connection is an established transport: a framing codec plus its
// underlying closer.
type connection struct {
	framing jsonrpc.Framing
	close   func() error
}

// dialer establishes one connection to the MCP server.
type dialer interface {
	dial(ctx context.Context) (*connection, error)
}

// frameClient speaks raw MCP JSON-RPC over any framed transport,
// correlating responses by integer id and passing unsolicited
// notifications up.
type frameClient struct {
	dialer dialer

	mu      sync.Mutex
	conn    *connection
	pending map[int64]chan *jsonrpc.Message
	notes   chan *jsonrpc.Message
	nextID  atomic.Int64
	running bool
}

func newFrameClient(d dialer) *frameClient {
	return &frameClient{
		dialer:  d,
		pending: make(map[int64]chan *jsonrpc.Message),
		notes:   make(chan *jsonrpc.Message, 16),
	}
}

// Start dials the transport, runs the MCP initialize handshake, and
// begins the read loop.
func (c *frameClient) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	conn, err := c.dialer.dial(ctx)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.conn = conn
	c.running = true
	c.mu.Unlock()

	go c.readLoop()

	if _, err := c.call(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "zeke", "version": llm.Version},
	}); err != nil {
		c.Stop()
		return fmt.Errorf("mcp initialize: %w", err)
	}
	note, err := jsonrpc.NewNotification("notifications/initialized", nil)
	if err != nil {
		return err
	}
	return conn.framing.WriteMessage(note)
}

func (c *frameClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	c.running = false
	err := c.conn.close()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	return err
}

// readLoop dispatches responses by id; anything without an id is a
// server notification.
func (c *frameClient) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		running := c.running
		c.mu.Unlock()
		if !running {
			return
		}
		msg, err := conn.framing.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.running {
				c.running = false
				c.conn.close()
				for id, ch := range c.pending {
					close(ch)
					delete(c.pending, id)
				}
				close(c.notes)
			}
			c.mu.Unlock()
			return
		}
		if msg.IsNotification() {
			select {
			case c.notes <- msg:
			default:
				// Slow consumer; drop rather than stall the transport.
			}
			continue
		}
		if msg.ID == nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[msg.ID.Num]
		if ok {
			delete(c.pending, msg.ID.Num)
		}
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	}
}

// call issues one request and waits for its correlated response.
func (c *frameClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	msg, err := jsonrpc.NewRequest(jsonrpc.NewID(id), method, params)
	if err != nil {
		return nil, err
	}

	ch := make(chan *jsonrpc.Message, 1)
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil, fmt.Errorf("MCP client not started")
	}
	conn := c.conn
	c.pending[id] = ch
	c.mu.Unlock()

	if err := conn.framing.WriteMessage(msg); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("MCP connection closed while waiting for %s", method)
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (c *frameClient) ListTools(ctx context.Context) ([]ToolSpec, error) {
	raw, err := c.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []ToolSpec `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse tools/list result: %w", err)
	}
	return result.Tools, nil
}

func (c *frameClient) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	raw, err := c.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return "", err
	}
	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("parse tools/call result: %w", err)
	}
	var out string
	for _, content := range result.Content {
		if content.Type == "text" {
			out += content.Text
		}
	}
	if result.IsError {
		return out, fmt.Errorf("tool %s reported an error: %s", name, out)
	}
	return out, nil
}

func (c *frameClient) ListResources(ctx context.Context) ([]Resource, error) {
	raw, err := c.call(ctx, "resources/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	var result struct {
		Resources []Resource `json:"resources"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse resources/list result: %w", err)
	}
	return result.Resources, nil
}

func (c *frameClient) ReadResource(ctx context.Context, uri string) (string, error) {
	raw, err := c.call(ctx, "resources/read", map[string]any{"uri": uri})
	if err != nil {
		return "", err
	}
	var result struct {
		Contents []struct {
			URI  string `json:"uri"`
			Text string `json:"text"`
		} `json:"contents"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("parse resources/read result: %w", err)
	}
	var out string
	for _, content := range result.Contents {
		out += content.Text
	}
	return out, nil
}

func (c *frameClient) Notifications() <-chan *jsonrpc.Message {
	return c.notes
}

// dockerDialer runs `docker exec -i <container> <command...>` and
// frames line-delimited JSON over the exec pipe.
type dockerDialer struct {
	container string
	command   []string
}

func (d *dockerDialer) dial(ctx context.Context) (*connection, error) {
	args := append([]string{"exec", "-i", d.container}, d.command...)
	cmd := exec.CommandContext(ctx, "docker", args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("docker exec %s: %w", d.container, err)
	}
	return &connection{
		framing: jsonrpc.NewLineFraming(stdout, stdin),
		close: func() error {
			stdin.Close()
			if cmd.Process != nil {
				cmd.Process.Kill()
			}
			return cmd.Wait()
		},
	}, nil
}

// wsDialer opens a WebSocket and frames one JSON object per text
// frame.
type wsDialer struct {
	url string
}

func (d *wsDialer) dial(ctx context.Context) (*connection, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial MCP websocket %s: %w", d.url, err)
	}
	return &connection{
		framing: &wsFraming{conn: conn},
		close:   conn.Close,
	}, nil
}

// wsFraming adapts a WebSocket connection to the Framing interface:
// every message is one text frame holding one JSON object.
type wsFraming struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (f *wsFraming) ReadMessage() (*jsonrpc.Message, error) {
	for {
		kind, data, err := f.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind != websocket.TextMessage {
			continue
		}
		var msg jsonrpc.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &jsonrpc.Error{Code: jsonrpc.CodeParseError, Message: err.Error()}
		}
		return &msg, nil
	}
}

func (f *wsFraming) WriteMessage(msg *jsonrpc.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	f.wmu.Lock()
	defer f.wmu.Unlock()
	return f.conn.WriteMessage(websocket.TextMessage, data)
}
