package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ghostkellz/zeke/internal/llm"
	"github.com/ghostkellz/zeke/internal/router"
	"github.com/ghostkellz/zeke/internal/routingdb"
)

type wsProvider struct{}

func (wsProvider) Name() string { return "ollama" }

func (wsProvider) Complete(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Content: "done", Provider: "ollama", Model: "m"}, nil
}

func (wsProvider) Stream(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	return &wsStream{}, nil
}

func (wsProvider) ListModels(ctx context.Context) ([]llm.ModelRecord, error) { return nil, nil }
func (wsProvider) CostPerToken() (float64, float64)                          { return 0, 0 }
func (wsProvider) RateLimit() *llm.RateLimit                                 { return nil }

type wsStream struct{ pos int }

func (s *wsStream) Recv() (llm.Delta, error) {
	deltas := []string{"hel", "lo"}
	if s.pos < len(deltas) {
		d := llm.Delta{ID: "w1", Text: deltas[s.pos]}
		s.pos++
		return d, nil
	}
	s.pos++
	return llm.Delta{ID: "w1", Finished: true, TokensIn: 3, TokensOut: 2}, nil
}

func (s *wsStream) Close() error { return nil }

func newWSFixture(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	db, err := routingdb.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	rt := router.New(map[string]llm.Provider{"ollama": wsProvider{}}, llm.NewCatalog(), db, router.DefaultOptions(), nil)
	server := NewServer(rt, "secret-token")
	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	return ts, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestRejectsBadToken(t *testing.T) {
	_, url := newWSFixture(t)
	_, resp, err := websocket.DefaultDialer.Dial(url+"?token=wrong", nil)
	if err == nil {
		t.Fatal("bad token accepted")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Errorf("status = %+v", resp)
	}
}

func TestChatStreamFrames(t *testing.T) {
	_, url := newWSFixture(t)
	conn, _, err := websocket.DefaultDialer.Dial(url+"?token=secret-token", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	req, _ := json.Marshal(llm.ChatRequest{
		Prompt: "hi",
		Tags:   llm.Tags{Intent: "code", Complexity: "simple"},
	})
	if err := conn.WriteJSON(Frame{Type: "chat", ID: "c1", Request: req}); err != nil {
		t.Fatal(err)
	}

	var text string
	var types []string
	deadline := time.Now().Add(5 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read: %v (frames so far: %v)", err, types)
		}
		if frame.Type == framePing {
			continue
		}
		types = append(types, frame.Type)
		if frame.Type == frameChatDelta {
			text += frame.Delta
		}
		if frame.Type == frameError {
			t.Fatalf("error frame: %s", frame.Error)
		}
		if frame.Type == frameStreamEnd {
			if frame.ID != "c1" {
				t.Errorf("end id = %q", frame.ID)
			}
			if frame.TotalTokens != 5 {
				t.Errorf("total tokens = %d", frame.TotalTokens)
			}
			break
		}
	}
	if text != "hello" {
		t.Errorf("text = %q", text)
	}
	if types[0] != frameChatStart {
		t.Errorf("first frame = %q", types[0])
	}
}

func TestPingPong(t *testing.T) {
	_, url := newWSFixture(t)
	conn, _, err := websocket.DefaultDialer.Dial(url+"?token=secret-token", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(Frame{Type: framePing, TS: 12345}); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if frame.Type != framePong || frame.TS != 12345 {
		t.Errorf("frame = %+v", frame)
	}
}
