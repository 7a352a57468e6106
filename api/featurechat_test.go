package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/featureforge/featureforge/agent"
	"github.com/featureforge/featureforge/chat"
	"github.com/featureforge/featureforge/projects"
)

type serverFrame struct {
	Type    string         `json:"type"`
	Content string         `json:"content,omitempty"`
	Feature map[string]any `json:"feature,omitempty"`
}

// scriptedClient feeds a fixed message sequence per query
type scriptedClient struct {
	messages chan agent.Message
	respond  func(content string, out chan<- agent.Message)
}

func (s *scriptedClient) Query(content string) error {
	go s.respond(content, s.messages)
	return nil
}

func (s *scriptedClient) QueryBlocks(content string, _ []agent.ImageAttachment) error {
	return s.Query(content)
}

func (s *scriptedClient) Messages() <-chan agent.Message { return s.messages }
func (s *scriptedClient) Close() error                   { return nil }

func textMessage(text string) agent.AssistantMessage {
	var msg agent.AssistantMessage
	msg.Type = agent.MessageTypeAssistant
	msg.Message.Content = []agent.ContentBlock{agent.TextBlock{Type: "text", Text: text}}
	return msg
}

// newTestServer builds the router backed by a temp projects root containing
// one project named "demo", with the agent scripted to greet and finish.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "demo"), 0o755); err != nil {
		t.Fatalf("failed to create project dir: %v", err)
	}

	resolver, err := projects.NewResolver(root)
	if err != nil {
		t.Fatalf("failed to create resolver: %v", err)
	}

	skillPath := filepath.Join(t.TempDir(), chat.SkillFileName)
	if err := os.WriteFile(skillPath, []byte("Guide the user."), 0644); err != nil {
		t.Fatalf("failed to write skill: %v", err)
	}

	registry := chat.NewRegistry(chat.Config{
		SkillPath: skillPath,
		NewClient: func(ctx context.Context, opts agent.Options) (chat.AgentClient, error) {
			return &scriptedClient{
				messages: make(chan agent.Message, 16),
				respond: func(content string, out chan<- agent.Message) {
					out <- textMessage("Tell me about the feature.")
					out <- agent.ResultMessage{Type: agent.MessageTypeResult, Subtype: "success"}
				},
			}, nil
		},
	})
	t.Cleanup(registry.CloseAll)

	r := gin.New()
	SetupRoutes(r, NewHandlers(resolver, registry))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dialFeatureChat(t *testing.T, srv *httptest.Server, project string) (*websocket.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	url := strings.Replace(srv.URL, "http://", "ws://", 1) + "/api/projects/" + project + "/feature-chat/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func sendFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) serverFrame {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var frame serverFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("invalid server frame %q: %v", data, err)
	}
	return frame
}

func TestPingPong(t *testing.T) {
	srv := newTestServer(t)
	conn, ctx := dialFeatureChat(t, srv, "demo")

	sendFrame(t, ctx, conn, `{"type":"ping"}`)

	if frame := readFrame(t, ctx, conn); frame.Type != "pong" {
		t.Errorf("expected pong, got %+v", frame)
	}
}

func TestUnknownProjectCloses4004(t *testing.T) {
	srv := newTestServer(t)
	conn, ctx := dialFeatureChat(t, srv, "missing")

	_, _, err := conn.Read(ctx)
	if err == nil {
		t.Fatal("expected connection to close")
	}
	if status := websocket.CloseStatus(err); status != StatusProjectNotFound {
		t.Errorf("expected close status 4004, got %d (%v)", status, err)
	}
}

func TestMalformedJSONKeepsConnectionOpen(t *testing.T) {
	srv := newTestServer(t)
	conn, ctx := dialFeatureChat(t, srv, "demo")

	sendFrame(t, ctx, conn, `{not json`)

	frame := readFrame(t, ctx, conn)
	if frame.Type != "error" || frame.Content != "Invalid JSON" {
		t.Errorf("expected Invalid JSON error, got %+v", frame)
	}

	// Connection still serves subsequent frames
	sendFrame(t, ctx, conn, `{"type":"ping"}`)
	if frame := readFrame(t, ctx, conn); frame.Type != "pong" {
		t.Errorf("expected pong after malformed frame, got %+v", frame)
	}
}

func TestMessageBeforeStart(t *testing.T) {
	srv := newTestServer(t)
	conn, ctx := dialFeatureChat(t, srv, "demo")

	sendFrame(t, ctx, conn, `{"type":"message","content":"hello"}`)

	frame := readFrame(t, ctx, conn)
	if frame.Type != "error" || frame.Content != "No active session. Send 'start' first." {
		t.Errorf("expected no-session error, got %+v", frame)
	}
}

func TestStartStreamsAgentResponse(t *testing.T) {
	srv := newTestServer(t)
	conn, ctx := dialFeatureChat(t, srv, "demo")

	sendFrame(t, ctx, conn, `{"type":"start"}`)

	first := readFrame(t, ctx, conn)
	if first.Type != "text" || first.Content != "Tell me about the feature." {
		t.Errorf("expected greeting text, got %+v", first)
	}
	done := readFrame(t, ctx, conn)
	if done.Type != "response_done" {
		t.Errorf("expected response_done, got %+v", done)
	}

	// Messages after start go through the session
	sendFrame(t, ctx, conn, `{"type":"message","content":"add search"}`)
	reply := readFrame(t, ctx, conn)
	if reply.Type != "text" {
		t.Errorf("expected text reply, got %+v", reply)
	}
}

func TestEmptyMessageIgnored(t *testing.T) {
	srv := newTestServer(t)
	conn, ctx := dialFeatureChat(t, srv, "demo")

	sendFrame(t, ctx, conn, `{"type":"message","content":"   "}`)
	sendFrame(t, ctx, conn, `{"type":"ping"}`)

	// The blank message produces no frames; the next frame is the pong.
	if frame := readFrame(t, ctx, conn); frame.Type != "pong" {
		t.Errorf("expected pong, got %+v", frame)
	}
}

func TestReconnectResumesSession(t *testing.T) {
	srv := newTestServer(t)

	conn, ctx := dialFeatureChat(t, srv, "demo")
	sendFrame(t, ctx, conn, `{"type":"start"}`)
	readFrame(t, ctx, conn) // text
	readFrame(t, ctx, conn) // response_done
	conn.Close(websocket.StatusNormalClosure, "")

	// The session and its agent client must survive the disconnect
	conn2, ctx2 := dialFeatureChat(t, srv, "demo")
	sendFrame(t, ctx2, conn2, `{"type":"message","content":"picking up where we left off"}`)

	reply := readFrame(t, ctx2, conn2)
	if reply.Type != "text" {
		t.Fatalf("reconnected client should reach the live session, got %+v", reply)
	}
	done := readFrame(t, ctx2, conn2)
	if done.Type != "response_done" {
		t.Errorf("expected response_done, got %+v", done)
	}
}

func TestGetFeatureChatReturnsHistory(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/projects/demo/feature-chat")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 before any session, got %d", resp.StatusCode)
	}

	conn, ctx := dialFeatureChat(t, srv, "demo")
	sendFrame(t, ctx, conn, `{"type":"start"}`)
	readFrame(t, ctx, conn) // text
	readFrame(t, ctx, conn) // response_done

	resp, err = http.Get(srv.URL + "/api/projects/demo/feature-chat")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		SessionID string `json:"sessionId"`
		Complete  bool   `json:"complete"`
		History   []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"history"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.SessionID == "" {
		t.Error("expected a session id")
	}
	if body.Complete {
		t.Error("session should not be complete yet")
	}
	if len(body.History) != 1 || body.History[0].Role != "assistant" {
		t.Errorf("expected the greeting in history, got %v", body.History)
	}
}

func TestUnknownFrameType(t *testing.T) {
	srv := newTestServer(t)
	conn, ctx := dialFeatureChat(t, srv, "demo")

	sendFrame(t, ctx, conn, `{"type":"bogus"}`)

	frame := readFrame(t, ctx, conn)
	if frame.Type != "error" || !strings.Contains(frame.Content, "bogus") {
		t.Errorf("expected unknown type error, got %+v", frame)
	}
}
