package chat

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/featureforge/featureforge/agent"
	"github.com/featureforge/featureforge/db"
)

// mockClient scripts agent responses for session tests. Each Query or
// QueryBlocks call invokes respond in a goroutine to feed the message stream.
type mockClient struct {
	messages chan agent.Message
	respond  func(content string, out chan<- agent.Message)
	queries  []string

	mu     sync.Mutex
	closed bool
}

func newMockClient(respond func(content string, out chan<- agent.Message)) *mockClient {
	return &mockClient{
		messages: make(chan agent.Message, 16),
		respond:  respond,
	}
}

func (m *mockClient) Query(content string) error {
	m.queries = append(m.queries, content)
	go m.respond(content, m.messages)
	return nil
}

func (m *mockClient) QueryBlocks(content string, _ []agent.ImageAttachment) error {
	return m.Query(content)
}

func (m *mockClient) Messages() <-chan agent.Message { return m.messages }

func (m *mockClient) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *mockClient) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func assistantText(text string) agent.AssistantMessage {
	var msg agent.AssistantMessage
	msg.Type = agent.MessageTypeAssistant
	msg.Message.Role = "assistant"
	msg.Message.Content = []agent.ContentBlock{agent.TextBlock{Type: "text", Text: text}}
	return msg
}

func assistantToolUse(name, filePath string) agent.AssistantMessage {
	var msg agent.AssistantMessage
	msg.Type = agent.MessageTypeAssistant
	msg.Message.Role = "assistant"
	msg.Message.Content = []agent.ContentBlock{agent.ToolUseBlock{
		Type:  "tool_use",
		ID:    "tool-1",
		Name:  name,
		Input: map[string]any{"file_path": filePath},
	}}
	return msg
}

func toolResult() agent.UserMessage {
	var msg agent.UserMessage
	msg.Type = agent.MessageTypeUser
	msg.Message.Role = "user"
	return msg
}

func turnDone() agent.ResultMessage {
	return agent.ResultMessage{Type: agent.MessageTypeResult, Subtype: "success"}
}

// nextChunk reads a single chunk with a timeout
func nextChunk(t *testing.T, ch <-chan Chunk) Chunk {
	t.Helper()
	select {
	case chunk, ok := <-ch:
		if !ok {
			t.Fatal("chunk channel closed early")
		}
		return chunk
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for chunk")
	}
	return Chunk{}
}

// collectChunks drains a chunk channel with a timeout
func collectChunks(t *testing.T, ch <-chan Chunk) []Chunk {
	t.Helper()
	var chunks []Chunk
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return chunks
			}
			chunks = append(chunks, chunk)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for chunks, got %v", chunks)
		}
	}
}

// testConfig builds a session config with a skill file in a temp dir and a
// scripted client factory.
func testConfig(t *testing.T, respond func(string, chan<- agent.Message)) (Config, *mockClient) {
	t.Helper()
	skillPath := filepath.Join(t.TempDir(), SkillFileName)
	if err := os.WriteFile(skillPath, []byte("Guide the user through defining a feature."), 0644); err != nil {
		t.Fatalf("failed to write skill file: %v", err)
	}

	client := newMockClient(respond)
	return Config{
		Model:     "test-model",
		MaxTurns:  10,
		SkillPath: skillPath,
		NewClient: func(ctx context.Context, opts agent.Options) (AgentClient, error) {
			return client, nil
		},
	}, client
}

func TestSendMessageBeforeStart(t *testing.T) {
	cfg, _ := testConfig(t, func(string, chan<- agent.Message) {})
	session := NewSession("demo", t.TempDir(), cfg)

	chunks := collectChunks(t, session.SendMessage("hello", nil))

	if len(chunks) != 1 {
		t.Fatalf("expected exactly 1 chunk, got %d: %v", len(chunks), chunks)
	}
	if chunks[0].Type != ChunkError || chunks[0].Content != "Session not initialized" {
		t.Errorf("unexpected chunk: %+v", chunks[0])
	}
}

func TestStartMissingSkill(t *testing.T) {
	cfg, _ := testConfig(t, func(string, chan<- agent.Message) {})
	cfg.SkillPath = filepath.Join(t.TempDir(), "does-not-exist.md")
	session := NewSession("demo", t.TempDir(), cfg)

	chunks := collectChunks(t, session.Start())

	if len(chunks) != 1 {
		t.Fatalf("expected exactly 1 chunk, got %d: %v", len(chunks), chunks)
	}
	if chunks[0].Type != ChunkError || chunks[0].Content != "Skill not found" {
		t.Errorf("unexpected chunk: %+v", chunks[0])
	}
}

func TestStartStreamsGreeting(t *testing.T) {
	cfg, client := testConfig(t, func(content string, out chan<- agent.Message) {
		out <- assistantText("What feature would you like to add?")
		out <- turnDone()
	})
	projectDir := t.TempDir()
	session := NewSession("demo", projectDir, cfg)

	chunks := collectChunks(t, session.Start())

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	if chunks[0].Type != ChunkText || chunks[0].Content != "What feature would you like to add?" {
		t.Errorf("unexpected first chunk: %+v", chunks[0])
	}
	if chunks[1].Type != ChunkResponseDone {
		t.Errorf("expected response_done, got %+v", chunks[1])
	}

	if len(client.queries) != 1 || client.queries[0] != "I want to add a new feature." {
		t.Errorf("unexpected bootstrap queries: %v", client.queries)
	}

	// Settings artifact is written into the project directory
	if _, err := os.Stat(filepath.Join(projectDir, SettingsFileName)); err != nil {
		t.Errorf("settings file missing: %v", err)
	}
}

func TestTriggerFileCreatesFeature(t *testing.T) {
	projectDir := t.TempDir()
	trigger := triggerFilePath(projectDir)

	turn := 0
	cfg, _ := testConfig(t, func(content string, out chan<- agent.Message) {
		turn++
		if turn == 1 {
			out <- assistantText("Hi!")
			out <- turnDone()
			return
		}
		// The agent writes the trigger file, then the tool result comes back
		payload := map[string]any{
			"name":        "Dark mode",
			"description": "Add a theme toggle",
			"category":    "UI",
			"priority":    3,
			"steps":       []string{"Open settings", "Toggle theme"},
		}
		data, _ := json.Marshal(payload)
		os.WriteFile(trigger, data, 0644)
		out <- assistantToolUse("Write", trigger)
		out <- toolResult()
		out <- turnDone()
	})

	session := NewSession("demo", projectDir, cfg)
	collectChunks(t, session.Start())

	chunks := collectChunks(t, session.SendMessage("Dark mode with a toggle", nil))

	if len(chunks) != 2 {
		t.Fatalf("expected feature_created and response_done, got %v", chunks)
	}
	if chunks[0].Type != ChunkFeatureCreated {
		t.Fatalf("expected feature_created, got %+v", chunks[0])
	}
	if chunks[0].Feature["name"] != "Dark mode" {
		t.Errorf("unexpected feature payload: %v", chunks[0].Feature)
	}
	if chunks[1].Type != ChunkResponseDone {
		t.Errorf("expected response_done, got %+v", chunks[1])
	}

	if !session.Complete() {
		t.Error("session should be complete after feature creation")
	}

	// Trigger artifact is consumed
	if _, err := os.Stat(trigger); !os.IsNotExist(err) {
		t.Error("trigger file should be deleted after processing")
	}

	// The feature is persisted with the explicit priority
	store, err := db.Open(projectDir)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	features, err := store.ListFeatures()
	if err != nil {
		t.Fatalf("ListFeatures failed: %v", err)
	}
	if len(features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(features))
	}
	f := features[0]
	if f.Name != "Dark mode" || f.Priority != 3 || f.Category != "UI" || f.Passes {
		t.Errorf("unexpected feature row: %+v", f)
	}
	if f.ID != session.CreatedFeatureID() {
		t.Errorf("CreatedFeatureID %d does not match row %d", session.CreatedFeatureID(), f.ID)
	}
}

func TestTriggerFileMissingRequiredFields(t *testing.T) {
	projectDir := t.TempDir()
	trigger := triggerFilePath(projectDir)

	turn := 0
	cfg, _ := testConfig(t, func(content string, out chan<- agent.Message) {
		turn++
		if turn == 1 {
			out <- turnDone()
			return
		}
		os.WriteFile(trigger, []byte(`{"name": "Unnamed"}`), 0644)
		out <- assistantToolUse("Edit", trigger)
		out <- toolResult()
		out <- turnDone()
	})

	session := NewSession("demo", projectDir, cfg)
	collectChunks(t, session.Start())

	chunks := collectChunks(t, session.SendMessage("go ahead", nil))

	var sawError bool
	for _, chunk := range chunks {
		if chunk.Type == ChunkError && chunk.Content == "Failed to create feature from definition." {
			sawError = true
		}
		if chunk.Type == ChunkFeatureCreated {
			t.Errorf("feature_created must not be emitted for invalid definition")
		}
	}
	if !sawError {
		t.Errorf("expected validation error chunk, got %v", chunks)
	}
	if chunks[len(chunks)-1].Type != ChunkResponseDone {
		t.Errorf("turn should still end with response_done, got %v", chunks)
	}

	if session.Complete() {
		t.Error("session must not be complete after invalid definition")
	}

	store, err := db.Open(projectDir)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	features, err := store.ListFeatures()
	if err != nil {
		t.Fatalf("ListFeatures failed: %v", err)
	}
	if len(features) != 0 {
		t.Errorf("no feature should be persisted, got %v", features)
	}
}

func TestStartRemovesStaleTriggerFile(t *testing.T) {
	projectDir := t.TempDir()
	trigger := triggerFilePath(projectDir)
	if err := os.WriteFile(trigger, []byte(`{"name":"stale"}`), 0644); err != nil {
		t.Fatalf("failed to write stale trigger: %v", err)
	}

	cfg, _ := testConfig(t, func(content string, out chan<- agent.Message) {
		out <- turnDone()
	})
	session := NewSession("demo", projectDir, cfg)
	collectChunks(t, session.Start())

	if _, err := os.Stat(trigger); !os.IsNotExist(err) {
		t.Error("stale trigger file should be removed on start")
	}
}

func TestClientLifetimeIndependentOfCaller(t *testing.T) {
	cfg, _ := testConfig(t, func(content string, out chan<- agent.Message) {
		out <- turnDone()
	})

	var clientCtx context.Context
	inner := cfg.NewClient
	cfg.NewClient = func(ctx context.Context, opts agent.Options) (AgentClient, error) {
		clientCtx = ctx
		return inner(ctx, opts)
	}

	session := NewSession("demo", t.TempDir(), cfg)
	collectChunks(t, session.Start())

	// The websocket that triggered Start may be gone by now; the client's
	// context must remain live until the session itself closes.
	if clientCtx == nil {
		t.Fatal("client factory was not invoked")
	}
	if clientCtx.Err() != nil {
		t.Fatalf("client context should outlive the caller, got %v", clientCtx.Err())
	}

	chunks := collectChunks(t, session.SendMessage("still here", nil))
	if len(chunks) != 1 || chunks[0].Type != ChunkResponseDone {
		t.Errorf("session should still serve turns, got %v", chunks)
	}

	session.Close()
	if clientCtx.Err() == nil {
		t.Error("client context should be cancelled by Close")
	}
}

func TestInvalidThenValidTriggerSameTurn(t *testing.T) {
	projectDir := t.TempDir()
	trigger := triggerFilePath(projectDir)

	turn := 0
	cfg, client := testConfig(t, func(content string, out chan<- agent.Message) {
		turn++
		if turn == 1 {
			out <- turnDone()
			return
		}
		// First attempt lacks a description; the test drives the retry
		// once it has observed the error chunk.
		os.WriteFile(trigger, []byte(`{"name":"Incomplete"}`), 0644)
		out <- assistantToolUse("Write", trigger)
		out <- toolResult()
	})

	session := NewSession("demo", projectDir, cfg)
	collectChunks(t, session.Start())

	ch := session.SendMessage("add export", nil)

	first := nextChunk(t, ch)
	if first.Type != ChunkError || first.Content != "Failed to create feature from definition." {
		t.Fatalf("expected validation error first, got %+v", first)
	}

	// Flag was cleared; a later valid write in the same turn still succeeds
	if err := os.WriteFile(trigger, []byte(`{"name":"Export","description":"CSV export"}`), 0644); err != nil {
		t.Fatal(err)
	}
	client.messages <- assistantToolUse("Write", trigger)
	client.messages <- toolResult()

	second := nextChunk(t, ch)
	if second.Type != ChunkFeatureCreated || second.Feature["name"] != "Export" {
		t.Errorf("retry within the turn should create the feature, got %+v", second)
	}
	third := nextChunk(t, ch)
	if third.Type != ChunkResponseDone {
		t.Errorf("expected response_done, got %+v", third)
	}

	if !session.Complete() {
		t.Error("session should be complete after the valid retry")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	cfg, client := testConfig(t, func(content string, out chan<- agent.Message) {
		out <- turnDone()
	})
	session := NewSession("demo", t.TempDir(), cfg)
	collectChunks(t, session.Start())

	session.Close()
	session.Close()

	if !client.Closed() {
		t.Error("client should be closed")
	}
}
