// Package chat implements the feature-creation chat: per-project sessions
// that bridge a websocket conversation to the agent CLI and persist the
// resulting feature definition.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/featureforge/featureforge/agent"
	"github.com/featureforge/featureforge/db"
	"github.com/featureforge/featureforge/log"
)

var logger = log.GetLogger("FeatureChat")

// AgentClient is the slice of the agent client a session drives. It exists
// so tests can substitute a scripted client.
type AgentClient interface {
	Query(content string) error
	QueryBlocks(content string, attachments []agent.ImageAttachment) error
	Messages() <-chan agent.Message
	Close() error
}

// ClientFactory opens a connected agent client for a session
type ClientFactory func(ctx context.Context, opts agent.Options) (AgentClient, error)

// defaultClientFactory connects a subprocess-backed agent client
func defaultClientFactory(ctx context.Context, opts agent.Options) (AgentClient, error) {
	client := agent.NewClient(opts)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// Config carries the settings sessions need to open agent clients
type Config struct {
	// Model is the agent model identifier
	Model string

	// CliPath overrides the agent CLI binary lookup
	CliPath string

	// MaxTurns bounds agent turns per session
	MaxTurns int

	// SkillPath is the instruction document loaded as the system prompt
	SkillPath string

	// NewClient overrides agent client construction (tests). Nil means the
	// real subprocess transport.
	NewClient ClientFactory
}

// HistoryEntry is one message in the session's conversation history
type HistoryEntry struct {
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	HasAttachments bool      `json:"hasAttachments,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Session manages a feature creation conversation for one project.
//
// The session owns the agent client's lifetime: it carries its own context,
// independent of any websocket connection, so the agent subprocess survives
// socket disconnects and a reconnecting client can resume through the
// registry. Only Close (direct, via eviction, or at shutdown) cancels it.
//
// Start and SendMessage are not safe for concurrent invocation on the same
// session; the websocket handler's single read loop serializes them.
type Session struct {
	ID         string
	Project    string
	ProjectDir string
	CreatedAt  time.Time

	cfg       Config
	newClient ClientFactory

	ctx    context.Context
	cancel context.CancelFunc

	client   AgentClient
	messages <-chan agent.Message

	mu               sync.Mutex // guards client lifecycle and completion state
	history          []HistoryEntry
	complete         bool
	createdFeatureID int64
}

// NewSession creates an unstarted session for a project
func NewSession(project, projectDir string, cfg Config) *Session {
	factory := cfg.NewClient
	if factory == nil {
		factory = defaultClientFactory
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:         uuid.New().String(),
		Project:    project,
		ProjectDir: projectDir,
		CreatedAt:  time.Now(),
		cfg:        cfg,
		newClient:  factory,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Complete reports whether a feature was created in this session
func (s *Session) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete
}

// CreatedFeatureID returns the inserted feature's ID (0 until complete)
func (s *Session) CreatedFeatureID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdFeatureID
}

// History returns a copy of the conversation history
func (s *Session) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// Close releases the agent client and cancels the session context. It is
// idempotent and never returns an error upward; close failures are logged.
func (s *Session) Close() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	s.cancel()

	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logger.Warn().Err(err).Str("project", s.Project).Msg("error closing agent client")
	}
}

// Start initializes the session and streams the agent's initial greeting.
// The returned channel closes when the turn ends.
func (s *Session) Start() <-chan Chunk {
	out := make(chan Chunk, 16)

	go func() {
		defer close(out)

		// Load skill
		skill, err := os.ReadFile(s.cfg.SkillPath)
		if err != nil {
			logger.Error().Err(err).Str("path", s.cfg.SkillPath).Msg("skill file not found")
			out <- ErrorChunk("Skill not found")
			return
		}

		// Cleanup potential leftover trigger file
		if err := os.Remove(triggerFilePath(s.ProjectDir)); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Msg("failed to remove stale trigger file")
		}

		settingsPath, err := writeSettingsFile(s.ProjectDir)
		if err != nil {
			logger.Error().Err(err).Msg("failed to write agent settings file")
			out <- ErrorChunk(err.Error())
			return
		}

		cwd, err := filepath.Abs(s.ProjectDir)
		if err != nil {
			out <- ErrorChunk(err.Error())
			return
		}

		client, err := s.newClient(s.ctx, agent.Options{
			Model:          s.cfg.Model,
			CliPath:        s.cfg.CliPath,
			SystemPrompt:   string(skill),
			AllowedTools:   []string{"Read", "Write", "Edit", "Glob"},
			PermissionMode: agent.PermissionModeAcceptEdits,
			MaxTurns:       s.cfg.MaxTurns,
			Cwd:            cwd,
			SettingsPath:   settingsPath,
		})
		if err != nil {
			logger.Error().Err(err).Str("project", s.Project).Msg("failed to create agent client")
			out <- ErrorChunk(err.Error())
			return
		}

		s.mu.Lock()
		s.client = client
		s.messages = client.Messages()
		s.mu.Unlock()

		// Start conversation
		if err := s.queryAgent("I want to add a new feature.", nil, out); err != nil {
			logger.Error().Err(err).Str("project", s.Project).Msg("failed to start feature chat")
			out <- ErrorChunk(err.Error())
			return
		}
		out <- Chunk{Type: ChunkResponseDone}
	}()

	return out
}

// SendMessage forwards one user message (optionally with image attachments)
// through the agent and streams the response chunks.
func (s *Session) SendMessage(userMessage string, attachments []agent.ImageAttachment) <-chan Chunk {
	out := make(chan Chunk, 16)

	go func() {
		defer close(out)

		s.mu.Lock()
		client := s.client
		if client != nil {
			s.history = append(s.history, HistoryEntry{
				Role:           "user",
				Content:        userMessage,
				HasAttachments: len(attachments) > 0,
				Timestamp:      time.Now(),
			})
		}
		s.mu.Unlock()

		if client == nil {
			out <- ErrorChunk("Session not initialized")
			return
		}

		logger.Info().Str("project", s.Project).Str("content", truncate(userMessage, 50)).Msg("processing user message")

		if err := s.queryAgent(userMessage, attachments, out); err != nil {
			logger.Error().Err(err).Str("project", s.Project).Msg("error during agent query")
			out <- ErrorChunk(err.Error())
			return
		}
		out <- Chunk{Type: ChunkResponseDone}
	}()

	return out
}

// queryAgent drives one turn: it sends the message, forwards assistant text
// incrementally, and watches tool activity for the feature trigger file.
// The turn ends at the agent's result message, or early when a feature is
// created. The turn runs on the session context, so it completes even when
// the websocket that triggered it has gone away.
func (s *Session) queryAgent(message string, attachments []agent.ImageAttachment, out chan<- Chunk) error {
	s.mu.Lock()
	client := s.client
	stream := s.messages
	s.mu.Unlock()

	if client == nil {
		return errors.New("session not initialized")
	}

	var err error
	if len(attachments) > 0 {
		err = client.QueryBlocks(message, attachments)
	} else {
		err = client.Query(message)
	}
	if err != nil {
		return err
	}

	pendingTriggerWrite := false

	for {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()

		case msg, ok := <-stream:
			if !ok {
				return errors.New("agent stream closed before turn completed")
			}

			switch m := msg.(type) {
			case agent.AssistantMessage:
				for _, block := range m.Message.Content {
					switch b := block.(type) {
					case agent.TextBlock:
						if b.Text == "" {
							continue
						}
						out <- TextChunk(b.Text)
						s.mu.Lock()
						s.history = append(s.history, HistoryEntry{
							Role:      "assistant",
							Content:   b.Text,
							Timestamp: time.Now(),
						})
						s.mu.Unlock()

					case agent.ToolUseBlock:
						if b.Name != "Write" && b.Name != "Edit" {
							continue
						}
						filePath, _ := b.Input["file_path"].(string)
						if strings.Contains(filePath, TriggerFileName) {
							pendingTriggerWrite = true
							logger.Info().Str("project", s.Project).Msg("agent is writing the feature trigger file")
						}
					}
				}

			case agent.UserMessage:
				// Tool result echoed back by the CLI
				if !pendingTriggerWrite {
					continue
				}
				done, err := s.handleTriggerFile(out)
				if err != nil {
					logger.Error().Err(err).Str("project", s.Project).Msg("failed to process feature trigger file")
					out <- ErrorChunk("Failed to create feature from definition.")
				}
				if done {
					return nil
				}
				pendingTriggerWrite = false

			case agent.ResultMessage:
				return nil
			}
		}
	}
}

// handleTriggerFile reads, validates, and persists the trigger artifact.
// It returns done=true when a feature was created and the turn should end.
// A missing artifact is not an error; the pending flag is simply cleared.
func (s *Session) handleTriggerFile(out chan<- Chunk) (bool, error) {
	trigger := triggerFilePath(s.ProjectDir)

	data, err := os.ReadFile(trigger)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return false, fmt.Errorf("invalid trigger file JSON: %w", err)
	}

	def, err := definitionFromPayload(payload)
	if err != nil {
		return false, err
	}

	featureID, err := s.createFeature(def)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	s.complete = true
	s.createdFeatureID = featureID
	s.mu.Unlock()

	out <- Chunk{Type: ChunkFeatureCreated, Feature: payload}

	if err := os.Remove(trigger); err != nil {
		logger.Warn().Err(err).Msg("failed to delete trigger file")
	}

	logger.Info().
		Str("project", s.Project).
		Int64("featureId", featureID).
		Str("name", def.Name).
		Msg("feature created from chat session")

	return true, nil
}

// definitionFromPayload validates the raw trigger payload. Name and
// description are required; a non-numeric priority is left unset so the
// store assigns the next one.
func definitionFromPayload(payload map[string]any) (db.FeatureDefinition, error) {
	var def db.FeatureDefinition

	name, _ := payload["name"].(string)
	description, _ := payload["description"].(string)
	if name == "" || description == "" {
		return def, errors.New("feature definition missing required name or description")
	}
	def.Name = name
	def.Description = description

	if category, ok := payload["category"].(string); ok {
		def.Category = category
	}

	// JSON numbers decode as float64; anything else ("High", "Auto", absent)
	// falls back to auto-assignment.
	if p, ok := payload["priority"].(float64); ok {
		priority := int(p)
		def.Priority = &priority
	}

	if rawSteps, ok := payload["steps"].([]any); ok {
		for _, step := range rawSteps {
			if str, ok := step.(string); ok {
				def.Steps = append(def.Steps, str)
			}
		}
	}

	return def, nil
}

// createFeature inserts the feature into the project's store
func (s *Session) createFeature(def db.FeatureDefinition) (int64, error) {
	store, err := db.Open(s.ProjectDir)
	if err != nil {
		return 0, err
	}
	defer store.Close()

	return store.CreateFeature(def)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
