// Package agent is a minimal client for the Claude Code CLI in stream-json
// mode. It covers what a chat orchestrator needs: open a scoped session,
// send user turns (plain text or multimodal), and consume the typed
// response stream.
package agent

// PermissionMode controls how the agent's tools are authorized
type PermissionMode string

const (
	PermissionModeDefault     PermissionMode = "default"     // CLI prompts for dangerous tools
	PermissionModeAcceptEdits PermissionMode = "acceptEdits" // Auto-accept file edits
)

// Options configures an agent client session
type Options struct {
	// Prompts
	SystemPrompt string

	// Tools configuration
	AllowedTools []string

	// Permission settings
	PermissionMode PermissionMode

	// Limits
	MaxTurns int

	// Model configuration
	Model string

	// Paths
	Cwd          string
	CliPath      string
	SettingsPath string

	// Environment
	Env map[string]string

	// Advanced
	MaxBufferSize int

	// Stderr callback
	Stderr func(string)
}

// ImageAttachment is a base64-encoded image sent alongside a user message
type ImageAttachment struct {
	MimeType   string `json:"mimeType"`
	Base64Data string `json:"base64Data"`
}

// --- Content Block Types ---

// ContentBlock is the interface for all content blocks
type ContentBlock interface {
	BlockType() string
}

// TextBlock represents text content
type TextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (TextBlock) BlockType() string { return "text" }

// ToolUseBlock represents a tool invocation
type ToolUseBlock struct {
	Type  string         `json:"type"`
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

func (ToolUseBlock) BlockType() string { return "tool_use" }

// ToolResultBlock represents the result of a tool execution
type ToolResultBlock struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   any    `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

func (ToolResultBlock) BlockType() string { return "tool_result" }

// --- Message Types ---

// MessageType identifies the type of message
type MessageType string

const (
	MessageTypeUser      MessageType = "user"
	MessageTypeAssistant MessageType = "assistant"
	MessageTypeSystem    MessageType = "system"
	MessageTypeResult    MessageType = "result"
)

// Message is the interface for all message types
type Message interface {
	GetType() MessageType
}

// UserMessage is a user-side message in the stream. The CLI echoes tool
// results back as user messages, which is how tool completion is observed.
type UserMessage struct {
	Type            MessageType `json:"type"`
	SessionID       string      `json:"session_id,omitempty"`
	ParentToolUseID *string     `json:"parent_tool_use_id,omitempty"`
	Message         struct {
		Role    string `json:"role"`
		Content any    `json:"content"` // string or []ContentBlock
	} `json:"message"`
}

func (m UserMessage) GetType() MessageType { return MessageTypeUser }

// AssistantMessage represents the agent's response
type AssistantMessage struct {
	Type            MessageType `json:"type"`
	SessionID       string      `json:"session_id,omitempty"`
	ParentToolUseID *string     `json:"parent_tool_use_id,omitempty"`
	Message         struct {
		Role    string         `json:"role"`
		Content []ContentBlock `json:"content"`
		Model   string         `json:"model"`
	} `json:"message"`
	Error string `json:"error,omitempty"`
}

func (m AssistantMessage) GetType() MessageType { return MessageTypeAssistant }

// SystemMessage represents internal agent events (init, etc.)
type SystemMessage struct {
	Type      MessageType    `json:"type"`
	Subtype   string         `json:"subtype"`
	SessionID string         `json:"session_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

func (m SystemMessage) GetType() MessageType { return MessageTypeSystem }

// ResultMessage terminates a turn and carries cost/usage info
type ResultMessage struct {
	Type         MessageType `json:"type"`
	Subtype      string      `json:"subtype"`
	DurationMs   int         `json:"duration_ms"`
	IsError      bool        `json:"is_error"`
	NumTurns     int         `json:"num_turns"`
	SessionID    string      `json:"session_id"`
	TotalCostUSD *float64    `json:"total_cost_usd,omitempty"`
	Result       string      `json:"result,omitempty"`
}

func (m ResultMessage) GetType() MessageType { return MessageTypeResult }

// RawMessage preserves unknown message types for passthrough
type RawMessage struct {
	Type MessageType `json:"type"`
	Raw  []byte      `json:"-"`
}

func (m RawMessage) GetType() MessageType { return m.Type }
