package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/featureforge/featureforge/log"
)

// Client is a stateful, bidirectional client for the agent CLI. Send user
// turns with Query/QueryBlocks and consume the typed response stream from
// Messages; each turn ends with a ResultMessage.
type Client struct {
	options   Options
	transport Transport

	mu     sync.RWMutex
	closed bool
}

// NewClient creates a new agent client with the given options
func NewClient(options Options) *Client {
	return &Client{options: options}
}

// NewClientWithTransport creates a client with a custom transport
// (useful for testing with mock transports)
func NewClientWithTransport(options Options, t Transport) *Client {
	return &Client{options: options, transport: t}
}

// Connect establishes the connection to the agent CLI
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	if c.transport != nil && c.transport.IsConnected() {
		return ErrAlreadyConnected
	}

	if c.transport == nil {
		t, err := NewSubprocessTransport(c.options)
		if err != nil {
			return fmt.Errorf("failed to create transport: %w", err)
		}
		c.transport = t
	}

	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect transport: %w", err)
	}

	log.Info().Msg("agent client connected")
	return nil
}

// Query sends a plain-text user message to the agent
func (c *Client) Query(content string) error {
	message := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": content,
		},
		"parent_tool_use_id": nil,
		"session_id":         "default",
	}
	return c.send(message)
}

// QueryBlocks sends one multimodal user turn combining an optional text part
// with zero or more image attachments.
func (c *Client) QueryBlocks(content string, attachments []ImageAttachment) error {
	var blocks []map[string]any
	if content != "" {
		blocks = append(blocks, map[string]any{"type": "text", "text": content})
	}
	for _, att := range attachments {
		blocks = append(blocks, map[string]any{
			"type": "image",
			"source": map[string]any{
				"type":       "base64",
				"media_type": att.MimeType,
				"data":       att.Base64Data,
			},
		})
	}

	message := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": blocks,
		},
		"parent_tool_use_id": nil,
		"session_id":         "default",
	}
	return c.send(message)
}

func (c *Client) send(message map[string]any) error {
	c.mu.RLock()
	t := c.transport
	c.mu.RUnlock()

	if t == nil || !t.IsConnected() {
		return ErrNotConnected
	}

	msgJSON, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal user message: %w", err)
	}

	return t.Write(string(msgJSON) + "\n")
}

// Messages returns a channel of typed messages from the agent. The channel
// closes when the transport does. Unparseable frames are skipped.
func (c *Client) Messages() <-chan Message {
	c.mu.RLock()
	t := c.transport
	c.mu.RUnlock()

	ch := make(chan Message, 100)
	if t == nil {
		close(ch)
		return ch
	}

	go func() {
		defer close(ch)
		for data := range t.ReadMessages() {
			parsed, err := ParseMessage(data)
			if err != nil {
				log.Debug().Err(err).Msg("skipping unparseable agent message")
				continue
			}
			ch <- parsed
		}
	}()
	return ch
}

// IsConnected returns whether the client is currently connected
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transport != nil && c.transport.IsConnected()
}

// Close terminates the agent session. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.transport != nil {
		if err := c.transport.Close(); err != nil {
			log.Debug().Err(err).Msg("error closing transport")
		}
		c.transport = nil
	}

	log.Info().Msg("agent client disconnected")
	return nil
}
