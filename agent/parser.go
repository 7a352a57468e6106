package agent

import "encoding/json"

// ParseMessage parses raw JSON data into a typed Message object
func ParseMessage(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, &ParseError{Message: "empty message data", Data: data}
	}

	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, &ParseError{Message: "failed to parse message type", Data: data, Cause: err}
	}

	if base.Type == "" {
		return nil, &ParseError{Message: "message missing 'type' field", Data: data}
	}

	switch base.Type {
	case "user":
		return parseUserMessage(data)

	case "assistant":
		return parseAssistantMessage(data)

	case "system":
		return parseSystemMessage(data)

	case "result":
		return parseResultMessage(data)

	default:
		// Unknown type - return as raw message for passthrough
		return RawMessage{
			Type: MessageType(base.Type),
			Raw:  data,
		}, nil
	}
}

func parseUserMessage(data []byte) (Message, error) {
	var msg UserMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &ParseError{Message: "failed to parse user message", Data: data, Cause: err}
	}
	msg.Type = MessageTypeUser
	return msg, nil
}

func parseAssistantMessage(data []byte) (Message, error) {
	var raw struct {
		Type            string  `json:"type"`
		SessionID       string  `json:"session_id,omitempty"`
		ParentToolUseID *string `json:"parent_tool_use_id,omitempty"`
		Message         struct {
			Role    string `json:"role"`
			Model   string `json:"model"`
			Content []struct {
				Type      string         `json:"type"`
				Text      string         `json:"text,omitempty"`
				ID        string         `json:"id,omitempty"`
				Name      string         `json:"name,omitempty"`
				Input     map[string]any `json:"input,omitempty"`
				ToolUseID string         `json:"tool_use_id,omitempty"`
				Content   any            `json:"content,omitempty"`
				IsError   bool           `json:"is_error,omitempty"`
			} `json:"content"`
		} `json:"message"`
		Error string `json:"error,omitempty"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Message: "failed to parse assistant message", Data: data, Cause: err}
	}

	msg := AssistantMessage{
		Type:            MessageTypeAssistant,
		SessionID:       raw.SessionID,
		ParentToolUseID: raw.ParentToolUseID,
		Error:           raw.Error,
	}
	msg.Message.Role = raw.Message.Role
	msg.Message.Model = raw.Message.Model

	for _, block := range raw.Message.Content {
		switch block.Type {
		case "text":
			msg.Message.Content = append(msg.Message.Content, TextBlock{
				Type: "text",
				Text: block.Text,
			})

		case "tool_use":
			msg.Message.Content = append(msg.Message.Content, ToolUseBlock{
				Type:  "tool_use",
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})

		case "tool_result":
			msg.Message.Content = append(msg.Message.Content, ToolResultBlock{
				Type:      "tool_result",
				ToolUseID: block.ToolUseID,
				Content:   block.Content,
				IsError:   block.IsError,
			})
		}
	}

	return msg, nil
}

func parseSystemMessage(data []byte) (Message, error) {
	var msg SystemMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &ParseError{Message: "failed to parse system message", Data: data, Cause: err}
	}
	msg.Type = MessageTypeSystem

	// Keep the full payload around for callers that need subtype-specific data
	var full map[string]any
	if err := json.Unmarshal(data, &full); err == nil {
		msg.Data = full
	}

	return msg, nil
}

func parseResultMessage(data []byte) (Message, error) {
	var msg ResultMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &ParseError{Message: "failed to parse result message", Data: data, Cause: err}
	}
	msg.Type = MessageTypeResult
	return msg, nil
}

// GetTextContent extracts all text content from an AssistantMessage
func GetTextContent(msg AssistantMessage) string {
	var result string
	for _, block := range msg.Message.Content {
		if tb, ok := block.(TextBlock); ok {
			if result != "" {
				result += "\n"
			}
			result += tb.Text
		}
	}
	return result
}
