package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when operations are attempted before connecting
	ErrNotConnected = errors.New("not connected: call Connect() first")

	// ErrAlreadyConnected is returned when Connect is called twice
	ErrAlreadyConnected = errors.New("already connected")

	// ErrConnectionClosed is returned when the connection has been closed
	ErrConnectionClosed = errors.New("connection closed")
)

// ConnectionError represents a connection error to the agent CLI
type ConnectionError struct {
	Message string
	Cause   error
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("agent connection error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("agent connection error: %s", e.Message)
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// ParseError represents an error parsing an agent message
type ParseError struct {
	Message string
	Data    []byte
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("message parse error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("message parse error: %s", e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}
