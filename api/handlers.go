// Package api exposes the HTTP and websocket endpoints.
package api

import (
	"github.com/featureforge/featureforge/chat"
	"github.com/featureforge/featureforge/projects"
)

// Handlers holds references to the components the endpoints need
type Handlers struct {
	resolver *projects.Resolver
	registry *chat.Registry
}

// NewHandlers creates a Handlers instance
func NewHandlers(resolver *projects.Resolver, registry *chat.Registry) *Handlers {
	return &Handlers{
		resolver: resolver,
		registry: registry,
	}
}
