package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/featureforge/featureforge/agent"
	"github.com/featureforge/featureforge/chat"
	"github.com/featureforge/featureforge/log"
	"github.com/featureforge/featureforge/projects"
)

// StatusProjectNotFound is the websocket close code sent when the project
// path segment does not resolve to an existing project directory.
const StatusProjectNotFound websocket.StatusCode = 4004

// clientFrame is an inbound websocket message
type clientFrame struct {
	Type        string                  `json:"type"`
	Content     string                  `json:"content,omitempty"`
	Attachments []agent.ImageAttachment `json:"attachments,omitempty"`
}

// FeatureChatWebSocket handles GET /api/projects/:project/feature-chat/ws
//
// The connection speaks a small JSON frame protocol: the client sends
// ping/start/message frames, the server answers with pong frames and the
// session's chunk stream (text, response_done, feature_created, error).
func (h *Handlers) FeatureChatWebSocket(c *gin.Context) {
	projectName := c.Param("project")

	projectDir, resolveErr := h.resolver.Resolve(projectName)

	// Get the underlying http.ResponseWriter from Gin's wrapper.
	// Gin wraps the response writer to track state, but the websocket
	// upgrade needs the raw writer for hijacking.
	var w http.ResponseWriter = c.Writer
	if unwrapper, ok := c.Writer.(interface{ Unwrap() http.ResponseWriter }); ok {
		w = unwrapper.Unwrap()
	}

	log.MarkHijacked(c)

	conn, err := websocket.Accept(w, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Origin checks are handled at a higher layer
	})
	if err != nil {
		log.Error().Err(err).Str("project", projectName).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Prevent middleware from writing headers on the hijacked connection
	c.Abort()

	// The upgrade must complete before the project check so the client
	// receives a proper close frame instead of an HTTP error.
	if resolveErr != nil {
		if errors.Is(resolveErr, projects.ErrNotFound) || errors.Is(resolveErr, projects.ErrInvalidName) {
			conn.Close(StatusProjectNotFound, "Project not found")
			return
		}
		log.Error().Err(resolveErr).Str("project", projectName).Msg("failed to resolve project")
		conn.Close(websocket.StatusInternalError, "Internal error")
		return
	}

	// This context governs websocket reads and writes only. Sessions carry
	// their own lifetime so the agent survives a socket disconnect.
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	log.Info().Str("project", projectName).Msg("feature chat connected")

	// Session started over this connection. Lookups also fall back to the
	// registry so a reconnecting client can resume an in-flight session.
	var session *chat.Session

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusGoingAway ||
				closeStatus == websocket.StatusNormalClosure ||
				closeStatus == websocket.StatusNoStatusRcvd {
				log.Debug().Str("project", projectName).Int("closeStatus", int(closeStatus)).Msg("feature chat closed normally")
			} else if ctx.Err() == nil {
				log.Info().Err(err).Str("project", projectName).Msg("feature chat read error")
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			writeChunk(ctx, conn, chat.ErrorChunk("Invalid JSON"))
			continue
		}

		switch frame.Type {
		case "ping":
			writeFrame(ctx, conn, map[string]string{"type": "pong"})

		case "start":
			session = h.registry.Create(projectName, projectDir)
			log.Info().Str("project", projectName).Str("sessionId", session.ID).Msg("starting feature chat session")
			if !relayChunks(ctx, conn, session.Start()) {
				return
			}

		case "message":
			content := strings.TrimSpace(frame.Content)
			if content == "" && len(frame.Attachments) == 0 {
				continue
			}
			if session == nil {
				session = h.registry.Get(projectName)
			}
			if session == nil {
				writeChunk(ctx, conn, chat.ErrorChunk("No active session. Send 'start' first."))
				continue
			}
			if !relayChunks(ctx, conn, session.SendMessage(content, frame.Attachments)) {
				return
			}

		default:
			writeChunk(ctx, conn, chat.ErrorChunk("Unknown message type: "+frame.Type))
		}
	}
}

// relayChunks forwards a session's chunk stream to the websocket. It returns
// false when the connection is gone and the handler should stop.
func relayChunks(ctx context.Context, conn *websocket.Conn, chunks <-chan chat.Chunk) bool {
	for chunk := range chunks {
		if err := writeChunk(ctx, conn, chunk); err != nil {
			// Drain the stream so the session goroutine can finish
			for range chunks {
			}
			return false
		}
	}
	return true
}

func writeChunk(ctx context.Context, conn *websocket.Conn, chunk chat.Chunk) error {
	return writeFrame(ctx, conn, chunk)
}

func writeFrame(ctx context.Context, conn *websocket.Conn, frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
