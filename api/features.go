package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/featureforge/featureforge/db"
	"github.com/featureforge/featureforge/log"
	"github.com/featureforge/featureforge/projects"
)

// resolveProject resolves the :project path param, writing the error
// response itself when the project is missing or the name is malformed.
func (h *Handlers) resolveProject(c *gin.Context) (string, bool) {
	projectDir, err := h.resolver.Resolve(c.Param("project"))
	if err != nil {
		if errors.Is(err, projects.ErrNotFound) || errors.Is(err, projects.ErrInvalidName) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		} else {
			log.Error().Err(err).Str("project", c.Param("project")).Msg("failed to resolve project")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve project"})
		}
		return "", false
	}
	return projectDir, true
}

// ListFeatures handles GET /api/projects/:project/features
func (h *Handlers) ListFeatures(c *gin.Context) {
	projectDir, ok := h.resolveProject(c)
	if !ok {
		return
	}

	store, err := db.Open(projectDir)
	if err != nil {
		log.Error().Err(err).Str("project", c.Param("project")).Msg("failed to open feature store")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open feature store"})
		return
	}
	defer store.Close()

	features, err := store.ListFeatures()
	if err != nil {
		log.Error().Err(err).Str("project", c.Param("project")).Msg("failed to list features")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list features"})
		return
	}
	if features == nil {
		features = []db.Feature{}
	}

	c.JSON(http.StatusOK, gin.H{"features": features})
}

// GetFeature handles GET /api/projects/:project/features/:id
func (h *Handlers) GetFeature(c *gin.Context) {
	projectDir, ok := h.resolveProject(c)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid feature id"})
		return
	}

	store, err := db.Open(projectDir)
	if err != nil {
		log.Error().Err(err).Str("project", c.Param("project")).Msg("failed to open feature store")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open feature store"})
		return
	}
	defer store.Close()

	feature, err := store.GetFeature(id)
	if err != nil {
		log.Error().Err(err).Int64("id", id).Msg("failed to load feature")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load feature"})
		return
	}
	if feature == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feature not found"})
		return
	}

	c.JSON(http.StatusOK, feature)
}

// DeleteFeature handles DELETE /api/projects/:project/features/:id
func (h *Handlers) DeleteFeature(c *gin.Context) {
	projectDir, ok := h.resolveProject(c)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid feature id"})
		return
	}

	store, err := db.Open(projectDir)
	if err != nil {
		log.Error().Err(err).Str("project", c.Param("project")).Msg("failed to open feature store")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open feature store"})
		return
	}
	defer store.Close()

	deleted, err := store.DeleteFeature(id)
	if err != nil {
		log.Error().Err(err).Int64("id", id).Msg("failed to delete feature")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete feature"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feature not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetFeatureChat handles GET /api/projects/:project/feature-chat
// It reports the project's active session, including its conversation
// history, so a reconnecting client can restore its view.
func (h *Handlers) GetFeatureChat(c *gin.Context) {
	if _, ok := h.resolveProject(c); !ok {
		return
	}

	session := h.registry.Get(c.Param("project"))
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No active session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId":        session.ID,
		"createdAt":        session.CreatedAt,
		"complete":         session.Complete(),
		"createdFeatureId": session.CreatedFeatureID(),
		"history":          session.History(),
	})
}

// ResetFeatureChat handles DELETE /api/projects/:project/feature-chat
// It closes and discards the project's active chat session if one exists.
func (h *Handlers) ResetFeatureChat(c *gin.Context) {
	if _, ok := h.resolveProject(c); !ok {
		return
	}

	removed := h.registry.Remove(c.Param("project"))
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
