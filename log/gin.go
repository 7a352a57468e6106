package log

import (
	"time"

	"github.com/gin-gonic/gin"
)

// hijackedKey marks a request whose connection was taken over by a
// websocket upgrade. net/http gives middleware no way to detect hijacking
// (golang/go#16456), so handlers record it here themselves.
const hijackedKey = "connection_hijacked"

// MarkHijacked records that the handler hijacked the connection.
// Websocket handlers call this around the upgrade so later middleware
// stays away from the response writer.
func MarkHijacked(c *gin.Context) {
	c.Set(hijackedKey, true)
}

// IsHijacked reports whether MarkHijacked was called for this request
func IsHijacked(c *gin.Context) bool {
	v, ok := c.Get(hijackedKey)
	return ok && v.(bool)
}

// GinLogger returns request logging middleware backed by zerolog
func GinLogger() gin.HandlerFunc {
	httpLogger := GetLogger("HTTP")

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		// Reading c.Writer.Status() after an upgrade makes gin call
		// WriteHeaderNow on the hijacked connection.
		if IsHijacked(c) {
			return
		}

		status := c.Writer.Status()
		event := httpLogger.Info()
		switch {
		case status >= 500:
			event = httpLogger.Error()
		case status >= 400:
			event = httpLogger.Warn()
		}

		if query != "" {
			path += "?" + query
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("ip", c.ClientIP())

		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			event.Str("error", errs)
		}

		event.Msg("request")
	}
}
