// Package api exposes documents over HTTP and live editing over WebSocket.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/serroba/textsync/internal/collab"
	"github.com/serroba/textsync/internal/ws"
)

// Server handles HTTP requests for the collaboration API.
type Server struct {
	manager  *collab.Manager
	hub      *ws.Hub
	upgrader websocket.Upgrader
}

// ServerConfig holds configuration for creating a server.
type ServerConfig struct {
	Manager *collab.Manager
	Hub     *ws.Hub

	// CheckOrigin overrides the upgrader's origin check. Nil allows all.
	CheckOrigin func(r *http.Request) bool
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(_ *http.Request) bool { return true }
	}

	return &Server{
		manager: cfg.Manager,
		hub:     cfg.Hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery(), requestLogger())

	authed := router.Group("/", requireUser())

	authed.POST("/documents", s.handleCreateDocument)
	authed.GET("/documents/:id", s.handleGetDocument)
	authed.DELETE("/documents/:id", s.handleDeleteDocument)
	authed.POST("/documents/:id/edits", s.handleSubmitEdit)

	authed.GET("/ws", s.handleWebSocket)

	return router
}

// requestLogger logs one line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		event := log.Debug()
		if len(c.Errors) > 0 {
			event = log.Error().Str("errors", c.Errors.String())
		}

		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
