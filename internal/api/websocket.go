package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/serroba/textsync/internal/collab"
	"github.com/serroba/textsync/internal/ws"
)

// handleWebSocket handles GET /ws?docId={id}. The document is loaded
// before upgrading so a missing document is a plain 404.
func (s *Server) handleWebSocket(c *gin.Context) {
	docID := c.Query("docId")
	if docID == "" {
		abortWithError(c, http.StatusBadRequest, "docId query parameter is required")

		return
	}

	ctx := c.Request.Context()
	userID := UserIDFromContext(ctx)

	session, err := s.manager.GetOrCreateSession(ctx, docID)
	if err != nil {
		abortWithDomainError(c, err)

		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already replied
		log.Warn().Err(err).Str("doc_id", docID).Msg("websocket upgrade failed")

		return
	}

	client := ws.NewClient(uuid.NewString(), userID, conn)
	logger := log.With().
		Str("doc_id", docID).
		Str("client_id", client.ID).
		Str("author_id", userID).
		Logger()

	s.hub.Register(client)
	s.hub.Subscribe(client, docID)

	defer func() {
		s.hub.Unregister(client)
		_ = client.Close()

		logger.Debug().Msg("client disconnected")
	}()

	if _, _, err := session.Sync(ctx, client.ID, userID); err != nil {
		logger.Error().Err(err).Msg("initial sync failed")

		return
	}

	logger.Debug().Msg("client connected")

	s.serveClient(ctx, client, session, logger)
}

// serveClient reads messages until the connection fails. Acks, broadcasts
// and state replies are sent by the session through the hub.
func (s *Server) serveClient(ctx context.Context, client *ws.Client, session *collab.Session, logger zerolog.Logger) {
	for {
		msg, err := client.Receive()
		if err != nil {
			if !errors.Is(err, ws.ErrMalformedMessage) {
				return
			}

			logger.Debug().Err(err).Msg("malformed message")

			_ = client.SendError(wsErrorCode(err), err.Error())

			continue
		}

		switch msg.Type {
		case ws.MessageTypeOperation:
			s.handleOperation(ctx, client, session, msg, logger)
		case ws.MessageTypeSync:
			if _, _, err := session.Sync(ctx, client.ID, client.AuthorID); err != nil {
				_ = client.SendError(wsErrorCode(err), err.Error())
			}
		case ws.MessageTypeAck, ws.MessageTypeBroadcast, ws.MessageTypeState, ws.MessageTypeError:
			_ = client.SendError(ws.ErrorCodeInvalidMessage, "unexpected message type")
		}
	}
}

// handleOperation submits one edit. The record's author is forced to the
// connection's user.
func (s *Server) handleOperation(
	ctx context.Context, client *ws.Client, session *collab.Session, msg ws.Message, logger zerolog.Logger,
) {
	payload, ok := msg.Payload.(ws.OperationPayload)
	if !ok {
		_ = client.SendError(ws.ErrorCodeInvalidMessage, "invalid operation payload")

		return
	}

	if payload.DocID != "" && payload.DocID != session.DocID() {
		_ = client.SendError(ws.ErrorCodeInvalidMessage, "operation for a different document")

		return
	}

	rec := payload.Record
	rec.AuthorID = client.AuthorID

	_, err := session.ApplyEdit(ctx, client.ID, rec)

	switch {
	case err == nil, errors.Is(err, collab.ErrDeferred):
		// Acked by the session now or once the edit is ready
	default:
		logger.Warn().Err(err).Uint64("base_version", rec.BaseVersion).Msg("edit rejected")

		_ = client.SendError(wsErrorCode(err), err.Error())
	}
}
