package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/serroba/textsync/internal/collab"
	"github.com/serroba/textsync/internal/ot"
)

// CreateDocumentRequest is the request body for creating a document.
type CreateDocumentRequest struct {
	ID string `json:"id" binding:"required"`
}

// CreateDocumentResponse is the response body for creating a document.
type CreateDocumentResponse struct {
	ID string `json:"id"`
}

// GetDocumentResponse is the response body for getting a document.
type GetDocumentResponse struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Revision uint64 `json:"revision"`
}

// SubmitEditResponse reports where a submitted edit landed. Deferred
// edits carry no revision yet.
type SubmitEditResponse struct {
	Revision uint64       `json:"revision,omitempty"`
	Op       ot.Operation `json:"op"`
	Deferred bool         `json:"deferred,omitempty"`
}

// handleCreateDocument handles POST /documents.
func (s *Server) handleCreateDocument(c *gin.Context) {
	var req CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "document ID is required")

		return
	}

	if err := s.manager.CreateDocument(c.Request.Context(), req.ID); err != nil {
		abortWithDomainError(c, err)

		return
	}

	c.JSON(http.StatusCreated, CreateDocumentResponse(req))
}

// handleGetDocument handles GET /documents/:id. Reading the state counts
// as delivering it to the caller, so later edits based on the returned
// revision are ready at once.
func (s *Server) handleGetDocument(c *gin.Context) {
	docID := c.Param("id")
	ctx := c.Request.Context()

	session, err := s.manager.GetOrCreateSession(ctx, docID)
	if err != nil {
		abortWithDomainError(c, err)

		return
	}

	content, revision, err := session.Sync(ctx, "", UserIDFromContext(ctx))
	if err != nil {
		abortWithDomainError(c, err)

		return
	}

	c.JSON(http.StatusOK, GetDocumentResponse{
		ID:       docID,
		Content:  content,
		Revision: revision,
	})
}

// handleDeleteDocument handles DELETE /documents/:id.
func (s *Server) handleDeleteDocument(c *gin.Context) {
	if err := s.manager.DeleteDocument(c.Request.Context(), c.Param("id")); err != nil {
		abortWithDomainError(c, err)

		return
	}

	c.Status(http.StatusNoContent)
}

// handleSubmitEdit handles POST /documents/:id/edits for clients that do
// not hold a WebSocket. The author is always the authenticated user.
func (s *Server) handleSubmitEdit(c *gin.Context) {
	var rec ot.EditRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ot.ErrInvalidOperation) {
			status = http.StatusUnprocessableEntity
		}

		abortWithError(c, status, err.Error())

		return
	}

	ctx := c.Request.Context()
	rec.AuthorID = UserIDFromContext(ctx)

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	session, err := s.manager.GetOrCreateSession(ctx, c.Param("id"))
	if err != nil {
		abortWithDomainError(c, err)

		return
	}

	seq, err := session.ApplyEdit(ctx, "", rec)

	switch {
	case errors.Is(err, collab.ErrDeferred):
		c.JSON(http.StatusAccepted, SubmitEditResponse{Op: rec.Op, Deferred: true})
	case err != nil:
		abortWithDomainError(c, err)
	default:
		c.JSON(http.StatusOK, SubmitEditResponse{Revision: seq.Revision, Op: seq.Op})
	}
}
