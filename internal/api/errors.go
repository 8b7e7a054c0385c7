package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/serroba/textsync/internal/collab"
	"github.com/serroba/textsync/internal/ot"
	"github.com/serroba/textsync/internal/storage"
	"github.com/serroba/textsync/internal/ws"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func abortWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: message})
}

// httpStatus maps a domain error to an HTTP status code.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrDocumentExists),
		errors.Is(err, ot.ErrRevisionTooOld):
		return http.StatusConflict
	case errors.Is(err, ot.ErrInvalidOperation),
		errors.Is(err, ot.ErrFutureRevision):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ot.ErrBufferFull):
		return http.StatusTooManyRequests
	case errors.Is(err, collab.ErrSessionClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// wsErrorCode maps a domain error to a WebSocket error code.
func wsErrorCode(err error) string {
	switch {
	case errors.Is(err, ot.ErrInvalidOperation),
		errors.Is(err, ot.ErrRevisionTooOld),
		errors.Is(err, ot.ErrFutureRevision):
		return ws.ErrorCodeResyncRequired
	case errors.Is(err, ws.ErrMalformedMessage):
		return ws.ErrorCodeInvalidMessage
	default:
		return ws.ErrorCodeInternalError
	}
}

// abortWithDomainError writes err with its mapped status. Server errors
// are logged and their detail is not exposed.
func abortWithDomainError(c *gin.Context, err error) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)

		abortWithError(c, status, http.StatusText(status))

		return
	}

	abortWithError(c, status, err.Error())
}
