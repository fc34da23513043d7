package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/liveboard/liveboard/auth"
	"github.com/liveboard/liveboard/internal/slogging"
	"github.com/liveboard/liveboard/whiteboard"
)

// RequestError is an error with a fixed HTTP status and code.
type RequestError struct {
	Status  int
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

// InvalidInputError creates a RequestError for validation failures
func InvalidInputError(message string) *RequestError {
	return &RequestError{Status: http.StatusBadRequest, Code: "invalid_input", Message: message}
}

// requestErrorFor maps domain errors to their HTTP form.
func requestErrorFor(err error) *RequestError {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr
	}
	switch {
	case errors.Is(err, whiteboard.ErrAuthentication):
		return &RequestError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "a valid bearer token is required"}
	case errors.Is(err, whiteboard.ErrNotFound):
		return &RequestError{Status: http.StatusNotFound, Code: "not_found", Message: "session not found"}
	case errors.Is(err, whiteboard.ErrForbidden):
		return &RequestError{Status: http.StatusForbidden, Code: "forbidden", Message: "not permitted for this session"}
	case errors.Is(err, whiteboard.ErrAlreadyEnded):
		return &RequestError{Status: http.StatusConflict, Code: "already_ended", Message: "session has already ended"}
	case errors.Is(err, whiteboard.ErrConflict):
		return &RequestError{Status: http.StatusConflict, Code: "conflict", Message: "class already has an active session"}
	case errors.Is(err, whiteboard.ErrMalformedMessage):
		return &RequestError{Status: http.StatusBadRequest, Code: "invalid_input", Message: err.Error()}
	case errors.Is(err, whiteboard.ErrPersistence):
		return &RequestError{Status: http.StatusServiceUnavailable, Code: "unavailable", Message: "storage is temporarily unavailable"}
	default:
		return &RequestError{Status: http.StatusInternalServerError, Code: "server_error", Message: "internal server error"}
	}
}

// HandleRequestError writes err as an Error body with the matching status.
func HandleRequestError(c *gin.Context, err error) {
	reqErr := requestErrorFor(err)
	if reqErr.Status >= http.StatusInternalServerError {
		slogging.FromGin(c).Error("Request failed: %v", err)
	} else {
		slogging.FromGin(c).Debug("Request rejected: %v", err)
	}
	if reqErr.Status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", "Bearer")
	}
	c.JSON(reqErr.Status, Error{Error: reqErr.Code, Message: reqErr.Message})
}

// identity returns the caller stored by the auth middleware.
func identity(c *gin.Context) (whiteboard.Identity, bool) {
	id, ok := auth.IdentityFromContext(c)
	if !ok {
		HandleRequestError(c, whiteboard.ErrAuthentication)
	}
	return id, ok
}
