package whiteboard

import (
	"errors"

	"github.com/gorilla/websocket"
)

// Sentinel errors. Callers wrap them with fmt.Errorf("...: %w", err) and
// test with errors.Is.
var (
	ErrAuthentication   = errors.New("authentication failed")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("session not found")
	ErrAlreadyEnded     = errors.New("session already ended")
	ErrConflict         = errors.New("class already has an active session")
	ErrMalformedMessage = errors.New("malformed message")
	ErrPersistence      = errors.New("persistence failure")
	ErrBackpressure     = errors.New("subscriber cannot keep up")
	ErrGroupFull        = errors.New("session is full")
	ErrShuttingDown     = errors.New("server is shutting down")
)

// Close codes sent to clients in the close frame. The 3000 range is
// registered for application use.
const (
	CloseUnauthenticated = websocket.ClosePolicyViolation // 1008
	CloseNotFound        = 3000
	CloseAlreadyEnded    = 3001
	CloseForbidden       = 3002
	CloseTryAgainLater   = websocket.CloseTryAgainLater // 1013
	CloseGoingAway       = websocket.CloseGoingAway     // 1001
	CloseNormal          = websocket.CloseNormalClosure // 1000
)

// CloseCodeFor maps an error from opening a connection to the code the
// client receives.
func CloseCodeFor(err error) int {
	switch {
	case err == nil:
		return CloseNormal
	case errors.Is(err, ErrAuthentication), errors.Is(err, ErrMalformedMessage):
		return CloseUnauthenticated
	case errors.Is(err, ErrNotFound):
		return CloseNotFound
	case errors.Is(err, ErrAlreadyEnded):
		return CloseAlreadyEnded
	case errors.Is(err, ErrForbidden):
		return CloseForbidden
	case errors.Is(err, ErrShuttingDown):
		return CloseGoingAway
	default:
		return CloseTryAgainLater
	}
}

// closeText is the short reason carried next to the code.
func closeText(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthentication):
		return "unauthenticated"
	case errors.Is(err, ErrMalformedMessage):
		return "too many malformed frames"
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrAlreadyEnded):
		return "session ended"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrBackpressure):
		return "too slow"
	case errors.Is(err, ErrGroupFull):
		return "session full"
	case errors.Is(err, ErrShuttingDown):
		return "server shutting down"
	default:
		return "try again later"
	}
}
