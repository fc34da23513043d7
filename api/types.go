package api

import (
	"encoding/json"

	"github.com/liveboard/liveboard/whiteboard"
)

// Error is the body of every error response.
type Error struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CreateSessionRequest is the body of POST /whiteboard/sessions.
type CreateSessionRequest struct {
	ClassID  string `json:"class_id" binding:"required,max=64"`
	CentreID string `json:"centre_id" binding:"required,max=64"`
	Name     string `json:"name" binding:"max=200"`
}

// CreateSessionResponse tells the creator where to connect.
type CreateSessionResponse struct {
	SessionID      string             `json:"session_id"`
	SocketEndpoint string             `json:"socket_endpoint"`
	Session        whiteboard.Session `json:"session"`
}

// SessionResponse adds derived fields to a session.
type SessionResponse struct {
	whiteboard.Session
	DurationMinutes *int `json:"duration_minutes,omitempty"`
}

// JoinResponse is returned by the REST join check.
type JoinResponse struct {
	SessionID       string          `json:"session_id"`
	SocketEndpoint  string          `json:"socket_endpoint"`
	ParticipantRole whiteboard.Role `json:"participant_role"`
}

// SaveSnapshotRequest is the body of POST /whiteboard/sessions/:id/snapshots.
type SaveSnapshotRequest struct {
	Payload json.RawMessage `json:"payload" binding:"required"`
	Name    string          `json:"name" binding:"max=200"`
}

// HealthResponse reports liveness and hub load.
type HealthResponse struct {
	Status      string            `json:"status"`
	Groups      int               `json:"groups"`
	Connections int64             `json:"connections"`
	Checks      map[string]string `json:"checks,omitempty"`
}

func sessionResponse(s whiteboard.Session) SessionResponse {
	return SessionResponse{Session: s, DurationMinutes: s.DurationMinutes()}
}

func socketEndpoint(sessionID string) string {
	return "/ws/whiteboard/" + sessionID
}
