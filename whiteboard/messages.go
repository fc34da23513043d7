package whiteboard

import (
	"encoding/json"
	"time"
)

// Frame types. The first four are accepted from clients; the rest are
// produced by the server.
const (
	FrameDraw            = "draw"
	FrameCursorMove      = "cursor-move"
	FrameClear           = "clear"
	FrameSnapshotRequest = "snapshot-request"

	FrameCurrentSnapshot = "current-snapshot"
	FrameJoinNotify      = "join-notify"
	FrameLeaveNotify     = "leave-notify"
	FrameSessionEnded    = "session-ended"
	FrameSnapshotSaved   = "snapshot-saved"
)

// InboundFrame is the envelope every client frame must use.
type InboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Point is one position on the canvas.
type Point struct {
	X *float64 `json:"x" validate:"required,gte=0,lte=100000"`
	Y *float64 `json:"y" validate:"required,gte=0,lte=100000"`
}

// DrawPayload is a stroke segment. Tool defaults to pen.
type DrawPayload struct {
	X        *float64 `json:"x" validate:"required,gte=0,lte=100000"`
	Y        *float64 `json:"y" validate:"required,gte=0,lte=100000"`
	Color    string   `json:"color" validate:"required,rgbcolor"`
	Size     *float64 `json:"size" validate:"required,gte=1,lte=200"`
	Tool     string   `json:"tool,omitempty" validate:"omitempty,oneof=pen marker highlighter eraser line rectangle ellipse text"`
	Points   []Point  `json:"points,omitempty" validate:"omitempty,max=2000,dive"`
	StrokeID string   `json:"stroke_id,omitempty" validate:"omitempty,max=64"`
}

// CursorPayload is a pointer position.
type CursorPayload struct {
	X *float64 `json:"x" validate:"required,gte=0,lte=100000"`
	Y *float64 `json:"y" validate:"required,gte=0,lte=100000"`
}

// SnapshotRequestPayload asks the server to persist the sender's canvas.
type SnapshotRequestPayload struct {
	Payload json.RawMessage `json:"payload" validate:"required"`
	Name    string          `json:"name,omitempty" validate:"omitempty,max=200"`
}

// ParticipantInfo describes a live participant to other members.
type ParticipantInfo struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"display_name"`
	Role         Role      `json:"role"`
	JoinedAt     time.Time `json:"joined_at"`
}

// OutboundFrame is every frame the server writes.
type OutboundFrame struct {
	Type              string           `json:"type"`
	Payload           any              `json:"payload"`
	OriginParticipant *ParticipantInfo `json:"origin_participant,omitempty"`
	Timestamp         time.Time        `json:"timestamp"`
}

// CurrentSnapshotPayload is the first frame a joiner receives. Snapshot is
// null when the session has none yet.
type CurrentSnapshotPayload struct {
	SessionID    string            `json:"session_id"`
	Snapshot     *Snapshot         `json:"snapshot"`
	Participants []ParticipantInfo `json:"participants"`
}

// MembershipPayload accompanies join-notify and leave-notify.
type MembershipPayload struct {
	Participant       ParticipantInfo `json:"participant"`
	ParticipantsCount int             `json:"participants_count"`
	Reason            string          `json:"reason,omitempty"`
}

// SessionEndedPayload is the last frame of a session.
type SessionEndedPayload struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// SnapshotSavedPayload reports a snapshot-request outcome. Failures carry
// a Reason and go only to the requester.
type SnapshotSavedPayload struct {
	OK        bool       `json:"ok"`
	Sequence  int64      `json:"sequence,omitempty"`
	Author    string     `json:"author,omitempty"`
	Name      string     `json:"name,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// Snapshot failure reasons.
const (
	ReasonForbidden          = "forbidden"
	ReasonNotFound           = "not_found"
	ReasonInvalid            = "invalid"
	ReasonPersistenceFailure = "persistence_failure"
)
