package whiteboard

import (
	"context"
	"time"
)

// SessionStatus is ACTIVE until the session is ended, then ENDED forever.
type SessionStatus string

const (
	StatusActive SessionStatus = "ACTIVE"
	StatusEnded  SessionStatus = "ENDED"
)

// DefaultSessionName is used when a session is created without a name.
const DefaultSessionName = "Whiteboard"

// Session is a live drawing session bound to one class.
type Session struct {
	ID        string        `json:"id"`
	ClassID   string        `json:"class_id"`
	CentreID  string        `json:"centre_id"`
	Name      string        `json:"name"`
	CreatorID string        `json:"creator_id"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
}

// IsActive reports whether the session still accepts joins and snapshots.
func (s Session) IsActive() bool {
	return s.Status == StatusActive
}

// DurationMinutes is the whole minutes between creation and end, or nil
// while the session is active.
func (s Session) DurationMinutes() *int {
	if s.EndedAt == nil {
		return nil
	}
	m := int(s.EndedAt.Sub(s.CreatedAt) / time.Minute)
	return &m
}

// SessionFilter narrows List. The zero value matches nothing; set All for
// an unrestricted listing.
type SessionFilter struct {
	All        bool
	CentreID   string
	ClassIDs   []string
	ActiveOnly bool
}

// SessionStore persists sessions. Implementations must make MarkEnded a
// conditional transition so that concurrent calls cannot both succeed.
type SessionStore interface {
	// Create inserts s, assigning ID and CreatedAt. It returns ErrConflict
	// when the class already has an active session.
	Create(ctx context.Context, s *Session) error
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (Session, error)
	// MarkEnded moves an active session to ENDED. It returns ErrNotFound or
	// ErrAlreadyEnded when the transition did not happen.
	MarkEnded(ctx context.Context, id string, endedAt time.Time) (Session, error)
	// List returns matching sessions, newest first.
	List(ctx context.Context, filter SessionFilter) ([]Session, error)
}
