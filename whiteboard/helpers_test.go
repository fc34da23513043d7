package whiteboard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/liveboard/liveboard/api/models"
	"github.com/liveboard/liveboard/internal/db"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// setupTestDB creates a migrated in-memory SQLite database
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	g, err := db.NewGormDB(db.GormConfig{Type: db.DatabaseTypeSQLite, SQLitePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	require.NoError(t, g.AutoMigrate(models.AllModels()...))
	return g.DB()
}

var (
	admin = Identity{UserID: "admin-1", DisplayName: "Ada", Role: RoleSuperAdmin}

	manager = Identity{UserID: "mgr-1", DisplayName: "Mo", Role: RoleCentreManager, CentreID: "centre-1"}

	otherManager = Identity{UserID: "mgr-2", Role: RoleCentreManager, CentreID: "centre-2"}

	teacher = Identity{
		UserID:        "teacher-1",
		DisplayName:   "Ms T",
		Role:          RoleTeacher,
		CentreID:      "centre-1",
		ClassesTaught: []string{"class-5"},
	}

	otherTeacher = Identity{UserID: "teacher-2", Role: RoleTeacher, ClassesTaught: []string{"class-9"}}

	studentA = Identity{UserID: "student-a", DisplayName: "A", Role: RoleStudent, ClassesEnrolled: []string{"class-5"}}

	studentB = Identity{UserID: "student-b", DisplayName: "B", Role: RoleStudent, ClassesEnrolled: []string{"class-5"}}

	outsider = Identity{UserID: "student-z", Role: RoleStudent, ClassesEnrolled: []string{"class-9"}}

	parent = Identity{UserID: "parent-1", Role: RoleParent}

	class5 = ClassRef{ClassID: "class-5", CentreID: "centre-1"}
)

// recordingTerminator remembers terminated sessions.
type recordingTerminator struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingTerminator) TerminateSession(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func (r *recordingTerminator) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

// recordingEmitter captures emitted events.
type recordingEmitter struct {
	mu     sync.Mutex
	events []EventPayload
}

func (r *recordingEmitter) EmitEvent(_ context.Context, p EventPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
	return nil
}

func (r *recordingEmitter) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

// memorySessionStore is a SessionStore for tests that do not need SQL.
type memorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func newMemorySessionStore(sessions ...Session) *memorySessionStore {
	m := &memorySessionStore{sessions: make(map[string]Session)}
	for _, s := range sessions {
		m.sessions[s.ID] = s
	}
	return m
}

func (m *memorySessionStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.ClassID == s.ClassID && existing.IsActive() {
			return ErrConflict
		}
	}
	if s.ID == "" {
		s.ID = "mem-" + s.ClassID
	}
	s.Status = StatusActive
	s.CreatedAt = time.Now().UTC()
	m.sessions[s.ID] = *s
	return nil
}

func (m *memorySessionStore) Get(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *memorySessionStore) MarkEnded(_ context.Context, id string, at time.Time) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if !s.IsActive() {
		return s, ErrAlreadyEnded
	}
	s.Status = StatusEnded
	s.EndedAt = &at
	m.sessions[id] = s
	return s, nil
}

func (m *memorySessionStore) List(context.Context, SessionFilter) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out, nil
}

func activeSession(id string) Session {
	return Session{
		ID:        id,
		ClassID:   class5.ClassID,
		CentreID:  class5.CentreID,
		Name:      DefaultSessionName,
		CreatorID: teacher.UserID,
		Status:    StatusActive,
		CreatedAt: time.Now().UTC(),
	}
}
