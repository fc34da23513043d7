package whiteboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/liveboard/liveboard/internal/slogging"
	"github.com/liveboard/liveboard/internal/unicodecheck"
)

// SessionTerminator tears down the live side of a session once it has
// ended. Implementations must be idempotent.
type SessionTerminator interface {
	TerminateSession(sessionID string)
}

// Terminators fans a termination out to several terminators in order.
type Terminators []SessionTerminator

// TerminateSession calls every terminator.
func (ts Terminators) TerminateSession(sessionID string) {
	for _, t := range ts {
		if t != nil {
			t.TerminateSession(sessionID)
		}
	}
}

// Registry owns session lifecycle: creation, join authorization and the
// ACTIVE to ENDED transition. Nothing is cached; every call reads the store.
type Registry struct {
	store      SessionStore
	events     EventEmitter
	classLocks *keyedMutex
	now        func() time.Time

	mu         sync.RWMutex
	terminator SessionTerminator
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithEventEmitter publishes lifecycle events through e.
func WithEventEmitter(e EventEmitter) RegistryOption {
	return func(r *Registry) {
		if e != nil {
			r.events = e
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a registry on top of store.
func NewRegistry(store SessionStore, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:      store,
		events:     noopEmitter{},
		classLocks: newKeyedMutex(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetTerminator installs the component told about ended sessions. The hub
// needs the registry to exist first, hence the setter.
func (r *Registry) SetTerminator(t SessionTerminator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminator = t
}

func (r *Registry) currentTerminator() SessionTerminator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.terminator
}

// Create opens a new ACTIVE session for class. A class can have only one
// active session at a time.
func (r *Registry) Create(ctx context.Context, actor Identity, class ClassRef, name string) (Session, error) {
	if !CanCreate(actor, class) {
		return Session{}, fmt.Errorf("user %s cannot create a session for class %s: %w", actor.UserID, class.ClassID, ErrForbidden)
	}
	name = unicodecheck.NormalizeLabel(name)
	if name == "" {
		name = DefaultSessionName
	}
	if err := unicodecheck.CheckLabel(name); err != nil {
		return Session{}, fmt.Errorf("session name %w: %w", err, ErrMalformedMessage)
	}

	release := r.classLocks.Lock(class.ClassID)
	defer release()

	s := Session{
		ClassID:   class.ClassID,
		CentreID:  class.CentreID,
		Name:      name,
		CreatorID: actor.UserID,
		Status:    StatusActive,
	}
	if err := r.store.Create(ctx, &s); err != nil {
		return Session{}, err
	}

	slogging.Get().Info("Whiteboard session %s created for class %s by %s", s.ID, s.ClassID, actor.UserID)
	r.emit(ctx, EventSessionCreated, s, actor.UserID, nil)
	return s, nil
}

// AuthorizeJoin checks that sessionID exists, is active and that actor may
// join it, in that order.
func (r *Registry) AuthorizeJoin(ctx context.Context, sessionID string, actor Identity) (Session, error) {
	s, err := r.store.Get(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if !s.IsActive() {
		return Session{}, fmt.Errorf("session %s: %w", sessionID, ErrAlreadyEnded)
	}
	if !CanJoin(actor, s) {
		return Session{}, fmt.Errorf("user %s cannot join session %s: %w", actor.UserID, sessionID, ErrForbidden)
	}
	return s, nil
}

// End moves the session to ENDED and tells the terminator. Of two
// concurrent calls exactly one succeeds; the other gets ErrAlreadyEnded.
func (r *Registry) End(ctx context.Context, sessionID string, actor Identity) (Session, error) {
	s, err := r.store.Get(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if !CanEnd(actor, s) {
		return Session{}, fmt.Errorf("user %s cannot end session %s: %w", actor.UserID, sessionID, ErrForbidden)
	}
	if !s.IsActive() {
		return Session{}, fmt.Errorf("session %s: %w", sessionID, ErrAlreadyEnded)
	}

	ended, err := r.store.MarkEnded(ctx, sessionID, r.now().UTC())
	if err != nil {
		return Session{}, err
	}

	slogging.Get().Info("Whiteboard session %s ended by %s", sessionID, actor.UserID)
	if t := r.currentTerminator(); t != nil {
		t.TerminateSession(sessionID)
	}
	r.emit(ctx, EventSessionEnded, ended, actor.UserID, map[string]any{
		"duration_minutes": ended.DurationMinutes(),
	})
	return ended, nil
}

// Get returns a session actor may view.
func (r *Registry) Get(ctx context.Context, sessionID string, actor Identity) (Session, error) {
	s, err := r.store.Get(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if !CanView(actor, s) {
		return Session{}, fmt.Errorf("user %s cannot view session %s: %w", actor.UserID, sessionID, ErrForbidden)
	}
	return s, nil
}

// ListVisible returns the sessions actor may see, newest first.
func (r *Registry) ListVisible(ctx context.Context, actor Identity, activeOnly bool) ([]Session, error) {
	filter := SessionFilter{ActiveOnly: activeOnly}
	switch actor.Role {
	case RoleSuperAdmin:
		filter.All = true
	case RoleCentreManager:
		filter.CentreID = actor.CentreID
	case RoleTeacher:
		filter.ClassIDs = actor.ClassesTaught
	case RoleStudent:
		filter.ClassIDs = actor.ClassesEnrolled
	default:
		return []Session{}, nil
	}
	return r.store.List(ctx, filter)
}

func (r *Registry) emit(ctx context.Context, eventType string, s Session, actorID string, data map[string]any) {
	err := r.events.EmitEvent(ctx, EventPayload{
		EventType: eventType,
		SessionID: s.ID,
		ClassID:   s.ClassID,
		CentreID:  s.CentreID,
		ActorID:   actorID,
		Timestamp: r.now().UTC(),
		Data:      data,
	})
	if err != nil {
		slogging.Get().Warn("Failed to emit %s for session %s: %v", eventType, s.ID, err)
	}
}
