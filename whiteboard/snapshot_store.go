package whiteboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/liveboard/liveboard/internal/db"
	"github.com/liveboard/liveboard/internal/slogging"
	"github.com/liveboard/liveboard/internal/unicodecheck"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxSnapshotBytes bounds a snapshot payload when no limit is configured.
const DefaultMaxSnapshotBytes = 1 << 20

// maxSnapshotNameLen bounds the optional snapshot label.
const maxSnapshotNameLen = 200

// Snapshot is an immutable saved canvas.
type Snapshot struct {
	SessionID string          `json:"session_id"`
	Sequence  int64           `json:"sequence"`
	AuthorID  string          `json:"author"`
	Name      string          `json:"name,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// SnapshotRepository persists snapshots.
type SnapshotRepository interface {
	// Insert stores s with the next sequence for its session when
	// s.Sequence is zero. Callers serialize inserts per session; a
	// concurrent writer elsewhere surfaces as a duplicate key error.
	Insert(ctx context.Context, s *Snapshot) error
	// List returns a session's snapshots by ascending sequence.
	List(ctx context.Context, sessionID string) ([]Snapshot, error)
	// Latest returns the highest sequence, or nil when there is none.
	Latest(ctx context.Context, sessionID string) (*Snapshot, error)
}

// SnapshotCache keeps the newest snapshot of each session.
type SnapshotCache interface {
	Get(ctx context.Context, sessionID string) (*Snapshot, bool, error)
	Put(ctx context.Context, s Snapshot) error
	Invalidate(ctx context.Context, sessionID string) error
}

// SnapshotStore validates, sequences and persists snapshots.
type SnapshotStore struct {
	sessions   SessionStore
	repo       SnapshotRepository
	cache      SnapshotCache
	events     EventEmitter
	metrics    Metrics
	locks      *keyedMutex
	maxPayload int
	dupRetries int
	tracer     trace.Tracer
}

// SnapshotStoreOption configures a SnapshotStore.
type SnapshotStoreOption func(*SnapshotStore)

// WithSnapshotCache serves Latest from c and keeps it current on Save.
func WithSnapshotCache(c SnapshotCache) SnapshotStoreOption {
	return func(s *SnapshotStore) { s.cache = c }
}

// WithSnapshotEvents emits snapshot.saved through e.
func WithSnapshotEvents(e EventEmitter) SnapshotStoreOption {
	return func(s *SnapshotStore) {
		if e != nil {
			s.events = e
		}
	}
}

// WithSnapshotMetrics records save latency and outcome.
func WithSnapshotMetrics(m Metrics) SnapshotStoreOption {
	return func(s *SnapshotStore) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithMaxPayloadBytes overrides DefaultMaxSnapshotBytes.
func WithMaxPayloadBytes(n int) SnapshotStoreOption {
	return func(s *SnapshotStore) {
		if n > 0 {
			s.maxPayload = n
		}
	}
}

// NewSnapshotStore creates a snapshot store.
func NewSnapshotStore(sessions SessionStore, repo SnapshotRepository, opts ...SnapshotStoreOption) *SnapshotStore {
	s := &SnapshotStore{
		sessions:   sessions,
		repo:       repo,
		events:     noopEmitter{},
		metrics:    NoopMetrics{},
		locks:      newKeyedMutex(),
		maxPayload: DefaultMaxSnapshotBytes,
		dupRetries: 3,
		tracer:     otel.Tracer("liveboard/whiteboard"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save persists payload as the session's next snapshot. It returns
// ErrNotFound for unknown sessions, ErrForbidden when the session has ended
// or actor may not write, ErrMalformedMessage for a bad payload and
// ErrPersistence when the database fails.
func (s *SnapshotStore) Save(ctx context.Context, sessionID string, actor Identity, payload json.RawMessage, name string) (Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "whiteboard.snapshot.save",
		trace.WithAttributes(
			attribute.String("whiteboard.session_id", sessionID),
			attribute.Int("whiteboard.payload_bytes", len(payload)),
		))
	defer span.End()

	start := time.Now()
	snap, err := s.save(ctx, sessionID, actor, payload, name)
	s.metrics.SnapshotSaved(time.Since(start), outcomeFor(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot save failed")
		return Snapshot{}, err
	}
	span.SetAttributes(attribute.Int64("whiteboard.sequence", snap.Sequence))
	return snap, nil
}

func (s *SnapshotStore) save(ctx context.Context, sessionID string, actor Identity, payload json.RawMessage, name string) (Snapshot, error) {
	logger := slogging.Get()

	name = unicodecheck.NormalizeLabel(name)
	if err := s.validatePayload(payload, name); err != nil {
		return Snapshot{}, err
	}

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	if !sess.IsActive() {
		return Snapshot{}, fmt.Errorf("session %s has ended: %w", sessionID, ErrForbidden)
	}
	if !CanWriteSnapshot(actor, sess) {
		return Snapshot{}, fmt.Errorf("user %s cannot save snapshots of %s: %w", actor.UserID, sessionID, ErrForbidden)
	}

	release := s.locks.Lock(sessionID)
	defer release()

	snap := Snapshot{
		SessionID: sessionID,
		AuthorID:  actor.UserID,
		Name:      name,
		Payload:   payload,
	}
	for attempt := 1; ; attempt++ {
		snap.Sequence = 0
		err = s.repo.Insert(ctx, &snap)
		if err == nil {
			break
		}
		if errors.Is(err, ErrForbidden) || errors.Is(err, ErrNotFound) {
			logger.Info("Snapshot for session %s refused: %v", sessionID, err)
			return Snapshot{}, err
		}
		if db.IsDuplicateKeyError(err) && attempt < s.dupRetries {
			logger.Debug("Snapshot sequence race on session %s, retrying (attempt %d)", sessionID, attempt)
			continue
		}
		logger.Error("Failed to save snapshot for session %s: %v", sessionID, err)
		return Snapshot{}, fmt.Errorf("%w: failed to save snapshot: %w", ErrPersistence, err)
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, snap); err != nil {
			logger.Warn("Failed to cache snapshot %d of session %s: %v", snap.Sequence, sessionID, err)
			// The old entry would hide this snapshot from joiners until it expires.
			if err := s.cache.Invalidate(ctx, sessionID); err != nil {
				logger.Warn("Failed to drop stale cached snapshot of session %s: %v", sessionID, err)
			}
		}
	}
	if err := s.events.EmitEvent(ctx, EventPayload{
		EventType: EventSnapshotSaved,
		SessionID: sessionID,
		ClassID:   sess.ClassID,
		CentreID:  sess.CentreID,
		ActorID:   actor.UserID,
		Data:      map[string]any{"sequence": snap.Sequence},
	}); err != nil {
		logger.Warn("Failed to emit snapshot.saved for session %s: %v", sessionID, err)
	}

	logger.Debug("Saved snapshot %d for session %s (%d bytes)", snap.Sequence, sessionID, len(payload))
	return snap, nil
}

func (s *SnapshotStore) validatePayload(payload json.RawMessage, name string) error {
	if len(payload) == 0 {
		return fmt.Errorf("snapshot payload is required: %w", ErrMalformedMessage)
	}
	if len(payload) > s.maxPayload {
		return fmt.Errorf("snapshot payload of %d bytes exceeds %d: %w", len(payload), s.maxPayload, ErrMalformedMessage)
	}
	if !json.Valid(payload) {
		return fmt.Errorf("snapshot payload is not valid JSON: %w", ErrMalformedMessage)
	}
	if len([]rune(name)) > maxSnapshotNameLen {
		return fmt.Errorf("snapshot name longer than %d characters: %w", maxSnapshotNameLen, ErrMalformedMessage)
	}
	if err := unicodecheck.CheckLabel(name); err != nil {
		return fmt.Errorf("snapshot name %w: %w", err, ErrMalformedMessage)
	}
	return nil
}

// List returns every snapshot of a session by ascending sequence.
func (s *SnapshotStore) List(ctx context.Context, sessionID string) ([]Snapshot, error) {
	snaps, err := s.repo.List(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list snapshots: %w", ErrPersistence, err)
	}
	return snaps, nil
}

// ListVisible is List gated by CanView.
func (s *SnapshotStore) ListVisible(ctx context.Context, sessionID string, actor Identity) ([]Snapshot, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !CanView(actor, sess) {
		return nil, fmt.Errorf("user %s cannot view session %s: %w", actor.UserID, sessionID, ErrForbidden)
	}
	return s.List(ctx, sessionID)
}

// Latest returns the newest snapshot or nil. The cache is consulted first;
// a miss is filled under the session lock so it cannot overwrite a newer
// snapshot written by a concurrent Save.
func (s *SnapshotStore) Latest(ctx context.Context, sessionID string) (*Snapshot, error) {
	logger := slogging.Get()
	if s.cache != nil {
		snap, ok, err := s.cache.Get(ctx, sessionID)
		if err != nil {
			logger.Warn("Snapshot cache read failed for session %s: %v", sessionID, err)
		} else if ok {
			return snap, nil
		}
	}

	release := s.locks.Lock(sessionID)
	defer release()

	snap, err := s.repo.Latest(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load latest snapshot: %w", ErrPersistence, err)
	}
	if snap != nil && s.cache != nil {
		if err := s.cache.Put(ctx, *snap); err != nil {
			logger.Warn("Failed to cache snapshot %d of session %s: %v", snap.Sequence, sessionID, err)
		}
	}
	return snap, nil
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrForbidden):
		return OutcomeForbidden
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrMalformedMessage):
		return OutcomeInvalid
	default:
		return OutcomeFailed
	}
}
