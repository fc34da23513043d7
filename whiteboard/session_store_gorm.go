package whiteboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/liveboard/liveboard/api/models"
	"github.com/liveboard/liveboard/internal/db"
	"github.com/liveboard/liveboard/internal/slogging"
	"gorm.io/gorm"
)

// GormSessionStore implements SessionStore using GORM
type GormSessionStore struct {
	db *gorm.DB
}

// NewGormSessionStore creates a new GORM-backed session store
func NewGormSessionStore(db *gorm.DB) *GormSessionStore {
	return &GormSessionStore{db: db}
}

// Create inserts a session and claims its class in one transaction. The
// claim's primary key makes a second active session for the class fail with
// ErrConflict even when another instance raced this one.
func (s *GormSessionStore) Create(ctx context.Context, session *Session) error {
	logger := slogging.Get()
	logger.Debug("Creating whiteboard session for class %s", session.ClassID)

	model := models.WhiteboardSession{
		ID:        session.ID,
		ClassID:   session.ClassID,
		CentreID:  session.CentreID,
		Name:      session.Name,
		CreatorID: session.CreatorID,
		Status:    models.SessionStatusActive,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		claim := models.ActiveClass{ClassID: model.ClassID, SessionID: model.ID}
		if err := tx.Create(&claim).Error; err != nil {
			if db.IsDuplicateKeyError(err) {
				return ErrConflict
			}
			return err
		}
		return nil
	})
	if errors.Is(err, ErrConflict) {
		return fmt.Errorf("class %s: %w", session.ClassID, ErrConflict)
	}
	if err != nil {
		logger.Error("Failed to create whiteboard session: %v", err)
		return fmt.Errorf("%w: failed to create session: %w", ErrPersistence, err)
	}

	*session = sessionFromModel(&model)
	logger.Debug("Created whiteboard session %s for class %s", session.ID, session.ClassID)
	return nil
}

// Get retrieves a session by id
func (s *GormSessionStore) Get(ctx context.Context, id string) (Session, error) {
	var model models.WhiteboardSession
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("%w: failed to load session: %w", ErrPersistence, err)
	}
	return sessionFromModel(&model), nil
}

// MarkEnded performs the ACTIVE to ENDED transition with a conditional
// update, so only one of several concurrent callers sees a changed row. The
// winner releases the class claim in the same transaction.
func (s *GormSessionStore) MarkEnded(ctx context.Context, id string, endedAt time.Time) (Session, error) {
	logger := slogging.Get()

	var changed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.WhiteboardSession{}).
			Where("id = ? AND status = ?", id, models.SessionStatusActive).
			Updates(map[string]any{
				"status":   models.SessionStatusEnded,
				"ended_at": endedAt.UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		changed = result.RowsAffected
		if changed == 0 {
			return nil
		}
		return tx.Where("session_id = ?", id).Delete(&models.ActiveClass{}).Error
	})
	if err != nil {
		logger.Error("Failed to end whiteboard session %s: %v", id, err)
		return Session{}, fmt.Errorf("%w: failed to end session: %w", ErrPersistence, err)
	}

	session, err := s.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if changed == 0 {
		return session, fmt.Errorf("session %s: %w", id, ErrAlreadyEnded)
	}
	return session, nil
}

// List returns sessions matching filter, newest first
func (s *GormSessionStore) List(ctx context.Context, filter SessionFilter) ([]Session, error) {
	if !filter.All && filter.CentreID == "" && len(filter.ClassIDs) == 0 {
		return []Session{}, nil
	}

	q := s.db.WithContext(ctx).Model(&models.WhiteboardSession{})
	switch {
	case filter.All:
	case filter.CentreID != "":
		q = q.Where("centre_id = ?", filter.CentreID)
	default:
		q = q.Where("class_id IN ?", filter.ClassIDs)
	}
	if filter.ActiveOnly {
		q = q.Where("status = ?", models.SessionStatusActive)
	}

	var rows []models.WhiteboardSession
	if err := q.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: failed to list sessions: %w", ErrPersistence, err)
	}
	out := make([]Session, 0, len(rows))
	for i := range rows {
		out = append(out, sessionFromModel(&rows[i]))
	}
	return out, nil
}

func sessionFromModel(m *models.WhiteboardSession) Session {
	return Session{
		ID:        m.ID,
		ClassID:   m.ClassID,
		CentreID:  m.CentreID,
		Name:      m.Name,
		CreatorID: m.CreatorID,
		Status:    SessionStatus(m.Status),
		CreatedAt: m.CreatedAt.UTC(),
		EndedAt:   utcPtr(m.EndedAt),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
