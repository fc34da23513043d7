package whiteboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/liveboard/liveboard/api/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormSnapshotRepository implements SnapshotRepository using GORM
type GormSnapshotRepository struct {
	db *gorm.DB
}

// NewGormSnapshotRepository creates a new GORM-backed snapshot repository
func NewGormSnapshotRepository(db *gorm.DB) *GormSnapshotRepository {
	return &GormSnapshotRepository{db: db}
}

// Insert allocates the sequence and inserts in one transaction. The session
// row is locked and must still be ACTIVE, so an End that commits first makes
// the insert fail with ErrForbidden and an End that comes later waits for it.
// The model's BeforeCreate hook reads MAX(sequence) inside the same
// transaction; the composite key rejects a concurrent duplicate.
func (r *GormSnapshotRepository) Insert(ctx context.Context, s *Snapshot) error {
	model := models.WhiteboardSnapshot{
		SessionID: s.SessionID,
		Sequence:  s.Sequence,
		AuthorID:  s.AuthorID,
		Name:      s.Name,
		Payload:   models.JSONRaw(s.Payload),
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.WhiteboardSession
		err := lockSessionRow(tx).
			Select("id", "status").
			Where("id = ?", s.SessionID).
			Take(&session).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("session %s: %w", s.SessionID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if session.Status != models.SessionStatusActive {
			return fmt.Errorf("session %s has ended: %w", s.SessionID, ErrForbidden)
		}
		return tx.Create(&model).Error
	})
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	*s = snapshotFromModel(&model)
	return nil
}

// lockSessionRow reads the session row FOR UPDATE. SQL Server has no FOR
// clause and takes a table hint instead; SQLite ignores row locks and
// serializes writers on its own.
func lockSessionRow(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlserver" {
		return tx.Table(models.WhiteboardSession{}.TableName() + " WITH (UPDLOCK, ROWLOCK)")
	}
	return tx.Model(&models.WhiteboardSession{}).Clauses(clause.Locking{Strength: "UPDATE"})
}

// List returns snapshots by ascending sequence
func (r *GormSnapshotRepository) List(ctx context.Context, sessionID string) ([]Snapshot, error) {
	var rows []models.WhiteboardSnapshot
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("sequence ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	out := make([]Snapshot, 0, len(rows))
	for i := range rows {
		out = append(out, snapshotFromModel(&rows[i]))
	}
	return out, nil
}

// Latest returns the highest-sequence snapshot or nil
func (r *GormSnapshotRepository) Latest(ctx context.Context, sessionID string) (*Snapshot, error) {
	var row models.WhiteboardSnapshot
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("sequence DESC").
		Limit(1).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest snapshot: %w", err)
	}
	snap := snapshotFromModel(&row)
	return &snap, nil
}

func snapshotFromModel(m *models.WhiteboardSnapshot) Snapshot {
	return Snapshot{
		SessionID: m.SessionID,
		Sequence:  m.Sequence,
		AuthorID:  m.AuthorID,
		Name:      m.Name,
		Payload:   []byte(m.Payload),
		CreatedAt: m.CreatedAt.UTC(),
	}
}
