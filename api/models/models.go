package models

import (
	"fmt"
	"time"

	"github.com/liveboard/liveboard/internal/uuidgen"
	"gorm.io/gorm"
)

// Session statuses. ENDED is terminal.
const (
	SessionStatusActive = "ACTIVE"
	SessionStatusEnded  = "ENDED"
)

// WhiteboardSession is one live drawing session bound to a class.
type WhiteboardSession struct {
	ID        string     `gorm:"primaryKey;type:varchar(36)"`
	ClassID   string     `gorm:"type:varchar(64);not null;index:idx_wbs_class_status,priority:1"`
	CentreID  string     `gorm:"type:varchar(64);not null;index:idx_wbs_centre"`
	Name      string     `gorm:"type:varchar(255);not null"`
	CreatorID string     `gorm:"type:varchar(64);not null;index:idx_wbs_creator"`
	Status    string     `gorm:"type:varchar(16);not null;index:idx_wbs_class_status,priority:2"`
	CreatedAt time.Time  `gorm:"not null;autoCreateTime;index:idx_wbs_created"`
	EndedAt   *time.Time
}

// TableName specifies the table name for WhiteboardSession
func (WhiteboardSession) TableName() string {
	return "whiteboard_sessions"
}

// BeforeCreate generates the id and defaults the status
func (s *WhiteboardSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		id, err := uuidgen.NewForEntity(uuidgen.EntityTypeSession)
		if err != nil {
			return fmt.Errorf("failed to generate session id: %w", err)
		}
		s.ID = id.String()
	}
	if s.Status == "" {
		s.Status = SessionStatusActive
	}
	return s.validateStatus()
}

// BeforeUpdate rejects statuses outside the enumeration
func (s *WhiteboardSession) BeforeUpdate(tx *gorm.DB) error {
	if s.Status == "" {
		return nil
	}
	return s.validateStatus()
}

func (s *WhiteboardSession) validateStatus() error {
	switch s.Status {
	case SessionStatusActive, SessionStatusEnded:
		return nil
	}
	return fmt.Errorf("invalid session status %q", s.Status)
}

// ActiveClass claims a class for its one ACTIVE session. The primary key is
// the database's guard against two instances opening sessions for the same
// class; the row is deleted when the session ends.
type ActiveClass struct {
	ClassID   string    `gorm:"primaryKey;type:varchar(64)"`
	SessionID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_wbac_session"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

// TableName specifies the table name for ActiveClass
func (ActiveClass) TableName() string {
	return "whiteboard_active_classes"
}

// WhiteboardSnapshot is an immutable saved canvas. Sequence is per session,
// starts at 1 and has no gaps; the composite primary key rejects a second
// writer that computed the same value.
type WhiteboardSnapshot struct {
	SessionID string    `gorm:"primaryKey;type:varchar(36)"`
	Sequence  int64     `gorm:"primaryKey;autoIncrement:false"`
	AuthorID  string    `gorm:"type:varchar(64);not null"`
	Name      string    `gorm:"type:varchar(200)"`
	Payload   JSONRaw   `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime;index:idx_wbsn_created"`
}

// TableName specifies the table name for WhiteboardSnapshot
func (WhiteboardSnapshot) TableName() string {
	return "whiteboard_snapshots"
}

// BeforeCreate assigns the next sequence for the session. Callers must
// serialize creates per session; the primary key catches anyone who does not.
func (s *WhiteboardSnapshot) BeforeCreate(tx *gorm.DB) error {
	if s.Sequence != 0 {
		return nil
	}
	var maxSeq *int64
	err := tx.Session(&gorm.Session{NewDB: true}).
		Model(&WhiteboardSnapshot{}).
		Where("session_id = ?", s.SessionID).
		Select("MAX(sequence)").
		Scan(&maxSeq).Error
	if err != nil {
		return fmt.Errorf("failed to read current snapshot sequence: %w", err)
	}
	s.Sequence = 1
	if maxSeq != nil {
		s.Sequence = *maxSeq + 1
	}
	return nil
}

// AllModels returns every model for AutoMigrate
func AllModels() []any {
	return []any{
		&WhiteboardSession{},
		&ActiveClass{},
		&WhiteboardSnapshot{},
	}
}
