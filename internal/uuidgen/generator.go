package uuidgen

import (
	"fmt"

	"github.com/google/uuid"
)

// EntityType names a kind of identifier the service hands out
type EntityType string

const (
	EntityTypeSession    EntityType = "session"
	EntityTypeConnection EntityType = "connection"
	EntityTypeInstance   EntityType = "instance"
)

// NewForEntity generates a UUID for the entity type. Sessions are stored
// and listed by creation, so they use UUIDv7 for index locality.
// Connection and instance ids never reach the database and use UUIDv4.
func NewForEntity(entityType EntityType) (uuid.UUID, error) {
	switch entityType {
	case EntityTypeSession:
		return uuid.NewV7()
	default:
		return uuid.NewRandom()
	}
}

// MustNewForEntity is like NewForEntity but panics on error.
func MustNewForEntity(entityType EntityType) uuid.UUID {
	id, err := NewForEntity(entityType)
	if err != nil {
		panic(fmt.Sprintf("failed to generate UUID for entity type %s: %v", entityType, err))
	}
	return id
}

// NewString returns the string form of a fresh id for entityType.
func NewString(entityType EntityType) string {
	return MustNewForEntity(entityType).String()
}
