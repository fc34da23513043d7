package whiteboard

import (
	"slices"
	"strings"
)

// Role is one of the platform's fixed roles.
type Role string

const (
	RoleSuperAdmin    Role = "SUPER_ADMIN"
	RoleCentreManager Role = "CENTRE_MANAGER"
	RoleTeacher       Role = "TEACHER"
	RoleStudent       Role = "STUDENT"
	RoleParent        Role = "PARENT"
)

// ParseRole accepts the role names in any case.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case RoleSuperAdmin, RoleCentreManager, RoleTeacher, RoleStudent, RoleParent:
		return r, true
	}
	return "", false
}

// Identity is the verified caller. ClassesEnrolled lists active enrolments only.
type Identity struct {
	UserID          string   `json:"user_id"`
	DisplayName     string   `json:"display_name"`
	Role            Role     `json:"role"`
	CentreID        string   `json:"centre_id,omitempty"`
	ClassesTaught   []string `json:"classes_taught,omitempty"`
	ClassesEnrolled []string `json:"classes_enrolled,omitempty"`
}

// ClassRef names the class a session is created for.
type ClassRef struct {
	ClassID  string `json:"class_id" binding:"required,max=64"`
	CentreID string `json:"centre_id" binding:"required,max=64"`
}

func (id Identity) teaches(classID string) bool {
	return id.Role == RoleTeacher && slices.Contains(id.ClassesTaught, classID)
}

func (id Identity) enrolledIn(classID string) bool {
	return id.Role == RoleStudent && slices.Contains(id.ClassesEnrolled, classID)
}

func (id Identity) managesCentre(centreID string) bool {
	return id.Role == RoleCentreManager && id.CentreID != "" && id.CentreID == centreID
}

// CanCreate reports whether id may open a session for class.
func CanCreate(id Identity, class ClassRef) bool {
	return id.Role == RoleSuperAdmin || id.teaches(class.ClassID) || id.managesCentre(class.CentreID)
}

// CanJoin reports whether id may connect to s. Parents never may.
func CanJoin(id Identity, s Session) bool {
	switch id.Role {
	case RoleSuperAdmin:
		return true
	case RoleCentreManager:
		return id.managesCentre(s.CentreID)
	case RoleTeacher:
		return id.teaches(s.ClassID)
	case RoleStudent:
		return id.enrolledIn(s.ClassID)
	default:
		return false
	}
}

// CanView gates REST reads of a session and its snapshots.
func CanView(id Identity, s Session) bool {
	return CanJoin(id, s)
}

// CanEnd reports whether id may end s.
func CanEnd(id Identity, s Session) bool {
	return id.Role == RoleSuperAdmin || id.created(s) || id.managesCentre(s.CentreID)
}

// CanWriteSnapshot reports whether id may persist a snapshot of s.
func CanWriteSnapshot(id Identity, s Session) bool {
	return id.Role == RoleSuperAdmin ||
		id.created(s) ||
		id.teaches(s.ClassID) ||
		id.managesCentre(s.CentreID)
}

func (id Identity) created(s Session) bool {
	return id.UserID != "" && s.CreatorID == id.UserID
}
