package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/liveboard/liveboard/whiteboard"
)

// Claims are the identity claims issued by the platform's identity service.
// Role lookup and enrolment state are resolved at issuance; this service
// only trusts what the signed token says.
type Claims struct {
	Name            string   `json:"name,omitempty"`
	Role            string   `json:"role"`
	CentreID        string   `json:"centre_id,omitempty"`
	ClassesTaught   []string `json:"classes_taught,omitempty"`
	ClassesEnrolled []string `json:"classes_enrolled,omitempty"`
	jwt.RegisteredClaims
}

// Identity converts verified claims into the caller identity.
func (c *Claims) Identity() (whiteboard.Identity, error) {
	if c.Subject == "" {
		return whiteboard.Identity{}, fmt.Errorf("%w: token has no subject", whiteboard.ErrAuthentication)
	}
	role, ok := whiteboard.ParseRole(c.Role)
	if !ok {
		return whiteboard.Identity{}, fmt.Errorf("%w: unknown role %q", whiteboard.ErrAuthentication, c.Role)
	}
	return whiteboard.Identity{
		UserID:          c.Subject,
		DisplayName:     c.Name,
		Role:            role,
		CentreID:        c.CentreID,
		ClassesTaught:   c.ClassesTaught,
		ClassesEnrolled: c.ClassesEnrolled,
	}, nil
}
