package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/liveboard/liveboard/internal/slogging"
	"github.com/liveboard/liveboard/whiteboard"
)

// IdentityContextKey is the gin context key holding the verified identity.
const IdentityContextKey = "identity"

// TokenVerifier turns a bearer token into an identity.
type TokenVerifier interface {
	Verify(token string) (whiteboard.Identity, error)
}

// Middleware provides authentication middleware for Gin
type Middleware struct {
	verifier TokenVerifier
}

// NewMiddleware creates a new authentication middleware
func NewMiddleware(verifier TokenVerifier) *Middleware {
	slogging.Get().Info("Initializing authentication middleware")
	return &Middleware{verifier: verifier}
}

// Authenticate verifies the token carried by r.
func (m *Middleware) Authenticate(r *http.Request) (whiteboard.Identity, error) {
	return m.verifier.Verify(TokenFromRequest(r))
}

// AuthRequired rejects requests without a valid token and stores the
// identity for handlers.
func (m *Middleware) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := slogging.Get().WithContext(c)

		id, err := m.Authenticate(c.Request)
		if err != nil {
			logger.Warn("Authentication failed client_ip=%v path=%v error=%v", c.ClientIP(), c.Request.URL.Path, err)
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "a valid bearer token is required",
			})
			return
		}

		c.Set(IdentityContextKey, id)
		c.Set("userID", id.UserID)
		logger.Debug("Authenticated user_id=%v role=%v", id.UserID, id.Role)
		c.Next()
	}
}

// IdentityFromContext returns the identity stored by AuthRequired.
func IdentityFromContext(c *gin.Context) (whiteboard.Identity, bool) {
	v, ok := c.Get(IdentityContextKey)
	if !ok {
		return whiteboard.Identity{}, false
	}
	id, ok := v.(whiteboard.Identity)
	return id, ok
}

// TokenFromRequest reads the token from the Authorization header, falling
// back to the token query parameter used by browser WebSocket clients.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
