package auth

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/liveboard/liveboard/internal/config"
	"github.com/liveboard/liveboard/internal/slogging"
	"github.com/liveboard/liveboard/whiteboard"
)

// Verifier checks HMAC-signed identity tokens.
type Verifier struct {
	key    []byte
	method string
	parser *jwt.Parser
}

// NewVerifier creates a verifier for cfg. Only the HS family is accepted;
// any other algorithm in a token header is rejected.
func NewVerifier(cfg config.JWTConfig) (*Verifier, error) {
	method := strings.ToUpper(strings.TrimSpace(cfg.SigningMethod))
	if method == "" {
		method = jwt.SigningMethodHS256.Alg()
	}
	switch method {
	case jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg():
	default:
		return nil, fmt.Errorf("unsupported signing method: %s", cfg.SigningMethod)
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required for %s", method)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	slogging.Get().Info("JWT verification enabled method=%s issuer=%q audience=%q", method, cfg.Issuer, cfg.Audience)
	return &Verifier{key: []byte(cfg.Secret), method: method, parser: jwt.NewParser(opts...)}, nil
}

// Verify validates tokenString and returns the identity it carries. Every
// failure wraps whiteboard.ErrAuthentication.
func (v *Verifier) Verify(tokenString string) (whiteboard.Identity, error) {
	if tokenString == "" {
		return whiteboard.Identity{}, fmt.Errorf("%w: missing token", whiteboard.ErrAuthentication)
	}

	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return whiteboard.Identity{}, fmt.Errorf("%w: %w", whiteboard.ErrAuthentication, err)
	}
	if !token.Valid {
		return whiteboard.Identity{}, fmt.Errorf("%w: invalid token", whiteboard.ErrAuthentication)
	}
	return claims.Identity()
}

// Sign issues a token for claims with the verifier's key. Used by local
// tooling and tests; production tokens come from the identity service.
func (v *Verifier) Sign(claims *Claims) (string, error) {
	return jwt.NewWithClaims(jwt.GetSigningMethod(v.method), claims).SignedString(v.key)
}
