package api

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ZanzyTHEbar/fundscope/internal/clock"
	apperrors "github.com/ZanzyTHEbar/fundscope/internal/errors"
)

// Context keys set by the authentication middleware.
const (
	ActorKey = "actor"
	RoleKey  = "role"
)

// Roles recognised by the API.
const (
	RoleMember   = "member"
	RoleReviewer = "reviewer"
	RoleAdmin    = "admin"
)

// Authenticator issues and verifies HS256 bearer tokens carrying the actor
// id (sub) and role.
type Authenticator struct {
	secret []byte
	clock  clock.Clock
}

// NewAuthenticator creates an authenticator. An empty secret disables
// token verification, so every protected route answers 401.
func NewAuthenticator(secret string, clk clock.Clock) *Authenticator {
	if clk == nil {
		clk = clock.System()
	}
	return &Authenticator{secret: []byte(secret), clock: clk}
}

// Enabled reports whether a signing secret is configured.
func (a *Authenticator) Enabled() bool { return len(a.secret) > 0 }

// IssueToken signs a token for subject with the given role.
func (a *Authenticator) IssueToken(subject, role string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", apperrors.NewConfigurationError("auth.jwt_secret is not set", nil)
	}
	if strings.TrimSpace(subject) == "" {
		return "", apperrors.NewValidationError("subject is required", "subject")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := a.clock.Now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  now.Add(ttl).Unix(),
		"iat":  now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns its subject and role.
func (a *Authenticator) Verify(tokenString string) (string, string, error) {
	if !a.Enabled() {
		return "", "", apperrors.NewUnauthorizedError("authentication is not configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.clock.Now), jwt.WithExpirationRequired())
	if err != nil {
		return "", "", apperrors.NewUnauthorizedError("invalid bearer token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", apperrors.NewUnauthorizedError("invalid bearer token")
	}
	subject, _ := claims["sub"].(string)
	if subject == "" {
		return "", "", apperrors.NewUnauthorizedError("token has no subject")
	}
	role, _ := claims["role"].(string)
	if role == "" {
		role = RoleMember
	}
	return subject, role, nil
}

// Middleware identifies the caller from the Authorization header. Requests
// without one continue anonymously; a malformed or expired token is
// rejected.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			_ = c.Error(apperrors.NewUnauthorizedError("expected a bearer token"))
			c.Abort()
			return
		}

		subject, role, err := a.Verify(strings.TrimSpace(raw))
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}
		c.Set(ActorKey, subject)
		c.Set(RoleKey, role)
		c.Next()
	}
}

// RequireRole admits authenticated callers holding one of roles. With no
// roles any authenticated caller is admitted. Admins pass every check.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ActorKey) == "" {
			_ = c.Error(apperrors.NewUnauthorizedError("authentication required"))
			c.Abort()
			return
		}
		role := c.GetString(RoleKey)
		if len(roles) > 0 && role != RoleAdmin && !slices.Contains(roles, role) {
			_ = c.Error(apperrors.NewForbiddenError(strings.Join(roles, "|")))
			c.Abort()
			return
		}
		c.Next()
	}
}
