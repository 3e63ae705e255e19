package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Context keys set by Authenticate.
const (
	ContextActorID   = "actor_id"
	ContextFirmID    = "firm_id"
	ContextActorRole = "actor_role"
)

// Actor roles carried in the token.
const (
	RoleClient   = "client"
	RoleProvider = "provider"
	RoleAdmin    = "admin"
)

// Claims is the token payload. FirmID is set only for firm-bound providers.
type Claims struct {
	jwt.RegisteredClaims
	Role   string `json:"role"`
	FirmID string `json:"firm_id,omitempty"`
}

type AuthMiddleware struct {
	secret []byte
}

func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret)}
}

// Authenticate verifies the bearer token and sets the actor identity in
// context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			m.abort(c, "missing authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.abort(c, "invalid authorization format")
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return m.secret, nil
		})
		if err != nil || !token.Valid {
			m.abort(c, "invalid token")
			return
		}

		actorID, err := uuid.Parse(claims.Subject)
		if err != nil {
			m.abort(c, "invalid token subject")
			return
		}

		c.Set(ContextActorID, actorID)
		c.Set(ContextActorRole, claims.Role)
		if claims.FirmID != "" {
			if firmID, err := uuid.Parse(claims.FirmID); err == nil {
				c.Set(ContextFirmID, firmID)
			}
		}
		c.Next()
	}
}

// RequireRole gates a route group to one role.
func (m *AuthMiddleware) RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextActorRole) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
				Code:    http.StatusForbidden,
				Message: "insufficient role",
				TraceID: c.GetString(ContextRequestID),
			})
			return
		}
		c.Next()
	}
}

func (m *AuthMiddleware) abort(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
		Code:    http.StatusUnauthorized,
		Message: message,
		TraceID: c.GetString(ContextRequestID),
	})
}

// ActorID extracts the authenticated actor from context.
func ActorID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextActorID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// FirmID extracts the actor's firm, when the token carries one.
func FirmID(c *gin.Context) *uuid.UUID {
	v, ok := c.Get(ContextFirmID)
	if !ok {
		return nil
	}
	id, ok := v.(uuid.UUID)
	if !ok {
		return nil
	}
	return &id
}
