package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/graham924/blog-feng-yu/pkg/jwt"
	"github.com/graham924/blog-feng-yu/pkg/response"
)

const (
	UserIDKey     = "user_id"
	UsernameKey   = "username"
	NicknameKey   = "nickname"
	RolesKey      = "roles"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// TokenValidator validates access tokens.
type TokenValidator interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

// AuthMiddleware validates bearer tokens issued by pkg/jwt.
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// Authenticate identifies the caller when a valid access token is present
// and passes anonymous requests through untouched. Requests carrying an
// invalid token are rejected so a stale client notices it is logged out.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthHeaderKey)
		if authHeader == "" {
			c.Next()
			return
		}
		if !m.identify(c, authHeader) {
			return
		}
		c.Next()
	}
}

// RequireAuth returns a Gin middleware that rejects anonymous requests.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetUserID(c) != "" {
			c.Next()
			return
		}

		authHeader := c.GetHeader(AuthHeaderKey)
		if authHeader == "" {
			response.Unauthorized(c, "missing authorization header")
			return
		}
		if !m.identify(c, authHeader) {
			return
		}
		c.Next()
	}
}

func (m *AuthMiddleware) identify(c *gin.Context, authHeader string) bool {
	if !strings.HasPrefix(authHeader, BearerPrefix) {
		response.Unauthorized(c, "invalid authorization format")
		return false
	}

	claims, err := m.validator.ValidateToken(strings.TrimPrefix(authHeader, BearerPrefix))
	if err != nil {
		response.Unauthorized(c, err.Error())
		return false
	}
	if claims.Type != jwt.TypeAccess {
		response.Unauthorized(c, "not an access token")
		return false
	}

	c.Set(UserIDKey, claims.UserID)
	c.Set(UsernameKey, claims.Username)
	c.Set(NicknameKey, claims.Nickname)
	c.Set(RolesKey, claims.Roles)
	return true
}

// GetUserID extracts user ID from Gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// GetUsername extracts username from Gin context.
func GetUsername(c *gin.Context) string {
	return c.GetString(UsernameKey)
}

// GetNickname extracts nickname from Gin context.
func GetNickname(c *gin.Context) string {
	return c.GetString(NicknameKey)
}

// GetRoles extracts roles from Gin context.
func GetRoles(c *gin.Context) []string {
	return c.GetStringSlice(RolesKey)
}
