package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	identityKey   = "identity"
	sessionCookie = "session_token"
)

// Identity is the donor resolved from the session token issued at sign-in.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// IssueToken signs a session token for id.
func IssueToken(secret []byte, id Identity, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": id.UserID,
		"email":   id.Email,
		"name":    id.Name,
		"exp":     time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(secret)
}

// ParseToken validates a session token and returns its identity.
func ParseToken(secret []byte, tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("unexpected claims type")
	}
	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return nil, fmt.Errorf("token has no user_id claim")
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)

	return &Identity{UserID: userID, Email: email, Name: name}, nil
}

// Authenticate attaches the caller's identity when a valid session token is
// presented as a Bearer token or session cookie. Anonymous requests pass
// through unchanged.
func Authenticate(secret []byte, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(secret) == 0 {
			c.Next()
			return
		}

		tokenString := bearerToken(c.GetHeader("Authorization"))
		if tokenString == "" {
			tokenString, _ = c.Cookie(sessionCookie)
		}
		if tokenString == "" {
			c.Next()
			return
		}

		id, err := ParseToken(secret, tokenString)
		if err != nil {
			logger.Debug("Ignoring invalid session token",
				zap.String("trace_id", GetTraceID(c.Request.Context())),
				zap.Error(err),
			)
			c.Next()
			return
		}

		c.Set(identityKey, id)
		c.Next()
	}
}

// RequireIdentity rejects requests that Authenticate could not identify.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CurrentIdentity(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Not authenticated"})
			return
		}
		c.Next()
	}
}

func CurrentIdentity(c *gin.Context) (*Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*Identity)
	return id, ok
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
