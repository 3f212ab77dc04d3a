package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/GriffinCanCode/webterm/internal/infrastructure/config"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Context keys set by Auth
const (
	userIDKey       = "auth_user_id"
	tokenSessionKey = "auth_session_id"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the JWT claims the server understands. Subject is the user ID;
// sid optionally pins the token to one session.
type Claims struct {
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies and issues HS256 bearer tokens.
type Authenticator struct {
	secret   []byte
	issuer   string
	required bool
}

// NewAuthenticator creates an authenticator from config.
func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	return &Authenticator{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		required: cfg.Required,
	}
}

// Enabled reports whether tokens can be verified at all.
func (a *Authenticator) Enabled() bool {
	return a != nil && len(a.secret) > 0
}

// Parse verifies a token and returns its claims.
func (a *Authenticator) Parse(token string) (*Claims, error) {
	if !a.Enabled() {
		return nil, fmt.Errorf("%w: no signing secret configured", ErrInvalidToken)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// Issue signs a token for userID, optionally bound to a session. A zero
// ttl issues a token without expiry.
func (a *Authenticator) Issue(userID, sessionID string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", fmt.Errorf("%w: no signing secret configured", ErrInvalidToken)
	}
	now := time.Now()
	claims := Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			Issuer:   a.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// tokenFromRequest reads "Authorization: Bearer" or, for browsers opening
// a WebSocket, the token query parameter.
func tokenFromRequest(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return c.Query("token")
}

// Auth creates the authentication middleware. Without a token the request
// continues anonymously unless authentication is required; a token that is
// present must be valid.
func Auth(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := tokenFromRequest(c)
		if token == "" {
			if a != nil && a.required {
				abortUnauthorized(c, ErrMissingToken)
				return
			}
			c.Next()
			return
		}

		claims, err := a.Parse(token)
		if err != nil {
			abortUnauthorized(c, err)
			return
		}
		c.Set(userIDKey, claims.Subject)
		if claims.SessionID != "" {
			c.Set(tokenSessionKey, claims.SessionID)
		}
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": err.Error(),
	})
}

// UserID returns the authenticated user, or "" for anonymous requests.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// TokenSessionID returns the session a token was pinned to, if any.
func TokenSessionID(c *gin.Context) string {
	return c.GetString(tokenSessionKey)
}

// SessionAllowed reports whether the token permits access to sessionID.
func SessionAllowed(c *gin.Context, sessionID string) bool {
	pinned := TokenSessionID(c)
	return pinned == "" || sessionID == "" || pinned == sessionID
}
