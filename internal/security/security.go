package security

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
)

// UserIDHeader carries the caller's identity, set by the upstream gateway
// after authentication. This service trusts it and never re-authenticates.
const UserIDHeader = "X-User-ID"

// ContextUserKey is the gin context key the identity middleware sets.
const ContextUserKey = "user_id"

// SecurityConfig holds security configuration
type SecurityConfig struct {
	MaxUsernameLength int           `json:"max_username_length"`
	AllowedOrigins    []string      `json:"allowed_origins"`
	TrustedProxies    []string      `json:"trusted_proxies"`
	RequestTimeout    time.Duration `json:"request_timeout"`
}

// DefaultSecurityConfig returns secure defaults
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		MaxUsernameLength: 150,
		AllowedOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
		TrustedProxies:    []string{"127.0.0.1", "::1", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"},
		RequestTimeout:    30 * time.Second,
	}
}

// SecurityMiddleware provides request hardening for the API surface
type SecurityMiddleware struct {
	config SecurityConfig
}

// NewSecurityMiddleware creates a new security middleware instance
func NewSecurityMiddleware(config SecurityConfig) *SecurityMiddleware {
	return &SecurityMiddleware{config: config}
}

// Config returns the active security configuration.
func (sm *SecurityMiddleware) Config() SecurityConfig {
	return sm.config
}

var userIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// RequireUser extracts the caller identity from the gateway header and puts
// it in the request context. Requests without a well-formed identity are
// rejected before any handler runs.
func (sm *SecurityMiddleware) RequireUser(c *gin.Context) {
	userID := c.GetHeader(UserIDHeader)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": fmt.Sprintf("missing %s header", UserIDHeader),
		})
		c.Abort()
		return
	}

	if !userIDPattern.MatchString(userID) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "malformed user identity",
		})
		c.Abort()
		return
	}

	c.Set(ContextUserKey, userID)
	c.Next()
}

// CallerID returns the identity the middleware stored, or "" when the route
// did not pass through RequireUser.
func CallerID(c *gin.Context) string {
	id, _ := c.Get(ContextUserKey)
	s, _ := id.(string)
	return s
}

// ValidateUsername performs input validation on a client-supplied username
func (sm *SecurityMiddleware) ValidateUsername(input string) error {
	if input == "" {
		return fmt.Errorf("username is required")
	}

	if len(input) > sm.config.MaxUsernameLength {
		return fmt.Errorf("username exceeds maximum length of %d characters", sm.config.MaxUsernameLength)
	}

	if strings.Contains(input, "\x00") {
		return fmt.Errorf("username contains invalid characters")
	}

	if !utf8.ValidString(input) {
		return fmt.Errorf("username contains invalid UTF-8 encoding")
	}

	suspiciousPatterns := []string{
		`<script`, `</script>`, `javascript:`,
		`union select`, `drop table`, `alter table`,
		`--`, `/*`, `*/`, `xp_`, `sp_`,
	}

	inputLower := strings.ToLower(input)
	for _, pattern := range suspiciousPatterns {
		if strings.Contains(inputLower, pattern) {
			return fmt.Errorf("username contains suspicious patterns")
		}
	}

	return nil
}

// ValidateContentType validates request content type
func (sm *SecurityMiddleware) ValidateContentType(c *gin.Context) {
	contentType := c.GetHeader("Content-Type")

	allowedTypes := []string{
		"application/json",
		"application/x-www-form-urlencoded",
		"multipart/form-data",
	}

	if contentType != "" {
		found := false
		for _, allowed := range allowedTypes {
			if strings.Contains(strings.ToLower(contentType), allowed) {
				found = true
				break
			}
		}

		if !found {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{
				"error": "unsupported content type",
			})
			c.Abort()
			return
		}
	}

	c.Next()
}

// RequestTimeout enforces request timeout
func (sm *SecurityMiddleware) RequestTimeout(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), sm.config.RequestTimeout)
	defer cancel()

	c.Request = c.Request.WithContext(ctx)

	c.Header("X-Timeout", strconv.Itoa(int(sm.config.RequestTimeout.Seconds())))

	c.Next()
}
