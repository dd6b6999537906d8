package security

import (
	"context"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	apperrors "github.com/SonGiHyeon/CV-API/internal/errors"
)

// SecurityConfig holds security configuration
type SecurityConfig struct {
	MaxBodyBytes   int64         `json:"max_body_bytes"`
	AllowedOrigins []string      `json:"allowed_origins"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

// DefaultSecurityConfig returns secure defaults
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		MaxBodyBytes:   1 << 20,
		AllowedOrigins: []string{"*"},
		RequestTimeout: 15 * time.Second,
	}
}

// SecurityMiddleware hardens the HTTP surface: headers, body limits, content
// type checks, request deadlines and CORS.
type SecurityMiddleware struct {
	config SecurityConfig
}

// NewSecurityMiddleware creates a new security middleware instance
func NewSecurityMiddleware(config SecurityConfig) *SecurityMiddleware {
	def := DefaultSecurityConfig()
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = def.MaxBodyBytes
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = def.RequestTimeout
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = def.AllowedOrigins
	}
	return &SecurityMiddleware{config: config}
}

// SecurityHeaders adds security headers to responses
func (sm *SecurityMiddleware) SecurityHeaders(c *gin.Context) {
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("X-Frame-Options", "DENY")
	c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
	c.Header("Cache-Control", "no-store")

	if c.Request.TLS != nil {
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	c.Next()
}

// ValidateContentType only lets JSON bodies through on writes
func (sm *SecurityMiddleware) ValidateContentType(c *gin.Context) {
	switch c.Request.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		c.Next()
		return
	}

	contentType := c.GetHeader("Content-Type")
	if contentType == "" || c.Request.ContentLength == 0 {
		c.Next()
		return
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		_ = c.Error(unsupportedMediaType(contentType))
		c.Abort()
		return
	}

	c.Next()
}

func unsupportedMediaType(contentType string) *apperrors.AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg("unsupported content type " + strconv.Quote(contentType) + ", expected application/json")
	return apperrors.NewAppError(builder, apperrors.CategoryValidation, http.StatusUnsupportedMediaType)
}

// LimitBody caps request bodies at MaxBodyBytes
func (sm *SecurityMiddleware) LimitBody(c *gin.Context) {
	if c.Request.Body != nil {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, sm.config.MaxBodyBytes)
	}
	c.Next()
}

// RequestTimeout gives every request a deadline that the storage layer honours
func (sm *SecurityMiddleware) RequestTimeout(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), sm.config.RequestTimeout)
	defer cancel()

	c.Request = c.Request.WithContext(ctx)
	c.Header("X-Timeout", strconv.Itoa(int(sm.config.RequestTimeout.Seconds())))

	c.Next()
}

// CORSConfig builds the CORS handler. A "*" entry allows every origin.
func (sm *SecurityMiddleware) CORSConfig() gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
		ExposeHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}

	for _, origin := range sm.config.AllowedOrigins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			break
		}
	}
	if !cfg.AllowAllOrigins {
		cfg.AllowOrigins = sm.config.AllowedOrigins
	}

	return cors.New(cfg)
}
