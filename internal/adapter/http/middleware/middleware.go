package middleware

import (
	"bytes"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"notes-escrow/internal/core/domain"
	"notes-escrow/internal/core/ports"
	"notes-escrow/pkg/apperror"
	"notes-escrow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// Header names for signed scheduler calls
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"

	// Max timestamp drift allowed (60 seconds)
	maxTimestampDrift = 60 * time.Second

	// Nonce TTL (120 seconds)
	nonceTTL = 120 * time.Second

	cronNonceScope = "cron"

	// Context keys
	CtxUserID    = "user_id"
	CtxRole      = "role"
	CtxPrincipal = "principal"
	CtxCronAuth  = "cron_signed"
)

// JWTAuth validates the bearer token and stores the caller's principal on the context.
func JWTAuth(tokenSvc ports.TokenService, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := authenticate(c, tokenSvc, log)
		if !ok {
			response.Error(c, apperror.ErrInvalidToken())
			c.Abort()
			return
		}
		setPrincipal(c, principal)
		c.Next()
	}
}

// RequireAdmin rejects callers without the ADMIN role. Must run after JWTAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			response.Error(c, apperror.ErrInvalidToken())
			c.Abort()
			return
		}
		if !p.IsAdmin() {
			response.Error(c, apperror.ErrForbidden("Admin role required"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// CronAuth admits either an HMAC-signed scheduler call or an admin bearer token.
// Signed pipeline: check timestamp -> check nonce -> verify signature.
// An empty secret disables the signed path.
func CronAuth(
	secret string,
	sigSvc ports.SignatureService,
	nonceStore ports.NonceStore,
	tokenSvc ports.TokenService,
	log zerolog.Logger,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		signature := c.GetHeader(HeaderSignature)
		if signature == "" || secret == "" {
			principal, ok := authenticate(c, tokenSvc, log)
			if !ok {
				response.Error(c, apperror.ErrInvalidToken())
				c.Abort()
				return
			}
			if !principal.IsAdmin() {
				response.Error(c, apperror.ErrForbidden("Admin role required"))
				c.Abort()
				return
			}
			setPrincipal(c, principal)
			c.Next()
			return
		}

		timestampStr := c.GetHeader(HeaderTimestamp)
		nonce := c.GetHeader(HeaderNonce)
		if timestampStr == "" || nonce == "" {
			response.Error(c, apperror.ErrInvalidSignature())
			c.Abort()
			return
		}

		// Step 1: Timestamp check
		timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
		if err != nil {
			response.Error(c, apperror.ErrTimestampExpired())
			c.Abort()
			return
		}
		now := time.Now().Unix()
		if math.Abs(float64(now-timestamp)) > maxTimestampDrift.Seconds() {
			response.Error(c, apperror.ErrTimestampExpired())
			c.Abort()
			return
		}

		// Step 2: Signature verification
		bodyBytes, err := io.ReadAll(c.Request.Body)
		if err != nil {
			response.Error(c, apperror.Validation("cannot read request body"))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

		canonical := sigSvc.BuildCanonicalString(
			c.Request.Method,
			c.Request.URL.Path,
			timestamp,
			nonce,
			string(bodyBytes),
		)
		if !sigSvc.Verify(secret, canonical, signature) {
			response.Error(c, apperror.ErrInvalidSignature())
			c.Abort()
			return
		}

		// Step 3: Nonce check, only once the caller has proven the secret
		isNew, err := nonceStore.CheckAndSet(c.Request.Context(), cronNonceScope, nonce, nonceTTL)
		if err != nil {
			log.Warn().Err(err).Msg("nonce store error, allowing request")
		} else if !isNew {
			response.Error(c, apperror.ErrNonceUsed())
			c.Abort()
			return
		}

		c.Set(CtxCronAuth, true)
		c.Next()
	}
}

// PrincipalFrom returns the authenticated caller stored by JWTAuth.
func PrincipalFrom(c *gin.Context) (*domain.Principal, bool) {
	v, ok := c.Get(CtxPrincipal)
	if !ok {
		return nil, false
	}
	p, ok := v.(*domain.Principal)
	return p, ok && p != nil
}

// UserIDFrom returns the authenticated caller's id.
func UserIDFrom(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(CtxUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

func authenticate(c *gin.Context, tokenSvc ports.TokenService, log zerolog.Logger) (*domain.Principal, bool) {
	authHeader := c.GetHeader("Authorization")
	tokenStr, found := strings.CutPrefix(authHeader, "Bearer ")
	if !found || tokenStr == "" {
		return nil, false
	}

	principal, err := tokenSvc.Validate(tokenStr)
	if err != nil {
		log.Debug().Err(err).Msg("bearer token rejected")
		return nil, false
	}
	return principal, true
}

func setPrincipal(c *gin.Context, p *domain.Principal) {
	c.Set(CtxUserID, p.UserID)
	c.Set(CtxRole, p.Role)
	c.Set(CtxPrincipal, p)
}

// RequestLogger creates a middleware that logs every HTTP request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}

		if id, ok := UserIDFrom(c); ok {
			event = event.Str("user_id", id.String())
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}

// Recovery creates a panic recovery middleware.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error_code": "SYS_001",
					"message":    "Internal server error",
				})
			}
		}()
		c.Next()
	}
}
