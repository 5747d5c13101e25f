package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"jan-server/services/dm-api/internal/config"
	"jan-server/services/dm-api/internal/utils/platformerrors"
)

// ContextKeyUserID is the gin context key holding the caller's user id.
const ContextKeyUserID = "user_id"

// Validator resolves the calling user from a JWT or from gateway headers.
type Validator struct {
	cfg  *config.Config
	log  zerolog.Logger
	jwks *keyfunc.JWKS
}

// NewValidator initializes JWKS fetching when auth is enabled.
func NewValidator(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Validator, error) {
	log = log.With().Str("component", "auth").Logger()
	if !cfg.AuthEnabled {
		log.Warn().Msg("auth disabled, trusting gateway user headers")
		return &Validator{cfg: cfg, log: log}, nil
	}

	options := keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.Error().Err(err).Msg("jwks refresh error")
		},
	}

	jwks, err := keyfunc.Get(cfg.AuthJWKSURL, options)
	if err != nil {
		return nil, err
	}
	return &Validator{cfg: cfg, log: log, jwks: jwks}, nil
}

// Middleware sets ContextKeyUserID or aborts with 401. Gateway headers are
// honoured first since the gateway already validated the API key; with JWT
// auth on they count only when TrustGatewayHeaders is set.
func (v *Validator) Middleware() gin.HandlerFunc {
	trustHeaders := !v.cfg.AuthEnabled || v.cfg.TrustGatewayHeaders

	return func(c *gin.Context) {
		if trustHeaders {
			if userID := gatewayUserID(c); userID != "" {
				c.Set(ContextKeyUserID, userID)
				c.Next()
				return
			}
		}

		if !v.cfg.AuthEnabled {
			abortUnauthorized(c, "missing user identity")
			return
		}

		tokenString := bearerToken(c.GetHeader("Authorization"))
		if tokenString == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}
		if strings.HasPrefix(tokenString, "sk_") {
			v.log.Debug().Msg("sk_ token received without gateway headers")
			abortUnauthorized(c, "invalid token")
			return
		}

		subject, err := v.subject(tokenString)
		if err != nil {
			v.log.Debug().Err(err).Msg("jwt validation failed")
			abortUnauthorized(c, "invalid token")
			return
		}

		c.Set(ContextKeyUserID, subject)
		c.Next()
	}
}

func (v *Validator) subject(tokenString string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithIssuer(v.cfg.AuthIssuer),
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithLeeway(time.Minute),
	}
	if audience := strings.TrimSpace(v.cfg.AuthAudience); audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}

	token, err := jwt.Parse(tokenString, v.jwks.Keyfunc, opts...)
	if err != nil {
		return "", err
	}
	subject, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(subject) == "" {
		return "", jwt.ErrTokenRequiredClaimMissing
	}
	return subject, nil
}

// Ready indicates if the validator is prepared.
func (v *Validator) Ready() bool {
	if v == nil || !v.cfg.AuthEnabled {
		return true
	}
	return v.jwks != nil
}

// Close stops background JWKS refreshes.
func (v *Validator) Close() {
	if v != nil && v.jwks != nil {
		v.jwks.EndBackground()
	}
}

// UserID returns the id set by Middleware.
func UserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

// gatewayUserID reads identity headers injected by the API gateway.
func gatewayUserID(c *gin.Context) string {
	if userID := strings.TrimSpace(c.GetHeader("X-User-ID")); userID != "" {
		return userID
	}
	if subject := strings.TrimSpace(c.GetHeader("X-User-Subject")); subject != "" {
		return subject
	}
	// Consumer headers only count when a credential was actually validated,
	// not for the anonymous consumer fallback.
	if credID := strings.TrimSpace(c.GetHeader("X-Credential-Identifier")); credID != "" {
		if customID := strings.TrimSpace(c.GetHeader("X-Consumer-Custom-ID")); customID != "" {
			return customID
		}
	}
	return ""
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, platformerrors.HTTPErrorResponse{
		Error: &platformerrors.HTTPErrorDetail{
			Message:   message,
			Type:      platformerrors.ErrorTypeToString(platformerrors.ErrorTypeUnauthorized),
			RequestID: platformerrors.RequestIDFromContext(c.Request.Context()),
		},
	})
}
