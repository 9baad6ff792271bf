package middleware

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"chatgraph/pkg/auth"
	pkgerrors "chatgraph/pkg/errors"
)

// Headers set by the Lambda entrypoint from the API Gateway authorizer context
const (
	HeaderGatewayAuthorized = "X-API-Gateway-Authorized"
	HeaderUserID            = "X-User-ID"
	HeaderUserEmail         = "X-User-Email"
	HeaderUserRoles         = "X-User-Roles"
)

// Authenticator resolves the caller of every request and applies the per-IP
// and per-user rate limits. Either limiter may be nil.
type Authenticator struct {
	validator    *auth.JWTValidator
	ipLimiter    auth.RateLimiter
	userLimiter  auth.RateLimiter
	trustGateway bool
	errors       *pkgerrors.ErrorHandler
	logger       *zap.Logger
}

// NewAuthenticator creates the middleware. With trustGateway set, requests
// already authorized by API Gateway skip JWT validation.
func NewAuthenticator(
	validator *auth.JWTValidator,
	ipLimiter auth.RateLimiter,
	userLimiter auth.RateLimiter,
	trustGateway bool,
	errHandler *pkgerrors.ErrorHandler,
	logger *zap.Logger,
) *Authenticator {
	return &Authenticator{
		validator:    validator,
		ipLimiter:    ipLimiter,
		userLimiter:  userLimiter,
		trustGateway: trustGateway,
		errors:       errHandler,
		logger:       logger,
	}
}

// Middleware returns the chi-compatible handler wrapper
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := getClientIP(r)
		if !a.allow(r, a.ipLimiter, clientIP) {
			a.errors.HandleStatus(w, r, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}

		user, err := a.resolveUser(r)
		if err != nil {
			a.logger.Debug("Authentication failed",
				zap.Error(err),
				zap.String("ip", clientIP),
				zap.String("path", r.URL.Path),
			)
			a.errors.Handle(w, r, pkgerrors.NewUnauthorizedError(unauthorizedMessage(err)))
			return
		}

		if !a.allow(r, a.userLimiter, user.UserID) {
			a.errors.HandleStatus(w, r, http.StatusTooManyRequests, "User rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.SetUserInContext(r.Context(), user)))
	})
}

// allow fails open when the limiter itself is unavailable
func (a *Authenticator) allow(r *http.Request, limiter auth.RateLimiter, key string) bool {
	if limiter == nil {
		return true
	}
	allowed, err := limiter.Allow(r.Context(), key)
	if err != nil {
		a.logger.Warn("Rate limiter unavailable", zap.Error(err))
		return true
	}
	return allowed
}

func (a *Authenticator) resolveUser(r *http.Request) (*auth.UserContext, error) {
	if a.trustGateway && r.Header.Get(HeaderGatewayAuthorized) == "true" {
		userID := r.Header.Get(HeaderUserID)
		if userID == "" {
			return nil, auth.ErrInvalidClaims
		}
		roles := []string{"authenticated"}
		if v := r.Header.Get(HeaderUserRoles); v != "" {
			roles = strings.Split(v, ",")
		}
		return &auth.UserContext{
			UserID: userID,
			Email:  r.Header.Get(HeaderUserEmail),
			Roles:  roles,
		}, nil
	}

	token := extractToken(r)
	if token == "" {
		return nil, auth.ErrMissingToken
	}
	if a.validator == nil {
		return nil, auth.ErrInvalidToken
	}
	claims, err := a.validator.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	return &auth.UserContext{
		UserID: claims.UserID,
		Email:  claims.Email,
		Roles:  claims.Roles,
	}, nil
}

func unauthorizedMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		return "Missing authentication token"
	case errors.Is(err, auth.ErrExpiredToken):
		return "Token has expired"
	case errors.Is(err, auth.ErrInvalidSignature):
		return "Invalid token signature"
	default:
		return "Invalid token"
	}
}

// extractToken reads a bearer token from the Authorization header or the auth_token cookie
func extractToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}

	if cookie, err := r.Cookie("auth_token"); err == nil {
		return cookie.Value
	}
	return ""
}

// getClientIP extracts the client IP address
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
