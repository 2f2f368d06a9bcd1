package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"jobboard/pkg/logx"
)

const (
	adminRole = "admin"
	// anonymousAdmin is the actor recorded when admin auth is disabled.
	anonymousAdmin = "anonymous"
)

type ctxKey int

const actorKey ctxKey = 1

// Actor returns the authenticated admin subject stored by requireAdmin.
func Actor(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey).(string); ok {
		return v
	}
	return ""
}

type adminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueAdminToken signs an HS256 admin token for subject valid for ttl.
func IssueAdminToken(secret, subject string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := adminClaims{
		Role: adminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseAdminToken(secret, raw string) (string, error) {
	var claims adminClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if claims.Role != adminRole {
		return "", errors.New("admin role required")
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		sub = adminRole
	}
	return sub, nil
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AllowUnauthenticatedAdmin {
			next(w, r.WithContext(context.WithValue(r.Context(), actorKey, anonymousAdmin)))
			return
		}
		secret := strings.TrimSpace(s.cfg.JWTSecret)
		if secret == "" {
			writeError(w, http.StatusServiceUnavailable, "admin auth not configured")
			return
		}
		ah := r.Header.Get("Authorization")
		const p = "Bearer "
		if !strings.HasPrefix(ah, p) {
			unauthorized(w)
			return
		}
		actor, err := parseAdminToken(secret, strings.TrimSpace(strings.TrimPrefix(ah, p)))
		if err != nil {
			s.log.Debug("admin token rejected", logx.String("path", r.URL.Path), logx.Err(err))
			unauthorized(w)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, "unauthorized")
}
