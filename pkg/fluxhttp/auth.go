package fluxhttp

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for writes without a valid bearer token.
var ErrUnauthorized = errors.New("fluxhttp: unauthorized")

// NewToken signs an HS256 token that authorizes writes on a server created
// with WithTokenSecret(secret). A zero ttl yields a token that never expires.
func NewToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("fluxhttp: empty token secret")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// authorize returns the subject of r's bearer token. Without a configured
// secret every request is authorized with an empty subject.
func (s *Server) authorize(r *http.Request) (string, error) {
	if len(s.cfg.secret) == 0 {
		return "", nil
	}
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return "", fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return s.cfg.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return claims.Subject, nil
}

// requireWriter guards the mutating routes.
func (s *Server) requireWriter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.readOnly {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "read only"})
			return
		}
		subject, err := s.authorize(r)
		if err != nil {
			s.logger.Info("write rejected", "path", r.URL.Path, "error", err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="fluxio"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
			return
		}
		if subject != "" {
			s.logger.Debug("write authorized", "path", r.URL.Path, "subject", subject)
		}
		next.ServeHTTP(w, r)
	})
}

// writeDenial explains why a watch stream may not set its node, or returns
// "" when it may.
func (s *Server) writeDenial(r *http.Request) string {
	if s.cfg.readOnly {
		return "read only"
	}
	if _, err := s.authorize(r); err != nil {
		return "unauthorized"
	}
	return ""
}
