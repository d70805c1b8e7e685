package handlers

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/CrowderSoup/taskboard/services"
)

type contextKey string

const userIDContextKey contextKey = "user_id"

// IdentityMiddleware attributes a request to a user when it carries a
// session token. Requests without one pass through and name the acting
// user explicitly.
type IdentityMiddleware struct {
	sessions *services.SessionService
}

func NewIdentityMiddleware(sessions *services.SessionService) *IdentityMiddleware {
	return &IdentityMiddleware{sessions: sessions}
}

func (m *IdentityMiddleware) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			next.ServeHTTP(w, r)
			return
		}

		authParts := strings.Split(authHeader, " ")
		if len(authParts) != 2 || authParts[0] != "Bearer" {
			writeMessage(w, http.StatusUnauthorized, "invalid authorization format")
			return
		}

		userID, err := m.sessions.Verify(authParts[1])
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// actor returns the acting user: the token's user if present, otherwise
// the explicit id from the body, otherwise the userId or user_id query
// parameter.
func actor(r *http.Request, bodyUserID int64) (int64, bool) {
	if id, ok := r.Context().Value(userIDContextKey).(int64); ok {
		return id, true
	}
	if bodyUserID > 0 {
		return bodyUserID, true
	}
	for _, key := range []string{"user_id", "userId"} {
		if v := r.URL.Query().Get(key); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err == nil && id > 0 {
				return id, true
			}
		}
	}
	return 0, false
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades through the recorder.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// LogRequests logs one line per request.
func LogRequests(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start))
		})
	}
}
