package api

import (
	"context"
	"net/http"

	"github.com/dunamismax/docflow/internal/id"
	"github.com/dunamismax/docflow/internal/session"
)

type contextKey int

const identityKey contextKey = iota

func withIdentity(ctx context.Context, identity session.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func identityFrom(ctx context.Context) (session.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(session.Identity)
	return identity, ok
}

// withRequestID stamps each response with a correlation id clients can quote
// when reporting failures. Incoming ids are trusted as-is.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = id.New()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

// requireSession rejects requests without a valid session cookie. Validation
// errors and session-store failures both fail closed.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.sessions.ValidateCookieHeader(r.Context(), r.Header.Get("Cookie"))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
	})
}
