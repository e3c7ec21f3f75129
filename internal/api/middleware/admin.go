package middleware

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/narvanalabs/keyrelay/internal/auth"
	"github.com/narvanalabs/keyrelay/pkg/logger"
)

// RequireAdmin rejects requests that do not carry the admin secret: 401 when
// the Authorization header is absent, 403 when it holds anything else.
func RequireAdmin(gate *auth.AdminGate, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := auth.ExtractBearerToken(r.Header.Get("Authorization"))
			if err := gate.Authorize(presented); err != nil {
				log.Warn("admin authorization failed",
					"method", r.Method,
					"path", r.URL.Path,
					"error", err,
					"request_id", middleware.GetReqID(r.Context()),
				)
				writeError(w, r, err)
				return
			}

			ctx := logger.ContextWithSubject(r.Context(), AdminSubject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
