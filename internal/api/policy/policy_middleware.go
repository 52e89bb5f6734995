package policy

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/FACorreiaa/go-user-identity/internal/api"
	"github.com/FACorreiaa/go-user-identity/internal/types"
)

// Middleware gates routes through the access engine.
type Middleware struct {
	engine *Engine
	logger *slog.Logger
}

func NewMiddleware(engine *Engine, logger *slog.Logger) *Middleware {
	return &Middleware{engine: engine, logger: logger}
}

// Authorize checks the caller's roles against the matched route pattern.
// Anonymous requests are evaluated as guest. An evaluation error is a
// server fault, not a denial.
func (m *Middleware) Authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		roles, ok := types.GetUserRolesFromContext(r.Context())
		if !ok || len(roles) == 0 {
			roles = []string{GuestRole}
		}

		resource := chi.RouteContext(r.Context()).RoutePattern()
		allowed, err := m.engine.IsAllowed(roles, resource, r.Method)
		if err != nil {
			m.logger.ErrorContext(r.Context(), "Authorization evaluation failed",
				slog.String("resource", resource), slog.Any("error", err))
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Unexpected authorization error")
			return
		}
		if !allowed {
			api.ErrorResponse(w, r, http.StatusForbidden, "User is not authorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
