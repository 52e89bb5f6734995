package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/FACorreiaa/go-user-identity/internal/api/auth"
	"github.com/FACorreiaa/go-user-identity/internal/api/oauth"
	"github.com/FACorreiaa/go-user-identity/internal/api/password"
	"github.com/FACorreiaa/go-user-identity/internal/api/user"
)

// Config contains dependencies needed for the router setup
type Config struct {
	AuthHandler     *auth.AuthHandler
	PasswordHandler *password.PasswordHandler
	OAuthHandler    *oauth.OAuthHandler
	UserHandler     *user.UserHandler

	// Authenticate rejects requests without a valid session; Optional only
	// attaches identity when one is present. Authorize evaluates the access
	// rules against the matched route.
	Authenticate func(http.Handler) http.Handler
	Optional     func(http.Handler) http.Handler
	Authorize    func(http.Handler) http.Handler

	AllowedOrigins []string
}

// SetupRouter initializes and configures the main application router.
// Server-wide middleware (logger, requestID, recoverer) are expected to be
// applied before mounting this router in main.go.
func SetupRouter(cfg *Config) chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})

	r.Route("/api", func(r chi.Router) {

		// Public auth routes
		r.Group(func(r chi.Router) {
			r.Post("/auth/signup", cfg.AuthHandler.Signup)
			r.Post("/auth/signin", cfg.AuthHandler.Signin)
			r.Post("/auth/forgot", cfg.PasswordHandler.Forgot)
			r.Get("/auth/password/reset/{token}", cfg.PasswordHandler.ValidateToken)
			r.Post("/auth/password/reset/{token}", cfg.PasswordHandler.Reset)
		})

		// Provider round trip; the callback serves both anonymous sign-in
		// and signed-in linking, so identity is optional here.
		r.Group(func(r chi.Router) {
			r.Use(cfg.Optional)
			r.Get("/auth/{provider}", cfg.OAuthHandler.Begin)
			r.Get("/auth/{provider}/callback", cfg.OAuthHandler.Callback)
		})

		// Routes for the signed-in user's own account
		r.Group(func(r chi.Router) {
			r.Use(cfg.Authenticate)
			r.Use(cfg.Authorize)

			r.Post("/auth/signout", cfg.AuthHandler.Signout)
			r.Get("/users/me", cfg.UserHandler.Me)
			r.Put("/users/me", cfg.UserHandler.UpdateMe)
			r.Post("/users/password", cfg.PasswordHandler.Change)
			r.Delete("/users/me/providers/{provider}", cfg.OAuthHandler.RemoveProvider)
		})

		// Admin surface
		r.Group(func(r chi.Router) {
			r.Use(cfg.Authenticate)
			r.Use(cfg.Authorize)

			r.Get("/users", cfg.UserHandler.List)
			r.Get("/users/{userID}", cfg.UserHandler.Get)
			r.Put("/users/{userID}", cfg.UserHandler.Update)
			r.Delete("/users/{userID}", cfg.UserHandler.Delete)
		})
	})

	return r
}
