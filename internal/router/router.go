package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "github.com/growplant/growplant/internal/middleware"
	"github.com/growplant/growplant/internal/middleware/metrics"
	rl "github.com/growplant/growplant/internal/middleware/ratelimiter"
	"github.com/growplant/growplant/internal/setup"
)

// New creates and configures the chi router with all the routes.
// IMPORTANT! rate limiters attached with .Use limit all endpoints of that
// group combined.
func New(deps *setup.Dependencies) *chi.Mux {
	r := chi.NewRouter()

	cfg := deps.Config

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.Public.CorsOrigin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	// JSON API only: strict CSP
	r.Use(mw.SecurityHeadersWithCSP(cfg.Public.SecureCookies, "default-src 'none'; frame-ancestors 'none'"))
	r.Use(metrics.Middleware)

	r.Handle("/metrics", promhttp.Handler())

	h := deps.Handler
	authMw := deps.AuthMiddleware

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/health", h.Health)

		v1.Route("/auth", func(auth chi.Router) {
			// Endpoints that send email get the tightest limits.
			auth.Group(func(sending chi.Router) {
				sending.Use(mw.RateLimit(rl.New(1.0/10, 1, 1*time.Hour), mw.GetEmailFromBody)) // 1 per 10s by email
				sending.Use(mw.RateLimit(rl.New(1.0/10, 1, 1*time.Hour), mw.GetIP))            // 1 per 10s by IP
				sending.Use(mw.GlobalRateLimit(rl.Rps100()))                                    // 100 global RPS
				sending.Post("/signup", h.Signup)
				sending.Post("/password_reset", h.PasswordReset)
			})

			auth.Group(func(resend chi.Router) {
				resend.Use(mw.RateLimit(rl.New(1.0/10, 1, 1*time.Hour), mw.GetIP))
				resend.Post("/resend-activation/{emailb64}", h.ResendActivationPost)
			})

			// Link-click routes: pure reads or idempotent state flips.
			auth.Get("/activate/{uidb64}/{token}", h.Activate)
			auth.Get("/resend-activation/{emailb64}", h.ResendActivationGet)
			auth.Get("/reset/{uidb64}/{token}", h.ResetConfirmGet)
			auth.Post("/reset/{uidb64}/{token}", h.ResetConfirmPost)

			auth.Group(func(login chi.Router) {
				login.Use(mw.RateLimit(rl.OncePerSecond(), mw.GetIP)) // 1 per second by IP
				login.Use(mw.GlobalRateLimit(rl.Rps1000()))           // 1000 global RPS
				login.Post("/login", h.Login)
			})

			auth.Post("/logout", h.Logout)
		})

		// Logged-in user routes
		v1.Group(func(loggedIn chi.Router) {
			loggedIn.Use(authMw.NeedAuth())
			loggedIn.Get("/me", h.Me)
			loggedIn.Put("/me", h.UpdateMe)
		})
	})

	// Avoid 404s on CORS preflight for unrouted paths
	r.MethodFunc("OPTIONS", "/*", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return r
}
