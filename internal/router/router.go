package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kiwari-pos/kds/internal/config"
	"github.com/kiwari-pos/kds/internal/enum"
	"github.com/kiwari-pos/kds/internal/fulfillment"
	"github.com/kiwari-pos/kds/internal/handler"
	"github.com/kiwari-pos/kds/internal/logger"
	mw "github.com/kiwari-pos/kds/internal/middleware"
	"github.com/kiwari-pos/kds/internal/notify"
)

// Deps are the long-lived components the routes are served by.
type Deps struct {
	Staff   handler.AuthStore
	Service *fulfillment.Service
	Metrics handler.MetricsComputer
	Hub     *notify.Hub
	Limiter *mw.StaffLimiter
}

// New creates a Chi router with all application routes wired up.
// Applies authentication and role-based middleware as needed.
func New(cfg *config.Config, deps Deps) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	authHandler := handler.NewAuthHandler(deps.Staff, cfg.JWTSecret)
	authHandler.RegisterRoutes(r)

	loc := cfg.Location()
	prepHandler := handler.NewPrepHandler(deps.Service, loc)
	orderHandler := handler.NewOrderHandler(deps.Service)
	reportsHandler := handler.NewReportsHandler(deps.Metrics, loc)
	eventsHandler := handler.NewEventsHandler(deps.Hub)

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		r.Route("/prep", func(r chi.Router) {
			// Preparer display
			r.Group(func(r chi.Router) {
				r.Use(mw.RequirePreparer)
				if deps.Limiter != nil {
					r.With(deps.Limiter.Middleware).Post("/heartbeat", prepHandler.Heartbeat)
				} else {
					r.Post("/heartbeat", prepHandler.Heartbeat)
				}
				prepHandler.RegisterRoutes(r)
				eventsHandler.RegisterPrepRoutes(r)
			})

			// Manual assignment
			r.Group(func(r chi.Router) {
				r.Use(mw.RequireRole(enum.RoleManager, enum.RoleOwner))
				prepHandler.RegisterManagerRoutes(r)
			})
		})

		// Waitstaff
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(enum.RoleWaiter, enum.RoleManager, enum.RoleOwner))
			r.Route("/orders", orderHandler.RegisterRoutes)
			r.Route("/waiters", eventsHandler.RegisterWaiterRoutes)
			// Browsers cannot set headers on a websocket handshake, so the
			// token arrives as ?token= and Authenticate accepts it for GET.
			r.Get("/ws/waiters/events", eventsHandler.WaiterSocket)
		})

		// Reporting
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(enum.RoleManager, enum.RoleOwner))
			r.Route("/reports", reportsHandler.RegisterRoutes)
		})
	})

	logger.L().Info("router initialized")
	return r
}
