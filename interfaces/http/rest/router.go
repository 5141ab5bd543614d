package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	cmdbus "chronicle/application/commands/bus"
	querybus "chronicle/application/queries/bus"
	"chronicle/interfaces/http/rest/handlers"
	"chronicle/interfaces/http/rest/middleware"
	"chronicle/pkg/auth"
)

// Router creates and configures the HTTP router
type Router struct {
	commandBus *cmdbus.CommandBus
	queryBus   *querybus.QueryBus
	validator  *auth.JWTValidator
	limits     middleware.RateLimits
	logger     *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(
	commandBus *cmdbus.CommandBus,
	queryBus *querybus.QueryBus,
	validator *auth.JWTValidator,
	limits middleware.RateLimits,
	logger *zap.Logger,
) *Router {
	return &Router{
		commandBus: commandBus,
		queryBus:   queryBus,
		validator:  validator,
		limits:     limits,
		logger:     logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.RequestContext)
	router.Use(middleware.Logger(rt.logger))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)

	// API v1 routes
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(rt.validator, rt.limits, rt.logger))

		r.Route("/projects", func(r chi.Router) {
			projectHandler := handlers.NewProjectHandler(rt.commandBus, rt.queryBus, rt.logger)
			r.Post("/", projectHandler.CreateProject)
			r.Get("/{projectID}", projectHandler.GetProject)
			r.Post("/{projectID}/tasks", projectHandler.AddTask)
			r.Post("/{projectID}/archive", projectHandler.ArchiveProject)
		})
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// readinessCheck handles readiness check requests
func (rt *Router) readinessCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}
