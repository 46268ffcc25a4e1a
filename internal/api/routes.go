package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/yegors/atc-scanner/internal/config"
	"github.com/yegors/atc-scanner/internal/websocket"
	"github.com/yegors/atc-scanner/pkg/logger"
)

// Router is the API router
type Router struct {
	handler    *Handler
	middleware *Middleware
	config     *config.Config
	logger     *logger.Logger
}

// NewRouter creates a new API router. transmissions and sessions may be nil.
func NewRouter(svc Scanner, transmissions TransmissionHistory, sessions SessionHistory, wsServer *websocket.Server, cfg *config.Config, logger *logger.Logger) *Router {
	return &Router{
		handler:    NewHandler(svc, transmissions, sessions, wsServer, cfg, logger),
		middleware: NewMiddleware(logger),
		config:     cfg,
		logger:     logger.Named("api-router"),
	}
}

// Routes returns the API routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	// Middleware
	router.Use(r.middleware.RequestID)
	router.Use(r.middleware.Logger)
	router.Use(r.middleware.Recoverer)
	router.Use(r.middleware.CORS(r.config.Server.CORSAllowedOrigins))

	router.Route("/api/v1", func(router chi.Router) {
		// Scanner control
		router.Route("/scanner", func(router chi.Router) {
			router.Post("/start", r.handler.StartScanner)
			router.Post("/stop", r.handler.StopScanner)
			router.Get("/status", r.handler.GetStatus)
			router.Post("/settings", r.handler.UpdateSettings)
			router.Get("/next", r.handler.GetNextAudio)

			// History
			router.Get("/transmissions", r.handler.GetTransmissions)
			router.Get("/sessions", r.handler.GetSessions)

			// WebSocket relay
			router.Get("/ws", r.handler.HandleWebSocket)
		})

		// Health check
		router.Get("/health", r.handler.GetHealth)
	})

	return router
}
