package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/beyonder07/XenoCrm-sub001/internal/pkg/logger"
	"github.com/beyonder07/XenoCrm-sub001/internal/segmentation"
	"github.com/beyonder07/XenoCrm-sub001/internal/template"
)

// Server owns the HTTP listener and routes.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	log        *logger.Logger
}

// NewServer builds the router and wires all handlers. reconciler may be nil
// when push receipt ingestion is not enabled; the route then returns 503.
func NewServer(addr string, campaigns CampaignStore, segments *segmentation.Store, templates *template.Engine, reconciler ReceiptApplier) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handleHealth)

		NewSegmentAPI(segments).RegisterRoutes(r)
		NewCampaignAPI(campaigns, segments, templates).RegisterRoutes(r)
		if reconciler != nil {
			NewReceiptAPI(reconciler).RegisterRoutes(r)
		} else {
			r.Post("/receipts", func(w http.ResponseWriter, _ *http.Request) {
				respondError(w, http.StatusServiceUnavailable, "receipt ingestion disabled")
			})
		}
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		router: r,
		log:    logger.Component("API"),
	}
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start blocks serving HTTP until the listener closes.
func (s *Server) Start() error {
	s.log.Info("listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
