package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rflorenc/ipam-migrator/internal/models"
)

// Server holds shared state for the status handlers. The status server
// is read-only: it never starts or changes a run.
type Server struct {
	Run     *models.Run
	Metrics http.Handler
}

// NewRouter builds the chi router for the status endpoints.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/healthz", s.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/run", s.GetRun)
		r.Get("/run/logs", s.GetRunLogs)
	})

	// WebSocket (outside /api to avoid JSON content-type assumptions)
	r.Get("/ws/run/logs", s.StreamRunLogs)

	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
