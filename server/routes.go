package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lab1702/battleship-web/store"
)

// Routes builds the HTTP surface: the websocket endpoint plus liveness and
// readiness probes.
func (s *Server) Routes(health *store.Health) http.Handler {
	r := chi.NewRouter()

	r.Get("/ws", s.HandleWebSocket)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		statuses, ready := health.Check(req.Context())
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(map[string]any{
			"ready":        ready,
			"dependencies": statuses,
		}); err != nil {
			s.logger.Warn("readiness response write failed", zap.Error(err))
		}
	})

	return r
}
