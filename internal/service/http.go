package service

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // local control surface, not internet-facing
}

// Router builds the HTTP control surface: GET /health, GET /status,
// POST /projects/{project}/reindex, POST /projects/{project}/watch,
// POST /projects/{project}/unwatch, GET /ws for the progress-event stream.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Status())
	})

	r.Route("/projects/{project}", func(pr chi.Router) {
		pr.Post("/reindex", s.handleReindex)
		pr.Post("/watch", s.handleStartWatcher)
		pr.Post("/unwatch", s.handleStopWatcher)
	})

	r.Get("/ws", s.handleProgressWebsocket)

	return r
}

func (s *Service) handleReindex(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "project")
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	result, err := s.ForceReindex(ctx, name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) handleStartWatcher(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "project")
	if err := s.StartWatcher(name); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "watching"})
}

func (s *Service) handleStopWatcher(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "project")
	if err := s.StopWatcher(name); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Service) handleProgressWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	client := &progressClient{conn: conn, send: make(chan ProgressEvent, 32)}
	s.hub.register(client)
	defer s.hub.unregister(client)

	go client.writePump()

	// Drain and discard any client-sent frames so the connection stays
	// readable; this endpoint is push-only.
	clientID := uuid.NewString()
	s.logger.Info("progress client connected", "client_id", clientID)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.logger.Info("progress client disconnected", "client_id", clientID)
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
