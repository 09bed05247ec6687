package server

import (
	"encoding/json"
	"net/http"
)

// Handler routes the spectator endpoints:
//
//	/ws        websocket snapshot feed, token guarded
//	/snapshot  latest snapshot as JSON, 204 before the first frame
//	/healthz   liveness and server stats
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", TokenAuth(s.config.Token, http.HandlerFunc(s.handleWebSocket)))
	mux.HandleFunc("GET /snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	latest := s.latest.Load()
	if latest == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(*latest)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Status string `json:"status"`
		Stats
	}{"ok", s.Stats()})
}
