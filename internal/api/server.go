package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"timetree/pkg/graph"
	"timetree/pkg/timetree"
)

// Server is the HTTP API server.
type Server struct {
	tree  *timetree.TimeTree
	store graph.Store
	log   *slog.Logger
	mux   *http.ServeMux
}

// New creates a new Server over tree.
func New(tree *timetree.TimeTree) *Server {
	s := &Server{
		tree:  tree,
		store: tree.Store(),
		log:   slog.Default().With("component", "api"),
		mux:   http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	// Tree nodes
	s.mux.HandleFunc("GET /timetree/now", s.handleNow)
	s.mux.HandleFunc("GET /timetree/roots/{rootId}/now", s.handleNow)
	s.mux.HandleFunc("GET /timetree/single/{time}", s.handleInstant)
	s.mux.HandleFunc("GET /timetree/roots/{rootId}/single/{time}", s.handleInstant)
	s.mux.HandleFunc("GET /timetree/range/{start}/{end}", s.handleRange)
	s.mux.HandleFunc("GET /timetree/roots/{rootId}/range/{start}/{end}", s.handleRange)

	// Events
	s.mux.HandleFunc("GET /timetree/single/{time}/events", s.handleInstantEvents)
	s.mux.HandleFunc("GET /timetree/roots/{rootId}/single/{time}/events", s.handleInstantEvents)
	s.mux.HandleFunc("GET /timetree/range/{start}/{end}/events", s.handleRangeEvents)
	s.mux.HandleFunc("GET /timetree/roots/{rootId}/range/{start}/{end}/events", s.handleRangeEvents)
	s.mux.HandleFunc("POST /timetree/single/event", s.handleAttach)
	s.mux.HandleFunc("POST /timetree/roots/{rootId}/single/event", s.handleAttach)
	s.mux.HandleFunc("GET /timetree/stream", s.handleStream)

	// Entity nodes
	s.mux.HandleFunc("POST /nodes", s.handleNodeCreate)
	s.mux.HandleFunc("GET /nodes/{id}", s.handleNodeGet)
	s.mux.HandleFunc("PATCH /nodes/{id}", s.handleNodeUpdate)

	// System
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps err to a status: validation 400, missing node 404, anything else 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case timetree.IsValidation(err):
		s.log.Warn("bad request", "path", r.URL.Path, "err", err)
		writeError(w, 400, err.Error())
	case timetree.IsNotFound(err):
		s.log.Warn("not found", "path", r.URL.Path, "err", err)
		writeError(w, 404, err.Error())
	default:
		s.log.Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, 500, err.Error())
	}
}
