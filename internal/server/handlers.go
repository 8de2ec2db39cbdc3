package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/linsyking/git-visualizer/internal/graph"
)

type Server struct {
	Store  *graph.Store
	Hub    *Hub
	Mux    *http.ServeMux
	static http.Handler
	logger *slog.Logger
}

// NewServer serves store over HTTP and hub over websocket. When staticDir is
// set the viewer files in it are served at /.
func NewServer(store *graph.Store, hub *Hub, staticDir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		Store:  store,
		Hub:    hub,
		Mux:    http.NewServeMux(),
		logger: logger,
	}
	if staticDir != "" {
		s.static = http.FileServer(http.Dir(staticDir))
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Mux.HandleFunc("/ping", s.handlePing)
	s.Mux.HandleFunc("/tree", s.handleTree)
	s.Mux.HandleFunc("/nodedata/{id}", s.handleNodeData)
	s.Mux.Handle("/ws", s.Hub)
	s.Mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Mux.ServeHTTP(w, r)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"message": "pong",
		"system":  "git graph server",
	})
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.Store.Snapshot())
}

func (s *Server) handleNodeData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n := s.Store.Get(r.PathValue("id"))
	if n == nil {
		http.Error(w, "node not found", http.StatusNotFound)
		return
	}
	writeJSON(w, n.Detail())
}

// handleRoot accepts the viewer's websocket at / as well as at /ws, and
// otherwise serves the static files.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.Hub.ServeHTTP(w, r)
		return
	}
	if s.static == nil {
		http.NotFound(w, r)
		return
	}
	s.static.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
