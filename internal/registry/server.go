package registry

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// Server handles cluster membership requests.
type Server struct {
	store *Store
}

// NewServer creates a registry server over store.
func NewServer(store *Store) *Server {
	return &Server{store: store}
}

// HandleJoin registers or refreshes the calling node.
// POST /api/cluster/join
func (s *Server) HandleJoin(w http.ResponseWriter, r *http.Request) {
	var n Node
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if n.NodeID == "" {
		http.Error(w, "node_id is required", http.StatusBadRequest)
		return
	}
	u, err := url.Parse(n.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		http.Error(w, "url must be an absolute http(s) URL", http.StatusBadRequest)
		return
	}
	n.URL = strings.TrimRight(n.URL, "/")

	s.store.RegisterOrUpdate(n)
	registered, _ := s.store.Get(n.NodeID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(registered)
}

// HandleListNodes returns the registered nodes.
// GET /api/cluster/nodes
func (s *Server) HandleListNodes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.store.List())
}
