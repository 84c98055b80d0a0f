package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coffersTech/nanosearch/internal/cluster"
	"github.com/coffersTech/nanosearch/internal/controller"
	"github.com/coffersTech/nanosearch/internal/engine"
	"github.com/valyala/fastjson"
)

const (
	defaultSearchLimit = 100
	maxIngestBody      = 32 << 20
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("json encode failed", "error", err)
	}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"initialized": s.metaStore.IsInitialized()})
}

// handleSystemInit creates the first super admin and logs it in.
func (s *Server) handleSystemInit(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	err := s.metaStore.InitializeSystem(req.Username, req.Password)
	switch {
	case errors.Is(err, controller.ErrAlreadyInitialized):
		http.Error(w, "System already initialized", http.StatusConflict)
		return
	case errors.Is(err, controller.ErrBadCredentials):
		http.Error(w, "Username and password required", http.StatusBadRequest)
		return
	case err != nil:
		s.logger.Error("system init failed", "error", err)
		http.Error(w, "Initialization failed", http.StatusInternalServerError)
		return
	}
	s.logger.Info("system initialized", "user", req.Username)
	s.startSession(w, req.Username, controller.RoleSuperAdmin)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	user, err := s.metaStore.Authenticate(req.Username, req.Password)
	if err != nil {
		http.Error(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}
	s.startSession(w, user.Username, user.Role)
}

func (s *Server) startSession(w http.ResponseWriter, username, role string) {
	token, err := s.createSession(username)
	if err != nil {
		http.Error(w, "Session creation failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"token":    token,
		"username": username,
		"role":     role,
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.metaStore.Config())
}

// handleUpdateConfig stores the config and applies the retention to the
// running engine.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg controller.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	retention, err := controller.ParseRetention(cfg.Retention)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.metaStore.UpdateConfig(cfg); err != nil {
		s.logger.Error("config update failed", "error", err)
		http.Error(w, "Config update failed", http.StatusInternalServerError)
		return
	}
	s.queryEngine.SetRetention(retention)
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.metaStore.Tokens())
}

func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	t, err := s.metaStore.AddToken(req.Name, req.Type, principalFrom(r.Context()).name)
	if errors.Is(err, controller.ErrInvalidTokenType) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.logger.Error("token creation failed", "error", err)
		http.Error(w, "Token creation failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	if err := s.metaStore.DeleteToken(r.PathValue("id")); err != nil {
		if errors.Is(err, controller.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, "Token deletion failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleIngest accepts one entry object or an array of them.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusRequestEntityTooLarge)
		return
	}

	p := s.parser.Get()
	defer s.parser.Put(p)
	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	items := []*fastjson.Value{v}
	if v.Type() == fastjson.TypeArray {
		items, _ = v.Array()
	}
	for _, item := range items {
		if item.Type() != fastjson.TypeObject {
			http.Error(w, "Each entry must be a JSON object", http.StatusBadRequest)
			return
		}
		if len(item.GetStringBytes("url")) == 0 && len(item.GetStringBytes("site")) == 0 {
			http.Error(w, "Each entry needs a url or a site", http.StatusBadRequest)
			return
		}
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		e, err := s.queryEngine.Ingest(entryFromJSON(item))
		if err != nil {
			s.logger.Error("ingest failed", "error", err)
			http.Error(w, "Ingest failed", http.StatusInternalServerError)
			return
		}
		ids = append(ids, e.ID)
	}
	// One WAL sync per request.
	s.queryEngine.SyncWAL()

	s.writeJSON(w, http.StatusOK, map[string]any{"ingested": len(ids), "ids": ids})
}

func entryFromJSON(v *fastjson.Value) engine.Entry {
	return engine.Entry{
		ID:        string(v.GetStringBytes("id")),
		Timestamp: v.GetInt64("timestamp"),
		Site:      string(v.GetStringBytes("site")),
		Title:     string(v.GetStringBytes("title")),
		URL:       string(v.GetStringBytes("url")),
		Content:   string(v.GetStringBytes("content")),
	}
}

func queryInt(r *http.Request, names ...string) (int64, bool) {
	for _, name := range names {
		if raw := r.URL.Query().Get(name); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			return v, err == nil
		}
	}
	return 0, false
}

// filterFromRequest reads q, site and the start/end bounds (Unix ms).
func filterFromRequest(r *http.Request) engine.Filter {
	f := engine.Filter{
		Query: r.URL.Query().Get("q"),
		Site:  strings.ToLower(r.URL.Query().Get("site")),
	}
	if v, ok := queryInt(r, "start", "min_ts"); ok {
		f.MinTime = v
	}
	if v, ok := queryInt(r, "end", "max_ts"); ok {
		f.MaxTime = v
	}
	return f
}

func limitFromRequest(r *http.Request) int {
	if v, ok := queryInt(r, "limit"); ok && v > 0 {
		return int(v)
	}
	return defaultSearchLimit
}

func (s *Server) queryError(w http.ResponseWriter, err error) {
	if errors.Is(err, engine.ErrInvalidQuery) || errors.Is(err, engine.ErrInvalidInterval) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Error("query failed", "error", err)
	http.Error(w, "Query failed", http.StatusInternalServerError)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	rows, err := s.queryEngine.ExecuteScan(r.Context(), filterFromRequest(r), limitFromRequest(r))
	if err != nil {
		s.queryError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	ex, err := s.queryEngine.Explain(r.URL.Query().Get("q"))
	if err != nil {
		s.queryError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ex)
}

// handleHistogram counts matches per bucket. start and end are Unix ms
// (default: the last hour), interval is in seconds (default 60).
func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	filter := filterFromRequest(r)
	end := filter.MaxTime
	if end == 0 {
		end = time.Now().UnixMilli()
	}
	start := filter.MinTime
	if start == 0 {
		start = end - time.Hour.Milliseconds()
	}
	interval := time.Minute.Milliseconds()
	if v, ok := queryInt(r, "interval"); ok {
		interval = v * 1000
	}

	points, err := s.queryEngine.ComputeHistogram(r.Context(), start, end, interval, filter)
	if err != nil {
		s.queryError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, points)
}

// handleContext returns the entries of a site around a point in time.
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	ts, ok := queryInt(r, "ts")
	site := r.URL.Query().Get("site")
	if !ok || site == "" {
		http.Error(w, "ts and site are required", http.StatusBadRequest)
		return
	}
	limit, _ := queryInt(r, "limit")

	res, err := s.queryEngine.GetContext(r.Context(), ts, site, int(limit))
	if err != nil {
		s.queryError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.queryEngine.GetStats())
}

func clusterParams(r *http.Request) cluster.QueryParams {
	return cluster.QueryParams{
		RawQuery: r.URL.RawQuery,
		Limit:    limitFromRequest(r),
		Auth:     r.Header.Get("Authorization"),
	}
}

func (s *Server) handleClusterSearch(w http.ResponseWriter, r *http.Request) {
	rows, err := s.aggregator.Search(r.Context(), clusterParams(r))
	if err != nil {
		s.queryError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleClusterHistogram(w http.ResponseWriter, r *http.Request) {
	points, err := s.aggregator.Histogram(r.Context(), clusterParams(r))
	if err != nil {
		s.queryError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleClusterStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.aggregator.Stats(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		s.queryError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}
