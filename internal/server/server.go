// Package server exposes the store's read API over HTTP, plus the sync
// trigger. Everything except /sync is read-only; writes happen only
// through the ingest pipeline.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/tah-allotrope/togglmirror/internal/answer"
	"github.com/tah-allotrope/togglmirror/internal/ingest"
	"github.com/tah-allotrope/togglmirror/internal/store"
)

type Server struct {
	store  *store.Store
	syncer *ingest.Syncer
	engine *answer.Engine
	port   int
}

func New(s *store.Store, syncer *ingest.Syncer, engine *answer.Engine, port int) *Server {
	return &Server{store: s, syncer: syncer, engine: engine, port: port}
}

// Handler builds the HTTP mux. Split from Start so tests can drive it
// through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/years", s.handleYears)
	mux.HandleFunc("/projects", s.handleProjects)
	mux.HandleFunc("/tags", s.handleTags)
	mux.HandleFunc("/entries", s.handleEntries)
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/reports/top-projects", s.handleTopProjects)
	mux.HandleFunc("/reports/top-tags", s.handleTopTags)
	mux.HandleFunc("/ask", s.handleAsk)
	mux.HandleFunc("/sync", s.handleSync)

	return mux
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	log.Printf("togglmirror server listening on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// ─── Handlers ────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	stats, err := s.store.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleYears(w http.ResponseWriter, r *http.Request) {
	years, err := s.store.Years()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if years == nil {
		years = []int{}
	}
	writeJSON(w, http.StatusOK, years)
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.ProjectNames()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stringsOrEmpty(names))
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.TagNames()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stringsOrEmpty(names))
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	f := filterFromQuery(r)
	entries, err := s.store.Entries(f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entriesOrEmpty(entries))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing q parameter")
		return
	}
	limit := intParam(r, "limit")
	entries, err := s.store.Search(q, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entriesOrEmpty(entries))
}

func (s *Server) handleTopProjects(w http.ResponseWriter, r *http.Request) {
	s.handleTop(w, r, s.store.TopProjects)
}

func (s *Server) handleTopTags(w http.ResponseWriter, r *http.Request) {
	s.handleTop(w, r, s.store.TopTags)
}

func (s *Server) handleTop(w http.ResponseWriter, r *http.Request, query func(store.Filter, int) ([]store.GroupTotal, error)) {
	f := filterFromQuery(r)
	top, err := query(f, intParam(r, "limit"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if top == nil {
		top = []store.GroupTotal{}
	}
	writeJSON(w, http.StatusOK, top)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "missing question")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": s.engine.Answer(req.Question)})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	if s.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "sync not configured")
		return
	}

	var req struct {
		Mode  string `json:"mode"`
		Years []int  `json:"years"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
			return
		}
	}

	mode := ingest.ModeIncremental
	if req.Mode == string(ingest.ModeFull) {
		mode = ingest.ModeFull
	}

	report, err := s.syncer.Run(r.Context(), req.Years, mode)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func filterFromQuery(r *http.Request) store.Filter {
	q := r.URL.Query()
	return store.Filter{
		Year:          intParam(r, "year"),
		Month:         intParam(r, "month"),
		Day:           intParam(r, "day"),
		Date:          q.Get("date"),
		Project:       q.Get("project"),
		ProjectPrefix: q.Get("project_prefix"),
		NoProject:     q.Get("no_project") == "true",
		Tag:           q.Get("tag"),
		Text:          q.Get("text"),
		Limit:         intParam(r, "limit"),
	}
}

func intParam(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func stringsOrEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func entriesOrEmpty(v []store.Entry) []store.Entry {
	if v == nil {
		return []store.Entry{}
	}
	return v
}
