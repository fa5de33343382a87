package runtime

import (
	_ "embed"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/loqalabs/loqa-caption/internal/capability"
	"github.com/loqalabs/loqa-caption/internal/eventstore"
	"github.com/loqalabs/loqa-caption/internal/session"
)

//go:embed static/index.html
var indexHTML []byte

type updateResponse struct {
	SessionID string          `json:"session_id"`
	Logs      []session.Entry `json:"logs"`
}

type historyResponse struct {
	SessionID string             `json:"session_id"`
	Events    []eventstore.Event `json:"events"`
}

func (r *Runtime) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", r.handleIndex)
	mux.HandleFunc("GET /update", r.handleUpdate)
	mux.HandleFunc("GET /clear", r.handleClear)
	mux.HandleFunc("POST /clear", r.handleClear)
	mux.HandleFunc("GET /history", r.handleHistory)
	mux.HandleFunc("GET /sessions", r.handleSessions)
	mux.HandleFunc("GET /nodes", r.handleNodes)
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if r.metrics != nil {
		mux.Handle("/metrics", r.metrics)
	}
	return mux
}

func (r *Runtime) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func (r *Runtime) handleUpdate(w http.ResponseWriter, _ *http.Request) {
	logs := r.store.Snapshot()
	if logs == nil {
		logs = []session.Entry{}
	}
	writeJSON(w, http.StatusOK, updateResponse{SessionID: r.store.SessionID(), Logs: logs})
}

func (r *Runtime) handleClear(w http.ResponseWriter, _ *http.Request) {
	r.store.Clear()
	r.logger.Info("session cleared", slog.String("session_id", r.store.SessionID()))
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (r *Runtime) handleHistory(w http.ResponseWriter, req *http.Request) {
	sessionID := req.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = r.store.SessionID()
	}
	limit := 100
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	events, err := r.journal.ListSessionEvents(req.Context(), sessionID, limit)
	if err != nil {
		r.logger.Error("history query failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history unavailable"})
		return
	}
	if events == nil {
		events = []eventstore.Event{}
	}
	writeJSON(w, http.StatusOK, historyResponse{SessionID: sessionID, Events: events})
}

func (r *Runtime) handleSessions(w http.ResponseWriter, req *http.Request) {
	sessions, err := r.journal.ListSessions(req.Context())
	if err != nil {
		r.logger.Error("session query failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "sessions unavailable"})
		return
	}
	if sessions == nil {
		sessions = []eventstore.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (r *Runtime) handleNodes(w http.ResponseWriter, _ *http.Request) {
	nodes := []capability.NodeInfo{}
	if r.registry != nil {
		nodes = r.registry.Nodes(nil)
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.busClient == nil || r.busClient.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
