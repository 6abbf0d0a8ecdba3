// Package api exposes the read-only status surface: an HTTP API and an MCP
// server over the audit log and the committed state.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/feedsync/internal/report"
	"github.com/kalambet/feedsync/internal/storage"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 500
)

// Reader is the read side of the store.
type Reader interface {
	LoadState(ctx context.Context) (*storage.ProcessedState, error)
	RunHistory(ctx context.Context, q storage.HistoryQuery) ([]storage.RunRecord, error)
}

type StatusDeps struct {
	Store Reader
	Token string
}

// NewStatusHandler serves /health without authentication and /runs and
// /state behind the bearer token.
func NewStatusHandler(deps StatusDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Get("/runs", handleListRuns(deps))
		r.Get("/state", handleState(deps))
	})
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleListRuns(deps StatusDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := historyQuery(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		recs, err := deps.Store.RunHistory(r.Context(), q)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read run history: %v", err)
			return
		}
		if recs == nil {
			recs = []storage.RunRecord{}
		}
		writeJSON(w, recs)
	}
}

func handleState(deps StatusDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Store.LoadState(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load state: %v", err)
			return
		}
		writeJSON(w, report.NewStateView(st))
	}
}

func historyQuery(r *http.Request) (storage.HistoryQuery, error) {
	q := storage.HistoryQuery{
		Limit:     parseIntParam(r, "limit", defaultRunLimit, maxRunLimit),
		MessageID: r.URL.Query().Get("message_id"),
	}
	if s := r.URL.Query().Get("status"); s != "" {
		q.Status = storage.RunStatus(s)
		if !q.Status.Valid() {
			return q, fmt.Errorf("unknown status %q", s)
		}
	}
	return q, nil
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
