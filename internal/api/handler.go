package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/finassist/internal/reindex"
	"github.com/kalambet/finassist/internal/retrieval"
	"github.com/kalambet/finassist/internal/router"
	"github.com/kalambet/finassist/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Asker answers one chat query.
type Asker interface {
	Route(ctx context.Context, query string) router.Result
}

// Reindexer rebuilds the document index.
type Reindexer interface {
	Run(ctx context.Context) reindex.Outcome
}

// IndexStatter reports on the current document index.
type IndexStatter interface {
	Stats(ctx context.Context) (retrieval.Stats, error)
}

type AppDeps struct {
	Router    Asker
	Reindexer Reindexer
	Index     IndexStatter
	Store     *storage.Store
	Token     string
}

// AskRequest is the body of POST /ask.
type AskRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
}

// AskResponse wraps the routed result with the session it was recorded in.
type AskResponse struct {
	SessionID string          `json:"session_id"`
	Result    json.RawMessage `json:"result"`
}

// IndexStatus is the body of GET /index. Either field is null when unknown.
type IndexStatus struct {
	Index   *retrieval.Stats    `json:"index"`
	LastRun *storage.ReindexRun `json:"last_run"`
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/ask", handleAsk(deps))
		r.Post("/reindex", handleReindex(deps))
		r.Get("/reindex/runs", handleListRuns(deps))
		r.Get("/history", handleListHistory(deps))
		r.Delete("/history/{session}", handleDeleteHistory(deps))
		r.Get("/index", handleIndexStatus(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleAsk(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required and must not be blank")
			return
		}
		if req.SessionID == "" {
			req.SessionID = uuid.NewString()
		}

		res := ask(r.Context(), deps.Router, deps.Store, req.SessionID, req.Query)

		body, err := json.Marshal(res)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to encode result: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, AskResponse{SessionID: req.SessionID, Result: body})
	}
}

// ask routes query and appends the exchange to the session history. History
// failures are logged and do not affect the answer.
func ask(ctx context.Context, rt Asker, store *storage.Store, session, query string) router.Result {
	if store != nil {
		if _, err := store.AppendTurn(ctx, storage.ChatTurn{SessionID: session, Role: storage.RoleYou, Content: query}); err != nil {
			slog.Warn("recording chat turn", "session", session, "error", err)
		}
	}

	res := rt.Route(ctx, query)

	if store != nil {
		turn := storage.ChatTurn{SessionID: session, Role: storage.RoleBot, Content: router.Content(res)}
		if res.Kind() == router.KindError {
			turn.Role = storage.RoleError
		}
		if payload, err := json.Marshal(res); err == nil {
			turn.Payload = string(payload)
		}
		if _, err := store.AppendTurn(ctx, turn); err != nil {
			slog.Warn("recording chat turn", "session", session, "error", err)
		}
	}
	return res
}

func handleReindex(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Reindexer == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "reindexing is not configured")
			return
		}
		out := deps.Reindexer.Run(r.Context())
		code := http.StatusOK
		if out.Status == reindex.StatusError {
			code = http.StatusBadGateway
		}
		writeJSON(w, code, out)
	}
}

func handleListRuns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		runs, err := deps.Store.ListRuns(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list reindex runs: %v", err)
			return
		}
		if runs == nil {
			runs = []storage.ReindexRun{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func handleListHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := r.URL.Query().Get("session_id")
		limit := parseIntParam(r, "limit", 50, 500)

		turns, err := deps.Store.ListTurns(r.Context(), session, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list history: %v", err)
			return
		}
		if turns == nil {
			turns = []storage.ChatTurn{}
		}
		writeJSON(w, http.StatusOK, turns)
	}
}

func handleDeleteHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := chi.URLParam(r, "session")

		n, err := deps.Store.DeleteSession(r.Context(), session)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete history: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "turns": n})
	}
}

func handleIndexStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var status IndexStatus

		if deps.Index != nil {
			stats, err := deps.Index.Stats(r.Context())
			switch {
			case errors.Is(err, retrieval.ErrNoIndex):
			case err != nil:
				httpError(w, http.StatusInternalServerError, "api_error", "failed to read index: %v", err)
				return
			default:
				status.Index = &stats
			}
		}

		run, err := deps.Store.LastRun(r.Context())
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read last reindex run: %v", err)
			return
		default:
			status.LastRun = &run
		}

		writeJSON(w, http.StatusOK, status)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
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
