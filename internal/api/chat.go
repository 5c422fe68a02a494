package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/mira/internal/identity"
	"github.com/kalambet/mira/internal/storage"
	"github.com/kalambet/mira/internal/turn"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	defaultHistory     = 20
	maxHistory         = 200
)

// TurnRunner runs conversational turns.
type TurnRunner interface {
	Run(ctx context.Context, req turn.Request, emit func(turn.Event) error) error
	Interrupt(userID string) bool
}

type HistoryReader interface {
	History(ctx context.Context, userID string, limit int) ([]storage.Turn, error)
}

// Identity is the subset of the identity manager the handlers need.
type Identity interface {
	GetUser(ctx context.Context, id string) (identity.User, error)
	GetMasterConfig(ctx context.Context) (identity.MasterConfig, error)
	UpdateSettings(ctx context.Context, id string, patch identity.SettingsPatch) (identity.Settings, error)
}

type PointMigrator interface {
	Reown(ctx context.Context, from, to string, batch int) (int, error)
}

type ChatDeps struct {
	Turns    TurnRunner
	History  HistoryReader
	Identity Identity
	Migrator PointMigrator // optional; nil disables the migrate endpoint
	Tokens   TokenResolver
}

// NewChatHandler returns the client-facing HTTP API. Everything except
// /health requires a bearer token.
func NewChatHandler(deps ChatDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(TokenAuth(deps.Tokens))
		r.Post("/v1/chat", handleChat(deps))
		r.Get("/v1/chat/ws", handleChatWS(deps))
		r.Post("/v1/chat/interrupt", handleInterrupt(deps))
		r.Get("/v1/history", handleHistory(deps))
		r.Patch("/v1/settings", handlePatchSettings(deps))
		r.Post("/v1/admin/memory/migrate", handleMigrate(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type chatRequest struct {
	Message string `json:"message"`
}

func handleChat(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		// Headers go out with the first event so pre-stream failures can
		// still answer with a status code.
		started := false
		terminal := false
		emit := func(ev turn.Event) error {
			if !started {
				w.Header().Set("Content-Type", "text/event-stream")
				w.Header().Set("Cache-Control", "no-cache")
				w.Header().Set("Connection", "keep-alive")
				w.WriteHeader(http.StatusOK)
				started = true
			}
			if ev.Terminal() {
				terminal = true
			}
			b, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		}

		err := deps.Turns.Run(r.Context(), turn.Request{UserID: UserID(r.Context()), Message: req.Message}, emit)
		switch {
		case err == nil, terminal:
		case !started:
			code, typ := turnStatus(err)
			httpError(w, code, typ, "%s", publicMessage(err))
		case !cancelled(err):
			emit(turn.Event{Type: turn.EventError, Error: publicMessage(err)})
		}
	}
}

// turnStatus maps a turn error returned before streaming to an HTTP status.
func turnStatus(err error) (int, string) {
	switch {
	case errors.Is(err, turn.ErrUnauthenticated):
		return http.StatusUnauthorized, "authentication_error"
	case errors.Is(err, turn.ErrUserNotFound), errors.Is(err, turn.ErrMasterNotFound):
		return http.StatusNotFound, "not_found_error"
	case errors.Is(err, turn.ErrEmptyMessage):
		return http.StatusBadRequest, "invalid_request_error"
	case cancelled(err):
		return http.StatusConflict, "conflict_error"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

func publicMessage(err error) string {
	switch {
	case errors.Is(err, turn.ErrUnauthenticated):
		return "authentication required"
	case errors.Is(err, turn.ErrUserNotFound):
		return "user not found"
	case errors.Is(err, turn.ErrMasterNotFound):
		return "service is not configured yet"
	case errors.Is(err, turn.ErrEmptyMessage):
		return "message is required"
	case errors.Is(err, turn.ErrSuperseded):
		return "replaced by a newer message"
	case errors.Is(err, turn.ErrInterrupted):
		return "interrupted"
	default:
		return turn.MsgGeneric
	}
}

func cancelled(err error) bool {
	return errors.Is(err, turn.ErrSuperseded) || errors.Is(err, turn.ErrInterrupted) || errors.Is(err, context.Canceled)
}

func handleInterrupt(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stopped := deps.Turns.Interrupt(UserID(r.Context()))
		writeJSON(w, http.StatusOK, map[string]bool{"interrupted": stopped})
	}
}

type historyTurn struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

func handleHistory(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultHistory
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit")
				return
			}
			limit = min(n, maxHistory)
		}

		turns, err := deps.History.History(r.Context(), UserID(r.Context()), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load history: %v", err)
			return
		}
		out := make([]historyTurn, len(turns))
		for i, t := range turns {
			out[i] = historyTurn{ID: t.ID, Role: t.Role, Content: t.Content, CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339)}
		}
		writeJSON(w, http.StatusOK, map[string]any{"turns": out})
	}
}

func handlePatchSettings(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var patch identity.SettingsPatch
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&patch); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if patch.Timezone != nil && *patch.Timezone != "" {
			if _, err := time.LoadLocation(*patch.Timezone); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown timezone %q", *patch.Timezone)
				return
			}
		}

		s, err := deps.Identity.UpdateSettings(r.Context(), UserID(r.Context()), patch)
		if err != nil {
			if errors.Is(err, identity.ErrUserNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "user not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update settings: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

type migrateRequest struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Batch int    `json:"batch"`
}

func handleMigrate(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Migrator == nil {
			httpError(w, http.StatusNotFound, "not_found_error", "migration is not available")
			return
		}
		ctx := r.Context()
		u, err := deps.Identity.GetUser(ctx, UserID(ctx))
		if err != nil {
			httpError(w, http.StatusNotFound, "not_found_error", "user not found")
			return
		}
		mc, err := deps.Identity.GetMasterConfig(ctx)
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "service is not configured yet")
			return
		}
		if !identity.Derive(u, mc).IsAdmin {
			httpError(w, http.StatusForbidden, "permission_error", "admin access required")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()
		var req migrateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.From == "" || req.To == "" || req.From == req.To {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "from and to must be distinct user ids")
			return
		}

		moved, err := deps.Migrator.Reown(ctx, req.From, req.To, req.Batch)
		if err != nil {
			slog.Error("memory migration failed", "from", req.From, "to", req.To, "moved", moved, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "migration failed after %d points", moved)
			return
		}
		slog.Info("memory migrated", "from", req.From, "to", req.To, "moved", moved, "by", u.ID)
		writeJSON(w, http.StatusOK, map[string]int{"moved": moved})
	}
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
