package api

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/tollgate-ai/tollgate/internal/action"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// handleGetHistory returns recent terminal decisions, newest first.
func (d *Dependencies) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusUnprocessableEntity, ErrorResp{Detail: "limit must be a positive integer"})
			return
		}
		if n > maxHistoryLimit {
			n = maxHistoryLimit
		}
		limit = n
	}

	history, err := d.Store.GetRecentHistory(r.Context(), limit)
	if err != nil {
		d.Logger.Error("get history failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Internal error"})
		return
	}
	if history == nil {
		history = []action.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}
