package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tollgate-ai/tollgate/internal/action"
)

// handleListApprovals returns the pending queue, oldest first.
func (d *Dependencies) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := d.Queue.List(r.Context())
	if err != nil {
		d.Logger.Error("list approvals failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Internal error"})
		return
	}
	if pending == nil {
		pending = []action.PendingApproval{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": pending})
}

// handleGetApproval returns one pending approval and records the view.
func (d *Dependencies) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("approval_id")
	p, err := d.Queue.Get(r.Context(), id)
	if err != nil {
		d.Logger.Error("get approval failed", zap.String("approval_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Internal error"})
		return
	}
	if p == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Approval not found"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleApprovalStats summarizes the queue for the dashboard badge.
func (d *Dependencies) handleApprovalStats(w http.ResponseWriter, r *http.Request) {
	stats, err := d.Queue.Stats(r.Context(), time.Now())
	if err != nil {
		d.Logger.Error("approval stats failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Internal error"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleDecideApproval applies a manual decision to a queued approval.
func (d *Dependencies) handleDecideApproval(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("approval_id")

	var req DecideRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	disposition := action.DecisionDisposition(req.Disposition)
	switch disposition {
	case action.DecisionApprove, action.DecisionReject, action.DecisionModify:
	default:
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResp{Detail: "disposition must be approve, reject or modify"})
		return
	}
	if disposition == action.DecisionModify && req.ModifiedArguments == nil {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResp{Detail: "modify requires modified_arguments"})
		return
	}

	entry, err := d.Orchestrator.DecidePending(r.Context(), id, disposition, req.Reason, req.ModifiedArguments)
	if err != nil {
		d.Logger.Warn("decide approval failed",
			zap.String("approval_id", id),
			zap.String("disposition", req.Disposition),
			zap.Error(err),
		)
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResp{Detail: err.Error()})
		return
	}
	if entry == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Approval not found"})
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
