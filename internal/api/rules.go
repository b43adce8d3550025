package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/tollgate-ai/tollgate/internal/rules"
	"github.com/tollgate-ai/tollgate/internal/store"
)

func (d *Dependencies) handleListRules(w http.ResponseWriter, r *http.Request) {
	all, err := d.Store.GetAllRules(r.Context())
	if err != nil {
		d.Logger.Error("list rules failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Internal error"})
		return
	}
	if all == nil {
		all = []rules.Rule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": all})
}

func (d *Dependencies) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResp{Detail: "name is required"})
		return
	}
	if !req.Disposition.Valid() {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResp{Detail: "disposition must be auto_approve, auto_reject or require_approval"})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	rule := &rules.Rule{
		Name:        req.Name,
		Priority:    req.Priority,
		Enabled:     enabled,
		Conditions:  req.Conditions,
		Disposition: req.Disposition,
		Reason:      req.Reason,
	}
	if err := d.Store.CreateRule(r.Context(), rule); err != nil {
		d.Logger.Error("create rule failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Internal error"})
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (d *Dependencies) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("rule_id")
	rule, err := d.Store.GetRule(r.Context(), id)
	if err != nil {
		d.Logger.Error("get rule failed", zap.String("rule_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Internal error"})
		return
	}
	if rule == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Rule not found"})
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (d *Dependencies) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("rule_id")

	var req UpdateRuleRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Disposition != nil && !req.Disposition.Valid() {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResp{Detail: "disposition must be auto_approve, auto_reject or require_approval"})
		return
	}

	rule, err := d.Store.UpdateRule(r.Context(), id, store.UpdateRuleParams{
		Name:        req.Name,
		Priority:    req.Priority,
		Enabled:     req.Enabled,
		Conditions:  req.Conditions,
		Disposition: req.Disposition,
		Reason:      req.Reason,
	})
	if err != nil {
		d.Logger.Error("update rule failed", zap.String("rule_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Internal error"})
		return
	}
	if rule == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Rule not found"})
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (d *Dependencies) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("rule_id")
	rule, err := d.Store.GetRule(r.Context(), id)
	if err != nil {
		d.Logger.Error("delete rule failed", zap.String("rule_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Internal error"})
		return
	}
	if rule == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Rule not found"})
		return
	}
	if err := d.Store.DeleteRule(r.Context(), id); err != nil {
		d.Logger.Error("delete rule failed", zap.String("rule_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Internal error"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
