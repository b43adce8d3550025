package api

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tollgate-ai/tollgate/internal/chread"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// handleListEvents returns filtered, paginated decision events from
// ClickHouse. Returns 503 when the analytics store is not configured.
func (d *Dependencies) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Event store not configured"})
		return
	}

	q := r.URL.Query()
	params := chread.ListEventsParams{
		Page:     1,
		PageSize: defaultPageSize,
	}
	if v := q.Get("disposition"); v != "" {
		params.Disposition = &v
	}
	if v := q.Get("method"); v != "" {
		params.Method = &v
	}
	if v := q.Get("risk_tier"); v != "" {
		params.RiskTier = &v
	}
	if v := q.Get("kind"); v != "" {
		params.Kind = &v
	}
	if v := q.Get("source"); v != "" {
		params.Source = &v
	}
	if v := q.Get("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, ErrorResp{Detail: "start_time must be RFC3339"})
			return
		}
		params.StartTime = &t
	}
	if v := q.Get("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, ErrorResp{Detail: "end_time must be RFC3339"})
			return
		}
		params.EndTime = &t
	}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusUnprocessableEntity, ErrorResp{Detail: "page must be a positive integer"})
			return
		}
		params.Page = n
	}
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			writeJSON(w, http.StatusUnprocessableEntity, ErrorResp{Detail: "page_size out of range"})
			return
		}
		params.PageSize = n
	}

	events, total, err := d.Reader.ListEvents(r.Context(), params)
	if err != nil {
		d.Logger.Error("list events failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Internal error"})
		return
	}

	resp := ListEventsResp{
		Events:   make([]EventResp, 0, len(events)),
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	}
	for i := range events {
		resp.Events = append(resp.Events, eventToResp(&events[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetEvent returns one decision event by request ID.
func (d *Dependencies) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Event store not configured"})
		return
	}
	requestID := r.PathValue("request_id")
	ev, err := d.Reader.GetEvent(r.Context(), requestID)
	if err != nil {
		d.Logger.Error("get event failed", zap.String("request_id", requestID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Internal error"})
		return
	}
	if ev == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Event not found"})
		return
	}
	writeJSON(w, http.StatusOK, eventToResp(ev))
}

// handleGetAnalytics returns aggregate decision analytics.
func (d *Dependencies) handleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Event store not configured"})
		return
	}
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 90 {
			writeJSON(w, http.StatusUnprocessableEntity, ErrorResp{Detail: "days must be between 1 and 90"})
			return
		}
		days = n
	}

	result, err := d.Reader.GetAnalytics(r.Context(), days)
	if err != nil {
		d.Logger.Error("get analytics failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Internal error"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func eventToResp(e *chread.EventRow) EventResp {
	return EventResp{
		RequestID:     e.RequestID,
		ActionID:      e.ActionID,
		Timestamp:     e.Timestamp,
		Kind:          e.Kind,
		Source:        e.Source,
		Description:   e.Description,
		ToolName:      e.ToolName,
		AgentID:       e.AgentID,
		ArgumentsJSON: e.ArgumentsJSON,
		RiskTier:      e.RiskTier,
		Disposition:   e.Disposition,
		Method:        e.Method,
		MatchedRuleID: e.MatchedRuleID,
		Reason:        e.Reason,
		IsDefault:     e.IsDefault == 1,
		LatencyMs:     e.LatencyMs,
	}
}
