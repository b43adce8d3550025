package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/tollgate-ai/tollgate/internal/decision"
)

// maxBatchSize bounds one check-batch request.
const maxBatchSize = 100

// handleCheck runs one action through the decision pipeline.
func (d *Dependencies) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if err := req.validate(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResp{Detail: err.Error()})
		return
	}

	client := clientFromContext(r.Context())
	out, err := d.Orchestrator.Process(r.Context(), &req.Action, req.Context)
	if err != nil {
		d.Logger.Error("check failed",
			zap.String("client_id", client.ID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Internal error"})
		return
	}

	writeJSON(w, http.StatusOK, out)
}

// handleCheckBatch runs a batch of actions through the pipeline in order.
func (d *Dependencies) handleCheckBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchCheckRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if len(req.Items) == 0 {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResp{Detail: "Batch is empty"})
		return
	}
	if len(req.Items) > maxBatchSize {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResp{Detail: "Batch too large"})
		return
	}
	items := make([]decision.BatchItem, 0, len(req.Items))
	for i := range req.Items {
		if err := req.Items[i].validate(); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, ErrorResp{Detail: err.Error()})
			return
		}
		items = append(items, decision.BatchItem{
			Action:  &req.Items[i].Action,
			Context: req.Items[i].Context,
		})
	}

	client := clientFromContext(r.Context())
	outcomes, err := d.Orchestrator.ProcessBatch(r.Context(), items)
	if err != nil {
		d.Logger.Error("batch check failed",
			zap.String("client_id", client.ID),
			zap.Int("batch_size", len(items)),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Internal error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"outcomes": outcomes})
}
