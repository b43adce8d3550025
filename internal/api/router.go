// Package api is the HTTP surface of the decision engine: the authenticated
// check endpoints agents call, and the unauthenticated dashboard routes for
// approvals, rules, history, events and credentials.
package api

import (
	"net/http"
	"time"

	"github.com/tollgate-ai/tollgate/internal/chread"
	"github.com/tollgate-ai/tollgate/internal/decision"
	"github.com/tollgate-ai/tollgate/internal/queue"
	"github.com/tollgate-ai/tollgate/internal/store"
	"go.uber.org/zap"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Store        store.Store
	Clients      store.ClientStore
	Orchestrator *decision.Orchestrator
	Queue        *queue.Queue
	Reader       *chread.Reader // nil if ClickHouse unavailable
	Logger       *zap.Logger
	CacheTTL     time.Duration
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Check endpoints (auth required via Bearer agk_ token)
	mux.HandleFunc("POST /v1/actions/check", deps.authMiddleware(deps.handleCheck))
	mux.HandleFunc("POST /v1/actions/check-batch", deps.authMiddleware(deps.handleCheckBatch))

	// Approval queue (no auth — dashboard auth added later)
	mux.HandleFunc("GET /api/tollgate/approvals", deps.handleListApprovals)
	mux.HandleFunc("GET /api/tollgate/approvals/stats", deps.handleApprovalStats)
	mux.HandleFunc("GET /api/tollgate/approvals/{approval_id}", deps.handleGetApproval)
	mux.HandleFunc("POST /api/tollgate/approvals/{approval_id}/decide", deps.handleDecideApproval)

	// Rule CRUD (no auth)
	mux.HandleFunc("GET /api/tollgate/rules", deps.handleListRules)
	mux.HandleFunc("POST /api/tollgate/rules", deps.handleCreateRule)
	mux.HandleFunc("GET /api/tollgate/rules/{rule_id}", deps.handleGetRule)
	mux.HandleFunc("PATCH /api/tollgate/rules/{rule_id}", deps.handleUpdateRule)
	mux.HandleFunc("DELETE /api/tollgate/rules/{rule_id}", deps.handleDeleteRule)

	// History, events & analytics (no auth)
	mux.HandleFunc("GET /api/tollgate/history", deps.handleGetHistory)
	mux.HandleFunc("GET /api/tollgate/events", deps.handleListEvents)
	mux.HandleFunc("GET /api/tollgate/events/{request_id}", deps.handleGetEvent)
	mux.HandleFunc("GET /api/tollgate/analytics", deps.handleGetAnalytics)

	// Credentials (no auth)
	mux.HandleFunc("POST /api/tollgate/clients", deps.handleCreateClient)
	mux.HandleFunc("GET /api/tollgate/clients", deps.handleListClients)

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
