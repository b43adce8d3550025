package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tollgate-ai/tollgate/internal/action"
	"github.com/tollgate-ai/tollgate/internal/decision"
	"github.com/tollgate-ai/tollgate/internal/notify"
	"github.com/tollgate-ai/tollgate/internal/queue"
	"github.com/tollgate-ai/tollgate/internal/risk"
	"github.com/tollgate-ai/tollgate/internal/rules"
	"github.com/tollgate-ai/tollgate/internal/storage"
	"github.com/tollgate-ai/tollgate/internal/store"
	"github.com/tollgate-ai/tollgate/internal/validator"
)

type testServer struct {
	srv    *httptest.Server
	store  *store.MemoryStore
	apiKey string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.NewMemoryStore()
	logger := zap.NewNop()

	engine := rules.NewEngine(st, risk.NewScorer(), logger)
	q := queue.New(st, logger)
	orch := decision.NewOrchestrator(
		validator.NewPatternValidator(),
		engine,
		q,
		st,
		notify.NewLogNotifier(logger),
		storage.NewLogWriter(logger),
		nil,
		decision.Config{DefaultTimeout: time.Hour},
		logger,
	)

	_, key, err := st.CreateClient(context.Background(), "test-client")
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}

	handler := NewRouter(&Dependencies{
		Store:        st,
		Clients:      st,
		Orchestrator: orch,
		Queue:        q,
		Reader:       nil,
		Logger:       logger,
		CacheTTL:     time.Minute,
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: st, apiKey: key}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, out.Bytes()
}

func checkBody(toolName string, declared risk.Tier) map[string]any {
	return map[string]any{
		"action": map[string]any{
			"kind":          "tool_call",
			"description":   "call " + toolName,
			"declared_risk": string(declared),
			"tool": map[string]any{
				"server_id": "srv-1",
				"tool_name": toolName,
			},
		},
		"context": map[string]any{
			"trust_level": 100,
		},
	}
}

func TestCheckRequiresAuth(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, http.MethodPost, "/v1/actions/check", "", checkBody("ping", risk.TierLow))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status %d, want 401", resp.StatusCode)
	}

	resp, _ = ts.do(t, http.MethodPost, "/v1/actions/check", "agk_wrongwrongwrong", checkBody("ping", risk.TierLow))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad token: status %d, want 401", resp.StatusCode)
	}
}

func TestCheckReturnsDecisionOrPending(t *testing.T) {
	ts := newTestServer(t)

	// Low-risk call from fully trusted context: default auto-approve.
	resp, body := ts.do(t, http.MethodPost, "/v1/actions/check", ts.apiKey, checkBody("ping", risk.TierLow))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var out decision.Outcome
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Decision == nil || out.Decision.Disposition != action.DecisionApprove {
		t.Errorf("low-risk outcome = %s, want decision approve", body)
	}

	// High-risk call lands in the queue.
	resp, body = ts.do(t, http.MethodPost, "/v1/actions/check", ts.apiKey, checkBody("send_funds", risk.TierHigh))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Pending == nil {
		t.Errorf("high-risk outcome = %s, want pending", body)
	}
}

func TestCheckRejectsMalformedAction(t *testing.T) {
	ts := newTestServer(t)

	malformed := map[string]any{
		"action": map[string]any{
			"kind":        "tool_call",
			"description": "missing tool payload",
		},
	}
	resp, _ := ts.do(t, http.MethodPost, "/v1/actions/check", ts.apiKey, malformed)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status %d, want 422", resp.StatusCode)
	}
}

func TestApprovalFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	// Queue one approval.
	_, body := ts.do(t, http.MethodPost, "/v1/actions/check", ts.apiKey, checkBody("transfer_assets", risk.TierHigh))
	var out decision.Outcome
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Pending == nil {
		t.Fatalf("expected pending, got %s", body)
	}
	id := out.Pending.ID

	// It shows up in the list and stats.
	resp, body := ts.do(t, http.MethodGet, "/api/tollgate/approvals", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status %d", resp.StatusCode)
	}
	var list struct {
		Approvals []action.PendingApproval `json:"approvals"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Approvals) != 1 || list.Approvals[0].ID != id {
		t.Fatalf("list = %s", body)
	}

	resp, body = ts.do(t, http.MethodGet, "/api/tollgate/approvals/stats", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status %d", resp.StatusCode)
	}
	var stats queue.Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 1 {
		t.Errorf("stats total = %d, want 1", stats.Total)
	}

	// Fetching it bumps the view count.
	resp, body = ts.do(t, http.MethodGet, "/api/tollgate/approvals/"+id, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status %d", resp.StatusCode)
	}
	var got action.PendingApproval
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode approval: %v", err)
	}
	if got.ViewCount != 1 {
		t.Errorf("view count = %d, want 1", got.ViewCount)
	}

	// Approve it.
	resp, body = ts.do(t, http.MethodPost, "/api/tollgate/approvals/"+id+"/decide", "",
		DecideRequest{Disposition: "approve", Reason: "reviewed"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("decide status %d: %s", resp.StatusCode, body)
	}
	var entry action.HistoryEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry.Decision.Method != action.MethodManual {
		t.Errorf("method = %s, want manual", entry.Decision.Method)
	}

	// Deciding again is a 404.
	resp, _ = ts.do(t, http.MethodPost, "/api/tollgate/approvals/"+id+"/decide", "",
		DecideRequest{Disposition: "reject"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second decide status %d, want 404", resp.StatusCode)
	}

	// The decision is in history.
	resp, body = ts.do(t, http.MethodGet, "/api/tollgate/history", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status %d", resp.StatusCode)
	}
	var hist struct {
		History []action.HistoryEntry `json:"history"`
	}
	if err := json.Unmarshal(body, &hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.History) != 1 {
		t.Errorf("history = %d entries, want 1", len(hist.History))
	}
}

func TestRuleCRUDOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/tollgate/rules", "", CreateRuleRequest{
		Name:        "block prod deploys",
		Priority:    50,
		Conditions:  []rules.Condition{{Field: action.FieldMCPToolName, Operator: rules.OpContains, Value: "deploy"}},
		Disposition: rules.DispositionAutoReject,
		Reason:      "deploys need a runbook",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", resp.StatusCode, body)
	}
	var created rules.Rule
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode rule: %v", err)
	}
	if created.ID == "" || !created.Enabled {
		t.Errorf("created rule = %+v, want generated ID and enabled by default", created)
	}

	// Invalid disposition is rejected.
	resp, _ = ts.do(t, http.MethodPost, "/api/tollgate/rules", "", CreateRuleRequest{
		Name: "x", Disposition: rules.Disposition("allow"),
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("bad disposition status %d, want 422", resp.StatusCode)
	}

	// Patch priority only.
	newPriority := 99
	resp, body = ts.do(t, http.MethodPatch, "/api/tollgate/rules/"+created.ID, "",
		UpdateRuleRequest{Priority: &newPriority})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", resp.StatusCode, body)
	}
	var patched rules.Rule
	if err := json.Unmarshal(body, &patched); err != nil {
		t.Fatalf("decode patched: %v", err)
	}
	if patched.Priority != 99 || patched.Name != "block prod deploys" {
		t.Errorf("patched = %+v", patched)
	}

	// The rule takes effect on checks immediately.
	_, body = ts.do(t, http.MethodPost, "/v1/actions/check", ts.apiKey, checkBody("deploy_service", risk.TierLow))
	var out decision.Outcome
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if out.Decision == nil || out.Decision.Disposition != action.DecisionReject {
		t.Errorf("deploy check = %s, want reject via new rule", body)
	}
	if out.Decision != nil && out.Decision.MatchedRuleID != created.ID {
		t.Errorf("matched rule = %q, want %q", out.Decision.MatchedRuleID, created.ID)
	}

	// Delete, then 404.
	resp, _ = ts.do(t, http.MethodDelete, "/api/tollgate/rules/"+created.ID, "", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status %d, want 204", resp.StatusCode)
	}
	resp, _ = ts.do(t, http.MethodGet, "/api/tollgate/rules/"+created.ID, "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get deleted status %d, want 404", resp.StatusCode)
	}
}

func TestClientsOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/tollgate/clients", "", CreateClientRequest{Name: "ci"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", resp.StatusCode, body)
	}
	var created ClientResp
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode client: %v", err)
	}
	if created.APIKey == "" {
		t.Error("create response missing plaintext key")
	}

	// The new key authenticates checks.
	resp, _ = ts.do(t, http.MethodPost, "/v1/actions/check", created.APIKey, checkBody("ping", risk.TierLow))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("check with new key: status %d", resp.StatusCode)
	}

	// Listing never exposes keys.
	resp, body = ts.do(t, http.MethodGet, "/api/tollgate/clients", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status %d", resp.StatusCode)
	}
	var list struct {
		Clients []ClientResp `json:"clients"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	for _, c := range list.Clients {
		if c.APIKey != "" {
			t.Errorf("list leaked an api key for %s", c.ID)
		}
	}
}

func TestEventsUnavailableWithoutReader(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{
		"/api/tollgate/events",
		"/api/tollgate/events/some-id",
		"/api/tollgate/analytics",
	} {
		resp, _ := ts.do(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("GET %s status %d, want 503", path, resp.StatusCode)
		}
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}
	if want := `"status":"ok"`; !bytes.Contains(body, []byte(want)) {
		t.Errorf("healthz body %s does not contain %s", body, want)
	}
}

func TestBatchCheckOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	batch := map[string]any{
		"items": []any{
			checkBody("ping", risk.TierLow),
			checkBody("drain_wallet", risk.TierCritical),
		},
	}
	resp, body := ts.do(t, http.MethodPost, "/v1/actions/check-batch", ts.apiKey, batch)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Outcomes []decision.Outcome `json:"outcomes"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(out.Outcomes))
	}
	if out.Outcomes[0].Decision == nil || out.Outcomes[0].Decision.Disposition != action.DecisionApprove {
		t.Errorf("item 0 = %+v, want approve", out.Outcomes[0])
	}
	if out.Outcomes[1].Decision == nil || out.Outcomes[1].Decision.Disposition != action.DecisionReject {
		t.Errorf("item 1 = %+v, want reject", out.Outcomes[1])
	}

	// Empty batches are rejected.
	resp, _ = ts.do(t, http.MethodPost, "/v1/actions/check-batch", ts.apiKey, map[string]any{"items": []any{}})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("empty batch status %d, want 422", resp.StatusCode)
	}
}
