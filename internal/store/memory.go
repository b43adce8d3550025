package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tollgate-ai/tollgate/internal/action"
	"github.com/tollgate-ai/tollgate/internal/rules"
)

// MemoryStore is an in-memory Store and ClientStore used by tests and by
// the server when no Postgres DSN is configured.
type MemoryStore struct {
	mu      sync.Mutex
	rules   []rules.Rule
	pending []action.PendingApproval
	history []action.HistoryEntry
	clients []APIClient
	nowFunc func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nowFunc: time.Now}
}

// --- Rules ---

func (m *MemoryStore) GetEnabledRules(ctx context.Context) ([]rules.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []rules.Rule
	for _, r := range m.rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	sortRulesByPriority(out)
	return out, nil
}

func (m *MemoryStore) GetAllRules(ctx context.Context) ([]rules.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]rules.Rule, len(m.rules))
	copy(out, m.rules)
	sortRulesByPriority(out)
	return out, nil
}

func (m *MemoryStore) GetRule(ctx context.Context, id string) (*rules.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rules {
		if m.rules[i].ID == id {
			r := m.rules[i]
			return &r, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) CreateRule(ctx context.Context, r *rules.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := m.nowFunc()
	r.CreatedAt = now
	r.UpdatedAt = now
	m.rules = append(m.rules, *r)
	return nil
}

func (m *MemoryStore) UpdateRule(ctx context.Context, id string, params UpdateRuleParams) (*rules.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rules {
		if m.rules[i].ID != id {
			continue
		}
		r := &m.rules[i]
		if params.Name != nil {
			r.Name = *params.Name
		}
		if params.Priority != nil {
			r.Priority = *params.Priority
		}
		if params.Enabled != nil {
			r.Enabled = *params.Enabled
		}
		if params.Conditions != nil {
			r.Conditions = *params.Conditions
		}
		if params.Disposition != nil {
			r.Disposition = *params.Disposition
		}
		if params.Reason != nil {
			r.Reason = *params.Reason
		}
		r.UpdatedAt = m.nowFunc()
		out := *r
		return &out, nil
	}
	return nil, nil
}

func (m *MemoryStore) DeleteRule(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rules {
		if m.rules[i].ID == id {
			m.rules = append(m.rules[:i], m.rules[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) SeedDefaultRules(ctx context.Context, seed []rules.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rules) > 0 {
		return nil
	}
	now := m.nowFunc()
	for _, r := range seed {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		r.CreatedAt = now
		r.UpdatedAt = now
		m.rules = append(m.rules, r)
	}
	return nil
}

func sortRulesByPriority(rs []rules.Rule) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Priority != rs[j].Priority {
			return rs[i].Priority > rs[j].Priority
		}
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].ID < rs[j].ID
	})
}

// --- Pending approvals ---

func (m *MemoryStore) AddPendingApproval(ctx context.Context, p *action.PendingApproval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, *p)
	return nil
}

func (m *MemoryStore) GetPendingApprovals(ctx context.Context) ([]action.PendingApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]action.PendingApproval, len(m.pending))
	copy(out, m.pending)
	sort.SliceStable(out, func(i, j int) bool { return out[i].QueuedAt.Before(out[j].QueuedAt) })
	return out, nil
}

func (m *MemoryStore) GetPendingApproval(ctx context.Context, id string) (*action.PendingApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.pending {
		if m.pending[i].ID == id {
			p := m.pending[i]
			return &p, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) IncrementViewCount(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.pending {
		if m.pending[i].ID == id {
			m.pending[i].ViewCount++
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) GetExpiredApprovals(ctx context.Context, now time.Time) ([]action.PendingApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []action.PendingApproval
	for _, p := range m.pending {
		if p.Expired(now) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].QueuedAt.Before(out[j].QueuedAt) })
	return out, nil
}

func (m *MemoryStore) FinalizePending(ctx context.Context, id string, entry *action.HistoryEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.pending {
		if m.pending[i].ID != id {
			continue
		}
		m.pending = append(m.pending[:i], m.pending[i+1:]...)
		m.history = append(m.history, *entry)
		return true, nil
	}
	return false, nil
}

// --- History ---

func (m *MemoryStore) AppendHistory(ctx context.Context, entry *action.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, *entry)
	return nil
}

func (m *MemoryStore) GetRecentHistory(ctx context.Context, limit int) ([]action.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]action.HistoryEntry, len(m.history))
	copy(out, m.history)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ProcessedAt.After(out[j].ProcessedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Clients ---

func (m *MemoryStore) CreateClient(ctx context.Context, name string) (*APIClient, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := APIClient{
		ID:        uuid.New().String(),
		Name:      name,
		KeyHash:   keyHash,
		KeyPrefix: keyPrefix,
		CreatedAt: m.nowFunc(),
	}
	m.clients = append(m.clients, c)
	return &c, fullKey, nil
}

func (m *MemoryStore) ListClients(ctx context.Context) ([]APIClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]APIClient, len(m.clients))
	copy(out, m.clients)
	return out, nil
}

func (m *MemoryStore) LookupClientByPrefix(ctx context.Context, prefix string) (*APIClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.clients {
		if m.clients[i].KeyPrefix == prefix {
			c := m.clients[i]
			return &c, nil
		}
	}
	return nil, nil
}
