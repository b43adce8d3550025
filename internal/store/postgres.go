package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tollgate-ai/tollgate/internal/action"
	"github.com/tollgate-ai/tollgate/internal/risk"
	"github.com/tollgate-ai/tollgate/internal/rules"
)

// PostgresStore implements Store and ClientStore on a PostgreSQL pool.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgresStore and ensures the schema exists.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("NewPostgresStore: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS approval_rules (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			priority    INT NOT NULL DEFAULT 0,
			enabled     BOOLEAN NOT NULL DEFAULT TRUE,
			conditions  JSONB NOT NULL DEFAULT '[]'::jsonb,
			disposition TEXT NOT NULL,
			reason      TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approval_rules_enabled
			ON approval_rules (enabled, priority DESC, created_at ASC)`,
		`CREATE TABLE IF NOT EXISTS pending_approvals (
			id         TEXT PRIMARY KEY,
			source     TEXT NOT NULL,
			risk_tier  TEXT NOT NULL,
			action     JSONB NOT NULL,
			queued_at  TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ,
			view_count INT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_approvals_expires
			ON pending_approvals (expires_at) WHERE expires_at IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS decision_history (
			id           TEXT PRIMARY KEY,
			source       TEXT NOT NULL,
			risk_tier    TEXT NOT NULL,
			action       JSONB NOT NULL,
			decision     JSONB NOT NULL,
			processed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decision_history_processed
			ON decision_history (processed_at DESC)`,
		`CREATE TABLE IF NOT EXISTS api_clients (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			key_hash   TEXT NOT NULL,
			key_prefix TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// --- Rules ---

const ruleColumns = `id, name, priority, enabled, conditions, disposition, reason, created_at, updated_at`

func (s *PostgresStore) GetEnabledRules(ctx context.Context) ([]rules.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM approval_rules
		WHERE enabled
		ORDER BY priority DESC, created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("GetEnabledRules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

func (s *PostgresStore) GetAllRules(ctx context.Context) ([]rules.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM approval_rules
		ORDER BY priority DESC, created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("GetAllRules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

func (s *PostgresStore) GetRule(ctx context.Context, id string) (*rules.Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+` FROM approval_rules WHERE id = $1`, id)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetRule: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) CreateRule(ctx context.Context, r *rules.Rule) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	conditions, err := json.Marshal(r.Conditions)
	if err != nil {
		return fmt.Errorf("CreateRule: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO approval_rules (id, name, priority, enabled, conditions, disposition, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		r.ID, r.Name, r.Priority, r.Enabled, conditions, string(r.Disposition), r.Reason,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("CreateRule: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRule(ctx context.Context, id string, params UpdateRuleParams) (*rules.Rule, error) {
	var conditions any
	if params.Conditions != nil {
		encoded, err := json.Marshal(*params.Conditions)
		if err != nil {
			return nil, fmt.Errorf("UpdateRule: %w", err)
		}
		conditions = encoded
	}
	var disposition any
	if params.Disposition != nil {
		disposition = string(*params.Disposition)
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE approval_rules SET
			name        = COALESCE($2, name),
			priority    = COALESCE($3, priority),
			enabled     = COALESCE($4, enabled),
			conditions  = COALESCE($5, conditions),
			disposition = COALESCE($6, disposition),
			reason      = COALESCE($7, reason),
			updated_at  = now()
		WHERE id = $1
		RETURNING `+ruleColumns,
		id, params.Name, params.Priority, params.Enabled, conditions, disposition, params.Reason)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("UpdateRule: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) DeleteRule(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM approval_rules WHERE id = $1`, id); err != nil {
		return fmt.Errorf("DeleteRule: %w", err)
	}
	return nil
}

func (s *PostgresStore) SeedDefaultRules(ctx context.Context, seed []rules.Rule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("SeedDefaultRules: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM approval_rules`).Scan(&count); err != nil {
		return fmt.Errorf("SeedDefaultRules: %w", err)
	}
	if count > 0 {
		return nil
	}

	for i := range seed {
		r := &seed[i]
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		conditions, err := json.Marshal(r.Conditions)
		if err != nil {
			return fmt.Errorf("SeedDefaultRules: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO approval_rules (id, name, priority, enabled, conditions, disposition, reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.ID, r.Name, r.Priority, r.Enabled, conditions, string(r.Disposition), r.Reason,
		); err != nil {
			return fmt.Errorf("SeedDefaultRules: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("SeedDefaultRules: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*rules.Rule, error) {
	var r rules.Rule
	var conditions []byte
	var disposition string
	if err := row.Scan(
		&r.ID, &r.Name, &r.Priority, &r.Enabled, &conditions,
		&disposition, &r.Reason, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(conditions, &r.Conditions); err != nil {
		return nil, fmt.Errorf("scanRule: conditions: %w", err)
	}
	r.Disposition = rules.Disposition(disposition)
	return &r, nil
}

func scanRules(rows *sql.Rows) ([]rules.Rule, error) {
	var out []rules.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanRules: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanRules: %w", err)
	}
	return out, nil
}

// --- Pending approvals ---

func (s *PostgresStore) AddPendingApproval(ctx context.Context, p *action.PendingApproval) error {
	actionJSON, err := json.Marshal(p.Action)
	if err != nil {
		return fmt.Errorf("AddPendingApproval: %w", err)
	}
	var expiresAt any
	if !p.ExpiresAt.IsZero() {
		expiresAt = p.ExpiresAt
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_approvals (id, source, risk_tier, action, queued_at, expires_at, view_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Source, string(p.RiskTier), actionJSON, p.QueuedAt, expiresAt, p.ViewCount,
	); err != nil {
		return fmt.Errorf("AddPendingApproval: %w", err)
	}
	return nil
}

const pendingColumns = `id, source, risk_tier, action, queued_at, expires_at, view_count`

func (s *PostgresStore) GetPendingApprovals(ctx context.Context) ([]action.PendingApproval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pendingColumns+` FROM pending_approvals ORDER BY queued_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("GetPendingApprovals: %w", err)
	}
	defer rows.Close()
	return scanPendings(rows)
}

func (s *PostgresStore) GetPendingApproval(ctx context.Context, id string) (*action.PendingApproval, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+pendingColumns+` FROM pending_approvals WHERE id = $1`, id)
	p, err := scanPending(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetPendingApproval: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) IncrementViewCount(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE pending_approvals SET view_count = view_count + 1 WHERE id = $1`, id); err != nil {
		return fmt.Errorf("IncrementViewCount: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetExpiredApprovals(ctx context.Context, now time.Time) ([]action.PendingApproval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pendingColumns+` FROM pending_approvals
		WHERE expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY queued_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("GetExpiredApprovals: %w", err)
	}
	defer rows.Close()
	return scanPendings(rows)
}

// FinalizePending deletes the pending row and appends history in one
// transaction, so a crash between the two steps cannot lose the outcome.
func (s *PostgresStore) FinalizePending(ctx context.Context, id string, entry *action.HistoryEntry) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("FinalizePending: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM pending_approvals WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("FinalizePending: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("FinalizePending: %w", err)
	}
	if deleted == 0 {
		return false, nil
	}

	if err := appendHistoryTx(ctx, tx, entry); err != nil {
		return false, fmt.Errorf("FinalizePending: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("FinalizePending: %w", err)
	}
	return true, nil
}

func scanPending(row rowScanner) (*action.PendingApproval, error) {
	var p action.PendingApproval
	var actionJSON []byte
	var riskTier string
	var expiresAt sql.NullTime
	if err := row.Scan(&p.ID, &p.Source, &riskTier, &actionJSON, &p.QueuedAt, &expiresAt, &p.ViewCount); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(actionJSON, &p.Action); err != nil {
		return nil, fmt.Errorf("scanPending: action: %w", err)
	}
	p.RiskTier = risk.Tier(riskTier)
	if expiresAt.Valid {
		p.ExpiresAt = expiresAt.Time
	}
	return &p, nil
}

func scanPendings(rows *sql.Rows) ([]action.PendingApproval, error) {
	var out []action.PendingApproval
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("scanPendings: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanPendings: %w", err)
	}
	return out, nil
}

// --- History ---

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func appendHistoryTx(ctx context.Context, ex execer, entry *action.HistoryEntry) error {
	actionJSON, err := json.Marshal(entry.Action)
	if err != nil {
		return err
	}
	decisionJSON, err := json.Marshal(entry.Decision)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO decision_history (id, source, risk_tier, action, decision, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.Source, string(entry.RiskTier), actionJSON, decisionJSON, entry.ProcessedAt)
	return err
}

func (s *PostgresStore) AppendHistory(ctx context.Context, entry *action.HistoryEntry) error {
	if err := appendHistoryTx(ctx, s.db, entry); err != nil {
		return fmt.Errorf("AppendHistory: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRecentHistory(ctx context.Context, limit int) ([]action.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, risk_tier, action, decision, processed_at
		FROM decision_history
		ORDER BY processed_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("GetRecentHistory: %w", err)
	}
	defer rows.Close()

	var out []action.HistoryEntry
	for rows.Next() {
		var e action.HistoryEntry
		var actionJSON, decisionJSON []byte
		var riskTier string
		if err := rows.Scan(&e.ID, &e.Source, &riskTier, &actionJSON, &decisionJSON, &e.ProcessedAt); err != nil {
			return nil, fmt.Errorf("GetRecentHistory: %w", err)
		}
		if err := json.Unmarshal(actionJSON, &e.Action); err != nil {
			return nil, fmt.Errorf("GetRecentHistory: action: %w", err)
		}
		if err := json.Unmarshal(decisionJSON, &e.Decision); err != nil {
			return nil, fmt.Errorf("GetRecentHistory: decision: %w", err)
		}
		e.RiskTier = risk.Tier(riskTier)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetRecentHistory: %w", err)
	}
	return out, nil
}
