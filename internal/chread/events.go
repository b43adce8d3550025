package chread

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse decision_events table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// EventRow represents a single row from the decision_events table.
type EventRow struct {
	RequestID     string
	ActionID      string
	Timestamp     time.Time
	Kind          string
	Source        string
	Description   string
	ToolName      string
	AgentID       string
	ArgumentsJSON string
	RiskTier      string
	Disposition   string
	Method        string
	MatchedRuleID string
	Reason        string
	IsDefault     uint8
	LatencyMs     float32
}

// ListEventsParams holds filters and pagination for event listing.
type ListEventsParams struct {
	Disposition *string
	Method      *string
	RiskTier    *string
	Kind        *string
	Source      *string
	StartTime   *time.Time
	EndTime     *time.Time
	Page        int
	PageSize    int
}

const eventColumns = "request_id, action_id, timestamp, kind, source, " +
	"description, tool_name, agent_id, arguments_json, " +
	"risk_tier, disposition, method, matched_rule_id, reason, is_default, latency_ms"

func scanEvent(row driver.Row) (*EventRow, error) {
	var e EventRow
	if err := row.Scan(
		&e.RequestID, &e.ActionID, &e.Timestamp, &e.Kind, &e.Source,
		&e.Description, &e.ToolName, &e.AgentID, &e.ArgumentsJSON,
		&e.RiskTier, &e.Disposition, &e.Method, &e.MatchedRuleID, &e.Reason,
		&e.IsDefault, &e.LatencyMs,
	); err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEvents returns paginated, filtered decision events and the total count.
func (r *Reader) ListEvents(ctx context.Context, params ListEventsParams) ([]EventRow, int, error) {
	conditions := []string{"1 = 1"}
	var args []any

	if params.Disposition != nil {
		conditions = append(conditions, "disposition = @disposition")
		args = append(args, clickhouse.Named("disposition", *params.Disposition))
	}
	if params.Method != nil {
		conditions = append(conditions, "method = @method")
		args = append(args, clickhouse.Named("method", *params.Method))
	}
	if params.RiskTier != nil {
		conditions = append(conditions, "risk_tier = @risk_tier")
		args = append(args, clickhouse.Named("risk_tier", *params.RiskTier))
	}
	if params.Kind != nil {
		conditions = append(conditions, "kind = @kind")
		args = append(args, clickhouse.Named("kind", *params.Kind))
	}
	if params.Source != nil {
		conditions = append(conditions, "source = @source")
		args = append(args, clickhouse.Named("source", *params.Source))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *params.StartTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *params.EndTime))
	}

	where := strings.Join(conditions, " AND ")
	offset := (params.Page - 1) * params.PageSize

	// Count query
	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM decision_events WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListEvents count: %w", err)
	}

	// Data query
	dataQuery := fmt.Sprintf(
		"SELECT "+eventColumns+" FROM decision_events WHERE %s "+
			"ORDER BY timestamp DESC "+
			"LIMIT @limit OFFSET @offset",
		where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(offset)),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListEvents query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.RequestID, &e.ActionID, &e.Timestamp, &e.Kind, &e.Source,
			&e.Description, &e.ToolName, &e.AgentID, &e.ArgumentsJSON,
			&e.RiskTier, &e.Disposition, &e.Method, &e.MatchedRuleID, &e.Reason,
			&e.IsDefault, &e.LatencyMs,
		); err != nil {
			return nil, 0, fmt.Errorf("ListEvents scan: %w", err)
		}
		events = append(events, e)
	}

	return events, int(total), rows.Err()
}

// GetEvent returns a single event by request ID, or nil if not found.
func (r *Reader) GetEvent(ctx context.Context, requestID string) (*EventRow, error) {
	row := r.conn.QueryRow(ctx,
		"SELECT "+eventColumns+" FROM decision_events WHERE request_id = @request_id",
		clickhouse.Named("request_id", requestID),
	)

	e, err := scanEvent(row)
	if err != nil {
		// ClickHouse doesn't return sql.ErrNoRows, so check for empty result
		return nil, fmt.Errorf("GetEvent: %w", err)
	}
	if e.RequestID == "" {
		return nil, nil
	}
	return e, nil
}

// SummaryStats holds aggregate counts.
type SummaryStats struct {
	TotalDecisions int `json:"total_decisions"`
	Approvals      int `json:"approvals"`
	Rejections     int `json:"rejections"`
	Modifications  int `json:"modifications"`
	ManualReviews  int `json:"manual_reviews"`
}

// TimeSeriesBucket holds an hourly count.
type TimeSeriesBucket struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// TierCount holds a risk tier and its count.
type TierCount struct {
	RiskTier string `json:"risk_tier"`
	Count    int    `json:"count"`
}

// RuleCount holds a rule ID and its match count.
type RuleCount struct {
	RuleID string `json:"rule_id"`
	Count  int    `json:"count"`
}

// LatencyStats holds latency percentiles.
type LatencyStats struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// AnalyticsResult holds all analytics aggregations.
type AnalyticsResult struct {
	Summary            SummaryStats       `json:"summary"`
	RejectionsOverTime []TimeSeriesBucket `json:"rejections_over_time"`
	ByRiskTier         []TierCount        `json:"by_risk_tier"`
	TopMatchedRules    []RuleCount        `json:"top_matched_rules"`
	LatencyPercentiles LatencyStats       `json:"latency_percentiles"`
}

// GetAnalytics returns aggregated decision analytics over the given number of days.
func (r *Reader) GetAnalytics(ctx context.Context, days int) (*AnalyticsResult, error) {
	now := time.Now().UTC()
	rangeStart := now.Add(-time.Duration(days) * 24 * time.Hour)
	dayStart := now.Add(-24 * time.Hour)

	baseArgs := []any{
		clickhouse.Named("range_start", rangeStart),
	}

	result := &AnalyticsResult{}

	// Summary counts
	var total, approvals, rejections, modifications, manual uint64
	err := r.conn.QueryRow(ctx,
		"SELECT count() as total, "+
			"countIf(disposition = 'approve') as approvals, "+
			"countIf(disposition = 'reject') as rejections, "+
			"countIf(disposition = 'modify') as modifications, "+
			"countIf(method = 'manual') as manual "+
			"FROM decision_events "+
			"WHERE timestamp >= @range_start",
		baseArgs...,
	).Scan(&total, &approvals, &rejections, &modifications, &manual)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics summary: %w", err)
	}
	result.Summary = SummaryStats{
		TotalDecisions: int(total),
		Approvals:      int(approvals),
		Rejections:     int(rejections),
		Modifications:  int(modifications),
		ManualReviews:  int(manual),
	}

	// Rejections over time (hourly)
	rotRows, err := r.conn.Query(ctx,
		"SELECT toStartOfHour(timestamp) as hour, count() as count "+
			"FROM decision_events "+
			"WHERE disposition = 'reject' AND timestamp >= @range_start "+
			"GROUP BY hour ORDER BY hour",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics rejections_over_time: %w", err)
	}
	defer func() { _ = rotRows.Close() }()
	for rotRows.Next() {
		var hour time.Time
		var count uint64
		if err := rotRows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics rejections_over_time scan: %w", err)
		}
		result.RejectionsOverTime = append(result.RejectionsOverTime, TimeSeriesBucket{
			Hour:  hour.Format(time.RFC3339),
			Count: int(count),
		})
	}

	// Decisions by risk tier
	tierRows, err := r.conn.Query(ctx,
		"SELECT risk_tier, count() as count "+
			"FROM decision_events "+
			"WHERE timestamp >= @range_start "+
			"GROUP BY risk_tier ORDER BY count DESC",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics by_risk_tier: %w", err)
	}
	defer func() { _ = tierRows.Close() }()
	for tierRows.Next() {
		var tier string
		var count uint64
		if err := tierRows.Scan(&tier, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics by_risk_tier scan: %w", err)
		}
		result.ByRiskTier = append(result.ByRiskTier, TierCount{
			RiskTier: tier, Count: int(count),
		})
	}

	// Top matched rules
	ruleRows, err := r.conn.Query(ctx,
		"SELECT matched_rule_id, count() as count "+
			"FROM decision_events "+
			"WHERE matched_rule_id != '' AND timestamp >= @range_start "+
			"GROUP BY matched_rule_id ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_rules: %w", err)
	}
	defer func() { _ = ruleRows.Close() }()
	for ruleRows.Next() {
		var ruleID string
		var count uint64
		if err := ruleRows.Scan(&ruleID, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_rules scan: %w", err)
		}
		result.TopMatchedRules = append(result.TopMatchedRules, RuleCount{
			RuleID: ruleID, Count: int(count),
		})
	}

	// Latency percentiles (last 24h)
	var p50, p95, p99 float64
	err = r.conn.QueryRow(ctx,
		"SELECT quantile(0.5)(latency_ms) as p50, "+
			"quantile(0.95)(latency_ms) as p95, "+
			"quantile(0.99)(latency_ms) as p99 "+
			"FROM decision_events "+
			"WHERE timestamp >= @day_start",
		clickhouse.Named("day_start", dayStart),
	).Scan(&p50, &p95, &p99)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics latency: %w", err)
	}
	result.LatencyPercentiles = LatencyStats{
		P50: safeFloat(p50), P95: safeFloat(p95), P99: safeFloat(p99),
	}

	// Ensure slices are non-nil for JSON serialization
	if result.RejectionsOverTime == nil {
		result.RejectionsOverTime = []TimeSeriesBucket{}
	}
	if result.ByRiskTier == nil {
		result.ByRiskTier = []TierCount{}
	}
	if result.TopMatchedRules == nil {
		result.TopMatchedRules = []RuleCount{}
	}

	return result, nil
}

// safeFloat replaces NaN/Inf with 0.0.
// ClickHouse returns NaN for quantile() on empty result sets.
func safeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0.0
	}
	return f
}
