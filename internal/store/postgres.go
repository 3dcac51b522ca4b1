package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/btcintel/internal/metrics"
	"github.com/ajitpratap0/btcintel/internal/models"
)

// Pool is the subset of pgxpool.Pool the store uses, satisfied by pgxmock
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool Pool
	log  zerolog.Logger
}

// NewPostgres connects a pool, verifies connectivity, and bootstraps the
// schema.
func NewPostgres(ctx context.Context, dsn string, poolSize int, log zerolog.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse DSN: %v", models.ErrStore, err)
	}
	if poolSize > 0 {
		cfg.MaxConns = int32(poolSize)
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create connection pool: %v", models.ErrStore, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %v", models.ErrStore, err)
	}

	p := &Postgres{pool: pool, log: log.With().Str("component", "store").Logger()}
	if err := p.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	p.log.Info().Msg("Database connection pool created")
	return p, nil
}

// NewPostgresWithPool wraps an existing pool without schema bootstrap.
// Tests use it with pgxmock.
func NewPostgresWithPool(pool Pool, log zerolog.Logger) *Postgres {
	return &Postgres{pool: pool, log: log.With().Str("component", "store").Logger()}
}

// signalTable maps a source kind to its per-kind log table.
func signalTable(kind models.SourceKind) string {
	return "signals_" + strings.ToLower(string(kind))
}

// EnsureSchema creates every table the store writes.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS portfolio (
			id INT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			btc DOUBLE PRECISION NOT NULL,
			usd DOUBLE PRECISION NOT NULL,
			total_value_usd DOUBLE PRECISION NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS portfolio_history (
			id BIGSERIAL PRIMARY KEY,
			btc DOUBLE PRECISION NOT NULL,
			usd DOUBLE PRECISION NOT NULL,
			total_value_usd DOUBLE PRECISION NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS market_data (
			id BIGSERIAL PRIMARY KEY,
			price_usd DOUBLE PRECISION NOT NULL,
			volume_24h DOUBLE PRECISION NOT NULL,
			change_24h DOUBLE PRECISION NOT NULL,
			fear_greed INT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agent_executions (
			id BIGSERIAL PRIMARY KEY,
			agent_id TEXT NOT NULL,
			type TEXT NOT NULL,
			inputs JSONB,
			outputs JSONB,
			success BOOLEAN NOT NULL,
			duration_ms BIGINT NOT NULL,
			error TEXT,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agent_decisions (
			id UUID PRIMARY KEY,
			agent_id TEXT NOT NULL,
			cycle_id TEXT NOT NULL,
			type TEXT NOT NULL,
			decision JSONB NOT NULL,
			success BOOLEAN NOT NULL,
			quality_score DOUBLE PRECISION NOT NULL,
			duration_ms BIGINT NOT NULL,
			error TEXT,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS source_metrics (
			name TEXT PRIMARY KEY,
			success_rate DOUBLE PRECISION NOT NULL,
			avg_signal_quality DOUBLE PRECISION NOT NULL,
			total_calls BIGINT NOT NULL,
			successful_calls BIGINT NOT NULL,
			signals_generated BIGINT NOT NULL,
			last_used_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id UUID PRIMARY KEY,
			cycle_id TEXT NOT NULL,
			side TEXT NOT NULL,
			btc DOUBLE PRECISION NOT NULL,
			price_usd DOUBLE PRECISION NOT NULL,
			value_usd DOUBLE PRECISION NOT NULL,
			reason TEXT,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cycle_summaries (
			cycle_id TEXT PRIMARY KEY,
			system_efficiency DOUBLE PRECISION NOT NULL,
			strategic_alignment DOUBLE PRECISION NOT NULL,
			adaptation_capacity DOUBLE PRECISION NOT NULL,
			decisions INT NOT NULL,
			successes INT NOT NULL,
			learning_rate DOUBLE PRECISION NOT NULL,
			duration_ms BIGINT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agent_states (
			agent_id TEXT PRIMARY KEY,
			autonomy DOUBLE PRECISION NOT NULL,
			reputation DOUBLE PRECISION NOT NULL,
			goal_progress DOUBLE PRECISION NOT NULL,
			adaptations INT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, kind := range models.AllSourceKinds() {
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			label TEXT NOT NULL,
			severity TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			targets TEXT[] NOT NULL,
			payload JSONB,
			recorded_at TIMESTAMPTZ NOT NULL
		)`, signalTable(kind)))
	}

	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: schema bootstrap: %v", models.ErrStore, err)
		}
	}
	return nil
}

func (p *Postgres) ReadPortfolio(ctx context.Context) (models.Portfolio, error) {
	defer track("read_portfolio")()
	var pf models.Portfolio
	err := p.pool.QueryRow(ctx,
		`SELECT btc, usd, total_value_usd, updated_at FROM portfolio WHERE id = 1`,
	).Scan(&pf.BTC, &pf.USD, &pf.TotalValueUSD, &pf.UpdatedAt)
	if err == pgx.ErrNoRows {
		return models.Portfolio{}, nil
	}
	if err != nil {
		return models.Portfolio{}, fmt.Errorf("%w: read portfolio: %v", models.ErrStore, err)
	}
	return pf, nil
}

func (p *Postgres) WritePortfolio(ctx context.Context, pf models.Portfolio) error {
	defer track("write_portfolio")()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO portfolio (id, btc, usd, total_value_usd, updated_at)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			btc = EXCLUDED.btc,
			usd = EXCLUDED.usd,
			total_value_usd = EXCLUDED.total_value_usd,
			updated_at = EXCLUDED.updated_at`,
		pf.BTC, pf.USD, pf.TotalValueUSD, pf.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: write portfolio: %v", models.ErrStore, err)
	}
	return nil
}

func (p *Postgres) AppendPortfolioSnapshot(ctx context.Context, pf models.Portfolio) error {
	defer track("append_portfolio_snapshot")()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO portfolio_history (btc, usd, total_value_usd, recorded_at)
		VALUES ($1, $2, $3, $4)`,
		pf.BTC, pf.USD, pf.TotalValueUSD, pf.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: append portfolio snapshot: %v", models.ErrStore, err)
	}
	return nil
}

func (p *Postgres) AppendMarketSnapshot(ctx context.Context, s models.MarketSnapshot) error {
	defer track("append_market_snapshot")()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO market_data (price_usd, volume_24h, change_24h, fear_greed, recorded_at)
		VALUES ($1, $2, $3, $4, $5)`,
		s.PriceUSD, s.Volume24h, s.Change24h, s.FearGreed, s.At)
	if err != nil {
		return fmt.Errorf("%w: append market snapshot: %v", models.ErrStore, err)
	}
	return nil
}

func (p *Postgres) LatestMarketSnapshot(ctx context.Context) (models.MarketSnapshot, error) {
	defer track("latest_market_snapshot")()
	var s models.MarketSnapshot
	err := p.pool.QueryRow(ctx, `
		SELECT price_usd, volume_24h, change_24h, fear_greed, recorded_at
		FROM market_data ORDER BY id DESC LIMIT 1`,
	).Scan(&s.PriceUSD, &s.Volume24h, &s.Change24h, &s.FearGreed, &s.At)
	if err == pgx.ErrNoRows {
		return models.MarketSnapshot{}, nil
	}
	if err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("%w: latest market snapshot: %v", models.ErrStore, err)
	}
	return s, nil
}

func (p *Postgres) AppendAgentExecution(ctx context.Context, e models.AgentExecution) error {
	defer track("append_agent_execution")()
	inputs, _ := json.Marshal(e.Inputs)
	outputs, _ := json.Marshal(e.Outputs)
	_, err := p.pool.Exec(ctx, `
		INSERT INTO agent_executions (agent_id, type, inputs, outputs, success, duration_ms, error, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.AgentID, e.Type, inputs, outputs, e.Success, e.DurationMS, e.Error, e.At)
	if err != nil {
		return fmt.Errorf("%w: append agent execution: %v", models.ErrStore, err)
	}
	return nil
}

func (p *Postgres) ListAgentExecutions(ctx context.Context, agentID models.AgentID, limit int) ([]models.AgentExecution, error) {
	defer track("list_agent_executions")()
	query := `
		SELECT agent_id, type, inputs, outputs, success, duration_ms, error, recorded_at
		FROM agent_executions`
	args := []any{}
	if agentID != "" {
		query += ` WHERE agent_id = $1`
		args = append(args, agentID)
	}
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT %d`, limit)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list agent executions: %v", models.ErrStore, err)
	}
	defer rows.Close()

	var out []models.AgentExecution
	for rows.Next() {
		var e models.AgentExecution
		var inputs, outputs []byte
		if err := rows.Scan(&e.AgentID, &e.Type, &inputs, &outputs, &e.Success, &e.DurationMS, &e.Error, &e.At); err != nil {
			return nil, fmt.Errorf("%w: scan agent execution: %v", models.ErrStore, err)
		}
		if len(inputs) > 0 {
			_ = json.Unmarshal(inputs, &e.Inputs)
		}
		if len(outputs) > 0 {
			_ = json.Unmarshal(outputs, &e.Outputs)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list agent executions: %v", models.ErrStore, err)
	}
	return out, nil
}

// AppendDecision writes the decision and its execution result in one
// transaction so the log never holds a decision without its outcome.
func (p *Postgres) AppendDecision(ctx context.Context, d models.Decision, r models.ExecutionResult) error {
	defer track("append_decision")()
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin decision tx: %v", models.ErrStore, err)
	}
	defer tx.Rollback(ctx)

	decisionJSON, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("%w: marshal decision: %v", models.ErrStore, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO agent_decisions (id, agent_id, cycle_id, type, decision, success, quality_score, duration_ms, error, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.AgentID, d.CycleID, d.Type, decisionJSON,
		r.Success, r.Quality, r.DurationMS, r.Error, r.At)
	if err != nil {
		return fmt.Errorf("%w: insert decision: %v", models.ErrStore, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit decision tx: %v", models.ErrStore, err)
	}
	return nil
}

func (p *Postgres) AppendSignal(ctx context.Context, sig models.Signal) error {
	defer track("append_signal")()
	targets := make([]string, len(sig.Targets))
	for i, t := range sig.Targets {
		targets[i] = string(t)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (label, severity, confidence, targets, payload, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, signalTable(sig.Kind))
	_, err := p.pool.Exec(ctx, query,
		sig.Label, sig.Severity, sig.Confidence, targets, []byte(sig.Payload), sig.At)
	if err != nil {
		return fmt.Errorf("%w: append %s signal: %v", models.ErrStore, sig.Kind, err)
	}
	return nil
}

func (p *Postgres) ReadSourceMetrics(ctx context.Context) (map[models.SourceKind]models.SourceMetric, error) {
	defer track("read_source_metrics")()
	rows, err := p.pool.Query(ctx, `
		SELECT name, success_rate, avg_signal_quality, total_calls, successful_calls, signals_generated, last_used_at
		FROM source_metrics`)
	if err != nil {
		return nil, fmt.Errorf("%w: read source metrics: %v", models.ErrStore, err)
	}
	defer rows.Close()

	out := make(map[models.SourceKind]models.SourceMetric)
	for rows.Next() {
		var m models.SourceMetric
		if err := rows.Scan(&m.Name, &m.SuccessRate, &m.AvgSignalQuality,
			&m.TotalCalls, &m.SuccessfulCalls, &m.SignalsGenerated, &m.LastUsedAt); err != nil {
			return nil, fmt.Errorf("%w: scan source metric: %v", models.ErrStore, err)
		}
		out[m.Name] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read source metrics: %v", models.ErrStore, err)
	}
	return out, nil
}

func (p *Postgres) WriteSourceMetrics(ctx context.Context, metricsByKind map[models.SourceKind]models.SourceMetric) error {
	defer track("write_source_metrics")()
	for _, m := range metricsByKind {
		_, err := p.pool.Exec(ctx, `
			INSERT INTO source_metrics (name, success_rate, avg_signal_quality, total_calls, successful_calls, signals_generated, last_used_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (name) DO UPDATE SET
				success_rate = EXCLUDED.success_rate,
				avg_signal_quality = EXCLUDED.avg_signal_quality,
				total_calls = EXCLUDED.total_calls,
				successful_calls = EXCLUDED.successful_calls,
				signals_generated = EXCLUDED.signals_generated,
				last_used_at = EXCLUDED.last_used_at`,
			m.Name, m.SuccessRate, m.AvgSignalQuality,
			m.TotalCalls, m.SuccessfulCalls, m.SignalsGenerated, m.LastUsedAt)
		if err != nil {
			return fmt.Errorf("%w: write source metric %s: %v", models.ErrStore, m.Name, err)
		}
	}
	return nil
}

func (p *Postgres) AppendTrade(ctx context.Context, t models.Trade) error {
	defer track("append_trade")()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO trades (id, cycle_id, side, btc, price_usd, value_usd, reason, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.CycleID, t.Side, t.BTC, t.PriceUSD, t.ValueUSD, t.Reason, t.At)
	if err != nil {
		return fmt.Errorf("%w: append trade: %v", models.ErrStore, err)
	}
	return nil
}

func (p *Postgres) ListRecentTrades(ctx context.Context, limit int) ([]models.Trade, error) {
	defer track("list_recent_trades")()
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, cycle_id, side, btc, price_usd, value_usd, reason, recorded_at
		FROM trades ORDER BY recorded_at DESC LIMIT %d`, limit))
	if err != nil {
		return nil, fmt.Errorf("%w: list recent trades: %v", models.ErrStore, err)
	}
	defer rows.Close()

	var out []models.Trade
	for rows.Next() {
		var t models.Trade
		if err := rows.Scan(&t.ID, &t.CycleID, &t.Side, &t.BTC, &t.PriceUSD, &t.ValueUSD, &t.Reason, &t.At); err != nil {
			return nil, fmt.Errorf("%w: scan trade: %v", models.ErrStore, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list recent trades: %v", models.ErrStore, err)
	}
	return out, nil
}

func (p *Postgres) ReadPerformanceMetrics(ctx context.Context) (models.PerformanceMetrics, error) {
	defer track("read_performance_metrics")()
	var pm models.PerformanceMetrics
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE side = 'BUY'),
		       COUNT(*) FILTER (WHERE side = 'SELL'),
		       COALESCE(SUM(value_usd), 0),
		       COALESCE(MAX(recorded_at), 'epoch'::timestamptz)
		FROM trades`,
	).Scan(&pm.TotalTrades, &pm.BuyTrades, &pm.SellTrades, &pm.TradedValueUSD, &pm.UpdatedAt)
	if err != nil {
		return models.PerformanceMetrics{}, fmt.Errorf("%w: read performance metrics: %v", models.ErrStore, err)
	}
	pf, err := p.ReadPortfolio(ctx)
	if err != nil {
		return models.PerformanceMetrics{}, err
	}
	pm.PortfolioUSD = pf.TotalValueUSD
	return pm, nil
}

func (p *Postgres) AppendCycleSummary(ctx context.Context, s models.CycleSummary) error {
	defer track("append_cycle_summary")()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO cycle_summaries (cycle_id, system_efficiency, strategic_alignment, adaptation_capacity,
			decisions, successes, learning_rate, duration_ms, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (cycle_id) DO NOTHING`,
		s.CycleID, s.SystemEfficiency, s.StrategicAlignment, s.AdaptationCapacity,
		s.Decisions, s.Successes, s.LearningRate, s.DurationMS, s.StartedAt, s.FinishedAt)
	if err != nil {
		return fmt.Errorf("%w: append cycle summary: %v", models.ErrStore, err)
	}
	return nil
}

func (p *Postgres) ListCycleSummaries(ctx context.Context, limit int) ([]models.CycleSummary, error) {
	defer track("list_cycle_summaries")()
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT cycle_id, system_efficiency, strategic_alignment, adaptation_capacity,
			decisions, successes, learning_rate, duration_ms, started_at, finished_at
		FROM cycle_summaries ORDER BY started_at DESC LIMIT %d`, limit))
	if err != nil {
		return nil, fmt.Errorf("%w: list cycle summaries: %v", models.ErrStore, err)
	}
	defer rows.Close()

	var out []models.CycleSummary
	for rows.Next() {
		var s models.CycleSummary
		if err := rows.Scan(&s.CycleID, &s.SystemEfficiency, &s.StrategicAlignment, &s.AdaptationCapacity,
			&s.Decisions, &s.Successes, &s.LearningRate, &s.DurationMS, &s.StartedAt, &s.FinishedAt); err != nil {
			return nil, fmt.Errorf("%w: scan cycle summary: %v", models.ErrStore, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list cycle summaries: %v", models.ErrStore, err)
	}
	return out, nil
}

func (p *Postgres) WriteAgentState(ctx context.Context, st AgentState) error {
	defer track("write_agent_state")()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO agent_states (agent_id, autonomy, reputation, goal_progress, adaptations, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (agent_id) DO UPDATE SET
			autonomy = EXCLUDED.autonomy,
			reputation = EXCLUDED.reputation,
			goal_progress = EXCLUDED.goal_progress,
			adaptations = EXCLUDED.adaptations,
			updated_at = EXCLUDED.updated_at`,
		st.AgentID, st.Autonomy, st.Reputation, st.GoalProgress, st.Adaptations, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: write agent state: %v", models.ErrStore, err)
	}
	return nil
}

func (p *Postgres) ListAgentStates(ctx context.Context) ([]AgentState, error) {
	defer track("list_agent_states")()
	rows, err := p.pool.Query(ctx, `
		SELECT agent_id, autonomy, reputation, goal_progress, adaptations, updated_at
		FROM agent_states ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list agent states: %v", models.ErrStore, err)
	}
	defer rows.Close()

	var out []AgentState
	for rows.Next() {
		var st AgentState
		if err := rows.Scan(&st.AgentID, &st.Autonomy, &st.Reputation, &st.GoalProgress, &st.Adaptations, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan agent state: %v", models.ErrStore, err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list agent states: %v", models.ErrStore, err)
	}
	return out, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", models.ErrStore, err)
	}
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
	p.log.Info().Msg("Database connection pool closed")
}

// track times one store operation into the query duration histogram.
func track(op string) func() {
	start := time.Now()
	return func() {
		metrics.StoreQueryDuration.WithLabelValues(op).
			Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}
}
