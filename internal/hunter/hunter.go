// Package hunter implements the autonomous market hunter: a loop that
// scores the eight data sources against the current market context,
// queries the best of them, synthesizes signals, and learns which
// sources pay off.
package hunter

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/btcintel/internal/agent"
	"github.com/ajitpratap0/btcintel/internal/bus"
	"github.com/ajitpratap0/btcintel/internal/clock"
	"github.com/ajitpratap0/btcintel/internal/config"
	"github.com/ajitpratap0/btcintel/internal/marketdata"
	"github.com/ajitpratap0/btcintel/internal/metrics"
	"github.com/ajitpratap0/btcintel/internal/models"
	"github.com/ajitpratap0/btcintel/internal/store"
)

// Selection-score weights.
const (
	weightSuccessRate = 0.3
	weightQuality     = 0.3
	weightRecency     = 0.2
	weightRelevance   = 0.4
	explorationBonus  = 0.2
)

// Report summarizes one hunt iteration.
type Report struct {
	Context    MarketContext
	Selected   []models.SourceKind
	Fetched    int
	Failed     int
	Signals    []models.Signal
	Broadcast  int
	Discarded  int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Hunter owns the source-metric map; everyone else reads snapshots.
type Hunter struct {
	cfg          config.HunterConfig
	fetchTimeout time.Duration
	st           store.Store
	market       marketdata.Market
	b            *bus.Bus
	clk          clock.Clock
	policy       Policy
	log          zerolog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	busy atomic.Bool

	mu      sync.RWMutex
	metrics map[models.SourceKind]models.SourceMetric
}

// New builds a hunter. rng drives exploration; pass a seeded source for
// deterministic tests.
func New(cfg config.HunterConfig, fetchTimeout time.Duration, st store.Store, market marketdata.Market,
	b *bus.Bus, clk clock.Clock, rng *rand.Rand, log zerolog.Logger) (*Hunter, error) {

	policy, err := LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 5 * time.Second
	}

	h := &Hunter{
		cfg:          cfg,
		fetchTimeout: fetchTimeout,
		st:           st,
		market:       market,
		b:            b,
		clk:          clk,
		policy:       policy,
		rng:          rng,
		log:          log.With().Str("component", "hunter").Logger(),
		metrics:      make(map[models.SourceKind]models.SourceMetric),
	}
	for _, kind := range models.AllSourceKinds() {
		h.metrics[kind] = models.SourceMetric{Name: kind, SuccessRate: 0.5, AvgSignalQuality: 0.5}
	}
	return h, nil
}

// LoadHistoricalMetrics restores per-source counters from the store,
// keeping defaults for sources never seen before.
func (h *Hunter) LoadHistoricalMetrics(ctx context.Context) error {
	stored, err := h.st.ReadSourceMetrics(ctx)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for kind, m := range stored {
		if _, known := h.metrics[kind]; !known {
			continue
		}
		if err := m.Validate(); err != nil {
			return err
		}
		h.metrics[kind] = m
	}
	h.log.Info().Int("sources", len(stored)).Msg("Historical source metrics restored")
	return nil
}

// SourceMetrics returns a snapshot of the metric map.
func (h *Hunter) SourceMetrics() map[models.SourceKind]models.SourceMetric {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[models.SourceKind]models.SourceMetric, len(h.metrics))
	for k, v := range h.metrics {
		out[k] = v
	}
	return out
}

// Start runs the hunt loop until the context is cancelled. A tick that
// arrives while a hunt is still running is skipped; a failed hunt backs
// off before the loop resumes.
func (h *Hunter) Start(ctx context.Context) error {
	return h.clk.Tick(ctx, h.cfg.Interval, true, func(ctx context.Context) {
		if !h.busy.CompareAndSwap(false, true) {
			metrics.HuntsSkipped.Inc()
			h.log.Warn().Msg("Hunt tick skipped, previous hunt still running")
			return
		}
		defer h.busy.Store(false)

		if _, err := h.HuntOnce(ctx); err != nil {
			h.log.Error().Err(err).Dur("backoff", h.cfg.ErrorBackoff).Msg("Hunt failed, backing off")
			_ = h.clk.Sleep(ctx, h.cfg.ErrorBackoff)
		}
	})
}

// HuntOnce runs one full hunt iteration.
func (h *Hunter) HuntOnce(ctx context.Context) (*Report, error) {
	started := h.clk.Now()

	snap, err := h.market.FetchPrice(ctx)
	if err != nil {
		metrics.HuntsCompleted.WithLabelValues("failure").Inc()
		return nil, fmt.Errorf("assess market context: %w", err)
	}
	mctx := AssessContext(snap, h.clk.Now())

	selected := h.SelectSources(mctx)
	results := h.fetchSources(ctx, selected)

	report := &Report{Context: mctx, Selected: selected, StartedAt: started}

	signalsBySource := make(map[models.SourceKind][]models.Signal)
	for _, kind := range selected {
		res := results[kind]
		if res.err != nil {
			report.Failed++
			metrics.SourceCalls.WithLabelValues(string(kind), "failure").Inc()
			h.log.Warn().Err(res.err).Str("source", string(kind)).Msg("Source fetch failed")
			continue
		}
		report.Fetched++
		metrics.SourceCalls.WithLabelValues(string(kind), "success").Inc()
		signalsBySource[kind] = synthesize(res.data, h.clk.Now())
	}

	for _, kind := range selected {
		for _, sig := range signalsBySource[kind] {
			report.Signals = append(report.Signals, sig)
			if sig.Confidence < h.cfg.MinConfidence {
				report.Discarded++
				metrics.SignalsDiscarded.WithLabelValues(string(kind)).Inc()
				continue
			}
			if err := h.broadcast(ctx, sig); err != nil {
				h.log.Warn().Err(err).Str("label", sig.Label).Msg("Signal broadcast failed")
				continue
			}
			report.Broadcast++
			metrics.SignalsEmitted.WithLabelValues(string(kind), string(sig.Severity)).Inc()
			if err := h.st.AppendSignal(ctx, sig); err != nil {
				h.log.Error().Err(err).Str("label", sig.Label).Msg("Signal persistence failed")
			}
		}
	}

	h.learn(selected, results, signalsBySource)

	if err := h.persist(ctx, report); err != nil {
		h.log.Error().Err(err).Msg("Hunt persistence failed")
	}

	report.FinishedAt = h.clk.Now()
	metrics.HuntsCompleted.WithLabelValues("success").Inc()
	h.log.Info().
		Int("selected", len(report.Selected)).
		Int("fetched", report.Fetched).
		Int("failed", report.Failed).
		Int("broadcast", report.Broadcast).
		Int("discarded", report.Discarded).
		Msg("Hunt completed")
	return report, nil
}

// SelectSources scores every source against the context and returns the
// top cfg.MaxSources, best first.
func (h *Hunter) SelectSources(mctx MarketContext) []models.SourceKind {
	now := h.clk.Now()

	h.mu.RLock()
	type scored struct {
		kind  models.SourceKind
		score float64
	}
	all := make([]scored, 0, len(h.metrics))
	for _, kind := range models.AllSourceKinds() {
		s := h.score(h.metrics[kind], mctx, now)
		metrics.SourceScore.WithLabelValues(string(kind)).Set(s)
		all = append(all, scored{kind, s})
	}
	h.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })

	n := h.cfg.MaxSources
	if n > len(all) {
		n = len(all)
	}
	out := make([]models.SourceKind, n)
	for i := 0; i < n; i++ {
		out[i] = all[i].kind
	}
	return out
}

func (h *Hunter) score(m models.SourceMetric, mctx MarketContext, now time.Time) float64 {
	recency := 1.0
	if !m.LastUsedAt.IsZero() {
		recency = now.Sub(m.LastUsedAt).Hours() / 24
		if recency > 1 {
			recency = 1
		}
		if recency < 0 {
			recency = 0
		}
	}

	score := weightSuccessRate*m.SuccessRate +
		weightQuality*m.AvgSignalQuality +
		weightRecency*recency +
		weightRelevance*h.policy.Relevance(m.Name, mctx)

	h.rngMu.Lock()
	explore := h.rng.Float64() < h.cfg.ExplorationRate
	h.rngMu.Unlock()
	if explore {
		score += explorationBonus
	}
	return score
}

type fetchResult struct {
	data *marketdata.SourceData
	err  error
}

// fetchSources queries the selected sources concurrently, each bounded
// by its own timeout. Partial failure is fine.
func (h *Hunter) fetchSources(ctx context.Context, kinds []models.SourceKind) map[models.SourceKind]fetchResult {
	var mu sync.Mutex
	results := make(map[models.SourceKind]fetchResult, len(kinds))

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range kinds {
		kind := kind
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, h.fetchTimeout)
			defer cancel()

			data, err := h.market.FetchSource(fctx, kind)
			mu.Lock()
			results[kind] = fetchResult{data: data, err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (h *Hunter) broadcast(ctx context.Context, sig models.Signal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	for _, target := range sig.Targets {
		msg := &models.Message{
			From:    agent.IDMarketHunter,
			To:      target,
			Kind:    models.MsgSignal,
			Payload: payload,
		}
		if err := h.b.Publish(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// learn folds this iteration's outcomes into the metric map with an
// exponentially weighted moving average. Counters only go up.
func (h *Hunter) learn(selected []models.SourceKind, results map[models.SourceKind]fetchResult,
	signals map[models.SourceKind][]models.Signal) {

	alpha := h.cfg.LearningRate
	now := h.clk.Now()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, kind := range selected {
		m := h.metrics[kind]
		m.TotalCalls++
		m.LastUsedAt = now

		success := 0.0
		if results[kind].err == nil {
			success = 1.0
			m.SuccessfulCalls++
		}
		m.SuccessRate = (1-alpha)*m.SuccessRate + alpha*success

		if sigs := signals[kind]; len(sigs) > 0 {
			m.SignalsGenerated += int64(len(sigs))
			var sum float64
			for _, s := range sigs {
				sum += s.Confidence
			}
			m.AvgSignalQuality = (1-alpha)*m.AvgSignalQuality + alpha*(sum/float64(len(sigs)))
		}

		h.metrics[kind] = m
	}
}

// persist writes the metric map and an execution record for the hunt.
func (h *Hunter) persist(ctx context.Context, report *Report) error {
	if err := h.st.WriteSourceMetrics(ctx, h.SourceMetrics()); err != nil {
		return err
	}

	selected := make([]string, len(report.Selected))
	for i, k := range report.Selected {
		selected[i] = string(k)
	}
	return h.st.AppendAgentExecution(ctx, models.AgentExecution{
		AgentID: agent.IDMarketHunter,
		Type:    "hunt",
		Inputs: map[string]interface{}{
			"volatility": string(report.Context.Volatility),
			"trend":      string(report.Context.Trend),
			"session":    string(report.Context.Session),
			"selected":   selected,
		},
		Outputs: map[string]interface{}{
			"fetched":   report.Fetched,
			"failed":    report.Failed,
			"signals":   len(report.Signals),
			"broadcast": report.Broadcast,
			"discarded": report.Discarded,
		},
		Success:    report.Failed < len(report.Selected) || len(report.Selected) == 0,
		DurationMS: h.clk.Now().Sub(report.StartedAt).Milliseconds(),
		At:         h.clk.Now(),
	})
}
