// Package orchestrator drives the strategic cycle: nine ordered phases
// that assess the agent collective, consult the expert methodology,
// compose decisions, execute them by priority, and persist the outcome.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/btcintel/internal/agent"
	"github.com/ajitpratap0/btcintel/internal/bus"
	"github.com/ajitpratap0/btcintel/internal/clock"
	"github.com/ajitpratap0/btcintel/internal/config"
	"github.com/ajitpratap0/btcintel/internal/decisionlog"
	"github.com/ajitpratap0/btcintel/internal/expert"
	"github.com/ajitpratap0/btcintel/internal/marketdata"
	"github.com/ajitpratap0/btcintel/internal/metrics"
	"github.com/ajitpratap0/btcintel/internal/models"
	"github.com/ajitpratap0/btcintel/internal/store"
)

// System learning-rate bounds and multipliers.
const (
	learningRateInitial = 0.1
	learningRateCap     = 0.3
	learningRateFloor   = 0.05
)

// Thresholds driving decision emission and autonomy adjustment.
const (
	alignmentThreshold   = 0.7
	adaptationThreshold  = 0.6
	recommendThreshold   = 0.8
	autonomyUpThreshold  = 0.85
	autonomyLowThreshold = 0.5
	conflictThreshold    = 0.3
)

// systemState is the phase-1 reading of the collective.
type systemState struct {
	Efficiency         float64
	Alignment          float64
	AdaptationCapacity float64
}

// agentEval is the phase-2 per-agent evaluation.
type agentEval struct {
	ID                models.AgentID
	Perf              models.PerfMetrics
	GoalProgress      float64
	Autonomy          float64
	Reputation        float64
	PerformanceScore  float64
	NeedsAdaptation   bool
	RecommendIncrease bool
}

// CycleReport summarizes one completed strategic cycle.
type CycleReport struct {
	CycleID      string
	State        systemState
	Evals        []agentEval
	Decisions    []models.Decision
	Results      []models.ExecutionResult
	LearningRate float64
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Orchestrator owns the registry, the reputation map, and the system
// learning rate. Agents own their goals; autonomy is pushed to them.
type Orchestrator struct {
	cfg    config.OrchestratorConfig
	st     store.Store
	market marketdata.Market
	b      *bus.Bus
	dlog   *decisionlog.Logger
	clk    clock.Clock
	log    zerolog.Logger

	mu           sync.RWMutex
	registry     map[models.AgentID]*agent.Base
	order        []models.AgentID
	reputation   map[models.AgentID]float64
	learningRate float64
	cycleSeq     int

	// recent decisions and results feed the emergent-behavior detector.
	recent        []models.Decision
	recentResults map[uuid.UUID]models.ExecutionResult

	busy   atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an orchestrator over an already-constructed agent set.
func New(cfg config.OrchestratorConfig, agents []*agent.Base, st store.Store, market marketdata.Market,
	b *bus.Bus, dlog *decisionlog.Logger, clk clock.Clock, log zerolog.Logger) *Orchestrator {

	o := &Orchestrator{
		cfg:           cfg,
		st:            st,
		market:        market,
		b:             b,
		dlog:          dlog,
		clk:           clk,
		log:           log.With().Str("component", "orchestrator").Logger(),
		registry:      make(map[models.AgentID]*agent.Base, len(agents)),
		reputation:    make(map[models.AgentID]float64, len(agents)),
		learningRate:  learningRateInitial,
		recentResults: make(map[uuid.UUID]models.ExecutionResult),
	}
	for _, a := range agents {
		o.registry[a.ID()] = a
		o.order = append(o.order, a.ID())
		o.reputation[a.ID()] = 0.70
	}
	metrics.ActiveAgents.Set(float64(len(agents)))
	return o
}

// Start launches the cycle driver. The first cycle runs immediately.
func (o *Orchestrator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})

	go func() {
		defer close(o.done)
		_ = o.clk.Tick(runCtx, o.cfg.CycleInterval, true, func(ctx context.Context) {
			if _, err := o.RunCycleOnce(ctx); err != nil {
				o.log.Error().Err(err).Msg("Strategic cycle aborted")
			}
		})
	}()
}

// Stop cancels the driver and waits for the in-flight cycle to finish.
func (o *Orchestrator) Stop() {
	if o.cancel == nil {
		return
	}
	o.cancel()
	<-o.done
}

// Reputation returns an agent's current reputation.
func (o *Orchestrator) Reputation(id models.AgentID) float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.reputation[id]
}

// LearningRate returns the current system learning rate.
func (o *Orchestrator) LearningRate() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.learningRate
}

// Agent returns a registered agent by id.
func (o *Orchestrator) Agent(id models.AgentID) (*agent.Base, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.registry[id]
	return a, ok
}

// RunCycleOnce executes the nine phases once. Cycles never overlap; a
// second call while one is running is rejected.
func (o *Orchestrator) RunCycleOnce(ctx context.Context) (*CycleReport, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: strategic cycle already running", models.ErrPolicy)
	}
	defer o.busy.Store(false)

	o.mu.Lock()
	cycleID := fmt.Sprintf("c%d", o.cycleSeq)
	o.cycleSeq++
	o.mu.Unlock()

	started := o.clk.Now()
	report := &CycleReport{CycleID: cycleID, StartedAt: started}
	log := o.log.With().Str("cycle", cycleID).Logger()

	// Phases 1-3 gather data; any failure here aborts the cycle.
	portfolio, state, err := o.assessSystem(ctx)
	if err != nil {
		return nil, fmt.Errorf("phase 1: %w", err)
	}
	report.State = state

	evals := o.evaluateAgents()
	report.Evals = evals

	conflicts, emergent := o.detectPatterns()

	// Phase 4: strategic decisions.
	snap, closes := o.fetchMarket(ctx)
	expertDec := expert.MakeExpertDecision(snap, portfolio, expert.SystemContext{
		Closes:           closes,
		LearningRate:     o.LearningRate(),
		SystemEfficiency: state.Efficiency,
	})
	review := o.reviewPerformance(ctx)

	decisions := o.composeDecisions(cycleID, state, evals, conflicts, emergent, expertDec, review, snap)
	report.Decisions = decisions

	// Phase 5: goal adaptation.
	o.adaptGoals(ctx, decisions, log)

	// Phase 6: execute by priority.
	results := o.executeDecisions(ctx, decisions, expertDec, snap, portfolio, cycleID, log)
	report.Results = results

	// Phase 7: system-wide learning.
	report.LearningRate = o.updateLearning(results)

	// Phase 8: autonomy adjustment.
	o.adjustAutonomy(evals)

	// Phase 9: persist.
	o.persistCycle(ctx, report, log)

	report.FinishedAt = o.clk.Now()
	elapsed := report.FinishedAt.Sub(started)
	metrics.CyclesCompleted.Inc()
	metrics.CycleDuration.Observe(elapsed.Seconds())
	if o.cfg.CycleSoftDeadline > 0 && elapsed > o.cfg.CycleSoftDeadline {
		log.Warn().Dur("elapsed", elapsed).Dur("soft_deadline", o.cfg.CycleSoftDeadline).
			Msg("Cycle overran its soft deadline")
	}
	log.Info().
		Int("decisions", len(decisions)).
		Float64("efficiency", state.Efficiency).
		Float64("alignment", state.Alignment).
		Msg("Strategic cycle completed")
	return report, nil
}

// assessSystem is phase 1: portfolio plus every agent's self-assessment.
func (o *Orchestrator) assessSystem(ctx context.Context) (models.Portfolio, systemState, error) {
	defer o.trackPhase("assess")()

	portfolio, err := o.st.ReadPortfolio(ctx)
	if err != nil {
		return models.Portfolio{}, systemState{}, err
	}

	var effSum, autoSum float64
	for _, id := range o.agentIDs() {
		a, _ := o.Agent(id)
		hookCtx, cancel := context.WithTimeout(ctx, o.hookTimeout())
		start := o.clk.Now()
		assessment, err := a.AssessState(hookCtx)
		cancel()
		metrics.RecordAgentHook(string(id), "assess_state", float64(o.clk.Now().Sub(start).Milliseconds()))
		if err != nil {
			return models.Portfolio{}, systemState{}, fmt.Errorf("assess %s: %w", id, err)
		}
		effSum += assessment.Perf.Efficiency
		autoSum += assessment.Autonomy
		metrics.AgentGoalProgress.WithLabelValues(string(id)).Set(assessment.GoalProgress)
	}

	n := float64(len(o.agentIDs()))
	state := systemState{Alignment: o.strategicAlignment()}
	if n > 0 {
		state.Efficiency = effSum / n
		state.AdaptationCapacity = autoSum / n
	}
	return portfolio, state, nil
}

// strategicAlignment measures how much of the collective shares a KPI
// with the flagship agent's primary goal. Without a flagship or peers
// the heuristic is undefined and falls back to 0.7.
func (o *Orchestrator) strategicAlignment() float64 {
	flagship, ok := o.Agent(agent.IDStrategicOrchestrator)
	if !ok || len(o.agentIDs()) < 2 {
		return 0.7
	}

	primary := make(map[string]bool)
	for _, k := range flagship.Goals().Primary.KPIs {
		primary[k] = true
	}
	if len(primary) == 0 {
		return 0.7
	}

	peers, aligned := 0, 0
	for _, id := range o.agentIDs() {
		if id == flagship.ID() {
			continue
		}
		peers++
		a, _ := o.Agent(id)
		for _, k := range a.Goals().AllKPIs() {
			if primary[k] {
				aligned++
				break
			}
		}
	}
	if peers == 0 {
		return 0.7
	}
	return 0.5 + 0.5*float64(aligned)/float64(peers)
}

// evaluateAgents is phase 2.
func (o *Orchestrator) evaluateAgents() []agentEval {
	defer o.trackPhase("evaluate")()

	var out []agentEval
	for _, id := range o.agentIDs() {
		a, _ := o.Agent(id)
		hookCtx, cancel := context.WithTimeout(context.Background(), o.hookTimeout())
		report, err := a.EvaluateGoalProgress(hookCtx)
		cancel()
		if err != nil {
			o.log.Warn().Err(err).Str("agent", string(id)).Msg("Goal progress evaluation failed")
			report = models.ProgressReport{OverallProgress: 0.7}
		}

		eval := agentEval{
			ID:           id,
			GoalProgress: report.OverallProgress,
			Autonomy:     a.Autonomy(),
			Reputation:   o.Reputation(id),
		}
		eval.PerformanceScore = (eval.Reputation + eval.GoalProgress + eval.Autonomy) / 3
		eval.NeedsAdaptation = report.NeedsAdaptation
		eval.RecommendIncrease = eval.PerformanceScore > recommendThreshold
		out = append(out, eval)

		metrics.AgentAutonomy.WithLabelValues(string(id)).Set(eval.Autonomy)
		metrics.AgentReputation.WithLabelValues(string(id)).Set(eval.Reputation)
	}
	return out
}

// detectPatterns is phase 3: pairwise conflicts plus emergent behavior.
func (o *Orchestrator) detectPatterns() ([]Conflict, []EmergentBehavior) {
	defer o.trackPhase("detect")()

	ids := o.agentIDs()
	var conflicts []Conflict
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, _ := o.Agent(ids[i])
			b, _ := o.Agent(ids[j])
			c := AnalyzeConflict(a.ID(), a.Goals(), b.ID(), b.Goals())
			if c.Severity > conflictThreshold {
				conflicts = append(conflicts, c)
				metrics.ConflictsDetected.Inc()
			}
		}
	}

	o.mu.RLock()
	recent := append([]models.Decision(nil), o.recent...)
	results := make(map[uuid.UUID]models.ExecutionResult, len(o.recentResults))
	for k, v := range o.recentResults {
		results[k] = v
	}
	o.mu.RUnlock()

	emergent := DetectEmergent(recent, results, o.clk.Now())
	for _, e := range emergent {
		metrics.EmergentBehaviors.WithLabelValues(fmt.Sprintf("%t", e.Beneficial)).Inc()
	}
	return conflicts, emergent
}

// fetchMarket gets the freshest snapshot it can plus recent closes for
// the expert. A provider outage falls back to the last stored snapshot.
func (o *Orchestrator) fetchMarket(ctx context.Context) (models.MarketSnapshot, []float64) {
	snap, err := o.market.FetchPrice(ctx)
	if err != nil {
		o.log.Warn().Err(err).Msg("Price fetch failed, using last stored snapshot")
		snap, err = o.st.LatestMarketSnapshot(ctx)
		if err != nil {
			o.log.Warn().Err(err).Msg("No stored snapshot either, expert runs on empty market")
			snap = models.MarketSnapshot{At: o.clk.Now()}
		}
	} else if err := o.st.AppendMarketSnapshot(ctx, snap); err != nil {
		o.log.Warn().Err(err).Msg("Market snapshot persistence failed")
	}

	var closes []float64
	if data, err := o.market.FetchSource(ctx, models.SourceTechnical); err == nil {
		for _, c := range data.Candles {
			closes = append(closes, c.Close)
		}
	}
	return snap, closes
}

// reviewPerformance runs the expert performance validation over stored
// trading metrics and the recent decision success rate.
func (o *Orchestrator) reviewPerformance(ctx context.Context) expert.PerformanceReview {
	pm, err := o.st.ReadPerformanceMetrics(ctx)
	if err != nil {
		o.log.Warn().Err(err).Msg("Performance metrics unavailable, skipping expert review")
		return expert.PerformanceReview{Verdict: expert.VerdictOK}
	}

	o.mu.RLock()
	total, successes := 0, 0
	for _, r := range o.recentResults {
		total++
		if r.Success {
			successes++
		}
	}
	o.mu.RUnlock()

	successRate := 0.7 // optimistic before any history exists
	if total > 0 {
		successRate = float64(successes) / float64(total)
	}
	return expert.ValidatePerformanceExpert(pm, successRate)
}

// composeDecisions is phase 4.
func (o *Orchestrator) composeDecisions(cycleID string, state systemState, evals []agentEval,
	conflicts []Conflict, emergent []EmergentBehavior, expertDec expert.Decision,
	review expert.PerformanceReview, snap models.MarketSnapshot) []models.Decision {

	defer o.trackPhase("decide")()
	now := o.clk.Now()
	var out []models.Decision

	newDecision := func(agentID models.AgentID, dt models.DecisionType) models.Decision {
		a, ok := o.Agent(agentID)
		d := models.Decision{
			ID:      uuid.New(),
			AgentID: agentID,
			CycleID: cycleID,
			Type:    dt,
			At:      now,
		}
		if ok {
			d.AutonomyAtDecision = a.Autonomy()
			goals := a.Goals()
			d.GoalsSnapshot = &goals
		}
		return d
	}

	// Exactly one methodology-integration decision per cycle.
	integration := newDecision(agent.IDStrategicOrchestrator, models.DecisionExpertIntegration)
	integration.Rationale = expertDec.Reasoning
	integration.Selected = string(expertDec.Action)
	integration.Confidence = expertDec.Confidence
	integration.RiskAssessment = models.RiskLow
	integration.Action = string(expertDec.Action)
	integration.Priority = models.PriorityMedium
	integration.ExpectedImprovement = 0.1
	integration.ExpectedDurationMS = 500
	integration.Inputs = map[string]interface{}{
		"regime":     string(expertDec.Regime),
		"price_usd":  snap.PriceUSD,
		"change_24h": snap.Change24h,
		"fear_greed": snap.FearGreed,
	}
	integration.Parameters = map[string]interface{}{
		"size_fraction": expertDec.SizeFraction,
	}
	integration.Alternatives = []string{"BUY", "SELL", "HOLD"}
	out = append(out, integration)

	if review.Verdict == expert.VerdictHighRisk {
		d := newDecision(agent.IDRiskSentinel, models.DecisionExpertRiskControl)
		d.Rationale = review.Focus
		d.Selected = "halt_expansion"
		d.Confidence = 0.9
		d.RiskAssessment = models.RiskCritical
		d.Action = "risk_control"
		d.Actions = []models.ActionTag{models.ActionSwitchToPreservation}
		d.Priority = models.PriorityCritical
		d.ExpectedImprovement = 0.5
		d.ExpectedDurationMS = 1000
		out = append(out, d)
	}

	if expertDec.Regime == expert.RegimeVolSpike {
		d := newDecision(agent.IDStrategicOrchestrator, models.DecisionExpertRegimeAdaptation)
		d.Rationale = expertDec.Reasoning
		d.Selected = "preservation_posture"
		d.Confidence = expertDec.Confidence
		d.RiskAssessment = models.RiskHigh
		d.Action = "regime_adaptation"
		d.Actions = []models.ActionTag{
			models.ActionSwitchToPreservation,
			models.ActionReduceLeverage,
			models.ActionWaitForStability,
		}
		d.Priority = models.PriorityCritical
		d.ExpectedImprovement = 0.4
		d.ExpectedDurationMS = 1500
		out = append(out, d)
	}

	if state.Alignment < alignmentThreshold {
		d := newDecision(agent.IDStrategicOrchestrator, models.DecisionSystemRealignment)
		d.Rationale = fmt.Sprintf("strategic alignment %.2f below %.2f", state.Alignment, alignmentThreshold)
		d.Selected = "realign_goals"
		d.Confidence = 0.7
		d.RiskAssessment = models.RiskMedium
		d.Action = "system_realignment"
		d.Priority = models.PriorityHigh
		d.ExpectedImprovement = 0.3
		d.ExpectedDurationMS = 5000
		out = append(out, d)
	}

	for _, eval := range evals {
		if !eval.NeedsAdaptation {
			continue
		}
		d := newDecision(eval.ID, models.DecisionAgentAdaptation)
		d.Rationale = fmt.Sprintf("goal progress %.2f below %.2f", eval.GoalProgress, adaptationThreshold)
		d.Selected = "adapt_goals"
		d.Confidence = 0.75
		d.RiskAssessment = models.RiskLow
		d.Action = "agent_adaptation"
		d.Actions = []models.ActionTag{models.ActionGoalAdaptation, models.ActionStrategyAdjustment}
		d.Priority = models.PriorityMedium
		d.ExpectedImprovement = adaptationThreshold - eval.GoalProgress
		d.ExpectedDurationMS = 2000
		out = append(out, d)
	}

	for _, c := range conflicts {
		d := newDecision(c.A, models.DecisionConflictResolution)
		d.Rationale = c.Description
		d.Selected = "mediate"
		d.Confidence = 0.7
		d.RiskAssessment = models.RiskMedium
		d.Action = "conflict_resolution"
		d.Priority = models.PriorityMedium
		if c.Severity > 0.6 {
			d.Priority = models.PriorityHigh
		}
		d.ExpectedImprovement = c.Severity
		d.ExpectedDurationMS = 1000
		d.Parameters = map[string]interface{}{"peer": string(c.B), "severity": c.Severity}
		out = append(out, d)
	}

	for _, e := range emergent {
		if !e.Beneficial {
			continue
		}
		d := newDecision(agent.IDStrategicOrchestrator, models.DecisionAmplifyEmergent)
		d.Rationale = e.Description
		d.Selected = "amplify"
		d.Confidence = e.Strength
		d.RiskAssessment = models.RiskLow
		d.Action = "amplify_emergent_behavior"
		d.Priority = models.PriorityLow
		d.ExpectedImprovement = e.Strength * 0.2
		d.ExpectedDurationMS = 1000
		d.Parameters = map[string]interface{}{"pattern": e.Type}
		out = append(out, d)
	}

	return out
}

// adaptGoals is phase 5: hand every adaptation decision to its target.
func (o *Orchestrator) adaptGoals(ctx context.Context, decisions []models.Decision, log zerolog.Logger) {
	defer o.trackPhase("adapt")()

	for _, d := range decisions {
		if d.Type != models.DecisionAgentAdaptation {
			continue
		}
		a, ok := o.Agent(d.AgentID)
		if !ok {
			log.Warn().Str("agent", string(d.AgentID)).Msg("Adaptation decision targets unknown agent")
			continue
		}

		hookCtx, cancel := context.WithTimeout(ctx, o.hookTimeout())
		_, err := a.EvolveGoals(hookCtx, d)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("agent", string(d.AgentID)).Msg("Goal evolution rejected")
			continue
		}
		metrics.AgentAdaptations.WithLabelValues(string(d.AgentID)).Inc()
		a.RecordDecision(d)
	}
}

// sortDecisions orders phase-6 execution: priority tier first, then
// expected improvement descending, then expected duration ascending.
func sortDecisions(decisions []models.Decision) {
	sort.SliceStable(decisions, func(i, j int) bool {
		a, b := decisions[i], decisions[j]
		if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
			return ra < rb
		}
		if a.ExpectedImprovement != b.ExpectedImprovement {
			return a.ExpectedImprovement > b.ExpectedImprovement
		}
		return a.ExpectedDurationMS < b.ExpectedDurationMS
	})
}

// executeDecisions is phase 6.
func (o *Orchestrator) executeDecisions(ctx context.Context, decisions []models.Decision,
	expertDec expert.Decision, snap models.MarketSnapshot, portfolio models.Portfolio,
	cycleID string, log zerolog.Logger) []models.ExecutionResult {

	defer o.trackPhase("execute")()
	sortDecisions(decisions)

	results := make([]models.ExecutionResult, 0, len(decisions))
	for _, d := range decisions {
		start := o.clk.Now()
		r := models.ExecutionResult{DecisionID: d.ID, Type: d.Type, At: start}

		if ctx.Err() != nil {
			r.Success = false
			r.Quality = 0.3
			r.Error = "cancelled"
		} else {
			quality, err := o.executeOne(ctx, d, expertDec, snap, &portfolio, cycleID, log)
			switch {
			case err == nil:
				r.Success = true
				r.Quality = quality
			default:
				r.Success = false
				r.Quality = quality
				r.Error = err.Error()
				log.Warn().Err(err).Str("type", string(d.Type)).Msg("Decision execution failed")
			}
		}
		r.DurationMS = o.clk.Now().Sub(start).Milliseconds()
		results = append(results, r)

		o.bumpReputation(d.AgentID, r.Quality)
		metrics.RecordDecisionExecution(string(d.Type), r.Success)

		o.mu.Lock()
		o.recent = append(o.recent, d)
		if len(o.recent) > 200 {
			evicted := o.recent[0]
			o.recent = o.recent[1:]
			delete(o.recentResults, evicted.ID)
		}
		o.recentResults[d.ID] = r
		o.mu.Unlock()
	}
	return results
}

// executeOne dispatches a single decision. The returned quality is used
// even on failure.
func (o *Orchestrator) executeOne(ctx context.Context, d models.Decision, expertDec expert.Decision,
	snap models.MarketSnapshot, portfolio *models.Portfolio, cycleID string, log zerolog.Logger) (float64, error) {

	switch d.Type {
	case models.DecisionExpertIntegration:
		if err := o.executeTrade(ctx, expertDec, snap, portfolio, cycleID, log); err != nil {
			return 0.3, err
		}
		return expertDec.Confidence, nil

	case models.DecisionExpertRiskControl:
		o.fanOutAdaptation(ctx, d.Actions, log)
		o.broadcastCoordination(ctx, d, "risk controls engaged")
		return 0.9, nil

	case models.DecisionExpertRegimeAdaptation:
		o.fanOutAdaptation(ctx, d.Actions, log)
		o.broadcastCoordination(ctx, d, "regime adaptation engaged")
		return 0.85, nil

	case models.DecisionAgentAdaptation:
		a, ok := o.Agent(d.AgentID)
		if !ok {
			return 0.3, fmt.Errorf("%w: unknown adaptation target %s", models.ErrPolicy, d.AgentID)
		}
		hookCtx, cancel := context.WithTimeout(ctx, o.hookTimeout())
		defer cancel()
		if err := a.ExecuteAdaptation(hookCtx, d.Actions); err != nil {
			return 0.3, err
		}
		return 0.8, nil

	case models.DecisionConflictResolution:
		o.broadcastCoordination(ctx, d, "conflict mediation")
		return 0.7, nil

	case models.DecisionSystemRealignment:
		o.broadcastCoordination(ctx, d, "system realignment")
		return 0.75, nil

	case models.DecisionAmplifyEmergent:
		o.broadcastCoordination(ctx, d, "amplifying emergent pattern")
		return 0.7, nil

	default:
		return 0.2, fmt.Errorf("%w: unknown decision type %q", models.ErrPolicy, d.Type)
	}
}

// executeTrade applies the expert's verdict to the simulated portfolio.
// HOLD is a no-op beyond revaluation.
func (o *Orchestrator) executeTrade(ctx context.Context, dec expert.Decision, snap models.MarketSnapshot,
	portfolio *models.Portfolio, cycleID string, log zerolog.Logger) error {

	now := o.clk.Now()
	if snap.PriceUSD > 0 {
		portfolio.Revalue(snap.PriceUSD, now)
	}

	if dec.Action != expert.ActionHold && dec.SizeFraction > 0 && snap.PriceUSD > 0 {
		valueUSD := portfolio.TotalValueUSD * dec.SizeFraction
		var trade models.Trade

		switch dec.Action {
		case expert.ActionBuy:
			if valueUSD > portfolio.USD {
				valueUSD = portfolio.USD
			}
			if valueUSD > 0 {
				qty := valueUSD / snap.PriceUSD
				portfolio.USD -= valueUSD
				portfolio.BTC += qty
				trade = models.Trade{Side: models.TradeBuy, BTC: qty, ValueUSD: valueUSD}
			}
		case expert.ActionSell:
			qty := valueUSD / snap.PriceUSD
			if qty > portfolio.BTC {
				qty = portfolio.BTC
			}
			if qty > 0 {
				proceeds := qty * snap.PriceUSD
				portfolio.BTC -= qty
				portfolio.USD += proceeds
				trade = models.Trade{Side: models.TradeSell, BTC: qty, ValueUSD: proceeds}
			}
		}

		if trade.BTC > 0 {
			trade.ID = uuid.NewString()
			trade.CycleID = cycleID
			trade.PriceUSD = snap.PriceUSD
			trade.Reason = dec.Reasoning
			trade.At = now
			if err := o.st.AppendTrade(ctx, trade); err != nil {
				return err
			}
			log.Info().
				Str("side", string(trade.Side)).
				Float64("btc", trade.BTC).
				Float64("value_usd", trade.ValueUSD).
				Msg("Simulated trade executed")
		}
		portfolio.Revalue(snap.PriceUSD, now)
	}

	if err := o.st.WritePortfolio(ctx, *portfolio); err != nil {
		return err
	}
	return o.st.AppendPortfolioSnapshot(ctx, *portfolio)
}

// fanOutAdaptation pushes the given actions to every registered agent.
func (o *Orchestrator) fanOutAdaptation(ctx context.Context, actions []models.ActionTag, log zerolog.Logger) {
	for _, id := range o.agentIDs() {
		a, _ := o.Agent(id)
		hookCtx, cancel := context.WithTimeout(ctx, o.hookTimeout())
		err := a.ExecuteAdaptation(hookCtx, actions)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("agent", string(id)).Msg("Adaptation fan-out failed")
		}
	}
}

func (o *Orchestrator) broadcastCoordination(ctx context.Context, d models.Decision, note string) {
	payload, _ := json.Marshal(struct {
		DecisionID string              `json:"decision_id"`
		Type       models.DecisionType `json:"type"`
		Note       string              `json:"note"`
	}{d.ID.String(), d.Type, note})

	msg := &models.Message{
		From:    agent.IDStrategicOrchestrator,
		To:      models.BroadcastID,
		Kind:    models.MsgCoordination,
		Payload: payload,
	}
	if err := o.b.Publish(ctx, msg); err != nil {
		o.log.Warn().Err(err).Str("type", string(d.Type)).Msg("Coordination broadcast failed")
	}
}

// bumpReputation applies the quality-driven reputation delta, keeping
// the value in [0,1].
func (o *Orchestrator) bumpReputation(id models.AgentID, quality float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.reputation[id]; !ok {
		return
	}
	v := o.reputation[id] + (quality-0.5)*0.05
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	o.reputation[id] = v
}

// updateLearning is phase 7: nudge the system learning rate from this
// cycle's success rate.
func (o *Orchestrator) updateLearning(results []models.ExecutionResult) float64 {
	defer o.trackPhase("learn")()

	o.mu.Lock()
	defer o.mu.Unlock()
	if len(results) == 0 {
		return o.learningRate
	}

	successes := 0
	for _, r := range results {
		if r.Success {
			successes++
		}
	}
	rate := float64(successes) / float64(len(results))

	switch {
	case rate > 0.8:
		o.learningRate *= 1.1
		if o.learningRate > learningRateCap {
			o.learningRate = learningRateCap
		}
	case rate < 0.5:
		o.learningRate *= 0.9
		if o.learningRate < learningRateFloor {
			o.learningRate = learningRateFloor
		}
	}
	return o.learningRate
}

// adjustAutonomy is phase 8. Exactly 0.85 is not "above": only a strict
// exceedance moves autonomy up.
func (o *Orchestrator) adjustAutonomy(evals []agentEval) {
	defer o.trackPhase("autonomy")()

	for _, eval := range evals {
		a, ok := o.Agent(eval.ID)
		if !ok {
			continue
		}
		switch {
		case eval.PerformanceScore > autonomyUpThreshold:
			a.UpdateAutonomy(eval.Autonomy * 1.05)
		case eval.PerformanceScore < autonomyLowThreshold:
			a.UpdateAutonomy(eval.Autonomy * 0.95)
		}
		metrics.AgentAutonomy.WithLabelValues(string(eval.ID)).Set(a.Autonomy())
	}
}

// persistCycle is phase 9: decisions paired with their outcomes go to
// the decision logger; summary and agent states go straight to the
// store.
func (o *Orchestrator) persistCycle(ctx context.Context, report *CycleReport, log zerolog.Logger) {
	defer o.trackPhase("persist")()

	byID := make(map[uuid.UUID]models.ExecutionResult, len(report.Results))
	for _, r := range report.Results {
		byID[r.DecisionID] = r
	}
	for _, d := range report.Decisions {
		o.dlog.Log(d, byID[d.ID])
	}

	successes := 0
	for _, r := range report.Results {
		if r.Success {
			successes++
		}
	}
	summary := models.CycleSummary{
		CycleID:            report.CycleID,
		SystemEfficiency:   report.State.Efficiency,
		StrategicAlignment: report.State.Alignment,
		AdaptationCapacity: report.State.AdaptationCapacity,
		Decisions:          len(report.Decisions),
		Successes:          successes,
		LearningRate:       o.LearningRate(),
		DurationMS:         o.clk.Now().Sub(report.StartedAt).Milliseconds(),
		StartedAt:          report.StartedAt,
		FinishedAt:         o.clk.Now(),
	}
	if err := o.st.AppendCycleSummary(ctx, summary); err != nil {
		log.Warn().Err(err).Msg("Cycle summary persistence failed")
	}

	for _, id := range o.agentIDs() {
		a, _ := o.Agent(id)
		state := store.AgentState{
			AgentID:      id,
			Autonomy:     a.Autonomy(),
			Reputation:   o.Reputation(id),
			Adaptations:  a.AdaptationCount(),
			GoalProgress: 0,
			UpdatedAt:    o.clk.Now(),
		}
		if pr, err := a.EvaluateGoalProgress(ctx); err == nil {
			state.GoalProgress = pr.OverallProgress
		}
		if err := o.st.WriteAgentState(ctx, state); err != nil {
			log.Warn().Err(err).Str("agent", string(id)).Msg("Agent state persistence failed")
		}
	}
}

func (o *Orchestrator) agentIDs() []models.AgentID {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.order
}

func (o *Orchestrator) hookTimeout() time.Duration {
	if o.cfg.AgentHookTimeout > 0 {
		return o.cfg.AgentHookTimeout
	}
	return 2 * time.Second
}

func (o *Orchestrator) trackPhase(phase string) func() {
	start := o.clk.Now()
	return func() {
		metrics.PhaseDuration.WithLabelValues(phase).Observe(o.clk.Now().Sub(start).Seconds())
	}
}
