// Package agent implements the generic agent contract and the five stock
// agents. Every agent owns its goals and histories; autonomy and
// reputation are pushed in from outside.
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/btcintel/internal/bus"
	"github.com/ajitpratap0/btcintel/internal/clock"
	"github.com/ajitpratap0/btcintel/internal/models"
)

// historyCap bounds the per-agent decision and performance histories.
const historyCap = 100

// Agent is the contract every registered agent fulfils. The hooks are
// synchronous; callers bound them with a deadline context.
type Agent interface {
	ID() models.AgentID
	AssessState(ctx context.Context) (models.StateAssessment, error)
	EvaluateGoalProgress(ctx context.Context) (models.ProgressReport, error)
	EvolveGoals(ctx context.Context, decision models.Decision) (models.GoalTree, error)
	ExecuteAdaptation(ctx context.Context, actions []models.ActionTag) error
	UpdateAutonomy(a float64)
	Autonomy() float64
	Goals() models.GoalTree
	Traits() models.Traits
	AdaptationCount() int
	Inbox() *bus.Inbox
}

// Mode is an agent's current operating posture, set via adaptation
// actions.
type Mode string

const (
	ModeNormal       Mode = "normal"
	ModePreservation Mode = "preservation"
	ModeWaiting      Mode = "waiting"
)

// Spec declares one stock agent.
type Spec struct {
	ID       models.AgentID
	Autonomy float64
	Traits   models.Traits
	Goals    models.GoalTree
}

// Base is the common agent implementation. The stock agents are all
// Base instances with different specs.
type Base struct {
	id     models.AgentID
	traits models.Traits
	inbox  *bus.Inbox
	clk    clock.Clock
	log    zerolog.Logger

	mu              sync.RWMutex
	goals           models.GoalTree
	autonomy        float64
	mode            Mode
	strategyBias    float64 // [-1,1], adjusted by STRATEGY_ADJUSTMENT
	goalProgress    float64
	progressKnown   bool
	perfHistory     []models.PerfSample
	decisionHistory []models.Decision
	adaptationCount int
}

// New builds one agent from its spec and subscribes its inbox.
func New(spec Spec, b *bus.Bus, clk clock.Clock, log zerolog.Logger) (*Base, error) {
	if err := spec.Traits.Validate(); err != nil {
		return nil, err
	}
	if err := spec.Goals.Validate(); err != nil {
		return nil, err
	}

	inbox, err := b.Subscribe(spec.ID)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.ID, err)
	}

	return &Base{
		id:       spec.ID,
		traits:   spec.Traits,
		inbox:    inbox,
		clk:      clk,
		log:      log.With().Str("agent", string(spec.ID)).Logger(),
		goals:    spec.Goals.Clone(),
		autonomy: models.ClampAutonomy(spec.Autonomy),
		mode:     ModeNormal,
	}, nil
}

func (a *Base) ID() models.AgentID { return a.id }

func (a *Base) Inbox() *bus.Inbox { return a.inbox }

func (a *Base) Traits() models.Traits { return a.traits }

// Autonomy returns the current autonomy level.
func (a *Base) Autonomy() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.autonomy
}

// UpdateAutonomy sets the autonomy level, clamped to its bounds.
func (a *Base) UpdateAutonomy(v float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.autonomy = models.ClampAutonomy(v)
}

// Goals returns a snapshot copy of the goal tree.
func (a *Base) Goals() models.GoalTree {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.goals.Clone()
}

// Mode returns the current operating posture.
func (a *Base) Mode() Mode {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mode
}

// AdaptationCount returns how many times the goal tree has evolved.
func (a *Base) AdaptationCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.adaptationCount
}

// ObserveProgress records an externally measured goal-progress reading.
func (a *Base) ObserveProgress(p float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.goalProgress = clamp01(p)
	a.progressKnown = true
}

// RecordPerf appends one performance sample, evicting the oldest past
// the history cap.
func (a *Base) RecordPerf(perf models.PerfMetrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.perfHistory = appendBounded(a.perfHistory, models.PerfSample{Perf: perf, At: a.clk.Now()})
}

// RecordDecision appends one decision this agent participated in.
func (a *Base) RecordDecision(d models.Decision) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.decisionHistory = appendBounded(a.decisionHistory, d)
}

// RecentDecisions returns a copy of the decision history, oldest first.
func (a *Base) RecentDecisions() []models.Decision {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]models.Decision(nil), a.decisionHistory...)
}

// AssessState reports current performance, goal progress, and autonomy.
func (a *Base) AssessState(ctx context.Context) (models.StateAssessment, error) {
	if err := ctx.Err(); err != nil {
		return models.StateAssessment{}, fmt.Errorf("%w: assess state: %v", models.ErrCancelled, err)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	return models.StateAssessment{
		AgentID:      a.id,
		Perf:         a.currentPerfLocked(),
		GoalProgress: a.progressLocked(),
		Autonomy:     a.autonomy,
		At:           a.clk.Now(),
	}, nil
}

// EvaluateGoalProgress reports overall progress. needsAdaptation holds
// exactly when progress is below 0.6.
func (a *Base) EvaluateGoalProgress(ctx context.Context) (models.ProgressReport, error) {
	if err := ctx.Err(); err != nil {
		return models.ProgressReport{}, fmt.Errorf("%w: evaluate progress: %v", models.ErrCancelled, err)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	p := a.progressLocked()
	return models.ProgressReport{OverallProgress: p, NeedsAdaptation: p < 0.6}, nil
}

// EvolveGoals mutates the modifiable goals in response to an adaptation
// decision and returns the new tree. Decisions of any other type are a
// policy violation and leave the tree untouched.
func (a *Base) EvolveGoals(ctx context.Context, decision models.Decision) (models.GoalTree, error) {
	if err := ctx.Err(); err != nil {
		return a.Goals(), fmt.Errorf("%w: evolve goals: %v", models.ErrCancelled, err)
	}
	if decision.Type != models.DecisionAgentAdaptation {
		return a.Goals(), fmt.Errorf("%w: goals may only evolve from %s decisions, got %s",
			models.ErrPolicy, models.DecisionAgentAdaptation, decision.Type)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Shift weight toward the modifiable goals that the adaptation is
	// meant to unblock; immutable goals keep their exact priority.
	next := a.goals.Clone()
	if next.Primary.AutonomouslyModifiable {
		next.Primary.Priority = clamp01(next.Primary.Priority + 0.05)
	}
	for i := range next.Secondary {
		if next.Secondary[i].AutonomouslyModifiable {
			next.Secondary[i].Priority = clamp01(next.Secondary[i].Priority + 0.05)
		}
	}
	if err := next.Validate(); err != nil {
		return a.goals.Clone(), err
	}

	a.goals = next
	a.adaptationCount++
	a.log.Info().
		Str("decision_id", decision.ID.String()).
		Int("adaptation_count", a.adaptationCount).
		Msg("Goals evolved")
	return next.Clone(), nil
}

// ExecuteAdaptation applies the given actions in order. Unknown tags are
// warned and skipped.
func (a *Base) ExecuteAdaptation(ctx context.Context, actions []models.ActionTag) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: execute adaptation: %v", models.ErrCancelled, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, action := range actions {
		switch action {
		case models.ActionGoalAdaptation:
			// Re-balance modifiable secondary goals toward equal weight.
			for i := range a.goals.Secondary {
				if a.goals.Secondary[i].AutonomouslyModifiable {
					a.goals.Secondary[i].Priority = (a.goals.Secondary[i].Priority + 0.5) / 2
				}
			}
		case models.ActionStrategyAdjustment:
			a.strategyBias = clampBias(a.strategyBias * 0.5)
		case models.ActionIncreaseAutonomy:
			a.autonomy = models.ClampAutonomy(a.autonomy * 1.05)
		case models.ActionSwitchToPreservation:
			a.mode = ModePreservation
		case models.ActionReduceLeverage:
			a.strategyBias = clampBias(a.strategyBias - 0.25)
		case models.ActionWaitForStability:
			a.mode = ModeWaiting
		default:
			a.log.Warn().Str("action", string(action)).Msg("Unknown adaptation action ignored")
		}
	}
	return nil
}

// currentPerfLocked derives the performance triple from recent samples,
// falling back to a trait-scaled baseline before any sample exists.
func (a *Base) currentPerfLocked() models.PerfMetrics {
	if len(a.perfHistory) == 0 {
		adapt := float64(a.traits[models.TraitAdaptability]) / 100
		return models.PerfMetrics{
			Efficiency:     0.6 + 0.2*adapt,
			Accuracy:       0.7,
			Responsiveness: 0.7,
		}
	}

	n := len(a.perfHistory)
	window := a.perfHistory
	if n > 10 {
		window = a.perfHistory[n-10:]
	}
	var sum models.PerfMetrics
	for _, s := range window {
		sum.Efficiency += s.Perf.Efficiency
		sum.Accuracy += s.Perf.Accuracy
		sum.Responsiveness += s.Perf.Responsiveness
	}
	k := float64(len(window))
	return models.PerfMetrics{
		Efficiency:     sum.Efficiency / k,
		Accuracy:       sum.Accuracy / k,
		Responsiveness: sum.Responsiveness / k,
	}
}

// progressLocked returns measured progress, or 0.7 before the first
// observation so a fresh agent is never flagged for adaptation.
func (a *Base) progressLocked() float64 {
	if !a.progressKnown {
		return 0.7
	}
	return a.goalProgress
}

func appendBounded[T any](s []T, v T) []T {
	s = append(s, v)
	if len(s) > historyCap {
		s = s[len(s)-historyCap:]
	}
	return s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampBias(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
