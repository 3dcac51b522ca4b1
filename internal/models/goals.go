// Package models defines the domain entities shared by the orchestrator,
// the market hunter, and the persistence layer.
package models

import (
	"fmt"
	"time"
)

// AgentID is a stable opaque identifier, unique within the registry.
type AgentID string

// BroadcastID addresses every registered agent on the message bus.
const BroadcastID AgentID = "*"

// TraitName is the closed set of personality traits an agent carries.
type TraitName string

const (
	TraitCuriosity      TraitName = "curiosity"
	TraitAggressiveness TraitName = "aggressiveness"
	TraitPatience       TraitName = "patience"
	TraitSkepticism     TraitName = "skepticism"
	TraitAdaptability   TraitName = "adaptability"
)

// Traits maps trait names to intensities in [0,100].
type Traits map[TraitName]int

// Validate checks trait bounds.
func (t Traits) Validate() error {
	for name, v := range t {
		if v < 0 || v > 100 {
			return fmt.Errorf("%w: trait %s=%d outside [0,100]", ErrPolicy, name, v)
		}
	}
	return nil
}

// Goal is a single objective with KPIs and a modifiability flag.
type Goal struct {
	ID                     string   `json:"id"`
	Description            string   `json:"description"`
	Priority               float64  `json:"priority"` // [0,1]
	KPIs                   []string `json:"kpis"`
	AutonomouslyModifiable bool     `json:"autonomously_modifiable"`
}

// GoalTree is an agent's primary goal plus ordered secondary goals.
type GoalTree struct {
	Primary   Goal   `json:"primary"`
	Secondary []Goal `json:"secondary"`
}

// Validate enforces the tree invariants: exactly one primary goal with a
// non-empty id, and all goal ids unique within the tree.
func (g GoalTree) Validate() error {
	if g.Primary.ID == "" {
		return fmt.Errorf("%w: goal tree has no primary goal", ErrPolicy)
	}
	seen := map[string]bool{g.Primary.ID: true}
	for _, sg := range g.Secondary {
		if sg.ID == "" {
			return fmt.Errorf("%w: secondary goal with empty id", ErrPolicy)
		}
		if seen[sg.ID] {
			return fmt.Errorf("%w: duplicate goal id %q", ErrPolicy, sg.ID)
		}
		seen[sg.ID] = true
	}
	return nil
}

// Clone returns a deep copy so callers can hand out snapshots without
// exposing the agent's private tree.
func (g GoalTree) Clone() GoalTree {
	out := GoalTree{Primary: g.Primary.clone()}
	if len(g.Secondary) > 0 {
		out.Secondary = make([]Goal, len(g.Secondary))
		for i, sg := range g.Secondary {
			out.Secondary[i] = sg.clone()
		}
	}
	return out
}

func (g Goal) clone() Goal {
	cp := g
	if len(g.KPIs) > 0 {
		cp.KPIs = append([]string(nil), g.KPIs...)
	}
	return cp
}

// AllKPIs returns the union of KPI names across the tree.
func (g GoalTree) AllKPIs() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(kpis []string) {
		for _, k := range kpis {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	add(g.Primary.KPIs)
	for _, sg := range g.Secondary {
		add(sg.KPIs)
	}
	return out
}

// PerfMetrics is an agent's self-reported performance triple, each in [0,1].
type PerfMetrics struct {
	Efficiency     float64 `json:"efficiency"`
	Accuracy       float64 `json:"accuracy"`
	Responsiveness float64 `json:"responsiveness"`
}

// PerfSample is one timestamped performance observation.
type PerfSample struct {
	Perf PerfMetrics `json:"perf"`
	At   time.Time   `json:"at"`
}

// StateAssessment is the result of an agent's AssessState hook.
type StateAssessment struct {
	AgentID      AgentID     `json:"agent_id"`
	Perf         PerfMetrics `json:"perf"`
	GoalProgress float64     `json:"goal_progress"`
	Autonomy     float64     `json:"autonomy"`
	At           time.Time   `json:"at"`
}

// ProgressReport is the result of an agent's EvaluateGoalProgress hook.
// NeedsAdaptation holds exactly when OverallProgress < 0.6.
type ProgressReport struct {
	OverallProgress float64 `json:"overall_progress"`
	NeedsAdaptation bool    `json:"needs_adaptation"`
}

// Autonomy bounds enforced on every update.
const (
	AutonomyMin = 0.30
	AutonomyMax = 0.99
)

// ClampAutonomy forces a into [AutonomyMin, AutonomyMax].
func ClampAutonomy(a float64) float64 {
	if a < AutonomyMin {
		return AutonomyMin
	}
	if a > AutonomyMax {
		return AutonomyMax
	}
	return a
}
