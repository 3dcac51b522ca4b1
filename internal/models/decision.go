package models

import (
	"time"

	"github.com/google/uuid"
)

// DecisionType classifies an autonomous decision made during a strategic
// cycle.
type DecisionType string

const (
	DecisionSystemRealignment      DecisionType = "SYSTEM_REALIGNMENT"
	DecisionAgentAdaptation        DecisionType = "AGENT_ADAPTATION"
	DecisionConflictResolution     DecisionType = "CONFLICT_RESOLUTION"
	DecisionAmplifyEmergent        DecisionType = "AMPLIFY_EMERGENT_BEHAVIOR"
	DecisionExpertRiskControl      DecisionType = "EXPERT_RISK_CONTROL"
	DecisionExpertRegimeAdaptation DecisionType = "EXPERT_REGIME_ADAPTATION"
	DecisionExpertIntegration      DecisionType = "EXPERT_METHODOLOGY_INTEGRATION"
)

// Priority orders decision execution within a cycle.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns the sort rank of a priority, lower executes first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// RiskLevel grades the risk attached to a decision.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ActionTag names a concrete adaptation action handed to an agent.
type ActionTag string

const (
	ActionGoalAdaptation       ActionTag = "GOAL_ADAPTATION"
	ActionStrategyAdjustment   ActionTag = "STRATEGY_ADJUSTMENT"
	ActionIncreaseAutonomy     ActionTag = "INCREASE_AUTONOMY"
	ActionSwitchToPreservation ActionTag = "SWITCH_TO_PRESERVATION"
	ActionReduceLeverage       ActionTag = "REDUCE_LEVERAGE"
	ActionWaitForStability     ActionTag = "WAIT_FOR_STABILITY"
)

// Decision is a recorded intent to act, always paired with an execution
// outcome before it is persisted.
type Decision struct {
	ID                  uuid.UUID              `json:"id"`
	AgentID             AgentID                `json:"agent_id"`
	CycleID             string                 `json:"cycle_id"`
	Type                DecisionType           `json:"type"`
	Rationale           string                 `json:"rationale"`
	Inputs              map[string]interface{} `json:"inputs,omitempty"`
	Alternatives        []string               `json:"alternatives,omitempty"`
	Selected            string                 `json:"selected"`
	Confidence          float64                `json:"confidence"` // [0,1]
	RiskAssessment      RiskLevel              `json:"risk_assessment"`
	Action              string                 `json:"action"`
	Actions             []ActionTag            `json:"actions,omitempty"`
	Parameters          map[string]interface{} `json:"parameters,omitempty"`
	ExpectedResult      string                 `json:"expected_result"`
	Priority            Priority               `json:"priority"`
	ExpectedImprovement float64                `json:"expected_improvement"`
	ExpectedDurationMS  int64                  `json:"expected_duration_ms"`
	AutonomyAtDecision  float64                `json:"autonomy_at_decision"`
	GoalsSnapshot       *GoalTree              `json:"goals_snapshot,omitempty"`
	At                  time.Time              `json:"at"`
}

// ExecutionResult is the recorded outcome of executing one decision.
type ExecutionResult struct {
	DecisionID uuid.UUID    `json:"decision_id"`
	Type       DecisionType `json:"type"`
	Success    bool         `json:"success"`
	Quality    float64      `json:"quality_score"` // [0,1]
	DurationMS int64        `json:"duration_ms"`
	Error      string       `json:"error,omitempty"`
	At         time.Time    `json:"at"`
}

// AgentExecution is one row of the append-only agent execution log.
type AgentExecution struct {
	AgentID    AgentID                `json:"agent_id"`
	Type       string                 `json:"type"`
	Inputs     map[string]interface{} `json:"inputs,omitempty"`
	Outputs    map[string]interface{} `json:"outputs,omitempty"`
	Success    bool                   `json:"success"`
	DurationMS int64                  `json:"duration_ms"`
	Error      string                 `json:"error,omitempty"`
	At         time.Time              `json:"at"`
}

// CycleSummary aggregates one strategic cycle for persistence.
type CycleSummary struct {
	CycleID            string    `json:"cycle_id"`
	SystemEfficiency   float64   `json:"system_efficiency"`
	StrategicAlignment float64   `json:"strategic_alignment"`
	AdaptationCapacity float64   `json:"adaptation_capacity"`
	Decisions          int       `json:"decisions"`
	Successes          int       `json:"successes"`
	LearningRate       float64   `json:"learning_rate"`
	DurationMS         int64     `json:"duration_ms"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
}
