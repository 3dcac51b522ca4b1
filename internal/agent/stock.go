package agent

import (
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/btcintel/internal/bus"
	"github.com/ajitpratap0/btcintel/internal/clock"
	"github.com/ajitpratap0/btcintel/internal/models"
)

// Stock agent identifiers.
const (
	IDStrategicOrchestrator models.AgentID = "strategic-orchestrator"
	IDMarketHunter          models.AgentID = "market-hunter"
	IDPerformanceAnalyst    models.AgentID = "performance-analyst"
	IDRiskSentinel          models.AgentID = "risk-sentinel"
	IDNarrativeScout        models.AgentID = "narrative-scout"
)

// StockSpecs returns the five built-in agent definitions.
func StockSpecs() []Spec {
	return []Spec{
		{
			ID:       IDStrategicOrchestrator,
			Autonomy: 0.95,
			Traits: models.Traits{
				models.TraitCuriosity:      60,
				models.TraitAggressiveness: 50,
				models.TraitPatience:       80,
				models.TraitSkepticism:     70,
				models.TraitAdaptability:   85,
			},
			Goals: models.GoalTree{
				Primary: models.Goal{
					ID:          "maximize-risk-adjusted-growth",
					Description: "Grow total portfolio value without breaching risk limits",
					Priority:    1.0,
					KPIs:        []string{"portfolio_value", "decision_success_rate", "drawdown"},
				},
				Secondary: []models.Goal{
					{
						ID:                     "improve-coordination",
						Description:            "Raise cross-agent decision quality",
						Priority:               0.6,
						KPIs:                   []string{"decision_success_rate", "conflict_rate"},
						AutonomouslyModifiable: true,
					},
				},
			},
		},
		{
			ID:       IDMarketHunter,
			Autonomy: 0.85,
			Traits: models.Traits{
				models.TraitCuriosity:      90,
				models.TraitAggressiveness: 70,
				models.TraitPatience:       40,
				models.TraitSkepticism:     50,
				models.TraitAdaptability:   75,
			},
			Goals: models.GoalTree{
				Primary: models.Goal{
					ID:          "find-alpha-signals",
					Description: "Surface high-confidence market signals before they are priced in",
					Priority:    1.0,
					KPIs:        []string{"signal_quality", "signal_lead_time", "source_hit_rate"},
				},
				Secondary: []models.Goal{
					{
						ID:                     "widen-source-coverage",
						Description:            "Keep exploring under-used data sources",
						Priority:               0.5,
						KPIs:                   []string{"source_coverage"},
						AutonomouslyModifiable: true,
					},
				},
			},
		},
		{
			ID:       IDPerformanceAnalyst,
			Autonomy: 0.80,
			Traits: models.Traits{
				models.TraitCuriosity:      55,
				models.TraitAggressiveness: 30,
				models.TraitPatience:       85,
				models.TraitSkepticism:     90,
				models.TraitAdaptability:   60,
			},
			Goals: models.GoalTree{
				Primary: models.Goal{
					ID:          "audit-decision-quality",
					Description: "Measure and report the quality of every executed decision",
					Priority:    1.0,
					KPIs:        []string{"decision_success_rate", "quality_score"},
				},
				Secondary: []models.Goal{
					{
						ID:                     "surface-failure-modes",
						Description:            "Identify recurring causes of failed decisions",
						Priority:               0.7,
						KPIs:                   []string{"failure_recurrence"},
						AutonomouslyModifiable: true,
					},
				},
			},
		},
		{
			ID:       IDRiskSentinel,
			Autonomy: 0.75,
			Traits: models.Traits{
				models.TraitCuriosity:      40,
				models.TraitAggressiveness: 10,
				models.TraitPatience:       95,
				models.TraitSkepticism:     95,
				models.TraitAdaptability:   50,
			},
			Goals: models.GoalTree{
				Primary: models.Goal{
					ID:          "minimize-drawdown",
					Description: "Keep portfolio drawdown inside the tolerated band",
					Priority:    1.0,
					// drawdown is shared with the growth goal on purpose;
					// pulling it down conflicts with pushing value up.
					KPIs: []string{"drawdown", "exposure", "portfolio_value"},
				},
				Secondary: []models.Goal{
					{
						ID:          "enforce-position-cap",
						Description: "Veto any position above the 2% risk cap",
						Priority:    0.9,
						KPIs:        []string{"exposure"},
					},
				},
			},
		},
		{
			ID:       IDNarrativeScout,
			Autonomy: 0.80,
			Traits: models.Traits{
				models.TraitCuriosity:      95,
				models.TraitAggressiveness: 45,
				models.TraitPatience:       50,
				models.TraitSkepticism:     35,
				models.TraitAdaptability:   80,
			},
			Goals: models.GoalTree{
				Primary: models.Goal{
					ID:          "track-market-narratives",
					Description: "Detect sentiment and narrative shifts early",
					Priority:    1.0,
					KPIs:        []string{"narrative_lead_time", "sentiment_accuracy"},
				},
				Secondary: []models.Goal{
					{
						ID:                     "map-influencer-network",
						Description:            "Maintain a ranked map of market-moving voices",
						Priority:               0.4,
						KPIs:                   []string{"influencer_coverage"},
						AutonomouslyModifiable: true,
					},
				},
			},
		},
	}
}

// NewStockAgents constructs the five built-in agents on the given bus.
func NewStockAgents(b *bus.Bus, clk clock.Clock, log zerolog.Logger) ([]*Base, error) {
	specs := StockSpecs()
	out := make([]*Base, 0, len(specs))
	for _, spec := range specs {
		a, err := New(spec, b, clk, log)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
