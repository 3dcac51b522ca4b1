package orchestrator

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/btcintel/internal/models"
)

func TestDetectEmergentCoordination(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	var decisions []models.Decision
	results := make(map[uuid.UUID]models.ExecutionResult)
	for _, id := range []models.AgentID{"a", "b", "c"} {
		d := models.Decision{
			ID:      uuid.New(),
			AgentID: id,
			Type:    models.DecisionAgentAdaptation,
			At:      now.Add(-10 * time.Minute),
		}
		decisions = append(decisions, d)
		results[d.ID] = models.ExecutionResult{Quality: 0.8}
	}

	out := DetectEmergent(decisions, results, now)
	require.Len(t, out, 1)
	assert.Equal(t, "COORDINATED_AGENT_ADAPTATION", out[0].Type)
	assert.True(t, out[0].Beneficial, "mean quality 0.8 exceeds 0.6")
	assert.InDelta(t, 0.6, out[0].Strength, 1e-9)
}

func TestDetectEmergentRequiresThreeAgents(t *testing.T) {
	now := time.Now()
	decisions := []models.Decision{
		{ID: uuid.New(), AgentID: "a", Type: models.DecisionAgentAdaptation, At: now},
		{ID: uuid.New(), AgentID: "b", Type: models.DecisionAgentAdaptation, At: now},
		// Same agent again does not widen the pattern.
		{ID: uuid.New(), AgentID: "b", Type: models.DecisionAgentAdaptation, At: now},
	}
	assert.Empty(t, DetectEmergent(decisions, nil, now))
}

func TestDetectEmergentLowQualityNotBeneficial(t *testing.T) {
	now := time.Now()
	var decisions []models.Decision
	results := make(map[uuid.UUID]models.ExecutionResult)
	for _, id := range []models.AgentID{"a", "b", "c"} {
		d := models.Decision{ID: uuid.New(), AgentID: id, Type: models.DecisionConflictResolution, At: now}
		decisions = append(decisions, d)
		results[d.ID] = models.ExecutionResult{Quality: 0.4}
	}

	out := DetectEmergent(decisions, results, now)
	require.Len(t, out, 1)
	assert.False(t, out[0].Beneficial)
}

func TestDetectEmergentIgnoresStaleDecisions(t *testing.T) {
	now := time.Now()
	var decisions []models.Decision
	for _, id := range []models.AgentID{"a", "b", "c"} {
		decisions = append(decisions, models.Decision{
			ID: uuid.New(), AgentID: id, Type: models.DecisionAgentAdaptation,
			At: now.Add(-2 * time.Hour),
		})
	}
	assert.Empty(t, DetectEmergent(decisions, nil, now))
}
