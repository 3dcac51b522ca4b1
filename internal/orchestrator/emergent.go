package orchestrator

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/btcintel/internal/models"
)

// emergentMinAgents is how many distinct agents must converge on the
// same decision type before the pattern counts as emergent.
const emergentMinAgents = 3

// emergentWindow bounds how far back the detector looks.
const emergentWindow = time.Hour

// EmergentBehavior is a coordinated decision pattern no single agent
// requested.
type EmergentBehavior struct {
	Type        string
	Description string
	Beneficial  bool
	Strength    float64 // [0,1]
}

// DetectEmergent scans recent decisions for decision types that several
// agents converged on within the window. A pattern is beneficial when
// the mean execution quality of its decisions exceeds 0.6.
func DetectEmergent(decisions []models.Decision, results map[uuid.UUID]models.ExecutionResult,
	now time.Time) []EmergentBehavior {

	type group struct {
		agents    map[models.AgentID]bool
		qualities []float64
	}
	groups := make(map[models.DecisionType]*group)

	for _, d := range decisions {
		if now.Sub(d.At) > emergentWindow || d.AgentID == "" {
			continue
		}
		g, ok := groups[d.Type]
		if !ok {
			g = &group{agents: make(map[models.AgentID]bool)}
			groups[d.Type] = g
		}
		g.agents[d.AgentID] = true
		if r, ok := results[d.ID]; ok {
			g.qualities = append(g.qualities, r.Quality)
		}
	}

	var out []EmergentBehavior
	for dt, g := range groups {
		if len(g.agents) < emergentMinAgents {
			continue
		}

		var mean float64
		for _, q := range g.qualities {
			mean += q
		}
		if len(g.qualities) > 0 {
			mean /= float64(len(g.qualities))
		}

		strength := float64(len(g.agents)) / 5
		if strength > 1 {
			strength = 1
		}
		out = append(out, EmergentBehavior{
			Type:        "COORDINATED_" + string(dt),
			Description: fmt.Sprintf("%d agents converged on %s decisions", len(g.agents), dt),
			Beneficial:  mean > 0.6,
			Strength:    strength,
		})
	}
	return out
}
