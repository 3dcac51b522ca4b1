package orchestrator

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/btcintel/internal/models"
)

// contestedKPIs are KPIs that different agents pull in opposite
// directions: sharing one raises conflict severity much more than
// sharing a neutral KPI.
var contestedKPIs = map[string]bool{
	"portfolio_value": true,
	"drawdown":        true,
	"exposure":        true,
}

// Conflict is the outcome of analyzing one agent pair.
type Conflict struct {
	A           models.AgentID
	B           models.AgentID
	Severity    float64 // [0,1]
	Description string
}

// AnalyzeConflict scores goal tension between two agents from their KPI
// overlap. Disjoint KPI sets cannot conflict; overlap on contested KPIs
// dominates the score.
func AnalyzeConflict(aID models.AgentID, aGoals models.GoalTree, bID models.AgentID, bGoals models.GoalTree) Conflict {
	aKPIs := aGoals.AllKPIs()
	bKPIs := bGoals.AllKPIs()

	inA := make(map[string]bool, len(aKPIs))
	for _, k := range aKPIs {
		inA[k] = true
	}

	var shared, contested []string
	for _, k := range bKPIs {
		if inA[k] {
			shared = append(shared, k)
			if contestedKPIs[k] {
				contested = append(contested, k)
			}
		}
	}

	union := len(aKPIs) + len(bKPIs) - len(shared)
	if union == 0 || len(shared) == 0 {
		return Conflict{A: aID, B: bID, Severity: 0, Description: "no shared KPIs"}
	}

	jaccard := float64(len(shared)) / float64(union)
	contestedScore := 0.35 * float64(len(contested))
	if contestedScore > 1 {
		contestedScore = 1
	}

	severity := 0.3*jaccard + 0.7*contestedScore
	if severity > 1 {
		severity = 1
	}
	return Conflict{
		A:        aID,
		B:        bID,
		Severity: severity,
		Description: fmt.Sprintf("%s and %s both steer %s",
			aID, bID, strings.Join(shared, ", ")),
	}
}
