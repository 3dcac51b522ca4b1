// Package expert implements the pure trading-methodology evaluator. Both
// entry points are deterministic functions of their inputs; no I/O, no
// clocks, no randomness.
package expert

import (
	"fmt"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"

	"github.com/ajitpratap0/btcintel/internal/models"
)

// Regime classifies the current market state.
type Regime string

const (
	RegimeTrending Regime = "TRENDING"
	RegimeChoppy   Regime = "CHOPPY_RANGE_BOUND"
	RegimeVolSpike Regime = "HIGH_VOLATILITY_SPIKE"
)

// Action is the expert's trade recommendation.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// MaxSizeFraction is the hard risk-per-trade cap.
const MaxSizeFraction = 0.02

// SystemContext carries the non-market inputs the expert weighs.
type SystemContext struct {
	// Closes are recent daily closing prices, oldest first. May be empty;
	// the expert then falls back to the 24h change alone.
	Closes []float64
	// LearningRate is the current system learning-rate scalar.
	LearningRate float64
	// SystemEfficiency is the orchestrator's phase-1 efficiency reading.
	SystemEfficiency float64
}

// Decision is the expert's verdict for one cycle.
type Decision struct {
	Regime       Regime   `json:"regime"`
	Action       Action   `json:"action"`
	SizeFraction float64  `json:"size_fraction"` // [0, MaxSizeFraction]
	Confidence   float64  `json:"confidence"`    // [0,1]
	Reasoning    string   `json:"reasoning"`
	Principles   []string `json:"principles"`
}

// Verdict grades system performance.
type Verdict string

const (
	VerdictOK       Verdict = "OK"
	VerdictWatch    Verdict = "WATCH"
	VerdictHighRisk Verdict = "HIGH_RISK"
)

// PerformanceReview is the output of ValidatePerformanceExpert.
type PerformanceReview struct {
	Verdict Verdict  `json:"verdict"`
	Focus   string   `json:"focus"`
	Issues  []string `json:"issues"`
}

var principles = []string{
	"never risk more than 2% of capital on a single position",
	"trade with the regime, not against it",
	"in a volatility spike, capital preservation outranks opportunity",
	"position size scales with confidence, never above the cap",
}

// MakeExpertDecision evaluates the market and portfolio against the
// methodology and returns a trade verdict.
func MakeExpertDecision(market models.MarketSnapshot, portfolio models.Portfolio, sysCtx SystemContext) Decision {
	regime, trendUp := classifyRegime(market, sysCtx.Closes)

	d := Decision{
		Regime:     regime,
		Action:     ActionHold,
		Principles: principles,
	}

	switch regime {
	case RegimeVolSpike:
		d.SizeFraction = 0
		d.Confidence = 0.8
		d.Reasoning = fmt.Sprintf(
			"24h change %.1f%% marks a volatility spike; holding and preserving capital", market.Change24h)
		return d

	case RegimeChoppy:
		d.SizeFraction = 0
		d.Confidence = 0.6
		d.Reasoning = "range-bound market offers no edge; waiting for a regime break"
		return d
	}

	// Trending regime: trade with the trend, tempered by sentiment and
	// momentum.
	rsi := lastRSI(sysCtx.Closes)
	switch {
	case trendUp && market.FearGreed > 75:
		d.Action = ActionHold
		d.Confidence = 0.55
		d.Reasoning = fmt.Sprintf("uptrend but fear & greed %d signals euphoria; not chasing", market.FearGreed)
	case trendUp && rsi > 70:
		d.Action = ActionHold
		d.Confidence = 0.55
		d.Reasoning = fmt.Sprintf("uptrend but RSI %.0f is overbought; waiting for a pullback", rsi)
	case trendUp:
		d.Action = ActionBuy
		d.Confidence = 0.7
		if market.FearGreed > 0 && market.FearGreed < 25 {
			// Contrarian bonus: trend up out of extreme fear.
			d.Confidence = 0.8
		}
		d.Reasoning = "uptrend with sentiment headroom; accumulating"
	case portfolio.BTC > 0:
		d.Action = ActionSell
		d.Confidence = 0.65
		d.Reasoning = "downtrend with exposure on; reducing position"
	default:
		d.Action = ActionHold
		d.Confidence = 0.6
		d.Reasoning = "downtrend and no exposure; staying in cash"
	}

	if d.Action != ActionHold {
		d.SizeFraction = clampSize(MaxSizeFraction * d.Confidence)
	}
	return d
}

// ValidatePerformanceExpert reviews aggregate performance and flags risk.
func ValidatePerformanceExpert(pm models.PerformanceMetrics, successRate float64) PerformanceReview {
	var issues []string

	if successRate < 0.4 {
		issues = append(issues, fmt.Sprintf("decision success rate %.2f below 0.40", successRate))
	} else if successRate < 0.6 {
		issues = append(issues, fmt.Sprintf("decision success rate %.2f below 0.60", successRate))
	}
	if pm.TotalTrades > 0 && pm.PortfolioUSD > 0 && pm.TradedValueUSD > pm.PortfolioUSD*5 {
		issues = append(issues, "turnover exceeds 5x portfolio value; overtrading")
	}
	if pm.TotalTrades > 0 && pm.SellTrades == 0 {
		issues = append(issues, "no position has ever been reduced; exit discipline untested")
	}

	review := PerformanceReview{Verdict: VerdictOK, Focus: "maintain current discipline", Issues: issues}
	switch {
	case successRate < 0.4:
		review.Verdict = VerdictHighRisk
		review.Focus = "halt expansion; review failing decision pathways"
	case len(issues) > 0:
		review.Verdict = VerdictWatch
		review.Focus = "tighten decision quality before scaling"
	}
	return review
}

// classifyRegime returns the regime and, when trending, the direction.
func classifyRegime(market models.MarketSnapshot, closes []float64) (Regime, bool) {
	if market.Change24h > 8 || market.Change24h < -8 {
		return RegimeVolSpike, false
	}

	if len(closes) >= 10 {
		fast := lastEMA(closes, 5)
		slow := lastEMA(closes, 10)
		if slow > 0 {
			div := (fast - slow) / slow
			if div > 0.01 {
				return RegimeTrending, true
			}
			if div < -0.01 {
				return RegimeTrending, false
			}
		}
		return RegimeChoppy, false
	}

	// Not enough history: fall back to the 24h change.
	if market.Change24h > 3 {
		return RegimeTrending, true
	}
	if market.Change24h < -3 {
		return RegimeTrending, false
	}
	return RegimeChoppy, false
}

func lastEMA(closes []float64, period int) float64 {
	ema := trend.NewEmaWithPeriod[float64](period)
	return lastOf(ema.Compute(sliceToChan(closes)))
}

// lastRSI returns the most recent 14-period RSI, or 50 when history is
// too short to compute one.
func lastRSI(closes []float64) float64 {
	if len(closes) < 15 {
		return 50
	}
	rsi := momentum.NewRsiWithPeriod[float64](14)
	return lastOf(rsi.Compute(sliceToChan(closes)))
}

func sliceToChan(values []float64) chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

func lastOf(ch <-chan float64) float64 {
	var last float64
	for v := range ch {
		last = v
	}
	return last
}

func clampSize(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > MaxSizeFraction {
		return MaxSizeFraction
	}
	return v
}
