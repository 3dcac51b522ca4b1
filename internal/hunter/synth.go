package hunter

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/cinar/indicator/v2/momentum"

	"github.com/ajitpratap0/btcintel/internal/agent"
	"github.com/ajitpratap0/btcintel/internal/marketdata"
	"github.com/ajitpratap0/btcintel/internal/models"
)

// Signal labels.
const (
	LabelWhaleMovement    = "WHALE_MOVEMENT"
	LabelPositiveNarr     = "POSITIVE_NARRATIVE"
	LabelPriceDislocation = "PRICE_DISLOCATION"
	LabelInfluencerBuzz   = "INFLUENCER_BUZZ"
	LabelOversold         = "OVERSOLD"
	LabelOverbought       = "OVERBOUGHT"
	LabelInstitutional    = "INSTITUTIONAL_ACCUMULATION"
	LabelExtremeFunding   = "EXTREME_FUNDING"
	LabelExtremeGreed     = "EXTREME_GREED"
	LabelExtremeFear      = "EXTREME_FEAR"
)

// Synthesis thresholds.
const (
	whaleThresholdBTC       = 100.0
	bullishThemeThreshold   = 3
	institutionalUSDFloor   = 50e9
	extremeFundingThreshold = 0.05
	greedThreshold          = 75
	fearThreshold           = 25
)

var bullishThemes = []string{
	"adoption", "etf", "institutional", "rally", "surge",
	"bullish", "accumulat", "inflow", "upgrade", "halving",
}

var targetsByLabel = map[string][]models.AgentID{
	LabelWhaleMovement:    {agent.IDStrategicOrchestrator, agent.IDRiskSentinel},
	LabelPositiveNarr:     {agent.IDNarrativeScout, agent.IDStrategicOrchestrator},
	LabelPriceDislocation: {agent.IDStrategicOrchestrator},
	LabelInfluencerBuzz:   {agent.IDNarrativeScout},
	LabelOversold:         {agent.IDStrategicOrchestrator},
	LabelOverbought:       {agent.IDStrategicOrchestrator, agent.IDRiskSentinel},
	LabelInstitutional:    {agent.IDStrategicOrchestrator},
	LabelExtremeFunding:   {agent.IDRiskSentinel, agent.IDStrategicOrchestrator},
	LabelExtremeGreed:     {agent.IDRiskSentinel, agent.IDNarrativeScout},
	LabelExtremeFear:      {agent.IDStrategicOrchestrator, agent.IDNarrativeScout},
}

// synthesize turns one source's raw data into zero or more signals.
func synthesize(data *marketdata.SourceData, now time.Time) []models.Signal {
	switch data.Kind {
	case models.SourceWhale:
		return synthWhale(data, now)
	case models.SourceNarrative:
		return synthNarrative(data, now)
	case models.SourceArbitrage:
		return synthArbitrage(data, now)
	case models.SourceInfluencer:
		return synthInfluencer(data, now)
	case models.SourceTechnical:
		return synthTechnical(data, now)
	case models.SourceInstitutional:
		return synthInstitutional(data, now)
	case models.SourceDerivative:
		return synthDerivative(data, now)
	case models.SourceMacro:
		return synthMacro(data, now)
	default:
		return nil
	}
}

func newSignal(kind models.SourceKind, label string, severity models.Severity, confidence float64, payload interface{}, at time.Time) models.Signal {
	raw, _ := json.Marshal(payload)
	return models.Signal{
		Kind:       kind,
		Label:      label,
		Severity:   severity,
		Confidence: clampConf(confidence),
		Targets:    targetsByLabel[label],
		Payload:    raw,
		At:         at,
	}
}

func synthWhale(data *marketdata.SourceData, now time.Time) []models.Signal {
	var out []models.Signal
	for _, tx := range data.WhaleTxs {
		if tx.AmountBTC > whaleThresholdBTC {
			out = append(out, newSignal(data.Kind, LabelWhaleMovement, models.SeverityHigh,
				0.5+tx.AmountBTC/1000, tx, now))
		}
	}
	return out
}

func synthNarrative(data *marketdata.SourceData, now time.Time) []models.Signal {
	themes := map[string]bool{}
	for _, item := range data.News {
		title := strings.ToLower(item.Title)
		for _, theme := range bullishThemes {
			if strings.Contains(title, theme) {
				themes[theme] = true
			}
		}
	}
	if len(themes) < bullishThemeThreshold {
		return nil
	}
	return []models.Signal{newSignal(data.Kind, LabelPositiveNarr, models.SeverityMedium,
		0.5+0.05*float64(len(themes)), struct {
			Themes int `json:"themes"`
		}{len(themes)}, now)}
}

func synthArbitrage(data *marketdata.SourceData, now time.Time) []models.Signal {
	if len(data.Quotes) < 2 {
		return nil
	}
	lo, hi := data.Quotes[0].PriceUSD, data.Quotes[0].PriceUSD
	for _, q := range data.Quotes[1:] {
		if q.PriceUSD < lo {
			lo = q.PriceUSD
		}
		if q.PriceUSD > hi {
			hi = q.PriceUSD
		}
	}
	if lo <= 0 {
		return nil
	}
	spread := (hi - lo) / lo
	if spread < 0.005 {
		return nil
	}
	return []models.Signal{newSignal(data.Kind, LabelPriceDislocation, models.SeverityMedium,
		0.5+spread*20, struct {
			SpreadPct float64 `json:"spread_pct"`
		}{spread * 100}, now)}
}

func synthInfluencer(data *marketdata.SourceData, now time.Time) []models.Signal {
	bullish := 0
	for _, m := range data.Mentions {
		text := strings.ToLower(m.Text)
		for _, theme := range bullishThemes {
			if strings.Contains(text, theme) {
				bullish++
				break
			}
		}
	}
	if bullish < 5 {
		return nil
	}
	return []models.Signal{newSignal(data.Kind, LabelInfluencerBuzz, models.SeverityMedium,
		0.5+0.02*float64(bullish), struct {
			BullishMentions int `json:"bullish_mentions"`
		}{bullish}, now)}
}

func synthTechnical(data *marketdata.SourceData, now time.Time) []models.Signal {
	if len(data.Candles) < 15 {
		return nil
	}
	closes := make(chan float64, len(data.Candles))
	for _, c := range data.Candles {
		closes <- c.Close
	}
	close(closes)

	var rsi float64
	for v := range momentum.NewRsiWithPeriod[float64](14).Compute(closes) {
		rsi = v
	}

	payload := struct {
		RSI float64 `json:"rsi"`
	}{rsi}
	switch {
	case rsi < 30:
		return []models.Signal{newSignal(data.Kind, LabelOversold, models.SeverityMedium,
			0.6+(30-rsi)/100, payload, now)}
	case rsi > 70:
		return []models.Signal{newSignal(data.Kind, LabelOverbought, models.SeverityMedium,
			0.6+(rsi-70)/100, payload, now)}
	}
	return nil
}

func synthInstitutional(data *marketdata.SourceData, now time.Time) []models.Signal {
	var totalUSD float64
	for _, h := range data.Holdings {
		totalUSD += h.ValueUSD
	}
	if totalUSD <= institutionalUSDFloor {
		return nil
	}
	return []models.Signal{newSignal(data.Kind, LabelInstitutional, models.SeverityHigh,
		0.7, struct {
			TotalUSD float64 `json:"total_usd"`
		}{totalUSD}, now)}
}

func synthDerivative(data *marketdata.SourceData, now time.Time) []models.Signal {
	rate := data.FundingRate
	abs := rate
	if abs < 0 {
		abs = -abs
	}
	if abs <= extremeFundingThreshold {
		return nil
	}
	return []models.Signal{newSignal(data.Kind, LabelExtremeFunding, models.SeverityCritical,
		0.9, struct {
			FundingRate float64 `json:"funding_rate"`
		}{rate}, now)}
}

func synthMacro(data *marketdata.SourceData, now time.Time) []models.Signal {
	payload := struct {
		FearGreed int `json:"fear_greed"`
	}{data.FearGreed}
	switch {
	case data.FearGreed > greedThreshold:
		return []models.Signal{newSignal(data.Kind, LabelExtremeGreed, models.SeverityMedium, 0.7, payload, now)}
	case data.FearGreed < fearThreshold:
		return []models.Signal{newSignal(data.Kind, LabelExtremeFear, models.SeverityMedium, 0.7, payload, now)}
	}
	return nil
}

func clampConf(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
