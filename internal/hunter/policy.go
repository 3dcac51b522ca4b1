package hunter

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/btcintel/internal/models"
)

// Volatility band of the current market.
type Volatility string

const (
	VolLow    Volatility = "low"
	VolMedium Volatility = "medium"
	VolHigh   Volatility = "high"
)

// Trend direction of the current market.
type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendNeutral Trend = "neutral"
)

// VolumeBand of the current market.
type VolumeBand string

const (
	VolumeLow    VolumeBand = "low"
	VolumeMedium VolumeBand = "medium"
	VolumeHigh   VolumeBand = "high"
)

// Session is the active trading session by UTC hour.
type Session string

const (
	SessionAsian    Session = "asian"
	SessionEuropean Session = "european"
	SessionAmerican Session = "american"
	SessionOverlap  Session = "overlap"
)

// MarketContext summarizes market conditions for source selection.
type MarketContext struct {
	Volatility Volatility `json:"volatility"`
	Trend      Trend      `json:"trend"`
	Volume     VolumeBand `json:"volume"`
	Session    Session    `json:"session"`
	FearGreed  int        `json:"fear_greed"`
}

// AssessContext derives the market context from a snapshot and the wall
// clock.
func AssessContext(snap models.MarketSnapshot, now time.Time) MarketContext {
	ctx := MarketContext{
		Volatility: VolLow,
		Trend:      TrendNeutral,
		Volume:     VolumeLow,
		Session:    sessionAt(now),
		FearGreed:  snap.FearGreed,
	}

	change := snap.Change24h
	if change < 0 {
		change = -change
	}
	switch {
	case change > 5:
		ctx.Volatility = VolHigh
	case change > 2:
		ctx.Volatility = VolMedium
	}

	switch {
	case snap.Change24h > 1:
		ctx.Trend = TrendBullish
	case snap.Change24h < -1:
		ctx.Trend = TrendBearish
	}

	switch {
	case snap.Volume24h > 40e9:
		ctx.Volume = VolumeHigh
	case snap.Volume24h > 20e9:
		ctx.Volume = VolumeMedium
	}
	return ctx
}

func sessionAt(now time.Time) Session {
	switch h := now.UTC().Hour(); {
	case h < 7:
		return SessionAsian
	case h < 12:
		return SessionEuropean
	case h < 16:
		return SessionOverlap
	case h < 21:
		return SessionAmerican
	default:
		return SessionAsian
	}
}

// Rule weights one source's relevance against the market context. The
// final relevance is the base plus every modifier that applies, clamped
// to [0,1].
type Rule struct {
	Base             float64             `yaml:"base"`
	HighVolatility   float64             `yaml:"high_volatility"`
	Bullish          float64             `yaml:"bullish"`
	Bearish          float64             `yaml:"bearish"`
	HighVolume       float64             `yaml:"high_volume"`
	ExtremeSentiment float64             `yaml:"extreme_sentiment"`
	Sessions         map[Session]float64 `yaml:"sessions,omitempty"`
}

// Policy is the per-source relevance table.
type Policy map[models.SourceKind]Rule

// DefaultPolicy returns the built-in relevance table.
func DefaultPolicy() Policy {
	return Policy{
		models.SourceWhale: {
			Base: 0.5, HighVolatility: 0.2, HighVolume: 0.1,
			Sessions: map[Session]float64{SessionAsian: 0.1},
		},
		models.SourceNarrative: {
			Base: 0.5, Bullish: 0.15, Bearish: 0.1, ExtremeSentiment: 0.1,
		},
		models.SourceArbitrage: {
			Base: 0.4, HighVolatility: 0.3, HighVolume: 0.2,
			Sessions: map[Session]float64{SessionOverlap: 0.1},
		},
		models.SourceInfluencer: {
			Base: 0.35, Bullish: 0.2, ExtremeSentiment: 0.15,
			Sessions: map[Session]float64{SessionAmerican: 0.1},
		},
		models.SourceTechnical: {
			Base: 0.6, HighVolatility: 0.15,
		},
		models.SourceInstitutional: {
			Base: 0.45, Bullish: 0.1,
			Sessions: map[Session]float64{SessionAmerican: 0.15},
		},
		models.SourceDerivative: {
			Base: 0.5, HighVolatility: 0.3, Bearish: 0.1,
		},
		models.SourceMacro: {
			Base: 0.45, ExtremeSentiment: 0.3,
		},
	}
}

// LoadPolicy reads a relevance-table override from a YAML file. Sources
// absent from the file keep their defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read policy file: %v", models.ErrConfig, err)
	}

	var override map[models.SourceKind]Rule
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return nil, fmt.Errorf("%w: parse policy file: %v", models.ErrConfig, err)
	}

	for kind, rule := range override {
		if _, ok := p[kind]; !ok {
			return nil, fmt.Errorf("%w: policy file names unknown source %q", models.ErrConfig, kind)
		}
		p[kind] = rule
	}
	return p, nil
}

// Relevance scores one source in [0,1] under the given context.
func (p Policy) Relevance(kind models.SourceKind, ctx MarketContext) float64 {
	rule, ok := p[kind]
	if !ok {
		return 0.5
	}

	v := rule.Base
	if ctx.Volatility == VolHigh {
		v += rule.HighVolatility
	}
	if ctx.Trend == TrendBullish {
		v += rule.Bullish
	}
	if ctx.Trend == TrendBearish {
		v += rule.Bearish
	}
	if ctx.Volume == VolumeHigh {
		v += rule.HighVolume
	}
	if ctx.FearGreed > 75 || (ctx.FearGreed > 0 && ctx.FearGreed < 25) {
		v += rule.ExtremeSentiment
	}
	v += rule.Sessions[ctx.Session]

	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
