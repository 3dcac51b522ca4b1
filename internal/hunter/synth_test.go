package hunter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/btcintel/internal/marketdata"
	"github.com/ajitpratap0/btcintel/internal/models"
)

var synthAt = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func TestSynthWhaleThreshold(t *testing.T) {
	data := &marketdata.SourceData{
		Kind: models.SourceWhale,
		WhaleTxs: []marketdata.WhaleTx{
			{Hash: "aa", AmountBTC: 100}, // at the threshold, not above
			{Hash: "bb", AmountBTC: 100.5},
			{Hash: "cc", AmountBTC: 400},
		},
	}

	sigs := synthesize(data, synthAt)
	require.Len(t, sigs, 2, "only transfers strictly above 100 BTC signal")
	for _, s := range sigs {
		assert.Equal(t, LabelWhaleMovement, s.Label)
		assert.Equal(t, models.SeverityHigh, s.Severity)
		assert.NotEmpty(t, s.Targets)
	}
}

func TestSynthNarrativeThemeCount(t *testing.T) {
	two := &marketdata.SourceData{
		Kind: models.SourceNarrative,
		News: []marketdata.NewsItem{
			{Title: "Spot ETF inflows continue"},
			{Title: "Adoption in emerging markets"},
		},
	}
	assert.Empty(t, synthesize(two, synthAt), "two bullish themes are not enough")

	three := &marketdata.SourceData{
		Kind: models.SourceNarrative,
		News: []marketdata.NewsItem{
			{Title: "Spot ETF inflows continue"},
			{Title: "Adoption in emerging markets"},
			{Title: "Institutional desks accumulate on dips"},
		},
	}
	sigs := synthesize(three, synthAt)
	require.Len(t, sigs, 1)
	assert.Equal(t, LabelPositiveNarr, sigs[0].Label)
	assert.Equal(t, models.SeverityMedium, sigs[0].Severity)
}

func TestSynthInstitutionalFloor(t *testing.T) {
	under := &marketdata.SourceData{
		Kind:     models.SourceInstitutional,
		Holdings: []marketdata.TreasuryHolding{{Company: "A", ValueUSD: 50e9}},
	}
	assert.Empty(t, synthesize(under, synthAt), "exactly $50B does not signal")

	over := &marketdata.SourceData{
		Kind: models.SourceInstitutional,
		Holdings: []marketdata.TreasuryHolding{
			{Company: "A", ValueUSD: 30e9},
			{Company: "B", ValueUSD: 25e9},
		},
	}
	sigs := synthesize(over, synthAt)
	require.Len(t, sigs, 1)
	assert.Equal(t, LabelInstitutional, sigs[0].Label)
	assert.Equal(t, models.SeverityHigh, sigs[0].Severity)
}

func TestSynthFundingThreshold(t *testing.T) {
	at := &marketdata.SourceData{Kind: models.SourceDerivative, FundingRate: 0.05}
	assert.Empty(t, synthesize(at, synthAt), "exactly 5% does not signal")

	for _, rate := range []float64{0.051, -0.051} {
		sigs := synthesize(&marketdata.SourceData{Kind: models.SourceDerivative, FundingRate: rate}, synthAt)
		require.Len(t, sigs, 1, "rate %v", rate)
		assert.Equal(t, LabelExtremeFunding, sigs[0].Label)
		assert.Equal(t, models.SeverityCritical, sigs[0].Severity)
	}
}

func TestSynthMacroBands(t *testing.T) {
	tests := []struct {
		fg    int
		label string
	}{
		{80, LabelExtremeGreed},
		{76, LabelExtremeGreed},
		{75, ""},
		{50, ""},
		{25, ""},
		{24, LabelExtremeFear},
		{10, LabelExtremeFear},
	}
	for _, tt := range tests {
		sigs := synthesize(&marketdata.SourceData{Kind: models.SourceMacro, FearGreed: tt.fg}, synthAt)
		if tt.label == "" {
			assert.Empty(t, sigs, "fear&greed %d", tt.fg)
			continue
		}
		require.Len(t, sigs, 1, "fear&greed %d", tt.fg)
		assert.Equal(t, tt.label, sigs[0].Label)
		assert.Equal(t, models.SeverityMedium, sigs[0].Severity)
	}
}

func TestSynthArbitrageSpread(t *testing.T) {
	tight := &marketdata.SourceData{
		Kind: models.SourceArbitrage,
		Quotes: []marketdata.ExchangeQuote{
			{Exchange: "a", PriceUSD: 64000},
			{Exchange: "b", PriceUSD: 64100},
		},
	}
	assert.Empty(t, synthesize(tight, synthAt))

	wide := &marketdata.SourceData{
		Kind: models.SourceArbitrage,
		Quotes: []marketdata.ExchangeQuote{
			{Exchange: "a", PriceUSD: 64000},
			{Exchange: "b", PriceUSD: 64800},
		},
	}
	sigs := synthesize(wide, synthAt)
	require.Len(t, sigs, 1)
	assert.Equal(t, LabelPriceDislocation, sigs[0].Label)
}

func TestSynthTechnicalRSI(t *testing.T) {
	falling := make([]marketdata.Candle, 20)
	for i := range falling {
		falling[i] = marketdata.Candle{Close: 70000 - float64(i)*800}
	}
	sigs := synthesize(&marketdata.SourceData{Kind: models.SourceTechnical, Candles: falling}, synthAt)
	require.Len(t, sigs, 1)
	assert.Equal(t, LabelOversold, sigs[0].Label)

	rising := make([]marketdata.Candle, 20)
	for i := range rising {
		rising[i] = marketdata.Candle{Close: 60000 + float64(i)*800}
	}
	sigs = synthesize(&marketdata.SourceData{Kind: models.SourceTechnical, Candles: rising}, synthAt)
	require.Len(t, sigs, 1)
	assert.Equal(t, LabelOverbought, sigs[0].Label)

	assert.Empty(t, synthesize(&marketdata.SourceData{Kind: models.SourceTechnical}, synthAt),
		"too little history yields no technical signal")
}

func TestSynthEmptySourceYieldsNoSignals(t *testing.T) {
	for _, kind := range models.AllSourceKinds() {
		assert.Empty(t, synthesize(&marketdata.SourceData{Kind: kind, FearGreed: 50}, synthAt), string(kind))
	}
}
