package hunter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/btcintel/internal/models"
)

func TestAssessContextBands(t *testing.T) {
	at := time.Date(2026, 8, 24, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		snap models.MarketSnapshot
		want MarketContext
	}{
		{
			name: "quiet market",
			snap: models.MarketSnapshot{Change24h: 0.5, Volume24h: 10e9, FearGreed: 50},
			want: MarketContext{Volatility: VolLow, Trend: TrendNeutral, Volume: VolumeLow, Session: SessionOverlap, FearGreed: 50},
		},
		{
			name: "bullish medium volatility",
			snap: models.MarketSnapshot{Change24h: 3.2, Volume24h: 25e9, FearGreed: 60},
			want: MarketContext{Volatility: VolMedium, Trend: TrendBullish, Volume: VolumeMedium, Session: SessionOverlap, FearGreed: 60},
		},
		{
			name: "bearish spike",
			snap: models.MarketSnapshot{Change24h: -7.5, Volume24h: 55e9, FearGreed: 15},
			want: MarketContext{Volatility: VolHigh, Trend: TrendBearish, Volume: VolumeHigh, Session: SessionOverlap, FearGreed: 15},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AssessContext(tt.snap, at))
		})
	}
}

func TestSessionBoundaries(t *testing.T) {
	day := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		hour int
		want Session
	}{
		{0, SessionAsian},
		{6, SessionAsian},
		{7, SessionEuropean},
		{11, SessionEuropean},
		{12, SessionOverlap},
		{15, SessionOverlap},
		{16, SessionAmerican},
		{20, SessionAmerican},
		{21, SessionAsian},
		{23, SessionAsian},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sessionAt(day.Add(time.Duration(tt.hour)*time.Hour)), "hour %d", tt.hour)
	}
}

func TestDefaultPolicyCoversAllSources(t *testing.T) {
	p := DefaultPolicy()
	for _, kind := range models.AllSourceKinds() {
		_, ok := p[kind]
		assert.True(t, ok, string(kind))
	}
}

func TestRelevanceModifiers(t *testing.T) {
	p := DefaultPolicy()

	calm := MarketContext{Volatility: VolLow, Trend: TrendNeutral, Session: SessionAsian, FearGreed: 50}
	wild := MarketContext{Volatility: VolHigh, Trend: TrendNeutral, Session: SessionAsian, FearGreed: 50}
	assert.Greater(t, p.Relevance(models.SourceDerivative, wild), p.Relevance(models.SourceDerivative, calm),
		"derivatives matter more when volatility is high")

	greedy := MarketContext{Session: SessionAsian, FearGreed: 90}
	assert.Greater(t, p.Relevance(models.SourceMacro, greedy), p.Relevance(models.SourceMacro, calm))

	for _, kind := range models.AllSourceKinds() {
		v := p.Relevance(kind, wild)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestLoadPolicyOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("WHALE:\n  base: 0.9\n"), 0o644))

	p, err := LoadPolicy(path)
	require.NoError(t, err)

	ctx := MarketContext{Session: SessionEuropean, FearGreed: 50}
	assert.InDelta(t, 0.9, p.Relevance(models.SourceWhale, ctx), 1e-9)
	// Sources not named in the file keep defaults.
	assert.Equal(t, DefaultPolicy().Relevance(models.SourceMacro, ctx), p.Relevance(models.SourceMacro, ctx))
}

func TestLoadPolicyRejectsUnknownSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ASTROLOGY:\n  base: 1.0\n"), 0o644))

	_, err := LoadPolicy(path)
	assert.ErrorIs(t, err, models.ErrConfig)
}

func TestLoadPolicyMissingFileFails(t *testing.T) {
	_, err := LoadPolicy(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, models.ErrConfig)
}
