package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/btcintel/internal/config"
	"github.com/ajitpratap0/btcintel/internal/models"
)

type fakeProviders struct {
	price      models.MarketSnapshot
	priceErr   error
	priceCalls int
	fearGreed  int
	fgErr      error
	news       []NewsItem
	whale      []WhaleTx
	funding    float64
	quotes     []ExchangeQuote
	holdings   []TreasuryHolding
	candles    []Candle
	mentions   []Mention
}

func (f *fakeProviders) FetchPrice(ctx context.Context) (models.MarketSnapshot, error) {
	f.priceCalls++
	return f.price, f.priceErr
}
func (f *fakeProviders) FetchOHLC(ctx context.Context, days int) ([]Candle, error) {
	return f.candles, nil
}
func (f *fakeProviders) FetchNews(ctx context.Context, limit int) ([]NewsItem, error) {
	return f.news, nil
}
func (f *fakeProviders) FetchMentions(ctx context.Context, limit int) ([]Mention, error) {
	return f.mentions, nil
}
func (f *fakeProviders) FetchWhaleTxs(ctx context.Context) ([]WhaleTx, error) {
	return f.whale, nil
}
func (f *fakeProviders) FetchIndex(ctx context.Context) (int, error) {
	return f.fearGreed, f.fgErr
}
func (f *fakeProviders) FetchHoldings(ctx context.Context) ([]TreasuryHolding, error) {
	return f.holdings, nil
}
func (f *fakeProviders) FetchFundingRate(ctx context.Context) (float64, error) {
	return f.funding, nil
}
func (f *fakeProviders) FetchQuotes(ctx context.Context) ([]ExchangeQuote, error) {
	return f.quotes, nil
}

func newFakeService(t *testing.T, f *fakeProviders, cache *SnapshotCache) *Service {
	t.Helper()
	providers := Providers{
		Price: f, News: f, Whale: f, FearGreed: f, Treasury: f, Funding: f, Arbitrage: f,
	}
	cfg := config.ProvidersConfig{FetchTimeout: time.Second, RatePerMinute: 6000}
	return NewService(providers, cfg, cache, zerolog.Nop())
}

func TestServiceFetchPriceMergesFearGreed(t *testing.T) {
	f := &fakeProviders{
		price:     models.MarketSnapshot{PriceUSD: 64000, At: time.Now()},
		fearGreed: 78,
	}
	s := newFakeService(t, f, nil)

	snap, err := s.FetchPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 64000.0, snap.PriceUSD)
	assert.Equal(t, 78, snap.FearGreed)
}

func TestServiceFetchPriceFearGreedFailureNonFatal(t *testing.T) {
	f := &fakeProviders{
		price: models.MarketSnapshot{PriceUSD: 64000, At: time.Now()},
		fgErr: errors.New("fng down"),
	}
	s := newFakeService(t, f, nil)

	snap, err := s.FetchPrice(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.FearGreed)
}

func TestServiceFetchPriceUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewSnapshotCache(client, time.Minute)

	f := &fakeProviders{
		price:     models.MarketSnapshot{PriceUSD: 64000, At: time.Now()},
		fearGreed: 40,
	}
	s := newFakeService(t, f, cache)

	_, err := s.FetchPrice(context.Background())
	require.NoError(t, err)
	_, err = s.FetchPrice(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, f.priceCalls, "second read must hit the cache")
}

func TestServiceFetchPriceCacheExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewSnapshotCache(client, time.Minute)

	f := &fakeProviders{price: models.MarketSnapshot{PriceUSD: 64000, At: time.Now()}}
	s := newFakeService(t, f, cache)

	_, err := s.FetchPrice(context.Background())
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = s.FetchPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.priceCalls)
}

func TestServiceFetchSourceDispatch(t *testing.T) {
	f := &fakeProviders{
		whale:     []WhaleTx{{Hash: "aa", AmountBTC: 150}},
		news:      []NewsItem{{Title: "Bitcoin adoption grows"}},
		funding:   0.0007,
		fearGreed: 21,
		quotes:    []ExchangeQuote{{Exchange: "binance", PriceUSD: 64000}},
		holdings:  []TreasuryHolding{{Company: "Strategy Inc", ValueUSD: 2.9e10}},
		candles:   []Candle{{Close: 64000}},
		mentions:  []Mention{{Author: "analyst"}},
	}
	s := newFakeService(t, f, nil)
	ctx := context.Background()

	for _, kind := range models.AllSourceKinds() {
		data, err := s.FetchSource(ctx, kind)
		require.NoError(t, err, string(kind))
		assert.Equal(t, kind, data.Kind)
	}

	whale, _ := s.FetchSource(ctx, models.SourceWhale)
	assert.Len(t, whale.WhaleTxs, 1)
	deriv, _ := s.FetchSource(ctx, models.SourceDerivative)
	assert.Equal(t, 0.0007, deriv.FundingRate)
	macro, _ := s.FetchSource(ctx, models.SourceMacro)
	assert.Equal(t, 21, macro.FearGreed)
}

func TestServiceFetchSourceUnknownKind(t *testing.T) {
	s := newFakeService(t, &fakeProviders{}, nil)
	_, err := s.FetchSource(context.Background(), models.SourceKind("BOGUS"))
	assert.ErrorIs(t, err, models.ErrProvider)
}

func TestServiceBreakerOpensAfterRepeatedFailures(t *testing.T) {
	f := &fakeProviders{priceErr: errors.New("provider down")}
	s := newFakeService(t, f, nil)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := s.FetchPrice(ctx)
		require.Error(t, err)
	}

	calls := f.priceCalls
	_, err := s.FetchPrice(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrProvider)
	assert.Equal(t, calls, f.priceCalls, "open breaker must short-circuit the provider")
}
