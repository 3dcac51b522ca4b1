// Package marketdata wraps the external providers behind one service with
// per-provider circuit breakers, rate limiting, retries, and an optional
// Redis snapshot cache. Providers are unreliable by contract: every fetch
// either returns quickly or fails with a models.ErrProvider.
package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/btcintel/internal/config"
	"github.com/ajitpratap0/btcintel/internal/metrics"
	"github.com/ajitpratap0/btcintel/internal/models"
)

// Market is what the drivers see.
type Market interface {
	FetchPrice(ctx context.Context) (models.MarketSnapshot, error)
	FetchNews(ctx context.Context, limit int) ([]NewsItem, error)
	FetchSource(ctx context.Context, kind models.SourceKind) (*SourceData, error)
}

// Providers bundles the per-concern backends; tests substitute fakes.
type Providers struct {
	Price     PriceAPI
	News      NewsAPI
	Whale     WhaleAPI
	FearGreed FearGreedAPI
	Treasury  TreasuryAPI
	Funding   FundingAPI
	Arbitrage ArbitrageAPI
}

type PriceAPI interface {
	FetchPrice(ctx context.Context) (models.MarketSnapshot, error)
	FetchOHLC(ctx context.Context, days int) ([]Candle, error)
}

type NewsAPI interface {
	FetchNews(ctx context.Context, limit int) ([]NewsItem, error)
	FetchMentions(ctx context.Context, limit int) ([]Mention, error)
}

type WhaleAPI interface {
	FetchWhaleTxs(ctx context.Context) ([]WhaleTx, error)
}

type FearGreedAPI interface {
	FetchIndex(ctx context.Context) (int, error)
}

type TreasuryAPI interface {
	FetchHoldings(ctx context.Context) ([]TreasuryHolding, error)
}

type FundingAPI interface {
	FetchFundingRate(ctx context.Context) (float64, error)
}

type ArbitrageAPI interface {
	FetchQuotes(ctx context.Context) ([]ExchangeQuote, error)
}

// DefaultProviders wires the real backends from configuration.
func DefaultProviders(cfg config.ProvidersConfig) Providers {
	client := &http.Client{Timeout: cfg.FetchTimeout}
	news := &NewsProvider{BaseURL: cfg.NewsURL, APIKey: cfg.NewsAPIKey, Client: client}
	return Providers{
		Price:     &PriceProvider{BaseURL: cfg.PriceURL, APIKey: cfg.MarketAPIKey, Client: client},
		News:      news,
		Whale:     &WhaleProvider{BaseURL: cfg.WhaleURL, Client: client, MinBTC: 10},
		FearGreed: &FearGreedProvider{BaseURL: cfg.FearGreedURL, Client: client},
		Treasury:  &TreasuryProvider{BaseURL: cfg.TreasuryURL, Client: client},
		Funding:   NewFundingProvider(cfg.DerivativesAPIKey, ""),
		Arbitrage: NewArbitrageProvider(),
	}
}

// Service is the production Market implementation.
type Service struct {
	providers Providers
	cache     *SnapshotCache
	timeout   time.Duration
	retry     RetryConfig
	limiter   *rate.Limiter
	breakers  map[string]*gobreaker.CircuitBreaker
	log       zerolog.Logger
}

// NewService builds the service. cache may be nil.
func NewService(providers Providers, cfg config.ProvidersConfig, cache *SnapshotCache, log zerolog.Logger) *Service {
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	s := &Service{
		providers: providers,
		cache:     cache,
		timeout:   timeout,
		retry:     DefaultRetryConfig(),
		limiter:   rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		log:       log.With().Str("component", "marketdata").Logger(),
	}

	for _, name := range []string{
		"price", "news", "whale", "fear_greed", "treasury", "funding", "arbitrage",
	} {
		name := name
		s.breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 2,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.Requests >= 5 && counts.TotalFailures*10 >= counts.Requests*6
			},
			OnStateChange: func(_ string, from, to gobreaker.State) {
				metrics.SetBreakerOpen(name, to == gobreaker.StateOpen)
				s.log.Warn().
					Str("provider", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Provider breaker state change")
			},
		})
	}
	return s
}

// call runs one provider operation through the limiter, breaker, and
// retry policy, bounded by the fetch timeout.
func (s *Service) call(ctx context.Context, provider string, op func(context.Context) error) error {
	start := time.Now()

	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.limiter.Wait(fetchCtx); err != nil {
		return fmt.Errorf("%w: rate limit wait: %v", models.ErrProvider, err)
	}

	_, err := s.breakers[provider].Execute(func() (interface{}, error) {
		return nil, WithRetry(fetchCtx, s.retry, func() error { return op(fetchCtx) })
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		err = fmt.Errorf("%w: %s breaker open", models.ErrProvider, provider)
	}
	if err != nil && fetchCtx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("%w: %s fetch exceeded %s: %v", models.ErrDeadline, provider, s.timeout, err)
	}

	metrics.RecordProviderCall(provider, float64(time.Since(start).Milliseconds()), err)
	return err
}

// FetchPrice returns a market snapshot, preferring the cache. The Fear &
// Greed component is best-effort; its failure leaves the field zero.
func (s *Service) FetchPrice(ctx context.Context) (models.MarketSnapshot, error) {
	if snap, ok := s.cache.Get(ctx); ok {
		return snap, nil
	}

	var snap models.MarketSnapshot
	err := s.call(ctx, "price", func(ctx context.Context) error {
		var err error
		snap, err = s.providers.Price.FetchPrice(ctx)
		return err
	})
	if err != nil {
		return models.MarketSnapshot{}, err
	}

	if fg, err := s.fetchFearGreed(ctx); err == nil {
		snap.FearGreed = fg
	} else {
		s.log.Warn().Err(err).Msg("Fear & greed unavailable, snapshot left without it")
	}

	s.cache.Set(ctx, snap)
	return snap, nil
}

// FetchNews returns recent headlines.
func (s *Service) FetchNews(ctx context.Context, limit int) ([]NewsItem, error) {
	var items []NewsItem
	err := s.call(ctx, "news", func(ctx context.Context) error {
		var err error
		items, err = s.providers.News.FetchNews(ctx, limit)
		return err
	})
	return items, err
}

func (s *Service) fetchFearGreed(ctx context.Context) (int, error) {
	var v int
	err := s.call(ctx, "fear_greed", func(ctx context.Context) error {
		var err error
		v, err = s.providers.FearGreed.FetchIndex(ctx)
		return err
	})
	return v, err
}

// FetchSource dispatches one source fetch by kind.
func (s *Service) FetchSource(ctx context.Context, kind models.SourceKind) (*SourceData, error) {
	data := &SourceData{Kind: kind, At: time.Now()}
	var err error

	switch kind {
	case models.SourceWhale:
		err = s.call(ctx, "whale", func(ctx context.Context) error {
			var e error
			data.WhaleTxs, e = s.providers.Whale.FetchWhaleTxs(ctx)
			return e
		})
	case models.SourceNarrative:
		err = s.call(ctx, "news", func(ctx context.Context) error {
			var e error
			data.News, e = s.providers.News.FetchNews(ctx, 20)
			return e
		})
	case models.SourceInfluencer:
		err = s.call(ctx, "news", func(ctx context.Context) error {
			var e error
			data.Mentions, e = s.providers.News.FetchMentions(ctx, 20)
			return e
		})
	case models.SourceArbitrage:
		err = s.call(ctx, "arbitrage", func(ctx context.Context) error {
			var e error
			data.Quotes, e = s.providers.Arbitrage.FetchQuotes(ctx)
			return e
		})
	case models.SourceTechnical:
		err = s.call(ctx, "price", func(ctx context.Context) error {
			var e error
			data.Candles, e = s.providers.Price.FetchOHLC(ctx, 14)
			return e
		})
	case models.SourceInstitutional:
		err = s.call(ctx, "treasury", func(ctx context.Context) error {
			var e error
			data.Holdings, e = s.providers.Treasury.FetchHoldings(ctx)
			return e
		})
	case models.SourceDerivative:
		err = s.call(ctx, "funding", func(ctx context.Context) error {
			var e error
			data.FundingRate, e = s.providers.Funding.FetchFundingRate(ctx)
			return e
		})
	case models.SourceMacro:
		err = s.call(ctx, "fear_greed", func(ctx context.Context) error {
			var e error
			data.FearGreed, e = s.providers.FearGreed.FetchIndex(ctx)
			return e
		})
	default:
		return nil, fmt.Errorf("%w: unknown source kind %q", models.ErrProvider, kind)
	}

	if err != nil {
		return nil, err
	}
	return data, nil
}
