package marketdata

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	ccxt "github.com/ccxt/ccxt/go/v4"

	"github.com/ajitpratap0/btcintel/internal/models"
)

// FundingProvider reads the perpetual funding rate from the derivatives
// feed.
type FundingProvider struct {
	client *futures.Client
	symbol string
}

// NewFundingProvider creates the funding-rate reader. Credentials are
// optional, the premium index endpoint is public.
func NewFundingProvider(apiKey, secret string) *FundingProvider {
	return &FundingProvider{
		client: futures.NewClient(apiKey, secret),
		symbol: "BTCUSDT",
	}
}

// FetchFundingRate returns the last funding rate as a fraction.
func (p *FundingProvider) FetchFundingRate(ctx context.Context) (float64, error) {
	idx, err := p.client.NewPremiumIndexService().Symbol(p.symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: fetch premium index: %v", models.ErrProvider, err)
	}
	if len(idx) == 0 {
		return 0, fmt.Errorf("%w: premium index response empty", models.ErrProvider)
	}
	rate, err := strconv.ParseFloat(idx[0].LastFundingRate, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse funding rate %q: %v", models.ErrProvider, idx[0].LastFundingRate, err)
	}
	return rate, nil
}

// tickerExchange is the slice of the generated CCXT API the arbitrage
// sampler needs, satisfied by every exchange type.
type tickerExchange interface {
	FetchTicker(symbol string, options ...ccxt.FetchTickerOptions) (ccxt.Ticker, error)
}

type exchangeEntry struct {
	name     string
	symbol   string
	exchange tickerExchange
}

// ArbitrageProvider samples the spot price across several exchanges via
// CCXT to expose cross-venue spreads.
type ArbitrageProvider struct {
	entries []exchangeEntry
}

// NewArbitrageProvider wires the default venue set.
func NewArbitrageProvider() *ArbitrageProvider {
	binance := ccxt.NewBinance(nil)
	kraken := ccxt.NewKraken(nil)
	coinbase := ccxt.NewCoinbase(nil)
	return &ArbitrageProvider{
		entries: []exchangeEntry{
			{name: "binance", symbol: "BTC/USDT", exchange: binance},
			{name: "kraken", symbol: "BTC/USD", exchange: kraken},
			{name: "coinbase", symbol: "BTC/USD", exchange: coinbase},
		},
	}
}

// FetchQuotes samples each venue. A venue failure skips that venue; the
// call fails only when every venue fails.
func (p *ArbitrageProvider) FetchQuotes(ctx context.Context) ([]ExchangeQuote, error) {
	var out []ExchangeQuote
	var lastErr error
	for _, e := range p.entries {
		select {
		case <-ctx.Done():
			return out, fmt.Errorf("%w: %v", models.ErrCancelled, ctx.Err())
		default:
		}
		ticker, err := e.exchange.FetchTicker(e.symbol)
		if err != nil || ticker.Last == nil {
			if err == nil {
				err = fmt.Errorf("ticker for %s has no last price", e.name)
			}
			lastErr = err
			continue
		}
		out = append(out, ExchangeQuote{
			Exchange: e.name,
			PriceUSD: *ticker.Last,
			At:       time.Now(),
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: all venues failed: %v", models.ErrProvider, lastErr)
	}
	return out, nil
}
