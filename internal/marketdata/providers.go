package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ajitpratap0/btcintel/internal/models"
)

// httpGetJSON performs one GET and decodes the JSON body into out.
func httpGetJSON(ctx context.Context, client *http.Client, rawURL string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", models.ErrProvider, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: HTTP %d: %s", models.ErrProvider, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", models.ErrProvider, err)
	}
	return nil
}

// PriceProvider reads the spot price from the CoinGecko simple-price API.
type PriceProvider struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// FetchPrice returns price, 24h volume, and 24h change for Bitcoin in USD.
func (p *PriceProvider) FetchPrice(ctx context.Context) (models.MarketSnapshot, error) {
	u := p.BaseURL + "/simple/price?ids=bitcoin&vs_currencies=usd&include_24hr_vol=true&include_24hr_change=true"
	headers := map[string]string{}
	if p.APIKey != "" {
		headers["x-cg-demo-api-key"] = p.APIKey
	}

	var body map[string]struct {
		USD          float64 `json:"usd"`
		USD24hVol    float64 `json:"usd_24h_vol"`
		USD24hChange float64 `json:"usd_24h_change"`
	}
	if err := httpGetJSON(ctx, p.Client, u, headers, &body); err != nil {
		return models.MarketSnapshot{}, err
	}

	btc, ok := body["bitcoin"]
	if !ok || btc.USD <= 0 {
		return models.MarketSnapshot{}, fmt.Errorf("%w: price response missing bitcoin quote", models.ErrProvider)
	}
	return models.MarketSnapshot{
		PriceUSD:  btc.USD,
		Volume24h: btc.USD24hVol,
		Change24h: btc.USD24hChange,
		At:        time.Now(),
	}, nil
}

// FetchOHLC returns daily candles from the CoinGecko OHLC endpoint.
func (p *PriceProvider) FetchOHLC(ctx context.Context, days int) ([]Candle, error) {
	u := fmt.Sprintf("%s/coins/bitcoin/ohlc?vs_currency=usd&days=%d", p.BaseURL, days)
	headers := map[string]string{}
	if p.APIKey != "" {
		headers["x-cg-demo-api-key"] = p.APIKey
	}

	var rows [][]float64
	if err := httpGetJSON(ctx, p.Client, u, headers, &rows); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(rows))
	for _, r := range rows {
		if len(r) < 5 {
			continue
		}
		candles = append(candles, Candle{
			OpenTime: time.UnixMilli(int64(r[0])),
			Open:     r[1],
			High:     r[2],
			Low:      r[3],
			Close:    r[4],
		})
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: OHLC response empty", models.ErrProvider)
	}
	return candles, nil
}

// NewsProvider reads Bitcoin headlines from the news aggregator.
type NewsProvider struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// FetchNews returns up to limit recent Bitcoin headlines, newest first.
func (p *NewsProvider) FetchNews(ctx context.Context, limit int) ([]NewsItem, error) {
	if limit <= 0 {
		limit = 20
	}
	q := url.Values{}
	q.Set("q", "bitcoin")
	q.Set("sortBy", "publishedAt")
	q.Set("pageSize", strconv.Itoa(limit))
	u := p.BaseURL + "/everything?" + q.Encode()

	headers := map[string]string{}
	if p.APIKey != "" {
		headers["X-Api-Key"] = p.APIKey
	}

	var body struct {
		Status   string `json:"status"`
		Articles []struct {
			Title  string `json:"title"`
			URL    string `json:"url"`
			Source struct {
				Name string `json:"name"`
			} `json:"source"`
			PublishedAt time.Time `json:"publishedAt"`
		} `json:"articles"`
	}
	if err := httpGetJSON(ctx, p.Client, u, headers, &body); err != nil {
		return nil, err
	}
	if body.Status != "ok" {
		return nil, fmt.Errorf("%w: news response status %q", models.ErrProvider, body.Status)
	}

	items := make([]NewsItem, 0, len(body.Articles))
	for _, a := range body.Articles {
		items = append(items, NewsItem{
			Title:       a.Title,
			Source:      a.Source.Name,
			URL:         a.URL,
			PublishedAt: a.PublishedAt,
		})
	}
	return items, nil
}

// FetchMentions returns popular Bitcoin commentary mapped to influencer
// mentions, most-shared first.
func (p *NewsProvider) FetchMentions(ctx context.Context, limit int) ([]Mention, error) {
	if limit <= 0 {
		limit = 20
	}
	q := url.Values{}
	q.Set("q", "bitcoin")
	q.Set("sortBy", "popularity")
	q.Set("pageSize", strconv.Itoa(limit))
	u := p.BaseURL + "/everything?" + q.Encode()

	headers := map[string]string{}
	if p.APIKey != "" {
		headers["X-Api-Key"] = p.APIKey
	}

	var body struct {
		Status   string `json:"status"`
		Articles []struct {
			Author string `json:"author"`
			Title  string `json:"title"`
			Source struct {
				Name string `json:"name"`
			} `json:"source"`
			PublishedAt time.Time `json:"publishedAt"`
		} `json:"articles"`
	}
	if err := httpGetJSON(ctx, p.Client, u, headers, &body); err != nil {
		return nil, err
	}
	if body.Status != "ok" {
		return nil, fmt.Errorf("%w: news response status %q", models.ErrProvider, body.Status)
	}

	out := make([]Mention, 0, len(body.Articles))
	for _, a := range body.Articles {
		author := a.Author
		if author == "" {
			author = a.Source.Name
		}
		out = append(out, Mention{Author: author, Text: a.Title, At: a.PublishedAt})
	}
	return out, nil
}

// WhaleProvider reads recent large transactions from the blockchain
// explorer.
type WhaleProvider struct {
	BaseURL string
	Client  *http.Client
	// MinBTC filters transfers below this size (default 10).
	MinBTC float64
}

// FetchWhaleTxs returns recent transfers at or above MinBTC.
func (p *WhaleProvider) FetchWhaleTxs(ctx context.Context) ([]WhaleTx, error) {
	minBTC := p.MinBTC
	if minBTC <= 0 {
		minBTC = 10
	}

	var body struct {
		Txs []struct {
			Hash string `json:"hash"`
			Time int64  `json:"time"`
			Out  []struct {
				Value int64 `json:"value"` // satoshi
			} `json:"out"`
		} `json:"txs"`
	}
	if err := httpGetJSON(ctx, p.Client, p.BaseURL+"/unconfirmed-transactions?format=json", nil, &body); err != nil {
		return nil, err
	}

	var out []WhaleTx
	for _, tx := range body.Txs {
		var sats int64
		for _, o := range tx.Out {
			sats += o.Value
		}
		btc := float64(sats) / 1e8
		if btc >= minBTC {
			out = append(out, WhaleTx{
				Hash:      tx.Hash,
				AmountBTC: btc,
				At:        time.Unix(tx.Time, 0),
			})
		}
	}
	return out, nil
}

// FearGreedProvider reads the Fear & Greed index.
type FearGreedProvider struct {
	BaseURL string
	Client  *http.Client
}

// FetchIndex returns the current index value in [0,100].
func (p *FearGreedProvider) FetchIndex(ctx context.Context) (int, error) {
	var body struct {
		Data []struct {
			Value string `json:"value"`
		} `json:"data"`
	}
	if err := httpGetJSON(ctx, p.Client, p.BaseURL+"?limit=1", nil, &body); err != nil {
		return 0, err
	}
	if len(body.Data) == 0 {
		return 0, fmt.Errorf("%w: fear & greed response empty", models.ErrProvider)
	}
	v, err := strconv.Atoi(body.Data[0].Value)
	if err != nil || v < 0 || v > 100 {
		return 0, fmt.Errorf("%w: fear & greed value %q out of range", models.ErrProvider, body.Data[0].Value)
	}
	return v, nil
}

// TreasuryProvider reads public-company Bitcoin treasury holdings.
type TreasuryProvider struct {
	BaseURL string
	Client  *http.Client
}

// FetchHoldings returns per-company holdings valued in USD.
func (p *TreasuryProvider) FetchHoldings(ctx context.Context) ([]TreasuryHolding, error) {
	var body []struct {
		Name     string  `json:"name"`
		BTC      float64 `json:"btc"`
		ValueUSD float64 `json:"value_usd"`
	}
	if err := httpGetJSON(ctx, p.Client, p.BaseURL+"/companies", nil, &body); err != nil {
		return nil, err
	}

	out := make([]TreasuryHolding, 0, len(body))
	for _, h := range body {
		out = append(out, TreasuryHolding{Company: h.Name, BTC: h.BTC, ValueUSD: h.ValueUSD})
	}
	return out, nil
}
