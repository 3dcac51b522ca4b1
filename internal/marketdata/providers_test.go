package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/btcintel/internal/models"
)

func TestPriceProviderFetchPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "ids=bitcoin")
		w.Write([]byte(`{"bitcoin":{"usd":65000.5,"usd_24h_vol":31000000000,"usd_24h_change":-2.4}}`))
	}))
	defer srv.Close()

	p := &PriceProvider{BaseURL: srv.URL, Client: srv.Client()}
	snap, err := p.FetchPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 65000.5, snap.PriceUSD)
	assert.Equal(t, -2.4, snap.Change24h)
	assert.False(t, snap.At.IsZero())
}

func TestPriceProviderRejectsMissingQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p := &PriceProvider{BaseURL: srv.URL, Client: srv.Client()}
	_, err := p.FetchPrice(context.Background())
	assert.ErrorIs(t, err, models.ErrProvider)
}

func TestPriceProviderFetchOHLC(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[[1700000000000,64000,65000,63500,64800],[1700086400000,64800,66000,64500,65900]]`))
	}))
	defer srv.Close()

	p := &PriceProvider{BaseURL: srv.URL, Client: srv.Client()}
	candles, err := p.FetchOHLC(context.Background(), 14)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 64800.0, candles[0].Close)
	assert.Equal(t, 66000.0, candles[1].High)
}

func TestNewsProviderFetchNews(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		w.Write([]byte(`{"status":"ok","articles":[
			{"title":"Bitcoin ETF inflows surge","url":"https://example.com/1","source":{"name":"Example"},"publishedAt":"2026-08-24T10:00:00Z"},
			{"title":"Miners accumulate","url":"https://example.com/2","source":{"name":"Other"},"publishedAt":"2026-08-24T09:00:00Z"}
		]}`))
	}))
	defer srv.Close()

	p := &NewsProvider{BaseURL: srv.URL, APIKey: "secret", Client: srv.Client()}
	items, err := p.FetchNews(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Bitcoin ETF inflows surge", items[0].Title)
	assert.Equal(t, "Example", items[0].Source)
}

func TestNewsProviderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error","articles":[]}`))
	}))
	defer srv.Close()

	p := &NewsProvider{BaseURL: srv.URL, Client: srv.Client()}
	_, err := p.FetchNews(context.Background(), 10)
	assert.ErrorIs(t, err, models.ErrProvider)
}

func TestWhaleProviderFiltersSmallTransfers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 150 BTC and 0.5 BTC in satoshi.
		w.Write([]byte(`{"txs":[
			{"hash":"aa","time":1700000000,"out":[{"value":15000000000}]},
			{"hash":"bb","time":1700000100,"out":[{"value":50000000}]}
		]}`))
	}))
	defer srv.Close()

	p := &WhaleProvider{BaseURL: srv.URL, Client: srv.Client(), MinBTC: 10}
	txs, err := p.FetchWhaleTxs(context.Background())
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "aa", txs[0].Hash)
	assert.InDelta(t, 150.0, txs[0].AmountBTC, 1e-9)
}

func TestFearGreedProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"value":"81","value_classification":"Extreme Greed"}]}`))
	}))
	defer srv.Close()

	p := &FearGreedProvider{BaseURL: srv.URL, Client: srv.Client()}
	v, err := p.FetchIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 81, v)
}

func TestFearGreedProviderRejectsOutOfRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"value":"140"}]}`))
	}))
	defer srv.Close()

	p := &FearGreedProvider{BaseURL: srv.URL, Client: srv.Client()}
	_, err := p.FetchIndex(context.Background())
	assert.ErrorIs(t, err, models.ErrProvider)
}

func TestTreasuryProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"name":"Strategy Inc","btc":450000,"value_usd":29000000000},
			{"name":"Marathon","btc":30000,"value_usd":1950000000}
		]`))
	}))
	defer srv.Close()

	p := &TreasuryProvider{BaseURL: srv.URL, Client: srv.Client()}
	holdings, err := p.FetchHoldings(context.Background())
	require.NoError(t, err)
	require.Len(t, holdings, 2)
	assert.Equal(t, "Strategy Inc", holdings[0].Company)
	assert.Equal(t, 450000.0, holdings[0].BTC)
}

func TestHTTPGetJSONNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	var out map[string]interface{}
	err := httpGetJSON(context.Background(), srv.Client(), srv.URL, nil, &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrProvider)
	assert.Contains(t, err.Error(), "429")
}

func TestHTTPGetJSONHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var out map[string]interface{}
	err := httpGetJSON(ctx, srv.Client(), srv.URL, nil, &out)
	assert.Error(t, err)
}
