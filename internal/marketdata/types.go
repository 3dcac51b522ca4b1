package marketdata

import (
	"time"

	"github.com/ajitpratap0/btcintel/internal/models"
)

// NewsItem is one headline from the news aggregator.
type NewsItem struct {
	Title       string    `json:"title"`
	Source      string    `json:"source"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// WhaleTx is one large on-chain transfer.
type WhaleTx struct {
	Hash      string    `json:"hash"`
	AmountBTC float64   `json:"amount_btc"`
	At        time.Time `json:"at"`
}

// ExchangeQuote is one exchange's spot price sample.
type ExchangeQuote struct {
	Exchange string    `json:"exchange"`
	PriceUSD float64   `json:"price_usd"`
	At       time.Time `json:"at"`
}

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// TreasuryHolding is one public company's Bitcoin position.
type TreasuryHolding struct {
	Company  string  `json:"company"`
	BTC      float64 `json:"btc"`
	ValueUSD float64 `json:"value_usd"`
}

// Mention is one influencer mention extracted from social feeds.
type Mention struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Followers int64     `json:"followers"`
	At        time.Time `json:"at"`
}

// SourceData carries the raw records one source fetch produced. Only the
// fields for the fetched kind are populated.
type SourceData struct {
	Kind        models.SourceKind `json:"kind"`
	At          time.Time         `json:"at"`
	WhaleTxs    []WhaleTx         `json:"whale_txs,omitempty"`
	News        []NewsItem        `json:"news,omitempty"`
	Quotes      []ExchangeQuote   `json:"quotes,omitempty"`
	Mentions    []Mention         `json:"mentions,omitempty"`
	Candles     []Candle          `json:"candles,omitempty"`
	Holdings    []TreasuryHolding `json:"holdings,omitempty"`
	FundingRate float64           `json:"funding_rate,omitempty"` // fraction, e.g. 0.0005
	FearGreed   int               `json:"fear_greed,omitempty"`   // [0,100]
}
