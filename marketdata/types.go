// Package marketdata defines the upstream provider collaborator: the data
// shapes served by the tools, the provider error taxonomy, and a simulated
// provider for local runs and tests. Real exchange connectivity lives behind
// the Provider interface and is supplied by the embedding application.
package marketdata

import "context"

// Ticker is the latest price snapshot for a trading pair.
type Ticker struct {
	Symbol    string  `json:"symbol" msgpack:"symbol"`
	Price     float64 `json:"price" msgpack:"price"`
	Timestamp int64   `json:"timestamp" msgpack:"timestamp"`
}

// Candle is a single OHLCV bar.
type Candle struct {
	Timestamp int64   `json:"timestamp" msgpack:"timestamp"`
	Open      float64 `json:"open" msgpack:"open"`
	High      float64 `json:"high" msgpack:"high"`
	Low       float64 `json:"low" msgpack:"low"`
	Close     float64 `json:"close" msgpack:"close"`
	Volume    float64 `json:"volume" msgpack:"volume"`
}

// Level is one price level of an order book side.
type Level struct {
	Price  float64 `json:"price" msgpack:"price"`
	Amount float64 `json:"amount" msgpack:"amount"`
}

// OrderBook is a depth snapshot for a trading pair.
type OrderBook struct {
	Symbol    string  `json:"symbol" msgpack:"symbol"`
	Bids      []Level `json:"bids" msgpack:"bids"`
	Asks      []Level `json:"asks" msgpack:"asks"`
	Timestamp int64   `json:"timestamp" msgpack:"timestamp"`
}

// Timeframes lists the OHLCV resolutions the tools accept.
var Timeframes = []string{"1m", "5m", "15m", "1h", "4h", "1d"}

// ValidTimeframe reports whether tf is an accepted OHLCV resolution.
func ValidTimeframe(tf string) bool {
	for _, v := range Timeframes {
		if v == tf {
			return true
		}
	}
	return false
}

// Provider fetches market data from an upstream exchange. All methods return
// a *Error on failure; implementations are expected to be safe for
// concurrent callers.
type Provider interface {
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	FetchOrderBook(ctx context.Context, symbol string, limit int) (OrderBook, error)
}
