package marketdata

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// NormalizeSymbol canonicalizes a trading pair so equivalent spellings share
// a cache entry.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

var defaultBasePrices = map[string]float64{
	"BTC/USDT": 50000,
	"ETH/USDT": 3000,
	"SOL/USDT": 150,
	"XRP/USDT": 0.6,
}

// SimProvider is a deterministic-seedable random-walk provider used by the
// CLI demo and tests. Symbols outside its table fail with invalid_symbol,
// mirroring an exchange's market listing check.
type SimProvider struct {
	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
}

var _ Provider = (*SimProvider)(nil)

// NewSimProvider returns a simulated provider. Pass a fixed seed for
// reproducible prices, or 0 to seed from the clock.
func NewSimProvider(seed int64) *SimProvider {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	prices := make(map[string]float64, len(defaultBasePrices))
	for sym, base := range defaultBasePrices {
		prices[sym] = base
	}
	return &SimProvider{
		rng:    rand.New(rand.NewSource(seed)),
		prices: prices,
	}
}

// step advances the random walk for symbol and returns the new price.
// Caller must hold the mutex.
func (p *SimProvider) step(symbol string) float64 {
	price := p.prices[symbol]
	price += (p.rng.Float64() - 0.5) * 0.02 * price
	if price <= 0 {
		price = p.rng.Float64()
	}
	p.prices[symbol] = price
	return price
}

func (p *SimProvider) lookup(symbol string) (string, error) {
	symbol = NormalizeSymbol(symbol)
	p.mu.Lock()
	_, ok := p.prices[symbol]
	p.mu.Unlock()
	if !ok {
		return "", NewError(KindInvalidSymbol, symbol, "symbol not listed")
	}
	return symbol, nil
}

func (p *SimProvider) FetchTicker(ctx context.Context, symbol string) (Ticker, error) {
	if err := ctx.Err(); err != nil {
		return Ticker{}, NewError(KindUnavailable, symbol, "fetch cancelled: %s", err)
	}
	symbol, err := p.lookup(symbol)
	if err != nil {
		return Ticker{}, err
	}
	p.mu.Lock()
	price := p.step(symbol)
	p.mu.Unlock()
	return Ticker{
		Symbol:    symbol,
		Price:     price,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

func (p *SimProvider) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewError(KindUnavailable, symbol, "fetch cancelled: %s", err)
	}
	symbol, err := p.lookup(symbol)
	if err != nil {
		return nil, err
	}
	if !ValidTimeframe(timeframe) {
		return nil, NewError(KindMalformed, symbol, "unsupported timeframe %q", timeframe)
	}
	if limit <= 0 {
		return nil, NewError(KindInvalidTimeRange, symbol, "limit must be positive")
	}

	step, _ := timeframeDuration(timeframe)
	now := time.Now().Truncate(step)
	candles := make([]Candle, 0, limit)
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := limit - 1; i >= 0; i-- {
		open := p.prices[symbol]
		high, low := open, open
		for j := 0; j < 4; j++ {
			px := p.step(symbol)
			if px > high {
				high = px
			}
			if px < low {
				low = px
			}
		}
		candles = append(candles, Candle{
			Timestamp: now.Add(-time.Duration(i) * step).UnixMilli(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     p.prices[symbol],
			Volume:    10 + p.rng.Float64()*1000,
		})
	}
	return candles, nil
}

func (p *SimProvider) FetchOrderBook(ctx context.Context, symbol string, limit int) (OrderBook, error) {
	if err := ctx.Err(); err != nil {
		return OrderBook{}, NewError(KindUnavailable, symbol, "fetch cancelled: %s", err)
	}
	symbol, err := p.lookup(symbol)
	if err != nil {
		return OrderBook{}, err
	}
	if limit <= 0 {
		return OrderBook{}, NewError(KindInvalidTimeRange, symbol, "limit must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	mid := p.step(symbol)
	book := OrderBook{
		Symbol:    symbol,
		Bids:      make([]Level, 0, limit),
		Asks:      make([]Level, 0, limit),
		Timestamp: time.Now().UnixMilli(),
	}
	for i := 1; i <= limit; i++ {
		spread := mid * 0.0001 * float64(i)
		book.Bids = append(book.Bids, Level{Price: mid - spread, Amount: p.rng.Float64() * 5})
		book.Asks = append(book.Asks, Level{Price: mid + spread, Amount: p.rng.Float64() * 5})
	}
	return book, nil
}

func timeframeDuration(tf string) (time.Duration, bool) {
	switch tf {
	case "1m":
		return time.Minute, true
	case "5m":
		return 5 * time.Minute, true
	case "15m":
		return 15 * time.Minute, true
	case "1h":
		return time.Hour, true
	case "4h":
		return 4 * time.Hour, true
	case "1d":
		return 24 * time.Hour, true
	}
	return 0, false
}
