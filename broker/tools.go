package broker

import (
	"context"
	"fmt"

	"github.com/coinmesh/marketbroker/cache"
	"github.com/coinmesh/marketbroker/marketdata"
)

// Default argument values, matching the upstream tool contracts.
const (
	defaultTimeframe  = "1h"
	defaultOHLCVLimit = 100
	defaultBookLimit  = 20
	maxOHLCVLimit     = 1000
	maxOrderBookLimit = 100
)

// RegisterMarketTools binds the market-data tools to a dispatcher. Every
// handler reads through the cache-aside coordinator, so cache keys are the
// unit of request coalescing: equivalent requests normalize to the same key.
func RegisterMarketTools(d *Dispatcher, co *cache.Coordinator, provider marketdata.Provider) {
	tickerHandler := func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		symbol, err := symbolArg(args)
		if err != nil {
			return nil, err
		}
		key := fmt.Sprintf("ticker:%s", symbol)
		return cache.Fetch(ctx, co, key, func(ctx context.Context) (marketdata.Ticker, error) {
			return provider.FetchTicker(ctx, symbol)
		})
	}
	d.Register("get_ticker", tickerHandler)
	// stream_ticker serves a single snapshot; clients poll it for a stream.
	d.Register("stream_ticker", tickerHandler)

	d.Register("get_ohlcv", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		symbol, err := symbolArg(args)
		if err != nil {
			return nil, err
		}
		timeframe := stringArg(args, "timeframe", defaultTimeframe)
		if !marketdata.ValidTimeframe(timeframe) {
			return nil, marketdata.NewError(marketdata.KindMalformed, symbol,
				"unsupported timeframe %q (want one of %v)", timeframe, marketdata.Timeframes)
		}
		limit, err := limitArg(args, defaultOHLCVLimit, maxOHLCVLimit)
		if err != nil {
			return nil, err
		}
		key := fmt.Sprintf("ohlcv:%s:%s:%d", symbol, timeframe, limit)
		return cache.Fetch(ctx, co, key, func(ctx context.Context) ([]marketdata.Candle, error) {
			return provider.FetchOHLCV(ctx, symbol, timeframe, limit)
		})
	})

	d.Register("get_order_book", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		symbol, err := symbolArg(args)
		if err != nil {
			return nil, err
		}
		limit, err := limitArg(args, defaultBookLimit, maxOrderBookLimit)
		if err != nil {
			return nil, err
		}
		key := fmt.Sprintf("orderbook:%s:%d", symbol, limit)
		return cache.Fetch(ctx, co, key, func(ctx context.Context) (marketdata.OrderBook, error) {
			return provider.FetchOrderBook(ctx, symbol, limit)
		})
	})
}

func symbolArg(args map[string]interface{}) (string, error) {
	raw, ok := args["symbol"].(string)
	if !ok || raw == "" {
		return "", marketdata.NewError(marketdata.KindMalformed, "", "missing required argument: symbol")
	}
	return marketdata.NormalizeSymbol(raw), nil
}

func stringArg(args map[string]interface{}, name, def string) string {
	if val, ok := args[name].(string); ok && val != "" {
		return val
	}
	return def
}

// limitArg reads an integer limit. JSON numbers decode as float64, so both
// forms are accepted.
func limitArg(args map[string]interface{}, def, max int) (int, error) {
	limit := def
	switch v := args["limit"].(type) {
	case nil:
	case float64:
		limit = int(v)
	case int:
		limit = v
	default:
		return 0, marketdata.NewError(marketdata.KindMalformed, "", "limit must be a number, got %T", v)
	}
	if limit <= 0 {
		return 0, marketdata.NewError(marketdata.KindInvalidTimeRange, "", "limit must be positive")
	}
	if limit > max {
		limit = max
	}
	return limit, nil
}
