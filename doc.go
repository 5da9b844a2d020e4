// Package candlesfeed provides continuously updated OHLCV candle series
// from cryptocurrency exchanges through one standardized API.
//
// A feed binds an exchange adapter, a collection strategy and a bounded
// in-memory store into a single live series per (exchange, trading pair,
// interval) tuple. Adapters own every exchange-specific detail: pair
// spelling, timestamp units, REST query shapes, WebSocket framing and
// response decoding. Everything leaving an adapter is normalized, so
// consumers never touch exchange wire formats.
//
// Core Features:
//
//   - Standardized candles across Binance, Bybit, Coinbase, Gate.io and OKX
//   - WebSocket streaming with automatic reconnection and gap backfill
//   - REST polling for intervals an exchange does not stream
//   - Automatic strategy selection per exchange and interval
//   - Rate limiting and retry with backoff on all REST traffic
//
// # Standard Errors
//
// The adapters package defines sentinel errors shared by every exchange:
//
//   - ErrUnknownExchange: the registry has no factory for the name
//
//   - ErrInvalidTradingPair: the pair is not canonical "BASE-QUOTE" form
//     or the exchange cannot format it
//
//   - ErrInvalidInterval: the exchange does not offer the interval
//
//   - ErrIntervalNotStreamable: a WebSocket strategy was requested for an
//     interval the exchange only serves over REST
//
//   - ErrSubscriptionRejected: the exchange explicitly refused the
//     candle subscription
//
// Malformed payloads surface as *adapters.ResponseFormatError; transport
// failures as *network.NetworkError and *network.HTTPError, with
// network.ErrRateLimited marking an exhausted 429 budget.
//
// # Examples
//
// Starting a live feed:
//
//	f, err := feed.NewFeed(feed.Config{
//	    Exchange:    "binance",
//	    TradingPair: "BTC-USDT",
//	    Interval:    "1m",
//	    MaxRecords:  200,
//	})
//	if err != nil {
//	    log.Fatalf("configuring feed: %v", err)
//	}
//
//	ctx := context.Background()
//	if err := f.Start(ctx); err != nil {
//	    log.Fatalf("starting feed: %v", err)
//	}
//	defer f.Stop()
//
//	if err := f.WaitReady(ctx); err != nil {
//	    log.Fatalf("waiting for history: %v", err)
//	}
//	for _, c := range f.GetCandles() {
//	    fmt.Printf("%s O %s C %s V %s final=%v\n",
//	        c.Time().Format(time.RFC3339), c.Open, c.Close, c.Volume, c.Final)
//	}
//
// One-shot historical fetch, independent of the running strategy:
//
//	series, err := f.FetchCandles(ctx,
//	    time.Now().Add(-24*time.Hour), time.Now())
//
// Forcing a strategy instead of automatic selection:
//
//	f, err := feed.NewFeed(feed.Config{
//	    Exchange:    "coinbase",
//	    TradingPair: "ETH-USD",
//	    Interval:    "1h",
//	    Mode:        feed.ModePolling,
//	})
//
// Every supported exchange registers itself in exchanges.DefaultRegistry;
// custom or test deployments can supply their own registry and endpoint
// overrides through feed.Config.
package candlesfeed
