package feed

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MementoRC/hb-candles-feed-sub001/pkg/adapters"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/adapters/bybit"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/mockexchange"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/network"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/ratelimit"
)

// alignedStart is a minute boundary well in the past of any test clock.
const alignedStart = int64(1700000040)

func fastRESTClient() *network.RESTClient {
	return network.NewRESTClient(&network.Options{
		Timeout:    5 * time.Second,
		RateLimit:  ratelimit.Rate{Limit: 1000, Interval: time.Second},
		MaxRetries: 2,
		RetryDelay: 5 * time.Millisecond,
	})
}

func newTestFeed(t *testing.T, srv *mockexchange.Server, cfg Config) *Feed {
	t.Helper()
	cfg.Exchange = "binance"
	if cfg.TradingPair == "" {
		cfg.TradingPair = "BTC-USDT"
	}
	if cfg.Interval == "" {
		cfg.Interval = "1m"
	}
	cfg.Endpoints = srv.Endpoints()
	if cfg.RESTClient == nil {
		cfg.RESTClient = fastRESTClient()
	}

	f, err := NewFeed(cfg)
	require.NoError(t, err)
	return f
}

func TestNewFeedValidation(t *testing.T) {
	t.Run("MissingFields", func(t *testing.T) {
		_, err := NewFeed(Config{Exchange: "binance"})
		assert.Error(t, err)
	})

	t.Run("UnknownExchange", func(t *testing.T) {
		_, err := NewFeed(Config{Exchange: "kraken", TradingPair: "BTC-USD", Interval: "1m"})
		assert.ErrorIs(t, err, adapters.ErrUnknownExchange)
	})

	t.Run("MalformedPair", func(t *testing.T) {
		_, err := NewFeed(Config{Exchange: "binance", TradingPair: "BTCUSDT", Interval: "1m"})
		assert.ErrorIs(t, err, adapters.ErrInvalidTradingPair)
	})

	t.Run("UnknownInterval", func(t *testing.T) {
		_, err := NewFeed(Config{Exchange: "binance", TradingPair: "BTC-USDT", Interval: "7m"})
		assert.ErrorIs(t, err, adapters.ErrInvalidInterval)
	})

	t.Run("NonStreamableIntervalExplicitWS", func(t *testing.T) {
		// Coinbase only streams five-minute candles.
		_, err := NewFeed(Config{Exchange: "coinbase", TradingPair: "ETH-USD", Interval: "1h", Mode: ModeWebSocket})
		assert.ErrorIs(t, err, adapters.ErrIntervalNotStreamable)
	})

	t.Run("ExchangeNameCaseInsensitive", func(t *testing.T) {
		f, err := NewFeed(Config{Exchange: "Binance", TradingPair: "BTC-USDT", Interval: "1m"})
		require.NoError(t, err)
		assert.Equal(t, "binance", f.Exchange())
		assert.NotEmpty(t, f.ID())
	})
}

func TestPollingFeedFillsStore(t *testing.T) {
	srv := mockexchange.NewServer()
	defer srv.Close()

	gen := mockexchange.NewGenerator(1, alignedStart, 60, 42000)
	srv.SetHistory(gen.Series(5))

	f := newTestFeed(t, srv, Config{
		Mode:         ModePolling,
		MaxRecords:   5,
		PollInterval: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.Start(ctx))
	defer f.Stop()

	readyCtx, readyCancel := context.WithTimeout(ctx, 5*time.Second)
	defer readyCancel()
	require.NoError(t, f.WaitReady(readyCtx))

	series := f.GetCandles()
	require.Len(t, series, 5)
	for i := 1; i < len(series); i++ {
		assert.Equal(t, series[i-1].Timestamp+60, series[i].Timestamp)
	}
	assert.True(t, f.Ready())
	assert.Equal(t, StateRunning, f.State())
}

func TestPollingFeedPicksUpNewCandles(t *testing.T) {
	srv := mockexchange.NewServer()
	defer srv.Close()

	gen := mockexchange.NewGenerator(2, alignedStart, 60, 42000)
	srv.SetHistory(gen.Series(3))

	f := newTestFeed(t, srv, Config{
		Mode:         ModePolling,
		MaxRecords:   10,
		PollInterval: 20 * time.Millisecond,
	})

	ctx := context.Background()
	require.NoError(t, f.Start(ctx))
	defer f.Stop()

	require.Eventually(t, func() bool { return len(f.GetCandles()) == 3 },
		5*time.Second, 10*time.Millisecond)

	srv.AppendCandle(gen.Next())

	require.Eventually(t, func() bool { return len(f.GetCandles()) == 4 },
		5*time.Second, 10*time.Millisecond)

	last, ok := f.Last()
	require.True(t, ok)
	assert.Equal(t, alignedStart+3*60, last.Timestamp)
}

func TestPollingFeedSurvivesServerErrors(t *testing.T) {
	srv := mockexchange.NewServer()
	defer srv.Close()

	gen := mockexchange.NewGenerator(3, alignedStart, 60, 42000)
	srv.SetHistory(gen.Series(3))

	// 404 is not retried by the REST client, so the first poll fails
	// outright and the next tick must recover.
	srv.FailNext(http.StatusNotFound)

	f := newTestFeed(t, srv, Config{
		Mode:         ModePolling,
		MaxRecords:   3,
		PollInterval: 20 * time.Millisecond,
	})

	require.NoError(t, f.Start(context.Background()))
	defer f.Stop()

	readyCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.WaitReady(readyCtx))
	assert.Len(t, f.GetCandles(), 3)
}

func TestWebSocketFeedStreams(t *testing.T) {
	srv := mockexchange.NewServer()
	defer srv.Close()

	gen := mockexchange.NewGenerator(4, alignedStart, 60, 42000)
	srv.SetHistory(gen.Series(3))

	f := newTestFeed(t, srv, Config{
		Mode:       ModeWebSocket,
		MaxRecords: 5,
	})

	require.NoError(t, f.Start(context.Background()))
	defer f.Stop()

	// REST backfill fills the store before any stream traffic.
	require.Eventually(t, func() bool { return len(f.GetCandles()) == 3 },
		5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return f.State() == StateRunning },
		5*time.Second, 10*time.Millisecond)

	next := gen.Next()
	srv.EmitKline("BTCUSDT", "1m", next, false)

	require.Eventually(t, func() bool {
		last, ok := f.Last()
		return ok && last.Timestamp == next.Timestamp
	}, 5*time.Second, 10*time.Millisecond)

	last, _ := f.Last()
	assert.False(t, last.Final)

	// The close of the same bar replaces it in place.
	srv.EmitKline("BTCUSDT", "1m", next, true)
	require.Eventually(t, func() bool {
		last, ok := f.Last()
		return ok && last.Timestamp == next.Timestamp && last.Final
	}, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, f.GetCandles(), 4)
}

func TestWebSocketFeedReconnects(t *testing.T) {
	srv := mockexchange.NewServer()
	defer srv.Close()

	gen := mockexchange.NewGenerator(5, alignedStart, 60, 42000)
	srv.SetHistory(gen.Series(2))

	f := newTestFeed(t, srv, Config{
		Mode:       ModeWebSocket,
		MaxRecords: 5,
	})

	require.NoError(t, f.Start(context.Background()))
	defer f.Stop()

	require.Eventually(t, func() bool { return srv.ConnectionCount() == 1 },
		5*time.Second, 10*time.Millisecond)

	srv.DropConnections()

	// The strategy dials again and resubscribes on its own.
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 1 },
		10*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return f.State() == StateRunning },
		10*time.Second, 10*time.Millisecond)

	// Data collected before the drop is retained.
	assert.NotEmpty(t, f.GetCandles())
}

func TestWebSocketFeedSubscriptionRejected(t *testing.T) {
	srv := mockexchange.NewServer()
	defer srv.Close()
	srv.RejectSubscriptions(true)

	f := newTestFeed(t, srv, Config{
		Mode:       ModeWebSocket,
		MaxRecords: 5,
	})

	require.NoError(t, f.Start(context.Background()))
	defer f.Stop()

	// A rejection is terminal, not retried.
	require.Eventually(t, func() bool { return f.State() == StateStopped },
		5*time.Second, 10*time.Millisecond)
}

func TestStartStopLifecycle(t *testing.T) {
	srv := mockexchange.NewServer()
	defer srv.Close()
	srv.SetHistory(mockexchange.NewGenerator(6, alignedStart, 60, 42000).Series(2))

	f := newTestFeed(t, srv, Config{
		Mode:         ModePolling,
		MaxRecords:   2,
		PollInterval: 20 * time.Millisecond,
	})

	ctx := context.Background()
	require.NoError(t, f.Start(ctx))
	assert.ErrorIs(t, f.Start(ctx), errAlreadyStarted)

	f.Stop()
	assert.Equal(t, StateStopped, f.State())
	// Stop is idempotent.
	f.Stop()

	// A stopped feed can be started again.
	require.NoError(t, f.Start(ctx))
	f.Stop()
}

func TestFetchCandles(t *testing.T) {
	srv := mockexchange.NewServer()
	defer srv.Close()

	gen := mockexchange.NewGenerator(7, alignedStart, 60, 42000)
	srv.SetHistory(gen.Series(10))

	f := newTestFeed(t, srv, Config{Mode: ModePolling, MaxRecords: 5})

	start := time.Unix(alignedStart, 0)
	end := time.Unix(alignedStart+10*60, 0)
	out, err := f.FetchCandles(context.Background(), start, end)
	require.NoError(t, err)
	require.Len(t, out, 10)
	for i := 1; i < len(out); i++ {
		assert.Equal(t, out[i-1].Timestamp+60, out[i].Timestamp)
	}

	// Results merge into the store, bounded by its retention window.
	stored := f.GetCandles()
	require.Len(t, stored, 5)
	assert.Equal(t, out[9].Timestamp, stored[4].Timestamp)

	_, err = f.FetchCandles(context.Background(), end, start)
	assert.Error(t, err)
}

func newBybitTestFeed(t *testing.T, srv *mockexchange.Server, cfg Config) *Feed {
	t.Helper()
	cfg.Exchange = "bybit"
	if cfg.TradingPair == "" {
		cfg.TradingPair = "BTC-USDT"
	}
	if cfg.Interval == "" {
		cfg.Interval = "1m"
	}
	cfg.Endpoints = srv.BybitEndpoints()
	if cfg.RESTClient == nil {
		cfg.RESTClient = fastRESTClient()
	}

	f, err := NewFeed(cfg)
	require.NoError(t, err)
	return f
}

func TestFetchCandlesNewestFirstPaging(t *testing.T) {
	srv := mockexchange.NewServer()
	defer srv.Close()

	gen := mockexchange.NewGenerator(9, alignedStart, 60, 42000)
	srv.SetHistory(gen.Series(12))
	// Each response carries the newest five rows of the window, so one
	// request cannot cover the range.
	srv.SetPageLimit(5)

	f := newBybitTestFeed(t, srv, Config{Mode: ModePolling, MaxRecords: 5})

	start := time.Unix(alignedStart, 0)
	end := time.Unix(alignedStart+12*60, 0)
	out, err := f.FetchCandles(context.Background(), start, end)
	require.NoError(t, err)

	// The oldest candles must not be dropped.
	require.Len(t, out, 12)
	assert.Equal(t, alignedStart, out[0].Timestamp)
	assert.Equal(t, alignedStart+11*60, out[11].Timestamp)
	for i := 1; i < len(out); i++ {
		assert.Equal(t, out[i-1].Timestamp+60, out[i].Timestamp)
	}
}

// fastHeartbeatAdapter shortens Bybit's heartbeat cadence so tests can
// observe ping traffic without waiting out the production interval.
type fastHeartbeatAdapter struct {
	*bybit.Adapter
}

func (fastHeartbeatAdapter) HeartbeatInterval() time.Duration { return 30 * time.Millisecond }

func TestBybitWebSocketFeedEndToEnd(t *testing.T) {
	srv := mockexchange.NewServer()
	defer srv.Close()

	gen := mockexchange.NewGenerator(10, alignedStart, 60, 42000)
	srv.SetHistory(gen.Series(3))

	reg := adapters.NewRegistry()
	reg.Register("bybit", func(ep adapters.Endpoints) adapters.Adapter {
		return fastHeartbeatAdapter{bybit.New(ep)}
	})

	f := newBybitTestFeed(t, srv, Config{
		Mode:       ModeWebSocket,
		MaxRecords: 5,
		Registry:   reg,
	})

	require.NoError(t, f.Start(context.Background()))
	defer f.Stop()

	// Backfill decodes the newest-first envelope into ascending order.
	require.Eventually(t, func() bool { return len(f.GetCandles()) == 3 },
		5*time.Second, 10*time.Millisecond)
	series := f.GetCandles()
	assert.Equal(t, alignedStart, series[0].Timestamp)
	require.Eventually(t, func() bool { return f.State() == StateRunning },
		5*time.Second, 10*time.Millisecond)

	// Live pushes arrive in kline topic framing after the explicit
	// subscribe ack.
	next := gen.Next()
	srv.EmitKline("BTCUSDT", "1", next, true)
	require.Eventually(t, func() bool {
		last, ok := f.Last()
		return ok && last.Timestamp == next.Timestamp && last.Final
	}, 5*time.Second, 10*time.Millisecond)

	// The client keeps the stream alive with op-ping frames.
	require.Eventually(t, func() bool { return srv.PingCount() >= 2 },
		5*time.Second, 10*time.Millisecond)
}
