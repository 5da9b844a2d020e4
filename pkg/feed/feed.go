package feed

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/MementoRC/hb-candles-feed-sub001/pkg/adapters"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/candles"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/exchanges"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/logging"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/network"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/store"
)

// defaultMaxRecords is the retention window when the config leaves
// MaxRecords at zero.
const defaultMaxRecords = 150

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config describes one candle feed. Exchange, TradingPair and Interval
// are mandatory; everything else has working defaults.
type Config struct {
	// Exchange is the registry name, e.g. "binance". Case-insensitive.
	Exchange string `validate:"required"`

	// TradingPair is the canonical "BASE-QUOTE" pair, e.g. "BTC-USDT".
	TradingPair string `validate:"required"`

	// Interval is the canonical candle interval, e.g. "1m".
	Interval string `validate:"required"`

	// MaxRecords caps the retained series; zero selects the default.
	MaxRecords int `validate:"gte=0"`

	// Mode selects the collection strategy; empty means ModeAuto.
	Mode Mode

	// PollInterval overrides the polling cadence; zero derives it from the
	// candle interval.
	PollInterval time.Duration

	// Endpoints overrides the exchange's base URLs, e.g. for a testnet or
	// a local mock.
	Endpoints adapters.Endpoints

	// Registry resolves the exchange name; nil selects the built-in
	// registry with every supported exchange.
	Registry *adapters.Registry

	// RESTClient and Dialer are the shared transports; nil constructs
	// per-feed defaults. Passing shared instances lets many feeds share
	// one rate-limit budget.
	RESTClient adapters.RESTClient
	Dialer     *network.Dialer

	Logger logging.Logger
}

// Feed is one continuously updated candle series for a single (exchange,
// trading pair, interval) tuple. Construct with NewFeed, drive with Start
// and Stop, read with GetCandles. All methods are safe for concurrent
// use.
type Feed struct {
	id              string
	exchange        string
	pair            string
	interval        string
	intervalSeconds int64

	adapter  adapters.Adapter
	rest     adapters.RESTClient
	st       *store.Store
	strategy Strategy
	logger   logging.Logger

	mu      sync.Mutex
	started bool
}

// NewFeed validates the configuration, resolves the exchange adapter and
// assembles the feed. The trading pair, interval and strategy mode are all
// checked here so a constructed feed cannot fail on Start for
// configuration reasons.
func NewFeed(cfg Config) (*Feed, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid feed config: %w", err)
	}

	if cfg.MaxRecords == 0 {
		cfg.MaxRecords = defaultMaxRecords
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	if cfg.Registry == nil {
		cfg.Registry = exchanges.DefaultRegistry()
	}
	if cfg.RESTClient == nil {
		cfg.RESTClient = network.NewRESTClient(nil)
	}
	if cfg.Dialer == nil {
		cfg.Dialer = network.NewDialer(nil)
	}

	exchange := strings.ToLower(cfg.Exchange)
	adapter, err := cfg.Registry.Resolve(exchange, cfg.Endpoints)
	if err != nil {
		return nil, err
	}

	if _, err := adapter.FormatTradingPair(cfg.TradingPair); err != nil {
		return nil, err
	}
	intervalSeconds, ok := adapter.SupportedIntervals()[cfg.Interval]
	if !ok {
		return nil, fmt.Errorf("%w: %q on %s", adapters.ErrInvalidInterval, cfg.Interval, exchange)
	}

	mode, err := resolveMode(cfg.Mode, adapter, cfg.Interval)
	if err != nil {
		return nil, err
	}

	st := store.New(cfg.MaxRecords, intervalSeconds)
	logger := cfg.Logger.WithFields(
		logging.String("exchange", exchange),
		logging.String("pair", cfg.TradingPair),
		logging.String("interval", cfg.Interval),
	)

	var strategy Strategy
	switch mode {
	case ModeWebSocket:
		strategy = newWSStrategy(
			adapter, cfg.RESTClient, cfg.Dialer, st,
			cfg.TradingPair, cfg.Interval, cfg.MaxRecords, logger,
		)
	default:
		strategy = newPollingStrategy(
			adapter, cfg.RESTClient, st,
			cfg.TradingPair, cfg.Interval,
			time.Duration(intervalSeconds)*time.Second,
			cfg.PollInterval, cfg.MaxRecords, logger,
		)
	}

	return &Feed{
		id:              uuid.NewString(),
		exchange:        exchange,
		pair:            cfg.TradingPair,
		interval:        cfg.Interval,
		intervalSeconds: intervalSeconds,
		adapter:         adapter,
		rest:            cfg.RESTClient,
		st:              st,
		strategy:        strategy,
		logger:          logger,
	}, nil
}

// ID returns the unique identifier assigned to this feed instance.
func (f *Feed) ID() string { return f.id }

// Exchange returns the resolved exchange name.
func (f *Feed) Exchange() string { return f.exchange }

// TradingPair returns the canonical trading pair.
func (f *Feed) TradingPair() string { return f.pair }

// Interval returns the canonical candle interval.
func (f *Feed) Interval() string { return f.interval }

// Start launches the collection strategy. It returns quickly; network
// failures after launch are handled by the strategy's own retry policy and
// never surface here. Starting a started feed is an error.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return fmt.Errorf("feed %s: %w", f.id, errAlreadyStarted)
	}
	if err := f.strategy.Start(ctx); err != nil {
		return err
	}
	f.started = true
	f.logger.Info("feed started", logging.String("id", f.id))
	return nil
}

// Stop halts collection and waits for background work to finish. The
// collected candles remain readable. Stopping a stopped feed is a no-op.
func (f *Feed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return
	}
	f.strategy.Stop()
	f.started = false
	f.logger.Info("feed stopped", logging.String("id", f.id))
}

// State reports the lifecycle state of the underlying strategy.
func (f *Feed) State() State {
	return f.strategy.State()
}

// GetCandles returns a copy of the current series in ascending timestamp
// order.
func (f *Feed) GetCandles() []candles.Candle {
	return f.st.Snapshot()
}

// Last returns the most recent candle, which may still be forming.
func (f *Feed) Last() (candles.Candle, bool) {
	return f.st.Last()
}

// Ready reports whether the series has filled to its configured depth.
func (f *Feed) Ready() bool {
	return f.st.Ready()
}

// WaitReady blocks until the feed is ready or ctx is done.
func (f *Feed) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if f.st.Ready() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// FetchCandles performs a one-shot historical fetch for [start, end)
// independent of the running strategy, paging through the exchange's
// per-request limit until the window is covered. Results are merged into
// the feed's store and returned ascending and de-duplicated. Candles
// older than what the store's retention window can hold are evicted on
// merge, so the returned slice can be longer than a subsequent
// GetCandles.
func (f *Feed) FetchCandles(ctx context.Context, start, end time.Time) ([]candles.Candle, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("invalid range: end %s not after start %s", end, start)
	}

	byTS := make(map[int64]candles.Candle)
	var err error
	if f.adapter.PagesNewestFirst() {
		err = f.pageBackward(ctx, start, end, byTS)
	} else {
		err = f.pageForward(ctx, start, end, byTS)
	}
	if err != nil {
		return nil, err
	}

	out := make([]candles.Candle, 0, len(byTS))
	for _, c := range byTS {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	f.st.Ingest(out)
	return out, nil
}

// pageForward walks an oldest-first exchange from start toward end,
// advancing the cursor past the newest candle of each page.
func (f *Feed) pageForward(ctx context.Context, start, end time.Time, byTS map[int64]candles.Candle) error {
	cursor := start
	for cursor.Before(end) {
		page, err := f.fetchPage(ctx, cursor, end)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		for _, c := range page {
			byTS[c.Timestamp] = c
		}
		next := time.Unix(page[len(page)-1].Timestamp+f.intervalSeconds, 0)
		if !next.After(cursor) {
			return nil
		}
		cursor = next
	}
	return nil
}

// pageBackward walks a newest-first exchange from end toward start. Each
// page answers with the newest rows of the remaining window, so the end
// cursor retreats to the oldest candle of the page. The boundary candle
// is requested twice; the timestamp map absorbs the overlap.
func (f *Feed) pageBackward(ctx context.Context, start, end time.Time, byTS map[int64]candles.Candle) error {
	cursor := end
	for cursor.After(start) {
		page, err := f.fetchPage(ctx, start, cursor)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		for _, c := range page {
			byTS[c.Timestamp] = c
		}
		next := time.Unix(page[0].Timestamp, 0)
		if !next.Before(cursor) {
			return nil
		}
		cursor = next
	}
	return nil
}

func (f *Feed) fetchPage(ctx context.Context, start, end time.Time) ([]candles.Candle, error) {
	req, err := f.adapter.BuildRESTRequest(f.pair, f.interval, adapters.FetchOptions{
		StartTime: start,
		EndTime:   end,
	})
	if err != nil {
		return nil, err
	}
	payload, err := f.rest.Request(ctx, "GET", req.URL, req.Query)
	if err != nil {
		return nil, err
	}
	return f.adapter.ParseRESTResponse(f.interval, payload)
}
