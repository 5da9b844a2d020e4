package feed

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/MementoRC/hb-candles-feed-sub001/pkg/adapters"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/logging"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/store"
)

// maxPollInterval caps the tick period so long-interval feeds (4h, 1d)
// still refresh the forming candle at a useful rate.
const maxPollInterval = time.Minute

// pollingStrategy drives periodic REST fetches: one immediate backfill of
// the most recent maxRecords candles, then a recurring fetch windowed from
// the last stored timestamp to now, which both catches up on gaps and
// refreshes the still-forming candle.
//
// A failed tick is logged and contained; the next tick retries with the
// same window logic, so transient failures self-heal. Consecutive
// failures stretch the wait with an exponential backoff that resets on
// the first success, keeping a degraded exchange from being hammered.
type pollingStrategy struct {
	adapter      adapters.Adapter
	rest         adapters.RESTClient
	st           *store.Store
	pair         string
	interval     string
	pollInterval time.Duration
	maxRecords   int
	logger       logging.Logger

	state stateVar

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newPollingStrategy(
	adapter adapters.Adapter,
	rest adapters.RESTClient,
	st *store.Store,
	pair, interval string,
	intervalDuration time.Duration,
	pollInterval time.Duration,
	maxRecords int,
	logger logging.Logger,
) *pollingStrategy {
	if pollInterval <= 0 {
		pollInterval = intervalDuration
		if pollInterval > maxPollInterval {
			pollInterval = maxPollInterval
		}
	}
	return &pollingStrategy{
		adapter:      adapter,
		rest:         rest,
		st:           st,
		pair:         pair,
		interval:     interval,
		pollInterval: pollInterval,
		maxRecords:   maxRecords,
		logger: logger.WithFields(
			logging.String("strategy", "polling"),
			logging.String("exchange", adapter.Name()),
			logging.String("pair", pair),
			logging.String("interval", interval),
		),
	}
}

// Start implements Strategy.
func (p *pollingStrategy) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return errAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.state.set(StateStarting)

	go p.run(runCtx)
	return nil
}

func (p *pollingStrategy) run(ctx context.Context) {
	defer close(p.done)
	defer p.state.set(StateStopped)

	// Initial backfill covers the most recent maxRecords candles.
	if err := p.fetch(ctx, adapters.FetchOptions{Limit: p.maxRecords}); err != nil {
		p.logger.Warn("initial fetch failed", logging.Error(err))
	}
	if ctx.Err() != nil {
		return
	}
	p.state.set(StateRunning)

	retryWait := backoff.NewExponentialBackOff()
	retryWait.InitialInterval = time.Second
	retryWait.MaxInterval = p.pollInterval
	retryWait.MaxElapsedTime = 0

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.fetch(ctx, p.windowOptions()); err != nil {
				if ctx.Err() != nil {
					return
				}
				p.logger.Warn("poll tick failed", logging.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(retryWait.NextBackOff()):
				}
				continue
			}
			retryWait.Reset()
		}
	}
}

// windowOptions builds the fetch window: from the last stored candle
// (inclusive, so the forming candle is refreshed) to now; a full backfill
// when the store is still empty.
func (p *pollingStrategy) windowOptions() adapters.FetchOptions {
	last, ok := p.st.LastTimestamp()
	if !ok {
		return adapters.FetchOptions{Limit: p.maxRecords}
	}
	return adapters.FetchOptions{
		StartTime: time.Unix(last, 0),
		EndTime:   time.Now(),
	}
}

func (p *pollingStrategy) fetch(ctx context.Context, opts adapters.FetchOptions) error {
	req, err := p.adapter.BuildRESTRequest(p.pair, p.interval, opts)
	if err != nil {
		return err
	}
	payload, err := p.rest.Request(ctx, "GET", req.URL, req.Query)
	if err != nil {
		return err
	}
	parsed, err := p.adapter.ParseRESTResponse(p.interval, payload)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.st.Ingest(parsed)
	return nil
}

// Stop implements Strategy. It cancels the schedule and any in-flight
// request, then waits for the run loop to exit so no timer is left
// dangling. Stopping an already-stopped strategy is a no-op.
func (p *pollingStrategy) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// State implements Strategy.
func (p *pollingStrategy) State() State {
	return p.state.get()
}
