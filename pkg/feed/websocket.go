package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go"

	"github.com/MementoRC/hb-candles-feed-sub001/pkg/adapters"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/logging"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/network"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/store"
)

const defaultHandshakeTimeout = 10 * time.Second

// wsStrategy maintains a persistent subscription to the exchange's candle
// stream. It performs one REST backfill on start so the store does not
// wait for live traffic to fill, then keeps a connection open for
// incremental updates.
//
// A dropped connection moves the strategy to Reconnecting and dials again
// with growing delays; the store keeps its data across reconnects and the
// post-reconnect backfill closes any gap the outage opened. An explicit
// subscription rejection from the exchange is terminal: reconnecting
// cannot fix a bad channel request.
type wsStrategy struct {
	adapter    adapters.Adapter
	rest       adapters.RESTClient
	dialer     *network.Dialer
	st         *store.Store
	pair       string
	interval   string
	maxRecords int
	logger     logging.Logger

	handshakeTimeout time.Duration

	state stateVar

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newWSStrategy(
	adapter adapters.Adapter,
	rest adapters.RESTClient,
	dialer *network.Dialer,
	st *store.Store,
	pair, interval string,
	maxRecords int,
	logger logging.Logger,
) *wsStrategy {
	return &wsStrategy{
		adapter:          adapter,
		rest:             rest,
		dialer:           dialer,
		st:               st,
		pair:             pair,
		interval:         interval,
		maxRecords:       maxRecords,
		handshakeTimeout: defaultHandshakeTimeout,
		logger: logger.WithFields(
			logging.String("strategy", "websocket"),
			logging.String("exchange", adapter.Name()),
			logging.String("pair", pair),
			logging.String("interval", interval),
		),
	}
}

// Start implements Strategy.
func (w *wsStrategy) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return errAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.state.set(StateStarting)

	go w.run(runCtx)
	return nil
}

func (w *wsStrategy) run(ctx context.Context) {
	defer close(w.done)
	defer w.state.set(StateStopped)

	if err := w.backfill(ctx); err != nil {
		w.logger.Warn("historical backfill failed", logging.Error(err))
	}

	first := true
	for {
		if ctx.Err() != nil {
			return
		}
		if !first {
			w.state.set(StateReconnecting)
		}

		conn, err := w.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, adapters.ErrSubscriptionRejected) {
				w.logger.Error("subscription rejected, giving up", logging.Error(err))
				return
			}
			// Transient exhaustion of one connect episode; keep trying.
			w.logger.Warn("connect episode failed", logging.Error(err))
			first = false
			continue
		}
		w.state.set(StateRunning)
		if !first {
			// Close the gap the outage opened.
			if err := w.backfill(ctx); err != nil {
				w.logger.Warn("gap backfill failed", logging.Error(err))
			}
		}
		first = false

		w.consume(ctx, conn)
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		w.logger.Warn("connection lost, reconnecting", logging.Error(conn.Err()))
	}
}

// connectAttempts bounds one connect episode; the run loop starts a fresh
// episode when all attempts were exhausted by transient failures.
const connectAttempts = 8

// connect dials and subscribes, retrying transient failures with growing
// delays. A rejected subscription aborts the episode immediately.
func (w *wsStrategy) connect(ctx context.Context) (*network.Conn, error) {
	var conn *network.Conn
	err := retry.Do(
		func() error {
			c, err := w.dialer.Dial(ctx, w.adapter.WSURL())
			if err != nil {
				return err
			}
			if err := w.subscribe(ctx, c); err != nil {
				_ = c.Close()
				return err
			}
			conn = c
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(connectAttempts),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(_ uint, err error) {
			w.logger.Warn("connect attempt failed", logging.Error(err))
		}),
	)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// subscribe sends the subscription frame and waits for the exchange to
// acknowledge it. Exchanges without an explicit ack are considered
// subscribed on the first parsed candle instead.
func (w *wsStrategy) subscribe(ctx context.Context, conn *network.Conn) error {
	frame, err := w.adapter.BuildWSSubscribe(w.pair, w.interval)
	if err != nil {
		return retry.Unrecoverable(err)
	}
	if err := conn.Send(frame); err != nil {
		return err
	}

	deadline := time.NewTimer(w.handshakeTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("no subscription ack within %s", w.handshakeTimeout)
		case raw, ok := <-conn.Messages():
			if !ok {
				if err := conn.Err(); err != nil {
					return err
				}
				return network.ErrConnClosed
			}
			acked, err := w.adapter.HandshakeAck(raw)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if acked {
				return nil
			}
			parsed, perr := w.adapter.ParseWSMessage(raw)
			if perr != nil {
				continue
			}
			if len(parsed) > 0 {
				w.st.Ingest(parsed)
				return nil
			}
		}
	}
}

// consume drains the connection until it ends or ctx is cancelled, sending
// application-level heartbeats when the exchange requires them.
func (w *wsStrategy) consume(ctx context.Context, conn *network.Conn) {
	var heartbeats <-chan time.Time
	if w.adapter.Heartbeat() != nil {
		ticker := time.NewTicker(w.adapter.HeartbeatInterval())
		defer ticker.Stop()
		heartbeats = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			w.unsubscribe(conn)
			return
		case <-heartbeats:
			if err := conn.Send(w.adapter.Heartbeat()); err != nil {
				return
			}
		case raw, ok := <-conn.Messages():
			if !ok {
				return
			}
			parsed, err := w.adapter.ParseWSMessage(raw)
			if err != nil {
				w.logger.Warn("dropping unparseable frame", logging.Error(err))
				continue
			}
			if len(parsed) > 0 {
				w.st.Ingest(parsed)
			}
		}
	}
}

// unsubscribe tells the exchange the channel is no longer wanted. Best
// effort: the connection is about to close either way.
func (w *wsStrategy) unsubscribe(conn *network.Conn) {
	frame, err := w.adapter.BuildWSUnsubscribe(w.pair, w.interval)
	if err != nil || frame == nil {
		return
	}
	_ = conn.Send(frame)
}

// backfill fetches the most recent candles over REST so the store is
// populated without waiting for live closes.
func (w *wsStrategy) backfill(ctx context.Context) error {
	opts := adapters.FetchOptions{Limit: w.maxRecords}
	if last, ok := w.st.LastTimestamp(); ok {
		opts = adapters.FetchOptions{
			StartTime: time.Unix(last, 0),
			EndTime:   time.Now(),
		}
	}

	req, err := w.adapter.BuildRESTRequest(w.pair, w.interval, opts)
	if err != nil {
		return err
	}
	payload, err := w.rest.Request(ctx, "GET", req.URL, req.Query)
	if err != nil {
		return err
	}
	parsed, err := w.adapter.ParseRESTResponse(w.interval, payload)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	w.st.Ingest(parsed)
	return nil
}

// Stop implements Strategy. It unsubscribes best effort, closes the
// connection and waits for the run loop to exit.
func (w *wsStrategy) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// State implements Strategy.
func (w *wsStrategy) State() State {
	return w.state.get()
}
