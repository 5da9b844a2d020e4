// Package binance implements the exchange adapter for Binance spot
// markets: no-separator pairs ("BTCUSDT"), millisecond timestamps,
// array-of-arrays kline rows and SUBSCRIBE/params WebSocket framing.
package binance

import (
	"net/url"
	"strconv"
	"sync/atomic"

	json "github.com/goccy/go-json"

	"github.com/MementoRC/hb-candles-feed-sub001/pkg/adapters"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/candles"
)

const (
	defaultRESTURL = "https://api.binance.com/api/v3/klines"
	defaultWSURL   = "wss://stream.binance.com:9443/ws"
)

var intervals = map[string]int64{
	"1s": 1, "1m": 60, "3m": 180, "5m": 300, "15m": 900, "30m": 1800,
	"1h": 3600, "2h": 7200, "4h": 14400, "6h": 21600, "8h": 28800,
	"12h": 43200, "1d": 86400, "3d": 259200, "1w": 604800, "1M": 2592000,
}

var wsIntervals = []string{
	"1s", "1m", "3m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "8h",
	"12h", "1d", "3d", "1w", "1M",
}

// Adapter is the Binance spot adapter.
type Adapter struct {
	adapters.Base
	reqID atomic.Int64
}

// New constructs a Binance adapter, honoring endpoint overrides for
// testnet deployments.
func New(ep adapters.Endpoints) *Adapter {
	return &Adapter{
		Base: adapters.NewBase(adapters.Spec{
			Name:        "binance",
			Pairs:       adapters.NoSeparator,
			Unit:        adapters.UnitMilliseconds,
			RESTURL:     defaultRESTURL,
			WSURL:       defaultWSURL,
			Intervals:   intervals,
			WSIntervals: wsIntervals,
			MaxLimit:    1000,
		}, ep),
	}
}

// Factory adapts New to the registry signature.
func Factory(ep adapters.Endpoints) adapters.Adapter { return New(ep) }

// BuildRESTRequest implements adapters.Adapter.
func (a *Adapter) BuildRESTRequest(pair, interval string, opts adapters.FetchOptions) (*adapters.RESTRequest, error) {
	if _, err := a.CheckInterval(interval); err != nil {
		return nil, err
	}
	symbol, err := a.FormatTradingPair(pair)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(a.ClampLimit(opts.Limit)))
	if !opts.StartTime.IsZero() {
		q.Set("startTime", strconv.FormatInt(a.Unit().ToWire(opts.StartTime), 10))
	}
	if !opts.EndTime.IsZero() {
		q.Set("endTime", strconv.FormatInt(a.Unit().ToWire(opts.EndTime), 10))
	}
	return &adapters.RESTRequest{URL: a.RESTURL(), Query: q}, nil
}

// ParseRESTResponse implements adapters.Adapter. Binance kline rows carry
// twelve cells:
//
//	[openTime, open, high, low, close, volume, closeTime,
//	 quoteVolume, trades, takerBuyBase, takerBuyQuote, ignore]
//
// Rows are already ascending by open time. Trailing optional cells default
// to zero; an individual undecodable row is skipped rather than failing
// the page.
func (a *Adapter) ParseRESTResponse(interval string, payload []byte) ([]candles.Candle, error) {
	var rows []adapters.Row
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, a.formatError("kline payload is not an array of rows", err)
	}

	out := make([]candles.Candle, 0, len(rows))
	for _, row := range rows {
		c, err := a.parseRow(row)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (a *Adapter) parseRow(row adapters.Row) (candles.Candle, error) {
	openTime, err := row.IntCell(0)
	if err != nil || openTime <= 0 {
		return candles.Candle{}, a.formatError("row missing open time", err)
	}

	c := candles.Candle{
		Timestamp: a.Unit().FromWire(openTime),
		Final:     true,
	}
	if c.Open, err = row.DecimalCell(1); err != nil {
		return candles.Candle{}, err
	}
	if c.High, err = row.DecimalCell(2); err != nil {
		return candles.Candle{}, err
	}
	if c.Low, err = row.DecimalCell(3); err != nil {
		return candles.Candle{}, err
	}
	if c.Close, err = row.DecimalCell(4); err != nil {
		return candles.Candle{}, err
	}
	if c.Volume, err = row.DecimalCell(5); err != nil {
		return candles.Candle{}, err
	}
	if c.QuoteVolume, err = row.DecimalCell(7); err != nil {
		return candles.Candle{}, err
	}
	if c.TradeCount, err = row.IntCell(8); err != nil {
		return candles.Candle{}, err
	}
	if c.TakerBuyBaseVolume, err = row.DecimalCell(9); err != nil {
		return candles.Candle{}, err
	}
	if c.TakerBuyQuoteVolume, err = row.DecimalCell(10); err != nil {
		return candles.Candle{}, err
	}
	return c, nil
}

// subscribeFrame is the Binance stream management message.
type subscribeFrame struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// BuildWSSubscribe implements adapters.Adapter.
func (a *Adapter) BuildWSSubscribe(pair, interval string) ([]byte, error) {
	return a.streamFrame("SUBSCRIBE", pair, interval)
}

// BuildWSUnsubscribe implements adapters.Adapter.
func (a *Adapter) BuildWSUnsubscribe(pair, interval string) ([]byte, error) {
	return a.streamFrame("UNSUBSCRIBE", pair, interval)
}

func (a *Adapter) streamFrame(method, pair, interval string) ([]byte, error) {
	if _, err := a.CheckInterval(interval); err != nil {
		return nil, err
	}
	base, quote, err := adapters.SplitPair(pair)
	if err != nil {
		return nil, err
	}
	stream := adapters.NoSeparatorLower.Format(base, quote) + "@kline_" + interval
	return json.Marshal(subscribeFrame{
		Method: method,
		Params: []string{stream},
		ID:     a.reqID.Add(1),
	})
}

// wsEnvelope is the kline stream event; non-kline traffic leaves Event
// empty or carries a Result/Error member instead.
type wsEnvelope struct {
	Event string  `json:"e"`
	Kline wsKline `json:"k"`

	Result json.RawMessage `json:"result"`
	ID     *int64          `json:"id"`
	Error  *wsError        `json:"error"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

type wsKline struct {
	OpenTime            int64  `json:"t"`
	Open                string `json:"o"`
	High                string `json:"h"`
	Low                 string `json:"l"`
	Close               string `json:"c"`
	Volume              string `json:"v"`
	TradeCount          int64  `json:"n"`
	Closed              bool   `json:"x"`
	QuoteVolume         string `json:"q"`
	TakerBuyBaseVolume  string `json:"V"`
	TakerBuyQuoteVolume string `json:"Q"`
}

// ParseWSMessage implements adapters.Adapter. Subscription replies, pings
// and non-kline events return (nil, nil).
func (a *Adapter) ParseWSMessage(raw []byte) ([]candles.Candle, error) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, a.formatError("frame is not valid JSON", err)
	}
	if env.Event != "kline" {
		return nil, nil
	}
	if env.Kline.OpenTime <= 0 {
		return nil, a.formatError("kline event missing open time", nil)
	}

	c := candles.Candle{
		Timestamp:  a.Unit().FromWire(env.Kline.OpenTime),
		TradeCount: env.Kline.TradeCount,
		Final:      env.Kline.Closed,
	}
	var err error
	if c.Open, err = adapters.ParseDecimalField(env.Kline.Open); err != nil {
		return nil, a.formatError("kline open", err)
	}
	if c.High, err = adapters.ParseDecimalField(env.Kline.High); err != nil {
		return nil, a.formatError("kline high", err)
	}
	if c.Low, err = adapters.ParseDecimalField(env.Kline.Low); err != nil {
		return nil, a.formatError("kline low", err)
	}
	if c.Close, err = adapters.ParseDecimalField(env.Kline.Close); err != nil {
		return nil, a.formatError("kline close", err)
	}
	if c.Volume, err = adapters.ParseDecimalField(env.Kline.Volume); err != nil {
		return nil, a.formatError("kline volume", err)
	}
	if c.QuoteVolume, err = adapters.ParseDecimalField(env.Kline.QuoteVolume); err != nil {
		return nil, a.formatError("kline quote volume", err)
	}
	if c.TakerBuyBaseVolume, err = adapters.ParseDecimalField(env.Kline.TakerBuyBaseVolume); err != nil {
		return nil, a.formatError("kline taker base volume", err)
	}
	if c.TakerBuyQuoteVolume, err = adapters.ParseDecimalField(env.Kline.TakerBuyQuoteVolume); err != nil {
		return nil, a.formatError("kline taker quote volume", err)
	}
	return []candles.Candle{c}, nil
}

// HandshakeAck implements adapters.Adapter. Binance answers SUBSCRIBE with
// {"result":null,"id":N} on success and an error member on rejection.
func (a *Adapter) HandshakeAck(raw []byte) (bool, error) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false, nil
	}
	if env.Error != nil {
		return false, a.rejectError(env.Error.Message)
	}
	return env.ID != nil, nil
}

// Heartbeat implements adapters.Adapter. Binance pings at the protocol
// level, which the transport answers automatically.
func (a *Adapter) Heartbeat() []byte { return nil }

func (a *Adapter) formatError(reason string, err error) error {
	return &adapters.ResponseFormatError{Exchange: a.Name(), Reason: reason, Err: err}
}

func (a *Adapter) rejectError(msg string) error {
	return &adapters.ResponseFormatError{
		Exchange: a.Name(),
		Reason:   "subscription rejected: " + msg,
		Err:      adapters.ErrSubscriptionRejected,
	}
}

var _ adapters.Adapter = (*Adapter)(nil)
