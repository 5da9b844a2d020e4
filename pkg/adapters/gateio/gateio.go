// Package gateio implements the exchange adapter for Gate.io spot
// markets: underscore-separated pairs ("BTC_USDT"), second timestamps,
// array rows of quoted strings and time/channel/event WebSocket framing.
package gateio

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/MementoRC/hb-candles-feed-sub001/pkg/adapters"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/candles"
)

const (
	defaultRESTURL = "https://api.gateio.ws/api/v4/spot/candlesticks"
	defaultWSURL   = "wss://api.gateio.ws/ws/v4/"
)

var intervals = map[string]int64{
	"1s": 1, "1m": 60, "5m": 300, "15m": 900, "30m": 1800,
	"1h": 3600, "4h": 14400, "8h": 28800, "1d": 86400, "1w": 604800,
}

var wsIntervals = []string{
	"1s", "1m", "5m", "15m", "30m", "1h", "4h", "8h", "1d", "1w",
}

// Adapter is the Gate.io spot adapter.
type Adapter struct {
	adapters.Base
}

// New constructs a Gate.io adapter, honoring endpoint overrides.
func New(ep adapters.Endpoints) *Adapter {
	return &Adapter{
		Base: adapters.NewBase(adapters.Spec{
			Name:              "gateio",
			Pairs:             adapters.Underscore,
			Unit:              adapters.UnitSeconds,
			RESTURL:           defaultRESTURL,
			WSURL:             defaultWSURL,
			Intervals:         intervals,
			WSIntervals:       wsIntervals,
			MaxLimit:          1000,
			HeartbeatInterval: 15 * time.Second,
		}, ep),
	}
}

// Factory adapts New to the registry signature.
func Factory(ep adapters.Endpoints) adapters.Adapter { return New(ep) }

// BuildRESTRequest implements adapters.Adapter. Gate.io rejects requests
// mixing limit with a from/to window, so limit is only set for unbounded
// fetches.
func (a *Adapter) BuildRESTRequest(pair, interval string, opts adapters.FetchOptions) (*adapters.RESTRequest, error) {
	if _, err := a.CheckInterval(interval); err != nil {
		return nil, err
	}
	currencyPair, err := a.FormatTradingPair(pair)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("currency_pair", currencyPair)
	q.Set("interval", interval)
	windowed := false
	if !opts.StartTime.IsZero() {
		q.Set("from", strconv.FormatInt(a.Unit().ToWire(opts.StartTime), 10))
		windowed = true
	}
	if !opts.EndTime.IsZero() {
		q.Set("to", strconv.FormatInt(a.Unit().ToWire(opts.EndTime), 10))
		windowed = true
	}
	if !windowed {
		q.Set("limit", strconv.Itoa(a.ClampLimit(opts.Limit)))
	}
	return &adapters.RESTRequest{URL: a.RESTURL(), Query: q}, nil
}

// ParseRESTResponse implements adapters.Adapter. Gate.io rows carry eight
// quoted cells, oldest first:
//
//	[timestamp, quoteVolume, close, high, low, open, baseVolume, closed]
//
// The trailing closed cell is absent on older deployments; a short row
// counts as closed.
func (a *Adapter) ParseRESTResponse(interval string, payload []byte) ([]candles.Candle, error) {
	var rows []adapters.Row
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, a.formatError("payload is not an array of rows", err)
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
	ts, err := row.IntCell(0)
	if err != nil || ts <= 0 {
		return candles.Candle{}, a.formatError("row missing timestamp", err)
	}

	c := candles.Candle{
		Timestamp: a.Unit().FromWire(ts),
		Final:     row.StringCell(7) != "false",
	}
	if c.QuoteVolume, err = row.DecimalCell(1); err != nil {
		return candles.Candle{}, err
	}
	if c.Close, err = row.DecimalCell(2); err != nil {
		return candles.Candle{}, err
	}
	if c.High, err = row.DecimalCell(3); err != nil {
		return candles.Candle{}, err
	}
	if c.Low, err = row.DecimalCell(4); err != nil {
		return candles.Candle{}, err
	}
	if c.Open, err = row.DecimalCell(5); err != nil {
		return candles.Candle{}, err
	}
	if c.Volume, err = row.DecimalCell(6); err != nil {
		return candles.Candle{}, err
	}
	return c, nil
}

// wsFrame is the Gate.io v4 stream management message.
type wsFrame struct {
	Time    int64    `json:"time"`
	Channel string   `json:"channel"`
	Event   string   `json:"event"`
	Payload []string `json:"payload,omitempty"`
}

// BuildWSSubscribe implements adapters.Adapter.
func (a *Adapter) BuildWSSubscribe(pair, interval string) ([]byte, error) {
	return a.eventFrame("subscribe", pair, interval)
}

// BuildWSUnsubscribe implements adapters.Adapter.
func (a *Adapter) BuildWSUnsubscribe(pair, interval string) ([]byte, error) {
	return a.eventFrame("unsubscribe", pair, interval)
}

func (a *Adapter) eventFrame(event, pair, interval string) ([]byte, error) {
	if _, err := a.CheckInterval(interval); err != nil {
		return nil, err
	}
	currencyPair, err := a.FormatTradingPair(pair)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wsFrame{
		Time:    time.Now().Unix(),
		Channel: "spot.candlesticks",
		Event:   event,
		Payload: []string{interval, currencyPair},
	})
}

type wsResult struct {
	Timestamp   string `json:"t"`
	QuoteVolume string `json:"v"`
	Close       string `json:"c"`
	High        string `json:"h"`
	Low         string `json:"l"`
	Open        string `json:"o"`
	Name        string `json:"n"`
	BaseVolume  string `json:"a"`
	Closed      bool   `json:"w"`

	Status string `json:"status"`
}

type wsEnvelope struct {
	Time    int64     `json:"time"`
	Channel string    `json:"channel"`
	Event   string    `json:"event"`
	Result  *wsResult `json:"result"`
	Error   *wsError  `json:"error"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ParseWSMessage implements adapters.Adapter. Only candlestick update
// events carry data; subscribe acks and pong frames return (nil, nil).
func (a *Adapter) ParseWSMessage(raw []byte) ([]candles.Candle, error) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, a.formatError("frame is not valid JSON", err)
	}
	if env.Channel != "spot.candlesticks" || env.Event != "update" || env.Result == nil {
		return nil, nil
	}

	r := env.Result
	ts, err := strconv.ParseInt(r.Timestamp, 10, 64)
	if err != nil || ts <= 0 {
		return nil, a.formatError("update missing timestamp", err)
	}

	c := candles.Candle{
		Timestamp: a.Unit().FromWire(ts),
		Final:     r.Closed,
	}
	if c.Open, err = adapters.ParseDecimalField(r.Open); err != nil {
		return nil, a.formatError("update open", err)
	}
	if c.High, err = adapters.ParseDecimalField(r.High); err != nil {
		return nil, a.formatError("update high", err)
	}
	if c.Low, err = adapters.ParseDecimalField(r.Low); err != nil {
		return nil, a.formatError("update low", err)
	}
	if c.Close, err = adapters.ParseDecimalField(r.Close); err != nil {
		return nil, a.formatError("update close", err)
	}
	if c.Volume, err = adapters.ParseDecimalField(r.BaseVolume); err != nil {
		return nil, a.formatError("update base volume", err)
	}
	if c.QuoteVolume, err = adapters.ParseDecimalField(r.QuoteVolume); err != nil {
		return nil, a.formatError("update quote volume", err)
	}
	return []candles.Candle{c}, nil
}

// HandshakeAck implements adapters.Adapter. Gate.io answers subscribe with
// a result status or an error member.
func (a *Adapter) HandshakeAck(raw []byte) (bool, error) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false, nil
	}
	if env.Channel != "spot.candlesticks" || env.Event != "subscribe" {
		return false, nil
	}
	if env.Error != nil {
		return false, fmt.Errorf("%w: code %d: %s", adapters.ErrSubscriptionRejected, env.Error.Code, env.Error.Message)
	}
	return env.Result != nil && env.Result.Status == "success", nil
}

// Heartbeat implements adapters.Adapter. Gate.io expects periodic
// spot.ping frames on otherwise idle connections.
func (a *Adapter) Heartbeat() []byte {
	frame, _ := json.Marshal(wsFrame{
		Time:    time.Now().Unix(),
		Channel: "spot.ping",
	})
	return frame
}

func (a *Adapter) formatError(reason string, err error) error {
	return &adapters.ResponseFormatError{Exchange: a.Name(), Reason: reason, Err: err}
}

var _ adapters.Adapter = (*Adapter)(nil)
