// Package coinbase implements the exchange adapter for the Coinbase
// Advanced Trade API: dash-separated product ids passed through unchanged,
// second timestamps, object-shaped candle rows and type/channel WebSocket
// framing.
//
// The WebSocket candles channel streams five-minute bars only, so every
// other interval falls back to REST polling under auto strategy selection.
// Coinbase never signals candle finality over the stream; parsed updates
// carry Final=false and a bar is implicitly finalized when a newer one
// replaces it at the head of the series.
package coinbase

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/MementoRC/hb-candles-feed-sub001/pkg/adapters"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/candles"
)

const (
	defaultRESTURL = "https://api.coinbase.com/api/v3/brokerage/market/products"
	defaultWSURL   = "wss://advanced-trade-ws.coinbase.com"
)

var intervals = map[string]int64{
	"1m": 60, "5m": 300, "15m": 900, "30m": 1800,
	"1h": 3600, "2h": 7200, "6h": 21600, "1d": 86400,
}

// The candles channel is fixed at five-minute granularity.
var wsIntervals = []string{"5m"}

var granularities = map[string]string{
	"1m":  "ONE_MINUTE",
	"5m":  "FIVE_MINUTE",
	"15m": "FIFTEEN_MINUTE",
	"30m": "THIRTY_MINUTE",
	"1h":  "ONE_HOUR",
	"2h":  "TWO_HOUR",
	"6h":  "SIX_HOUR",
	"1d":  "ONE_DAY",
}

// Adapter is the Coinbase Advanced Trade adapter.
type Adapter struct {
	adapters.Base
}

// New constructs a Coinbase adapter, honoring endpoint overrides.
func New(ep adapters.Endpoints) *Adapter {
	return &Adapter{
		Base: adapters.NewBase(adapters.Spec{
			Name:        "coinbase",
			Pairs:       adapters.Passthrough,
			Unit:        adapters.UnitSeconds,
			RESTURL:     defaultRESTURL,
			WSURL:       defaultWSURL,
			Intervals:   intervals,
			WSIntervals: wsIntervals,
			MaxLimit:    350,
			NewestFirst: true,
		}, ep),
	}
}

// Factory adapts New to the registry signature.
func Factory(ep adapters.Endpoints) adapters.Adapter { return New(ep) }

// BuildRESTRequest implements adapters.Adapter. The product id lives in
// the URL path, not the query.
func (a *Adapter) BuildRESTRequest(pair, interval string, opts adapters.FetchOptions) (*adapters.RESTRequest, error) {
	granularity, err := a.granularity(interval)
	if err != nil {
		return nil, err
	}
	product, err := a.FormatTradingPair(pair)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("granularity", granularity)
	q.Set("limit", strconv.Itoa(a.ClampLimit(opts.Limit)))
	if !opts.StartTime.IsZero() {
		q.Set("start", strconv.FormatInt(a.Unit().ToWire(opts.StartTime), 10))
	}
	if !opts.EndTime.IsZero() {
		q.Set("end", strconv.FormatInt(a.Unit().ToWire(opts.EndTime), 10))
	}
	return &adapters.RESTRequest{
		URL:   fmt.Sprintf("%s/%s/candles", a.RESTURL(), product),
		Query: q,
	}, nil
}

// restCandle is the object-shaped row Coinbase returns, every field a
// quoted string.
type restCandle struct {
	Start  string `json:"start"`
	Low    string `json:"low"`
	High   string `json:"high"`
	Open   string `json:"open"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

type restResponse struct {
	Candles []restCandle `json:"candles"`
}

// ParseRESTResponse implements adapters.Adapter. Coinbase returns rows
// newest first; output is sorted ascending. Missing optional fields
// default to zero.
func (a *Adapter) ParseRESTResponse(interval string, payload []byte) ([]candles.Candle, error) {
	var resp restResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, a.formatError("payload is not a candle envelope", err)
	}

	out := make([]candles.Candle, 0, len(resp.Candles))
	for _, row := range resp.Candles {
		c, err := a.parseCandle(row, true)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (a *Adapter) parseCandle(row restCandle, final bool) (candles.Candle, error) {
	start, err := strconv.ParseInt(row.Start, 10, 64)
	if err != nil || start <= 0 {
		return candles.Candle{}, a.formatError("candle missing start time", err)
	}

	c := candles.Candle{
		Timestamp: a.Unit().FromWire(start),
		Final:     final,
	}
	if c.Open, err = adapters.ParseDecimalField(row.Open); err != nil {
		return candles.Candle{}, err
	}
	if c.High, err = adapters.ParseDecimalField(row.High); err != nil {
		return candles.Candle{}, err
	}
	if c.Low, err = adapters.ParseDecimalField(row.Low); err != nil {
		return candles.Candle{}, err
	}
	if c.Close, err = adapters.ParseDecimalField(row.Close); err != nil {
		return candles.Candle{}, err
	}
	if c.Volume, err = adapters.ParseDecimalField(row.Volume); err != nil {
		return candles.Candle{}, err
	}
	return c, nil
}

// subscribeFrame is the Advanced Trade stream management message.
type subscribeFrame struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channel    string   `json:"channel"`
}

// BuildWSSubscribe implements adapters.Adapter.
func (a *Adapter) BuildWSSubscribe(pair, interval string) ([]byte, error) {
	return a.streamFrame("subscribe", pair, interval)
}

// BuildWSUnsubscribe implements adapters.Adapter.
func (a *Adapter) BuildWSUnsubscribe(pair, interval string) ([]byte, error) {
	return a.streamFrame("unsubscribe", pair, interval)
}

func (a *Adapter) streamFrame(typ, pair, interval string) ([]byte, error) {
	if _, err := a.CheckInterval(interval); err != nil {
		return nil, err
	}
	product, err := a.FormatTradingPair(pair)
	if err != nil {
		return nil, err
	}
	return json.Marshal(subscribeFrame{
		Type:       typ,
		ProductIDs: []string{product},
		Channel:    "candles",
	})
}

type wsEvent struct {
	Type    string       `json:"type"`
	Candles []restCandle `json:"candles"`
}

type wsEnvelope struct {
	Channel string    `json:"channel"`
	Type    string    `json:"type"`
	Message string    `json:"message"`
	Events  []wsEvent `json:"events"`
}

// ParseWSMessage implements adapters.Adapter. Subscription confirmations
// arrive on the "subscriptions" channel and heartbeats on "heartbeats";
// both return (nil, nil).
func (a *Adapter) ParseWSMessage(raw []byte) ([]candles.Candle, error) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, a.formatError("frame is not valid JSON", err)
	}
	if env.Channel != "candles" {
		return nil, nil
	}

	var out []candles.Candle
	for _, ev := range env.Events {
		for _, row := range ev.Candles {
			c, err := a.parseCandle(row, false)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
	}
	return out, nil
}

// HandshakeAck implements adapters.Adapter. Success is a frame on the
// "subscriptions" channel; rejections arrive as type "error".
func (a *Adapter) HandshakeAck(raw []byte) (bool, error) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false, nil
	}
	if env.Type == "error" {
		return false, fmt.Errorf("%w: %s", adapters.ErrSubscriptionRejected, env.Message)
	}
	return env.Channel == "subscriptions", nil
}

// Heartbeat implements adapters.Adapter. The transport-level ping/pong is
// sufficient for Coinbase.
func (a *Adapter) Heartbeat() []byte { return nil }

func (a *Adapter) granularity(interval string) (string, error) {
	if _, err := a.CheckInterval(interval); err != nil {
		return "", err
	}
	return granularities[interval], nil
}

func (a *Adapter) formatError(reason string, err error) error {
	return &adapters.ResponseFormatError{Exchange: a.Name(), Reason: reason, Err: err}
}

var _ adapters.Adapter = (*Adapter)(nil)
