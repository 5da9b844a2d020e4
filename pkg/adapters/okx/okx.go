// Package okx implements the exchange adapter for OKX v5 spot markets:
// dash-separated instrument ids passed through unchanged, millisecond
// timestamps, newest-first candle rows with a trailing confirm cell and
// op/args-object WebSocket framing with event acks and a text ping
// heartbeat.
package okx

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/MementoRC/hb-candles-feed-sub001/pkg/adapters"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/candles"
)

const (
	defaultRESTURL = "https://www.okx.com/api/v5/market/candles"
	defaultWSURL   = "wss://ws.okx.com:8443/ws/v5/business"
)

var intervals = map[string]int64{
	"1s": 1, "1m": 60, "3m": 180, "5m": 300, "15m": 900, "30m": 1800,
	"1h": 3600, "2h": 7200, "4h": 14400, "6h": 21600, "12h": 43200,
	"1d": 86400, "1w": 604800, "1M": 2592000,
}

var wsIntervals = []string{
	"1s", "1m", "3m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "12h",
	"1d", "1w", "1M",
}

// wireIntervals maps canonical names to OKX bar spellings, which uppercase
// everything from hours up.
var wireIntervals = map[string]string{
	"1s": "1s", "1m": "1m", "3m": "3m", "5m": "5m", "15m": "15m",
	"30m": "30m", "1h": "1H", "2h": "2H", "4h": "4H", "6h": "6H",
	"12h": "12H", "1d": "1D", "1w": "1W", "1M": "1M",
}

// Adapter is the OKX v5 spot adapter.
type Adapter struct {
	adapters.Base
}

// New constructs an OKX adapter, honoring endpoint overrides.
func New(ep adapters.Endpoints) *Adapter {
	return &Adapter{
		Base: adapters.NewBase(adapters.Spec{
			Name:              "okx",
			Pairs:             adapters.Passthrough,
			Unit:              adapters.UnitMilliseconds,
			RESTURL:           defaultRESTURL,
			WSURL:             defaultWSURL,
			Intervals:         intervals,
			WSIntervals:       wsIntervals,
			MaxLimit:          300,
			HeartbeatInterval: 25 * time.Second,
			NewestFirst:       true,
		}, ep),
	}
}

// Factory adapts New to the registry signature.
func Factory(ep adapters.Endpoints) adapters.Adapter { return New(ep) }

// BuildRESTRequest implements adapters.Adapter. OKX paginates with
// before/after cursors exclusive of the given timestamp.
func (a *Adapter) BuildRESTRequest(pair, interval string, opts adapters.FetchOptions) (*adapters.RESTRequest, error) {
	bar, err := a.wireInterval(interval)
	if err != nil {
		return nil, err
	}
	instID, err := a.FormatTradingPair(pair)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("instId", instID)
	q.Set("bar", bar)
	q.Set("limit", strconv.Itoa(a.ClampLimit(opts.Limit)))
	if !opts.StartTime.IsZero() {
		q.Set("before", strconv.FormatInt(a.Unit().ToWire(opts.StartTime)-1, 10))
	}
	if !opts.EndTime.IsZero() {
		q.Set("after", strconv.FormatInt(a.Unit().ToWire(opts.EndTime)+1, 10))
	}
	return &adapters.RESTRequest{URL: a.RESTURL(), Query: q}, nil
}

// restResponse is the OKX envelope. Rows carry nine cells:
// [ts, open, high, low, close, volume, volCcy, volCcyQuote, confirm],
// newest first, every cell a quoted string.
type restResponse struct {
	Code string         `json:"code"`
	Msg  string         `json:"msg"`
	Data []adapters.Row `json:"data"`
}

// ParseRESTResponse implements adapters.Adapter.
func (a *Adapter) ParseRESTResponse(interval string, payload []byte) ([]candles.Candle, error) {
	var resp restResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, a.formatError("payload is not a candle envelope", err)
	}
	if resp.Code != "" && resp.Code != "0" {
		return nil, a.formatError(fmt.Sprintf("code %s: %s", resp.Code, resp.Msg), nil)
	}

	out := make([]candles.Candle, 0, len(resp.Data))
	for i := len(resp.Data) - 1; i >= 0; i-- {
		c, err := a.parseRow(resp.Data[i])
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
		// confirm cell: "1" closed, "0" still forming. A short row
		// (history endpoints omit it) counts as closed.
		Final: row.StringCell(8) != "0",
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
	// volCcyQuote is quote-asset volume.
	if c.QuoteVolume, err = row.DecimalCell(7); err != nil {
		return candles.Candle{}, err
	}
	return c, nil
}

type wsArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type opFrame struct {
	Op   string  `json:"op"`
	Args []wsArg `json:"args"`
}

// BuildWSSubscribe implements adapters.Adapter.
func (a *Adapter) BuildWSSubscribe(pair, interval string) ([]byte, error) {
	return a.opMessage("subscribe", pair, interval)
}

// BuildWSUnsubscribe implements adapters.Adapter.
func (a *Adapter) BuildWSUnsubscribe(pair, interval string) ([]byte, error) {
	return a.opMessage("unsubscribe", pair, interval)
}

func (a *Adapter) opMessage(op, pair, interval string) ([]byte, error) {
	bar, err := a.wireInterval(interval)
	if err != nil {
		return nil, err
	}
	instID, err := a.FormatTradingPair(pair)
	if err != nil {
		return nil, err
	}
	return json.Marshal(opFrame{
		Op:   op,
		Args: []wsArg{{Channel: "candle" + bar, InstID: instID}},
	})
}

// wsEnvelope covers data frames (arg/data) and event frames
// (event/code/msg).
type wsEnvelope struct {
	Arg   wsArg          `json:"arg"`
	Data  []adapters.Row `json:"data"`
	Event string         `json:"event"`
	Code  string         `json:"code"`
	Msg   string         `json:"msg"`
}

// ParseWSMessage implements adapters.Adapter. OKX candle pushes reuse the
// REST row shape. The text pong and event frames return (nil, nil).
func (a *Adapter) ParseWSMessage(raw []byte) ([]candles.Candle, error) {
	if string(raw) == "pong" {
		return nil, nil
	}
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, a.formatError("frame is not valid JSON", err)
	}
	if !strings.HasPrefix(env.Arg.Channel, "candle") || len(env.Data) == 0 {
		return nil, nil
	}

	out := make([]candles.Candle, 0, len(env.Data))
	for _, row := range env.Data {
		c, err := a.parseRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// HandshakeAck implements adapters.Adapter. OKX answers with
// {"event":"subscribe","arg":{...}} on success and {"event":"error"} on
// rejection.
func (a *Adapter) HandshakeAck(raw []byte) (bool, error) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false, nil
	}
	switch env.Event {
	case "subscribe":
		return true, nil
	case "error":
		return false, fmt.Errorf("%w: code %s: %s", adapters.ErrSubscriptionRejected, env.Code, env.Msg)
	default:
		return false, nil
	}
}

// Heartbeat implements adapters.Adapter. OKX expects a literal "ping" text
// frame when the connection is idle.
func (a *Adapter) Heartbeat() []byte { return []byte("ping") }

func (a *Adapter) wireInterval(interval string) (string, error) {
	if _, err := a.CheckInterval(interval); err != nil {
		return "", err
	}
	return wireIntervals[interval], nil
}

func (a *Adapter) formatError(reason string, err error) error {
	return &adapters.ResponseFormatError{Exchange: a.Name(), Reason: reason, Err: err}
}

var _ adapters.Adapter = (*Adapter)(nil)
