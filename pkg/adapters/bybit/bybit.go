// Package bybit implements the exchange adapter for Bybit v5 spot
// markets: no-separator pairs, millisecond timestamps, newest-first kline
// rows under result.list and op/args WebSocket framing with an explicit
// subscription ack and an application-level op-ping heartbeat.
package bybit

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/MementoRC/hb-candles-feed-sub001/pkg/adapters"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/candles"
)

const (
	defaultRESTURL = "https://api.bybit.com/v5/market/kline"
	defaultWSURL   = "wss://stream.bybit.com/v5/public/spot"
)

var intervals = map[string]int64{
	"1m": 60, "3m": 180, "5m": 300, "15m": 900, "30m": 1800,
	"1h": 3600, "2h": 7200, "4h": 14400, "6h": 21600, "12h": 43200,
	"1d": 86400, "1w": 604800, "1M": 2592000,
}

var wsIntervals = []string{
	"1m", "3m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "12h",
	"1d", "1w", "1M",
}

// wireIntervals maps canonical interval names to Bybit's spelling: minutes
// as bare numbers, then D/W/M.
var wireIntervals = map[string]string{
	"1m": "1", "3m": "3", "5m": "5", "15m": "15", "30m": "30",
	"1h": "60", "2h": "120", "4h": "240", "6h": "360", "12h": "720",
	"1d": "D", "1w": "W", "1M": "M",
}

// Adapter is the Bybit v5 spot adapter.
type Adapter struct {
	adapters.Base
}

// New constructs a Bybit adapter, honoring endpoint overrides.
func New(ep adapters.Endpoints) *Adapter {
	return &Adapter{
		Base: adapters.NewBase(adapters.Spec{
			Name:              "bybit",
			Pairs:             adapters.NoSeparator,
			Unit:              adapters.UnitMilliseconds,
			RESTURL:           defaultRESTURL,
			WSURL:             defaultWSURL,
			Intervals:         intervals,
			WSIntervals:       wsIntervals,
			MaxLimit:          1000,
			HeartbeatInterval: 20 * time.Second,
			NewestFirst:       true,
		}, ep),
	}
}

// Factory adapts New to the registry signature.
func Factory(ep adapters.Endpoints) adapters.Adapter { return New(ep) }

// BuildRESTRequest implements adapters.Adapter.
func (a *Adapter) BuildRESTRequest(pair, interval string, opts adapters.FetchOptions) (*adapters.RESTRequest, error) {
	wire, err := a.wireInterval(interval)
	if err != nil {
		return nil, err
	}
	symbol, err := a.FormatTradingPair(pair)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("category", "spot")
	q.Set("symbol", symbol)
	q.Set("interval", wire)
	q.Set("limit", strconv.Itoa(a.ClampLimit(opts.Limit)))
	if !opts.StartTime.IsZero() {
		q.Set("start", strconv.FormatInt(a.Unit().ToWire(opts.StartTime), 10))
	}
	if !opts.EndTime.IsZero() {
		q.Set("end", strconv.FormatInt(a.Unit().ToWire(opts.EndTime), 10))
	}
	return &adapters.RESTRequest{URL: a.RESTURL(), Query: q}, nil
}

// restResponse is the Bybit v5 envelope. list rows carry seven cells:
// [startTime, open, high, low, close, volume, turnover], newest first.
type restResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []adapters.Row `json:"list"`
	} `json:"result"`
}

// ParseRESTResponse implements adapters.Adapter. Rows are reversed into
// ascending timestamp order; the envelope retCode is checked first since
// Bybit reports errors inside a 200 body.
func (a *Adapter) ParseRESTResponse(interval string, payload []byte) ([]candles.Candle, error) {
	var resp restResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, a.formatError("payload is not a kline envelope", err)
	}
	if resp.RetCode != 0 {
		return nil, a.formatError(fmt.Sprintf("retCode %d: %s", resp.RetCode, resp.RetMsg), nil)
	}

	out := make([]candles.Candle, 0, len(resp.Result.List))
	for i := len(resp.Result.List) - 1; i >= 0; i-- {
		c, err := a.parseRow(resp.Result.List[i])
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (a *Adapter) parseRow(row adapters.Row) (candles.Candle, error) {
	start, err := row.IntCell(0)
	if err != nil || start <= 0 {
		return candles.Candle{}, a.formatError("row missing start time", err)
	}

	c := candles.Candle{
		Timestamp: a.Unit().FromWire(start),
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
	// Turnover is quote-asset volume.
	if c.QuoteVolume, err = row.DecimalCell(6); err != nil {
		return candles.Candle{}, err
	}
	return c, nil
}

// opFrame is the Bybit stream management message.
type opFrame struct {
	Op    string   `json:"op"`
	Args  []string `json:"args,omitempty"`
	ReqID string   `json:"req_id,omitempty"`
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
	wire, err := a.wireInterval(interval)
	if err != nil {
		return nil, err
	}
	symbol, err := a.FormatTradingPair(pair)
	if err != nil {
		return nil, err
	}
	return json.Marshal(opFrame{
		Op:    op,
		Args:  []string{fmt.Sprintf("kline.%s.%s", wire, symbol)},
		ReqID: uuid.NewString(),
	})
}

// wsEnvelope covers both data frames (topic/data) and control frames
// (op/success).
type wsEnvelope struct {
	Topic   string    `json:"topic"`
	Type    string    `json:"type"`
	Data    []wsKline `json:"data"`
	Op      string    `json:"op"`
	Success *bool     `json:"success"`
	RetMsg  string    `json:"ret_msg"`
}

type wsKline struct {
	Start    int64  `json:"start"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume"`
	Turnover string `json:"turnover"`
	Confirm  bool   `json:"confirm"`
}

// ParseWSMessage implements adapters.Adapter. Control frames (pong,
// subscribe acks) return (nil, nil); kline pushes may carry several bars
// per frame.
func (a *Adapter) ParseWSMessage(raw []byte) ([]candles.Candle, error) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, a.formatError("frame is not valid JSON", err)
	}
	if !strings.HasPrefix(env.Topic, "kline.") {
		return nil, nil
	}

	out := make([]candles.Candle, 0, len(env.Data))
	for _, k := range env.Data {
		if k.Start <= 0 {
			return nil, a.formatError("kline push missing start time", nil)
		}
		c := candles.Candle{
			Timestamp: a.Unit().FromWire(k.Start),
			Final:     k.Confirm,
		}
		var err error
		if c.Open, err = adapters.ParseDecimalField(k.Open); err != nil {
			return nil, a.formatError("kline open", err)
		}
		if c.High, err = adapters.ParseDecimalField(k.High); err != nil {
			return nil, a.formatError("kline high", err)
		}
		if c.Low, err = adapters.ParseDecimalField(k.Low); err != nil {
			return nil, a.formatError("kline low", err)
		}
		if c.Close, err = adapters.ParseDecimalField(k.Close); err != nil {
			return nil, a.formatError("kline close", err)
		}
		if c.Volume, err = adapters.ParseDecimalField(k.Volume); err != nil {
			return nil, a.formatError("kline volume", err)
		}
		if c.QuoteVolume, err = adapters.ParseDecimalField(k.Turnover); err != nil {
			return nil, a.formatError("kline turnover", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// HandshakeAck implements adapters.Adapter. Bybit acknowledges with
// {"op":"subscribe","success":true}; success=false is a rejection.
func (a *Adapter) HandshakeAck(raw []byte) (bool, error) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false, nil
	}
	if env.Op != "subscribe" || env.Success == nil {
		return false, nil
	}
	if !*env.Success {
		return false, fmt.Errorf("%w: %s", adapters.ErrSubscriptionRejected, env.RetMsg)
	}
	return true, nil
}

// Heartbeat implements adapters.Adapter. Bybit expects a client op-ping
// every 20 seconds.
func (a *Adapter) Heartbeat() []byte {
	frame, _ := json.Marshal(opFrame{Op: "ping", ReqID: uuid.NewString()})
	return frame
}

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
