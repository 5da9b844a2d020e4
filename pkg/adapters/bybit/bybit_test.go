package bybit

import (
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MementoRC/hb-candles-feed-sub001/pkg/adapters"
)

func newAdapter() *Adapter {
	return New(adapters.Endpoints{})
}

func TestFormatTradingPair(t *testing.T) {
	a := newAdapter()

	symbol, err := a.FormatTradingPair("BTC-USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", symbol)

	_, err = a.FormatTradingPair("BTC/USDT")
	assert.ErrorIs(t, err, adapters.ErrInvalidTradingPair)
}

func TestBuildRESTRequest(t *testing.T) {
	a := newAdapter()

	req, err := a.BuildRESTRequest("BTC-USDT", "1h", adapters.FetchOptions{
		StartTime: time.Unix(1700000000, 0),
		EndTime:   time.Unix(1700086400, 0),
		Limit:     200,
	})
	require.NoError(t, err)

	assert.Equal(t, "https://api.bybit.com/v5/market/kline", req.URL)
	assert.Equal(t, "spot", req.Query.Get("category"))
	assert.Equal(t, "BTCUSDT", req.Query.Get("symbol"))
	// One hour is spelled "60" on the wire.
	assert.Equal(t, "60", req.Query.Get("interval"))
	assert.Equal(t, "1700000000000", req.Query.Get("start"))
	assert.Equal(t, "1700086400000", req.Query.Get("end"))
	assert.Equal(t, "200", req.Query.Get("limit"))
}

func TestWireIntervalSpellings(t *testing.T) {
	a := newAdapter()
	cases := map[string]string{"1m": "1", "30m": "30", "1h": "60", "12h": "720", "1d": "D", "1w": "W", "1M": "M"}
	for canonical, wire := range cases {
		req, err := a.BuildRESTRequest("BTC-USDT", canonical, adapters.FetchOptions{})
		require.NoError(t, err, canonical)
		assert.Equal(t, wire, req.Query.Get("interval"), canonical)
	}

	_, err := a.BuildRESTRequest("BTC-USDT", "8h", adapters.FetchOptions{})
	assert.ErrorIs(t, err, adapters.ErrInvalidInterval)
}

func TestParseRESTResponse(t *testing.T) {
	a := newAdapter()

	// Bybit returns rows newest first; the adapter reverses them.
	payload := []byte(`{"retCode":0,"retMsg":"OK","result":{"category":"spot","symbol":"BTCUSDT","list":[
		["1700000100000","42050.2","42080.0","42000.0","42010.9","8.1","340000.1"],
		["1700000040000","42000.1","42100.5","41950.0","42050.2","12.5","525000.75"]
	]}}`)

	out, err := a.ParseRESTResponse("1m", payload)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(1700000040), out[0].Timestamp)
	assert.Equal(t, int64(1700000100), out[1].Timestamp)
	assert.True(t, out[0].Open.Equal(decimal.RequireFromString("42000.1")))
	assert.True(t, out[0].QuoteVolume.Equal(decimal.RequireFromString("525000.75")))
	assert.True(t, out[0].Final)
}

func TestParseRESTResponseErrorEnvelope(t *testing.T) {
	a := newAdapter()

	_, err := a.ParseRESTResponse("1m", []byte(`{"retCode":10001,"retMsg":"params error","result":{}}`))
	require.Error(t, err)
	var ferr *adapters.ResponseFormatError
	require.ErrorAs(t, err, &ferr)
	assert.Contains(t, ferr.Reason, "10001")
}

func TestBuildWSSubscribe(t *testing.T) {
	a := newAdapter()

	frame, err := a.BuildWSSubscribe("BTC-USDT", "1m")
	require.NoError(t, err)

	var req struct {
		Op    string   `json:"op"`
		Args  []string `json:"args"`
		ReqID string   `json:"req_id"`
	}
	require.NoError(t, json.Unmarshal(frame, &req))
	assert.Equal(t, "subscribe", req.Op)
	assert.Equal(t, []string{"kline.1.BTCUSDT"}, req.Args)
	assert.NotEmpty(t, req.ReqID)
}

func TestParseWSMessage(t *testing.T) {
	a := newAdapter()

	t.Run("KlinePush", func(t *testing.T) {
		raw := []byte(`{"topic":"kline.1.BTCUSDT","type":"snapshot","ts":1700000050000,"data":[
			{"start":1700000040000,"end":1700000099999,"interval":"1","open":"42000.1","close":"42050.2",
			 "high":"42100.5","low":"41950.0","volume":"12.5","turnover":"525000.75","confirm":false}
		]}`)
		out, err := a.ParseWSMessage(raw)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, int64(1700000040), out[0].Timestamp)
		assert.False(t, out[0].Final)
		assert.True(t, out[0].QuoteVolume.Equal(decimal.RequireFromString("525000.75")))
	})

	t.Run("ConfirmedKline", func(t *testing.T) {
		raw := []byte(`{"topic":"kline.1.BTCUSDT","data":[{"start":1700000040000,"open":"1","close":"1","high":"1","low":"1","volume":"0","turnover":"0","confirm":true}]}`)
		out, err := a.ParseWSMessage(raw)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.True(t, out[0].Final)
	})

	t.Run("ControlFrames", func(t *testing.T) {
		for _, raw := range [][]byte{
			[]byte(`{"op":"pong","req_id":"abc","success":true}`),
			[]byte(`{"op":"subscribe","success":true,"conn_id":"x"}`),
			[]byte(`{"topic":"tickers.BTCUSDT","data":[]}`),
		} {
			out, err := a.ParseWSMessage(raw)
			require.NoError(t, err)
			assert.Nil(t, out)
		}
	})
}

func TestHandshakeAck(t *testing.T) {
	a := newAdapter()

	acked, err := a.HandshakeAck([]byte(`{"op":"subscribe","success":true,"conn_id":"x","req_id":"1"}`))
	require.NoError(t, err)
	assert.True(t, acked)

	_, err = a.HandshakeAck([]byte(`{"op":"subscribe","success":false,"ret_msg":"topic not exist"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, adapters.ErrSubscriptionRejected)

	// Pong frames are not acks.
	acked, err = a.HandshakeAck([]byte(`{"op":"pong","success":true}`))
	require.NoError(t, err)
	assert.False(t, acked)
}

func TestHeartbeat(t *testing.T) {
	a := newAdapter()

	frame := a.Heartbeat()
	require.NotNil(t, frame)
	var req struct {
		Op    string `json:"op"`
		ReqID string `json:"req_id"`
	}
	require.NoError(t, json.Unmarshal(frame, &req))
	assert.Equal(t, "ping", req.Op)
	assert.NotEmpty(t, req.ReqID)
	assert.Equal(t, 20*time.Second, a.HeartbeatInterval())
}

func TestPagesNewestFirst(t *testing.T) {
	assert.True(t, newAdapter().PagesNewestFirst())
}
