package okx

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

	// The canonical form is already OKX's instrument id.
	instID, err := a.FormatTradingPair("BTC-USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USDT", instID)

	instID, err = a.FormatTradingPair("btc-usdt")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USDT", instID)

	_, err = a.FormatTradingPair("BTCUSDT")
	assert.ErrorIs(t, err, adapters.ErrInvalidTradingPair)
}

func TestBuildRESTRequest(t *testing.T) {
	a := newAdapter()

	req, err := a.BuildRESTRequest("BTC-USDT", "1h", adapters.FetchOptions{
		StartTime: time.Unix(1700000000, 0),
		EndTime:   time.Unix(1700086400, 0),
		Limit:     100,
	})
	require.NoError(t, err)

	assert.Equal(t, "https://www.okx.com/api/v5/market/candles", req.URL)
	assert.Equal(t, "BTC-USDT", req.Query.Get("instId"))
	assert.Equal(t, "1H", req.Query.Get("bar"))
	assert.Equal(t, "100", req.Query.Get("limit"))
	// Cursors are exclusive, so the window is widened by one millisecond
	// on each side.
	assert.Equal(t, "1699999999999", req.Query.Get("before"))
	assert.Equal(t, "1700086400001", req.Query.Get("after"))

	// Limit clamps to the OKX page maximum.
	req, err = a.BuildRESTRequest("BTC-USDT", "1m", adapters.FetchOptions{Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, "300", req.Query.Get("limit"))
}

func TestBarSpellings(t *testing.T) {
	a := newAdapter()
	cases := map[string]string{"1s": "1s", "1m": "1m", "1h": "1H", "4h": "4H", "1d": "1D", "1w": "1W", "1M": "1M"}
	for canonical, bar := range cases {
		req, err := a.BuildRESTRequest("BTC-USDT", canonical, adapters.FetchOptions{})
		require.NoError(t, err, canonical)
		assert.Equal(t, bar, req.Query.Get("bar"), canonical)
	}
}

func TestParseRESTResponse(t *testing.T) {
	a := newAdapter()

	// Newest first, all cells quoted, trailing confirm cell.
	payload := []byte(`{"code":"0","msg":"","data":[
		["1700000100000","42050.2","42080.0","42000.0","42010.9","8.1","340000.1","340500.2","0"],
		["1700000040000","42000.1","42100.5","41950.0","42050.2","12.5","524000.0","525000.75","1"]
	]}`)

	out, err := a.ParseRESTResponse("1m", payload)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, int64(1700000040), out[0].Timestamp)
	assert.True(t, out[0].Final)
	assert.True(t, out[0].QuoteVolume.Equal(decimal.RequireFromString("525000.75")))

	// The newest row is still forming.
	assert.Equal(t, int64(1700000100), out[1].Timestamp)
	assert.False(t, out[1].Final)
}

func TestParseRESTResponseShortRow(t *testing.T) {
	a := newAdapter()

	// History rows without a confirm cell count as closed.
	payload := []byte(`{"code":"0","data":[["1700000040000","1","2","0.5","1.5","10"]]}`)
	out, err := a.ParseRESTResponse("1m", payload)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Final)
	assert.True(t, out[0].QuoteVolume.IsZero())
}

func TestParseRESTResponseErrorEnvelope(t *testing.T) {
	a := newAdapter()

	_, err := a.ParseRESTResponse("1m", []byte(`{"code":"51001","msg":"Instrument ID does not exist","data":[]}`))
	require.Error(t, err)
	var ferr *adapters.ResponseFormatError
	require.ErrorAs(t, err, &ferr)
	assert.Contains(t, ferr.Reason, "51001")
}

func TestBuildWSSubscribe(t *testing.T) {
	a := newAdapter()

	frame, err := a.BuildWSSubscribe("BTC-USDT", "1m")
	require.NoError(t, err)

	var req struct {
		Op   string `json:"op"`
		Args []struct {
			Channel string `json:"channel"`
			InstID  string `json:"instId"`
		} `json:"args"`
	}
	require.NoError(t, json.Unmarshal(frame, &req))
	assert.Equal(t, "subscribe", req.Op)
	require.Len(t, req.Args, 1)
	assert.Equal(t, "candle1m", req.Args[0].Channel)
	assert.Equal(t, "BTC-USDT", req.Args[0].InstID)

	// Hour bars carry the uppercase spelling into the channel name.
	frame, err = a.BuildWSSubscribe("BTC-USDT", "1h")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(frame, &req))
	assert.Equal(t, "candle1H", req.Args[0].Channel)
}

func TestParseWSMessage(t *testing.T) {
	a := newAdapter()

	t.Run("CandlePush", func(t *testing.T) {
		raw := []byte(`{"arg":{"channel":"candle1m","instId":"BTC-USDT"},"data":[
			["1700000040000","42000.1","42100.5","41950.0","42050.2","12.5","524000.0","525000.75","0"]
		]}`)
		out, err := a.ParseWSMessage(raw)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, int64(1700000040), out[0].Timestamp)
		assert.False(t, out[0].Final)
	})

	t.Run("TextPong", func(t *testing.T) {
		out, err := a.ParseWSMessage([]byte("pong"))
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("EventFrames", func(t *testing.T) {
		for _, raw := range [][]byte{
			[]byte(`{"event":"subscribe","arg":{"channel":"candle1m","instId":"BTC-USDT"}}`),
			[]byte(`{"arg":{"channel":"tickers","instId":"BTC-USDT"},"data":[["x"]]}`),
		} {
			out, err := a.ParseWSMessage(raw)
			require.NoError(t, err)
			assert.Nil(t, out)
		}
	})
}

func TestHandshakeAck(t *testing.T) {
	a := newAdapter()

	acked, err := a.HandshakeAck([]byte(`{"event":"subscribe","arg":{"channel":"candle1m","instId":"BTC-USDT"},"connId":"x"}`))
	require.NoError(t, err)
	assert.True(t, acked)

	_, err = a.HandshakeAck([]byte(`{"event":"error","code":"60012","msg":"Invalid request"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, adapters.ErrSubscriptionRejected)

	acked, err = a.HandshakeAck([]byte(`{"arg":{"channel":"candle1m"},"data":[]}`))
	require.NoError(t, err)
	assert.False(t, acked)
}

func TestHeartbeat(t *testing.T) {
	a := newAdapter()
	assert.Equal(t, []byte("ping"), a.Heartbeat())
	assert.Equal(t, 25*time.Second, a.HeartbeatInterval())
}

func TestPagesNewestFirst(t *testing.T) {
	assert.True(t, newAdapter().PagesNewestFirst())
}
