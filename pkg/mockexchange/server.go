package mockexchange

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/MementoRC/hb-candles-feed-sub001/pkg/adapters"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/candles"
)

// Wire families the server speaks. Binance pages oldest first with array
// rows and SUBSCRIBE framing; Bybit pages newest first inside a retCode
// envelope with op/args framing and a client op-ping heartbeat.
const (
	familyBinance = "binance"
	familyBybit   = "bybit"
)

// Server is an in-process exchange. It serves kline history over REST and
// streams kline events to WebSocket subscribers, with knobs for injecting
// latency, HTTP errors, subscription rejections and connection drops.
type Server struct {
	httpServer *httptest.Server
	upgrader   websocket.Upgrader

	mu        sync.Mutex
	history   []candles.Candle
	pageLimit int
	pingCount int

	latency      time.Duration
	failStatuses []int
	rejectSubs   bool

	connsMu sync.Mutex
	conns   map[*websocket.Conn]*wsClient
}

// wsClient pairs a connection with its write lock and the wire family it
// subscribed through.
type wsClient struct {
	mu     sync.Mutex
	family string
}

// NewServer starts the mock exchange. Callers own the shutdown via Close.
func NewServer() *Server {
	s := &Server{
		conns: make(map[*websocket.Conn]*wsClient),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/klines", s.handleKlines)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/v5/market/kline", s.handleBybitKlines)
	mux.HandleFunc("/v5/public/spot", s.handleBybitWS)
	s.httpServer = httptest.NewServer(mux)
	return s
}

// RESTURL returns the Binance-framing kline endpoint, suitable for
// adapters.Endpoints.
func (s *Server) RESTURL() string {
	return s.httpServer.URL + "/api/v3/klines"
}

// WSURL returns the Binance-framing stream endpoint.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.httpServer.URL, "http") + "/ws"
}

// Endpoints bundles the Binance-framing URLs as adapter overrides.
func (s *Server) Endpoints() adapters.Endpoints {
	return adapters.Endpoints{RESTURL: s.RESTURL(), WSURL: s.WSURL()}
}

// BybitRESTURL returns the Bybit-framing kline endpoint.
func (s *Server) BybitRESTURL() string {
	return s.httpServer.URL + "/v5/market/kline"
}

// BybitWSURL returns the Bybit-framing stream endpoint.
func (s *Server) BybitWSURL() string {
	return "ws" + strings.TrimPrefix(s.httpServer.URL, "http") + "/v5/public/spot"
}

// BybitEndpoints bundles the Bybit-framing URLs as adapter overrides.
func (s *Server) BybitEndpoints() adapters.Endpoints {
	return adapters.Endpoints{RESTURL: s.BybitRESTURL(), WSURL: s.BybitWSURL()}
}

// Close drops all clients and shuts the server down.
func (s *Server) Close() {
	s.DropConnections()
	s.httpServer.Close()
}

// SetHistory replaces the candle history served over REST.
func (s *Server) SetHistory(series []candles.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append([]candles.Candle(nil), series...)
}

// AppendCandle extends the REST history.
func (s *Server) AppendCandle(c candles.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, c)
}

// SetLatency delays every REST response by d.
func (s *Server) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// SetPageLimit caps the number of rows any single REST response carries,
// below what the client requested, so tests can force pagination with
// small histories.
func (s *Server) SetPageLimit(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageLimit = n
}

// FailNext queues HTTP error statuses; each subsequent REST request
// consumes one until the queue is empty.
func (s *Server) FailNext(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatuses = append(s.failStatuses, statuses...)
}

// RejectSubscriptions makes every subscribe answer with an error frame.
func (s *Server) RejectSubscriptions(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectSubs = reject
}

// ConnectionCount reports the number of live WebSocket clients.
func (s *Server) ConnectionCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

// PingCount reports how many application-level ping frames Bybit-framing
// clients have sent.
func (s *Server) PingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingCount
}

// DropConnections severs every WebSocket client without a close frame,
// simulating a network fault.
func (s *Server) DropConnections() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = make(map[*websocket.Conn]*wsClient)
}

// EmitKline pushes one candle to every subscriber in its connection's wire
// framing. interval is used verbatim in the frame, so callers pass the
// family's wire spelling ("1m" for Binance, "1" for Bybit). final marks
// the candle closed.
func (s *Server) EmitKline(symbol, interval string, c candles.Candle, final bool) {
	binanceFrame, err := json.Marshal(klineEvent{
		Event:  "kline",
		Symbol: symbol,
		Kline: klinePayload{
			OpenTime:            c.Timestamp * 1000,
			Symbol:              symbol,
			Interval:            interval,
			Open:                c.Open.String(),
			High:                c.High.String(),
			Low:                 c.Low.String(),
			Close:               c.Close.String(),
			Volume:              c.Volume.String(),
			TradeCount:          c.TradeCount,
			Closed:              final,
			QuoteVolume:         c.QuoteVolume.String(),
			TakerBuyBaseVolume:  c.TakerBuyBaseVolume.String(),
			TakerBuyQuoteVolume: c.TakerBuyQuoteVolume.String(),
		},
	})
	if err != nil {
		return
	}
	bybitFrame, err := json.Marshal(bybitKlineFrame{
		Topic: "kline." + interval + "." + symbol,
		Type:  "snapshot",
		Data: []bybitKline{{
			Start:    c.Timestamp * 1000,
			Open:     c.Open.String(),
			High:     c.High.String(),
			Low:      c.Low.String(),
			Close:    c.Close.String(),
			Volume:   c.Volume.String(),
			Turnover: c.QuoteVolume.String(),
			Confirm:  final,
		}},
	})
	if err != nil {
		return
	}

	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn, client := range s.conns {
		frame := binanceFrame
		if client.family == familyBybit {
			frame = bybitFrame
		}
		client.mu.Lock()
		werr := conn.WriteMessage(websocket.TextMessage, frame)
		client.mu.Unlock()
		if werr != nil {
			_ = conn.Close()
			delete(s.conns, conn)
		}
	}
}

// Broadcast sends a raw frame to every subscriber.
func (s *Server) Broadcast(frame []byte) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn, client := range s.conns {
		client.mu.Lock()
		werr := conn.WriteMessage(websocket.TextMessage, frame)
		client.mu.Unlock()
		if werr != nil {
			_ = conn.Close()
			delete(s.conns, conn)
		}
	}
}

// restPrelude applies latency and queued failures, returning the history
// snapshot and whether the handler should continue.
func (s *Server) restPrelude(w http.ResponseWriter) ([]candles.Candle, int, bool) {
	s.mu.Lock()
	latency := s.latency
	pageLimit := s.pageLimit
	var failWith int
	if len(s.failStatuses) > 0 {
		failWith = s.failStatuses[0]
		s.failStatuses = s.failStatuses[1:]
	}
	history := append([]candles.Candle(nil), s.history...)
	s.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}
	if failWith != 0 {
		http.Error(w, http.StatusText(failWith), failWith)
		return nil, 0, false
	}
	return history, pageLimit, true
}

// selectWindow filters history to [startMs, endMs] (zero means unbounded)
// and caps the result at limit rows, keeping the newest rows on overflow
// unless keepOldest is set.
func selectWindow(history []candles.Candle, startMs, endMs int64, limit int, keepOldest bool) []candles.Candle {
	selected := make([]candles.Candle, 0, len(history))
	for _, c := range history {
		ms := c.Timestamp * 1000
		if startMs > 0 && ms < startMs {
			continue
		}
		if endMs > 0 && ms > endMs {
			continue
		}
		selected = append(selected, c)
	}
	if len(selected) > limit {
		if keepOldest {
			selected = selected[:limit]
		} else {
			selected = selected[len(selected)-limit:]
		}
	}
	return selected
}

func (s *Server) handleKlines(w http.ResponseWriter, r *http.Request) {
	history, pageLimit, ok := s.restPrelude(w)
	if !ok {
		return
	}

	q := r.URL.Query()
	startMs, _ := strconv.ParseInt(q.Get("startTime"), 10, 64)
	endMs, _ := strconv.ParseInt(q.Get("endTime"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = 500
	}
	if pageLimit > 0 && limit > pageLimit {
		limit = pageLimit
	}

	// Binance returns the oldest rows when an explicit start was given and
	// the most recent rows otherwise.
	selected := selectWindow(history, startMs, endMs, limit, startMs > 0)

	rows := make([][12]any, len(selected))
	for i, c := range selected {
		rows[i] = [12]any{
			c.Timestamp * 1000,
			c.Open.String(),
			c.High.String(),
			c.Low.String(),
			c.Close.String(),
			c.Volume.String(),
			c.Timestamp*1000 + 59_999,
			c.QuoteVolume.String(),
			c.TradeCount,
			c.TakerBuyBaseVolume.String(),
			c.TakerBuyQuoteVolume.String(),
			"0",
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rows)
}

// handleBybitKlines serves the v5 kline envelope: result.list rows are
// newest first and the newest rows win when the window overflows the
// limit, regardless of an explicit start.
func (s *Server) handleBybitKlines(w http.ResponseWriter, r *http.Request) {
	history, pageLimit, ok := s.restPrelude(w)
	if !ok {
		return
	}

	q := r.URL.Query()
	startMs, _ := strconv.ParseInt(q.Get("start"), 10, 64)
	endMs, _ := strconv.ParseInt(q.Get("end"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = 200
	}
	if pageLimit > 0 && limit > pageLimit {
		limit = pageLimit
	}

	selected := selectWindow(history, startMs, endMs, limit, false)

	list := make([][7]string, len(selected))
	for i, c := range selected {
		list[len(selected)-1-i] = [7]string{
			strconv.FormatInt(c.Timestamp*1000, 10),
			c.Open.String(),
			c.High.String(),
			c.Low.String(),
			c.Close.String(),
			c.Volume.String(),
			c.QuoteVolume.String(),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(bybitRESTResponse{
		RetCode: 0,
		RetMsg:  "OK",
		Result:  bybitRESTResult{List: list},
	})
}

func (s *Server) register(conn *websocket.Conn, family string) *wsClient {
	client := &wsClient{family: family}
	s.connsMu.Lock()
	s.conns[conn] = client
	s.connsMu.Unlock()
	return client
}

func (s *Server) unregister(conn *websocket.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
	_ = conn.Close()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := s.register(conn, familyBinance)
	defer s.unregister(conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req streamRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}

		var reply []byte
		s.mu.Lock()
		reject := s.rejectSubs
		s.mu.Unlock()
		switch {
		case req.Method == "SUBSCRIBE" && reject:
			reply, _ = json.Marshal(streamReply{
				ID:    req.ID,
				Error: &streamError{Code: 2, Message: "invalid stream"},
			})
		case req.Method == "SUBSCRIBE" || req.Method == "UNSUBSCRIBE":
			reply, _ = json.Marshal(streamReply{ID: req.ID})
		default:
			continue
		}

		client.mu.Lock()
		werr := conn.WriteMessage(websocket.TextMessage, reply)
		client.mu.Unlock()
		if werr != nil {
			return
		}
	}
}

func (s *Server) handleBybitWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := s.register(conn, familyBybit)
	defer s.unregister(conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req bybitOpFrame
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}

		var reply []byte
		s.mu.Lock()
		reject := s.rejectSubs
		if req.Op == "ping" {
			s.pingCount++
		}
		s.mu.Unlock()
		switch req.Op {
		case "subscribe":
			if reject {
				reply, _ = json.Marshal(bybitOpReply{
					Op: "subscribe", Success: false, RetMsg: "invalid topic", ReqID: req.ReqID,
				})
			} else {
				reply, _ = json.Marshal(bybitOpReply{
					Op: "subscribe", Success: true, ReqID: req.ReqID,
				})
			}
		case "unsubscribe":
			reply, _ = json.Marshal(bybitOpReply{
				Op: "unsubscribe", Success: true, ReqID: req.ReqID,
			})
		case "ping":
			reply, _ = json.Marshal(bybitOpReply{
				Op: "pong", Success: true, ReqID: req.ReqID,
			})
		default:
			continue
		}

		client.mu.Lock()
		werr := conn.WriteMessage(websocket.TextMessage, reply)
		client.mu.Unlock()
		if werr != nil {
			return
		}
	}
}

type streamRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type streamReply struct {
	Result json.RawMessage `json:"result"`
	ID     int64           `json:"id"`
	Error  *streamError    `json:"error,omitempty"`
}

type streamError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

type klineEvent struct {
	Event  string       `json:"e"`
	Symbol string       `json:"s"`
	Kline  klinePayload `json:"k"`
}

type klinePayload struct {
	OpenTime            int64  `json:"t"`
	Symbol              string `json:"s"`
	Interval            string `json:"i"`
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

type bybitRESTResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  bybitRESTResult `json:"result"`
}

type bybitRESTResult struct {
	List [][7]string `json:"list"`
}

type bybitOpFrame struct {
	Op    string   `json:"op"`
	Args  []string `json:"args"`
	ReqID string   `json:"req_id"`
}

type bybitOpReply struct {
	Op      string `json:"op"`
	Success bool   `json:"success"`
	RetMsg  string `json:"ret_msg,omitempty"`
	ReqID   string `json:"req_id,omitempty"`
}

type bybitKlineFrame struct {
	Topic string       `json:"topic"`
	Type  string       `json:"type"`
	Data  []bybitKline `json:"data"`
}

type bybitKline struct {
	Start    int64  `json:"start"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume"`
	Turnover string `json:"turnover"`
	Confirm  bool   `json:"confirm"`
}
