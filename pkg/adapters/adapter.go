// Package adapters defines the contract between the candles feed and each
// exchange, plus the reusable pieces adapters are composed from: trading
// pair formatters, timestamp unit conversion, wire row decoding and the
// exchange registry.
//
// An adapter owns every exchange-specific detail: how a canonical
// "BASE-QUOTE" pair is spelled on the wire, which unit timestamps use, how
// REST queries and WebSocket subscription frames are shaped, and how
// responses map back into candles.Candle values. Everything leaving an
// adapter is normalized, so no other component needs exchange knowledge.
package adapters

import (
	"context"
	"net/url"
	"time"

	"github.com/MementoRC/hb-candles-feed-sub001/pkg/candles"
)

// FetchOptions narrows a historical candle request. Zero times mean
// "unbounded" on that side; a zero limit means "use the exchange maximum".
type FetchOptions struct {
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// RESTRequest is the exchange-specific form of a candle fetch: the full
// endpoint URL (some exchanges encode the pair in the path) and the query
// parameters, with timestamps already converted to the exchange's unit and
// the limit clamped to the documented maximum.
type RESTRequest struct {
	URL   string
	Query url.Values
}

// Adapter translates between the standardized feed model and one
// exchange's wire formats. Implementations are stateless aside from static
// configuration and safe for concurrent use by multiple feeds.
type Adapter interface {
	// Name returns the registry name of the exchange, e.g. "binance".
	Name() string

	// FormatTradingPair converts a canonical "BASE-QUOTE" pair into the
	// exchange's wire form. Malformed pairs fail with ErrInvalidTradingPair.
	FormatTradingPair(pair string) (string, error)

	// RESTURL and WSURL return the (possibly testnet-overridden) base
	// endpoints.
	RESTURL() string
	WSURL() string

	// BuildRESTRequest produces the exchange-specific candle request for a
	// pair and interval. Intervals outside SupportedIntervals fail with
	// ErrInvalidInterval.
	BuildRESTRequest(pair, interval string, opts FetchOptions) (*RESTRequest, error)

	// ParseRESTResponse converts a raw REST payload into candles ordered by
	// ascending timestamp. Rows with missing trailing optional fields are
	// defaulted to zero rather than rejected; a payload that cannot be
	// interpreted at all fails with *ResponseFormatError.
	ParseRESTResponse(interval string, payload []byte) ([]candles.Candle, error)

	// PagesNewestFirst reports whether a windowed REST query whose window
	// holds more than the per-request limit answers with the newest rows.
	// Callers paging through a wide range must walk such exchanges backward
	// from the end of the window; oldest-first exchanges page forward.
	PagesNewestFirst() bool

	// BuildWSSubscribe and BuildWSUnsubscribe produce the exchange's
	// subscription frames. Unsubscribe may return (nil, nil) when the
	// protocol defines no such frame.
	BuildWSSubscribe(pair, interval string) ([]byte, error)
	BuildWSUnsubscribe(pair, interval string) ([]byte, error)

	// ParseWSMessage converts one inbound frame into zero or more candles.
	// Non-candle traffic (acks, pings, unrelated channels) returns
	// (nil, nil); a candle frame that cannot be decoded fails with
	// *ResponseFormatError. Candle finality is carried on Candle.Final.
	ParseWSMessage(raw []byte) ([]candles.Candle, error)

	// HandshakeAck inspects a frame received during the subscribe
	// handshake. It returns true when the frame acknowledges the
	// subscription, false when it is unrelated, and an error when the
	// exchange rejected the subscription. Exchanges without an explicit ack
	// always return false; the strategy then treats the first parsed candle
	// as the acknowledgment.
	HandshakeAck(raw []byte) (bool, error)

	// Heartbeat returns the application-level ping frame the exchange
	// expects at HeartbeatInterval, or nil when the transport-level
	// ping/pong is sufficient.
	Heartbeat() []byte
	HeartbeatInterval() time.Duration

	// SupportedIntervals maps every canonical interval the exchange offers
	// to its duration in seconds. WSSupportedIntervals is the (possibly
	// strict) subset usable over WebSocket.
	SupportedIntervals() map[string]int64
	WSSupportedIntervals() []string
}

// RESTClient is the network capability adapters' callers use to execute a
// RESTRequest. Defined here so the feed package depends on the capability,
// not the concrete client.
type RESTClient interface {
	Request(ctx context.Context, method, rawURL string, query url.Values) ([]byte, error)
}
