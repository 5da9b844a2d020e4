package adapters

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by all adapter implementations.
var (
	// ErrUnknownExchange is returned when resolving a name no factory was
	// registered for.
	ErrUnknownExchange = errors.New("unknown exchange")

	// ErrInvalidTradingPair is returned for pairs outside the canonical
	// "BASE-QUOTE" form or pairs an adapter cannot format.
	ErrInvalidTradingPair = errors.New("invalid trading pair")

	// ErrInvalidInterval is returned for intervals the adapter does not
	// declare in SupportedIntervals.
	ErrInvalidInterval = errors.New("invalid interval")

	// ErrIntervalNotStreamable is returned when a WebSocket subscription is
	// requested for an interval outside WSSupportedIntervals.
	ErrIntervalNotStreamable = errors.New("interval not supported over websocket")

	// ErrSubscriptionRejected is returned when the exchange answers a
	// subscribe frame with an explicit failure.
	ErrSubscriptionRejected = errors.New("subscription rejected by exchange")
)

// ResponseFormatError reports a REST or WebSocket payload that could not be
// interpreted as candle data at all. It usually means the exchange changed
// its wire contract and the adapter is out of date, so strategies log it
// loudly while treating it as a transient failure.
type ResponseFormatError struct {
	Exchange string
	Reason   string
	Err      error
}

// Error implements the error interface.
func (e *ResponseFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: malformed response: %s: %v", e.Exchange, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: malformed response: %s", e.Exchange, e.Reason)
}

// Unwrap returns the underlying error.
func (e *ResponseFormatError) Unwrap() error {
	return e.Err
}

func newFormatError(exchange, reason string, err error) error {
	return &ResponseFormatError{Exchange: exchange, Reason: reason, Err: err}
}
