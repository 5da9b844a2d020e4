// Package candles defines the exchange-agnostic OHLCV record produced by
// every adapter, together with the canonical interval table shared across
// the library.
//
// A Candle is immutable once constructed: an update to a still-forming
// candle is represented by a new Candle carrying the same timestamp, which
// replaces the previous one downstream. Identity for store purposes is the
// timestamp alone.
package candles

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle represents one OHLCV bar for a single (trading pair, interval)
// combination, normalized at the adapter boundary:
//
//   - Timestamp is whole seconds since epoch, aligned to the interval,
//     regardless of the unit the exchange uses on the wire.
//   - Optional fields (QuoteVolume, TradeCount, taker volumes) default to
//     zero when the exchange does not supply them.
//   - Final reports whether the exchange has closed the bar. Exchanges that
//     never signal finality leave it false; the bar is implicitly finalized
//     when a newer timestamp replaces it as the head of the series.
type Candle struct {
	Timestamp int64

	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal

	// Volume is base-asset volume.
	Volume decimal.Decimal

	// Extended fields, zero when the exchange omits them.
	QuoteVolume         decimal.Decimal
	TradeCount          int64
	TakerBuyBaseVolume  decimal.Decimal
	TakerBuyQuoteVolume decimal.Decimal

	Final bool
}

// ValidationError reports which candle field violated an invariant.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid candle %s: %s", e.Field, e.Message)
}

// Validate checks the OHLCV relationships every well-formed candle must
// satisfy: high >= max(open, close), low <= min(open, close), volume >= 0
// and a positive timestamp.
func (c Candle) Validate() error {
	if c.Timestamp <= 0 {
		return &ValidationError{Field: "timestamp", Message: "must be positive epoch seconds"}
	}
	if c.High.LessThan(decimal.Max(c.Open, c.Close)) {
		return &ValidationError{
			Field:   "high",
			Message: fmt.Sprintf("high %s below max(open, close) %s", c.High, decimal.Max(c.Open, c.Close)),
		}
	}
	if c.Low.GreaterThan(decimal.Min(c.Open, c.Close)) {
		return &ValidationError{
			Field:   "low",
			Message: fmt.Sprintf("low %s above min(open, close) %s", c.Low, decimal.Min(c.Open, c.Close)),
		}
	}
	if c.Volume.IsNegative() {
		return &ValidationError{Field: "volume", Message: "volume must not be negative"}
	}
	return nil
}

// Aligned reports whether the timestamp sits on an interval boundary.
func (c Candle) Aligned(intervalSeconds int64) bool {
	if intervalSeconds <= 0 {
		return false
	}
	return c.Timestamp%intervalSeconds == 0
}

// Time returns the candle open time as a time.Time in UTC.
func (c Candle) Time() time.Time {
	return time.Unix(c.Timestamp, 0).UTC()
}

// String implements fmt.Stringer.
func (c Candle) String() string {
	return fmt.Sprintf("Candle{t: %s, o: %s, h: %s, l: %s, c: %s, v: %s, final: %t}",
		c.Time().Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.Volume, c.Final)
}
