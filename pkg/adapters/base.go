package adapters

import (
	"fmt"
	"time"
)

// Endpoints carries per-environment endpoint overrides. Zero values keep an
// adapter's production defaults; a testnet deployment supplies both.
type Endpoints struct {
	RESTURL string
	WSURL   string
}

// Spec is the static composition of one adapter: the trait choices plus the
// exchange's declared limits. Exchange packages fill one Spec and embed
// Base to inherit the shared behavior.
type Spec struct {
	Name              string
	Pairs             PairFormatter
	Unit              TimestampUnit
	RESTURL           string
	WSURL             string
	Intervals         map[string]int64
	WSIntervals       []string
	MaxLimit          int
	HeartbeatInterval time.Duration

	// NewestFirst marks exchanges whose windowed kline queries return the
	// newest rows when the window holds more than the per-request limit.
	NewestFirst bool
}

// Base implements the parts of Adapter that follow mechanically from a
// Spec. The exchange packages add the wire codecs on top.
type Base struct {
	spec Spec
}

// NewBase builds a Base from a Spec, applying endpoint overrides.
func NewBase(spec Spec, ep Endpoints) Base {
	if ep.RESTURL != "" {
		spec.RESTURL = ep.RESTURL
	}
	if ep.WSURL != "" {
		spec.WSURL = ep.WSURL
	}
	return Base{spec: spec}
}

// Name implements Adapter.
func (b Base) Name() string { return b.spec.Name }

// RESTURL implements Adapter.
func (b Base) RESTURL() string { return b.spec.RESTURL }

// WSURL implements Adapter.
func (b Base) WSURL() string { return b.spec.WSURL }

// FormatTradingPair implements Adapter using the composed PairFormatter.
func (b Base) FormatTradingPair(pair string) (string, error) {
	base, quote, err := SplitPair(pair)
	if err != nil {
		return "", err
	}
	return b.spec.Pairs.Format(base, quote), nil
}

// Unit exposes the composed timestamp unit to the embedding adapter.
func (b Base) Unit() TimestampUnit { return b.spec.Unit }

// SupportedIntervals implements Adapter. The map is copied so callers
// cannot mutate the declared support.
func (b Base) SupportedIntervals() map[string]int64 {
	out := make(map[string]int64, len(b.spec.Intervals))
	for k, v := range b.spec.Intervals {
		out[k] = v
	}
	return out
}

// WSSupportedIntervals implements Adapter.
func (b Base) WSSupportedIntervals() []string {
	out := make([]string, len(b.spec.WSIntervals))
	copy(out, b.spec.WSIntervals)
	return out
}

// HeartbeatInterval implements Adapter. Zero means the embedding adapter
// declared no application-level heartbeat.
func (b Base) HeartbeatInterval() time.Duration { return b.spec.HeartbeatInterval }

// PagesNewestFirst implements Adapter.
func (b Base) PagesNewestFirst() bool { return b.spec.NewestFirst }

// CheckInterval rejects intervals outside the declared support with a
// typed error, returning the interval duration in seconds otherwise.
func (b Base) CheckInterval(interval string) (int64, error) {
	secs, ok := b.spec.Intervals[interval]
	if !ok {
		return 0, fmt.Errorf("%w: %q not supported by %s", ErrInvalidInterval, interval, b.spec.Name)
	}
	return secs, nil
}

// ClampLimit bounds a requested candle count to the exchange's documented
// maximum, substituting the maximum for zero or negative requests.
func (b Base) ClampLimit(limit int) int {
	if limit <= 0 || limit > b.spec.MaxLimit {
		return b.spec.MaxLimit
	}
	return limit
}
