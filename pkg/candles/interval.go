package candles

import (
	"fmt"
	"time"
)

// intervalSeconds is the canonical interval table. Adapters declare their
// support as a subset of these names; exchange-specific spellings ("1" for
// one minute on Bybit, "ONE_MINUTE" on Coinbase) stay inside the adapter.
var intervalSeconds = map[string]int64{
	"1s":  1,
	"1m":  60,
	"3m":  180,
	"5m":  300,
	"15m": 900,
	"30m": 1800,
	"1h":  3600,
	"2h":  7200,
	"4h":  14400,
	"6h":  21600,
	"8h":  28800,
	"12h": 43200,
	"1d":  86400,
	"3d":  259200,
	"1w":  604800,
	"1M":  2592000,
}

// IntervalSeconds returns the duration of a canonical interval name in
// seconds. Unknown names return an error rather than a zero duration so a
// misconfigured feed fails at construction, not at alignment checks.
func IntervalSeconds(interval string) (int64, error) {
	secs, ok := intervalSeconds[interval]
	if !ok {
		return 0, fmt.Errorf("unknown interval %q", interval)
	}
	return secs, nil
}

// IntervalDuration returns the interval length as a time.Duration.
func IntervalDuration(interval string) (time.Duration, error) {
	secs, err := IntervalSeconds(interval)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}

// AlignTimestamp floors an epoch-seconds timestamp to the containing
// interval boundary.
func AlignTimestamp(ts, intervalSeconds int64) int64 {
	if intervalSeconds <= 0 {
		return ts
	}
	return ts - ts%intervalSeconds
}
