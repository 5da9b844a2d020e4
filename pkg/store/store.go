// Package store provides the bounded, time-ordered candle series behind
// every feed. One Store holds the series for a single (exchange, trading
// pair, interval) tuple; candles arriving from REST backfills and live
// WebSocket pushes are merged through the same Ingest path.
//
// Invariants: entries are strictly increasing by timestamp, no two entries
// share a timestamp, and length never exceeds the configured capacity.
// An incoming candle whose timestamp is already present replaces the
// existing entry, which is how updates to a still-forming candle are
// applied. When the series is full, the oldest entries are evicted.
package store

import (
	"sort"
	"sync"

	"github.com/MementoRC/hb-candles-feed-sub001/pkg/candles"
)

// Store is a capacity-bounded ordered candle series. Safe for concurrent
// use: mutations take the write lock, snapshots copy under the read lock,
// so readers never observe a torn state.
type Store struct {
	mu              sync.RWMutex
	entries         []candles.Candle
	maxRecords      int
	intervalSeconds int64
	populated       bool
}

// New creates a store for one feed. maxRecords <= 0 means unbounded; the
// store is then considered ready after the first completed ingest.
func New(maxRecords int, intervalSeconds int64) *Store {
	return &Store{
		maxRecords:      maxRecords,
		intervalSeconds: intervalSeconds,
	}
}

// Ingest merges a batch of candles into the series: replace on matching
// timestamp, sorted insert otherwise, then evict the oldest entries past
// capacity. The last ingest for a given timestamp wins, which keeps
// interleaved REST backfills and live pushes idempotent.
func (s *Store) Ingest(batch []candles.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.populated = true
	for _, c := range batch {
		s.insert(c)
	}
	if s.maxRecords > 0 && len(s.entries) > s.maxRecords {
		s.entries = s.entries[len(s.entries)-s.maxRecords:]
	}
}

func (s *Store) insert(c candles.Candle) {
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Timestamp >= c.Timestamp
	})
	if i < len(s.entries) && s.entries[i].Timestamp == c.Timestamp {
		s.entries[i] = c
		return
	}
	s.entries = append(s.entries, candles.Candle{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = c
}

// Snapshot returns a point-in-time ordered copy of the series.
func (s *Store) Snapshot() []candles.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]candles.Candle, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the current number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Last returns the most recent candle, if any.
func (s *Store) Last() (candles.Candle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return candles.Candle{}, false
	}
	return s.entries[len(s.entries)-1], true
}

// LastTimestamp returns the most recent timestamp, if any. Strategies use
// it as the lower bound of the next fetch window.
func (s *Store) LastTimestamp() (int64, bool) {
	c, ok := s.Last()
	return c.Timestamp, ok
}

// Ready reports whether the series is fully populated: maxRecords entries
// for a capped store, or at least one completed ingest for an uncapped
// one.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.maxRecords <= 0 {
		return s.populated
	}
	return len(s.entries) >= s.maxRecords
}

// Continuous reports whether every consecutive pair of timestamps differs
// by exactly the interval duration. It is a diagnostic for detecting gaps
// (for example after a reconnect that missed data); it does not repair
// them.
func (s *Store) Continuous() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := 1; i < len(s.entries); i++ {
		if s.entries[i].Timestamp-s.entries[i-1].Timestamp != s.intervalSeconds {
			return false
		}
	}
	return true
}

// Clear empties the series and resets readiness.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.populated = false
}
