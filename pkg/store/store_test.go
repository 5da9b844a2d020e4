package store

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MementoRC/hb-candles-feed-sub001/pkg/candles"
)

func candleAt(ts int64, close string) candles.Candle {
	c := decimal.RequireFromString(close)
	return candles.Candle{
		Timestamp: ts,
		Open:      c,
		High:      c,
		Low:       c,
		Close:     c,
		Volume:    decimal.NewFromInt(1),
	}
}

func timestamps(s *Store) []int64 {
	snap := s.Snapshot()
	out := make([]int64, len(snap))
	for i, c := range snap {
		out[i] = c.Timestamp
	}
	return out
}

func TestIngestOrdering(t *testing.T) {
	s := New(10, 60)

	// Out-of-order arrival still yields an ascending series.
	s.Ingest([]candles.Candle{
		candleAt(120, "3"),
		candleAt(60, "2"),
		candleAt(180, "4"),
	})
	s.Ingest([]candles.Candle{candleAt(0, "1")})

	assert.Equal(t, []int64{0, 60, 120, 180}, timestamps(s))
}

func TestIngestReplacesOnEqualTimestamp(t *testing.T) {
	s := New(10, 60)
	s.Ingest([]candles.Candle{
		candleAt(0, "1"),
		candleAt(60, "2"),
		candleAt(120, "100"),
	})

	// A re-ingested timestamp updates in place, e.g. a forming candle
	// refreshed by a poll.
	s.Ingest([]candles.Candle{candleAt(120, "105")})

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.True(t, snap[2].Close.Equal(decimal.NewFromInt(105)))
	assert.Equal(t, []int64{0, 60, 120}, timestamps(s))
}

func TestEvictionKeepsNewest(t *testing.T) {
	s := New(3, 60)
	s.Ingest([]candles.Candle{
		candleAt(0, "1"),
		candleAt(60, "2"),
		candleAt(120, "3"),
		candleAt(180, "4"),
	})

	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []int64{60, 120, 180}, timestamps(s))

	// An update to a surviving timestamp does not evict anything.
	s.Ingest([]candles.Candle{candleAt(120, "3.5")})
	assert.Equal(t, []int64{60, 120, 180}, timestamps(s))
}

func TestLastAndLastTimestamp(t *testing.T) {
	s := New(5, 60)

	_, ok := s.Last()
	assert.False(t, ok)
	_, ok = s.LastTimestamp()
	assert.False(t, ok)

	s.Ingest([]candles.Candle{candleAt(60, "2"), candleAt(120, "3")})
	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, int64(120), last.Timestamp)

	ts, ok := s.LastTimestamp()
	require.True(t, ok)
	assert.Equal(t, int64(120), ts)
}

func TestReady(t *testing.T) {
	t.Run("Capped", func(t *testing.T) {
		s := New(2, 60)
		assert.False(t, s.Ready())

		s.Ingest([]candles.Candle{candleAt(60, "1")})
		assert.False(t, s.Ready())

		s.Ingest([]candles.Candle{candleAt(120, "2")})
		assert.True(t, s.Ready())
	})

	t.Run("Uncapped", func(t *testing.T) {
		s := New(0, 60)
		assert.False(t, s.Ready())

		// Even an empty ingest marks an uncapped store populated.
		s.Ingest(nil)
		assert.True(t, s.Ready())
	})
}

func TestContinuous(t *testing.T) {
	s := New(10, 60)
	assert.True(t, s.Continuous())

	s.Ingest([]candles.Candle{candleAt(0, "1"), candleAt(60, "2"), candleAt(120, "3")})
	assert.True(t, s.Continuous())

	s.Ingest([]candles.Candle{candleAt(300, "4")})
	assert.False(t, s.Continuous())
}

func TestClear(t *testing.T) {
	s := New(0, 60)
	s.Ingest([]candles.Candle{candleAt(60, "1")})
	require.True(t, s.Ready())

	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Ready())
}

func TestSnapshotIsCopy(t *testing.T) {
	s := New(5, 60)
	s.Ingest([]candles.Candle{candleAt(60, "1")})

	snap := s.Snapshot()
	snap[0].Timestamp = 999

	assert.Equal(t, []int64{60}, timestamps(s))
}

func TestConcurrentIngestAndSnapshot(t *testing.T) {
	s := New(100, 60)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s.Ingest([]candles.Candle{candleAt(int64(i)*60, "1")})
			}
		}(w)
	}
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				snap := s.Snapshot()
				for j := 1; j < len(snap); j++ {
					assert.Less(t, snap[j-1].Timestamp, snap[j].Timestamp)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, s.Len())
	assert.True(t, s.Continuous())
}
