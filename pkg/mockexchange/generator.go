// Package mockexchange hosts an in-process exchange speaking the Binance
// wire formats over both REST and WebSocket. Tests point an adapter at it
// with endpoint overrides and exercise the full fetch and subscribe paths
// against deterministic data, including injected failures.
package mockexchange

import (
	"math/rand"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/MementoRC/hb-candles-feed-sub001/pkg/candles"
)

// Generator produces a deterministic random-walk candle series. The same
// seed always yields the same series, so assertions can be exact.
type Generator struct {
	mu    sync.Mutex
	rng   *rand.Rand
	price float64

	interval int64
	nextTS   int64
}

// NewGenerator starts a series at startTS (unix seconds, aligned by the
// caller) with the given interval and opening price.
func NewGenerator(seed int64, startTS, intervalSeconds int64, startPrice float64) *Generator {
	return &Generator{
		rng:      rand.New(rand.NewSource(seed)),
		price:    startPrice,
		interval: intervalSeconds,
		nextTS:   startTS,
	}
}

// Next produces the next candle in the series.
func (g *Generator) Next() candles.Candle {
	g.mu.Lock()
	defer g.mu.Unlock()

	open := g.price
	high, low := open, open
	for i := 0; i < 4; i++ {
		g.price += (g.rng.Float64() - 0.5) * open * 0.01
		if g.price > high {
			high = g.price
		}
		if g.price < low {
			low = g.price
		}
	}
	vol := 10 + g.rng.Float64()*90

	c := candles.Candle{
		Timestamp:   g.nextTS,
		Open:        dec(open),
		High:        dec(high),
		Low:         dec(low),
		Close:       dec(g.price),
		Volume:      dec(vol),
		QuoteVolume: dec(vol * (open + g.price) / 2),
		TradeCount:  int64(g.rng.Intn(500) + 1),
		Final:       true,
	}
	g.nextTS += g.interval
	return c
}

// Series produces the next n candles.
func (g *Generator) Series(n int) []candles.Candle {
	out := make([]candles.Candle, n)
	for i := range out {
		out[i] = g.Next()
	}
	return out
}

func dec(v float64) decimal.Decimal {
	d, _ := decimal.NewFromString(strconv.FormatFloat(v, 'f', 8, 64))
	return d
}
