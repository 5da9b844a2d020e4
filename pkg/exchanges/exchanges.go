// Package exchanges wires the built-in adapter implementations into a
// registry. Applications needing a subset, or custom adapters, build their
// own adapters.Registry instead.
package exchanges

import (
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/adapters"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/adapters/binance"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/adapters/bybit"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/adapters/coinbase"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/adapters/gateio"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/adapters/okx"
)

// DefaultRegistry returns a registry populated with every adapter the
// library ships. Registration is an explicit call, not an import side
// effect, so tests can construct isolated registries.
func DefaultRegistry() *adapters.Registry {
	r := adapters.NewRegistry()
	r.Register("binance", binance.Factory)
	r.Register("bybit", bybit.Factory)
	r.Register("coinbase", coinbase.Factory)
	r.Register("gateio", gateio.Factory)
	r.Register("okx", okx.Factory)
	return r
}
