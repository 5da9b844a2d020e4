// Package feed binds an exchange adapter, a collection strategy and a
// candle store into one continuously updated OHLCV series per (exchange,
// trading pair, interval) tuple.
//
// Two strategies drive data acquisition: REST polling on a timer, and a
// persistent WebSocket subscription with reconnection. Strategy selection
// is an explicit construction-time decision; "auto" prefers WebSocket
// whenever the adapter streams the requested interval.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/MementoRC/hb-candles-feed-sub001/pkg/adapters"
)

// errAlreadyStarted is returned by Start when the strategy is already
// running; Stop must complete before a restart.
var errAlreadyStarted = errors.New("strategy already started")

// State is the lifecycle state of a collection strategy.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateReconnecting
)

// String returns the string representation of a state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// stateVar is the atomic state cell shared by both strategy
// implementations.
type stateVar struct {
	v atomic.Int32
}

func (s *stateVar) get() State      { return State(s.v.Load()) }
func (s *stateVar) set(state State) { s.v.Store(int32(state)) }

// Strategy owns the decision of when and how candle updates are acquired
// and fed into the store. Start launches the background work and returns
// immediately; transport failures after that point are contained inside
// the strategy and retried per its own policy, never surfaced to the
// caller of Start.
type Strategy interface {
	Start(ctx context.Context) error
	Stop()
	State() State
}

// Mode selects the collection strategy for a feed.
type Mode string

const (
	ModeAuto      Mode = "auto"
	ModeWebSocket Mode = "websocket"
	ModePolling   Mode = "polling"
)

// ParseMode validates a mode string, defaulting empty to ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeWebSocket, ModePolling:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown strategy mode %q", s)
	}
}

// resolveMode turns a requested mode into a concrete one. Auto picks
// WebSocket iff the adapter streams the interval; an explicit WebSocket
// request for a non-streamable interval is a configuration error, not a
// runtime fallback.
func resolveMode(mode Mode, adapter adapters.Adapter, interval string) (Mode, error) {
	streamable := false
	for _, iv := range adapter.WSSupportedIntervals() {
		if iv == interval {
			streamable = true
			break
		}
	}

	switch mode {
	case ModeAuto, "":
		if streamable {
			return ModeWebSocket, nil
		}
		return ModePolling, nil
	case ModeWebSocket:
		if !streamable {
			return "", fmt.Errorf("%w: %q on %s", adapters.ErrIntervalNotStreamable, interval, adapter.Name())
		}
		return ModeWebSocket, nil
	case ModePolling:
		return ModePolling, nil
	default:
		return "", fmt.Errorf("unknown strategy mode %q", mode)
	}
}
