// Package streamwatch implements the optional chain-stream drift
// watcher (spec §4.8): a single websocket connection to the venue's
// public event stream that shortens sequence-drift detection by
// reacting to events that carry a worker's own address (the event's
// type field is not checked), rather than waiting for the 30s
// proactive refresh. Grounded on
// original_source/scripts/enhanced_multi_wallet_trader.py's
// chainstream balance-event handling (_process_chainstream_event →
// process_balance_updates → refresh_sequence) for the semantics, and
// on internal/adapters/binance/websocket_manager.go's reconnect loop
// for the shape.
package streamwatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	goccyjson "github.com/goccy/go-json"
)

// balanceEvent is the venue event envelope this watcher filters for.
// Only the address field is consumed; unrecognized events and fields
// are ignored rather than rejected, since this watcher is a latency
// optimization, not a protocol client.
type balanceEvent struct {
	Type    string `json:"type"`
	Address string `json:"address"`
}

// Watcher subscribes to a venue event stream and dispatches balance
// updates to registered per-address drift checkers.
type Watcher struct {
	url    string
	logger *log.Logger

	mu       sync.RWMutex
	checkers map[string]func(ctx context.Context)
}

// New constructs a Watcher for the given websocket URL.
func New(url string, logger *log.Logger) *Watcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Watcher{url: url, logger: logger, checkers: make(map[string]func(ctx context.Context))}
}

// Register arms an out-of-band drift check for address, invoked
// whenever a balance-update event naming that address arrives.
func (w *Watcher) Register(address string, checkDrift func(ctx context.Context)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.checkers[address] = checkDrift
}

// Unregister removes a previously registered address, e.g. when its
// worker stops.
func (w *Watcher) Unregister(address string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.checkers, address)
}

// Run connects and reconnects with exponential backoff until ctx is
// cancelled. It never returns a non-nil error except ctx.Err(), since
// this watcher is optional infrastructure (spec §4.8: "WalletWorker
// runs correctly without it").
func (w *Watcher) Run(ctx context.Context) error {
	boff := backoff.NewExponentialBackOff()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := w.connectAndRead(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Printf("streamwatch: connection error: %v", err)
		} else if err == nil {
			boff.Reset()
			continue
		}

		wait := boff.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("streamwatch: backoff exhausted")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (w *Watcher) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.url, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutdown")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return context.Canceled
			}
			return fmt.Errorf("read: %w", err)
		}
		w.handleMessage(ctx, data)
	}
}

func (w *Watcher) handleMessage(ctx context.Context, data []byte) {
	var evt balanceEvent
	if err := goccyjson.Unmarshal(data, &evt); err != nil {
		return
	}
	if evt.Address == "" {
		return
	}

	w.mu.RLock()
	checkDrift, ok := w.checkers[evt.Address]
	w.mu.RUnlock()
	if !ok {
		return
	}
	checkDrift(ctx)
}
