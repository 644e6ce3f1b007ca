// Package alert polls the price feed and sends one-shot directional alerts
// to subscribed users when the reference asset's 24h change crosses the
// configured threshold.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cryptobay/cryptobay/internal/feed"
	"github.com/cryptobay/cryptobay/internal/format"
	"github.com/cryptobay/cryptobay/internal/metrics"
)

// State classifies one observed 24h change.
type State string

const (
	StateNormal State = "normal"
	StateUp     State = "up"
	StateDown   State = "down"
)

// Classify maps a 24h percent change to a directional state using one
// symmetric threshold.
func Classify(change, threshold float64) State {
	switch {
	case change >= threshold:
		return StateUp
	case change <= -threshold:
		return StateDown
	default:
		return StateNormal
	}
}

// Snapshotter is the slice of the feed the watcher needs.
type Snapshotter interface {
	Snapshot(ctx context.Context, assetID string) (*feed.MarketSnapshot, error)
}

// Notifier delivers a text to one user. Failures are per-recipient and never
// abort delivery to others.
type Notifier interface {
	Send(ctx context.Context, userID, text string) error
}

// Config holds the watcher settings.
type Config struct {
	// AssetID is the feed identifier of the reference asset, e.g. "bitcoin".
	AssetID string
	// Symbol is the display name used in alert texts, e.g. "BTC".
	Symbol string
	// Threshold is the symmetric 24h change threshold in percent.
	Threshold float64
	// Interval is the nominal polling period.
	Interval time.Duration
	// ErrorInterval is the shortened retry period after a failed cycle.
	ErrorInterval time.Duration
	// BaselineOnly makes a user's first observation establish a silent
	// baseline instead of notifying on an immediately observed excursion.
	BaselineOnly bool
}

// Watcher owns the subscription set and each subscriber's last directional
// state. Both live for the process only and reset on restart.
type Watcher struct {
	cfg      Config
	feed     Snapshotter
	notifier Notifier

	mu         sync.Mutex
	subscribed map[string]struct{}
	last       map[string]State
}

func NewWatcher(cfg Config, snap Snapshotter, notifier Notifier) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 300 * time.Second
	}
	if cfg.ErrorInterval <= 0 {
		cfg.ErrorInterval = 60 * time.Second
	}
	return &Watcher{
		cfg:        cfg,
		feed:       snap,
		notifier:   notifier,
		subscribed: map[string]struct{}{},
		last:       map[string]State{},
	}
}

// Toggle flips the user's subscription and reports whether they are now
// subscribed. Unsubscribing discards the user's last state, so resubscribing
// starts from a clean baseline on the next cycle.
func (w *Watcher) Toggle(userID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.subscribed[userID]; ok {
		delete(w.subscribed, userID)
		delete(w.last, userID)
		return false
	}
	w.subscribed[userID] = struct{}{}
	return true
}

// Subscribed reports current membership.
func (w *Watcher) Subscribed(userID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.subscribed[userID]
	return ok
}

// Run polls until ctx is cancelled. A failed cycle shortens the wait to the
// error interval; nothing a cycle does can stop the loop.
func (w *Watcher) Run(ctx context.Context) error {
	log.Info().Str("asset", w.cfg.AssetID).Float64("threshold", w.cfg.Threshold).
		Dur("interval", w.cfg.Interval).Msg("alert watcher started")

	for {
		wait := w.cfg.Interval
		if err := w.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("watcher cycle failed")
			metrics.WatcherCycles.WithLabelValues("error").Inc()
			wait = w.cfg.ErrorInterval
		} else {
			metrics.WatcherCycles.WithLabelValues("ok").Inc()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("alert watcher stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// cycle runs one poll. With no subscribers it does no network work at all.
func (w *Watcher) cycle(ctx context.Context) error {
	w.mu.Lock()
	n := len(w.subscribed)
	w.mu.Unlock()
	if n == 0 {
		return nil
	}

	snap, err := w.feed.Snapshot(ctx, w.cfg.AssetID)
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}

	state := Classify(snap.Change24h, w.cfg.Threshold)

	// Decide recipients under the lock, deliver outside it.
	w.mu.Lock()
	var notify []string
	for uid := range w.subscribed {
		prev, seen := w.last[uid]
		if state != StateNormal {
			if (seen && prev != state) || (!seen && !w.cfg.BaselineOnly) {
				notify = append(notify, uid)
			}
		}
		w.last[uid] = state
	}
	w.mu.Unlock()

	if len(notify) == 0 {
		return nil
	}

	text := alertText(w.cfg.Symbol, state, snap)
	for _, uid := range notify {
		if err := w.notifier.Send(ctx, uid, text); err != nil {
			log.Error().Err(err).Str("user", uid).Msg("alert delivery failed")
			metrics.AlertFailures.Inc()
			continue
		}
		metrics.AlertsSent.Inc()
	}
	return nil
}

func alertText(symbol string, state State, snap *feed.MarketSnapshot) string {
	arrow, verb := "🚀", "up"
	if state == StateDown {
		arrow, verb = "📉", "down"
	}
	return fmt.Sprintf("%s %s %s %+.2f%% over 24h.\nCurrent price ≈ %s",
		arrow, symbol, verb, snap.Change24h, format.USD(snap.Price))
}
