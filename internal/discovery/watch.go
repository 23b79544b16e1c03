package discovery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/locolabs/fleetwatch/internal/infra/orchestrator"
)

const (
	watchReconnectBase = 1 * time.Second
	watchReconnectMax  = 30 * time.Second
)

// Watcher consumes orchestrator change events and invalidates the cache so
// the next fetch is fresh. Events never patch the snapshot directly. A
// source without watch support, or one whose stream keeps failing, simply
// leaves the cache in polling-only mode.
type Watcher struct {
	client orchestrator.Client
	cache  *Cache
	log    *slog.Logger
}

// NewWatcher creates a watcher over the cache's orchestrator client.
func NewWatcher(client orchestrator.Client, cache *Cache) *Watcher {
	return &Watcher{
		client: client,
		cache:  cache,
		log:    slog.Default().With("component", "discovery-watch"),
	}
}

// Run consumes events until ctx is cancelled, re-establishing the stream
// with capped backoff after resets. It returns promptly when the source
// does not support watching.
func (w *Watcher) Run(ctx context.Context) {
	backoff := watchReconnectBase

	for {
		events, err := w.client.Watch(ctx)
		if err != nil {
			if errors.Is(err, orchestrator.ErrWatchUnsupported) {
				w.log.Info("Watch not supported, polling only")
				return
			}
			w.log.Warn("Watch failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, watchReconnectMax)
			continue
		}

		backoff = watchReconnectBase
		w.consume(ctx, events)

		select {
		case <-ctx.Done():
			return
		default:
			w.log.Debug("Watch stream ended, reconnecting")
		}
	}
}

func (w *Watcher) consume(ctx context.Context, events <-chan orchestrator.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.log.Debug("Fleet change observed", "type", ev.Type, "name", ev.Name)
			w.cache.Invalidate()
		}
	}
}
