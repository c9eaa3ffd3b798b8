// Package poller is the consumer side of the service queues: on a fixed
// interval it drains every source and hands the events to the local hub and
// the bus exporter.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/webitel/im-mqtt-chat/internal/adapter/pubsub"
	"github.com/webitel/im-mqtt-chat/internal/domain/registry"
	"github.com/webitel/im-mqtt-chat/internal/service"
)

const DefaultInterval = 100 * time.Millisecond

type Poller struct {
	sources  []service.EventSource
	hub      registry.Hubber
	exporter pubsub.EventDispatcher // nil disables export
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(hub registry.Hubber, exporter pubsub.EventDispatcher, interval time.Duration, logger *slog.Logger, sources ...service.EventSource) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		sources:  sources,
		hub:      hub,
		exporter: exporter,
		interval: interval,
		logger:   logger,
	}
}

// Tick drains every source once, in order, and returns how many events moved.
func (p *Poller) Tick(ctx context.Context) int {
	n := 0
	for _, src := range p.sources {
		for _, ev := range src.PollAllEvents() {
			n++
			// export first: the fan-out reuses the frame it caches
			if p.exporter != nil {
				if err := p.exporter.Publish(ctx, ev); err != nil {
					p.logger.Warn("EVENT_EXPORT_FAILED", "event", ev.GetKind(), "event_id", ev.GetID(), "err", err)
				}
			}
			if !p.hub.Broadcast(ev) {
				p.logger.Warn("EVENT_FANOUT_DROPPED", "event", ev.GetKind(), "user_id", ev.GetUserID())
			}
		}
	}
	return n
}

// Run ticks until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// last drain so nothing queued before shutdown is lost
			p.Tick(context.Background())
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

func (p *Poller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.Run(ctx)
	}()
	p.logger.Info("POLLER_STARTED", "interval", p.interval, "sources", len(p.sources))
}

func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}
