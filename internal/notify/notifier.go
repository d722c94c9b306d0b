// Package notify delivers backfill progress and results to the configured
// report chats, throttled so the status channel itself never triggers
// flood control.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/tgsd/internal/backfill"
	"github.com/matheus3301/tgsd/internal/bus"
	"github.com/matheus3301/tgsd/internal/registry"
	"github.com/matheus3301/tgsd/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Notifier subscribes to job events and forwards them as status messages.
// Progress updates are rate limited per target; terminal results always go
// out. A flood wait on the status channel postpones delivery, it never
// affects the backfill walk.
type Notifier struct {
	client   transport.Client
	bus      *bus.Bus
	reg      *registry.Registry
	targets  []int64
	interval time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc

	mu         sync.Mutex
	limiters   map[int64]*rate.Limiter
	floodUntil map[int64]time.Time
}

// New creates a notifier reporting to the given chat ids.
func New(client transport.Client, b *bus.Bus, reg *registry.Registry, targets []int64, interval time.Duration, logger *zap.Logger) *Notifier {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		client:     client,
		bus:        b,
		reg:        reg,
		targets:    targets,
		interval:   interval,
		logger:     logger,
		limiters:   make(map[int64]*rate.Limiter),
		floodUntil: make(map[int64]time.Time),
	}
}

// Start subscribes to job events on the bus.
func (n *Notifier) Start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)
	ch, unsub := n.bus.Subscribe("job.", 64)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				n.handle(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the notifier loop.
func (n *Notifier) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
}

func (n *Notifier) handle(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindJobProgress:
		p, ok := evt.Payload.(backfill.Progress)
		if !ok {
			return
		}
		text := fmt.Sprintf("indexing %s: %d messages buffered, at id %d",
			n.reg.Name(p.ChatID), p.Buffered, p.Cursor)
		n.broadcast(ctx, text, true)
	case bus.KindJobDone:
		r, ok := evt.Payload.(backfill.Result)
		if !ok {
			return
		}
		text := fmt.Sprintf("backfill of %s finished: %d messages indexed",
			n.reg.Name(r.ChatID), r.Indexed)
		n.broadcast(ctx, text, false)
	case bus.KindJobFailed:
		r, ok := evt.Payload.(backfill.Result)
		if !ok {
			return
		}
		text := fmt.Sprintf("backfill of %s failed: %s", n.reg.Name(r.ChatID), r.Err)
		n.broadcast(ctx, text, false)
	}
}

// broadcast sends text to every target. Throttled messages are dropped;
// the next progress event carries fresher numbers anyway.
func (n *Notifier) broadcast(ctx context.Context, text string, throttled bool) {
	for _, target := range n.targets {
		if throttled && !n.allow(target) {
			continue
		}
		n.send(ctx, target, text, !throttled)
	}
}

func (n *Notifier) allow(target int64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if time.Now().Before(n.floodUntil[target]) {
		return false
	}
	lim, ok := n.limiters[target]
	if !ok {
		lim = rate.NewLimiter(rate.Every(n.interval), 1)
		n.limiters[target] = lim
	}
	return lim.Allow()
}

// send delivers one message. On flood wait, terminal results sleep exactly
// the required duration and retry; progress updates just push the next
// allowed delivery time forward.
func (n *Notifier) send(ctx context.Context, target int64, text string, retryOnFlood bool) {
	for {
		err := n.client.SendStatus(ctx, target, text)
		if err == nil {
			return
		}
		if fw, ok := transport.AsFloodWait(err); ok {
			n.mu.Lock()
			n.floodUntil[target] = time.Now().Add(fw.Wait)
			n.mu.Unlock()
			if !retryOnFlood {
				return
			}
			select {
			case <-time.After(fw.Wait):
				continue
			case <-ctx.Done():
				return
			}
		}
		n.logger.Warn("status delivery failed", zap.Int64("target", target), zap.Error(err))
		return
	}
}
