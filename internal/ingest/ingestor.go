// Package ingest consumes live transport events from the bus and turns
// them into index mutations through the merger.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/tgsd/internal/bus"
	"github.com/matheus3301/tgsd/internal/counter"
	"github.com/matheus3301/tgsd/internal/merger"
	"github.com/matheus3301/tgsd/internal/registry"
	"github.com/matheus3301/tgsd/internal/store"
	"github.com/matheus3301/tgsd/internal/transport"
	"go.uber.org/zap"
)

// Ingestor subscribes to "transport.*" events and applies them. Events for
// unmonitored chats are dropped before any further processing; malformed
// events are logged and dropped, never crash the loop.
type Ingestor struct {
	merger   *merger.Merger
	reg      *registry.Registry
	counters counter.Store
	bus      *bus.Bus
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// New creates an ingestor. counters may be nil when no counter store is
// configured; indexing proceeds without usage accounting.
func New(m *merger.Merger, reg *registry.Registry, counters counter.Store, b *bus.Bus, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		merger:   m,
		reg:      reg,
		counters: counters,
		bus:      b,
		logger:   logger,
	}
}

// Start subscribes to live transport events on the bus.
func (i *Ingestor) Start(ctx context.Context) {
	ctx, i.cancel = context.WithCancel(ctx)
	ch, unsub := i.bus.Subscribe("transport.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				i.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the ingest loop.
func (i *Ingestor) Stop() {
	if i.cancel != nil {
		i.cancel()
	}
}

func (i *Ingestor) handleEvent(evt bus.Event) {
	te, ok := evt.Payload.(transport.Event)
	if !ok {
		i.logger.Warn("dropping malformed transport event", zap.String("kind", evt.Kind))
		return
	}
	if err := i.Ingest(te); err != nil {
		i.logger.Error("failed to ingest event",
			zap.String("event", string(te.Kind)),
			zap.Int64("chat_id", te.Message.ChatID),
			zap.Int64("message_id", te.Message.MessageID),
			zap.Error(err))
	}
}

// Ingest applies one live event. Monitoring and privacy checks key on the
// exact chat id carried by the event; the sender id is never a substitute.
func (i *Ingestor) Ingest(evt transport.Event) error {
	msg := evt.Message
	if msg.ChatID == 0 {
		// A deletion whose chat could not be determined, or similar.
		i.logger.Warn("dropping event without chat id", zap.String("event", string(evt.Kind)))
		return nil
	}
	if !i.reg.IsMonitored(msg.ChatID) {
		return nil
	}

	switch evt.Kind {
	case transport.EventAdded, transport.EventEdited:
		rec := &store.Record{
			ChatID:    msg.ChatID,
			MessageID: msg.MessageID,
			SenderID:  msg.SenderID,
			Timestamp: msg.Timestamp,
			Text:      msg.Text,
			Filename:  msg.Filename,
			HasFile:   msg.HasFile,
		}
		if err := i.merger.ApplyUpsert(rec); err != nil {
			return err
		}
		if evt.Kind == transport.EventAdded {
			i.count(msg.ChatID, msg.SenderID)
		}
		return nil
	case transport.EventDeleted:
		ts := msg.Timestamp
		if ts == 0 {
			// Deletions often carry no timestamp, only ids. Stamp the
			// arrival time so the tombstone outranks the stored row and
			// any in-flight backfill batch.
			ts = time.Now().UnixMilli()
		}
		return i.merger.ApplyDelete(msg.ChatID, msg.MessageID, ts)
	default:
		return fmt.Errorf("unknown event kind %q", evt.Kind)
	}
}

func (i *Ingestor) count(chatID, senderID int64) {
	if i.counters == nil {
		return
	}
	if err := i.counters.Incr(counter.ChatKey(counter.MessagesIndexed, chatID), 1); err != nil {
		i.logger.Warn("counter increment failed", zap.Error(err))
		return
	}
	if senderID != 0 {
		if err := i.counters.Incr(counter.UserKey(counter.MessagesIndexed, senderID), 1); err != nil {
			i.logger.Warn("counter increment failed", zap.Error(err))
		}
	}
}
