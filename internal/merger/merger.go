// Package merger serializes index mutations per chat. Live events and
// backfill batch commits for the same chat go through the same lock, so
// the store never observes an interleaving that violates recency. The lock
// is held only across the mutation, never across network fetches.
package merger

import (
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/tgsd/internal/bus"
	"github.com/matheus3301/tgsd/internal/store"
	"go.uber.org/zap"
)

// Merger is the single writer authority over Index Store mutations.
type Merger struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// New creates a merger over the given store.
func New(db *store.DB, b *bus.Bus, logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merger{
		db:     db,
		bus:    b,
		logger: logger,
		locks:  make(map[int64]*sync.Mutex),
	}
}

func (m *Merger) chatLock(chatID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[chatID] = l
	}
	return l
}

// ApplyUpsert applies a live add/edit. Ties on timestamp go to this write.
func (m *Merger) ApplyUpsert(r *store.Record) error {
	l := m.chatLock(r.ChatID)
	l.Lock()
	defer l.Unlock()

	if err := m.db.UpsertLive(r); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	m.publish(bus.KindIndexUpserted, r.ChatID, r.MessageID)
	return nil
}

// ApplyDelete tombstones a record at the event timestamp.
func (m *Merger) ApplyDelete(chatID, messageID, eventTs int64) error {
	l := m.chatLock(chatID)
	l.Lock()
	defer l.Unlock()

	if err := m.db.DeleteRecord(chatID, messageID, eventTs); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	m.publish(bus.KindIndexDeleted, chatID, messageID)
	return nil
}

// CommitBatch commits a backfill buffer under the chat's writer lock.
// Rows already superseded by newer live writes are skipped by the store's
// strictly-newer guard. Returns how many rows were applied.
func (m *Merger) CommitBatch(chatID int64, records []store.Record) (int, error) {
	for _, r := range records {
		if r.ChatID != chatID {
			return 0, fmt.Errorf("batch for chat %d contains record of chat %d", chatID, r.ChatID)
		}
	}

	l := m.chatLock(chatID)
	l.Lock()
	defer l.Unlock()

	applied, err := m.db.UpsertBatch(records)
	if err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	m.logger.Info("batch committed",
		zap.Int64("chat_id", chatID),
		zap.Int("buffered", len(records)),
		zap.Int("applied", applied))
	return applied, nil
}

func (m *Merger) publish(kind string, chatID, messageID int64) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload: Mutation{
			ChatID:    chatID,
			MessageID: messageID,
		},
	})
}

// Mutation is the payload for index mutation events.
type Mutation struct {
	ChatID    int64
	MessageID int64
}
