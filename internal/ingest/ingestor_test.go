package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/tgsd/internal/bus"
	"github.com/matheus3301/tgsd/internal/counter"
	"github.com/matheus3301/tgsd/internal/merger"
	"github.com/matheus3301/tgsd/internal/registry"
	"github.com/matheus3301/tgsd/internal/store"
	"github.com/matheus3301/tgsd/internal/transport"
	"go.uber.org/zap"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testCounters(t *testing.T) *counter.SQLiteStore {
	t.Helper()
	c, err := counter.OpenSQLite(filepath.Join(t.TempDir(), "counters.db"), "test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func monitorAllIngestor(t *testing.T, db *store.DB, b *bus.Bus, counters counter.Store) *Ingestor {
	t.Helper()
	reg := registry.New(db, nil, true, nil, nil)
	return New(merger.New(db, b, nil), reg, counters, b, nil)
}

func added(chatID, msgID, ts int64, text string) transport.Event {
	return transport.Event{
		Kind: transport.EventAdded,
		Message: transport.Message{
			ChatID: chatID, MessageID: msgID, SenderID: 7, Timestamp: ts, Text: text,
		},
	}
}

func TestIngestAddedThenSearchable(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	ing := monitorAllIngestor(t, db, b, nil)

	if err := ing.Ingest(added(100, 1, 1000, "hello")); err != nil {
		t.Fatal(err)
	}

	results, err := db.Search(store.SearchOptions{Terms: "hello", ChatID: 100, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Record.MessageID != 1 {
		t.Fatalf("results = %+v, want message 1", results)
	}
}

func TestIngestIdempotent(t *testing.T) {
	db := testDB(t)
	ing := monitorAllIngestor(t, db, bus.New(), nil)

	evt := added(100, 1, 1000, "hello")
	if err := ing.Ingest(evt); err != nil {
		t.Fatal(err)
	}
	if err := ing.Ingest(evt); err != nil {
		t.Fatal(err)
	}

	n, _ := db.CountRecords(100)
	if n != 1 {
		t.Errorf("records = %d, want 1 (duplicate delivery)", n)
	}
}

func TestIngestEditAndDelete(t *testing.T) {
	db := testDB(t)
	ing := monitorAllIngestor(t, db, bus.New(), nil)

	if err := ing.Ingest(added(100, 1, 1000, "hello")); err != nil {
		t.Fatal(err)
	}
	edit := transport.Event{
		Kind:    transport.EventEdited,
		Message: transport.Message{ChatID: 100, MessageID: 1, Timestamp: 2000, Text: "hello world"},
	}
	if err := ing.Ingest(edit); err != nil {
		t.Fatal(err)
	}
	results, _ := db.Search(store.SearchOptions{Terms: "world", ChatID: 100, Limit: 10})
	if len(results) != 1 {
		t.Fatalf("search 'world' = %d results, want 1", len(results))
	}

	del := transport.Event{
		Kind:    transport.EventDeleted,
		Message: transport.Message{ChatID: 100, MessageID: 1, Timestamp: 3000},
	}
	if err := ing.Ingest(del); err != nil {
		t.Fatal(err)
	}
	results, _ = db.Search(store.SearchOptions{Terms: "hello", ChatID: 100, Limit: 10})
	if len(results) != 0 {
		t.Errorf("search after delete = %d results, want 0", len(results))
	}
}

// TestIngestDeleteWithoutTimestamp delivers a deletion carrying only the
// chat and message ids, the shape most transports emit. The tombstone must
// still win over the stored row.
func TestIngestDeleteWithoutTimestamp(t *testing.T) {
	db := testDB(t)
	ing := monitorAllIngestor(t, db, bus.New(), nil)

	if err := ing.Ingest(added(100, 1, time.Now().UnixMilli(), "hello")); err != nil {
		t.Fatal(err)
	}
	del := transport.Event{
		Kind:    transport.EventDeleted,
		Message: transport.Message{ChatID: 100, MessageID: 1},
	}
	if err := ing.Ingest(del); err != nil {
		t.Fatal(err)
	}

	rec, err := db.GetRecord(100, 1)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || !rec.Deleted {
		t.Fatalf("record = %+v, want tombstone", rec)
	}
	results, _ := db.Search(store.SearchOptions{Terms: "hello", ChatID: 100, Limit: 10})
	if len(results) != 0 {
		t.Errorf("search after delete = %d results, want 0", len(results))
	}
}

func TestIngestDropsUnmonitoredChat(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	reg := registry.New(db, nil, false, nil, nil) // nothing monitored
	ing := New(merger.New(db, b, nil), reg, nil, b, nil)

	if err := ing.Ingest(added(100, 1, 1000, "hello")); err != nil {
		t.Fatal(err)
	}
	n, _ := db.CountRecords(0)
	if n != 0 {
		t.Errorf("records = %d, want 0 (unmonitored chat)", n)
	}
}

func TestIngestDropsExcludedChat(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	reg := registry.New(db, nil, true, []int64{100}, nil)
	ing := New(merger.New(db, b, nil), reg, nil, b, nil)

	if err := ing.Ingest(added(100, 1, 1000, "hello")); err != nil {
		t.Fatal(err)
	}
	if err := ing.Ingest(added(200, 1, 1000, "hello")); err != nil {
		t.Fatal(err)
	}
	if n, _ := db.CountRecords(100); n != 0 {
		t.Error("excluded chat was indexed")
	}
	if n, _ := db.CountRecords(200); n != 1 {
		t.Error("non-excluded chat was not indexed")
	}
}

func TestIngestDropsMalformedDelete(t *testing.T) {
	db := testDB(t)
	ing := monitorAllIngestor(t, db, bus.New(), nil)

	// Deletion without a chat id must be dropped, not crash, and must not
	// affect later events.
	bad := transport.Event{
		Kind:    transport.EventDeleted,
		Message: transport.Message{MessageID: 1, Timestamp: 1000},
	}
	if err := ing.Ingest(bad); err != nil {
		t.Fatalf("malformed event should be dropped silently, got %v", err)
	}
	if err := ing.Ingest(added(100, 2, 2000, "after")); err != nil {
		t.Fatal(err)
	}
	if n, _ := db.CountRecords(100); n != 1 {
		t.Error("ingestion did not continue after malformed event")
	}
}

func TestIngestCountsActivity(t *testing.T) {
	db := testDB(t)
	counters := testCounters(t)
	ing := monitorAllIngestor(t, db, bus.New(), counters)

	if err := ing.Ingest(added(100, 1, 1000, "a")); err != nil {
		t.Fatal(err)
	}
	if err := ing.Ingest(added(100, 2, 2000, "b")); err != nil {
		t.Fatal(err)
	}
	// Edits do not count as new activity.
	edit := transport.Event{
		Kind:    transport.EventEdited,
		Message: transport.Message{ChatID: 100, MessageID: 1, Timestamp: 3000, Text: "a2"},
	}
	if err := ing.Ingest(edit); err != nil {
		t.Fatal(err)
	}

	v, err := counters.Get(counter.ChatKey(counter.MessagesIndexed, 100))
	if err != nil {
		t.Fatal(err)
	}
	if v != 2 {
		t.Errorf("chat counter = %d, want 2", v)
	}
	v, _ = counters.Get(counter.UserKey(counter.MessagesIndexed, 7))
	if v != 2 {
		t.Errorf("user counter = %d, want 2", v)
	}
}

// TestIngestorBusSubscription verifies the loop processes events published
// on the bus, the transport-to-index decoupling path.
func TestIngestorBusSubscription(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	logger, _ := zap.NewDevelopment()
	reg := registry.New(db, nil, true, nil, nil)
	ing := New(merger.New(db, b, nil), reg, nil, b, logger)

	ing.Start(context.Background())
	defer ing.Stop()

	// A payload of the wrong type is dropped by the loop.
	b.Publish(bus.Event{
		Kind:      bus.KindTransportMessage,
		Timestamp: time.Now(),
		Payload:   added(100, 1, 1000, "from bus").Message,
	})
	b.Publish(bus.Event{
		Kind:      bus.KindTransportMessage,
		Timestamp: time.Now(),
		Payload:   added(100, 2, 2000, "from bus"),
	})

	time.Sleep(100 * time.Millisecond)

	// The malformed payload is dropped; the well-formed one is indexed.
	if n, _ := db.CountRecords(100); n != 1 {
		t.Errorf("records = %d, want 1", n)
	}
}
