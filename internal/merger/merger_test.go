package merger

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/tgsd/internal/bus"
	"github.com/matheus3301/tgsd/internal/store"
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

func TestApplyUpsertPublishesEvent(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	m := New(db, b, nil)

	ch, unsub := b.Subscribe("index.", 10)
	defer unsub()

	if err := m.ApplyUpsert(&store.Record{ChatID: 100, MessageID: 1, Timestamp: 1000, Text: "hello"}); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindIndexUpserted {
			t.Errorf("kind = %q, want %q", evt.Kind, bus.KindIndexUpserted)
		}
		mut, ok := evt.Payload.(Mutation)
		if !ok || mut.ChatID != 100 || mut.MessageID != 1 {
			t.Errorf("payload = %+v, want chat 100 message 1", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for index.upserted event")
	}
}

func TestApplyDeleteTombstones(t *testing.T) {
	db := testDB(t)
	m := New(db, bus.New(), nil)

	if err := m.ApplyUpsert(&store.Record{ChatID: 100, MessageID: 1, Timestamp: 1000, Text: "hello"}); err != nil {
		t.Fatal(err)
	}
	if err := m.ApplyDelete(100, 1, 2000); err != nil {
		t.Fatal(err)
	}

	r, err := db.GetRecord(100, 1)
	if err != nil {
		t.Fatal(err)
	}
	if r == nil || !r.Deleted {
		t.Fatalf("record = %+v, want tombstone", r)
	}
}

func TestCommitBatchRejectsForeignChat(t *testing.T) {
	m := New(testDB(t), bus.New(), nil)

	_, err := m.CommitBatch(100, []store.Record{
		{ChatID: 100, MessageID: 1, Timestamp: 1},
		{ChatID: 200, MessageID: 2, Timestamp: 2},
	})
	if err == nil {
		t.Fatal("CommitBatch should reject a batch spanning chats")
	}
}

// TestConvergenceUnderInterleaving drives live events and a batch commit
// concurrently over overlapping message ids. Whatever the interleaving,
// the final record per message must carry the latest timestamp.
func TestConvergenceUnderInterleaving(t *testing.T) {
	db := testDB(t)
	m := New(db, bus.New(), nil)

	// Historical batch: messages 1..20 at ts=100*id.
	var batch []store.Record
	for i := int64(1); i <= 20; i++ {
		batch = append(batch, store.Record{ChatID: 100, MessageID: i, Timestamp: i * 100, Text: "historical"})
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := m.CommitBatch(100, batch); err != nil {
			t.Error(err)
		}
	}()
	go func() {
		defer wg.Done()
		// Live edits to even ids, strictly newer than the batch rows.
		for i := int64(2); i <= 20; i += 2 {
			if err := m.ApplyUpsert(&store.Record{ChatID: 100, MessageID: i, Timestamp: i*100 + 1, Text: "live"}); err != nil {
				t.Error(err)
			}
		}
	}()
	wg.Wait()

	for i := int64(1); i <= 20; i++ {
		r, err := db.GetRecord(100, i)
		if err != nil {
			t.Fatal(err)
		}
		want := "historical"
		if i%2 == 0 {
			want = "live"
		}
		if r == nil || r.Text != want {
			t.Errorf("message %d = %+v, want text %q", i, r, want)
		}
	}
}

// TestLiveDeleteDuringBatchCommit covers a delete arriving while the
// batch still carries the message's old content.
func TestLiveDeleteDuringBatchCommit(t *testing.T) {
	db := testDB(t)
	m := New(db, bus.New(), nil)

	if err := m.ApplyDelete(100, 5, 2000); err != nil {
		t.Fatal(err)
	}
	if _, err := m.CommitBatch(100, []store.Record{
		{ChatID: 100, MessageID: 5, Timestamp: 500, Text: "stale"},
	}); err != nil {
		t.Fatal(err)
	}

	r, _ := db.GetRecord(100, 5)
	if !r.Deleted {
		t.Error("batch commit resurrected a deleted message")
	}
}

func TestPrivacyIsolationAcrossChats(t *testing.T) {
	db := testDB(t)
	m := New(db, bus.New(), nil)

	if err := m.ApplyUpsert(&store.Record{ChatID: 1, MessageID: 10, Timestamp: 1000, Text: "chat one secret"}); err != nil {
		t.Fatal(err)
	}
	if err := m.ApplyUpsert(&store.Record{ChatID: 2, MessageID: 10, Timestamp: 1000, Text: "chat two note"}); err != nil {
		t.Fatal(err)
	}

	results, err := db.Search(store.SearchOptions{Terms: "secret", ChatID: 2, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("chat 2 query returned chat 1 content: %+v", results)
	}

	// Delete in chat 1 must not touch chat 2's message 10.
	if err := m.ApplyDelete(1, 10, 3000); err != nil {
		t.Fatal(err)
	}
	r, _ := db.GetRecord(2, 10)
	if r == nil || r.Deleted {
		t.Error("delete leaked across chats")
	}
}
