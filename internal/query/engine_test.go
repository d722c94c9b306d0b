package query

import (
	"path/filepath"
	"testing"

	"github.com/matheus3301/tgsd/internal/counter"
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

func seed(t *testing.T, db *store.DB, n int64) {
	t.Helper()
	for i := int64(1); i <= n; i++ {
		if err := db.UpsertLive(&store.Record{ChatID: 100, MessageID: i, Timestamp: i * 100, Text: "needle"}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSearchPagesThrough(t *testing.T) {
	db := testDB(t)
	seed(t, db, 5)
	e := New(db, nil, 2, nil)

	var got []int64
	cursor := ""
	for {
		page, err := e.Search(Query{Terms: "needle", ChatID: 100, Cursor: cursor})
		if err != nil {
			t.Fatal(err)
		}
		for _, r := range page.Results {
			got = append(got, r.Record.MessageID)
		}
		if page.Next == "" {
			break
		}
		cursor = page.Next
	}

	want := []int64{5, 4, 3, 2, 1}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v (newest first, no skips)", got, want)
		}
	}
}

func TestSearchPaginationStableUnderInserts(t *testing.T) {
	db := testDB(t)
	seed(t, db, 4)
	e := New(db, nil, 2, nil)

	page1, err := e.Search(Query{Terms: "needle", ChatID: 100})
	if err != nil {
		t.Fatal(err)
	}
	if len(page1.Results) != 2 || page1.Next == "" {
		t.Fatalf("page1 = %+v, want 2 results and a next token", page1)
	}

	// New matching record arrives between pages.
	if err := db.UpsertLive(&store.Record{ChatID: 100, MessageID: 9, Timestamp: 900, Text: "needle"}); err != nil {
		t.Fatal(err)
	}

	page2, err := e.Search(Query{Terms: "needle", ChatID: 100, Cursor: page1.Next})
	if err != nil {
		t.Fatal(err)
	}
	if len(page2.Results) != 2 {
		t.Fatalf("page2 = %d results, want 2", len(page2.Results))
	}
	if page2.Results[0].Record.MessageID != 2 || page2.Results[1].Record.MessageID != 1 {
		t.Errorf("page2 ids = %d,%d want 2,1 (insert must not shift pages)",
			page2.Results[0].Record.MessageID, page2.Results[1].Record.MessageID)
	}
}

func TestSearchInvalidCursor(t *testing.T) {
	e := New(testDB(t), nil, 2, nil)
	for _, token := range []string{"junk", "1:", ":2", "a:b"} {
		if _, err := e.Search(Query{Terms: "x", Cursor: token}); err == nil {
			t.Errorf("Search with cursor %q should fail", token)
		}
	}
}

func TestSearchEmptyQueryRejected(t *testing.T) {
	e := New(testDB(t), nil, 2, nil)
	if _, err := e.Search(Query{Terms: "   "}); err == nil {
		t.Error("empty query should fail")
	}
}

func TestSearchCountsOncePerQuery(t *testing.T) {
	db := testDB(t)
	seed(t, db, 5)
	counters, err := counter.OpenSQLite(filepath.Join(t.TempDir(), "c.db"), "test")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = counters.Close() }()
	e := New(db, counters, 2, nil)

	page, err := e.Search(Query{Terms: "needle", ChatID: 100})
	if err != nil {
		t.Fatal(err)
	}
	// Follow-up pages of the same query are not new searches.
	if _, err := e.Search(Query{Terms: "needle", ChatID: 100, Cursor: page.Next}); err != nil {
		t.Fatal(err)
	}

	v, _ := counters.Get(counter.SearchesMade)
	if v != 1 {
		t.Errorf("searches counter = %d, want 1", v)
	}
}

func TestSearchGlobalHidesWhitelisted(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertChat(&store.Chat{ChatID: 300, Monitored: true, Whitelisted: true}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertLive(&store.Record{ChatID: 300, MessageID: 1, Timestamp: 100, Text: "needle"}); err != nil {
		t.Fatal(err)
	}

	e := New(db, nil, 10, nil)
	page, err := e.Search(Query{Terms: "needle"})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Results) != 0 {
		t.Errorf("global search returned whitelisted chat records: %+v", page.Results)
	}

	scoped, err := e.Search(Query{Terms: "needle", ChatID: 300})
	if err != nil {
		t.Fatal(err)
	}
	if len(scoped.Results) != 1 {
		t.Errorf("scoped search = %d results, want 1", len(scoped.Results))
	}
}
