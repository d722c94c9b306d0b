// Package query executes filtered search queries against the index store
// and paginates results with an opaque keyset cursor.
package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/matheus3301/tgsd/internal/counter"
	"github.com/matheus3301/tgsd/internal/store"
	"go.uber.org/zap"
)

// Query is one search request. Ephemeral, never persisted.
type Query struct {
	Terms  string
	ChatID int64  // 0 = all monitored chats
	Filter string // store.FilterAll, FilterTextOnly, FilterFileOnly
	Cursor string // opaque token from a previous Page, empty = first page
	Limit  int    // 0 = engine default
}

// Page is one result page. Next is the cursor for the following page,
// empty when the results are exhausted.
type Page struct {
	Results []store.SearchResult
	Next    string
}

// Engine runs queries.
type Engine struct {
	db       *store.DB
	counters counter.Store
	pageLen  int
	logger   *zap.Logger
}

// New creates a query engine. counters may be nil.
func New(db *store.DB, counters counter.Store, pageLen int, logger *zap.Logger) *Engine {
	if pageLen <= 0 {
		pageLen = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{db: db, counters: counters, pageLen: pageLen, logger: logger}
}

// Search executes a query. Queries not scoped to a single chat never see
// records of privacy-mode (whitelisted) chats.
func (e *Engine) Search(q Query) (*Page, error) {
	if strings.TrimSpace(q.Terms) == "" {
		return nil, fmt.Errorf("empty query")
	}
	filter := q.Filter
	if filter == "" {
		filter = store.FilterAll
	}
	limit := q.Limit
	if limit <= 0 {
		limit = e.pageLen
	}

	beforeTs, beforeID, err := decodeCursor(q.Cursor)
	if err != nil {
		return nil, err
	}

	results, err := e.db.Search(store.SearchOptions{
		Terms:              q.Terms,
		ChatID:             q.ChatID,
		Filter:             filter,
		BeforeTs:           beforeTs,
		BeforeID:           beforeID,
		Limit:              limit,
		ExcludeWhitelisted: q.ChatID == 0,
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	if e.counters != nil && q.Cursor == "" {
		if err := e.counters.Incr(counter.SearchesMade, 1); err != nil {
			e.logger.Warn("counter increment failed", zap.Error(err))
		}
	}

	page := &Page{Results: results}
	if len(results) == limit {
		last := results[len(results)-1].Record
		page.Next = encodeCursor(last.Timestamp, last.MessageID)
	}
	return page, nil
}

// encodeCursor renders the keyset boundary as "timestamp:message_id".
func encodeCursor(ts, msgID int64) string {
	return strconv.FormatInt(ts, 10) + ":" + strconv.FormatInt(msgID, 10)
}

func decodeCursor(token string) (ts, msgID int64, err error) {
	if token == "" {
		return 0, 0, nil
	}
	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid page token %q", token)
	}
	ts, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid page token %q", token)
	}
	msgID, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid page token %q", token)
	}
	return ts, msgID, nil
}
