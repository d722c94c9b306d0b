package store

import "strings"

// Search filter values.
const (
	FilterAll      = "all"
	FilterTextOnly = "text_only"
	FilterFileOnly = "file_only"
)

// SearchOptions selects and pages records for a full-text query.
type SearchOptions struct {
	Terms  string // user query terms, matched as AND of tokens
	ChatID int64  // 0 = all chats
	Filter string // FilterAll, FilterTextOnly, FilterFileOnly

	// Keyset boundary from the previous page; zero values mean first page.
	BeforeTs int64
	BeforeID int64

	Limit int

	// ExcludeWhitelisted hides records of privacy-mode chats. Set for
	// queries not scoped to a single chat.
	ExcludeWhitelisted bool
}

// Search runs a full-text/filename query ordered newest-first with stable
// keyset pagination over (timestamp, message_id). Tombstones never match.
// Records written by an older schema version are served as text-only: the
// file filter excludes them.
func (db *DB) Search(opts SearchOptions) ([]SearchResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	match := buildMatch(opts.Terms, opts.Filter)
	if match == "" {
		return nil, nil
	}

	q := `
		SELECT r.chat_id, r.message_id, r.sender_id, r.timestamp,
		       COALESCE(r.text, ''), COALESCE(r.filename, ''), r.has_file, r.schema_version,
		       snippet(records_fts, 0, '<<', '>>', '...', 32)
		FROM records_fts f
		JOIN records r ON r.rowid = f.rowid
		WHERE records_fts MATCH ?
		  AND r.deleted = 0`

	args := []any{match}
	if opts.ChatID != 0 {
		q += " AND r.chat_id = ?"
		args = append(args, opts.ChatID)
	} else if opts.ExcludeWhitelisted {
		q += " AND r.chat_id NOT IN (SELECT chat_id FROM chats WHERE whitelisted = 1)"
	}
	if opts.Filter == FilterFileOnly {
		q += " AND r.has_file = 1 AND r.schema_version >= ?"
		args = append(args, RecordSchemaVersion)
	}
	if opts.BeforeTs > 0 {
		q += " AND (r.timestamp < ? OR (r.timestamp = ? AND r.message_id < ?))"
		args = append(args, opts.BeforeTs, opts.BeforeTs, opts.BeforeID)
	}
	q += " ORDER BY r.timestamp DESC, r.message_id DESC LIMIT ?"
	args = append(args, opts.Limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Record.ChatID, &r.Record.MessageID, &r.Record.SenderID,
			&r.Record.Timestamp, &r.Record.Text, &r.Record.Filename,
			&r.Record.HasFile, &r.Record.SchemaVersion, &r.Snippet,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// buildMatch turns user terms into an FTS5 match expression. Tokens are
// quoted so FTS operators in user input cannot change query structure, and
// the filter narrows matching to the relevant column.
func buildMatch(terms, filter string) string {
	fields := strings.Fields(terms)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		quoted = append(quoted, `"`+f+`"`)
	}
	if len(quoted) == 0 {
		return ""
	}
	expr := strings.Join(quoted, " ")
	switch filter {
	case FilterTextOnly:
		return "text : (" + expr + ")"
	case FilterFileOnly:
		return "filename : (" + expr + ")"
	default:
		return expr
	}
}
