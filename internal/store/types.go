package store

// RecordSchemaVersion is the format version stamped on every record this
// build writes. Records stamped with an older version are served with
// degraded semantics (treated as text-only, no file) until a re-backfill
// rewrites them.
const RecordSchemaVersion = 2

// Record is one indexed message, keyed by (chat_id, message_id).
// A deleted record stays in the table as a tombstone so a later backfill
// cannot resurrect it.
type Record struct {
	ChatID        int64
	MessageID     int64
	SenderID      int64
	Timestamp     int64 // unix milliseconds of the message event
	Text          string
	Filename      string
	HasFile       bool
	Deleted       bool
	SchemaVersion int
}

// Chat is a registered conversation.
type Chat struct {
	ChatID      int64
	Name        string
	Monitored   bool
	Whitelisted bool
}

// Job status values.
const (
	JobPending  = "pending"
	JobRunning  = "running"
	JobComplete = "complete"
	JobFailed   = "failed"
)

// Job is a persisted backfill job. Cursor is the oldest message id
// successfully committed; zero means nothing committed yet.
type Job struct {
	ChatID  int64
	JobID   string
	Cursor  int64
	FloorID int64
	Status  string
	Error   string
}

// SearchResult holds a record with a match snippet.
type SearchResult struct {
	Record  Record
	Snippet string
}

// ChatCount is a per-chat record count, used by the status report.
type ChatCount struct {
	ChatID int64
	Name   string
	Count  int64
}
