package store

import (
	"database/sql"
	"time"
)

// UpsertLive applies a live add/edit to the index. The write wins over an
// existing row at an equal or older timestamp, so a live event always beats
// a backfill row carrying the same timestamp, and an out-of-order stale
// event never clobbers a newer row. Idempotent.
func (db *DB) UpsertLive(r *Record) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO records (chat_id, message_id, sender_id, timestamp, text, filename, has_file, deleted, schema_version, updated_at)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, 0, ?, ?)
		ON CONFLICT(chat_id, message_id) DO UPDATE SET
			sender_id = excluded.sender_id,
			timestamp = excluded.timestamp,
			text = excluded.text,
			filename = excluded.filename,
			has_file = excluded.has_file,
			deleted = 0,
			schema_version = excluded.schema_version,
			updated_at = excluded.updated_at
		WHERE excluded.timestamp >= records.timestamp`,
		r.ChatID, r.MessageID, r.SenderID, r.Timestamp, r.Text, r.Filename, r.HasFile, RecordSchemaVersion, now)
	return err
}

// DeleteRecord tombstones a record at the given event timestamp. The row is
// kept with deleted=1 and its content cleared so an in-flight backfill
// batch carrying the old content cannot resurrect the message. Deleting a
// message that was never indexed still writes a tombstone.
func (db *DB) DeleteRecord(chatID, messageID, eventTs int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO records (chat_id, message_id, sender_id, timestamp, text, filename, has_file, deleted, schema_version, updated_at)
		VALUES (?, ?, 0, ?, NULL, NULL, 0, 1, ?, ?)
		ON CONFLICT(chat_id, message_id) DO UPDATE SET
			timestamp = excluded.timestamp,
			text = NULL,
			filename = NULL,
			has_file = 0,
			deleted = 1,
			updated_at = excluded.updated_at
		WHERE excluded.timestamp >= records.timestamp`,
		chatID, messageID, eventTs, RecordSchemaVersion, now)
	return err
}

// UpsertBatch commits a backfill buffer in one transaction. Each row is
// applied only if the store holds nothing newer for that (chat, message):
// the guard is strictly-newer, so a live event committed at the same
// timestamp during the walk is preserved. Returns the number of rows the
// guard let through.
func (db *DB) UpsertBatch(records []Record) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO records (chat_id, message_id, sender_id, timestamp, text, filename, has_file, deleted, schema_version, updated_at)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, 0, ?, ?)
		ON CONFLICT(chat_id, message_id) DO UPDATE SET
			sender_id = excluded.sender_id,
			timestamp = excluded.timestamp,
			text = excluded.text,
			filename = excluded.filename,
			has_file = excluded.has_file,
			deleted = 0,
			schema_version = excluded.schema_version,
			updated_at = excluded.updated_at
		WHERE excluded.timestamp > records.timestamp`)
	if err != nil {
		return 0, err
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UnixMilli()
	applied := 0
	for _, r := range records {
		res, err := stmt.Exec(r.ChatID, r.MessageID, r.SenderID, r.Timestamp, r.Text, r.Filename, r.HasFile, RecordSchemaVersion, now)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			applied++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return applied, nil
}

// GetRecord returns a single record including tombstones, or nil if the
// (chat, message) pair was never seen.
func (db *DB) GetRecord(chatID, messageID int64) (*Record, error) {
	var r Record
	err := db.QueryRow(`
		SELECT chat_id, message_id, sender_id, timestamp, COALESCE(text, ''), COALESCE(filename, ''), has_file, deleted, schema_version
		FROM records
		WHERE chat_id = ? AND message_id = ?`, chatID, messageID).
		Scan(&r.ChatID, &r.MessageID, &r.SenderID, &r.Timestamp, &r.Text, &r.Filename, &r.HasFile, &r.Deleted, &r.SchemaVersion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CountRecords returns the number of live (non-tombstone) records for a
// chat, or for the whole index when chatID is zero.
func (db *DB) CountRecords(chatID int64) (int64, error) {
	var n int64
	var err error
	if chatID != 0 {
		err = db.QueryRow(`SELECT COUNT(*) FROM records WHERE deleted = 0 AND chat_id = ?`, chatID).Scan(&n)
	} else {
		err = db.QueryRow(`SELECT COUNT(*) FROM records WHERE deleted = 0`).Scan(&n)
	}
	return n, err
}

// ClearChat removes all records and the backfill job for a chat.
func (db *DB) ClearChat(chatID int64) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`DELETE FROM records WHERE chat_id = ?`, chatID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM backfill_jobs WHERE chat_id = ?`, chatID); err != nil {
		return err
	}
	return tx.Commit()
}

// ClearAll wipes records, jobs and chat registrations.
func (db *DB) ClearAll() error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, q := range []string{
		`DELETE FROM records`,
		`DELETE FROM backfill_jobs`,
		`DELETE FROM chats`,
	} {
		if _, err := tx.Exec(q); err != nil {
			return err
		}
	}
	return tx.Commit()
}
