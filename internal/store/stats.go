package store

import "database/sql"

// RandomRecord returns one random live record, or nil on an empty index.
func (db *DB) RandomRecord(excludeWhitelisted bool) (*Record, error) {
	q := `
		SELECT chat_id, message_id, sender_id, timestamp, COALESCE(text, ''), COALESCE(filename, ''), has_file, schema_version
		FROM records WHERE deleted = 0`
	if excludeWhitelisted {
		q += ` AND chat_id NOT IN (SELECT chat_id FROM chats WHERE whitelisted = 1)`
	}
	q += ` ORDER BY RANDOM() LIMIT 1`

	var r Record
	err := db.QueryRow(q).Scan(
		&r.ChatID, &r.MessageID, &r.SenderID, &r.Timestamp,
		&r.Text, &r.Filename, &r.HasFile, &r.SchemaVersion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ChatCounts returns live record counts per chat with cached names,
// largest first. Used by the status report.
func (db *DB) ChatCounts() ([]ChatCount, error) {
	rows, err := db.Query(`
		SELECT r.chat_id, COALESCE(c.name, ''), COUNT(*)
		FROM records r
		LEFT JOIN chats c ON c.chat_id = r.chat_id
		WHERE r.deleted = 0
		GROUP BY r.chat_id
		ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var counts []ChatCount
	for rows.Next() {
		var c ChatCount
		if err := rows.Scan(&c.ChatID, &c.Name, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// NewestRecord returns the most recent live record for a chat, or nil.
func (db *DB) NewestRecord(chatID int64) (*Record, error) {
	var r Record
	err := db.QueryRow(`
		SELECT chat_id, message_id, sender_id, timestamp, COALESCE(text, ''), COALESCE(filename, ''), has_file, schema_version
		FROM records
		WHERE deleted = 0 AND chat_id = ?
		ORDER BY timestamp DESC, message_id DESC
		LIMIT 1`, chatID).Scan(
		&r.ChatID, &r.MessageID, &r.SenderID, &r.Timestamp,
		&r.Text, &r.Filename, &r.HasFile, &r.SchemaVersion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
