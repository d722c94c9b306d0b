package store

import (
	"database/sql"
	"time"
)

// UpsertChat inserts or updates a chat registration.
func (db *DB) UpsertChat(c *Chat) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (chat_id, name, monitored, whitelisted, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			name = excluded.name,
			monitored = excluded.monitored,
			whitelisted = excluded.whitelisted,
			updated_at = excluded.updated_at`,
		c.ChatID, c.Name, c.Monitored, c.Whitelisted, now)
	return err
}

// RenameChat updates only the cached display name, leaving flags intact.
// No-op for unknown chats.
func (db *DB) RenameChat(chatID int64, name string) error {
	_, err := db.Exec(`UPDATE chats SET name = ?, updated_at = ? WHERE chat_id = ?`,
		name, time.Now().UnixMilli(), chatID)
	return err
}

// ListChats returns all registered chats ordered by id.
func (db *DB) ListChats() ([]Chat, error) {
	rows, err := db.Query(`SELECT chat_id, name, monitored, whitelisted FROM chats ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ChatID, &c.Name, &c.Monitored, &c.Whitelisted); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat returns a single chat by id, or nil if not registered.
func (db *DB) GetChat(chatID int64) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`SELECT chat_id, name, monitored, whitelisted FROM chats WHERE chat_id = ?`, chatID).
		Scan(&c.ChatID, &c.Name, &c.Monitored, &c.Whitelisted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
