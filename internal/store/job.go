package store

import (
	"database/sql"
	"time"
)

// GetJob returns the backfill job for a chat, or nil if none exists.
func (db *DB) GetJob(chatID int64) (*Job, error) {
	var j Job
	err := db.QueryRow(`
		SELECT chat_id, job_id, cursor, floor_id, status, error
		FROM backfill_jobs WHERE chat_id = ?`, chatID).
		Scan(&j.ChatID, &j.JobID, &j.Cursor, &j.FloorID, &j.Status, &j.Error)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// PutJob inserts or replaces the job row for a chat. One job per chat;
// the caller enforces the single-active-job rule before overwriting.
func (db *DB) PutJob(j *Job) error {
	_, err := db.Exec(`
		INSERT INTO backfill_jobs (chat_id, job_id, cursor, floor_id, status, error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			job_id = excluded.job_id,
			cursor = excluded.cursor,
			floor_id = excluded.floor_id,
			status = excluded.status,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		j.ChatID, j.JobID, j.Cursor, j.FloorID, j.Status, j.Error, time.Now().UnixMilli())
	return err
}

// AdvanceCursor moves the job cursor after a successful commit and keeps
// the job running. The cursor only ever moves downward (older ids).
func (db *DB) AdvanceCursor(chatID, cursor int64) error {
	_, err := db.Exec(`
		UPDATE backfill_jobs
		SET cursor = ?, updated_at = ?
		WHERE chat_id = ? AND (cursor = 0 OR ? < cursor)`,
		cursor, time.Now().UnixMilli(), chatID, cursor)
	return err
}

// SetJobStatus updates status and error text for a chat's job.
func (db *DB) SetJobStatus(chatID int64, status, errMsg string) error {
	_, err := db.Exec(`
		UPDATE backfill_jobs SET status = ?, error = ?, updated_at = ? WHERE chat_id = ?`,
		status, errMsg, time.Now().UnixMilli(), chatID)
	return err
}

// ListJobs returns all persisted jobs ordered by chat id.
func (db *DB) ListJobs() ([]Job, error) {
	rows, err := db.Query(`
		SELECT chat_id, job_id, cursor, floor_id, status, error
		FROM backfill_jobs ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ChatID, &j.JobID, &j.Cursor, &j.FloorID, &j.Status, &j.Error); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ResetJobs deletes every job row. Used when the record schema version
// advances and history has to be re-walked.
func (db *DB) ResetJobs() error {
	_, err := db.Exec(`DELETE FROM backfill_jobs`)
	return err
}
