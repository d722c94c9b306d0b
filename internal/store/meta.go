package store

import (
	"database/sql"
	"strconv"
)

const metaSchemaKey = "record_schema_version"

// SchemaVersion returns the record format version the index was last
// written with. Zero means the key was never set (fresh db).
func (db *DB) SchemaVersion() (int, error) {
	var v string
	err := db.QueryRow(`SELECT value FROM meta WHERE key = ?`, metaSchemaKey).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

// EnsureSchemaVersion reconciles the stored record schema version with the
// version this build writes. If the stored version is older, every backfill
// job is reset so history gets re-walked in the new format; existing old
// records stay queryable with degraded semantics until rewritten.
// Returns the previously stored version and whether an upgrade happened.
func (db *DB) EnsureSchemaVersion() (stored int, upgraded bool, err error) {
	stored, err = db.SchemaVersion()
	if err != nil {
		return 0, false, err
	}
	if stored >= RecordSchemaVersion {
		return stored, false, nil
	}
	if stored > 0 {
		if err := db.ResetJobs(); err != nil {
			return stored, false, err
		}
		upgraded = true
	}
	_, err = db.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		metaSchemaKey, strconv.Itoa(RecordSchemaVersion))
	if err != nil {
		return stored, false, err
	}
	return stored, upgraded, nil
}
