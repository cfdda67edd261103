// Package store is the Persistence Store (§4.1): durable downloads,
// segments, batches, settings, and rules tables backed by
// modernc.org/sqlite, grounded on the same database/sql + sqlite
// pairing the teacher uses for its Chrome cookie importer
// (internal/cookies/chrome.go).
package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"

	_ "modernc.org/sqlite"
)

// SettingsTokenKey is the settings row holding the generated local API
// token (§4.1: "the local API token is generated on first run if
// absent and retained thereafter; it is the only secret in the store").
const SettingsTokenKey = "local_api_token"

const schema = `
CREATE TABLE IF NOT EXISTS downloads (
	id               TEXT PRIMARY KEY,
	original_url     TEXT NOT NULL,
	resolved_url     TEXT NOT NULL,
	dest_dir         TEXT NOT NULL,
	forced_proxy     TEXT NOT NULL DEFAULT '',
	batch_id         TEXT NOT NULL DEFAULT '',
	content_length   INTEGER NOT NULL DEFAULT -1,
	etag             TEXT NOT NULL DEFAULT '',
	last_modified    TEXT NOT NULL DEFAULT '',
	supports_ranges  TEXT NOT NULL DEFAULT 'unknown',
	mirror_used      TEXT NOT NULL DEFAULT '',
	temp_path        TEXT NOT NULL DEFAULT '',
	final_filename   TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	error_code       TEXT NOT NULL DEFAULT '',
	error_message    TEXT NOT NULL DEFAULT '',
	bytes_downloaded INTEGER NOT NULL DEFAULT 0,
	stall_strikes    INTEGER NOT NULL DEFAULT 0,
	tried_mirrors    TEXT NOT NULL DEFAULT '[]',
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL,
	started_at       TEXT NOT NULL DEFAULT '',
	completed_at     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_downloads_status ON downloads(status);
CREATE INDEX IF NOT EXISTS idx_downloads_created ON downloads(created_at DESC);

CREATE TABLE IF NOT EXISTS download_segments (
	download_id   TEXT NOT NULL REFERENCES downloads(id) ON DELETE CASCADE,
	ordinal       INTEGER NOT NULL,
	start_offset  INTEGER NOT NULL,
	end_offset    INTEGER NOT NULL,
	bytes_written INTEGER NOT NULL DEFAULT 0,
	done          INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (download_id, ordinal)
);

CREATE TABLE IF NOT EXISTS batches (
	id           TEXT PRIMARY KEY,
	dest_dir     TEXT NOT NULL,
	forced_proxy INTEGER NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rules (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	kind              TEXT NOT NULL,
	pattern           TEXT NOT NULL,
	enabled           INTEGER NOT NULL DEFAULT 1,
	use_proxy         INTEGER NOT NULL DEFAULT 0,
	proxy_url_override TEXT NOT NULL DEFAULT '',
	header_entries    TEXT NOT NULL DEFAULT '[]',
	mirror_candidates TEXT NOT NULL DEFAULT '[]'
);
`

// DB wraps the application's sqlite connection.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if absent) the sqlite database at path, applies
// the schema, enables foreign keys and WAL mode, and seeds a local API
// token if one doesn't already exist.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	conn.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer discipline per §5

	if _, err := conn.ExecContext(ctx, schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.ensureToken(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) ensureToken(ctx context.Context) error {
	_, err := db.GetSetting(ctx, SettingsTokenKey)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return err
	}
	token, err := generateToken()
	if err != nil {
		return fmt.Errorf("generate local API token: %w", err)
	}
	return db.SetSetting(ctx, SettingsTokenKey, token)
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
