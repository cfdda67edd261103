package store

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/zdmr/zdmr/pkg/zdmr"
)

// Settings keys beyond the auth token (§3 Settings entity).
const (
	KeyDefaultDownloadDir     = "default_download_dir"
	KeyGlobalBandwidthLimit   = "global_bandwidth_limit_bps"
	KeyGlobalProxyEnabled     = "global_proxy_enabled"
	KeyGlobalProxyURL         = "global_proxy_url"
	KeyLocalAPIPort           = "local_api_port"
	KeyTrayPreference         = "tray_preference"
	KeyTheme                  = "theme"
	KeyGlobalHotkey           = "global_hotkey"
)

// GetSetting reads one key/value pair. Returns sql.ErrNoRows if absent.
func (db *DB) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	return value, err
}

// SetSetting upserts one key/value pair (§4.1: "a keyed read/write over
// settings").
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// Token returns the generated local API token.
func (db *DB) Token(ctx context.Context) (string, error) {
	return db.GetSetting(ctx, SettingsTokenKey)
}

// LoadSettings assembles the zdmr.Settings the Rule Engine consumes,
// defaulting any absent key to its zero value (unlimited bandwidth, no
// proxy, empty download dir).
func (db *DB) LoadSettings(ctx context.Context) (zdmr.Settings, error) {
	var s zdmr.Settings

	if v, err := db.GetSetting(ctx, KeyDefaultDownloadDir); err == nil {
		s.DefaultDownloadDir = v
	} else if err != sql.ErrNoRows {
		return s, err
	}

	if v, err := db.GetSetting(ctx, KeyGlobalBandwidthLimit); err == nil {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr == nil {
			s.GlobalBandwidthLimitBps = n
		}
	} else if err != sql.ErrNoRows {
		return s, err
	}

	if v, err := db.GetSetting(ctx, KeyGlobalProxyEnabled); err == nil {
		s.GlobalProxyEnabled = v == "true" || v == "1"
	} else if err != sql.ErrNoRows {
		return s, err
	}

	if v, err := db.GetSetting(ctx, KeyGlobalProxyURL); err == nil {
		s.GlobalProxyURL = v
	} else if err != sql.ErrNoRows {
		return s, err
	}

	return s, nil
}
