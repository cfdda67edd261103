package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zdmr/zdmr/pkg/zdmr"
)

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// SaveDownload upserts the full Download row in one atomic write (§4.1:
// "every status transition and every batched byte checkpoint is one
// atomic write").
func (db *DB) SaveDownload(ctx context.Context, d *zdmr.Download) error {
	triedMirrors, err := json.Marshal(mirrorKeys(d.TriedMirrors))
	if err != nil {
		return fmt.Errorf("marshal tried_mirrors: %w", err)
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO downloads (
			id, original_url, resolved_url, dest_dir, forced_proxy, batch_id,
			content_length, etag, last_modified, supports_ranges, mirror_used,
			temp_path, final_filename, status, error_code, error_message,
			bytes_downloaded, stall_strikes, tried_mirrors,
			created_at, updated_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			original_url = excluded.original_url,
			resolved_url = excluded.resolved_url,
			dest_dir = excluded.dest_dir,
			forced_proxy = excluded.forced_proxy,
			batch_id = excluded.batch_id,
			content_length = excluded.content_length,
			etag = excluded.etag,
			last_modified = excluded.last_modified,
			supports_ranges = excluded.supports_ranges,
			mirror_used = excluded.mirror_used,
			temp_path = excluded.temp_path,
			final_filename = excluded.final_filename,
			status = excluded.status,
			error_code = excluded.error_code,
			error_message = excluded.error_message,
			bytes_downloaded = excluded.bytes_downloaded,
			stall_strikes = excluded.stall_strikes,
			tried_mirrors = excluded.tried_mirrors,
			updated_at = excluded.updated_at,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`,
		d.ID, d.OriginalURL, d.ResolvedURL, d.DestDir, d.ForcedProxy, d.BatchID,
		int64(d.ContentLength), d.ETag, d.LastModified, string(d.SupportsRanges), d.MirrorUsed,
		d.TempPath, d.FinalFilename, string(d.Status), string(d.ErrorCode), d.ErrorMessage,
		d.BytesDownloaded, d.StallStrikes, string(triedMirrors),
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt), formatTime(d.StartedAt), formatTime(d.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save download %s: %w", d.ID, err)
	}
	return nil
}

func mirrorKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// LoadDownload reads one Download by ID.
func (db *DB) LoadDownload(ctx context.Context, id string) (*zdmr.Download, error) {
	row := db.conn.QueryRowContext(ctx, downloadSelectColumns+` FROM downloads WHERE id = ?`, id)
	d, err := scanDownload(row)
	if err == sql.ErrNoRows {
		return nil, zdmr.ErrDownloadNotFound
	}
	return d, err
}

// ListByStatus returns Downloads in the given status, newest-created
// first (§4.1: "listing (downloads sorted by creation descending)").
func (db *DB) ListByStatus(ctx context.Context, status zdmr.Status) ([]*zdmr.Download, error) {
	rows, err := db.conn.QueryContext(ctx, downloadSelectColumns+`
		FROM downloads WHERE status = ? ORDER BY created_at DESC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDownloads(rows)
}

// ListByBatch returns every Download belonging to batchID, oldest-created
// first, for batch-scoped operations like DeleteBatch (§6 command surface).
func (db *DB) ListByBatch(ctx context.Context, batchID string) ([]*zdmr.Download, error) {
	rows, err := db.conn.QueryContext(ctx, downloadSelectColumns+`
		FROM downloads WHERE batch_id = ? ORDER BY created_at ASC`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDownloads(rows)
}

// ListAll returns every Download, newest-created first.
func (db *DB) ListAll(ctx context.Context) ([]*zdmr.Download, error) {
	rows, err := db.conn.QueryContext(ctx, downloadSelectColumns+`
		FROM downloads ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDownloads(rows)
}

// DeleteDownload removes the Download row; its segments cascade via the
// foreign key (§3: "Segment rows for a Download are deleted only when
// the Download row is deleted").
func (db *DB) DeleteDownload(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM downloads WHERE id = ?`, id)
	return err
}

// ClearCompleted sweeps every COMPLETED row, for the "clear completed"
// command surface operation (§4.1, §6).
func (db *DB) ClearCompleted(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM downloads WHERE status = ?`, string(zdmr.StatusCompleted))
	return err
}

const downloadSelectColumns = `SELECT
	id, original_url, resolved_url, dest_dir, forced_proxy, batch_id,
	content_length, etag, last_modified, supports_ranges, mirror_used,
	temp_path, final_filename, status, error_code, error_message,
	bytes_downloaded, stall_strikes, tried_mirrors,
	created_at, updated_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDownload(row rowScanner) (*zdmr.Download, error) {
	var d zdmr.Download
	var contentLength int64
	var supportsRanges, status, errorCode string
	var triedMirrorsJSON string
	var createdAt, updatedAt, startedAt, completedAt string

	err := row.Scan(
		&d.ID, &d.OriginalURL, &d.ResolvedURL, &d.DestDir, &d.ForcedProxy, &d.BatchID,
		&contentLength, &d.ETag, &d.LastModified, &supportsRanges, &d.MirrorUsed,
		&d.TempPath, &d.FinalFilename, &status, &errorCode, &d.ErrorMessage,
		&d.BytesDownloaded, &d.StallStrikes, &triedMirrorsJSON,
		&createdAt, &updatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	d.ContentLength = zdmr.ContentLength(contentLength)
	d.SupportsRanges = zdmr.RangeSupport(supportsRanges)
	d.Status = zdmr.Status(status)
	d.ErrorCode = zdmr.Code(errorCode)
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	d.StartedAt = parseTime(startedAt)
	d.CompletedAt = parseTime(completedAt)

	var mirrors []string
	if err := json.Unmarshal([]byte(triedMirrorsJSON), &mirrors); err == nil && len(mirrors) > 0 {
		d.TriedMirrors = make(map[string]bool, len(mirrors))
		for _, m := range mirrors {
			d.TriedMirrors[m] = true
		}
	}

	return &d, nil
}

func scanDownloads(rows *sql.Rows) ([]*zdmr.Download, error) {
	var out []*zdmr.Download
	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
