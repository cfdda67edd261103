package store

import (
	"context"
	"fmt"

	"github.com/zdmr/zdmr/pkg/zdmr"
)

// SaveSegments upserts segs for downloadID in a single transaction
// (§4.1: "transactional multi-row writes for segment plans").
func (db *DB) SaveSegments(ctx context.Context, downloadID string, segs []zdmr.Segment) error {
	if len(segs) == 0 {
		return nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO download_segments (download_id, ordinal, start_offset, end_offset, bytes_written, done)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(download_id, ordinal) DO UPDATE SET
			start_offset = excluded.start_offset,
			end_offset = excluded.end_offset,
			bytes_written = excluded.bytes_written,
			done = excluded.done
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range segs {
		done := 0
		if s.Done {
			done = 1
		}
		if _, err := stmt.ExecContext(ctx, downloadID, s.Ordinal, s.StartOffset, s.EndOffset, s.BytesWritten, done); err != nil {
			return fmt.Errorf("save segment %d for %s: %w", s.Ordinal, downloadID, err)
		}
	}
	return tx.Commit()
}

// LoadSegments returns every segment for downloadID, ordered by ordinal.
func (db *DB) LoadSegments(ctx context.Context, downloadID string) ([]zdmr.Segment, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT ordinal, start_offset, end_offset, bytes_written, done
		FROM download_segments WHERE download_id = ? ORDER BY ordinal ASC
	`, downloadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []zdmr.Segment
	for rows.Next() {
		var s zdmr.Segment
		var done int
		if err := rows.Scan(&s.Ordinal, &s.StartOffset, &s.EndOffset, &s.BytesWritten, &done); err != nil {
			return nil, err
		}
		s.Done = done != 0
		out = append(out, s)
	}
	return out, rows.Err()
}

// ClearSegments deletes every segment row for downloadID, used before a
// REMOTE_CHANGED-triggered full restart (§4.6 step 2).
func (db *DB) ClearSegments(ctx context.Context, downloadID string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM download_segments WHERE download_id = ?`, downloadID)
	return err
}
