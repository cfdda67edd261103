package store

import (
	"context"
	"database/sql"

	"github.com/zdmr/zdmr/pkg/zdmr"
)

// SaveBatch inserts a Batch row. Batches are write-once: members
// back-reference the batch by ID, and the batch itself is never
// mutated after creation.
func (db *DB) SaveBatch(ctx context.Context, b *zdmr.Batch) error {
	forcedProxy := 0
	if b.ForcedProxy {
		forcedProxy = 1
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO batches (id, dest_dir, forced_proxy, created_at) VALUES (?, ?, ?, ?)
	`, b.ID, b.DestDir, forcedProxy, formatTime(b.CreatedAt))
	return err
}

// LoadBatch reads one Batch by ID.
func (db *DB) LoadBatch(ctx context.Context, id string) (*zdmr.Batch, error) {
	var b zdmr.Batch
	var forcedProxy int
	var createdAt string
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, dest_dir, forced_proxy, created_at FROM batches WHERE id = ?
	`, id).Scan(&b.ID, &b.DestDir, &forcedProxy, &createdAt)
	if err == sql.ErrNoRows {
		return nil, zdmr.ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	b.ForcedProxy = forcedProxy != 0
	b.CreatedAt = parseTime(createdAt)
	return &b, nil
}

// DeleteBatch removes the Batch row itself. Member Downloads are removed
// separately by the caller (the Engine, one at a time via DeleteDownload)
// before this is called, mirroring the cancel+remove-rows path of a
// single delete (§6 "DeleteBatch").
func (db *DB) DeleteBatch(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM batches WHERE id = ?`, id)
	return err
}
