package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jandubois/shutter/internal/deliver"
)

// Delivery is one recorded outcome.
type Delivery struct {
	ID        uuid.UUID
	RequestID uuid.UUID
	Position  int
	Outcome   deliver.Outcome
	Format    string
	Size      int64
	CreatedAt time.Time
}

// RecordOutcomes stores the outcomes of one upload. All rows share
// requestID and keep the configuration order.
func (d *DB) RecordOutcomes(ctx context.Context, requestID uuid.UUID, format string, size int64, outcomes []deliver.Outcome) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO deliveries (
			id, request_id, position, profile, success,
			url, thumbnail_url, deletion_url, file_path, error,
			format, size_bytes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := Timestamp{time.Now()}
	for i, o := range outcomes {
		_, err := stmt.ExecContext(ctx,
			uuid.New(), requestID, i, o.Name, o.Success,
			o.URL, o.ThumbnailURL, o.DeletionURL, o.FilePath, o.ErrorMessage,
			format, size, now,
		)
		if err != nil {
			return fmt.Errorf("insert delivery %q: %w", o.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit deliveries: %w", err)
	}
	return nil
}

// RecentDeliveries returns up to limit deliveries, newest upload first.
func (d *DB) RecentDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, request_id, position, profile, success,
		       url, thumbnail_url, deletion_url, file_path, error,
		       format, size_bytes, created_at
		FROM deliveries
		ORDER BY created_at DESC, request_id, position
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []Delivery
	for rows.Next() {
		var del Delivery
		var created Timestamp
		o := &del.Outcome
		if err := rows.Scan(
			&del.ID, &del.RequestID, &del.Position, &o.Name, &o.Success,
			&o.URL, &o.ThumbnailURL, &o.DeletionURL, &o.FilePath, &o.ErrorMessage,
			&del.Format, &del.Size, &created,
		); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		del.CreatedAt = created.Time
		deliveries = append(deliveries, del)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}
	return deliveries, nil
}
