package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/debemdeboas/the-calendar/internal/db"
	"github.com/debemdeboas/the-calendar/internal/model"
	"github.com/debemdeboas/the-calendar/internal/util/compression"
)

type DBTextRepository struct { // implements TextRepository, Upserter
	db         db.DB
	compressor compression.Compressor
}

func NewDBTextRepository(db db.DB, compressor compression.Compressor) *DBTextRepository {
	if compressor == nil {
		compressor = compression.ZstdCompressor{}
	}
	return &DBTextRepository{
		db:         db,
		compressor: compressor,
	}
}

func (r *DBTextRepository) ListAll(ctx context.Context) ([]model.TextRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, text_number, title, content, created_at, updated_at FROM texts ORDER BY text_number`)
	if err != nil {
		return nil, fmt.Errorf("error querying texts: %w", err)
	}
	defer rows.Close()

	records := make([]model.TextRecord, 0)
	for rows.Next() {
		var rec model.TextRecord
		var id int64
		var compressed []byte
		var createdAt, updatedAt sql.NullTime

		if err := rows.Scan(&id, &rec.Slot, &rec.Title, &compressed, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("error scanning text: %w", err)
		}

		content, err := r.compressor.Decompress(compressed)
		if err != nil {
			return nil, fmt.Errorf("error decompressing content of slot %d: %w", rec.Slot, err)
		}

		rec.ID = &id
		rec.Content = string(content)
		if createdAt.Valid {
			t := createdAt.Time.UTC()
			rec.CreatedAt = &t
		}
		if updatedAt.Valid {
			rec.UpdatedAt = updatedAt.Time.UTC()
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating texts: %w", err)
	}

	return records, nil
}

func (r *DBTextRepository) Insert(ctx context.Context, rec model.TextRecord) error {
	compressed, err := r.compressor.Compress([]byte(rec.Content))
	if err != nil {
		return fmt.Errorf("error compressing content: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO texts (text_number, title, content, updated_at) VALUES (?, ?, ?, ?)`,
		rec.Slot, rec.Title, compressed, stamp(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("error inserting text %d: %w", rec.Slot, err)
	}

	repoLogger.Debug().Interface("result", res).Int("slot", int(rec.Slot)).Msg("Text inserted")
	return nil
}

func (r *DBTextRepository) Update(ctx context.Context, slot model.Slot, patch model.TextPatch) error {
	compressed, err := r.compressor.Compress([]byte(patch.Content))
	if err != nil {
		return fmt.Errorf("error compressing content: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE texts SET title = ?, content = ?, updated_at = ? WHERE text_number = ?`,
		patch.Title, compressed, stamp(patch.UpdatedAt), slot,
	)
	if err != nil {
		return fmt.Errorf("error updating text %d: %w", slot, err)
	}

	repoLogger.Debug().Interface("result", res).Int("slot", int(slot)).Msg("Text updated")
	return nil
}

func (r *DBTextRepository) Upsert(ctx context.Context, rec model.TextRecord) error {
	compressed, err := r.compressor.Compress([]byte(rec.Content))
	if err != nil {
		return fmt.Errorf("error compressing content: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO texts (text_number, title, content, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(text_number) DO UPDATE SET
    title = excluded.title,
    content = excluded.content,
    updated_at = excluded.updated_at`,
		rec.Slot, rec.Title, compressed, stamp(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("error upserting text %d: %w", rec.Slot, err)
	}
	return nil
}

func (r *DBTextRepository) Delete(ctx context.Context, slot model.Slot) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM texts WHERE text_number = ?`, slot); err != nil {
		return fmt.Errorf("error deleting text %d: %w", slot, err)
	}
	return nil
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
