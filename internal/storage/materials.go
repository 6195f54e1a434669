package storage

import (
	"context"
	"fmt"

	"challenge-bot/internal/models"
)

// ---------- materials -------------------------------------------------------

func (d *DB) SaveMaterial(ctx context.Context, m *models.Material) error {
	const op = "storage.SaveMaterial"

	err := d.QueryRowContext(ctx, `
        INSERT INTO materials (category, day, variant, title, description, file_id, file_type)
        VALUES (?,?,?,?,?,?,?)
        ON CONFLICT(category, day, variant) DO UPDATE SET title=excluded.title,
                                                          description=excluded.description,
                                                          file_id=excluded.file_id,
                                                          file_type=excluded.file_type
        RETURNING id`,
		string(m.Category), m.Day, m.Variant, m.Title, m.Description, m.FileID, string(m.FileType)).
		Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Materials returns the day's catalog for a bracket ordered by variant.
func (d *DB) Materials(ctx context.Context, category models.Category, day int) ([]models.Material, error) {
	return d.listMaterials(ctx, "storage.Materials",
		`WHERE category = ? AND day = ? ORDER BY variant`, string(category), day)
}

func (d *DB) AllMaterials(ctx context.Context) ([]models.Material, error) {
	return d.listMaterials(ctx, "storage.AllMaterials", `ORDER BY category, day, variant`)
}

func (d *DB) listMaterials(ctx context.Context, op, tail string, args ...any) ([]models.Material, error) {
	rows, err := d.QueryContext(ctx, `
        SELECT id, category, day, variant, title, description, file_id, file_type
        FROM materials `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []models.Material
	for rows.Next() {
		var m models.Material
		if err := rows.Scan(&m.ID, &m.Category, &m.Day, &m.Variant, &m.Title,
			&m.Description, &m.FileID, &m.FileType); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// DeleteMaterial returns ErrNotFound when nothing matched.
func (d *DB) DeleteMaterial(ctx context.Context, category models.Category, day, variant int) error {
	const op = "storage.DeleteMaterial"

	res, err := d.ExecContext(ctx,
		`DELETE FROM materials WHERE category = ? AND day = ? AND variant = ?`,
		string(category), day, variant)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
