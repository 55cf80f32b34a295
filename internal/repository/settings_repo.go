package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"specac_control/internal/models"
)

// SettingsSQLite persists one row of JSON-encoded settings per chamber, so
// intensities and schedules survive restarts and rescans.
type SettingsSQLite struct {
	db *sql.DB
}

func NewSettingsSQLite(db *sql.DB) *SettingsSQLite {
	return &SettingsSQLite{db: db}
}

var _ SettingsRepo = (*SettingsSQLite)(nil)

const (
	upsertSettingsSQL = `
		INSERT INTO chamber_settings (chamber, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(chamber) DO UPDATE SET
			payload=excluded.payload,
			updated_at=excluded.updated_at
	`

	selectSettingsSQL    = `SELECT payload FROM chamber_settings WHERE chamber=?`
	selectAllSettingsSQL = `SELECT chamber, payload FROM chamber_settings`
)

// Save upserts the settings row for one chamber.
func (r *SettingsSQLite) Save(ctx context.Context, chamber int, s models.ChamberSettings) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings for chamber %d: %w", chamber, err)
	}
	_, err = r.db.ExecContext(ctx, upsertSettingsSQL, chamber, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save settings for chamber %d: %w", chamber, err)
	}
	return nil
}

// Load fetches one chamber's settings. The bool reports whether a row
// existed; a missing row is not an error.
func (r *SettingsSQLite) Load(ctx context.Context, chamber int) (models.ChamberSettings, bool, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, selectSettingsSQL, chamber).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ChamberSettings{}, false, nil
		}
		return models.ChamberSettings{}, false, fmt.Errorf("load settings for chamber %d: %w", chamber, err)
	}

	var s models.ChamberSettings
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return models.ChamberSettings{}, false, fmt.Errorf("decode settings for chamber %d: %w", chamber, err)
	}
	return s, true, nil
}

// LoadAll returns every stored chamber's settings keyed by chamber number.
func (r *SettingsSQLite) LoadAll(ctx context.Context) (map[int]models.ChamberSettings, error) {
	rows, err := r.db.QueryContext(ctx, selectAllSettingsSQL)
	if err != nil {
		return nil, fmt.Errorf("load all settings: %w", err)
	}
	defer rows.Close()

	out := make(map[int]models.ChamberSettings)
	for rows.Next() {
		var chamber int
		var payload string
		if err := rows.Scan(&chamber, &payload); err != nil {
			return nil, err
		}
		var s models.ChamberSettings
		if err := json.Unmarshal([]byte(payload), &s); err != nil {
			return nil, fmt.Errorf("decode settings for chamber %d: %w", chamber, err)
		}
		out[chamber] = s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
