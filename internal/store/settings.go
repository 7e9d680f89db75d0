package store

import (
	"context"
	"database/sql"
	"time"
)

// Setting keys used by the scheduler for cross-restart state.
const (
	SettingTeamCacheRefreshed = "team_cache_refreshed_at"
	SettingLinearEPGRefreshed = "linear_epg_refreshed_at"
	SettingLastBackup         = "last_backup_at"
	SettingLastReset          = "last_channel_reset_at"
)

// GetSetting reads one settings row; "" when absent.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetSetting upserts one settings row.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// GetSettingTime reads a timestamp-valued setting; zero time when absent or
// unparseable.
func (s *Store) GetSettingTime(ctx context.Context, key string) (time.Time, error) {
	raw, err := s.GetSetting(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	return parseTime(raw), nil
}

// SetSettingTime stores a timestamp-valued setting in the canonical format.
func (s *Store) SetSettingTime(ctx context.Context, key string, t time.Time) error {
	return s.SetSetting(ctx, key, formatTime(t))
}
