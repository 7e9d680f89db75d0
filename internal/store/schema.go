package store

import (
	"database/sql"
	"fmt"
	"strconv"
)

const schemaVersion = 2

// migrate applies forward-only migrations gated on settings.schema_version.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create settings: %w", err)
	}
	var current int
	var raw string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = 'schema_version'`).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		current = 0
	case err != nil:
		return err
	default:
		current, _ = strconv.Atoi(raw)
	}
	for v := current + 1; v <= schemaVersion; v++ {
		fn, ok := migrations[v]
		if !ok {
			return fmt.Errorf("missing migration %d", v)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := tx.Exec(`INSERT INTO settings(key, value) VALUES('schema_version', ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, strconv.Itoa(v)); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		if s.log != nil {
			s.log.WithField("version", v).Info("applied schema migration")
		}
	}
	return nil
}

var migrations = map[int]func(*sql.Tx) error{
	1: migrateInitial,
	2: migrateOverlapHandling,
}

func migrateInitial(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS leagues (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			code TEXT NOT NULL,
			provider TEXT NOT NULL,
			provider_league_id TEXT NOT NULL DEFAULT '',
			provider_league_name TEXT NOT NULL DEFAULT '',
			sport TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			alias TEXT NOT NULL DEFAULT '',
			logo_url TEXT NOT NULL DEFAULT '',
			event_card INTEGER NOT NULL DEFAULT 0,
			UNIQUE(code, provider)
		)`,
		`CREATE TABLE IF NOT EXISTS teams (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			league TEXT NOT NULL,
			provider TEXT NOT NULL,
			provider_team_id TEXT NOT NULL,
			name TEXT NOT NULL,
			short_name TEXT NOT NULL DEFAULT '',
			abbreviation TEXT NOT NULL DEFAULT '',
			nickname TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			logo_url TEXT NOT NULL DEFAULT '',
			UNIQUE(league, provider, provider_team_id)
		)`,
		`CREATE TABLE IF NOT EXISTS team_aliases (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			league TEXT NOT NULL,
			alias TEXT NOT NULL,
			team_name TEXT NOT NULL,
			UNIQUE(league, alias)
		)`,
		`CREATE TABLE IF NOT EXISTS templates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			channel_name TEXT NOT NULL DEFAULT '',
			programme_title TEXT NOT NULL DEFAULT '',
			programme_subtitle TEXT NOT NULL DEFAULT '',
			programme_desc TEXT NOT NULL DEFAULT '',
			pregame_title TEXT NOT NULL DEFAULT '',
			postgame_title TEXT NOT NULL DEFAULT '',
			idle_title TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS event_epg_groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			leagues TEXT NOT NULL DEFAULT '[]',
			template_id INTEGER,
			m3u_group_id INTEGER NOT NULL DEFAULT 0,
			duplicate_mode TEXT NOT NULL DEFAULT 'consolidate',
			overlap_handling TEXT NOT NULL DEFAULT 'add_stream',
			create_timing TEXT NOT NULL DEFAULT 'same_day',
			delete_timing TEXT NOT NULL DEFAULT 'day_after',
			channel_start_number INTEGER NOT NULL DEFAULT 0,
			assignment_mode TEXT NOT NULL DEFAULT 'auto',
			sort_order INTEGER NOT NULL DEFAULT 0,
			channel_sort_order TEXT NOT NULL DEFAULT 'time',
			parent_group_id INTEGER REFERENCES event_epg_groups(id),
			include_regex TEXT NOT NULL DEFAULT '',
			exclude_regex TEXT NOT NULL DEFAULT '',
			custom_regex TEXT NOT NULL DEFAULT '{}',
			team_include TEXT NOT NULL DEFAULT '[]',
			team_exclude TEXT NOT NULL DEFAULT '[]',
			include_final_events INTEGER NOT NULL DEFAULT 0,
			total_stream_count INTEGER NOT NULL DEFAULT 0,
			exception_keywords TEXT NOT NULL DEFAULT '[]',
			days_ahead INTEGER NOT NULL DEFAULT 1,
			filler_pregame INTEGER NOT NULL DEFAULT 0,
			filler_postgame INTEGER NOT NULL DEFAULT 0,
			filler_idle INTEGER NOT NULL DEFAULT 0,
			require_event_pattern INTEGER NOT NULL DEFAULT 0,
			stream_profile_id INTEGER,
			channel_profile_id INTEGER,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS managed_channels (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			group_id INTEGER NOT NULL REFERENCES event_epg_groups(id),
			event_id TEXT NOT NULL,
			event_provider TEXT NOT NULL,
			tvg_id TEXT NOT NULL,
			channel_name TEXT NOT NULL,
			channel_number INTEGER NOT NULL,
			gateway_channel_id INTEGER,
			gateway_channel_uuid TEXT,
			exception_keyword TEXT,
			card_segment TEXT NOT NULL DEFAULT '',
			league TEXT NOT NULL DEFAULT '',
			event_start TEXT NOT NULL,
			logo_url TEXT NOT NULL DEFAULT '',
			primary_stream_id INTEGER,
			scheduled_delete_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			deleted_at TEXT,
			delete_reason TEXT NOT NULL DEFAULT '',
			sync_status TEXT NOT NULL DEFAULT 'pending',
			epg_data_id INTEGER
		)`,
		// One active channel per (group, event, provider, keyword, segment).
		// primary_stream_id stays NULL outside separate duplicate mode, where it
		// widens the tuple to one channel per stream.
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_managed_channels_active
			ON managed_channels(group_id, event_id, event_provider,
				COALESCE(exception_keyword, ''), card_segment,
				COALESCE(primary_stream_id, 0))
			WHERE deleted_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS ix_managed_channels_event
			ON managed_channels(event_id, event_provider)`,
		`CREATE TABLE IF NOT EXISTS managed_channel_streams (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			channel_id INTEGER NOT NULL REFERENCES managed_channels(id) ON DELETE CASCADE,
			stream_id INTEGER NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			stream_name TEXT NOT NULL DEFAULT '',
			added_at TEXT NOT NULL,
			UNIQUE(channel_id, stream_id)
		)`,
		`CREATE TABLE IF NOT EXISTS stream_match_cache (
			fingerprint TEXT PRIMARY KEY,
			group_id INTEGER NOT NULL,
			stream_id INTEGER NOT NULL,
			stream_name TEXT NOT NULL,
			event_id TEXT,
			event_provider TEXT NOT NULL DEFAULT '',
			league TEXT NOT NULL DEFAULT '',
			event_json BLOB,
			match_method TEXT NOT NULL DEFAULT '',
			failed INTEGER NOT NULL DEFAULT 0,
			user_corrected INTEGER NOT NULL DEFAULT 0,
			last_seen_generation INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ix_stream_match_cache_gen
			ON stream_match_cache(last_seen_generation)`,
		`CREATE TABLE IF NOT EXISTS event_epg_xmltv (
			group_id INTEGER PRIMARY KEY REFERENCES event_epg_groups(id),
			generated_at TEXT NOT NULL,
			doc BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS merged_xmltv (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			generated_at TEXT NOT NULL,
			doc BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS team_epg_xmltv (
			team_key TEXT PRIMARY KEY,
			generated_at TEXT NOT NULL,
			doc BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS processing_runs (
			id TEXT PRIMARY KEY,
			generation INTEGER NOT NULL,
			trigger TEXT NOT NULL DEFAULT 'cron',
			status TEXT NOT NULL DEFAULT 'running',
			started_at TEXT NOT NULL,
			finished_at TEXT,
			groups_processed INTEGER NOT NULL DEFAULT 0,
			streams_total INTEGER NOT NULL DEFAULT 0,
			streams_matched INTEGER NOT NULL DEFAULT 0,
			channels_created INTEGER NOT NULL DEFAULT 0,
			channels_deleted INTEGER NOT NULL DEFAULT 0,
			errors TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS matched_streams (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES processing_runs(id),
			group_id INTEGER NOT NULL,
			stream_id INTEGER NOT NULL,
			stream_name TEXT NOT NULL,
			league TEXT NOT NULL DEFAULT '',
			event_id TEXT NOT NULL DEFAULT '',
			event_provider TEXT NOT NULL DEFAULT '',
			match_method TEXT NOT NULL DEFAULT '',
			origin_match_method TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			included INTEGER NOT NULL DEFAULT 0,
			exclusion_reason TEXT NOT NULL DEFAULT '',
			team1 TEXT NOT NULL DEFAULT '',
			team2 TEXT NOT NULL DEFAULT '',
			card_segment TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS failed_matches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES processing_runs(id),
			group_id INTEGER NOT NULL,
			stream_id INTEGER NOT NULL,
			stream_name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			team1 TEXT NOT NULL DEFAULT '',
			team2 TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS channel_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			channel_id INTEGER NOT NULL,
			action TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("%s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// migrateOverlapHandling coerces legacy overlap values. Early releases stored
// NULL or "consolidate"; both behave as add_stream.
func migrateOverlapHandling(tx *sql.Tx) error {
	_, err := tx.Exec(`UPDATE event_epg_groups
		SET overlap_handling = 'add_stream'
		WHERE overlap_handling IS NULL
		   OR overlap_handling = ''
		   OR overlap_handling = 'None'
		   OR overlap_handling = 'consolidate'`)
	return err
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
