package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/teamarr/teamarr/internal/sports"
)

// Purge horizons, measured in generations since last_seen.
const (
	cacheSuccessHorizon = 5
	cacheFailedHorizon  = 2
)

// Fingerprint keys a cache entry on (group, stream, name). Any change to the
// name produces a new key, so renames invalidate automatically.
func Fingerprint(groupID, streamID int64, name string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%d:%s", groupID, streamID, name)))
	return hex.EncodeToString(sum[:])[:16]
}

// CacheEntry is one stream match cache row. Failed is the sentinel for "we
// tried and found nothing"; such entries never carry an event snapshot.
type CacheEntry struct {
	Fingerprint        string
	GroupID            int64
	StreamID           int64
	StreamName         string
	EventID            string
	EventProvider      string
	League             string
	EventJSON          []byte
	MatchMethod        string
	Failed             bool
	UserCorrected      bool
	LastSeenGeneration int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Event decodes the cached event snapshot.
func (e *CacheEntry) Event() (*sports.Event, error) {
	if e.Failed || len(e.EventJSON) == 0 {
		return nil, fmt.Errorf("cache entry %s has no event snapshot", e.Fingerprint)
	}
	var ev sports.Event
	if err := json.Unmarshal(e.EventJSON, &ev); err != nil {
		return nil, fmt.Errorf("decode cached event: %w", err)
	}
	return &ev, nil
}

const cacheColumns = `fingerprint, group_id, stream_id, stream_name, event_id,
	event_provider, league, event_json, match_method, failed, user_corrected,
	last_seen_generation, created_at, updated_at`

func scanCacheEntry(row *sql.Row) (*CacheEntry, error) {
	var e CacheEntry
	var eventID sql.NullString
	var created, updated string
	err := row.Scan(&e.Fingerprint, &e.GroupID, &e.StreamID, &e.StreamName,
		&eventID, &e.EventProvider, &e.League, &e.EventJSON, &e.MatchMethod,
		&e.Failed, &e.UserCorrected, &e.LastSeenGeneration, &created, &updated)
	if err != nil {
		return nil, err
	}
	e.EventID = eventID.String
	e.CreatedAt = parseTime(created)
	e.UpdatedAt = parseTime(updated)
	return &e, nil
}

// CacheGet returns the entry for (group, stream, name) or nil. Failed
// sentinels are skipped unless includeFailed is set.
func (s *Store) CacheGet(ctx context.Context, groupID, streamID int64, name string, includeFailed bool) (*CacheEntry, error) {
	fp := Fingerprint(groupID, streamID, name)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+cacheColumns+` FROM stream_match_cache WHERE fingerprint = ?`, fp)
	e, err := scanCacheEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if e.Failed && !includeFailed {
		return nil, nil
	}
	return e, nil
}

// CacheTouch bumps last_seen_generation for an existing entry.
func (s *Store) CacheTouch(ctx context.Context, groupID, streamID int64, name string, generation int64) error {
	fp := Fingerprint(groupID, streamID, name)
	_, err := s.db.ExecContext(ctx,
		`UPDATE stream_match_cache
		 SET last_seen_generation = ?, updated_at = ?
		 WHERE fingerprint = ? AND last_seen_generation < ?`,
		generation, utcNow(), fp, generation)
	return err
}

// CacheSet upserts a successful match. A user-corrected entry is immutable
// against automation: the write silently keeps the pinned row (only its
// last_seen_generation moves forward).
func (s *Store) CacheSet(ctx context.Context, groupID, streamID int64, name string, ev *sports.Event, method string, generation int64) error {
	snapshot, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event snapshot: %w", err)
	}
	fp := Fingerprint(groupID, streamID, name)
	now := utcNow()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO stream_match_cache
			(fingerprint, group_id, stream_id, stream_name, event_id, event_provider,
			 league, event_json, match_method, failed, user_corrected,
			 last_seen_generation, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
			event_id = CASE WHEN stream_match_cache.user_corrected = 1 THEN stream_match_cache.event_id ELSE excluded.event_id END,
			event_provider = CASE WHEN stream_match_cache.user_corrected = 1 THEN stream_match_cache.event_provider ELSE excluded.event_provider END,
			league = CASE WHEN stream_match_cache.user_corrected = 1 THEN stream_match_cache.league ELSE excluded.league END,
			event_json = CASE WHEN stream_match_cache.user_corrected = 1 THEN stream_match_cache.event_json ELSE excluded.event_json END,
			match_method = CASE WHEN stream_match_cache.user_corrected = 1 THEN stream_match_cache.match_method ELSE excluded.match_method END,
			failed = CASE WHEN stream_match_cache.user_corrected = 1 THEN stream_match_cache.failed ELSE 0 END,
			last_seen_generation = excluded.last_seen_generation,
			updated_at = excluded.updated_at`,
		fp, groupID, streamID, name, ev.ID, ev.Provider, ev.League, snapshot,
		method, generation, now, now)
	return err
}

// CacheSetFailed stores the failed sentinel. User corrections win here too.
func (s *Store) CacheSetFailed(ctx context.Context, groupID, streamID int64, name string, generation int64) error {
	fp := Fingerprint(groupID, streamID, name)
	now := utcNow()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stream_match_cache
			(fingerprint, group_id, stream_id, stream_name, event_id, event_provider,
			 league, event_json, match_method, failed, user_corrected,
			 last_seen_generation, created_at, updated_at)
		 VALUES (?, ?, ?, ?, NULL, '', '', NULL, 'no_match', 1, 0, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
			event_id = CASE WHEN stream_match_cache.user_corrected = 1 THEN stream_match_cache.event_id ELSE NULL END,
			event_json = CASE WHEN stream_match_cache.user_corrected = 1 THEN stream_match_cache.event_json ELSE NULL END,
			match_method = CASE WHEN stream_match_cache.user_corrected = 1 THEN stream_match_cache.match_method ELSE 'no_match' END,
			failed = CASE WHEN stream_match_cache.user_corrected = 1 THEN stream_match_cache.failed ELSE 1 END,
			last_seen_generation = excluded.last_seen_generation,
			updated_at = excluded.updated_at`,
		fp, groupID, streamID, name, generation, now, now)
	return err
}

// CacheSetUserCorrection pins a match chosen by the user. It overrides any
// existing entry and is immune to CacheSet, CacheSetFailed, and purging.
func (s *Store) CacheSetUserCorrection(ctx context.Context, groupID, streamID int64, name string, ev *sports.Event, generation int64) error {
	snapshot, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event snapshot: %w", err)
	}
	fp := Fingerprint(groupID, streamID, name)
	now := utcNow()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO stream_match_cache
			(fingerprint, group_id, stream_id, stream_name, event_id, event_provider,
			 league, event_json, match_method, failed, user_corrected,
			 last_seen_generation, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'user_corrected', 0, 1, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
			event_id = excluded.event_id,
			event_provider = excluded.event_provider,
			league = excluded.league,
			event_json = excluded.event_json,
			match_method = 'user_corrected',
			failed = 0,
			user_corrected = 1,
			last_seen_generation = excluded.last_seen_generation,
			updated_at = excluded.updated_at`,
		fp, groupID, streamID, name, ev.ID, ev.Provider, ev.League, snapshot,
		generation, now, now)
	return err
}

// CacheRemoveUserCorrection unpins an entry so automation owns it again.
func (s *Store) CacheRemoveUserCorrection(ctx context.Context, groupID, streamID int64, name string) error {
	fp := Fingerprint(groupID, streamID, name)
	_, err := s.db.ExecContext(ctx,
		`UPDATE stream_match_cache SET user_corrected = 0, updated_at = ? WHERE fingerprint = ?`,
		utcNow(), fp)
	return err
}

// CacheDelete evicts a single key unconditionally. Used when a cached event
// no longer satisfies date or freshness invariants.
func (s *Store) CacheDelete(ctx context.Context, groupID, streamID int64, name string) error {
	fp := Fingerprint(groupID, streamID, name)
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM stream_match_cache WHERE fingerprint = ?`, fp)
	return err
}

// CachePurgeStale deletes non-pinned entries not seen for their horizon:
// successes after 5 generations, failures after 2. Returns counts.
func (s *Store) CachePurgeStale(ctx context.Context, currentGeneration int64) (successes, failures int64, err error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM stream_match_cache
		 WHERE user_corrected = 0 AND failed = 0
		   AND last_seen_generation < ?`,
		currentGeneration-cacheSuccessHorizon)
	if err != nil {
		return 0, 0, err
	}
	successes, _ = res.RowsAffected()
	res, err = s.db.ExecContext(ctx,
		`DELETE FROM stream_match_cache
		 WHERE user_corrected = 0 AND failed = 1
		   AND last_seen_generation < ?`,
		currentGeneration-cacheFailedHorizon)
	if err != nil {
		return successes, 0, err
	}
	failures, _ = res.RowsAffected()
	return successes, failures, nil
}

// CacheSize reports row counts for diagnostics.
func (s *Store) CacheSize(ctx context.Context) (total, failed, pinned int64, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*),
		COALESCE(SUM(failed), 0), COALESCE(SUM(user_corrected), 0)
		FROM stream_match_cache`).Scan(&total, &failed, &pinned)
	return
}
