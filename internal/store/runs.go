package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// Run status values.
const (
	RunRunning = "running"
	RunSuccess = "success"
	RunFailed  = "failed"
)

// ProcessingRun is the audit record for one top-level generation run.
type ProcessingRun struct {
	ID              string
	Generation      int64
	Trigger         string // cron | api | startup
	Status          string
	StartedAt       time.Time
	FinishedAt      *time.Time
	GroupsProcessed int
	StreamsTotal    int
	StreamsMatched  int
	ChannelsCreated int
	ChannelsDeleted int
	Errors          []string
}

// CreateRun opens a run record in status running.
func (s *Store) CreateRun(ctx context.Context, id string, generation int64, trigger string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processing_runs (id, generation, trigger, status, started_at, errors)
		 VALUES (?, ?, ?, ?, ?, '[]')`,
		id, generation, trigger, RunRunning, utcNow())
	return err
}

// FinishRun closes a run with its terminal status and aggregated stats.
func (s *Store) FinishRun(ctx context.Context, run *ProcessingRun) error {
	errsJSON, _ := json.Marshal(emptyIfNil(run.Errors))
	_, err := s.db.ExecContext(ctx,
		`UPDATE processing_runs
		 SET status = ?, finished_at = ?, groups_processed = ?, streams_total = ?,
			 streams_matched = ?, channels_created = ?, channels_deleted = ?, errors = ?
		 WHERE id = ?`,
		run.Status, utcNow(), run.GroupsProcessed, run.StreamsTotal,
		run.StreamsMatched, run.ChannelsCreated, run.ChannelsDeleted,
		string(errsJSON), run.ID)
	return err
}

// GetRun returns one run by id, or nil.
func (s *Store) GetRun(ctx context.Context, id string) (*ProcessingRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, generation, trigger, status, started_at, finished_at,
			groups_processed, streams_total, streams_matched, channels_created,
			channels_deleted, errors
		 FROM processing_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// RecentRuns returns the latest runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]*ProcessingRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, generation, trigger, status, started_at, finished_at,
			groups_processed, streams_total, streams_matched, channels_created,
			channels_deleted, errors
		 FROM processing_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ProcessingRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRun(row rowScanner) (*ProcessingRun, error) {
	var r ProcessingRun
	var started string
	var finished sql.NullString
	var errsJSON string
	err := row.Scan(&r.ID, &r.Generation, &r.Trigger, &r.Status, &started,
		&finished, &r.GroupsProcessed, &r.StreamsTotal, &r.StreamsMatched,
		&r.ChannelsCreated, &r.ChannelsDeleted, &errsJSON)
	if err != nil {
		return nil, err
	}
	r.StartedAt = parseTime(started)
	r.FinishedAt = scanNullableTime(finished)
	json.Unmarshal([]byte(errsJSON), &r.Errors)
	return &r, nil
}

// MatchedStreamRow is the audit row written for each matched stream.
type MatchedStreamRow struct {
	GroupID           int64
	StreamID          int64
	StreamName        string
	League            string
	EventID           string
	EventProvider     string
	MatchMethod       string
	OriginMatchMethod string
	Confidence        float64
	Included          bool
	ExclusionReason   string
	Team1             string
	Team2             string
	CardSegment       string
}

// RecordMatchedStream writes one matched-stream audit row.
func (s *Store) RecordMatchedStream(ctx context.Context, runID string, m MatchedStreamRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO matched_streams (run_id, group_id, stream_id, stream_name,
			league, event_id, event_provider, match_method, origin_match_method,
			confidence, included, exclusion_reason, team1, team2, card_segment,
			created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, m.GroupID, m.StreamID, m.StreamName, m.League, m.EventID,
		m.EventProvider, m.MatchMethod, m.OriginMatchMethod, m.Confidence,
		m.Included, m.ExclusionReason, m.Team1, m.Team2, m.CardSegment, utcNow())
	return err
}

// FailedMatchRow is the audit row written for each stream that failed to match.
type FailedMatchRow struct {
	GroupID    int64
	StreamID   int64
	StreamName string
	Category   string
	Reason     string
	Team1      string
	Team2      string
}

// RecordFailedMatch writes one failed-match audit row.
func (s *Store) RecordFailedMatch(ctx context.Context, runID string, f FailedMatchRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO failed_matches (run_id, group_id, stream_id, stream_name,
			category, reason, team1, team2, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, f.GroupID, f.StreamID, f.StreamName, f.Category, f.Reason,
		f.Team1, f.Team2, utcNow())
	return err
}

// PruneRunHistory deletes audit rows for runs older than keep days. The run
// rows themselves stay; matched/failed detail is the bulky part.
func (s *Store) PruneRunHistory(ctx context.Context, olderThan time.Time) (int64, error) {
	cutoff := formatTime(olderThan)
	var total int64
	for _, table := range []string{"matched_streams", "failed_matches"} {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE run_id IN
				(SELECT id FROM processing_runs WHERE started_at < ?)`, cutoff)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
