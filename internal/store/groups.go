package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/teamarr/teamarr/internal/classify"
)

// Duplicate-event handling within one group.
const (
	DuplicateConsolidate = "consolidate"
	DuplicateSeparate    = "separate"
	DuplicateIgnore      = "ignore"
)

// Overlap handling when a multi-league group competes with a single-league
// group for the same event.
const (
	OverlapAddStream = "add_stream"
	OverlapAddOnly   = "add_only"
	OverlapCreateAll = "create_all"
	OverlapSkip      = "skip"
)

// Channel create/delete timing policies.
const (
	CreateSameDay         = "same_day"
	CreateStreamAvailable = "stream_available"
	CreateDayBefore       = "day_before"
	CreateTwoDaysBefore   = "2_days_before"
	CreateThreeDaysBefore = "3_days_before"
	CreateWeekBefore      = "1_week_before"
	CreateManual          = "manual"

	DeleteStreamRemoved = "stream_removed"
	DeleteSameDay       = "same_day"
	DeleteDayAfter      = "day_after"
	DeleteTwoDaysAfter  = "2_days_after"
	DeleteThreeDaysAfter = "3_days_after"
	DeleteWeekAfter     = "1_week_after"
)

// Sort orders for matched streams within a group.
const (
	SortTime       = "time"
	SortSportTime  = "sport_time"
	SortLeagueTime = "league_time"
)

// EventEPGGroup is the user configuration bundle tying an upstream stream
// collection to leagues, template, numbering, and policies.
type EventEPGGroup struct {
	ID                 int64
	Name               string
	Enabled            bool
	Leagues            []string
	TemplateID         *int64
	M3UGroupID         int64
	DuplicateMode      string
	OverlapHandling    string
	CreateTiming       string
	DeleteTiming       string
	ChannelStartNumber int
	AssignmentMode     string // manual | auto
	SortOrder          int
	ChannelSortOrder   string
	ParentGroupID      *int64
	IncludeRegex       string
	ExcludeRegex       string
	CustomRegex        *classify.CustomRegexConfig
	TeamInclude        []string
	TeamExclude        []string
	IncludeFinalEvents bool
	TotalStreamCount   int
	ExceptionKeywords  []string
	DaysAhead          int
	FillerPregame      bool
	FillerPostgame     bool
	FillerIdle         bool
	RequireEventPattern bool
	StreamProfileID    *int64
	ChannelProfileID   *int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// MultiLeague reports whether the group spans more than one league.
func (g *EventEPGGroup) MultiLeague() bool { return len(g.Leagues) > 1 }

// IsChild reports whether the group augments a parent's channels.
func (g *EventEPGGroup) IsChild() bool { return g.ParentGroupID != nil }

const groupColumns = `id, name, enabled, leagues, template_id, m3u_group_id,
	duplicate_mode, overlap_handling, create_timing, delete_timing,
	channel_start_number, assignment_mode, sort_order, channel_sort_order,
	parent_group_id, include_regex, exclude_regex, custom_regex,
	team_include, team_exclude, include_final_events, total_stream_count,
	exception_keywords, days_ahead, filler_pregame, filler_postgame,
	filler_idle, require_event_pattern, stream_profile_id, channel_profile_id,
	created_at, updated_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanGroup(row rowScanner) (*EventEPGGroup, error) {
	var g EventEPGGroup
	var leagues, teamInc, teamExc, exKeywords, customRegex string
	var templateID, parentID, streamProfile, channelProfile sql.NullInt64
	var created, updated string
	err := row.Scan(&g.ID, &g.Name, &g.Enabled, &leagues, &templateID,
		&g.M3UGroupID, &g.DuplicateMode, &g.OverlapHandling, &g.CreateTiming,
		&g.DeleteTiming, &g.ChannelStartNumber, &g.AssignmentMode, &g.SortOrder,
		&g.ChannelSortOrder, &parentID, &g.IncludeRegex, &g.ExcludeRegex,
		&customRegex, &teamInc, &teamExc, &g.IncludeFinalEvents,
		&g.TotalStreamCount, &exKeywords, &g.DaysAhead, &g.FillerPregame,
		&g.FillerPostgame, &g.FillerIdle, &g.RequireEventPattern,
		&streamProfile, &channelProfile, &created, &updated)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(leagues), &g.Leagues)
	json.Unmarshal([]byte(teamInc), &g.TeamInclude)
	json.Unmarshal([]byte(teamExc), &g.TeamExclude)
	json.Unmarshal([]byte(exKeywords), &g.ExceptionKeywords)
	if customRegex != "" && customRegex != "{}" {
		var cr classify.CustomRegexConfig
		if json.Unmarshal([]byte(customRegex), &cr) == nil {
			g.CustomRegex = &cr
		}
	}
	if templateID.Valid {
		g.TemplateID = &templateID.Int64
	}
	if parentID.Valid {
		g.ParentGroupID = &parentID.Int64
	}
	if streamProfile.Valid {
		g.StreamProfileID = &streamProfile.Int64
	}
	if channelProfile.Valid {
		g.ChannelProfileID = &channelProfile.Int64
	}
	g.CreatedAt = parseTime(created)
	g.UpdatedAt = parseTime(updated)
	return &g, nil
}

// ListGroups returns all groups ordered by sort_order then id.
func (s *Store) ListGroups(ctx context.Context) ([]*EventEPGGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+groupColumns+` FROM event_epg_groups ORDER BY sort_order, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*EventEPGGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ListEnabledGroups returns only enabled groups, ordered by sort_order.
func (s *Store) ListEnabledGroups(ctx context.Context) ([]*EventEPGGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+groupColumns+` FROM event_epg_groups WHERE enabled = 1 ORDER BY sort_order, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*EventEPGGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// GetGroup returns one group by id, or nil when absent.
func (s *Store) GetGroup(ctx context.Context, id int64) (*EventEPGGroup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM event_epg_groups WHERE id = ?`, id)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return g, err
}

// SaveGroup inserts or updates a group and fills in defaults.
func (s *Store) SaveGroup(ctx context.Context, g *EventEPGGroup) error {
	if g.DuplicateMode == "" {
		g.DuplicateMode = DuplicateConsolidate
	}
	if g.OverlapHandling == "" {
		g.OverlapHandling = OverlapAddStream
	}
	if g.CreateTiming == "" {
		g.CreateTiming = CreateSameDay
	}
	if g.DeleteTiming == "" {
		g.DeleteTiming = DeleteDayAfter
	}
	if g.AssignmentMode == "" {
		g.AssignmentMode = "auto"
	}
	if g.ChannelSortOrder == "" {
		g.ChannelSortOrder = SortTime
	}
	if g.DaysAhead <= 0 {
		g.DaysAhead = 1
	}
	leagues, _ := json.Marshal(emptyIfNil(g.Leagues))
	teamInc, _ := json.Marshal(emptyIfNil(g.TeamInclude))
	teamExc, _ := json.Marshal(emptyIfNil(g.TeamExclude))
	exKeywords, _ := json.Marshal(emptyIfNil(g.ExceptionKeywords))
	customRegex := "{}"
	if g.CustomRegex != nil {
		b, err := json.Marshal(g.CustomRegex)
		if err != nil {
			return fmt.Errorf("encode custom regex: %w", err)
		}
		customRegex = string(b)
	}
	now := utcNow()
	if g.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO event_epg_groups (name, enabled, leagues, template_id,
				m3u_group_id, duplicate_mode, overlap_handling, create_timing,
				delete_timing, channel_start_number, assignment_mode, sort_order,
				channel_sort_order, parent_group_id, include_regex, exclude_regex,
				custom_regex, team_include, team_exclude, include_final_events,
				total_stream_count, exception_keywords, days_ahead, filler_pregame,
				filler_postgame, filler_idle, require_event_pattern,
				stream_profile_id, channel_profile_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			g.Name, g.Enabled, string(leagues), nullableInt(g.TemplateID),
			g.M3UGroupID, g.DuplicateMode, g.OverlapHandling, g.CreateTiming,
			g.DeleteTiming, g.ChannelStartNumber, g.AssignmentMode, g.SortOrder,
			g.ChannelSortOrder, nullableInt(g.ParentGroupID), g.IncludeRegex,
			g.ExcludeRegex, customRegex, string(teamInc), string(teamExc),
			g.IncludeFinalEvents, g.TotalStreamCount, string(exKeywords),
			g.DaysAhead, g.FillerPregame, g.FillerPostgame, g.FillerIdle,
			g.RequireEventPattern, nullableInt(g.StreamProfileID),
			nullableInt(g.ChannelProfileID), now, now)
		if err != nil {
			return err
		}
		g.ID, _ = res.LastInsertId()
		g.CreatedAt = parseTime(now)
		g.UpdatedAt = g.CreatedAt
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE event_epg_groups SET name=?, enabled=?, leagues=?, template_id=?,
			m3u_group_id=?, duplicate_mode=?, overlap_handling=?, create_timing=?,
			delete_timing=?, channel_start_number=?, assignment_mode=?, sort_order=?,
			channel_sort_order=?, parent_group_id=?, include_regex=?, exclude_regex=?,
			custom_regex=?, team_include=?, team_exclude=?, include_final_events=?,
			total_stream_count=?, exception_keywords=?, days_ahead=?, filler_pregame=?,
			filler_postgame=?, filler_idle=?, require_event_pattern=?,
			stream_profile_id=?, channel_profile_id=?, updated_at=?
		 WHERE id=?`,
		g.Name, g.Enabled, string(leagues), nullableInt(g.TemplateID),
		g.M3UGroupID, g.DuplicateMode, g.OverlapHandling, g.CreateTiming,
		g.DeleteTiming, g.ChannelStartNumber, g.AssignmentMode, g.SortOrder,
		g.ChannelSortOrder, nullableInt(g.ParentGroupID), g.IncludeRegex,
		g.ExcludeRegex, customRegex, string(teamInc), string(teamExc),
		g.IncludeFinalEvents, g.TotalStreamCount, string(exKeywords),
		g.DaysAhead, g.FillerPregame, g.FillerPostgame, g.FillerIdle,
		g.RequireEventPattern, nullableInt(g.StreamProfileID),
		nullableInt(g.ChannelProfileID), utcNow(), g.ID)
	return err
}

// SetGroupEnabled toggles a group without touching the rest of its config.
func (s *Store) SetGroupEnabled(ctx context.Context, id int64, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE event_epg_groups SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, utcNow(), id)
	return err
}

// SetGroupStartNumber records an auto-assigned manual start.
func (s *Store) SetGroupStartNumber(ctx context.Context, id int64, start int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE event_epg_groups SET channel_start_number = ?, updated_at = ? WHERE id = ?`,
		start, utcNow(), id)
	return err
}

func emptyIfNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func nullableInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
