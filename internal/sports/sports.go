// Package sports defines the domain model shared across the pipeline:
// provider events and teams, upstream streams, league mappings, and the
// status/segment vocabulary.
package sports

import (
	"strings"
	"time"
)

// Status is an event's lifecycle state, unified across providers.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusLive      Status = "live"
	StatusFinal     Status = "final"
	StatusPostponed Status = "postponed"
	StatusCancelled Status = "cancelled"
)

// IsFinal reports whether the status is terminal.
func (s Status) IsFinal() bool {
	return s == StatusFinal || s == StatusCancelled
}

// Segment is a division of a combat-sports card. Each segment can be
// channeled as its own programme.
type Segment string

const (
	SegmentEarlyPrelims Segment = "early_prelims"
	SegmentPrelims      Segment = "prelims"
	SegmentMainCard     Segment = "main_card"
	SegmentCombined     Segment = "combined"
)

// Team is a provider team record.
type Team struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ShortName    string `json:"short_name,omitempty"`
	Abbreviation string `json:"abbreviation,omitempty"`
	Nickname     string `json:"nickname,omitempty"`
	Location     string `json:"location,omitempty"`
	LogoURL      string `json:"logo_url,omitempty"`
	Record       string `json:"record,omitempty"`
	Streak       string `json:"streak,omitempty"`
}

// TeamStats carries the record/streak/standing detail the template engine
// renders. Fields are provider-best-effort; empty means unknown.
type TeamStats struct {
	TeamID     string `json:"team_id"`
	League     string `json:"league"`
	Wins       int    `json:"wins"`
	Losses     int    `json:"losses"`
	Ties       int    `json:"ties,omitempty"`
	Record     string `json:"record,omitempty"`
	Streak     string `json:"streak,omitempty"`
	Standing   string `json:"standing,omitempty"`
	PointsFor  int    `json:"points_for,omitempty"`
	PointsAgst int    `json:"points_against,omitempty"`
}

// Bout is one fight on a combat-sports card.
type Bout struct {
	Fighter1  string    `json:"fighter1"`
	Fighter2  string    `json:"fighter2"`
	Segment   Segment   `json:"segment,omitempty"`
	StartTime time.Time `json:"start_time,omitzero"`
	Order     int       `json:"order,omitempty"`
	IsTitle   bool      `json:"is_title,omitempty"`
}

// Odds is a best-effort betting line for an event.
type Odds struct {
	Details   string  `json:"details,omitempty"` // e.g. "DET -3.5"
	OverUnder float64 `json:"over_under,omitempty"`
	Favorite  string  `json:"favorite,omitempty"`
	Spread    float64 `json:"spread,omitempty"`
}

// Event is a match on a specific date. Produced by provider fetches and
// cached per (league, date); never mutated in place.
type Event struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	League    string    `json:"league"`
	Sport     string    `json:"sport,omitempty"`
	Name      string    `json:"name,omitempty"` // card/event name, e.g. "UFC 315: ..."
	ShortName string    `json:"short_name,omitempty"`
	StartTime time.Time `json:"start_time"` // UTC
	Status    Status    `json:"status"`
	HomeTeam  Team      `json:"home_team"`
	AwayTeam  Team      `json:"away_team"`
	HomeScore *int      `json:"home_score,omitempty"`
	AwayScore *int      `json:"away_score,omitempty"`
	Venue     string    `json:"venue,omitempty"`
	Broadcast []string  `json:"broadcast,omitempty"`
	Odds      *Odds     `json:"odds,omitempty"`

	// Combat sports only.
	SegmentTimes map[Segment]time.Time `json:"segment_times,omitempty"`
	Bouts        []Bout                `json:"bouts,omitempty"`
}

// IsFinal reports whether the event has reached a terminal status.
func (e *Event) IsFinal() bool { return e.Status.IsFinal() }

// EstimatedEnd returns start + the sport's typical duration.
func (e *Event) EstimatedEnd() time.Time {
	return e.StartTime.Add(SportDuration(e.Sport))
}

// SegmentStart returns the start instant for a card segment, falling back to
// the event start when segment data is missing. SegmentCombined always maps
// to the earliest known segment, or the event start.
func (e *Event) SegmentStart(seg Segment) time.Time {
	if len(e.SegmentTimes) == 0 {
		return e.StartTime
	}
	if seg == SegmentCombined || seg == "" {
		earliest := e.StartTime
		for _, t := range e.SegmentTimes {
			if t.Before(earliest) {
				earliest = t
			}
		}
		return earliest
	}
	if t, ok := e.SegmentTimes[seg]; ok {
		return t
	}
	return e.StartTime
}

// SegmentEnd returns the instant the given segment hands over to the next
// one, or the event's estimated end for the last segment.
func (e *Event) SegmentEnd(seg Segment) time.Time {
	start := e.SegmentStart(seg)
	end := e.EstimatedEnd()
	for _, t := range e.SegmentTimes {
		if t.After(start) && t.Before(end) {
			end = t
		}
	}
	return end
}

// Stream is an entry in the upstream aggregator's M3U group. Opaque to the
// pipeline except by name.
type Stream struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	TVGID     string `json:"tvg_id,omitempty"`
	GroupID   int64  `json:"group_id"`
	AccountID int64  `json:"account_id,omitempty"`
	URL       string `json:"url,omitempty"`
	Stale     bool   `json:"stale,omitempty"`
}

// LeagueMapping binds a canonical league code to one provider's identifiers.
// Loaded entirely into memory at service init; read-only afterwards.
type LeagueMapping struct {
	Code               string `json:"code"` // e.g. "nfl", "eng.1"
	Provider           string `json:"provider"`
	ProviderLeagueID   string `json:"provider_league_id,omitempty"`
	ProviderLeagueName string `json:"provider_league_name,omitempty"`
	Sport              string `json:"sport"`
	DisplayName        string `json:"display_name"`
	Alias              string `json:"alias,omitempty"`
	LogoURL            string `json:"logo_url,omitempty"`
	EventCard          bool   `json:"event_card"` // dominant event type is a fight card
}

// sportDurations is the per-sport typical event length used for estimated
// ends, yesterday-spillover checks, and XMLTV stop times.
var sportDurations = map[string]time.Duration{
	"football":   3*time.Hour + 30*time.Minute,
	"basketball": 2*time.Hour + 30*time.Minute,
	"baseball":   3 * time.Hour,
	"hockey":     2*time.Hour + 45*time.Minute,
	"soccer":     2 * time.Hour,
	"mma":        6 * time.Hour,
	"boxing":     5 * time.Hour,
	"cricket":    8 * time.Hour,
	"rugby":      2 * time.Hour,
	"tennis":     3 * time.Hour,
	"motorsport": 3 * time.Hour,
	"golf":       6 * time.Hour,
}

const defaultSportDuration = 3 * time.Hour

// SportDuration returns the typical event length for a sport name.
func SportDuration(sport string) time.Duration {
	if d, ok := sportDurations[strings.ToLower(strings.TrimSpace(sport))]; ok {
		return d
	}
	return defaultSportDuration
}

// TVGIDPrefix is the namespace for channels this system owns in the external
// aggregator. The orphan sweep keys off this prefix.
const TVGIDPrefix = "teamarr-event-"

// EventTVGID derives the stable tvg-id for a managed event channel.
func EventTVGID(provider, eventID string) string {
	return TVGIDPrefix + provider + "-" + eventID
}

// MatchupTitle renders the default "<Away> @ <Home>" title.
func (e *Event) MatchupTitle() string {
	away := strings.TrimSpace(e.AwayTeam.Name)
	home := strings.TrimSpace(e.HomeTeam.Name)
	if away == "" && home == "" {
		if e.Name != "" {
			return e.Name
		}
		return e.ShortName
	}
	return away + " @ " + home
}
