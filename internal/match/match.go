// Package match resolves classified IPTV streams to provider events. The
// unified StreamMatcher owns cache orchestration and fetch policy; the
// TeamMatcher and EventCardMatcher below it are pure ladders that score
// candidates handed to them. Verdicts fall into three categories: matched
// (an event was found), failed (the ladder ran out), and filtered (the
// stream never reached the ladder).
package match

import (
	"github.com/teamarr/teamarr/internal/sports"
)

// Method identifies the tier that produced a match.
type Method string

const (
	MethodAlias   Method = "ALIAS"
	MethodFuzzy   Method = "FUZZY"
	MethodKeyword Method = "KEYWORD"
	MethodCache   Method = "CACHE"

	// MethodUserCorrected is the origin recorded for pinned entries; it is
	// never produced by the automated ladders.
	MethodUserCorrected Method = "user_corrected"
)

// Category is the coarse verdict class for one stream.
type Category string

const (
	CategoryMatched  Category = "matched"
	CategoryFailed   Category = "failed"
	CategoryFiltered Category = "filtered"
)

// Failure reasons: the ladder ran and found nothing.
const (
	ReasonNoEvents       = "no_events_found"
	ReasonTeamsNotParsed = "teams_not_parsed"
	ReasonTeam1NotFound  = "team1_not_found"
	ReasonTeam2NotFound  = "team2_not_found"
	ReasonNoCardMatch    = "no_event_card_match"
	ReasonCachedFailure  = "cached_failure"
)

// Filter reasons: the stream was excluded before any candidates were scored.
const (
	ReasonUnclassifiable   = "unclassifiable"
	ReasonLeagueNotEnabled = "league_not_enabled"
	ReasonStaleStream      = "stale_stream"
)

// ReasonEventFinal excludes a matched stream whose event already ended and
// whose group does not keep finished events.
const ReasonEventFinal = "event_final"

// LeagueNotIncluded is the exclusion reason for a stream that matched an
// event in a league outside the group's include set.
func LeagueNotIncluded(league string) string { return "league_not_included:" + league }

// Outcome is the raw verdict one matcher produces for one stream.
type Outcome struct {
	Category    Category
	Event       *sports.Event // nil unless matched
	League      string        // league of the matched event
	Method      Method
	Origin      Method // tier that first produced a cached hit; equals Method on fresh matches
	Confidence  float64
	FromCache   bool
	Reason      string // failure or filter reason, empty when matched
	CardSegment sports.Segment
}

// Gate applies the inclusion rule to a matched event: included means the
// detected league is in the group's include set and the event is either not
// final or the group keeps finished events. The second return is the
// exclusion reason when the gate rejects.
func Gate(league string, include []string, includeFinal, final bool) (bool, string) {
	if !containsString(include, league) {
		return false, LeagueNotIncluded(league)
	}
	if final && !includeFinal {
		return false, ReasonEventFinal
	}
	return true, ""
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
