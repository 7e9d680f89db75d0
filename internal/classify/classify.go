// Package classify assigns stream names to one of three categories and
// extracts the team pair or event hint the matchers consume.
package classify

import (
	"regexp"
	"strings"

	"github.com/teamarr/teamarr/internal/normalize"
	"github.com/teamarr/teamarr/internal/sports"
)

// Category is the classifier's verdict for one stream name.
type Category string

const (
	CategoryPlaceholder Category = "placeholder"
	CategoryTeamVsTeam  Category = "team_vs_team"
	CategoryEventCard   Category = "event_card"
)

// CustomRegexConfig lets a group override the built-in extraction patterns.
// Named capture groups team1/team2 are honored; otherwise groups 1 and 2.
type CustomRegexConfig struct {
	Enabled         bool   `json:"enabled"`
	TeamsPattern    string `json:"teams_pattern,omitempty"`
	FightersPattern string `json:"fighters_pattern,omitempty"`
	EventPattern    string `json:"event_pattern,omitempty"`
	DisableBuiltins bool   `json:"disable_builtins,omitempty"`
}

// ClassifiedStream is a stream plus everything classification derived from
// its name.
type ClassifiedStream struct {
	Stream      sports.Stream
	Category    Category
	Normalized  normalize.NormalizedStream
	Team1       string
	Team2       string
	EventHint   string
	CardSegment sports.Segment
	ViaCustom   bool // extraction came from a group's custom regex
}

// Classifier turns raw streams into classified ones. Safe for concurrent use;
// all state is read-only after construction.
type Classifier struct {
	Normalizer *normalize.Normalizer
	Leagues    *sports.LeagueIndex
}

func New(norm *normalize.Normalizer, leagues *sports.LeagueIndex) *Classifier {
	return &Classifier{Normalizer: norm, Leagues: leagues}
}

// placeholderNames match the whole cleaned name, lowercased.
var placeholderNames = map[string]struct{}{
	"tbd": {}, "tba": {}, "to be determined": {}, "to be announced": {},
	"placeholder": {}, "no event": {}, "no events": {}, "no game": {},
	"no games": {}, "no games today": {}, "off air": {}, "offline": {},
	"coming soon": {}, "next event": {}, "stay tuned": {}, "24 7": {},
	"standby": {}, "intermission": {},
}

// Team separators in priority order; first hit wins.
var separatorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\s+vs\.?\s+`),
	regexp.MustCompile(`(?i)\s+v\.?\s+`),
	regexp.MustCompile(`\s+@\s+`),
	regexp.MustCompile(`(?i)\s+at\s+`),
	regexp.MustCompile(`\s+-\s+`),
}

var cardKeywordPattern = regexp.MustCompile(`(?i)\b(main\s+card|early\s+prelims?|prelims?|main\s+event|co-?main|fight\s+night|ufc\s*\d+|bellator\s*\d+|pfl\s*\d+)\b`)

// Classify assigns a category using the group's league list and optional
// custom regex overrides.
func (c *Classifier) Classify(stream sports.Stream, groupLeagues []string, custom *CustomRegexConfig) ClassifiedStream {
	out := ClassifiedStream{Stream: stream}
	out.Normalized = c.Normalizer.Normalize(stream.Name)
	cleaned := out.Normalized.Cleaned

	if key := normalize.Key(cleaned); key == "" || isPlaceholderName(key) {
		out.Category = CategoryPlaceholder
		return out
	}

	// Custom regex first when enabled.
	if custom != nil && custom.Enabled {
		if hit := c.tryCustomRegex(&out, cleaned, custom); hit {
			return out
		}
		if custom.DisableBuiltins {
			out.Category = CategoryPlaceholder
			return out
		}
	}

	// Event-card detection: the configured leagues are dominantly card
	// leagues, or card keywords appear in the name.
	if c.isEventCard(cleaned, out.Normalized.LeagueHint, groupLeagues) {
		out.Category = CategoryEventCard
		out.EventHint = cleaned
		out.CardSegment = InferSegment(stream.Name)
		return out
	}

	// Team separator scan.
	if t1, t2, ok := splitTeams(cleaned); ok {
		out.Category = CategoryTeamVsTeam
		out.Team1, out.Team2 = t1, t2
		return out
	}

	// A league hint with no separator still goes to the team matcher so the
	// failure is recorded as teams-not-parsed rather than not-a-game.
	if out.Normalized.LeagueHint != "" {
		out.Category = CategoryTeamVsTeam
		return out
	}

	out.Category = CategoryPlaceholder
	return out
}

func (c *Classifier) tryCustomRegex(out *ClassifiedStream, cleaned string, custom *CustomRegexConfig) bool {
	if custom.TeamsPattern != "" {
		if re, err := regexp.Compile(custom.TeamsPattern); err == nil {
			if t1, t2, ok := captureTeams(re, cleaned); ok {
				out.Category = CategoryTeamVsTeam
				out.Team1, out.Team2 = t1, t2
				out.ViaCustom = true
				return true
			}
		}
	}
	if custom.FightersPattern != "" {
		if re, err := regexp.Compile(custom.FightersPattern); err == nil {
			if t1, t2, ok := captureTeams(re, cleaned); ok {
				out.Category = CategoryEventCard
				out.Team1, out.Team2 = t1, t2
				out.EventHint = cleaned
				out.CardSegment = InferSegment(out.Stream.Name)
				out.ViaCustom = true
				return true
			}
		}
	}
	if custom.EventPattern != "" {
		if re, err := regexp.Compile(custom.EventPattern); err == nil {
			if m := re.FindStringSubmatch(cleaned); m != nil {
				hint := m[0]
				if len(m) > 1 && m[1] != "" {
					hint = m[1]
				}
				out.Category = CategoryEventCard
				out.EventHint = hint
				out.CardSegment = InferSegment(out.Stream.Name)
				out.ViaCustom = true
				return true
			}
		}
	}
	return false
}

func captureTeams(re *regexp.Regexp, s string) (string, string, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return "", "", false
	}
	names := re.SubexpNames()
	var t1, t2 string
	for i, n := range names {
		switch n {
		case "team1":
			t1 = m[i]
		case "team2":
			t2 = m[i]
		}
	}
	if t1 == "" && t2 == "" && len(m) >= 3 {
		t1, t2 = m[1], m[2]
	}
	t1, t2 = strings.TrimSpace(t1), strings.TrimSpace(t2)
	return t1, t2, t1 != "" && t2 != ""
}

func (c *Classifier) isEventCard(cleaned, leagueHint string, groupLeagues []string) bool {
	if cardKeywordPattern.MatchString(cleaned) {
		return true
	}
	if c.Leagues == nil {
		return false
	}
	if leagueHint != "" && c.Leagues.IsEventCard(leagueHint) {
		return true
	}
	if len(groupLeagues) == 0 {
		return false
	}
	card := 0
	for _, code := range groupLeagues {
		if c.Leagues.IsEventCard(code) {
			card++
		}
	}
	return card*2 > len(groupLeagues)
}

func isPlaceholderName(key string) bool {
	_, ok := placeholderNames[key]
	return ok
}

func splitTeams(s string) (string, string, bool) {
	for _, re := range separatorPatterns {
		loc := re.FindStringIndex(s)
		if loc == nil {
			continue
		}
		t1 := strings.TrimSpace(s[:loc[0]])
		t2 := strings.TrimSpace(s[loc[1]:])
		// Strip trailing feed qualifiers from team2 ("... (Spanish)").
		t2 = trailingParens.ReplaceAllString(t2, "")
		t2 = strings.TrimSpace(t2)
		if t1 == "" || t2 == "" {
			continue
		}
		return t1, t2, true
	}
	return "", "", false
}

var trailingParens = regexp.MustCompile(`\s*\([^)]*\)\s*$`)

// InferSegment reads the card segment out of a stream name.
func InferSegment(name string) sports.Segment {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "early prelim"):
		return sports.SegmentEarlyPrelims
	case strings.Contains(lower, "prelim"):
		return sports.SegmentPrelims
	case strings.Contains(lower, "main card"):
		return sports.SegmentMainCard
	default:
		return sports.SegmentCombined
	}
}
