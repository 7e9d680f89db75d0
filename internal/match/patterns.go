package match

import (
	"math"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/teamarr/teamarr/internal/normalize"
	"github.com/teamarr/teamarr/internal/sports"
)

// sideThreshold is the minimum per-team score for a pair candidate to
// count. Both parsed teams must clear it against the same event.
const sideThreshold = 0.75

// Shared metric instances; their Compare methods are read-only.
var (
	jaroWinkler = metrics.NewJaroWinkler()
	levenshtein = metrics.NewLevenshtein()
)

// patternSet returns the canonical name forms one event team is scored
// against: full name, short name, abbreviation, nickname, location, and the
// location+nickname and abbreviation+nickname composites that stream names
// favor ("TB Buccaneers"). All entries are Key-normalized and deduplicated.
func patternSet(t sports.Team) []string {
	raw := []string{t.Name, t.ShortName, t.Abbreviation, t.Nickname, t.Location}
	if t.Location != "" && t.Nickname != "" {
		raw = append(raw, t.Location+" "+t.Nickname)
	}
	if t.Abbreviation != "" && t.Nickname != "" {
		raw = append(raw, t.Abbreviation+" "+t.Nickname)
	}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		k := normalize.Key(r)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// scoreName scores a Key-normalized parsed token against a pattern set. An
// exact form wins outright, a whole-token containment ("yankees" inside
// "new york yankees") is nearly as strong, and otherwise the best string
// metric decides. Containment needs at least 3 characters on the contained
// side so bare "ny" cannot claim every New York franchise.
func scoreName(parsed string, patterns []string) float64 {
	best := 0.0
	for _, p := range patterns {
		switch {
		case parsed == p:
			return 1.0
		case len(parsed) >= 3 && tokenContains(p, parsed),
			len(p) >= 3 && tokenContains(parsed, p):
			if best < 0.95 {
				best = 0.95
			}
		default:
			s := strutil.Similarity(parsed, p, jaroWinkler)
			if l := strutil.Similarity(parsed, p, levenshtein); l > s {
				s = l
			}
			if s > best {
				best = s
			}
		}
	}
	return best
}

// tokenContains reports whether needle's tokens appear as a contiguous run
// inside hay's tokens.
func tokenContains(hay, needle string) bool {
	h := strings.Fields(hay)
	n := strings.Fields(needle)
	if len(n) == 0 || len(n) > len(h) {
		return false
	}
	for i := 0; i+len(n) <= len(h); i++ {
		ok := true
		for j := range n {
			if h[i+j] != n[j] {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// sideScore scores one parsed team token against one event team. The user
// alias table short-circuits at full confidence when it maps the token to
// this exact team.
func sideScore(raw, key string, team sports.Team, aliases map[string]string) (float64, bool) {
	if len(aliases) > 0 {
		if name, ok := aliasTarget(raw, key, aliases); ok && name == team.Name {
			return 1.0, true
		}
	}
	return scoreName(key, patternSet(team)), false
}

func aliasTarget(raw, key string, aliases map[string]string) (string, bool) {
	if name, ok := aliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return name, true
	}
	if name, ok := aliases[key]; ok {
		return name, true
	}
	return "", false
}

// pairMatch is the best orientation's verdict for one candidate event.
type pairMatch struct {
	ok       bool
	score    float64 // mean of the two side scores
	viaAlias bool    // both sides resolved through the alias table
	best1    float64 // team1's best side score in either orientation
	best2    float64
}

// matchPair scores both orientations of (team1, team2) against an event's
// home and away teams and keeps the stronger one. A candidate only counts
// when both sides clear the threshold against the same orientation.
func matchPair(raw1, raw2, key1, key2 string, ev *sports.Event, aliases map[string]string) pairMatch {
	s1h, a1h := sideScore(raw1, key1, ev.HomeTeam, aliases)
	s1a, a1a := sideScore(raw1, key1, ev.AwayTeam, aliases)
	s2h, a2h := sideScore(raw2, key2, ev.HomeTeam, aliases)
	s2a, a2a := sideScore(raw2, key2, ev.AwayTeam, aliases)

	out := pairMatch{best1: math.Max(s1h, s1a), best2: math.Max(s2h, s2a)}
	if s1h >= sideThreshold && s2a >= sideThreshold {
		out.ok = true
		out.score = (s1h + s2a) / 2
		out.viaAlias = a1h && a2a
	}
	if s1a >= sideThreshold && s2h >= sideThreshold {
		if sc := (s1a + s2h) / 2; !out.ok || sc > out.score {
			out.ok = true
			out.score = sc
			out.viaAlias = a1a && a2h
		}
	}
	return out
}
