package match

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/teamarr/teamarr/internal/classify"
	"github.com/teamarr/teamarr/internal/normalize"
	"github.com/teamarr/teamarr/internal/sports"
)

// EventCardMatcher resolves event-card streams (UFC, boxing) with a
// three-tier ladder: organization+number compare, keyword overlap, fighter
// last name. Card matching is date-bound; only the target day is searched.
type EventCardMatcher struct {
	Events EventsFunc
	Log    logrus.FieldLogger
}

// CardQuery carries one classified card stream through the ladder.
type CardQuery struct {
	Stream     classify.ClassifiedStream
	Leagues    []string
	TargetDate time.Time
}

var eventNumberPattern = regexp.MustCompile(`\b(ufc|bellator|pfl|one|dwcs|glory)\s*(\d{1,4})\b`)

// Match tries each league in order and returns the first hit. When events
// existed but none matched, the failure is a card mismatch rather than an
// empty day.
func (m *EventCardMatcher) Match(ctx context.Context, q CardQuery) Outcome {
	// The original name, not the cleaned one: league extraction masks the
	// organization token ("UFC") that the number tier needs.
	key := normalize.Key(q.Stream.Normalized.Original)
	sawEvents := false
	for _, league := range q.Leagues {
		evs, err := m.Events(ctx, league, q.TargetDate)
		if err != nil {
			if m.Log != nil {
				m.Log.WithError(err).WithField("league", league).Warn("card candidate fetch failed")
			}
			continue
		}
		if len(evs) == 0 {
			continue
		}
		sawEvents = true
		if out, ok := m.matchLeague(key, league, evs, q.Stream.CardSegment); ok {
			return out
		}
	}
	if !sawEvents {
		return Outcome{Category: CategoryFailed, Reason: ReasonNoEvents}
	}
	return Outcome{Category: CategoryFailed, Reason: ReasonNoCardMatch}
}

func (m *EventCardMatcher) matchLeague(key, league string, evs []sports.Event, seg sports.Segment) (Outcome, bool) {
	// Tier 1: organization and card number, "UFC 315" style. Exact compare
	// after number extraction.
	if org, num, ok := extractEventNumber(key); ok {
		for i := range evs {
			if eo, en, ok2 := extractEventNumber(normalize.Key(evs[i].Name)); ok2 && eo == org && en == num {
				return cardHit(&evs[i], league, MethodKeyword, 1.0, seg), true
			}
		}
	}

	// Tier 2: keyword. A lone event on the date is taken on faith; with
	// several, require two overlapping words with the event name.
	if len(evs) == 1 {
		return cardHit(&evs[0], league, MethodKeyword, 0.9, seg), true
	}
	for i := range evs {
		if wordOverlap(key, normalize.Key(evs[i].Name)) >= 2 {
			return cardHit(&evs[i], league, MethodKeyword, 0.9, seg), true
		}
	}

	// Tier 3: a fighter's last name, at least 4 characters, appearing in
	// the stream name.
	for i := range evs {
		for _, f := range fighterNames(&evs[i]) {
			last := lastNameToken(f)
			if len(last) >= 4 && strings.Contains(key, last) {
				return cardHit(&evs[i], league, MethodFuzzy, 0.75, seg), true
			}
		}
	}
	return Outcome{}, false
}

func cardHit(ev *sports.Event, league string, method Method, conf float64, seg sports.Segment) Outcome {
	if ev.League != "" {
		league = ev.League
	}
	return Outcome{
		Category:    CategoryMatched,
		Event:       ev,
		League:      league,
		Method:      method,
		Origin:      method,
		Confidence:  conf,
		CardSegment: seg,
	}
}

// extractEventNumber pulls an organization token and card number from a
// Key-normalized name. Numbers compare as integers so "097" equals "97".
func extractEventNumber(key string) (string, int, bool) {
	m := eventNumberPattern.FindStringSubmatch(key)
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], n, true
}

// wordOverlap counts distinct tokens two Key-normalized names share.
// Single-character tokens are ignored.
func wordOverlap(a, b string) int {
	seen := make(map[string]struct{})
	for _, t := range strings.Fields(a) {
		if len(t) >= 2 {
			seen[t] = struct{}{}
		}
	}
	n := 0
	for _, t := range strings.Fields(b) {
		if _, ok := seen[t]; ok {
			n++
			delete(seen, t)
		}
	}
	return n
}

// fighterNames collects every fighter attached to a card event: the
// headline pair on the event itself plus everyone on the bout list.
func fighterNames(ev *sports.Event) []string {
	var names []string
	if ev.HomeTeam.Name != "" {
		names = append(names, ev.HomeTeam.Name)
	}
	if ev.AwayTeam.Name != "" {
		names = append(names, ev.AwayTeam.Name)
	}
	for _, b := range ev.Bouts {
		if b.Fighter1 != "" {
			names = append(names, b.Fighter1)
		}
		if b.Fighter2 != "" {
			names = append(names, b.Fighter2)
		}
	}
	return names
}

func lastNameToken(name string) string {
	fields := strings.Fields(normalize.Key(name))
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
