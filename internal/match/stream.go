package match

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/teamarr/teamarr/internal/classify"
	"github.com/teamarr/teamarr/internal/providers"
	"github.com/teamarr/teamarr/internal/sports"
	"github.com/teamarr/teamarr/internal/store"
)

// Result is the per-stream record a group's matching pass emits. Lifecycle
// and XMLTV generation consume these; nothing downstream re-runs a matcher.
type Result struct {
	Stream           sports.Stream
	Category         classify.Category
	Matched          bool
	Event            *sports.Event
	League           string // league of the matched event, empty when unmatched
	DetectedLeague   string // matched league, or the name's league hint when unmatched
	Included         bool
	ExclusionReason  string
	Method           Method
	Origin           Method
	Confidence       float64
	FromCache        bool
	Team1            string
	Team2            string
	CardSegment      sports.Segment
	IsException      bool
	ExceptionKeyword string
}

// SharedEvents is the per-run (league, day) event pool. Groups processed in
// the same run consult it before the provider layer, so each league-day
// pair is fetched at most once per run no matter how many groups need it.
type SharedEvents struct {
	mu     sync.Mutex
	events map[string][]sports.Event
}

func NewSharedEvents() *SharedEvents {
	return &SharedEvents{events: make(map[string][]sports.Event)}
}

func (s *SharedEvents) get(league string, day time.Time) ([]sports.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evs, ok := s.events[sharedKey(league, day)]
	return evs, ok
}

func (s *SharedEvents) put(league string, day time.Time, evs []sports.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[sharedKey(league, day)] = evs
}

// Len reports how many league-day pairs the pool holds.
func (s *SharedEvents) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func sharedKey(league string, day time.Time) string {
	return league + "|" + day.Format("2006-01-02")
}

// StreamMatcher is the single entry point for a group's matching pass. It
// owns the match cache, the prefetch policy, and per-stream routing to the
// team and card ladders.
type StreamMatcher struct {
	Store      *store.Store
	Providers  *providers.Service
	Leagues    *sports.LeagueIndex
	Classifier *classify.Classifier
	UserTZ     *time.Location
	Log        logrus.FieldLogger
	Now        func() time.Time
}

// groupPass is the per-group state for one matching pass.
type groupPass struct {
	m       *StreamMatcher
	group   *store.EventEPGGroup
	gen     int64
	shared  *SharedEvents
	target  time.Time // user-TZ midnight of the target day
	now     time.Time
	team    *TeamMatcher
	card    *EventCardMatcher
	aliases map[string]map[string]string
}

// MatchGroup runs the matching pass for one group. The generation counter
// is shared by every group in a run, so cache staleness is measured across
// runs rather than within one. shared may be nil for a standalone pass.
func (m *StreamMatcher) MatchGroup(ctx context.Context, group *store.EventEPGGroup, streams []sports.Stream, generation int64, shared *SharedEvents) ([]Result, error) {
	if shared == nil {
		shared = NewSharedEvents()
	}
	now := m.nowFn()
	p := &groupPass{
		m:      m,
		group:  group,
		gen:    generation,
		shared: shared,
		target: dayStart(now, m.UserTZ),
		now:    now,
	}
	p.team = &TeamMatcher{
		Events:  p.eventsFor,
		Aliases: p.aliasesFor,
		UserTZ:  m.UserTZ,
		Log:     m.Log,
		Now:     func() time.Time { return now },
	}
	p.card = &EventCardMatcher{Events: p.eventsFor, Log: m.Log}

	p.prefetch(ctx)

	results := make([]Result, 0, len(streams))
	var matched, cached, failed, filtered int
	for _, st := range streams {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r := p.matchStream(ctx, st)
		switch {
		case r.Matched && r.FromCache:
			matched++
			cached++
		case r.Matched:
			matched++
		case r.Category == classify.CategoryPlaceholder || r.ExclusionReason == ReasonStaleStream || r.ExclusionReason == ReasonLeagueNotEnabled:
			filtered++
		default:
			failed++
		}
		results = append(results, r)
	}

	if succ, fail, err := m.Store.CachePurgeStale(ctx, generation); err != nil {
		m.Log.WithError(err).Warn("match cache purge failed")
	} else if succ+fail > 0 {
		m.Log.WithFields(logrus.Fields{"successes": succ, "failures": fail}).Debug("purged stale match cache entries")
	}

	m.Log.WithFields(logrus.Fields{
		"group":    group.Name,
		"streams":  len(streams),
		"matched":  matched,
		"cached":   cached,
		"failed":   failed,
		"filtered": filtered,
	}).Info("stream matching pass complete")
	return results, nil
}

func (m *StreamMatcher) nowFn() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// prefetch warms the provider layer for multi-league groups, where fetching
// per stream would be quadratic. Only the group's own leagues over the
// forward window hit the network; everything else resolves from cache when
// a stream actually asks.
func (p *groupPass) prefetch(ctx context.Context) {
	if len(p.group.Leagues) <= 1 {
		return
	}
	stats := p.m.Providers.Prefetch(ctx, p.group.Leagues, p.target, p.target.AddDate(0, 0, p.group.DaysAhead))
	p.m.Log.WithFields(logrus.Fields{
		"group":   p.group.Name,
		"tasks":   stats.Tasks,
		"fetched": stats.Fetched,
		"cached":  stats.Cached,
		"errors":  stats.Errors,
	}).Debug("group prefetch complete")
}

// eventsFor resolves one (league, day) through the shared pool, then the
// provider layer. Network fetches are reserved for the group's own leagues
// on the spillover day or later; past days and foreign leagues read the
// provider cache only, so a group can recognize an out-of-scope event
// without paying for it.
func (p *groupPass) eventsFor(ctx context.Context, league string, day time.Time) ([]sports.Event, error) {
	if evs, ok := p.shared.get(league, day); ok {
		return evs, nil
	}
	allowNet := containsString(p.group.Leagues, league) && !day.Before(p.target.AddDate(0, 0, -1))
	if !allowNet {
		evs, ok := p.m.Providers.CachedEvents(league, day)
		if !ok {
			return nil, nil
		}
		p.shared.put(league, day, evs)
		return evs, nil
	}
	evs, err := p.m.Providers.Events(ctx, league, day)
	if err != nil {
		return nil, err
	}
	p.shared.put(league, day, evs)
	return evs, nil
}

func (p *groupPass) aliasesFor(ctx context.Context, league string) map[string]string {
	if a, ok := p.aliases[league]; ok {
		return a
	}
	a, err := p.m.Store.TeamAliases(ctx, league)
	if err != nil {
		p.m.Log.WithError(err).WithField("league", league).Warn("team alias load failed")
		a = nil
	}
	if p.aliases == nil {
		p.aliases = make(map[string]map[string]string)
	}
	p.aliases[league] = a
	return a
}

// matchStream resolves one stream: stale and placeholder short-circuits,
// then the cache, then a fresh run of the appropriate ladder.
func (p *groupPass) matchStream(ctx context.Context, st sports.Stream) Result {
	if st.Stale {
		return p.finish(st, classify.ClassifiedStream{Stream: st}, Outcome{Category: CategoryFiltered, Reason: ReasonStaleStream})
	}

	cs := p.m.Classifier.Classify(st, p.group.Leagues, p.group.CustomRegex)
	if cs.Category == classify.CategoryPlaceholder {
		// Not a failure, "not a game". Never cached: the name may turn
		// into a real matchup tomorrow.
		return p.finish(st, cs, Outcome{Category: CategoryFiltered, Reason: ReasonUnclassifiable})
	}

	if out, ok := p.fromCache(ctx, st); ok {
		return p.finish(st, cs, out)
	}

	var out Outcome
	switch cs.Category {
	case classify.CategoryEventCard:
		out = p.card.Match(ctx, CardQuery{
			Stream:     cs,
			Leagues:    p.cardLeagues(cs),
			TargetDate: p.target,
		})
	default:
		out = p.team.Match(ctx, TeamQuery{
			Stream:        cs,
			TargetDate:    p.target,
			SearchLeagues: p.searchLeagues(),
			GroupLeagues:  p.group.Leagues,
			MultiLeague:   len(p.group.Leagues) > 1,
			DaysAhead:     p.group.DaysAhead,
		})
	}

	p.record(ctx, st, out)
	return p.finish(st, cs, out)
}

// fromCache serves a cached verdict when one exists and still holds. A
// success whose event day has slipped behind the target is evicted and
// rematched, since its status may have flipped to final. Failed sentinels
// are honored but never touched, so the short failure horizon forces a
// periodic retry.
func (p *groupPass) fromCache(ctx context.Context, st sports.Stream) (Outcome, bool) {
	entry, err := p.m.Store.CacheGet(ctx, p.group.ID, st.ID, st.Name, true)
	if err != nil {
		p.m.Log.WithError(err).WithField("stream", st.Name).Warn("match cache read failed")
		return Outcome{}, false
	}
	if entry == nil {
		return Outcome{}, false
	}
	if entry.Failed {
		return Outcome{
			Category:  CategoryFailed,
			Method:    MethodCache,
			Reason:    ReasonCachedFailure,
			FromCache: true,
		}, true
	}
	ev, err := entry.Event()
	if err != nil {
		p.m.Log.WithError(err).WithField("stream", st.Name).Warn("cached event snapshot unreadable, evicting")
		p.cacheDelete(ctx, st)
		return Outcome{}, false
	}
	if dayStart(ev.StartTime, p.m.UserTZ).Before(p.target) {
		p.cacheDelete(ctx, st)
		return Outcome{}, false
	}
	if err := p.m.Store.CacheTouch(ctx, p.group.ID, st.ID, st.Name, p.gen); err != nil {
		p.m.Log.WithError(err).WithField("stream", st.Name).Warn("match cache touch failed")
	}
	return Outcome{
		Category:   CategoryMatched,
		Event:      ev,
		League:     entry.League,
		Method:     MethodCache,
		Origin:     Method(entry.MatchMethod),
		Confidence: 1.0,
		FromCache:  true,
	}, true
}

func (p *groupPass) cacheDelete(ctx context.Context, st sports.Stream) {
	if err := p.m.Store.CacheDelete(ctx, p.group.ID, st.ID, st.Name); err != nil {
		p.m.Log.WithError(err).WithField("stream", st.Name).Warn("match cache evict failed")
	}
}

// record persists a fresh verdict. Filtered streams are never cached; they
// are cheap to re-derive and their class can change under us.
func (p *groupPass) record(ctx context.Context, st sports.Stream, out Outcome) {
	var err error
	switch out.Category {
	case CategoryMatched:
		err = p.m.Store.CacheSet(ctx, p.group.ID, st.ID, st.Name, out.Event, string(out.Method), p.gen)
	case CategoryFailed:
		err = p.m.Store.CacheSetFailed(ctx, p.group.ID, st.ID, st.Name, p.gen)
	default:
		return
	}
	if err != nil {
		p.m.Log.WithError(err).WithField("stream", st.Name).Warn("match cache write failed")
	}
}

// finish converts a raw outcome into the group-facing result, applying the
// inclusion gate and exception keywords.
func (p *groupPass) finish(st sports.Stream, cs classify.ClassifiedStream, out Outcome) Result {
	if out.CardSegment == "" {
		out.CardSegment = cs.CardSegment
	}
	r := Result{
		Stream:          st,
		Category:        cs.Category,
		Matched:         out.Category == CategoryMatched,
		Event:           out.Event,
		League:          out.League,
		DetectedLeague:  out.League,
		ExclusionReason: out.Reason,
		Method:          out.Method,
		Origin:          out.Origin,
		Confidence:      out.Confidence,
		FromCache:       out.FromCache,
		Team1:           cs.Team1,
		Team2:           cs.Team2,
		CardSegment:     out.CardSegment,
	}
	if r.Origin == "" {
		r.Origin = r.Method
	}
	if !r.Matched && r.DetectedLeague == "" {
		r.DetectedLeague = cs.Normalized.LeagueHint
	}
	if r.Matched {
		r.Included, r.ExclusionReason = Gate(r.League, p.group.Leagues, p.group.IncludeFinalEvents, r.Event.IsFinal())
	}
	if kw, ok := ExceptionKeyword(st.Name, p.group.ExceptionKeywords); ok {
		r.IsException = true
		r.ExceptionKeyword = kw
	}
	return r
}

// searchLeagues orders the authoritative search set: the group's own
// leagues first, then every other configured league. A stream may match
// outside the include set; the gate marks it excluded rather than
// unmatched, which tells the operator the event exists.
func (p *groupPass) searchLeagues() []string {
	codes := p.m.Leagues.Codes()
	sort.Strings(codes)
	out := make([]string, 0, len(codes)+len(p.group.Leagues))
	out = append(out, p.group.Leagues...)
	for _, c := range codes {
		if !containsString(p.group.Leagues, c) {
			out = append(out, c)
		}
	}
	return out
}

// cardLeagues picks which leagues a card stream searches: the name's own
// hint when it names a card league, else the group's card leagues, else
// every group league.
func (p *groupPass) cardLeagues(cs classify.ClassifiedStream) []string {
	if h := cs.Normalized.LeagueHint; h != "" && p.m.Leagues.IsEventCard(h) {
		return []string{h}
	}
	var cards []string
	for _, c := range p.group.Leagues {
		if p.m.Leagues.IsEventCard(c) {
			cards = append(cards, c)
		}
	}
	if len(cards) > 0 {
		return cards
	}
	return p.group.Leagues
}

// ExceptionKeyword returns the first configured keyword found in the stream
// name, case-insensitively. The configured form is returned so channel
// names carry the operator's casing. The keyword enforcement sweep applies
// the same test to streams already attached to channels.
func ExceptionKeyword(name string, keywords []string) (string, bool) {
	if len(keywords) == 0 {
		return "", false
	}
	lower := strings.ToLower(name)
	for _, kw := range keywords {
		k := strings.TrimSpace(kw)
		if k == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(k)) {
			return kw, true
		}
	}
	return "", false
}
