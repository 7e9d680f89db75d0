package match

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teamarr/teamarr/internal/classify"
	"github.com/teamarr/teamarr/internal/logging"
	"github.com/teamarr/teamarr/internal/normalize"
	"github.com/teamarr/teamarr/internal/providers"
	"github.com/teamarr/teamarr/internal/sports"
	"github.com/teamarr/teamarr/internal/store"
)

// fakeProvider implements providers.Provider over a league|day event map.
type fakeProvider struct {
	name    string
	leagues []string
	events  map[string][]sports.Event
	calls   atomic.Int64
}

func newFakeProvider(events map[string][]sports.Event) *fakeProvider {
	return &fakeProvider{
		name:    "espn",
		leagues: []string{"nfl", "mlb", "nhl", "ufc", "boxing"},
		events:  events,
	}
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) SupportsLeague(code string) bool {
	return containsString(f.leagues, code)
}

func (f *fakeProvider) SupportedLeagues() []string { return f.leagues }

func (f *fakeProvider) Events(_ context.Context, league string, date time.Time) ([]sports.Event, error) {
	f.calls.Add(1)
	return f.events[league+"|"+date.Format("2006-01-02")], nil
}

func (f *fakeProvider) Event(context.Context, string, string) (*sports.Event, error) {
	return nil, nil
}

func (f *fakeProvider) Team(context.Context, string, string) (*sports.Team, error) {
	return nil, nil
}

func (f *fakeProvider) TeamSchedule(context.Context, string, string, int) ([]sports.Event, error) {
	return nil, nil
}

func (f *fakeProvider) TeamStats(context.Context, string, string) (*sports.TeamStats, error) {
	return nil, nil
}

func (f *fakeProvider) LeagueTeams(context.Context, string) ([]sports.Team, error) {
	return nil, nil
}

func newStreamMatcher(t *testing.T, fp *fakeProvider) *StreamMatcher {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "teamarr.db"), logging.Discard())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	leagues := testLeagueIndex()
	norm := normalize.New(leagues)
	norm.Now = func() time.Time { return testNow }
	return &StreamMatcher{
		Store:      st,
		Providers:  providers.NewService(logging.Discard(), fp),
		Leagues:    leagues,
		Classifier: classify.New(norm, leagues),
		UserTZ:     testTZ,
		Log:        logging.Discard(),
		Now:        func() time.Time { return testNow },
	}
}

func TestMatchGroupCacheReuse(t *testing.T) {
	ctx := context.Background()
	fp := newFakeProvider(map[string][]sports.Event{
		"nfl|2024-10-15": {nflGame()},
	})
	m := newStreamMatcher(t, fp)
	group := &store.EventEPGGroup{ID: 1, Name: "NFL Events", Leagues: []string{"nfl"}, DaysAhead: 2}
	streams := []sports.Stream{{ID: 77, GroupID: 1, Name: "Tampa Bay Buccaneers vs Detroit Lions"}}

	run1, err := m.MatchGroup(ctx, group, streams, 1, nil)
	if err != nil {
		t.Fatalf("run 1: %v", err)
	}
	r := run1[0]
	if !r.Matched || !r.Included {
		t.Fatalf("run 1 = matched %v included %v (reason %q)", r.Matched, r.Included, r.ExclusionReason)
	}
	if r.Method != MethodFuzzy || r.FromCache {
		t.Errorf("run 1 method = %s fromCache %v, want fresh FUZZY", r.Method, r.FromCache)
	}
	callsAfterRun1 := fp.calls.Load()

	run2, err := m.MatchGroup(ctx, group, streams, 2, nil)
	if err != nil {
		t.Fatalf("run 2: %v", err)
	}
	r = run2[0]
	if !r.Matched || !r.FromCache {
		t.Fatalf("run 2 = matched %v fromCache %v, want cached hit", r.Matched, r.FromCache)
	}
	if r.Method != MethodCache || r.Origin != MethodFuzzy {
		t.Errorf("run 2 method/origin = %s/%s, want CACHE/FUZZY", r.Method, r.Origin)
	}
	if r.Confidence != 1.0 {
		t.Errorf("cached confidence = %.2f, want 1.0", r.Confidence)
	}
	if got := fp.calls.Load(); got != callsAfterRun1 {
		t.Errorf("provider called %d more times on the cached run", got-callsAfterRun1)
	}
}

func TestMatchGroupLeagueNotIncluded(t *testing.T) {
	ctx := context.Background()
	fp := newFakeProvider(map[string][]sports.Event{})
	m := newStreamMatcher(t, fp)
	group := &store.EventEPGGroup{ID: 2, Name: "Baseball", Leagues: []string{"mlb"}, DaysAhead: 1}

	// Another group in the run already fetched NFL for today.
	shared := NewSharedEvents()
	shared.put("nfl", testTarget(), []sports.Event{nflGame()})

	res, err := m.MatchGroup(ctx, group, []sports.Stream{
		{ID: 5, GroupID: 2, Name: "Tampa Bay Buccaneers vs Detroit Lions"},
	}, 1, shared)
	if err != nil {
		t.Fatal(err)
	}
	r := res[0]
	if !r.Matched {
		t.Fatalf("want matched=true even outside include set, got reason %q", r.ExclusionReason)
	}
	if r.Included {
		t.Fatal("nfl is not in the include set, included must be false")
	}
	if r.ExclusionReason != "league_not_included:nfl" {
		t.Errorf("exclusion reason = %q, want league_not_included:nfl", r.ExclusionReason)
	}
	if r.DetectedLeague != "nfl" {
		t.Errorf("detected league = %q, want nfl", r.DetectedLeague)
	}
}

func TestMatchGroupFinalEvents(t *testing.T) {
	ctx := context.Background()
	finished := nflGame()
	finished.Status = sports.StatusFinal
	fp := newFakeProvider(map[string][]sports.Event{
		"nfl|2024-10-15": {finished},
	})
	m := newStreamMatcher(t, fp)
	stream := sports.Stream{ID: 9, Name: "Tampa Bay Buccaneers vs Detroit Lions"}

	drop := &store.EventEPGGroup{ID: 3, Name: "NFL", Leagues: []string{"nfl"}}
	res, err := m.MatchGroup(ctx, drop, []sports.Stream{stream}, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res[0].Matched || res[0].Included || res[0].ExclusionReason != ReasonEventFinal {
		t.Errorf("default group: matched %v included %v reason %q, want matched/excluded/event_final",
			res[0].Matched, res[0].Included, res[0].ExclusionReason)
	}

	keep := &store.EventEPGGroup{ID: 4, Name: "NFL Replays", Leagues: []string{"nfl"}, IncludeFinalEvents: true}
	res, err = m.MatchGroup(ctx, keep, []sports.Stream{stream}, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res[0].Matched || !res[0].Included {
		t.Errorf("include_final group: matched %v included %v, want both true", res[0].Matched, res[0].Included)
	}
}

func TestMatchGroupPlaceholderNotCached(t *testing.T) {
	ctx := context.Background()
	fp := newFakeProvider(map[string][]sports.Event{})
	m := newStreamMatcher(t, fp)
	group := &store.EventEPGGroup{ID: 5, Name: "NFL", Leagues: []string{"nfl"}}

	res, err := m.MatchGroup(ctx, group, []sports.Stream{
		{ID: 1, Name: "TBD"},
		{ID: 2, Name: "Coming Soon"},
	}, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range res {
		if r.Matched || r.Included {
			t.Errorf("%q: placeholder must not match", r.Stream.Name)
		}
		if r.ExclusionReason != ReasonUnclassifiable {
			t.Errorf("%q: reason = %q, want unclassifiable", r.Stream.Name, r.ExclusionReason)
		}
		if r.Category != classify.CategoryPlaceholder {
			t.Errorf("%q: category = %s", r.Stream.Name, r.Category)
		}
	}
	total, _, _, err := m.Store.CacheSize(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 {
		t.Errorf("placeholders were cached: %d entries", total)
	}
}

func TestMatchGroupStaleStream(t *testing.T) {
	ctx := context.Background()
	fp := newFakeProvider(map[string][]sports.Event{})
	m := newStreamMatcher(t, fp)
	group := &store.EventEPGGroup{ID: 6, Name: "NFL", Leagues: []string{"nfl"}}

	res, err := m.MatchGroup(ctx, group, []sports.Stream{
		{ID: 3, Name: "Tampa Bay Buccaneers vs Detroit Lions", Stale: true},
	}, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res[0].Matched || res[0].ExclusionReason != ReasonStaleStream {
		t.Errorf("stale stream: matched %v reason %q", res[0].Matched, res[0].ExclusionReason)
	}
	if got := fp.calls.Load(); got != 0 {
		t.Errorf("stale stream triggered %d provider calls", got)
	}
}

func TestMatchGroupFailedSentinel(t *testing.T) {
	ctx := context.Background()
	fp := newFakeProvider(map[string][]sports.Event{})
	m := newStreamMatcher(t, fp)
	group := &store.EventEPGGroup{ID: 7, Name: "NFL", Leagues: []string{"nfl"}}
	streams := []sports.Stream{{ID: 4, Name: "Springfield Isotopes vs Shelbyville Sharks"}}

	run1, err := m.MatchGroup(ctx, group, streams, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if run1[0].Matched || run1[0].ExclusionReason != ReasonNoEvents {
		t.Fatalf("run 1 = matched %v reason %q, want no_events_found", run1[0].Matched, run1[0].ExclusionReason)
	}
	_, failed, _, err := m.Store.CacheSize(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if failed != 1 {
		t.Fatalf("failed sentinel rows = %d, want 1", failed)
	}
	callsAfterRun1 := fp.calls.Load()

	run2, err := m.MatchGroup(ctx, group, streams, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	r := run2[0]
	if r.Matched || !r.FromCache || r.ExclusionReason != ReasonCachedFailure {
		t.Errorf("run 2 = matched %v fromCache %v reason %q, want cached failure", r.Matched, r.FromCache, r.ExclusionReason)
	}
	if got := fp.calls.Load(); got != callsAfterRun1 {
		t.Errorf("cached failure still hit the provider %d times", got-callsAfterRun1)
	}
}

func TestMatchGroupStaleCachedEventRematched(t *testing.T) {
	ctx := context.Background()
	fp := newFakeProvider(map[string][]sports.Event{
		"nfl|2024-10-15": {nflGame()},
	})
	m := newStreamMatcher(t, fp)
	group := &store.EventEPGGroup{ID: 8, Name: "NFL", Leagues: []string{"nfl"}}
	name := "Tampa Bay Buccaneers vs Detroit Lions"

	// Yesterday's snapshot is still cached; its status may have flipped.
	old := nflGame()
	old.ID = "401000"
	old.StartTime = time.Date(2024, 10, 14, 20, 0, 0, 0, testTZ)
	if err := m.Store.CacheSet(ctx, 8, 11, name, &old, string(MethodFuzzy), 1); err != nil {
		t.Fatal(err)
	}

	res, err := m.MatchGroup(ctx, group, []sports.Stream{{ID: 11, Name: name}}, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	r := res[0]
	if r.FromCache {
		t.Fatal("stale cached event must be evicted and rematched")
	}
	if !r.Matched || r.Event.ID != "401547" {
		t.Fatalf("rematch = matched %v event %+v, want fresh 401547", r.Matched, r.Event)
	}
}

func TestMatchGroupUserCorrectedOrigin(t *testing.T) {
	ctx := context.Background()
	fp := newFakeProvider(map[string][]sports.Event{})
	m := newStreamMatcher(t, fp)
	group := &store.EventEPGGroup{ID: 9, Name: "NFL", Leagues: []string{"nfl"}}
	name := "Bucs Game Feed 1"

	ev := nflGame()
	if err := m.Store.CacheSetUserCorrection(ctx, 9, 12, name, &ev, 1); err != nil {
		t.Fatal(err)
	}

	res, err := m.MatchGroup(ctx, group, []sports.Stream{{ID: 12, Name: name}}, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	r := res[0]
	if !r.Matched || !r.FromCache {
		t.Fatalf("pinned entry not served: matched %v fromCache %v (reason %q)", r.Matched, r.FromCache, r.ExclusionReason)
	}
	if r.Method != MethodCache || r.Origin != MethodUserCorrected {
		t.Errorf("method/origin = %s/%s, want CACHE/user_corrected", r.Method, r.Origin)
	}
}

func TestMatchGroupExceptionKeyword(t *testing.T) {
	ctx := context.Background()
	fp := newFakeProvider(map[string][]sports.Event{
		"nfl|2024-10-15": {nflGame()},
	})
	m := newStreamMatcher(t, fp)
	group := &store.EventEPGGroup{
		ID: 10, Name: "NFL", Leagues: []string{"nfl"},
		ExceptionKeywords: []string{"Spanish", "Alt Cam"},
	}

	res, err := m.MatchGroup(ctx, group, []sports.Stream{
		{ID: 13, Name: "Tampa Bay Buccaneers vs Detroit Lions (Spanish)"},
		{ID: 14, Name: "Tampa Bay Buccaneers vs Detroit Lions"},
	}, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res[0].Matched || !res[0].IsException || res[0].ExceptionKeyword != "Spanish" {
		t.Errorf("spanish feed = matched %v exception %v/%q", res[0].Matched, res[0].IsException, res[0].ExceptionKeyword)
	}
	if res[1].IsException {
		t.Error("plain feed flagged as exception")
	}
}

func TestSharedEventsReusedAcrossGroups(t *testing.T) {
	ctx := context.Background()
	fp := newFakeProvider(map[string][]sports.Event{
		"nfl|2024-10-15": {nflGame()},
	})
	m := newStreamMatcher(t, fp)
	shared := NewSharedEvents()

	groupA := &store.EventEPGGroup{ID: 11, Name: "NFL A", Leagues: []string{"nfl"}}
	if _, err := m.MatchGroup(ctx, groupA, []sports.Stream{
		{ID: 21, Name: "Tampa Bay Buccaneers vs Detroit Lions"},
	}, 1, shared); err != nil {
		t.Fatal(err)
	}
	callsAfterA := fp.calls.Load()

	groupB := &store.EventEPGGroup{ID: 12, Name: "NFL B", Leagues: []string{"nfl"}}
	resB, err := m.MatchGroup(ctx, groupB, []sports.Stream{
		{ID: 22, Name: "TB Buccaneers vs DET Lions"},
	}, 1, shared)
	if err != nil {
		t.Fatal(err)
	}
	if !resB[0].Matched || resB[0].FromCache {
		t.Fatalf("group B = matched %v fromCache %v, want a fresh match from the shared pool", resB[0].Matched, resB[0].FromCache)
	}
	if got := fp.calls.Load(); got != callsAfterA {
		t.Errorf("second group refetched: %d extra provider calls", got-callsAfterA)
	}
}

func TestMatchGroupMultiLeaguePrefetch(t *testing.T) {
	ctx := context.Background()
	fp := newFakeProvider(map[string][]sports.Event{
		"nfl|2024-10-15": {nflGame()},
		"mlb|2024-10-15": {mlbGame("j1", 19, 5)},
	})
	m := newStreamMatcher(t, fp)
	group := &store.EventEPGGroup{ID: 13, Name: "All Sports", Leagues: []string{"nfl", "mlb"}, DaysAhead: 1}

	res, err := m.MatchGroup(ctx, group, []sports.Stream{
		{ID: 31, Name: "Tampa Bay Buccaneers vs Detroit Lions"},
	}, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res[0].Matched {
		t.Fatalf("want match, got reason %q", res[0].ExclusionReason)
	}
	// Prefetch covers 2 leagues x [target, target+1]; matching adds only the
	// two spillover-day fetches. Everything else resolves from cache.
	if got := fp.calls.Load(); got != 6 {
		t.Errorf("provider calls = %d, want 6", got)
	}
}

func TestMatchGroupPurgesStale(t *testing.T) {
	ctx := context.Background()
	fp := newFakeProvider(map[string][]sports.Event{})
	m := newStreamMatcher(t, fp)
	group := &store.EventEPGGroup{ID: 14, Name: "NFL", Leagues: []string{"nfl"}}

	ev := nflGame()
	if err := m.Store.CacheSet(ctx, 14, 99, "Old Stream Gone", &ev, string(MethodFuzzy), 1); err != nil {
		t.Fatal(err)
	}

	if _, err := m.MatchGroup(ctx, group, nil, 10, nil); err != nil {
		t.Fatal(err)
	}
	entry, err := m.Store.CacheGet(ctx, 14, 99, "Old Stream Gone", true)
	if err != nil {
		t.Fatal(err)
	}
	if entry != nil {
		t.Error("entry unseen for 9 generations survived the purge")
	}
}

func TestExceptionKeywordHelper(t *testing.T) {
	cases := []struct {
		name     string
		keywords []string
		want     string
		ok       bool
	}{
		{"Lions vs Bucs SPANISH Feed", []string{"Spanish"}, "Spanish", true},
		{"Lions vs Bucs", []string{"Spanish"}, "", false},
		{"Lions vs Bucs alt cam 2", []string{"Spanish", "Alt Cam"}, "Alt Cam", true},
		{"Lions vs Bucs", nil, "", false},
		{"Lions vs Bucs", []string{"  "}, "", false},
	}
	for _, tc := range cases {
		kw, ok := ExceptionKeyword(tc.name, tc.keywords)
		if kw != tc.want || ok != tc.ok {
			t.Errorf("ExceptionKeyword(%q, %v) = %q/%v, want %q/%v", tc.name, tc.keywords, kw, ok, tc.want, tc.ok)
		}
	}
}
