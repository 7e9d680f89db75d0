package providers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teamarr/teamarr/internal/logging"
	"github.com/teamarr/teamarr/internal/sports"
	"github.com/teamarr/teamarr/internal/tsdb"
)

// fakeProvider serves canned events keyed "league|YYYY-MM-DD".
type fakeProvider struct {
	name    string
	leagues []string
	events  map[string][]sports.Event
	teams   map[string][]sports.Team
	err     error
	calls   atomic.Int64
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) SupportsLeague(code string) bool {
	for _, l := range f.leagues {
		if l == code {
			return true
		}
	}
	return false
}

func (f *fakeProvider) SupportedLeagues() []string { return f.leagues }

func (f *fakeProvider) Events(_ context.Context, league string, date time.Time) ([]sports.Event, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.events[league+"|"+date.Format("2006-01-02")], nil
}

func (f *fakeProvider) Event(_ context.Context, id, league string) (*sports.Event, error) {
	f.calls.Add(1)
	for _, evs := range f.events {
		for _, ev := range evs {
			if ev.ID == id {
				return &ev, nil
			}
		}
	}
	return nil, nil
}

func (f *fakeProvider) Team(_ context.Context, id, league string) (*sports.Team, error) {
	f.calls.Add(1)
	return nil, nil
}

func (f *fakeProvider) TeamSchedule(_ context.Context, teamID, league string, daysAhead int) ([]sports.Event, error) {
	f.calls.Add(1)
	return nil, nil
}

func (f *fakeProvider) TeamStats(_ context.Context, teamID, league string) (*sports.TeamStats, error) {
	f.calls.Add(1)
	return nil, nil
}

func (f *fakeProvider) LeagueTeams(_ context.Context, league string) ([]sports.Team, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.teams[league], nil
}

// limitedProvider also reports rate-limit accounting.
type limitedProvider struct {
	fakeProvider
	stats tsdb.RateLimitStats
}

func (l *limitedProvider) Stats() tsdb.RateLimitStats { return l.stats }

var testDay = time.Date(2025, 10, 12, 0, 0, 0, 0, time.UTC)

func dayKey(league string, day time.Time) string {
	return league + "|" + day.Format("2006-01-02")
}

func TestEventsPriorityOrder(t *testing.T) {
	p1 := &fakeProvider{name: "espn", leagues: []string{"nfl"},
		events: map[string][]sports.Event{dayKey("nfl", testDay): {{ID: "espn-1"}}}}
	p2 := &fakeProvider{name: "tsdb", leagues: []string{"nfl"},
		events: map[string][]sports.Event{dayKey("nfl", testDay): {{ID: "tsdb-1"}}}}
	svc := NewService(logging.Discard(), p1, p2)

	events, err := svc.Events(context.Background(), "nfl", testDay)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 || events[0].ID != "espn-1" {
		t.Fatalf("events = %v, want the first provider's data", events)
	}
	if p2.calls.Load() != 0 {
		t.Errorf("second provider called %d times, want 0", p2.calls.Load())
	}
}

func TestEventsFallThroughOnEmpty(t *testing.T) {
	p1 := &fakeProvider{name: "espn", leagues: []string{"nhl"}}
	p2 := &fakeProvider{name: "tsdb", leagues: []string{"nhl"},
		events: map[string][]sports.Event{dayKey("nhl", testDay): {{ID: "tsdb-9"}}}}
	svc := NewService(logging.Discard(), p1, p2)

	events, err := svc.Events(context.Background(), "nhl", testDay)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 || events[0].ID != "tsdb-9" {
		t.Fatalf("events = %v, want fallback provider's data", events)
	}

	// Second read is a cache hit, no new provider traffic.
	before := p1.calls.Load() + p2.calls.Load()
	if _, err := svc.Events(context.Background(), "nhl", testDay); err != nil {
		t.Fatalf("Events: %v", err)
	}
	if after := p1.calls.Load() + p2.calls.Load(); after != before {
		t.Errorf("provider calls went %d -> %d on a cached day", before, after)
	}
}

func TestEventsEmptyDayCached(t *testing.T) {
	p := &fakeProvider{name: "espn", leagues: []string{"nfl"}}
	svc := NewService(logging.Discard(), p)

	events, err := svc.Events(context.Background(), "nfl", testDay)
	if err != nil || len(events) != 0 {
		t.Fatalf("Events = %v, %v", events, err)
	}
	if _, err := svc.Events(context.Background(), "nfl", testDay); err != nil {
		t.Fatalf("Events: %v", err)
	}
	if p.calls.Load() != 1 {
		t.Errorf("off-day fetched %d times, want 1", p.calls.Load())
	}
}

func TestEventsErrorFallsThrough(t *testing.T) {
	p1 := &fakeProvider{name: "espn", leagues: []string{"nfl"}, err: errors.New("boom")}
	p2 := &fakeProvider{name: "tsdb", leagues: []string{"nfl"},
		events: map[string][]sports.Event{dayKey("nfl", testDay): {{ID: "x"}}}}
	svc := NewService(logging.Discard(), p1, p2)

	events, err := svc.Events(context.Background(), "nfl", testDay)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 || events[0].ID != "x" {
		t.Fatalf("events = %v", events)
	}

	// All providers failing surfaces the first error.
	p3 := &fakeProvider{name: "a", leagues: []string{"mlb"}, err: errors.New("first")}
	p4 := &fakeProvider{name: "b", leagues: []string{"mlb"}, err: errors.New("second")}
	svc = NewService(logging.Discard(), p3, p4)
	if _, err := svc.Events(context.Background(), "mlb", testDay); err == nil {
		t.Fatal("expected error when every provider fails")
	}
}

func TestEventsUnsupportedLeague(t *testing.T) {
	svc := NewService(logging.Discard(), &fakeProvider{name: "espn", leagues: []string{"nfl"}})
	if _, err := svc.Events(context.Background(), "cricket", testDay); err == nil {
		t.Fatal("expected error for a league no provider supports")
	}
	if svc.SupportsLeague("cricket") {
		t.Error("SupportsLeague(cricket) = true")
	}
	if !svc.SupportsLeague("nfl") {
		t.Error("SupportsLeague(nfl) = false")
	}
}

func TestEventsRefetchAfterTTL(t *testing.T) {
	p := &fakeProvider{name: "espn", leagues: []string{"nfl"},
		events: map[string][]sports.Event{dayKey("nfl", testDay): {{ID: "1"}}}}
	svc := NewService(logging.Discard(), p)

	clock := testDay.Add(12 * time.Hour)
	svc.cache.now = func() time.Time { return clock }

	if _, err := svc.Events(context.Background(), "nfl", testDay); err != nil {
		t.Fatalf("Events: %v", err)
	}
	clock = clock.Add(ttlToday + time.Minute)
	if _, err := svc.Events(context.Background(), "nfl", testDay); err != nil {
		t.Fatalf("Events: %v", err)
	}
	if p.calls.Load() != 2 {
		t.Errorf("calls = %d, want a refetch after the TTL", p.calls.Load())
	}
}

func TestCachedEventsIsCacheOnly(t *testing.T) {
	p := &fakeProvider{name: "espn", leagues: []string{"nfl"},
		events: map[string][]sports.Event{dayKey("nfl", testDay): {{ID: "1"}}}}
	svc := NewService(logging.Discard(), p)

	if _, ok := svc.CachedEvents("nfl", testDay); ok {
		t.Fatal("cold cache should miss")
	}
	if p.calls.Load() != 0 {
		t.Fatal("CachedEvents must not fetch")
	}

	if _, err := svc.Events(context.Background(), "nfl", testDay); err != nil {
		t.Fatalf("Events: %v", err)
	}
	events, ok := svc.CachedEvents("nfl", testDay)
	if !ok || len(events) != 1 {
		t.Fatalf("CachedEvents = %v %v after warm", events, ok)
	}
}

func TestInvalidateDay(t *testing.T) {
	p := &fakeProvider{name: "espn", leagues: []string{"nfl"},
		events: map[string][]sports.Event{dayKey("nfl", testDay): {{ID: "1"}}}}
	svc := NewService(logging.Discard(), p)

	svc.Events(context.Background(), "nfl", testDay)
	svc.InvalidateDay("nfl", testDay)
	svc.Events(context.Background(), "nfl", testDay)
	if p.calls.Load() != 2 {
		t.Errorf("calls = %d, want 2 after invalidation", p.calls.Load())
	}
}

func TestEventDispatchesByProviderName(t *testing.T) {
	p1 := &fakeProvider{name: "espn", leagues: []string{"nfl"}}
	p2 := &fakeProvider{name: "tsdb", leagues: []string{"nfl"},
		events: map[string][]sports.Event{dayKey("nfl", testDay): {{ID: "55"}}}}
	svc := NewService(logging.Discard(), p1, p2)

	ev, err := svc.Event(context.Background(), "tsdb", "55", "nfl")
	if err != nil {
		t.Fatalf("Event: %v", err)
	}
	if ev == nil || ev.ID != "55" {
		t.Fatalf("event = %+v", ev)
	}
	if p1.calls.Load() != 0 {
		t.Error("wrong provider consulted for a provider-scoped id")
	}

	if _, err := svc.Event(context.Background(), "nope", "55", "nfl"); err == nil {
		t.Fatal("expected error for unknown provider name")
	}
}

func TestLeagueTeamsFallThrough(t *testing.T) {
	p1 := &fakeProvider{name: "espn", leagues: []string{"nhl"}}
	p2 := &fakeProvider{name: "tsdb", leagues: []string{"nhl"},
		teams: map[string][]sports.Team{"nhl": {{ID: "134853", Name: "Detroit Red Wings"}}}}
	svc := NewService(logging.Discard(), p1, p2)

	from, teams, err := svc.LeagueTeams(context.Background(), "nhl")
	if err != nil {
		t.Fatalf("LeagueTeams: %v", err)
	}
	if from != "tsdb" || len(teams) != 1 {
		t.Fatalf("LeagueTeams = %q %v", from, teams)
	}
}

func TestPrefetch(t *testing.T) {
	p := &fakeProvider{name: "espn", leagues: []string{"nfl", "nhl"},
		events: map[string][]sports.Event{
			dayKey("nfl", testDay): {{ID: "1"}, {ID: "2"}},
			dayKey("nhl", testDay.AddDate(0, 0, 1)): {{ID: "3"}},
		}}
	svc := NewService(logging.Discard(), p)

	stats := svc.Prefetch(context.Background(), []string{"nfl", "nhl"}, testDay, testDay.AddDate(0, 0, 2))
	if stats.Tasks != 6 {
		t.Fatalf("Tasks = %d, want 6", stats.Tasks)
	}
	if stats.Fetched != 6 || stats.Errors != 0 || stats.Cached != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.Events != 3 {
		t.Errorf("Events = %d, want 3", stats.Events)
	}

	// Second pass finds everything warm.
	stats = svc.Prefetch(context.Background(), []string{"nfl", "nhl"}, testDay, testDay.AddDate(0, 0, 2))
	if stats.Cached != 6 || stats.Fetched != 0 {
		t.Fatalf("second pass stats = %+v", stats)
	}
}

func TestPrefetchCountsErrors(t *testing.T) {
	p := &fakeProvider{name: "espn", leagues: []string{"nfl"}}
	svc := NewService(logging.Discard(), p)

	// nhl has no provider; its days fail while nfl days fetch empty.
	stats := svc.Prefetch(context.Background(), []string{"nfl", "nhl"}, testDay, testDay.AddDate(0, 0, 1))
	if stats.Tasks != 4 {
		t.Fatalf("Tasks = %d, want 4", stats.Tasks)
	}
	if stats.Fetched != 2 || stats.Errors != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestRateLimits(t *testing.T) {
	lim := &limitedProvider{
		fakeProvider: fakeProvider{name: "tsdb", leagues: []string{"nhl"}},
		stats:        tsdb.RateLimitStats{Requests: 7, ReactiveWaits: 2},
	}
	svc := NewService(logging.Discard(), &fakeProvider{name: "espn"}, lim)

	limits := svc.RateLimits()
	if len(limits) != 1 {
		t.Fatalf("limits = %v, want one reporting provider", limits)
	}
	if limits["tsdb"].Requests != 7 || limits["tsdb"].ReactiveWaits != 2 {
		t.Fatalf("stats = %+v", limits["tsdb"])
	}
}
