package templates

import (
	"strings"
	"testing"
	"time"

	"github.com/teamarr/teamarr/internal/sports"
)

var (
	testTZ  = time.FixedZone("EDT", -4*3600)
	testNow = time.Date(2024, 10, 15, 12, 0, 0, 0, testTZ)
)

func intPtr(n int) *int { return &n }

func testEvent() *sports.Event {
	return &sports.Event{
		ID: "401547", Provider: "espn", League: "nfl", Sport: "football",
		Name:      "Tampa Bay Buccaneers at Detroit Lions",
		ShortName: "TB @ DET",
		StartTime: time.Date(2024, 10, 15, 20, 20, 0, 0, testTZ),
		Status:    sports.StatusScheduled,
		HomeTeam: sports.Team{
			ID: "8", Name: "Detroit Lions", ShortName: "Lions",
			Abbreviation: "DET", Location: "Detroit",
			LogoURL: "https://a.espncdn.com/det.png",
		},
		AwayTeam: sports.Team{
			ID: "27", Name: "Tampa Bay Buccaneers", ShortName: "Buccaneers",
			Abbreviation: "TB", Location: "Tampa Bay",
		},
		Venue:     "Ford Field",
		Broadcast: []string{"ESPN", "ABC"},
		Odds:      &sports.Odds{Details: "DET -3.5", OverUnder: 47.5, Favorite: "DET", Spread: -3.5},
	}
}

func testContext() *Context {
	return &Context{
		Event: testEvent(),
		League: sports.LeagueMapping{
			Code: "nfl", Sport: "football", DisplayName: "NFL",
			LogoURL: "https://a.espncdn.com/nfl.png",
		},
		Stats: map[string]*sports.TeamStats{
			"8":  {TeamID: "8", League: "nfl", Wins: 5, Losses: 1, Record: "5-1", Streak: "W3", Standing: "1st NFC North"},
			"27": {TeamID: "27", League: "nfl", Wins: 4, Losses: 2, Record: "4-2"},
		},
		Location: testTZ,
		Now:      testNow,
	}
}

func TestResolveVariables(t *testing.T) {
	ctx := testContext()
	cases := []struct {
		tmpl string
		want string
	}{
		{"{matchup}", "Tampa Bay Buccaneers @ Detroit Lions"},
		{"{matchup.short}", "TB @ DET"},
		{"{away.name} at {home.name}", "Tampa Bay Buccaneers at Detroit Lions"},
		{"{home.abbr} vs {away.abbr}", "DET vs TB"},
		{"{home.record}", "5-1"},
		{"{home.streak}", "W3"},
		{"{home.wins}-{home.losses}", "5-1"},
		{"{home.standing}", "1st NFC North"},
		{"{league}", "NFL"},
		{"{league.code}", "nfl"},
		{"{league.sport}", "football"},
		{"{venue}", "Ford Field"},
		{"{broadcast}", "ESPN, ABC"},
		{"{odds}", "DET -3.5"},
		{"{odds.over_under}", "47.5"},
		{"{odds.favorite}", "DET"},
		{"{date}", "Oct 15"},
		{"{date.iso}", "2024-10-15"},
		{"{time}", "8:20 PM"},
		{"{time.24}", "20:20"},
		{"{day}", "Tuesday"},
		{"{day.short}", "Tue"},
		{"{month.short} {day.num}, {year}", "Oct 15, 2024"},
		{"{event.status}", "scheduled"},
	}
	for _, tc := range cases {
		got, ok := Resolve(tc.tmpl, ctx)
		if !ok {
			t.Errorf("Resolve(%q) left placeholders unresolved", tc.tmpl)
			continue
		}
		if got != tc.want {
			t.Errorf("Resolve(%q) = %q, want %q", tc.tmpl, got, tc.want)
		}
	}
}

func TestResolveFallbackSyntax(t *testing.T) {
	ctx := testContext()
	ctx.Event.Venue = ""

	got, ok := Resolve("{venue|TBD}", ctx)
	if !ok || got != "TBD" {
		t.Fatalf("empty variable with fallback = %q ok=%v, want TBD", got, ok)
	}
	got, ok = Resolve("{no_such_var|x}", ctx)
	if !ok || got != "x" {
		t.Fatalf("unknown variable with fallback = %q ok=%v, want x", got, ok)
	}
	got, ok = Resolve("a{venue|}b", ctx)
	if !ok || got != "ab" {
		t.Fatalf("empty fallback = %q ok=%v, want ab", got, ok)
	}
	if _, ok = Resolve("{no_such_var}", ctx); ok {
		t.Fatal("unknown variable without fallback should report unresolved")
	}
}

func TestNextLastSuffix(t *testing.T) {
	ctx := testContext()
	team := ctx.Event.HomeTeam
	ctx.Team = &team
	ctx.NextEvent = &sports.Event{
		ID: "401600", League: "nfl", Sport: "football",
		StartTime: time.Date(2024, 10, 20, 13, 0, 0, 0, testTZ),
		HomeTeam:  sports.Team{ID: "11", Name: "Minnesota Vikings", Abbreviation: "MIN"},
		AwayTeam:  team,
	}
	ctx.LastEvent = &sports.Event{
		ID: "401500", League: "nfl", Sport: "football",
		StartTime: time.Date(2024, 10, 8, 20, 0, 0, 0, testTZ),
		HomeTeam:  team,
		AwayTeam:  sports.Team{ID: "9", Name: "Green Bay Packers", Abbreviation: "GB"},
	}

	if got, ok := Resolve("{opponent}", ctx); !ok || got != "Tampa Bay Buccaneers" {
		t.Fatalf("opponent = %q ok=%v", got, ok)
	}
	if got, ok := Resolve("{opponent.next}", ctx); !ok || got != "Minnesota Vikings" {
		t.Fatalf("opponent.next = %q ok=%v", got, ok)
	}
	if got, ok := Resolve("{opponent.last}", ctx); !ok || got != "Green Bay Packers" {
		t.Fatalf("opponent.last = %q ok=%v", got, ok)
	}
	if got, ok := Resolve("{opponent.abbr.next}", ctx); !ok || got != "MIN" {
		t.Fatalf("opponent.abbr.next = %q ok=%v", got, ok)
	}
	if got, ok := Resolve("{date.next}", ctx); !ok || got != "Oct 20" {
		t.Fatalf("date.next = %q ok=%v", got, ok)
	}
	// team.* does not vary with the event, so the suffix is rejected.
	if _, ok := Resolve("{team.name.next}", ctx); ok {
		t.Fatal("team.name.next should be unresolvable")
	}
	// No next event known: unresolved rather than wrong.
	ctx.NextEvent = nil
	if _, ok := Resolve("{opponent.next}", ctx); ok {
		t.Fatal("opponent.next without a next event should be unresolvable")
	}
}

func TestOpponentRequiresTeamContext(t *testing.T) {
	ctx := testContext()
	if _, ok := Resolve("{opponent}", ctx); ok {
		t.Fatal("opponent without a team context should be unresolvable")
	}
}

func TestChannelName(t *testing.T) {
	ctx := testContext()

	name, logo := ChannelName("", ctx)
	if name != "Tampa Bay Buccaneers @ Detroit Lions" {
		t.Fatalf("default name = %q", name)
	}
	if logo != "https://a.espncdn.com/det.png" {
		t.Fatalf("logo = %q, want home team logo", logo)
	}

	name, _ = ChannelName("{league}: {matchup.short}", ctx)
	if name != "NFL: TB @ DET" {
		t.Fatalf("templated name = %q", name)
	}

	// Unresolvable template falls back to the matchup.
	name, _ = ChannelName("{bogus_variable}", ctx)
	if name != "Tampa Bay Buccaneers @ Detroit Lions" {
		t.Fatalf("fallback name = %q", name)
	}
}

func TestChannelNameDecoration(t *testing.T) {
	ctx := testContext()
	ctx.Keyword = "french"
	name, _ := ChannelName("{matchup.short}", ctx)
	if name != "TB @ DET (French)" {
		t.Fatalf("keyword decoration = %q", name)
	}

	// A template that places the keyword suppresses the suffix.
	name, _ = ChannelName("{keyword} feed: {matchup.short}", ctx)
	if name != "French feed: TB @ DET" {
		t.Fatalf("explicit keyword = %q", name)
	}

	ctx = testContext()
	ctx.Segment = sports.SegmentMainCard
	name, _ = ChannelName("{matchup.short}", ctx)
	if name != "TB @ DET - Main Card" {
		t.Fatalf("segment decoration = %q", name)
	}
}

func TestChannelLogoFallsBackToLeague(t *testing.T) {
	ctx := testContext()
	ctx.Event.HomeTeam.LogoURL = ""
	ctx.Event.AwayTeam.LogoURL = ""
	if _, logo := ChannelName("", ctx); logo != "https://a.espncdn.com/nfl.png" {
		t.Fatalf("logo = %q, want league logo", logo)
	}
}

func TestDefaultDescription(t *testing.T) {
	got := DefaultDescription(testContext())
	for _, want := range []string{
		"Tampa Bay Buccaneers @ Detroit Lions",
		"NFL",
		"Ford Field",
		"(4-2)",
		"(5-1)",
		"TV: ESPN, ABC.",
		"Line: DET -3.5 (O/U 47.5).",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("description missing %q: %s", want, got)
		}
	}
}

func TestTitleDefaults(t *testing.T) {
	ctx := testContext()
	if got := Title("", DefaultPregameTitle, ctx); got != "Tampa Bay Buccaneers @ Detroit Lions - Pregame" {
		t.Fatalf("pregame title = %q", got)
	}
	if got := Title("", DefaultIdleTitle, ctx); got != "NFL Programming" {
		t.Fatalf("idle title = %q", got)
	}
	ctx.League = sports.LeagueMapping{}
	if got := Title("", DefaultIdleTitle, ctx); got != "Sports Programming" {
		t.Fatalf("idle title without league = %q", got)
	}
}

func TestScoreVariables(t *testing.T) {
	ctx := testContext()
	if _, ok := Resolve("{score}", ctx); ok {
		t.Fatal("score before any result should be unresolvable")
	}
	ctx.Event.HomeScore = intPtr(24)
	ctx.Event.AwayScore = intPtr(17)
	if got, _ := Resolve("{score}", ctx); got != "17-24" {
		t.Fatalf("score = %q", got)
	}
	if got, _ := Resolve("{away.score}-{home.score}", ctx); got != "17-24" {
		t.Fatalf("side scores = %q", got)
	}
}

func TestRegistryBreadth(t *testing.T) {
	names := Variables()
	if len(names) < 90 {
		t.Fatalf("registry has %d variables", len(names))
	}
	// Spot-check family coverage.
	have := make(map[string]bool, len(names))
	for _, n := range names {
		have[n] = true
	}
	for _, n := range []string{
		"home.name", "away.record", "team.logo", "opponent.streak",
		"matchup", "league.name", "venue", "odds.spread", "date.full",
		"time.24", "end.time", "now.date", "segment", "keyword",
	} {
		if !have[n] {
			t.Errorf("registry missing %q", n)
		}
	}
}
