package classify

import (
	"testing"
	"time"

	"github.com/teamarr/teamarr/internal/normalize"
	"github.com/teamarr/teamarr/internal/sports"
)

func testClassifier() *Classifier {
	idx := sports.NewLeagueIndex(sports.DefaultLeagueMappings())
	n := normalize.New(idx)
	n.Now = func() time.Time { return time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC) }
	return New(n, idx)
}

func stream(name string) sports.Stream {
	return sports.Stream{ID: 1, Name: name, GroupID: 10}
}

func TestClassifyTeamVsTeam(t *testing.T) {
	c := testClassifier()
	cases := []struct {
		name   string
		t1, t2 string
	}{
		{"Tampa Bay Buccaneers vs Detroit Lions", "Tampa Bay Buccaneers", "Detroit Lions"},
		{"TB Buccaneers VS DET Lions", "TB Buccaneers", "DET Lions"},
		{"Rangers v Islanders", "Rangers", "Islanders"},
		{"Yankees @ Red Sox", "Yankees", "Red Sox"},
		{"Arsenal at Chelsea", "Arsenal", "Chelsea"},
		{"Celtics - Heat", "Celtics", "Heat"},
		{"Real Madrid vs. Barcelona", "Real Madrid", "Barcelona"},
		{"Lakers vs Suns (Spanish)", "Lakers", "Suns"},
	}
	for _, tc := range cases {
		got := c.Classify(stream(tc.name), []string{"nfl"}, nil)
		if got.Category != CategoryTeamVsTeam {
			t.Errorf("%q: category = %s, want team_vs_team", tc.name, got.Category)
			continue
		}
		if got.Team1 != tc.t1 || got.Team2 != tc.t2 {
			t.Errorf("%q: teams = (%q, %q), want (%q, %q)", tc.name, got.Team1, got.Team2, tc.t1, tc.t2)
		}
	}
}

func TestSeparatorPriority(t *testing.T) {
	c := testClassifier()
	// "vs" beats the later " - " qualifier.
	got := c.Classify(stream("Leafs vs Bruins - Alt Feed"), []string{"nhl"}, nil)
	if got.Team1 != "Leafs" {
		t.Errorf("team1 = %q", got.Team1)
	}
	if got.Team2 != "Bruins - Alt Feed" {
		t.Errorf("team2 = %q (separator priority should split on vs first)", got.Team2)
	}
}

func TestClassifyPlaceholder(t *testing.T) {
	c := testClassifier()
	for _, name := range []string{
		"TBD", "To Be Announced", "No Events", "OFFLINE", "24/7", "Stay Tuned",
		"Random Channel Name",
	} {
		got := c.Classify(stream(name), []string{"nfl"}, nil)
		if got.Category != CategoryPlaceholder {
			t.Errorf("%q: category = %s, want placeholder", name, got.Category)
		}
	}
}

func TestClassifyEventCardByKeyword(t *testing.T) {
	c := testClassifier()
	cases := map[string]sports.Segment{
		"UFC 315 Early Prelims":       sports.SegmentEarlyPrelims,
		"UFC 315 Prelims":             sports.SegmentPrelims,
		"UFC 315 Main Card":           sports.SegmentMainCard,
		"UFC 315":                     sports.SegmentCombined,
		"UFC Fight Night: Volkov vs Aspinall": sports.SegmentCombined,
	}
	for name, seg := range cases {
		got := c.Classify(stream(name), []string{"nfl", "ufc"}, nil)
		if got.Category != CategoryEventCard {
			t.Errorf("%q: category = %s, want event_card", name, got.Category)
			continue
		}
		if got.CardSegment != seg {
			t.Errorf("%q: segment = %s, want %s", name, got.CardSegment, seg)
		}
	}
}

func TestClassifyEventCardByDominantLeague(t *testing.T) {
	c := testClassifier()
	// All-card group: a plain fighters name classifies as a card even with a
	// vs separator present.
	got := c.Classify(stream("Muhammad vs Della Maddalena"), []string{"ufc"}, nil)
	if got.Category != CategoryEventCard {
		t.Errorf("category = %s, want event_card for card-dominant group", got.Category)
	}
	// Mixed group where card leagues are the minority: separator wins.
	got = c.Classify(stream("Muhammad vs Della Maddalena"), []string{"nfl", "nba", "ufc"}, nil)
	if got.Category != CategoryTeamVsTeam {
		t.Errorf("category = %s, want team_vs_team for team-dominant group", got.Category)
	}
}

func TestLeagueHintNoSeparatorGoesToTeamMatcher(t *testing.T) {
	c := testClassifier()
	got := c.Classify(stream("NFL RedZone Bonus Coverage"), []string{"nfl"}, nil)
	if got.Category != CategoryTeamVsTeam {
		t.Errorf("category = %s, want team_vs_team (league hint, no separator)", got.Category)
	}
	if got.Team1 != "" || got.Team2 != "" {
		t.Errorf("teams should be empty, got (%q, %q)", got.Team1, got.Team2)
	}
}

func TestCustomRegexTeams(t *testing.T) {
	c := testClassifier()
	custom := &CustomRegexConfig{
		Enabled:      true,
		TeamsPattern: `^(?P<team1>.+?) battles (?P<team2>.+)$`,
	}
	got := c.Classify(stream("Packers battles Bears"), []string{"nfl"}, custom)
	if !got.ViaCustom {
		t.Fatal("expected custom regex hit")
	}
	if got.Team1 != "Packers" || got.Team2 != "Bears" {
		t.Errorf("teams = (%q, %q)", got.Team1, got.Team2)
	}
	// Custom miss falls back to builtins unless disabled.
	got = c.Classify(stream("Packers vs Bears"), []string{"nfl"}, custom)
	if got.ViaCustom || got.Category != CategoryTeamVsTeam {
		t.Errorf("fallback failed: %+v", got)
	}
	custom.DisableBuiltins = true
	got = c.Classify(stream("Packers vs Bears"), []string{"nfl"}, custom)
	if got.Category != CategoryPlaceholder {
		t.Errorf("builtins disabled: category = %s, want placeholder", got.Category)
	}
}

func TestCustomRegexNumberedGroups(t *testing.T) {
	c := testClassifier()
	custom := &CustomRegexConfig{
		Enabled:      true,
		TeamsPattern: `^(.+?) -- (.+)$`,
	}
	got := c.Classify(stream("Jets -- Sharks"), []string{"nhl"}, custom)
	if got.Team1 != "Jets" || got.Team2 != "Sharks" {
		t.Errorf("numbered groups: teams = (%q, %q)", got.Team1, got.Team2)
	}
}

func TestInferSegment(t *testing.T) {
	cases := map[string]sports.Segment{
		"UFC 315 Early Prelims": sports.SegmentEarlyPrelims,
		"UFC 315 PRELIMS":       sports.SegmentPrelims,
		"UFC 315 Main Card":     sports.SegmentMainCard,
		"UFC 315 Full Card":     sports.SegmentCombined,
	}
	for name, want := range cases {
		if got := InferSegment(name); got != want {
			t.Errorf("InferSegment(%q) = %s, want %s", name, got, want)
		}
	}
}
