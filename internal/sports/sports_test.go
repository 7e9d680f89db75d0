package sports

import (
	"testing"
	"time"
)

func TestStatusIsFinal(t *testing.T) {
	cases := map[Status]bool{
		StatusScheduled: false,
		StatusLive:      false,
		StatusFinal:     true,
		StatusPostponed: false,
		StatusCancelled: true,
	}
	for st, want := range cases {
		if got := st.IsFinal(); got != want {
			t.Errorf("IsFinal(%s) = %v, want %v", st, got, want)
		}
	}
}

func TestEventTVGID(t *testing.T) {
	got := EventTVGID("espn", "401547")
	if got != "teamarr-event-espn-401547" {
		t.Errorf("EventTVGID = %q", got)
	}
}

func TestSegmentStartStop(t *testing.T) {
	base := time.Date(2025, 5, 10, 22, 0, 0, 0, time.UTC)
	ev := &Event{
		ID:        "U315",
		Sport:     "mma",
		StartTime: base,
		SegmentTimes: map[Segment]time.Time{
			SegmentEarlyPrelims: base.Add(-2 * time.Hour),
			SegmentPrelims:      base.Add(-1 * time.Hour),
			SegmentMainCard:     base,
		},
	}
	if got := ev.SegmentStart(SegmentEarlyPrelims); !got.Equal(base.Add(-2 * time.Hour)) {
		t.Errorf("early prelims start = %v", got)
	}
	if got := ev.SegmentEnd(SegmentEarlyPrelims); !got.Equal(base.Add(-1 * time.Hour)) {
		t.Errorf("early prelims end = %v, want prelims start", got)
	}
	if got := ev.SegmentEnd(SegmentPrelims); !got.Equal(base) {
		t.Errorf("prelims end = %v, want main card start", got)
	}
	// Last segment runs to the estimated event end.
	if got := ev.SegmentEnd(SegmentMainCard); !got.Equal(ev.EstimatedEnd()) {
		t.Errorf("main card end = %v, want estimated end %v", got, ev.EstimatedEnd())
	}
	// Combined starts at the earliest segment.
	if got := ev.SegmentStart(SegmentCombined); !got.Equal(base.Add(-2 * time.Hour)) {
		t.Errorf("combined start = %v", got)
	}
}

func TestSegmentStartNoData(t *testing.T) {
	base := time.Date(2025, 5, 10, 22, 0, 0, 0, time.UTC)
	ev := &Event{StartTime: base}
	if got := ev.SegmentStart(SegmentMainCard); !got.Equal(base) {
		t.Errorf("segment start without data = %v, want event start", got)
	}
}

func TestSportDuration(t *testing.T) {
	if d := SportDuration("football"); d != 3*time.Hour+30*time.Minute {
		t.Errorf("football duration = %v", d)
	}
	if d := SportDuration("quidditch"); d != defaultSportDuration {
		t.Errorf("unknown sport duration = %v, want default", d)
	}
	if d := SportDuration(" Hockey "); d != 2*time.Hour+45*time.Minute {
		t.Errorf("case/space fold failed: %v", d)
	}
}

func TestMatchupTitle(t *testing.T) {
	ev := &Event{
		AwayTeam: Team{Name: "Tampa Bay Buccaneers"},
		HomeTeam: Team{Name: "Detroit Lions"},
	}
	if got := ev.MatchupTitle(); got != "Tampa Bay Buccaneers @ Detroit Lions" {
		t.Errorf("MatchupTitle = %q", got)
	}
	card := &Event{Name: "UFC 315: Muhammad vs Della Maddalena"}
	if got := card.MatchupTitle(); got != "UFC 315: Muhammad vs Della Maddalena" {
		t.Errorf("card title = %q", got)
	}
}

func TestLeagueIndex(t *testing.T) {
	idx := NewLeagueIndex(DefaultLeagueMappings())
	if !idx.Known("nfl") {
		t.Fatal("nfl should be known")
	}
	if got := idx.ResolveAlias("EPL"); got != "eng.1" {
		t.Errorf("ResolveAlias(EPL) = %q, want eng.1", got)
	}
	if got := idx.ResolveAlias("Premier League"); got != "eng.1" {
		t.Errorf("ResolveAlias(Premier League) = %q", got)
	}
	if got := idx.ResolveAlias("nope"); got != "" {
		t.Errorf("unknown alias resolved to %q", got)
	}
	if !idx.IsEventCard("ufc") {
		t.Error("ufc should be an event-card league")
	}
	if idx.IsEventCard("nfl") {
		t.Error("nfl should not be an event-card league")
	}
	if got := idx.Sport("nhl"); got != "hockey" {
		t.Errorf("Sport(nhl) = %q", got)
	}
	// espn row precedes tsdb row for shared codes.
	maps := idx.Mappings("nfl")
	if len(maps) != 2 || maps[0].Provider != "espn" || maps[1].Provider != "tsdb" {
		t.Errorf("nfl mappings = %+v", maps)
	}
}
