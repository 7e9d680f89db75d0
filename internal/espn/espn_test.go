package espn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/teamarr/teamarr/internal/logging"
	"github.com/teamarr/teamarr/internal/sports"
)

const nflScoreboard = `{
  "events": [{
    "id": "401547",
    "date": "2024-10-16T00:20Z",
    "name": "Tampa Bay Buccaneers at Detroit Lions",
    "shortName": "TB @ DET",
    "competitions": [{
      "id": "401547",
      "startDate": "2024-10-16T00:20Z",
      "competitors": [
        {"homeAway": "home", "score": "31",
         "records": [{"type": "total", "summary": "4-1"}],
         "team": {"id": "8", "location": "Detroit", "name": "Lions",
                  "abbreviation": "DET", "displayName": "Detroit Lions",
                  "shortDisplayName": "Lions", "logo": "https://a.espncdn.com/det.png"}},
        {"homeAway": "away", "score": "20",
         "team": {"id": "27", "location": "Tampa Bay", "name": "Buccaneers",
                  "abbreviation": "TB", "displayName": "Tampa Bay Buccaneers",
                  "shortDisplayName": "Buccaneers"}}
      ],
      "venue": {"fullName": "Ford Field"},
      "broadcasts": [{"names": ["ESPN"]}],
      "odds": [{"details": "DET -3.5", "overUnder": 51.5}]
    }],
    "status": {"type": {"name": "STATUS_SCHEDULED", "state": "pre", "completed": false}}
  }]
}`

const ufcScoreboard = `{
  "events": [{
    "id": "600040",
    "date": "2025-05-11T02:00Z",
    "name": "UFC 315: Muhammad vs. Della Maddalena",
    "shortName": "UFC 315",
    "competitions": [
      {"id": "b1", "startDate": "2025-05-11T02:00Z",
       "cardSegment": {"description": "Main Card"},
       "competitors": [
         {"athlete": {"displayName": "Belal Muhammad"}},
         {"athlete": {"displayName": "Jack Della Maddalena"}}
       ]},
      {"id": "b2", "startDate": "2025-05-11T00:00Z",
       "cardSegment": {"description": "Prelims"},
       "competitors": [
         {"athlete": {"displayName": "Jose Aldo"}},
         {"athlete": {"displayName": "Aiemann Zahabi"}}
       ]},
      {"id": "b3", "startDate": "2025-05-10T22:00Z",
       "cardSegment": {"description": "Early Prelims"},
       "competitors": [
         {"athlete": {"displayName": "Brad Katona"}},
         {"athlete": {"displayName": "Bekzat Almakhan"}}
       ]}
    ],
    "status": {"type": {"name": "STATUS_SCHEDULED", "state": "pre", "completed": false}}
  }]
}`

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(sports.DefaultLeagueMappings(), logging.Discard())
	c.BaseURL = srv.URL
	c.HTTPClient = srv.Client()
	return c
}

func TestEventsScoreboard(t *testing.T) {
	var gotPath, gotQuery string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte(nflScoreboard))
	}))

	date := time.Date(2024, 10, 15, 0, 0, 0, 0, time.UTC)
	events, err := c.Events(context.Background(), "nfl", date)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if gotPath != "/football/nfl/scoreboard" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "dates=20241015&limit=300" {
		t.Errorf("query = %q", gotQuery)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.ID != "401547" || ev.Provider != "espn" || ev.League != "nfl" {
		t.Errorf("identity = %s/%s/%s", ev.ID, ev.Provider, ev.League)
	}
	want := time.Date(2024, 10, 16, 0, 20, 0, 0, time.UTC)
	if !ev.StartTime.Equal(want) {
		t.Errorf("start = %v, want %v", ev.StartTime, want)
	}
	if ev.HomeTeam.Name != "Detroit Lions" || ev.AwayTeam.Name != "Tampa Bay Buccaneers" {
		t.Errorf("teams = %q vs %q", ev.HomeTeam.Name, ev.AwayTeam.Name)
	}
	if ev.HomeTeam.Abbreviation != "DET" || ev.HomeTeam.Record != "4-1" {
		t.Errorf("home = %+v", ev.HomeTeam)
	}
	if ev.HomeScore == nil || *ev.HomeScore != 31 {
		t.Errorf("home score = %v", ev.HomeScore)
	}
	if ev.Status != sports.StatusScheduled {
		t.Errorf("status = %q", ev.Status)
	}
	if ev.Venue != "Ford Field" || len(ev.Broadcast) != 1 {
		t.Errorf("venue/broadcast = %q/%v", ev.Venue, ev.Broadcast)
	}
	if ev.Odds == nil || ev.Odds.Details != "DET -3.5" {
		t.Errorf("odds = %+v", ev.Odds)
	}
}

func TestEventsUFCCard(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mma/ufc/scoreboard" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(ufcScoreboard))
	}))

	events, err := c.Events(context.Background(), "ufc", time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if len(ev.Bouts) != 3 {
		t.Fatalf("bouts = %d, want 3", len(ev.Bouts))
	}
	if ev.Bouts[0].Fighter1 != "Belal Muhammad" || ev.Bouts[0].Segment != sports.SegmentMainCard {
		t.Errorf("main bout = %+v", ev.Bouts[0])
	}
	// Card start collapses to the earliest segment.
	earlyStart := time.Date(2025, 5, 10, 22, 0, 0, 0, time.UTC)
	if !ev.StartTime.Equal(earlyStart) {
		t.Errorf("card start = %v, want %v", ev.StartTime, earlyStart)
	}
	if got := ev.SegmentTimes[sports.SegmentPrelims]; !got.Equal(time.Date(2025, 5, 11, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("prelims start = %v", got)
	}
	if ev.HomeTeam.Name != "Belal Muhammad" {
		t.Errorf("headliner = %q", ev.HomeTeam.Name)
	}
}

func TestEventNotFound(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	ev, err := c.Event(context.Background(), "999", "nfl")
	if err != nil {
		t.Fatalf("Event: %v", err)
	}
	if ev != nil {
		t.Errorf("event = %+v, want nil", ev)
	}
}

func TestLeagueTeams(t *testing.T) {
	const body = `{"sports":[{"leagues":[{"teams":[
      {"team":{"id":"8","location":"Detroit","name":"Lions","nickname":"Lions",
               "abbreviation":"DET","displayName":"Detroit Lions",
               "shortDisplayName":"Lions","logos":[{"href":"https://a/det.png"}]}},
      {"team":{"id":"9","location":"Green Bay","name":"Packers",
               "abbreviation":"GB","displayName":"Green Bay Packers",
               "shortDisplayName":"Packers"}}
    ]}]}]}`
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	teams, err := c.LeagueTeams(context.Background(), "nfl")
	if err != nil {
		t.Fatalf("LeagueTeams: %v", err)
	}
	if len(teams) != 2 {
		t.Fatalf("teams = %d, want 2", len(teams))
	}
	if teams[0].Name != "Detroit Lions" || teams[0].LogoURL != "https://a/det.png" {
		t.Errorf("team[0] = %+v", teams[0])
	}
}

func TestTeamStats(t *testing.T) {
	const body = `{"team":{"id":"8","displayName":"Detroit Lions",
      "record":{"items":[{"type":"total","summary":"4-1",
        "stats":[{"name":"wins","value":4},{"name":"losses","value":1},
                 {"name":"streak","value":3},
                 {"name":"pointsFor","value":140},{"name":"pointsAgainst","value":98}]}]},
      "standingSummary":"1st in NFC North"}}`
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	stats, err := c.TeamStats(context.Background(), "8", "nfl")
	if err != nil {
		t.Fatalf("TeamStats: %v", err)
	}
	if stats.Wins != 4 || stats.Losses != 1 || stats.Record != "4-1" {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Streak != "W3" || stats.Standing != "1st in NFC North" {
		t.Errorf("streak/standing = %q/%q", stats.Streak, stats.Standing)
	}
}

func TestUnmappedLeague(t *testing.T) {
	c := New(sports.DefaultLeagueMappings(), logging.Discard())
	if c.SupportsLeague("cricket-ipl") {
		t.Error("unmapped league reported supported")
	}
	if _, err := c.Events(context.Background(), "cricket-ipl", time.Now()); err == nil {
		t.Error("Events on unmapped league succeeded")
	}
}

func TestStatusFromESPN(t *testing.T) {
	mk := func(name, state string, completed bool) *espnStatus {
		var s espnStatus
		s.Type.Name = name
		s.Type.State = state
		s.Type.Completed = completed
		return &s
	}
	tests := []struct {
		in   *espnStatus
		want sports.Status
	}{
		{nil, sports.StatusScheduled},
		{mk("STATUS_SCHEDULED", "pre", false), sports.StatusScheduled},
		{mk("STATUS_IN_PROGRESS", "in", false), sports.StatusLive},
		{mk("STATUS_FINAL", "post", true), sports.StatusFinal},
		{mk("STATUS_POSTPONED", "pre", false), sports.StatusPostponed},
		{mk("STATUS_CANCELED", "pre", false), sports.StatusCancelled},
	}
	for _, tt := range tests {
		if got := statusFromESPN(tt.in); got != tt.want {
			t.Errorf("statusFromESPN(%+v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseESPNTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2024-10-16T00:20Z", time.Date(2024, 10, 16, 0, 20, 0, 0, time.UTC), true},
		{"2024-10-15T20:20:00-04:00", time.Date(2024, 10, 16, 0, 20, 0, 0, time.UTC), true},
		{"", time.Time{}, false},
		{"not-a-date", time.Time{}, false},
	}
	for _, tt := range tests {
		got, err := parseESPNTime(tt.in)
		if tt.ok != (err == nil) {
			t.Errorf("parseESPNTime(%q) err = %v", tt.in, err)
			continue
		}
		if tt.ok && !got.Equal(tt.want) {
			t.Errorf("parseESPNTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
