// Package espn fetches events, teams, and schedules from ESPN's public site
// API (site.api.espn.com). One Client serves every ESPN-backed league; the
// league table decides which sport/league path each code maps to.
//
// The API is unauthenticated but not unmetered: requests go through a shared
// token-bucket limiter plus the process-wide per-host semaphore, and 429/5xx
// responses ride the standard retry ladder.
package espn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/teamarr/teamarr/internal/httpclient"
	"github.com/teamarr/teamarr/internal/sports"
)

const (
	defaultBaseURL = "https://site.api.espn.com/apis/site/v2/sports"
	userAgent      = "teamarr/1.0 (+https://github.com/teamarr/teamarr)"

	// ESPN tolerates a fair clip; keep headroom for the fan-out pool.
	requestsPerSecond = 8
	requestBurst      = 4
)

// leaguePath is the sport/league URL fragment for one league code.
type leaguePath struct {
	sport string // e.g. "football"
	slug  string // e.g. "nfl"
	card  bool   // event-card league (UFC): scoreboard events are cards
}

// Client talks to the ESPN site API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Retry      httpclient.RetryPolicy

	limiter *rate.Limiter
	paths   map[string]leaguePath
	log     logrus.FieldLogger
}

// New builds a client from the league mapping rows, keeping only the rows
// whose provider is "espn".
func New(mappings []sports.LeagueMapping, log logrus.FieldLogger) *Client {
	paths := make(map[string]leaguePath)
	for _, m := range mappings {
		if m.Provider != "espn" || m.Sport == "" {
			continue
		}
		paths[m.Code] = leaguePath{sport: strings.ToLower(m.Sport), slug: m.ProviderLeagueID, card: m.EventCard}
	}
	return &Client{
		BaseURL:    defaultBaseURL,
		HTTPClient: httpclient.Default(),
		Retry:      httpclient.DefaultRetryPolicy,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
		paths:      paths,
		log:        log,
	}
}

// Name implements the provider interface.
func (c *Client) Name() string { return "espn" }

// SupportsLeague reports whether this client has a path for the league code.
func (c *Client) SupportsLeague(code string) bool {
	_, ok := c.paths[code]
	return ok
}

// SupportedLeagues returns the league codes this client can serve, sorted.
func (c *Client) SupportedLeagues() []string {
	out := make([]string, 0, len(c.paths))
	for code := range c.paths {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Events returns the league's events on the given calendar date.
func (c *Client) Events(ctx context.Context, league string, date time.Time) ([]sports.Event, error) {
	p, ok := c.paths[league]
	if !ok {
		return nil, fmt.Errorf("espn: league %q not mapped", league)
	}
	u := fmt.Sprintf("%s/%s/%s/scoreboard?dates=%s&limit=300",
		c.BaseURL, p.sport, p.slug, date.Format("20060102"))
	var sb scoreboardResponse
	if err := c.getJSON(ctx, u, &sb); err != nil {
		return nil, fmt.Errorf("espn: %s scoreboard %s: %w", league, date.Format("2006-01-02"), err)
	}
	events := make([]sports.Event, 0, len(sb.Events))
	for _, raw := range sb.Events {
		ev, err := decodeEvent(raw, league, p)
		if err != nil {
			c.log.WithError(err).WithField("league", league).Debug("skipping undecodable event")
			continue
		}
		events = append(events, *ev)
	}
	return events, nil
}

// Event fetches one event by id for enrichment. Returns nil when the
// provider no longer knows the id.
func (c *Client) Event(ctx context.Context, id, league string) (*sports.Event, error) {
	p, ok := c.paths[league]
	if !ok {
		return nil, fmt.Errorf("espn: league %q not mapped", league)
	}
	u := fmt.Sprintf("%s/%s/%s/summary?event=%s", c.BaseURL, p.sport, p.slug, url.QueryEscape(id))
	var sum summaryResponse
	if err := c.getJSON(ctx, u, &sum); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("espn: %s event %s: %w", league, id, err)
	}
	if len(sum.Header.Competitions) == 0 {
		return nil, nil
	}
	raw := scoreboardEvent{
		ID:           sum.Header.ID,
		Name:         sum.Header.Name,
		ShortName:    sum.Header.ShortName,
		Date:         sum.Header.Competitions[0].StartDate,
		Competitions: sum.Header.Competitions,
	}
	return decodeEvent(raw, league, p)
}

// Team fetches one team's identity and record by id. Returns nil when unknown.
func (c *Client) Team(ctx context.Context, id, league string) (*sports.Team, error) {
	detail, err := c.teamDetail(ctx, id, league)
	if err != nil || detail == nil {
		return nil, err
	}
	t := decodeTeam(detail.Team.espnTeam)
	t.Record = detail.Team.recordSummary()
	t.Streak = detail.Team.streak()
	return &t, nil
}

// TeamStats returns the team's season record detail, or nil when the
// provider has none.
func (c *Client) TeamStats(ctx context.Context, id, league string) (*sports.TeamStats, error) {
	detail, err := c.teamDetail(ctx, id, league)
	if err != nil || detail == nil {
		return nil, err
	}
	stats := &sports.TeamStats{
		TeamID:   id,
		League:   league,
		Record:   detail.Team.recordSummary(),
		Streak:   detail.Team.streak(),
		Standing: detail.Team.StandingSummary,
	}
	for _, item := range detail.Team.Record.Items {
		if item.Type != "total" && item.Type != "" {
			continue
		}
		for _, st := range item.Stats {
			switch st.Name {
			case "wins":
				stats.Wins = int(st.Value)
			case "losses":
				stats.Losses = int(st.Value)
			case "ties":
				stats.Ties = int(st.Value)
			case "pointsFor":
				stats.PointsFor = int(st.Value)
			case "pointsAgainst":
				stats.PointsAgst = int(st.Value)
			}
		}
		break
	}
	return stats, nil
}

func (c *Client) teamDetail(ctx context.Context, id, league string) (*teamDetailResponse, error) {
	p, ok := c.paths[league]
	if !ok {
		return nil, fmt.Errorf("espn: league %q not mapped", league)
	}
	u := fmt.Sprintf("%s/%s/%s/teams/%s", c.BaseURL, p.sport, p.slug, url.PathEscape(id))
	var detail teamDetailResponse
	if err := c.getJSON(ctx, u, &detail); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("espn: %s team %s: %w", league, id, err)
	}
	return &detail, nil
}

// TeamSchedule returns the team's events within daysAhead days from now.
func (c *Client) TeamSchedule(ctx context.Context, teamID, league string, daysAhead int) ([]sports.Event, error) {
	p, ok := c.paths[league]
	if !ok {
		return nil, fmt.Errorf("espn: league %q not mapped", league)
	}
	u := fmt.Sprintf("%s/%s/%s/teams/%s/schedule", c.BaseURL, p.sport, p.slug, url.PathEscape(teamID))
	var sched scheduleResponse
	if err := c.getJSON(ctx, u, &sched); err != nil {
		return nil, fmt.Errorf("espn: %s team %s schedule: %w", league, teamID, err)
	}
	horizon := time.Now().UTC().AddDate(0, 0, daysAhead)
	var out []sports.Event
	for _, raw := range sched.Events {
		ev, err := decodeEvent(raw, league, p)
		if err != nil {
			continue
		}
		if daysAhead > 0 && ev.StartTime.After(horizon) {
			continue
		}
		out = append(out, *ev)
	}
	return out, nil
}

// LeagueTeams returns every team in a league for roster seeding.
func (c *Client) LeagueTeams(ctx context.Context, league string) ([]sports.Team, error) {
	p, ok := c.paths[league]
	if !ok {
		return nil, fmt.Errorf("espn: league %q not mapped", league)
	}
	u := fmt.Sprintf("%s/%s/%s/teams?limit=500", c.BaseURL, p.sport, p.slug)
	var tl teamsResponse
	if err := c.getJSON(ctx, u, &tl); err != nil {
		return nil, fmt.Errorf("espn: %s teams: %w", league, err)
	}
	var out []sports.Team
	for _, s := range tl.Sports {
		for _, l := range s.Leagues {
			for _, entry := range l.Teams {
				out = append(out, decodeTeam(entry.Team))
			}
		}
	}
	return out, nil
}

// getJSON performs a rate-limited GET and decodes the body into v.
func (c *Client) getJSON(ctx context.Context, rawURL string, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	release := httpclient.GlobalHostSem.Acquire(rawURL)
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	resp, err := httpclient.DoWithRetry(ctx, c.HTTPClient, req, c.Retry)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return &statusError{Code: resp.StatusCode, URL: rawURL}
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// statusError carries the HTTP status for not-found detection.
type statusError struct {
	Code int
	URL  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

func isNotFound(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Code == http.StatusNotFound || se.Code == http.StatusBadRequest
	}
	return false
}

// ── response decoding ─────────────────────────────────────────────────────────

type scoreboardResponse struct {
	Events []scoreboardEvent `json:"events"`
}

type summaryResponse struct {
	Header struct {
		ID           string        `json:"id"`
		Name         string        `json:"name,omitempty"`
		ShortName    string        `json:"shortName,omitempty"`
		Competitions []competition `json:"competitions"`
	} `json:"header"`
}

type scheduleResponse struct {
	Events []scoreboardEvent `json:"events"`
}

type teamsResponse struct {
	Sports []struct {
		Leagues []struct {
			Teams []struct {
				Team espnTeam `json:"team"`
			} `json:"teams"`
		} `json:"leagues"`
	} `json:"sports"`
}

type teamDetailResponse struct {
	Team teamDetail `json:"team"`
}

type teamDetail struct {
	espnTeam
	Record          teamRecord `json:"record"`
	StandingSummary string     `json:"standingSummary"`
}

type teamRecord struct {
	Items []recordItem `json:"items"`
}

type recordItem struct {
	Type    string      `json:"type"`
	Summary string      `json:"summary"`
	Stats   []statEntry `json:"stats"`
}

type statEntry struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// recordSummary returns the overall "W-L" summary string.
func (t teamDetail) recordSummary() string {
	for _, item := range t.Record.Items {
		if item.Type == "total" || item.Type == "" {
			return item.Summary
		}
	}
	return ""
}

// streak formats the streak stat as "W3"/"L2"; "" when absent.
func (t teamDetail) streak() string {
	for _, item := range t.Record.Items {
		for _, st := range item.Stats {
			if st.Name != "streak" {
				continue
			}
			n := int(st.Value)
			switch {
			case n > 0:
				return "W" + strconv.Itoa(n)
			case n < 0:
				return "L" + strconv.Itoa(-n)
			default:
				return ""
			}
		}
	}
	return ""
}

type scoreboardEvent struct {
	ID           string        `json:"id"`
	Date         string        `json:"date"`
	Name         string        `json:"name"`
	ShortName    string        `json:"shortName"`
	Competitions []competition `json:"competitions"`
	Status       *espnStatus   `json:"status"`
}

type competition struct {
	ID          string `json:"id"`
	StartDate   string `json:"startDate"`
	CardSegment *struct {
		Description string `json:"description"`
	} `json:"cardSegment"`
	Competitors []competitor `json:"competitors"`
	Venue       *struct {
		FullName string `json:"fullName"`
	} `json:"venue"`
	Broadcasts []struct {
		Names []string `json:"names"`
	} `json:"broadcasts"`
	Odds []struct {
		Details   string  `json:"details"`
		OverUnder float64 `json:"overUnder"`
	} `json:"odds"`
	Status *espnStatus `json:"status"`
}

type competitor struct {
	HomeAway string    `json:"homeAway"`
	Winner   bool      `json:"winner"`
	Score    flexScore `json:"score"`
	Team     *espnTeam `json:"team"`
	Athlete  *struct {
		DisplayName string `json:"displayName"`
		ShortName   string `json:"shortName"`
	} `json:"athlete"`
	Records []struct {
		Type    string `json:"type"`
		Summary string `json:"summary"`
	} `json:"records"`
}

type espnTeam struct {
	ID               string `json:"id"`
	Location         string `json:"location"`
	Name             string `json:"name"`
	Abbreviation     string `json:"abbreviation"`
	DisplayName      string `json:"displayName"`
	ShortDisplayName string `json:"shortDisplayName"`
	Nickname         string `json:"nickname"`
	Logo             string `json:"logo"`
	Logos            []struct {
		Href string `json:"href"`
	} `json:"logos"`
}

type espnStatus struct {
	Type struct {
		Name      string `json:"name"`
		State     string `json:"state"`
		Completed bool   `json:"completed"`
	} `json:"type"`
}

// flexScore tolerates ESPN's two score encodings: "20" on scoreboards and
// {"value":20,"displayValue":"20"} on schedules.
type flexScore struct {
	Value *int
}

func (f *flexScore) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		return nil
	}
	if strings.HasPrefix(s, "{") {
		var obj struct {
			Value float64 `json:"value"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil
		}
		v := int(obj.Value)
		f.Value = &v
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if n, err := strconv.Atoi(str); err == nil {
			f.Value = &n
		}
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		f.Value = &n
	}
	return nil
}

func decodeTeam(t espnTeam) sports.Team {
	logo := t.Logo
	if logo == "" && len(t.Logos) > 0 {
		logo = t.Logos[0].Href
	}
	nickname := t.Nickname
	if nickname == "" {
		nickname = t.Name
	}
	return sports.Team{
		ID:           t.ID,
		Name:         t.DisplayName,
		ShortName:    t.ShortDisplayName,
		Abbreviation: t.Abbreviation,
		Nickname:     nickname,
		Location:     t.Location,
		LogoURL:      logo,
	}
}

// decodeEvent converts one scoreboard/schedule event into the domain Event.
// Card leagues treat each competition as a bout and derive segment times.
func decodeEvent(raw scoreboardEvent, league string, p leaguePath) (*sports.Event, error) {
	start, err := parseESPNTime(raw.Date)
	if err != nil && len(raw.Competitions) > 0 {
		start, err = parseESPNTime(raw.Competitions[0].StartDate)
	}
	if err != nil {
		return nil, fmt.Errorf("event %s: bad date %q", raw.ID, raw.Date)
	}
	ev := &sports.Event{
		ID:        raw.ID,
		Provider:  "espn",
		League:    league,
		Sport:     p.sport,
		Name:      raw.Name,
		ShortName: raw.ShortName,
		StartTime: start,
		Status:    statusFromESPN(raw.Status),
	}
	if p.card {
		decodeCard(ev, raw)
		return ev, nil
	}
	if len(raw.Competitions) == 0 {
		return nil, fmt.Errorf("event %s: no competitions", raw.ID)
	}
	comp := raw.Competitions[0]
	if ev.Status == sports.StatusScheduled && comp.Status != nil {
		ev.Status = statusFromESPN(comp.Status)
	}
	if comp.Venue != nil {
		ev.Venue = comp.Venue.FullName
	}
	for _, b := range comp.Broadcasts {
		ev.Broadcast = append(ev.Broadcast, b.Names...)
	}
	if len(comp.Odds) > 0 {
		ev.Odds = &sports.Odds{Details: comp.Odds[0].Details, OverUnder: comp.Odds[0].OverUnder}
	}
	for _, cc := range comp.Competitors {
		if cc.Team == nil {
			continue
		}
		team := decodeTeam(*cc.Team)
		for _, r := range cc.Records {
			if r.Type == "total" || r.Type == "" {
				team.Record = r.Summary
				break
			}
		}
		switch cc.HomeAway {
		case "home":
			ev.HomeTeam = team
			ev.HomeScore = cc.Score.Value
		case "away":
			ev.AwayTeam = team
			ev.AwayScore = cc.Score.Value
		}
	}
	if ev.HomeTeam.Name == "" && ev.AwayTeam.Name == "" {
		return nil, fmt.Errorf("event %s: no competitors", raw.ID)
	}
	return ev, nil
}

// decodeCard fills bouts and segment times from a combat-sports event whose
// competitions are individual fights.
func decodeCard(ev *sports.Event, raw scoreboardEvent) {
	segTimes := make(map[sports.Segment]time.Time)
	for i, comp := range raw.Competitions {
		var seg sports.Segment
		if comp.CardSegment != nil {
			seg = segmentFromDescription(comp.CardSegment.Description)
		}
		boutStart, err := parseESPNTime(comp.StartDate)
		if err != nil {
			boutStart = ev.StartTime
		}
		bout := sports.Bout{Segment: seg, StartTime: boutStart, Order: i}
		for _, cc := range comp.Competitors {
			name := ""
			if cc.Athlete != nil {
				name = cc.Athlete.DisplayName
			} else if cc.Team != nil {
				name = cc.Team.DisplayName
			}
			if bout.Fighter1 == "" {
				bout.Fighter1 = name
			} else if bout.Fighter2 == "" {
				bout.Fighter2 = name
			}
		}
		ev.Bouts = append(ev.Bouts, bout)
		if seg != "" {
			if t, ok := segTimes[seg]; !ok || boutStart.Before(t) {
				segTimes[seg] = boutStart
			}
		}
	}
	if len(segTimes) > 0 {
		ev.SegmentTimes = segTimes
		// The card's start is its earliest segment.
		earliest := ev.StartTime
		for _, t := range segTimes {
			if t.Before(earliest) {
				earliest = t
			}
		}
		ev.StartTime = earliest
	}
	// Cards list the main event first; surface the headliners.
	if len(ev.Bouts) > 0 {
		ev.HomeTeam = sports.Team{Name: ev.Bouts[0].Fighter1}
		ev.AwayTeam = sports.Team{Name: ev.Bouts[0].Fighter2}
	}
}

// segmentFromDescription maps ESPN's card segment labels to domain segments.
func segmentFromDescription(desc string) sports.Segment {
	d := strings.ToLower(desc)
	switch {
	case strings.Contains(d, "early"):
		return sports.SegmentEarlyPrelims
	case strings.Contains(d, "prelim"):
		return sports.SegmentPrelims
	case strings.Contains(d, "main"):
		return sports.SegmentMainCard
	default:
		return ""
	}
}

// statusFromESPN maps ESPN status blocks to domain statuses.
func statusFromESPN(s *espnStatus) sports.Status {
	if s == nil {
		return sports.StatusScheduled
	}
	switch strings.ToUpper(s.Type.Name) {
	case "STATUS_POSTPONED":
		return sports.StatusPostponed
	case "STATUS_CANCELED", "STATUS_CANCELLED":
		return sports.StatusCancelled
	}
	switch s.Type.State {
	case "in":
		return sports.StatusLive
	case "post":
		return sports.StatusFinal
	default:
		if s.Type.Completed {
			return sports.StatusFinal
		}
		return sports.StatusScheduled
	}
}

// parseESPNTime parses ESPN's timestamp variants: RFC3339, and the
// minute-resolution "2024-10-15T00:20Z" form scoreboards use.
func parseESPNTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04Z07:00", "2006-01-02T15:04:05Z0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
