// Package tsdb fetches events and teams from TheSportsDB v1 JSON API
// (thesportsdb.com). It backs the leagues ESPN does not carry (boxing) and
// doubles as the fallback provider for major leagues.
//
// The free tier allows 30 requests per minute, enforced client-side by a
// sliding window; saturated callers sleep in 30-second cooldowns. Server 429s
// and transient failures walk a doubling backoff ladder (5s, 10s, 20s, 40s,
// 80s, capped at 120s); after five attempts a rate-limited call gives up and
// reports no data so the run can proceed on cached events. Every wait is
// accounted in RateLimitStats.
package tsdb

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

	"github.com/teamarr/teamarr/internal/httpclient"
	"github.com/teamarr/teamarr/internal/sports"
)

const (
	defaultBaseURL = "https://www.thesportsdb.com/api/v1/json"
	// Public development key. Paid keys lift the rate limit.
	defaultAPIKey = "3"
	userAgent     = "teamarr/1.0 (+https://github.com/teamarr/teamarr)"

	maxAttempts = 5
	baseBackoff = 5 * time.Second
	maxBackoff  = 120 * time.Second
)

// errRateLimited marks a request abandoned after the full backoff ladder.
// Callers treat it as "no data" rather than failing the run.
var errRateLimited = errors.New("rate limited after retries")

// Client talks to TheSportsDB.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client

	window  *slidingWindow
	leagues map[string]leagueRef // code -> tsdb league
	log     logrus.FieldLogger
}

type leagueRef struct {
	id    string // numeric league id, e.g. "4391"
	sport string
	card  bool
}

// New builds a client from the league mapping rows, keeping only the rows
// whose provider is "tsdb". An empty apiKey falls back to the free tier key.
func New(mappings []sports.LeagueMapping, apiKey string, log logrus.FieldLogger) *Client {
	if apiKey == "" {
		apiKey = defaultAPIKey
	}
	leagues := make(map[string]leagueRef)
	for _, m := range mappings {
		if m.Provider != "tsdb" || m.ProviderLeagueID == "" {
			continue
		}
		leagues[m.Code] = leagueRef{id: m.ProviderLeagueID, sport: strings.ToLower(m.Sport), card: m.EventCard}
	}
	return &Client{
		BaseURL:    defaultBaseURL,
		APIKey:     apiKey,
		HTTPClient: httpclient.Default(),
		window:     newSlidingWindow(),
		leagues:    leagues,
		log:        log,
	}
}

// Name implements the provider interface.
func (c *Client) Name() string { return "tsdb" }

// SupportsLeague reports whether a tsdb league id is mapped for the code.
func (c *Client) SupportsLeague(code string) bool {
	_, ok := c.leagues[code]
	return ok
}

// SupportedLeagues returns the mapped league codes, sorted.
func (c *Client) SupportedLeagues() []string {
	out := make([]string, 0, len(c.leagues))
	for code := range c.leagues {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Stats returns the rate limiter accounting snapshot.
func (c *Client) Stats() RateLimitStats { return c.window.snapshot() }

// Events returns the league's events on the given date. A rate-limited fetch
// that exhausts its retries returns no events and no error.
func (c *Client) Events(ctx context.Context, league string, date time.Time) ([]sports.Event, error) {
	ref, ok := c.leagues[league]
	if !ok {
		return nil, fmt.Errorf("tsdb: league %q not mapped", league)
	}
	u := fmt.Sprintf("%s/eventsday.php?d=%s&id=%s", c.base(), date.Format("2006-01-02"), ref.id)
	var resp eventsResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		if errors.Is(err, errRateLimited) {
			return nil, nil
		}
		return nil, fmt.Errorf("tsdb: %s events %s: %w", league, date.Format("2006-01-02"), err)
	}
	var out []sports.Event
	for _, raw := range resp.Events {
		if ev := decodeEvent(raw, league, ref); ev != nil {
			out = append(out, *ev)
		}
	}
	return out, nil
}

// Event fetches one event by id. Returns nil when unknown.
func (c *Client) Event(ctx context.Context, id, league string) (*sports.Event, error) {
	ref, ok := c.leagues[league]
	if !ok {
		return nil, fmt.Errorf("tsdb: league %q not mapped", league)
	}
	u := fmt.Sprintf("%s/lookupevent.php?id=%s", c.base(), url.QueryEscape(id))
	var resp eventsResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		if errors.Is(err, errRateLimited) {
			return nil, nil
		}
		return nil, fmt.Errorf("tsdb: event %s: %w", id, err)
	}
	if len(resp.Events) == 0 {
		return nil, nil
	}
	return decodeEvent(resp.Events[0], league, ref), nil
}

// Team fetches one team by id. Returns nil when unknown.
func (c *Client) Team(ctx context.Context, id, league string) (*sports.Team, error) {
	u := fmt.Sprintf("%s/lookupteam.php?id=%s", c.base(), url.QueryEscape(id))
	var resp teamsResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		if errors.Is(err, errRateLimited) {
			return nil, nil
		}
		return nil, fmt.Errorf("tsdb: team %s: %w", id, err)
	}
	if len(resp.Teams) == 0 {
		return nil, nil
	}
	t := decodeTeam(resp.Teams[0])
	return &t, nil
}

// TeamSchedule returns the team's upcoming events within daysAhead days.
func (c *Client) TeamSchedule(ctx context.Context, teamID, league string, daysAhead int) ([]sports.Event, error) {
	ref, ok := c.leagues[league]
	if !ok {
		return nil, fmt.Errorf("tsdb: league %q not mapped", league)
	}
	u := fmt.Sprintf("%s/eventsnext.php?id=%s", c.base(), url.QueryEscape(teamID))
	var resp eventsResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		if errors.Is(err, errRateLimited) {
			return nil, nil
		}
		return nil, fmt.Errorf("tsdb: team %s schedule: %w", teamID, err)
	}
	horizon := time.Now().UTC().AddDate(0, 0, daysAhead)
	var out []sports.Event
	for _, raw := range resp.Events {
		ev := decodeEvent(raw, league, ref)
		if ev == nil {
			continue
		}
		if daysAhead > 0 && ev.StartTime.After(horizon) {
			continue
		}
		out = append(out, *ev)
	}
	return out, nil
}

// TeamStats derives a record from the league table; nil when the league has
// no table (combat sports) or the team is not in it.
func (c *Client) TeamStats(ctx context.Context, teamID, league string) (*sports.TeamStats, error) {
	ref, ok := c.leagues[league]
	if !ok {
		return nil, fmt.Errorf("tsdb: league %q not mapped", league)
	}
	if ref.card {
		return nil, nil
	}
	u := fmt.Sprintf("%s/lookuptable.php?l=%s", c.base(), ref.id)
	var resp tableResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		if errors.Is(err, errRateLimited) {
			return nil, nil
		}
		return nil, fmt.Errorf("tsdb: %s table: %w", league, err)
	}
	for _, row := range resp.Table {
		if row.TeamID != teamID {
			continue
		}
		stats := &sports.TeamStats{
			TeamID: teamID,
			League: league,
			Wins:   int(row.Wins),
			Losses: int(row.Losses),
			Ties:   int(row.Draws),
		}
		if row.Draws > 0 {
			stats.Record = fmt.Sprintf("%d-%d-%d", stats.Wins, stats.Losses, stats.Ties)
		} else {
			stats.Record = fmt.Sprintf("%d-%d", stats.Wins, stats.Losses)
		}
		if row.Rank > 0 {
			stats.Standing = ordinal(int(row.Rank))
		}
		return stats, nil
	}
	return nil, nil
}

// LeagueTeams returns every team in a league.
func (c *Client) LeagueTeams(ctx context.Context, league string) ([]sports.Team, error) {
	ref, ok := c.leagues[league]
	if !ok {
		return nil, fmt.Errorf("tsdb: league %q not mapped", league)
	}
	u := fmt.Sprintf("%s/lookup_all_teams.php?id=%s", c.base(), ref.id)
	var resp teamsResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		if errors.Is(err, errRateLimited) {
			return nil, nil
		}
		return nil, fmt.Errorf("tsdb: %s teams: %w", league, err)
	}
	out := make([]sports.Team, 0, len(resp.Teams))
	for _, raw := range resp.Teams {
		out = append(out, decodeTeam(raw))
	}
	return out, nil
}

func (c *Client) base() string { return c.BaseURL + "/" + c.APIKey }

// getJSON performs a window-limited GET, walking the backoff ladder on 429s
// and transient failures. The final ladder step is slept through even when no
// attempts remain, keeping the client inside the upstream's budget before it
// reports errRateLimited.
func (c *Client) getJSON(ctx context.Context, rawURL string, v any) error {
	backoff := baseBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.window.acquire(ctx); err != nil {
			return err
		}
		status, err := c.fetchOnce(ctx, rawURL, v)
		switch {
		case err == nil && status == http.StatusOK:
			return nil
		case err == nil && status == http.StatusTooManyRequests:
			lastErr = errRateLimited
		case err == nil && status >= 500:
			lastErr = fmt.Errorf("status %d from %s", status, rawURL)
		case err == nil:
			return fmt.Errorf("unexpected status %d from %s", status, rawURL)
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return err
		default:
			lastErr = err
		}

		wait := backoff
		if wait > maxBackoff {
			wait = maxBackoff
		}
		c.window.addReactiveWait(wait)
		c.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"wait":    wait.String(),
			"url":     rawURL,
		}).Warn("tsdb backing off")
		if err := c.window.sleep(ctx, wait); err != nil {
			return err
		}
		backoff *= 2
	}
	return lastErr
}

// fetchOnce sends one request. A non-nil error is a transport or decode
// failure; otherwise the status code tells the caller what happened.
func (c *Client) fetchOnce(ctx context.Context, rawURL string, v any) (int, error) {
	release := httpclient.GlobalHostSem.Acquire(rawURL)
	defer release()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(v)
}

// ── response decoding ─────────────────────────────────────────────────────────

type eventsResponse struct {
	Events []tsdbEvent `json:"events"`
}

type teamsResponse struct {
	Teams []tsdbTeam `json:"teams"`
}

type tableResponse struct {
	Table []tableRow `json:"table"`
}

type tableRow struct {
	TeamID string  `json:"idTeam"`
	Rank   flexInt `json:"intRank"`
	Wins   flexInt `json:"intWin"`
	Losses flexInt `json:"intLoss"`
	Draws  flexInt `json:"intDraw"`
}

type tsdbEvent struct {
	ID        string `json:"idEvent"`
	Name      string `json:"strEvent"`
	Sport     string `json:"strSport"`
	HomeTeam  string `json:"strHomeTeam"`
	AwayTeam  string `json:"strAwayTeam"`
	HomeID    string `json:"idHomeTeam"`
	AwayID    string `json:"idAwayTeam"`
	HomeScore string `json:"intHomeScore"`
	AwayScore string `json:"intAwayScore"`
	Date      string `json:"dateEvent"`
	Time      string `json:"strTime"`
	Timestamp string `json:"strTimestamp"`
	Status    string `json:"strStatus"`
	Postponed string `json:"strPostponed"`
	Venue     string `json:"strVenue"`
	Thumb     string `json:"strThumb"`
	TV        string `json:"strTVStation"`
}

type tsdbTeam struct {
	ID        string `json:"idTeam"`
	Name      string `json:"strTeam"`
	ShortName string `json:"strTeamShort"`
	Alternate string `json:"strAlternate"`
	Badge     string `json:"strBadge"`
	OldBadge  string `json:"strTeamBadge"`
	Location  string `json:"strLocation"`
}

// flexInt tolerates TSDB's habit of quoting numbers ("12") or nulling them.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err == nil {
		*f = flexInt(n)
	}
	return nil
}

func decodeEvent(raw tsdbEvent, league string, ref leagueRef) *sports.Event {
	start, ok := parseTSDBTime(raw.Timestamp, raw.Date, raw.Time)
	if !ok {
		return nil
	}
	ev := &sports.Event{
		ID:        raw.ID,
		Provider:  "tsdb",
		League:    league,
		Sport:     ref.sport,
		Name:      raw.Name,
		StartTime: start,
		Status:    statusFromTSDB(raw.Status, raw.Postponed),
		Venue:     raw.Venue,
		HomeTeam:  sports.Team{ID: raw.HomeID, Name: raw.HomeTeam},
		AwayTeam:  sports.Team{ID: raw.AwayID, Name: raw.AwayTeam},
	}
	if ev.Sport == "" && raw.Sport != "" {
		ev.Sport = strings.ToLower(raw.Sport)
	}
	if raw.TV != "" {
		ev.Broadcast = strings.Split(raw.TV, ";")
	}
	if n, err := strconv.Atoi(raw.HomeScore); err == nil {
		ev.HomeScore = &n
	}
	if n, err := strconv.Atoi(raw.AwayScore); err == nil {
		ev.AwayScore = &n
	}
	// Combat cards come through with blank team fields and the headline bout
	// in strEvent ("Canelo Alvarez vs Terence Crawford").
	if ref.card && ev.HomeTeam.Name == "" && ev.Name != "" {
		if f1, f2, ok := splitVersus(ev.Name); ok {
			ev.HomeTeam.Name = f1
			ev.AwayTeam.Name = f2
		}
	}
	return ev
}

// splitVersus splits "A vs B" card titles into the two sides.
func splitVersus(name string) (string, string, bool) {
	for _, sep := range []string{" vs ", " vs. ", " v "} {
		if i := strings.Index(name, sep); i > 0 {
			return strings.TrimSpace(name[:i]), strings.TrimSpace(name[i+len(sep):]), true
		}
	}
	return "", "", false
}

func decodeTeam(raw tsdbTeam) sports.Team {
	badge := raw.Badge
	if badge == "" {
		badge = raw.OldBadge
	}
	return sports.Team{
		ID:        raw.ID,
		Name:      raw.Name,
		ShortName: raw.ShortName,
		Nickname:  firstAlternate(raw.Alternate),
		Location:  raw.Location,
		LogoURL:   badge,
	}
}

// firstAlternate picks the first comma-separated alternate name.
func firstAlternate(s string) string {
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// statusFromTSDB maps TSDB status strings to domain statuses. TSDB is loose
// here: soccer uses "Not Started"/"FT", US sports "NS"/"AOT", and live states
// are period markers like "2nd Quarter".
func statusFromTSDB(status, postponed string) sports.Status {
	if strings.EqualFold(postponed, "yes") {
		return sports.StatusPostponed
	}
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "", "ns", "not started", "scheduled", "pre-fight":
		return sports.StatusScheduled
	case "ft", "aot", "aet", "pen", "match finished", "finished", "final":
		return sports.StatusFinal
	case "postponed", "post.":
		return sports.StatusPostponed
	case "cancelled", "canceled", "canc":
		return sports.StatusCancelled
	default:
		return sports.StatusLive
	}
}

// parseTSDBTime prefers strTimestamp (UTC), falling back to dateEvent +
// strTime. Events with no usable instant are dropped.
func parseTSDBTime(timestamp, date, clock string) (time.Time, bool) {
	if timestamp != "" {
		for _, layout := range []string{"2006-01-02T15:04:05-07:00", "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, timestamp); err == nil {
				return t.UTC(), true
			}
		}
	}
	if date == "" {
		return time.Time{}, false
	}
	if clock == "" {
		clock = "00:00:00"
	}
	if t, err := time.Parse("2006-01-02 15:04:05", date+" "+clock); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse("2006-01-02", date); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// ordinal renders 1 -> "1st", 2 -> "2nd", etc.
func ordinal(n int) string {
	suffix := "th"
	switch {
	case n%100 >= 11 && n%100 <= 13:
	case n%10 == 1:
		suffix = "st"
	case n%10 == 2:
		suffix = "nd"
	case n%10 == 3:
		suffix = "rd"
	}
	return strconv.Itoa(n) + suffix
}
