// Package templates resolves the display strings for managed channels and
// their EPG programmes. A template is plain text with {variable} placeholders
// drawn from a fixed registry; {variable|fallback} substitutes the fallback
// when the variable is empty. A template with an unknown or unresolvable
// placeholder falls back to the default "<Away> @ <Home>" naming.
package templates

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/teamarr/teamarr/internal/sports"
)

// Default template strings used when a group has no template or a template
// field is blank.
const (
	DefaultChannelName       = "{matchup}"
	DefaultProgrammeTitle    = "{matchup}"
	DefaultProgrammeSubtitle = "{league.name}"
	DefaultPregameTitle      = "{matchup} - Pregame"
	DefaultPostgameTitle     = "{matchup} - Postgame"
	DefaultIdleTitle         = "{league.name|Sports} Programming"
)

// Context carries everything a template variable can draw from. Event is the
// matched event; Team is set only for team-centric (linear) channels, where
// the opponent family and the .next/.last suffixes become meaningful.
type Context struct {
	Event     *sports.Event
	NextEvent *sports.Event // team context: next scheduled event
	LastEvent *sports.Event // team context: most recent completed event
	Team      *sports.Team  // team context; nil for event channels
	League    sports.LeagueMapping
	Stats     map[string]*sports.TeamStats // keyed by provider team id
	Keyword   string                       // exception keyword, "" for main
	Segment   sports.Segment
	Location  *time.Location
	Now       time.Time
}

func (c *Context) loc() *time.Location {
	if c.Location != nil {
		return c.Location
	}
	return time.UTC
}

func (c *Context) stats(t *sports.Team) *sports.TeamStats {
	if t == nil || c.Stats == nil {
		return nil
	}
	return c.Stats[t.ID]
}

// side returns the team a perspective refers to, or nil when the perspective
// does not apply (opponent without a team context, home without an event).
func (c *Context) side(which string) *sports.Team {
	switch which {
	case "team":
		return c.Team
	case "home":
		if c.Event == nil {
			return nil
		}
		return &c.Event.HomeTeam
	case "away":
		if c.Event == nil {
			return nil
		}
		return &c.Event.AwayTeam
	case "opponent":
		if c.Team == nil || c.Event == nil {
			return nil
		}
		if c.Event.HomeTeam.ID == c.Team.ID {
			return &c.Event.AwayTeam
		}
		if c.Event.AwayTeam.ID == c.Team.ID {
			return &c.Event.HomeTeam
		}
		return nil
	}
	return nil
}

// shifted returns a copy of the context pointed at another event. Used by the
// .next/.last suffix dispatch.
func (c *Context) shifted(e *sports.Event) *Context {
	cp := *c
	cp.Event = e
	return &cp
}

// variable is one registry entry. event marks variables whose value depends
// on the event, which are the only ones the .next/.last suffixes apply to.
type variable struct {
	event bool
	get   func(*Context) string
}

// teamField extracts one display field from a team and its stats row.
type teamField struct {
	name string
	get  func(*sports.Team, *sports.TeamStats) string
}

var teamFields = []teamField{
	{"name", func(t *sports.Team, _ *sports.TeamStats) string { return t.Name }},
	{"short", func(t *sports.Team, _ *sports.TeamStats) string { return t.ShortName }},
	{"abbr", func(t *sports.Team, _ *sports.TeamStats) string { return t.Abbreviation }},
	{"nickname", func(t *sports.Team, _ *sports.TeamStats) string { return t.Nickname }},
	{"location", func(t *sports.Team, _ *sports.TeamStats) string { return t.Location }},
	{"logo", func(t *sports.Team, _ *sports.TeamStats) string { return t.LogoURL }},
	{"record", recordOf},
	{"streak", func(t *sports.Team, st *sports.TeamStats) string {
		if st != nil && st.Streak != "" {
			return st.Streak
		}
		return t.Streak
	}},
	{"wins", statInt(func(st *sports.TeamStats) int { return st.Wins })},
	{"losses", statInt(func(st *sports.TeamStats) int { return st.Losses })},
	{"ties", statInt(func(st *sports.TeamStats) int { return st.Ties })},
	{"standing", func(_ *sports.Team, st *sports.TeamStats) string {
		if st == nil {
			return ""
		}
		return st.Standing
	}},
	{"points_for", statInt(func(st *sports.TeamStats) int { return st.PointsFor })},
	{"points_against", statInt(func(st *sports.TeamStats) int { return st.PointsAgst })},
}

func statInt(get func(*sports.TeamStats) int) func(*sports.Team, *sports.TeamStats) string {
	return func(_ *sports.Team, st *sports.TeamStats) string {
		if st == nil {
			return ""
		}
		if v := get(st); v != 0 {
			return strconv.Itoa(v)
		}
		// A zero is genuine when the team has any result on the books.
		if st.Wins != 0 || st.Losses != 0 || st.Ties != 0 {
			return "0"
		}
		return ""
	}
}

// recordOf prefers the stats row's record, falling back to the inline team
// record some providers carry on the event itself.
func recordOf(t *sports.Team, st *sports.TeamStats) string {
	if st != nil {
		if st.Record != "" {
			return st.Record
		}
		if st.Wins != 0 || st.Losses != 0 || st.Ties != 0 {
			r := fmt.Sprintf("%d-%d", st.Wins, st.Losses)
			if st.Ties > 0 {
				r += fmt.Sprintf("-%d", st.Ties)
			}
			return r
		}
	}
	if t != nil {
		return t.Record
	}
	return ""
}

var registry = buildRegistry()

func buildRegistry() map[string]variable {
	reg := make(map[string]variable)

	// Team families: home.*, away.*, team.*, opponent.*.
	for _, persp := range []string{"home", "away", "team", "opponent"} {
		persp := persp
		for _, f := range teamFields {
			f := f
			reg[persp+"."+f.name] = variable{
				event: persp != "team",
				get: func(c *Context) string {
					t := c.side(persp)
					if t == nil {
						return ""
					}
					return f.get(t, c.stats(t))
				},
			}
		}
		// Bare perspective name resolves the team name.
		reg[persp] = variable{
			event: persp != "team",
			get: func(c *Context) string {
				t := c.side(persp)
				if t == nil {
					return ""
				}
				return t.Name
			},
		}
	}

	// Matchup and event detail.
	reg["matchup"] = eventVar(func(e *sports.Event, _ *Context) string { return e.MatchupTitle() })
	reg["matchup.short"] = eventVar(func(e *sports.Event, _ *Context) string { return shortMatchup(e) })
	reg["event.name"] = eventVar(func(e *sports.Event, _ *Context) string { return e.Name })
	reg["event.short"] = eventVar(func(e *sports.Event, _ *Context) string { return e.ShortName })
	reg["event.id"] = eventVar(func(e *sports.Event, _ *Context) string { return e.ID })
	reg["event.status"] = eventVar(func(e *sports.Event, _ *Context) string { return string(e.Status) })
	reg["venue"] = eventVar(func(e *sports.Event, _ *Context) string { return e.Venue })
	reg["broadcast"] = eventVar(func(e *sports.Event, _ *Context) string {
		return strings.Join(e.Broadcast, ", ")
	})

	// Scores. Empty until the provider reports them.
	reg["home.score"] = eventVar(func(e *sports.Event, _ *Context) string { return scoreStr(e.HomeScore) })
	reg["away.score"] = eventVar(func(e *sports.Event, _ *Context) string { return scoreStr(e.AwayScore) })
	reg["score"] = eventVar(func(e *sports.Event, _ *Context) string {
		if e.AwayScore == nil || e.HomeScore == nil {
			return ""
		}
		return fmt.Sprintf("%d-%d", *e.AwayScore, *e.HomeScore)
	})

	// Betting line.
	reg["odds"] = eventVar(func(e *sports.Event, _ *Context) string {
		if e.Odds == nil {
			return ""
		}
		return e.Odds.Details
	})
	reg["odds.spread"] = eventVar(func(e *sports.Event, _ *Context) string {
		if e.Odds == nil || e.Odds.Spread == 0 {
			return ""
		}
		return strconv.FormatFloat(e.Odds.Spread, 'f', -1, 64)
	})
	reg["odds.over_under"] = eventVar(func(e *sports.Event, _ *Context) string {
		if e.Odds == nil || e.Odds.OverUnder == 0 {
			return ""
		}
		return strconv.FormatFloat(e.Odds.OverUnder, 'f', -1, 64)
	})
	reg["odds.favorite"] = eventVar(func(e *sports.Event, _ *Context) string {
		if e.Odds == nil {
			return ""
		}
		return e.Odds.Favorite
	})

	// League. Independent of the event, so no suffix dispatch.
	reg["league"] = variable{get: func(c *Context) string { return leagueName(c) }}
	reg["league.name"] = variable{get: func(c *Context) string { return leagueName(c) }}
	reg["league.code"] = variable{get: func(c *Context) string { return c.League.Code }}
	reg["league.sport"] = variable{get: func(c *Context) string { return c.League.Sport }}
	reg["league.logo"] = variable{get: func(c *Context) string { return c.League.LogoURL }}

	// Card segment and exception keyword.
	reg["segment"] = variable{get: func(c *Context) string { return SegmentLabel(c.Segment) }}
	reg["keyword"] = variable{get: func(c *Context) string { return titleCase(c.Keyword) }}

	// Event start rendered in the user's timezone.
	reg["date"] = timeVar("Jan 2")
	reg["date.short"] = timeVar("1/2")
	reg["date.iso"] = timeVar("2006-01-02")
	reg["date.full"] = timeVar("Monday, January 2")
	reg["time"] = timeVar("3:04 PM")
	reg["time.24"] = timeVar("15:04")
	reg["day"] = timeVar("Monday")
	reg["day.short"] = timeVar("Mon")
	reg["day.num"] = timeVar("2")
	reg["month"] = timeVar("January")
	reg["month.short"] = timeVar("Jan")
	reg["month.num"] = timeVar("1")
	reg["year"] = timeVar("2006")
	reg["end.time"] = endVar("3:04 PM")
	reg["end.time.24"] = endVar("15:04")

	// Wall clock at resolution time.
	reg["now.date"] = variable{get: func(c *Context) string { return c.Now.In(c.loc()).Format("Jan 2") }}
	reg["now.time"] = variable{get: func(c *Context) string { return c.Now.In(c.loc()).Format("3:04 PM") }}

	return reg
}

func eventVar(get func(*sports.Event, *Context) string) variable {
	return variable{event: true, get: func(c *Context) string {
		if c.Event == nil {
			return ""
		}
		return get(c.Event, c)
	}}
}

func timeVar(layout string) variable {
	return variable{event: true, get: func(c *Context) string {
		if c.Event == nil || c.Event.StartTime.IsZero() {
			return ""
		}
		return c.Event.StartTime.In(c.loc()).Format(layout)
	}}
}

func endVar(layout string) variable {
	return variable{event: true, get: func(c *Context) string {
		if c.Event == nil || c.Event.StartTime.IsZero() {
			return ""
		}
		return c.Event.EstimatedEnd().In(c.loc()).Format(layout)
	}}
}

func leagueName(c *Context) string {
	if c.League.DisplayName != "" {
		return c.League.DisplayName
	}
	return strings.ToUpper(c.League.Code)
}

func scoreStr(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

func shortMatchup(e *sports.Event) string {
	short := func(t sports.Team) string {
		if t.Abbreviation != "" {
			return t.Abbreviation
		}
		if t.ShortName != "" {
			return t.ShortName
		}
		return t.Name
	}
	away, home := short(e.AwayTeam), short(e.HomeTeam)
	if away == "" && home == "" {
		return e.ShortName
	}
	return away + " @ " + home
}

var titleCaser = cases.Title(language.English)

func titleCase(s string) string { return titleCaser.String(s) }

// SegmentLabel is the display form of a card segment; the combined segment
// has no label.
func SegmentLabel(s sports.Segment) string {
	switch s {
	case sports.SegmentEarlyPrelims:
		return "Early Prelims"
	case sports.SegmentPrelims:
		return "Prelims"
	case sports.SegmentMainCard:
		return "Main Card"
	}
	return ""
}

// Variables returns every resolvable variable name, sorted. The .next/.last
// suffixes multiply the event-dependent ones beyond this list.
func Variables() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var placeholderRe = regexp.MustCompile(`\{([a-z][a-z0-9_.]*)(\|[^{}]*)?\}`)

// Resolve substitutes every placeholder in tmpl. The bool reports whether all
// placeholders resolved (directly or through a |fallback); callers use it to
// trigger default naming.
func Resolve(tmpl string, ctx *Context) (string, bool) {
	ok := true
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		sub := placeholderRe.FindStringSubmatch(m)
		name := sub[1]
		if v, found := lookup(name, ctx); found && v != "" {
			return v
		}
		if sub[2] != "" {
			return sub[2][1:] // strip the leading |
		}
		ok = false
		return m
	})
	return out, ok
}

// lookup resolves one variable name, dispatching .next/.last suffixes onto
// the shifted event when the base variable is event-dependent.
func lookup(name string, ctx *Context) (string, bool) {
	c := ctx
	base := name
	if b, found := strings.CutSuffix(name, ".next"); found {
		base = b
		if v, ok := registry[base]; !ok || !v.event || ctx.NextEvent == nil {
			return "", false
		}
		c = ctx.shifted(ctx.NextEvent)
	} else if b, found := strings.CutSuffix(name, ".last"); found {
		base = b
		if v, ok := registry[base]; !ok || !v.event || ctx.LastEvent == nil {
			return "", false
		}
		c = ctx.shifted(ctx.LastEvent)
	}
	v, ok := registry[base]
	if !ok {
		return "", false
	}
	return v.get(c), true
}

// ChannelName resolves the display name and logo for a channel. A blank or
// unresolvable template falls back to "<Away> @ <Home>" with the home team's
// logo. The exception keyword and card segment are appended unless the
// template places them itself.
func ChannelName(tmpl string, ctx *Context) (string, string) {
	logo := channelLogo(ctx)
	src := tmpl
	if strings.TrimSpace(src) == "" {
		src = DefaultChannelName
	}
	name, ok := Resolve(src, ctx)
	name = strings.Join(strings.Fields(name), " ")
	if !ok || name == "" {
		name = fallbackName(ctx)
	}
	if lbl := SegmentLabel(ctx.Segment); lbl != "" && !strings.Contains(src, "{segment") {
		name += " - " + lbl
	}
	if ctx.Keyword != "" && !strings.Contains(src, "{keyword") {
		name += " (" + titleCase(ctx.Keyword) + ")"
	}
	return name, logo
}

func fallbackName(ctx *Context) string {
	if ctx.Event != nil {
		return ctx.Event.MatchupTitle()
	}
	return ""
}

func channelLogo(ctx *Context) string {
	if ctx.Team != nil && ctx.Team.LogoURL != "" {
		return ctx.Team.LogoURL
	}
	if ctx.Event != nil {
		if ctx.Event.HomeTeam.LogoURL != "" {
			return ctx.Event.HomeTeam.LogoURL
		}
		if ctx.Event.AwayTeam.LogoURL != "" {
			return ctx.Event.AwayTeam.LogoURL
		}
	}
	return ctx.League.LogoURL
}

// Title resolves a programme title template, falling back to def and finally
// to the default matchup naming.
func Title(tmpl, def string, ctx *Context) string {
	if strings.TrimSpace(tmpl) == "" {
		tmpl = def
	}
	s, ok := Resolve(tmpl, ctx)
	s = strings.Join(strings.Fields(s), " ")
	if !ok || s == "" {
		return fallbackName(ctx)
	}
	return s
}

// Description resolves a programme description template; a blank template
// builds the standard description from available event detail.
func Description(tmpl string, ctx *Context) string {
	if strings.TrimSpace(tmpl) != "" {
		if s, ok := Resolve(tmpl, ctx); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return DefaultDescription(ctx)
}

// DefaultDescription composes a one-paragraph description from whatever the
// provider reported: matchup, league, venue, records, broadcast, line.
func DefaultDescription(ctx *Context) string {
	e := ctx.Event
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.MatchupTitle())
	if name := leagueName(ctx); name != "" {
		b.WriteString(" - " + name)
	}
	if e.Venue != "" {
		b.WriteString(" at " + e.Venue)
	}
	b.WriteString(".")
	awayRec := recordOf(&e.AwayTeam, ctx.stats(&e.AwayTeam))
	homeRec := recordOf(&e.HomeTeam, ctx.stats(&e.HomeTeam))
	if awayRec != "" && homeRec != "" {
		fmt.Fprintf(&b, " %s (%s) at %s (%s).",
			e.AwayTeam.Name, awayRec, e.HomeTeam.Name, homeRec)
	}
	if len(e.Broadcast) > 0 {
		b.WriteString(" TV: " + strings.Join(e.Broadcast, ", ") + ".")
	}
	if e.Odds != nil && e.Odds.Details != "" {
		b.WriteString(" Line: " + e.Odds.Details)
		if e.Odds.OverUnder != 0 {
			fmt.Fprintf(&b, " (O/U %s)", strconv.FormatFloat(e.Odds.OverUnder, 'f', -1, 64))
		}
		b.WriteString(".")
	}
	return b.String()
}
