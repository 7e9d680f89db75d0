// Package process runs the per-group pipeline and the post-run enforcement
// sweeps. For one group: fetch the aggregator's streams, filter, match,
// enrich matched events with a fresh status fetch, route channel tuples
// through the lifecycle layer, render and persist the group's XMLTV
// document, and renumber out-of-range channels. Groups are processed
// sequentially in topological order; enforcement runs once after every group
// in a run has been processed.
package process

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/teamarr/teamarr/internal/lifecycle"
	"github.com/teamarr/teamarr/internal/match"
	"github.com/teamarr/teamarr/internal/metrics"
	"github.com/teamarr/teamarr/internal/providers"
	"github.com/teamarr/teamarr/internal/sports"
	"github.com/teamarr/teamarr/internal/store"
)

// StreamSource lists the upstream aggregator's streams for one M3U group.
// The Dispatcharr client implements it.
type StreamSource interface {
	GroupStreams(ctx context.Context, groupID int64) ([]sports.Stream, error)
}

// enrichWorkers bounds the event-enrichment fan-out; the effective pool is
// capped at the number of distinct events.
const enrichWorkers = 100

// Processor owns one group's processing pass and the run-level enforcement.
type Processor struct {
	Store     *store.Store
	Streams   StreamSource
	Matcher   *match.StreamMatcher
	Lifecycle *lifecycle.Service
	Providers *providers.Service
	Leagues   *sports.LeagueIndex
	Metrics   *metrics.Metrics
	Log       logrus.FieldLogger
	UserTZ    *time.Location
	Now       func() time.Time
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Processor) tz() *time.Location {
	if p.UserTZ != nil {
		return p.UserTZ
	}
	return time.UTC
}

// GroupStats summarizes one group's processing pass.
type GroupStats struct {
	GroupID         int64
	GroupName       string
	Streams         int // streams fetched from the aggregator
	Filtered        int // dropped before or during matching
	Matched         int
	Included        int
	Failed          int
	ChannelsCreated int
	ChannelsUpdated int
	Skipped         int // timing, overlap, and missing-parent skips
	Renumbered      int
}

// bucket is one channel tuple's worth of matched streams.
type bucket struct {
	event   *sports.Event
	league  string
	keyword string
	segment sports.Segment
	streams []sports.Stream
	stats   map[string]*sports.TeamStats
}

// channelEntry pairs an ensured channel with the event data its programmes
// render from.
type channelEntry struct {
	ch      *store.ManagedChannel
	event   *sports.Event
	league  sports.LeagueMapping
	keyword string
	segment sports.Segment
	stats   map[string]*sports.TeamStats
}

// ProcessGroup runs the whole pipeline for one group. The generation counter
// and shared event pool come from the run so cache aging and event fetches
// span groups. A non-empty runID enables audit rows. Per-tuple failures are
// joined into the returned error but do not stop the rest of the group.
func (p *Processor) ProcessGroup(ctx context.Context, group *store.EventEPGGroup, generation int64, runID string, shared *match.SharedEvents) (*GroupStats, error) {
	stats := &GroupStats{GroupID: group.ID, GroupName: group.Name}

	streams, err := p.Streams.GroupStreams(ctx, group.M3UGroupID)
	if err != nil {
		return stats, fmt.Errorf("fetch streams for group %q: %w", group.Name, err)
	}
	stats.Streams = len(streams)

	kept, dropped := p.filterStreams(group, streams)
	stats.Filtered += dropped

	results, err := p.Matcher.MatchGroup(ctx, group, kept, generation, shared)
	if err != nil {
		return stats, fmt.Errorf("match group %q: %w", group.Name, err)
	}
	applyTeamFilters(group, results)
	p.audit(ctx, runID, group, results, stats)
	p.enrich(ctx, results)

	tmpl := p.groupTemplate(ctx, group)
	buckets := p.buckets(group, results)
	p.orderBuckets(group.ChannelSortOrder, buckets)
	p.fetchBucketStats(ctx, tmpl, buckets)

	var errs []error
	if group.IsChild() {
		if err := p.processChild(ctx, group, buckets, stats); err != nil {
			errs = append(errs, err)
		}
	} else {
		entries := p.ensureBuckets(ctx, group, tmpl, buckets, stats, &errs)
		entries = p.lingeringEntries(ctx, group, entries)

		doc := p.renderGroupXMLTV(group, tmpl, entries)
		rendered, err := renderDoc(doc, p.tz())
		if err != nil {
			errs = append(errs, err)
		} else if err := p.Store.SaveGroupXMLTV(ctx, group.ID, rendered); err != nil {
			errs = append(errs, fmt.Errorf("persist xmltv for group %q: %w", group.Name, err))
		}

		moved, err := p.Lifecycle.ReassignGroupChannels(ctx, group)
		if err != nil {
			errs = append(errs, fmt.Errorf("reassign group %q: %w", group.Name, err))
		}
		stats.Renumbered = moved
	}

	p.Log.WithFields(logrus.Fields{
		"group":    group.Name,
		"streams":  stats.Streams,
		"matched":  stats.Matched,
		"included": stats.Included,
		"created":  stats.ChannelsCreated,
		"updated":  stats.ChannelsUpdated,
		"skipped":  stats.Skipped,
	}).Info("group processing complete")
	return stats, errors.Join(errs...)
}

// eventPattern is the coarse "looks like a game" test applied when a group
// requires it: a matchup separator, a card number, or a card segment word.
var eventPattern = regexp.MustCompile(`(?i)(\bvs\.?\s|\bv\.?\s| @ | at |ufc\s*\d+|bellator\s*\d+|pfl\s*\d+|main\s+card|prelims|fight\s+night)`)

// filterStreams applies the group's pre-match filters. Stale streams pass
// through so the matcher records an auditable verdict for them.
func (p *Processor) filterStreams(g *store.EventEPGGroup, streams []sports.Stream) ([]sports.Stream, int) {
	include := p.compileFilter(g, g.IncludeRegex, "include_regex")
	exclude := p.compileFilter(g, g.ExcludeRegex, "exclude_regex")
	if include == nil && exclude == nil && !g.RequireEventPattern {
		return streams, 0
	}
	kept := make([]sports.Stream, 0, len(streams))
	dropped := 0
	for _, st := range streams {
		switch {
		case include != nil && !include.MatchString(st.Name):
			dropped++
		case exclude != nil && exclude.MatchString(st.Name):
			dropped++
		case g.RequireEventPattern && !eventPattern.MatchString(st.Name):
			dropped++
		default:
			kept = append(kept, st)
		}
	}
	return kept, dropped
}

func (p *Processor) compileFilter(g *store.EventEPGGroup, expr, which string) *regexp.Regexp {
	if expr == "" {
		return nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		p.Log.WithError(err).WithFields(logrus.Fields{
			"group":  g.Name,
			"filter": which,
		}).Warn("invalid filter regex ignored")
		return nil
	}
	return re
}

// applyTeamFilters downgrades matched results whose teams fall outside the
// group's team lists. The match itself stands; only inclusion flips, so the
// audit trail shows why no channel appeared.
func applyTeamFilters(g *store.EventEPGGroup, results []match.Result) {
	if len(g.TeamInclude) == 0 && len(g.TeamExclude) == 0 {
		return
	}
	for i := range results {
		r := &results[i]
		if !r.Matched || !r.Included || r.Event == nil {
			continue
		}
		switch {
		case len(g.TeamExclude) > 0 && (teamListed(g.TeamExclude, r.Event.HomeTeam) || teamListed(g.TeamExclude, r.Event.AwayTeam)):
			r.Included = false
			r.ExclusionReason = "team_excluded"
		case len(g.TeamInclude) > 0 && !teamListed(g.TeamInclude, r.Event.HomeTeam) && !teamListed(g.TeamInclude, r.Event.AwayTeam):
			r.Included = false
			r.ExclusionReason = "team_not_included"
		}
	}
}

func teamListed(list []string, t sports.Team) bool {
	for _, entry := range list {
		e := strings.ToLower(strings.TrimSpace(entry))
		if e == "" {
			continue
		}
		for _, name := range []string{t.Name, t.ShortName, t.Abbreviation, t.Nickname} {
			if name != "" && strings.ToLower(name) == e {
				return true
			}
		}
	}
	return false
}

// audit tallies the pass and writes the per-stream audit rows.
func (p *Processor) audit(ctx context.Context, runID string, g *store.EventEPGGroup, results []match.Result, stats *GroupStats) {
	for _, r := range results {
		switch {
		case r.Matched:
			stats.Matched++
			if r.Included {
				stats.Included++
			}
			p.Metrics.MatchesTotal.WithLabelValues(string(r.Method)).Inc()
			if runID == "" {
				continue
			}
			row := store.MatchedStreamRow{
				GroupID:           g.ID,
				StreamID:          r.Stream.ID,
				StreamName:        r.Stream.Name,
				League:            r.League,
				EventID:           r.Event.ID,
				EventProvider:     r.Event.Provider,
				MatchMethod:       string(r.Method),
				OriginMatchMethod: string(r.Origin),
				Confidence:        r.Confidence,
				Included:          r.Included,
				ExclusionReason:   r.ExclusionReason,
				Team1:             r.Team1,
				Team2:             r.Team2,
				CardSegment:       string(r.CardSegment),
			}
			if err := p.Store.RecordMatchedStream(ctx, runID, row); err != nil {
				p.Log.WithError(err).WithField("stream", r.Stream.Name).Warn("matched-stream audit write failed")
			}
		case isFilterReason(r.ExclusionReason):
			stats.Filtered++
		default:
			stats.Failed++
			p.Metrics.MatchFailures.WithLabelValues(reasonLabel(r.ExclusionReason)).Inc()
			if runID == "" {
				continue
			}
			row := store.FailedMatchRow{
				GroupID:    g.ID,
				StreamID:   r.Stream.ID,
				StreamName: r.Stream.Name,
				Category:   string(r.Category),
				Reason:     r.ExclusionReason,
				Team1:      r.Team1,
				Team2:      r.Team2,
			}
			if err := p.Store.RecordFailedMatch(ctx, runID, row); err != nil {
				p.Log.WithError(err).WithField("stream", r.Stream.Name).Warn("failed-match audit write failed")
			}
		}
	}
}

func isFilterReason(reason string) bool {
	switch reason {
	case match.ReasonStaleStream, match.ReasonUnclassifiable, match.ReasonLeagueNotEnabled:
		return true
	}
	return false
}

// reasonLabel trims the free-text tail off parametrized reasons so the
// failure metric's label set stays bounded.
func reasonLabel(reason string) string {
	if i := strings.IndexByte(reason, ':'); i > 0 {
		return reason[:i]
	}
	return reason
}

// enrich refreshes every distinct matched event with a current provider
// fetch so channel names and programmes carry live statuses and scores.
// Failures keep the match-time snapshot.
func (p *Processor) enrich(ctx context.Context, results []match.Result) {
	type key struct{ provider, id, league string }
	fresh := make(map[key]*sports.Event)
	var order []key
	for _, r := range results {
		if !r.Matched || r.Event == nil {
			continue
		}
		k := key{r.Event.Provider, r.Event.ID, r.League}
		if _, seen := fresh[k]; !seen {
			fresh[k] = nil
			order = append(order, k)
		}
	}
	if len(order) == 0 {
		return
	}

	workers := enrichWorkers
	if len(order) < workers {
		workers = len(order)
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, k := range order {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(k key) {
			defer wg.Done()
			defer func() { <-sem }()
			ev, err := p.Providers.Event(ctx, k.provider, k.id, k.league)
			if err != nil {
				p.Log.WithError(err).WithFields(logrus.Fields{
					"event":  k.id,
					"league": k.league,
				}).Debug("event enrichment failed")
				return
			}
			if ev == nil {
				return
			}
			mu.Lock()
			fresh[k] = ev
			mu.Unlock()
		}(k)
	}
	wg.Wait()

	for i := range results {
		r := &results[i]
		if !r.Matched || r.Event == nil {
			continue
		}
		if ev := fresh[key{r.Event.Provider, r.Event.ID, r.League}]; ev != nil {
			r.Event = ev
		}
	}
}

// buckets groups included results into channel tuples, one per
// (event, keyword, segment). Streams keep their arrival order, which becomes
// attach priority.
func (p *Processor) buckets(g *store.EventEPGGroup, results []match.Result) []*bucket {
	idx := make(map[string]*bucket)
	var out []*bucket
	for _, r := range results {
		if !r.Matched || !r.Included || r.Event == nil {
			continue
		}
		kw := ""
		if r.IsException {
			kw = r.ExceptionKeyword
		}
		key := r.Event.Provider + "|" + r.Event.ID + "|" + kw + "|" + string(r.CardSegment)
		b, ok := idx[key]
		if !ok {
			b = &bucket{event: r.Event, league: r.League, keyword: kw, segment: r.CardSegment}
			idx[key] = b
			out = append(out, b)
		}
		b.streams = append(b.streams, r.Stream)
	}
	return out
}

// orderBuckets sorts channel tuples into the group's creation order. Main
// channels sort before their keyword siblings so keyword ordering holds from
// creation, and card segments run in broadcast order.
func (p *Processor) orderBuckets(mode string, buckets []*bucket) {
	sort.SliceStable(buckets, func(i, j int) bool {
		a, b := buckets[i], buckets[j]
		switch mode {
		case store.SortSportTime:
			as, bs := p.Leagues.Sport(a.league), p.Leagues.Sport(b.league)
			if as != bs {
				return as < bs
			}
		case store.SortLeagueTime:
			if a.league != b.league {
				return a.league < b.league
			}
		}
		if !a.event.StartTime.Equal(b.event.StartTime) {
			return a.event.StartTime.Before(b.event.StartTime)
		}
		if a.event.ID != b.event.ID {
			return a.event.ID < b.event.ID
		}
		if (a.keyword == "") != (b.keyword == "") {
			return a.keyword == ""
		}
		if a.keyword != b.keyword {
			return a.keyword < b.keyword
		}
		return segmentRank(a.segment) < segmentRank(b.segment)
	})
}

func segmentRank(s sports.Segment) int {
	switch s {
	case sports.SegmentEarlyPrelims:
		return 0
	case sports.SegmentPrelims:
		return 1
	case sports.SegmentMainCard:
		return 2
	case "":
		return 3
	}
	return 4
}

// statsVariables are the template variable stems whose resolution needs a
// standings fetch.
var statsVariables = []string{"record", "streak", "standing", "wins", "losses", "ties", "points_for", "points_against"}

// needsStats reports whether any template field references a standings
// variable. Stats cost two provider calls per event; skip them when no name
// would show the data.
func needsStats(t *store.Template) bool {
	if t == nil {
		return false
	}
	all := strings.Join([]string{
		t.ChannelName, t.ProgrammeTitle, t.ProgrammeSubtitle, t.ProgrammeDesc,
		t.PregameTitle, t.PostgameTitle, t.IdleTitle,
	}, " ")
	for _, v := range statsVariables {
		if strings.Contains(all, v) {
			return true
		}
	}
	return false
}

// fetchBucketStats loads home/away standings for each distinct event when
// the group's template shows them.
func (p *Processor) fetchBucketStats(ctx context.Context, tmpl *store.Template, buckets []*bucket) {
	if !needsStats(tmpl) {
		return
	}
	byEvent := make(map[string]map[string]*sports.TeamStats)
	for _, b := range buckets {
		key := b.event.Provider + "|" + b.event.ID
		stats, ok := byEvent[key]
		if !ok {
			stats = p.teamStats(ctx, b.event, b.league)
			byEvent[key] = stats
		}
		b.stats = stats
	}
}

func (p *Processor) teamStats(ctx context.Context, ev *sports.Event, league string) map[string]*sports.TeamStats {
	out := make(map[string]*sports.TeamStats, 2)
	for _, id := range []string{ev.HomeTeam.ID, ev.AwayTeam.ID} {
		if id == "" {
			continue
		}
		st, err := p.Providers.TeamStats(ctx, ev.Provider, id, league)
		if err != nil {
			p.Log.WithError(err).WithField("team", id).Debug("team stats fetch failed")
			continue
		}
		if st != nil {
			out[id] = st
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// groupTemplate loads the group's template; nil falls back to the built-in
// defaults downstream.
func (p *Processor) groupTemplate(ctx context.Context, g *store.EventEPGGroup) *store.Template {
	if g.TemplateID == nil {
		return nil
	}
	t, err := p.Store.GetTemplate(ctx, *g.TemplateID)
	if err != nil {
		p.Log.WithError(err).WithField("group", g.Name).Warn("template load failed, using defaults")
		return nil
	}
	return t
}

// leagueFor picks the mapping row minted by the matched event's provider,
// falling back to any row for the code.
func (p *Processor) leagueFor(code, provider string) sports.LeagueMapping {
	rows := p.Leagues.Mappings(code)
	for _, m := range rows {
		if m.Provider == provider {
			return m
		}
	}
	if len(rows) > 0 {
		return rows[0]
	}
	return sports.LeagueMapping{Code: code, DisplayName: p.Leagues.DisplayName(code)}
}

// ensureBuckets routes each channel tuple through the lifecycle layer and
// collects the surviving channels for XMLTV rendering.
func (p *Processor) ensureBuckets(ctx context.Context, group *store.EventEPGGroup, tmpl *store.Template, buckets []*bucket, stats *GroupStats, errs *[]error) []channelEntry {
	var groupsByID map[int64]*store.EventEPGGroup
	if group.MultiLeague() {
		all, err := p.Store.ListGroups(ctx)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("list groups for overlap: %w", err))
		} else {
			groupsByID = make(map[int64]*store.EventEPGGroup, len(all))
			for _, g := range all {
				groupsByID[g.ID] = g
			}
		}
	}

	var entries []channelEntry
	for _, b := range buckets {
		req := lifecycle.EnsureRequest{
			Group:    group,
			Template: tmpl,
			Event:    b.event,
			League:   p.leagueFor(b.league, b.event.Provider),
			Keyword:  b.keyword,
			Segment:  b.segment,
			Streams:  b.streams,
			Stats:    b.stats,
		}
		if groupsByID != nil {
			req.OverlapTarget = p.overlapTarget(ctx, groupsByID, group, b)
		}
		results, err := p.Lifecycle.Ensure(ctx, req)
		if err != nil {
			p.Log.WithError(err).WithFields(logrus.Fields{
				"group": group.Name,
				"event": b.event.ID,
			}).Warn("channel ensure failed")
			*errs = append(*errs, fmt.Errorf("ensure event %s: %w", b.event.ID, err))
			continue
		}
		for _, r := range results {
			switch r.Outcome {
			case lifecycle.OutcomeCreated:
				stats.ChannelsCreated++
			case lifecycle.OutcomeAttached, lifecycle.OutcomeAttachedOverlap:
				stats.ChannelsUpdated++
			case lifecycle.OutcomeSkippedWindow, lifecycle.OutcomeSkippedManual, lifecycle.OutcomeSkippedOverlap:
				stats.Skipped++
			}
			// Overlap-target channels belong to the single-league group's
			// document, not this one.
			if r.Channel != nil && r.Outcome != lifecycle.OutcomeAttachedOverlap {
				entries = append(entries, channelEntry{
					ch:      r.Channel,
					event:   b.event,
					league:  req.League,
					keyword: b.keyword,
					segment: b.segment,
					stats:   b.stats,
				})
			}
		}
	}
	return entries
}

// overlapTarget finds a single-league group's active channel for the same
// tuple; the multi-league overlap policy acts on it at ensure time.
func (p *Processor) overlapTarget(ctx context.Context, groups map[int64]*store.EventEPGGroup, g *store.EventEPGGroup, b *bucket) *store.ManagedChannel {
	chans, err := p.Store.ActiveChannelsForEvent(ctx, b.event.ID, b.event.Provider)
	if err != nil {
		p.Log.WithError(err).WithField("event", b.event.ID).Warn("overlap lookup failed")
		return nil
	}
	for _, ch := range chans {
		if ch.GroupID == g.ID {
			continue
		}
		owner := groups[ch.GroupID]
		if owner == nil || owner.MultiLeague() || owner.IsChild() {
			continue
		}
		if ch.ExceptionKeyword != b.keyword || ch.CardSegment != string(b.segment) {
			continue
		}
		return ch
	}
	return nil
}

// lingeringEntries adds guide entries for active channels the pass did not
// touch, such as a finished game's channel waiting out its delete timing.
// Without these the channel would sit in the lineup with a blank guide.
func (p *Processor) lingeringEntries(ctx context.Context, group *store.EventEPGGroup, entries []channelEntry) []channelEntry {
	active, err := p.Store.ListActiveChannels(ctx, group.ID)
	if err != nil {
		p.Log.WithError(err).WithField("group", group.Name).Warn("lingering-channel listing failed")
		return entries
	}
	covered := make(map[int64]bool, len(entries))
	for _, e := range entries {
		covered[e.ch.ID] = true
	}
	for _, ch := range active {
		if covered[ch.ID] {
			continue
		}
		ev, err := p.Providers.Event(ctx, ch.EventProvider, ch.EventID, ch.League)
		if err != nil || ev == nil {
			p.Log.WithError(err).WithFields(logrus.Fields{
				"channel": ch.ChannelName,
				"event":   ch.EventID,
			}).Debug("lingering channel event fetch failed")
			continue
		}
		entries = append(entries, channelEntry{
			ch:      ch,
			event:   ev,
			league:  p.leagueFor(ch.League, ch.EventProvider),
			keyword: ch.ExceptionKeyword,
			segment: sports.Segment(ch.CardSegment),
		})
	}
	return entries
}

// processChild attaches a child group's streams to its parent's channels.
// Children never create channels; a missing parent channel means the parent
// skipped the event and the child inherits the skip.
func (p *Processor) processChild(ctx context.Context, group *store.EventEPGGroup, buckets []*bucket, stats *GroupStats) error {
	var errs []error
	for _, b := range buckets {
		parent, err := p.Store.ActiveChannel(ctx, *group.ParentGroupID,
			b.event.ID, b.event.Provider, b.keyword, string(b.segment))
		if err != nil {
			errs = append(errs, fmt.Errorf("parent lookup for event %s: %w", b.event.ID, err))
			continue
		}
		if parent == nil {
			stats.Skipped++
			continue
		}
		attached, err := p.Lifecycle.AttachToChannel(ctx, parent, b.streams)
		if err != nil {
			errs = append(errs, fmt.Errorf("attach to parent channel %d: %w", parent.ID, err))
			continue
		}
		if attached {
			stats.ChannelsUpdated++
		}
	}
	return errors.Join(errs...)
}
