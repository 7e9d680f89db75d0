// Package generate drives a full EPG generation run. One run is: playlist
// refresh, event-cache warm, every enabled group through the processing
// pipeline in dependency order, enforcement sweeps, scheduled deletions,
// guide merge and publish, EPG association. Each run writes an audit row and
// reports progress through a callback so callers can surface "generating
// 3/7" style status. Runs never overlap; a second caller is declined.
package generate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/teamarr/teamarr/internal/lifecycle"
	"github.com/teamarr/teamarr/internal/match"
	"github.com/teamarr/teamarr/internal/metrics"
	"github.com/teamarr/teamarr/internal/process"
	"github.com/teamarr/teamarr/internal/providers"
	"github.com/teamarr/teamarr/internal/sports"
	"github.com/teamarr/teamarr/internal/store"
	"github.com/teamarr/teamarr/internal/templates"
	"github.com/teamarr/teamarr/internal/xmltv"
)

// ErrRunActive is returned when a generation is declined because another one
// is still in flight.
var ErrRunActive = errors.New("generation already running")

// auditRetention bounds how long matched/failed stream detail is kept. Run
// rows themselves are never pruned.
const auditRetention = 30 * 24 * time.Hour

// defaultDaysBack is the schedule lookback for the event-cache warm; streams
// for yesterday's late games are still in most playlists.
const defaultDaysBack = 7

// Refresher triggers upstream refreshes on the aggregator. The Dispatcharr
// client implements it.
type Refresher interface {
	RefreshM3U(ctx context.Context) error
	RefreshEPGSource(ctx context.Context, sourceID int64) error
}

// GroupRunner is the per-group pipeline plus the post-run sweeps.
// *process.Processor implements it.
type GroupRunner interface {
	ProcessGroup(ctx context.Context, g *store.EventEPGGroup, generation int64, runID string, shared *match.SharedEvents) (*process.GroupStats, error)
	Enforce(ctx context.Context) (*process.EnforcementStats, error)
}

// Progress is one frame of run progress delivered to OnProgress.
type Progress struct {
	Phase   string // refresh | groups | enforce | deletions | xmltv | epg | done
	Percent int
	Message string
	Current int
	Total   int
	Item    string
}

// Triggers recorded on run rows.
const (
	TriggerCron    = "cron"
	TriggerAPI     = "api"
	TriggerStartup = "startup"
)

// Driver owns the top-level generation run. All fields are set at wiring
// time and not mutated afterwards.
type Driver struct {
	Store     *store.Store
	Runner    GroupRunner
	Lifecycle *lifecycle.Service
	Providers *providers.Service
	Leagues   *sports.LeagueIndex
	Refresher Refresher
	Metrics   *metrics.Metrics
	Log       logrus.FieldLogger

	// EPGSourceID is the aggregator EPG source our merged guide feeds.
	// 0 disables the post-run source refresh and association steps.
	EPGSourceID int64
	// RefreshM3U triggers a playlist refresh before each run so stream ids
	// reflect the provider's current lineup.
	RefreshM3U bool
	// XMLTVPath is where the merged guide file lands; "" keeps the guide
	// store-only.
	XMLTVPath string
	UserTZ    *time.Location
	// DaysBack widens the cache warm into the past; <= 0 uses the default.
	DaysBack int
	// DaysAhead floors the prefetch horizon when every group asks for less.
	DaysAhead int

	// OnProgress, when set, receives progress frames during Generate.
	OnProgress func(Progress)

	running atomic.Bool
}

func (d *Driver) tz() *time.Location {
	if d.UserTZ != nil {
		return d.UserTZ
	}
	return time.UTC
}

func (d *Driver) daysBack() int {
	if d.DaysBack > 0 {
		return d.DaysBack
	}
	return defaultDaysBack
}

// daysAhead returns the prefetch horizon: the widest group setting, floored
// by the deployment-level knob.
func (d *Driver) daysAhead(groupMax int) int {
	if d.DaysAhead > groupMax {
		return d.DaysAhead
	}
	return groupMax
}

func (d *Driver) progress(p Progress) {
	if d.OnProgress != nil {
		d.OnProgress(p)
	}
}

// record appends a stage failure to the run. The run keeps going; a bad
// stage costs its own output, not the generation.
func (d *Driver) record(run *store.ProcessingRun, log logrus.FieldLogger, stage string, err error) {
	log.WithError(err).WithField("stage", stage).Error("stage failed")
	run.Errors = append(run.Errors, stage+": "+err.Error())
}

// Generate runs one full generation and returns its audit record. Only one
// run executes at a time; concurrent calls get ErrRunActive. Stage failures
// are recorded on the run and later stages still execute; the run only ends
// failed when the group list itself cannot be processed.
func (d *Driver) Generate(ctx context.Context, trigger string) (*store.ProcessingRun, error) {
	if !d.running.CompareAndSwap(false, true) {
		return nil, ErrRunActive
	}
	defer d.running.Store(false)

	started := time.Now()
	gen, err := d.Store.NextGeneration(ctx)
	if err != nil {
		return nil, fmt.Errorf("generation counter: %w", err)
	}
	run := &store.ProcessingRun{ID: uuid.NewString(), Generation: gen, Trigger: trigger}
	if err := d.Store.CreateRun(ctx, run.ID, gen, trigger); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	log := d.Log.WithFields(logrus.Fields{"run": run.ID, "generation": gen, "trigger": trigger})
	log.Info("generation started")

	d.run(ctx, log, run)

	if run.Status == "" {
		run.Status = store.RunSuccess
	}
	if err := d.Store.FinishRun(ctx, run); err != nil {
		log.WithError(err).Error("finish run")
	}
	d.Metrics.RunsTotal.WithLabelValues(run.Status).Inc()
	d.Metrics.RunDuration.Observe(time.Since(started).Seconds())
	log.WithFields(logrus.Fields{
		"status":   run.Status,
		"groups":   run.GroupsProcessed,
		"streams":  run.StreamsTotal,
		"matched":  run.StreamsMatched,
		"created":  run.ChannelsCreated,
		"deleted":  run.ChannelsDeleted,
		"errors":   len(run.Errors),
		"duration": time.Since(started).Round(time.Millisecond).String(),
	}).Info("generation finished")
	return run, nil
}

// run executes the generation stages in order, accumulating stats and errors
// onto the run record.
func (d *Driver) run(ctx context.Context, log logrus.FieldLogger, run *store.ProcessingRun) {
	d.progress(Progress{Phase: "refresh", Percent: 2, Message: "refreshing playlist"})
	if d.RefreshM3U && d.Refresher != nil {
		if err := d.Refresher.RefreshM3U(ctx); err != nil {
			d.record(run, log, "m3u refresh", err)
		}
	}

	groups, err := d.Store.ListEnabledGroups(ctx)
	if err != nil {
		d.record(run, log, "list groups", err)
		run.Status = store.RunFailed
		return
	}
	groups = process.Order(groups)

	d.progress(Progress{Phase: "refresh", Percent: 8, Message: "warming event cache"})
	d.warmEventCache(ctx, log, groups)

	shared := match.NewSharedEvents()
	total := len(groups)
	for i, g := range groups {
		d.progress(Progress{
			Phase:   "groups",
			Percent: groupPercent(i, total),
			Message: fmt.Sprintf("processing group %d/%d", i+1, total),
			Current: i + 1,
			Total:   total,
			Item:    g.Name,
		})
		stats, err := d.Runner.ProcessGroup(ctx, g, run.Generation, run.ID, shared)
		if stats != nil {
			run.StreamsTotal += stats.Streams
			run.StreamsMatched += stats.Matched
			run.ChannelsCreated += stats.ChannelsCreated
		}
		if err != nil {
			d.record(run, log.WithField("group", g.Name), "group "+g.Name, err)
		} else {
			run.GroupsProcessed++
		}
		if ctx.Err() != nil {
			d.record(run, log, "run", ctx.Err())
			run.Status = store.RunFailed
			return
		}
	}

	d.progress(Progress{Phase: "enforce", Percent: 78, Message: "running enforcement sweeps"})
	if _, err := d.Runner.Enforce(ctx); err != nil {
		d.record(run, log, "enforcement", err)
	}

	d.progress(Progress{Phase: "deletions", Percent: 82, Message: "processing scheduled deletions"})
	deleted, err := d.Lifecycle.ProcessScheduledDeletions(ctx)
	if err != nil {
		d.record(run, log, "scheduled deletions", err)
	}
	run.ChannelsDeleted += deleted

	d.progress(Progress{Phase: "xmltv", Percent: 88, Message: "publishing merged guide"})
	if err := d.publishGuide(ctx); err != nil {
		d.record(run, log, "xmltv publish", err)
	}

	if d.EPGSourceID > 0 {
		d.progress(Progress{Phase: "epg", Percent: 94, Message: "associating EPG records"})
		linked, err := d.Lifecycle.AssociateEPG(ctx, d.EPGSourceID)
		if err != nil {
			d.record(run, log, "epg association", err)
		} else if linked > 0 {
			log.WithField("linked", linked).Info("epg records associated")
		}
	}

	d.Lifecycle.UpdateChannelGauge(ctx)
	if _, err := d.Store.PruneRunHistory(ctx, time.Now().UTC().Add(-auditRetention)); err != nil {
		log.WithError(err).Warn("audit prune failed")
	}
	d.progress(Progress{Phase: "done", Percent: 100, Message: "generation complete"})
}

// groupPercent maps group index i of total onto the 10..75 band of the
// progress bar.
func groupPercent(i, total int) int {
	if total == 0 {
		return 75
	}
	return 10 + (65*i)/total
}

// warmEventCache prefetches events for every league the enabled groups cover
// across the full run window, so per-stream lookups during matching are
// cache hits. Failures leave days cold; matching then fetches on demand.
func (d *Driver) warmEventCache(ctx context.Context, log logrus.FieldLogger, groups []*store.EventEPGGroup) {
	if d.Providers == nil {
		return
	}
	leagues, maxAhead := leagueSpan(groups)
	if len(leagues) == 0 {
		return
	}
	now := time.Now().In(d.tz())
	stats := d.Providers.Prefetch(ctx, leagues,
		now.AddDate(0, 0, -d.daysBack()), now.AddDate(0, 0, d.daysAhead(maxAhead)))
	log.WithFields(logrus.Fields{
		"tasks":   stats.Tasks,
		"fetched": stats.Fetched,
		"cached":  stats.Cached,
		"failed":  stats.Errors,
		"events":  stats.Events,
	}).Debug("event cache warmed")
}

// leagueSpan collects the distinct league codes across groups, in first-seen
// order, and the widest look-ahead any group asks for.
func leagueSpan(groups []*store.EventEPGGroup) ([]string, int) {
	seen := make(map[string]bool)
	var leagues []string
	maxAhead := 1
	for _, g := range groups {
		for _, code := range g.Leagues {
			if !seen[code] {
				seen[code] = true
				leagues = append(leagues, code)
			}
		}
		if g.DaysAhead > maxAhead {
			maxAhead = g.DaysAhead
		}
	}
	return leagues, maxAhead
}

// publishGuide merges every group document into the one guide the aggregator
// ingests: persisted in the store, written to XMLTVPath, and the EPG source
// asked to re-read it.
func (d *Driver) publishGuide(ctx context.Context) error {
	blobs, err := d.Store.AllGroupXMLTV(ctx)
	if err != nil {
		return fmt.Errorf("load group documents: %w", err)
	}
	ids := make([]int64, 0, len(blobs))
	for id := range blobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	docs := make([]*xmltv.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := xmltv.Parse(blobs[id])
		if err != nil {
			d.Log.WithError(err).WithField("group_id", id).Warn("skipping unparseable group document")
			continue
		}
		docs = append(docs, doc)
	}
	merged := xmltv.Merge(docs...)
	merged.Source = "teamarr"
	data, err := xmltv.Render(merged, d.tz())
	if err != nil {
		return err
	}
	if err := d.Store.SaveMergedXMLTV(ctx, data); err != nil {
		return err
	}
	if d.XMLTVPath != "" {
		if err := writeGuideFile(d.XMLTVPath, data); err != nil {
			return err
		}
	}
	if d.EPGSourceID > 0 && d.Refresher != nil {
		if err := d.Refresher.RefreshEPGSource(ctx, d.EPGSourceID); err != nil {
			return fmt.Errorf("epg source refresh: %w", err)
		}
	}
	return nil
}

// writeGuideFile replaces the guide file with a temp-file-then-rename so the
// aggregator never reads a partially-written document.
func writeGuideFile(path string, data []byte) error {
	dir := filepath.Dir(filepath.Clean(path))
	tmp, err := os.CreateTemp(dir, ".teamarr-*.xml.tmp")
	if err != nil {
		return fmt.Errorf("guide write: create temp: %w", err)
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if writeErr != nil {
			return fmt.Errorf("guide write: %w", writeErr)
		}
		return fmt.Errorf("guide write: close: %w", closeErr)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("guide write: chmod: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("guide write: rename: %w", err)
	}
	return nil
}

// RefreshTeamCache re-fetches every known league's roster into the teams
// table. The linear team guide builds from this roster, and keeping it fresh
// means new expansion teams resolve without a restart.
func (d *Driver) RefreshTeamCache(ctx context.Context) (int, error) {
	codes := d.Leagues.Codes()
	sort.Strings(codes)
	saved := 0
	for _, code := range codes {
		roster, err := d.fetchRoster(ctx, code)
		if err != nil {
			d.Log.WithError(err).WithField("league", code).Warn("roster refresh failed")
			continue
		}
		saved += len(roster)
	}
	d.Log.WithField("teams", saved).Info("team cache refreshed")
	return saved, nil
}

// fetchRoster pulls a league's roster from the provider chain and persists
// it. Returns the stored rows.
func (d *Driver) fetchRoster(ctx context.Context, league string) ([]store.RosterTeam, error) {
	provider, teams, err := d.Providers.LeagueTeams(ctx, league)
	if err != nil {
		return nil, err
	}
	if len(teams) == 0 {
		return nil, nil
	}
	if err := d.Store.SaveTeams(ctx, league, provider, teams); err != nil {
		return nil, err
	}
	out := make([]store.RosterTeam, len(teams))
	for i, t := range teams {
		out[i] = store.RosterTeam{Team: t, Provider: provider}
	}
	return out, nil
}

// RefreshLinearEPG renders a schedule guide for every team in the leagues
// the enabled groups cover, one linear channel per team. The scheduler calls
// this daily; documents land in the team XMLTV table.
func (d *Driver) RefreshLinearEPG(ctx context.Context) (int, error) {
	groups, err := d.Store.ListEnabledGroups(ctx)
	if err != nil {
		return 0, err
	}
	leagues, maxAhead := leagueSpan(groups)
	horizon := d.daysAhead(maxAhead)
	written := 0
	for _, league := range leagues {
		roster, err := d.Store.LeagueTeams(ctx, league)
		if err != nil {
			return written, err
		}
		if len(roster) == 0 {
			roster, err = d.fetchRoster(ctx, league)
			if err != nil {
				d.Log.WithError(err).WithField("league", league).Warn("roster fetch failed")
				continue
			}
		}
		for _, rt := range roster {
			events, err := d.Providers.TeamSchedule(ctx, rt.Provider, rt.ID, league, horizon)
			if err != nil {
				d.Log.WithError(err).WithFields(logrus.Fields{
					"league": league,
					"team":   rt.Name,
				}).Warn("team schedule fetch failed")
				continue
			}
			data, err := d.renderTeamGuide(league, rt, events)
			if err != nil {
				return written, err
			}
			if err := d.Store.SaveTeamXMLTV(ctx, teamKey(league, rt.ID), data); err != nil {
				return written, err
			}
			written++
		}
	}
	d.Log.WithField("teams", written).Info("linear team guides refreshed")
	return written, nil
}

// teamKey is the storage key for one team's linear guide document.
func teamKey(league, teamID string) string {
	return league + "-" + teamID
}

// renderTeamGuide builds one team's linear channel document: the team as the
// channel, its schedule as programmes.
func (d *Driver) renderTeamGuide(league string, rt store.RosterTeam, events []sports.Event) ([]byte, error) {
	doc := &xmltv.Document{Source: "teamarr"}
	id := "teamarr-team-" + teamKey(league, rt.ID)
	doc.AddChannel(xmltv.Channel{ID: id, Display: rt.Name, Icon: rt.LogoURL})

	mapping := d.leagueMapping(league)
	now := time.Now().In(d.tz())
	for i := range events {
		ev := &events[i]
		tctx := &templates.Context{Event: ev, League: mapping, Location: d.tz(), Now: now}
		doc.AddProgramme(xmltv.Programme{
			Channel:  id,
			Start:    ev.StartTime,
			Stop:     ev.EstimatedEnd(),
			Title:    templates.Title("", templates.DefaultProgrammeTitle, tctx),
			SubTitle: templates.Title("", templates.DefaultProgrammeSubtitle, tctx),
			Desc:     templates.Description("", tctx),
			Category: sportCategory(d.Leagues.Sport(league)),
			Icon:     rt.LogoURL,
		})
	}
	return xmltv.Render(doc, d.tz())
}

func (d *Driver) leagueMapping(code string) sports.LeagueMapping {
	if rows := d.Leagues.Mappings(code); len(rows) > 0 {
		return rows[0]
	}
	return sports.LeagueMapping{Code: code, DisplayName: code}
}

func sportCategory(sport string) string {
	if sport == "" {
		return "Sports"
	}
	r := []rune(sport)
	if r[0] >= 'a' && r[0] <= 'z' {
		r[0] -= 'a' - 'A'
	}
	return string(r)
}

// ChannelReset retires every managed channel and drops the per-group guide
// documents, so the next generation rebuilds the whole lineup from scratch.
// Numbering restarts because no active rows remain.
func (d *Driver) ChannelReset(ctx context.Context) (int, error) {
	groups, err := d.Store.ListGroups(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, g := range groups {
		n, err := d.Lifecycle.RetireGroupChannels(ctx, g.ID, store.DeleteReasonReset)
		total += n
		if err != nil {
			return total, err
		}
		if err := d.Store.DeleteGroupXMLTV(ctx, g.ID); err != nil {
			return total, err
		}
	}
	if total > 0 {
		d.Log.WithField("channels", total).Warn("channel reset completed")
	}
	return total, nil
}
