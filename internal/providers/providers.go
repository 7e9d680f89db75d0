// Package providers unifies the sports data sources behind one service: a
// priority-ordered registry, a per-(league, day) event cache with
// date-proximity TTLs, and bounded fan-out prefetch across (league, day)
// pairs.
//
// # Registry
//
// Providers are registered in priority order. League-level reads (Events,
// LeagueTeams) iterate the registry until one provider returns data. Id-based
// reads (Event, Team, schedules, stats) dispatch to the provider that minted
// the id, since event and team ids are provider-scoped.
//
// # Cache
//
// Fetched days are cached in memory. Today's events go stale in minutes
// (scores and statuses move), days further out in hours, past days in a day.
// Callers must treat returned event slices as read-only; events are never
// mutated in place.
package providers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/teamarr/teamarr/internal/sports"
	"github.com/teamarr/teamarr/internal/tsdb"
)

// Provider is one upstream sports data source. Implementations are safe for
// concurrent use.
type Provider interface {
	Name() string
	SupportsLeague(code string) bool
	SupportedLeagues() []string
	Events(ctx context.Context, league string, date time.Time) ([]sports.Event, error)
	Event(ctx context.Context, id, league string) (*sports.Event, error)
	Team(ctx context.Context, id, league string) (*sports.Team, error)
	TeamSchedule(ctx context.Context, teamID, league string, daysAhead int) ([]sports.Event, error)
	TeamStats(ctx context.Context, teamID, league string) (*sports.TeamStats, error)
	LeagueTeams(ctx context.Context, league string) ([]sports.Team, error)
}

// RateLimitReporter is implemented by providers that account their own wait
// budget (TheSportsDB). The service aggregates these for the status surface.
type RateLimitReporter interface {
	Stats() tsdb.RateLimitStats
}

// prefetchWorkers bounds the fan-out pool; the effective pool is capped at
// the number of (league, day) tasks.
const prefetchWorkers = 100

// Service fronts the registered providers.
type Service struct {
	providers []Provider // priority order
	byName    map[string]Provider
	cache     *eventCache
	log       logrus.FieldLogger
}

// NewService builds a service over the given providers; argument order is
// priority order.
func NewService(log logrus.FieldLogger, provs ...Provider) *Service {
	byName := make(map[string]Provider, len(provs))
	for _, p := range provs {
		byName[p.Name()] = p
	}
	return &Service{
		providers: provs,
		byName:    byName,
		cache:     newEventCache(),
		log:       log,
	}
}

// ProviderNames returns the registry in priority order.
func (s *Service) ProviderNames() []string {
	out := make([]string, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, p.Name())
	}
	return out
}

// SupportsLeague reports whether any registered provider covers the league.
func (s *Service) SupportsLeague(code string) bool {
	for _, p := range s.providers {
		if p.SupportsLeague(code) {
			return true
		}
	}
	return false
}

// Events returns the league's events on the given calendar day, from cache
// when fresh, otherwise fetched through the registry.
func (s *Service) Events(ctx context.Context, league string, date time.Time) ([]sports.Event, error) {
	if events, ok := s.cache.get(league, date); ok {
		return events, nil
	}
	return s.fetchEvents(ctx, league, date)
}

// CachedEvents serves cache-only reads: past days and excluded leagues are
// matched against whatever the prefetch window loaded, without new fetches.
func (s *Service) CachedEvents(league string, date time.Time) ([]sports.Event, bool) {
	return s.cache.get(league, date)
}

// InvalidateDay drops one (league, day) from the cache so the next read
// refetches. Used when a cached match goes stale mid-run.
func (s *Service) InvalidateDay(league string, date time.Time) {
	s.cache.invalidate(league, date)
}

func (s *Service) fetchEvents(ctx context.Context, league string, date time.Time) ([]sports.Event, error) {
	var firstErr error
	emptyFrom := ""
	for _, p := range s.providers {
		if !p.SupportsLeague(league) {
			continue
		}
		events, err := p.Events(ctx, league, date)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"provider": p.Name(),
				"league":   league,
				"date":     date.Format("2006-01-02"),
			}).WithError(err).Warn("provider fetch failed, trying next")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(events) == 0 {
			// A valid answer, but a lower-priority provider may still
			// know about games this one does not carry.
			if emptyFrom == "" {
				emptyFrom = p.Name()
			}
			continue
		}
		s.cache.put(league, date, p.Name(), events)
		return events, nil
	}
	if emptyFrom != "" {
		// Cache the empty day so off-days do not refetch every stream.
		s.cache.put(league, date, emptyFrom, nil)
		return nil, nil
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, fmt.Errorf("providers: no provider supports league %q", league)
}

// Event fetches one event by id from the provider that minted it. Returns
// nil when the provider does not know the id.
func (s *Service) Event(ctx context.Context, provider, id, league string) (*sports.Event, error) {
	p, err := s.named(provider)
	if err != nil {
		return nil, err
	}
	return p.Event(ctx, id, league)
}

// Team fetches one team by provider-scoped id.
func (s *Service) Team(ctx context.Context, provider, id, league string) (*sports.Team, error) {
	p, err := s.named(provider)
	if err != nil {
		return nil, err
	}
	return p.Team(ctx, id, league)
}

// TeamSchedule fetches a team's upcoming events from the provider that
// minted the team id.
func (s *Service) TeamSchedule(ctx context.Context, provider, teamID, league string, daysAhead int) ([]sports.Event, error) {
	p, err := s.named(provider)
	if err != nil {
		return nil, err
	}
	return p.TeamSchedule(ctx, teamID, league, daysAhead)
}

// TeamStats fetches a team's record detail; nil when the provider has none.
func (s *Service) TeamStats(ctx context.Context, provider, teamID, league string) (*sports.TeamStats, error) {
	p, err := s.named(provider)
	if err != nil {
		return nil, err
	}
	return p.TeamStats(ctx, teamID, league)
}

// LeagueTeams returns the league's teams from the first provider that has
// them, tagged with that provider's name via the ids it returns.
func (s *Service) LeagueTeams(ctx context.Context, league string) (string, []sports.Team, error) {
	var firstErr error
	for _, p := range s.providers {
		if !p.SupportsLeague(league) {
			continue
		}
		teams, err := p.LeagueTeams(ctx, league)
		if err != nil {
			s.log.WithFields(logrus.Fields{"provider": p.Name(), "league": league}).
				WithError(err).Warn("league teams fetch failed, trying next")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(teams) > 0 {
			return p.Name(), teams, nil
		}
	}
	if firstErr != nil {
		return "", nil, firstErr
	}
	return "", nil, nil
}

// RateLimits aggregates wait accounting from providers that track it.
func (s *Service) RateLimits() map[string]tsdb.RateLimitStats {
	out := make(map[string]tsdb.RateLimitStats)
	for _, p := range s.providers {
		if r, ok := p.(RateLimitReporter); ok {
			out[p.Name()] = r.Stats()
		}
	}
	return out
}

func (s *Service) named(name string) (Provider, error) {
	p, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("providers: unknown provider %q", name)
	}
	return p, nil
}

// PrefetchStats summarizes one prefetch pass.
type PrefetchStats struct {
	Tasks   int // (league, day) pairs considered
	Fetched int // days fetched from a provider
	Cached  int // days already fresh in cache
	Errors  int // days that failed on every provider
	Events  int // events loaded by the fetched days
}

// Prefetch warms the event cache for every (league, day) pair in [from, to]
// inclusive. Multi-league groups would otherwise fetch per stream, which is
// quadratic; one warm pass makes the per-stream lookups cache hits. Failures
// are logged and counted, not returned; a failed day stays cold.
func (s *Service) Prefetch(ctx context.Context, leagues []string, from, to time.Time) PrefetchStats {
	type task struct {
		league string
		day    time.Time
	}
	var tasks []task
	for _, league := range leagues {
		for d := midnight(from); !d.After(midnight(to)); d = d.AddDate(0, 0, 1) {
			tasks = append(tasks, task{league: league, day: d})
		}
	}
	stats := PrefetchStats{Tasks: len(tasks)}
	if len(tasks) == 0 {
		return stats
	}

	workers := prefetchWorkers
	if len(tasks) < workers {
		workers = len(tasks)
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, tk := range tasks {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(tk task) {
			defer wg.Done()
			defer func() { <-sem }()

			if _, ok := s.cache.get(tk.league, tk.day); ok {
				mu.Lock()
				stats.Cached++
				mu.Unlock()
				return
			}
			events, err := s.fetchEvents(ctx, tk.league, tk.day)
			mu.Lock()
			if err != nil {
				stats.Errors++
			} else {
				stats.Fetched++
				stats.Events += len(events)
			}
			mu.Unlock()
		}(tk)
	}
	wg.Wait()

	s.log.WithFields(logrus.Fields{
		"tasks":   stats.Tasks,
		"fetched": stats.Fetched,
		"cached":  stats.Cached,
		"errors":  stats.Errors,
		"events":  stats.Events,
	}).Info("event prefetch complete")
	return stats
}

// midnight truncates to the calendar day in t's location.
func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
