// Package schedule runs the generation cadence: a cron-expression loop that
// fires the driver once the expression comes due, plus the maintenance work
// that rides along on each beat (database backups, channel resets, roster
// refresh, and the daily linear team guides). The loop ticks once a second
// and checks for cancellation on every tick, so shutdown latency is one tick
// plus whatever stage is mid-flight.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/teamarr/teamarr/internal/generate"
	"github.com/teamarr/teamarr/internal/store"
)

// Runner is the slice of the generation driver the scheduler drives.
// *generate.Driver implements it.
type Runner interface {
	Generate(ctx context.Context, trigger string) (*store.ProcessingRun, error)
	RefreshTeamCache(ctx context.Context) (int, error)
	RefreshLinearEPG(ctx context.Context) (int, error)
	ChannelReset(ctx context.Context) (int, error)
}

// BackupFunc snapshots the database. Wired to the backup package; nil
// disables backups regardless of BackupCron.
type BackupFunc func(ctx context.Context) error

// Scheduler owns the cadence loop. Fields are set at wiring time.
type Scheduler struct {
	Runner Runner
	Store  *store.Store
	Backup BackupFunc
	Log    logrus.FieldLogger

	GenerationCron string
	BackupCron     string // "" disables
	ResetCron      string // "" disables
	// CacheRefresh is how long the team roster stays fresh; <= 0 uses a day.
	CacheRefresh time.Duration
	// LinearEPGTime is the HH:MM local mark after which the daily team
	// guides refresh.
	LinearEPGTime string
	UserTZ        *time.Location

	// Now is the clock; tests override it.
	Now func() time.Time

	gen                   cron.Schedule
	backup                cron.Schedule
	reset                 cron.Schedule
	linearHour, linearMin int
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) tz() *time.Location {
	if s.UserTZ != nil {
		return s.UserTZ
	}
	return time.UTC
}

// init parses the cron expressions up front so a typo fails startup, not a
// 4 AM fire.
func (s *Scheduler) init() error {
	sched, err := cron.ParseStandard(s.GenerationCron)
	if err != nil {
		return fmt.Errorf("generation cron %q: %w", s.GenerationCron, err)
	}
	s.gen = sched
	if s.BackupCron != "" {
		if s.backup, err = cron.ParseStandard(s.BackupCron); err != nil {
			return fmt.Errorf("backup cron %q: %w", s.BackupCron, err)
		}
	}
	if s.ResetCron != "" {
		if s.reset, err = cron.ParseStandard(s.ResetCron); err != nil {
			return fmt.Errorf("reset cron %q: %w", s.ResetCron, err)
		}
	}
	s.linearHour, s.linearMin = parseClock(s.LinearEPGTime)
	return nil
}

// parseClock reads "HH:MM"; bad input falls back to the 05:00 default.
func parseClock(v string) (int, int) {
	var h, m int
	if _, err := fmt.Sscanf(v, "%d:%d", &h, &m); err != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 5, 0
	}
	return h, m
}

// Run ticks once a second until ctx is cancelled, firing whenever the
// generation cron comes due.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.init(); err != nil {
		return err
	}
	next := s.gen.Next(s.now())
	s.Log.WithField("next", next.Format(time.RFC3339)).Info("scheduler started")
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Log.Info("scheduler stopped")
			return ctx.Err()
		case <-tick.C:
		}
		now := s.now()
		if now.Before(next) {
			continue
		}
		next = s.gen.Next(now)
		s.fire(ctx, now)
	}
}

// fire runs one cadence beat: maintenance first, then the generation. A
// failed side-task never blocks the generation; an in-flight run declines
// the beat quietly.
func (s *Scheduler) fire(ctx context.Context, now time.Time) {
	s.maybeBackup(ctx, now)
	s.maybeReset(ctx, now)
	s.maybeRefreshRoster(ctx, now)
	s.maybeLinear(ctx, now)

	if _, err := s.Runner.Generate(ctx, generate.TriggerCron); err != nil {
		if errors.Is(err, generate.ErrRunActive) {
			s.Log.Debug("generation beat declined, run still in flight")
			return
		}
		s.Log.WithError(err).Error("generation failed")
	}
}

func (s *Scheduler) maybeBackup(ctx context.Context, now time.Time) {
	if s.backup == nil || s.Backup == nil {
		return
	}
	if !s.dueBy(ctx, s.backup, store.SettingLastBackup, now) {
		return
	}
	if err := s.Backup(ctx); err != nil {
		s.Log.WithError(err).Error("backup failed")
		return
	}
	s.stamp(ctx, store.SettingLastBackup, now)
}

func (s *Scheduler) maybeReset(ctx context.Context, now time.Time) {
	if s.reset == nil {
		return
	}
	if !s.dueBy(ctx, s.reset, store.SettingLastReset, now) {
		return
	}
	if _, err := s.Runner.ChannelReset(ctx); err != nil {
		s.Log.WithError(err).Error("channel reset failed")
		return
	}
	s.stamp(ctx, store.SettingLastReset, now)
}

func (s *Scheduler) maybeRefreshRoster(ctx context.Context, now time.Time) {
	refresh := s.CacheRefresh
	if refresh <= 0 {
		refresh = 24 * time.Hour
	}
	last, err := s.Store.GetSettingTime(ctx, store.SettingTeamCacheRefreshed)
	if err != nil {
		s.Log.WithError(err).Warn("roster stamp read failed")
		return
	}
	if !last.IsZero() && now.Sub(last) < refresh {
		return
	}
	if _, err := s.Runner.RefreshTeamCache(ctx); err != nil {
		s.Log.WithError(err).Error("team cache refresh failed")
		return
	}
	s.stamp(ctx, store.SettingTeamCacheRefreshed, now)
}

func (s *Scheduler) maybeLinear(ctx context.Context, now time.Time) {
	local := now.In(s.tz())
	target := time.Date(local.Year(), local.Month(), local.Day(),
		s.linearHour, s.linearMin, 0, 0, s.tz())
	if local.Before(target) {
		return
	}
	last, err := s.Store.GetSettingTime(ctx, store.SettingLinearEPGRefreshed)
	if err != nil {
		s.Log.WithError(err).Warn("linear stamp read failed")
		return
	}
	if !last.Before(target) {
		return
	}
	if _, err := s.Runner.RefreshLinearEPG(ctx); err != nil {
		s.Log.WithError(err).Error("linear guide refresh failed")
		return
	}
	s.stamp(ctx, store.SettingLinearEPGRefreshed, now)
}

// dueBy reports whether sched has a fire time in (last, now]. A zero last
// anchors at now, so a fresh database waits for the first scheduled boundary
// instead of firing the task immediately.
func (s *Scheduler) dueBy(ctx context.Context, sched cron.Schedule, key string, now time.Time) bool {
	last, err := s.Store.GetSettingTime(ctx, key)
	if err != nil {
		s.Log.WithError(err).WithField("key", key).Warn("schedule stamp read failed")
		return false
	}
	if last.IsZero() {
		s.stamp(ctx, key, now)
		return false
	}
	return !now.Before(sched.Next(last))
}

func (s *Scheduler) stamp(ctx context.Context, key string, now time.Time) {
	if err := s.Store.SetSettingTime(ctx, key, now); err != nil {
		s.Log.WithError(err).WithField("key", key).Warn("schedule stamp write failed")
	}
}
