// Command teamarr: sports EPG synthesizer for Dispatcharr-managed IPTV.
//
//	run       Service mode: startup generation, cron scheduler, ops listener. For systemd/containers.
//	generate  One generation run against the configured aggregator, then exit
//	backup    Snapshot the SQLite database into the backup dir, then exit
//	migrate   Open the database, apply pending migrations, then exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/teamarr/teamarr/internal/backup"
	"github.com/teamarr/teamarr/internal/classify"
	"github.com/teamarr/teamarr/internal/config"
	"github.com/teamarr/teamarr/internal/dispatcharr"
	"github.com/teamarr/teamarr/internal/espn"
	"github.com/teamarr/teamarr/internal/generate"
	"github.com/teamarr/teamarr/internal/lifecycle"
	"github.com/teamarr/teamarr/internal/logging"
	"github.com/teamarr/teamarr/internal/match"
	"github.com/teamarr/teamarr/internal/metrics"
	"github.com/teamarr/teamarr/internal/normalize"
	"github.com/teamarr/teamarr/internal/ops"
	"github.com/teamarr/teamarr/internal/process"
	"github.com/teamarr/teamarr/internal/providers"
	"github.com/teamarr/teamarr/internal/schedule"
	"github.com/teamarr/teamarr/internal/sports"
	"github.com/teamarr/teamarr/internal/store"
	"github.com/teamarr/teamarr/internal/tsdb"
)

// app is the wired service graph shared by the run and generate commands.
type app struct {
	Store   *store.Store
	Metrics *metrics.Metrics
	Driver  *generate.Driver
}

func (a *app) Close() { a.Store.Close() }

// buildApp wires the full pipeline: store, league index, providers, gateway,
// lifecycle, matcher, processor, driver.
func buildApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*app, error) {
	if cfg.DispatcharrURL == "" {
		return nil, fmt.Errorf("set TEAMARR_DISPATCHARR_URL in .env (the channel aggregator this instance manages)")
	}

	st, err := store.Open(cfg.DBPath, logging.Component(logger, "store"))
	if err != nil {
		return nil, err
	}
	if err := st.SeedLeagues(ctx, sports.DefaultLeagueMappings()); err != nil {
		st.Close()
		return nil, fmt.Errorf("seed leagues: %w", err)
	}
	rows, err := st.LoadLeagues(ctx)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load leagues: %w", err)
	}
	leagues := sports.NewLeagueIndex(rows)
	m := metrics.New()
	tz := cfg.Location()

	var provs []providers.Provider
	for _, name := range cfg.ProviderPriority {
		switch name {
		case "espn":
			provs = append(provs, espn.New(rows, logging.Component(logger, "espn")))
		case "tsdb":
			provs = append(provs, tsdb.New(rows, cfg.TSDBAPIKey, logging.Component(logger, "tsdb")))
		default:
			logger.WithField("provider", name).Warn("unknown provider in TEAMARR_PROVIDER_PRIORITY")
		}
	}
	if len(provs) == 0 {
		st.Close()
		return nil, fmt.Errorf("TEAMARR_PROVIDER_PRIORITY %v left no usable providers", cfg.ProviderPriority)
	}
	svc := providers.NewService(logging.Component(logger, "providers"), provs...)

	gw := dispatcharr.New(cfg.DispatcharrURL, cfg.DispatcharrUser, cfg.DispatcharrPass,
		logging.Component(logger, "dispatcharr"))

	lc := lifecycle.New(st, gw, m, logger)
	lc.UserTZ = tz
	lc.RangeStart = cfg.ChannelRangeStart
	lc.RangeEnd = cfg.ChannelRangeEnd
	lc.NumberingMode = cfg.NumberingMode

	norm := normalize.New(leagues)
	matcher := &match.StreamMatcher{
		Store:      st,
		Providers:  svc,
		Leagues:    leagues,
		Classifier: classify.New(norm, leagues),
		UserTZ:     tz,
		Log:        logging.Component(logger, "matcher"),
	}
	proc := &process.Processor{
		Store:     st,
		Streams:   gw,
		Matcher:   matcher,
		Lifecycle: lc,
		Providers: svc,
		Leagues:   leagues,
		Metrics:   m,
		Log:       logging.Component(logger, "process"),
		UserTZ:    tz,
	}
	driver := &generate.Driver{
		Store:       st,
		Runner:      proc,
		Lifecycle:   lc,
		Providers:   svc,
		Leagues:     leagues,
		Refresher:   gw,
		Metrics:     m,
		Log:         logging.Component(logger, "generate"),
		EPGSourceID: cfg.DispatcharrEPGSource,
		RefreshM3U:  cfg.RefreshM3U,
		XMLTVPath:   cfg.XMLTVPath,
		UserTZ:      tz,
		DaysAhead:   cfg.DaysAhead,
	}
	return &app{Store: st, Metrics: m, Driver: driver}, nil
}

// runService is the long-lived mode: ops listener, optional startup
// generation, then the scheduler loop until the context is cancelled.
func runService(ctx context.Context, cfg *config.Config, logger *logrus.Logger, skipGenerate bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	opsSrv := &ops.Server{
		Addr:    cfg.OpsListenAddr,
		Store:   a.Store,
		Metrics: a.Metrics,
		Log:     logging.Component(logger, "ops"),
	}
	opsErr := make(chan error, 1)
	go func() { opsErr <- opsSrv.Serve(ctx) }()

	// A failed startup generation is not fatal: the gateway may still be
	// coming up; the next cron fire retries.
	if !skipGenerate {
		if _, err := a.Driver.Generate(ctx, generate.TriggerStartup); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("startup generation failed")
		}
	}

	mgr := &backup.Manager{
		Store:  a.Store,
		Dir:    cfg.BackupDir,
		Keep:   cfg.BackupKeep,
		MaxAge: cfg.BackupMaxAge,
		Log:    logging.Component(logger, "backup"),
	}
	sched := &schedule.Scheduler{
		Runner:         a.Driver,
		Store:          a.Store,
		Backup:         mgr.Run,
		Log:            logging.Component(logger, "schedule"),
		GenerationCron: cfg.GenerationCron,
		BackupCron:     cfg.BackupCron,
		ResetCron:      cfg.ResetCron,
		CacheRefresh:   cfg.CacheRefresh,
		LinearEPGTime:  cfg.LinearEPGTime,
		UserTZ:         cfg.Location(),
	}
	err = sched.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	cancel()
	<-opsErr
	return err
}

func main() {
	_ = config.LoadEnvFile(".env")

	runCmd := flag.NewFlagSet("run", flag.ExitOnError)
	runSkipGenerate := runCmd.Bool("skip-generate", false, "Skip the startup generation (wait for the first cron fire)")

	generateCmd := flag.NewFlagSet("generate", flag.ExitOnError)
	backupCmd := flag.NewFlagSet("backup", flag.ExitOnError)
	migrateCmd := flag.NewFlagSet("migrate", flag.ExitOnError)

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <run|generate|backup|migrate> [flags]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  run       Service mode: startup generation, cron scheduler, ops listener\n")
		fmt.Fprintf(os.Stderr, "  generate  One generation run, then exit\n")
		fmt.Fprintf(os.Stderr, "  backup    Snapshot the database into TEAMARR_BACKUP_DIR, then exit\n")
		fmt.Fprintf(os.Stderr, "  migrate   Open the database, apply migrations, then exit\n")
		os.Exit(1)
	}

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	switch os.Args[1] {
	case "run":
		_ = runCmd.Parse(os.Args[2:])
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := runService(ctx, cfg, logger, *runSkipGenerate); err != nil {
			logger.WithError(err).Fatal("service failed")
		}

	case "generate":
		_ = generateCmd.Parse(os.Args[2:])
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		a, err := buildApp(ctx, cfg, logger)
		if err != nil {
			logger.WithError(err).Fatal("wiring failed")
		}
		defer a.Close()
		run, err := a.Driver.Generate(ctx, generate.TriggerAPI)
		if err != nil {
			logger.WithError(err).Fatal("generation failed")
		}
		if run.Status != store.RunSuccess {
			os.Exit(1)
		}

	case "backup":
		_ = backupCmd.Parse(os.Args[2:])
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		st, err := store.Open(cfg.DBPath, logging.Component(logger, "store"))
		if err != nil {
			logger.WithError(err).Fatal("open database failed")
		}
		defer st.Close()
		mgr := &backup.Manager{
			Store:  st,
			Dir:    cfg.BackupDir,
			Keep:   cfg.BackupKeep,
			MaxAge: cfg.BackupMaxAge,
			Log:    logging.Component(logger, "backup"),
		}
		if err := mgr.Run(ctx); err != nil {
			logger.WithError(err).Fatal("backup failed")
		}

	case "migrate":
		_ = migrateCmd.Parse(os.Args[2:])
		st, err := store.Open(cfg.DBPath, logging.Component(logger, "store"))
		if err != nil {
			logger.WithError(err).Fatal("migrate failed")
		}
		st.Close()
		logger.WithField("db", cfg.DBPath).Info("database migrated")

	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", os.Args[1])
		os.Exit(1)
	}
}
