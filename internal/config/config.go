// Package config loads process-level settings from the environment. Group and
// league configuration is persisted in the database; everything here is the
// static plumbing a deployment sets once.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds scheduler, store, provider, and gateway settings.
// All knobs are prefixed TEAMARR_.
type Config struct {
	// Store
	DBPath string // SQLite database file

	// Presentation timezone. Events are stored UTC and rendered in this zone.
	Timezone string

	// Scheduler
	GenerationCron string // cron expression for EPG generation
	BackupCron     string // cron expression for database backups; "" disables
	ResetCron      string // cron expression for full channel reset; "" disables
	DaysAhead      int    // how many days of future events to prefetch per league

	// Backups
	BackupDir     string
	BackupKeep    int           // max snapshots kept
	BackupMaxAge  time.Duration // snapshots older than this are rotated out
	CacheRefresh  time.Duration // provider cache considered stale after this
	LinearEPGTime string        // HH:MM local time for the daily team-EPG refresh

	// Channel numbering
	ChannelRangeStart int
	ChannelRangeEnd   int
	NumberingMode     string // strict_block | rational_block | strict_compact

	// Dispatcharr gateway
	DispatcharrURL       string
	DispatcharrUser      string
	DispatcharrPass      string
	DispatcharrEPGSource int64 // EPG source id our XMLTV lands in; 0 skips association
	RefreshM3U           bool  // trigger playlist refresh before each generation

	// XMLTVPath is where the merged guide file is written each run. The
	// Dispatcharr EPG source is pointed at this file.
	XMLTVPath string

	// Providers
	TSDBAPIKey       string // TheSportsDB key; "3" is the free tier
	ProviderPriority []string

	// Ops listener (/healthz, /metrics)
	OpsListenAddr string

	// Logging
	LogLevel  string
	LogFormat string
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Missing file is not an error so deployments without a .env file work.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// Load reads config from environment. Call LoadEnvFile first to honor a .env file.
func Load() *Config {
	c := &Config{
		DBPath:               getEnv("TEAMARR_DB", "./teamarr.db"),
		Timezone:             getEnv("TEAMARR_TIMEZONE", "UTC"),
		GenerationCron:       getEnv("TEAMARR_GENERATION_CRON", "*/15 * * * *"),
		BackupCron:           getEnv("TEAMARR_BACKUP_CRON", "0 4 * * *"),
		ResetCron:            os.Getenv("TEAMARR_RESET_CRON"),
		DaysAhead:            getEnvInt("TEAMARR_DAYS_AHEAD", 1),
		BackupDir:            getEnv("TEAMARR_BACKUP_DIR", "./backups"),
		BackupKeep:           getEnvInt("TEAMARR_BACKUP_KEEP", 14),
		BackupMaxAge:         getEnvDuration("TEAMARR_BACKUP_MAX_AGE", 90*24*time.Hour),
		CacheRefresh:         getEnvDuration("TEAMARR_CACHE_REFRESH", 24*time.Hour),
		LinearEPGTime:        getEnv("TEAMARR_LINEAR_EPG_TIME", "05:00"),
		ChannelRangeStart:    getEnvInt("TEAMARR_CHANNEL_RANGE_START", 1000),
		ChannelRangeEnd:      getEnvInt("TEAMARR_CHANNEL_RANGE_END", 9999),
		NumberingMode:        getEnvNumberingMode("TEAMARR_NUMBERING_MODE", "strict_block"),
		DispatcharrURL:       os.Getenv("TEAMARR_DISPATCHARR_URL"),
		DispatcharrUser:      os.Getenv("TEAMARR_DISPATCHARR_USER"),
		DispatcharrPass:      os.Getenv("TEAMARR_DISPATCHARR_PASS"),
		DispatcharrEPGSource: int64(getEnvInt("TEAMARR_DISPATCHARR_EPG_SOURCE", 0)),
		RefreshM3U:           getEnvBool("TEAMARR_REFRESH_M3U", true),
		XMLTVPath:            getEnv("TEAMARR_XMLTV_PATH", "./teamarr.xml"),
		TSDBAPIKey:           getEnv("TEAMARR_TSDB_API_KEY", "3"),
		ProviderPriority:     getEnvList("TEAMARR_PROVIDER_PRIORITY", []string{"espn", "tsdb"}),
		OpsListenAddr:        getEnv("TEAMARR_OPS_LISTEN", ":9480"),
		LogLevel:             getEnv("TEAMARR_LOG_LEVEL", "info"),
		LogFormat:            getEnv("TEAMARR_LOG_FORMAT", "text"),
	}
	if c.DaysAhead < 0 {
		c.DaysAhead = 0
	}
	if c.BackupKeep <= 0 {
		c.BackupKeep = 14
	}
	if c.ChannelRangeEnd <= c.ChannelRangeStart {
		c.ChannelRangeEnd = c.ChannelRangeStart + 8999
	}
	return c
}

// Location resolves the configured timezone, falling back to UTC when the
// name does not load.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate reports configuration problems that would make a run useless.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("TEAMARR_DB must not be empty")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TEAMARR_TIMEZONE %q: %w", c.Timezone, err)
	}
	if c.ChannelRangeStart < 1 {
		return fmt.Errorf("TEAMARR_CHANNEL_RANGE_START must be >= 1, got %d", c.ChannelRangeStart)
	}
	if c.DispatcharrURL != "" && !isHTTPOrHTTPS(c.DispatcharrURL) {
		return fmt.Errorf("TEAMARR_DISPATCHARR_URL %q must be http or https", c.DispatcharrURL)
	}
	return nil
}

// isHTTPOrHTTPS rejects file://, ftp://, and other schemes that could
// point the gateway client at local files.
func isHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	s := parsed.Scheme
	return s == "http" || s == "https"
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvNumberingMode accepts the three numbering modes; anything else falls
// back to the default so a typo cannot silently change layout semantics.
func getEnvNumberingMode(key, defaultVal string) string {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch v {
	case "strict_block", "rational_block", "strict_compact":
		return v
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.ToLower(p))
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
