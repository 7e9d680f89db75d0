// Package backup snapshots the SQLite database into a rotation directory.
// A snapshot is a WAL checkpoint followed by a plain file copy; the copy is
// written to a temp file and renamed so a crash never leaves a truncated
// snapshot behind. Rotation is count- and age-based.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/teamarr/teamarr/internal/store"
)

// Manager takes database snapshots. Keep is the number of snapshots
// retained, MaxAge rotates out snapshots older than the window; the newest
// snapshot always survives both rules.
type Manager struct {
	Store  *store.Store
	Dir    string
	Keep   int
	MaxAge time.Duration
	Log    logrus.FieldLogger
}

// Run takes one snapshot and prunes old ones. Matches the scheduler's
// BackupFunc shape.
func (m *Manager) Run(ctx context.Context) error {
	if err := os.MkdirAll(m.Dir, 0o755); err != nil {
		return fmt.Errorf("backup dir: %w", err)
	}
	start := time.Now()
	dest, size, err := m.snapshot(ctx, start)
	if err != nil {
		return err
	}
	m.Log.WithFields(logrus.Fields{
		"file":     filepath.Base(dest),
		"bytes":    size,
		"duration": time.Since(start).Round(time.Millisecond).String(),
	}).Info("database backed up")
	if err := m.rotate(start); err != nil {
		m.Log.WithError(err).Warn("backup rotation failed")
	}
	return nil
}

func (m *Manager) snapshot(ctx context.Context, start time.Time) (string, int64, error) {
	// A failed checkpoint is not fatal: the copy still captures the last
	// checkpointed state plus whatever the WAL had already spilled.
	if err := m.Store.Checkpoint(ctx); err != nil {
		m.Log.WithError(err).Warn("checkpoint failed, snapshot may trail the WAL")
	}
	src, err := os.Open(m.Store.Path())
	if err != nil {
		return "", 0, fmt.Errorf("snapshot source: %w", err)
	}
	defer src.Close()

	name := fmt.Sprintf("teamarr-%s-%s.db",
		start.Format("20060102-150405"), uuid.NewString()[:8])
	dest := filepath.Join(m.Dir, name)

	tmp, err := os.CreateTemp(m.Dir, ".teamarr-*.db.tmp")
	if err != nil {
		return "", 0, fmt.Errorf("snapshot temp: %w", err)
	}
	size, err := io.Copy(tmp, src)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("snapshot copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("snapshot close: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("snapshot chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("snapshot rename: %w", err)
	}
	return dest, size, nil
}

// rotate prunes old snapshots: everything beyond the newest Keep goes, and
// within the kept window anything past MaxAge goes too.
func (m *Manager) rotate(now time.Time) error {
	entries, err := os.ReadDir(m.Dir)
	if err != nil {
		return err
	}
	type snap struct {
		name string
		mod  time.Time
	}
	var snaps []snap
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "teamarr-") || !strings.HasSuffix(e.Name(), ".db") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		snaps = append(snaps, snap{e.Name(), info.ModTime()})
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].mod.After(snaps[j].mod) })

	keep := m.Keep
	if keep <= 0 {
		keep = 14
	}
	removed := 0
	for i, sn := range snaps {
		if i == 0 {
			continue
		}
		tooMany := i >= keep
		tooOld := m.MaxAge > 0 && now.Sub(sn.mod) > m.MaxAge
		if !tooMany && !tooOld {
			continue
		}
		if err := os.Remove(filepath.Join(m.Dir, sn.name)); err != nil {
			m.Log.WithError(err).WithField("file", sn.name).Warn("snapshot removal failed")
			continue
		}
		removed++
	}
	if removed > 0 {
		m.Log.WithFields(logrus.Fields{
			"removed": removed,
			"kept":    len(snaps) - removed,
		}).Debug("snapshots rotated")
	}
	return nil
}
