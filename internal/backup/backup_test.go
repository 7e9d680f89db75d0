package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teamarr/teamarr/internal/logging"
	"github.com/teamarr/teamarr/internal/store"
)

func testManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "teamarr.db"), logging.Discard())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return &Manager{
		Store:  st,
		Dir:    t.TempDir(),
		Keep:   14,
		MaxAge: 90 * 24 * time.Hour,
		Log:    logging.Discard(),
	}, st
}

func snapshots(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "teamarr-*.db"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	return matches
}

func TestRunTakesReadableSnapshot(t *testing.T) {
	m, st := testManager(t)
	ctx := context.Background()
	if err := st.SetSetting(ctx, "flavor", "original"); err != nil {
		t.Fatalf("seed setting: %v", err)
	}

	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	files := snapshots(t, m.Dir)
	if len(files) != 1 {
		t.Fatalf("snapshots = %v, want exactly one", files)
	}
	snap, err := store.Open(files[0], logging.Discard())
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer snap.Close()
	got, err := snap.GetSetting(ctx, "flavor")
	if err != nil || got != "original" {
		t.Fatalf("snapshot setting = %q (err %v), want original", got, err)
	}
}

func TestRotateKeepsNewest(t *testing.T) {
	m, _ := testManager(t)
	m.Keep = 2
	m.MaxAge = 0
	now := time.Now()
	for i, name := range []string{"teamarr-old1.db", "teamarr-old2.db", "teamarr-old3.db"} {
		p := filepath.Join(m.Dir, name)
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
		age := time.Duration(i+1) * time.Hour
		if err := os.Chtimes(p, now.Add(-age), now.Add(-age)); err != nil {
			t.Fatalf("backdate %s: %v", name, err)
		}
	}

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	files := snapshots(t, m.Dir)
	if len(files) != 2 {
		t.Fatalf("snapshots after rotation = %v, want 2", files)
	}
	kept := false
	for _, f := range files {
		if filepath.Base(f) == "teamarr-old1.db" {
			kept = true
		}
	}
	if !kept {
		t.Fatalf("survivors = %v, want the freshest seeded file kept", files)
	}
}

func TestRotateDropsAgedSnapshots(t *testing.T) {
	m, _ := testManager(t)
	m.Keep = 10
	m.MaxAge = 24 * time.Hour
	now := time.Now()

	stale := filepath.Join(m.Dir, "teamarr-stale.db")
	if err := os.WriteFile(stale, []byte("x"), 0o644); err != nil {
		t.Fatalf("seed stale: %v", err)
	}
	if err := os.Chtimes(stale, now.Add(-48*time.Hour), now.Add(-48*time.Hour)); err != nil {
		t.Fatalf("backdate stale: %v", err)
	}
	notes := filepath.Join(m.Dir, "notes.txt")
	if err := os.WriteFile(notes, []byte("keep"), 0o644); err != nil {
		t.Fatalf("seed notes: %v", err)
	}

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	files := snapshots(t, m.Dir)
	if len(files) != 1 {
		t.Fatalf("snapshots = %v, want only the fresh one", files)
	}
	if filepath.Base(files[0]) == "teamarr-stale.db" {
		t.Fatal("stale snapshot survived rotation")
	}
	if _, err := os.Stat(notes); err != nil {
		t.Fatalf("unrelated file removed: %v", err)
	}
}

func TestRotateSparesNewestRegardlessOfAge(t *testing.T) {
	m, _ := testManager(t)
	m.MaxAge = time.Hour
	now := time.Now()
	lone := filepath.Join(m.Dir, "teamarr-lone.db")
	if err := os.WriteFile(lone, []byte("x"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := os.Chtimes(lone, now.Add(-48*time.Hour), now.Add(-48*time.Hour)); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	if err := m.rotate(now); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := os.Stat(lone); err != nil {
		t.Fatalf("lone snapshot removed: %v", err)
	}
}
