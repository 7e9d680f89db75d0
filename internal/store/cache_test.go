package store

import (
	"context"
	"testing"
	"time"

	"github.com/teamarr/teamarr/internal/sports"
)

func testEvent(id string) *sports.Event {
	return &sports.Event{
		ID:        id,
		Provider:  "espn",
		League:    "nfl",
		Sport:     "football",
		StartTime: time.Date(2025, 10, 12, 17, 0, 0, 0, time.UTC),
		Status:    sports.StatusScheduled,
		HomeTeam:  sports.Team{ID: "1", Name: "Detroit Lions"},
		AwayTeam:  sports.Team{ID: "2", Name: "Green Bay Packers"},
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint(5, 42, "ESPN: Lions vs Packers")
	b := Fingerprint(5, 42, "ESPN: Lions vs Packers")
	if a != b {
		t.Fatalf("same inputs produced %q and %q", a, b)
	}
	if len(a) != 16 {
		t.Errorf("fingerprint length = %d, want 16", len(a))
	}
	for _, other := range []string{
		Fingerprint(5, 42, "ESPN: Lions vs Packers HD"),
		Fingerprint(5, 43, "ESPN: Lions vs Packers"),
		Fingerprint(6, 42, "ESPN: Lions vs Packers"),
	} {
		if other == a {
			t.Errorf("distinct inputs collided on %q", a)
		}
	}
}

func TestCacheSetGetTouch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ev := testEvent("401547")
	if err := s.CacheSet(ctx, 1, 10, "Lions vs Packers", ev, "fuzzy", 3); err != nil {
		t.Fatalf("CacheSet: %v", err)
	}
	e, err := s.CacheGet(ctx, 1, 10, "Lions vs Packers", false)
	if err != nil {
		t.Fatalf("CacheGet: %v", err)
	}
	if e == nil {
		t.Fatal("entry missing after set")
	}
	if e.EventID != "401547" || e.MatchMethod != "fuzzy" || e.LastSeenGeneration != 3 {
		t.Errorf("entry = %+v", e)
	}
	got, err := e.Event()
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if got.HomeTeam.Name != "Detroit Lions" {
		t.Errorf("snapshot home team = %q", got.HomeTeam.Name)
	}

	// A renamed stream is a different key entirely.
	miss, err := s.CacheGet(ctx, 1, 10, "Lions vs Packers HD", false)
	if err != nil || miss != nil {
		t.Fatalf("renamed stream hit cache: %+v, %v", miss, err)
	}

	if err := s.CacheTouch(ctx, 1, 10, "Lions vs Packers", 7); err != nil {
		t.Fatalf("CacheTouch: %v", err)
	}
	e, _ = s.CacheGet(ctx, 1, 10, "Lions vs Packers", false)
	if e.LastSeenGeneration != 7 {
		t.Errorf("generation after touch = %d, want 7", e.LastSeenGeneration)
	}
	// Touch never moves the generation backwards.
	if err := s.CacheTouch(ctx, 1, 10, "Lions vs Packers", 4); err != nil {
		t.Fatalf("CacheTouch backwards: %v", err)
	}
	e, _ = s.CacheGet(ctx, 1, 10, "Lions vs Packers", false)
	if e.LastSeenGeneration != 7 {
		t.Errorf("generation regressed to %d", e.LastSeenGeneration)
	}
}

func TestCacheFailedSentinel(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CacheSetFailed(ctx, 1, 20, "Adult Swim 24/7", 1); err != nil {
		t.Fatalf("CacheSetFailed: %v", err)
	}
	e, err := s.CacheGet(ctx, 1, 20, "Adult Swim 24/7", false)
	if err != nil || e != nil {
		t.Fatalf("failed sentinel visible without includeFailed: %+v, %v", e, err)
	}
	e, err = s.CacheGet(ctx, 1, 20, "Adult Swim 24/7", true)
	if err != nil {
		t.Fatalf("CacheGet includeFailed: %v", err)
	}
	if e == nil || !e.Failed {
		t.Fatalf("sentinel = %+v", e)
	}
	if _, err := e.Event(); err == nil {
		t.Error("failed sentinel decoded an event snapshot")
	}
	// A later successful match replaces the sentinel.
	if err := s.CacheSet(ctx, 1, 20, "Adult Swim 24/7", testEvent("9"), "alias", 2); err != nil {
		t.Fatalf("CacheSet over sentinel: %v", err)
	}
	e, _ = s.CacheGet(ctx, 1, 20, "Adult Swim 24/7", false)
	if e == nil || e.Failed || e.EventID != "9" {
		t.Errorf("entry after recovery = %+v", e)
	}
}

func TestUserCorrectionPinsEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CacheSet(ctx, 1, 30, "Sunday Night Football", testEvent("wrong"), "fuzzy", 1); err != nil {
		t.Fatalf("CacheSet: %v", err)
	}
	if err := s.CacheSetUserCorrection(ctx, 1, 30, "Sunday Night Football", testEvent("right"), 2); err != nil {
		t.Fatalf("CacheSetUserCorrection: %v", err)
	}

	// Neither automated writes nor failure sentinels may displace the pin.
	if err := s.CacheSet(ctx, 1, 30, "Sunday Night Football", testEvent("wrong-again"), "fuzzy", 3); err != nil {
		t.Fatalf("CacheSet over pin: %v", err)
	}
	if err := s.CacheSetFailed(ctx, 1, 30, "Sunday Night Football", 4); err != nil {
		t.Fatalf("CacheSetFailed over pin: %v", err)
	}
	e, err := s.CacheGet(ctx, 1, 30, "Sunday Night Football", false)
	if err != nil || e == nil {
		t.Fatalf("CacheGet: %+v, %v", e, err)
	}
	if e.EventID != "right" || !e.UserCorrected || e.Failed {
		t.Errorf("pinned entry = %+v", e)
	}
	if e.MatchMethod != "user_corrected" {
		t.Errorf("pinned method = %q", e.MatchMethod)
	}
	// Generation still advances so the pin does not look stale.
	if e.LastSeenGeneration != 4 {
		t.Errorf("pinned generation = %d, want 4", e.LastSeenGeneration)
	}

	// Unpinning hands the key back to automation.
	if err := s.CacheRemoveUserCorrection(ctx, 1, 30, "Sunday Night Football"); err != nil {
		t.Fatalf("CacheRemoveUserCorrection: %v", err)
	}
	if err := s.CacheSet(ctx, 1, 30, "Sunday Night Football", testEvent("auto"), "alias", 5); err != nil {
		t.Fatalf("CacheSet after unpin: %v", err)
	}
	e, _ = s.CacheGet(ctx, 1, 30, "Sunday Night Football", false)
	if e.EventID != "auto" || e.UserCorrected {
		t.Errorf("entry after unpin = %+v", e)
	}
}

func TestCachePurgeHorizons(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Success last seen at gen 1, failure at gen 1, pin at gen 1, and a
	// fresh success at gen 9.
	if err := s.CacheSet(ctx, 1, 1, "old success", testEvent("a"), "fuzzy", 1); err != nil {
		t.Fatal(err)
	}
	if err := s.CacheSetFailed(ctx, 1, 2, "old failure", 1); err != nil {
		t.Fatal(err)
	}
	if err := s.CacheSetUserCorrection(ctx, 1, 3, "old pin", testEvent("b"), 1); err != nil {
		t.Fatal(err)
	}
	if err := s.CacheSet(ctx, 1, 4, "fresh success", testEvent("c"), "fuzzy", 9); err != nil {
		t.Fatal(err)
	}

	// At gen 5: failure (horizon 2) is gone, success (horizon 5) survives.
	successes, failures, err := s.CachePurgeStale(ctx, 5)
	if err != nil {
		t.Fatalf("CachePurgeStale: %v", err)
	}
	if successes != 0 || failures != 1 {
		t.Errorf("purge at gen 5 = %d successes, %d failures; want 0, 1", successes, failures)
	}
	if e, _ := s.CacheGet(ctx, 1, 1, "old success", false); e == nil {
		t.Error("success purged before its horizon")
	}

	// At gen 9 the old success falls out too; the pin and the fresh entry stay.
	successes, failures, err = s.CachePurgeStale(ctx, 9)
	if err != nil {
		t.Fatalf("CachePurgeStale: %v", err)
	}
	if successes != 1 || failures != 0 {
		t.Errorf("purge at gen 9 = %d successes, %d failures; want 1, 0", successes, failures)
	}
	if e, _ := s.CacheGet(ctx, 1, 3, "old pin", false); e == nil {
		t.Error("user correction purged")
	}
	if e, _ := s.CacheGet(ctx, 1, 4, "fresh success", false); e == nil {
		t.Error("fresh entry purged")
	}

	total, failed, pinned, err := s.CacheSize(ctx)
	if err != nil {
		t.Fatalf("CacheSize: %v", err)
	}
	if total != 2 || failed != 0 || pinned != 1 {
		t.Errorf("size = %d/%d/%d, want 2/0/1", total, failed, pinned)
	}
}
