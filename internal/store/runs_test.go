package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := uuid.NewString()
	if err := s.CreateRun(ctx, id, 4, "cron"); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	r, err := s.GetRun(ctx, id)
	if err != nil || r == nil {
		t.Fatalf("GetRun: %+v, %v", r, err)
	}
	if r.Status != RunRunning || r.Generation != 4 || r.Trigger != "cron" {
		t.Errorf("open run = %+v", r)
	}
	if r.FinishedAt != nil {
		t.Error("open run has finished_at")
	}

	r.Status = RunSuccess
	r.GroupsProcessed = 2
	r.StreamsTotal = 150
	r.StreamsMatched = 120
	r.ChannelsCreated = 12
	r.ChannelsDeleted = 3
	r.Errors = []string{"espn: nhl fetch timed out"}
	if err := s.FinishRun(ctx, r); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	r, _ = s.GetRun(ctx, id)
	if r.Status != RunSuccess || r.FinishedAt == nil {
		t.Errorf("closed run = %+v", r)
	}
	if r.StreamsMatched != 120 || len(r.Errors) != 1 {
		t.Errorf("closed run stats = %+v", r)
	}

	recent, err := s.RecentRuns(ctx, 5)
	if err != nil || len(recent) != 1 {
		t.Errorf("RecentRuns = %d, %v", len(recent), err)
	}
}

func TestRunAuditRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := uuid.NewString()
	if err := s.CreateRun(ctx, id, 1, "api"); err != nil {
		t.Fatal(err)
	}
	err := s.RecordMatchedStream(ctx, id, MatchedStreamRow{
		GroupID: 1, StreamID: 10, StreamName: "Lions vs Packers",
		League: "nfl", EventID: "401547", EventProvider: "espn",
		MatchMethod: "fuzzy", Confidence: 0.92, Included: true,
		Team1: "Detroit Lions", Team2: "Green Bay Packers",
	})
	if err != nil {
		t.Fatalf("RecordMatchedStream: %v", err)
	}
	err = s.RecordFailedMatch(ctx, id, FailedMatchRow{
		GroupID: 1, StreamID: 11, StreamName: "Mystery Channel",
		Category: "team_vs_team", Reason: "no event on date",
	})
	if err != nil {
		t.Fatalf("RecordFailedMatch: %v", err)
	}

	// Prune with a future cutoff clears the detail rows.
	n, err := s.PruneRunHistory(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneRunHistory: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned %d rows, want 2", n)
	}
	// The run row itself survives.
	if r, _ := s.GetRun(ctx, id); r == nil {
		t.Error("run row pruned")
	}
}
