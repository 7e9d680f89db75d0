package process

import (
	"context"
	"testing"
	"time"

	"github.com/teamarr/teamarr/internal/lifecycle"
	"github.com/teamarr/teamarr/internal/sports"
	"github.com/teamarr/teamarr/internal/store"
)

func nhlGame() *sports.Event {
	return &sports.Event{
		ID: "NHL1", Provider: "espn", League: "nhl", Sport: "hockey",
		StartTime: testNow.Add(2 * time.Hour),
		Status:    sports.StatusScheduled,
		HomeTeam:  sports.Team{ID: "1", Name: "Boston Bruins", Abbreviation: "BOS"},
		AwayTeam:  sports.Team{ID: "13", Name: "New York Rangers", Abbreviation: "NYR"},
	}
}

var nhlMapping = sports.LeagueMapping{Code: "nhl", Provider: "espn", Sport: "hockey", DisplayName: "NHL"}

func ensure(t *testing.T, p *Processor, req lifecycle.EnsureRequest) *store.ManagedChannel {
	t.Helper()
	results, err := p.Lifecycle.Ensure(context.Background(), req)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if len(results) == 0 || results[0].Channel == nil {
		t.Fatalf("Ensure results = %+v", results)
	}
	return results[0].Channel
}

func TestEnforceCrossGroupConsolidation(t *testing.T) {
	ctx := context.Background()
	p, _, _ := testProcessor(t, newFakeProvider(nil))
	single := saveGroup(t, p.Store, &store.EventEPGGroup{
		Name: "NHL", Enabled: true, Leagues: []string{"nhl"},
		SortOrder: 0, TotalStreamCount: 5,
	})
	multi := saveGroup(t, p.Store, &store.EventEPGGroup{
		Name: "All Sports", Enabled: true, Leagues: []string{"nba", "nhl"},
		OverlapHandling: store.OverlapAddStream, SortOrder: 1, TotalStreamCount: 5,
	})
	ev := nhlGame()
	keep := ensure(t, p, lifecycle.EnsureRequest{
		Group: single, Event: ev, League: nhlMapping,
		Streams: []sports.Stream{{ID: 1, Name: "main feed"}},
	})
	dup := ensure(t, p, lifecycle.EnsureRequest{
		Group: multi, Event: ev, League: nhlMapping,
		Streams: []sports.Stream{{ID: 2, Name: "alt feed"}, {ID: 3, Name: "alt feed 2"}},
	})

	stats, err := p.Enforce(ctx)
	if err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if stats.CrossGroupMoves != 2 {
		t.Errorf("cross-group moves = %d, want 2", stats.CrossGroupMoves)
	}
	got, _ := p.Store.GetChannel(ctx, dup.ID)
	if got.Active() {
		t.Fatal("duplicate channel still active")
	}
	if got.DeleteReason != store.DeleteReasonCrossGroup {
		t.Errorf("delete reason = %q", got.DeleteReason)
	}
	streams, _ := p.Store.ChannelStreams(ctx, keep.ID)
	if len(streams) != 3 {
		t.Errorf("kept channel streams = %+v", streams)
	}
	kept, _ := p.Store.GetChannel(ctx, keep.ID)
	if !kept.Active() {
		t.Error("single-league channel retired")
	}
}

func TestEnforceCrossGroupCreateAllKeepsBoth(t *testing.T) {
	ctx := context.Background()
	p, _, _ := testProcessor(t, newFakeProvider(nil))
	single := saveGroup(t, p.Store, &store.EventEPGGroup{
		Name: "NHL", Enabled: true, Leagues: []string{"nhl"},
		SortOrder: 0, TotalStreamCount: 5,
	})
	multi := saveGroup(t, p.Store, &store.EventEPGGroup{
		Name: "All Sports", Enabled: true, Leagues: []string{"nba", "nhl"},
		OverlapHandling: store.OverlapCreateAll, SortOrder: 1, TotalStreamCount: 5,
	})
	ev := nhlGame()
	ensure(t, p, lifecycle.EnsureRequest{
		Group: single, Event: ev, League: nhlMapping,
		Streams: []sports.Stream{{ID: 1, Name: "main feed"}},
	})
	dup := ensure(t, p, lifecycle.EnsureRequest{
		Group: multi, Event: ev, League: nhlMapping,
		Streams: []sports.Stream{{ID: 2, Name: "alt feed"}},
	})

	stats, err := p.Enforce(ctx)
	if err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if stats.CrossGroupMoves != 0 {
		t.Errorf("create_all moved %d streams", stats.CrossGroupMoves)
	}
	got, _ := p.Store.GetChannel(ctx, dup.ID)
	if !got.Active() {
		t.Error("create_all channel was consolidated away")
	}
}

func TestEnforceKeywordRouting(t *testing.T) {
	ctx := context.Background()
	p, _, _ := testProcessor(t, newFakeProvider(nil))
	g := saveGroup(t, p.Store, &store.EventEPGGroup{
		Name: "NHL", Enabled: true, Leagues: []string{"nhl"},
		ExceptionKeywords: []string{"Spanish"}, TotalStreamCount: 5,
	})
	ev := nhlGame()
	// The Spanish feed landed on the main channel in an earlier run.
	main := ensure(t, p, lifecycle.EnsureRequest{
		Group: g, Event: ev, League: nhlMapping,
		Streams: []sports.Stream{{ID: 1, Name: "main feed"}, {ID: 2, Name: "NHL Spanish feed"}},
	})
	sibling := ensure(t, p, lifecycle.EnsureRequest{
		Group: g, Event: ev, League: nhlMapping, Keyword: "Spanish",
		Streams: []sports.Stream{{ID: 3, Name: "NHL en Espanol Spanish"}},
	})

	stats, err := p.Enforce(ctx)
	if err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if stats.KeywordMoves != 1 {
		t.Errorf("keyword moves = %d, want 1", stats.KeywordMoves)
	}
	mainStreams, _ := p.Store.ChannelStreams(ctx, main.ID)
	if len(mainStreams) != 1 || mainStreams[0].StreamID != 1 {
		t.Errorf("main streams = %+v", mainStreams)
	}
	sibStreams, _ := p.Store.ChannelStreams(ctx, sibling.ID)
	if len(sibStreams) != 2 || sibStreams[0].StreamID != 3 || sibStreams[1].StreamID != 2 {
		t.Errorf("sibling streams = %+v", sibStreams)
	}
}

func TestEnforceKeywordOrdering(t *testing.T) {
	ctx := context.Background()
	p, gw, _ := testProcessor(t, newFakeProvider(nil))
	g := saveGroup(t, p.Store, &store.EventEPGGroup{
		Name: "NHL", Enabled: true, Leagues: []string{"nhl"},
		ExceptionKeywords: []string{"Spanish"}, TotalStreamCount: 5,
	})
	ev := nhlGame()
	// Keyword channel created first grabbed the lower number.
	sibling := ensure(t, p, lifecycle.EnsureRequest{
		Group: g, Event: ev, League: nhlMapping, Keyword: "Spanish",
		Streams: []sports.Stream{{ID: 1, Name: "Spanish feed"}},
	})
	main := ensure(t, p, lifecycle.EnsureRequest{
		Group: g, Event: ev, League: nhlMapping,
		Streams: []sports.Stream{{ID: 2, Name: "main feed"}},
	})
	if sibling.ChannelNumber >= main.ChannelNumber {
		t.Fatalf("fixture: sibling %d, main %d", sibling.ChannelNumber, main.ChannelNumber)
	}

	stats, err := p.Enforce(ctx)
	if err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if stats.OrderingSwaps != 1 {
		t.Errorf("ordering swaps = %d, want 1", stats.OrderingSwaps)
	}
	gotMain, _ := p.Store.GetChannel(ctx, main.ID)
	gotSib, _ := p.Store.GetChannel(ctx, sibling.ID)
	if gotMain.ChannelNumber >= gotSib.ChannelNumber {
		t.Errorf("after swap: main %d, sibling %d", gotMain.ChannelNumber, gotSib.ChannelNumber)
	}
	// The aggregator sees the swapped numbers too.
	gwMain, _ := gw.GetChannel(ctx, *gotMain.GatewayChannelID)
	if gwMain.Number != gotMain.ChannelNumber {
		t.Errorf("gateway number = %d, store number = %d", gwMain.Number, gotMain.ChannelNumber)
	}
}

func TestEnforceOrphanCleanup(t *testing.T) {
	ctx := context.Background()
	p, gw, _ := testProcessor(t, newFakeProvider(nil))
	g := saveGroup(t, p.Store, &store.EventEPGGroup{
		Name: "NHL", Enabled: true, Leagues: []string{"nhl"}, TotalStreamCount: 5,
	})
	managed := ensure(t, p, lifecycle.EnsureRequest{
		Group: g, Event: nhlGame(), League: nhlMapping,
		Streams: []sports.Stream{{ID: 1, Name: "main feed"}},
	})
	// A leftover from a wiped database, and a channel we never owned.
	orphan, _ := gw.CreateChannel(ctx, lifecycle.CreateChannelRequest{
		Name: "stale", Number: 1500, TVGID: "teamarr-event-espn-GONE",
	})
	foreign, _ := gw.CreateChannel(ctx, lifecycle.CreateChannelRequest{
		Name: "HBO", Number: 200, TVGID: "hbo.us",
	})

	stats, err := p.Enforce(ctx)
	if err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if stats.OrphansDeleted != 1 {
		t.Errorf("orphans deleted = %d, want 1", stats.OrphansDeleted)
	}
	if _, err := gw.GetChannel(ctx, orphan.ID); err == nil {
		t.Error("orphan survived")
	}
	if _, err := gw.GetChannel(ctx, foreign.ID); err != nil {
		t.Error("foreign channel deleted")
	}
	if _, err := gw.GetChannel(ctx, *managed.GatewayChannelID); err != nil {
		t.Error("managed channel deleted")
	}
}

func TestEnforceDisabledGroupCleanup(t *testing.T) {
	ctx := context.Background()
	p, _, _ := testProcessor(t, newFakeProvider(nil))
	g := saveGroup(t, p.Store, &store.EventEPGGroup{
		Name: "NHL", Enabled: true, Leagues: []string{"nhl"}, TotalStreamCount: 5,
	})
	ch := ensure(t, p, lifecycle.EnsureRequest{
		Group: g, Event: nhlGame(), League: nhlMapping,
		Streams: []sports.Stream{{ID: 1, Name: "main feed"}},
	})
	if err := p.Store.SaveGroupXMLTV(ctx, g.ID, []byte("<tv/>")); err != nil {
		t.Fatalf("SaveGroupXMLTV: %v", err)
	}
	g.Enabled = false
	saveGroup(t, p.Store, g)

	stats, err := p.Enforce(ctx)
	if err != nil {
		t.Fatalf("Enforce: %v", err)
	}
	if stats.DisabledRetired != 1 {
		t.Errorf("disabled retired = %d, want 1", stats.DisabledRetired)
	}
	got, _ := p.Store.GetChannel(ctx, ch.ID)
	if got.Active() || got.DeleteReason != store.DeleteReasonGroupDisabled {
		t.Errorf("channel = active %v reason %q", got.Active(), got.DeleteReason)
	}
	raw, _, err := p.Store.GroupXMLTV(ctx, g.ID)
	if err != nil || raw != nil {
		t.Errorf("xmltv survived: %v, %v", raw, err)
	}
}
