package process

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/teamarr/teamarr/internal/lifecycle"
	"github.com/teamarr/teamarr/internal/match"
	"github.com/teamarr/teamarr/internal/store"
)

// EnforcementStats summarizes the post-run sweeps.
type EnforcementStats struct {
	KeywordMoves    int
	CrossGroupMoves int
	OrderingSwaps   int
	OrphansDeleted  int
	DisabledRetired int
}

// Enforce runs the cross-cutting consistency sweeps after every group in a
// run has been processed: keyword stream routing, cross-group consolidation,
// keyword number ordering, aggregator orphan cleanup, and disabled-group
// cleanup. Per-channel failures log and continue; only listing failures
// abort a sweep.
func (p *Processor) Enforce(ctx context.Context) (*EnforcementStats, error) {
	stats := &EnforcementStats{}

	groups, err := p.Store.ListGroups(ctx)
	if err != nil {
		return stats, fmt.Errorf("list groups: %w", err)
	}
	byID := make(map[int64]*store.EventEPGGroup, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}

	channels, err := p.Store.ListAllActiveChannels(ctx)
	if err != nil {
		return stats, fmt.Errorf("list channels: %w", err)
	}

	p.enforceKeywords(ctx, byID, channels, stats)
	p.enforceCrossGroup(ctx, byID, channels, stats)

	// Consolidation retires channels, so the ordering and orphan sweeps need
	// a fresh view.
	channels, err = p.Store.ListAllActiveChannels(ctx)
	if err != nil {
		return stats, fmt.Errorf("relist channels: %w", err)
	}

	p.enforceKeywordOrdering(ctx, channels, stats)
	p.cleanupOrphans(ctx, channels, stats)
	p.cleanupDisabledGroups(ctx, stats)

	p.Log.WithFields(logrus.Fields{
		"keyword_moves":    stats.KeywordMoves,
		"crossgroup_moves": stats.CrossGroupMoves,
		"ordering_swaps":   stats.OrderingSwaps,
		"orphans":          stats.OrphansDeleted,
		"disabled_retired": stats.DisabledRetired,
	}).Info("enforcement sweeps complete")
	return stats, nil
}

// enforceKeywords re-homes streams that sit on a main channel but match one
// of the group's exception keywords. The move only happens when the keyword
// sibling already exists; otherwise the next pass creates it and routes the
// stream there itself.
func (p *Processor) enforceKeywords(ctx context.Context, groups map[int64]*store.EventEPGGroup, channels []*store.ManagedChannel, stats *EnforcementStats) {
	for _, ch := range channels {
		if ch.ExceptionKeyword != "" {
			continue
		}
		g := groups[ch.GroupID]
		if g == nil || len(g.ExceptionKeywords) == 0 {
			continue
		}
		streams, err := p.Store.ChannelStreams(ctx, ch.ID)
		if err != nil {
			p.Log.WithError(err).WithField("channel", ch.ChannelName).Warn("keyword sweep: stream listing failed")
			continue
		}
		for _, st := range streams {
			kw, ok := match.ExceptionKeyword(st.StreamName, g.ExceptionKeywords)
			if !ok {
				continue
			}
			target, err := p.Store.ActiveChannel(ctx, g.ID, ch.EventID, ch.EventProvider, kw, ch.CardSegment)
			if err != nil {
				p.Log.WithError(err).WithField("channel", ch.ChannelName).Warn("keyword sweep: sibling lookup failed")
				continue
			}
			if target == nil {
				continue
			}
			if err := p.Lifecycle.MoveStream(ctx, ch, target, st.StreamID, st.StreamName); err != nil {
				p.Log.WithError(err).WithFields(logrus.Fields{
					"stream":  st.StreamName,
					"channel": ch.ChannelName,
				}).Warn("keyword sweep: move failed")
				continue
			}
			stats.KeywordMoves++
			p.Log.WithFields(logrus.Fields{
				"stream":  st.StreamName,
				"from":    ch.ChannelName,
				"to":      target.ChannelName,
				"keyword": kw,
			}).Info("stream moved to keyword channel")
		}
	}
}

type channelTuple struct {
	eventID  string
	provider string
	keyword  string
	segment  string
}

// enforceCrossGroup resolves duplicate channels for the same event tuple
// between a multi-league group and a single-league group. The single-league
// channel is canonical; what happens to the multi-league one follows its
// group's overlap policy.
func (p *Processor) enforceCrossGroup(ctx context.Context, groups map[int64]*store.EventEPGGroup, channels []*store.ManagedChannel, stats *EnforcementStats) {
	canonical := make(map[channelTuple]*store.ManagedChannel)
	for _, ch := range channels {
		g := groups[ch.GroupID]
		if g == nil || g.MultiLeague() || g.IsChild() {
			continue
		}
		t := channelTuple{ch.EventID, ch.EventProvider, ch.ExceptionKeyword, ch.CardSegment}
		if _, exists := canonical[t]; !exists {
			canonical[t] = ch
		}
	}
	for _, ch := range channels {
		g := groups[ch.GroupID]
		if g == nil || !g.MultiLeague() || g.IsChild() {
			continue
		}
		if g.OverlapHandling == store.OverlapCreateAll {
			continue
		}
		target := canonical[channelTuple{ch.EventID, ch.EventProvider, ch.ExceptionKeyword, ch.CardSegment}]
		if target == nil {
			continue
		}
		if g.OverlapHandling != store.OverlapSkip {
			moved, err := p.Lifecycle.MoveStreams(ctx, ch, target)
			if err != nil {
				p.Log.WithError(err).WithFields(logrus.Fields{
					"from": ch.ChannelName,
					"to":   target.ChannelName,
				}).Warn("cross-group sweep: stream move failed")
				continue
			}
			stats.CrossGroupMoves += moved
		}
		if err := p.Lifecycle.Retire(ctx, ch, store.DeleteReasonCrossGroup); err != nil {
			p.Log.WithError(err).WithField("channel", ch.ChannelName).Warn("cross-group sweep: retire failed")
			continue
		}
		p.Log.WithFields(logrus.Fields{
			"channel": ch.ChannelName,
			"kept":    target.ChannelName,
		}).Info("duplicate channel consolidated into single-league group")
	}
}

// enforceKeywordOrdering keeps a main channel numbered below its keyword
// siblings. Out-of-order pairs swap numbers rather than renumbering the
// whole group.
func (p *Processor) enforceKeywordOrdering(ctx context.Context, channels []*store.ManagedChannel, stats *EnforcementStats) {
	type mainKey struct {
		groupID  int64
		eventID  string
		provider string
		segment  string
	}
	mains := make(map[mainKey]*store.ManagedChannel)
	for _, ch := range channels {
		if ch.ExceptionKeyword == "" {
			mains[mainKey{ch.GroupID, ch.EventID, ch.EventProvider, ch.CardSegment}] = ch
		}
	}
	for _, ch := range channels {
		if ch.ExceptionKeyword == "" {
			continue
		}
		main := mains[mainKey{ch.GroupID, ch.EventID, ch.EventProvider, ch.CardSegment}]
		if main == nil || main.ChannelNumber <= ch.ChannelNumber {
			continue
		}
		mn, kn := main.ChannelNumber, ch.ChannelNumber
		if err := p.Lifecycle.SetNumber(ctx, main, kn); err != nil {
			p.Log.WithError(err).WithField("channel", main.ChannelName).Warn("ordering sweep: renumber failed")
			continue
		}
		if err := p.Lifecycle.SetNumber(ctx, ch, mn); err != nil {
			p.Log.WithError(err).WithField("channel", ch.ChannelName).Warn("ordering sweep: renumber failed")
			continue
		}
		stats.OrderingSwaps++
		p.Log.WithFields(logrus.Fields{
			"main":    main.ChannelName,
			"keyword": ch.ChannelName,
		}).Info("main and keyword channel numbers swapped")
	}
}

// cleanupOrphans deletes aggregator channels in our tvg-id namespace that no
// active managed row claims. Sibling channels share a tvg-id, so membership
// is tested against the full active set.
func (p *Processor) cleanupOrphans(ctx context.Context, channels []*store.ManagedChannel, stats *EnforcementStats) {
	gwChans, err := p.Lifecycle.GatewayChannels(ctx)
	if err != nil {
		p.Log.WithError(err).Warn("orphan sweep: gateway listing failed")
		return
	}
	active := make(map[string]bool, len(channels))
	for _, ch := range channels {
		active[ch.TVGID] = true
	}
	for _, gw := range gwChans {
		if !lifecycle.ManagedTVGID(gw.TVGID) || active[gw.TVGID] {
			continue
		}
		if err := p.Lifecycle.DeleteGatewayChannel(ctx, gw.ID); err != nil {
			p.Log.WithError(err).WithField("channel", gw.Name).Warn("orphan sweep: delete failed")
			continue
		}
		stats.OrphansDeleted++
		p.Log.WithFields(logrus.Fields{
			"channel": gw.Name,
			"tvg_id":  gw.TVGID,
		}).Info("orphaned aggregator channel deleted")
	}
}

// cleanupDisabledGroups retires channels whose group has since been disabled
// and drops those groups' persisted guide documents.
func (p *Processor) cleanupDisabledGroups(ctx context.Context, stats *EnforcementStats) {
	chans, err := p.Store.ActiveChannelsForDisabledGroups(ctx)
	if err != nil {
		p.Log.WithError(err).Warn("disabled-group sweep: listing failed")
		return
	}
	groupIDs := make(map[int64]bool)
	for _, ch := range chans {
		if err := p.Lifecycle.Retire(ctx, ch, store.DeleteReasonGroupDisabled); err != nil {
			p.Log.WithError(err).WithField("channel", ch.ChannelName).Warn("disabled-group sweep: retire failed")
			continue
		}
		stats.DisabledRetired++
		groupIDs[ch.GroupID] = true
	}
	for id := range groupIDs {
		if err := p.Store.DeleteGroupXMLTV(ctx, id); err != nil {
			p.Log.WithError(err).WithField("group_id", id).Warn("disabled-group sweep: xmltv delete failed")
		}
	}
}
