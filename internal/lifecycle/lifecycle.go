// Package lifecycle maintains the managed-channel rows and mirrors them into
// the external channel aggregator. It owns the create/delete timing gates,
// duplicate and exception-keyword handling, channel numbering, scheduled
// deletions, and EPG association. All aggregator calls go through one mutex
// so the gateway never sees concurrent mutation of a channel.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/teamarr/teamarr/internal/logging"
	"github.com/teamarr/teamarr/internal/metrics"
	"github.com/teamarr/teamarr/internal/sports"
	"github.com/teamarr/teamarr/internal/store"
	"github.com/teamarr/teamarr/internal/templates"
)

// ErrNotFound is returned (wrapped) by Gateway implementations when the
// aggregator no longer has the channel. Retire paths treat it as success.
var ErrNotFound = errors.New("channel not found")

// Gateway is the aggregator surface the lifecycle layer depends on. The
// concrete implementation lives in the dispatcharr package.
type Gateway interface {
	CreateChannel(ctx context.Context, req CreateChannelRequest) (*GatewayChannel, error)
	UpdateChannel(ctx context.Context, id int64, patch ChannelPatch) error
	DeleteChannel(ctx context.Context, id int64) error
	GetChannel(ctx context.Context, id int64) (*GatewayChannel, error)
	ListChannels(ctx context.Context) ([]GatewayChannel, error)
	UpdateChannelStreams(ctx context.Context, id int64, streamIDs []int64) error
	AddToProfile(ctx context.Context, profileID, channelID int64) error
	SetChannelEPG(ctx context.Context, channelID, epgDataID int64) error
	EPGLookup(ctx context.Context, sourceID int64) (map[string]EPGData, error)
}

// CreateChannelRequest is the payload for Gateway.CreateChannel.
type CreateChannelRequest struct {
	Name            string
	Number          int
	TVGID           string
	LogoURL         string
	StreamIDs       []int64
	StreamProfileID *int64
}

// ChannelPatch is a partial update; nil fields are left untouched.
type ChannelPatch struct {
	Name    *string
	Number  *int
	LogoURL *string
}

// GatewayChannel is the aggregator's view of a channel.
type GatewayChannel struct {
	ID        int64
	UUID      string
	Name      string
	Number    int
	TVGID     string
	StreamIDs []int64
}

// EPGData is one row of the aggregator's EPG index.
type EPGData struct {
	ID    int64
	TVGID string
}

// Service coordinates managed-channel state between the store and the
// gateway. Zero-value fields fall back to sane defaults in New.
type Service struct {
	Store         *store.Store
	Gateway       Gateway
	Metrics       *metrics.Metrics
	Log           logrus.FieldLogger
	UserTZ        *time.Location
	Now           func() time.Time
	RangeStart    int
	RangeEnd      int
	NumberingMode string

	mu sync.Mutex // serializes every gateway call
}

// New builds a Service with defaults filled in.
func New(st *store.Store, gw Gateway, m *metrics.Metrics, log logrus.FieldLogger) *Service {
	if m == nil {
		m = metrics.Nop()
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Service{
		Store:         st,
		Gateway:       gw,
		Metrics:       m,
		Log:           logging.Component(log, "lifecycle"),
		UserTZ:        time.UTC,
		Now:           time.Now,
		RangeStart:    1000,
		RangeEnd:      9999,
		NumberingMode: NumberStrictBlock,
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) tz() *time.Location {
	if s.UserTZ != nil {
		return s.UserTZ
	}
	return time.UTC
}

// Outcome classifies what Ensure did for one channel tuple.
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeAttached
	OutcomeUnchanged
	OutcomeAttachedOverlap
	OutcomeSkippedWindow
	OutcomeSkippedManual
	OutcomeSkippedOverlap
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeAttached:
		return "attached"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeAttachedOverlap:
		return "attached_overlap"
	case OutcomeSkippedWindow:
		return "SKIPPED:before_window"
	case OutcomeSkippedManual:
		return "SKIPPED:manual"
	case OutcomeSkippedOverlap:
		return "SKIPPED:overlap"
	}
	return "unknown"
}

// EnsureRequest asks for one channel tuple (group, event, keyword, segment)
// to exist with the given streams attached. Streams are in priority order.
// OverlapTarget is the single-league group's channel for the same event, when
// one exists; multi-league overlap policies consult it.
type EnsureRequest struct {
	Group         *store.EventEPGGroup
	Template      *store.Template
	Event         *sports.Event
	League        sports.LeagueMapping
	Keyword       string
	Segment       sports.Segment
	Streams       []sports.Stream
	Stats         map[string]*sports.TeamStats
	OverlapTarget *store.ManagedChannel
}

// EnsureResult is one channel-level outcome from Ensure. Channel is nil for
// the skip outcomes.
type EnsureResult struct {
	Channel *store.ManagedChannel
	Outcome Outcome
}

// Ensure reconciles one channel tuple: applies the create-timing gate and the
// group's duplicate/overlap policy, creates or updates the managed channel,
// and keeps the aggregator in sync. In separate duplicate mode one channel is
// ensured per stream.
func (s *Service) Ensure(ctx context.Context, req EnsureRequest) ([]EnsureResult, error) {
	if len(req.Streams) == 0 {
		return nil, nil
	}
	if allowed, outcome := s.createAllowed(req.Group, req.Event); !allowed {
		return []EnsureResult{{Outcome: outcome}}, nil
	}

	// Multi-league overlap policy against an existing single-league channel.
	if req.Group.MultiLeague() && req.OverlapTarget != nil {
		switch req.Group.OverlapHandling {
		case store.OverlapAddOnly:
			if err := s.attachStreams(ctx, req.OverlapTarget, req.Streams); err != nil {
				return nil, err
			}
			return []EnsureResult{{Channel: req.OverlapTarget, Outcome: OutcomeAttachedOverlap}}, nil
		case store.OverlapSkip:
			return []EnsureResult{{Outcome: OutcomeSkippedOverlap}}, nil
		}
		// add_stream and create_all both create normally here; add_stream is
		// consolidated by the cross-group enforcement pass after processing.
	} else if req.Group.MultiLeague() && req.Group.OverlapHandling == store.OverlapAddOnly {
		// add_only never creates channels of its own.
		return []EnsureResult{{Outcome: OutcomeSkippedOverlap}}, nil
	}

	if req.Group.DuplicateMode == store.DuplicateSeparate {
		var results []EnsureResult
		for _, st := range req.Streams {
			st := st
			r, err := s.ensureOne(ctx, req, []sports.Stream{st}, &st.ID)
			if err != nil {
				return results, err
			}
			results = append(results, r)
		}
		return results, nil
	}

	r, err := s.ensureOne(ctx, req, req.Streams, nil)
	if err != nil {
		return nil, err
	}
	return []EnsureResult{r}, nil
}

// ensureOne reconciles a single managed channel row for the tuple, keyed by
// primaryStream in separate mode.
func (s *Service) ensureOne(ctx context.Context, req EnsureRequest, streams []sports.Stream, primaryStream *int64) (EnsureResult, error) {
	var (
		existing *store.ManagedChannel
		err      error
	)
	if primaryStream != nil {
		existing, err = s.Store.ActiveChannelForStream(ctx, req.Group.ID,
			req.Event.ID, req.Event.Provider, req.Keyword, string(req.Segment), *primaryStream)
	} else {
		existing, err = s.Store.ActiveChannel(ctx, req.Group.ID,
			req.Event.ID, req.Event.Provider, req.Keyword, string(req.Segment))
	}
	if err != nil {
		return EnsureResult{}, fmt.Errorf("lookup channel: %w", err)
	}

	if existing != nil {
		if req.Group.DuplicateMode == store.DuplicateIgnore {
			return EnsureResult{Channel: existing, Outcome: OutcomeUnchanged}, nil
		}
		changed, err := s.updateExisting(ctx, existing, req, streams)
		if err != nil {
			return EnsureResult{Channel: existing}, err
		}
		if changed {
			return EnsureResult{Channel: existing, Outcome: OutcomeAttached}, nil
		}
		return EnsureResult{Channel: existing, Outcome: OutcomeUnchanged}, nil
	}

	ch, err := s.createChannel(ctx, req, streams, primaryStream)
	if err != nil {
		return EnsureResult{}, err
	}
	return EnsureResult{Channel: ch, Outcome: OutcomeCreated}, nil
}

// templateContext builds the resolution context for a request.
func (s *Service) templateContext(req EnsureRequest) *templates.Context {
	return &templates.Context{
		Event:    req.Event,
		League:   req.League,
		Stats:    req.Stats,
		Keyword:  req.Keyword,
		Segment:  req.Segment,
		Location: s.tz(),
		Now:      s.now(),
	}
}

func (s *Service) createChannel(ctx context.Context, req EnsureRequest, streams []sports.Stream, primaryStream *int64) (*store.ManagedChannel, error) {
	number, err := s.AllocateNumber(ctx, req.Group)
	if err != nil {
		return nil, err
	}
	var nameTmpl string
	if req.Template != nil {
		nameTmpl = req.Template.ChannelName
	}
	name, logo := templates.ChannelName(nameTmpl, s.templateContext(req))

	ch := &store.ManagedChannel{
		GroupID:           req.Group.ID,
		EventID:           req.Event.ID,
		EventProvider:     req.Event.Provider,
		TVGID:             sports.EventTVGID(req.Event.Provider, req.Event.ID),
		ChannelName:       name,
		ChannelNumber:     number,
		ExceptionKeyword:  req.Keyword,
		CardSegment:       string(req.Segment),
		League:            req.League.Code,
		EventStart:        req.Event.StartTime,
		LogoURL:           logo,
		PrimaryStreamID:   primaryStream,
		ScheduledDeleteAt: s.deleteDeadline(req.Group, req.Event),
	}
	if err := s.Store.CreateChannel(ctx, ch); err != nil {
		return nil, err
	}

	ids := make([]int64, len(streams))
	for i, st := range streams {
		ids[i] = st.ID
	}
	gw, err := s.gatewayCreate(ctx, CreateChannelRequest{
		Name:            name,
		Number:          number,
		TVGID:           ch.TVGID,
		LogoURL:         logo,
		StreamIDs:       ids,
		StreamProfileID: req.Group.StreamProfileID,
	})
	if err != nil {
		s.Store.UpdateChannelSyncStatus(ctx, ch.ID, store.SyncError)
		s.Store.AddChannelHistory(ctx, ch.ID, "create_failed", err.Error())
		return nil, fmt.Errorf("gateway create %s: %w", ch.TVGID, err)
	}
	if err := s.Store.UpdateChannelGateway(ctx, ch.ID, gw.ID, gw.UUID); err != nil {
		return nil, err
	}
	ch.GatewayChannelID = &gw.ID
	ch.GatewayChannelUUID = gw.UUID
	ch.SyncStatus = store.SyncSynced

	for i, st := range streams {
		if err := s.Store.AttachStream(ctx, ch.ID, st.ID, i, st.Name); err != nil {
			return nil, err
		}
	}
	if req.Group.ChannelProfileID != nil {
		if err := s.gatewayAddToProfile(ctx, *req.Group.ChannelProfileID, gw.ID); err != nil {
			s.Log.WithError(err).WithField("channel", ch.TVGID).Warn("add to profile failed")
		}
	}
	s.Store.AddChannelHistory(ctx, ch.ID, "created",
		fmt.Sprintf("number=%d streams=%d", number, len(streams)))
	s.Metrics.ChannelsCreated.Inc()
	s.Log.WithFields(logrus.Fields{
		"group":   req.Group.Name,
		"channel": name,
		"number":  number,
		"tvg_id":  ch.TVGID,
	}).Info("channel created")
	return ch, nil
}

// updateExisting attaches any new streams and re-resolves the display name.
// Reports whether anything changed.
func (s *Service) updateExisting(ctx context.Context, ch *store.ManagedChannel, req EnsureRequest, streams []sports.Stream) (bool, error) {
	attached, err := s.attachNew(ctx, ch, streams)
	if err != nil {
		return false, err
	}

	var nameTmpl string
	if req.Template != nil {
		nameTmpl = req.Template.ChannelName
	}
	name, logo := templates.ChannelName(nameTmpl, s.templateContext(req))
	renamed := false
	if name != ch.ChannelName || (logo != "" && logo != ch.LogoURL) {
		if err := s.Store.UpdateChannelName(ctx, ch.ID, name, logo); err != nil {
			return attached, err
		}
		if ch.GatewayChannelID != nil {
			patch := ChannelPatch{Name: &name}
			if logo != "" {
				patch.LogoURL = &logo
			}
			if err := s.gatewayUpdate(ctx, *ch.GatewayChannelID, patch); err != nil {
				s.Log.WithError(err).WithField("channel", ch.TVGID).Warn("gateway rename failed")
			}
		}
		ch.ChannelName = name
		if logo != "" {
			ch.LogoURL = logo
		}
		renamed = true
	}
	return attached || renamed, nil
}

// attachStreams adds streams to a channel owned by another group (overlap
// add_only) or the same group, syncing the gateway's stream list.
func (s *Service) attachStreams(ctx context.Context, ch *store.ManagedChannel, streams []sports.Stream) error {
	_, err := s.attachNew(ctx, ch, streams)
	return err
}

// AttachToChannel adds streams to an existing channel without creating one.
// Child groups contribute streams to their parent's channels through this.
// Reports whether anything new was attached.
func (s *Service) AttachToChannel(ctx context.Context, ch *store.ManagedChannel, streams []sports.Stream) (bool, error) {
	return s.attachNew(ctx, ch, streams)
}

func (s *Service) attachNew(ctx context.Context, ch *store.ManagedChannel, streams []sports.Stream) (bool, error) {
	current, err := s.Store.ChannelStreams(ctx, ch.ID)
	if err != nil {
		return false, err
	}
	have := make(map[int64]bool, len(current))
	for _, cs := range current {
		have[cs.StreamID] = true
	}
	added := false
	for _, st := range streams {
		if have[st.ID] {
			continue
		}
		prio, err := s.Store.NextStreamPriority(ctx, ch.ID)
		if err != nil {
			return added, err
		}
		if err := s.Store.AttachStream(ctx, ch.ID, st.ID, prio, st.Name); err != nil {
			return added, err
		}
		s.Store.AddChannelHistory(ctx, ch.ID, "stream_attached",
			fmt.Sprintf("stream=%d %q", st.ID, st.Name))
		have[st.ID] = true
		added = true
	}
	if added && ch.GatewayChannelID != nil {
		if err := s.syncGatewayStreams(ctx, ch); err != nil {
			s.Log.WithError(err).WithField("channel", ch.TVGID).Warn("gateway stream sync failed")
		}
	}
	return added, nil
}

// syncGatewayStreams pushes the channel's full ordered stream list.
func (s *Service) syncGatewayStreams(ctx context.Context, ch *store.ManagedChannel) error {
	if ch.GatewayChannelID == nil {
		return nil
	}
	current, err := s.Store.ChannelStreams(ctx, ch.ID)
	if err != nil {
		return err
	}
	ids := make([]int64, len(current))
	for i, cs := range current {
		ids[i] = cs.StreamID
	}
	return s.gatewayUpdateStreams(ctx, *ch.GatewayChannelID, ids)
}

// MoveStreams transfers every stream from one channel to another, appending
// after the destination's existing priorities. Used by cross-group
// consolidation and keyword enforcement.
func (s *Service) MoveStreams(ctx context.Context, from, to *store.ManagedChannel) (int, error) {
	streams, err := s.Store.ChannelStreams(ctx, from.ID)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, cs := range streams {
		prio, err := s.Store.NextStreamPriority(ctx, to.ID)
		if err != nil {
			return moved, err
		}
		if err := s.Store.AttachStream(ctx, to.ID, cs.StreamID, prio, cs.StreamName); err != nil {
			return moved, err
		}
		if err := s.Store.DetachStream(ctx, from.ID, cs.StreamID); err != nil {
			return moved, err
		}
		moved++
	}
	if moved > 0 {
		if err := s.syncGatewayStreams(ctx, to); err != nil {
			s.Log.WithError(err).WithField("channel", to.TVGID).Warn("gateway stream sync failed")
		}
		detail := fmt.Sprintf("%d streams -> channel %d (#%d)", moved, to.ID, to.ChannelNumber)
		s.Store.AddChannelHistory(ctx, from.ID, "streams_moved_out", detail)
		s.Store.AddChannelHistory(ctx, to.ID, "streams_moved_in",
			fmt.Sprintf("%d streams <- channel %d (#%d)", moved, from.ID, from.ChannelNumber))
	}
	return moved, nil
}

// MoveStream transfers one stream between channels, appending after the
// destination's existing priorities. Keyword enforcement routes individual
// mis-homed streams through this.
func (s *Service) MoveStream(ctx context.Context, from, to *store.ManagedChannel, streamID int64, name string) error {
	prio, err := s.Store.NextStreamPriority(ctx, to.ID)
	if err != nil {
		return err
	}
	if err := s.Store.AttachStream(ctx, to.ID, streamID, prio, name); err != nil {
		return err
	}
	if err := s.Store.DetachStream(ctx, from.ID, streamID); err != nil {
		return err
	}
	for _, ch := range []*store.ManagedChannel{from, to} {
		if err := s.syncGatewayStreams(ctx, ch); err != nil {
			s.Log.WithError(err).WithField("channel", ch.TVGID).Warn("gateway stream sync failed")
		}
	}
	s.Store.AddChannelHistory(ctx, from.ID, "stream_moved_out",
		fmt.Sprintf("stream=%d -> channel %d (#%d)", streamID, to.ID, to.ChannelNumber))
	s.Store.AddChannelHistory(ctx, to.ID, "stream_moved_in",
		fmt.Sprintf("stream=%d <- channel %d (#%d)", streamID, from.ID, from.ChannelNumber))
	return nil
}

// Retire soft-deletes a channel and removes it from the aggregator. A
// gateway-side not-found is treated as already gone.
func (s *Service) Retire(ctx context.Context, ch *store.ManagedChannel, reason string) error {
	if ch.GatewayChannelID != nil {
		if err := s.gatewayDelete(ctx, *ch.GatewayChannelID); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("gateway delete %s: %w", ch.TVGID, err)
		}
	}
	if err := s.Store.SoftDeleteChannel(ctx, ch.ID, reason); err != nil {
		return err
	}
	s.Store.AddChannelHistory(ctx, ch.ID, "deleted", reason)
	s.Metrics.ChannelsDeleted.WithLabelValues(reason).Inc()
	s.Log.WithFields(logrus.Fields{
		"channel": ch.ChannelName,
		"number":  ch.ChannelNumber,
		"reason":  reason,
	}).Info("channel retired")
	return nil
}

// ProcessScheduledDeletions retires every channel whose retention deadline
// has passed. Returns the number retired.
func (s *Service) ProcessScheduledDeletions(ctx context.Context) (int, error) {
	due, err := s.Store.DueScheduledDeletions(ctx, s.now())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ch := range due {
		if err := s.Retire(ctx, ch, store.DeleteReasonScheduled); err != nil {
			s.Log.WithError(err).WithField("channel", ch.TVGID).Error("scheduled deletion failed")
			continue
		}
		n++
	}
	return n, nil
}

// RetireGroupChannels retires every active channel of one group. Used when a
// group is disabled and by the full channel reset.
func (s *Service) RetireGroupChannels(ctx context.Context, groupID int64, reason string) (int, error) {
	chans, err := s.Store.ListActiveChannels(ctx, groupID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ch := range chans {
		if err := s.Retire(ctx, ch, reason); err != nil {
			s.Log.WithError(err).WithField("channel", ch.TVGID).Error("retire failed")
			continue
		}
		n++
	}
	return n, nil
}

// AssociateEPG links managed channels to the aggregator's EPG records for our
// source. Channels whose tvg-id is not yet indexed stay pending.
func (s *Service) AssociateEPG(ctx context.Context, sourceID int64) (int, error) {
	lookup, err := s.gatewayEPGLookup(ctx, sourceID)
	if err != nil {
		return 0, fmt.Errorf("epg lookup: %w", err)
	}
	chans, err := s.Store.ListAllActiveChannels(ctx)
	if err != nil {
		return 0, err
	}
	linked := 0
	for _, ch := range chans {
		if ch.GatewayChannelID == nil {
			continue
		}
		data, ok := lookup[ch.TVGID]
		if !ok {
			continue
		}
		if ch.EPGDataID != nil && *ch.EPGDataID == data.ID {
			continue
		}
		if err := s.gatewaySetEPG(ctx, *ch.GatewayChannelID, data.ID); err != nil {
			s.Log.WithError(err).WithField("channel", ch.TVGID).Warn("epg association failed")
			continue
		}
		if err := s.Store.UpdateChannelEPG(ctx, ch.ID, data.ID); err != nil {
			return linked, err
		}
		linked++
	}
	return linked, nil
}

// UpdateChannelGauge refreshes the per-group active channel gauge.
func (s *Service) UpdateChannelGauge(ctx context.Context) {
	groups, err := s.Store.ListGroups(ctx)
	if err != nil {
		return
	}
	for _, g := range groups {
		n, err := s.Store.CountActiveChannels(ctx, g.ID)
		if err != nil {
			continue
		}
		s.Metrics.ManagedChannels.WithLabelValues(g.Name).Set(float64(n))
	}
}

// Locked gateway wrappers. Every aggregator call funnels through these.

func (s *Service) gatewayCreate(ctx context.Context, req CreateChannelRequest) (*GatewayChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Gateway.CreateChannel(ctx, req)
}

func (s *Service) gatewayUpdate(ctx context.Context, id int64, patch ChannelPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Gateway.UpdateChannel(ctx, id, patch)
}

func (s *Service) gatewayDelete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Gateway.DeleteChannel(ctx, id)
}

func (s *Service) gatewayUpdateStreams(ctx context.Context, id int64, streamIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Gateway.UpdateChannelStreams(ctx, id, streamIDs)
}

func (s *Service) gatewayAddToProfile(ctx context.Context, profileID, channelID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Gateway.AddToProfile(ctx, profileID, channelID)
}

func (s *Service) gatewaySetEPG(ctx context.Context, channelID, epgDataID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Gateway.SetChannelEPG(ctx, channelID, epgDataID)
}

func (s *Service) gatewayEPGLookup(ctx context.Context, sourceID int64) (map[string]EPGData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Gateway.EPGLookup(ctx, sourceID)
}

// GatewayChannels lists the aggregator's channels under the gateway mutex.
// The orphan sweep is the only caller.
func (s *Service) GatewayChannels(ctx context.Context) ([]GatewayChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Gateway.ListChannels(ctx)
}

// DeleteGatewayChannel removes an aggregator channel that has no managed row.
func (s *Service) DeleteGatewayChannel(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.Gateway.DeleteChannel(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// SetNumber moves a channel to a new number in the store and the aggregator.
func (s *Service) SetNumber(ctx context.Context, ch *store.ManagedChannel, number int) error {
	old := ch.ChannelNumber
	if err := s.Store.UpdateChannelNumber(ctx, ch.ID, number); err != nil {
		return err
	}
	if ch.GatewayChannelID != nil {
		if err := s.gatewayUpdate(ctx, *ch.GatewayChannelID, ChannelPatch{Number: &number}); err != nil {
			s.Log.WithError(err).WithField("channel", ch.TVGID).Warn("gateway renumber failed")
		}
	}
	ch.ChannelNumber = number
	s.Store.AddChannelHistory(ctx, ch.ID, "renumbered", fmt.Sprintf("%d -> %d", old, number))
	return nil
}

// ManagedTVGID reports whether a tvg-id belongs to this system's namespace.
func ManagedTVGID(tvgID string) bool {
	return strings.HasPrefix(tvgID, sports.TVGIDPrefix)
}
