package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Sync status of a managed channel against the aggregator.
const (
	SyncPending = "pending"
	SyncSynced  = "synced"
	SyncError   = "error"
)

// Delete reasons recorded on soft delete.
const (
	DeleteReasonScheduled     = "scheduled"
	DeleteReasonStreamRemoved = "stream_removed"
	DeleteReasonCrossGroup    = "cross_group_consolidation"
	DeleteReasonGroupDisabled = "group_disabled"
	DeleteReasonReset         = "channel_reset"
	DeleteReasonOrphan        = "orphan_cleanup"
)

// ManagedChannel is the durable record for a channel this system owns in the
// external aggregator. At most one active row exists per
// (group, event, provider, keyword, segment); soft-deleted rows coexist so
// history survives and the tuple can be re-created after retention.
type ManagedChannel struct {
	ID                 int64
	GroupID            int64
	EventID            string
	EventProvider      string
	TVGID              string
	ChannelName        string
	ChannelNumber      int
	GatewayChannelID   *int64
	GatewayChannelUUID string
	ExceptionKeyword   string // "" = main channel
	CardSegment        string
	League             string
	EventStart         time.Time
	LogoURL            string
	PrimaryStreamID    *int64 // set only in separate duplicate mode
	ScheduledDeleteAt  *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeletedAt          *time.Time
	DeleteReason       string
	SyncStatus         string
	EPGDataID          *int64
}

// Active reports whether the channel row is still live.
func (c *ManagedChannel) Active() bool { return c.DeletedAt == nil }

// ChannelStream is one stream attached to a managed channel.
type ChannelStream struct {
	ID         int64
	ChannelID  int64
	StreamID   int64
	Priority   int
	StreamName string
	AddedAt    time.Time
}

const channelColumns = `id, group_id, event_id, event_provider, tvg_id,
	channel_name, channel_number, gateway_channel_id, gateway_channel_uuid,
	exception_keyword, card_segment, league, event_start, logo_url,
	primary_stream_id, scheduled_delete_at, created_at, updated_at, deleted_at,
	delete_reason, sync_status, epg_data_id`

func scanChannel(row rowScanner) (*ManagedChannel, error) {
	var c ManagedChannel
	var gatewayID, primaryStream, epgDataID sql.NullInt64
	var gatewayUUID, keyword, scheduledDel, deletedAt sql.NullString
	var eventStart, created, updated string
	err := row.Scan(&c.ID, &c.GroupID, &c.EventID, &c.EventProvider, &c.TVGID,
		&c.ChannelName, &c.ChannelNumber, &gatewayID, &gatewayUUID, &keyword,
		&c.CardSegment, &c.League, &eventStart, &c.LogoURL, &primaryStream,
		&scheduledDel, &created, &updated, &deletedAt, &c.DeleteReason,
		&c.SyncStatus, &epgDataID)
	if err != nil {
		return nil, err
	}
	if gatewayID.Valid {
		c.GatewayChannelID = &gatewayID.Int64
	}
	if primaryStream.Valid {
		c.PrimaryStreamID = &primaryStream.Int64
	}
	c.GatewayChannelUUID = gatewayUUID.String
	c.ExceptionKeyword = keyword.String
	c.EventStart = parseTime(eventStart)
	c.ScheduledDeleteAt = scanNullableTime(scheduledDel)
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	c.DeletedAt = scanNullableTime(deletedAt)
	if epgDataID.Valid {
		c.EPGDataID = &epgDataID.Int64
	}
	return &c, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateChannel inserts a new managed channel row. The partial unique index
// rejects a second active row for the same tuple.
func (s *Store) CreateChannel(ctx context.Context, c *ManagedChannel) error {
	if c.SyncStatus == "" {
		c.SyncStatus = SyncPending
	}
	now := utcNow()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO managed_channels (group_id, event_id, event_provider, tvg_id,
			channel_name, channel_number, gateway_channel_id, gateway_channel_uuid,
			exception_keyword, card_segment, league, event_start, logo_url,
			primary_stream_id, scheduled_delete_at, created_at, updated_at,
			delete_reason, sync_status, epg_data_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?)`,
		c.GroupID, c.EventID, c.EventProvider, c.TVGID, c.ChannelName,
		c.ChannelNumber, nullableInt(c.GatewayChannelID),
		nullableString(c.GatewayChannelUUID), nullableString(c.ExceptionKeyword),
		c.CardSegment, c.League, formatTime(c.EventStart), c.LogoURL,
		nullableInt(c.PrimaryStreamID), nullableTime(c.ScheduledDeleteAt),
		now, now, c.SyncStatus, nullableInt(c.EPGDataID))
	if err != nil {
		return fmt.Errorf("create channel %s: %w", c.TVGID, err)
	}
	c.ID, _ = res.LastInsertId()
	c.CreatedAt = parseTime(now)
	c.UpdatedAt = c.CreatedAt
	return nil
}

// GetChannel returns one channel row by id, deleted or not; nil when absent.
func (s *Store) GetChannel(ctx context.Context, id int64) (*ManagedChannel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM managed_channels WHERE id = ?`, id)
	c, err := scanChannel(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ActiveChannel returns the active channel for the exact identity tuple, or nil.
func (s *Store) ActiveChannel(ctx context.Context, groupID int64, eventID, provider, keyword, segment string) (*ManagedChannel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM managed_channels
		 WHERE group_id = ? AND event_id = ? AND event_provider = ?
		   AND COALESCE(exception_keyword, '') = ? AND card_segment = ?
		   AND deleted_at IS NULL`,
		groupID, eventID, provider, keyword, segment)
	c, err := scanChannel(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ActiveChannelForStream is the separate-mode variant of ActiveChannel: the
// identity tuple widens to include the stream the channel was created for.
func (s *Store) ActiveChannelForStream(ctx context.Context, groupID int64, eventID, provider, keyword, segment string, streamID int64) (*ManagedChannel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM managed_channels
		 WHERE group_id = ? AND event_id = ? AND event_provider = ?
		   AND COALESCE(exception_keyword, '') = ? AND card_segment = ?
		   AND primary_stream_id = ? AND deleted_at IS NULL`,
		groupID, eventID, provider, keyword, segment, streamID)
	c, err := scanChannel(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ActiveChannelsForEvent returns every group's active channels for one event.
// Used by the cross-group consolidation sweep.
func (s *Store) ActiveChannelsForEvent(ctx context.Context, eventID, provider string) ([]*ManagedChannel, error) {
	return s.queryChannels(ctx,
		`SELECT `+channelColumns+` FROM managed_channels
		 WHERE event_id = ? AND event_provider = ? AND deleted_at IS NULL
		 ORDER BY group_id, channel_number`, eventID, provider)
}

// ListActiveChannels returns the active channels of one group ordered by number.
func (s *Store) ListActiveChannels(ctx context.Context, groupID int64) ([]*ManagedChannel, error) {
	return s.queryChannels(ctx,
		`SELECT `+channelColumns+` FROM managed_channels
		 WHERE group_id = ? AND deleted_at IS NULL
		 ORDER BY channel_number, id`, groupID)
}

// ListAllActiveChannels returns every active channel across groups.
func (s *Store) ListAllActiveChannels(ctx context.Context) ([]*ManagedChannel, error) {
	return s.queryChannels(ctx,
		`SELECT `+channelColumns+` FROM managed_channels
		 WHERE deleted_at IS NULL ORDER BY channel_number, id`)
}

func (s *Store) queryChannels(ctx context.Context, query string, args ...any) ([]*ManagedChannel, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ManagedChannel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateChannelGateway records the aggregator ids after a create call.
func (s *Store) UpdateChannelGateway(ctx context.Context, id, gatewayID int64, uuid string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE managed_channels
		 SET gateway_channel_id = ?, gateway_channel_uuid = ?, sync_status = ?, updated_at = ?
		 WHERE id = ?`,
		gatewayID, nullableString(uuid), SyncSynced, utcNow(), id)
	return err
}

// UpdateChannelNumber moves a channel to a new number.
func (s *Store) UpdateChannelNumber(ctx context.Context, id int64, number int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE managed_channels SET channel_number = ?, updated_at = ? WHERE id = ?`,
		number, utcNow(), id)
	return err
}

// UpdateChannelName renames a channel (template re-resolution).
func (s *Store) UpdateChannelName(ctx context.Context, id int64, name, logoURL string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE managed_channels SET channel_name = ?, logo_url = ?, updated_at = ? WHERE id = ?`,
		name, logoURL, utcNow(), id)
	return err
}

// UpdateChannelSyncStatus records the last gateway outcome.
func (s *Store) UpdateChannelSyncStatus(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE managed_channels SET sync_status = ?, updated_at = ? WHERE id = ?`,
		status, utcNow(), id)
	return err
}

// UpdateChannelEPG links the channel to the aggregator's EPG record.
func (s *Store) UpdateChannelEPG(ctx context.Context, id, epgDataID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE managed_channels SET epg_data_id = ?, updated_at = ? WHERE id = ?`,
		epgDataID, utcNow(), id)
	return err
}

// SetScheduledDelete sets or clears the retention deadline.
func (s *Store) SetScheduledDelete(ctx context.Context, id int64, at *time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE managed_channels SET scheduled_delete_at = ?, updated_at = ? WHERE id = ?`,
		nullableTime(at), utcNow(), id)
	return err
}

// SoftDeleteChannel retires a channel. The row stays for history; the partial
// unique index frees the tuple for a future re-create.
func (s *Store) SoftDeleteChannel(ctx context.Context, id int64, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE managed_channels
		 SET deleted_at = ?, delete_reason = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		utcNow(), reason, utcNow(), id)
	return err
}

// ActiveChannelsForDisabledGroups returns active channels whose owning group
// is disabled. The enforcement sweep retires them.
func (s *Store) ActiveChannelsForDisabledGroups(ctx context.Context) ([]*ManagedChannel, error) {
	return s.queryChannels(ctx,
		`SELECT `+channelColumns+` FROM managed_channels
		 WHERE deleted_at IS NULL
		   AND group_id IN (SELECT id FROM event_epg_groups WHERE enabled = 0)
		 ORDER BY id`)
}

// DueScheduledDeletions returns active channels whose retention deadline has
// passed.
func (s *Store) DueScheduledDeletions(ctx context.Context, now time.Time) ([]*ManagedChannel, error) {
	return s.queryChannels(ctx,
		`SELECT `+channelColumns+` FROM managed_channels
		 WHERE deleted_at IS NULL AND scheduled_delete_at IS NOT NULL
		   AND scheduled_delete_at <= ?
		 ORDER BY scheduled_delete_at`, formatTime(now))
}

// AttachStream adds a stream to a channel with the given priority. Re-attaching
// an existing stream updates its priority.
func (s *Store) AttachStream(ctx context.Context, channelID, streamID int64, priority int, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO managed_channel_streams (channel_id, stream_id, priority, stream_name, added_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(channel_id, stream_id) DO UPDATE SET
			priority = excluded.priority,
			stream_name = excluded.stream_name`,
		channelID, streamID, priority, name, utcNow())
	return err
}

// DetachStream removes one stream from a channel.
func (s *Store) DetachStream(ctx context.Context, channelID, streamID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM managed_channel_streams WHERE channel_id = ? AND stream_id = ?`,
		channelID, streamID)
	return err
}

// ChannelStreams returns a channel's attached streams ordered by priority.
func (s *Store) ChannelStreams(ctx context.Context, channelID int64) ([]ChannelStream, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, stream_id, priority, stream_name, added_at
		 FROM managed_channel_streams WHERE channel_id = ? ORDER BY priority, id`,
		channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChannelStream
	for rows.Next() {
		var cs ChannelStream
		var added string
		if err := rows.Scan(&cs.ID, &cs.ChannelID, &cs.StreamID, &cs.Priority,
			&cs.StreamName, &added); err != nil {
			return nil, err
		}
		cs.AddedAt = parseTime(added)
		out = append(out, cs)
	}
	return out, rows.Err()
}

// NextStreamPriority returns max(priority)+1 for a channel, starting at 0.
func (s *Store) NextStreamPriority(ctx context.Context, channelID int64) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(priority) FROM managed_channel_streams WHERE channel_id = ?`,
		channelID).Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64) + 1, nil
}

// UsedNumbers returns the channel numbers of all active channels, optionally
// scoped to one group (groupID > 0). Numbering passes consult this set.
func (s *Store) UsedNumbers(ctx context.Context, groupID int64) (map[int]bool, error) {
	query := `SELECT channel_number FROM managed_channels WHERE deleted_at IS NULL`
	args := []any{}
	if groupID > 0 {
		query += ` AND group_id = ?`
		args = append(args, groupID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	used := make(map[int]bool)
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		used[n] = true
	}
	return used, rows.Err()
}

// HighWaterMark returns the highest active channel number, 0 when none.
func (s *Store) HighWaterMark(ctx context.Context) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(channel_number) FROM managed_channels WHERE deleted_at IS NULL`).Scan(&max)
	if err != nil {
		return 0, err
	}
	return int(max.Int64), nil
}

// CountActiveChannels returns the number of active channels in a group.
func (s *Store) CountActiveChannels(ctx context.Context, groupID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM managed_channels WHERE group_id = ? AND deleted_at IS NULL`,
		groupID).Scan(&n)
	return n, err
}

// AddChannelHistory appends an audit row for a channel action.
func (s *Store) AddChannelHistory(ctx context.Context, channelID int64, action, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_history (channel_id, action, detail, created_at)
		 VALUES (?, ?, ?, ?)`,
		channelID, action, detail, utcNow())
	return err
}

// ChannelHistory returns the audit trail for one channel, newest first.
func (s *Store) ChannelHistory(ctx context.Context, channelID int64) ([]HistoryRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, action, detail, created_at
		 FROM channel_history WHERE channel_id = ? ORDER BY id DESC`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryRow
	for rows.Next() {
		var h HistoryRow
		var created string
		if err := rows.Scan(&h.ID, &h.ChannelID, &h.Action, &h.Detail, &created); err != nil {
			return nil, err
		}
		h.CreatedAt = parseTime(created)
		out = append(out, h)
	}
	return out, rows.Err()
}

// HistoryRow is one channel_history entry.
type HistoryRow struct {
	ID        int64
	ChannelID int64
	Action    string
	Detail    string
	CreatedAt time.Time
}
