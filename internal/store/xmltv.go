package store

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/andybalholm/brotli"
)

// XMLTV documents are brotli-compressed at rest. Guides compress to a small
// fraction of their size and the documents are only read back whole.

func compressDoc(doc []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if _, err := w.Write(doc); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressDoc(blob []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(blob))
	return io.ReadAll(r)
}

// SaveGroupXMLTV persists a group's rendered XMLTV document.
func (s *Store) SaveGroupXMLTV(ctx context.Context, groupID int64, doc []byte) error {
	blob, err := compressDoc(doc)
	if err != nil {
		return fmt.Errorf("compress group %d xmltv: %w", groupID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO event_epg_xmltv (group_id, generated_at, doc) VALUES (?, ?, ?)
		 ON CONFLICT(group_id) DO UPDATE SET
			generated_at = excluded.generated_at, doc = excluded.doc`,
		groupID, utcNow(), blob)
	return err
}

// GroupXMLTV returns a group's stored document; nil when never generated.
func (s *Store) GroupXMLTV(ctx context.Context, groupID int64) ([]byte, time.Time, error) {
	var blob []byte
	var generated string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc, generated_at FROM event_epg_xmltv WHERE group_id = ?`,
		groupID).Scan(&blob, &generated)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	doc, err := decompressDoc(blob)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("decompress group %d xmltv: %w", groupID, err)
	}
	return doc, parseTime(generated), nil
}

// AllGroupXMLTV returns every group's stored document for merging.
func (s *Store) AllGroupXMLTV(ctx context.Context) (map[int64][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_id, doc FROM event_epg_xmltv`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]byte)
	for rows.Next() {
		var groupID int64
		var blob []byte
		if err := rows.Scan(&groupID, &blob); err != nil {
			return nil, err
		}
		doc, err := decompressDoc(blob)
		if err != nil {
			return nil, fmt.Errorf("decompress group %d xmltv: %w", groupID, err)
		}
		out[groupID] = doc
	}
	return out, rows.Err()
}

// DeleteGroupXMLTV drops a group's stored document (group disabled/removed).
func (s *Store) DeleteGroupXMLTV(ctx context.Context, groupID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM event_epg_xmltv WHERE group_id = ?`, groupID)
	return err
}

// SaveMergedXMLTV persists the cross-group merged document the aggregator
// consumes.
func (s *Store) SaveMergedXMLTV(ctx context.Context, doc []byte) error {
	blob, err := compressDoc(doc)
	if err != nil {
		return fmt.Errorf("compress merged xmltv: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO merged_xmltv (id, generated_at, doc) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			generated_at = excluded.generated_at, doc = excluded.doc`,
		utcNow(), blob)
	return err
}

// MergedXMLTV returns the merged document; nil when never generated.
func (s *Store) MergedXMLTV(ctx context.Context) ([]byte, time.Time, error) {
	var blob []byte
	var generated string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc, generated_at FROM merged_xmltv WHERE id = 1`).Scan(&blob, &generated)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	doc, err := decompressDoc(blob)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("decompress merged xmltv: %w", err)
	}
	return doc, parseTime(generated), nil
}

// SaveTeamXMLTV persists one team channel's linear EPG document.
func (s *Store) SaveTeamXMLTV(ctx context.Context, teamKey string, doc []byte) error {
	blob, err := compressDoc(doc)
	if err != nil {
		return fmt.Errorf("compress team %s xmltv: %w", teamKey, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO team_epg_xmltv (team_key, generated_at, doc) VALUES (?, ?, ?)
		 ON CONFLICT(team_key) DO UPDATE SET
			generated_at = excluded.generated_at, doc = excluded.doc`,
		teamKey, utcNow(), blob)
	return err
}

// TeamXMLTV returns one team channel's stored document; nil when absent.
func (s *Store) TeamXMLTV(ctx context.Context, teamKey string) ([]byte, time.Time, error) {
	var blob []byte
	var generated string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc, generated_at FROM team_epg_xmltv WHERE team_key = ?`,
		teamKey).Scan(&blob, &generated)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	doc, err := decompressDoc(blob)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("decompress team %s xmltv: %w", teamKey, err)
	}
	return doc, parseTime(generated), nil
}
