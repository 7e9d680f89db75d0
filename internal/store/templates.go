package store

import (
	"context"
	"database/sql"
	"time"
)

// Template holds the display strings a group resolves per event. Empty fields
// fall back to the built-in defaults at resolution time.
type Template struct {
	ID                int64
	Name              string
	ChannelName       string
	ProgrammeTitle    string
	ProgrammeSubtitle string
	ProgrammeDesc     string
	PregameTitle      string
	PostgameTitle     string
	IdleTitle         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

const templateColumns = `id, name, channel_name, programme_title,
	programme_subtitle, programme_desc, pregame_title, postgame_title,
	idle_title, created_at, updated_at`

func scanTemplate(row rowScanner) (*Template, error) {
	var t Template
	var created, updated string
	err := row.Scan(&t.ID, &t.Name, &t.ChannelName, &t.ProgrammeTitle,
		&t.ProgrammeSubtitle, &t.ProgrammeDesc, &t.PregameTitle,
		&t.PostgameTitle, &t.IdleTitle, &created, &updated)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return &t, nil
}

// GetTemplate returns one template by id, or nil when absent.
func (s *Store) GetTemplate(ctx context.Context, id int64) (*Template, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE id = ?`, id)
	t, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// ListTemplates returns all templates ordered by name.
func (s *Store) ListTemplates(ctx context.Context) ([]*Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+templateColumns+` FROM templates ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveTemplate inserts or updates a template.
func (s *Store) SaveTemplate(ctx context.Context, t *Template) error {
	now := utcNow()
	if t.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO templates (name, channel_name, programme_title,
				programme_subtitle, programme_desc, pregame_title, postgame_title,
				idle_title, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.Name, t.ChannelName, t.ProgrammeTitle, t.ProgrammeSubtitle,
			t.ProgrammeDesc, t.PregameTitle, t.PostgameTitle, t.IdleTitle,
			now, now)
		if err != nil {
			return err
		}
		t.ID, _ = res.LastInsertId()
		t.CreatedAt = parseTime(now)
		t.UpdatedAt = t.CreatedAt
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE templates SET name=?, channel_name=?, programme_title=?,
			programme_subtitle=?, programme_desc=?, pregame_title=?,
			postgame_title=?, idle_title=?, updated_at=?
		 WHERE id=?`,
		t.Name, t.ChannelName, t.ProgrammeTitle, t.ProgrammeSubtitle,
		t.ProgrammeDesc, t.PregameTitle, t.PostgameTitle, t.IdleTitle,
		utcNow(), t.ID)
	return err
}

// DeleteTemplate removes a template; groups referencing it fall back to the
// built-in defaults.
func (s *Store) DeleteTemplate(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
	return err
}
