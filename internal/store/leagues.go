package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/teamarr/teamarr/internal/sports"
)

// SeedLeagues inserts the built-in league mappings, skipping rows the user has
// already customized. Called once at startup.
func (s *Store) SeedLeagues(ctx context.Context, rows []sports.LeagueMapping) error {
	for _, m := range rows {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO leagues (code, provider, provider_league_id,
				provider_league_name, sport, display_name, alias, logo_url, event_card)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(code, provider) DO NOTHING`,
			m.Code, m.Provider, m.ProviderLeagueID, m.ProviderLeagueName,
			m.Sport, m.DisplayName, m.Alias, m.LogoURL, m.EventCard)
		if err != nil {
			return err
		}
	}
	return nil
}

// LoadLeagues reads every league mapping row. The result feeds the read-only
// in-memory LeagueIndex built at service init.
func (s *Store) LoadLeagues(ctx context.Context) ([]sports.LeagueMapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, provider, provider_league_id, provider_league_name,
			sport, display_name, alias, logo_url, event_card
		 FROM leagues ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []sports.LeagueMapping
	for rows.Next() {
		var m sports.LeagueMapping
		if err := rows.Scan(&m.Code, &m.Provider, &m.ProviderLeagueID,
			&m.ProviderLeagueName, &m.Sport, &m.DisplayName, &m.Alias,
			&m.LogoURL, &m.EventCard); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveTeams upserts a league's team roster from a provider fetch.
func (s *Store) SaveTeams(ctx context.Context, league, provider string, teams []sports.Team) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range teams {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO teams (league, provider, provider_team_id, name,
					short_name, abbreviation, nickname, location, logo_url)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT(league, provider, provider_team_id) DO UPDATE SET
					name = excluded.name,
					short_name = excluded.short_name,
					abbreviation = excluded.abbreviation,
					nickname = excluded.nickname,
					location = excluded.location,
					logo_url = excluded.logo_url`,
				league, provider, t.ID, t.Name, t.ShortName, t.Abbreviation,
				t.Nickname, t.Location, t.LogoURL); err != nil {
				return err
			}
		}
		return nil
	})
}

// RosterTeam is one stored roster row tagged with the provider that minted
// its team id, so schedule lookups can dispatch back to the same provider.
type RosterTeam struct {
	sports.Team
	Provider string
}

// LeagueTeams returns the stored roster for a league across providers.
func (s *Store) LeagueTeams(ctx context.Context, league string) ([]RosterTeam, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, provider_team_id, name, short_name, abbreviation,
			nickname, location, logo_url
		 FROM teams WHERE league = ? ORDER BY name`, league)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RosterTeam
	for rows.Next() {
		var t RosterTeam
		if err := rows.Scan(&t.Provider, &t.ID, &t.Name, &t.ShortName,
			&t.Abbreviation, &t.Nickname, &t.Location, &t.LogoURL); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TeamAliases returns the user alias table for a league: normalized alias ->
// canonical team name. The alias tier of the matcher consults this first.
func (s *Store) TeamAliases(ctx context.Context, league string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT alias, team_name FROM team_aliases WHERE league = ?`, league)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var alias, teamName string
		if err := rows.Scan(&alias, &teamName); err != nil {
			return nil, err
		}
		out[strings.ToLower(strings.TrimSpace(alias))] = teamName
	}
	return out, rows.Err()
}

// SetTeamAlias records a user alias; existing rows are replaced.
func (s *Store) SetTeamAlias(ctx context.Context, league, alias, teamName string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO team_aliases (league, alias, team_name) VALUES (?, ?, ?)
		 ON CONFLICT(league, alias) DO UPDATE SET team_name = excluded.team_name`,
		league, strings.ToLower(strings.TrimSpace(alias)), teamName)
	return err
}

// DeleteTeamAlias removes one alias row.
func (s *Store) DeleteTeamAlias(ctx context.Context, league, alias string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM team_aliases WHERE league = ? AND alias = ?`,
		league, strings.ToLower(strings.TrimSpace(alias)))
	return err
}
