package sports

// DefaultLeagueMappings returns the built-in league table used to seed a new
// database. Codes follow ESPN league slugs; TSDB ids are the numeric league
// ids from thesportsdb.com. Users can add or override rows afterwards.
func DefaultLeagueMappings() []LeagueMapping {
	return []LeagueMapping{
		{Code: "nfl", Provider: "espn", ProviderLeagueID: "nfl", ProviderLeagueName: "NFL", Sport: "football", DisplayName: "NFL"},
		{Code: "college-football", Provider: "espn", ProviderLeagueID: "college-football", ProviderLeagueName: "NCAA Football", Sport: "football", DisplayName: "College Football", Alias: "ncaaf"},
		{Code: "nba", Provider: "espn", ProviderLeagueID: "nba", ProviderLeagueName: "NBA", Sport: "basketball", DisplayName: "NBA"},
		{Code: "wnba", Provider: "espn", ProviderLeagueID: "wnba", ProviderLeagueName: "WNBA", Sport: "basketball", DisplayName: "WNBA"},
		{Code: "mens-college-basketball", Provider: "espn", ProviderLeagueID: "mens-college-basketball", ProviderLeagueName: "NCAA Basketball", Sport: "basketball", DisplayName: "College Basketball", Alias: "ncaam"},
		{Code: "mlb", Provider: "espn", ProviderLeagueID: "mlb", ProviderLeagueName: "MLB", Sport: "baseball", DisplayName: "MLB"},
		{Code: "nhl", Provider: "espn", ProviderLeagueID: "nhl", ProviderLeagueName: "NHL", Sport: "hockey", DisplayName: "NHL"},
		{Code: "eng.1", Provider: "espn", ProviderLeagueID: "eng.1", ProviderLeagueName: "English Premier League", Sport: "soccer", DisplayName: "Premier League", Alias: "epl"},
		{Code: "esp.1", Provider: "espn", ProviderLeagueID: "esp.1", ProviderLeagueName: "Spanish LaLiga", Sport: "soccer", DisplayName: "LaLiga", Alias: "laliga"},
		{Code: "ger.1", Provider: "espn", ProviderLeagueID: "ger.1", ProviderLeagueName: "German Bundesliga", Sport: "soccer", DisplayName: "Bundesliga"},
		{Code: "ita.1", Provider: "espn", ProviderLeagueID: "ita.1", ProviderLeagueName: "Italian Serie A", Sport: "soccer", DisplayName: "Serie A"},
		{Code: "uefa.champions", Provider: "espn", ProviderLeagueID: "uefa.champions", ProviderLeagueName: "UEFA Champions League", Sport: "soccer", DisplayName: "Champions League", Alias: "ucl"},
		{Code: "usa.1", Provider: "espn", ProviderLeagueID: "usa.1", ProviderLeagueName: "MLS", Sport: "soccer", DisplayName: "MLS", Alias: "mls"},
		{Code: "ufc", Provider: "espn", ProviderLeagueID: "ufc", ProviderLeagueName: "UFC", Sport: "mma", DisplayName: "UFC", EventCard: true},
		{Code: "boxing", Provider: "tsdb", ProviderLeagueID: "4445", ProviderLeagueName: "Boxing", Sport: "boxing", DisplayName: "Boxing", EventCard: true},

		// TSDB-backed rows for leagues ESPN also carries let the registry
		// fall through when the primary provider has no data.
		{Code: "nfl", Provider: "tsdb", ProviderLeagueID: "4391", ProviderLeagueName: "NFL", Sport: "football", DisplayName: "NFL"},
		{Code: "nba", Provider: "tsdb", ProviderLeagueID: "4387", ProviderLeagueName: "NBA", Sport: "basketball", DisplayName: "NBA"},
		{Code: "mlb", Provider: "tsdb", ProviderLeagueID: "4424", ProviderLeagueName: "MLB", Sport: "baseball", DisplayName: "MLB"},
		{Code: "nhl", Provider: "tsdb", ProviderLeagueID: "4380", ProviderLeagueName: "NHL", Sport: "hockey", DisplayName: "NHL"},
		{Code: "eng.1", Provider: "tsdb", ProviderLeagueID: "4328", ProviderLeagueName: "English Premier League", Sport: "soccer", DisplayName: "Premier League", Alias: "epl"},
		{Code: "ufc", Provider: "tsdb", ProviderLeagueID: "4443", ProviderLeagueName: "UFC", Sport: "mma", DisplayName: "UFC", EventCard: true},
	}
}

// LeagueIndex is the in-memory league lookup built at service init.
// Read-only after construction.
type LeagueIndex struct {
	byCode     map[string][]LeagueMapping // code -> rows ordered as inserted
	byAlias    map[string]string          // alias -> code
	eventCard  map[string]bool
	sportOf    map[string]string
	displayOf  map[string]string
	leagueLogo map[string]string
}

// NewLeagueIndex builds the lookup maps from mapping rows.
func NewLeagueIndex(rows []LeagueMapping) *LeagueIndex {
	idx := &LeagueIndex{
		byCode:     make(map[string][]LeagueMapping),
		byAlias:    make(map[string]string),
		eventCard:  make(map[string]bool),
		sportOf:    make(map[string]string),
		displayOf:  make(map[string]string),
		leagueLogo: make(map[string]string),
	}
	for _, m := range rows {
		idx.byCode[m.Code] = append(idx.byCode[m.Code], m)
		if m.Alias != "" {
			idx.byAlias[normalizeLeagueToken(m.Alias)] = m.Code
		}
		idx.byAlias[normalizeLeagueToken(m.Code)] = m.Code
		if m.DisplayName != "" {
			idx.byAlias[normalizeLeagueToken(m.DisplayName)] = m.Code
		}
		if m.EventCard {
			idx.eventCard[m.Code] = true
		}
		if _, ok := idx.sportOf[m.Code]; !ok && m.Sport != "" {
			idx.sportOf[m.Code] = m.Sport
		}
		if _, ok := idx.displayOf[m.Code]; !ok && m.DisplayName != "" {
			idx.displayOf[m.Code] = m.DisplayName
		}
		if _, ok := idx.leagueLogo[m.Code]; !ok && m.LogoURL != "" {
			idx.leagueLogo[m.Code] = m.LogoURL
		}
	}
	return idx
}

// Mappings returns the provider rows for a league code, in priority order.
func (idx *LeagueIndex) Mappings(code string) []LeagueMapping { return idx.byCode[code] }

// Known reports whether the code has any mapping.
func (idx *LeagueIndex) Known(code string) bool { return len(idx.byCode[code]) > 0 }

// Codes returns all known league codes.
func (idx *LeagueIndex) Codes() []string {
	out := make([]string, 0, len(idx.byCode))
	for c := range idx.byCode {
		out = append(out, c)
	}
	return out
}

// ResolveAlias maps a league token ("EPL", "Premier League", "nfl") to its
// canonical code; returns "" when unknown.
func (idx *LeagueIndex) ResolveAlias(token string) string {
	return idx.byAlias[normalizeLeagueToken(token)]
}

// IsEventCard reports whether the league's dominant event type is a card.
func (idx *LeagueIndex) IsEventCard(code string) bool { return idx.eventCard[code] }

// Sport returns the sport name for a league code.
func (idx *LeagueIndex) Sport(code string) string { return idx.sportOf[code] }

// DisplayName returns the league's display name, falling back to the code.
func (idx *LeagueIndex) DisplayName(code string) string {
	if d, ok := idx.displayOf[code]; ok {
		return d
	}
	return code
}

// LogoURL returns the league logo if configured.
func (idx *LeagueIndex) LogoURL(code string) string { return idx.leagueLogo[code] }

func normalizeLeagueToken(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		case r == '.':
			out = append(out, r)
		}
	}
	return string(out)
}
