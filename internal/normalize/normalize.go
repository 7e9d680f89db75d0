// Package normalize fixes the characters the classifier will see. It repairs
// double-encoded UTF-8, folds diacritics, strips provider prefixes, masks
// date/time patterns before separator detection, and extracts the date,
// time, and league hints carried in stream names.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/teamarr/teamarr/internal/sports"
)

// TimeOfDay is a wall-clock hint extracted from a stream name.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

// NormalizedStream is the normalizer's output for one stream name.
type NormalizedStream struct {
	Original       string
	Cleaned        string // masked text the classifier scans for separators
	DateHint       *time.Time
	TimeHint       *TimeOfDay
	LeagueHint     string // canonical league code, "" when none detected
	RawLeagueToken string // the token that produced LeagueHint
	ProviderPrefix string
}

// Normalizer holds the read-only tables normalization consults.
type Normalizer struct {
	Leagues  *sports.LeagueIndex
	Prefixes []string         // extra provider prefixes beyond the built-ins
	Now      func() time.Time // for date-hint year inference; nil = time.Now
}

func New(leagues *sports.LeagueIndex) *Normalizer {
	return &Normalizer{Leagues: leagues}
}

// Built-in provider prefixes, stripped case-insensitively when the name
// starts with one followed by a separator.
var builtinPrefixes = []string{
	"espn+", "espn plus", "espn", "dazn", "fox sports", "fs1", "fs2",
	"sky sports", "bt sport", "tnt sports", "tsn", "sportsnet", "nbc sports",
	"cbs sports", "abc", "nbc", "cbs", "fox", "tbs", "mlb network",
	"nfl network", "nba tv", "nhl network", "bein sports", "bein",
	"paramount+", "peacock", "amazon", "prime video", "usa network",
}

var (
	prefixSepPattern = regexp.MustCompile(`^\s*[:|\-–]\s*`)
	prefixNumPattern = regexp.MustCompile(`^\s*\d{0,2}`)
)

// datePatterns match in priority order; first hit wins and is masked.
var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`),               // 2024-10-15
	regexp.MustCompile(`\b(\d{1,2})[/.](\d{1,2})[/.](\d{4})\b`),     // 10/15/2024
	regexp.MustCompile(`\b(\d{1,2})[/.](\d{1,2})[/.](\d{2})\b`),     // 10/15/24
	regexp.MustCompile(`\b(\d{1,2})[/.](\d{1,2})\b`),                // 10/15
	regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+(\d{1,2})(?:st|nd|rd|th)?\b`), // Oct 15
}

var timePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(\d{1,2}):(\d{2})\s*(am|pm)\b`), // 8:20 PM
	regexp.MustCompile(`(?i)\b(\d{1,2})\s*(am|pm)\b`),         // 8 PM
	regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`),      // 20:20
}

var monthIndex = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"sept": time.September, "oct": time.October, "nov": time.November,
	"dec": time.December,
}

// Normalize runs the full pipeline over one stream name.
func (n *Normalizer) Normalize(name string) NormalizedStream {
	out := NormalizedStream{Original: name}
	s := RepairMojibake(name)
	s = foldCities(s)
	s = FoldDiacritics(s)
	s = strings.TrimSpace(s)

	s, out.ProviderPrefix = n.stripProviderPrefix(s)

	s, out.DateHint = n.extractDate(s)
	s, out.TimeHint = extractTime(s)
	s, out.LeagueHint, out.RawLeagueToken = n.extractLeague(s)

	// Collapse leftover separators and whitespace runs.
	s = strings.Trim(s, " -|:•")
	s = spaceRuns.ReplaceAllString(s, " ")
	out.Cleaned = strings.TrimSpace(s)
	return out
}

var spaceRuns = regexp.MustCompile(`\s{2,}`)

func (n *Normalizer) stripProviderPrefix(s string) (rest, prefix string) {
	lower := strings.ToLower(s)
	candidates := builtinPrefixes
	if len(n.Prefixes) > 0 {
		candidates = append(append([]string{}, n.Prefixes...), builtinPrefixes...)
	}
	best, bestPrefixLen := "", 0
	for _, p := range candidates {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || !strings.HasPrefix(lower, p) {
			continue
		}
		tail := s[len(p):]
		// Optional channel number ("DAZN 1 | ...").
		numTail := prefixNumPattern.FindString(tail)
		sep := prefixSepPattern.FindString(tail[len(numTail):])
		if sep == "" {
			continue
		}
		if len(p) > bestPrefixLen {
			best = s[:len(p)+len(numTail)+len(sep)]
			bestPrefixLen = len(p)
		}
	}
	if best == "" {
		return s, ""
	}
	return s[len(best):], strings.TrimRight(strings.TrimSpace(best), ":|-– ")
}

// extractDate finds the first date pattern, masks it with spaces, and returns
// the parsed hint. Two-digit and missing years are resolved near "now".
func (n *Normalizer) extractDate(s string) (string, *time.Time) {
	now := time.Now()
	if n.Now != nil {
		now = n.Now()
	}
	for i, re := range datePatterns {
		loc := re.FindStringSubmatchIndex(s)
		if loc == nil {
			continue
		}
		m := re.FindStringSubmatch(s)
		var d time.Time
		switch i {
		case 0: // yyyy-mm-dd
			y, _ := strconv.Atoi(m[1])
			mo, _ := strconv.Atoi(m[2])
			dd, _ := strconv.Atoi(m[3])
			if !validMonthDay(mo, dd) {
				continue
			}
			d = time.Date(y, time.Month(mo), dd, 0, 0, 0, 0, time.UTC)
		case 1: // mm/dd/yyyy
			mo, _ := strconv.Atoi(m[1])
			dd, _ := strconv.Atoi(m[2])
			y, _ := strconv.Atoi(m[3])
			if !validMonthDay(mo, dd) {
				continue
			}
			d = time.Date(y, time.Month(mo), dd, 0, 0, 0, 0, time.UTC)
		case 2: // mm/dd/yy
			mo, _ := strconv.Atoi(m[1])
			dd, _ := strconv.Atoi(m[2])
			y, _ := strconv.Atoi(m[3])
			if !validMonthDay(mo, dd) {
				continue
			}
			d = time.Date(2000+y, time.Month(mo), dd, 0, 0, 0, 0, time.UTC)
		case 3: // mm/dd, year inferred
			mo, _ := strconv.Atoi(m[1])
			dd, _ := strconv.Atoi(m[2])
			if !validMonthDay(mo, dd) {
				continue
			}
			d = nearestYear(now, time.Month(mo), dd)
		case 4: // Month dd
			mo := monthIndex[strings.ToLower(m[1][:3])]
			dd, _ := strconv.Atoi(m[2])
			if !validMonthDay(int(mo), dd) {
				continue
			}
			d = nearestYear(now, mo, dd)
		}
		masked := s[:loc[0]] + strings.Repeat(" ", loc[1]-loc[0]) + s[loc[1]:]
		return masked, &d
	}
	return s, nil
}

func validMonthDay(mo, dd int) bool {
	return mo >= 1 && mo <= 12 && dd >= 1 && dd <= 31
}

// nearestYear picks the year that puts (month, day) closest to now; stream
// names almost never carry a date more than half a year away.
func nearestYear(now time.Time, mo time.Month, dd int) time.Time {
	best := time.Date(now.Year(), mo, dd, 0, 0, 0, 0, time.UTC)
	for _, y := range []int{now.Year() - 1, now.Year() + 1} {
		cand := time.Date(y, mo, dd, 0, 0, 0, 0, time.UTC)
		if absDuration(cand.Sub(now)) < absDuration(best.Sub(now)) {
			best = cand
		}
	}
	return best
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func extractTime(s string) (string, *TimeOfDay) {
	for i, re := range timePatterns {
		loc := re.FindStringSubmatchIndex(s)
		if loc == nil {
			continue
		}
		m := re.FindStringSubmatch(s)
		var t TimeOfDay
		switch i {
		case 0: // h:mm am/pm
			t.Hour, _ = strconv.Atoi(m[1])
			t.Minute, _ = strconv.Atoi(m[2])
			t.Hour = to24h(t.Hour, m[3])
		case 1: // h am/pm
			t.Hour, _ = strconv.Atoi(m[1])
			t.Hour = to24h(t.Hour, m[2])
		case 2: // HH:MM 24h
			t.Hour, _ = strconv.Atoi(m[1])
			t.Minute, _ = strconv.Atoi(m[2])
		}
		if t.Hour > 23 || t.Minute > 59 {
			continue
		}
		masked := s[:loc[0]] + strings.Repeat(" ", loc[1]-loc[0]) + s[loc[1]:]
		return masked, &t
	}
	return s, nil
}

func to24h(h int, ampm string) int {
	if strings.EqualFold(ampm, "pm") && h != 12 {
		return h + 12
	}
	if strings.EqualFold(ampm, "am") && h == 12 {
		return 0
	}
	return h
}

var leagueSegmentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[([^\]]+)\]`),
	regexp.MustCompile(`\|([^|]+)$`),
	regexp.MustCompile(`^([^:|]+):`),
}

// extractLeague scans tokens around pipes, brackets, and colon headers for a
// league alias. Only the detected token is masked; team text stays intact.
func (n *Normalizer) extractLeague(s string) (string, string, string) {
	if n.Leagues == nil {
		return s, "", ""
	}
	// Delimited segments first: "[NFL]", "... | NFL", "Premier League: ...".
	for _, re := range leagueSegmentPatterns {
		if m := re.FindStringSubmatchIndex(s); m != nil {
			token := strings.TrimSpace(s[m[2]:m[3]])
			if code := n.Leagues.ResolveAlias(token); code != "" {
				masked := s[:m[0]] + strings.Repeat(" ", m[1]-m[0]) + s[m[1]:]
				return masked, code, token
			}
		}
	}
	// Standalone words ("NFL: Bucs vs Lions", "Bucs vs Lions NFL").
	for _, f := range strings.Fields(s) {
		w := strings.Trim(f, ":,.()[]")
		if len(w) < 2 || len(w) > 24 {
			continue
		}
		if code := n.Leagues.ResolveAlias(w); code != "" {
			idx := strings.Index(s, f)
			masked := s[:idx] + strings.Repeat(" ", len(f)) + s[idx+len(f):]
			return masked, code, w
		}
	}
	return s, "", ""
}

// RepairMojibake undoes one round of UTF-8 bytes read as Latin-1. The repair
// only applies when the telltale lead bytes are present and the reinterpreted
// string is valid UTF-8.
func RepairMojibake(s string) string {
	if !strings.ContainsAny(s, "ÃÂâ") {
		return s
	}
	bytes := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return s // not pure Latin-1, cannot have been double-encoded
		}
		bytes = append(bytes, byte(r))
	}
	repaired := string(bytes)
	if !utf8Valid(repaired) {
		return s
	}
	return repaired
}

func utf8Valid(s string) bool {
	for _, r := range s {
		if r == unicode.ReplacementChar {
			return false
		}
	}
	return true
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldDiacritics strips combining marks: "Atlético" -> "Atletico".
func FoldDiacritics(s string) string {
	out, _, err := transform.String(foldTransformer, s)
	if err != nil {
		return s
	}
	return out
}

// cityTable maps localized city spellings to the English names providers use.
// Applied before diacritic folding so the key spellings still match.
var cityTable = map[string]string{
	"münchen":   "Munich",
	"köln":      "Cologne",
	"sevilla":   "Seville",
	"roma":      "Rome",
	"torino":    "Turin",
	"milano":    "Milan",
	"napoli":    "Naples",
	"lisboa":    "Lisbon",
	"warszawa":  "Warsaw",
	"praha":     "Prague",
	"wien":      "Vienna",
	"genève":    "Geneva",
	"zürich":    "Zurich",
	"moskva":    "Moscow",
	"københavn": "Copenhagen",
}

func foldCities(s string) string {
	lower := strings.ToLower(s)
	for city, english := range cityTable {
		idx := strings.Index(lower, city)
		if idx < 0 {
			continue
		}
		s = s[:idx] + english + s[idx+len(city):]
		lower = strings.ToLower(s)
	}
	return s
}

// Key canonicalizes a name for matcher comparisons: lowercase, diacritics
// folded, punctuation to spaces, whitespace collapsed.
func Key(s string) string {
	s = FoldDiacritics(strings.ToLower(strings.TrimSpace(s)))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
