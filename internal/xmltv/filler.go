package xmltv

import "time"

// Default filler shape. Idle blocks are fixed-length so clients paginate the
// guide without one giant programme.
const (
	defaultPregameLead  = time.Hour
	defaultPostgameTail = time.Hour
	idleBlockLength     = 6 * time.Hour
)

// Filler controls the synthetic programmes emitted around a real event so a
// channel's guide never shows blank slots. Titles are optional overrides;
// empty values fall back to "Pregame: <title>" style derivations.
type Filler struct {
	Pregame  bool
	Postgame bool
	Idle     bool

	PregameLead   time.Duration
	PostgameTail  time.Duration
	PregameTitle  string
	PostgameTitle string
	IdleTitle     string
}

func (f Filler) lead() time.Duration {
	if f.PregameLead > 0 {
		return f.PregameLead
	}
	return defaultPregameLead
}

func (f Filler) tail() time.Duration {
	if f.PostgameTail > 0 {
		return f.PostgameTail
	}
	return defaultPostgameTail
}

func (f Filler) pregameTitle(eventTitle string) string {
	if f.PregameTitle != "" {
		return f.PregameTitle
	}
	return "Pregame: " + eventTitle
}

func (f Filler) postgameTitle(eventTitle string) string {
	if f.PostgameTitle != "" {
		return f.PostgameTitle
	}
	return "Postgame: " + eventTitle
}

func (f Filler) idleTitle() string {
	if f.IdleTitle != "" {
		return f.IdleTitle
	}
	return "No Event Scheduled"
}

// EventProgrammes returns the guide entries for one event programme: optional
// pregame block, the event itself, optional postgame block. The filler blocks
// inherit the event's channel, category, and icon.
func EventProgrammes(p Programme, f Filler) []Programme {
	out := make([]Programme, 0, 3)
	if f.Pregame {
		out = append(out, Programme{
			Channel:  p.Channel,
			Start:    p.Start.Add(-f.lead()),
			Stop:     p.Start,
			Title:    f.pregameTitle(p.Title),
			SubTitle: "Pregame",
			Category: p.Category,
			Icon:     p.Icon,
		})
	}
	out = append(out, p)
	if f.Postgame {
		out = append(out, Programme{
			Channel:  p.Channel,
			Start:    p.Stop,
			Stop:     p.Stop.Add(f.tail()),
			Title:    f.postgameTitle(p.Title),
			SubTitle: "Postgame",
			Category: p.Category,
			Icon:     p.Icon,
		})
	}
	return out
}

// IdleProgrammes fills [from, to) with fixed-length placeholder blocks. The
// final block is clipped to end exactly at to. Returns nil when the window is
// empty or inverted.
func IdleProgrammes(channel string, from, to time.Time, f Filler) []Programme {
	if !from.Before(to) {
		return nil
	}
	var out []Programme
	for start := from; start.Before(to); start = start.Add(idleBlockLength) {
		stop := start.Add(idleBlockLength)
		if stop.After(to) {
			stop = to
		}
		out = append(out, Programme{
			Channel: channel,
			Start:   start,
			Stop:    stop,
			Title:   f.idleTitle(),
		})
	}
	return out
}

// PadDay surrounds the given programmes with idle filler covering [dayStart,
// dayEnd). Programmes are assumed sorted by start and non-overlapping; gaps
// between them are filled too.
func PadDay(channel string, progs []Programme, dayStart, dayEnd time.Time, f Filler) []Programme {
	if !f.Idle {
		return progs
	}
	var out []Programme
	cursor := dayStart
	for _, p := range progs {
		if cursor.Before(p.Start) {
			out = append(out, IdleProgrammes(channel, cursor, p.Start, f)...)
		}
		out = append(out, p)
		if p.Stop.After(cursor) {
			cursor = p.Stop
		}
	}
	if cursor.Before(dayEnd) {
		out = append(out, IdleProgrammes(channel, cursor, dayEnd, f)...)
	}
	return out
}
