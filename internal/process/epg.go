package process

import (
	"time"
	"unicode"

	"github.com/teamarr/teamarr/internal/store"
	"github.com/teamarr/teamarr/internal/templates"
	"github.com/teamarr/teamarr/internal/xmltv"
)

// renderGroupXMLTV builds the group's guide document from the channels the
// pass ensured. Every channel gets its event programme plus the filler the
// group asks for, padded out to the group's look-ahead horizon so clients
// never see an empty guide slot.
func (p *Processor) renderGroupXMLTV(g *store.EventEPGGroup, tmpl *store.Template, entries []channelEntry) *xmltv.Document {
	doc := &xmltv.Document{Source: "teamarr"}
	if len(entries) == 0 {
		return doc
	}

	var progTitle, progSubtitle, progDesc string
	var pregameTmpl, postgameTmpl, idleTmpl string
	if tmpl != nil {
		progTitle = tmpl.ProgrammeTitle
		progSubtitle = tmpl.ProgrammeSubtitle
		progDesc = tmpl.ProgrammeDesc
		pregameTmpl = tmpl.PregameTitle
		postgameTmpl = tmpl.PostgameTitle
		idleTmpl = tmpl.IdleTitle
	}

	now := p.now().In(p.tz())
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, p.tz())
	horizon := g.DaysAhead
	if horizon <= 0 {
		horizon = 1
	}
	dayEnd := dayStart.AddDate(0, 0, horizon+1)

	for _, e := range entries {
		ctx := &templates.Context{
			Event:    e.event,
			League:   e.league,
			Stats:    e.stats,
			Keyword:  e.keyword,
			Segment:  e.segment,
			Location: p.tz(),
			Now:      now,
		}
		doc.AddChannel(xmltv.Channel{
			ID:      e.ch.TVGID,
			Display: e.ch.ChannelName,
			Icon:    e.ch.LogoURL,
		})

		start, stop := e.event.StartTime, e.event.EstimatedEnd()
		if e.segment != "" {
			start = e.event.SegmentStart(e.segment)
			stop = e.event.SegmentEnd(e.segment)
		}
		prog := xmltv.Programme{
			Channel:  e.ch.TVGID,
			Start:    start,
			Stop:     stop,
			Title:    templates.Title(progTitle, templates.DefaultProgrammeTitle, ctx),
			SubTitle: templates.Title(progSubtitle, templates.DefaultProgrammeSubtitle, ctx),
			Desc:     templates.Description(progDesc, ctx),
			Category: titleSport(p.Leagues.Sport(e.league.Code)),
			Icon:     e.ch.LogoURL,
		}

		filler := xmltv.Filler{
			Pregame:       g.FillerPregame,
			Postgame:      g.FillerPostgame,
			Idle:          g.FillerIdle,
			PregameTitle:  templates.Title(pregameTmpl, templates.DefaultPregameTitle, ctx),
			PostgameTitle: templates.Title(postgameTmpl, templates.DefaultPostgameTitle, ctx),
			IdleTitle:     templates.Title(idleTmpl, templates.DefaultIdleTitle, ctx),
		}
		progs := xmltv.EventProgrammes(prog, filler)
		progs = xmltv.PadDay(e.ch.TVGID, progs, dayStart, dayEnd, filler)
		for _, pr := range progs {
			doc.AddProgramme(pr)
		}
	}
	return doc
}

func renderDoc(doc *xmltv.Document, loc *time.Location) ([]byte, error) {
	return xmltv.Render(doc, loc)
}

// titleSport upcases a sport code into a guide category; unknown sports fall
// back to the generic label.
func titleSport(sport string) string {
	if sport == "" {
		return "Sports"
	}
	r := []rune(sport)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
