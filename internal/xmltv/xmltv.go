// Package xmltv renders, parses, and merges XMLTV guide documents. It is a
// pure formatter: callers hand it resolved channels and programmes and a
// timezone; nothing here talks to providers or the store.
package xmltv

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TimeLayout is the XMLTV timestamp format. Rendered values carry the user
// timezone's offset so clients never have to guess.
const TimeLayout = "20060102150405 -0700"

// Channel is one <channel> element.
type Channel struct {
	ID      string
	Display string
	Icon    string
}

// Programme is one <programme> element. Start and Stop are instants; Render
// localizes them to the requested timezone.
type Programme struct {
	Channel  string
	Start    time.Time
	Stop     time.Time
	Title    string
	SubTitle string
	Desc     string
	Category string
	Icon     string
}

// Document is a whole XMLTV guide.
type Document struct {
	Source     string
	Channels   []Channel
	Programmes []Programme
}

// AddChannel appends a channel unless one with the same id is present.
func (d *Document) AddChannel(c Channel) {
	for _, have := range d.Channels {
		if have.ID == c.ID {
			return
		}
	}
	d.Channels = append(d.Channels, c)
}

// AddProgramme appends a programme.
func (d *Document) AddProgramme(p Programme) {
	d.Programmes = append(d.Programmes, p)
}

type xmlTVRoot struct {
	XMLName    xml.Name       `xml:"tv"`
	Source     string         `xml:"source-info-name,attr,omitempty"`
	Channels   []xmlChannel   `xml:"channel"`
	Programmes []xmlProgramme `xml:"programme"`
}

type xmlChannel struct {
	ID      string   `xml:"id,attr"`
	Display string   `xml:"display-name"`
	Icon    *xmlIcon `xml:"icon,omitempty"`
}

type xmlProgramme struct {
	Start    string    `xml:"start,attr"`
	Stop     string    `xml:"stop,attr"`
	Channel  string    `xml:"channel,attr"`
	Title    xmlValue  `xml:"title"`
	SubTitle *xmlValue `xml:"sub-title,omitempty"`
	Desc     *xmlValue `xml:"desc,omitempty"`
	Category *xmlValue `xml:"category,omitempty"`
	Icon     *xmlIcon  `xml:"icon,omitempty"`
}

type xmlValue struct {
	Lang  string `xml:"lang,attr,omitempty"`
	Value string `xml:",chardata"`
}

type xmlIcon struct {
	Src string `xml:"src,attr"`
}

func optValue(s string) *xmlValue {
	if s == "" {
		return nil
	}
	return &xmlValue{Lang: "en", Value: s}
}

func optIcon(src string) *xmlIcon {
	if src == "" {
		return nil
	}
	return &xmlIcon{Src: src}
}

// Render serializes the document with all timestamps localized to loc.
// A nil loc renders UTC.
func Render(d *Document, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.UTC
	}
	root := &xmlTVRoot{Source: d.Source}
	for _, c := range d.Channels {
		root.Channels = append(root.Channels, xmlChannel{
			ID:      c.ID,
			Display: c.Display,
			Icon:    optIcon(c.Icon),
		})
	}
	for _, p := range d.Programmes {
		root.Programmes = append(root.Programmes, xmlProgramme{
			Start:    p.Start.In(loc).Format(TimeLayout),
			Stop:     p.Stop.In(loc).Format(TimeLayout),
			Channel:  p.Channel,
			Title:    xmlValue{Lang: "en", Value: p.Title},
			SubTitle: optValue(p.SubTitle),
			Desc:     optValue(p.Desc),
			Category: optValue(p.Category),
			Icon:     optIcon(p.Icon),
		})
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("encode xmltv: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Parse decodes an XMLTV document. Timestamps keep the offset they were
// rendered with; compare in UTC.
func Parse(data []byte) (*Document, error) {
	var root xmlTVRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decode xmltv: %w", err)
	}
	d := &Document{Source: root.Source}
	for _, c := range root.Channels {
		ch := Channel{ID: c.ID, Display: c.Display}
		if c.Icon != nil {
			ch.Icon = c.Icon.Src
		}
		d.Channels = append(d.Channels, ch)
	}
	for _, p := range root.Programmes {
		start, err := parseTimestamp(p.Start)
		if err != nil {
			return nil, fmt.Errorf("programme start %q: %w", p.Start, err)
		}
		stop, err := parseTimestamp(p.Stop)
		if err != nil {
			return nil, fmt.Errorf("programme stop %q: %w", p.Stop, err)
		}
		prog := Programme{
			Channel: p.Channel,
			Start:   start,
			Stop:    stop,
			Title:   p.Title.Value,
		}
		if p.SubTitle != nil {
			prog.SubTitle = p.SubTitle.Value
		}
		if p.Desc != nil {
			prog.Desc = p.Desc.Value
		}
		if p.Category != nil {
			prog.Category = p.Category.Value
		}
		if p.Icon != nil {
			prog.Icon = p.Icon.Src
		}
		d.Programmes = append(d.Programmes, prog)
	}
	return d, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	// Some feeds omit the offset; treat those as UTC.
	return time.Parse("20060102150405", s)
}

// Merge combines documents into one. Channels deduplicate by id (first seen
// wins), programmes by (channel, start, stop) compared in UTC. Output order
// is channels by id, programmes by channel then start.
func Merge(docs ...*Document) *Document {
	out := &Document{}
	seenChannel := make(map[string]bool)
	type progKey struct {
		channel     string
		start, stop int64
	}
	seenProg := make(map[progKey]bool)
	for _, d := range docs {
		if d == nil {
			continue
		}
		if out.Source == "" {
			out.Source = d.Source
		}
		for _, c := range d.Channels {
			if seenChannel[c.ID] {
				continue
			}
			seenChannel[c.ID] = true
			out.Channels = append(out.Channels, c)
		}
		for _, p := range d.Programmes {
			k := progKey{p.Channel, p.Start.Unix(), p.Stop.Unix()}
			if seenProg[k] {
				continue
			}
			seenProg[k] = true
			out.Programmes = append(out.Programmes, p)
		}
	}
	sort.SliceStable(out.Channels, func(i, j int) bool {
		return out.Channels[i].ID < out.Channels[j].ID
	})
	sort.SliceStable(out.Programmes, func(i, j int) bool {
		if out.Programmes[i].Channel != out.Programmes[j].Channel {
			return out.Programmes[i].Channel < out.Programmes[j].Channel
		}
		return out.Programmes[i].Start.Before(out.Programmes[j].Start)
	})
	return out
}
