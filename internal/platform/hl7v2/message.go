// Package hl7v2 parses HL7v2 messages, maps ADT trigger events onto the
// ingestion message types, and serves the MLLP listener the upstream trust
// integration engine delivers into.
package hl7v2

import (
	"fmt"
	"strings"
	"time"
)

// Message is a parsed HL7v2 message with the MSH header lifted out.
type Message struct {
	Type         string    // MSH-9, e.g. "ADT^A01"
	Trigger      string    // MSH-9.2, e.g. "A01"
	ControlID    string    // MSH-10
	Version      string    // MSH-12
	Timestamp    time.Time // MSH-7
	SendingApp   string    // MSH-3
	SendingFac   string    // MSH-4
	ReceivingApp string    // MSH-5
	ReceivingFac string    // MSH-6
	Segments     []Segment
}

// Segment is one segment line, e.g. PID or PV1.
type Segment struct {
	Name   string
	Fields []Field
}

// Field holds the raw field text plus its component (^) and repetition (~)
// breakdown.
type Field struct {
	Value      string
	Components []string
	Repeats    [][]string
}

// Parse parses raw HL7v2 bytes. Segment separators may be \r, \n or \r\n.
func Parse(raw []byte, loc *time.Location) (*Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("hl7v2: message is empty")
	}
	if loc == nil {
		loc = time.UTC
	}

	text := strings.ReplaceAll(string(raw), "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	var lines []string
	for _, line := range strings.Split(text, "\r") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("hl7v2: no segments found")
	}
	if !strings.HasPrefix(lines[0], "MSH") {
		return nil, fmt.Errorf("hl7v2: first segment must be MSH")
	}

	msg := &Message{}
	for _, line := range lines {
		seg, err := parseSegment(line)
		if err != nil {
			return nil, fmt.Errorf("hl7v2: %w", err)
		}
		msg.Segments = append(msg.Segments, seg)
	}
	if err := msg.liftHeader(loc); err != nil {
		return nil, err
	}
	return msg, nil
}

func parseSegment(line string) (Segment, error) {
	if len(line) < 3 {
		return Segment{}, fmt.Errorf("segment too short: %q", line)
	}

	seg := Segment{}

	// MSH is special: the field separator character is itself MSH-1, so the
	// fields slice is offset by one relative to other segments.
	if strings.HasPrefix(line, "MSH") {
		seg.Name = "MSH"
		if len(line) < 4 {
			return seg, nil
		}
		sep := string(line[3])
		seg.Fields = append(seg.Fields, Field{Value: sep, Components: []string{sep}})
		for _, part := range strings.Split(line[4:], sep) {
			seg.Fields = append(seg.Fields, parseField(part))
		}
		return seg, nil
	}

	parts := strings.SplitN(line, "|", 2)
	seg.Name = parts[0]
	if len(parts) > 1 {
		for _, f := range strings.Split(parts[1], "|") {
			seg.Fields = append(seg.Fields, parseField(f))
		}
	}
	return seg, nil
}

func parseField(raw string) Field {
	f := Field{Value: raw}
	for _, rep := range strings.Split(raw, "~") {
		f.Repeats = append(f.Repeats, strings.Split(rep, "^"))
	}
	f.Components = f.Repeats[0]
	return f
}

func (m *Message) liftHeader(loc *time.Location) error {
	msh := m.Segment("MSH")
	if msh == nil {
		return fmt.Errorf("hl7v2: MSH segment not found")
	}

	m.SendingApp = msh.Field(3)
	m.SendingFac = msh.Field(4)
	m.ReceivingApp = msh.Field(5)
	m.ReceivingFac = msh.Field(6)
	m.Type = msh.Field(9)
	m.Trigger = msh.Component(9, 2)
	m.ControlID = msh.Field(10)
	m.Version = msh.Field(12)

	if ts := msh.Field(7); ts != "" {
		t, err := ParseTimestamp(ts, loc)
		if err != nil {
			return fmt.Errorf("hl7v2: bad MSH-7 timestamp %q: %w", ts, err)
		}
		m.Timestamp = t
	}
	return nil
}

// ParseTimestamp parses an HL7 DTM value. A trailing UTC offset (e.g. +0100)
// wins; otherwise the value is read in loc, which should be the hospital's
// local zone.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if loc == nil {
		loc = time.UTC
	}

	// Separate a trailing UTC offset, then drop sub-second precision; the
	// feeds do not agree on either.
	offset := ""
	if i := strings.LastIndexAny(s, "+-"); i > 0 {
		offset, s = s[i:], s[:i]
	}
	if i := strings.IndexByte(s, '.'); i > 0 {
		s = s[:i]
	}

	if offset != "" {
		t, err := time.Parse("20060102150405-0700", s+offset)
		if err != nil {
			return time.Time{}, fmt.Errorf("hl7v2: unrecognized timestamp %q", s+offset)
		}
		return t.UTC(), nil
	}

	var layout string
	switch {
	case len(s) >= 14:
		layout, s = "20060102150405", s[:14]
	case len(s) >= 12:
		layout, s = "200601021504", s[:12]
	case len(s) >= 8:
		layout, s = "20060102", s[:8]
	default:
		return time.Time{}, fmt.Errorf("hl7v2: unrecognized timestamp %q", s)
	}
	t, err := time.ParseInLocation(layout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("hl7v2: unrecognized timestamp %q", s)
	}
	return t.UTC(), nil
}

// Segment returns the first segment with the given name, or nil.
func (m *Message) Segment(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// AllSegments returns every segment with the given name, in order.
func (m *Message) AllSegments(name string) []*Segment {
	var out []*Segment
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			out = append(out, &m.Segments[i])
		}
	}
	return out
}

// Field returns a field value by its 1-based HL7 index. For MSH the field
// separator counts as MSH-1, matching the standard's numbering.
func (s *Segment) Field(index int) string {
	idx := index - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	return s.Fields[idx].Value
}

// Component returns a component by 1-based field and component indices.
func (s *Segment) Component(fieldIdx, compIdx int) string {
	idx := fieldIdx - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	ci := compIdx - 1
	comps := s.Fields[idx].Components
	if ci < 0 || ci >= len(comps) {
		return ""
	}
	return comps[ci]
}

// Repeats returns the repetition breakdown of a field by 1-based index.
func (s *Segment) RepeatsOf(fieldIdx int) [][]string {
	idx := fieldIdx - 1
	if idx < 0 || idx >= len(s.Fields) {
		return nil
	}
	return s.Fields[idx].Repeats
}
