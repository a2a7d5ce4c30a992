package hl7v2

import (
	"fmt"
	"strings"
	"time"
)

// Default HL7v2 encoding characters (MSH-2).
const (
	defaultComponentSep    = '^'
	defaultRepetitionSep   = '~'
	defaultSubcomponentSep = '&'
)

// Message represents a parsed HL7v2 message.
type Message struct {
	Type      string    // MSH-9 message type (e.g. "ADT^A01")
	ControlID string    // MSH-10
	Version   string    // MSH-12 (e.g. "2.5.1")
	Timestamp time.Time // MSH-7
	Segments  []Segment

	enc encoding
}

// Segment represents a single HL7v2 segment.
type Segment struct {
	Name   string // e.g. "MSH", "PID", "OBR", "OBX"
	Fields []Field
}

// Field is one field of a segment. Repeats holds every repetition split into
// components, and each component split into subcomponents.
type Field struct {
	Value   string
	Repeats [][][]string
}

// encoding holds the delimiters declared by MSH-1 and MSH-2.
type encoding struct {
	field        byte
	component    byte
	repetition   byte
	subcomponent byte
}

// ParseMessage parses one raw HL7v2 message into a Message.
// Segments may be separated by \r, \n or \r\n.
func ParseMessage(raw string) (*Message, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("hl7v2: message is empty")
	}

	text := strings.ReplaceAll(raw, "\r\n", "\r")
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
		return nil, fmt.Errorf("hl7v2: first segment must be MSH, got %q", lines[0][:min(3, len(lines[0]))])
	}

	enc, err := readEncoding(lines[0])
	if err != nil {
		return nil, err
	}

	msg := &Message{enc: enc}
	for i, line := range lines {
		seg, err := enc.parseSegment(line)
		if err != nil {
			return nil, fmt.Errorf("hl7v2: segment %d: %w", i+1, err)
		}
		msg.Segments = append(msg.Segments, seg)
	}

	msg.readHeader()
	return msg, nil
}

// readEncoding takes the delimiters from the MSH header. MSH-1 is the
// character right after "MSH"; MSH-2 lists component, repetition, escape and
// subcomponent characters in that order. Missing characters fall back to the
// standard defaults.
func readEncoding(msh string) (encoding, error) {
	enc := encoding{
		field:        '|',
		component:    defaultComponentSep,
		repetition:   defaultRepetitionSep,
		subcomponent: defaultSubcomponentSep,
	}
	if len(msh) < 4 {
		return enc, nil
	}
	enc.field = msh[3]
	if isAlnum(enc.field) {
		return enc, fmt.Errorf("hl7v2: invalid field separator %q", enc.field)
	}

	chars := msh[4:]
	if i := strings.IndexByte(chars, enc.field); i >= 0 {
		chars = chars[:i]
	}
	if len(chars) > 0 && !isAlnum(chars[0]) {
		enc.component = chars[0]
	}
	if len(chars) > 1 && !isAlnum(chars[1]) {
		enc.repetition = chars[1]
	}
	if len(chars) > 3 && !isAlnum(chars[3]) {
		enc.subcomponent = chars[3]
	}
	return enc, nil
}

func (e encoding) parseSegment(line string) (Segment, error) {
	if len(line) < 3 {
		return Segment{}, fmt.Errorf("segment too short: %q", line)
	}

	sep := string(e.field)

	// MSH-1 is the field separator itself and MSH-2 must not be split on
	// the encoding characters it declares.
	if strings.HasPrefix(line, "MSH") {
		seg := Segment{Name: "MSH"}
		if len(line) < 4 {
			return seg, nil
		}
		seg.Fields = append(seg.Fields, Field{Value: sep, Repeats: [][][]string{{{sep}}}})
		parts := strings.Split(line[4:], sep)
		for i, part := range parts {
			if i == 0 {
				seg.Fields = append(seg.Fields, Field{Value: part, Repeats: [][][]string{{{part}}}})
				continue
			}
			seg.Fields = append(seg.Fields, e.parseField(part))
		}
		return seg, nil
	}

	name, rest, found := strings.Cut(line, sep)
	seg := Segment{Name: name}
	if !found {
		return seg, nil
	}
	for _, f := range strings.Split(rest, sep) {
		seg.Fields = append(seg.Fields, e.parseField(f))
	}
	return seg, nil
}

func (e encoding) parseField(raw string) Field {
	f := Field{Value: raw}
	for _, rep := range strings.Split(raw, string(e.repetition)) {
		var comps [][]string
		for _, comp := range strings.Split(rep, string(e.component)) {
			comps = append(comps, strings.Split(comp, string(e.subcomponent)))
		}
		f.Repeats = append(f.Repeats, comps)
	}
	return f
}

// readHeader copies commonly used MSH fields onto the Message.
func (m *Message) readHeader() {
	msh := m.GetSegment("MSH")
	if msh == nil {
		return
	}
	if ts := msh.GetField(7); ts != "" {
		if t, err := parseHL7Timestamp(ts); err == nil {
			m.Timestamp = t
		}
	}
	m.Type = msh.GetField(9)
	m.ControlID = msh.GetField(10)
	m.Version = msh.GetField(12)
}

// parseHL7Timestamp parses an HL7v2 timestamp string (YYYYMMDDHHmmss or YYYYMMDD).
func parseHL7Timestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch {
	case len(s) >= 14:
		return time.Parse("20060102150405", s[:14])
	case len(s) >= 12:
		return time.Parse("200601021504", s[:12])
	case len(s) >= 8:
		return time.Parse("20060102", s[:8])
	default:
		return time.Time{}, fmt.Errorf("hl7v2: unrecognized timestamp format: %q", s)
	}
}

// GetSegment returns the first segment with the given name, or nil if not found.
func (m *Message) GetSegment(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// GetField returns the value of a field by 1-based HL7 position. For MSH,
// position 1 is the field separator.
func (s *Segment) GetField(index int) string {
	idx := index - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	return s.Fields[idx].Value
}

func isAlnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
