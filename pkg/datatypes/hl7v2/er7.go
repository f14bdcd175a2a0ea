// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package hl7v2

import (
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/donkeyengine/donkey/pkg/datatypes"
)

type er7Message struct {
	delims   Delimiters
	segments []*er7Segment
}

type er7Segment struct {
	name   string
	fields []*er7Field
}

type er7Field struct {
	repetitions []*er7Repetition
}

type er7Repetition struct {
	components []*er7Component
}

type er7Component struct {
	subcomponents []string
}

func serr(offset int, format string, args ...interface{}) error {
	return datatypes.NewSerializationError(DataTypeName, offset, format, args...)
}

// parseER7 parses an ER7 message, detecting the field separator from MSH.1
// and the encoding characters from MSH.2.
func parseER7(message string) (*er7Message, error) {
	trimmed := strings.TrimRight(message, "\r\n \t")
	if len(trimmed) < 4 {
		return nil, serr(0, "message too short")
	}

	delims := DefaultDelimiters()
	if strings.HasPrefix(trimmed, "MSH") {
		delims.Field = trimmed[3]
		rest := trimmed[4:]
		end := strings.IndexByte(rest, delims.Field)
		if end < 0 {
			end = len(rest)
		}
		encoding := rest[:end]
		if len(encoding) > 0 {
			delims.Component = encoding[0]
		}
		if len(encoding) > 1 {
			delims.Repetition = encoding[1]
		}
		if len(encoding) > 2 {
			delims.Escape = encoding[2]
		}
		if len(encoding) > 3 {
			delims.Subcomponent = encoding[3]
		}
	}

	msg := &er7Message{delims: delims}
	offset := 0
	for _, line := range strings.FieldsFunc(trimmed, func(r rune) bool { return r == '\r' || r == '\n' }) {
		if len(line) < 3 {
			return nil, serr(offset, "segment %q too short", line)
		}
		seg := &er7Segment{name: line[:3]}
		if len(line) > 3 {
			if line[3] != delims.Field {
				return nil, serr(offset+3, "expected field separator %q in segment %s", string(delims.Field), seg.name)
			}
			body := line[4:]
			if seg.name == "MSH" {
				end := strings.IndexByte(body, delims.Field)
				if end < 0 {
					end = len(body)
				}
				// MSH.1 and MSH.2 are literal values, never split on the
				// delimiters they define
				seg.fields = append(seg.fields,
					literalField(string(delims.Field)),
					literalField(body[:end]))
				if end < len(body) {
					body = body[end+1:]
				} else {
					body = ""
				}
				if body != "" {
					for _, raw := range strings.Split(body, string(delims.Field)) {
						seg.fields = append(seg.fields, parseField(raw, delims))
					}
				}
			} else {
				for _, raw := range strings.Split(body, string(delims.Field)) {
					seg.fields = append(seg.fields, parseField(raw, delims))
				}
			}
		}
		msg.segments = append(msg.segments, seg)
		offset += len(line) + 1
	}
	if len(msg.segments) == 0 {
		return nil, serr(0, "no segments")
	}
	return msg, nil
}

func literalField(value string) *er7Field {
	return &er7Field{repetitions: []*er7Repetition{{
		components: []*er7Component{{subcomponents: []string{value}}},
	}}}
}

func parseField(raw string, delims Delimiters) *er7Field {
	field := &er7Field{}
	for _, rep := range strings.Split(raw, string(delims.Repetition)) {
		repetition := &er7Repetition{}
		for _, comp := range strings.Split(rep, string(delims.Component)) {
			repetition.components = append(repetition.components, &er7Component{
				subcomponents: strings.Split(comp, string(delims.Subcomponent)),
			})
		}
		field.repetitions = append(field.repetitions, repetition)
	}
	return field
}

// toXML emits the canonical representation. Elements are named
// SEG.field[.component[.subcomponent]]; each field repetition is its own
// field element.
func (m *er7Message) toXML() string {
	var b strings.Builder
	b.WriteString("<HL7Message>")
	for _, seg := range m.segments {
		b.WriteString("<" + seg.name + ">")
		for i, field := range seg.fields {
			name := seg.name + "." + strconv.Itoa(i+1)
			for _, rep := range field.repetitions {
				b.WriteString("<" + name + ">")
				if len(rep.components) == 1 && len(rep.components[0].subcomponents) == 1 {
					b.WriteString(xmlEscape(rep.components[0].subcomponents[0]))
				} else {
					for j, comp := range rep.components {
						compName := name + "." + strconv.Itoa(j+1)
						b.WriteString("<" + compName + ">")
						if len(comp.subcomponents) == 1 {
							b.WriteString(xmlEscape(comp.subcomponents[0]))
						} else {
							for k, sub := range comp.subcomponents {
								subName := compName + "." + strconv.Itoa(k+1)
								b.WriteString("<" + subName + ">" + xmlEscape(sub) + "</" + subName + ">")
							}
						}
						b.WriteString("</" + compName + ">")
					}
				}
				b.WriteString("</" + name + ">")
			}
		}
		b.WriteString("</" + seg.name + ">")
	}
	b.WriteString("</HL7Message>")
	return b.String()
}

// parseXML rebuilds the message tree from canonical XML. XML entity
// escaping is reversed by the decoder.
func parseXML(doc string) (*er7Message, error) {
	dec := xml.NewDecoder(strings.NewReader(doc))
	msg := &er7Message{delims: DefaultDelimiters()}

	var seg *er7Segment
	var field *er7Field
	var rep *er7Repetition
	var comp *er7Component
	var depth int
	var text strings.Builder

	flushText := func() string {
		s := text.String()
		text.Reset()
		return s
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, serr(int(dec.InputOffset()), "invalid XML: %v", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			flushText()
			switch depth {
			case 2:
				seg = &er7Segment{name: t.Name.Local}
				msg.segments = append(msg.segments, seg)
			case 3:
				idx, err := elementIndex(t.Name.Local, 2)
				if err != nil {
					return nil, serr(int(dec.InputOffset()), "bad field element %s", t.Name.Local)
				}
				for len(seg.fields) < idx {
					seg.fields = append(seg.fields, &er7Field{})
				}
				field = seg.fields[idx-1]
				rep = &er7Repetition{}
				field.repetitions = append(field.repetitions, rep)
				comp = nil
			case 4:
				idx, err := elementIndex(t.Name.Local, 3)
				if err != nil {
					return nil, serr(int(dec.InputOffset()), "bad component element %s", t.Name.Local)
				}
				for len(rep.components) < idx {
					rep.components = append(rep.components, &er7Component{})
				}
				comp = rep.components[idx-1]
			case 5:
				idx, err := elementIndex(t.Name.Local, 4)
				if err != nil {
					return nil, serr(int(dec.InputOffset()), "bad subcomponent element %s", t.Name.Local)
				}
				for len(comp.subcomponents) < idx {
					comp.subcomponents = append(comp.subcomponents, "")
				}
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			value := flushText()
			switch depth {
			case 3:
				if len(rep.components) == 0 {
					rep.components = []*er7Component{{subcomponents: []string{value}}}
				}
			case 4:
				if comp != nil && len(comp.subcomponents) == 0 {
					comp.subcomponents = []string{value}
				}
			case 5:
				comp.subcomponents[len(comp.subcomponents)-1] = value
			}
			depth--
		}
	}
	if len(msg.segments) == 0 {
		return nil, serr(0, "no segments in XML")
	}
	msg.applyDelimiters()
	return msg, nil
}

// applyDelimiters picks up the separators declared in MSH.1 and MSH.2.
func (m *er7Message) applyDelimiters() {
	msh := m.segment("MSH")
	if msh == nil {
		return
	}
	if v := msh.component(1, 1, 1); len(v) == 1 {
		m.delims.Field = v[0]
	}
	if enc := msh.component(2, 1, 1); enc != "" {
		if len(enc) > 0 {
			m.delims.Component = enc[0]
		}
		if len(enc) > 1 {
			m.delims.Repetition = enc[1]
		}
		if len(enc) > 2 {
			m.delims.Escape = enc[2]
		}
		if len(enc) > 3 {
			m.delims.Subcomponent = enc[3]
		}
	}
}

// toER7 serializes back to wire form. MSH.1 and MSH.2 are implicit: the
// separator after the segment name and the encoding characters field.
// Trailing empty components and subcomponents are trimmed before joining.
func (m *er7Message) toER7(segmentDelimiter string) string {
	d := m.delims
	var b strings.Builder
	for _, seg := range m.segments {
		b.WriteString(seg.name)
		fields := seg.fields
		if seg.name == "MSH" {
			b.WriteByte(d.Field)
			if len(fields) >= 2 {
				b.WriteString(fields[1].value(d))
				fields = fields[2:]
			} else {
				fields = nil
			}
			for _, field := range fields {
				b.WriteByte(d.Field)
				b.WriteString(field.value(d))
			}
		} else {
			for _, field := range fields {
				b.WriteByte(d.Field)
				b.WriteString(field.value(d))
			}
		}
		b.WriteString(segmentDelimiter)
	}
	return b.String()
}

func (f *er7Field) value(d Delimiters) string {
	reps := make([]string, 0, len(f.repetitions))
	for _, rep := range f.repetitions {
		comps := make([]string, 0, len(rep.components))
		for _, comp := range rep.components {
			subs := trimTrailingEmpty(comp.subcomponents)
			comps = append(comps, strings.Join(subs, string(d.Subcomponent)))
		}
		comps = trimTrailingEmpty(comps)
		reps = append(reps, strings.Join(comps, string(d.Component)))
	}
	return strings.Join(reps, string(d.Repetition))
}

func elementIndex(name string, dots int) (int, error) {
	parts := strings.Split(name, ".")
	if len(parts) != dots {
		return 0, strconv.ErrSyntax
	}
	return strconv.Atoi(parts[len(parts)-1])
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func xmlEscape(s string) string {
	return xmlEscaper.Replace(s)
}
