// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

// Package x12 converts X12/EDI interchanges to and from canonical XML.
// Element names are the two-digit convention: ISA.06, GS.08, ST.01.
package x12

import (
	"fmt"
	"io"
	"strings"

	"github.com/donkeyengine/donkey/pkg/datatypes"
)

// DataTypeName is the registry name.
const DataTypeName = "X12"

// isaLength is the fixed byte length of an ISA segment, excluding the
// terminator: "ISA" + 16 elements.
const isaLength = 105

// X12 implements datatypes.DataType for X12/EDI.
type X12 struct {
	// SegmentDelimiter terminates segments. Default "~".
	SegmentDelimiter string
	// ElementDelimiter separates elements. Default "*".
	ElementDelimiter string
	// SubelementDelimiter separates composite subelements. Default ":".
	SubelementDelimiter string
	// InferDelimiters detects the separators from the leading ISA block:
	// the element separator is the byte after "ISA" and the segment
	// terminator is the byte at offset 105.
	InferDelimiters bool
}

// New returns an X12 data type with standard delimiters and inference on.
func New() *X12 {
	return &X12{
		SegmentDelimiter:    "~",
		ElementDelimiter:    "*",
		SubelementDelimiter: ":",
		InferDelimiters:     true,
	}
}

// Name implements datatypes.DataType.
func (x *X12) Name() string { return DataTypeName }

// IsSerializationRequired implements datatypes.DataType.
func (x *X12) IsSerializationRequired(bool) bool { return true }

// TransformWithoutSerializing implements datatypes.DataType.
func (x *X12) TransformWithoutSerializing(string, datatypes.DataType) (string, bool) {
	return "", false
}

type delimiters struct {
	segment    string
	element    string
	subelement string
}

func (x *X12) delimiters(message string) delimiters {
	d := delimiters{
		segment:    orDefault(x.SegmentDelimiter, "~"),
		element:    orDefault(x.ElementDelimiter, "*"),
		subelement: orDefault(x.SubelementDelimiter, ":"),
	}
	if !x.InferDelimiters || !strings.HasPrefix(message, "ISA") || len(message) <= isaLength {
		return d
	}
	d.element = string(message[3])
	d.subelement = string(message[104])
	d.segment = string(message[105])
	if message[105] == '\r' && len(message) > 106 && message[106] == '\n' {
		d.segment = "\r\n"
	}
	return d
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// ToXML implements datatypes.DataType. The detected delimiters are carried
// as attributes of the root element so FromXML can reproduce the original
// wire form.
func (x *X12) ToXML(message string) (string, error) {
	message = strings.TrimRight(message, " \t\r\n")
	if len(message) < 3 {
		return "", datatypes.NewSerializationError(DataTypeName, 0, "message too short")
	}
	d := x.delimiters(message)

	var b strings.Builder
	b.WriteString(fmt.Sprintf(`<X12 segment="%s" element="%s" subelement="%s">`,
		datatypes.AttrEscape(d.segment), datatypes.AttrEscape(d.element), datatypes.AttrEscape(d.subelement)))

	offset := 0
	for _, rawSeg := range strings.Split(message, d.segment) {
		seg := strings.Trim(rawSeg, "\r\n")
		if seg == "" {
			offset += len(rawSeg) + len(d.segment)
			continue
		}
		elements := strings.Split(seg, d.element)
		id := elements[0]
		if id == "" {
			return "", datatypes.NewSerializationError(DataTypeName, offset, "segment with empty identifier")
		}
		b.WriteString("<" + id + ">")
		for i, element := range elements[1:] {
			name := fmt.Sprintf("%s.%02d", id, i+1)
			b.WriteString("<" + name + ">")
			subs := strings.Split(element, d.subelement)
			if len(subs) == 1 {
				b.WriteString(datatypes.XMLEscape(element))
			} else {
				for j, sub := range subs {
					subName := fmt.Sprintf("%s.%d", name, j+1)
					b.WriteString("<" + subName + ">" + datatypes.XMLEscape(sub) + "</" + subName + ">")
				}
			}
			b.WriteString("</" + name + ">")
		}
		b.WriteString("</" + id + ">")
		offset += len(rawSeg) + len(d.segment)
	}
	b.WriteString("</X12>")
	return b.String(), nil
}

// FromXML implements datatypes.DataType.
func (x *X12) FromXML(doc string) (string, error) {
	root, err := datatypes.ParseTree(doc)
	if err != nil {
		return "", err
	}
	d := delimiters{
		segment:    orDefault(root.Attrs["segment"], orDefault(x.SegmentDelimiter, "~")),
		element:    orDefault(root.Attrs["element"], orDefault(x.ElementDelimiter, "*")),
		subelement: orDefault(root.Attrs["subelement"], orDefault(x.SubelementDelimiter, ":")),
	}

	var b strings.Builder
	for _, seg := range root.Children {
		b.WriteString(seg.Name)
		for _, element := range seg.Children {
			b.WriteString(d.element)
			if len(element.Children) == 0 {
				b.WriteString(element.Text)
			} else {
				subs := make([]string, 0, len(element.Children))
				for _, sub := range element.Children {
					subs = append(subs, sub.Text)
				}
				b.WriteString(strings.Join(subs, d.subelement))
			}
		}
		b.WriteString(d.segment)
	}
	return b.String(), nil
}

// PopulateMetaData implements datatypes.DataType: source from ISA.06
// falling back to GS.02, type from ST.01, version from GS.08.
func (x *X12) PopulateMetaData(message string, metadata map[string]interface{}) {
	message = strings.TrimRight(message, " \t\r\n")
	d := x.delimiters(message)

	element := func(segID string, index int) string {
		for _, rawSeg := range strings.Split(message, d.segment) {
			seg := strings.Trim(rawSeg, "\r\n")
			if !strings.HasPrefix(seg, segID+d.element) {
				continue
			}
			elements := strings.Split(seg, d.element)
			if index < len(elements) {
				return strings.TrimSpace(elements[index])
			}
			return ""
		}
		return ""
	}

	source := element("ISA", 6)
	if source == "" {
		source = element("GS", 2)
	}
	if source != "" {
		metadata[datatypes.MetaDataSourceKey] = source
	}
	if v := element("ST", 1); v != "" {
		metadata[datatypes.MetaDataTypeKey] = v
	}
	if v := element("GS", 8); v != "" {
		metadata[datatypes.MetaDataVersionKey] = v
	}
}

// NewBatchAdaptor implements datatypes.BatchProvider: each ST..SE
// transaction set becomes one sub-message.
func (x *X12) NewBatchAdaptor(r io.Reader) datatypes.BatchAdaptor {
	return &batchAdaptor{x: x, reader: r}
}

type batchAdaptor struct {
	x        *X12
	reader   io.Reader
	sets     []string
	consumed bool
	pos      int
}

// Next returns the following transaction set, or io.EOF.
func (b *batchAdaptor) Next() (string, error) {
	if !b.consumed {
		raw, err := io.ReadAll(b.reader)
		if err != nil {
			return "", err
		}
		b.consumed = true
		b.sets = b.split(string(raw))
	}
	if b.pos >= len(b.sets) {
		return "", io.EOF
	}
	set := b.sets[b.pos]
	b.pos++
	return set, nil
}

func (b *batchAdaptor) split(message string) []string {
	message = strings.TrimRight(message, " \t\r\n")
	if message == "" {
		return nil
	}
	d := b.x.delimiters(message)
	var sets []string
	var current []string
	inSet := false
	for _, rawSeg := range strings.Split(message, d.segment) {
		seg := strings.Trim(rawSeg, "\r\n")
		if seg == "" {
			continue
		}
		id := seg
		if i := strings.Index(seg, d.element); i >= 0 {
			id = seg[:i]
		}
		switch id {
		case "ST":
			inSet = true
			current = []string{seg}
		case "SE":
			if inSet {
				current = append(current, seg)
				sets = append(sets, strings.Join(current, d.segment)+d.segment)
				current = nil
				inSet = false
			}
		default:
			if inSet {
				current = append(current, seg)
			}
		}
	}
	if len(sets) == 0 {
		// not a batched interchange, pass the whole message through
		return []string{strings.TrimSuffix(message, d.segment) + d.segment}
	}
	return sets
}
