// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

// Package ncpdp converts NCPDP Telecommunication transmissions to and from
// canonical XML. The wire form is a fixed-width transmission header followed
// by control-character delimited groups, segments and fields.
package ncpdp

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/donkeyengine/donkey/pkg/datatypes"
)

// DataTypeName is the registry name.
const DataTypeName = "NCPDP"

// Default control delimiters.
const (
	DefaultSegmentDelimiter = "\x1e"
	DefaultGroupDelimiter   = "\x1d"
	DefaultFieldDelimiter   = "\x1c"
)

// NCPDP implements datatypes.DataType for NCPDP Telecommunication messages.
// Delimiters are configured as literal strings or "0xNN" hex escapes.
type NCPDP struct {
	SegmentDelimiter string
	GroupDelimiter   string
	FieldDelimiter   string
}

// New returns an NCPDP data type with the standard control delimiters.
func New() *NCPDP {
	return &NCPDP{
		SegmentDelimiter: DefaultSegmentDelimiter,
		GroupDelimiter:   DefaultGroupDelimiter,
		FieldDelimiter:   DefaultFieldDelimiter,
	}
}

// ParseDelimiter resolves a configured delimiter. "0xNN" hex escapes are
// decoded to the single byte they name, anything else is taken literally.
func ParseDelimiter(v, def string) string {
	if v == "" {
		return def
	}
	if strings.HasPrefix(v, "0x") || strings.HasPrefix(v, "0X") {
		if n, err := strconv.ParseUint(v[2:], 16, 8); err == nil {
			return string(rune(n))
		}
	}
	return v
}

// Name implements datatypes.DataType.
func (n *NCPDP) Name() string { return DataTypeName }

// IsSerializationRequired implements datatypes.DataType.
func (n *NCPDP) IsSerializationRequired(bool) bool { return true }

// TransformWithoutSerializing implements datatypes.DataType.
func (n *NCPDP) TransformWithoutSerializing(string, datatypes.DataType) (string, bool) {
	return "", false
}

func (n *NCPDP) delims() (segment, group, field string) {
	return ParseDelimiter(n.SegmentDelimiter, DefaultSegmentDelimiter),
		ParseDelimiter(n.GroupDelimiter, DefaultGroupDelimiter),
		ParseDelimiter(n.FieldDelimiter, DefaultFieldDelimiter)
}

// transmission is the parsed wire structure. The header is the fixed-width
// text before the first segment delimiter; groups after the first are the
// per-claim repetitions introduced by the group delimiter.
type transmission struct {
	header string
	groups [][]segment
}

type segment struct {
	fields []field
}

type field struct {
	id    string
	value string
}

func (n *NCPDP) parse(message string) (*transmission, error) {
	segDelim, groupDelim, fieldDelim := n.delims()
	message = strings.TrimRight(message, "\r\n "+groupDelim)

	tx := &transmission{}
	for gi, rawGroup := range strings.Split(message, groupDelim) {
		chunks := strings.Split(rawGroup, segDelim)
		if gi == 0 {
			tx.header = chunks[0]
			if tx.header == "" {
				return nil, datatypes.NewSerializationError(DataTypeName, 0, "missing transmission header")
			}
			chunks = chunks[1:]
		}
		group := make([]segment, 0, len(chunks))
		for _, rawSeg := range chunks {
			if rawSeg == "" {
				continue
			}
			var seg segment
			for _, rawField := range strings.Split(rawSeg, fieldDelim) {
				if rawField == "" {
					continue
				}
				if len(rawField) < 2 {
					offset := strings.Index(message, rawField)
					return nil, datatypes.NewSerializationError(DataTypeName, offset, "field %q shorter than its two-character identifier", rawField)
				}
				seg.fields = append(seg.fields, field{id: rawField[:2], value: rawField[2:]})
			}
			group = append(group, seg)
		}
		tx.groups = append(tx.groups, group)
	}
	return tx, nil
}

// Version reports the Telecommunication standard version of the message,
// "D0" or "51", read from the transmission header. Request headers carry
// the version at offset 6, response headers at offset 2.
func (n *NCPDP) Version(message string) string {
	segDelim, _, _ := n.delims()
	header := message
	if i := strings.Index(message, segDelim); i >= 0 {
		header = message[:i]
	}
	for _, offset := range []int{6, 2} {
		if len(header) >= offset+2 {
			switch header[offset : offset+2] {
			case "D0", "51":
				return header[offset : offset+2]
			}
		}
	}
	if len(header) > 40 {
		return "D0"
	}
	return "51"
}

// ToXML implements datatypes.DataType.
func (n *NCPDP) ToXML(message string) (string, error) {
	tx, err := n.parse(message)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(`<ncpdp version="` + datatypes.AttrEscape(n.Version(message)) + `">`)
	b.WriteString("<header>" + datatypes.XMLEscape(tx.header) + "</header>")
	for _, group := range tx.groups {
		b.WriteString("<group>")
		for _, seg := range group {
			b.WriteString("<segment>")
			for _, f := range seg.fields {
				b.WriteString(`<field id="` + datatypes.AttrEscape(f.id) + `">` + datatypes.XMLEscape(f.value) + "</field>")
			}
			b.WriteString("</segment>")
		}
		b.WriteString("</group>")
	}
	b.WriteString("</ncpdp>")
	return b.String(), nil
}

// FromXML implements datatypes.DataType.
func (n *NCPDP) FromXML(doc string) (string, error) {
	root, err := datatypes.ParseTree(doc)
	if err != nil {
		return "", err
	}
	segDelim, groupDelim, fieldDelim := n.delims()

	var b strings.Builder
	if header := root.Child("header"); header != nil {
		b.WriteString(header.Text)
	}
	first := true
	for _, group := range root.Children {
		if group.Name != "group" {
			continue
		}
		if !first {
			b.WriteString(groupDelim)
		}
		first = false
		for _, seg := range group.Children {
			b.WriteString(segDelim)
			for _, f := range seg.Children {
				b.WriteString(fieldDelim + f.Attrs["id"] + f.Text)
			}
		}
	}
	return b.String(), nil
}

// PopulateMetaData implements datatypes.DataType: source is the six-digit
// BIN, type the transaction code, version the Telecommunication version.
func (n *NCPDP) PopulateMetaData(message string, metadata map[string]interface{}) {
	segDelim, _, _ := n.delims()
	header := message
	if i := strings.Index(message, segDelim); i >= 0 {
		header = message[:i]
	}
	if len(header) >= 6 {
		metadata[datatypes.MetaDataSourceKey] = header[:6]
	}
	if len(header) >= 10 {
		metadata[datatypes.MetaDataTypeKey] = header[8:10]
	}
	metadata[datatypes.MetaDataVersionKey] = n.Version(message)
}

// NewBatchAdaptor implements datatypes.BatchProvider. Transmissions in a
// batch file are newline separated; the control-delimited body of a single
// transmission never spans lines.
func (n *NCPDP) NewBatchAdaptor(r io.Reader) datatypes.BatchAdaptor {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &batchAdaptor{scanner: scanner}
}

type batchAdaptor struct {
	scanner *bufio.Scanner
}

// Next returns the following transmission, or io.EOF.
func (b *batchAdaptor) Next() (string, error) {
	for b.scanner.Scan() {
		line := strings.TrimRight(b.scanner.Text(), "\r ")
		if line == "" {
			continue
		}
		return line, nil
	}
	if err := b.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
