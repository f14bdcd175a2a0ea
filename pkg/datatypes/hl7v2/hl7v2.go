// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

// Package hl7v2 converts HL7 v2 ER7 messages to and from canonical XML.
// Delimiters are detected from MSH.1 and MSH.2; the MSH.1/MSH.2 fields are
// implicit in ER7 output and never emitted as numbered fields.
package hl7v2

import (
	"io"
	"strings"

	"github.com/donkeyengine/donkey/pkg/datatypes"
)

// DataTypeName is the registry name.
const DataTypeName = "HL7V2"

// Delimiters holds the five ER7 separators of one message.
type Delimiters struct {
	Field        byte
	Component    byte
	Repetition   byte
	Escape       byte
	Subcomponent byte
}

// DefaultDelimiters are the customary HL7 v2 separators.
func DefaultDelimiters() Delimiters {
	return Delimiters{Field: '|', Component: '^', Repetition: '~', Escape: '\\', Subcomponent: '&'}
}

// HL7V2 implements datatypes.DataType for HL7 v2.
type HL7V2 struct {
	// SegmentDelimiter terminates segments in serialized output.
	SegmentDelimiter string
}

// New returns an HL7 v2 data type with the standard segment delimiter.
func New() *HL7V2 {
	return &HL7V2{SegmentDelimiter: "\r"}
}

// Name implements datatypes.DataType.
func (h *HL7V2) Name() string { return DataTypeName }

// IsSerializationRequired implements datatypes.DataType.
func (h *HL7V2) IsSerializationRequired(bool) bool { return true }

// TransformWithoutSerializing implements datatypes.DataType. ER7 always
// serializes through the canonical form.
func (h *HL7V2) TransformWithoutSerializing(string, datatypes.DataType) (string, bool) {
	return "", false
}

// ToXML implements datatypes.DataType.
func (h *HL7V2) ToXML(message string) (string, error) {
	msg, err := parseER7(message)
	if err != nil {
		return "", err
	}
	return msg.toXML(), nil
}

// FromXML implements datatypes.DataType.
func (h *HL7V2) FromXML(xml string) (string, error) {
	msg, err := parseXML(xml)
	if err != nil {
		return "", err
	}
	return msg.toER7(h.segmentDelimiter()), nil
}

func (h *HL7V2) segmentDelimiter() string {
	if h.SegmentDelimiter == "" {
		return "\r"
	}
	return h.SegmentDelimiter
}

// PopulateMetaData implements datatypes.DataType: type from MSH.9.1,
// version from MSH.12, source from MSH.3.
func (h *HL7V2) PopulateMetaData(message string, metadata map[string]interface{}) {
	msg, err := parseER7(message)
	if err != nil {
		return
	}
	msh := msg.segment("MSH")
	if msh == nil {
		return
	}
	if v := msh.component(3, 1, 1); v != "" {
		metadata[datatypes.MetaDataSourceKey] = v
	}
	if v := msh.component(9, 1, 1); v != "" {
		metadata[datatypes.MetaDataTypeKey] = v
	}
	if v := msh.component(12, 1, 1); v != "" {
		metadata[datatypes.MetaDataVersionKey] = v
	}
}

// NewBatchAdaptor implements datatypes.BatchProvider. Messages within a
// batch start at each MSH segment; FHS/BHS/BTS/FTS envelope segments are
// discarded.
func (h *HL7V2) NewBatchAdaptor(r io.Reader) datatypes.BatchAdaptor {
	return newBatchAdaptor(r)
}

// ControlID returns MSH.10 of message, or "".
func ControlID(message string) string {
	msg, err := parseER7(message)
	if err != nil {
		return ""
	}
	if msh := msg.segment("MSH"); msh != nil {
		return msh.component(10, 1, 1)
	}
	return ""
}

func (m *er7Message) segment(name string) *er7Segment {
	for _, seg := range m.segments {
		if seg.name == name {
			return seg
		}
	}
	return nil
}

// component returns the raw value at (field, component, subcomponent) of
// the first repetition, 1-based.
func (s *er7Segment) component(field, comp, sub int) string {
	if field > len(s.fields) {
		return ""
	}
	f := s.fields[field-1]
	if len(f.repetitions) == 0 {
		return ""
	}
	rep := f.repetitions[0]
	if comp > len(rep.components) {
		return ""
	}
	c := rep.components[comp-1]
	if sub > len(c.subcomponents) {
		return ""
	}
	return c.subcomponents[sub-1]
}

func trimTrailingEmpty(values []string) []string {
	end := len(values)
	for end > 0 && strings.TrimSpace(values[end-1]) == "" {
		end--
	}
	return values[:end]
}
