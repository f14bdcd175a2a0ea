// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

// Package hl7v3 handles HL7 v3 messages, which are already XML. The
// interaction name comes from the document's root element.
package hl7v3

import (
	"regexp"
	"strings"

	"github.com/clbanning/mxj/v2"

	"github.com/donkeyengine/donkey/pkg/datatypes"
)

// DataTypeName is the registry name.
const DataTypeName = "HL7V3"

// HL7V3 implements datatypes.DataType.
type HL7V3 struct {
	// StripNamespaces removes xmlns declarations and prefixes, which the
	// v3 schemas use heavily.
	StripNamespaces bool
}

// New returns an HL7 v3 data type with namespace stripping enabled.
func New() *HL7V3 { return &HL7V3{StripNamespaces: true} }

// Name implements datatypes.DataType.
func (h *HL7V3) Name() string { return DataTypeName }

// IsSerializationRequired implements datatypes.DataType.
func (h *HL7V3) IsSerializationRequired(bool) bool { return h.StripNamespaces }

// TransformWithoutSerializing implements datatypes.DataType.
func (h *HL7V3) TransformWithoutSerializing(message string, outbound datatypes.DataType) (string, bool) {
	if other, ok := outbound.(*HL7V3); ok && other.StripNamespaces == h.StripNamespaces {
		return message, true
	}
	return "", false
}

var (
	xmlnsAttrPattern = regexp.MustCompile(`\s+xmlns(:[A-Za-z0-9_.-]+)?\s*=\s*"[^"]*"`)
	prefixPattern    = regexp.MustCompile(`(</?)[A-Za-z0-9_.-]+:`)
)

// ToXML implements datatypes.DataType.
func (h *HL7V3) ToXML(message string) (string, error) {
	if _, err := mxj.NewMapXml([]byte(message)); err != nil {
		return "", datatypes.NewSerializationError(DataTypeName, 0, "invalid XML: %v", err)
	}
	if !h.StripNamespaces {
		return message, nil
	}
	stripped := xmlnsAttrPattern.ReplaceAllString(message, "")
	return prefixPattern.ReplaceAllString(stripped, "$1"), nil
}

// FromXML implements datatypes.DataType.
func (h *HL7V3) FromXML(doc string) (string, error) { return doc, nil }

// PopulateMetaData implements datatypes.DataType: the root element is the
// interaction identifier, e.g. PRPA_IN201301UV02.
func (h *HL7V3) PopulateMetaData(message string, metadata map[string]interface{}) {
	m, err := mxj.NewMapXml([]byte(message))
	if err != nil {
		return
	}
	for root := range m {
		if i := strings.LastIndex(root, ":"); i >= 0 {
			root = root[i+1:]
		}
		metadata[datatypes.MetaDataTypeKey] = root
	}
	metadata[datatypes.MetaDataVersionKey] = "3.0"
}
