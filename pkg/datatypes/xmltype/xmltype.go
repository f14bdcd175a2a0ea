// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

// Package xmltype handles messages that are already XML. Serialization is
// the identity apart from optional namespace stripping.
package xmltype

import (
	"regexp"

	"github.com/clbanning/mxj/v2"

	"github.com/donkeyengine/donkey/pkg/datatypes"
)

// DataTypeName is the registry name.
const DataTypeName = "XML"

// XML implements datatypes.DataType.
type XML struct {
	// StripNamespaces removes xmlns declarations and element/attribute
	// prefixes during serialization.
	StripNamespaces bool
}

// New returns an XML data type that leaves namespaces alone.
func New() *XML { return &XML{} }

// Name implements datatypes.DataType.
func (x *XML) Name() string { return DataTypeName }

// IsSerializationRequired reports whether the serializer changes the
// document. Only namespace stripping does.
func (x *XML) IsSerializationRequired(bool) bool { return x.StripNamespaces }

// TransformWithoutSerializing implements datatypes.DataType.
func (x *XML) TransformWithoutSerializing(message string, outbound datatypes.DataType) (string, bool) {
	if other, ok := outbound.(*XML); ok && other.StripNamespaces == x.StripNamespaces {
		return message, true
	}
	return "", false
}

var (
	xmlnsAttrPattern = regexp.MustCompile(`\s+xmlns(:[A-Za-z0-9_.-]+)?\s*=\s*"[^"]*"`)
	prefixPattern    = regexp.MustCompile(`(</?)[A-Za-z0-9_.-]+:`)
)

// ToXML implements datatypes.DataType. The document is validated and,
// when configured, namespaces are stripped.
func (x *XML) ToXML(message string) (string, error) {
	if _, err := mxj.NewMapXml([]byte(message)); err != nil {
		return "", datatypes.NewSerializationError(DataTypeName, 0, "invalid XML: %v", err)
	}
	if !x.StripNamespaces {
		return message, nil
	}
	stripped := xmlnsAttrPattern.ReplaceAllString(message, "")
	return prefixPattern.ReplaceAllString(stripped, "$1"), nil
}

// FromXML implements datatypes.DataType.
func (x *XML) FromXML(doc string) (string, error) { return doc, nil }

// PopulateMetaData implements datatypes.DataType: the root element name
// becomes the message type.
func (x *XML) PopulateMetaData(message string, metadata map[string]interface{}) {
	m, err := mxj.NewMapXml([]byte(message))
	if err != nil {
		return
	}
	// a well-formed document has exactly one root key
	for root := range m {
		metadata[datatypes.MetaDataTypeKey] = root
	}
}
