// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

// Package jsontype handles JSON messages. Transformers operate on the
// JSON directly, so serialization is a validating pass-through.
package jsontype

import (
	"encoding/json"
	"strings"

	"github.com/clbanning/mxj/v2"

	"github.com/donkeyengine/donkey/pkg/datatypes"
)

// DataTypeName is the registry name.
const DataTypeName = "JSON"

// JSON implements datatypes.DataType.
type JSON struct{}

// New returns the JSON data type.
func New() *JSON { return &JSON{} }

// Name implements datatypes.DataType.
func (j *JSON) Name() string { return DataTypeName }

// IsSerializationRequired implements datatypes.DataType.
func (j *JSON) IsSerializationRequired(bool) bool { return false }

// TransformWithoutSerializing implements datatypes.DataType.
func (j *JSON) TransformWithoutSerializing(message string, outbound datatypes.DataType) (string, bool) {
	if _, ok := outbound.(*JSON); ok {
		return message, true
	}
	return "", false
}

// ToXML implements datatypes.DataType: the message passes through
// structurally unchanged after validation.
func (j *JSON) ToXML(message string) (string, error) {
	if strings.HasPrefix(strings.TrimSpace(message), "{") {
		if _, err := mxj.NewMapJson([]byte(message)); err != nil {
			return "", datatypes.NewSerializationError(DataTypeName, 0, "invalid JSON: %v", err)
		}
	} else if !json.Valid([]byte(message)) {
		return "", datatypes.NewSerializationError(DataTypeName, 0, "invalid JSON")
	}
	return message, nil
}

// FromXML implements datatypes.DataType.
func (j *JSON) FromXML(doc string) (string, error) { return doc, nil }

// PopulateMetaData implements datatypes.DataType. JSON carries no
// standard envelope.
func (j *JSON) PopulateMetaData(string, map[string]interface{}) {}
