// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

// Package rawtype is the identity data type: no serialization, no
// metadata, payloads move through the pipeline untouched.
package rawtype

import (
	"io"

	"github.com/donkeyengine/donkey/pkg/datatypes"
)

// DataTypeName is the registry name.
const DataTypeName = "RAW"

// Raw implements datatypes.DataType.
type Raw struct{}

// New returns the raw data type.
func New() *Raw { return &Raw{} }

// Name implements datatypes.DataType.
func (r *Raw) Name() string { return DataTypeName }

// IsSerializationRequired implements datatypes.DataType.
func (r *Raw) IsSerializationRequired(bool) bool { return false }

// TransformWithoutSerializing implements datatypes.DataType.
func (r *Raw) TransformWithoutSerializing(message string, _ datatypes.DataType) (string, bool) {
	return message, true
}

// ToXML implements datatypes.DataType. Raw has no canonical XML form.
func (r *Raw) ToXML(string) (string, error) { return "", nil }

// FromXML implements datatypes.DataType.
func (r *Raw) FromXML(string) (string, error) { return "", nil }

// PopulateMetaData implements datatypes.DataType.
func (r *Raw) PopulateMetaData(string, map[string]interface{}) {}

// NewBatchAdaptor implements datatypes.BatchProvider. Raw payloads have
// no intrinsic batch structure, so the whole payload is one message.
func (r *Raw) NewBatchAdaptor(reader io.Reader) datatypes.BatchAdaptor {
	return &batchAdaptor{reader: reader}
}

type batchAdaptor struct {
	reader io.Reader
	done   bool
}

// Next returns the payload once, then io.EOF.
func (b *batchAdaptor) Next() (string, error) {
	if b.done {
		return "", io.EOF
	}
	b.done = true
	raw, err := io.ReadAll(b.reader)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
