// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

// Package datatypes defines the serializer framework: every wire format
// converts to and from a canonical XML representation so user scripts can
// manipulate messages uniformly.
package datatypes

import (
	"fmt"
	"io"
	"sync"
)

// Well-known metadata keys populated by PopulateMetaData.
const (
	MetaDataSourceKey  = "mirth_source"
	MetaDataTypeKey    = "mirth_type"
	MetaDataVersionKey = "mirth_version"
)

// DataType is the capability set of one wire format.
type DataType interface {
	// Name returns the registry name, e.g. "HL7V2".
	Name() string
	// ToXML converts the wire form to canonical XML.
	ToXML(message string) (string, error)
	// FromXML converts canonical XML back to the wire form.
	FromXML(xml string) (string, error)
	// IsSerializationRequired reports whether the transformation stage
	// must run the full serializer in the given direction.
	IsSerializationRequired(toXML bool) bool
	// TransformWithoutSerializing is an optional shortcut applied when
	// both sides agree no canonical conversion is needed. The bool result
	// reports whether the shortcut applied.
	TransformWithoutSerializing(message string, outbound DataType) (string, bool)
	// PopulateMetaData extracts domain metadata into the provided map.
	// It is a pure function of message.
	PopulateMetaData(message string, metadata map[string]interface{})
}

// BatchAdaptor yields the sub-messages of a batched transport payload.
// Next returns io.EOF after the last sub-message.
type BatchAdaptor interface {
	Next() (string, error)
}

// BatchProvider is implemented by data types with batch semantics.
type BatchProvider interface {
	NewBatchAdaptor(r io.Reader) BatchAdaptor
}

// AttachmentExtractor is implemented by data types whose payloads can
// carry oversized binary content worth detaching before the pipeline runs.
type AttachmentExtractor interface {
	// ExtractAttachment splits the binary content out of message. ok is
	// false when the message carries nothing to detach.
	ExtractAttachment(message string) (stripped string, content []byte, attachmentType string, ok bool, err error)
	// ReattachAttachment merges previously detached content back into
	// message for delivery.
	ReattachAttachment(message string, content []byte) (string, error)
}

// SerializationError reports a malformed wire payload with the offending
// offset when known.
type SerializationError struct {
	DataType string
	Offset   int
	Message  string
}

func (e *SerializationError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("%s serialization error at offset %d: %s", e.DataType, e.Offset, e.Message)
	}
	return fmt.Sprintf("%s serialization error: %s", e.DataType, e.Message)
}

// NewSerializationError returns a SerializationError with an offset.
func NewSerializationError(dataType string, offset int, format string, args ...interface{}) *SerializationError {
	return &SerializationError{DataType: dataType, Offset: offset, Message: fmt.Sprintf(format, args...)}
}

// Registry maps data type names to implementations. It is explicit state
// with init/teardown rather than an ambient singleton so tests can build
// isolated registries.
type Registry struct {
	mu    sync.RWMutex
	types map[string]DataType
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]DataType)}
}

// Register adds dt under its name, replacing any previous registration.
func (r *Registry) Register(dt DataType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[dt.Name()] = dt
}

// Get returns the data type registered under name.
func (r *Registry) Get(name string) (DataType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dt, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("unknown data type: %s", name)
	}
	return dt, nil
}

// Names returns the registered type names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	return names
}

// Teardown empties the registry.
func (r *Registry) Teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = make(map[string]DataType)
}
