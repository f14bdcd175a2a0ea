// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package store

import "fmt"

// DatastoreError wraps a persistence failure. The pipeline treats it as
// fatal to the current operation: the worker backs off and retries rather
// than acknowledging upstream.
type DatastoreError struct {
	Op  string
	Err error
}

func (e *DatastoreError) Error() string {
	return fmt.Sprintf("datastore: %s: %v", e.Op, e.Err)
}

func (e *DatastoreError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DatastoreError{Op: op, Err: err}
}

// IsDatastoreError reports whether err is a persistence failure.
func IsDatastoreError(err error) bool {
	_, ok := err.(*DatastoreError)
	return ok
}
