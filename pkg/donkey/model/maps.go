// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package model

import "sync"

// DataMap is a concurrency-safe key/value map shared between pipeline stages.
// The channel map is written by the source and read by every destination, so
// all access goes through the lock.
type DataMap struct {
	mu sync.RWMutex
	m  map[string]interface{}
}

// NewDataMap returns an empty DataMap.
func NewDataMap() *DataMap {
	return &DataMap{m: make(map[string]interface{})}
}

// Get returns the value stored under key.
func (d *DataMap) Get(key string) (interface{}, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.m[key]
	return v, ok
}

// GetString returns the value under key as a string, or "" when absent or
// not a string.
func (d *DataMap) GetString(key string) string {
	v, ok := d.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Put stores value under key.
func (d *DataMap) Put(key string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[key] = value
}

// Keys returns a snapshot of the stored keys.
func (d *DataMap) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]string, 0, len(d.m))
	for k := range d.m {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of entries.
func (d *DataMap) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.m)
}

// Snapshot returns a shallow copy of the underlying map.
func (d *DataMap) Snapshot() map[string]interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]interface{}, len(d.m))
	for k, v := range d.m {
		out[k] = v
	}
	return out
}
