// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package event

import (
	"context"
	"expvar"
	"fmt"
	"sync"

	"github.com/donkeyengine/donkey/pkg/util/log"
)

// Deltas is one statistics update for a (channelId, metaDataId) pair.
type Deltas struct {
	Received    int64
	Filtered    int64
	Transformed int64
	Pending     int64
	Sent        int64
	Error       int64
}

// Counts is the current statistics snapshot for one connector.
type Counts struct {
	Received    int64
	Filtered    int64
	Transformed int64
	Pending     int64
	Sent        int64
	Error       int64
}

// StatsPersister writes statistics deltas through to the durable store.
// Implemented by the datastore.
type StatsPersister interface {
	UpdateStatistics(ctx context.Context, channelID string, metaDataID int, d Deltas) error
}

var (
	expReceived = expvar.NewMap("donkey_received")
	expSent     = expvar.NewMap("donkey_sent")
	expError    = expvar.NewMap("donkey_error")
)

// Statistics tracks per-connector counters in memory, mirrors the deltas
// into the datastore and exposes process-local expvar totals.
type Statistics struct {
	persister  StatsPersister
	dispatcher Dispatcher

	mu     sync.Mutex
	counts map[string]*Counts
}

// NewStatistics returns a tracker writing through p. p may be nil in tests.
func NewStatistics(p StatsPersister, d Dispatcher) *Statistics {
	if d == nil {
		d = NullDispatcher{}
	}
	return &Statistics{
		persister:  p,
		dispatcher: d,
		counts:     make(map[string]*Counts),
	}
}

func key(channelID string, metaDataID int) string {
	return fmt.Sprintf("%s/%d", channelID, metaDataID)
}

// Update applies d to the in-memory counters and persists the delta.
// Persistence failure is logged, not surfaced: counters must not drift from
// what the pipeline actually did.
func (s *Statistics) Update(ctx context.Context, channelID string, metaDataID int, d Deltas) {
	s.mu.Lock()
	c, ok := s.counts[key(channelID, metaDataID)]
	if !ok {
		c = &Counts{}
		s.counts[key(channelID, metaDataID)] = c
	}
	c.Received += d.Received
	c.Filtered += d.Filtered
	c.Transformed += d.Transformed
	c.Pending += d.Pending
	c.Sent += d.Sent
	c.Error += d.Error
	s.mu.Unlock()

	expReceived.Add(channelID, d.Received)
	expSent.Add(channelID, d.Sent)
	expError.Add(channelID, d.Error)

	if s.persister != nil {
		if err := s.persister.UpdateStatistics(ctx, channelID, metaDataID, d); err != nil {
			log.Errorf("could not persist statistics for channel %s connector %d: %v", channelID, metaDataID, err)
		}
	}
}

// Get returns a copy of the counters for one connector.
func (s *Statistics) Get(channelID string, metaDataID int) Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counts[key(channelID, metaDataID)]; ok {
		return *c
	}
	return Counts{}
}

// Reset zeroes the in-memory counters for one channel. Lifetime counters in
// the datastore are left untouched.
func (s *Statistics) Reset(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.counts {
		if len(k) > len(channelID) && k[:len(channelID)] == channelID && k[len(channelID)] == '/' {
			s.counts[k] = &Counts{}
		}
	}
}
