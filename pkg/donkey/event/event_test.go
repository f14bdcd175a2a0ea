// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingObserver) HandleEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingObserver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestBroadcasterFanOut(t *testing.T) {
	b := NewBroadcaster()
	o1 := &recordingObserver{}
	o2 := &recordingObserver{}
	b.AddObserver(o1)
	b.AddObserver(o2)
	b.Start()

	for i := 0; i < 5; i++ {
		b.Dispatch(Event{Type: MessageSent, ChannelID: "c", MessageID: int64(i), Time: time.Now()})
	}
	b.Stop()

	assert.Equal(t, 5, o1.count())
	assert.Equal(t, 5, o2.count())
}

func TestBroadcasterDispatchAfterStopIsNoop(t *testing.T) {
	b := NewBroadcaster()
	o := &recordingObserver{}
	b.AddObserver(o)
	b.Start()
	b.Stop()

	b.Dispatch(Event{Type: MessageError})
	assert.Equal(t, 0, o.count())
}

type recordingPersister struct {
	mu      sync.Mutex
	updates []Deltas
}

func (r *recordingPersister) UpdateStatistics(_ context.Context, _ string, _ int, d Deltas) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, d)
	return nil
}

func TestStatisticsAccumulateAndPersist(t *testing.T) {
	p := &recordingPersister{}
	stats := NewStatistics(p, nil)

	stats.Update(context.Background(), "chan", 0, Deltas{Received: 1})
	stats.Update(context.Background(), "chan", 0, Deltas{Received: 1, Transformed: 1})
	stats.Update(context.Background(), "chan", 1, Deltas{Sent: 1})

	c := stats.Get("chan", 0)
	assert.Equal(t, int64(2), c.Received)
	assert.Equal(t, int64(1), c.Transformed)
	assert.Equal(t, int64(1), stats.Get("chan", 1).Sent)
	require.Len(t, p.updates, 3)
}

func TestStatisticsReset(t *testing.T) {
	stats := NewStatistics(nil, nil)
	stats.Update(context.Background(), "chan", 0, Deltas{Received: 3})
	stats.Update(context.Background(), "other", 0, Deltas{Received: 7})

	stats.Reset("chan")
	assert.Equal(t, int64(0), stats.Get("chan", 0).Received)
	assert.Equal(t, int64(7), stats.Get("other", 0).Received)
}
