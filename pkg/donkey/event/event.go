// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package event

import (
	"sync"
	"time"

	"github.com/donkeyengine/donkey/pkg/util/log"
)

// Type identifies a class of engine event.
type Type string

const (
	// MessageReceived fires when the source accepts a raw payload.
	MessageReceived Type = "MESSAGE_RECEIVED"
	// MessageQueued fires when a destination enqueues for durable retry.
	MessageQueued Type = "QUEUED"
	// MessageSent fires when a destination reaches SENT.
	MessageSent Type = "SENT"
	// MessageError fires when a connector reaches ERROR.
	MessageError Type = "ERROR"
	// MessageFiltered fires when a filter excludes a message.
	MessageFiltered Type = "FILTERED"
	// DeployStateChanged fires on channel lifecycle transitions.
	DeployStateChanged Type = "DEPLOY_STATE_CHANGED"
	// ConnectorStateChanged fires on connector start/stop.
	ConnectorStateChanged Type = "CONNECTOR_STATE_CHANGED"
)

// Event is one engine occurrence pushed to observers. The engine never
// owns the observer's transport; slow observers are dropped-on-full.
type Event struct {
	Type       Type
	ChannelID  string
	MetaDataID int
	MessageID  int64
	State      string
	QueueDepth int
	Time       time.Time
}

// Dispatcher receives engine events.
type Dispatcher interface {
	Dispatch(Event)
}

// NullDispatcher discards every event.
type NullDispatcher struct{}

// Dispatch implements Dispatcher.
func (NullDispatcher) Dispatch(Event) {}

// Observer consumes events from a Broadcaster.
type Observer interface {
	HandleEvent(Event)
}

const broadcastQueueSize = 1000

// Broadcaster fans events out to registered observers on a dedicated
// goroutine so event handling never blocks the pipeline.
type Broadcaster struct {
	mu        sync.RWMutex
	observers []Observer
	input     chan Event
	done      chan struct{}
	started   bool
}

// NewBroadcaster returns a stopped broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		input: make(chan Event, broadcastQueueSize),
		done:  make(chan struct{}),
	}
}

// AddObserver registers o for all future events.
func (b *Broadcaster) AddObserver(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// Start launches the fan-out goroutine.
func (b *Broadcaster) Start() {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()
	go b.run()
}

// Stop drains pending events and stops the fan-out goroutine.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.started = false
	b.mu.Unlock()
	close(b.input)
	<-b.done
}

// Dispatch implements Dispatcher. Events are dropped when the broadcast
// buffer is full.
func (b *Broadcaster) Dispatch(e Event) {
	b.mu.RLock()
	started := b.started
	b.mu.RUnlock()
	if !started {
		return
	}
	select {
	case b.input <- e:
	default:
		log.Debugf("event broadcaster buffer full, dropping %s event for channel %s", e.Type, e.ChannelID)
	}
}

func (b *Broadcaster) run() {
	defer close(b.done)
	for e := range b.input {
		b.mu.RLock()
		observers := make([]Observer, len(b.observers))
		copy(observers, b.observers)
		b.mu.RUnlock()
		for _, o := range observers {
			o.HandleEvent(e)
		}
	}
}
