// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

// Package queue implements the durable connector message queue: an
// in-memory buffer over the datastore with bucketed acquire/release and
// rotation on transient failure.
package queue

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/donkeyengine/donkey/pkg/donkey/event"
	"github.com/donkeyengine/donkey/pkg/donkey/model"
	"github.com/donkeyengine/donkey/pkg/donkey/store"
	"github.com/donkeyengine/donkey/pkg/util/log"
)

// DefaultBufferCapacity bounds the in-memory buffer when the settings leave
// it unset.
const DefaultBufferCapacity = 1000

// Settings configures one connector queue.
type Settings struct {
	// BufferCapacity is the soft bound on in-memory items.
	BufferCapacity int
	// ThreadCount is the number of worker buckets.
	ThreadCount int
	// GroupBy is the map key whose value assigns messages to buckets,
	// preserving per-group ordering. Empty disables bucketing.
	GroupBy string
}

func (s Settings) capacity() int {
	if s.BufferCapacity <= 0 {
		return DefaultBufferCapacity
	}
	return s.BufferCapacity
}

func (s Settings) threads() int {
	if s.ThreadCount <= 0 {
		return 1
	}
	return s.ThreadCount
}

// Queue is a durable FIFO-with-bucketing queue bound to one
// (channelId, metaDataId). Producers Add; workers Acquire and Release.
// All operations share one lock, so Invalidate and SetBufferCapacity are
// mutually exclusive with acquire/add by construction.
type Queue struct {
	channelID  string
	metaDataID int
	settings   Settings
	source     store.QueueDataSource
	dispatcher event.Dispatcher

	mu         sync.Mutex
	buffer     []*model.ConnectorMessage // not checked out, ascending messageId
	checkedOut map[int64]*model.ConnectorMessage
	deleted    map[int64]bool
	size       int
	sizeValid  bool

	buckets    map[string]int
	nextBucket int

	rotateThreads *sync.Map
}

// New returns a queue over the given data source.
func New(channelID string, metaDataID int, settings Settings, source store.QueueDataSource, dispatcher event.Dispatcher) *Queue {
	if dispatcher == nil {
		dispatcher = event.NullDispatcher{}
	}
	return &Queue{
		channelID:     channelID,
		metaDataID:    metaDataID,
		settings:      settings,
		source:        source,
		dispatcher:    dispatcher,
		checkedOut:    make(map[int64]*model.ConnectorMessage),
		deleted:       make(map[int64]bool),
		buckets:       make(map[string]int),
		rotateThreads: source.GetRotateThreadMap(channelID, metaDataID),
	}
}

// Register announces a worker bucket. Workers must register before their
// first Acquire so rotation reaches them.
func (q *Queue) Register(bucket int) {
	q.rotateThreads.Store(bucket, false)
}

// Size returns the datastore-backed queue size, resyncing when invalidated.
func (q *Queue) Size(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sizeLocked(ctx)
}

func (q *Queue) sizeLocked(ctx context.Context) (int, error) {
	if !q.sizeValid {
		n, err := q.source.GetQueueSize(ctx, q.channelID, q.metaDataID)
		if err != nil {
			return 0, err
		}
		q.size = n
		q.sizeValid = true
	}
	return q.size, nil
}

// Add enqueues cm for persistent retry. The caller has already persisted
// the QUEUED status; Add only maintains the buffer and the size.
func (q *Queue) Add(cm *model.ConnectorMessage) {
	q.mu.Lock()
	if q.sizeValid {
		q.size++
	}
	if len(q.buffer)+len(q.checkedOut) < q.settings.capacity() {
		q.insertLocked(cm)
	}
	depth := q.size
	q.mu.Unlock()

	q.dispatcher.Dispatch(event.Event{
		Type:       event.MessageQueued,
		ChannelID:  q.channelID,
		MetaDataID: q.metaDataID,
		MessageID:  cm.MessageID,
		QueueDepth: depth,
	})
}

func (q *Queue) insertLocked(cm *model.ConnectorMessage) {
	i := sort.Search(len(q.buffer), func(i int) bool {
		return q.buffer[i].MessageID >= cm.MessageID
	})
	if i < len(q.buffer) && q.buffer[i].MessageID == cm.MessageID {
		return
	}
	q.buffer = append(q.buffer, nil)
	copy(q.buffer[i+1:], q.buffer[i:])
	q.buffer[i] = cm
}

// Acquire claims the next eligible message for the worker bucket, or nil
// when nothing is eligible. Eligibility: not checked out, not deleted, and
// when grouping is enabled the message's group must hash to this bucket.
func (q *Queue) Acquire(ctx context.Context, bucket int) (*model.ConnectorMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	size, err := q.sizeLocked(ctx)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	if len(q.buffer) == 0 {
		if err := q.fillBufferLocked(ctx); err != nil {
			return nil, err
		}
	}

	skipID := int64(0)
	if v, ok := q.rotateThreads.Load(bucket); ok {
		if rotated, _ := v.(bool); rotated {
			skipID = q.source.GetLastItem(q.channelID, q.metaDataID)
		}
	}

	for i, cm := range q.buffer {
		if q.deleted[cm.MessageID] {
			continue
		}
		if q.settings.GroupBy != "" && q.settings.threads() > 1 {
			if q.bucketForLocked(cm) != bucket {
				continue
			}
		}
		if cm.MessageID == skipID {
			// rotated: step past the just-failed head exactly once
			q.rotateThreads.Store(bucket, false)
			skipID = 0
			continue
		}
		q.buffer = append(q.buffer[:i], q.buffer[i+1:]...)
		q.checkedOut[cm.MessageID] = cm
		q.source.SetLastItem(q.channelID, q.metaDataID, cm.MessageID)
		q.rotateThreads.Store(bucket, false)
		return cm, nil
	}
	return nil, nil
}

// Release returns a checked-out message. finished=true drops it (delivered
// or permanently errored); finished=false restores it for retry and rotates
// the queue so workers skip this head once.
func (q *Queue) Release(cm *model.ConnectorMessage, finished bool) {
	q.mu.Lock()
	if _, ok := q.checkedOut[cm.MessageID]; !ok {
		q.mu.Unlock()
		log.Warnf("queue %s/%d: release of message %d that was not checked out", q.channelID, q.metaDataID, cm.MessageID)
		return
	}
	delete(q.checkedOut, cm.MessageID)
	if finished {
		delete(q.deleted, cm.MessageID)
		if q.sizeValid && q.size > 0 {
			q.size--
		}
		q.mu.Unlock()
		return
	}
	q.insertLocked(cm)
	q.mu.Unlock()

	q.source.RotateQueue(q.channelID, q.metaDataID)
}

// MarkAsDeleted requests cooperative deletion. A message sitting in the
// buffer is dropped now; one that is checked out is finalized on the
// worker's next release via ReleaseIfDeleted.
func (q *Queue) MarkAsDeleted(messageID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, inFlight := q.checkedOut[messageID]; inFlight {
		q.deleted[messageID] = true
		return
	}
	for i, cm := range q.buffer {
		if cm.MessageID == messageID {
			q.buffer = append(q.buffer[:i], q.buffer[i+1:]...)
			if q.sizeValid && q.size > 0 {
				q.size--
			}
			return
		}
	}
	q.deleted[messageID] = true
}

// ReleaseIfDeleted finalizes a checked-out message whose deletion was
// requested mid-flight. Returns true when the worker must stop processing
// the message.
func (q *Queue) ReleaseIfDeleted(cm *model.ConnectorMessage) bool {
	q.mu.Lock()
	wasDeleted := q.deleted[cm.MessageID]
	q.mu.Unlock()
	if wasDeleted {
		q.Release(cm, true)
	}
	return wasDeleted
}

// Invalidate clears the in-memory buffer. updateSize forces a size resync
// from the datastore on next use; resetQueue also resets bucket assignment.
// Used when the datastore is modified externally.
func (q *Queue) Invalidate(updateSize, resetQueue bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buffer = nil
	if updateSize {
		q.sizeValid = false
	}
	if resetQueue {
		q.buckets = make(map[string]int)
		q.nextBucket = 0
		q.deleted = make(map[int64]bool)
	}
}

// SetBufferCapacity adjusts the soft in-memory bound.
func (q *Queue) SetBufferCapacity(capacity int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.settings.BufferCapacity = capacity
	if capacity > 0 && len(q.buffer) > capacity {
		q.buffer = q.buffer[:capacity]
	}
}

// FillBuffer refills the buffer from the datastore.
func (q *Queue) FillBuffer(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fillBufferLocked(ctx)
}

func (q *Queue) fillBufferLocked(ctx context.Context) error {
	items, err := q.source.GetQueueItems(ctx, q.channelID, q.metaDataID, 0, q.settings.capacity())
	if err != nil {
		return err
	}
	q.buffer = q.buffer[:0]
	for _, cm := range items {
		if _, inFlight := q.checkedOut[cm.MessageID]; inFlight {
			continue
		}
		q.insertLocked(cm)
	}
	return nil
}

// bucketForLocked assigns the message's group value to a bucket: the first
// N distinct values get buckets 0..N-1 in encounter order, later values
// hash into the existing buckets.
func (q *Queue) bucketForLocked(cm *model.ConnectorMessage) int {
	value := q.groupValue(cm)
	if bucket, ok := q.buckets[value]; ok {
		return bucket
	}
	var bucket int
	if q.nextBucket < q.settings.threads() {
		bucket = q.nextBucket
		q.nextBucket++
	} else {
		h := fnv.New32a()
		h.Write([]byte(value)) //nolint:errcheck
		bucket = int(h.Sum32() % uint32(q.settings.threads()))
	}
	q.buckets[value] = bucket
	return bucket
}

func (q *Queue) groupValue(cm *model.ConnectorMessage) string {
	if v := cm.ConnectorMap.GetString(q.settings.GroupBy); v != "" {
		return v
	}
	if v := cm.SourceMap.GetString(q.settings.GroupBy); v != "" {
		return v
	}
	return cm.ChannelMap.GetString(q.settings.GroupBy)
}
