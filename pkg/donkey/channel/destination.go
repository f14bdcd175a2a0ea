// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package channel

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/donkeyengine/donkey/pkg/config"
	"github.com/donkeyengine/donkey/pkg/connectors"
	"github.com/donkeyengine/donkey/pkg/datatypes"
	"github.com/donkeyengine/donkey/pkg/donkey/event"
	"github.com/donkeyengine/donkey/pkg/donkey/model"
	"github.com/donkeyengine/donkey/pkg/donkey/queue"
	"github.com/donkeyengine/donkey/pkg/scripts"
	"github.com/donkeyengine/donkey/pkg/util/log"
)

const (
	defaultRetryInterval = 10 * time.Second
	idlePollMax          = 30 * time.Second
)

// DestinationConnector delivers messages to one downstream system,
// optionally through a durable queue.
type DestinationConnector struct {
	channel *Channel
	cfg     config.DestinationConfig

	metaDataID int
	chainID    int
	orderID    int

	transport   connectors.Destination
	dataType    datatypes.DataType
	filter      scripts.Filter
	transformer scripts.Transformer
	queue       *queue.Queue
}

func newDestinationConnector(c *Channel, ds DestinationSpec) (*DestinationConnector, error) {
	if ds.Transport == nil {
		return nil, fmt.Errorf("channel %s destination %d: no transport", c.cfg.ID, ds.Config.MetaDataID)
	}
	dt, err := c.dataTypeFor(ds.Config.DataType)
	if err != nil {
		return nil, fmt.Errorf("channel %s destination %d: %w", c.cfg.ID, ds.Config.MetaDataID, err)
	}
	d := &DestinationConnector{
		channel:     c,
		cfg:         ds.Config,
		metaDataID:  ds.Config.MetaDataID,
		transport:   ds.Transport,
		dataType:    dt,
		filter:      ds.Filter,
		transformer: ds.Transformer,
	}
	if d.filter == nil {
		d.filter = scripts.AcceptAll()
	}
	if d.transformer == nil {
		d.transformer = scripts.Identity()
	}
	if ds.Config.Queue.Enabled {
		d.queue = queue.New(c.cfg.ID, d.metaDataID, queue.Settings{
			BufferCapacity: ds.Config.Queue.BufferCapacity,
			ThreadCount:    ds.Config.Queue.ThreadCount,
			GroupBy:        ds.Config.Queue.GroupBy,
		}, c.store, c.events)
	}
	return d, nil
}

func (d *DestinationConnector) name() string {
	if d.cfg.Name != "" {
		return d.cfg.Name
	}
	return "Destination " + strconv.Itoa(d.metaDataID)
}

// start opens the transport and launches one queue worker per bucket.
// Workers live on workerCtx so Stop can drain them independently of the
// start deadline.
func (d *DestinationConnector) start(ctx context.Context, workerCtx context.Context, wg *sync.WaitGroup) error {
	if err := d.transport.Start(ctx); err != nil {
		return err
	}
	d.channel.events.Dispatch(event.Event{
		Type: event.ConnectorStateChanged, ChannelID: d.channel.cfg.ID,
		MetaDataID: d.metaDataID, State: "STARTED", Time: d.channel.clock.Now(),
	})
	if d.queue == nil {
		return nil
	}
	threads := d.cfg.Queue.ThreadCount
	if threads <= 0 {
		threads = 1
	}
	for bucket := 0; bucket < threads; bucket++ {
		d.queue.Register(bucket)
		wg.Add(1)
		go func(bucket int) {
			defer wg.Done()
			d.worker(workerCtx, bucket)
		}(bucket)
	}
	return nil
}

func (d *DestinationConnector) stopTransport(ctx context.Context) error {
	err := d.transport.Stop(ctx)
	d.channel.events.Dispatch(event.Event{
		Type: event.ConnectorStateChanged, ChannelID: d.channel.cfg.ID,
		MetaDataID: d.metaDataID, State: "STOPPED", Time: d.channel.clock.Now(),
	})
	return err
}

// prepare creates and persists this destination's connector message. The
// raw content is the source's encoded output; it is derived, not stored
// again under this metaDataId.
func (d *DestinationConnector) prepare(ctx context.Context, msg *model.Message, sourceCM *model.ConnectorMessage) (*model.ConnectorMessage, error) {
	c := d.channel
	cm := model.NewConnectorMessage(c.cfg.ID, c.cfg.Name, c.serverID, msg.ID, d.metaDataID, d.name(), c.clock.Now())
	cm.ChainID = d.chainID
	cm.OrderID = d.orderID
	cm.SourceMap = sourceCM.SourceMap
	cm.ChannelMap = sourceCM.ChannelMap
	cm.SetContent(&model.MessageContent{
		ChannelID: c.cfg.ID, MessageID: msg.ID, MetaDataID: d.metaDataID,
		Type: model.ContentRaw, Content: sourceCM.Encoded(), DataType: d.dataType.Name(),
	})
	msg.AddConnectorMessage(cm)
	if err := c.store.InsertConnectorMessage(ctx, cm); err != nil {
		return nil, err
	}
	c.stats.Update(ctx, c.cfg.ID, d.metaDataID, event.Deltas{Received: 1})
	return cm, nil
}

// process runs the destination pipeline and dispatches per the queue
// policy. The returned status is the settled (or queued) outcome.
func (d *DestinationConnector) process(ctx context.Context, cm *model.ConnectorMessage) model.Status {
	c := d.channel

	accepted, err := d.filter.Filter(ctx, scripts.NewContext(cm, cm.Raw()))
	if err != nil {
		return d.fail(ctx, cm, scripts.WrapFilterError(err, cm.ConnectorName))
	}
	if !accepted {
		cm.SetStatus(model.StatusFiltered)
		if err := c.store.UpdateStatus(ctx, cm); err != nil {
			log.Errorf("channel %s: persisting filtered status for message %d destination %d: %v",
				c.cfg.ID, cm.MessageID, d.metaDataID, err)
		}
		c.stats.Update(ctx, c.cfg.ID, d.metaDataID, event.Deltas{Filtered: 1})
		return model.StatusFiltered
	}

	if err := d.transform(ctx, cm); err != nil {
		return d.fail(ctx, cm, err)
	}
	cm.SetStatus(model.StatusTransformed)
	if err := c.store.UpdateStatus(ctx, cm); err != nil {
		return d.fail(ctx, cm, err)
	}
	c.stats.Update(ctx, c.cfg.ID, d.metaDataID, event.Deltas{Transformed: 1})

	switch {
	case d.queue == nil:
		return d.sendInline(ctx, cm)
	case d.cfg.Queue.SendFirst:
		return d.sendFirst(ctx, cm)
	default:
		return d.enqueue(ctx, cm)
	}
}

func (d *DestinationConnector) transform(ctx context.Context, cm *model.ConnectorMessage) error {
	serialize := d.dataType.IsSerializationRequired(true)
	canonical := cm.Raw()
	var err error
	if serialize {
		canonical, err = d.dataType.ToXML(canonical)
		if err != nil {
			return err
		}
	}
	transformed, err := d.transformer.Transform(ctx, scripts.NewContext(cm, canonical))
	if err != nil {
		return scripts.WrapTransformerError(err, cm.ConnectorName)
	}
	encoded := transformed
	if serialize {
		encoded, err = d.dataType.FromXML(transformed)
		if err != nil {
			return err
		}
	}
	c := d.channel
	for _, content := range []*model.MessageContent{
		{ChannelID: c.cfg.ID, MessageID: cm.MessageID, MetaDataID: d.metaDataID,
			Type: model.ContentTransformed, Content: transformed, DataType: d.dataType.Name()},
		{ChannelID: c.cfg.ID, MessageID: cm.MessageID, MetaDataID: d.metaDataID,
			Type: model.ContentEncoded, Content: encoded, DataType: d.dataType.Name()},
	} {
		cm.SetContent(content)
		if err := c.store.InsertMessageContent(ctx, content); err != nil {
			return err
		}
	}
	return nil
}

// sendInline delivers synchronously, retrying up to RetryCount times.
func (d *DestinationConnector) sendInline(ctx context.Context, cm *model.ConnectorMessage) model.Status {
	retries := d.cfg.Queue.RetryCount
	interval := d.retryInterval()
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-d.channel.clock.After(interval):
			case <-ctx.Done():
				return d.fail(ctx, cm, ctx.Err())
			}
		}
		response, err := d.sendOnce(ctx, cm)
		if err == nil {
			return d.settleSent(ctx, cm, response, false)
		}
		lastErr = err
		if connectors.IsPermanent(err) {
			break
		}
	}
	return d.fail(ctx, cm, lastErr)
}

// sendFirst attempts delivery once; a transient failure falls back to the
// queue instead of erroring.
func (d *DestinationConnector) sendFirst(ctx context.Context, cm *model.ConnectorMessage) model.Status {
	response, err := d.sendOnce(ctx, cm)
	if err == nil {
		return d.settleSent(ctx, cm, response, false)
	}
	if connectors.IsPermanent(err) {
		return d.fail(ctx, cm, err)
	}
	d.recordSendError(ctx, cm, err)
	return d.enqueue(ctx, cm)
}

// enqueue persists QUEUED and hands the message to the workers.
func (d *DestinationConnector) enqueue(ctx context.Context, cm *model.ConnectorMessage) model.Status {
	c := d.channel
	cm.SetStatus(model.StatusQueued)
	if err := c.store.UpdateStatus(ctx, cm); err != nil {
		return d.fail(ctx, cm, err)
	}
	c.stats.Update(ctx, c.cfg.ID, d.metaDataID, event.Deltas{Pending: 1})
	d.queue.Add(cm)
	return model.StatusQueued
}

// sendOnce performs exactly one transport send, counting the attempt.
// Detached attachment content is merged back in just for the wire copy.
func (d *DestinationConnector) sendOnce(ctx context.Context, cm *model.ConnectorMessage) (*model.Response, error) {
	content := cm.EncodedOrRaw()
	if id := cm.SourceMap.GetString(model.AttachmentIDKey); id != "" {
		if extractor, ok := d.dataType.(datatypes.AttachmentExtractor); ok {
			att, err := d.channel.store.GetAttachment(ctx, d.channel.cfg.ID, id)
			if err != nil {
				return nil, err
			}
			if att != nil {
				content, err = extractor.ReattachAttachment(content, att.Content)
				if err != nil {
					return nil, connectors.Permanent(err)
				}
			}
		}
	}
	cm.SendAttempts++
	cm.SendDate = d.channel.clock.Now()
	return d.transport.Send(ctx, cm, content)
}

// settleSent persists the SENT outcome and its response. fromQueue drives
// the eventual-send response update and the pending counter.
func (d *DestinationConnector) settleSent(ctx context.Context, cm *model.ConnectorMessage, response *model.Response, fromQueue bool) model.Status {
	c := d.channel
	cm.ResponseDate = c.clock.Now()
	cm.SetStatus(model.StatusSent)
	if err := c.store.UpdateStatus(ctx, cm); err != nil {
		log.Errorf("channel %s: persisting sent status for message %d destination %d: %v",
			c.cfg.ID, cm.MessageID, d.metaDataID, err)
		return model.StatusError
	}
	if response != nil && response.Message != "" {
		content := &model.MessageContent{
			ChannelID: c.cfg.ID, MessageID: cm.MessageID, MetaDataID: d.metaDataID,
			Type: model.ContentResponse, Content: response.Message,
		}
		cm.SetContent(content)
		if err := c.store.UpdateMessageContent(ctx, content); err != nil {
			log.Errorf("channel %s: persisting response for message %d destination %d: %v",
				c.cfg.ID, cm.MessageID, d.metaDataID, err)
		}
	}
	deltas := event.Deltas{Sent: 1}
	if fromQueue {
		deltas.Pending = -1
	}
	c.stats.Update(ctx, c.cfg.ID, d.metaDataID, deltas)
	c.events.Dispatch(event.Event{
		Type: event.MessageSent, ChannelID: c.cfg.ID, MetaDataID: d.metaDataID,
		MessageID: cm.MessageID, Time: c.clock.Now(),
	})
	if fromQueue {
		d.updateEventualResponse(ctx, cm, response)
	}
	return model.StatusSent
}

// updateEventualResponse rewrites the stored channel response when a queued
// destination later delivers and the aggregate policy is in effect.
func (d *DestinationConnector) updateEventualResponse(ctx context.Context, cm *model.ConnectorMessage, response *model.Response) {
	agg := d.channel.aggregator
	if !agg.aggregateOnSend || agg.policy != policyDestination || agg.metaDataID != d.metaDataID {
		return
	}
	message := ""
	if response != nil {
		message = response.Message
	}
	err := d.channel.store.UpdateMessageContent(ctx, &model.MessageContent{
		ChannelID: d.channel.cfg.ID, MessageID: cm.MessageID, MetaDataID: model.SourceMetaDataID,
		Type: model.ContentResponse, Content: message,
	})
	if err != nil {
		log.Errorf("channel %s: updating eventual response for message %d: %v", d.channel.cfg.ID, cm.MessageID, err)
	}
}

// recordSendError captures a transient send failure before the message
// goes back to the queue, so the last attempt's error is visible while the
// message is still QUEUED.
func (d *DestinationConnector) recordSendError(ctx context.Context, cm *model.ConnectorMessage, cause error) {
	c := d.channel
	cm.ProcessingError = cause.Error()
	// upsert: every failed attempt rewrites the same stage row
	if err := c.store.UpdateMessageContent(ctx, &model.MessageContent{
		ChannelID: c.cfg.ID, MessageID: cm.MessageID, MetaDataID: d.metaDataID,
		Type: model.ContentProcessingError, Content: cause.Error(),
	}); err != nil {
		log.Errorf("channel %s: persisting send error content for message %d destination %d: %v",
			c.cfg.ID, cm.MessageID, d.metaDataID, err)
	}
	if err := c.store.UpdateErrors(ctx, cm); err != nil {
		log.Errorf("channel %s: persisting send error for message %d destination %d: %v",
			c.cfg.ID, cm.MessageID, d.metaDataID, err)
	}
}

// fail settles the destination in ERROR.
func (d *DestinationConnector) fail(ctx context.Context, cm *model.ConnectorMessage, cause error) model.Status {
	c := d.channel
	if cause == nil {
		cause = fmt.Errorf("destination %d failed", d.metaDataID)
	}
	cm.ProcessingError = cause.Error()
	cm.ErrorCode = 1
	content := &model.MessageContent{
		ChannelID: c.cfg.ID, MessageID: cm.MessageID, MetaDataID: d.metaDataID,
		Type: model.ContentProcessingError, Content: cause.Error(),
	}
	cm.SetContent(content)
	// upsert: a transient attempt may already have written this stage row
	if err := c.store.UpdateMessageContent(ctx, content); err != nil {
		log.Errorf("channel %s: persisting error content for message %d destination %d: %v",
			c.cfg.ID, cm.MessageID, d.metaDataID, err)
	}
	if err := c.store.UpdateErrors(ctx, cm); err != nil {
		log.Errorf("channel %s: persisting errors for message %d destination %d: %v",
			c.cfg.ID, cm.MessageID, d.metaDataID, err)
	}
	wasQueued := cm.Status() == model.StatusQueued || cm.Status() == model.StatusPending
	cm.SetStatus(model.StatusError)
	if err := c.store.UpdateStatus(ctx, cm); err != nil {
		log.Errorf("channel %s: persisting error status for message %d destination %d: %v",
			c.cfg.ID, cm.MessageID, d.metaDataID, err)
	}
	deltas := event.Deltas{Error: 1}
	if wasQueued {
		deltas.Pending = -1
	}
	c.stats.Update(ctx, c.cfg.ID, d.metaDataID, deltas)
	c.events.Dispatch(event.Event{
		Type: event.MessageError, ChannelID: c.cfg.ID, MetaDataID: d.metaDataID,
		MessageID: cm.MessageID, Time: c.clock.Now(),
	})
	log.Errorf("channel %s: message %d destination %d failed: %v", c.cfg.ID, cm.MessageID, d.metaDataID, cause)
	return model.StatusError
}

// worker drains the durable queue for one bucket until ctx is cancelled.
// Empty polls back off exponentially; a successful acquire resets the
// backoff.
func (d *DestinationConnector) worker(ctx context.Context, bucket int) {
	idle := backoff.NewExponentialBackOff()
	idle.InitialInterval = 100 * time.Millisecond
	idle.MaxInterval = idlePollMax
	idle.MaxElapsedTime = 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		cm, err := d.queue.Acquire(ctx, bucket)
		if err != nil {
			log.Errorf("channel %s destination %d: acquiring from queue: %v", d.channel.cfg.ID, d.metaDataID, err)
			if !d.sleep(ctx, idle.NextBackOff()) {
				return
			}
			continue
		}
		if cm == nil {
			if !d.sleep(ctx, idle.NextBackOff()) {
				return
			}
			continue
		}
		idle.Reset()

		if d.queue.ReleaseIfDeleted(cm) {
			continue
		}
		d.deliver(ctx, cm)
	}
}

// deliver attempts one queued message. Transient failure re-queues and
// rotates; permanent failure settles in ERROR.
func (d *DestinationConnector) deliver(ctx context.Context, cm *model.ConnectorMessage) {
	c := d.channel

	cm.SetStatus(model.StatusPending)
	if err := c.store.UpdateStatus(ctx, cm); err != nil {
		log.Errorf("channel %s: persisting pending status for message %d: %v", c.cfg.ID, cm.MessageID, err)
		cm.ForceStatus(model.StatusQueued)
		d.queue.Release(cm, false)
		return
	}

	response, sendErr := d.sendOnce(ctx, cm)
	if d.queue.ReleaseIfDeleted(cm) {
		return
	}
	if sendErr == nil {
		d.settleSent(ctx, cm, response, true)
		d.queue.Release(cm, true)
		d.markProcessed(ctx, cm)
		return
	}

	if connectors.IsPermanent(sendErr) {
		d.fail(ctx, cm, sendErr)
		d.queue.Release(cm, true)
		d.markProcessed(ctx, cm)
		return
	}

	d.recordSendError(ctx, cm, sendErr)
	cm.ForceStatus(model.StatusQueued)
	if err := c.store.UpdateStatus(ctx, cm); err != nil {
		log.Errorf("channel %s: re-queueing message %d: %v", c.cfg.ID, cm.MessageID, err)
	}
	d.queue.Release(cm, false)
	d.sleep(ctx, d.retryInterval())
}

// markProcessed closes the owning message. Idempotent; needed for
// messages that only survived a restart inside the queue.
func (d *DestinationConnector) markProcessed(ctx context.Context, cm *model.ConnectorMessage) {
	if err := d.channel.store.MarkProcessed(ctx, d.channel.cfg.ID, cm.MessageID); err != nil {
		log.Errorf("channel %s: marking message %d processed: %v", d.channel.cfg.ID, cm.MessageID, err)
	}
}

func (d *DestinationConnector) retryInterval() time.Duration {
	if d.cfg.Queue.RetryIntervalMillis > 0 {
		return time.Duration(d.cfg.Queue.RetryIntervalMillis) * time.Millisecond
	}
	return defaultRetryInterval
}

// sleep waits on the channel clock, returning false when ctx ended first.
func (d *DestinationConnector) sleep(ctx context.Context, duration time.Duration) bool {
	if duration <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-d.channel.clock.After(duration):
		return true
	case <-ctx.Done():
		return false
	}
}
