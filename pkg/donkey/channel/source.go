// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package channel

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/donkeyengine/donkey/pkg/config"
	"github.com/donkeyengine/donkey/pkg/connectors"
	"github.com/donkeyengine/donkey/pkg/datatypes"
	"github.com/donkeyengine/donkey/pkg/donkey/event"
	"github.com/donkeyengine/donkey/pkg/donkey/model"
	"github.com/donkeyengine/donkey/pkg/donkey/store"
	"github.com/donkeyengine/donkey/pkg/scripts"
	"github.com/donkeyengine/donkey/pkg/util/log"
)

// SourceConnector accepts raw payloads from the transport, runs the
// source-side pipeline and fans the transformed message out to every
// chain.
type SourceConnector struct {
	channel *Channel
	cfg     config.SourceConfig

	transport   connectors.Source
	dataType    datatypes.DataType
	preprocess  scripts.Preprocessor
	filter      scripts.Filter
	transformer scripts.Transformer
	postprocess scripts.Postprocessor
}

func newSourceConnector(c *Channel, spec Spec) (*SourceConnector, error) {
	if spec.Source == nil {
		return nil, fmt.Errorf("channel %s: no source transport", c.cfg.ID)
	}
	dt, err := spec.DataTypes.Get(spec.Config.Source.DataType)
	if err != nil {
		return nil, fmt.Errorf("channel %s source: %w", c.cfg.ID, err)
	}
	return &SourceConnector{
		channel:     c,
		cfg:         spec.Config.Source,
		transport:   spec.Source,
		dataType:    dt,
		preprocess:  spec.Preprocessor,
		filter:      spec.SourceFilter,
		transformer: spec.SourceTransformer,
		postprocess: spec.Postprocessor,
	}, nil
}

func (s *SourceConnector) start(ctx context.Context) error {
	if err := s.transport.Start(ctx, s); err != nil {
		return err
	}
	s.channel.events.Dispatch(event.Event{
		Type: event.ConnectorStateChanged, ChannelID: s.channel.cfg.ID,
		MetaDataID: model.SourceMetaDataID, State: "STARTED", Time: s.channel.clock.Now(),
	})
	return nil
}

func (s *SourceConnector) stop(ctx context.Context) error {
	err := s.transport.Stop(ctx)
	s.channel.events.Dispatch(event.Event{
		Type: event.ConnectorStateChanged, ChannelID: s.channel.cfg.ID,
		MetaDataID: model.SourceMetaDataID, State: "STOPPED", Time: s.channel.clock.Now(),
	})
	return err
}

// Dispatch implements connectors.Handler. Batch-capable data types may
// yield several independent messages from one wire event; the response of
// the last one is returned to the transport.
func (s *SourceConnector) Dispatch(ctx context.Context, rawPayload string, sourceMapEntries map[string]interface{}) (*model.Response, error) {
	provider, batchable := s.dataType.(datatypes.BatchProvider)
	if !s.cfg.BatchEnabled || !batchable {
		return s.process(ctx, rawPayload, sourceMapEntries)
	}

	adaptor := provider.NewBatchAdaptor(strings.NewReader(rawPayload))
	var last *model.Response
	index := 0
	for {
		sub, err := adaptor.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		index++
		entries := make(map[string]interface{}, len(sourceMapEntries)+1)
		for k, v := range sourceMapEntries {
			entries[k] = v
		}
		entries["batchId"] = index
		response, err := s.process(ctx, sub, entries)
		if err != nil {
			return response, err
		}
		last = response
	}
	if index == 0 {
		return nil, fmt.Errorf("batch payload contained no messages")
	}
	return last, nil
}

// process runs the full pipeline for one message.
func (s *SourceConnector) process(ctx context.Context, rawPayload string, sourceMapEntries map[string]interface{}) (*model.Response, error) {
	c := s.channel

	messageID, err := c.store.NextMessageID(ctx, c.cfg.ID)
	if err != nil {
		// refuse to ack what we cannot persist
		return nil, err
	}

	now := c.clock.Now()
	msg := model.NewMessage(c.cfg.ID, c.serverID, now)
	msg.ID = messageID
	cm := model.NewConnectorMessage(c.cfg.ID, c.cfg.Name, c.serverID, messageID, model.SourceMetaDataID, sourceName(s.cfg.Name), now)
	msg.AddConnectorMessage(cm)

	for k, v := range sourceMapEntries {
		cm.SourceMap.Put(k, v)
	}
	metadata := map[string]interface{}{}
	s.dataType.PopulateMetaData(rawPayload, metadata)
	for k, v := range metadata {
		cm.SourceMap.Put(k, v)
	}

	rawPayload, err = s.detachAttachment(ctx, messageID, cm, rawPayload)
	if err != nil {
		return nil, err
	}

	cm.SetContent(&model.MessageContent{
		ChannelID: c.cfg.ID, MessageID: messageID, MetaDataID: model.SourceMetaDataID,
		Type: model.ContentRaw, Content: rawPayload, DataType: s.dataType.Name(),
	})
	if err := c.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := c.store.InsertConnectorMessage(ctx, cm); err != nil {
		return nil, err
	}
	if err := c.store.InsertMessageContent(ctx, cm.Content(model.ContentRaw)); err != nil {
		return nil, err
	}
	if err := c.store.InsertMessageContent(ctx, &model.MessageContent{
		ChannelID: c.cfg.ID, MessageID: messageID, MetaDataID: model.SourceMetaDataID,
		Type: model.ContentSourceMap, Content: store.MarshalMap(cm.SourceMap),
	}); err != nil {
		return nil, err
	}

	c.events.Dispatch(event.Event{
		Type: event.MessageReceived, ChannelID: c.cfg.ID,
		MessageID: messageID, Time: now,
	})
	c.stats.Update(ctx, c.cfg.ID, model.SourceMetaDataID, event.Deltas{Received: 1})

	working := rawPayload
	if s.preprocess != nil {
		processed, err := s.preprocess.Preprocess(ctx, scripts.NewContext(cm, working))
		if err != nil {
			return s.fail(ctx, msg, cm, fmt.Errorf("preprocessor: %w", err))
		}
		if processed != "" && processed != working {
			working = processed
			content := &model.MessageContent{
				ChannelID: c.cfg.ID, MessageID: messageID, MetaDataID: model.SourceMetaDataID,
				Type: model.ContentProcessedRaw, Content: working, DataType: s.dataType.Name(),
			}
			cm.SetContent(content)
			if err := c.store.InsertMessageContent(ctx, content); err != nil {
				return nil, err
			}
		}
	}

	accepted, err := s.filter.Filter(ctx, scripts.NewContext(cm, working))
	if err != nil {
		return s.fail(ctx, msg, cm, scripts.WrapFilterError(err, cm.ConnectorName))
	}
	if !accepted {
		return s.filtered(ctx, msg, cm)
	}

	transformed, encoded, err := s.transform(ctx, cm, working)
	if err != nil {
		return s.fail(ctx, msg, cm, err)
	}
	if err := s.persistTransform(ctx, cm, transformed, encoded); err != nil {
		return nil, err
	}
	cm.SetStatus(model.StatusTransformed)
	if err := c.store.UpdateStatus(ctx, cm); err != nil {
		return nil, err
	}
	c.stats.Update(ctx, c.cfg.ID, model.SourceMetaDataID, event.Deltas{Transformed: 1})

	if s.cfg.WaitForDestinations || c.aggregator.needsDestinations() {
		s.runChains(ctx, msg, cm)
		return s.finish(ctx, msg, cm)
	}

	// respond immediately; destinations continue in the background
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		bg := context.Background()
		s.runChains(bg, msg, cm)
		if _, err := s.finish(bg, msg, cm); err != nil {
			log.Errorf("channel %s: finishing message %d: %v", c.cfg.ID, messageID, err)
		}
	}()
	return model.SentResponse(""), nil
}

// detachAttachment moves oversized binary content to the attachment table
// before the payload is persisted, so message history never duplicates it.
func (s *SourceConnector) detachAttachment(ctx context.Context, messageID int64, cm *model.ConnectorMessage, rawPayload string) (string, error) {
	c := s.channel
	threshold := c.cfg.AttachmentThresholdBytes
	if threshold <= 0 || len(rawPayload) <= threshold {
		return rawPayload, nil
	}
	extractor, ok := s.dataType.(datatypes.AttachmentExtractor)
	if !ok {
		return rawPayload, nil
	}
	stripped, content, attachmentType, found, err := extractor.ExtractAttachment(rawPayload)
	if err != nil || !found {
		// a payload the serializer cannot split stays whole
		return rawPayload, nil
	}
	att := &model.Attachment{
		ID:        uuid.NewString(),
		ChannelID: c.cfg.ID,
		MessageID: messageID,
		Type:      attachmentType,
		Content:   content,
	}
	if err := c.store.InsertAttachment(ctx, att); err != nil {
		return "", err
	}
	cm.SourceMap.Put(model.AttachmentIDKey, att.ID)
	return stripped, nil
}

// transform serializes, runs the transformer and re-encodes.
func (s *SourceConnector) transform(ctx context.Context, cm *model.ConnectorMessage, working string) (transformed, encoded string, err error) {
	serialize := s.dataType.IsSerializationRequired(true)
	canonical := working
	if serialize {
		canonical, err = s.dataType.ToXML(working)
		if err != nil {
			return "", "", err
		}
	}

	transformed, err = s.transformer.Transform(ctx, scripts.NewContext(cm, canonical))
	if err != nil {
		return "", "", scripts.WrapTransformerError(err, cm.ConnectorName)
	}

	encoded = transformed
	if serialize {
		encoded, err = s.dataType.FromXML(transformed)
		if err != nil {
			return "", "", err
		}
	}
	return transformed, encoded, nil
}

func (s *SourceConnector) persistTransform(ctx context.Context, cm *model.ConnectorMessage, transformed, encoded string) error {
	c := s.channel
	for _, content := range []*model.MessageContent{
		{ChannelID: c.cfg.ID, MessageID: cm.MessageID, MetaDataID: cm.MetaDataID,
			Type: model.ContentTransformed, Content: transformed, DataType: s.dataType.Name()},
		{ChannelID: c.cfg.ID, MessageID: cm.MessageID, MetaDataID: cm.MetaDataID,
			Type: model.ContentEncoded, Content: encoded, DataType: s.dataType.Name()},
	} {
		cm.SetContent(content)
		// upsert: recovery may redo a transform whose output was already
		// persisted before the crash
		if err := c.store.UpdateMessageContent(ctx, content); err != nil {
			return err
		}
	}
	return nil
}

// runChains executes every destination chain concurrently and waits for
// the inline part of each. Queued destinations count as settled.
func (s *SourceConnector) runChains(ctx context.Context, msg *model.Message, sourceCM *model.ConnectorMessage) {
	group, gctx := errgroup.WithContext(ctx)
	for _, chain := range s.channel.chains {
		chain := chain
		group.Go(func() error {
			chain.process(gctx, msg, sourceCM)
			return nil
		})
	}
	group.Wait()
}

// finish aggregates the response, runs the postprocessor and closes the
// message.
func (s *SourceConnector) finish(ctx context.Context, msg *model.Message, sourceCM *model.ConnectorMessage) (*model.Response, error) {
	c := s.channel

	response := c.aggregator.aggregate(msg)

	if s.postprocess != nil {
		postResponse, err := s.postprocess.Postprocess(ctx, scripts.NewContext(sourceCM, sourceCM.EncodedOrRaw()))
		if err != nil {
			// non-fatal: captured as content, statuses untouched
			content := &model.MessageContent{
				ChannelID: c.cfg.ID, MessageID: msg.ID, MetaDataID: model.SourceMetaDataID,
				Type: model.ContentPostprocessorError, Content: err.Error(),
			}
			sourceCM.SetContent(content)
			if insertErr := c.store.InsertMessageContent(ctx, content); insertErr != nil {
				log.Errorf("channel %s: persisting postprocessor error: %v", c.cfg.ID, insertErr)
			}
		} else if postResponse != nil && c.aggregator.usesPostprocessor() {
			response = postResponse
		}
	}

	if response == nil {
		response = s.synthesizeResponse(msg)
	}

	// the source settles with the channel outcome
	if sourceCM.Status() == model.StatusTransformed {
		switch response.Status {
		case model.StatusError:
			sourceCM.SetStatus(model.StatusError)
			c.stats.Update(ctx, c.cfg.ID, model.SourceMetaDataID, event.Deltas{Error: 1})
		default:
			sourceCM.SetStatus(model.StatusSent)
			c.stats.Update(ctx, c.cfg.ID, model.SourceMetaDataID, event.Deltas{Sent: 1})
		}
		if err := c.store.UpdateStatus(ctx, sourceCM); err != nil {
			return nil, err
		}
	}

	if response.Message != "" {
		content := &model.MessageContent{
			ChannelID: c.cfg.ID, MessageID: msg.ID, MetaDataID: model.SourceMetaDataID,
			Type: model.ContentResponse, Content: response.Message,
		}
		sourceCM.SetContent(content)
		if err := c.store.UpdateMessageContent(ctx, content); err != nil {
			return nil, err
		}
	}

	if err := c.store.MarkProcessed(ctx, c.cfg.ID, msg.ID); err != nil {
		return nil, err
	}
	msg.Processed = true
	return response, nil
}

// synthesizeResponse builds the default response from the destination
// statuses when no policy selected anything.
func (s *SourceConnector) synthesizeResponse(msg *model.Message) *model.Response {
	var firstError string
	queued := false
	for _, cm := range msg.Destinations() {
		switch cm.Status() {
		case model.StatusError:
			if firstError == "" {
				firstError = cm.ProcessingError
			}
		case model.StatusQueued, model.StatusPending:
			queued = true
		}
	}
	switch {
	case firstError != "":
		return model.ErrorResponse("destination error", firstError)
	case queued:
		return model.QueuedResponse()
	default:
		return model.SentResponse("")
	}
}

// filtered settles a message the source filter excluded: no destinations
// are created.
func (s *SourceConnector) filtered(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) (*model.Response, error) {
	c := s.channel
	cm.SetStatus(model.StatusFiltered)
	if err := c.store.UpdateStatus(ctx, cm); err != nil {
		return nil, err
	}
	c.stats.Update(ctx, c.cfg.ID, model.SourceMetaDataID, event.Deltas{Filtered: 1})
	c.events.Dispatch(event.Event{
		Type: event.MessageFiltered, ChannelID: c.cfg.ID, MessageID: msg.ID, Time: c.clock.Now(),
	})
	if err := c.store.MarkProcessed(ctx, c.cfg.ID, msg.ID); err != nil {
		return nil, err
	}
	return model.FilteredResponse(), nil
}

// fail settles a message whose source-side stage errored.
func (s *SourceConnector) fail(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage, cause error) (*model.Response, error) {
	c := s.channel
	content := &model.MessageContent{
		ChannelID: c.cfg.ID, MessageID: msg.ID, MetaDataID: cm.MetaDataID,
		Type: model.ContentProcessingError, Content: cause.Error(),
	}
	cm.SetContent(content)
	cm.ProcessingError = cause.Error()
	cm.SetStatus(model.StatusError)
	cm.ErrorCode = 1

	if err := c.store.InsertMessageContent(ctx, content); err != nil {
		return nil, err
	}
	if err := c.store.UpdateErrors(ctx, cm); err != nil {
		return nil, err
	}
	if err := c.store.UpdateStatus(ctx, cm); err != nil {
		return nil, err
	}
	c.stats.Update(ctx, c.cfg.ID, cm.MetaDataID, event.Deltas{Error: 1})
	c.events.Dispatch(event.Event{
		Type: event.MessageError, ChannelID: c.cfg.ID, MessageID: msg.ID, Time: c.clock.Now(),
	})
	if err := c.store.MarkProcessed(ctx, c.cfg.ID, msg.ID); err != nil {
		return nil, err
	}
	log.Errorf("channel %s: message %d failed at source: %v", c.cfg.ID, msg.ID, cause)
	return model.ErrorResponse("source error", cause.Error()), nil
}

func sourceName(name string) string {
	if name == "" {
		return "Source"
	}
	return name
}
