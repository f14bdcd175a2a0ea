// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package channel

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donkeyengine/donkey/pkg/config"
	"github.com/donkeyengine/donkey/pkg/connectors"
	"github.com/donkeyengine/donkey/pkg/datatypes"
	"github.com/donkeyengine/donkey/pkg/datatypes/all"
	"github.com/donkeyengine/donkey/pkg/donkey/model"
	"github.com/donkeyengine/donkey/pkg/donkey/store"
	"github.com/donkeyengine/donkey/pkg/scripts"
)

type stubSource struct{}

func (stubSource) Start(context.Context, connectors.Handler) error { return nil }
func (stubSource) Stop(context.Context) error                      { return nil }

// stubDestination records sends and fails the first `failures` attempts
// with `failWith`.
type stubDestination struct {
	mu       sync.Mutex
	sent     []string
	calls    int
	failures int
	failWith error
	ack      string
}

func (d *stubDestination) Start(context.Context) error { return nil }
func (d *stubDestination) Stop(context.Context) error  { return nil }

func (d *stubDestination) Send(_ context.Context, _ *model.ConnectorMessage, content string) (*model.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls <= d.failures {
		return nil, d.failWith
	}
	d.sent = append(d.sent, content)
	return model.SentResponse(d.ack), nil
}

func (d *stubDestination) sentCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func (d *stubDestination) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func rawConnector(name string) config.ConnectorConfig {
	return config.ConnectorConfig{Name: name, Transport: "test", DataType: "RAW"}
}

func rawDestination(metaDataID, chain int) config.DestinationConfig {
	return config.DestinationConfig{
		ConnectorConfig: rawConnector("Dest"),
		MetaDataID:      metaDataID,
		Chain:           chain,
	}
}

// startTestChannel deploys and starts a channel over a fresh SQLite store,
// stopping it on cleanup.
func startTestChannel(t *testing.T, spec Spec) *Channel {
	t.Helper()
	if spec.Config.ID == "" {
		spec.Config.ID = "test-channel"
	}
	if spec.Config.Name == "" {
		spec.Config.Name = "Test Channel"
	}
	if spec.Config.Source.DataType == "" {
		spec.Config.Source = config.SourceConfig{
			ConnectorConfig:     rawConnector("Source"),
			WaitForDestinations: true,
		}
	}
	if spec.ServerID == "" {
		spec.ServerID = "server-1"
	}
	if spec.Source == nil {
		spec.Source = stubSource{}
	}
	if spec.DataTypes == nil {
		spec.DataTypes = all.NewRegistry()
	}
	if spec.Store == nil {
		st, err := store.Open(filepath.Join(t.TempDir(), "donkey.db"), false)
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		spec.Store = st
	}

	ch, err := New(spec)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, ch.Deploy(ctx))
	require.NoError(t, ch.Start(ctx))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if ch.State() == StateStarted || ch.State() == StatePaused {
			ch.Stop(stopCtx) //nolint:errcheck
		}
	})
	return ch
}

func TestDispatchDeliversToDestination(t *testing.T) {
	dest := &stubDestination{ack: "ok"}
	ch := startTestChannel(t, Spec{
		Destinations: []DestinationSpec{{Config: rawDestination(1, 1), Transport: dest}},
	})

	response, err := ch.Dispatch(context.Background(), "hello world", nil)
	require.NoError(t, err)
	require.NotNil(t, response)
	assert.Equal(t, model.StatusSent, response.Status)
	require.Equal(t, []string{"hello world"}, dest.sent)

	ctx := context.Background()
	raw, err := ch.store.GetMessageContent(ctx, ch.ID(), 1, model.SourceMetaDataID, model.ContentRaw)
	require.NoError(t, err)
	require.NotNil(t, raw)
	assert.Equal(t, "hello world", raw.Content)

	unfinished, err := ch.store.GetUnfinishedMessageIDs(ctx, ch.ID())
	require.NoError(t, err)
	assert.Empty(t, unfinished)
}

func TestLifecycleTransitions(t *testing.T) {
	dest := &stubDestination{}
	ch := startTestChannel(t, Spec{
		Destinations: []DestinationSpec{{Config: rawDestination(1, 1), Transport: dest}},
	})
	ctx := context.Background()

	assert.Equal(t, StateStarted, ch.State())
	assert.Error(t, ch.Deploy(ctx))

	require.NoError(t, ch.Pause(ctx))
	assert.Equal(t, StatePaused, ch.State())
	require.NoError(t, ch.Resume(ctx))
	assert.Equal(t, StateStarted, ch.State())

	require.NoError(t, ch.Stop(ctx))
	assert.Equal(t, StateStopped, ch.State())
	require.NoError(t, ch.Undeploy(ctx))
	assert.Equal(t, StateUndeployed, ch.State())
}

func TestSourceFilterExcludesMessage(t *testing.T) {
	dest := &stubDestination{}
	ch := startTestChannel(t, Spec{
		SourceFilter: scripts.FilterFunc(func(context.Context, *scripts.Context) (bool, error) {
			return false, nil
		}),
		Destinations: []DestinationSpec{{Config: rawDestination(1, 1), Transport: dest}},
	})

	response, err := ch.Dispatch(context.Background(), "drop me", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFiltered, response.Status)
	assert.Zero(t, dest.callCount())
}

func TestSourceTransformerErrorSettlesError(t *testing.T) {
	dest := &stubDestination{}
	ch := startTestChannel(t, Spec{
		SourceTransformer: scripts.TransformerFunc(func(context.Context, *scripts.Context) (string, error) {
			return "", errors.New("boom")
		}),
		Destinations: []DestinationSpec{{Config: rawDestination(1, 1), Transport: dest}},
	})

	response, err := ch.Dispatch(context.Background(), "payload", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, response.Status)
	assert.Contains(t, response.Error, "boom")
	assert.Zero(t, dest.callCount())
}

func TestChainStopsOnErrorButOtherChainsRun(t *testing.T) {
	failing := &stubDestination{failures: 100, failWith: connectors.Permanent(errors.New("rejected"))}
	sameChain := &stubDestination{}
	otherChain := &stubDestination{}
	ch := startTestChannel(t, Spec{
		Destinations: []DestinationSpec{
			{Config: rawDestination(1, 1), Transport: failing},
			{Config: rawDestination(2, 1), Transport: sameChain},
			{Config: rawDestination(3, 3), Transport: otherChain},
		},
	})

	response, err := ch.Dispatch(context.Background(), "payload", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, response.Status)
	assert.Zero(t, sameChain.callCount())
	assert.Equal(t, 1, otherChain.sentCount())
}

func TestDestinationFilterDoesNotStopChain(t *testing.T) {
	first := &stubDestination{}
	second := &stubDestination{}
	ch := startTestChannel(t, Spec{
		Destinations: []DestinationSpec{
			{
				Config:    rawDestination(1, 1),
				Transport: first,
				Filter: scripts.FilterFunc(func(context.Context, *scripts.Context) (bool, error) {
					return false, nil
				}),
			},
			{Config: rawDestination(2, 1), Transport: second},
		},
	})

	response, err := ch.Dispatch(context.Background(), "payload", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, response.Status)
	assert.Zero(t, first.callCount())
	assert.Equal(t, 1, second.sentCount())
}

func TestDestinationSetNarrowsFanout(t *testing.T) {
	skipped := &stubDestination{}
	kept := &stubDestination{}
	ch := startTestChannel(t, Spec{
		SourceTransformer: scripts.TransformerFunc(func(_ context.Context, sc *scripts.Context) (string, error) {
			sc.SourceMap.Put(model.DestinationSetKey, []int{2})
			return sc.Message, nil
		}),
		Destinations: []DestinationSpec{
			{Config: rawDestination(1, 1), Transport: skipped},
			{Config: rawDestination(2, 2), Transport: kept},
		},
	})

	response, err := ch.Dispatch(context.Background(), "payload", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, response.Status)
	assert.Zero(t, skipped.callCount())
	assert.Equal(t, 1, kept.sentCount())
}

func TestDestinationTransformerRewritesContent(t *testing.T) {
	dest := &stubDestination{}
	ch := startTestChannel(t, Spec{
		Destinations: []DestinationSpec{{
			Config:    rawDestination(1, 1),
			Transport: dest,
			Transformer: scripts.TransformerFunc(func(_ context.Context, sc *scripts.Context) (string, error) {
				return strings.ToUpper(sc.Message), nil
			}),
		}},
	})

	_, err := ch.Dispatch(context.Background(), "payload", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"PAYLOAD"}, dest.sent)
}

func TestQueuedDestinationDeliversInBackground(t *testing.T) {
	dest := &stubDestination{}
	destCfg := rawDestination(1, 1)
	destCfg.Queue = config.QueueConfig{Enabled: true, RetryIntervalMillis: 10}
	ch := startTestChannel(t, Spec{
		Destinations: []DestinationSpec{{Config: destCfg, Transport: dest}},
	})

	response, err := ch.Dispatch(context.Background(), "queued payload", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, response.Status)

	require.Eventually(t, func() bool { return dest.sentCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "queued payload", dest.sent[0])
}

func TestSendFirstFallsBackToQueueOnTransientFailure(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "donkey.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dest := &stubDestination{failures: 2, failWith: connectors.Transient(errors.New("connection refused"))}
	destCfg := rawDestination(1, 1)
	destCfg.Queue = config.QueueConfig{Enabled: true, SendFirst: true, RetryIntervalMillis: 10}
	ch := startTestChannel(t, Spec{
		Store:        st,
		Destinations: []DestinationSpec{{Config: destCfg, Transport: dest}},
	})

	response, err := ch.Dispatch(context.Background(), "retry me", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, response.Status)

	require.Eventually(t, func() bool { return dest.sentCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, dest.callCount(), 3)

	// the failed attempts left their error on the connector message
	ctx := context.Background()
	cms, err := st.GetConnectorMessages(ctx, "test-channel", 1)
	require.NoError(t, err)
	require.Len(t, cms, 2)
	assert.Contains(t, cms[1].ProcessingError, "connection refused")
	errContent, err := st.GetMessageContent(ctx, "test-channel", 1, 1, model.ContentProcessingError)
	require.NoError(t, err)
	require.NotNil(t, errContent)
	assert.Contains(t, errContent.Content, "connection refused")
}

func TestInlineRetriesThenErrors(t *testing.T) {
	dest := &stubDestination{failures: 100, failWith: connectors.Transient(errors.New("down"))}
	destCfg := rawDestination(1, 1)
	destCfg.Queue = config.QueueConfig{RetryCount: 2, RetryIntervalMillis: 1}
	ch := startTestChannel(t, Spec{
		Destinations: []DestinationSpec{{Config: destCfg, Transport: dest}},
	})

	response, err := ch.Dispatch(context.Background(), "doomed", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, response.Status)
	assert.Equal(t, 3, dest.callCount())
}

func TestResponsePolicyDestination(t *testing.T) {
	dest := &stubDestination{ack: "MSA|AA|123"}
	ch := startTestChannel(t, Spec{
		Config: config.ChannelConfig{
			ID:             "policy-channel",
			ResponsePolicy: "1",
		},
		Destinations: []DestinationSpec{{Config: rawDestination(1, 1), Transport: dest}},
	})

	response, err := ch.Dispatch(context.Background(), "payload", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, response.Status)
	assert.Equal(t, "MSA|AA|123", response.Message)
}

func TestPostprocessorResponsePolicy(t *testing.T) {
	dest := &stubDestination{}
	ch := startTestChannel(t, Spec{
		Config: config.ChannelConfig{
			ID:             "pp-channel",
			ResponsePolicy: "postprocessor",
		},
		Postprocessor: scripts.PostprocessorFunc(func(context.Context, *scripts.Context) (*model.Response, error) {
			return model.NewResponse(model.StatusSent, "custom ack"), nil
		}),
		Destinations: []DestinationSpec{{Config: rawDestination(1, 1), Transport: dest}},
	})

	response, err := ch.Dispatch(context.Background(), "payload", nil)
	require.NoError(t, err)
	assert.Equal(t, "custom ack", response.Message)
}

func TestPostprocessorErrorIsNotFatal(t *testing.T) {
	dest := &stubDestination{}
	ch := startTestChannel(t, Spec{
		Postprocessor: scripts.PostprocessorFunc(func(context.Context, *scripts.Context) (*model.Response, error) {
			return nil, errors.New("postprocessor exploded")
		}),
		Destinations: []DestinationSpec{{Config: rawDestination(1, 1), Transport: dest}},
	})

	response, err := ch.Dispatch(context.Background(), "payload", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, response.Status)
	assert.Equal(t, 1, dest.sentCount())

	saved, err := ch.store.GetMessageContent(context.Background(), ch.ID(), 1, model.SourceMetaDataID, model.ContentPostprocessorError)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Contains(t, saved.Content, "postprocessor exploded")
}

func TestHL7PipelinePersistsStageContents(t *testing.T) {
	adt := "MSH|^~\\&|SND|FAC|RCV|FAC|20260101120000||ADT^A01|MSG00001|P|2.5.1\rPID|1||12345\r"
	dest := &stubDestination{}
	destCfg := rawDestination(1, 1)
	destCfg.DataType = "HL7V2"
	ch := startTestChannel(t, Spec{
		Config: config.ChannelConfig{
			ID: "hl7-channel",
			Source: config.SourceConfig{
				ConnectorConfig:     config.ConnectorConfig{Name: "Source", Transport: "test", DataType: "HL7V2"},
				WaitForDestinations: true,
			},
		},
		Destinations: []DestinationSpec{{Config: destCfg, Transport: dest}},
	})

	response, err := ch.Dispatch(context.Background(), adt, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, response.Status)
	require.Equal(t, 1, dest.sentCount())
	assert.Contains(t, dest.sent[0], "PID|1||12345")

	ctx := context.Background()
	transformed, err := ch.store.GetMessageContent(ctx, ch.ID(), 1, model.SourceMetaDataID, model.ContentTransformed)
	require.NoError(t, err)
	require.NotNil(t, transformed)
	assert.Contains(t, transformed.Content, "<MSH.9.1>ADT</MSH.9.1>")

	sourceMap, err := ch.store.GetMessageContent(ctx, ch.ID(), 1, model.SourceMetaDataID, model.ContentSourceMap)
	require.NoError(t, err)
	require.NotNil(t, sourceMap)
	assert.Contains(t, sourceMap.Content, `"mirth_type":"ADT"`)
}

// blobType is a pass-through data type whose payloads carry detachable
// binary content after a marker.
type blobType struct{ datatypes.DataType }

const blobMarker = "@@"

func newBlobType(t *testing.T) datatypes.DataType {
	raw, err := all.NewRegistry().Get("RAW")
	require.NoError(t, err)
	return &blobType{raw}
}

func (b *blobType) Name() string { return "BLOB" }

func (b *blobType) ExtractAttachment(message string) (string, []byte, string, bool, error) {
	head, tail, found := strings.Cut(message, blobMarker)
	if !found {
		return message, nil, "", false, nil
	}
	return head, []byte(tail), "BLOB", true, nil
}

func (b *blobType) ReattachAttachment(message string, content []byte) (string, error) {
	return message + blobMarker + string(content), nil
}

func TestAttachmentDetachedAndReattachedOnSend(t *testing.T) {
	registry := all.NewRegistry()
	registry.Register(newBlobType(t))

	dest := &stubDestination{}
	destCfg := rawDestination(1, 1)
	destCfg.DataType = "BLOB"
	ch := startTestChannel(t, Spec{
		Config: config.ChannelConfig{
			ID: "blob-channel",
			Source: config.SourceConfig{
				ConnectorConfig:     config.ConnectorConfig{Name: "Source", Transport: "test", DataType: "BLOB"},
				WaitForDestinations: true,
			},
			AttachmentThresholdBytes: 8,
		},
		DataTypes:    registry,
		Destinations: []DestinationSpec{{Config: destCfg, Transport: dest}},
	})

	payload := "head" + blobMarker + "a large binary body"
	response, err := ch.Dispatch(context.Background(), payload, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, response.Status)

	// the wire copy is whole again
	require.Equal(t, []string{payload}, dest.sent)

	// message history only holds the stripped payload
	ctx := context.Background()
	raw, err := ch.store.GetMessageContent(ctx, ch.ID(), 1, model.SourceMetaDataID, model.ContentRaw)
	require.NoError(t, err)
	require.NotNil(t, raw)
	assert.Equal(t, "head", raw.Content)
}

func TestRecoveryRedeliversQueuedMessages(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "donkey.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	const channelID = "recovery-channel"
	require.NoError(t, st.DeployChannel(ctx, channelID, "Recovery", 1))

	// simulate a crash: a message whose destination was mid-send
	msgID, err := st.NextMessageID(ctx, channelID)
	require.NoError(t, err)
	msg := model.NewMessage(channelID, "server-1", time.Now())
	msg.ID = msgID
	require.NoError(t, st.InsertMessage(ctx, msg))

	source := model.NewConnectorMessage(channelID, "Recovery", "server-1", msgID, model.SourceMetaDataID, "Source", time.Now())
	source.ForceStatus(model.StatusSent)
	require.NoError(t, st.InsertConnectorMessage(ctx, source))
	require.NoError(t, st.InsertMessageContent(ctx, &model.MessageContent{
		ChannelID: channelID, MessageID: msgID, MetaDataID: model.SourceMetaDataID,
		Type: model.ContentEncoded, Content: "recovered payload", DataType: "RAW",
	}))

	pending := model.NewConnectorMessage(channelID, "Recovery", "server-1", msgID, 1, "Dest", time.Now())
	pending.ChainID = 1
	pending.OrderID = 1
	pending.ForceStatus(model.StatusPending)
	require.NoError(t, st.InsertConnectorMessage(ctx, pending))

	dest := &stubDestination{}
	destCfg := rawDestination(1, 1)
	destCfg.Queue = config.QueueConfig{Enabled: true, RetryIntervalMillis: 10}
	startTestChannel(t, Spec{
		Config: config.ChannelConfig{ID: channelID, Name: "Recovery"},
		Store:  st,
		Destinations: []DestinationSpec{{Config: destCfg, Transport: dest}},
	})

	require.Eventually(t, func() bool { return dest.sentCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "recovered payload", dest.sent[0])

	require.Eventually(t, func() bool {
		unfinished, err := st.GetUnfinishedMessageIDs(ctx, channelID)
		return err == nil && len(unfinished) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRecoveryResumesMessageInterruptedBeforeTransform(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "donkey.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	const channelID = "resume-channel"
	require.NoError(t, st.DeployChannel(ctx, channelID, "Resume", 1))

	// simulate a crash right after the raw payload was persisted
	msgID, err := st.NextMessageID(ctx, channelID)
	require.NoError(t, err)
	msg := model.NewMessage(channelID, "server-1", time.Now())
	msg.ID = msgID
	require.NoError(t, st.InsertMessage(ctx, msg))

	source := model.NewConnectorMessage(channelID, "Resume", "server-1", msgID, model.SourceMetaDataID, "Source", time.Now())
	require.NoError(t, st.InsertConnectorMessage(ctx, source))
	require.NoError(t, st.InsertMessageContent(ctx, &model.MessageContent{
		ChannelID: channelID, MessageID: msgID, MetaDataID: model.SourceMetaDataID,
		Type: model.ContentRaw, Content: "interrupted payload", DataType: "RAW",
	}))

	dest := &stubDestination{}
	startTestChannel(t, Spec{
		Config:       config.ChannelConfig{ID: channelID, Name: "Resume"},
		Store:        st,
		Destinations: []DestinationSpec{{Config: rawDestination(1, 1), Transport: dest}},
	})

	// recovery runs during Start, so by now the message is done
	require.Equal(t, 1, dest.sentCount())
	assert.Equal(t, "interrupted payload", dest.sent[0])

	unfinished, err := st.GetUnfinishedMessageIDs(ctx, channelID)
	require.NoError(t, err)
	assert.Empty(t, unfinished)

	encoded, err := st.GetMessageContent(ctx, channelID, msgID, model.SourceMetaDataID, model.ContentEncoded)
	require.NoError(t, err)
	require.NotNil(t, encoded)
	assert.Equal(t, "interrupted payload", encoded.Content)
}

func TestTerminalStatusIsNeverOverwritten(t *testing.T) {
	cm := model.NewConnectorMessage("c", "C", "s", 1, 1, "Dest", time.Now())
	require.True(t, cm.SetStatus(model.StatusFiltered))
	assert.False(t, cm.SetStatus(model.StatusSent))
	assert.Equal(t, model.StatusFiltered, cm.Status())
}
