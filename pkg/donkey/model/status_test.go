// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalStatusIsNeverDowngraded(t *testing.T) {
	terminals := []Status{StatusSent, StatusError, StatusFiltered}
	others := []Status{StatusReceived, StatusTransformed, StatusQueued, StatusPending}
	for _, from := range terminals {
		for _, to := range others {
			assert.False(t, ValidTransition(from, to), "%s -> %s must be rejected", from, to)
		}
	}
}

func TestRetryCycleTransitions(t *testing.T) {
	assert.True(t, ValidTransition(StatusTransformed, StatusQueued))
	assert.True(t, ValidTransition(StatusQueued, StatusPending))
	assert.True(t, ValidTransition(StatusPending, StatusQueued))
	assert.True(t, ValidTransition(StatusPending, StatusSent))
	assert.True(t, ValidTransition(StatusPending, StatusError))
	assert.False(t, ValidTransition(StatusReceived, StatusSent))
	assert.False(t, ValidTransition(StatusQueued, StatusTransformed))
}

func TestConnectorMessageSetStatus(t *testing.T) {
	cm := NewConnectorMessage("channel", "Channel", "server", 1, 0, "Source", time.Now())
	require.Equal(t, StatusReceived, cm.Status())

	assert.True(t, cm.SetStatus(StatusTransformed))
	assert.True(t, cm.SetStatus(StatusPending))
	assert.True(t, cm.SetStatus(StatusSent))

	// terminal, any further transition is refused
	assert.False(t, cm.SetStatus(StatusQueued))
	assert.Equal(t, StatusSent, cm.Status())
}

func TestContentIsAppendOnly(t *testing.T) {
	cm := NewConnectorMessage("channel", "Channel", "server", 1, 1, "Destination 1", time.Now())
	ok := cm.SetContent(&MessageContent{MessageID: 1, MetaDataID: 1, Type: ContentEncoded, Content: "first"})
	require.True(t, ok)

	ok = cm.SetContent(&MessageContent{MessageID: 1, MetaDataID: 1, Type: ContentEncoded, Content: "second"})
	assert.False(t, ok)
	assert.Equal(t, "first", cm.ContentString(ContentEncoded))
}

func TestRehydratedConnectorMessageAcceptsContent(t *testing.T) {
	cm := RehydratedConnectorMessage("channel", 7, 1)
	cm.ForceStatus(StatusQueued)

	require.True(t, cm.SetContent(&MessageContent{MessageID: 7, MetaDataID: 1, Type: ContentRaw, Content: "payload"}))
	assert.Equal(t, "payload", cm.Raw())
	assert.Equal(t, StatusQueued, cm.Status())

	cm.SourceMap.Put("key", "value")
	v, ok := cm.SourceMap.Get("key")
	require.True(t, ok)
	assert.Equal(t, "value", v)
}

func TestEncodedOrRawFallback(t *testing.T) {
	cm := NewConnectorMessage("channel", "Channel", "server", 1, 1, "Destination 1", time.Now())
	cm.SetContent(&MessageContent{Type: ContentRaw, Content: "raw"})
	assert.Equal(t, "raw", cm.EncodedOrRaw())

	cm.SetContent(&MessageContent{Type: ContentEncoded, Content: "encoded"})
	assert.Equal(t, "encoded", cm.EncodedOrRaw())
}

func TestAllDestinationsTerminal(t *testing.T) {
	msg := NewMessage("channel", "server", time.Now())
	msg.ID = 1

	source := NewConnectorMessage("channel", "Channel", "server", 1, 0, "Source", time.Now())
	source.SetStatus(StatusTransformed)
	msg.AddConnectorMessage(source)

	d1 := NewConnectorMessage("channel", "Channel", "server", 1, 1, "Destination 1", time.Now())
	d1.SetStatus(StatusTransformed)
	d1.SetStatus(StatusPending)
	d1.SetStatus(StatusSent)
	msg.AddConnectorMessage(d1)

	d2 := NewConnectorMessage("channel", "Channel", "server", 1, 2, "Destination 2", time.Now())
	d2.SetStatus(StatusTransformed)
	msg.AddConnectorMessage(d2)

	assert.False(t, msg.AllDestinationsTerminal())

	// QUEUED counts as settled for postprocessing
	d2.SetStatus(StatusQueued)
	assert.True(t, msg.AllDestinationsTerminal())
}
