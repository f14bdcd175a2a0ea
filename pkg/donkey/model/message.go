// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package model

import (
	"sort"
	"sync"
	"time"
)

// SourceMetaDataID is the reserved connector id of the source connector.
const SourceMetaDataID = 0

// DestinationSetKey is the well-known source map key holding the []int of
// metaDataIds the source transformer kept enabled. Destinations absent from
// the set are skipped before any connector message is created.
const DestinationSetKey = "donkey_destination_set"

// AttachmentIDKey is the source map key recording the id of content
// detached into the attachment table, so destinations can reattach it at
// send time.
const AttachmentIDKey = "donkey_attachment_id"

// Message is one end-to-end unit of work moving through a channel. It holds
// one ConnectorMessage per connector that touched it, keyed by metaDataId.
type Message struct {
	ID           int64
	ChannelID    string
	ServerID     string
	ReceivedDate time.Time
	Processed    bool
	Attributes   map[string]string

	mu         sync.RWMutex
	connectors map[int]*ConnectorMessage
}

// NewMessage returns an empty message for the given channel.
func NewMessage(channelID, serverID string, receivedDate time.Time) *Message {
	return &Message{
		ChannelID:    channelID,
		ServerID:     serverID,
		ReceivedDate: receivedDate,
		Attributes:   make(map[string]string),
		connectors:   make(map[int]*ConnectorMessage),
	}
}

// AddConnectorMessage registers cm under its metaDataId.
func (m *Message) AddConnectorMessage(cm *ConnectorMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectors[cm.MetaDataID] = cm
}

// ConnectorMessage returns the connector message for the given metaDataId.
func (m *Message) ConnectorMessage(metaDataID int) *ConnectorMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connectors[metaDataID]
}

// Source returns the metaDataId 0 connector message.
func (m *Message) Source() *ConnectorMessage {
	return m.ConnectorMessage(SourceMetaDataID)
}

// ConnectorMessages returns the connector messages in metaDataId order.
func (m *Message) ConnectorMessages() []*ConnectorMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int, 0, len(m.connectors))
	for id := range m.connectors {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]*ConnectorMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.connectors[id])
	}
	return out
}

// Destinations returns every connector message except the source, in
// metaDataId order.
func (m *Message) Destinations() []*ConnectorMessage {
	all := m.ConnectorMessages()
	out := all[:0]
	for _, cm := range all {
		if cm.MetaDataID != SourceMetaDataID {
			out = append(out, cm)
		}
	}
	return out
}

// AllDestinationsTerminal reports whether every destination connector
// message has settled for postprocessing purposes. QUEUED counts as settled:
// the postprocessor does not wait for durable redelivery.
func (m *Message) AllDestinationsTerminal() bool {
	for _, cm := range m.Destinations() {
		st := cm.Status()
		if !st.IsTerminal() && st != StatusQueued {
			return false
		}
	}
	return true
}
