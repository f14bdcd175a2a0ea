// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package model

import (
	"sync"
	"time"
)

// ConnectorMessage is the record of one Message passing through one
// connector. Content entries are append-only per stage; status moves along
// the transitions checked by ValidTransition.
type ConnectorMessage struct {
	MessageID     int64
	MetaDataID    int
	ChannelID     string
	ChannelName   string
	ConnectorName string
	ServerID      string
	ReceivedDate  time.Time
	SendAttempts  int
	SendDate      time.Time
	ResponseDate  time.Time
	ErrorCode     int

	ProcessingError string
	ResponseError   string

	// ChainID groups destinations that share stop-on-error semantics.
	// Zero for the source.
	ChainID int
	// OrderID is the position of this destination within its chain.
	OrderID int

	SourceMap    *DataMap
	ChannelMap   *DataMap
	ConnectorMap *DataMap
	ResponseMap  *DataMap

	mu      sync.RWMutex
	status  Status
	content map[ContentType]*MessageContent
}

// NewConnectorMessage returns a connector message in the RECEIVED state with
// empty maps. The channel map and source map are typically replaced with
// shared references by the channel before dispatch.
func NewConnectorMessage(channelID, channelName, serverID string, messageID int64, metaDataID int, connectorName string, receivedDate time.Time) *ConnectorMessage {
	return &ConnectorMessage{
		MessageID:     messageID,
		MetaDataID:    metaDataID,
		ChannelID:     channelID,
		ChannelName:   channelName,
		ConnectorName: connectorName,
		ServerID:      serverID,
		ReceivedDate:  receivedDate,
		SourceMap:     NewDataMap(),
		ChannelMap:    NewDataMap(),
		ConnectorMap:  NewDataMap(),
		ResponseMap:   NewDataMap(),
		status:        StatusReceived,
		content:       make(map[ContentType]*MessageContent),
	}
}

// RehydratedConnectorMessage returns a connector message shell for the
// datastore to fill from persisted rows. All maps are allocated; the scan
// sets the remaining fields and forces the stored status.
func RehydratedConnectorMessage(channelID string, messageID int64, metaDataID int) *ConnectorMessage {
	return &ConnectorMessage{
		MessageID:    messageID,
		MetaDataID:   metaDataID,
		ChannelID:    channelID,
		SourceMap:    NewDataMap(),
		ChannelMap:   NewDataMap(),
		ConnectorMap: NewDataMap(),
		ResponseMap:  NewDataMap(),
		status:       StatusReceived,
		content:      make(map[ContentType]*MessageContent),
	}
}

// Status returns the current status.
func (cm *ConnectorMessage) Status() Status {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.status
}

// SetStatus transitions to the given status, reporting false when the
// transition is not allowed (a terminal status is never downgraded).
func (cm *ConnectorMessage) SetStatus(status Status) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if !ValidTransition(cm.status, status) {
		return false
	}
	cm.status = status
	return true
}

// ForceStatus sets the status without transition validation. Reserved for
// datastore rehydration.
func (cm *ConnectorMessage) ForceStatus(status Status) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.status = status
}

// SetContent records a content entry for its stage. The first write wins;
// subsequent writes for the same type are ignored and reported false.
func (cm *ConnectorMessage) SetContent(content *MessageContent) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if _, exists := cm.content[content.Type]; exists {
		return false
	}
	cm.content[content.Type] = content
	return true
}

// Content returns the content entry for the given stage, or nil.
func (cm *ConnectorMessage) Content(t ContentType) *MessageContent {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.content[t]
}

// ContentString returns the content body for the given stage, or "".
func (cm *ConnectorMessage) ContentString(t ContentType) string {
	if c := cm.Content(t); c != nil {
		return c.Content
	}
	return ""
}

// Raw is shorthand for the RAW stage content body.
func (cm *ConnectorMessage) Raw() string { return cm.ContentString(ContentRaw) }

// Encoded is shorthand for the ENCODED stage content body.
func (cm *ConnectorMessage) Encoded() string { return cm.ContentString(ContentEncoded) }

// EncodedOrRaw returns the ENCODED content when present, falling back
// through TRANSFORMED, PROCESSED_RAW and RAW. Used by transports that send
// whatever the furthest completed stage produced.
func (cm *ConnectorMessage) EncodedOrRaw() string {
	for _, t := range []ContentType{ContentEncoded, ContentTransformed, ContentProcessedRaw, ContentRaw} {
		if c := cm.Content(t); c != nil {
			return c.Content
		}
	}
	return ""
}
