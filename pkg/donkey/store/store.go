// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

// Package store is the persistence port of the channel engine. Every state
// transition in the pipeline writes through a Datastore; the engine refuses
// to acknowledge upstream until persistence succeeds.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/donkeyengine/donkey/pkg/donkey/event"
	"github.com/donkeyengine/donkey/pkg/donkey/model"
)

// Datastore is the abstract persistence surface consumed by the engine.
// All operations are transactional per invocation.
type Datastore interface {
	// DeployChannel registers the channel and allocates its resources.
	DeployChannel(ctx context.Context, channelID, name string, revision int) error
	// UndeployChannel releases deploy-time resources. Message history is
	// kept until pruned.
	UndeployChannel(ctx context.Context, channelID string) error

	// NextMessageID assigns the next monotonic message id for the channel.
	NextMessageID(ctx context.Context, channelID string) (int64, error)
	InsertMessage(ctx context.Context, msg *model.Message) error
	InsertConnectorMessage(ctx context.Context, cm *model.ConnectorMessage) error
	InsertMessageContent(ctx context.Context, content *model.MessageContent) error
	// UpdateMessageContent upserts a content entry. The only caller is the
	// eventual-send response update; pipeline stages use the append-only
	// InsertMessageContent.
	UpdateMessageContent(ctx context.Context, content *model.MessageContent) error
	GetMessageContent(ctx context.Context, channelID string, messageID int64, metaDataID int, t model.ContentType) (*model.MessageContent, error)

	// UpdateStatus persists status, errorCode, sendAttempts and the
	// send/response dates of cm.
	UpdateStatus(ctx context.Context, cm *model.ConnectorMessage) error
	// UpdateErrors persists the processing and response error text of cm.
	UpdateErrors(ctx context.Context, cm *model.ConnectorMessage) error
	// MarkProcessed sets the terminal processed flag of a message.
	MarkProcessed(ctx context.Context, channelID string, messageID int64) error

	// UpdateStatistics applies a delta to both the current and lifetime
	// statistics rows.
	UpdateStatistics(ctx context.Context, channelID string, metaDataID int, d event.Deltas) error
	GetStatistics(ctx context.Context, channelID string, metaDataID int) (event.Counts, error)
	GetLifetimeStatistics(ctx context.Context, channelID string, metaDataID int) (event.Counts, error)
	// ResetStatistics zeroes the current statistics, not the lifetime ones.
	ResetStatistics(ctx context.Context, channelID string) error

	QueueDataSource

	// GetUnfinishedMessageIDs returns ids of messages not yet processed,
	// ascending. Used by channel start recovery.
	GetUnfinishedMessageIDs(ctx context.Context, channelID string) ([]int64, error)
	// GetConnectorMessages rehydrates every connector message of one
	// message, contents and maps included, in metaDataId order.
	GetConnectorMessages(ctx context.Context, channelID string, messageID int64) ([]*model.ConnectorMessage, error)
	// ResetPendingToQueued downgrades PENDING connector messages left over
	// from an aborted send so queue workers pick them up again.
	ResetPendingToQueued(ctx context.Context, channelID string) (int64, error)

	// PruneMessages removes processed messages received before the horizon.
	PruneMessages(ctx context.Context, channelID string, before time.Time) (int64, error)

	InsertAttachment(ctx context.Context, att *model.Attachment) error
	GetAttachment(ctx context.Context, channelID, attachmentID string) (*model.Attachment, error)

	Close() error
}

// QueueDataSource is the slice of the datastore the connector message queue
// needs. The rotate-thread map is shared in-process state: rotation never
// survives a restart.
type QueueDataSource interface {
	GetQueueSize(ctx context.Context, channelID string, metaDataID int) (int, error)
	// GetQueueItems returns queued connector messages ordered by ascending
	// messageId, starting at offset.
	GetQueueItems(ctx context.Context, channelID string, metaDataID, offset, limit int) ([]*model.ConnectorMessage, error)
	// RotateQueue flags every registered worker of the connector to skip
	// its current head once.
	RotateQueue(channelID string, metaDataID int)
	// GetRotateThreadMap returns the shared per-worker rotation flags for
	// the connector (bucket id -> bool).
	GetRotateThreadMap(channelID string, metaDataID int) *sync.Map
	// SetLastItem records the most recently acquired item so rotation can
	// skip past it.
	SetLastItem(channelID string, metaDataID int, messageID int64)
	// GetLastItem returns the recorded item id, or 0.
	GetLastItem(channelID string, metaDataID int) int64
}
