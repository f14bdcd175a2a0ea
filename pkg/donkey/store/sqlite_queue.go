// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/donkeyengine/donkey/pkg/donkey/model"
	"github.com/donkeyengine/donkey/pkg/util/log"
)

// rotateRegistry keeps the in-process rotation flags and last-item markers
// for every connector queue. Rotation is advisory retry state; it does not
// survive a restart on purpose.
type rotateRegistry struct {
	mu       sync.Mutex
	threads  map[string]*sync.Map
	lastItem map[string]int64
}

func newRotateRegistry() *rotateRegistry {
	return &rotateRegistry{
		threads:  make(map[string]*sync.Map),
		lastItem: make(map[string]int64),
	}
}

func queueKey(channelID string, metaDataID int) string {
	return fmt.Sprintf("%s/%d", channelID, metaDataID)
}

// GetQueueSize counts the queue-eligible connector messages.
func (s *SQLiteStore) GetQueueSize(ctx context.Context, channelID string, metaDataID int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM d_connector_messages
		 WHERE channel_id=? AND metadata_id=? AND status IN (?, ?)`,
		channelID, metaDataID, string(model.StatusQueued), string(model.StatusPending)).Scan(&n)
	if err != nil {
		return 0, wrap("queue size", err)
	}
	return n, nil
}

// GetQueueItems rehydrates queued connector messages in ascending message
// id order, starting at offset.
func (s *SQLiteStore) GetQueueItems(ctx context.Context, channelID string, metaDataID, offset, limit int) ([]*model.ConnectorMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, connector_name, server_id, received_date, status,
		        send_attempts, error_code, chain_id, order_id
		 FROM d_connector_messages
		 WHERE channel_id=? AND metadata_id=? AND status=?
		 ORDER BY message_id ASC LIMIT ? OFFSET ?`,
		channelID, metaDataID, string(model.StatusQueued), limit, offset)
	if err != nil {
		return nil, wrap("queue items", err)
	}
	defer rows.Close()

	var items []*model.ConnectorMessage
	for rows.Next() {
		cm := model.RehydratedConnectorMessage(channelID, 0, metaDataID)
		var status string
		if err := rows.Scan(&cm.MessageID, &cm.ConnectorName, &cm.ServerID, &cm.ReceivedDate,
			&status, &cm.SendAttempts, &cm.ErrorCode, &cm.ChainID, &cm.OrderID); err != nil {
			return nil, wrap("queue items", err)
		}
		cm.ForceStatus(model.Status(status))
		items = append(items, cm)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("queue items", err)
	}

	for _, cm := range items {
		if err := s.loadContents(ctx, cm); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// loadContents attaches persisted content entries and rehydrates the shared
// maps of a queued connector message.
func (s *SQLiteStore) loadContents(ctx context.Context, cm *model.ConnectorMessage) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT metadata_id, content_type, content, data_type, encrypted FROM d_contents
		 WHERE channel_id=? AND message_id=? AND metadata_id IN (?, ?)`,
		cm.ChannelID, cm.MessageID, cm.MetaDataID, model.SourceMetaDataID)
	if err != nil {
		return wrap("load contents", err)
	}
	defer rows.Close()

	for rows.Next() {
		var metaDataID, contentType, encrypted int
		var body string
		var dataType sql.NullString
		if err := rows.Scan(&metaDataID, &contentType, &body, &dataType, &encrypted); err != nil {
			return wrap("load contents", err)
		}
		t := model.ContentType(contentType)
		switch t {
		case model.ContentSourceMap:
			rehydrateMap(cm.SourceMap, body)
		case model.ContentChannelMap:
			rehydrateMap(cm.ChannelMap, body)
		case model.ContentConnectorMap:
			if metaDataID == cm.MetaDataID {
				rehydrateMap(cm.ConnectorMap, body)
			}
		default:
			if metaDataID == cm.MetaDataID {
				cm.SetContent(&model.MessageContent{
					ChannelID:  cm.ChannelID,
					MessageID:  cm.MessageID,
					MetaDataID: cm.MetaDataID,
					Type:       t,
					Content:    body,
					DataType:   dataType.String,
					Encrypted:  encrypted != 0,
				})
			} else if t == model.ContentEncoded && cm.MetaDataID != model.SourceMetaDataID {
				// a destination's raw input is the source's encoded output;
				// restore it so a retried send can fall back to it
				cm.SetContent(&model.MessageContent{
					ChannelID:  cm.ChannelID,
					MessageID:  cm.MessageID,
					MetaDataID: cm.MetaDataID,
					Type:       model.ContentRaw,
					Content:    body,
					DataType:   dataType.String,
				})
			}
		}
	}
	return wrap("load contents", rows.Err())
}

func rehydrateMap(dst *model.DataMap, body string) {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		log.Warnf("could not rehydrate persisted map: %v", err)
		return
	}
	for k, v := range m {
		dst.Put(k, v)
	}
}

// MarshalMap serializes a data map for persistence as a content entry.
func MarshalMap(m *model.DataMap) string {
	body, err := json.Marshal(m.Snapshot())
	if err != nil {
		log.Warnf("could not serialize data map: %v", err)
		return "{}"
	}
	return string(body)
}

// RotateQueue flags every registered worker to skip its current head once.
func (s *SQLiteStore) RotateQueue(channelID string, metaDataID int) {
	tm := s.GetRotateThreadMap(channelID, metaDataID)
	tm.Range(func(k, _ interface{}) bool {
		tm.Store(k, true)
		return true
	})
}

// GetRotateThreadMap returns the shared rotation flags for one connector.
func (s *SQLiteStore) GetRotateThreadMap(channelID string, metaDataID int) *sync.Map {
	s.rotate.mu.Lock()
	defer s.rotate.mu.Unlock()
	k := queueKey(channelID, metaDataID)
	if m, ok := s.rotate.threads[k]; ok {
		return m
	}
	m := &sync.Map{}
	s.rotate.threads[k] = m
	return m
}

// SetLastItem records the most recently acquired queue item.
func (s *SQLiteStore) SetLastItem(channelID string, metaDataID int, messageID int64) {
	s.rotate.mu.Lock()
	defer s.rotate.mu.Unlock()
	s.rotate.lastItem[queueKey(channelID, metaDataID)] = messageID
}

// GetLastItem returns the recorded queue item id, or 0.
func (s *SQLiteStore) GetLastItem(channelID string, metaDataID int) int64 {
	s.rotate.mu.Lock()
	defer s.rotate.mu.Unlock()
	return s.rotate.lastItem[queueKey(channelID, metaDataID)]
}
