// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/donkeyengine/donkey/pkg/donkey/event"
	"github.com/donkeyengine/donkey/pkg/donkey/model"
	"github.com/donkeyengine/donkey/pkg/util/log"
)

// SQLiteStore is the embedded Datastore implementation. One database file
// backs the whole server; rows are scoped by channel id.
type SQLiteStore struct {
	db *sql.DB

	rotate *rotateRegistry
}

// Open opens (standalone mode) or attaches to (takeover mode) a SQLite
// database at path. Standalone creates missing tables; takeover requires
// them to exist already.
func Open(path string, takeover bool) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, wrap("open", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// churn under concurrent channel workers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, rotate: newRotateRegistry()}
	if takeover {
		if err := s.verifySchema(); err != nil {
			db.Close()
			return nil, err
		}
		log.Infof("datastore: took over existing schema at %s", path)
		return s, nil
	}
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, wrap("create schema", err)
		}
	}
	return s, nil
}

func (s *SQLiteStore) verifySchema() error {
	for _, table := range requiredTables {
		var name string
		err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err == sql.ErrNoRows {
			return wrap("takeover", errors.Errorf("missing table %s", table))
		}
		if err != nil {
			return wrap("takeover", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return wrap("close", s.db.Close())
}

func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(op, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return wrap(op, err)
	}
	return wrap(op, tx.Commit())
}

// DeployChannel registers the channel row, bumping the revision.
func (s *SQLiteStore) DeployChannel(ctx context.Context, channelID, name string, revision int) error {
	return s.withTx(ctx, "deploy channel", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO d_channels (channel_id, name, revision, deployed) VALUES (?, ?, ?, 1)
			 ON CONFLICT(channel_id) DO UPDATE SET name=excluded.name, revision=excluded.revision, deployed=1`,
			channelID, name, revision)
		return err
	})
}

// UndeployChannel clears the deployed flag. History rows stay until pruned.
func (s *SQLiteStore) UndeployChannel(ctx context.Context, channelID string) error {
	return s.withTx(ctx, "undeploy channel", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE d_channels SET deployed=0 WHERE channel_id=?`, channelID)
		return err
	})
}

// NextMessageID increments and returns the channel's message sequence.
func (s *SQLiteStore) NextMessageID(ctx context.Context, channelID string) (int64, error) {
	var id int64
	err := s.withTx(ctx, "next message id", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE d_channels SET last_message_id = last_message_id + 1 WHERE channel_id=?`, channelID); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx,
			`SELECT last_message_id FROM d_channels WHERE channel_id=?`, channelID).Scan(&id)
	})
	return id, err
}

// InsertMessage persists the message header row.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *model.Message) error {
	return s.withTx(ctx, "insert message", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO d_messages (channel_id, message_id, server_id, received_date, processed)
			 VALUES (?, ?, ?, ?, ?)`,
			msg.ChannelID, msg.ID, msg.ServerID, msg.ReceivedDate, boolToInt(msg.Processed))
		return err
	})
}

// InsertConnectorMessage persists the connector message row.
func (s *SQLiteStore) InsertConnectorMessage(ctx context.Context, cm *model.ConnectorMessage) error {
	return s.withTx(ctx, "insert connector message", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO d_connector_messages
			 (channel_id, message_id, metadata_id, connector_name, server_id, received_date, status,
			  send_attempts, error_code, chain_id, order_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cm.ChannelID, cm.MessageID, cm.MetaDataID, cm.ConnectorName, cm.ServerID, cm.ReceivedDate,
			string(cm.Status()), cm.SendAttempts, cm.ErrorCode, cm.ChainID, cm.OrderID)
		return err
	})
}

// InsertMessageContent persists one append-only content entry.
func (s *SQLiteStore) InsertMessageContent(ctx context.Context, content *model.MessageContent) error {
	return s.withTx(ctx, "insert content", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO d_contents (channel_id, message_id, metadata_id, content_type, content, data_type, encrypted)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			content.ChannelID, content.MessageID, content.MetaDataID, int(content.Type),
			content.Content, content.DataType, boolToInt(content.Encrypted))
		return err
	})
}

// UpdateMessageContent upserts one content entry, replacing any earlier
// write for the same stage.
func (s *SQLiteStore) UpdateMessageContent(ctx context.Context, content *model.MessageContent) error {
	return s.withTx(ctx, "update content", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO d_contents (channel_id, message_id, metadata_id, content_type, content, data_type, encrypted)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(channel_id, message_id, metadata_id, content_type) DO UPDATE SET
			 content=excluded.content, data_type=excluded.data_type, encrypted=excluded.encrypted`,
			content.ChannelID, content.MessageID, content.MetaDataID, int(content.Type),
			content.Content, content.DataType, boolToInt(content.Encrypted))
		return err
	})
}

// GetMessageContent returns one content entry, or nil when absent.
func (s *SQLiteStore) GetMessageContent(ctx context.Context, channelID string, messageID int64, metaDataID int, t model.ContentType) (*model.MessageContent, error) {
	content := &model.MessageContent{ChannelID: channelID, MessageID: messageID, MetaDataID: metaDataID, Type: t}
	var encrypted int
	var dataType sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT content, data_type, encrypted FROM d_contents
		 WHERE channel_id=? AND message_id=? AND metadata_id=? AND content_type=?`,
		channelID, messageID, metaDataID, int(t)).Scan(&content.Content, &dataType, &encrypted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get content", err)
	}
	content.DataType = dataType.String
	content.Encrypted = encrypted != 0
	return content, nil
}

// UpdateStatus persists the status machine fields of cm.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, cm *model.ConnectorMessage) error {
	return s.withTx(ctx, "update status", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE d_connector_messages
			 SET status=?, error_code=?, send_attempts=?, send_date=?, response_date=?
			 WHERE channel_id=? AND message_id=? AND metadata_id=?`,
			string(cm.Status()), cm.ErrorCode, cm.SendAttempts,
			nullableTime(cm.SendDate), nullableTime(cm.ResponseDate),
			cm.ChannelID, cm.MessageID, cm.MetaDataID)
		return err
	})
}

// UpdateErrors persists the error text columns of cm.
func (s *SQLiteStore) UpdateErrors(ctx context.Context, cm *model.ConnectorMessage) error {
	return s.withTx(ctx, "update errors", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE d_connector_messages SET processing_error=?, response_error=?
			 WHERE channel_id=? AND message_id=? AND metadata_id=?`,
			cm.ProcessingError, cm.ResponseError, cm.ChannelID, cm.MessageID, cm.MetaDataID)
		return err
	})
}

// MarkProcessed closes the message after the postprocessor ran.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, channelID string, messageID int64) error {
	return s.withTx(ctx, "mark processed", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE d_messages SET processed=1 WHERE channel_id=? AND message_id=?`, channelID, messageID)
		return err
	})
}

// UpdateStatistics applies d to both the current and lifetime rows.
func (s *SQLiteStore) UpdateStatistics(ctx context.Context, channelID string, metaDataID int, d event.Deltas) error {
	return s.withTx(ctx, "update statistics", func(tx *sql.Tx) error {
		for _, lifetime := range []int{0, 1} {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO d_statistics (channel_id, metadata_id, lifetime, received, filtered, transformed, pending, sent, error)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT(channel_id, metadata_id, lifetime) DO UPDATE SET
				   received=received+excluded.received,
				   filtered=filtered+excluded.filtered,
				   transformed=transformed+excluded.transformed,
				   pending=pending+excluded.pending,
				   sent=sent+excluded.sent,
				   error=error+excluded.error`,
				channelID, metaDataID, lifetime,
				d.Received, d.Filtered, d.Transformed, d.Pending, d.Sent, d.Error); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) getStatistics(ctx context.Context, channelID string, metaDataID, lifetime int) (event.Counts, error) {
	var c event.Counts
	err := s.db.QueryRowContext(ctx,
		`SELECT received, filtered, transformed, pending, sent, error FROM d_statistics
		 WHERE channel_id=? AND metadata_id=? AND lifetime=?`,
		channelID, metaDataID, lifetime).
		Scan(&c.Received, &c.Filtered, &c.Transformed, &c.Pending, &c.Sent, &c.Error)
	if err == sql.ErrNoRows {
		return event.Counts{}, nil
	}
	if err != nil {
		return event.Counts{}, wrap("get statistics", err)
	}
	return c, nil
}

// GetStatistics returns the current counters for one connector.
func (s *SQLiteStore) GetStatistics(ctx context.Context, channelID string, metaDataID int) (event.Counts, error) {
	return s.getStatistics(ctx, channelID, metaDataID, 0)
}

// GetLifetimeStatistics returns the lifetime counters for one connector.
func (s *SQLiteStore) GetLifetimeStatistics(ctx context.Context, channelID string, metaDataID int) (event.Counts, error) {
	return s.getStatistics(ctx, channelID, metaDataID, 1)
}

// ResetStatistics zeroes the current counters of a channel, keeping the
// lifetime row.
func (s *SQLiteStore) ResetStatistics(ctx context.Context, channelID string) error {
	return s.withTx(ctx, "reset statistics", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE d_statistics SET received=0, filtered=0, transformed=0, pending=0, sent=0, error=0
			 WHERE channel_id=? AND lifetime=0`, channelID)
		return err
	})
}

// GetUnfinishedMessageIDs returns unprocessed message ids, ascending.
func (s *SQLiteStore) GetUnfinishedMessageIDs(ctx context.Context, channelID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id FROM d_messages WHERE channel_id=? AND processed=0 ORDER BY message_id ASC`, channelID)
	if err != nil {
		return nil, wrap("get unfinished", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("get unfinished", err)
		}
		ids = append(ids, id)
	}
	return ids, wrap("get unfinished", rows.Err())
}

// GetConnectorMessages rehydrates every connector message of one message.
func (s *SQLiteStore) GetConnectorMessages(ctx context.Context, channelID string, messageID int64) ([]*model.ConnectorMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT metadata_id, connector_name, server_id, received_date, status,
		        send_attempts, error_code, chain_id, order_id, processing_error, response_error
		 FROM d_connector_messages
		 WHERE channel_id=? AND message_id=?
		 ORDER BY metadata_id ASC`,
		channelID, messageID)
	if err != nil {
		return nil, wrap("get connector messages", err)
	}
	defer rows.Close()

	var items []*model.ConnectorMessage
	for rows.Next() {
		cm := model.RehydratedConnectorMessage(channelID, messageID, 0)
		var status string
		var processingError, responseError sql.NullString
		if err := rows.Scan(&cm.MetaDataID, &cm.ConnectorName, &cm.ServerID, &cm.ReceivedDate,
			&status, &cm.SendAttempts, &cm.ErrorCode, &cm.ChainID, &cm.OrderID,
			&processingError, &responseError); err != nil {
			return nil, wrap("get connector messages", err)
		}
		cm.ForceStatus(model.Status(status))
		cm.ProcessingError = processingError.String
		cm.ResponseError = responseError.String
		items = append(items, cm)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("get connector messages", err)
	}

	for _, cm := range items {
		if err := s.loadContents(ctx, cm); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// ResetPendingToQueued recovers sends aborted by a crash or halt.
func (s *SQLiteStore) ResetPendingToQueued(ctx context.Context, channelID string) (int64, error) {
	var n int64
	err := s.withTx(ctx, "reset pending", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE d_connector_messages SET status=? WHERE channel_id=? AND status=?`,
			string(model.StatusQueued), channelID, string(model.StatusPending))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// PruneMessages deletes processed messages received before the horizon,
// cascading to connector messages, contents and attachments. Unfinished
// messages are never pruned.
func (s *SQLiteStore) PruneMessages(ctx context.Context, channelID string, before time.Time) (int64, error) {
	var n int64
	err := s.withTx(ctx, "prune", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM d_messages WHERE channel_id=? AND processed=1 AND received_date < ?`, channelID, before)
		if err != nil {
			return err
		}
		if n, err = res.RowsAffected(); err != nil {
			return err
		}
		for _, stmt := range []string{
			`DELETE FROM d_connector_messages WHERE channel_id=?1 AND message_id NOT IN
				(SELECT message_id FROM d_messages WHERE channel_id=?1)`,
			`DELETE FROM d_contents WHERE channel_id=?1 AND message_id NOT IN
				(SELECT message_id FROM d_messages WHERE channel_id=?1)`,
			`DELETE FROM d_attachments WHERE channel_id=?1 AND message_id NOT IN
				(SELECT message_id FROM d_messages WHERE channel_id=?1)`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, channelID); err != nil {
				return err
			}
		}
		return nil
	})
	return n, err
}

// InsertAttachment persists detached binary content.
func (s *SQLiteStore) InsertAttachment(ctx context.Context, att *model.Attachment) error {
	return s.withTx(ctx, "insert attachment", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO d_attachments (id, channel_id, message_id, type, content) VALUES (?, ?, ?, ?, ?)`,
			att.ID, att.ChannelID, att.MessageID, att.Type, att.Content)
		return err
	})
}

// GetAttachment returns a stored attachment, or nil.
func (s *SQLiteStore) GetAttachment(ctx context.Context, channelID, attachmentID string) (*model.Attachment, error) {
	att := &model.Attachment{ID: attachmentID, ChannelID: channelID}
	err := s.db.QueryRowContext(ctx,
		`SELECT message_id, type, content FROM d_attachments WHERE channel_id=? AND id=?`,
		channelID, attachmentID).Scan(&att.MessageID, &att.Type, &att.Content)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get attachment", err)
	}
	return att, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
