// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package store

// Schema statements executed on Open in standalone mode. Takeover mode
// assumes the tables already exist and only verifies them.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS d_channels (
		channel_id      TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		revision        INTEGER NOT NULL DEFAULT 0,
		last_message_id INTEGER NOT NULL DEFAULT 0,
		deployed        INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS d_messages (
		channel_id    TEXT NOT NULL,
		message_id    INTEGER NOT NULL,
		server_id     TEXT NOT NULL,
		received_date TIMESTAMP NOT NULL,
		processed     INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (channel_id, message_id)
	)`,
	`CREATE TABLE IF NOT EXISTS d_connector_messages (
		channel_id       TEXT NOT NULL,
		message_id       INTEGER NOT NULL,
		metadata_id      INTEGER NOT NULL,
		connector_name   TEXT NOT NULL,
		server_id        TEXT NOT NULL,
		received_date    TIMESTAMP NOT NULL,
		status           TEXT NOT NULL,
		send_attempts    INTEGER NOT NULL DEFAULT 0,
		send_date        TIMESTAMP,
		response_date    TIMESTAMP,
		error_code       INTEGER NOT NULL DEFAULT 0,
		chain_id         INTEGER NOT NULL DEFAULT 0,
		order_id         INTEGER NOT NULL DEFAULT 0,
		processing_error TEXT,
		response_error   TEXT,
		PRIMARY KEY (channel_id, message_id, metadata_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cm_status
		ON d_connector_messages (channel_id, metadata_id, status)`,
	`CREATE TABLE IF NOT EXISTS d_contents (
		channel_id   TEXT NOT NULL,
		message_id   INTEGER NOT NULL,
		metadata_id  INTEGER NOT NULL,
		content_type INTEGER NOT NULL,
		content      TEXT NOT NULL,
		data_type    TEXT,
		encrypted    INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (channel_id, message_id, metadata_id, content_type)
	)`,
	`CREATE TABLE IF NOT EXISTS d_statistics (
		channel_id  TEXT NOT NULL,
		metadata_id INTEGER NOT NULL,
		lifetime    INTEGER NOT NULL DEFAULT 0,
		received    INTEGER NOT NULL DEFAULT 0,
		filtered    INTEGER NOT NULL DEFAULT 0,
		transformed INTEGER NOT NULL DEFAULT 0,
		pending     INTEGER NOT NULL DEFAULT 0,
		sent        INTEGER NOT NULL DEFAULT 0,
		error       INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (channel_id, metadata_id, lifetime)
	)`,
	`CREATE TABLE IF NOT EXISTS d_attachments (
		id         TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		message_id INTEGER NOT NULL,
		type       TEXT,
		content    BLOB NOT NULL,
		PRIMARY KEY (channel_id, id)
	)`,
}

// requiredTables is what takeover mode verifies before accepting a schema.
var requiredTables = []string{
	"d_channels", "d_messages", "d_connector_messages", "d_contents", "d_statistics", "d_attachments",
}
