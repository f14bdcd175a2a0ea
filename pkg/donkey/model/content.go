// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package model

// ContentType identifies one stage snapshot of a connector message. The
// numeric codes are the persisted representation and must not change.
type ContentType int

const (
	ContentRaw ContentType = iota + 1
	ContentProcessedRaw
	ContentTransformed
	ContentEncoded
	ContentSent
	ContentResponse
	ContentResponseTransformed
	ContentProcessedResponse
	ContentConnectorMap
	ContentChannelMap
	ContentResponseMap
	ContentProcessingError
	ContentPostprocessorError
	ContentResponseError
	ContentSourceMap
)

var contentTypeNames = map[ContentType]string{
	ContentRaw:                 "RAW",
	ContentProcessedRaw:        "PROCESSED_RAW",
	ContentTransformed:         "TRANSFORMED",
	ContentEncoded:             "ENCODED",
	ContentSent:                "SENT",
	ContentResponse:            "RESPONSE",
	ContentResponseTransformed: "RESPONSE_TRANSFORMED",
	ContentProcessedResponse:   "PROCESSED_RESPONSE",
	ContentConnectorMap:        "CONNECTOR_MAP",
	ContentChannelMap:          "CHANNEL_MAP",
	ContentResponseMap:         "RESPONSE_MAP",
	ContentProcessingError:     "PROCESSING_ERROR",
	ContentPostprocessorError:  "POSTPROCESSOR_ERROR",
	ContentResponseError:       "RESPONSE_ERROR",
	ContentSourceMap:           "SOURCE_MAP",
}

func (t ContentType) String() string {
	if name, ok := contentTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// MessageContent is one immutable content entry. Once written for a given
// (messageId, metaDataId, type) it is never rewritten.
type MessageContent struct {
	ChannelID  string
	MessageID  int64
	MetaDataID int
	Type       ContentType
	Content    string
	DataType   string
	Encrypted  bool
}

// Attachment is oversized binary content detached from the canonical form
// and replaced by a token until send time.
type Attachment struct {
	ID        string
	ChannelID string
	MessageID int64
	Type      string
	Content   []byte
}
