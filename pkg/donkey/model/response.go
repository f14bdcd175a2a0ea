// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package model

// Response is what a destination (or the source's own acknowledgement
// logic) reports back for one message.
type Response struct {
	Status        Status
	Message       string
	Error         string
	StatusMessage string
}

// NewResponse returns a response with the given status and body.
func NewResponse(status Status, message string) *Response {
	return &Response{Status: status, Message: message}
}

// SentResponse is the synthesized acknowledgement for a delivered message.
func SentResponse(message string) *Response {
	return &Response{Status: StatusSent, Message: message, StatusMessage: "Message successfully sent"}
}

// ErrorResponse is the synthesized negative acknowledgement.
func ErrorResponse(statusMessage string, err string) *Response {
	return &Response{Status: StatusError, StatusMessage: statusMessage, Error: err}
}

// QueuedResponse is the synthesized accepted-for-later acknowledgement.
func QueuedResponse() *Response {
	return &Response{Status: StatusQueued, StatusMessage: "Message queued for retry"}
}

// FilteredResponse is the synthesized acknowledgement for a message a
// filter excluded.
func FilteredResponse() *Response {
	return &Response{Status: StatusFiltered, StatusMessage: "Message filtered"}
}
