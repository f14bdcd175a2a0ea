// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package model

import "fmt"

// Status is the processing state of a ConnectorMessage. The single-character
// codes are the persisted representation.
type Status string

const (
	// StatusReceived is the initial state of every connector message.
	StatusReceived Status = "R"
	// StatusFiltered means a filter excluded the message. Terminal.
	StatusFiltered Status = "F"
	// StatusTransformed means the transformer completed.
	StatusTransformed Status = "T"
	// StatusSent means the destination delivered the message. Terminal.
	StatusSent Status = "S"
	// StatusQueued means the message awaits a durable retry.
	StatusQueued Status = "Q"
	// StatusError means processing failed permanently. Terminal.
	StatusError Status = "E"
	// StatusPending means a transport send is in flight.
	StatusPending Status = "P"
)

// IsTerminal reports whether no further transition is allowed out of s,
// except that any non-terminal state may still fall into ERROR.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSent, StatusError, StatusFiltered:
		return true
	}
	return false
}

// IsQueueEligible reports whether a persisted connector message in this
// state belongs to the durable queue (acquire candidates).
func (s Status) IsQueueEligible() bool {
	return s == StatusQueued || s == StatusPending
}

func (s Status) String() string {
	switch s {
	case StatusReceived:
		return "RECEIVED"
	case StatusFiltered:
		return "FILTERED"
	case StatusTransformed:
		return "TRANSFORMED"
	case StatusSent:
		return "SENT"
	case StatusQueued:
		return "QUEUED"
	case StatusError:
		return "ERROR"
	case StatusPending:
		return "PENDING"
	}
	return fmt.Sprintf("UNKNOWN(%s)", string(s))
}

// ValidTransition reports whether moving from one status to another is legal
// for a single connector message. A terminal status is never overwritten by
// a non-terminal one; QUEUED and PENDING cycle during retries.
func ValidTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if from.IsTerminal() {
		return false
	}
	switch from {
	case StatusReceived:
		return to == StatusFiltered || to == StatusTransformed || to == StatusError
	case StatusTransformed:
		return to == StatusQueued || to == StatusPending || to == StatusSent || to == StatusError
	case StatusQueued:
		return to == StatusPending || to == StatusSent || to == StatusError
	case StatusPending:
		return to == StatusSent || to == StatusQueued || to == StatusError
	}
	return false
}
