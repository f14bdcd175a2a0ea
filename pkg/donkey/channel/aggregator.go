// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package channel

import (
	"strconv"

	"github.com/donkeyengine/donkey/pkg/donkey/model"
)

type responsePolicy int

const (
	policySource responsePolicy = iota
	policyPostprocessor
	policyDestination
)

// ResponseAggregator selects which response is returned to the upstream
// system once a message settles.
type ResponseAggregator struct {
	policy     responsePolicy
	metaDataID int

	// aggregateOnSend updates the stored source response when a queued
	// destination eventually delivers.
	aggregateOnSend bool
}

func newResponseAggregator(policy, updateOnEventualSend string) *ResponseAggregator {
	a := &ResponseAggregator{aggregateOnSend: updateOnEventualSend == "aggregate"}
	switch policy {
	case "", "source":
		a.policy = policySource
	case "postprocessor":
		a.policy = policyPostprocessor
	default:
		a.policy = policyDestination
		if id, err := strconv.Atoi(policy); err == nil {
			a.metaDataID = id
		}
	}
	return a
}

// needsDestinations reports whether the response cannot be produced until
// every chain has run inline.
func (a *ResponseAggregator) needsDestinations() bool {
	return a.policy != policySource
}

func (a *ResponseAggregator) usesPostprocessor() bool {
	return a.policy == policyPostprocessor
}

// aggregate picks the attributed response from the settled message, or nil
// when the default synthesized response applies.
func (a *ResponseAggregator) aggregate(msg *model.Message) *model.Response {
	switch a.policy {
	case policySource:
		return nil
	case policyPostprocessor:
		// filled in by the postprocessor itself; fall back to default
		return nil
	default:
		cm := msg.ConnectorMessage(a.metaDataID)
		if cm == nil {
			return nil
		}
		return responseFor(cm)
	}
}

// responseFor reconstructs a destination's response from its record. The
// stored response body wins; otherwise one is synthesized from the status.
func responseFor(cm *model.ConnectorMessage) *model.Response {
	status := cm.Status()
	message := cm.ContentString(model.ContentResponse)
	switch status {
	case model.StatusSent:
		r := model.SentResponse(message)
		return r
	case model.StatusError:
		r := model.ErrorResponse("destination error", cm.ResponseError)
		if r.Error == "" {
			r.Error = cm.ProcessingError
		}
		r.Message = message
		return r
	case model.StatusQueued, model.StatusPending:
		r := model.QueuedResponse()
		r.Message = message
		return r
	case model.StatusFiltered:
		return model.FilteredResponse()
	default:
		return model.NewResponse(status, message)
	}
}
