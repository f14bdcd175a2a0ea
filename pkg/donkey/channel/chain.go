// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package channel

import (
	"context"

	"github.com/donkeyengine/donkey/pkg/donkey/model"
	"github.com/donkeyengine/donkey/pkg/util/log"
)

// DestinationChain runs its destinations sequentially in list order. An
// ERROR stops the chain; FILTERED and QUEUED do not. Distinct chains run
// concurrently.
type DestinationChain struct {
	id           int
	destinations []*DestinationConnector
}

func (ch *DestinationChain) process(ctx context.Context, msg *model.Message, sourceCM *model.ConnectorMessage) {
	for _, dest := range ch.destinations {
		if !destinationEnabled(sourceCM, dest.metaDataID) {
			continue
		}
		if prior := msg.ConnectorMessage(dest.metaDataID); prior != nil {
			// already ran before a restart; its outcome stands
			if prior.Status() == model.StatusError {
				return
			}
			continue
		}
		cm, err := dest.prepare(ctx, msg, sourceCM)
		if err != nil {
			log.Errorf("channel %s: preparing destination %d for message %d: %v",
				dest.channel.cfg.ID, dest.metaDataID, msg.ID, err)
			return
		}
		status := dest.process(ctx, cm)
		if status == model.StatusError {
			return
		}
	}
}

// destinationEnabled applies the destination set the source transformer may
// have narrowed. An absent or malformed set enables everything.
func destinationEnabled(sourceCM *model.ConnectorMessage, metaDataID int) bool {
	v, ok := sourceCM.SourceMap.Get(model.DestinationSetKey)
	if !ok {
		return true
	}
	switch set := v.(type) {
	case []int:
		for _, id := range set {
			if id == metaDataID {
				return true
			}
		}
		return false
	case []interface{}:
		for _, raw := range set {
			switch id := raw.(type) {
			case int:
				if id == metaDataID {
					return true
				}
			case float64:
				if int(id) == metaDataID {
					return true
				}
			}
		}
		return false
	default:
		return true
	}
}
