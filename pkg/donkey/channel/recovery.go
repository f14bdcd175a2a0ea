// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package channel

import (
	"context"

	"github.com/donkeyengine/donkey/pkg/donkey/event"
	"github.com/donkeyengine/donkey/pkg/donkey/model"
	"github.com/donkeyengine/donkey/pkg/scripts"
	"github.com/donkeyengine/donkey/pkg/util/log"
)

// recover repairs state left by an unclean shutdown before the source
// accepts new traffic. PENDING sends whose outcome is unknown go back to
// QUEUED for redelivery; messages interrupted mid-pipeline resume from the
// stage they reached.
func (c *Channel) recover(ctx context.Context) error {
	reset, err := c.store.ResetPendingToQueued(ctx, c.cfg.ID)
	if err != nil {
		return err
	}
	if reset > 0 {
		log.Infof("channel %s: recovered %d in-flight sends back to the queue", c.cfg.ID, reset)
	}

	unfinished, err := c.store.GetUnfinishedMessageIDs(ctx, c.cfg.ID)
	if err != nil {
		return err
	}
	for _, id := range unfinished {
		if err := c.recoverMessage(ctx, id); err != nil {
			return err
		}
	}
	if len(unfinished) > 0 {
		log.Infof("channel %s: recovered %d messages interrupted mid-pipeline", c.cfg.ID, len(unfinished))
	}
	return nil
}

// recoverMessage resumes one unfinished message. Destinations that already
// settled keep their outcome; QUEUED ones are left for the workers.
func (c *Channel) recoverMessage(ctx context.Context, messageID int64) error {
	cms, err := c.store.GetConnectorMessages(ctx, c.cfg.ID, messageID)
	if err != nil {
		return err
	}

	msg := model.NewMessage(c.cfg.ID, c.serverID, c.clock.Now())
	msg.ID = messageID
	for _, cm := range cms {
		msg.AddConnectorMessage(cm)
	}

	sourceCM := msg.Source()
	if sourceCM == nil {
		// no connector rows survived; nothing left to resume
		return c.store.MarkProcessed(ctx, c.cfg.ID, messageID)
	}

	switch sourceCM.Status() {
	case model.StatusReceived:
		return c.resumeFromSource(ctx, msg, sourceCM)
	case model.StatusTransformed:
		c.source.runChains(ctx, msg, sourceCM)
		_, err := c.source.finish(ctx, msg, sourceCM)
		return err
	default:
		// source settled but the processed flag never landed
		return c.store.MarkProcessed(ctx, c.cfg.ID, messageID)
	}
}

// resumeFromSource re-runs the source filter and transformer from the
// persisted raw content, then carries the message through the chains.
func (c *Channel) resumeFromSource(ctx context.Context, msg *model.Message, sourceCM *model.ConnectorMessage) error {
	s := c.source

	working := sourceCM.ContentString(model.ContentProcessedRaw)
	if working == "" {
		working = sourceCM.Raw()
	}

	accepted, err := s.filter.Filter(ctx, scripts.NewContext(sourceCM, working))
	if err != nil {
		_, ferr := s.fail(ctx, msg, sourceCM, err)
		return ferr
	}
	if !accepted {
		_, ferr := s.filtered(ctx, msg, sourceCM)
		return ferr
	}

	transformed, encoded, err := s.transform(ctx, sourceCM, working)
	if err != nil {
		_, ferr := s.fail(ctx, msg, sourceCM, err)
		return ferr
	}
	if err := s.persistTransform(ctx, sourceCM, transformed, encoded); err != nil {
		return err
	}
	sourceCM.SetStatus(model.StatusTransformed)
	if err := c.store.UpdateStatus(ctx, sourceCM); err != nil {
		return err
	}
	c.stats.Update(ctx, c.cfg.ID, model.SourceMetaDataID, event.Deltas{Transformed: 1})

	s.runChains(ctx, msg, sourceCM)
	_, err = s.finish(ctx, msg, sourceCM)
	return err
}
