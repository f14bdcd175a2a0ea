// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

// Package engine assembles channels from configuration and drives their
// collective lifecycle on one node.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"

	"github.com/donkeyengine/donkey/pkg/config"
	"github.com/donkeyengine/donkey/pkg/connectors"
	"github.com/donkeyengine/donkey/pkg/connectors/file"
	"github.com/donkeyengine/donkey/pkg/connectors/mllp"
	"github.com/donkeyengine/donkey/pkg/connectors/vm"
	"github.com/donkeyengine/donkey/pkg/datatypes"
	"github.com/donkeyengine/donkey/pkg/datatypes/all"
	"github.com/donkeyengine/donkey/pkg/donkey/channel"
	"github.com/donkeyengine/donkey/pkg/donkey/event"
	"github.com/donkeyengine/donkey/pkg/donkey/store"
	"github.com/donkeyengine/donkey/pkg/scripts"
	"github.com/donkeyengine/donkey/pkg/util/log"
)

const tlsCacheSize = 32

// Scripts carries the optional user scripts for one channel, keyed for the
// builder. Nil members fall back to pass-through behavior.
type Scripts struct {
	Preprocessor      scripts.Preprocessor
	Postprocessor     scripts.Postprocessor
	SourceFilter      scripts.Filter
	SourceTransformer scripts.Transformer

	// DestinationFilters and DestinationTransformers are keyed by
	// metaDataId.
	DestinationFilters      map[int]scripts.Filter
	DestinationTransformers map[int]scripts.Transformer
}

// Engine owns every deployed channel plus the shared infrastructure they
// draw on: the datastore, the data type registry, the in-process router
// for channel-to-channel traffic and the event broadcaster.
type Engine struct {
	cfg   *config.ServerConfig
	store store.Datastore
	clock clock.Clock

	registry   *datatypes.Registry
	router     *vm.Router
	tlsCache   *connectors.TLSCache
	events     *event.Broadcaster
	statistics *event.Statistics

	channels map[string]*channel.Channel
	order    []string

	pruneCancel context.CancelFunc
	pruneDone   chan struct{}
}

// Option adjusts engine construction.
type Option func(*Engine)

// WithClock substitutes the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New builds an engine over an opened datastore. Channels are assembled
// but not deployed.
func New(cfg *config.ServerConfig, st store.Datastore, perChannel map[string]Scripts, opts ...Option) (*Engine, error) {
	tlsCache, err := connectors.NewTLSCache(tlsCacheSize)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		store:    st,
		clock:    clock.New(),
		registry: all.NewRegistry(),
		router:   vm.NewRouter(),
		tlsCache: tlsCache,
		events:   event.NewBroadcaster(),
		channels: make(map[string]*channel.Channel),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.statistics = event.NewStatistics(st, e.events)

	for _, chCfg := range cfg.Channels {
		sc := perChannel[chCfg.ID]
		ch, err := e.buildChannel(chCfg, sc)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", chCfg.ID, err)
		}
		e.channels[chCfg.ID] = ch
		e.order = append(e.order, chCfg.ID)
	}
	return e, nil
}

// Channel returns the named channel, or nil.
func (e *Engine) Channel(id string) *channel.Channel {
	return e.channels[id]
}

// Events returns the broadcaster for observer registration.
func (e *Engine) Events() *event.Broadcaster {
	return e.events
}

// Statistics returns the shared statistics tracker.
func (e *Engine) Statistics() *event.Statistics {
	return e.statistics
}

func (e *Engine) buildChannel(chCfg config.ChannelConfig, sc Scripts) (*channel.Channel, error) {
	source, err := e.buildSource(chCfg)
	if err != nil {
		return nil, err
	}

	var destinations []channel.DestinationSpec
	for _, destCfg := range chCfg.Destinations {
		transport, err := e.buildDestination(destCfg)
		if err != nil {
			return nil, err
		}
		destinations = append(destinations, channel.DestinationSpec{
			Config:      destCfg,
			Transport:   transport,
			Filter:      sc.DestinationFilters[destCfg.MetaDataID],
			Transformer: sc.DestinationTransformers[destCfg.MetaDataID],
		})
	}

	return channel.New(channel.Spec{
		Config:            chCfg,
		ServerID:          e.cfg.ServerID,
		Source:            source,
		SourceFilter:      sc.SourceFilter,
		SourceTransformer: sc.SourceTransformer,
		Preprocessor:      sc.Preprocessor,
		Postprocessor:     sc.Postprocessor,
		Destinations:      destinations,
		DataTypes:         e.registry,
		Store:             e.store,
		Events:            e.events,
		Statistics:        e.statistics,
		Clock:             e.clock,
	})
}

func (e *Engine) buildSource(chCfg config.ChannelConfig) (connectors.Source, error) {
	srcCfg := chCfg.Source
	switch srcCfg.Transport {
	case "mllp", "tcp":
		var listenerCfg mllp.ListenerConfig
		if err := config.DecodeProperties(srcCfg.Properties, &listenerCfg); err != nil {
			return nil, err
		}
		return mllp.NewListener(listenerCfg, e.tlsCache), nil
	case "vm", "channel":
		var vmCfg vm.SourceConfig
		if err := config.DecodeProperties(srcCfg.Properties, &vmCfg); err != nil {
			return nil, err
		}
		if vmCfg.ChannelID == "" {
			vmCfg.ChannelID = chCfg.ID
		}
		return vm.NewSource(vmCfg, e.router), nil
	default:
		return nil, fmt.Errorf("unknown source transport %q", srcCfg.Transport)
	}
}

func (e *Engine) buildDestination(destCfg config.DestinationConfig) (connectors.Destination, error) {
	switch destCfg.Transport {
	case "mllp", "tcp":
		var senderCfg mllp.SenderConfig
		if err := config.DecodeProperties(destCfg.Properties, &senderCfg); err != nil {
			return nil, err
		}
		return mllp.NewSender(senderCfg, e.tlsCache), nil
	case "file":
		var writerCfg file.WriterConfig
		if err := config.DecodeProperties(destCfg.Properties, &writerCfg); err != nil {
			return nil, err
		}
		return file.NewWriter(writerCfg), nil
	case "vm", "channel":
		var vmCfg vm.DestinationConfig
		if err := config.DecodeProperties(destCfg.Properties, &vmCfg); err != nil {
			return nil, err
		}
		return vm.NewDestination(vmCfg, e.router), nil
	default:
		return nil, fmt.Errorf("unknown destination transport %q", destCfg.Transport)
	}
}

// DeployAll deploys every configured channel in declaration order.
func (e *Engine) DeployAll(ctx context.Context) error {
	e.events.Start()
	var errs *multierror.Error
	for _, id := range e.order {
		if err := e.channels[id].Deploy(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// StartAll starts every deployed channel and launches the pruner.
func (e *Engine) StartAll(ctx context.Context) error {
	var errs *multierror.Error
	for _, id := range e.order {
		ch := e.channels[id]
		if ch.State() != channel.StateDeployed && ch.State() != channel.StateStopped {
			continue
		}
		if err := ch.Start(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	e.startPruner()
	return errs.ErrorOrNil()
}

// StopAll stops every running channel in reverse declaration order so
// downstream vm targets outlive their callers.
func (e *Engine) StopAll(ctx context.Context) error {
	e.stopPruner()
	var errs *multierror.Error
	for i := len(e.order) - 1; i >= 0; i-- {
		ch := e.channels[e.order[i]]
		switch ch.State() {
		case channel.StateStarted, channel.StatePaused:
			if err := ch.Stop(ctx); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}
	return errs.ErrorOrNil()
}

// UndeployAll undeploys every channel.
func (e *Engine) UndeployAll(ctx context.Context) error {
	var errs *multierror.Error
	for i := len(e.order) - 1; i >= 0; i-- {
		ch := e.channels[e.order[i]]
		switch ch.State() {
		case channel.StateDeployed, channel.StateStopped:
			if err := ch.Undeploy(ctx); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}
	return errs.ErrorOrNil()
}

// Shutdown stops and undeploys everything and closes shared resources.
func (e *Engine) Shutdown(ctx context.Context) error {
	var errs *multierror.Error
	if err := e.StopAll(ctx); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := e.UndeployAll(ctx); err != nil {
		errs = multierror.Append(errs, err)
	}
	e.events.Stop()
	e.registry.Teardown()
	if err := e.store.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

// startPruner launches the background message pruner when retention is
// configured.
func (e *Engine) startPruner() {
	if e.cfg.Store.PruneDays <= 0 || e.pruneCancel != nil {
		return
	}
	interval := time.Duration(e.cfg.Store.PruneIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.pruneCancel = cancel
	e.pruneDone = make(chan struct{})
	go e.pruneLoop(ctx, interval)
}

func (e *Engine) stopPruner() {
	if e.pruneCancel == nil {
		return
	}
	e.pruneCancel()
	<-e.pruneDone
	e.pruneCancel = nil
}

func (e *Engine) pruneLoop(ctx context.Context, interval time.Duration) {
	defer close(e.pruneDone)
	ticker := e.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pruneOnce(ctx)
		}
	}
}

func (e *Engine) pruneOnce(ctx context.Context) {
	horizon := e.clock.Now().AddDate(0, 0, -e.cfg.Store.PruneDays)
	for _, id := range e.order {
		pruned, err := e.store.PruneMessages(ctx, id, horizon)
		if err != nil {
			log.Errorf("pruning channel %s: %v", id, err)
			continue
		}
		if pruned > 0 {
			log.Infof("pruned %d messages from channel %s", pruned, id)
		}
	}
}
