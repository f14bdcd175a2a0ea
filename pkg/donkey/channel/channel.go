// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

// Package channel is the engine core: it owns the source connector, the
// destination chains and their queues, and moves every message from
// ingress to terminal status while writing each transition through the
// datastore.
package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/donkeyengine/donkey/pkg/config"
	"github.com/donkeyengine/donkey/pkg/connectors"
	"github.com/donkeyengine/donkey/pkg/datatypes"
	"github.com/donkeyengine/donkey/pkg/donkey/event"
	"github.com/donkeyengine/donkey/pkg/donkey/model"
	"github.com/donkeyengine/donkey/pkg/donkey/store"
	"github.com/donkeyengine/donkey/pkg/scripts"
	"github.com/donkeyengine/donkey/pkg/util/log"
)

// DeployState is the channel lifecycle state.
type DeployState string

const (
	StateUndeployed DeployState = "UNDEPLOYED"
	StateDeployed   DeployState = "DEPLOYED"
	StateStarting   DeployState = "STARTING"
	StateStarted    DeployState = "STARTED"
	StatePausing    DeployState = "PAUSING"
	StatePaused     DeployState = "PAUSED"
	StateStopping   DeployState = "STOPPING"
	StateStopped    DeployState = "STOPPED"
)

// DestinationSpec wires one destination: its configuration, transport and
// user scripts.
type DestinationSpec struct {
	Config      config.DestinationConfig
	Transport   connectors.Destination
	Filter      scripts.Filter
	Transformer scripts.Transformer
}

// Spec is everything a channel needs to run. Transports and scripts are
// built by the caller; the channel owns them from Deploy to Undeploy.
type Spec struct {
	Config   config.ChannelConfig
	ServerID string
	Revision int

	Source            connectors.Source
	SourceFilter      scripts.Filter
	SourceTransformer scripts.Transformer
	Preprocessor      scripts.Preprocessor
	Postprocessor     scripts.Postprocessor

	Destinations []DestinationSpec

	DataTypes  *datatypes.Registry
	Store      store.Datastore
	Events     event.Dispatcher
	Statistics *event.Statistics
	Clock      clock.Clock
}

// Channel is one deployed pipeline.
type Channel struct {
	cfg      config.ChannelConfig
	serverID string
	revision int

	store     store.Datastore
	events    event.Dispatcher
	stats     *event.Statistics
	clock     clock.Clock
	dataTypes *datatypes.Registry

	source       *SourceConnector
	chains       []*DestinationChain
	destinations map[int]*DestinationConnector
	aggregator   *ResponseAggregator

	mu     sync.Mutex
	state  DeployState
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles a channel from its spec.
func New(spec Spec) (*Channel, error) {
	if spec.Events == nil {
		spec.Events = event.NullDispatcher{}
	}
	if spec.Clock == nil {
		spec.Clock = clock.New()
	}
	if spec.Statistics == nil {
		spec.Statistics = event.NewStatistics(spec.Store, spec.Events)
	}
	if spec.SourceFilter == nil {
		spec.SourceFilter = scripts.AcceptAll()
	}
	if spec.SourceTransformer == nil {
		spec.SourceTransformer = scripts.Identity()
	}

	c := &Channel{
		cfg:          spec.Config,
		serverID:     spec.ServerID,
		revision:     spec.Revision,
		store:        spec.Store,
		events:       spec.Events,
		stats:        spec.Statistics,
		clock:        spec.Clock,
		dataTypes:    spec.DataTypes,
		destinations: make(map[int]*DestinationConnector),
		state:        StateUndeployed,
	}
	c.aggregator = newResponseAggregator(spec.Config.ResponsePolicy, spec.Config.ResponseUpdateOnEventualSend)

	chains := map[int]*DestinationChain{}
	var chainOrder []int
	for _, ds := range spec.Destinations {
		dest, err := newDestinationConnector(c, ds)
		if err != nil {
			return nil, err
		}
		c.destinations[ds.Config.MetaDataID] = dest

		chainID := ds.Config.Chain
		chain, ok := chains[chainID]
		if !ok {
			chain = &DestinationChain{id: chainID}
			chains[chainID] = chain
			chainOrder = append(chainOrder, chainID)
		}
		dest.chainID = chainID
		dest.orderID = len(chain.destinations) + 1
		chain.destinations = append(chain.destinations, dest)
	}
	for _, id := range chainOrder {
		c.chains = append(c.chains, chains[id])
	}

	source, err := newSourceConnector(c, spec)
	if err != nil {
		return nil, err
	}
	c.source = source
	return c, nil
}

func (c *Channel) dataTypeFor(name string) (datatypes.DataType, error) {
	if c.dataTypes == nil {
		return nil, fmt.Errorf("no data type registry")
	}
	return c.dataTypes.Get(name)
}

// ID returns the channel id.
func (c *Channel) ID() string { return c.cfg.ID }

// Name returns the channel display name.
func (c *Channel) Name() string { return c.cfg.Name }

// State returns the lifecycle state.
func (c *Channel) State() DeployState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) setState(s DeployState) {
	c.state = s
	c.events.Dispatch(event.Event{
		Type:      event.DeployStateChanged,
		ChannelID: c.cfg.ID,
		State:     string(s),
		Time:      c.clock.Now(),
	})
	log.Infof("channel %s: %s", c.cfg.ID, s)
}

func (c *Channel) transition(from []DeployState, to DeployState) error {
	for _, s := range from {
		if c.state == s {
			c.setState(to)
			return nil
		}
	}
	return fmt.Errorf("channel %s: cannot move from %s to %s", c.cfg.ID, c.state, to)
}

// Deploy allocates datastore resources and registers the channel.
func (c *Channel) Deploy(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transition([]DeployState{StateUndeployed}, StateDeployed); err != nil {
		return err
	}
	if err := c.store.DeployChannel(ctx, c.cfg.ID, c.cfg.Name, c.revision); err != nil {
		c.state = StateUndeployed
		return err
	}
	return nil
}

// Start recovers leftover state, launches destination workers and binds
// the source transport.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transition([]DeployState{StateDeployed, StateStopped}, StateStarting); err != nil {
		return err
	}

	if err := c.recover(ctx); err != nil {
		c.setState(StateStopped)
		return err
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	for _, dest := range c.destinations {
		if err := dest.start(ctx, workerCtx, &c.wg); err != nil {
			cancel()
			c.setState(StateStopped)
			return err
		}
	}
	if err := c.source.start(ctx); err != nil {
		cancel()
		c.setState(StateStopped)
		return err
	}

	c.setState(StateStarted)
	return nil
}

// Pause closes the source while destinations keep processing.
func (c *Channel) Pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transition([]DeployState{StateStarted}, StatePausing); err != nil {
		return err
	}
	if err := c.source.stop(ctx); err != nil {
		log.Warnf("channel %s: pausing source: %v", c.cfg.ID, err)
	}
	c.setState(StatePaused)
	return nil
}

// Resume re-binds the source after a pause.
func (c *Channel) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transition([]DeployState{StatePaused}, StateStarting); err != nil {
		return err
	}
	if err := c.source.start(ctx); err != nil {
		c.setState(StatePaused)
		return err
	}
	c.setState(StateStarted)
	return nil
}

// Stop closes the source, drains destination workers until ctx expires,
// then aborts them. PENDING messages cut off by the abort are reset to
// QUEUED on the next start.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transition([]DeployState{StateStarted, StatePaused}, StateStopping); err != nil {
		return err
	}

	if err := c.source.stop(ctx); err != nil {
		log.Warnf("channel %s: stopping source: %v", c.cfg.ID, err)
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	select {
	case <-done:
	case <-ctx.Done():
		log.Warnf("channel %s: stop deadline reached with workers in flight", c.cfg.ID)
	}

	for _, dest := range c.destinations {
		if err := dest.stopTransport(ctx); err != nil {
			log.Warnf("channel %s: stopping destination %d: %v", c.cfg.ID, dest.metaDataID, err)
		}
	}
	c.setState(StateStopped)
	return nil
}

// Halt aborts workers without draining.
func (c *Channel) Halt(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateStarted && c.state != StatePaused && c.state != StateStopping {
		return fmt.Errorf("channel %s: cannot halt from %s", c.cfg.ID, c.state)
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if err := c.source.stop(ctx); err != nil {
		log.Warnf("channel %s: halting source: %v", c.cfg.ID, err)
	}
	for _, dest := range c.destinations {
		dest.stopTransport(ctx)
	}
	c.setState(StateStopped)
	return nil
}

// Undeploy releases deploy-time resources. Queued messages stay in the
// datastore for the next deploy.
func (c *Channel) Undeploy(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transition([]DeployState{StateDeployed, StateStopped}, StateUndeployed); err != nil {
		return err
	}
	return c.store.UndeployChannel(ctx, c.cfg.ID)
}

// Dispatch feeds a raw payload straight into the source pipeline,
// bypassing the transport. Used by the vm transport and tests.
func (c *Channel) Dispatch(ctx context.Context, rawPayload string, sourceMapEntries map[string]interface{}) (*model.Response, error) {
	return c.source.Dispatch(ctx, rawPayload, sourceMapEntries)
}
