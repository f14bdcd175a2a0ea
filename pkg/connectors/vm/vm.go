// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

// Package vm is the in-process transport: a vm destination dispatches
// straight into another channel's vm source without leaving the process.
package vm

import (
	"context"
	"fmt"
	"sync"

	"github.com/donkeyengine/donkey/pkg/connectors"
	"github.com/donkeyengine/donkey/pkg/donkey/model"
)

// Router connects vm destinations to vm sources by channel id. One router
// is shared by every channel in a process.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]connectors.Handler
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]connectors.Handler)}
}

func (r *Router) register(channelID string, handler connectors.Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[channelID]; ok {
		return fmt.Errorf("vm: channel %s already registered", channelID)
	}
	r.handlers[channelID] = handler
	return nil
}

func (r *Router) unregister(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, channelID)
}

func (r *Router) dispatch(ctx context.Context, channelID, payload string, sourceMapEntries map[string]interface{}) (*model.Response, error) {
	r.mu.RLock()
	handler, ok := r.handlers[channelID]
	r.mu.RUnlock()
	if !ok {
		return nil, connectors.Transient(fmt.Errorf("vm: channel %s not started", channelID))
	}
	return handler.Dispatch(ctx, payload, sourceMapEntries)
}

// SourceConfig configures a vm source.
type SourceConfig struct {
	// ChannelID is the id other channels route to. Defaults to the owning
	// channel's id.
	ChannelID string `mapstructure:"channel_id"`
}

// Source receives payloads dispatched by vm destinations.
type Source struct {
	router    *Router
	channelID string
}

// NewSource builds a vm source on the shared router.
func NewSource(cfg SourceConfig, router *Router) *Source {
	return &Source{router: router, channelID: cfg.ChannelID}
}

// Start implements connectors.Source.
func (s *Source) Start(_ context.Context, handler connectors.Handler) error {
	return s.router.register(s.channelID, handler)
}

// Stop implements connectors.Source.
func (s *Source) Stop(context.Context) error {
	s.router.unregister(s.channelID)
	return nil
}

// DestinationConfig configures a vm destination.
type DestinationConfig struct {
	// TargetChannelID is the vm source to dispatch to.
	TargetChannelID string `mapstructure:"target_channel_id"`
}

// Destination dispatches into another channel's vm source.
type Destination struct {
	router *Router
	cfg    DestinationConfig
}

// NewDestination builds a vm destination on the shared router.
func NewDestination(cfg DestinationConfig, router *Router) *Destination {
	return &Destination{router: router, cfg: cfg}
}

// Start implements connectors.Destination.
func (d *Destination) Start(context.Context) error {
	if d.cfg.TargetChannelID == "" {
		return fmt.Errorf("vm destination has no target_channel_id")
	}
	return nil
}

// Stop implements connectors.Destination.
func (d *Destination) Stop(context.Context) error { return nil }

// Send implements connectors.Destination.
func (d *Destination) Send(ctx context.Context, cm *model.ConnectorMessage, content string) (*model.Response, error) {
	response, err := d.router.dispatch(ctx, d.cfg.TargetChannelID, content, map[string]interface{}{
		"sourceChannelId": cm.ChannelID,
		"sourceMessageId": cm.MessageID,
	})
	if err != nil {
		return nil, err
	}
	if response == nil {
		return model.SentResponse(""), nil
	}
	return response, nil
}
