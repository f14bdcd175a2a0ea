// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

// Package connectors defines the transport ports the channel engine binds
// to. A source transport feeds raw payloads into the engine through a
// Handler; a destination transport sends encoded content downstream and
// reports the outcome as a Response or a classified SendError.
package connectors

import (
	"context"
	"errors"
	"net"

	"github.com/donkeyengine/donkey/pkg/donkey/model"
)

// Handler is the engine-side callback a source transport invokes once per
// wire event. The returned response is what the transport writes back to
// the caller, when the protocol has a return path.
type Handler interface {
	Dispatch(ctx context.Context, rawPayload string, sourceMapEntries map[string]interface{}) (*model.Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, rawPayload string, sourceMapEntries map[string]interface{}) (*model.Response, error)

func (f HandlerFunc) Dispatch(ctx context.Context, rawPayload string, sourceMapEntries map[string]interface{}) (*model.Response, error) {
	return f(ctx, rawPayload, sourceMapEntries)
}

// Source is an ingress transport. Start binds the transport and returns;
// received payloads flow to the handler until Stop.
type Source interface {
	Start(ctx context.Context, handler Handler) error
	Stop(ctx context.Context) error
}

// Destination is an egress transport. Send delivers the encoded content of
// one connector message and returns the downstream response. Transport
// failures are returned as *SendError so the engine can distinguish
// retryable from terminal.
type Destination interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, cm *model.ConnectorMessage, content string) (*model.Response, error)
}

// SendError is a transport send failure. Permanent failures bypass the
// retry queue and mark the destination ERROR.
type SendError struct {
	Err       error
	Permanent bool
}

func (e *SendError) Error() string { return e.Err.Error() }
func (e *SendError) Unwrap() error { return e.Err }

// Transient marks err as retryable.
func Transient(err error) *SendError { return &SendError{Err: err} }

// Permanent marks err as terminal.
func Permanent(err error) *SendError { return &SendError{Err: err, Permanent: true} }

// IsPermanent reports whether err is a send failure that must not be
// retried. Errors that are not SendErrors at all are treated as permanent:
// only failures a transport explicitly classified as transient re-enter
// the queue.
func IsPermanent(err error) bool {
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Permanent
	}
	return true
}

// ClassifyNetError wraps a network error as a SendError. Connection
// refusals, resets and timeouts are transient.
func ClassifyNetError(err error) *SendError {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient(err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Transient(err)
	}
	return Permanent(err)
}
