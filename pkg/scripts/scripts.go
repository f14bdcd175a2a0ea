// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

// Package scripts defines the user-script execution port. The engine does
// not embed a scripting language; filters, transformers and processors are
// supplied as implementations of these interfaces and receive the message
// maps as their context.
package scripts

import (
	"context"

	"github.com/pkg/errors"

	"github.com/donkeyengine/donkey/pkg/donkey/model"
)

// Context is the state handed to every user script invocation.
type Context struct {
	ChannelID     string
	MessageID     int64
	MetaDataID    int
	ConnectorName string

	// Message is the content the script operates on. Transformers return
	// a replacement rather than mutating it in place.
	Message string

	SourceMap    *model.DataMap
	ChannelMap   *model.DataMap
	ConnectorMap *model.DataMap
	ResponseMap  *model.DataMap
}

// NewContext builds a script context from a connector message, using the
// given content as the working message.
func NewContext(cm *model.ConnectorMessage, message string) *Context {
	return &Context{
		ChannelID:     cm.ChannelID,
		MessageID:     cm.MessageID,
		MetaDataID:    cm.MetaDataID,
		ConnectorName: cm.ConnectorName,
		Message:       message,
		SourceMap:     cm.SourceMap,
		ChannelMap:    cm.ChannelMap,
		ConnectorMap:  cm.ConnectorMap,
		ResponseMap:   cm.ResponseMap,
	}
}

// Filter decides whether a message continues through a connector.
type Filter interface {
	Filter(ctx context.Context, sc *Context) (bool, error)
}

// Transformer rewrites message content between pipeline stages.
type Transformer interface {
	Transform(ctx context.Context, sc *Context) (string, error)
}

// Preprocessor runs once per message before the source filter.
type Preprocessor interface {
	Preprocess(ctx context.Context, sc *Context) (string, error)
}

// Postprocessor runs once per message after every destination settles. A
// non-nil response overrides the aggregated channel response when the
// response policy selects the postprocessor.
type Postprocessor interface {
	Postprocess(ctx context.Context, sc *Context) (*model.Response, error)
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(ctx context.Context, sc *Context) (bool, error)

func (f FilterFunc) Filter(ctx context.Context, sc *Context) (bool, error) { return f(ctx, sc) }

// TransformerFunc adapts a function to Transformer.
type TransformerFunc func(ctx context.Context, sc *Context) (string, error)

func (f TransformerFunc) Transform(ctx context.Context, sc *Context) (string, error) {
	return f(ctx, sc)
}

// PreprocessorFunc adapts a function to Preprocessor.
type PreprocessorFunc func(ctx context.Context, sc *Context) (string, error)

func (f PreprocessorFunc) Preprocess(ctx context.Context, sc *Context) (string, error) {
	return f(ctx, sc)
}

// PostprocessorFunc adapts a function to Postprocessor.
type PostprocessorFunc func(ctx context.Context, sc *Context) (*model.Response, error)

func (f PostprocessorFunc) Postprocess(ctx context.Context, sc *Context) (*model.Response, error) {
	return f(ctx, sc)
}

// AcceptAll passes every message.
func AcceptAll() Filter {
	return FilterFunc(func(context.Context, *Context) (bool, error) { return true, nil })
}

// Identity returns the message unchanged.
func Identity() Transformer {
	return TransformerFunc(func(_ context.Context, sc *Context) (string, error) {
		return sc.Message, nil
	})
}

// FilterError marks a user filter failure.
type FilterError struct{ err error }

func (e *FilterError) Error() string { return e.err.Error() }
func (e *FilterError) Unwrap() error { return e.err }

// WrapFilterError tags err as a filter failure.
func WrapFilterError(err error, connectorName string) error {
	return &FilterError{err: errors.Wrapf(err, "filter failed in %s", connectorName)}
}

// TransformerError marks a user transformer failure.
type TransformerError struct{ err error }

func (e *TransformerError) Error() string { return e.err.Error() }
func (e *TransformerError) Unwrap() error { return e.err }

// WrapTransformerError tags err as a transformer failure.
func WrapTransformerError(err error, connectorName string) error {
	return &TransformerError{err: errors.Wrapf(err, "transformer failed in %s", connectorName)}
}
