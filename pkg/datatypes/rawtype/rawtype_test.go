// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package rawtype

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity(t *testing.T) {
	r := New()

	out, err := r.ToXML("anything at all")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.False(t, r.IsSerializationRequired(true))

	msg, ok := r.TransformWithoutSerializing("payload", nil)
	assert.True(t, ok)
	assert.Equal(t, "payload", msg)
}

func TestBatchAdaptorYieldsOnce(t *testing.T) {
	adaptor := New().NewBatchAdaptor(strings.NewReader("whole payload"))

	msg, err := adaptor.Next()
	require.NoError(t, err)
	assert.Equal(t, "whole payload", msg)

	_, err = adaptor.Next()
	assert.Equal(t, io.EOF, err)
}
