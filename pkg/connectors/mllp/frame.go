// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

// Package mllp implements the MLLP transport: a TCP listener source and a
// dispatching destination, framing HL7 payloads with 0x0B ... 0x1C 0x0D.
package mllp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// MLLP frame bytes.
const (
	StartByte = 0x0b
	EndByte1  = 0x1c
	EndByte2  = 0x0d
)

// maxFrameSize bounds a single framed message.
const maxFrameSize = 64 * 1024 * 1024

// FrameReader reads complete MLLP frames off a stream. Bytes outside a
// frame are discarded.
type FrameReader struct {
	r *bufio.Reader
}

// NewFrameReader wraps r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r)}
}

// Next blocks until a complete frame arrives and returns its payload
// without the framing bytes.
func (fr *FrameReader) Next() ([]byte, error) {
	for {
		b, err := fr.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == StartByte {
			break
		}
	}

	var payload bytes.Buffer
	for {
		chunk, err := fr.r.ReadBytes(EndByte1)
		if err != nil {
			return nil, err
		}
		payload.Write(chunk[:len(chunk)-1])
		if payload.Len() > maxFrameSize {
			return nil, fmt.Errorf("mllp frame exceeds %d bytes", maxFrameSize)
		}

		next, err := fr.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if next == EndByte2 {
			return payload.Bytes(), nil
		}
		// 0x1C not followed by 0x0D is part of the payload
		payload.WriteByte(EndByte1)
		payload.WriteByte(next)
	}
}

// WriteFrame writes payload to w wrapped in MLLP framing.
func WriteFrame(w io.Writer, payload []byte) error {
	framed := make([]byte, 0, len(payload)+3)
	framed = append(framed, StartByte)
	framed = append(framed, payload...)
	framed = append(framed, EndByte1, EndByte2)
	_, err := w.Write(framed)
	return err
}
