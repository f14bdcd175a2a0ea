// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package hl7v2

import (
	"bufio"
	"io"
	"strings"

	"github.com/donkeyengine/donkey/pkg/datatypes"
)

// batchAdaptor splits an HL7 batch into messages starting at each MSH
// segment. FHS/BHS/BTS/FTS envelope segments are discarded.
type batchAdaptor struct {
	scanner *bufio.Scanner
	pending []string
	done    bool
}

func newBatchAdaptor(r io.Reader) datatypes.BatchAdaptor {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	scanner.Split(scanSegments)
	return &batchAdaptor{scanner: scanner}
}

// scanSegments splits on \r, \n or \r\n segment terminators.
func scanSegments(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == '\r' || b == '\n' {
			advance = i + 1
			if b == '\r' && i+1 < len(data) && data[i+1] == '\n' {
				advance++
			} else if b == '\r' && i+1 == len(data) && !atEOF {
				// might be the first half of \r\n
				return 0, nil, nil
			}
			return advance, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func isEnvelopeSegment(line string) bool {
	for _, prefix := range []string{"FHS", "BHS", "BTS", "FTS"} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// Next returns the following message in the batch, or io.EOF.
func (b *batchAdaptor) Next() (string, error) {
	for !b.done && b.scanner.Scan() {
		line := strings.TrimRight(b.scanner.Text(), " \t")
		if line == "" || isEnvelopeSegment(line) {
			continue
		}
		if strings.HasPrefix(line, "MSH") && len(b.pending) > 0 {
			msg := strings.Join(b.pending, "\r") + "\r"
			b.pending = []string{line}
			return msg, nil
		}
		b.pending = append(b.pending, line)
	}
	if err := b.scanner.Err(); err != nil {
		return "", err
	}
	b.done = true
	if len(b.pending) > 0 {
		msg := strings.Join(b.pending, "\r") + "\r"
		b.pending = nil
		return msg, nil
	}
	return "", io.EOF
}
