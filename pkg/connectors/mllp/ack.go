// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package mllp

import (
	"fmt"
	"strings"
	"time"
)

// HL7 acknowledgment codes.
const (
	AckAccept = "AA"
	AckError  = "AE"
	AckReject = "AR"
)

// BuildACK produces an HL7 acknowledgment for the given inbound message,
// echoing its control id and swapping the sending and receiving
// applications. code is AA, AE or AR; textMessage lands in MSA.3 when
// non-empty.
func BuildACK(inbound, code, textMessage string) string {
	fieldSep, msh := mshFields(inbound)
	field := func(i int) string {
		if i < len(msh) {
			return msh[i]
		}
		return ""
	}
	controlID := field(9)
	version := field(11)
	if version == "" {
		version = "2.3"
	}
	encoding := field(1)
	if encoding == "" {
		encoding = `^~\&`
	}

	now := time.Now().Format("20060102150405")
	header := strings.Join([]string{
		"MSH", encoding,
		field(4), field(5), // receiving app/facility become senders
		field(2), field(3),
		now, "", "ACK", controlID, "P", version,
	}, fieldSep)
	msa := strings.Join([]string{"MSA", code, controlID}, fieldSep)
	if textMessage != "" {
		msa += fieldSep + textMessage
	}
	return header + "\r" + msa + "\r"
}

// AckCode extracts MSA.1 from an acknowledgment message.
func AckCode(ack string) (string, error) {
	fieldSep, _ := mshFields(ack)
	for _, seg := range strings.FieldsFunc(ack, func(r rune) bool { return r == '\r' || r == '\n' }) {
		if strings.HasPrefix(seg, "MSA"+fieldSep) {
			fields := strings.Split(seg, fieldSep)
			if len(fields) > 1 {
				return fields[1], nil
			}
		}
	}
	return "", fmt.Errorf("acknowledgment has no MSA segment")
}

// IsAcceptCode reports whether an MSA.1 value acknowledges success. CA is
// an accepted synonym some senders emit for enhanced mode.
func IsAcceptCode(code string) bool {
	switch strings.ToUpper(code) {
	case AckAccept, "CA":
		return true
	}
	return false
}

// IsRejectCode reports whether an MSA.1 value is a reject (vs an error).
func IsRejectCode(code string) bool {
	switch strings.ToUpper(code) {
	case AckReject, "CR":
		return true
	}
	return false
}

// mshFields returns the field separator and the MSH segment's fields, with
// MSH.1 at index 1 (the separator itself is not a field).
func mshFields(message string) (string, []string) {
	fieldSep := "|"
	if len(message) > 3 && strings.HasPrefix(message, "MSH") {
		fieldSep = string(message[3])
	}
	end := strings.IndexAny(message, "\r\n")
	if end < 0 {
		end = len(message)
	}
	seg := message[:end]
	fields := append([]string{"MSH"}, strings.Split(strings.TrimPrefix(seg, "MSH"+fieldSep), fieldSep)...)
	return fieldSep, fields
}
