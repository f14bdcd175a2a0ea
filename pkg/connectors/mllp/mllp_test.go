// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package mllp

import (
	"bytes"
	"context"
	"net"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donkeyengine/donkey/pkg/connectors"
	"github.com/donkeyengine/donkey/pkg/donkey/model"
)

const adtMessage = "MSH|^~\\&|SND|FAC|RCV|FAC|20260201||ADT^A01|MSG00001|P|2.3\rPID|||12345||Doe^John\r"

func frame(payload string) []byte {
	var b bytes.Buffer
	b.WriteByte(StartByte)
	b.WriteString(payload)
	b.WriteByte(EndByte1)
	b.WriteByte(EndByte2)
	return b.Bytes()
}

func TestFrameReader(t *testing.T) {
	var stream bytes.Buffer
	stream.WriteString("garbage before frame")
	stream.Write(frame(adtMessage))
	stream.Write(frame("second"))

	reader := NewFrameReader(&stream)

	first, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, adtMessage, string(first))

	second, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, "second", string(second))
}

func TestFrameReaderEmbeddedEndByte(t *testing.T) {
	// 0x1C not followed by 0x0D stays in the payload
	payload := "before\x1cafter"
	reader := NewFrameReader(bytes.NewReader(frame(payload)))

	got, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, payload, string(got))
}

func TestBuildACK(t *testing.T) {
	ack := BuildACK(adtMessage, AckAccept, "")

	segments := strings.Split(strings.TrimRight(ack, "\r"), "\r")
	require.Len(t, segments, 2)
	assert.Equal(t, "MSA|AA|MSG00001", segments[1])

	fields := strings.Split(segments[0], "|")
	assert.Equal(t, "MSH", fields[0])
	assert.Equal(t, `^~\&`, fields[1])
	// sender and receiver swapped
	assert.Equal(t, "RCV", fields[2])
	assert.Equal(t, "SND", fields[4])
	assert.Equal(t, "ACK", fields[8])
	assert.Equal(t, "MSG00001", fields[9])
	assert.Equal(t, "2.3", fields[11])
}

func TestBuildNAKCarriesText(t *testing.T) {
	nak := BuildACK(adtMessage, AckError, "boom")
	assert.Contains(t, nak, "MSA|AE|MSG00001|boom\r")
}

func TestAckCode(t *testing.T) {
	code, err := AckCode(BuildACK(adtMessage, AckAccept, ""))
	require.NoError(t, err)
	assert.Equal(t, "AA", code)

	assert.True(t, IsAcceptCode("AA"))
	assert.True(t, IsAcceptCode("CA"))
	assert.False(t, IsAcceptCode("AE"))
	assert.True(t, IsRejectCode("AR"))
	assert.True(t, IsRejectCode("cr"))

	_, err = AckCode("MSH|^~\\&|no msa here\r")
	require.Error(t, err)
}

// echoHandler acks every payload and records what it saw.
type echoHandler struct {
	payloads chan string
}

func (h *echoHandler) Dispatch(_ context.Context, raw string, _ map[string]interface{}) (*model.Response, error) {
	h.payloads <- raw
	return model.SentResponse(BuildACK(raw, AckAccept, "")), nil
}

func TestListenerRoundTrip(t *testing.T) {
	listener := NewListener(ListenerConfig{Address: "127.0.0.1:0"}, nil)
	handler := &echoHandler{payloads: make(chan string, 1)}
	require.NoError(t, listener.Start(context.Background(), handler))
	defer listener.Stop(context.Background())

	conn, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, WriteFrame(conn, []byte(adtMessage)))

	select {
	case got := <-handler.payloads:
		assert.Equal(t, adtMessage, got)
	case <-time.After(5 * time.Second):
		t.Fatal("handler never saw the payload")
	}

	ack, err := NewFrameReader(conn).Next()
	require.NoError(t, err)
	code, err := AckCode(string(ack))
	require.NoError(t, err)
	assert.Equal(t, "AA", code)
}

func TestListenerReleasesGoroutinesPerConnection(t *testing.T) {
	listener := NewListener(ListenerConfig{Address: "127.0.0.1:0", MaxConnections: 64}, nil)
	handler := &statusHandler{status: model.StatusSent}
	require.NoError(t, listener.Start(context.Background(), handler))
	defer listener.Stop(context.Background())

	baseline := runtime.NumGoroutine()
	const connections = 30
	for i := 0; i < connections; i++ {
		conn, err := net.Dial("tcp", listener.Addr().String())
		require.NoError(t, err)
		require.NoError(t, WriteFrame(conn, []byte(adtMessage)))
		_, err = NewFrameReader(conn).Next()
		require.NoError(t, err)
		conn.Close()
	}

	// closed connections must not leave parked watchdog goroutines behind
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() < baseline+connections/2
	}, 5*time.Second, 50*time.Millisecond)
}

// statusHandler returns a bare status with no response body.
type statusHandler struct {
	status model.Status
}

func (h *statusHandler) Dispatch(context.Context, string, map[string]interface{}) (*model.Response, error) {
	return model.NewResponse(h.status, ""), nil
}

func TestListenerSynthesizesACKFromStatus(t *testing.T) {
	for status, wantCode := range map[model.Status]string{
		model.StatusSent:   "AA",
		model.StatusQueued: "AA",
		model.StatusError:  "AE",
	} {
		listener := NewListener(ListenerConfig{Address: "127.0.0.1:0"}, nil)
		require.NoError(t, listener.Start(context.Background(), &statusHandler{status: status}))

		conn, err := net.Dial("tcp", listener.Addr().String())
		require.NoError(t, err)
		require.NoError(t, WriteFrame(conn, []byte(adtMessage)))

		ack, err := NewFrameReader(conn).Next()
		require.NoError(t, err)
		code, err := AckCode(string(ack))
		require.NoError(t, err)
		assert.Equal(t, wantCode, code, "status %s", status)

		conn.Close()
		listener.Stop(context.Background()) //nolint:errcheck
	}
}

func TestSenderRoundTrip(t *testing.T) {
	// downstream that acks everything
	downstream, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer downstream.Close()
	go func() {
		conn, err := downstream.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		payload, err := NewFrameReader(conn).Next()
		if err != nil {
			return
		}
		WriteFrame(conn, []byte(BuildACK(string(payload), AckAccept, "")))
	}()

	sender := NewSender(SenderConfig{Address: downstream.Addr().String()}, nil)
	cm := &model.ConnectorMessage{MessageID: 1, MetaDataID: 1}

	response, err := sender.Send(context.Background(), cm, adtMessage)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, response.Status)
	assert.Contains(t, response.Message, "MSA|AA|MSG00001")
}

func TestSenderConnectionRefusedIsTransient(t *testing.T) {
	// bind then close to get a port nothing listens on
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := probe.Addr().String()
	probe.Close()

	sender := NewSender(SenderConfig{Address: addr, ConnectTimeoutMillis: 500}, nil)
	_, err = sender.Send(context.Background(), &model.ConnectorMessage{MessageID: 1}, adtMessage)
	require.Error(t, err)
	assert.False(t, connectors.IsPermanent(err))
}

func TestSenderRejectIsPermanent(t *testing.T) {
	downstream, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer downstream.Close()
	go func() {
		conn, err := downstream.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		payload, err := NewFrameReader(conn).Next()
		if err != nil {
			return
		}
		WriteFrame(conn, []byte(BuildACK(string(payload), AckReject, "bad facility")))
	}()

	sender := NewSender(SenderConfig{Address: downstream.Addr().String()}, nil)
	_, err = sender.Send(context.Background(), &model.ConnectorMessage{MessageID: 1}, adtMessage)
	require.Error(t, err)
	assert.True(t, connectors.IsPermanent(err))
}
