// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package mllp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/donkeyengine/donkey/pkg/connectors"
	"github.com/donkeyengine/donkey/pkg/donkey/model"
	"github.com/donkeyengine/donkey/pkg/util/log"
)

// SenderConfig configures the MLLP destination transport.
type SenderConfig struct {
	// Address is the downstream host:port.
	Address string `mapstructure:"address"`
	// ConnectTimeoutMillis bounds dialing. Default 10000.
	ConnectTimeoutMillis int `mapstructure:"connect_timeout_millis"`
	// ResponseTimeoutMillis bounds the wait for the acknowledgment frame.
	// Default 30000.
	ResponseTimeoutMillis int `mapstructure:"response_timeout_millis"`
	// KeepConnectionOpen reuses one connection across sends.
	KeepConnectionOpen bool `mapstructure:"keep_connection_open"`

	TLS connectors.TLSMaterial `mapstructure:"tls"`
}

// Sender is an MLLP destination: it frames the encoded content, sends it
// and interprets the returned acknowledgment.
type Sender struct {
	cfg      SenderConfig
	tlsCache *connectors.TLSCache

	mu   sync.Mutex
	conn net.Conn
}

// NewSender builds an MLLP sender. tlsCache may be nil when the connector
// has no TLS material.
func NewSender(cfg SenderConfig, tlsCache *connectors.TLSCache) *Sender {
	if cfg.ConnectTimeoutMillis <= 0 {
		cfg.ConnectTimeoutMillis = 10000
	}
	if cfg.ResponseTimeoutMillis <= 0 {
		cfg.ResponseTimeoutMillis = 30000
	}
	return &Sender{cfg: cfg, tlsCache: tlsCache}
}

// Start implements connectors.Destination.
func (s *Sender) Start(context.Context) error { return nil }

// Stop implements connectors.Destination.
func (s *Sender) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	return nil
}

// Send implements connectors.Destination. Network failures are transient;
// an AR/CR acknowledgment is a permanent rejection.
func (s *Sender) Send(ctx context.Context, cm *model.ConnectorMessage, content string) (*model.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.connection(ctx)
	if err != nil {
		return nil, connectors.ClassifyNetError(err)
	}

	fail := func(err error) (*model.Response, error) {
		conn.Close()
		s.conn = nil
		return nil, connectors.ClassifyNetError(err)
	}

	deadline := time.Now().Add(time.Duration(s.cfg.ResponseTimeoutMillis) * time.Millisecond)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	if err := WriteFrame(conn, []byte(content)); err != nil {
		return fail(err)
	}
	ack, err := NewFrameReader(conn).Next()
	if err != nil {
		return fail(err)
	}
	if !s.cfg.KeepConnectionOpen {
		conn.Close()
		s.conn = nil
	}

	code, err := AckCode(string(ack))
	if err != nil {
		return nil, connectors.Permanent(fmt.Errorf("message %d: %w", cm.MessageID, err))
	}
	switch {
	case IsAcceptCode(code):
		return model.SentResponse(string(ack)), nil
	case IsRejectCode(code):
		return nil, connectors.Permanent(fmt.Errorf("message %d rejected with %s", cm.MessageID, code))
	default:
		return nil, connectors.Transient(fmt.Errorf("message %d not acknowledged: %s", cm.MessageID, code))
	}
}

func (s *Sender) connection(ctx context.Context) (net.Conn, error) {
	if s.conn != nil {
		return s.conn, nil
	}

	dialer := &net.Dialer{Timeout: time.Duration(s.cfg.ConnectTimeoutMillis) * time.Millisecond}
	var conn net.Conn
	var err error
	if s.cfg.TLS.CertFile != "" || s.cfg.TLS.CAFile != "" {
		tlsConfig, tlsErr := s.tlsCache.Get(s.cfg.TLS)
		if tlsErr != nil {
			return nil, tlsErr
		}
		conn, err = tls.DialWithDialer(dialer, "tcp", s.cfg.Address, tlsConfig)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", s.cfg.Address)
	}
	if err != nil {
		return nil, err
	}
	log.Debugf("mllp: connected to %s", s.cfg.Address)
	s.conn = conn
	return conn, nil
}
