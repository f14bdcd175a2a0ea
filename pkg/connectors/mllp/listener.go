// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package mllp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/donkeyengine/donkey/pkg/connectors"
	"github.com/donkeyengine/donkey/pkg/donkey/model"
	"github.com/donkeyengine/donkey/pkg/util/log"
)

// ListenerConfig configures the MLLP source transport.
type ListenerConfig struct {
	// Address is the host:port to bind.
	Address string `mapstructure:"address"`
	// MaxConnections caps concurrent client connections. Default 10.
	MaxConnections int `mapstructure:"max_connections"`
	// IdleTimeoutMillis closes a connection with no traffic. Zero means
	// no idle timeout.
	IdleTimeoutMillis int `mapstructure:"idle_timeout_millis"`

	TLS connectors.TLSMaterial `mapstructure:"tls"`
}

// Listener is an MLLP source: it accepts TCP connections, reads frames and
// hands each payload to the engine, writing the attributed response back
// as an MLLP frame.
type Listener struct {
	cfg      ListenerConfig
	tlsCache *connectors.TLSCache

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	sem      *semaphore.Weighted
}

// NewListener builds an MLLP listener. tlsCache may be nil when the
// connector has no TLS material.
func NewListener(cfg ListenerConfig, tlsCache *connectors.TLSCache) *Listener {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10
	}
	return &Listener{cfg: cfg, tlsCache: tlsCache}
}

// Start implements connectors.Source.
func (l *Listener) Start(ctx context.Context, handler connectors.Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener != nil {
		return fmt.Errorf("mllp listener already started")
	}

	listener, err := net.Listen("tcp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("binding %s: %w", l.cfg.Address, err)
	}
	if l.cfg.TLS.CertFile != "" {
		tlsConfig, err := l.tlsCache.Get(l.cfg.TLS)
		if err != nil {
			listener.Close()
			return err
		}
		listener = tls.NewListener(listener, tlsConfig)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	l.listener = listener
	l.cancel = cancel
	l.sem = semaphore.NewWeighted(int64(l.cfg.MaxConnections))

	l.wg.Add(1)
	go l.acceptLoop(loopCtx, handler)
	log.Infof("mllp: listening on %s", listener.Addr())
	return nil
}

// Addr returns the bound address, for callers that configured port 0.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Stop implements connectors.Source. It closes the listener and waits for
// in-flight connections to finish or the context to expire.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	listener := l.listener
	cancel := l.cancel
	l.listener = nil
	l.cancel = nil
	l.mu.Unlock()
	if listener == nil {
		return nil
	}
	cancel()
	listener.Close()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Listener) acceptLoop(ctx context.Context, handler connectors.Handler) {
	defer l.wg.Done()
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warnf("mllp: accept failed: %v", err)
			return
		}
		if err := l.sem.Acquire(ctx, 1); err != nil {
			conn.Close()
			return
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.sem.Release(1)
			l.serve(ctx, conn, handler)
		}()
	}
}

func (l *Listener) serve(ctx context.Context, conn net.Conn, handler connectors.Handler) {
	defer conn.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	remote := conn.RemoteAddr().String()
	reader := NewFrameReader(conn)
	for {
		if l.cfg.IdleTimeoutMillis > 0 {
			conn.SetReadDeadline(time.Now().Add(time.Duration(l.cfg.IdleTimeoutMillis) * time.Millisecond))
		}
		payload, err := reader.Next()
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				log.Debugf("mllp: connection %s closed: %v", remote, err)
			}
			return
		}

		response, err := handler.Dispatch(ctx, string(payload), map[string]interface{}{
			"remoteAddress": remote,
		})
		if err != nil {
			log.Errorf("mllp: dispatch failed for %s: %v", remote, err)
			nak := BuildACK(string(payload), AckError, err.Error())
			if writeErr := WriteFrame(conn, []byte(nak)); writeErr != nil {
				return
			}
			continue
		}
		ack := ""
		switch {
		case response == nil:
			ack = BuildACK(string(payload), AckAccept, "")
		case response.Message != "":
			ack = response.Message
		case response.Status == model.StatusError:
			ack = BuildACK(string(payload), AckError, response.Error)
		default:
			// SENT, QUEUED and FILTERED all acknowledge receipt
			ack = BuildACK(string(payload), AckAccept, "")
		}
		if err := WriteFrame(conn, []byte(ack)); err != nil {
			log.Warnf("mllp: writing response to %s: %v", remote, err)
			return
		}
	}
}
