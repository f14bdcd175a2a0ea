// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package connectors

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// TLSMaterial names the files a TLS-enabled connector loads.
type TLSMaterial struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

func (m TLSMaterial) key() string { return m.CertFile + "|" + m.KeyFile + "|" + m.CAFile }

// TLSCache lazily loads and caches tls.Configs process-wide so every
// connector sharing the same material reuses one parse. Invalidate on
// configuration changes.
type TLSCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *tls.Config]
}

// NewTLSCache returns a cache bounded to size entries.
func NewTLSCache(size int) (*TLSCache, error) {
	cache, err := lru.New[string, *tls.Config](size)
	if err != nil {
		return nil, err
	}
	return &TLSCache{cache: cache}, nil
}

// Get returns the tls.Config for the given material, loading it on first
// use.
func (c *TLSCache) Get(material TLSMaterial) (*tls.Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cfg, ok := c.cache.Get(material.key()); ok {
		return cfg, nil
	}
	cfg, err := loadTLSConfig(material)
	if err != nil {
		return nil, err
	}
	c.cache.Add(material.key(), cfg)
	return cfg, nil
}

// Invalidate drops every cached config.
func (c *TLSCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
}

func loadTLSConfig(material TLSMaterial) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if material.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(material.CertFile, material.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading key pair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if material.CAFile != "" {
		pem, err := os.ReadFile(material.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", material.CAFile)
		}
		cfg.RootCAs = pool
		cfg.ClientCAs = pool
	}
	return cfg, nil
}
