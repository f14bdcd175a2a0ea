// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

// Package file implements a file-writer destination. Each delivered
// message becomes (or is appended to) a file under the configured
// directory.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/donkeyengine/donkey/pkg/connectors"
	"github.com/donkeyengine/donkey/pkg/donkey/model"
	"github.com/donkeyengine/donkey/pkg/util/log"
)

// WriterConfig configures the file destination.
type WriterConfig struct {
	// Directory receives the output files; created on start.
	Directory string `mapstructure:"directory"`
	// FileName is a pattern supporting ${messageId}, ${channelId} and
	// ${uuid}. Default "${messageId}.dat".
	FileName string `mapstructure:"file_name"`
	// Append adds to an existing file instead of truncating.
	Append bool `mapstructure:"append"`
}

// Writer is the file destination transport.
type Writer struct {
	cfg WriterConfig
}

// NewWriter builds a file writer destination.
func NewWriter(cfg WriterConfig) *Writer {
	if cfg.FileName == "" {
		cfg.FileName = "${messageId}.dat"
	}
	return &Writer{cfg: cfg}
}

// Start implements connectors.Destination.
func (w *Writer) Start(context.Context) error {
	if w.cfg.Directory == "" {
		return fmt.Errorf("file destination has no directory")
	}
	if err := os.MkdirAll(w.cfg.Directory, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", w.cfg.Directory, err)
	}
	return nil
}

// Stop implements connectors.Destination.
func (w *Writer) Stop(context.Context) error { return nil }

// Send implements connectors.Destination. Filesystem failures are
// transient: disks fill and mounts drop, and the message is safe in the
// queue meanwhile.
func (w *Writer) Send(_ context.Context, cm *model.ConnectorMessage, content string) (*model.Response, error) {
	name := w.fileName(cm)
	path := filepath.Join(w.cfg.Directory, name)

	flags := os.O_CREATE | os.O_WRONLY
	if w.cfg.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, connectors.Transient(fmt.Errorf("opening %s: %w", path, err))
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return nil, connectors.Transient(fmt.Errorf("writing %s: %w", path, err))
	}
	if err := f.Close(); err != nil {
		return nil, connectors.Transient(fmt.Errorf("closing %s: %w", path, err))
	}

	log.Debugf("file: wrote message %d to %s", cm.MessageID, path)
	return model.SentResponse(""), nil
}

func (w *Writer) fileName(cm *model.ConnectorMessage) string {
	name := w.cfg.FileName
	name = strings.ReplaceAll(name, "${messageId}", strconv.FormatInt(cm.MessageID, 10))
	name = strings.ReplaceAll(name, "${channelId}", cm.ChannelID)
	name = strings.ReplaceAll(name, "${uuid}", uuid.NewString())
	return name
}
