// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Donkey integration engine.
// Copyright 2026-present Donkey Engine contributors.

package log

import (
	"fmt"
	"sync"

	"github.com/cihub/seelog"
)

// DonkeyLogger is a thin wrapper around a seelog logger. All engine code logs
// through the package-level functions so the backing logger can be swapped at
// setup time (tests install a no-op logger).
type DonkeyLogger struct {
	inner seelog.LoggerInterface
	level seelog.LogLevel
	mu    sync.RWMutex
}

var (
	logger   *DonkeyLogger
	loggerMu sync.RWMutex
)

const defaultStackDepth = 2

// SetupLogger installs l as the process-wide logger.
func SetupLogger(l seelog.LoggerInterface, level string) {
	lvl, ok := seelog.LogLevelFromString(level)
	if !ok {
		lvl = seelog.InfoLvl
	}
	l.SetAdditionalStackDepth(defaultStackDepth) //nolint:errcheck

	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = &DonkeyLogger{inner: l, level: lvl}
}

// SetupDefaultLogger configures a console logger at the given level. Used by
// the CLI when no logging section is present in the server config.
func SetupDefaultLogger(level string) error {
	l, err := seelog.LoggerFromConfigAsString(
		`<seelog minlevel="` + level + `"><outputs formatid="common"><console/></outputs>` +
			`<formats><format id="common" format="%Date %Time %LEVEL | %Msg%n"/></formats></seelog>`)
	if err != nil {
		return err
	}
	SetupLogger(l, level)
	return nil
}

// SetupFileLogger configures a rolling file logger at the given level.
func SetupFileLogger(path, level string) error {
	l, err := seelog.LoggerFromConfigAsString(
		`<seelog minlevel="` + level + `"><outputs formatid="common">` +
			`<rollingfile type="size" filename="` + path + `" maxsize="10000000" maxrolls="5"/>` +
			`</outputs><formats><format id="common" format="%Date %Time %LEVEL | %Msg%n"/></formats></seelog>`)
	if err != nil {
		return err
	}
	SetupLogger(l, level)
	return nil
}

func get() *DonkeyLogger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

func (l *DonkeyLogger) shouldLog(lvl seelog.LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return lvl >= l.level
}

// ChangeLogLevel adjusts the minimum level at runtime (debug-mode override).
func ChangeLogLevel(level string) error {
	l := get()
	if l == nil {
		return fmt.Errorf("logger not initialized")
	}
	lvl, ok := seelog.LogLevelFromString(level)
	if !ok {
		return fmt.Errorf("unknown log level: %s", level)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = lvl
	return nil
}

// Flush flushes any buffered output. Call before process exit.
func Flush() {
	if l := get(); l != nil {
		l.inner.Flush()
	}
}

// Debug logs at the debug level.
func Debug(v ...interface{}) {
	if l := get(); l != nil && l.shouldLog(seelog.DebugLvl) {
		l.inner.Debug(v...)
	}
}

// Debugf logs at the debug level with a format.
func Debugf(format string, params ...interface{}) {
	if l := get(); l != nil && l.shouldLog(seelog.DebugLvl) {
		l.inner.Debugf(format, params...)
	}
}

// Info logs at the info level.
func Info(v ...interface{}) {
	if l := get(); l != nil && l.shouldLog(seelog.InfoLvl) {
		l.inner.Info(v...)
	}
}

// Infof logs at the info level with a format.
func Infof(format string, params ...interface{}) {
	if l := get(); l != nil && l.shouldLog(seelog.InfoLvl) {
		l.inner.Infof(format, params...)
	}
}

// Warn logs at the warn level.
func Warn(v ...interface{}) {
	if l := get(); l != nil && l.shouldLog(seelog.WarnLvl) {
		l.inner.Warn(v...) //nolint:errcheck
	}
}

// Warnf logs at the warn level with a format.
func Warnf(format string, params ...interface{}) {
	if l := get(); l != nil && l.shouldLog(seelog.WarnLvl) {
		l.inner.Warnf(format, params...) //nolint:errcheck
	}
}

// Error logs at the error level.
func Error(v ...interface{}) {
	if l := get(); l != nil && l.shouldLog(seelog.ErrorLvl) {
		l.inner.Error(v...) //nolint:errcheck
	}
}

// Errorf logs at the error level with a format.
func Errorf(format string, params ...interface{}) {
	if l := get(); l != nil && l.shouldLog(seelog.ErrorLvl) {
		l.inner.Errorf(format, params...) //nolint:errcheck
	}
}
