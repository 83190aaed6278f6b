// Copyright 2026 The Easel Authors
// SPDX-License-Identifier: Apache-2.0

// Package pionlog routes the pion libraries' leveled logging into
// slog. Trace output is logged at Debug-4 so it stays out of normal
// debug logs.
package pionlog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// LevelTrace is the slog level pion trace messages are logged at.
const LevelTrace = slog.LevelDebug - 4

// Factory implements logging.LoggerFactory. A nil Logger discards.
type Factory struct {
	Logger *slog.Logger
}

var _ logging.LoggerFactory = Factory{}

// NewLogger returns a logger tagged with the pion subsystem scope.
func (f Factory) NewLogger(scope string) logging.LeveledLogger {
	logger := f.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return leveled{logger: logger.With("pion", scope)}
}

type leveled struct {
	logger *slog.Logger
}

func (l leveled) log(level slog.Level, msg string) {
	l.logger.Log(context.Background(), level, msg)
}

func (l leveled) logf(level slog.Level, format string, args ...any) {
	if !l.logger.Enabled(context.Background(), level) {
		return
	}
	l.logger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (l leveled) Trace(msg string)                  { l.log(LevelTrace, msg) }
func (l leveled) Tracef(format string, args ...any) { l.logf(LevelTrace, format, args...) }
func (l leveled) Debug(msg string)                  { l.log(slog.LevelDebug, msg) }
func (l leveled) Debugf(format string, args ...any) { l.logf(slog.LevelDebug, format, args...) }
func (l leveled) Info(msg string)                   { l.log(slog.LevelInfo, msg) }
func (l leveled) Infof(format string, args ...any)  { l.logf(slog.LevelInfo, format, args...) }
func (l leveled) Warn(msg string)                   { l.log(slog.LevelWarn, msg) }
func (l leveled) Warnf(format string, args ...any)  { l.logf(slog.LevelWarn, format, args...) }
func (l leveled) Error(msg string)                  { l.log(slog.LevelError, msg) }
func (l leveled) Errorf(format string, args ...any) { l.logf(slog.LevelError, format, args...) }
