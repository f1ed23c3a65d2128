// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging wraps log/slog with the plumbing TraceDeck needs:
// leveled stderr output (text or JSON) plus an optional daily JSON log
// file, written to both destinations through one handler.
//
// # Usage
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    Service: "orchestrator",
//	    LogDir:  "~/.tracedeck/logs", // supports ~ expansion
//	    JSON:    true,
//	})
//	defer logger.Close()
//	slog.SetDefault(logger.Slog())
//
// File logs are named "{service}_{YYYY-MM-DD}.log" and are always JSON.
//
// This package does NOT redact sensitive data. Callers must keep API keys
// and uploaded trace content out of log attributes.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Level is log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

// String returns the level's name, or "UNKNOWN" for out-of-range values.
func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// toSlogLevel maps onto slog's numbering (Debug=-4, Info=0, Warn=4,
// Error=8). Out-of-range values fall back to Info.
func (l Level) toSlogLevel() slog.Level {
	if l < LevelDebug || l > LevelError {
		return slog.LevelInfo
	}
	return slog.Level(int(l)*4 - 4)
}

// Config configures a Logger. The zero value logs Info and above to stderr
// in text format.
type Config struct {
	// Level is the minimum severity to emit.
	Level Level

	// Service tags every entry with a "service" attribute and names the
	// log file.
	Service string

	// LogDir, when non-empty, enables JSON file logging under this
	// directory. Supports ~ expansion.
	LogDir string

	// JSON switches stderr output from text to JSON. File output is
	// always JSON.
	JSON bool

	// Quiet suppresses stderr output entirely. With no LogDir either,
	// entries are discarded.
	Quiet bool
}

// Logger is a leveled structured logger. Safe for concurrent use. Call
// Close on loggers with file output.
type Logger struct {
	slog *slog.Logger
	file *os.File
}

// New builds a Logger from cfg. A file that cannot be opened degrades to
// stderr-only logging rather than failing construction; the server must
// not refuse to start over a log path.
func New(cfg Config) *Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level.toSlogLevel()}

	var handlers []slog.Handler
	if !cfg.Quiet {
		if cfg.JSON {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
		}
	}

	logger := &Logger{}
	if cfg.LogDir != "" {
		if file, err := openLogFile(cfg.LogDir, cfg.Service); err == nil {
			logger.file = file
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.DiscardHandler
	case 1:
		handler = handlers[0]
	default:
		handler = fanoutHandler(handlers)
	}

	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}

	logger.slog = slog.New(handler)
	return logger
}

// Default returns a stderr text logger at Info level tagged "tracedeck".
func Default() *Logger {
	return New(Config{Level: LevelInfo, Service: "tracedeck"})
}

func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a child Logger whose entries carry the additional
// attributes. The file handle stays owned by the parent; only the parent's
// Close releases it.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...)}
}

// Slog exposes the underlying slog.Logger, typically for slog.SetDefault.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close syncs and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	file := l.file
	l.file = nil
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("sync log file: %w", err)
	}
	return file.Close()
}

// openLogFile creates dir if needed and opens today's log file for append.
func openLogFile(dir, service string) (*os.File, error) {
	if service == "" {
		service = "tracedeck"
	}
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// fanoutHandler delivers each record to every destination that accepts its
// level, so stderr and the log file can carry different formats.
type fanoutHandler []slog.Handler

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, dest := range h {
		if dest.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, dest := range h {
		if !dest.Enabled(ctx, record.Level) {
			continue
		}
		if err := dest.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(h))
	for i, dest := range h {
		out[i] = dest.WithAttrs(attrs)
	}
	return out
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(h))
	for i, dest := range h {
		out[i] = dest.WithGroup(name)
	}
	return out
}
