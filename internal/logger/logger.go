// Copyright 2024 The mongofs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger provides the process-wide structured logger every other
// package calls into by free function (Tracef/Debugf/.../Errorf) rather
// than by holding a *slog.Logger of their own, mirroring how the rest of
// the tree never threads a logger handle through call sites that don't
// otherwise need one. Two renderings are supported -- human-readable text
// and JSON -- selected independently of the severity threshold.
package logger

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Severity thresholds, ordered the way the original tool's five-level
// scheme is: everything below OFF is silenced entirely once the threshold
// is raised past it.
const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
	LevelOff     = slog.Level(16)
)

var severityNames = map[slog.Level]string{
	LevelTrace:   "TRACE",
	LevelDebug:   "DEBUG",
	LevelInfo:    "INFO",
	LevelWarning: "WARNING",
	LevelError:   "ERROR",
}

// ParseLevel maps a case-insensitive level name ("trace", "DEBUG", ...) to a
// slog.Level, defaulting to LevelInfo for anything unrecognized.
func ParseLevel(name string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARNING", "WARN":
		return LevelWarning
	case "ERROR":
		return LevelError
	case "OFF":
		return LevelOff
	default:
		return LevelInfo
	}
}

var (
	mu           sync.Mutex
	programLevel = &slog.LevelVar{}
	defaultLog   atomic.Pointer[slog.Logger]
)

func init() {
	programLevel.Set(LevelInfo)
	defaultLog.Store(slog.New(newHandler(os.Stderr, "text", programLevel)))
}

// Init (re)configures the default logger's output, rendering format
// ("text" or "json"), and severity threshold. It is safe to call again
// later, e.g. after mount options are parsed.
func Init(w io.Writer, format string, level slog.Level) {
	mu.Lock()
	defer mu.Unlock()

	programLevel.Set(level)
	defaultLog.Store(slog.New(newHandler(w, format, programLevel)))
}

func newHandler(w io.Writer, format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceSeverity,
	}

	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return &textHandler{inner: slog.NewTextHandler(w, opts)}
}

// replaceSeverity renders slog's built-in level attribute as "severity"
// with our five-value vocabulary instead of slog's DEBUG/INFO/WARN/ERROR
// names. Every other attribute passes through unchanged.
func replaceSeverity(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		lvl, _ := a.Value.Any().(slog.Level)
		name, ok := severityNames[lvl]
		if !ok {
			name = lvl.String()
		}
		return slog.Attr{Key: "severity", Value: slog.StringValue(name)}
	}
	return a
}

// textHandler renders "time=... severity=... msg=..." lines, matching
// the field order and quoting of the teacher's text format.
type textHandler struct {
	inner *slog.TextHandler
}

func (h *textHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *textHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &textHandler{inner: h.inner.WithAttrs(attrs).(*slog.TextHandler)}
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	return &textHandler{inner: h.inner.WithGroup(name).(*slog.TextHandler)}
}

func log() *slog.Logger {
	return defaultLog.Load()
}

func Tracef(format string, args ...interface{}) {
	log().Log(context.Background(), LevelTrace, fmt.Sprintf(format, args...))
}

func Debugf(format string, args ...interface{}) {
	log().Debug(fmt.Sprintf(format, args...))
}

func Infof(format string, args ...interface{}) {
	log().Info(fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...interface{}) {
	log().Warn(fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...interface{}) {
	log().Error(fmt.Sprintf(format, args...))
}

// stdLoggerWriter routes a stdlib *log.Logger's formatted lines into the
// default slog logger at a fixed level, stripping the trailing newline
// log.Logger always appends.
type stdLoggerWriter struct {
	level slog.Level
}

func (w stdLoggerWriter) Write(p []byte) (int, error) {
	log().Log(context.Background(), w.level, strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// NewStdLogger adapts the default logger to the stdlib *log.Logger shape
// fuse.MountConfig.ErrorLogger/DebugLogger require, the same role the
// teacher's logger.NewLegacyLogger fills for mountCfg's two logger fields.
func NewStdLogger(prefix string, level slog.Level) *stdlog.Logger {
	return stdlog.New(stdLoggerWriter{level: level}, prefix, 0)
}
