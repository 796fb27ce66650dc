/*
 * Copyright 2022 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package log wraps logrus for the binlog packages. Every package logs through the standard
// logger configured here, so a single SetLevel/SetOutput call controls the whole module.
package log

import (
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

const modulePrefix = "github.com/CovenantSQL/binlog/"

const (
	// PanicLevel logs and then panics.
	PanicLevel logrus.Level = iota
	// FatalLevel logs and then exits.
	FatalLevel
	// ErrorLevel is used for errors that should definitely be noted.
	ErrorLevel
	// WarnLevel is used for non-critical entries that deserve eyes.
	WarnLevel
	// InfoLevel is used for general operational entries.
	InfoLevel
	// DebugLevel is very verbose, usually only enabled when debugging.
	DebugLevel
)

var (
	// PkgDebugLogFilter drops entries of the listed packages that are more verbose than the
	// given level.
	PkgDebugLogFilter = map[string]logrus.Level{
		"metric": InfoLevel,
	}
)

// Logger wraps logrus logger type.
type Logger logrus.Logger

// Fields defines the field map to pass to `WithFields`.
type Fields logrus.Fields

// CallerHook annotates entries with the calling function, and with a stack for the levels
// in StackLevels.
type CallerHook struct {
	StackLevels []logrus.Level
}

// StandardCallerHook returns a hook attaching stacks to error and more severe entries.
func StandardCallerHook() *CallerHook {
	return &CallerHook{
		StackLevels: []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel},
	}
}

// Fire implements logrus.Hook.Fire.
func (hook *CallerHook) Fire(entry *logrus.Entry) error {
	pkg, caller, stack := hook.caller(entry)
	if level, ok := PkgDebugLogFilter[pkg]; ok && entry.Level > level {
		entry.Logger = discardLogger
		return nil
	}
	if caller != "" {
		entry.Data["caller"] = caller
	}
	if len(stack) > 0 {
		entry.Data["stack"] = stack
	}
	return nil
}

// Levels implements logrus.Hook.Levels.
func (hook *CallerHook) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.PanicLevel,
		logrus.FatalLevel,
		logrus.ErrorLevel,
		logrus.WarnLevel,
		logrus.InfoLevel,
		logrus.DebugLevel,
	}
}

func (hook *CallerHook) wantStack(level logrus.Level) bool {
	for _, l := range hook.StackLevels {
		if l == level {
			return true
		}
	}
	return false
}

func (hook *CallerHook) caller(entry *logrus.Entry) (pkg, caller string, stack []string) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(4, pcs)
	if n == 0 {
		return
	}
	var (
		frames = runtime.CallersFrames(pcs[:n])
		found  bool
		want   = hook.wantStack(entry.Level)
	)
	for {
		f, more := frames.Next()
		// skip logrus and this wrapper until the first frame outside of them
		if !found {
			if !strings.Contains(f.File, "sirupsen/logrus") &&
				!strings.HasSuffix(f.File, "logwrapper.go") &&
				!strings.HasSuffix(f.File, "entrylogwrapper.go") {
				found = true
				fn := strings.TrimPrefix(f.Function, modulePrefix)
				pkg = strings.SplitN(fn, ".", 2)[0]
				caller = fmt.Sprintf("%s:%d %s", filepath.Base(f.File), f.Line, fn)
			}
		}
		if found && want && f.Line > 0 {
			stack = append(stack, fmt.Sprintf("#%d %s@%s:%d", len(stack),
				strings.TrimPrefix(f.Function, modulePrefix), filepath.Base(f.File), f.Line))
		}
		if !more || (found && !want) {
			break
		}
	}
	return
}

func init() {
	AddHook(StandardCallerHook())
}

// StandardLogger returns the standard logger.
func StandardLogger() *Logger {
	return (*Logger)(logrus.StandardLogger())
}

// SetOutput sets the standard logger output.
func SetOutput(out io.Writer) {
	logrus.SetOutput(out)
}

// SetFormatter sets the standard logger formatter.
func SetFormatter(formatter logrus.Formatter) {
	logrus.SetFormatter(formatter)
}

// SetLevel sets the standard logger level.
func SetLevel(level logrus.Level) {
	logrus.SetLevel(level)
}

// GetLevel returns the standard logger level.
func GetLevel() logrus.Level {
	return logrus.GetLevel()
}

// ParseLevel parses the level string and returns the logger level.
func ParseLevel(lvl string) (logrus.Level, error) {
	return logrus.ParseLevel(lvl)
}

// SetStringLevel sets the level from a string, falling back to defaultLevel when it does not
// parse.
func SetStringLevel(lvl string, defaultLevel logrus.Level) {
	if l, err := ParseLevel(lvl); err != nil {
		SetLevel(defaultLevel)
	} else {
		SetLevel(l)
	}
}

// AddHook adds a hook to the standard logger hooks.
func AddHook(hook logrus.Hook) {
	logrus.AddHook(hook)
}

// WithError creates an entry from the standard logger and adds an error to it.
func WithError(err error) *Entry {
	return WithField(logrus.ErrorKey, err)
}

// WithField creates an entry from the standard logger and adds a field to it.
func WithField(key string, value interface{}) *Entry {
	return (*Entry)(logrus.WithField(key, value))
}

// WithFields creates an entry from the standard logger and adds multiple fields to it.
func WithFields(fields Fields) *Entry {
	return (*Entry)(logrus.WithFields(logrus.Fields(fields)))
}

// Debug logs a message at level Debug on the standard logger.
func Debug(args ...interface{}) {
	logrus.Debug(args...)
}

// Info logs a message at level Info on the standard logger.
func Info(args ...interface{}) {
	logrus.Info(args...)
}

// Warn logs a message at level Warn on the standard logger.
func Warn(args ...interface{}) {
	logrus.Warn(args...)
}

// Error logs a message at level Error on the standard logger.
func Error(args ...interface{}) {
	logrus.Error(args...)
}

// Debugf logs a message at level Debug on the standard logger.
func Debugf(format string, args ...interface{}) {
	logrus.Debugf(format, args...)
}

// Infof logs a message at level Info on the standard logger.
func Infof(format string, args ...interface{}) {
	logrus.Infof(format, args...)
}

// Warnf logs a message at level Warn on the standard logger.
func Warnf(format string, args ...interface{}) {
	logrus.Warnf(format, args...)
}

// Errorf logs a message at level Error on the standard logger.
func Errorf(format string, args ...interface{}) {
	logrus.Errorf(format, args...)
}
