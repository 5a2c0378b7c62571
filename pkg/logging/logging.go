// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging is the printf-style logger used across the toolkit.
// Messages go to stderr so that stdout carries only remote task output.
package logging

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var logger = newLogger(os.Stderr)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
		ForceColors:            isTerminal(w),
		DisableColors:          !isTerminal(w),
	})
	return l
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetOutput redirects all log output to w. The current level is kept.
func SetOutput(w io.Writer) {
	level := logger.GetLevel()
	logger = newLogger(w)
	logger.SetLevel(level)
}

// SetVerbose enables debug messages.
func SetVerbose(verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	logger.SetLevel(logrus.InfoLevel)
}

// Debug logs at debug level; hidden unless verbose.
func Debug(format string, args ...interface{}) {
	logger.Debugf(format, args...)
}

// Info logs progress messages.
func Info(format string, args ...interface{}) {
	logger.Infof(format, args...)
}

// Warn logs recoverable problems.
func Warn(format string, args ...interface{}) {
	logger.Warnf(format, args...)
}

// Error logs failures without exiting.
func Error(format string, args ...interface{}) {
	logger.Errorf(format, args...)
}

