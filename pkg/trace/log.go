// Copyright 2018 The gVisor Authors.
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

package trace

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// logger is this package's structured logging sink, a thin facade over
// logrus.Entry so call sites (dispatch.go, tracer.go) don't
// depend on logrus directly.
type logger struct {
	entry *logrus.Entry
}

var (
	baseOnce sync.Once
	base     *logrus.Logger
)

func baseLogger() *logrus.Logger {
	baseOnce.Do(func() {
		base = logrus.New()
		base.SetOutput(os.Stderr)
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		if lvl := os.Getenv("TRACECORE_LOG_LEVEL"); lvl != "" {
			if parsed, err := logrus.ParseLevel(lvl); err == nil {
				base.SetLevel(parsed)
			}
		}
		if os.Getenv("TRACECORE_LOG_JOURNAL") == "1" {
			if hook, err := newJournalHook(); err == nil {
				base.AddHook(hook)
			}
		}
	})
	return base
}

// defaultLogger returns a logger tagged with this package's component name.
func defaultLogger() *logger {
	return &logger{entry: baseLogger().WithField("component", "trace")}
}

// SetLogLevel overrides the package's log level at runtime (e.g. from the
// -log-level CLI flag), instead of only via TRACECORE_LOG_LEVEL.
func SetLogLevel(level logrus.Level) {
	baseLogger().SetLevel(level)
}

// EnableJournal attaches the systemd journal hook unconditionally, for
// callers that decide this at flag-parse time rather than via env var.
func EnableJournal() error {
	hook, err := newJournalHook()
	if err != nil {
		return err
	}
	baseLogger().AddHook(hook)
	return nil
}

func (l *logger) withPid(pid int) *logrus.Entry {
	return l.entry.WithField("pid", pid)
}

func (l *logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
