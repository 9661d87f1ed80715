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

// Package config holds tracecore's tunables, populated from a TOML file
// and/or command-line flags, the same split runsc/config keeps between a
// plain data struct and its flag registration.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full set of tunables for a tracecore run.
type Config struct {
	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `toml:"log_level"`
	// LogJournal ships logs to the systemd journal in addition to stderr.
	LogJournal bool `toml:"log_journal"`

	// OrphanLogRetention bounds the recycled-PID log (spec §4.5).
	OrphanLogRetention time.Duration `toml:"orphan_log_retention"`

	// KernelRetryAttempts bounds retryEphemeral's bounded backoff for
	// KernelEphemeral adapter failures.
	KernelRetryAttempts int `toml:"kernel_retry_attempts"`

	// AllocatePty allocates a pseudo-terminal for a launched leader,
	// instead of inheriting tracecore's own stdio.
	AllocatePty bool `toml:"allocate_pty"`

	// OrphanFeedPath, if set, opens a named-pipe orphan-notification feed
	// at this path (see OrphanFeed) in addition to any in-process caller
	// of Tracer.NotifyOrphan.
	OrphanFeedPath string `toml:"orphan_feed_path"`

	// LockPath, if set, is an advisory lock file acquired for the
	// duration of a `run`: it stops two tracecore invocations configured
	// with the same OrphanFeedPath from racing to create/attach the same
	// named pipe.
	LockPath string `toml:"lock_path"`
}

// Default returns the baseline configuration, overridden by a TOML file
// and/or flags.
func Default() Config {
	return Config{
		LogLevel:            "info",
		OrphanLogRetention:  30 * time.Second,
		KernelRetryAttempts: 5,
	}
}

// Load reads a TOML config file at path, starting from Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return cfg, nil
}

// RegisterFlags registers one flag per Config field onto fs, seeded with
// cfg's current values as defaults — the same shape runsc/config's
// RegisterFlags gives flags over a Config struct.
func RegisterFlags(fs *flag.FlagSet, cfg *Config) {
	// Recognized here only so flag.Parse doesn't reject it; its value is
	// read by main before RegisterFlags runs, via a manual argv scan (the
	// config file has to be loaded before flags can use it to seed their
	// defaults).
	if fs.Lookup("config") == nil {
		fs.String("config", "", "path to a TOML configuration file.")
	}
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error.")
	fs.BoolVar(&cfg.LogJournal, "log-journal", cfg.LogJournal, "additionally ship logs to the systemd journal.")
	fs.DurationVar(&cfg.OrphanLogRetention, "orphan-log-retention", cfg.OrphanLogRetention, "how long a reaped pid stays in the recycled-pid log.")
	fs.IntVar(&cfg.KernelRetryAttempts, "kernel-retry-attempts", cfg.KernelRetryAttempts, "total attempts, the first included, for ephemeral kernel-adapter failures.")
	fs.BoolVar(&cfg.AllocatePty, "pty", cfg.AllocatePty, "allocate a pseudo-terminal for the launched leader.")
	fs.StringVar(&cfg.OrphanFeedPath, "orphan-feed", cfg.OrphanFeedPath, "path to a named pipe carrying orphan pid notifications.")
	fs.StringVar(&cfg.LockPath, "lock-path", cfg.LockPath, "advisory lock file path for this run, guarding a shared orphan feed.")
}

// NewFromFlags loads configFile (if non-empty) and then lets any flags
// explicitly set on fs override it — flags win over the file, the file
// wins over Default().
func NewFromFlags(fs *flag.FlagSet, configFile string) (Config, error) {
	cfg := Default()
	if configFile != "" {
		fromFile, err := Load(configFile)
		if err != nil {
			return Config{}, err
		}
		cfg = fromFile
	}

	// Re-register against the now-file-seeded defaults so unset flags keep
	// the file's values, then re-parse os.Args so explicitly passed flags
	// win.
	RegisterFlags(fs, &cfg)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
