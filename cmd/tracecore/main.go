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

// Command tracecore is a minimal CLI front-end over pkg/trace, suitable
// for smoke-testing the tracer core without a visualiser attached.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/fview-go/tracecore/internal/config"
	"github.com/fview-go/tracecore/pkg/trace"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&runCmd{}, "")
	subcommands.Register(&listCmd{}, "")
	subcommands.Register(&versionCmd{}, "")

	cfg, err := config.NewFromFlags(flag.CommandLine, scanConfigFlag(os.Args[1:]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "tracecore: %v\n", err)
		os.Exit(int(subcommands.ExitFailure))
	}

	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		trace.SetLogLevel(lvl)
	}
	if cfg.LogJournal {
		if err := trace.EnableJournal(); err != nil {
			fmt.Fprintf(os.Stderr, "tracecore: %v\n", err)
		}
	}

	os.Exit(int(subcommands.Execute(context.Background(), &cfg)))
}

// scanConfigFlag finds a -config/--config value in args without touching
// the package flag.FlagSet, so it can run before config.RegisterFlags has
// populated it with every other flag (the config file must be known before
// registering flags, so it can seed their defaults; see config.NewFromFlags).
func scanConfigFlag(args []string) string {
	for i, a := range args {
		switch {
		case a == "-config" || a == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case len(a) > 8 && a[:8] == "-config=":
			return a[8:]
		case len(a) > 9 && a[:9] == "--config=":
			return a[9:]
		}
	}
	return ""
}
