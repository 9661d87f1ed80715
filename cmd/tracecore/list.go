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

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
)

// listCmd implements subcommands.Command for "list": a placeholder
// documenting that fleet inspection happens through pkg/trace.Tracer.List
// from whatever process holds the live Tracer (run's own process, here);
// there is no cross-process attach-and-list in this core (spec Non-goal:
// rendering/CLI layers beyond this core are out of scope).
type listCmd struct{}

func (*listCmd) Name() string             { return "list" }
func (*listCmd) Synopsis() string         { return "describe how to inspect a running trace" }
func (*listCmd) Usage() string            { return "list - describe how to inspect a running trace\n" }
func (*listCmd) SetFlags(*flag.FlagSet)   {}
func (*listCmd) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	fmt.Println("tracecore has no daemon to query; run `tracecore run <path>` and it prints the fleet on exit.")
	return subcommands.ExitSuccess
}
