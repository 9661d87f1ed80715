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
	"os"
	"os/exec"
	"runtime"

	"github.com/gofrs/flock"
	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"github.com/fview-go/tracecore/internal/config"
	"github.com/fview-go/tracecore/pkg/trace"
)

// runCmd implements subcommands.Command for "run": launch a program and
// trace it to exit, printing the fleet once it drains.
type runCmd struct{}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "launch and trace a program to completion" }
func (*runCmd) Usage() string {
	return "run [flags] <path> [args...] - launch and trace a program\n"
}
func (*runCmd) SetFlags(*flag.FlagSet) {}

func (*runCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	cfg, _ := args[0].(*config.Config)
	if cfg == nil {
		def := config.Default()
		cfg = &def
	}

	if err := trace.CheckPtracePrivileges(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	if cfg.LockPath != "" {
		lock := flock.New(cfg.LockPath)
		locked, err := lock.TryLock()
		if err != nil {
			fmt.Fprintf(os.Stderr, "tracecore: acquiring lock %s: %v\n", cfg.LockPath, err)
			return subcommands.ExitFailure
		}
		if !locked {
			fmt.Fprintf(os.Stderr, "tracecore: %s is already locked by another tracecore run\n", cfg.LockPath)
			return subcommands.ExitFailure
		}
		defer lock.Unlock()
	}

	var leaderPty *trace.LeaderPty
	launch := launchTraceMe
	if cfg.AllocatePty {
		var err error
		leaderPty, err = trace.OpenLeaderPty()
		if err != nil {
			fmt.Fprintf(os.Stderr, "tracecore: allocating pty: %v\n", err)
			return subcommands.ExitFailure
		}
		defer leaderPty.Close()
		launch = launchTraceMeWithPty(leaderPty)
	}

	runtime.LockOSThread() // ptrace requires every call from the attaching thread

	tracer := trace.NewTracer(trace.NewKernelAdapter(cfg.KernelRetryAttempts), launch, nil)
	tracer.SetOrphanLogRetention(cfg.OrphanLogRetention)
	runCtx := tracer.WithCancel(ctx)

	g, gCtx := errgroup.WithContext(runCtx)

	if cfg.OrphanFeedPath != "" {
		feed, err := trace.OpenOrphanFeed(runCtx, cfg.OrphanFeedPath, tracer.NotifyOrphan)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tracecore: opening orphan feed: %v\n", err)
			return subcommands.ExitFailure
		}
		defer feed.Close()
		g.Go(func() error {
			if err := feed.Run(gCtx); err != nil && gCtx.Err() == nil {
				return fmt.Errorf("orphan feed: %w", err)
			}
			return nil
		})
	}

	if _, err := tracer.Start(f.Arg(0), f.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "tracecore: %v\n", err)
		return subcommands.ExitFailure
	}

	g.Go(func() error {
		for {
			more, err := tracer.Step(gCtx)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
	})

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "tracecore: %v\n", err)
		return subcommands.ExitFailure
	}
	tracer.PrintList()
	return subcommands.ExitSuccess
}

// launchTraceMe forks path/argv with PTRACE_TRACEME set in the child
// before exec, the conventional handoff a tracer's Launcher performs; the
// launcher itself is out of scope for pkg/trace (spec §1), so it lives
// here in the CLI instead.
func launchTraceMe(path string, argv []string) (int, error) {
	cmd := exec.Command(path, argv...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	cmd.SysProcAttr = traceMeAttr()
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	return cmd.Process.Pid, nil
}

// launchTraceMeWithPty is the --pty variant of launchTraceMe: the leader's
// stdio is the pty's slave end instead of tracecore's own, so an
// interactive program under trace gets line discipline and job control the
// same as run directly from a shell.
func launchTraceMeWithPty(p *trace.LeaderPty) trace.Launcher {
	return func(path string, argv []string) (int, error) {
		cmd := exec.Command(path, argv...)
		cmd.Stdin, cmd.Stdout, cmd.Stderr = p.Slave, p.Slave, p.Slave
		cmd.SysProcAttr = traceMeAttrPty()
		if err := cmd.Start(); err != nil {
			return 0, err
		}
		return cmd.Process.Pid, nil
	}
}
