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

package trace_test

import (
	"context"
	"testing"

	"github.com/fview-go/tracecore/pkg/trace"
	"github.com/fview-go/tracecore/pkg/trace/trtest"
)

func fixedLauncher(pid int) trace.Launcher {
	return func(path string, argv []string) (int, error) { return pid, nil }
}

func TestTracerStartRegistersRunningLeader(t *testing.T) {
	kernel := trtest.NewFakeKernel()
	tracer := trace.NewTracer(kernel, fixedLauncher(1), nil)

	if _, err := tracer.Start("/bin/true", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snaps := tracer.List()
	if len(snaps) != 1 || snaps[0].Pid != 1 || snaps[0].State != trace.StateRunning {
		t.Fatalf("List() = %v, want one running snapshot for pid 1", snaps)
	}
}

func TestTracerLeaderExitBeforeExecFailsStep(t *testing.T) {
	kernel := trtest.NewFakeKernel()
	tracer := trace.NewTracer(kernel, fixedLauncher(1), nil)
	if _, err := tracer.Start("/bin/true", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	kernel.Push(trace.Notification{Pid: 1, Kind: trace.StopExited, Status: 1})

	if _, err := tracer.Step(context.Background()); err == nil {
		t.Fatalf("Step = nil error, want an error for a leader that exited before exec")
	}
}

func TestTracerForkedChildReapedViaOrphanNotification(t *testing.T) {
	kernel := trtest.NewFakeKernel()
	tracer := trace.NewTracer(kernel, fixedLauncher(1), nil)
	if _, err := tracer.Start("/bin/true", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	kernel.ChildPids[1] = 2

	kernel.Push(trace.Notification{Pid: 1, Kind: trace.StopEventFork})
	kernel.Push(trace.Notification{Pid: 1, Kind: trace.StopEventExec})
	kernel.Push(trace.Notification{Pid: 2, Kind: trace.StopExited, Status: 0})
	kernel.Push(trace.Notification{Pid: 1, Kind: trace.StopExited, Status: 0})

	live, err := tracer.Step(context.Background())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !live {
		t.Fatalf("Step reported no tracees left, want the unreaped dead child still tracked")
	}

	snaps := tracer.List()
	if len(snaps) != 1 || snaps[0].Pid != 2 {
		t.Fatalf("List() after leader exit = %v, want only the dead, unreaped child pid 2", snaps)
	}

	tracer.NotifyOrphan(2)
	live, err = tracer.Step(context.Background())
	if err != nil {
		t.Fatalf("Step (drain orphans): %v", err)
	}
	if live {
		t.Fatalf("Step reported tracees remaining after the orphaned child was reaped")
	}
	if len(tracer.List()) != 0 {
		t.Fatalf("List() = %v, want empty after orphan reconciliation", tracer.List())
	}
}

func TestTracerNukeStopsStepLoopWithoutWaiting(t *testing.T) {
	kernel := trtest.NewFakeKernel()
	tracer := trace.NewTracer(kernel, fixedLauncher(1), nil)
	if _, err := tracer.Start("/bin/true", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	tracer.Nuke()

	// No notifications are queued; Step must notice the kill-flag before
	// ever calling Wait, or Wait returns trtest's "no scripted
	// notifications" error and Step fails with it.
	if _, err := tracer.Step(context.Background()); err != nil {
		t.Fatalf("Step after Nuke: %v", err)
	}
}
