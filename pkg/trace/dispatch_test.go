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
	"testing"

	"github.com/fview-go/tracecore/pkg/trace"
	"github.com/fview-go/tracecore/pkg/trace/trtest"
)

// recordingProcess records every callback it receives, for assertions.
type recordingProcess struct {
	forked  []trace.Process
	exec    [][]string
	exited  []int
	killed  []int
	signals []int
}

func (p *recordingProcess) OnFork(child trace.Process)               { p.forked = append(p.forked, child) }
func (p *recordingProcess) OnExec(argv []string, envp []string)      { p.exec = append(p.exec, argv) }
func (p *recordingProcess) OnNewLocation(uintptr, string, string)    {}
func (p *recordingProcess) OnExit(status int)                        { p.exited = append(p.exited, status) }
func (p *recordingProcess) OnKilled(signal int)                      { p.killed = append(p.killed, signal) }
func (p *recordingProcess) OnSignal(signal int)                      { p.signals = append(p.signals, signal) }

func newTestDispatcher(t *testing.T) (*trace.Dispatcher, *trace.Registry, *trtest.FakeKernel, func(*trace.Tracee)) {
	t.Helper()
	reg := trace.NewRegistry()
	kernel := trtest.NewFakeKernel()
	var reaped []int
	reap := func(tr *trace.Tracee) {
		reaped = append(reaped, tr.Pid)
		reg.Remove(tr.Pid)
	}
	d := trace.NewDispatcher(reg, kernel, func(parent trace.Process) trace.Process {
		return &recordingProcess{}
	}, reap)
	return d, reg, kernel, reap
}

func TestDispatchExitMarksDeadAndNotifies(t *testing.T) {
	d, reg, _, _ := newTestDispatcher(t)
	proc := &recordingProcess{}
	tr, err := reg.Add(42, 0, proc)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	tr.State = trace.StateStopped

	if err := d.Dispatch(trace.Notification{Pid: 42, Kind: trace.StopExited, Status: 7}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if tr.State != trace.StateDead {
		t.Fatalf("state = %v, want StateDead", tr.State)
	}
	if len(proc.exited) != 1 || proc.exited[0] != 7 {
		t.Fatalf("OnExit calls = %v, want [7]", proc.exited)
	}
}

func TestDispatchUnknownPidIsStashed(t *testing.T) {
	d, reg, _, _ := newTestDispatcher(t)
	// No Add for pid 99: the dispatcher must not error, just stash.
	if err := d.Dispatch(trace.Notification{Pid: 99, Kind: trace.StopExited}); err != nil {
		t.Fatalf("Dispatch on unknown pid returned error: %v", err)
	}
	if _, ok := reg.Find(99); ok {
		t.Fatalf("unknown pid leaked into registry")
	}
}

func TestDispatchForkEventRegistersChild(t *testing.T) {
	d, reg, kernel, _ := newTestDispatcher(t)
	parentProc := &recordingProcess{}
	parent, _ := reg.Add(1, 0, parentProc)
	parent.State = trace.StateStopped
	kernel.ChildPids[1] = 2

	if err := d.Dispatch(trace.Notification{Pid: 1, Kind: trace.StopEventFork}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	child, ok := reg.Find(2)
	if !ok {
		t.Fatalf("child pid 2 not registered")
	}
	if child.ParentPid != 1 {
		t.Fatalf("child.ParentPid = %d, want 1", child.ParentPid)
	}
	if len(parentProc.forked) != 1 {
		t.Fatalf("OnFork calls = %d, want 1", len(parentProc.forked))
	}
}

func TestDispatchSignalDeliveryStopCallsOnSignal(t *testing.T) {
	d, reg, _, _ := newTestDispatcher(t)
	proc := &recordingProcess{}
	tr, _ := reg.Add(5, 0, proc)
	tr.State = trace.StateStopped

	if err := d.Dispatch(trace.Notification{Pid: 5, Kind: trace.StopSignalDelivery, Signal: 2}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(proc.signals) != 1 || proc.signals[0] != 2 {
		t.Fatalf("OnSignal calls = %v, want [2]", proc.signals)
	}
}

// TestDispatcherWaitCallCascade drives a real Dispatcher (constructed via
// NewDispatcher, not a hand-built CallContext) through a fork, the
// parent's blocking wait4, and the child's exit: the end-to-end path
// dispatch.go's newBlockingCall/cascade wiring is meant for, matching
// spec §8's "wait blocking" boundary scenario instead of only exercising
// WaitCall in isolation.
func TestDispatcherWaitCallCascade(t *testing.T) {
	d, reg, kernel, _ := newTestDispatcher(t)
	parentProc := &recordingProcess{}
	parent, _ := reg.Add(1, 0, parentProc)
	parent.State = trace.StateStopped
	reg.AddLeader(1)
	kernel.ChildPids[1] = 2

	if err := d.Dispatch(trace.Notification{Pid: 1, Kind: trace.StopEventFork}); err != nil {
		t.Fatalf("fork event Dispatch: %v", err)
	}
	child, ok := reg.Find(2)
	if !ok {
		t.Fatalf("child pid 2 not registered after fork event")
	}
	child.State = trace.StateStopped

	// Parent enters wait4.
	if err := d.Dispatch(trace.Notification{
		Pid:     1,
		Kind:    trace.StopSyscallStop,
		Syscall: trace.SyscallInfo{Nr: trace.SyscallWait4},
	}); err != nil {
		t.Fatalf("wait4 entry-stop Dispatch: %v", err)
	}
	if parent.Blocking == nil {
		t.Fatalf("parent has no blocking call after wait4 entry-stop")
	}

	// Child dies; cascade should match the parent's pending wait and reap
	// the child, but not yet write the parent's registers (AtExit false).
	if err := d.Dispatch(trace.Notification{Pid: 2, Kind: trace.StopExited, Status: 0}); err != nil {
		t.Fatalf("child exit Dispatch: %v", err)
	}
	if _, ok := reg.Find(2); ok {
		t.Fatalf("child pid 2 still in registry after cascade match")
	}

	// Parent reaches its own wait4 exit-stop: Finalise now writes regs.
	if err := d.Dispatch(trace.Notification{
		Pid:  1,
		Kind: trace.StopSyscallStop,
	}); err != nil {
		t.Fatalf("wait4 exit-stop Dispatch: %v", err)
	}
	if parent.Blocking != nil {
		t.Fatalf("parent still has a blocking call after its exit-stop")
	}
	if got := kernel.Regs[1].Return; got != 2 {
		t.Fatalf("parent regs.Return = %d, want 2 (reaped child pid)", got)
	}
}

func TestDispatchLeaderExitBeforeExecReturnsRuntimeError(t *testing.T) {
	d, reg, _, _ := newTestDispatcher(t)
	tr, _ := reg.Add(1, 0, nil)
	tr.State = trace.StateStopped
	reg.AddLeader(1)

	err := d.Dispatch(trace.Notification{Pid: 1, Kind: trace.StopExited, Status: 1})
	if err == nil {
		t.Fatalf("Dispatch = nil error, want RuntimeError for a leader that never execed")
	}
	if _, ok := reg.FindLeader(1); ok {
		t.Fatalf("leader entry still present after its tracee died")
	}
}
