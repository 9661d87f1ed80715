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
	"context"
	"testing"
)

// fakeRegsKernel is a minimal in-package KernelAdapter stub for exercising
// WaitCall's register/memory writes without pulling in trtest (which
// imports this package, and so can't be imported back from an internal
// _test.go file without a cycle).
type fakeRegsKernel struct {
	regs   map[int]Regs
	status map[int]uint32
}

func newFakeRegsKernel() *fakeRegsKernel {
	return &fakeRegsKernel{regs: map[int]Regs{}, status: map[int]uint32{}}
}

func (k *fakeRegsKernel) Wait(context.Context) (Notification, *KernelError)    { return Notification{}, nil }
func (k *fakeRegsKernel) AttachOptions(int) *KernelError                       { return nil }
func (k *fakeRegsKernel) ResumeContinue(int, int) *KernelError                 { return nil }
func (k *fakeRegsKernel) ResumeToNextSyscall(int, int) *KernelError            { return nil }
func (k *fakeRegsKernel) ReadRegs(pid int) (Regs, *KernelError)                { return k.regs[pid], nil }
func (k *fakeRegsKernel) WriteRegs(pid int, r Regs) *KernelError               { k.regs[pid] = r; return nil }
func (k *fakeRegsKernel) ReadCString(int, uintptr, int) (string, *KernelError) { return "", nil }
func (k *fakeRegsKernel) ReadStringArray(int, uintptr) ([]string, *KernelError) {
	return nil, nil
}
func (k *fakeRegsKernel) WriteUint32(pid int, addr uintptr, val uint32) *KernelError {
	k.status[pid] = val
	return nil
}
func (k *fakeRegsKernel) NewChildPID(int) (int, *KernelError)        { return 0, nil }
func (k *fakeRegsKernel) ExecutablePath(int) (string, *KernelError)  { return "", nil }
func (k *fakeRegsKernel) Detach(int) *KernelError                    { return nil }
func (k *fakeRegsKernel) Kill(int) *KernelError                      { return nil }

func newCallContext(reg *Registry, kernel KernelAdapter, atExit bool) *CallContext {
	return &CallContext{
		Registry: reg,
		Kernel:   kernel,
		AtExit:   atExit,
		Reap: func(tr *Tracee) {
			reg.Remove(tr.Pid)
		},
	}
}

func TestWaitCallMatchesDeadChild(t *testing.T) {
	reg := NewRegistry()
	caller, _ := reg.Add(1, 0, nil)
	child, _ := reg.Add(2, 1, nil)
	child.State = StateDead
	child.ExitStatus = 3

	kernel := newFakeRegsKernel()
	w := NewWaitCall(SyscallWait4, caller.Pid, 0, 0x1000)

	ctx := newCallContext(reg, kernel, false)
	if ok := w.Finalise(ctx, caller); !ok {
		t.Fatalf("Finalise (speculative) = false")
	}
	if !w.matched || w.resultPid != child.Pid {
		t.Fatalf("tryMatch didn't record the dead child: matched=%v resultPid=%d", w.matched, w.resultPid)
	}
	if _, ok := reg.Find(child.Pid); ok {
		t.Fatalf("dead child still in registry after match")
	}

	ctx = newCallContext(reg, kernel, true)
	if ok := w.Finalise(ctx, caller); !ok {
		t.Fatalf("Finalise (at exit) = false")
	}
	got, _ := kernel.ReadRegs(caller.Pid)
	if got.Return != int64(child.Pid) {
		t.Fatalf("caller regs.Return = %d, want %d", got.Return, child.Pid)
	}
}

func TestWaitCallNoHangCompletesWithZero(t *testing.T) {
	reg := NewRegistry()
	caller, _ := reg.Add(1, 0, nil)
	reg.Add(2, 1, nil) // live child, nothing to report

	kernel := newFakeRegsKernel()
	w := NewWaitCall(SyscallWait4, caller.Pid, WaitNoHang, 0)

	ctx := newCallContext(reg, kernel, true)
	if ok := w.Finalise(ctx, caller); !ok {
		t.Fatalf("Finalise = false")
	}
	if !w.matched || w.resultPid != 0 {
		t.Fatalf("WNOHANG with nothing ready: matched=%v resultPid=%d, want matched=true resultPid=0", w.matched, w.resultPid)
	}
}

func TestWaitCallBlocksWithoutNoHang(t *testing.T) {
	reg := NewRegistry()
	caller, _ := reg.Add(1, 0, nil)
	reg.Add(2, 1, nil) // live child, nothing to report, no WNOHANG

	kernel := newFakeRegsKernel()
	w := NewWaitCall(SyscallWait4, caller.Pid, 0, 0)

	ctx := newCallContext(reg, kernel, true)
	if ok := w.Finalise(ctx, caller); !ok {
		t.Fatalf("Finalise = false")
	}
	if w.matched {
		t.Fatalf("matched = true, want call left pending without WNOHANG")
	}
}

func TestWaitCallTieBreaksByAscendingPid(t *testing.T) {
	reg := NewRegistry()
	caller, _ := reg.Add(1, 0, nil)
	high, _ := reg.Add(5, 1, nil)
	high.State = StateDead
	low, _ := reg.Add(2, 1, nil)
	low.State = StateDead

	kernel := newFakeRegsKernel()
	w := NewWaitCall(SyscallWait4, caller.Pid, 0, 0)
	ctx := newCallContext(reg, kernel, true)
	w.Finalise(ctx, caller)

	if w.resultPid != low.Pid {
		t.Fatalf("resultPid = %d, want lowest pid %d", w.resultPid, low.Pid)
	}
}
