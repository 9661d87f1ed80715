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

// Package trtest provides a scripted, in-memory KernelAdapter for
// exercising pkg/trace's dispatcher and facade without a real kernel,
// the same role a hand-rolled fake plays in any test of an event-driven
// core whose real backend is integration-only.
package trtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/fview-go/tracecore/pkg/trace"
)

// FakeKernel is a scripted KernelAdapter: Wait replays a queue of
// notifications pushed with Push/PushAll; every other method records its
// call and returns canned data set up via the Regs/Strings/ChildPids maps,
// or succeeds as a no-op if nothing was configured.
type FakeKernel struct {
	mu sync.Mutex

	notifications []trace.Notification
	waitErr       []*trace.KernelError // parallel to notifications; nil means no error

	Regs      map[int]trace.Regs
	CStrings  map[cstringKey]string
	Arrays    map[arrayKey][]string
	ChildPids map[int]int
	ExecPaths map[int]string

	Calls []string // op names, for assertions on call order/count
}

type cstringKey struct {
	pid  int
	addr uintptr
}

type arrayKey struct {
	pid  int
	addr uintptr
}

// NewFakeKernel returns an empty FakeKernel.
func NewFakeKernel() *FakeKernel {
	return &FakeKernel{
		Regs:      make(map[int]trace.Regs),
		CStrings:  make(map[cstringKey]string),
		Arrays:    make(map[arrayKey][]string),
		ChildPids: make(map[int]int),
		ExecPaths: make(map[int]string),
	}
}

// Push enqueues one notification Wait will return, in order.
func (k *FakeKernel) Push(n trace.Notification) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.notifications = append(k.notifications, n)
	k.waitErr = append(k.waitErr, nil)
}

// PushErr enqueues a Wait failure instead of a notification.
func (k *FakeKernel) PushErr(kerr *trace.KernelError) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.notifications = append(k.notifications, trace.Notification{})
	k.waitErr = append(k.waitErr, kerr)
}

// SetRegs configures the register file ReadRegs/WriteRegs will report for
// pid until overwritten.
func (k *FakeKernel) SetRegs(pid int, regs trace.Regs) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.Regs[pid] = regs
}

// SetCString configures ReadCString's result for (pid, addr).
func (k *FakeKernel) SetCString(pid int, addr uintptr, s string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.CStrings[cstringKey{pid, addr}] = s
}

// SetStringArray configures ReadStringArray's result for (pid, addr).
func (k *FakeKernel) SetStringArray(pid int, addr uintptr, ss []string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.Arrays[arrayKey{pid, addr}] = ss
}

func (k *FakeKernel) record(op string) {
	k.Calls = append(k.Calls, op)
}

// Wait implements trace.KernelAdapter.
func (k *FakeKernel) Wait(ctx context.Context) (trace.Notification, *trace.KernelError) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.record("wait")
	if len(k.notifications) == 0 {
		return trace.Notification{}, &trace.KernelError{Kind: trace.KernelFatal, Err: fmt.Errorf("trtest: no scripted notifications remain")}
	}
	n := k.notifications[0]
	err := k.waitErr[0]
	k.notifications = k.notifications[1:]
	k.waitErr = k.waitErr[1:]
	return n, err
}

// AttachOptions implements trace.KernelAdapter.
func (k *FakeKernel) AttachOptions(pid int) *trace.KernelError {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.record("attach_options")
	return nil
}

// ResumeContinue implements trace.KernelAdapter.
func (k *FakeKernel) ResumeContinue(pid int, sig int) *trace.KernelError {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.record("resume_continue")
	return nil
}

// ResumeToNextSyscall implements trace.KernelAdapter.
func (k *FakeKernel) ResumeToNextSyscall(pid int, sig int) *trace.KernelError {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.record("resume_syscall")
	return nil
}

// ReadRegs implements trace.KernelAdapter.
func (k *FakeKernel) ReadRegs(pid int) (trace.Regs, *trace.KernelError) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.record("read_regs")
	return k.Regs[pid], nil
}

// WriteRegs implements trace.KernelAdapter.
func (k *FakeKernel) WriteRegs(pid int, regs trace.Regs) *trace.KernelError {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.record("write_regs")
	k.Regs[pid] = regs
	return nil
}

// ReadCString implements trace.KernelAdapter.
func (k *FakeKernel) ReadCString(pid int, addr uintptr, max int) (string, *trace.KernelError) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.record("read_cstring")
	return k.CStrings[cstringKey{pid, addr}], nil
}

// ReadStringArray implements trace.KernelAdapter.
func (k *FakeKernel) ReadStringArray(pid int, addr uintptr) ([]string, *trace.KernelError) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.record("read_string_array")
	return k.Arrays[arrayKey{pid, addr}], nil
}

// WriteUint32 implements trace.KernelAdapter.
func (k *FakeKernel) WriteUint32(pid int, addr uintptr, val uint32) *trace.KernelError {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.record("write_uint32")
	return nil
}

// NewChildPID implements trace.KernelAdapter.
func (k *FakeKernel) NewChildPID(pid int) (int, *trace.KernelError) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.record("new_child_pid")
	child, ok := k.ChildPids[pid]
	if !ok {
		return 0, &trace.KernelError{Kind: trace.KernelFatal, Pid: pid, Err: fmt.Errorf("trtest: no child pid configured for %d", pid)}
	}
	return child, nil
}

// ExecutablePath implements trace.KernelAdapter.
func (k *FakeKernel) ExecutablePath(pid int) (string, *trace.KernelError) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.record("executable_path")
	return k.ExecPaths[pid], nil
}

// Detach implements trace.KernelAdapter.
func (k *FakeKernel) Detach(pid int) *trace.KernelError {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.record("detach")
	return nil
}

// Kill implements trace.KernelAdapter.
func (k *FakeKernel) Kill(pid int) *trace.KernelError {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.record("kill")
	return nil
}

var _ trace.KernelAdapter = (*FakeKernel)(nil)
