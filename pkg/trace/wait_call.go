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

import "sort"

// Wait-family flag bits, mirroring the subset of unix.WNOHANG / WUNTRACED
// / WCONTINUED this package honours. Kept as our own small constants so
// kernel.go/dispatch.go don't need to import golang.org/x/sys/unix outside
// the kernel adapter.
const (
	WaitNoHang    = 1 << 0
	WaitUntraced  = 1 << 1
	WaitContinued = 1 << 2
)

// WaitCall is the wait-family BlockingCall variant required by spec §4.3:
// it matches any child of the caller that is DEAD or in a requested
// signal-stop, honouring WNOHANG/WUNTRACED/WCONTINUED, tie-breaking by
// ascending pid.
type WaitCall struct {
	syscallNr  int64
	callerPid  int
	flags      int
	statusAddr uintptr // 0 if the caller passed a NULL status pointer

	matched      bool
	resultPid    int
	resultStatus uint32
}

// NewWaitCall constructs a WaitCall for the tracee at callerPid, about to
// enter the given syscall with the given wait flags and status pointer
// (may be 0).
func NewWaitCall(syscallNr int64, callerPid, flags int, statusAddr uintptr) *WaitCall {
	return &WaitCall{
		syscallNr:  syscallNr,
		callerPid:  callerPid,
		flags:      flags,
		statusAddr: statusAddr,
	}
}

// Syscall implements BlockingCall.
func (w *WaitCall) Syscall() int64 { return w.syscallNr }

// Prepare implements BlockingCall. The wait-family call needs no argument
// rewriting: its flags were already snapshotted at construction, and the
// real underlying syscall is allowed to run its course at the kernel
// level (it will actually unblock once this tracer reaps the relevant
// child via Finalise's cascade path).
func (w *WaitCall) Prepare(ctx *CallContext, t *Tracee) bool {
	return true
}

// Finalise implements BlockingCall.
func (w *WaitCall) Finalise(ctx *CallContext, t *Tracee) bool {
	if !w.matched {
		w.tryMatch(ctx)
	}
	if !w.matched {
		// Still pending: either nothing to observe yet, or the original
		// call wants to block for real. Nothing to write; the caller
		// stays blocked in its own in-kernel wait until a sibling dies
		// and re-drives this Finalise.
		return true
	}
	if !ctx.AtExit {
		// Matched, but the owning tracee hasn't reached its own
		// syscall-exit-stop yet; defer the register write.
		return true
	}
	regs, kerr := ctx.Kernel.ReadRegs(t.Pid)
	if kerr != nil {
		return kerr.Kind != KernelTraceeDied
	}
	regs.Return = int64(w.resultPid)
	if kerr := ctx.Kernel.WriteRegs(t.Pid, regs); kerr != nil {
		return kerr.Kind != KernelTraceeDied
	}
	if w.resultPid > 0 && w.statusAddr != 0 {
		if kerr := ctx.Kernel.WriteUint32(t.Pid, w.statusAddr, w.resultStatus); kerr != nil {
			return kerr.Kind != KernelTraceeDied
		}
	}
	return true
}

// tryMatch looks for a child of the caller that satisfies the requested
// flags, preferring the lowest pid among equally-eligible candidates.
func (w *WaitCall) tryMatch(ctx *CallContext) {
	children := ctx.Registry.ChildrenOf(w.callerPid)
	sort.Slice(children, func(i, j int) bool { return children[i].Pid < children[j].Pid })

	for _, c := range children {
		switch {
		case c.State == StateDead:
			w.matched = true
			w.resultPid = c.Pid
			w.resultStatus = c.exitStatusWord()
			ctx.Reap(c)
			return
		case w.flags&WaitUntraced != 0 && c.State == StateStopped && c.PendingSignal != 0:
			w.matched = true
			w.resultPid = c.Pid
			w.resultStatus = stoppedStatusWord(c.PendingSignal)
			return
		case w.flags&WaitContinued != 0 && c.Continued:
			w.matched = true
			w.resultPid = c.Pid
			w.resultStatus = continuedStatusWord()
			c.Continued = false
			return
		}
	}

	if w.flags&WaitNoHang != 0 {
		// No eligible child right now, and the caller didn't want to
		// block: complete with 0, per spec §4.3 "on none, complete with
		// 0 ... as the original flags dictate".
		w.matched = true
		w.resultPid = 0
		w.resultStatus = 0
	}
}
