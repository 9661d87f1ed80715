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

import "fmt"

// Linux wait(2) option bits this package honours. Kept as local constants,
// rather than importing golang.org/x/sys/unix here, so dispatch.go (unlike
// the kernel adapter) stays free of raw-syscall concerns.
const (
	linuxWNOHANG    = 0x00000001
	linuxWUNTRACED  = 0x00000002
	linuxWCONTINUED = 0x00000008
)

// ProcessFactory allocates a new external Process node for a freshly
// forked child, given its parent's node. Supplied by whoever constructs
// the Tracer; the tree itself is out of scope for this package (spec §1).
type ProcessFactory func(parent Process) Process

// Dispatcher is C4: the event dispatcher. It classifies each kernel
// notification and drives the registry, blocking-call machinery, and the
// external Process callbacks accordingly. It holds no lock of its own;
// the facade (C6) guarantees Dispatch is only ever called with the
// registry lock held.
type Dispatcher struct {
	reg        *Registry
	kernel     KernelAdapter
	newProcess ProcessFactory
	log        *logger

	// pending holds notifications for pids not yet in the registry: a
	// newly-forked child whose parent's fork event hasn't been processed
	// yet (spec §4.4 step 1).
	pending map[int]Notification

	// reap fully removes a DEAD tracee from the registry (and records it
	// in the recycled-pid log). Supplied by the facade so this package's
	// components stay decoupled (spec §9 cascade wording).
	reap func(*Tracee)
}

// NewDispatcher constructs a Dispatcher sharing reg/kernel with its owner.
func NewDispatcher(reg *Registry, kernel KernelAdapter, newProcess ProcessFactory, reap func(*Tracee)) *Dispatcher {
	return &Dispatcher{
		reg:        reg,
		kernel:     kernel,
		newProcess: newProcess,
		pending:    make(map[int]Notification),
		reap:       reap,
		log:        defaultLogger(),
	}
}

// Dispatch classifies and handles one notification. Precondition: the
// facade lock is held.
func (d *Dispatcher) Dispatch(n Notification) error {
	t, ok := d.reg.Find(n.Pid)
	if !ok {
		// Unknown pid: a newly-forked child whose parent's fork event
		// hasn't arrived yet. Stash it; the kernel guarantees the
		// parent's fork event will arrive, and handleForkEvent re-
		// delivers this once the child's record exists.
		d.log.withPid(n.Pid).Debugf("stashing notification for unknown pid")
		d.pending[n.Pid] = n
		return nil
	}

	switch n.Kind {
	case StopExited:
		return d.handleExit(t, n.Status, false, 0)
	case StopSignaled:
		return d.handleExit(t, 0, true, n.Signal)
	case StopGroupStop, StopSignalDelivery:
		t.PendingSignal = n.Signal
		t.State = StateStopped
		if n.Kind == StopSignalDelivery && t.Process != nil {
			t.Process.OnSignal(n.Signal)
		}
		return d.resume(t)
	case StopSyscallStop:
		return d.handleSyscallStop(t, n)
	case StopEventFork:
		return d.handleForkEvent(t)
	case StopEventExec:
		return d.handleExecEvent(t)
	case StopNewLocation:
		if t.Process != nil {
			t.Process.OnNewLocation(uintptr(n.Status), "", "")
		}
		return d.resume(t)
	default:
		d.reg.Remove(t.Pid)
		return &BadTraceError{Pid: n.Pid, Msg: "unclassifiable event"}
	}
}

// handleExit implements spec §4.4 step 2's "Exit / killed-by-signal"
// branch: mark DEAD, deliver the terminal callback, and cascade to any
// parent blocking-wait. Leaders have no in-fleet waiter, so they're
// reaped immediately here instead of waiting on a WaitCall match.
func (d *Dispatcher) handleExit(t *Tracee, status int, bySignal bool, signal int) error {
	t.State = StateDead
	t.Blocking = nil
	if bySignal {
		t.ExitedBySignal = true
		t.ExitSignal = signal
		if t.Process != nil {
			t.Process.OnKilled(signal)
		}
	} else {
		t.ExitStatus = status
		if t.Process != nil {
			t.Process.OnExit(status)
		}
	}

	leader, isLeader := d.reg.FindLeader(t.Pid)
	d.cascade(t)

	if isLeader {
		wasExeced := leader.Execed
		d.reg.RemoveLeader(t.Pid)
		d.reap(t) // reap() is idempotent; a cascade match may already have done this
		if !wasExeced {
			return &RuntimeError{Msg: fmt.Sprintf("leader %d exited before its initial exec completed", t.Pid)}
		}
	}
	return nil
}

// cascade re-drives the parent's in-flight blocking call, if any, now that
// t has a definitive terminal state. This is the "cascade to any blocking
// call of a parent waiting on it" step named in spec §4.4 and §4.5.
func (d *Dispatcher) cascade(t *Tracee) {
	parent, ok := d.reg.Find(t.ParentPid)
	if !ok || parent.Blocking == nil {
		return
	}
	ctx := &CallContext{Registry: d.reg, Kernel: d.kernel, AtExit: false, Reap: d.reap}
	if ok := parent.Blocking.Finalise(ctx, parent); !ok {
		d.handleExit(parent, 0, false, 0)
	}
}

// handleSyscallStop implements spec §4.4 step 2's syscall-entry/exit
// branches. Which one applies is decided by the invariant that Syscall is
// the sentinel NoSyscall exactly between an exit-stop and the next
// entry-stop.
func (d *Dispatcher) handleSyscallStop(t *Tracee, n Notification) error {
	if t.Blocking != nil {
		// This is the exit-stop of the syscall a blocking call owns.
		ctx := &CallContext{Registry: d.reg, Kernel: d.kernel, AtExit: true, Reap: d.reap}
		ok := t.Blocking.Finalise(ctx, t)
		t.Blocking = nil
		t.Syscall = NoSyscall
		if !ok {
			return d.handleExit(t, 0, false, 0)
		}
		return d.resume(t)
	}

	if t.Syscall == NoSyscall {
		// Entry-stop.
		t.Syscall = n.Syscall.Nr
		t.SyscallArgs = n.Syscall.Args

		if isExecSyscall(t.Syscall) {
			// Decode argv now, while the pre-exec address space is
			// still mapped; the exec event-stop arrives after the
			// image switch, when it's too late to read it.
			// execve(path, argv, envp) vs execveat(dirfd, path, argv, ...).
			argvAddr := t.SyscallArgs[1]
			if t.Syscall == SyscallExecveat {
				argvAddr = t.SyscallArgs[2]
			}
			if argv, kerr := d.kernel.ReadStringArray(t.Pid, argvAddr); kerr == nil {
				t.PendingArgv = argv
			}
			return d.resume(t)
		}

		if isBlockingSyscall(t.Syscall) {
			bc := d.newBlockingCall(t)
			ctx := &CallContext{Registry: d.reg, Kernel: d.kernel, AtExit: false, Reap: d.reap}
			if ok := bc.Prepare(ctx, t); !ok {
				return d.handleExit(t, 0, false, 0)
			}
			t.Blocking = bc
			return d.resume(t)
		}

		// Uninstrumented or fork-family syscall: nothing to do at
		// entry. Fork/clone are authoritatively handled at their
		// event-stop (which arrives before this syscall's exit-stop,
		// per spec §4.4's ordering guarantee); here we only need to
		// notice a *failed* fork at exit, below.
		return d.resume(t)
	}

	// Exit-stop for a previously entered, non-blocking syscall.
	if isForkSyscall(t.Syscall) {
		if regs, kerr := d.kernel.ReadRegs(t.Pid); kerr == nil && regs.Return < 0 {
			d.handleFailedFork(t)
		} else if kerr != nil && kerr.Kind == KernelTraceeDied {
			t.Syscall = NoSyscall
			return d.handleExit(t, 0, false, 0)
		}
	}
	t.Syscall = NoSyscall
	return d.resume(t)
}

// handleFailedFork implements the "Failed fork" edge case (spec §4.4).
// This dispatcher only ever creates a child's registry record once the
// fork/clone *event*-stop is observed (never speculatively at entry), so
// there is nothing to discard here; a negative return simply means no
// event-stop will ever arrive for this attempt.
func (d *Dispatcher) handleFailedFork(t *Tracee) {
	d.log.withPid(t.Pid).Debugf("fork/clone failed")
}

// handleForkEvent implements spec §4.4's "Fork/clone event-stop" branch:
// allocate a Process node for the new child, register it (StateStopped,
// per the kernel's own precondition that a new tracee starts stopped),
// and re-deliver any notification that raced ahead of this event.
func (d *Dispatcher) handleForkEvent(t *Tracee) error {
	childPid, kerr := d.kernel.NewChildPID(t.Pid)
	if kerr != nil {
		if kerr.Kind == KernelTraceeDied {
			return d.handleExit(t, 0, false, 0)
		}
		return &BadTraceError{Pid: t.Pid, Msg: fmt.Sprintf("reading new child pid: %v", kerr)}
	}

	var childProcess Process
	if d.newProcess != nil {
		childProcess = d.newProcess(t.Process)
	}
	if _, err := d.reg.Add(childPid, t.Pid, childProcess); err != nil {
		return &BadTraceError{Pid: childPid, Msg: err.Error()}
	}
	if t.Process != nil {
		t.Process.OnFork(childProcess)
	}
	if kerr := d.kernel.AttachOptions(childPid); kerr != nil && kerr.Kind != KernelTraceeDied {
		return &BadTraceError{Pid: childPid, Msg: fmt.Sprintf("attaching to new child: %v", kerr)}
	}

	if pending, ok := d.pending[childPid]; ok {
		delete(d.pending, childPid)
		if err := d.Dispatch(pending); err != nil {
			return err
		}
	}
	return d.resume(t)
}

// handleExecEvent implements spec §4.4's "Exec event-stop" branch.
func (d *Dispatcher) handleExecEvent(t *Tracee) error {
	if leader, ok := d.reg.FindLeader(t.Pid); ok {
		leader.Execed = true
	}
	if t.Process != nil {
		t.Process.OnExec(t.PendingArgv, nil)
		if path, kerr := d.kernel.ExecutablePath(t.Pid); kerr == nil {
			if regs, kerr := d.kernel.ReadRegs(t.Pid); kerr == nil {
				t.Process.OnNewLocation(uintptr(regs.Return), path, "")
			}
		}
	}
	t.PendingArgv = nil
	return d.resume(t)
}

// newBlockingCall instantiates the BlockingCall variant matching t's
// current syscall. wait4 and waitid both decode to the single WaitCall
// variant (spec §4.3 names wait-family as the one required variant).
func (d *Dispatcher) newBlockingCall(t *Tracee) BlockingCall {
	flags := 0
	var statusAddr uintptr
	switch t.Syscall {
	case SyscallWait4:
		statusAddr = t.SyscallArgs[1]
		flags = decodeWaitFlags(int(t.SyscallArgs[2]))
	case SyscallWaitid:
		flags = decodeWaitFlags(int(t.SyscallArgs[3]))
	}
	return NewWaitCall(t.Syscall, t.Pid, flags, statusAddr)
}

func decodeWaitFlags(raw int) int {
	flags := 0
	if raw&linuxWNOHANG != 0 {
		flags |= WaitNoHang
	}
	if raw&linuxWUNTRACED != 0 {
		flags |= WaitUntraced
	}
	if raw&linuxWCONTINUED != 0 {
		flags |= WaitContinued
	}
	return flags
}

// resume implements spec §4.4 step 3: resume the tracee via the kernel
// adapter, injecting and clearing its pending signal.
func (d *Dispatcher) resume(t *Tracee) error {
	if t.State == StateDead {
		return nil
	}
	sig := t.PendingSignal
	t.PendingSignal = 0
	if kerr := d.kernel.ResumeToNextSyscall(t.Pid, sig); kerr != nil {
		if kerr.Kind == KernelTraceeDied {
			return d.handleExit(t, 0, false, 0)
		}
		return &SystemError{Op: "resume", Err: kerr}
	}
	t.State = StateRunning
	return nil
}
