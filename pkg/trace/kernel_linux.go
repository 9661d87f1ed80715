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

//go:build linux
// +build linux

package trace

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

// maxEphemeralRetries bounds retryEphemeral: a KernelEphemeral failure
// (EINTR/EAGAIN racing a concurrent stop) is expected to clear within a
// handful of attempts, never indefinitely.
const maxEphemeralRetries = 5

// attachOptions are the PTRACE_SETOPTIONS bits every tracee in the fleet is
// attached with: event-stops for the fork family and exec, and
// PTRACE_O_TRACESYSGOOD so syscall-stops are distinguishable from ordinary
// SIGTRAP signal-delivery-stops (the same distinguishing bit the teacher's
// stub threads rely on).
const attachOptions = unix.PTRACE_O_TRACECLONE |
	unix.PTRACE_O_TRACEFORK |
	unix.PTRACE_O_TRACEVFORK |
	unix.PTRACE_O_TRACEEXEC |
	unix.PTRACE_O_TRACEEXIT |
	unix.PTRACE_O_TRACESYSGOOD

const ptraceSyscallSig = unix.SIGTRAP | 0x80

// kernelAdapter is the real KernelAdapter, a thin wrapper over
// golang.org/x/sys/unix's ptrace/wait4 bindings. Every method here must run
// on the same OS thread that originally PTRACE_ATTACHed (a Linux kernel
// requirement). Neither this type nor the Tracer facade locks a goroutine
// to an OS thread; see NewKernelAdapter for the caller's side of this.
type kernelAdapter struct {
	maxRetries int

	// retryLimiter paces retryEphemeral globally across every blocking
	// call this adapter drives, so a pathological run of EINTR/EAGAIN
	// across many tracees can't turn into a hot retry storm regardless of
	// how short backoff's own per-call interval has decayed to.
	retryLimiter *rate.Limiter
}

// NewKernelAdapter returns the production KernelAdapter. maxRetries bounds
// retryEphemeral's backoff loop for KernelEphemeral failures; a value <= 0
// falls back to maxEphemeralRetries (config.Config.KernelRetryAttempts
// feeds this from the CLI/TOML side). Callers must only invoke its methods
// from an OS-thread-locked goroutine (runtime.LockOSThread).
func NewKernelAdapter(maxRetries int) KernelAdapter {
	if maxRetries <= 0 {
		maxRetries = maxEphemeralRetries
	}
	return &kernelAdapter{
		maxRetries:   maxRetries,
		retryLimiter: rate.NewLimiter(rate.Limit(200), 1),
	}
}

// retryEphemeral retries fn with bounded exponential backoff while it
// reports a KernelEphemeral failure (e.g. EINTR racing a concurrent
// group-stop), returning immediately on success or on any non-ephemeral
// failure.
func (k *kernelAdapter) retryEphemeral(fn func() *KernelError) *KernelError {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 1 * time.Millisecond
	policy.MaxInterval = 20 * time.Millisecond

	for attempt := 0; ; attempt++ {
		kerr := fn()
		if kerr == nil || kerr.Kind != KernelEphemeral {
			return kerr
		}
		if attempt >= k.maxRetries-1 {
			return kerr
		}
		if err := k.retryLimiter.Wait(context.Background()); err != nil {
			return kerr
		}
		time.Sleep(policy.NextBackOff())
	}
}

func classifyErrno(op string, pid int, err error) *KernelError {
	if err == nil {
		return nil
	}
	switch err {
	case unix.ESRCH:
		return &KernelError{Kind: KernelTraceeDied, Pid: pid, Op: op, Err: err}
	case unix.EINTR, unix.EAGAIN:
		return &KernelError{Kind: KernelEphemeral, Pid: pid, Op: op, Err: err}
	default:
		return &KernelError{Kind: KernelFatal, Pid: pid, Op: op, Err: err}
	}
}

// Wait implements KernelAdapter. wait4 is a genuine blocking kernel call;
// ctx is only checked before issuing it; cancelling a Wait already in
// flight relies on a tracee changing state (signalling, dying) to wake it,
// same as any real tracer.
func (k *kernelAdapter) Wait(ctx context.Context) (Notification, *KernelError) {
	if err := ctx.Err(); err != nil {
		return Notification{}, &KernelError{Kind: KernelFatal, Op: "wait", Err: err}
	}

	var status unix.WaitStatus
	var rusage unix.Rusage
	pid, err := unix.Wait4(-1, &status, unix.WALL, &rusage)
	if err != nil {
		return Notification{}, classifyErrno("wait4", pid, err)
	}

	n := Notification{Pid: pid}
	switch {
	case status.Exited():
		n.Kind = StopExited
		n.Status = status.ExitStatus()
	case status.Signaled():
		n.Kind = StopSignaled
		n.Signal = int(status.Signal())
	case status.Stopped():
		sig := status.StopSignal()
		switch {
		case sig == unix.SIGTRAP:
			switch status.TrapCause() {
			case unix.PTRACE_EVENT_FORK, unix.PTRACE_EVENT_VFORK, unix.PTRACE_EVENT_CLONE:
				n.Kind = StopEventFork
			case unix.PTRACE_EVENT_EXEC:
				n.Kind = StopEventExec
			default:
				n.Kind = StopSignalDelivery
				n.Signal = int(unix.SIGTRAP)
			}
		case sig == ptraceSyscallSig:
			n.Kind = StopSyscallStop
			if regs, kerr := k.ReadRegs(pid); kerr == nil {
				n.Syscall = SyscallInfo{Nr: regs.SyscallNr, Args: regs.Args}
			}
		case sig == unix.SIGSTOP || sig == unix.SIGTSTP || sig == unix.SIGTTIN || sig == unix.SIGTTOU:
			n.Kind = StopGroupStop
			n.Signal = int(sig)
		default:
			n.Kind = StopSignalDelivery
			n.Signal = int(sig)
		}
	default:
		n.Kind = StopUnknown
	}
	return n, nil
}

// AttachOptions implements KernelAdapter.
func (k *kernelAdapter) AttachOptions(pid int) *KernelError {
	return k.retryEphemeral(func() *KernelError {
		return classifyErrno("ptrace_setoptions", pid, unix.PtraceSetOptions(pid, attachOptions))
	})
}

// ResumeContinue implements KernelAdapter.
func (k *kernelAdapter) ResumeContinue(pid int, sig int) *KernelError {
	return k.retryEphemeral(func() *KernelError {
		return classifyErrno("ptrace_cont", pid, unix.PtraceCont(pid, sig))
	})
}

// ResumeToNextSyscall implements KernelAdapter.
func (k *kernelAdapter) ResumeToNextSyscall(pid int, sig int) *KernelError {
	return k.retryEphemeral(func() *KernelError {
		return classifyErrno("ptrace_syscall", pid, unix.PtraceSyscall(pid, sig))
	})
}

// ReadRegs implements KernelAdapter.
func (k *kernelAdapter) ReadRegs(pid int) (Regs, *KernelError) {
	var raw unix.PtraceRegs
	kerr := k.retryEphemeral(func() *KernelError {
		return classifyErrno("ptrace_getregs", pid, unix.PtraceGetRegs(pid, &raw))
	})
	if kerr != nil {
		return Regs{}, kerr
	}
	return regsToPortable(&raw), nil
}

// WriteRegs implements KernelAdapter.
func (k *kernelAdapter) WriteRegs(pid int, regs Regs) *KernelError {
	var raw unix.PtraceRegs
	if kerr := classifyErrno("ptrace_getregs", pid, unix.PtraceGetRegs(pid, &raw)); kerr != nil {
		return kerr
	}
	portableToRegs(regs, &raw)
	return k.retryEphemeral(func() *KernelError {
		return classifyErrno("ptrace_setregs", pid, unix.PtraceSetRegs(pid, &raw))
	})
}

// ReadCString implements KernelAdapter.
func (k *kernelAdapter) ReadCString(pid int, addr uintptr, max int) (string, *KernelError) {
	var sb strings.Builder
	buf := make([]byte, 8)
	for off := uintptr(0); int(off) < max; off += uintptr(len(buf)) {
		n, err := unix.PtracePeekData(pid, addr+off, buf)
		if err != nil {
			return "", classifyErrno("ptrace_peekdata", pid, err)
		}
		for i := 0; i < n; i++ {
			if buf[i] == 0 {
				return sb.String(), nil
			}
			sb.WriteByte(buf[i])
		}
	}
	return sb.String(), nil
}

// ReadStringArray implements KernelAdapter.
func (k *kernelAdapter) ReadStringArray(pid int, addr uintptr) ([]string, *KernelError) {
	var result []string
	ptrSize := uintptr(8)
	word := make([]byte, ptrSize)
	for i := uintptr(0); ; i++ {
		if _, err := unix.PtracePeekData(pid, addr+i*ptrSize, word); err != nil {
			return nil, classifyErrno("ptrace_peekdata", pid, err)
		}
		elemAddr := uintptr(le64(word))
		if elemAddr == 0 {
			break
		}
		s, kerr := k.ReadCString(pid, elemAddr, 4096)
		if kerr != nil {
			return nil, kerr
		}
		result = append(result, s)
	}
	return result, nil
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// WriteUint32 implements KernelAdapter.
func (k *kernelAdapter) WriteUint32(pid int, addr uintptr, val uint32) *KernelError {
	buf := []byte{byte(val), byte(val >> 8), byte(val >> 16), byte(val >> 24)}
	_, err := unix.PtracePokeData(pid, addr, buf)
	return classifyErrno("ptrace_pokedata", pid, err)
}

// NewChildPID implements KernelAdapter.
func (k *kernelAdapter) NewChildPID(pid int) (int, *KernelError) {
	msg, err := unix.PtraceGetEventMsg(pid)
	if err != nil {
		return 0, classifyErrno("ptrace_geteventmsg", pid, err)
	}
	return int(msg), nil
}

// ExecutablePath implements KernelAdapter.
func (k *kernelAdapter) ExecutablePath(pid int) (string, *KernelError) {
	link := fmt.Sprintf("/proc/%d/exe", pid)
	buf := make([]byte, 4096)
	n, err := unix.Readlink(link, buf)
	if err != nil {
		return "", classifyErrno("readlink", pid, err)
	}
	return string(buf[:n]), nil
}

// Detach implements KernelAdapter.
func (k *kernelAdapter) Detach(pid int) *KernelError {
	return classifyErrno("ptrace_detach", pid, unix.PtraceDetach(pid))
}

// Kill implements KernelAdapter.
func (k *kernelAdapter) Kill(pid int) *KernelError {
	return classifyErrno("kill", pid, unix.Kill(pid, unix.SIGKILL))
}
