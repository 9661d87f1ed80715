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

// TraceeState is one of the three states a Tracee can be in.
type TraceeState int

const (
	// StateRunning means the kernel has the tracee scheduled and it is
	// not currently stopped for us.
	StateRunning TraceeState = iota
	// StateStopped means the tracee is parked at some ptrace-stop,
	// awaiting a decision from the dispatcher.
	StateStopped
	// StateDead means the tracee is a zombie we have not finished
	// reaping, or has just been fully reaped (about to be removed).
	StateDead
)

func (s TraceeState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateDead:
		return "dead"
	default:
		return fmt.Sprintf("TraceeState(%d)", int(s))
	}
}

// Tracee is one record per live or zombie pid in the fleet. See spec §3.
type Tracee struct {
	Pid           int
	ParentPid     int // 0 for a leader with no traced parent
	State         TraceeState
	Syscall       int64 // NoSyscall sentinel between entry/exit pairs
	SyscallArgs   [6]uintptr
	PendingSignal int
	// Continued marks the tracee as reportable to a WCONTINUED waiter;
	// a WaitCall clears it once observed. Nothing in this package sets it
	// (the dispatcher does not detect a SIGCONT resume), so WCONTINUED
	// matches only when a caller sets it directly.
	Continued bool

	// ExitStatus/ExitSignal/ExitedBySignal record how a DEAD tracee ended,
	// for wait-family callers to encode into a status word.
	ExitStatus     int
	ExitSignal     int
	ExitedBySignal bool

	// PendingArgv holds argv decoded at an execve/execveat entry-stop,
	// while the old address space can still be read, for delivery once
	// the exec event-stop confirms success.
	PendingArgv []string

	Process  Process
	Blocking BlockingCall
}

// exitStatusWord encodes this (DEAD) tracee's exit into a Linux wait(2)
// status word.
func (t *Tracee) exitStatusWord() uint32 {
	if t.ExitedBySignal {
		return uint32(t.ExitSignal & 0x7f)
	}
	return uint32(t.ExitStatus&0xff) << 8
}

// Registry is the mapping pid -> Tracee and pid -> Leader described in
// spec §3. Every method assumes the facade lock is already held by the
// caller; Registry has no internal locking of its own.
type Registry struct {
	tracees map[int]*Tracee
	leaders map[int]*Leader
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tracees: make(map[int]*Tracee),
		leaders: make(map[int]*Leader),
	}
}

// Add creates a new Tracee for pid in StateStopped (the kernel always
// stops a new tracee before its first resume) and inserts it into the
// registry. It fails if pid is already present and live.
func (r *Registry) Add(pid, parentPid int, proc Process) (*Tracee, error) {
	if existing, ok := r.tracees[pid]; ok && existing.State != StateDead {
		return nil, fmt.Errorf("trace: pid %d already present in registry", pid)
	}
	t := &Tracee{
		Pid:       pid,
		ParentPid: parentPid,
		State:     StateStopped,
		Syscall:   NoSyscall,
		Process:   proc,
	}
	r.tracees[pid] = t
	return t, nil
}

// Find returns the Tracee for pid, if any.
func (r *Registry) Find(pid int) (*Tracee, bool) {
	t, ok := r.tracees[pid]
	return t, ok
}

// Remove deletes pid from the registry. It is idempotent for tracees that
// are DEAD or absent; the registry is the single source of truth for
// liveness.
func (r *Registry) Remove(pid int) {
	delete(r.tracees, pid)
}

// Each calls fn once per tracee currently in the registry. fn must not
// mutate the registry's pid set directly (collect pids to remove and call
// Remove after iterating).
func (r *Registry) Each(fn func(*Tracee)) {
	for _, t := range r.tracees {
		fn(t)
	}
}

// Len returns the number of tracees currently tracked (live or DEAD but
// not yet reaped).
func (r *Registry) Len() int {
	return len(r.tracees)
}

// AnyRunning reports whether at least one tracked tracee is RUNNING.
func (r *Registry) AnyRunning() bool {
	for _, t := range r.tracees {
		if t.State == StateRunning {
			return true
		}
	}
	return false
}

// AllDead reports whether every tracked tracee (if any) is DEAD.
func (r *Registry) AllDead() bool {
	for _, t := range r.tracees {
		if t.State != StateDead {
			return false
		}
	}
	return true
}

// ChildrenOf returns the tracees whose ParentPid is parent, for blocking
// wait-call matching.
func (r *Registry) ChildrenOf(parent int) []*Tracee {
	var children []*Tracee
	for _, t := range r.tracees {
		if t.ParentPid == parent {
			children = append(children, t)
		}
	}
	return children
}
