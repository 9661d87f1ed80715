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
	"errors"
	"fmt"
	"sync"
	"time"
)

// recycledLogMaxAge bounds the recycled-PID log: entries older than this
// are compacted away after each notification Step dispatches (spec §4.5's
// "longest possible in-flight orphan notification").
const recycledLogMaxAge = 30 * time.Second

// Launcher starts a new leader process with the trace-me flag set and
// returns its pid once it has stopped at its own initial SIGTRAP, ready to
// be attached. Supplied by the caller of Start; the fork/exec/trace-me
// dance itself is out of scope for this package (spec §1).
type Launcher func(path string, argv []string) (pid int, err error)

// Tracer is C6: the public, thread-safe facade. All state the dispatcher
// and blocking-call machinery touch lives behind it.
type Tracer struct {
	mu         sync.Mutex // facade lock: registry, leaders, recycled log
	reg        *Registry
	recycled   *RecycledLog
	dispatcher *Dispatcher
	kernel     KernelAdapter
	launcher   Launcher
	newProcess ProcessFactory
	log        *logger

	// orphanMu/queue/killed form the lighter, signal-safe half of the
	// locking discipline (spec §4.6, §5): notify_orphan and nuke never
	// take mu.
	orphanMu sync.Mutex
	queue    *OrphanQueue
	killed   bool

	cancel context.CancelFunc

	// recycledMaxAge is the recycled-PID log's compaction window,
	// defaulting to recycledLogMaxAge; overridable via
	// SetOrphanLogRetention.
	recycledMaxAge time.Duration
}

// NewTracer constructs a Tracer. newProcess allocates the external Process
// node for each new tracee (leaders included); it may be nil if the caller
// doesn't need tree callbacks.
func NewTracer(kernel KernelAdapter, launcher Launcher, newProcess ProcessFactory) *Tracer {
	reg := NewRegistry()
	recycled := NewRecycledLog()
	queue := &OrphanQueue{}

	t := &Tracer{
		reg:            reg,
		recycled:       recycled,
		kernel:         kernel,
		launcher:       launcher,
		newProcess:     newProcess,
		queue:          queue,
		log:            defaultLogger(),
		recycledMaxAge: recycledLogMaxAge,
	}
	t.dispatcher = NewDispatcher(reg, kernel, newProcess, t.reap)
	return t
}

// SetOrphanLogRetention overrides the recycled-PID log's compaction window
// (spec §4.5's "longest possible in-flight orphan notification"), fed from
// config.Config.OrphanLogRetention. Call before the first Step.
func (t *Tracer) SetOrphanLogRetention(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recycledMaxAge = d
}

// reap is the CallContext.Reap / cascade-reap callback shared by the
// dispatcher and the orphan reconciler: it removes a DEAD tracee from the
// registry and records it in the recycled-PID log. Precondition: mu held.
func (t *Tracer) reap(tr *Tracee) {
	t.reg.Remove(tr.Pid)
	t.recycled.Add(tr.Pid)
}

// Start implements the `start` operation (spec §4.6): launch a new leader,
// attach to it, and register it as both a tracee and a leader.
func (t *Tracer) Start(path string, argv []string) (Process, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pid, err := t.launcher(path, argv)
	if err != nil {
		return nil, &SystemError{Op: "start", Err: err}
	}

	var proc Process
	if t.newProcess != nil {
		proc = t.newProcess(nil)
	}
	if _, err := t.reg.Add(pid, 0, proc); err != nil {
		return nil, &RuntimeError{Msg: fmt.Sprintf("registering leader %d: %v", pid, err)}
	}
	t.reg.AddLeader(pid)

	if kerr := t.kernel.AttachOptions(pid); kerr != nil {
		t.reg.Remove(pid)
		t.reg.RemoveLeader(pid)
		return nil, &RuntimeError{Msg: fmt.Sprintf("attaching to leader %d: %v", pid, kerr)}
	}
	// Kick the newly attached leader out of its initial trace-me SIGTRAP;
	// without this, nothing would ever become RUNNING for Step to wait on.
	if kerr := t.kernel.ResumeToNextSyscall(pid, 0); kerr != nil && kerr.Kind != KernelTraceeDied {
		t.reg.Remove(pid)
		t.reg.RemoveLeader(pid)
		return nil, &RuntimeError{Msg: fmt.Sprintf("resuming leader %d: %v", pid, kerr)}
	} else if kerr == nil {
		if tr, ok := t.reg.Find(pid); ok {
			tr.State = StateRunning
		}
	}
	t.log.withPid(pid).Infof("started leader path=%s", path)
	return proc, nil
}

// Step implements the `step` operation: advance the fleet until every live
// tracee is stopped, or all are dead. Returns true iff any tracee remains
// tracked.
func (t *Tracer) Step(ctx context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.drainOrphans(); err != nil {
		return t.more(), err
	}

	for t.reg.AnyRunning() {
		t.orphanMu.Lock()
		killed := t.killed
		t.orphanMu.Unlock()
		if killed {
			break
		}

		n, kerr := t.kernel.Wait(ctx)
		if kerr != nil {
			if kerr.Kind == KernelTraceeDied {
				continue
			}
			return t.more(), &SystemError{Op: "step", Err: kerr}
		}
		if err := t.dispatcher.Dispatch(n); err != nil {
			if _, ok := err.(*RuntimeError); ok {
				return t.more(), err
			}
			var bad *BadTraceError
			if !errors.As(err, &bad) {
				return t.more(), err
			}
			t.reg.Remove(bad.Pid)
			t.reg.RemoveLeader(bad.Pid)
			t.log.withPid(bad.Pid).Warnf("dropping pid after bad trace: %v", err)
		}
		t.recycled.Compact(t.recycledMaxAge)
	}
	return t.more(), nil
}

// more reports whether the fleet has not yet drained: spec §4.7 defines
// "drained" as every leader entry gone *and* the tracee registry empty, so
// Step keeps reporting true while either one still holds an entry (e.g. a
// dead leader's un-reaped descendants).
func (t *Tracer) more() bool {
	return !t.reg.NoLeaders() || t.reg.Len() > 0
}

// drainOrphans runs the orphan reconciler (C5) over every pid enqueued
// since the last Step. A DEAD orphan first re-drives its parent's blocking
// call, if any, and is then removed unless that call already reaped it.
// Precondition: mu held.
func (t *Tracer) drainOrphans() error {
	return reconcileOrphans(t.reg, t.recycled, t.queue, func(tr *Tracee) {
		t.dispatcher.cascade(tr)
		if cur, ok := t.reg.Find(tr.Pid); ok && cur == tr {
			t.reap(tr)
		}
	})
}

// NotifyOrphan implements `notify_orphan`: enqueue pid for reconciliation
// on the next Step. Safe from any thread; never blocks on mu.
func (t *Tracer) NotifyOrphan(pid int) {
	t.queue.Push(pid)
}

// Nuke implements `nuke`: best-effort SIGKILL every tracked tracee, flip
// the kill-flag so the in-flight or next Step stops waiting for
// notifications and returns, and cancel Step's context if one was captured
// via WithCancel. Once the flag is set, Step neither waits for nor reaps the
// killed tracees: they stay in the registry in their last recorded state,
// and Step keeps reporting true while they are there.
// Safe from any thread.
func (t *Tracer) Nuke() {
	t.orphanMu.Lock()
	t.killed = true
	cancel := t.cancel
	t.orphanMu.Unlock()

	if cancel != nil {
		cancel()
	}

	// Best-effort: SIGKILL doesn't need the facade lock, and blocking on
	// mu here would defeat nuke's job of unsticking a stuck Step.
	t.reg.Each(func(tr *Tracee) {
		if tr.State != StateDead {
			t.kernel.Kill(tr.Pid)
		}
	})
}

// WithCancel returns a context Nuke will cancel, for callers that want
// Step's Wait to return promptly instead of waiting for the next tracee
// event to notice the kill-flag.
func (t *Tracer) WithCancel(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	t.orphanMu.Lock()
	t.cancel = cancel
	t.orphanMu.Unlock()
	return ctx
}

// List implements `print_list`'s data half: a read-only snapshot of
// tracees. Rendering it to a diagnostic sink is the caller's job.
func (t *Tracer) List() []TraceeSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reg.List()
}

// PrintList implements `print_list`: snapshot and format the fleet to the
// package logger at info level, the diagnostic sink named in spec §4.6.
func (t *Tracer) PrintList() {
	for _, s := range t.List() {
		t.log.withPid(s.Pid).Infof("parent=%d state=%s syscall=%d signal=%d",
			s.ParentPid, s.State, s.Syscall, s.PendingSignal)
	}
}
