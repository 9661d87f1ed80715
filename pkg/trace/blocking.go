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

// CallContext is the narrow capability a BlockingCall's Prepare/Finalise
// gets into the tracer, instead of the full facade (design note in spec
// §9: "friend access ... do not re-export the full facade").
type CallContext struct {
	// Registry is the live tracee/leader registry; Prepare/Finalise may
	// read and mutate it (they run with the facade lock held).
	Registry *Registry

	// Kernel is the adapter, for reading/writing the blocked tracee's
	// registers and memory.
	Kernel KernelAdapter

	// AtExit is true when Finalise is being invoked because the call's
	// own tracee reached its syscall-exit-stop. It is false when
	// Finalise is invoked as a cascade from some other tracee's death
	// (spec §4.4: "cascade to any blocking call of a parent waiting on
	// it") — in that case a match may be recorded, but nothing is
	// written into the (still kernel-blocked) caller's registers until
	// its own exit-stop arrives and Finalise runs again with AtExit set.
	AtExit bool

	// Reap fully removes a DEAD tracee from the registry. The tracee's
	// on_exit/on_killed callback has already fired when it became DEAD;
	// this is just registry bookkeeping, exposed here because wait-family
	// calls are what consume a DEAD child's record (spec §4.3: "on match,
	// remove the corresponding DEAD tracee from the registry").
	Reap func(t *Tracee)
}

// BlockingCall is C3: a syscall whose completion straddles other tracee
// events. The dispatcher instantiates one at syscall-entry-stop and drives
// it through Prepare then (possibly several) Finalise calls. Both methods
// return true on success and false if the owning tracee died while being
// prepared/finalised, in which case the caller reaps it. There is no third
// outcome: a failure other than the tracee's death is not reported to the
// dispatcher (WaitCall returns true for it).
type BlockingCall interface {
	// Syscall is the syscall number this call instance is virtualizing;
	// it must match the owning Tracee.Syscall for the lifetime of the
	// call (spec §3 invariant 3).
	Syscall() int64

	// Prepare runs once, at the owning tracee's syscall-entry-stop. It
	// may rewrite the tracee's syscall arguments (e.g. to force
	// non-blocking semantics under the hood) or simply snapshot them.
	Prepare(ctx *CallContext, t *Tracee) bool

	// Finalise runs at least once (at the owning tracee's syscall-exit-
	// stop) and possibly earlier, speculative times (cascaded from a
	// sibling's death); see CallContext.AtExit. It consults the registry
	// to decide what the call should observe and, once a definitive
	// result exists and AtExit is true, writes it into the tracee's
	// registers/memory.
	Finalise(ctx *CallContext, t *Tracee) bool
}
