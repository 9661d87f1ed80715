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

// Process is the external process-tree node the dispatcher drives as it
// observes a tracee's lifecycle. The tree itself, the launcher that execs
// the initial leader, and anything that renders this model are all outside
// this package; Process is the narrow contract this package calls out
// through. Implementations are supplied by the caller of Tracer.Start.
type Process interface {
	// OnFork is called when a fork/clone event fires on this process's
	// tracee. child is the Process handle already created for the new
	// tracee.
	OnFork(child Process)

	// OnExec is called after a successful exec. envp may be nil if the
	// environment wasn't captured.
	OnExec(argv []string, envp []string)

	// OnNewLocation is called for the post-exec entry point, or for a
	// loaded library, once the dispatcher has resolved an address to a
	// file and (optionally) a symbol.
	OnNewLocation(addr uintptr, file string, symbol string)

	// OnExit is called once, when the tracee's zombie is reaped after a
	// normal exit.
	OnExit(status int)

	// OnKilled is called once, when the tracee's zombie is reaped after
	// death by an uncaught signal.
	OnKilled(signal int)

	// OnSignal is called on a non-fatal signal-delivery-stop.
	OnSignal(signal int)
}
