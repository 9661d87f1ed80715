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

import "github.com/mohae/deepcopy"

// TraceeSnapshot is a point-in-time, detached copy of one Tracee record,
// safe to read and hold onto after the facade lock has been released. It
// never aliases the live Tracee (spec §6: "List returns a snapshot, not a
// live view").
type TraceeSnapshot struct {
	Pid           int
	ParentPid     int
	State         TraceeState
	Syscall       int64
	PendingSignal int
}

// snapshotTracee deep-copies t (including its argv slices and the Process
// and Blocking values it holds) and keeps the five fields TraceeSnapshot
// lists; any other Tracee field is not part of the snapshot.
func snapshotTracee(t *Tracee) TraceeSnapshot {
	cp := deepcopy.Copy(*t).(Tracee)
	return TraceeSnapshot{
		Pid:           cp.Pid,
		ParentPid:     cp.ParentPid,
		State:         cp.State,
		Syscall:       cp.Syscall,
		PendingSignal: cp.PendingSignal,
	}
}

// List returns a snapshot of every tracee currently tracked, per spec §6.
func (r *Registry) List() []TraceeSnapshot {
	snaps := make([]TraceeSnapshot, 0, r.Len())
	r.Each(func(t *Tracee) {
		snaps = append(snaps, snapshotTracee(t))
	})
	return snaps
}
