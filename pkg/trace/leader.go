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

// Leader is C7: bookkeeping for a top-level traced process, the root of a
// traced tree. Execed gates whether diagnostics against this pid should be
// reported against the launcher (before exec) or the target program
// (after).
type Leader struct {
	Pid    int
	Execed bool
}

// AddLeader registers pid as a leader with execed=false.
func (r *Registry) AddLeader(pid int) *Leader {
	l := &Leader{Pid: pid}
	r.leaders[pid] = l
	return l
}

// FindLeader returns the Leader record for pid, if any.
func (r *Registry) FindLeader(pid int) (*Leader, bool) {
	l, ok := r.leaders[pid]
	return l, ok
}

// RemoveLeader deletes pid's leader entry. Called when the leader dies.
func (r *Registry) RemoveLeader(pid int) {
	delete(r.leaders, pid)
}

// NoLeaders reports whether the leaders map is empty, the other half of
// spec §4.7's "fleet has drained" condition.
func (r *Registry) NoLeaders() bool {
	return len(r.leaders) == 0
}
