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

import "testing"

func TestRegistryAddFindRemove(t *testing.T) {
	r := NewRegistry()
	tr, err := r.Add(100, 0, nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if tr.State != StateStopped {
		t.Fatalf("new tracee state = %v, want StateStopped", tr.State)
	}
	if tr.Syscall != NoSyscall {
		t.Fatalf("new tracee syscall = %d, want NoSyscall", tr.Syscall)
	}

	got, ok := r.Find(100)
	if !ok || got != tr {
		t.Fatalf("Find(100) = %v, %v; want %v, true", got, ok, tr)
	}

	r.Remove(100)
	if _, ok := r.Find(100); ok {
		t.Fatalf("Find(100) after Remove still found")
	}
	// Remove is idempotent.
	r.Remove(100)
}

func TestRegistryAddAlreadyPresent(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Add(1, 0, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := r.Add(1, 0, nil); err == nil {
		t.Fatalf("Add duplicate live pid succeeded, want error")
	}
}

func TestRegistryAddAfterDeadAllowsReuse(t *testing.T) {
	r := NewRegistry()
	tr, _ := r.Add(1, 0, nil)
	tr.State = StateDead
	if _, err := r.Add(1, 0, nil); err != nil {
		t.Fatalf("re-Add after DEAD: %v", err)
	}
}

func TestRegistryAnyRunningAllDead(t *testing.T) {
	r := NewRegistry()
	if !r.AllDead() {
		t.Fatalf("AllDead on empty registry = false, want true")
	}
	a, _ := r.Add(1, 0, nil)
	b, _ := r.Add(2, 0, nil)
	if r.AnyRunning() {
		t.Fatalf("AnyRunning = true before any tracee runs")
	}
	a.State = StateRunning
	if !r.AnyRunning() {
		t.Fatalf("AnyRunning = false, want true")
	}
	if r.AllDead() {
		t.Fatalf("AllDead = true with a running tracee")
	}
	a.State, b.State = StateDead, StateDead
	if !r.AllDead() {
		t.Fatalf("AllDead = false, want true once every tracee is DEAD")
	}
}

func TestRegistryChildrenOf(t *testing.T) {
	r := NewRegistry()
	r.Add(1, 0, nil)
	c1, _ := r.Add(2, 1, nil)
	c2, _ := r.Add(3, 1, nil)
	r.Add(4, 2, nil)

	children := r.ChildrenOf(1)
	if len(children) != 2 {
		t.Fatalf("ChildrenOf(1) = %d children, want 2", len(children))
	}
	seen := map[int]bool{}
	for _, c := range children {
		seen[c.Pid] = true
	}
	if !seen[c1.Pid] || !seen[c2.Pid] {
		t.Fatalf("ChildrenOf(1) = %v, want pids 2 and 3", children)
	}
}

func TestExitStatusWord(t *testing.T) {
	exited := &Tracee{ExitStatus: 7}
	if got, want := exited.exitStatusWord(), uint32(7)<<8; got != want {
		t.Fatalf("exitStatusWord() = %#x, want %#x", got, want)
	}
	signaled := &Tracee{ExitedBySignal: true, ExitSignal: 9}
	if got, want := signaled.exitStatusWord(), uint32(9); got != want {
		t.Fatalf("exitStatusWord() = %#x, want %#x", got, want)
	}
}
