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
	"testing"
	"time"
)

func TestOrphanQueuePushDrainIsFIFO(t *testing.T) {
	q := &OrphanQueue{}
	q.Push(1)
	q.Push(2)
	q.Push(3)
	if got := q.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
	got := q.DrainAll()
	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("DrainAll() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("DrainAll()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	if q.Len() != 0 {
		t.Fatalf("Len() after DrainAll = %d, want 0", q.Len())
	}
}

func TestRecycledLogContainsAndCompact(t *testing.T) {
	l := NewRecycledLog()
	l.Add(7)
	if !l.Contains(7) {
		t.Fatalf("Contains(7) = false right after Add")
	}
	l.Compact(time.Hour) // nothing is an hour old yet
	if !l.Contains(7) {
		t.Fatalf("Contains(7) = false after a no-op Compact")
	}
	l.Compact(0) // everything added so far is now "older" than maxAge=0
	if l.Contains(7) {
		t.Fatalf("Contains(7) = true after Compact(0)")
	}
}

func TestRecycledLogTracksDuplicatePids(t *testing.T) {
	l := NewRecycledLog()
	l.Add(9)
	l.Add(9)
	l.Compact(0)
	// Both entries are equally stale; Compact must drop the whole count.
	if l.Contains(9) {
		t.Fatalf("Contains(9) = true after compacting both duplicate entries")
	}
}

func TestReconcileOrphansDropsRecycledPid(t *testing.T) {
	reg := NewRegistry()
	recycled := NewRecycledLog()
	recycled.Add(42)
	queue := &OrphanQueue{}
	queue.Push(42)

	reaped := 0
	err := reconcileOrphans(reg, recycled, queue, func(*Tracee) { reaped++ })
	if err != nil {
		t.Fatalf("reconcileOrphans: %v", err)
	}
	if reaped != 0 {
		t.Fatalf("reap called %d times, want 0 for a recycled pid", reaped)
	}
}

func TestReconcileOrphansReapsDeadTracee(t *testing.T) {
	reg := NewRegistry()
	tr, _ := reg.Add(5, 1, nil)
	tr.State = StateDead
	recycled := NewRecycledLog()
	queue := &OrphanQueue{}
	queue.Push(5)

	var reapedPid int
	err := reconcileOrphans(reg, recycled, queue, func(t *Tracee) { reapedPid = t.Pid })
	if err != nil {
		t.Fatalf("reconcileOrphans: %v", err)
	}
	if reapedPid != 5 {
		t.Fatalf("reap called with pid %d, want 5", reapedPid)
	}
}

func TestReconcileOrphansLiveTraceeIsBadTrace(t *testing.T) {
	reg := NewRegistry()
	tr, _ := reg.Add(6, 1, nil)
	tr.State = StateRunning
	recycled := NewRecycledLog()
	queue := &OrphanQueue{}
	queue.Push(6)

	err := reconcileOrphans(reg, recycled, queue, func(*Tracee) {})
	if !IsBadTrace(err) {
		t.Fatalf("reconcileOrphans error = %v, want BadTraceError for a live tracee", err)
	}
}

func TestReconcileOrphansNeverSeenPidIsDropped(t *testing.T) {
	reg := NewRegistry()
	recycled := NewRecycledLog()
	queue := &OrphanQueue{}
	queue.Push(999)

	err := reconcileOrphans(reg, recycled, queue, func(*Tracee) {
		t.Fatalf("reap must not be called for a pid never seen alive")
	})
	if err != nil {
		t.Fatalf("reconcileOrphans: %v", err)
	}
}
