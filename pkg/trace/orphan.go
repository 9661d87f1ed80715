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
	"sync"
	"time"

	"github.com/google/btree"
)

// OrphanQueue is the FIFO described in spec §3: multi-producer (reaper
// thread, signal handler via Tracer.NotifyOrphan), single-consumer (the
// step loop, via DrainAll). It never blocks for longer than appending to a
// slice under a mutex.
type OrphanQueue struct {
	mu   sync.Mutex
	pids []int
}

// Push enqueues pid. Safe from any thread.
func (q *OrphanQueue) Push(pid int) {
	q.mu.Lock()
	q.pids = append(q.pids, pid)
	q.mu.Unlock()
}

// DrainAll removes and returns every pid currently queued, in FIFO order.
func (q *OrphanQueue) DrainAll() []int {
	q.mu.Lock()
	pids := q.pids
	q.pids = nil
	q.mu.Unlock()
	return pids
}

// Len reports how many orphan notifications are currently queued.
func (q *OrphanQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pids)
}

// recycledItem is one entry in the recycled-pid log's B-tree, ordered by
// monotonically increasing sequence number (insertion order), which for
// this log is equivalent to age order.
type recycledItem struct {
	seq uint64
	pid int
	at  time.Time
}

func (a recycledItem) Less(than btree.Item) bool {
	return a.seq < than.(recycledItem).seq
}

// RecycledLog is the recycled-PID log from spec §3: an ordered sequence of
// pids the kernel has re-assigned to a process we did not intend to trace,
// used to filter spurious orphan notifications. Backed by a B-tree keyed
// by insertion sequence so bounded compaction (discard entries older than
// the longest possible in-flight orphan notification) is O(log n) instead
// of a linear slice scan.
type RecycledLog struct {
	tree     *btree.BTree
	nextSeq  uint64
	pidCount map[int]int
}

// NewRecycledLog returns an empty RecycledLog.
func NewRecycledLog() *RecycledLog {
	return &RecycledLog{
		tree:     btree.New(32),
		pidCount: make(map[int]int),
	}
}

// Add records that pid has been fully cleaned up and its slot may be
// recycled by the kernel.
func (l *RecycledLog) Add(pid int) {
	it := recycledItem{seq: l.nextSeq, pid: pid, at: time.Now()}
	l.nextSeq++
	l.tree.ReplaceOrInsert(it)
	l.pidCount[pid]++
}

// Contains reports whether pid currently has an un-compacted entry in the
// log.
func (l *RecycledLog) Contains(pid int) bool {
	return l.pidCount[pid] > 0
}

// Compact discards every entry older than maxAge, the longest possible
// in-flight orphan notification.
func (l *RecycledLog) Compact(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	var stale []btree.Item
	l.tree.Ascend(func(i btree.Item) bool {
		it := i.(recycledItem)
		if it.at.After(cutoff) {
			return false // insertion-ordered; nothing older remains
		}
		stale = append(stale, i)
		return true
	})
	for _, i := range stale {
		it := i.(recycledItem)
		l.tree.Delete(i)
		l.pidCount[it.pid]--
		if l.pidCount[it.pid] <= 0 {
			delete(l.pidCount, it.pid)
		}
	}
}

// reconcileOrphans drains queue and, for each pid, applies spec §4.5:
//  1. in the recycled log -> drop (reporting the previous incarnation).
//  2. in the registry as DEAD -> reap (removes it, cascades to any parent
//     blocking wait via reap).
//  3. in the registry as RUNNING/STOPPED -> BadTraceError (foreign
//     interference: the reaper cannot reap a live tracee).
//  4. otherwise (never seen alive) -> drop.
//
// reap is called for case 2 and must perform the full DEAD-tracee
// accounting (registry removal, recycled-log insertion, cascade).
func reconcileOrphans(reg *Registry, recycled *RecycledLog, queue *OrphanQueue, reap func(*Tracee)) error {
	for _, pid := range queue.DrainAll() {
		if recycled.Contains(pid) {
			continue
		}
		t, ok := reg.Find(pid)
		if !ok {
			continue
		}
		if t.State == StateDead {
			reap(t)
			continue
		}
		return &BadTraceError{Pid: pid, Msg: "reaper reported orphan for a still-live tracee"}
	}
	return nil
}
