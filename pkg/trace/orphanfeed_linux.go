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
	"bufio"
	"context"
	"fmt"
	"strconv"

	"github.com/containerd/fifo"
	"golang.org/x/sys/unix"
)

// OrphanFeed listens for orphan notifications on a named pipe, one
// newline-terminated pid per line, sent by an external reaper process (spec
// §3's "external reaper thread/process" producer). This is one concrete
// transport alongside the in-process Tracer.NotifyOrphan call; Non-goal per
// spec: the reaper itself, and any other transport, are out of scope.
type OrphanFeed struct {
	f      *fifo.F
	notify func(pid int)
}

// OpenOrphanFeed creates (if needed) and opens path as a FIFO for reading,
// calling notify (typically Tracer.NotifyOrphan) for each parsed pid. notify
// must be safe to call from the goroutine that runs Run, same as
// Tracer.NotifyOrphan itself (spec §5: safe from any thread, non-blocking).
func OpenOrphanFeed(ctx context.Context, path string, notify func(pid int)) (*OrphanFeed, error) {
	if err := unix.Mkfifo(path, 0o600); err != nil && err != unix.EEXIST {
		return nil, fmt.Errorf("trace: creating orphan feed fifo: %w", err)
	}
	f, err := fifo.OpenFifo(ctx, path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CREAT, 0o600)
	if err != nil {
		return nil, fmt.Errorf("trace: opening orphan feed fifo: %w", err)
	}
	return &OrphanFeed{f: f, notify: notify}, nil
}

// Run reads lines from the fifo until ctx is done or the fifo is closed,
// calling notify for each parsed pid. Malformed lines are skipped.
func (o *OrphanFeed) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(o.f)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		pid, err := strconv.Atoi(scanner.Text())
		if err != nil {
			continue
		}
		o.notify(pid)
	}
	return scanner.Err()
}

// Close releases the underlying fifo.
func (o *OrphanFeed) Close() error {
	return o.f.Close()
}
