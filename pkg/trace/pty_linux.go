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
	"os"

	"github.com/containerd/console"
	"github.com/kr/pty"
)

// LeaderPty is an allocated pseudo-terminal for a launched leader, so an
// interactive program under trace behaves the same as run directly from a
// shell (line discipline, job control signals). Supplementing the spec's
// leader-launch path (spec §1: "launching ... is out of scope"; allocating
// the terminal it inherits is not the launch itself, and SPEC_FULL §"pty
// allocation" calls for it explicitly).
type LeaderPty struct {
	Master console.Console
	Slave  *os.File
}

// OpenLeaderPty allocates a new pty pair and puts the master side into raw
// mode, the same two-step kr/pty-then-containerd/console handoff used
// wherever the pack launches an interactive subprocess.
func OpenLeaderPty() (*LeaderPty, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, err
	}
	wrapped, err := console.ConsoleFromFile(master)
	if err != nil {
		master.Close()
		slave.Close()
		return nil, err
	}
	if err := wrapped.SetRaw(); err != nil {
		master.Close()
		slave.Close()
		return nil, err
	}
	return &LeaderPty{Master: wrapped, Slave: slave}, nil
}

// Close releases both ends of the pty pair.
func (p *LeaderPty) Close() error {
	slaveErr := p.Slave.Close()
	masterErr := p.Master.Close()
	if masterErr != nil {
		return masterErr
	}
	return slaveErr
}
