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

//go:build linux && amd64
// +build linux,amd64

package trace

import "golang.org/x/sys/unix"

// regsToPortable converts the amd64 ptrace register file into this
// package's portable Regs, the same split the teacher keeps between
// arch.go and arch_amd64.go for register layout.
func regsToPortable(raw *unix.PtraceRegs) Regs {
	return Regs{
		SyscallNr: int64(raw.Orig_rax),
		Args: [6]uintptr{
			uintptr(raw.Rdi),
			uintptr(raw.Rsi),
			uintptr(raw.Rdx),
			uintptr(raw.R10),
			uintptr(raw.R8),
			uintptr(raw.R9),
		},
		Return: int64(raw.Rax),
	}
}

// portableToRegs writes a portable Regs back onto an amd64 ptrace register
// file, preserving every field regsToPortable doesn't model (pc, sp, flags,
// ...).
func portableToRegs(regs Regs, raw *unix.PtraceRegs) {
	raw.Orig_rax = uint64(regs.SyscallNr)
	raw.Rdi = uint64(regs.Args[0])
	raw.Rsi = uint64(regs.Args[1])
	raw.Rdx = uint64(regs.Args[2])
	raw.R10 = uint64(regs.Args[3])
	raw.R8 = uint64(regs.Args[4])
	raw.R9 = uint64(regs.Args[5])
	raw.Rax = uint64(regs.Return)
}
