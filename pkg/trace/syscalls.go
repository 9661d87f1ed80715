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

// The syscall numbers the dispatcher instruments (spec §4.4 step 2:
// "fork/clone/vfork/execve/execveat/exit/exit_group/wait4/waitid/…").
// Values are architecture-dependent and are assigned by an arch-specific
// init (see syscalls_linux_amd64.go), the same split the teacher uses for
// register layout (arch_amd64.go vs arch.go).
var (
	SyscallFork      int64 = -1
	SyscallVfork     int64 = -1
	SyscallClone     int64 = -1
	SyscallExecve    int64 = -1
	SyscallExecveat  int64 = -1
	SyscallExit      int64 = -1
	SyscallExitGroup int64 = -1
	SyscallWait4     int64 = -1
	SyscallWaitid    int64 = -1
)

func isForkSyscall(nr int64) bool {
	return nr == SyscallFork || nr == SyscallVfork || nr == SyscallClone
}

func isExecSyscall(nr int64) bool {
	return nr == SyscallExecve || nr == SyscallExecveat
}

func isBlockingSyscall(nr int64) bool {
	return nr == SyscallWait4 || nr == SyscallWaitid
}
