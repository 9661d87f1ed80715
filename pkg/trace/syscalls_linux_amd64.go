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

func init() {
	SyscallFork = 57
	SyscallVfork = 58
	SyscallClone = 56
	SyscallExecve = 59
	SyscallExecveat = 322
	SyscallExit = 60
	SyscallExitGroup = 231
	SyscallWait4 = 61
	SyscallWaitid = 247
}
