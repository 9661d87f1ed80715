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

package main

import "syscall"

// traceMeAttr requests PTRACE_TRACEME in the child before exec, so it
// stops on its own initial SIGTRAP for the parent to attach to.
func traceMeAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Ptrace: true}
}

// traceMeAttrPty is traceMeAttr plus Setsid/Setctty, so the pty slave
// becomes the new session's controlling terminal (required for job
// control to work under the leader, the same as a real shell session).
func traceMeAttrPty() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Ptrace: true, Setsid: true, Setctty: true}
}
