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
	"fmt"

	"github.com/syndtr/gocapability/capability"
)

// hasCapability reports whether the running process currently holds cap in
// its effective set, the same check the teacher does before anything that
// needs CAP_NET_RAW or CAP_SYS_ADMIN (runsc/boot/loader.go).
func hasCapability(cap capability.Cap) (bool, error) {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return false, fmt.Errorf("trace: loading process capabilities: %w", err)
	}
	if err := caps.Load(); err != nil {
		return false, fmt.Errorf("trace: loading process capabilities: %w", err)
	}
	return caps.Get(capability.EFFECTIVE, cap), nil
}

// CheckPtracePrivileges verifies the calling process can PTRACE_ATTACH an
// arbitrary process: either CAP_SYS_PTRACE, or running as the target's
// owner with yama ptrace_scope permitting it (best-effort; this only
// checks the capability bit, the cheap and portable part of the check).
func CheckPtracePrivileges() error {
	ok, err := hasCapability(capability.CAP_SYS_PTRACE)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("trace: missing CAP_SYS_PTRACE; run as root or grant the capability")
	}
	return nil
}
