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

// stoppedStatusWord encodes a Linux wait(2) "stopped" status: low byte
// 0x7f, signal number in the next byte.
func stoppedStatusWord(sig int) uint32 {
	return uint32(sig&0xff)<<8 | 0x7f
}

// continuedStatusWord is the fixed Linux wait(2) "continued" status word.
func continuedStatusWord() uint32 {
	return 0xffff
}
